// Package memory implements the domain store interfaces in process memory.
// A single mutex serialises units of work; writes are staged on the unit
// and merged into the committed state only when the unit succeeds.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/coinflip/internal/domain"
)

var errReadOnly = errors.New("memory: read-only unit of work")

// Store implements domain.Store and domain.GenesisSeeder.
type Store struct {
	mu       sync.Mutex
	balances map[domain.Identity]uint64
	config   *domain.GlobalConfig
	players  map[string]domain.PlayerAccount
	rounds   []domain.Round
	audit    *AuditLog
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		balances: make(map[domain.Identity]uint64),
		players:  make(map[string]domain.PlayerAccount),
		audit:    NewAuditLog(),
	}
}

// AuditLog returns the log that committed units append their audit entries
// to.
func (s *Store) AuditLog() *AuditLog {
	return s.audit
}

// Atomic runs fn as one unit of work. Staged effects are discarded when fn
// returns an error.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := newTx(s, false)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// View runs fn against the committed state. Writes fail.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, newTx(s, true))
}

// Seed credits allocations to identities that hold no balance yet.
func (s *Store) Seed(ctx context.Context, allocs []domain.Allocation) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	credited := 0
	for _, a := range allocs {
		if _, ok := s.balances[a.Identity]; ok {
			continue
		}
		s.balances[a.Identity] = a.Amount
		credited++
	}
	return credited, nil
}

// tx stages writes on top of the committed Store state.
type tx struct {
	s        *Store
	readOnly bool

	balances map[domain.Identity]uint64
	config   *domain.GlobalConfig
	players  map[string]domain.PlayerAccount
	rounds   []domain.Round
	claimed  map[string]time.Time
	audit    []domain.AuditEntry
}

func newTx(s *Store, readOnly bool) *tx {
	return &tx{
		s:        s,
		readOnly: readOnly,
		balances: make(map[domain.Identity]uint64),
		players:  make(map[string]domain.PlayerAccount),
		claimed:  make(map[string]time.Time),
	}
}

func (t *tx) commit() {
	for id, bal := range t.balances {
		t.s.balances[id] = bal
	}
	if t.config != nil {
		cfg := *t.config
		t.s.config = &cfg
	}
	for id, acct := range t.players {
		t.s.players[id] = acct
	}
	t.s.rounds = append(t.s.rounds, t.rounds...)
	for i := range t.s.rounds {
		if at, ok := t.claimed[t.s.rounds[i].ID]; ok {
			at := at
			t.s.rounds[i].ClaimedAt = &at
		}
	}
	t.s.audit.append(t.audit...)
}

func (t *tx) Ledger() domain.Ledger      { return ledger{t} }
func (t *tx) Config() domain.ConfigRepo  { return configRepo{t} }
func (t *tx) Players() domain.PlayerRepo { return playerRepo{t} }
func (t *tx) Rounds() domain.RoundRepo   { return roundRepo{t} }
func (t *tx) Audit() domain.AuditRepo    { return auditRepo{t} }

func (t *tx) writable(op string) error {
	if t.readOnly {
		return fmt.Errorf("%s: %w", op, errReadOnly)
	}
	return nil
}

// ledger implements domain.Ledger over the unit's staged balances.
type ledger struct{ t *tx }

func (l ledger) balance(id domain.Identity) uint64 {
	if bal, ok := l.t.balances[id]; ok {
		return bal
	}
	return l.t.s.balances[id]
}

func (l ledger) Balance(_ context.Context, id domain.Identity) (uint64, error) {
	return l.balance(id), nil
}

func (l ledger) Transfer(_ context.Context, from, to domain.Identity, amount uint64) (domain.Receipt, error) {
	if err := l.t.writable("memory: transfer"); err != nil {
		return domain.Receipt{}, err
	}
	if from == to {
		return domain.Receipt{}, fmt.Errorf("memory: transfer: %w", domain.ErrSameAccount)
	}
	fromBal, toBal := l.balance(from), l.balance(to)
	receipt := domain.Receipt{
		From: from, To: to, Amount: amount,
		FromBefore: fromBal, FromAfter: fromBal,
		ToBefore: toBal, ToAfter: toBal,
	}
	if amount == 0 {
		return receipt, nil
	}
	if fromBal < amount {
		return domain.Receipt{}, fmt.Errorf("memory: transfer %d from %s: %w", amount, from, domain.ErrInsufficientFunds)
	}
	if toBal+amount < toBal {
		return domain.Receipt{}, fmt.Errorf("memory: transfer %d to %s: %w", amount, to, domain.ErrInvalidAmount)
	}
	receipt.FromAfter = fromBal - amount
	receipt.ToAfter = toBal + amount
	l.t.balances[from] = receipt.FromAfter
	l.t.balances[to] = receipt.ToAfter
	return receipt, nil
}

// configRepo implements domain.ConfigRepo.
type configRepo struct{ t *tx }

func (r configRepo) current() *domain.GlobalConfig {
	if r.t.config != nil {
		return r.t.config
	}
	return r.t.s.config
}

func (r configRepo) Get(_ context.Context) (domain.GlobalConfig, error) {
	cfg := r.current()
	if cfg == nil {
		return domain.GlobalConfig{}, domain.ErrNotInitialized
	}
	return *cfg, nil
}

func (r configRepo) Create(_ context.Context, cfg domain.GlobalConfig) error {
	if err := r.t.writable("memory: create config"); err != nil {
		return err
	}
	if r.current() != nil {
		return domain.ErrAlreadyInitialized
	}
	r.t.config = &cfg
	return nil
}

func (r configRepo) Update(_ context.Context, cfg domain.GlobalConfig) error {
	if err := r.t.writable("memory: update config"); err != nil {
		return err
	}
	if r.current() == nil {
		return domain.ErrNotInitialized
	}
	r.t.config = &cfg
	return nil
}

// playerRepo implements domain.PlayerRepo.
type playerRepo struct{ t *tx }

func (r playerRepo) lookup(id string) (domain.PlayerAccount, bool) {
	if acct, ok := r.t.players[id]; ok {
		return acct, true
	}
	acct, ok := r.t.s.players[id]
	return acct, ok
}

func (r playerRepo) Create(_ context.Context, acct domain.PlayerAccount) error {
	if err := r.t.writable("memory: create player"); err != nil {
		return err
	}
	if _, ok := r.lookup(acct.ID); ok {
		return fmt.Errorf("memory: create player %s: already exists", acct.ID)
	}
	r.t.players[acct.ID] = acct
	return nil
}

func (r playerRepo) Get(_ context.Context, id string) (domain.PlayerAccount, error) {
	acct, ok := r.lookup(id)
	if !ok {
		return domain.PlayerAccount{}, fmt.Errorf("memory: player %s: %w", id, domain.ErrNotFound)
	}
	return acct, nil
}

func (r playerRepo) Update(_ context.Context, acct domain.PlayerAccount) error {
	if err := r.t.writable("memory: update player"); err != nil {
		return err
	}
	if _, ok := r.lookup(acct.ID); !ok {
		return fmt.Errorf("memory: player %s: %w", acct.ID, domain.ErrNotFound)
	}
	r.t.players[acct.ID] = acct
	return nil
}

func (r playerRepo) ListByOwner(_ context.Context, owner domain.Identity) ([]domain.PlayerAccount, error) {
	seen := make(map[string]bool)
	var out []domain.PlayerAccount
	for id, acct := range r.t.players {
		seen[id] = true
		if acct.Owner == owner {
			out = append(out, acct)
		}
	}
	for id, acct := range r.t.s.players {
		if !seen[id] && acct.Owner == owner {
			out = append(out, acct)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// roundRepo implements domain.RoundRepo.
type roundRepo struct{ t *tx }

func (r roundRepo) Append(_ context.Context, round domain.Round) error {
	if err := r.t.writable("memory: append round"); err != nil {
		return err
	}
	r.t.rounds = append(r.t.rounds, round)
	return nil
}

func (r roundRepo) MarkClaimed(_ context.Context, id string, at time.Time) error {
	if err := r.t.writable("memory: mark claimed"); err != nil {
		return err
	}
	for _, round := range r.all() {
		if round.ID == id {
			r.t.claimed[id] = at
			return nil
		}
	}
	return fmt.Errorf("memory: round %s: %w", id, domain.ErrNotFound)
}

func (r roundRepo) ListByPlayer(_ context.Context, playerID string, opts domain.ListOpts) ([]domain.Round, error) {
	var out []domain.Round
	for _, round := range r.all() {
		if round.PlayerID == playerID {
			out = append(out, round)
		}
	}
	return page(out, settledAt, opts), nil
}

func (r roundRepo) List(_ context.Context, opts domain.ListOpts) ([]domain.Round, error) {
	return page(r.all(), settledAt, opts), nil
}

// all returns every round visible to the unit, newest first.
func (r roundRepo) all() []domain.Round {
	out := make([]domain.Round, 0, len(r.t.s.rounds)+len(r.t.rounds))
	out = append(out, r.t.s.rounds...)
	out = append(out, r.t.rounds...)
	for i := range out {
		if at, ok := r.t.claimed[out[i].ID]; ok {
			at := at
			out[i].ClaimedAt = &at
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// page filters items, already newest first, to the opts window by the time
// at returns, then applies offset and limit.
func page[T any](items []T, at func(T) time.Time, opts domain.ListOpts) []T {
	filtered := items[:0:0]
	for _, item := range items {
		ts := at(item)
		if opts.Since != nil && ts.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && ts.After(*opts.Until) {
			continue
		}
		filtered = append(filtered, item)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(filtered) {
			return nil
		}
		filtered = filtered[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(filtered) {
		filtered = filtered[:opts.Limit]
	}
	return filtered
}

func settledAt(r domain.Round) time.Time { return r.SettledAt }