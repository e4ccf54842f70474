package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/coinflip/internal/domain"
)

// querier is the subset of pgx.Tx used by the repositories.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements domain.Store and domain.GenesisSeeder. Each unit of work
// is one pgx transaction; rows read by a writable unit are locked with
// SELECT ... FOR UPDATE until commit.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Atomic runs fn inside a read-committed transaction and commits when fn
// returns nil.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, false, fn)
}

// View runs fn inside a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, true, fn)
}

func (s *Store) run(ctx context.Context, opts pgx.TxOptions, readOnly bool, fn func(ctx context.Context, tx domain.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &unit{q: tx, readOnly: readOnly}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// Seed credits allocations to identities without a balance row.
func (s *Store) Seed(ctx context.Context, allocs []domain.Allocation) (int, error) {
	const query = `
		INSERT INTO ledger_balances (identity, balance)
		VALUES ($1, $2)
		ON CONFLICT (identity) DO NOTHING`

	credited := 0
	for _, a := range allocs {
		amount, err := toBigint(a.Amount)
		if err != nil {
			return credited, fmt.Errorf("postgres: seed %s: %w", a.Identity, err)
		}
		tag, err := s.pool.Exec(ctx, query, a.Identity.String(), amount)
		if err != nil {
			return credited, fmt.Errorf("postgres: seed %s: %w", a.Identity, err)
		}
		credited += int(tag.RowsAffected())
	}
	return credited, nil
}

// unit implements domain.Tx over a single pgx transaction.
type unit struct {
	q        querier
	readOnly bool
}

func (u *unit) Ledger() domain.Ledger      { return ledgerRepo{u} }
func (u *unit) Config() domain.ConfigRepo  { return configRepo{u} }
func (u *unit) Players() domain.PlayerRepo { return playerRepo{u} }
func (u *unit) Rounds() domain.RoundRepo   { return roundRepo{u} }
func (u *unit) Audit() domain.AuditRepo    { return auditRepo{u} }

// lock returns the row-locking suffix for reads in this unit. Read-only
// transactions cannot take row locks.
func (u *unit) lock() string {
	if u.readOnly {
		return ""
	}
	return " FOR UPDATE"
}

func toBigint(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d exceeds bigint", domain.ErrInvalidAmount, v)
	}
	return int64(v), nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
