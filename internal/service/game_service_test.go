package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coinflip/internal/domain"
	"github.com/alanyoungcy/coinflip/internal/engine"
	"github.com/alanyoungcy/coinflip/internal/notify"
	"github.com/alanyoungcy/coinflip/internal/oracle"
	"github.com/alanyoungcy/coinflip/internal/store/memory"
)

var (
	admin     = domain.MustIdentity("0x1111111111111111111111111111111111111111")
	recipient = domain.MustIdentity("0x2222222222222222222222222222222222222222")
	player    = domain.MustIdentity("0x3333333333333333333333333333333333333333")
	pool      = domain.PoolIdentity("service-test")
)

type published struct {
	channel string
	event   Event
}

type fakeBus struct {
	mu      sync.Mutex
	pubs    []published
	streams map[string]int
	err     error
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var evt Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return err
	}
	b.pubs = append(b.pubs, published{channel: channel, event: evt})
	return b.err
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *fakeBus) StreamAppend(_ context.Context, stream string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streams == nil {
		b.streams = make(map[string]int)
	}
	b.streams[stream]++
	return b.err
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type recordingSender struct {
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingSender) Name() string { return "recording" }

type fixture struct {
	ctx    context.Context
	store  *memory.Store
	bus    *fakeBus
	audit  *memory.AuditLog
	sender *recordingSender
	svc    *GameService
}

func newFixture(t *testing.T, counterBase, bigWin uint64) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	f := &fixture{
		ctx:    context.Background(),
		store:  store,
		bus:    &fakeBus{},
		audit:  store.AuditLog(),
		sender: &recordingSender{},
	}
	eng := engine.New(engine.Params{Stake: 100, BootstrapBond: 5_000, Pool: pool}, oracle.NewCounter(counterBase), logger)
	notifier := notify.NewNotifier([]notify.Sender{f.sender}, nil, logger)
	f.svc = NewGameService(f.store, eng, f.bus, notifier, bigWin, logger)

	require.NoError(t, f.svc.SeedGenesis(f.ctx, f.store, []domain.Allocation{
		{Identity: admin, Amount: 10_000},
		{Identity: player, Amount: 1_000},
	}))
	return f
}

func (f *fixture) auditEvents(t *testing.T) []string {
	t.Helper()
	entries, err := f.audit.List(f.ctx, domain.ListOpts{})
	require.NoError(t, err)
	var out []string
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i].Event)
	}
	return out
}

func TestGetConfigBeforeBootstrap(t *testing.T) {
	f := newFixture(t, 0, 0)
	view, err := f.svc.GetConfig(f.ctx)
	require.NoError(t, err)
	assert.False(t, view.Initialized)
	assert.Nil(t, view.Config)
	assert.Equal(t, uint64(100), view.Stake)
	assert.Equal(t, pool, view.Pool)
	assert.Zero(t, view.PoolBalance)
}

func TestBootstrapFundsPoolAndAudits(t *testing.T) {
	f := newFixture(t, 0, 0)
	cfg, err := f.svc.Bootstrap(f.ctx, engine.BootstrapRequest{Caller: admin, FeeRecipient: recipient, FeeRateMilli: 30})
	require.NoError(t, err)
	assert.Equal(t, admin, cfg.Admin)

	view, err := f.svc.GetConfig(f.ctx)
	require.NoError(t, err)
	assert.True(t, view.Initialized)
	assert.Equal(t, uint64(5_000), view.PoolBalance)

	_, err = f.svc.Bootstrap(f.ctx, engine.BootstrapRequest{Caller: admin, FeeRecipient: recipient, FeeRateMilli: 30})
	assert.ErrorIs(t, err, domain.ErrAlreadyInitialized)

	assert.Equal(t, []string{"config_bootstrapped"}, f.auditEvents(t))
	require.Len(t, f.bus.pubs, 1)
	assert.Equal(t, domain.ChannelAdmin, f.bus.pubs[0].channel)
}

func TestPlayClaimRoundTrip(t *testing.T) {
	f := newFixture(t, 4, 200)
	_, err := f.svc.Bootstrap(f.ctx, engine.BootstrapRequest{Caller: admin, FeeRecipient: recipient, FeeRateMilli: 30})
	require.NoError(t, err)
	acct, err := f.svc.Register(f.ctx, player)
	require.NoError(t, err)

	st, err := f.svc.Play(f.ctx, engine.PlayRequest{
		Caller: player, PlayerID: acct.ID, Prediction: domain.PredictionTails, Stake: 100, FeeRecipient: recipient,
	})
	require.NoError(t, err)
	assert.True(t, st.Round.Won)
	assert.Equal(t, uint64(200), st.Round.Reward)
	assert.Equal(t, []string{"Big win"}, f.sender.titles)

	c, err := f.svc.Claim(f.ctx, engine.ClaimRequest{Caller: player, PlayerID: acct.ID})
	require.NoError(t, err)
	assert.Equal(t, uint64(200), c.Paid)
	assert.Equal(t, st.Round.ID, c.RoundID)

	bal, err := f.svc.Balance(f.ctx, player)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000-100-3+200), bal)

	rounds, err := f.svc.ListRounds(f.ctx, acct.ID, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	require.NotNil(t, rounds[0].ClaimedAt)

	assert.Equal(t, []string{"config_bootstrapped", "player_registered", "round_settled", "reward_claimed"}, f.auditEvents(t))
	assert.Equal(t, 2, f.bus.streams[domain.StreamSettlements])

	players, err := f.svc.ListPlayers(f.ctx, player)
	require.NoError(t, err)
	assert.Len(t, players, 1)
}

func TestFailedPlayLeavesNoSideEffects(t *testing.T) {
	f := newFixture(t, 4, 0)
	_, err := f.svc.Bootstrap(f.ctx, engine.BootstrapRequest{Caller: admin, FeeRecipient: recipient, FeeRateMilli: 30})
	require.NoError(t, err)
	acct, err := f.svc.Register(f.ctx, player)
	require.NoError(t, err)
	pubs := len(f.bus.pubs)

	_, err = f.svc.Play(f.ctx, engine.PlayRequest{
		Caller: player, PlayerID: acct.ID, Prediction: domain.PredictionTails, Stake: 99, FeeRecipient: recipient,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidDeposit)
	assert.Len(t, f.bus.pubs, pubs)
	assert.Equal(t, []string{"config_bootstrapped", "player_registered"}, f.auditEvents(t))
}

// refusingAudit wraps a store so every audit write inside a unit fails.
type refusingAudit struct{ domain.Store }

type refusingTx struct{ domain.Tx }

type refusingRepo struct{}

func (refusingRepo) Record(context.Context, string, map[string]any) error {
	return errors.New("audit table unavailable")
}

func (t refusingTx) Audit() domain.AuditRepo { return refusingRepo{} }

func (s refusingAudit) Atomic(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return s.Store.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		return fn(ctx, refusingTx{tx})
	})
}

func TestAuditFailureRollsBackPlay(t *testing.T) {
	f := newFixture(t, 4, 0)
	_, err := f.svc.Bootstrap(f.ctx, engine.BootstrapRequest{Caller: admin, FeeRecipient: recipient, FeeRateMilli: 30})
	require.NoError(t, err)
	acct, err := f.svc.Register(f.ctx, player)
	require.NoError(t, err)
	pubs := len(f.bus.pubs)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(engine.Params{Stake: 100, BootstrapBond: 5_000, Pool: pool}, oracle.NewCounter(4), logger)
	svc := NewGameService(refusingAudit{f.store}, eng, f.bus, nil, 0, logger)

	_, err = svc.Play(f.ctx, engine.PlayRequest{
		Caller: player, PlayerID: acct.ID, Prediction: domain.PredictionTails, Stake: 100, FeeRecipient: recipient,
	})
	require.ErrorContains(t, err, "audit table unavailable")

	bal, err := f.svc.Balance(f.ctx, player)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), bal)
	rounds, err := f.svc.ListRounds(f.ctx, acct.ID, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, rounds)
	assert.Len(t, f.bus.pubs, pubs)
	assert.Equal(t, []string{"config_bootstrapped", "player_registered"}, f.auditEvents(t))
}

func TestBusFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t, 5, 0)
	f.bus.err = errors.New("redis down")
	_, err := f.svc.Bootstrap(f.ctx, engine.BootstrapRequest{Caller: admin, FeeRecipient: recipient, FeeRateMilli: 30})
	require.NoError(t, err)
}

func TestUpdateAndWithdrawNotify(t *testing.T) {
	f := newFixture(t, 0, 0)
	_, err := f.svc.Bootstrap(f.ctx, engine.BootstrapRequest{Caller: admin, FeeRecipient: recipient, FeeRateMilli: 30})
	require.NoError(t, err)

	cfg, err := f.svc.UpdateConfig(f.ctx, engine.UpdateRequest{Caller: admin, FeeRecipient: recipient, FeeRateMilli: 50})
	require.NoError(t, err)
	assert.Equal(t, uint64(50), cfg.FeeRateMilli)

	receipt, err := f.svc.Withdraw(f.ctx, engine.AdminWithdrawRequest{Caller: recipient, Amount: 1_000})
	require.NoError(t, err)
	assert.Equal(t, uint64(4_000), receipt.FromAfter)

	_, err = f.svc.Withdraw(f.ctx, engine.AdminWithdrawRequest{Caller: player, Amount: 1})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	poolID, bal, err := f.svc.PoolBalance(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, pool, poolID)
	assert.Equal(t, uint64(4_000), bal)

	assert.Equal(t, []string{"Config updated", "Pool withdrawn"}, f.sender.titles)
}

func TestListRoundsUnknownPlayer(t *testing.T) {
	f := newFixture(t, 0, 0)
	_, err := f.svc.ListRounds(f.ctx, "missing", domain.ListOpts{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListRoundsBefore(t *testing.T) {
	f := newFixture(t, 5, 0)
	_, err := f.svc.Bootstrap(f.ctx, engine.BootstrapRequest{Caller: admin, FeeRecipient: recipient, FeeRateMilli: 30})
	require.NoError(t, err)
	acct, err := f.svc.Register(f.ctx, player)
	require.NoError(t, err)
	_, err = f.svc.Play(f.ctx, engine.PlayRequest{
		Caller: player, PlayerID: acct.ID, Prediction: domain.PredictionTails, Stake: 100, FeeRecipient: recipient,
	})
	require.NoError(t, err)

	rounds, err := f.svc.ListRoundsBefore(f.ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, rounds, 1)

	rounds, err = f.svc.ListRoundsBefore(f.ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, rounds)
}
