package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coinflip/internal/domain"
	"github.com/alanyoungcy/coinflip/internal/engine"
	"github.com/alanyoungcy/coinflip/internal/store/postgres"
)

// These tests run against a real database and are skipped unless
// COINFLIP_TEST_POSTGRES_DSN is set. Every test truncates the game tables.

var (
	admin        = domain.MustIdentity("0x1111111111111111111111111111111111111111")
	feeRecipient = domain.MustIdentity("0x2222222222222222222222222222222222222222")
	player       = domain.MustIdentity("0x3333333333333333333333333333333333333333")
	stranger     = domain.MustIdentity("0x4444444444444444444444444444444444444444")
	pool         = domain.PoolIdentity("postgres-test")

	fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func openClient(t *testing.T) *postgres.Client {
	t.Helper()
	dsn := os.Getenv("COINFLIP_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("COINFLIP_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := postgres.New(ctx, postgres.ClientConfig{DSN: dsn, MaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NoError(t, c.RunMigrations(ctx))
	_, err = c.Pool().Exec(ctx, `TRUNCATE ledger_balances, ledger_transfers, global_config,
		player_accounts, rounds, audit_log RESTART IDENTITY`)
	require.NoError(t, err)
	return c
}

type stubOracle struct {
	mu      sync.Mutex
	counter uint64
	err     error
}

func (o *stubOracle) CurrentCounter(context.Context) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counter, o.err
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *postgres.Store
	oracle *stubOracle
	engine *engine.Engine
}

// newFixture mirrors the engine scenarios: stake 100, fee 30 permille, the
// player and admin holding 1 000 each.
func newFixture(t *testing.T, poolBalance uint64) *fixture {
	t.Helper()
	c := openClient(t)
	f := &fixture{t: t, ctx: context.Background(), store: c.Store(), oracle: &stubOracle{}}
	ids := 0
	f.engine = engine.New(
		engine.Params{Stake: 100, Pool: pool},
		f.oracle,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		engine.WithClock(func() time.Time { return fixedNow }),
		engine.WithIDGenerator(func() string {
			ids++
			return fmt.Sprintf("id-%d", ids)
		}),
	)

	allocs := []domain.Allocation{
		{Identity: player, Amount: 1_000},
		{Identity: admin, Amount: 1_000},
	}
	if poolBalance > 0 {
		allocs = append(allocs, domain.Allocation{Identity: pool, Amount: poolBalance})
	}
	n, err := f.store.Seed(f.ctx, allocs)
	require.NoError(t, err)
	require.Equal(t, len(allocs), n)

	f.atomic(func(ctx context.Context, tx domain.Tx) error {
		_, err := f.engine.BootstrapConfig(ctx, tx, engine.BootstrapRequest{
			Caller: admin, FeeRecipient: feeRecipient, FeeRateMilli: 30,
		})
		return err
	})
	return f
}

func (f *fixture) atomic(fn func(ctx context.Context, tx domain.Tx) error) {
	f.t.Helper()
	require.NoError(f.t, f.store.Atomic(f.ctx, fn))
}

func (f *fixture) register(owner domain.Identity) domain.PlayerAccount {
	f.t.Helper()
	var acct domain.PlayerAccount
	f.atomic(func(ctx context.Context, tx domain.Tx) error {
		var err error
		acct, err = f.engine.RegisterPlayer(ctx, tx, owner)
		return err
	})
	return acct
}

func (f *fixture) play(req engine.PlayRequest) (engine.Settlement, error) {
	var s engine.Settlement
	err := f.store.Atomic(f.ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		s, err = f.engine.PlayRound(ctx, tx, req)
		return err
	})
	return s, err
}

func (f *fixture) balance(id domain.Identity) uint64 {
	f.t.Helper()
	var bal uint64
	require.NoError(f.t, f.store.View(f.ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		bal, err = tx.Ledger().Balance(ctx, id)
		return err
	}))
	return bal
}

func (f *fixture) account(id string) domain.PlayerAccount {
	f.t.Helper()
	var acct domain.PlayerAccount
	require.NoError(f.t, f.store.View(f.ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		acct, err = tx.Players().Get(ctx, id)
		return err
	}))
	return acct
}

func (f *fixture) roundsPlayed() uint64 {
	f.t.Helper()
	var cfg domain.GlobalConfig
	require.NoError(f.t, f.store.View(f.ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		cfg, err = tx.Config().Get(ctx)
		return err
	}))
	return cfg.TotalRoundsPlayed
}

func playReq(playerID string) engine.PlayRequest {
	return engine.PlayRequest{
		Caller:       player,
		PlayerID:     playerID,
		Prediction:   domain.PredictionTails,
		Stake:        100,
		FeeRecipient: feeRecipient,
	}
}

func TestPostgresPlayWinAndClaim(t *testing.T) {
	f := newFixture(t, 10_000)
	acct := f.register(player)
	f.oracle.counter = 4

	s, err := f.play(playReq(acct.ID))
	require.NoError(t, err)
	assert.True(t, s.Round.Won)
	assert.Equal(t, uint64(3), s.Round.Fee)
	assert.Equal(t, uint64(200), s.Round.Reward)
	assert.Equal(t, uint64(10_100), f.balance(pool))
	assert.Equal(t, uint64(897), f.balance(player))
	assert.Equal(t, uint64(3), f.balance(feeRecipient))
	assert.Equal(t, uint64(1), f.roundsPlayed())

	got := f.account(acct.ID)
	assert.True(t, got.HasPendingReward)
	assert.Equal(t, uint64(200), got.LastRound.Reward)
	assert.True(t, fixedNow.Equal(got.LastRound.Timestamp))

	_, err = f.play(playReq(acct.ID))
	require.ErrorIs(t, err, domain.ErrPendingRewardMustBeClaimed)

	var c engine.Claim
	f.atomic(func(ctx context.Context, tx domain.Tx) error {
		var err error
		c, err = f.engine.ClaimReward(ctx, tx, engine.ClaimRequest{Caller: player, PlayerID: acct.ID})
		return err
	})
	assert.Equal(t, uint64(200), c.Paid)
	assert.Equal(t, s.Round.ID, c.RoundID)
	assert.Equal(t, uint64(1_097), f.balance(player))
	assert.Equal(t, uint64(9_900), f.balance(pool))
	assert.False(t, f.account(acct.ID).HasPendingReward)

	var rounds []domain.Round
	require.NoError(t, f.store.View(f.ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		rounds, err = tx.Rounds().ListByPlayer(ctx, acct.ID, domain.ListOpts{Limit: 10})
		return err
	}))
	require.Len(t, rounds, 1)
	require.NotNil(t, rounds[0].ClaimedAt)
	assert.True(t, fixedNow.Equal(*rounds[0].ClaimedAt))
	assert.Equal(t, uint64(4), rounds[0].Counter)
}

func TestPostgresPlayLose(t *testing.T) {
	f := newFixture(t, 10_000)
	acct := f.register(player)
	f.oracle.counter = 5

	s, err := f.play(playReq(acct.ID))
	require.NoError(t, err)
	assert.False(t, s.Round.Won)
	assert.False(t, f.account(acct.ID).HasPendingReward)
	assert.Equal(t, uint64(10_100), f.balance(pool))
	assert.Equal(t, uint64(897), f.balance(player))

	_, err = f.play(playReq(acct.ID))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.roundsPlayed())
}

func TestPostgresPreconditionsRollBack(t *testing.T) {
	tests := []struct {
		name    string
		pool    uint64
		mutate  func(req *engine.PlayRequest)
		wantErr error
	}{
		{"caller is not the owner", 10_000, func(req *engine.PlayRequest) { req.Caller = stranger }, domain.ErrUnauthorized},
		{"wrong stake", 10_000, func(req *engine.PlayRequest) { req.Stake = 50 }, domain.ErrInvalidDeposit},
		{"pool below twice the stake", 150, nil, domain.ErrInsufficientRewardVault},
		{"fee recipient mismatch", 10_000, func(req *engine.PlayRequest) { req.FeeRecipient = stranger }, domain.ErrInvalidRewardVault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.pool)
			acct := f.register(player)
			req := playReq(acct.ID)
			if tt.mutate != nil {
				tt.mutate(&req)
			}

			_, err := f.play(req)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.pool, f.balance(pool))
			assert.Equal(t, uint64(1_000), f.balance(player))
			assert.Equal(t, uint64(0), f.balance(feeRecipient))
			assert.Equal(t, uint64(0), f.roundsPlayed())
		})
	}
}

func TestPostgresOracleFailureRollsBack(t *testing.T) {
	f := newFixture(t, 10_000)
	acct := f.register(player)
	f.oracle.err = errors.New("oracle unavailable")

	_, err := f.play(playReq(acct.ID))
	require.Error(t, err)
	assert.Equal(t, uint64(10_000), f.balance(pool))
	assert.Equal(t, uint64(1_000), f.balance(player))
	assert.Equal(t, uint64(0), f.balance(feeRecipient))
	assert.False(t, f.account(acct.ID).HasPendingReward)
	assert.Equal(t, uint64(0), f.roundsPlayed())
}

func TestPostgresTransferInsufficientFunds(t *testing.T) {
	f := newFixture(t, 0)

	err := f.store.Atomic(f.ctx, func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Ledger().Transfer(ctx, player, stranger, 1_001)
		return err
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, uint64(1_000), f.balance(player))
	assert.Equal(t, uint64(0), f.balance(stranger))

	err = f.store.Atomic(f.ctx, func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Ledger().Transfer(ctx, player, player, 1)
		return err
	})
	require.ErrorIs(t, err, domain.ErrSameAccount)
}

func TestPostgresConcurrentDebitsNeverOverdraw(t *testing.T) {
	f := newFixture(t, 0)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = f.store.Atomic(f.ctx, func(ctx context.Context, tx domain.Tx) error {
				_, err := tx.Ledger().Transfer(ctx, player, stranger, 400)
				return err
			})
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	}
	assert.Equal(t, 2, ok)
	assert.Equal(t, uint64(200), f.balance(player))
	assert.Equal(t, uint64(800), f.balance(stranger))
}

func TestPostgresConfigCreateOnce(t *testing.T) {
	f := newFixture(t, 0)

	err := f.store.Atomic(f.ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Config().Create(ctx, domain.GlobalConfig{
			Admin: stranger, FeeRecipient: stranger, CreatedAt: fixedNow, UpdatedAt: fixedNow,
		})
	})
	require.ErrorIs(t, err, domain.ErrAlreadyInitialized)

	var cfg domain.GlobalConfig
	require.NoError(t, f.store.View(f.ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		cfg, err = tx.Config().Get(ctx)
		return err
	}))
	assert.Equal(t, admin, cfg.Admin)
}

func TestPostgresSeedIsIdempotent(t *testing.T) {
	f := newFixture(t, 0)
	n, err := f.store.Seed(f.ctx, []domain.Allocation{
		{Identity: player, Amount: 5},
		{Identity: stranger, Amount: 7},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint64(1_000), f.balance(player))
	assert.Equal(t, uint64(7), f.balance(stranger))
}

func TestPostgresAuditCommitsWithUnit(t *testing.T) {
	c := openClient(t)
	ctx := context.Background()
	store := c.Store()
	audit := postgres.NewAuditStore(c.Pool())

	require.NoError(t, store.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Audit().Record(ctx, "round_settled", map[string]any{"round_id": "r1"})
	}))
	failed := errors.New("boom")
	err := store.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Audit().Record(ctx, "round_settled", map[string]any{"round_id": "r2"}); err != nil {
			return err
		}
		return failed
	})
	require.ErrorIs(t, err, failed)
	require.NoError(t, audit.Log(ctx, "archive.rounds", map[string]any{"count": 1}))

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "archive.rounds", entries[0].Event)
	assert.Equal(t, "round_settled", entries[1].Event)
	assert.Equal(t, "r1", entries[1].Detail["round_id"])

	entries, err = audit.List(ctx, domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "round_settled", entries[0].Event)
}
