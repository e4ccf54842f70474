package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coinflip/internal/client"
	"github.com/alanyoungcy/coinflip/internal/crypto"
	"github.com/alanyoungcy/coinflip/internal/domain"
	"github.com/alanyoungcy/coinflip/internal/engine"
	"github.com/alanyoungcy/coinflip/internal/oracle"
	"github.com/alanyoungcy/coinflip/internal/server"
	"github.com/alanyoungcy/coinflip/internal/server/handler"
	"github.com/alanyoungcy/coinflip/internal/service"
	"github.com/alanyoungcy/coinflip/internal/store/memory"
)

const (
	adminKey  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	playerKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

var recipient = domain.MustIdentity("0x3333333333333333333333333333333333333333")

func newServer(t *testing.T, admin, player *crypto.Signer) string {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := memory.New()
	_, err := store.Seed(context.Background(), []domain.Allocation{
		{Identity: admin.Identity(), Amount: 10_000},
		{Identity: player.Identity(), Amount: 1_000},
	})
	require.NoError(t, err)

	// Counter starts even, so tails wins the first round.
	eng := engine.New(engine.Params{Stake: 100, BootstrapBond: 5_000, Pool: domain.PoolIdentity("client-test")}, oracle.NewCounter(8), logger)
	svc := service.NewGameService(store, eng, nil, nil, 0, logger)
	s := server.NewServer(server.Config{MaxClockSkew: time.Minute}, server.Handlers{
		Health: handler.NewHealthHandler("serve", "memory", "counter"),
		Game:   handler.NewGameHandler(svc, logger),
	}, nil, nil, logger)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func signers(t *testing.T) (*crypto.Signer, *crypto.Signer) {
	t.Helper()
	admin, err := crypto.NewSigner(adminKey)
	require.NoError(t, err)
	player, err := crypto.NewSigner(playerKey)
	require.NoError(t, err)
	return admin, player
}

func TestClientGameFlow(t *testing.T) {
	ctx := context.Background()
	adminSigner, playerSigner := signers(t)
	base := newServer(t, adminSigner, playerSigner)
	admin := client.New(base, adminSigner)
	player := client.New(base, playerSigner)

	view, err := admin.Config(ctx)
	require.NoError(t, err)
	assert.False(t, view.Initialized)

	cfg, err := admin.Bootstrap(ctx, recipient, 30)
	require.NoError(t, err)
	assert.Equal(t, adminSigner.Identity(), cfg.Admin)

	pool, err := admin.Pool(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), pool.Balance)

	acct, err := player.Register(ctx)
	require.NoError(t, err)
	assert.Equal(t, playerSigner.Identity(), acct.Owner)

	owned, err := player.Players(ctx, playerSigner.Identity())
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, acct.ID, owned[0].ID)

	res, err := player.Play(ctx, acct.ID, domain.PredictionTails, 100, recipient)
	require.NoError(t, err)
	assert.True(t, res.Round.Won)
	assert.True(t, res.Account.HasPendingReward)

	_, err = player.Play(ctx, acct.ID, domain.PredictionTails, 100, recipient)
	assert.ErrorIs(t, err, domain.ErrPendingRewardMustBeClaimed)

	claim, err := player.Claim(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), claim.Paid)
	assert.Equal(t, res.Round.ID, claim.RoundID)

	bal, err := player.Balance(ctx, playerSigner.Identity())
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000-100-3+200), bal.Balance)

	rounds, err := player.Rounds(ctx, acct.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	assert.NotNil(t, rounds[0].ClaimedAt)

	receipt, err := admin.Withdraw(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, adminSigner.Identity(), receipt.To)

	status, err := admin.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "memory", status["store"])
}

func TestClientAPIErrorUnwraps(t *testing.T) {
	ctx := context.Background()
	adminSigner, playerSigner := signers(t)
	player := client.New(newServer(t, adminSigner, playerSigner), playerSigner)

	_, err := player.Withdraw(ctx, 10)
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)

	_, err = player.Player(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClientSignedCallNeedsSigner(t *testing.T) {
	adminSigner, playerSigner := signers(t)
	anon := client.New(newServer(t, adminSigner, playerSigner), nil)

	_, err := anon.Register(context.Background())
	assert.ErrorContains(t, err, "requires a signing key")

	_, err = anon.Config(context.Background())
	assert.NoError(t, err)
}

func TestClientStaleTimestampRejected(t *testing.T) {
	adminSigner, playerSigner := signers(t)
	stale := func() time.Time { return time.Now().Add(-time.Hour) }
	player := client.New(newServer(t, adminSigner, playerSigner), playerSigner, client.WithClock(stale))

	_, err := player.Register(context.Background())
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}
