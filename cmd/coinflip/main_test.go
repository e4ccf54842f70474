package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParsePrediction(t *testing.T) {
	for in, want := range map[string]domain.Prediction{
		"heads": domain.PredictionHeads,
		"H":     domain.PredictionHeads,
		"1":     domain.PredictionHeads,
		"tails": domain.PredictionTails,
		"0":     domain.PredictionTails,
	} {
		got, err := parsePrediction(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parsePrediction("2")
	assert.ErrorIs(t, err, domain.ErrInvalidPrediction)
	_, err = parsePrediction("edge")
	assert.ErrorIs(t, err, domain.ErrInvalidPrediction)
}

func TestKeygenAndAddress(t *testing.T) {
	file := filepath.Join(t.TempDir(), "player.key")

	out, err := run(t, "keygen", "--key-file", file, "--password", "hunter2")
	require.NoError(t, err)
	var gen struct {
		Address   string `json:"address"`
		Encrypted bool   `json:"encrypted"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &gen))
	assert.True(t, gen.Encrypted)

	out, err = run(t, "address", "--key-file", file, "--password", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, gen.Address, strings.TrimSpace(out))

	_, err = run(t, "address", "--key-file", file, "--password", "wrong")
	assert.Error(t, err)

	_, err = run(t, "keygen", "--key-file", file)
	assert.ErrorContains(t, err, "already exists")
}

func newTestAPI(t *testing.T) string {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	admin, err := crypto.NewSigner(adminKey)
	require.NoError(t, err)
	player, err := crypto.NewSigner(playerKey)
	require.NoError(t, err)

	store := memory.New()
	_, err = store.Seed(context.Background(), []domain.Allocation{
		{Identity: admin.Identity(), Amount: 10 * domain.UnitsPerCoin},
		{Identity: player.Identity(), Amount: domain.UnitsPerCoin},
	})
	require.NoError(t, err)

	eng := engine.New(engine.Params{
		Stake:         domain.UnitsPerCoin / 10,
		BootstrapBond: 5 * domain.UnitsPerCoin,
		Pool:          domain.PoolIdentity("cli-test"),
	}, oracle.NewCounter(2), logger)
	svc := service.NewGameService(store, eng, nil, nil, 0, logger)
	s := server.NewServer(server.Config{MaxClockSkew: time.Minute}, server.Handlers{
		Health: handler.NewHealthHandler("serve", "memory", "counter"),
		Game:   handler.NewGameHandler(svc, logger),
	}, nil, nil, logger)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestGameCommands(t *testing.T) {
	api := newTestAPI(t)
	recipient := "0x4444444444444444444444444444444444444444"

	_, err := run(t, "play", "p", "tails", "--api", api, "--key", playerKey)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)

	_, err = run(t, "bootstrap", "--api", api, "--key", adminKey, "--fee-recipient", recipient, "--fee-rate", "10")
	require.NoError(t, err)

	out, err := run(t, "register", "--api", api, "--key", playerKey)
	require.NoError(t, err)
	var acct domain.PlayerAccount
	require.NoError(t, json.Unmarshal([]byte(out), &acct))
	require.NotEmpty(t, acct.ID)

	out, err = run(t, "play", acct.ID, "tails", "--api", api, "--key", playerKey)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "won: predicted tails, resolution 0, reward 0.2"), out)

	out, err = run(t, "claim", acct.ID, "--api", api, "--key", playerKey)
	require.NoError(t, err)
	assert.Contains(t, out, `"paid": 200000000`)

	out, err = run(t, "withdraw", "0.5", "--api", api, "--key", adminKey)
	require.NoError(t, err)
	assert.Contains(t, out, `"amount": 500000000`)

	_, err = run(t, "withdraw", "0.5", "--api", api, "--key", playerKey)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	out, err = run(t, "pool", "--api", api)
	require.NoError(t, err)
	assert.Contains(t, out, `"display": "4.4"`)

	out, err = run(t, "status", "--api", api)
	require.NoError(t, err)
	assert.Contains(t, out, `"initialized": true`)
}
