package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coinflip/internal/crypto"
	"github.com/alanyoungcy/coinflip/internal/domain"
	"github.com/alanyoungcy/coinflip/internal/engine"
	"github.com/alanyoungcy/coinflip/internal/oracle"
	"github.com/alanyoungcy/coinflip/internal/server"
	"github.com/alanyoungcy/coinflip/internal/server/handler"
	"github.com/alanyoungcy/coinflip/internal/server/middleware"
	"github.com/alanyoungcy/coinflip/internal/service"
	"github.com/alanyoungcy/coinflip/internal/store/memory"
)

const (
	adminKey  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	playerKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

var recipient = domain.MustIdentity("0x2222222222222222222222222222222222222222")

type apiFixture struct {
	t      *testing.T
	srv    *httptest.Server
	admin  *crypto.Signer
	player *crypto.Signer
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	admin, err := crypto.NewSigner(adminKey)
	require.NoError(t, err)
	player, err := crypto.NewSigner(playerKey)
	require.NoError(t, err)

	store := memory.New()
	_, err = store.Seed(context.Background(), []domain.Allocation{
		{Identity: admin.Identity(), Amount: 10_000},
		{Identity: player.Identity(), Amount: 1_000},
	})
	require.NoError(t, err)

	eng := engine.New(engine.Params{Stake: 100, BootstrapBond: 5_000, Pool: domain.PoolIdentity("api-test")}, oracle.NewCounter(4), logger)
	svc := service.NewGameService(store, eng, nil, nil, 0, logger)
	s := server.NewServer(server.Config{MaxClockSkew: time.Minute}, server.Handlers{
		Health: handler.NewHealthHandler("serve", "memory", "counter"),
		Game:   handler.NewGameHandler(svc, logger),
	}, nil, nil, logger)

	f := &apiFixture{t: t, srv: httptest.NewServer(s.Handler()), admin: admin, player: player}
	t.Cleanup(f.srv.Close)
	return f
}

// do sends the request, signed when signer is non-nil, and decodes the JSON
// response into out.
func (f *apiFixture) do(signer *crypto.Signer, method, path string, body any, out any) int {
	f.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(f.t, err)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, bytes.NewReader(raw))
	require.NoError(f.t, err)
	if signer != nil {
		ts := time.Now().Unix()
		nonce := uuid.NewString()
		sig, err := signer.SignRequest(method, req.URL.Path, ts, nonce, raw)
		require.NoError(f.t, err)
		req.Header.Set(middleware.HeaderNonce, nonce)
		req.Header.Set(middleware.HeaderAddress, signer.Identity().String())
		req.Header.Set(middleware.HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(middleware.HeaderSignature, sig)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(f.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func TestHealth(t *testing.T) {
	f := newAPI(t)
	var body map[string]any
	assert.Equal(t, http.StatusOK, f.do(nil, http.MethodGet, "/api/health", nil, &body))
	assert.Equal(t, "ok", body["status"])
}

func TestFullGameOverHTTP(t *testing.T) {
	f := newAPI(t)

	var cfg domain.GlobalConfig
	require.Equal(t, http.StatusCreated, f.do(f.admin, http.MethodPost, "/api/config/bootstrap",
		map[string]any{"fee_recipient": recipient, "fee_rate": 30}, &cfg))
	assert.Equal(t, f.admin.Identity(), cfg.Admin)

	var view service.ConfigView
	require.Equal(t, http.StatusOK, f.do(nil, http.MethodGet, "/api/config", nil, &view))
	assert.True(t, view.Initialized)
	assert.Equal(t, uint64(5_000), view.PoolBalance)

	var acct domain.PlayerAccount
	require.Equal(t, http.StatusCreated, f.do(f.player, http.MethodPost, "/api/players", nil, &acct))
	assert.Equal(t, f.player.Identity(), acct.Owner)

	var played struct {
		Account domain.PlayerAccount `json:"account"`
		Round   domain.Round         `json:"round"`
	}
	require.Equal(t, http.StatusCreated, f.do(f.player, http.MethodPost, "/api/players/"+acct.ID+"/rounds",
		map[string]any{"prediction": 0, "stake": 100, "fee_recipient": recipient}, &played))
	assert.True(t, played.Round.Won)
	assert.True(t, played.Account.HasPendingReward)

	var apiErr apiError
	assert.Equal(t, http.StatusConflict, f.do(f.player, http.MethodPost, "/api/players/"+acct.ID+"/rounds",
		map[string]any{"prediction": 0, "stake": 100, "fee_recipient": recipient}, &apiErr))
	assert.Equal(t, domain.CodePendingRewardMustBeClaimed, apiErr.Code)

	assert.Equal(t, http.StatusForbidden, f.do(f.admin, http.MethodPost, "/api/players/"+acct.ID+"/claim", nil, &apiErr))
	assert.Equal(t, domain.CodeUnauthorized, apiErr.Code)

	var claimed struct {
		Paid uint64 `json:"paid"`
	}
	require.Equal(t, http.StatusOK, f.do(f.player, http.MethodPost, "/api/players/"+acct.ID+"/claim", nil, &claimed))
	assert.Equal(t, uint64(200), claimed.Paid)

	var rounds struct {
		Rounds []domain.Round `json:"rounds"`
	}
	require.Equal(t, http.StatusOK, f.do(nil, http.MethodGet, "/api/players/"+acct.ID+"/rounds?limit=10", nil, &rounds))
	require.Len(t, rounds.Rounds, 1)
	assert.NotNil(t, rounds.Rounds[0].ClaimedAt)

	var bal struct {
		Balance uint64 `json:"balance"`
		Display string `json:"display"`
	}
	require.Equal(t, http.StatusOK, f.do(nil, http.MethodGet, "/api/balances/"+f.player.Identity().String(), nil, &bal))
	assert.Equal(t, uint64(1_000-100-3+200), bal.Balance)
	assert.Equal(t, "0.000001097", bal.Display)

	assert.Equal(t, http.StatusForbidden, f.do(f.player, http.MethodPost, "/api/pool/withdraw", map[string]any{"amount": 1}, &apiErr))

	var receipt domain.Receipt
	require.Equal(t, http.StatusOK, f.do(f.admin, http.MethodPost, "/api/pool/withdraw", map[string]any{"amount": 1_000}, &receipt))
	assert.Equal(t, uint64(1_000), receipt.Amount)

	require.Equal(t, http.StatusOK, f.do(nil, http.MethodGet, "/api/pool", nil, &bal))
	assert.Equal(t, receipt.FromAfter, bal.Balance)
}

func TestSignedRequestReplayRejected(t *testing.T) {
	f := newAPI(t)
	require.Equal(t, http.StatusCreated, f.do(f.admin, http.MethodPost, "/api/config/bootstrap",
		map[string]any{"fee_recipient": recipient, "fee_rate": 30}, nil))
	var acct domain.PlayerAccount
	require.Equal(t, http.StatusCreated, f.do(f.player, http.MethodPost, "/api/players", nil, &acct))

	path := "/api/players/" + acct.ID + "/rounds"
	raw := []byte(`{"prediction":1,"stake":100,"fee_recipient":"` + recipient.String() + `"}`)
	ts := time.Now().Unix()
	nonce := uuid.NewString()
	sig, err := f.player.SignRequest(http.MethodPost, path, ts, nonce, raw)
	require.NoError(t, err)
	send := func() int {
		req, err := http.NewRequest(http.MethodPost, f.srv.URL+path, bytes.NewReader(raw))
		require.NoError(t, err)
		req.Header.Set(middleware.HeaderAddress, f.player.Identity().String())
		req.Header.Set(middleware.HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(middleware.HeaderNonce, nonce)
		req.Header.Set(middleware.HeaderSignature, sig)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	require.Equal(t, http.StatusCreated, send())
	var bal struct {
		Balance uint64 `json:"balance"`
	}
	require.Equal(t, http.StatusOK, f.do(nil, http.MethodGet, "/api/balances/"+f.player.Identity().String(), nil, &bal))
	after := bal.Balance

	assert.Equal(t, http.StatusUnauthorized, send())
	require.Equal(t, http.StatusOK, f.do(nil, http.MethodGet, "/api/balances/"+f.player.Identity().String(), nil, &bal))
	assert.Equal(t, after, bal.Balance)
	assert.Equal(t, uint64(1_000-100-3), after)
}

func TestUnsignedMutationRejected(t *testing.T) {
	f := newAPI(t)
	var apiErr apiError
	assert.Equal(t, http.StatusUnauthorized, f.do(nil, http.MethodPost, "/api/players", nil, &apiErr))
	assert.Equal(t, domain.CodeUnauthorized, apiErr.Code)
}

func TestErrorMapping(t *testing.T) {
	f := newAPI(t)
	var apiErr apiError

	assert.Equal(t, http.StatusNotFound, f.do(nil, http.MethodGet, "/api/players/nope", nil, &apiErr))
	assert.Equal(t, domain.CodeNotFound, apiErr.Code)

	assert.Equal(t, http.StatusBadRequest, f.do(nil, http.MethodGet, "/api/balances/not-an-address", nil, &apiErr))
	assert.Equal(t, domain.CodeInvalidIdentity, apiErr.Code)

	assert.Equal(t, http.StatusBadRequest, f.do(f.admin, http.MethodPost, "/api/config/bootstrap",
		map[string]any{"fee_recipient": recipient, "fee_rate": 30, "extra": true}, &apiErr))
	assert.Equal(t, "BAD_REQUEST", apiErr.Code)

	assert.Equal(t, http.StatusConflict, f.do(f.admin, http.MethodPut, "/api/config",
		map[string]any{"fee_recipient": recipient, "fee_rate": 30}, &apiErr))
	assert.Equal(t, domain.CodeNotInitialized, apiErr.Code)
}

func TestPlayRequiresPrediction(t *testing.T) {
	f := newAPI(t)
	require.Equal(t, http.StatusCreated, f.do(f.admin, http.MethodPost, "/api/config/bootstrap",
		map[string]any{"fee_recipient": recipient, "fee_rate": 30}, nil))
	var acct domain.PlayerAccount
	require.Equal(t, http.StatusCreated, f.do(f.player, http.MethodPost, "/api/players", nil, &acct))

	var apiErr apiError
	assert.Equal(t, http.StatusBadRequest, f.do(f.player, http.MethodPost, "/api/players/"+acct.ID+"/rounds",
		map[string]any{"stake": 100, "fee_recipient": recipient}, &apiErr))
	assert.Equal(t, "BAD_REQUEST", apiErr.Code)
	assert.Contains(t, apiErr.Error, "prediction")

	var bal struct {
		Balance uint64 `json:"balance"`
	}
	require.Equal(t, http.StatusOK, f.do(nil, http.MethodGet, "/api/balances/"+f.player.Identity().String(), nil, &bal))
	assert.Equal(t, uint64(1_000), bal.Balance)
}
