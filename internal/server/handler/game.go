package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/coinflip/internal/domain"
	"github.com/alanyoungcy/coinflip/internal/engine"
	"github.com/alanyoungcy/coinflip/internal/service"
)

// GameService defines the methods the game handlers require from the
// service layer.
type GameService interface {
	Bootstrap(ctx context.Context, req engine.BootstrapRequest) (domain.GlobalConfig, error)
	UpdateConfig(ctx context.Context, req engine.UpdateRequest) (domain.GlobalConfig, error)
	Register(ctx context.Context, owner domain.Identity) (domain.PlayerAccount, error)
	Play(ctx context.Context, req engine.PlayRequest) (engine.Settlement, error)
	Claim(ctx context.Context, req engine.ClaimRequest) (engine.Claim, error)
	Withdraw(ctx context.Context, req engine.AdminWithdrawRequest) (domain.Receipt, error)
	GetConfig(ctx context.Context) (service.ConfigView, error)
	PoolBalance(ctx context.Context) (domain.Identity, uint64, error)
	Balance(ctx context.Context, id domain.Identity) (uint64, error)
	GetPlayer(ctx context.Context, id string) (domain.PlayerAccount, error)
	ListPlayers(ctx context.Context, owner domain.Identity) ([]domain.PlayerAccount, error)
	ListRounds(ctx context.Context, playerID string, opts domain.ListOpts) ([]domain.Round, error)
}

// GameHandler serves the configuration, player and pool endpoints.
type GameHandler struct {
	game   GameService
	logger *slog.Logger
}

// NewGameHandler creates a GameHandler.
func NewGameHandler(game GameService, logger *slog.Logger) *GameHandler {
	return &GameHandler{game: game, logger: logger.With(slog.String("component", "game_handler"))}
}

// GetConfig returns the configuration, game parameters and pool balance.
// GET /api/config
func (h *GameHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	view, err := h.game.GetConfig(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type bootstrapRequest struct {
	FeeRecipient string `json:"fee_recipient"`
	FeeRate      uint64 `json:"fee_rate"`
}

// Bootstrap creates the configuration with the caller as admin.
// POST /api/config/bootstrap
func (h *GameHandler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(r)
	if !ok {
		writeError(w, r, h.logger, domain.ErrUnauthorized)
		return
	}
	var body bootstrapRequest
	if err := decodeBody(r, &body); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	recipient, err := domain.ParseIdentity(body.FeeRecipient)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	cfg, err := h.game.Bootstrap(r.Context(), engine.BootstrapRequest{
		Caller:       who,
		FeeRecipient: recipient,
		FeeRateMilli: body.FeeRate,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

type updateConfigRequest struct {
	NewAdmin     *string `json:"new_admin,omitempty"`
	FeeRecipient string  `json:"fee_recipient"`
	FeeRate      uint64  `json:"fee_rate"`
}

// UpdateConfig replaces the admin, fee recipient and fee rate.
// PUT /api/config
func (h *GameHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(r)
	if !ok {
		writeError(w, r, h.logger, domain.ErrUnauthorized)
		return
	}
	var body updateConfigRequest
	if err := decodeBody(r, &body); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	req := engine.UpdateRequest{Caller: who, FeeRateMilli: body.FeeRate}
	var err error
	if req.FeeRecipient, err = domain.ParseIdentity(body.FeeRecipient); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if body.NewAdmin != nil {
		admin, err := domain.ParseIdentity(*body.NewAdmin)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		req.NewAdmin = &admin
	}
	cfg, err := h.game.UpdateConfig(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// balanceResponse reports a ledger balance in base units and whole coins.
type balanceResponse struct {
	Identity domain.Identity `json:"identity"`
	Balance  uint64          `json:"balance"`
	Display  string          `json:"display"`
}

// GetPool returns the pool identity and balance.
// GET /api/pool
func (h *GameHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	pool, bal, err := h.game.PoolBalance(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Identity: pool, Balance: bal, Display: domain.FormatAmount(bal)})
}

// GetBalance returns the ledger balance of an address.
// GET /api/balances/{address}
func (h *GameHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseIdentity(r.PathValue("address"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	bal, err := h.game.Balance(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Identity: id, Balance: bal, Display: domain.FormatAmount(bal)})
}

type withdrawRequest struct {
	Amount uint64 `json:"amount"`
}

// Withdraw moves value from the pool to the caller.
// POST /api/pool/withdraw
func (h *GameHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(r)
	if !ok {
		writeError(w, r, h.logger, domain.ErrUnauthorized)
		return
	}
	var body withdrawRequest
	if err := decodeBody(r, &body); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	receipt, err := h.game.Withdraw(r.Context(), engine.AdminWithdrawRequest{Caller: who, Amount: body.Amount})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}
