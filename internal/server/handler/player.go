package handler

import (
	"net/http"

	"github.com/alanyoungcy/coinflip/internal/domain"
	"github.com/alanyoungcy/coinflip/internal/engine"
)

// Register creates a player account owned by the caller.
// POST /api/players
func (h *GameHandler) Register(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(r)
	if !ok {
		writeError(w, r, h.logger, domain.ErrUnauthorized)
		return
	}
	acct, err := h.game.Register(r.Context(), who)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

type listPlayersResponse struct {
	Players []domain.PlayerAccount `json:"players"`
}

// ListPlayers returns the accounts owned by an address.
// GET /api/players?owner=0x...
func (h *GameHandler) ListPlayers(w http.ResponseWriter, r *http.Request) {
	owner, err := domain.ParseIdentity(r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	players, err := h.game.ListPlayers(r.Context(), owner)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if players == nil {
		players = []domain.PlayerAccount{}
	}
	writeJSON(w, http.StatusOK, listPlayersResponse{Players: players})
}

// GetPlayer returns a player account.
// GET /api/players/{id}
func (h *GameHandler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	acct, err := h.game.GetPlayer(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

type listRoundsResponse struct {
	Rounds []domain.Round `json:"rounds"`
}

// ListRounds returns a player's rounds, newest first.
// GET /api/players/{id}/rounds?limit=50&offset=0
func (h *GameHandler) ListRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := h.game.ListRounds(r.Context(), r.PathValue("id"), parseListOpts(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if rounds == nil {
		rounds = []domain.Round{}
	}
	writeJSON(w, http.StatusOK, listRoundsResponse{Rounds: rounds})
}

type playRequest struct {
	Prediction   *domain.Prediction `json:"prediction"`
	Stake        uint64             `json:"stake"`
	FeeRecipient string             `json:"fee_recipient"`
}

// Play settles a round for the caller's player account.
// POST /api/players/{id}/rounds
func (h *GameHandler) Play(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(r)
	if !ok {
		writeError(w, r, h.logger, domain.ErrUnauthorized)
		return
	}
	var body playRequest
	if err := decodeBody(r, &body); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if body.Prediction == nil {
		writeBadRequest(w, "prediction is required")
		return
	}
	recipient, err := domain.ParseIdentity(body.FeeRecipient)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	st, err := h.game.Play(r.Context(), engine.PlayRequest{
		Caller:       who,
		PlayerID:     r.PathValue("id"),
		Prediction:   *body.Prediction,
		Stake:        body.Stake,
		FeeRecipient: recipient,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"account": st.Account,
		"round":   st.Round,
	})
}

// Claim pays out the pending reward of the caller's player account.
// POST /api/players/{id}/claim
func (h *GameHandler) Claim(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(r)
	if !ok {
		writeError(w, r, h.logger, domain.ErrUnauthorized)
		return
	}
	c, err := h.game.Claim(r.Context(), engine.ClaimRequest{Caller: who, PlayerID: r.PathValue("id")})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account":  c.Account,
		"paid":     c.Paid,
		"round_id": c.RoundID,
	})
}
