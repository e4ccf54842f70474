package handler

import (
	"net/http"
	"time"
)

// HealthHandler serves the health-check and status endpoints.
type HealthHandler struct {
	mode      string
	store     string
	oracle    string
	startedAt time.Time
}

// NewHealthHandler creates a HealthHandler reporting the run mode and the
// configured store and oracle backends.
func NewHealthHandler(mode, store, oracle string) *HealthHandler {
	return &HealthHandler{mode: mode, store: store, oracle: oracle, startedAt: time.Now().UTC()}
}

// HealthCheck responds with a simple JSON status indicating the server is alive.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Status reports the backends the process runs with.
// GET /api/status
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"store":          h.store,
		"oracle":         h.oracle,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}
