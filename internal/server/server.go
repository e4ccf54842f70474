// Package server exposes the game over HTTP and websockets.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/coinflip/internal/domain"
	"github.com/alanyoungcy/coinflip/internal/server/handler"
	"github.com/alanyoungcy/coinflip/internal/server/middleware"
	"github.com/alanyoungcy/coinflip/internal/server/ws"
	"github.com/alanyoungcy/coinflip/internal/store/memory"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port         int
	CORSOrigins  []string
	MaxClockSkew time.Duration
	// RateLimit is the number of requests allowed per client IP per
	// RateWindow. Zero disables rate limiting.
	RateLimit  int
	RateWindow time.Duration
	// Nonces records the nonces of signed requests. A process-local set is
	// used when nil, which only guards a single replica.
	Nonces domain.NonceStore
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health *handler.HealthHandler
	Game   *handler.GameHandler
}

// Server is the HTTP + websocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain. The hub and limiter are optional.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()
	nonces := cfg.Nonces
	if nonces == nil {
		nonces = memory.NewNonceSet()
	}
	signed := middleware.Authenticate(cfg.MaxClockSkew, nonces)
	auth := func(h http.HandlerFunc) http.Handler { return signed(h) }

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Health.Status)

	mux.HandleFunc("GET /api/config", handlers.Game.GetConfig)
	mux.Handle("POST /api/config/bootstrap", auth(handlers.Game.Bootstrap))
	mux.Handle("PUT /api/config", auth(handlers.Game.UpdateConfig))

	mux.HandleFunc("GET /api/players", handlers.Game.ListPlayers)
	mux.Handle("POST /api/players", auth(handlers.Game.Register))
	mux.HandleFunc("GET /api/players/{id}", handlers.Game.GetPlayer)
	mux.HandleFunc("GET /api/players/{id}/rounds", handlers.Game.ListRounds)
	mux.Handle("POST /api/players/{id}/rounds", auth(handlers.Game.Play))
	mux.Handle("POST /api/players/{id}/claim", auth(handlers.Game.Claim))

	mux.HandleFunc("GET /api/pool", handlers.Game.GetPool)
	mux.Handle("POST /api/pool/withdraw", auth(handlers.Game.Withdraw))
	mux.HandleFunc("GET /api/balances/{address}", handlers.Game.GetBalance)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens for requests. It blocks until the server fails or is shut
// down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests within the ctx deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
