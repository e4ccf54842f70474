package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/coinflip/internal/domain"
	"github.com/alanyoungcy/coinflip/internal/notify"
	"github.com/alanyoungcy/coinflip/internal/server"
	"github.com/alanyoungcy/coinflip/internal/server/handler"
	"github.com/alanyoungcy/coinflip/internal/server/ws"
)

const (
	archiveLockKey  = "archive:rounds"
	shutdownTimeout = 5 * time.Second
)

// ServeMode runs the HTTP API and, when a signal bus is configured, the
// websocket hub.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode runs one archive pass and returns.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	return a.runArchive(ctx, deps, time.Now())
}

// FullMode runs the HTTP API together with the periodic archive job.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)

	if deps.Archiver != nil {
		interval := a.cfg.Archive.Interval.Duration
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case now := <-ticker.C:
					if err := a.runArchive(ctx, deps, now); err != nil {
						a.logger.WarnContext(ctx, "archive pass failed", slog.String("error", err.Error()))
					}
				}
			}
		})
	}

	return g.Wait()
}

// startHTTPServer adds the HTTP server, its shutdown watcher and the
// websocket hub to g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:           a.cfg.Mode,
			AllowedOrigins: a.cfg.Server.CORSOrigins,
		})
		g.Go(func() error { return hub.Run(ctx) })
	}

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		MaxClockSkew: a.cfg.Server.MaxClockSkew.Duration,
		RateLimit:    a.cfg.Server.RateLimit,
		RateWindow:   a.cfg.Server.RateWindow.Duration,
		Nonces:       deps.Nonces,
	}, server.Handlers{
		Health: handler.NewHealthHandler(a.cfg.Mode, a.cfg.Store.Backend, a.cfg.Oracle.Kind),
		Game:   handler.NewGameHandler(deps.Game, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// runArchive archives rounds and audit entries older than the retention
// window. With a lock manager configured, only one replica archives at a
// time; a held lock skips the pass.
func (a *App) runArchive(ctx context.Context, deps *Dependencies, now time.Time) error {
	if deps.Archiver == nil {
		return errors.New("app: archive: no archiver configured")
	}
	if deps.LockManager != nil {
		unlock, err := deps.LockManager.Acquire(ctx, archiveLockKey, a.cfg.Archive.LockTTL.Duration)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.InfoContext(ctx, "archive already running elsewhere")
			return nil
		}
		if err != nil {
			return fmt.Errorf("app: archive: lock: %w", err)
		}
		defer unlock()
	}

	cutoff := now.Add(-a.cfg.Archive.Retention.Duration).UTC()
	rounds, err := deps.Archiver.ArchiveRounds(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("app: archive rounds: %w", err)
	}
	audits, err := deps.Archiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("app: archive audit: %w", err)
	}

	a.logger.InfoContext(ctx, "archive pass complete",
		slog.Time("cutoff", cutoff),
		slog.Int64("rounds", rounds),
		slog.Int64("audit_entries", audits),
	)
	if rounds+audits > 0 {
		msg := fmt.Sprintf("archived %d rounds and %d audit entries before %s", rounds, audits, cutoff.Format("2006-01-02"))
		if err := deps.Notifier.Notify(ctx, notify.EventArchive, "Archive complete", msg); err != nil {
			a.logger.WarnContext(ctx, "archive notification failed", slog.String("error", err.Error()))
		}
	}
	return nil
}
