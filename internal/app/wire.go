package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/coinflip/internal/blob/s3"
	"github.com/alanyoungcy/coinflip/internal/cache/redis"
	"github.com/alanyoungcy/coinflip/internal/config"
	"github.com/alanyoungcy/coinflip/internal/domain"
	"github.com/alanyoungcy/coinflip/internal/engine"
	"github.com/alanyoungcy/coinflip/internal/notify"
	"github.com/alanyoungcy/coinflip/internal/oracle"
	"github.com/alanyoungcy/coinflip/internal/service"
	"github.com/alanyoungcy/coinflip/internal/store/memory"
	"github.com/alanyoungcy/coinflip/internal/store/postgres"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function. Redis-backed
// components and the archiver are nil when not configured.
type Dependencies struct {
	// Persistence
	Store      domain.Store
	Seeder     domain.GenesisSeeder
	AuditStore domain.AuditStore

	// Redis
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	Nonces      domain.NonceStore

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Oracle   domain.ResolutionOracle
	Notifier *notify.Notifier
	Engine   *engine.Engine
	Game     *service.GameService
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources. Genesis allocations are
// credited before Wire returns.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Persistence ---
	switch cfg.Store.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		store := pgClient.Store()
		deps.Store = store
		deps.Seeder = store
		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
	default:
		store := memory.New()
		deps.Store = store
		deps.Seeder = store
		deps.AuditStore = store.AuditLog()
	}

	// --- Redis ---
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		var err error
		redisClient, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBusWithMaxLen(redisClient, cfg.Redis.StreamMaxLen)
		deps.Nonces = redis.NewNonceStore(redisClient)
	} else {
		deps.Nonces = memory.NewNonceSet()
	}

	// --- Oracle ---
	switch cfg.Oracle.Kind {
	case "random":
		deps.Oracle = oracle.NewRandom()
	case "redis":
		if redisClient == nil {
			return fail(fmt.Errorf("wire: oracle: kind redis requires redis"))
		}
		o := redis.NewCounterOracle(redisClient, cfg.Oracle.Key)
		if err := o.Seed(ctx, cfg.Oracle.Base); err != nil {
			return fail(fmt.Errorf("wire: oracle: %w", err))
		}
		deps.Oracle = o
	default:
		deps.Oracle = oracle.NewCounter(cfg.Oracle.Base)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Game ---
	stake, err := cfg.Game.StakeUnits()
	if err != nil {
		return fail(fmt.Errorf("wire: game stake: %w", err))
	}
	bond, err := cfg.Game.BondUnits()
	if err != nil {
		return fail(fmt.Errorf("wire: game bond: %w", err))
	}
	bigWin, err := cfg.Notify.BigWinUnits()
	if err != nil {
		return fail(fmt.Errorf("wire: big win threshold: %w", err))
	}
	deps.Engine = engine.New(engine.Params{
		Stake:         stake,
		BootstrapBond: bond,
		Pool:          domain.PoolIdentity(cfg.Game.PoolSeed),
	}, deps.Oracle, logger)
	deps.Game = service.NewGameService(
		deps.Store,
		deps.Engine,
		deps.SignalBus,
		deps.Notifier,
		bigWin,
		logger,
	)

	allocs, err := cfg.Ledger.Allocations()
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	if err := deps.Game.SeedGenesis(ctx, deps.Seeder, allocs); err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	// --- S3 archive ---
	if cfg.ArchiveEnabled() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.BlobReader, deps.Game, deps.AuditStore, logger)
	}

	return deps, cleanup, nil
}
