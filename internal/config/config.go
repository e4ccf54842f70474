// Package config defines the coinflip daemon configuration and its
// validation.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/coinflip/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by COINFLIP_* environment
// variables.
type Config struct {
	Game     GameConfig     `toml:"game"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Oracle   OracleConfig   `toml:"oracle"`
	Server   ServerConfig   `toml:"server"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// GameConfig holds the fixed game parameters. Amounts are whole-coin
// decimal strings.
type GameConfig struct {
	Stake         string `toml:"stake"`
	BootstrapBond string `toml:"bootstrap_bond"`
	PoolSeed      string `toml:"pool_seed"`
}

// LedgerConfig holds the opening balances credited at startup, keyed by
// address.
type LedgerConfig struct {
	Genesis map[string]string `toml:"genesis"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string `toml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	KeyPrefix    string `toml:"key_prefix"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// OracleConfig selects the resolution oracle. Base seeds the counter
// oracles; Key names the shared redis counter.
type OracleConfig struct {
	Kind string `toml:"kind"`
	Base uint64 `toml:"base"`
	Key  string `toml:"key"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	MaxClockSkew duration `toml:"max_clock_skew"`
	RateLimit    int      `toml:"rate_limit"`
	RateWindow   duration `toml:"rate_window"`
}

// ArchiveConfig controls the cold-storage archive job. Records older than
// Retention are archived; in full mode the job repeats every Interval.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Retention duration `toml:"retention"`
	Interval  duration `toml:"interval"`
	LockTTL   duration `toml:"lock_ttl"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	BigWinThreshold   string   `toml:"big_win_threshold"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Game: GameConfig{
			Stake:         "0.1",
			BootstrapBond: "1",
			PoolSeed:      "coinflip",
		},
		Store: StoreConfig{Backend: "memory"},
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			KeyPrefix:    "coinflip:",
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Oracle: OracleConfig{
			Kind: "random",
			Key:  "oracle:counter",
		},
		Server: ServerConfig{
			Port:         8080,
			MaxClockSkew: duration{5 * time.Minute},
			RateLimit:    120,
			RateWindow:   duration{time.Minute},
		},
		Archive: ArchiveConfig{
			Retention: duration{30 * 24 * time.Hour},
			Interval:  duration{24 * time.Hour},
			LockTTL:   duration{10 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"pool_withdrawn", "config_updated", "big_win"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"serve":   true,
	"archive": true,
	"full":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"memory":   true,
	"postgres": true,
}

var validOracles = map[string]bool{
	"counter": true,
	"random":  true,
	"redis":   true,
}

// StakeUnits returns the stake in base units.
func (g GameConfig) StakeUnits() (uint64, error) {
	return domain.ParseAmount(g.Stake)
}

// BondUnits returns the bootstrap bond in base units.
func (g GameConfig) BondUnits() (uint64, error) {
	return domain.ParseAmount(g.BootstrapBond)
}

// Allocations parses the genesis table, ordered by address.
func (l LedgerConfig) Allocations() ([]domain.Allocation, error) {
	out := make([]domain.Allocation, 0, len(l.Genesis))
	for addr, amount := range l.Genesis {
		id, err := domain.ParseIdentity(addr)
		if err != nil {
			return nil, fmt.Errorf("ledger.genesis: %w", err)
		}
		units, err := domain.ParseAmount(amount)
		if err != nil {
			return nil, fmt.Errorf("ledger.genesis %s: %w", addr, err)
		}
		out = append(out, domain.Allocation{Identity: id, Amount: units})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

// BigWinUnits returns the big-win notification threshold in base units, or
// zero when unset.
func (n NotifyConfig) BigWinUnits() (uint64, error) {
	if strings.TrimSpace(n.BigWinThreshold) == "" {
		return 0, nil
	}
	return domain.ParseAmount(n.BigWinThreshold)
}

// ArchiveEnabled reports whether this process runs the archive job.
func (c *Config) ArchiveEnabled() bool {
	return c.Mode == "archive" || (c.Mode == "full" && c.Archive.Enabled)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[c.Mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if stake, err := c.Game.StakeUnits(); err != nil {
		errs = append(errs, "game: stake: "+err.Error())
	} else if stake == 0 {
		errs = append(errs, "game: stake must be > 0")
	}
	if _, err := c.Game.BondUnits(); err != nil {
		errs = append(errs, "game: bootstrap_bond: "+err.Error())
	}
	if strings.TrimSpace(c.Game.PoolSeed) == "" {
		errs = append(errs, "game: pool_seed must not be empty")
	}
	if _, err := c.Ledger.Allocations(); err != nil {
		errs = append(errs, err.Error())
	}

	if !validBackends[c.Store.Backend] {
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: memory, postgres)", c.Store.Backend))
	}
	if c.Store.Backend == "postgres" {
		if c.Postgres.DSN == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}
	if c.Store.Backend == "memory" && c.Mode == "archive" {
		errs = append(errs, "store: archive mode needs a persistent backend")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if !validOracles[c.Oracle.Kind] {
		errs = append(errs, fmt.Sprintf("oracle: unknown kind %q (valid: counter, random, redis)", c.Oracle.Kind))
	}
	if c.Oracle.Kind == "redis" {
		if !c.Redis.Enabled {
			errs = append(errs, "oracle: kind redis requires redis.enabled")
		}
		if c.Oracle.Key == "" {
			errs = append(errs, "oracle: key must not be empty for kind redis")
		}
	}

	if c.Mode != "archive" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.MaxClockSkew.Duration <= 0 {
			errs = append(errs, "server: max_clock_skew must be > 0")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if c.ArchiveEnabled() {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.Archive.Retention.Duration <= 0 {
			errs = append(errs, "archive: retention must be > 0")
		}
		if c.Mode == "full" && c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.Archive.LockTTL.Duration <= 0 {
			errs = append(errs, "archive: lock_ttl must be > 0")
		}
	}

	if _, err := c.Notify.BigWinUnits(); err != nil {
		errs = append(errs, "notify: big_win_threshold: "+err.Error())
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
