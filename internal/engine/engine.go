// Package engine implements the coinflip round lifecycle: configuration
// bootstrap, player registration, settlement, deferred reward claims and
// administrative pool withdrawals.
//
// Every operation runs against a domain.Tx supplied by the caller. The engine
// performs no locking of its own and assumes the store linearizes units of
// work; a returned error means the caller must discard the unit.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/coinflip/internal/domain"
)

// Params holds the fixed game parameters.
type Params struct {
	// Stake is the single accepted deposit denomination, in base units.
	Stake uint64
	// BootstrapBond is transferred from the admin into the pool when the
	// configuration is created.
	BootstrapBond uint64
	// Pool is the reward pool custody identity.
	Pool domain.Identity
}

// Engine applies game operations to a unit of work.
type Engine struct {
	params Params
	oracle domain.ResolutionOracle
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for round and account timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides the generator of account and round IDs.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// New creates an Engine.
func New(params Params, oracle domain.ResolutionOracle, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		params: params,
		oracle: oracle,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: logger.With(slog.String("component", "engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Params returns the engine's game parameters.
func (e *Engine) Params() Params { return e.params }

// BootstrapRequest creates the global configuration.
type BootstrapRequest struct {
	Caller       domain.Identity
	FeeRecipient domain.Identity
	FeeRateMilli uint64
}

// BootstrapConfig creates the GlobalConfig singleton with the caller as admin
// and funds the pool with the bootstrap bond from the caller.
func (e *Engine) BootstrapConfig(ctx context.Context, tx domain.Tx, req BootstrapRequest) (domain.GlobalConfig, error) {
	if req.FeeRecipient.IsZero() {
		return domain.GlobalConfig{}, fmt.Errorf("engine: bootstrap: fee recipient: %w", domain.ErrInvalidIdentity)
	}
	if req.FeeRateMilli > domain.PermilleDenominator {
		return domain.GlobalConfig{}, fmt.Errorf("engine: bootstrap: rate %d: %w", req.FeeRateMilli, domain.ErrInvalidFeeRate)
	}
	if _, err := tx.Config().Get(ctx); err == nil {
		return domain.GlobalConfig{}, fmt.Errorf("engine: bootstrap: %w", domain.ErrAlreadyInitialized)
	} else if !isNotInitialized(err) {
		return domain.GlobalConfig{}, fmt.Errorf("engine: bootstrap: load config: %w", err)
	}

	now := e.now().UTC()
	cfg := domain.GlobalConfig{
		Admin:        req.Caller,
		FeeRecipient: req.FeeRecipient,
		FeeRateMilli: req.FeeRateMilli,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := tx.Ledger().Transfer(ctx, req.Caller, e.params.Pool, e.params.BootstrapBond); err != nil {
		return domain.GlobalConfig{}, fmt.Errorf("engine: bootstrap: fund pool: %w", err)
	}
	if err := tx.Config().Create(ctx, cfg); err != nil {
		return domain.GlobalConfig{}, fmt.Errorf("engine: bootstrap: %w", err)
	}
	return cfg, nil
}

// UpdateRequest replaces the mutable configuration fields. A nil NewAdmin
// keeps the current admin.
type UpdateRequest struct {
	Caller       domain.Identity
	NewAdmin     *domain.Identity
	FeeRecipient domain.Identity
	FeeRateMilli uint64
}

// UpdateConfig replaces the admin, fee recipient and fee rate. The fee rate
// is not bounded; rates above PermilleDenominator are accepted and logged.
func (e *Engine) UpdateConfig(ctx context.Context, tx domain.Tx, req UpdateRequest) (domain.GlobalConfig, error) {
	cfg, err := tx.Config().Get(ctx)
	if err != nil {
		return domain.GlobalConfig{}, fmt.Errorf("engine: update config: %w", err)
	}
	if err := requireAdmin(req.Caller, cfg); err != nil {
		return domain.GlobalConfig{}, fmt.Errorf("engine: update config: %w", err)
	}
	if req.FeeRecipient.IsZero() {
		return domain.GlobalConfig{}, fmt.Errorf("engine: update config: fee recipient: %w", domain.ErrInvalidIdentity)
	}
	if req.NewAdmin != nil {
		if req.NewAdmin.IsZero() {
			return domain.GlobalConfig{}, fmt.Errorf("engine: update config: new admin: %w", domain.ErrInvalidIdentity)
		}
		cfg.Admin = *req.NewAdmin
	}
	if req.FeeRateMilli > domain.PermilleDenominator {
		e.logger.WarnContext(ctx, "fee rate exceeds the stake",
			slog.Uint64("fee_rate", req.FeeRateMilli),
		)
	}
	cfg.FeeRecipient = req.FeeRecipient
	cfg.FeeRateMilli = req.FeeRateMilli
	cfg.UpdatedAt = e.now().UTC()
	if err := tx.Config().Update(ctx, cfg); err != nil {
		return domain.GlobalConfig{}, fmt.Errorf("engine: update config: %w", err)
	}
	return cfg, nil
}

// RegisterPlayer creates a zeroed player account owned by owner.
func (e *Engine) RegisterPlayer(ctx context.Context, tx domain.Tx, owner domain.Identity) (domain.PlayerAccount, error) {
	if owner.IsZero() {
		return domain.PlayerAccount{}, fmt.Errorf("engine: register player: %w", domain.ErrInvalidIdentity)
	}
	now := e.now().UTC()
	acct := domain.PlayerAccount{
		ID:        e.newID(),
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.Players().Create(ctx, acct); err != nil {
		return domain.PlayerAccount{}, fmt.Errorf("engine: register player: %w", err)
	}
	return acct, nil
}

// AdminWithdrawRequest moves value out of the pool to the caller.
type AdminWithdrawRequest struct {
	Caller domain.Identity
	Amount uint64
}

// AdminWithdraw transfers Amount from the pool to the caller, who must be
// the admin or the fee recipient. The pool balance is bounded only by the
// ledger's own insufficient-funds rejection.
func (e *Engine) AdminWithdraw(ctx context.Context, tx domain.Tx, req AdminWithdrawRequest) (domain.Receipt, error) {
	cfg, err := tx.Config().Get(ctx)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("engine: admin withdraw: %w", err)
	}
	if err := requireAdminOrFeeRecipient(req.Caller, cfg); err != nil {
		return domain.Receipt{}, fmt.Errorf("engine: admin withdraw: %w", err)
	}
	if req.Amount == 0 {
		return domain.Receipt{}, fmt.Errorf("engine: admin withdraw: %w", domain.ErrInvalidAmount)
	}
	receipt, err := tx.Ledger().Transfer(ctx, e.params.Pool, req.Caller, req.Amount)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("engine: admin withdraw: %w", err)
	}
	return receipt, nil
}
