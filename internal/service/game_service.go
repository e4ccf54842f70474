// Package service runs game operations as store units of work, recording an
// audit entry in the same unit, and fans the committed results out to the
// signal bus and notifiers.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/coinflip/internal/domain"
	"github.com/alanyoungcy/coinflip/internal/engine"
	"github.com/alanyoungcy/coinflip/internal/notify"
)

// Event is the JSON envelope published on the signal bus.
type Event struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

// ConfigView is the public game configuration. Config is nil before
// bootstrap.
type ConfigView struct {
	Initialized   bool                 `json:"initialized"`
	Config        *domain.GlobalConfig `json:"config,omitempty"`
	Stake         uint64               `json:"stake"`
	BootstrapBond uint64               `json:"bootstrap_bond"`
	Pool          domain.Identity      `json:"pool"`
	PoolBalance   uint64               `json:"pool_balance"`
}

// GameService is the entry point for every game operation. The bus and
// notifier are optional.
type GameService struct {
	store    domain.Store
	engine   *engine.Engine
	bus      domain.SignalBus
	notifier *notify.Notifier
	bigWin   uint64
	logger   *slog.Logger
}

// NewGameService creates a GameService. Wins paying at least bigWin are
// reported to the notifier; zero disables those notifications.
func NewGameService(
	store domain.Store,
	eng *engine.Engine,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	bigWin uint64,
	logger *slog.Logger,
) *GameService {
	return &GameService{
		store:    store,
		engine:   eng,
		bus:      bus,
		notifier: notifier,
		bigWin:   bigWin,
		logger:   logger.With(slog.String("component", "game_service")),
	}
}

// Bootstrap creates the global configuration and funds the pool.
func (s *GameService) Bootstrap(ctx context.Context, req engine.BootstrapRequest) (domain.GlobalConfig, error) {
	var cfg domain.GlobalConfig
	err := s.store.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		if cfg, err = s.engine.BootstrapConfig(ctx, tx, req); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, "config_bootstrapped", map[string]any{
			"admin":         cfg.Admin.String(),
			"fee_recipient": cfg.FeeRecipient.String(),
			"fee_rate":      cfg.FeeRateMilli,
			"bond":          s.engine.Params().BootstrapBond,
		})
	})
	if err != nil {
		return domain.GlobalConfig{}, fmt.Errorf("game_service: bootstrap: %w", err)
	}

	s.publish(ctx, domain.ChannelAdmin, "config_bootstrapped", cfg)
	s.logger.InfoContext(ctx, "config bootstrapped",
		slog.String("admin", cfg.Admin.String()),
		slog.Uint64("fee_rate", cfg.FeeRateMilli),
	)
	return cfg, nil
}

// UpdateConfig replaces the admin, fee recipient and fee rate.
func (s *GameService) UpdateConfig(ctx context.Context, req engine.UpdateRequest) (domain.GlobalConfig, error) {
	var before, after domain.GlobalConfig
	err := s.store.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		if before, err = tx.Config().Get(ctx); err != nil {
			return err
		}
		if after, err = s.engine.UpdateConfig(ctx, tx, req); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, "config_updated", map[string]any{
			"caller":            req.Caller.String(),
			"old_admin":         before.Admin.String(),
			"admin":             after.Admin.String(),
			"old_fee_recipient": before.FeeRecipient.String(),
			"fee_recipient":     after.FeeRecipient.String(),
			"old_fee_rate":      before.FeeRateMilli,
			"fee_rate":          after.FeeRateMilli,
		})
	})
	if err != nil {
		return domain.GlobalConfig{}, fmt.Errorf("game_service: update config: %w", err)
	}

	s.publish(ctx, domain.ChannelAdmin, "config_updated", after)
	s.notify(ctx, notify.EventConfigUpdated, "Config updated", fmt.Sprintf(
		"admin %s, fee recipient %s, fee rate %d/1000",
		after.Admin, after.FeeRecipient, after.FeeRateMilli,
	))
	s.logger.InfoContext(ctx, "config updated",
		slog.String("admin", after.Admin.String()),
		slog.String("fee_recipient", after.FeeRecipient.String()),
		slog.Uint64("fee_rate", after.FeeRateMilli),
	)
	return after, nil
}

// Register creates a player account owned by owner.
func (s *GameService) Register(ctx context.Context, owner domain.Identity) (domain.PlayerAccount, error) {
	var acct domain.PlayerAccount
	err := s.store.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		if acct, err = s.engine.RegisterPlayer(ctx, tx, owner); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, "player_registered", map[string]any{
			"player_id": acct.ID,
			"owner":     acct.Owner.String(),
		})
	})
	if err != nil {
		return domain.PlayerAccount{}, fmt.Errorf("game_service: register: %w", err)
	}

	s.logger.InfoContext(ctx, "player registered",
		slog.String("player_id", acct.ID),
		slog.String("owner", acct.Owner.String()),
	)
	return acct, nil
}

// Play settles one round for a player account.
func (s *GameService) Play(ctx context.Context, req engine.PlayRequest) (engine.Settlement, error) {
	var st engine.Settlement
	err := s.store.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		if st, err = s.engine.PlayRound(ctx, tx, req); err != nil {
			return err
		}
		r := st.Round
		return tx.Audit().Record(ctx, "round_settled", map[string]any{
			"round_id":   r.ID,
			"player_id":  r.PlayerID,
			"owner":      r.Owner.String(),
			"stake":      r.Stake,
			"fee":        r.Fee,
			"prediction": r.Prediction.String(),
			"resolution": r.ResolutionValue,
			"won":        r.Won,
			"reward":     r.Reward,
		})
	})
	if err != nil {
		return engine.Settlement{}, fmt.Errorf("game_service: play: %w", err)
	}

	r := st.Round
	s.publish(ctx, domain.ChannelRounds, "round_settled", r)
	s.appendStream(ctx, "round_settled", r)
	if r.Won && s.bigWin > 0 && r.Reward >= s.bigWin {
		s.notify(ctx, notify.EventBigWin, "Big win", fmt.Sprintf(
			"player %s (%s) won %s on %s",
			r.PlayerID, r.Owner, domain.FormatAmount(r.Reward), r.Prediction,
		))
	}
	s.logger.InfoContext(ctx, "round settled",
		slog.String("round_id", r.ID),
		slog.String("player_id", r.PlayerID),
		slog.Uint64("stake", r.Stake),
		slog.Uint64("fee", r.Fee),
		slog.Bool("won", r.Won),
		slog.Uint64("reward", r.Reward),
	)
	return st, nil
}

// Claim pays out the pending reward of a player account.
func (s *GameService) Claim(ctx context.Context, req engine.ClaimRequest) (engine.Claim, error) {
	var c engine.Claim
	err := s.store.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		if c, err = s.engine.ClaimReward(ctx, tx, req); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, "reward_claimed", claimPayload(c))
	})
	if err != nil {
		return engine.Claim{}, fmt.Errorf("game_service: claim: %w", err)
	}

	payload := claimPayload(c)
	s.publish(ctx, domain.ChannelClaims, "reward_claimed", payload)
	s.appendStream(ctx, "reward_claimed", payload)
	s.logger.InfoContext(ctx, "reward claimed",
		slog.String("player_id", c.Account.ID),
		slog.String("round_id", c.RoundID),
		slog.Uint64("paid", c.Paid),
	)
	return c, nil
}

// Withdraw moves value from the pool to the admin or fee recipient.
func (s *GameService) Withdraw(ctx context.Context, req engine.AdminWithdrawRequest) (domain.Receipt, error) {
	var receipt domain.Receipt
	err := s.store.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		if receipt, err = s.engine.AdminWithdraw(ctx, tx, req); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, "pool_withdrawn", map[string]any{
			"caller":       req.Caller.String(),
			"amount":       receipt.Amount,
			"pool_balance": receipt.FromAfter,
		})
	})
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("game_service: withdraw: %w", err)
	}

	s.publish(ctx, domain.ChannelAdmin, "pool_withdrawn", receipt)
	s.notify(ctx, notify.EventPoolWithdrawn, "Pool withdrawn", fmt.Sprintf(
		"%s withdrew %s, pool now holds %s",
		req.Caller, domain.FormatAmount(receipt.Amount), domain.FormatAmount(receipt.FromAfter),
	))
	s.logger.InfoContext(ctx, "pool withdrawn",
		slog.String("caller", req.Caller.String()),
		slog.Uint64("amount", receipt.Amount),
		slog.Uint64("pool_balance", receipt.FromAfter),
	)
	return receipt, nil
}

// GetConfig returns the configuration with the game parameters and the
// current pool balance.
func (s *GameService) GetConfig(ctx context.Context) (ConfigView, error) {
	params := s.engine.Params()
	view := ConfigView{
		Stake:         params.Stake,
		BootstrapBond: params.BootstrapBond,
		Pool:          params.Pool,
	}
	err := s.store.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		cfg, err := tx.Config().Get(ctx)
		switch {
		case err == nil:
			view.Initialized = true
			view.Config = &cfg
		case !errors.Is(err, domain.ErrNotInitialized):
			return err
		}
		view.PoolBalance, err = tx.Ledger().Balance(ctx, params.Pool)
		return err
	})
	if err != nil {
		return ConfigView{}, fmt.Errorf("game_service: get config: %w", err)
	}
	return view, nil
}

// PoolBalance returns the pool identity and its balance.
func (s *GameService) PoolBalance(ctx context.Context) (domain.Identity, uint64, error) {
	pool := s.engine.Params().Pool
	bal, err := s.Balance(ctx, pool)
	if err != nil {
		return "", 0, err
	}
	return pool, bal, nil
}

// Balance returns the ledger balance of id.
func (s *GameService) Balance(ctx context.Context, id domain.Identity) (uint64, error) {
	var bal uint64
	err := s.store.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		bal, err = tx.Ledger().Balance(ctx, id)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("game_service: balance %s: %w", id, err)
	}
	return bal, nil
}

// GetPlayer returns a player account.
func (s *GameService) GetPlayer(ctx context.Context, id string) (domain.PlayerAccount, error) {
	var acct domain.PlayerAccount
	err := s.store.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		acct, err = tx.Players().Get(ctx, id)
		return err
	})
	if err != nil {
		return domain.PlayerAccount{}, fmt.Errorf("game_service: get player: %w", err)
	}
	return acct, nil
}

// ListPlayers returns the accounts owned by owner.
func (s *GameService) ListPlayers(ctx context.Context, owner domain.Identity) ([]domain.PlayerAccount, error) {
	var accts []domain.PlayerAccount
	err := s.store.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		accts, err = tx.Players().ListByOwner(ctx, owner)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("game_service: list players: %w", err)
	}
	return accts, nil
}

// ListRounds returns a player's journaled rounds, newest first.
func (s *GameService) ListRounds(ctx context.Context, playerID string, opts domain.ListOpts) ([]domain.Round, error) {
	var rounds []domain.Round
	err := s.store.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Players().Get(ctx, playerID); err != nil {
			return err
		}
		var err error
		rounds, err = tx.Rounds().ListByPlayer(ctx, playerID, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("game_service: list rounds: %w", err)
	}
	return rounds, nil
}

// ListRoundsBefore returns every round settled at or before the cutoff.
func (s *GameService) ListRoundsBefore(ctx context.Context, before time.Time) ([]domain.Round, error) {
	var rounds []domain.Round
	err := s.store.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		rounds, err = tx.Rounds().List(ctx, domain.ListOpts{Until: &before})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("game_service: list rounds before %s: %w", before.Format(time.RFC3339), err)
	}
	return rounds, nil
}

// SeedGenesis credits opening balances to identities that hold none.
func (s *GameService) SeedGenesis(ctx context.Context, seeder domain.GenesisSeeder, allocs []domain.Allocation) error {
	if len(allocs) == 0 {
		return nil
	}
	n, err := seeder.Seed(ctx, allocs)
	if err != nil {
		return fmt.Errorf("game_service: seed genesis: %w", err)
	}
	s.logger.InfoContext(ctx, "genesis seeded",
		slog.Int("allocations", len(allocs)),
		slog.Int("credited", n),
	)
	return nil
}

func (s *GameService) publish(ctx context.Context, channel, typ string, data any) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(Event{Type: typ, At: time.Now().UTC(), Data: data})
	if err != nil {
		s.logger.WarnContext(ctx, "marshal event failed", slog.String("type", typ), slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", channel),
			slog.String("type", typ),
			slog.String("error", err.Error()),
		)
	}
}

func (s *GameService) appendStream(ctx context.Context, typ string, data any) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(Event{Type: typ, At: time.Now().UTC(), Data: data})
	if err != nil {
		return
	}
	if err := s.bus.StreamAppend(ctx, domain.StreamSettlements, payload); err != nil {
		s.logger.WarnContext(ctx, "stream append failed",
			slog.String("type", typ),
			slog.String("error", err.Error()),
		)
	}
}

func claimPayload(c engine.Claim) map[string]any {
	return map[string]any{
		"player_id": c.Account.ID,
		"owner":     c.Account.Owner.String(),
		"round_id":  c.RoundID,
		"paid":      c.Paid,
	}
}

func (s *GameService) notify(ctx context.Context, event, title, msg string) {
	if err := s.notifier.Notify(ctx, event, title, msg); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
