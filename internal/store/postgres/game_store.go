package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/coinflip/internal/domain"
)

// configRepo implements domain.ConfigRepo on the single-row global_config
// table.
type configRepo struct{ u *unit }

func (r configRepo) Get(ctx context.Context) (domain.GlobalConfig, error) {
	var (
		cfg                domain.GlobalConfig
		admin, recipient   string
		rate, roundsPlayed int64
	)
	err := r.u.q.QueryRow(ctx, `
		SELECT admin, fee_recipient, fee_rate_milli, total_rounds_played, created_at, updated_at
		FROM global_config WHERE id = 1`+r.u.lock(),
	).Scan(&admin, &recipient, &rate, &roundsPlayed, &cfg.CreatedAt, &cfg.UpdatedAt)
	if isNoRows(err) {
		return domain.GlobalConfig{}, domain.ErrNotInitialized
	}
	if err != nil {
		return domain.GlobalConfig{}, fmt.Errorf("postgres: get config: %w", err)
	}
	cfg.Admin = domain.Identity(admin)
	cfg.FeeRecipient = domain.Identity(recipient)
	cfg.FeeRateMilli = uint64(rate)
	cfg.TotalRoundsPlayed = uint64(roundsPlayed)
	return cfg, nil
}

func (r configRepo) Create(ctx context.Context, cfg domain.GlobalConfig) error {
	rate, err := toBigint(cfg.FeeRateMilli)
	if err != nil {
		return fmt.Errorf("postgres: create config: %w", err)
	}
	tag, err := r.u.q.Exec(ctx, `
		INSERT INTO global_config (id, admin, fee_recipient, fee_rate_milli, total_rounds_played, created_at, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		cfg.Admin.String(), cfg.FeeRecipient.String(), rate, int64(cfg.TotalRoundsPlayed),
		cfg.CreatedAt, cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyInitialized
	}
	return nil
}

func (r configRepo) Update(ctx context.Context, cfg domain.GlobalConfig) error {
	rate, err := toBigint(cfg.FeeRateMilli)
	if err != nil {
		return fmt.Errorf("postgres: update config: %w", err)
	}
	tag, err := r.u.q.Exec(ctx, `
		UPDATE global_config
		SET admin = $1, fee_recipient = $2, fee_rate_milli = $3, total_rounds_played = $4, updated_at = $5
		WHERE id = 1`,
		cfg.Admin.String(), cfg.FeeRecipient.String(), rate, int64(cfg.TotalRoundsPlayed), cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotInitialized
	}
	return nil
}

// playerRepo implements domain.PlayerRepo on player_accounts.
type playerRepo struct{ u *unit }

const playerColumns = `id, owner, has_pending_reward, last_round_id, last_timestamp,
	last_stake, last_reward, last_prediction, last_resolution, created_at, updated_at`

func (r playerRepo) Create(ctx context.Context, acct domain.PlayerAccount) error {
	_, err := r.u.q.Exec(ctx, `
		INSERT INTO player_accounts (`+playerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		playerArgs(acct)...,
	)
	if err != nil {
		return fmt.Errorf("postgres: create player %s: %w", acct.ID, err)
	}
	return nil
}

func (r playerRepo) Get(ctx context.Context, id string) (domain.PlayerAccount, error) {
	row := r.u.q.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM player_accounts WHERE id = $1`+r.u.lock(), id)
	acct, err := scanPlayer(row)
	if isNoRows(err) {
		return domain.PlayerAccount{}, fmt.Errorf("postgres: player %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.PlayerAccount{}, fmt.Errorf("postgres: get player %s: %w", id, err)
	}
	return acct, nil
}

func (r playerRepo) Update(ctx context.Context, acct domain.PlayerAccount) error {
	tag, err := r.u.q.Exec(ctx, `
		UPDATE player_accounts
		SET owner = $2, has_pending_reward = $3, last_round_id = $4, last_timestamp = $5,
			last_stake = $6, last_reward = $7, last_prediction = $8, last_resolution = $9,
			created_at = $10, updated_at = $11
		WHERE id = $1`,
		playerArgs(acct)...,
	)
	if err != nil {
		return fmt.Errorf("postgres: update player %s: %w", acct.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: player %s: %w", acct.ID, domain.ErrNotFound)
	}
	return nil
}

func (r playerRepo) ListByOwner(ctx context.Context, owner domain.Identity) ([]domain.PlayerAccount, error) {
	rows, err := r.u.q.Query(ctx,
		`SELECT `+playerColumns+` FROM player_accounts WHERE owner = $1 ORDER BY created_at`,
		owner.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list players of %s: %w", owner, err)
	}
	defer rows.Close()

	var out []domain.PlayerAccount
	for rows.Next() {
		acct, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan player: %w", err)
		}
		out = append(out, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list players rows: %w", err)
	}
	return out, nil
}

func playerArgs(acct domain.PlayerAccount) []any {
	var lastTS *time.Time
	if !acct.LastRound.Timestamp.IsZero() {
		ts := acct.LastRound.Timestamp
		lastTS = &ts
	}
	return []any{
		acct.ID, acct.Owner.String(), acct.HasPendingReward, acct.LastRoundID, lastTS,
		int64(acct.LastRound.Stake), int64(acct.LastRound.Reward),
		int16(acct.LastRound.Prediction), int64(acct.LastRound.ResolutionValue),
		acct.CreatedAt, acct.UpdatedAt,
	}
}

func scanPlayer(row pgx.Row) (domain.PlayerAccount, error) {
	var (
		acct                      domain.PlayerAccount
		owner                     string
		lastTS                    *time.Time
		stake, reward, resolution int64
		prediction                int16
	)
	err := row.Scan(
		&acct.ID, &owner, &acct.HasPendingReward, &acct.LastRoundID, &lastTS,
		&stake, &reward, &prediction, &resolution,
		&acct.CreatedAt, &acct.UpdatedAt,
	)
	if err != nil {
		return domain.PlayerAccount{}, err
	}
	acct.Owner = domain.Identity(owner)
	if lastTS != nil {
		acct.LastRound.Timestamp = lastTS.UTC()
	}
	acct.LastRound.Stake = uint64(stake)
	acct.LastRound.Reward = uint64(reward)
	acct.LastRound.Prediction = domain.Prediction(prediction)
	acct.LastRound.ResolutionValue = uint64(resolution)
	return acct, nil
}

// roundRepo implements domain.RoundRepo on the rounds journal.
type roundRepo struct{ u *unit }

const roundColumns = `id, player_id, owner, stake, fee, reward, prediction, counter,
	resolution_value, won, settled_at, claimed_at`

func (r roundRepo) Append(ctx context.Context, round domain.Round) error {
	_, err := r.u.q.Exec(ctx, `
		INSERT INTO rounds (`+roundColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		round.ID, round.PlayerID, round.Owner.String(),
		int64(round.Stake), int64(round.Fee), int64(round.Reward),
		int16(round.Prediction), strconv.FormatUint(round.Counter, 10),
		int64(round.ResolutionValue), round.Won, round.SettledAt, round.ClaimedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append round %s: %w", round.ID, err)
	}
	return nil
}

func (r roundRepo) MarkClaimed(ctx context.Context, id string, at time.Time) error {
	tag, err := r.u.q.Exec(ctx, `UPDATE rounds SET claimed_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("postgres: mark round %s claimed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: round %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (r roundRepo) ListByPlayer(ctx context.Context, playerID string, opts domain.ListOpts) ([]domain.Round, error) {
	return r.list(ctx, "player_id = $1", []any{playerID}, opts)
}

func (r roundRepo) List(ctx context.Context, opts domain.ListOpts) ([]domain.Round, error) {
	return r.list(ctx, "TRUE", nil, opts)
}

func (r roundRepo) list(ctx context.Context, where string, args []any, opts domain.ListOpts) ([]domain.Round, error) {
	query, args := paged(`SELECT `+roundColumns+` FROM rounds WHERE `+where, args, "settled_at", opts)
	rows, err := r.u.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rounds: %w", err)
	}
	defer rows.Close()

	var out []domain.Round
	for rows.Next() {
		var (
			round                          domain.Round
			owner, counter                 string
			stake, fee, reward, resolution int64
			prediction                     int16
		)
		if err := rows.Scan(
			&round.ID, &round.PlayerID, &owner, &stake, &fee, &reward,
			&prediction, &counter, &resolution, &round.Won, &round.SettledAt, &round.ClaimedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan round: %w", err)
		}
		round.Owner = domain.Identity(owner)
		round.Stake = uint64(stake)
		round.Fee = uint64(fee)
		round.Reward = uint64(reward)
		round.Prediction = domain.Prediction(prediction)
		round.ResolutionValue = uint64(resolution)
		if round.Counter, err = strconv.ParseUint(counter, 10, 64); err != nil {
			return nil, fmt.Errorf("postgres: parse round counter %q: %w", counter, err)
		}
		out = append(out, round)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list rounds rows: %w", err)
	}
	return out, nil
}

