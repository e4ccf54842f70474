package engine

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/coinflip/internal/domain"
)

// PlayRequest places a stake on a prediction for a player account.
type PlayRequest struct {
	Caller       domain.Identity
	PlayerID     string
	Prediction   domain.Prediction
	Stake        uint64
	FeeRecipient domain.Identity
}

// Settlement is the outcome of a settled round.
type Settlement struct {
	Account domain.PlayerAccount
	Round   domain.Round
	Config  domain.GlobalConfig
}

// PlayRound settles one round. Preconditions are checked in order and the
// first failure is returned: ownership, stake denomination, no pending
// reward, caller balance above the stake, pool balance above twice the
// stake, the declared fee recipient, and the prediction value.
//
// On success the stake moves to the pool and the fee to the fee recipient.
// A win records a claimable reward of twice the stake; nothing is paid out
// until ClaimReward.
func (e *Engine) PlayRound(ctx context.Context, tx domain.Tx, req PlayRequest) (Settlement, error) {
	acct, err := tx.Players().Get(ctx, req.PlayerID)
	if err != nil {
		return Settlement{}, fmt.Errorf("engine: play round: %w", err)
	}
	cfg, err := tx.Config().Get(ctx)
	if err != nil {
		return Settlement{}, fmt.Errorf("engine: play round: %w", err)
	}

	if err := requireOwner(req.Caller, acct); err != nil {
		return Settlement{}, fmt.Errorf("engine: play round: %w", err)
	}
	if req.Stake != e.params.Stake {
		return Settlement{}, fmt.Errorf("engine: play round: stake %d: %w", req.Stake, domain.ErrInvalidDeposit)
	}
	if acct.HasPendingReward {
		return Settlement{}, fmt.Errorf("engine: play round: %w", domain.ErrPendingRewardMustBeClaimed)
	}
	callerBalance, err := tx.Ledger().Balance(ctx, req.Caller)
	if err != nil {
		return Settlement{}, fmt.Errorf("engine: play round: caller balance: %w", err)
	}
	if !exceeds(callerBalance, req.Stake, 1) {
		return Settlement{}, fmt.Errorf("engine: play round: %w", domain.ErrInsufficientUserBalance)
	}
	poolBalance, err := tx.Ledger().Balance(ctx, e.params.Pool)
	if err != nil {
		return Settlement{}, fmt.Errorf("engine: play round: pool balance: %w", err)
	}
	if !exceeds(poolBalance, req.Stake, 2) {
		return Settlement{}, fmt.Errorf("engine: play round: %w", domain.ErrInsufficientRewardVault)
	}
	if req.FeeRecipient != cfg.FeeRecipient {
		return Settlement{}, fmt.Errorf("engine: play round: %w", domain.ErrInvalidRewardVault)
	}
	if !req.Prediction.Valid() {
		return Settlement{}, fmt.Errorf("engine: play round: %d: %w", req.Prediction, domain.ErrInvalidPrediction)
	}

	fee, err := computeFee(req.Stake, cfg.FeeRateMilli)
	if err != nil {
		return Settlement{}, fmt.Errorf("engine: play round: %w", err)
	}
	if _, err := tx.Ledger().Transfer(ctx, req.Caller, e.params.Pool, req.Stake); err != nil {
		return Settlement{}, fmt.Errorf("engine: play round: deposit: %w", err)
	}
	// A fee recipient playing pays the fee to itself.
	if req.Caller != cfg.FeeRecipient {
		if _, err := tx.Ledger().Transfer(ctx, req.Caller, cfg.FeeRecipient, fee); err != nil {
			return Settlement{}, fmt.Errorf("engine: play round: fee: %w", err)
		}
	}

	counter, err := e.oracle.CurrentCounter(ctx)
	if err != nil {
		return Settlement{}, fmt.Errorf("engine: play round: oracle: %w", err)
	}
	resolution := counter % 2
	won := resolution == uint64(req.Prediction)
	var reward uint64
	if won {
		reward = 2 * req.Stake
	}

	now := e.now().UTC()
	round := domain.Round{
		ID:              e.newID(),
		PlayerID:        acct.ID,
		Owner:           acct.Owner,
		Stake:           req.Stake,
		Fee:             fee,
		Reward:          reward,
		Prediction:      req.Prediction,
		Counter:         counter,
		ResolutionValue: resolution,
		Won:             won,
		SettledAt:       now,
	}
	acct.LastRound = domain.RoundSnapshot{
		Timestamp:       now,
		Stake:           req.Stake,
		Reward:          reward,
		Prediction:      req.Prediction,
		ResolutionValue: resolution,
	}
	acct.LastRoundID = round.ID
	acct.HasPendingReward = reward > 0
	acct.UpdatedAt = now
	cfg.TotalRoundsPlayed++

	if err := tx.Players().Update(ctx, acct); err != nil {
		return Settlement{}, fmt.Errorf("engine: play round: %w", err)
	}
	if err := tx.Config().Update(ctx, cfg); err != nil {
		return Settlement{}, fmt.Errorf("engine: play round: %w", err)
	}
	if err := tx.Rounds().Append(ctx, round); err != nil {
		return Settlement{}, fmt.Errorf("engine: play round: %w", err)
	}
	return Settlement{Account: acct, Round: round, Config: cfg}, nil
}

// ClaimRequest claims the pending reward of a player account.
type ClaimRequest struct {
	Caller   domain.Identity
	PlayerID string
}

// Claim is the outcome of a reward claim.
type Claim struct {
	Account domain.PlayerAccount
	Paid    uint64
	RoundID string
}

// ClaimReward pays the pending reward from the pool to the owner and clears
// the pending flag. The pool must hold strictly more than the reward.
func (e *Engine) ClaimReward(ctx context.Context, tx domain.Tx, req ClaimRequest) (Claim, error) {
	acct, err := tx.Players().Get(ctx, req.PlayerID)
	if err != nil {
		return Claim{}, fmt.Errorf("engine: claim reward: %w", err)
	}
	if err := requireOwner(req.Caller, acct); err != nil {
		return Claim{}, fmt.Errorf("engine: claim reward: %w", err)
	}
	if !acct.HasPendingReward {
		return Claim{}, fmt.Errorf("engine: claim reward: %w", domain.ErrNoPendingReward)
	}
	reward := acct.LastRound.Reward
	poolBalance, err := tx.Ledger().Balance(ctx, e.params.Pool)
	if err != nil {
		return Claim{}, fmt.Errorf("engine: claim reward: pool balance: %w", err)
	}
	if !exceeds(poolBalance, reward, 1) {
		return Claim{}, fmt.Errorf("engine: claim reward: %w", domain.ErrInsufficientRewardVault)
	}

	now := e.now().UTC()
	if reward > 0 {
		if _, err := tx.Ledger().Transfer(ctx, e.params.Pool, req.Caller, reward); err != nil {
			return Claim{}, fmt.Errorf("engine: claim reward: payout: %w", err)
		}
		acct.LastRound.Reward = 0
	}
	acct.HasPendingReward = false
	acct.UpdatedAt = now
	if err := tx.Players().Update(ctx, acct); err != nil {
		return Claim{}, fmt.Errorf("engine: claim reward: %w", err)
	}
	if acct.LastRoundID != "" {
		if err := tx.Rounds().MarkClaimed(ctx, acct.LastRoundID, now); err != nil {
			return Claim{}, fmt.Errorf("engine: claim reward: %w", err)
		}
	}
	return Claim{Account: acct, Paid: reward, RoundID: acct.LastRoundID}, nil
}
