package domain

import "time"

// PermilleDenominator is the denominator of FeeRateMilli.
const PermilleDenominator = 1000

// GlobalConfig is the singleton game configuration.
type GlobalConfig struct {
	Admin             Identity  `json:"admin"`
	FeeRecipient      Identity  `json:"fee_recipient"`
	FeeRateMilli      uint64    `json:"fee_rate"`
	TotalRoundsPlayed uint64    `json:"total_rounds_played"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Prediction is the binary outcome a player bets on.
type Prediction uint8

const (
	PredictionTails Prediction = 0
	PredictionHeads Prediction = 1
)

// Valid reports whether p is one of the two outcomes.
func (p Prediction) Valid() bool {
	return p == PredictionTails || p == PredictionHeads
}

func (p Prediction) String() string {
	switch p {
	case PredictionTails:
		return "tails"
	case PredictionHeads:
		return "heads"
	default:
		return "invalid"
	}
}

// RoundSnapshot is the outcome of a player's most recent round.
type RoundSnapshot struct {
	Timestamp       time.Time  `json:"timestamp"`
	Stake           uint64     `json:"stake"`
	Reward          uint64     `json:"reward"`
	Prediction      Prediction `json:"prediction"`
	ResolutionValue uint64     `json:"resolution_value"`
}

// PlayerAccount is a player's game state. Owner never changes after creation.
type PlayerAccount struct {
	ID               string        `json:"id"`
	Owner            Identity      `json:"owner"`
	HasPendingReward bool          `json:"has_pending_reward"`
	LastRound        RoundSnapshot `json:"last_round"`
	LastRoundID      string        `json:"last_round_id,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Round is an entry of the append-only round journal.
type Round struct {
	ID              string     `json:"id"`
	PlayerID        string     `json:"player_id"`
	Owner           Identity   `json:"owner"`
	Stake           uint64     `json:"stake"`
	Fee             uint64     `json:"fee"`
	Reward          uint64     `json:"reward"`
	Prediction      Prediction `json:"prediction"`
	Counter         uint64     `json:"counter"`
	ResolutionValue uint64     `json:"resolution_value"`
	Won             bool       `json:"won"`
	SettledAt       time.Time  `json:"settled_at"`
	ClaimedAt       *time.Time `json:"claimed_at,omitempty"`
}

// Allocation credits an identity with an opening ledger balance.
type Allocation struct {
	Identity Identity
	Amount   uint64
}
