package domain

import "context"

// Receipt records the balances on both sides of a transfer.
type Receipt struct {
	From       Identity `json:"from"`
	To         Identity `json:"to"`
	Amount     uint64   `json:"amount"`
	FromBefore uint64   `json:"from_before"`
	FromAfter  uint64   `json:"from_after"`
	ToBefore   uint64   `json:"to_before"`
	ToAfter    uint64   `json:"to_after"`
}

// Ledger moves value between identities. Transfer fails with
// ErrInsufficientFunds when from cannot cover amount and with ErrSameAccount
// when from equals to. A zero amount is a successful no-op.
type Ledger interface {
	Balance(ctx context.Context, id Identity) (uint64, error)
	Transfer(ctx context.Context, from, to Identity, amount uint64) (Receipt, error)
}

// ResolutionOracle supplies the value a round is resolved against.
type ResolutionOracle interface {
	CurrentCounter(ctx context.Context) (uint64, error)
}
