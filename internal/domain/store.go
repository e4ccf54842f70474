package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Store runs units of work. Atomic commits every effect of fn or none of
// them; View runs fn against a read-only snapshot.
type Store interface {
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx exposes the repositories of a single unit of work.
type Tx interface {
	Ledger() Ledger
	Config() ConfigRepo
	Players() PlayerRepo
	Rounds() RoundRepo
	Audit() AuditRepo
}

// ConfigRepo persists the GlobalConfig singleton. Get returns
// ErrNotInitialized before Create; Create returns ErrAlreadyInitialized after.
type ConfigRepo interface {
	Get(ctx context.Context) (GlobalConfig, error)
	Create(ctx context.Context, cfg GlobalConfig) error
	Update(ctx context.Context, cfg GlobalConfig) error
}

// PlayerRepo persists player accounts.
type PlayerRepo interface {
	Create(ctx context.Context, acct PlayerAccount) error
	Get(ctx context.Context, id string) (PlayerAccount, error)
	Update(ctx context.Context, acct PlayerAccount) error
	ListByOwner(ctx context.Context, owner Identity) ([]PlayerAccount, error)
}

// RoundRepo persists the round journal. Rounds are listed newest first.
type RoundRepo interface {
	Append(ctx context.Context, round Round) error
	MarkClaimed(ctx context.Context, id string, at time.Time) error
	ListByPlayer(ctx context.Context, playerID string, opts ListOpts) ([]Round, error)
	List(ctx context.Context, opts ListOpts) ([]Round, error)
}

// GenesisSeeder credits opening balances to identities that have none yet
// and reports how many were credited.
type GenesisSeeder interface {
	Seed(ctx context.Context, allocs []Allocation) (int, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditRepo appends audit entries inside a unit of work. An entry becomes
// visible only if the unit commits.
type AuditRepo interface {
	Record(ctx context.Context, event string, detail map[string]any) error
}

// AuditStore reads the committed audit log. Log appends an entry that is
// not tied to a game operation, such as archive bookkeeping.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
