package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/coinflip/internal/domain"
)

// AuditLog implements domain.AuditStore in memory. A Store feeds it the
// entries of committed units; Log adds standalone entries directly.
type AuditLog struct {
	mu      sync.Mutex
	nextID  int64
	entries []domain.AuditEntry
	now     func() time.Time
}

// NewAuditLog creates an empty AuditLog.
func NewAuditLog() *AuditLog {
	return &AuditLog{now: time.Now}
}

// Log appends a standalone entry.
func (a *AuditLog) Log(_ context.Context, event string, detail map[string]any) error {
	a.append(domain.AuditEntry{Event: event, Detail: detail})
	return nil
}

// append assigns ids and timestamps in commit order.
func (a *AuditLog) append(entries ...domain.AuditEntry) {
	if len(entries) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now().UTC()
	for _, e := range entries {
		a.nextID++
		e.ID = a.nextID
		e.CreatedAt = now
		a.entries = append(a.entries, e)
	}
}

// List returns entries newest first.
func (a *AuditLog) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]domain.AuditEntry, 0, len(a.entries))
	for i := len(a.entries) - 1; i >= 0; i-- {
		out = append(out, a.entries[i])
	}
	return page(out, func(e domain.AuditEntry) time.Time { return e.CreatedAt }, opts), nil
}

// auditRepo stages entries on the unit until it commits.
type auditRepo struct{ t *tx }

func (r auditRepo) Record(_ context.Context, event string, detail map[string]any) error {
	if err := r.t.writable("record audit " + event); err != nil {
		return err
	}
	if event == "" {
		return fmt.Errorf("memory: record audit: empty event")
	}
	r.t.audit = append(r.t.audit, domain.AuditEntry{Event: event, Detail: detail})
	return nil
}
