package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/coinflip/internal/domain"
)

// auditRepo writes audit_log rows through whatever querier its unit holds:
// the game transaction for Record, the pool for standalone entries.
type auditRepo struct{ u *unit }

// Record inserts an entry that commits or rolls back with the unit.
func (r auditRepo) Record(ctx context.Context, event string, detail map[string]any) error {
	if r.u.readOnly {
		return fmt.Errorf("postgres: record audit %s in read-only unit", event)
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit %s: %w", event, err)
	}
	if _, err := r.u.q.Exec(ctx,
		`INSERT INTO audit_log (event, detail) VALUES ($1, $2)`,
		event, detailJSON,
	); err != nil {
		return fmt.Errorf("postgres: record audit %s: %w", event, err)
	}
	return nil
}

func (r auditRepo) list(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := paged(`SELECT id, event, detail, created_at FROM audit_log WHERE TRUE`, nil, "created_at", opts)
	rows, err := r.u.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e   domain.AuditEntry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.Event, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: audit %d detail: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit rows: %w", err)
	}
	return out, nil
}

// AuditStore implements domain.AuditStore outside any game transaction.
// Game operations record their entries through Tx.Audit instead.
type AuditStore struct {
	repo auditRepo
}

// NewAuditStore creates an AuditStore that autocommits on pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{repo: auditRepo{&unit{q: pool}}}
}

// Log appends a standalone entry.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	return s.repo.Record(ctx, event, detail)
}

// List returns committed entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.repo.list(ctx, opts)
}

// paged appends the time window, newest-first ordering and limit/offset of
// opts to a query whose WHERE clause already binds args.
func paged(query string, args []any, timeCol string, opts domain.ListOpts) (string, []any) {
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if opts.Since != nil {
		query += " AND " + timeCol + " >= " + next(*opts.Since)
	}
	if opts.Until != nil {
		query += " AND " + timeCol + " <= " + next(*opts.Until)
	}
	query += " ORDER BY " + timeCol + " DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT " + next(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + next(opts.Offset)
	}
	return query, args
}

var (
	_ domain.AuditRepo  = auditRepo{}
	_ domain.AuditStore = (*AuditStore)(nil)
)
