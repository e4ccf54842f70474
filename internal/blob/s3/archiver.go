package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/coinflip/internal/domain"
)

// RoundArchiveStore lists journaled rounds settled before a cutoff.
type RoundArchiveStore interface {
	ListRoundsBefore(ctx context.Context, before time.Time) ([]domain.Round, error)
}

// Archiver implements domain.Archiver. Records are grouped by the month of
// their own timestamp and written as JSONL to archive/<kind>/YYYY-MM.jsonl.
// Only months that ended before the cutoff are written, and a month whose
// object already exists, or appears while it is being written, is skipped. Archived rows are not deleted from the
// primary store.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	rounds RoundArchiveStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	rounds RoundArchiveStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		rounds: rounds,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveRounds uploads rounds settled before the cutoff and returns how
// many were written.
func (a *Archiver) ArchiveRounds(ctx context.Context, before time.Time) (int64, error) {
	rounds, err := a.rounds.ListRoundsBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive rounds query: %w", err)
	}
	months := groupByMonth(rounds, func(r domain.Round) time.Time { return r.SettledAt })
	return a.archive(ctx, "rounds", before, months)
}

// ArchiveAudit uploads audit entries created before the cutoff and returns
// how many were written.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	months := groupByMonth(entries, func(e domain.AuditEntry) time.Time { return e.CreatedAt })
	return a.archive(ctx, "audit", before, months)
}

func (a *Archiver) archive(ctx context.Context, kind string, before time.Time, months map[string][]any) (int64, error) {
	cutoffMonth := before.UTC().Format("2006-01")
	keys := make([]string, 0, len(months))
	for month := range months {
		if month < cutoffMonth {
			keys = append(keys, month)
		}
	}
	sort.Strings(keys)

	var total int64
	for _, month := range keys {
		records := months[month]
		path := domain.ArchiveObject{Kind: kind, Month: month}.Path()
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive %s: %w", kind, err)
		}
		if exists {
			a.logger.DebugContext(ctx, "archive object exists, skipping", slog.String("path", path))
			continue
		}

		buf, err := marshalJSONL(records)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
		}
		err = a.writer.WriteArchive(ctx, domain.ArchiveObject{
			Kind:    kind,
			Month:   month,
			Records: len(records),
			Data:    buf,
		})
		if errors.Is(err, domain.ErrBlobExists) {
			a.logger.InfoContext(ctx, "archive object written concurrently, skipping", slog.String("path", path))
			continue
		}
		if err != nil {
			return total, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
		}
		total += int64(len(records))
		a.logger.InfoContext(ctx, "archived",
			slog.String("path", path),
			slog.Int("count", len(records)),
		)
	}

	if total == 0 {
		return 0, nil
	}
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"count":  total,
		"months": keys,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return total, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return total, nil
}

func groupByMonth[T any](records []T, at func(T) time.Time) map[string][]any {
	months := make(map[string][]any)
	for _, rec := range records {
		month := at(rec).UTC().Format("2006-01")
		months[month] = append(months[month], rec)
	}
	return months
}

// marshalJSONL encodes each record as one compact JSON line.
func marshalJSONL(records []any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
