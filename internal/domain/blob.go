package domain

import (
	"context"
	"fmt"
	"time"
)

// ArchiveObject is one month of archived records encoded as JSON lines.
type ArchiveObject struct {
	Kind    string // "rounds" or "audit"
	Month   string // YYYY-MM
	Records int
	Data    []byte
}

// Path returns the object key, e.g. archive/rounds/2026-01.jsonl.
func (o ArchiveObject) Path() string {
	return fmt.Sprintf("archive/%s/%s.jsonl", o.Kind, o.Month)
}

// BlobWriter stores archive objects. Objects are written once:
// WriteArchive returns ErrBlobExists when the path is already taken.
type BlobWriter interface {
	WriteArchive(ctx context.Context, obj ArchiveObject) error
}

// BlobReader inspects object storage.
type BlobReader interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves settled history to cold storage.
type Archiver interface {
	ArchiveRounds(ctx context.Context, before time.Time) (int64, error)
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
}
