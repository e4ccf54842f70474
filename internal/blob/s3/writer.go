package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/coinflip/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"

	// multipartThreshold is the encoded month size above which the upload
	// manager splits the object into parts of partSize.
	multipartThreshold = 16 << 20
	partSize           = 8 << 20
)

// Writer implements domain.BlobWriter. Small months are written with a
// conditional PutObject (If-None-Match: *) so two archivers racing on the
// same month cannot overwrite each other; S3 rejects the loser with 412.
// Multipart uploads cannot be conditional on every provider, so large months
// check for an existing object first.
type Writer struct {
	client    *s3.Client
	bucket    string
	threshold int
	exists    func(ctx context.Context, path string) (bool, error)
}

// NewWriter creates a Writer on the client's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client:    c.S3(),
		bucket:    c.Bucket(),
		threshold: multipartThreshold,
		exists:    NewReader(c).Exists,
	}
}

// WriteArchive uploads obj as JSONL tagged with its kind, month and record
// count. It returns domain.ErrBlobExists when the month is already stored.
func (w *Writer) WriteArchive(ctx context.Context, obj domain.ArchiveObject) error {
	path := obj.Path()
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(obj.Data),
		ContentType: aws.String(jsonlContentType),
		Metadata:    archiveMetadata(obj),
	}

	if len(obj.Data) <= w.threshold {
		input.IfNoneMatch = aws.String("*")
		_, err := w.client.PutObject(ctx, input)
		if isPreconditionFailed(err) {
			return fmt.Errorf("s3blob: write %s: %w", path, domain.ErrBlobExists)
		}
		if err != nil {
			return fmt.Errorf("s3blob: write %s: %w", path, err)
		}
		return nil
	}

	exists, err := w.exists(ctx, path)
	if err != nil {
		return fmt.Errorf("s3blob: write %s: %w", path, err)
	}
	if exists {
		return fmt.Errorf("s3blob: write %s: %w", path, domain.ErrBlobExists)
	}
	uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
		u.PartSize = partSize
	})
	if _, err := uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("s3blob: multipart write %s: %w", path, err)
	}
	return nil
}

// archiveMetadata becomes x-amz-meta-* headers so an object can be
// identified without downloading it.
func archiveMetadata(obj domain.ArchiveObject) map[string]string {
	return map[string]string{
		"kind":    obj.Kind,
		"month":   obj.Month,
		"records": strconv.Itoa(obj.Records),
	}
}

func isPreconditionFailed(err error) bool {
	var httpErr interface{ HTTPStatusCode() int }
	return errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == http.StatusPreconditionFailed
}

var _ domain.BlobWriter = (*Writer)(nil)
