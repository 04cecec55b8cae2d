package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Upload is the ledger record for one persisted file upload.
type Upload struct {
	ID        int64
	Filename  string
	Uploader  string
	Room      string
	Size      int64
	SHA256    string
	CreatedAt time.Time
}

// UploadStore records metadata about persisted uploads. The relay writes a
// row per completed upload; the HTTP surface and downloadFile lookups read
// them back.
type UploadStore interface {
	// RecordUpload inserts a ledger row and returns it with ID and
	// timestamp filled in.
	RecordUpload(ctx context.Context, up Upload) (*Upload, error)
	// GetUpload returns the most recent record for a filename, or
	// ErrNotFound.
	GetUpload(ctx context.Context, filename string) (*Upload, error)
	// ListUploads returns all records, newest first.
	ListUploads(ctx context.Context) ([]Upload, error)
	Close() error
}

// BlobStore persists and resolves the raw upload bytes.
type BlobStore interface {
	// Save writes data under name, replacing any previous content.
	Save(name string, data []byte) error
	// Resolve returns the filesystem path for a stored name, or
	// ErrNotFound.
	Resolve(name string) (string, error)
}
