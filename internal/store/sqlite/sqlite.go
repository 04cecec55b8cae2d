package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roomrelay/relayd/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS uploads (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	filename   TEXT NOT NULL,
	uploader   TEXT NOT NULL,
	room       TEXT NOT NULL DEFAULT '',
	size       INTEGER NOT NULL,
	sha256     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_uploads_filename ON uploads(filename);
`

// SQLiteStore implements store.UploadStore on a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordUpload inserts a new ledger row for a persisted upload.
func (s *SQLiteStore) RecordUpload(ctx context.Context, up store.Upload) (*store.Upload, error) {
	query := `
		INSERT INTO uploads (filename, uploader, room, size, sha256)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, up.Filename, up.Uploader, up.Room, up.Size, up.SHA256)
	if err != nil {
		return nil, fmt.Errorf("insert upload: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.getByID(ctx, id)
}

// GetUpload returns the newest ledger row for a filename.
func (s *SQLiteStore) GetUpload(ctx context.Context, filename string) (*store.Upload, error) {
	query := `
		SELECT id, filename, uploader, room, size, sha256, created_at
		FROM uploads
		WHERE filename = ?
		ORDER BY id DESC
		LIMIT 1
	`
	up, err := scanUpload(s.db.QueryRowContext(ctx, query, filename))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("select upload: %w", err)
	}
	return up, nil
}

// ListUploads returns every ledger row, newest first.
func (s *SQLiteStore) ListUploads(ctx context.Context) ([]store.Upload, error) {
	query := `
		SELECT id, filename, uploader, room, size, sha256, created_at
		FROM uploads
		ORDER BY id DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select uploads: %w", err)
	}
	defer rows.Close()

	var uploads []store.Upload
	for rows.Next() {
		up, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		uploads = append(uploads, *up)
	}
	return uploads, rows.Err()
}

func (s *SQLiteStore) getByID(ctx context.Context, id int64) (*store.Upload, error) {
	query := `
		SELECT id, filename, uploader, room, size, sha256, created_at
		FROM uploads
		WHERE id = ?
	`
	up, err := scanUpload(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("select upload by id: %w", err)
	}
	return up, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUpload(row scanner) (*store.Upload, error) {
	var up store.Upload
	if err := row.Scan(&up.ID, &up.Filename, &up.Uploader, &up.Room, &up.Size, &up.SHA256, &up.CreatedAt); err != nil {
		return nil, err
	}
	return &up, nil
}
