package disk

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/roomrelay/relayd/internal/store"
)

// Store keeps upload blobs as plain files inside a single directory.
// Names are flattened to their base component so a crafted filename can
// never escape the directory.
type Store struct {
	dir string
}

// New ensures dir exists and returns a blob store over it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes data under name atomically: a temp file in the same
// directory is renamed over the target, so readers never observe a
// half-written blob.
func (s *Store) Save(name string, data []byte) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename blob: %w", err)
	}
	return nil
}

// Resolve returns the on-disk path of a stored blob.
func (s *Store) Resolve(name string) (string, error) {
	path, err := s.path(name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("stat blob: %w", err)
	}
	return path, nil
}

func (s *Store) path(name string) (string, error) {
	base := filepath.Base(filepath.Clean(name))
	if base == "" || base == "." || base == ".." || strings.HasPrefix(base, ".upload-") {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	return filepath.Join(s.dir, base), nil
}
