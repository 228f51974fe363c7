package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// FileStore keeps the checkpoint as a decimal number in a text file.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore backed by path. The file need not exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (int64, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("checkpoint: read %s: %w", s.path, err)
	}
	return parseEpoch(string(data))
}

// Save writes to a temp file in the same directory and renames it over the
// target so a failed write leaves the old value intact.
func (s *FileStore) Save(epoch int64) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("checkpoint: create temp in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	// CreateTemp uses 0600; other tooling reads this file.
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint: chmod: %w", err)
	}
	if _, err := tmp.WriteString(strconv.FormatInt(epoch, 10)); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("checkpoint: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("checkpoint: rename: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
