package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// NewFileSystemSpool creates a spool that keeps entries as files in dir.
// Leftovers from an earlier run are removed. A maxSize of zero or less
// means no cap.
func NewFileSystemSpool(dir string, maxSize int64) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}
	stale, err := filepath.Glob(filepath.Join(dir, "spool-*"))
	if err != nil {
		return nil, err
	}
	for _, p := range stale {
		os.Remove(p)
	}
	return &Spool{store: &dirStore{dir: dir}, maxSize: maxSize}, nil
}

type dirStore struct {
	dir string
}

func (d *dirStore) Create() (string, io.WriteCloser, error) {
	f, err := os.CreateTemp(d.dir, "spool-*")
	if err != nil {
		return "", nil, err
	}
	return f.Name(), f, nil
}

func (d *dirStore) Open(id string) (io.ReadCloser, error) {
	return os.Open(id)
}

func (d *dirStore) Remove(id string) {
	os.Remove(id)
}
