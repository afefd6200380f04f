package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Local implements Archive on top of the local filesystem. All keys are
// resolved relative to the configured root directory.
type Local struct {
	root string
}

// NewLocal creates a Local archive rooted at dir. The directory is created
// (with parents) if it does not already exist.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, errors.New("archive: local directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute root directory.
func (l *Local) Root() string {
	return l.root
}

func (l *Local) resolve(key string) (string, error) {
	k, ok := cleanKey(key)
	if !ok {
		return "", fmt.Errorf("archive: invalid key %q", key)
	}
	return filepath.Join(l.root, filepath.FromSlash(k)), nil
}

// Put writes data to a temporary file and renames it over the target, so
// readers never observe a partial object.
func (l *Local) Put(_ context.Context, key string, data []byte) error {
	full, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	f, err := os.CreateTemp(filepath.Dir(full), ".put-*")
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	return nil
}

// Get reads the named file.
func (l *Local) Get(_ context.Context, key string) ([]byte, error) {
	full, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("archive: get %s: %w", key, err)
	}
	return data, nil
}

// Exists reports whether the named file exists.
func (l *Local) Exists(_ context.Context, key string) (bool, error) {
	full, err := l.resolve(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("archive: stat %s: %w", key, err)
}

var _ Archive = (*Local)(nil)
