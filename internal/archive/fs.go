package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FS archives payloads as files under a root directory.
type FS struct {
	root string
}

// NewFS creates the root directory if needed and returns an FS archiver.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("archive: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create root: %w", err)
	}
	return &FS{root: abs}, nil
}

// safePath resolves key against the root and rejects anything escaping it.
func (f *FS) safePath(key string) (string, error) {
	cleaned := filepath.Clean(key)
	if key == "" || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("archive: invalid key %q", key)
	}
	abs := filepath.Join(f.root, cleaned)
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive: key escapes root: %s", key)
	}
	return abs, nil
}

// Put atomically writes body: tmp file, fsync, rename.
func (f *FS) Put(_ context.Context, key string, body []byte) error {
	abs, err := f.safePath(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("archive: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".offbalance-tmp-*")
	if err != nil {
		return fmt.Errorf("archive: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(body); err != nil {
		return fmt.Errorf("archive: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("archive: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("archive: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("archive: rename: %w", err)
	}
	success = true
	return nil
}
