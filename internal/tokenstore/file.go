package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the token directory.
const DirPerms = 0o700

var keyReplacer = strings.NewReplacer(":", "_", "/", "_", "\\", "_")

// FileKV stores one file per key under Dir. Writes are atomic.
type FileKV struct {
	Dir string
}

// NewFileKV returns a FileKV rooted at dir.
func NewFileKV(dir string) *FileKV {
	return &FileKV{Dir: dir}
}

func (f *FileKV) path(key string) string {
	return filepath.Join(f.Dir, keyReplacer.Replace(key)+".json")
}

// Get implements KV.
func (f *FileKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", f.path(key), err)
	}

	return data, true, nil
}

// Set implements KV. The value is written to a temp file in the same
// directory, synced, and renamed over the final path.
func (f *FileKV) Set(_ context.Context, key string, value []byte) error {
	if err := os.MkdirAll(f.Dir, DirPerms); err != nil {
		return fmt.Errorf("creating directory %s: %w", f.Dir, err)
	}

	tmp, err := os.CreateTemp(f.Dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing: %w", err)
	}

	if err := os.Rename(tmpPath, f.path(key)); err != nil {
		return fmt.Errorf("renaming: %w", err)
	}

	success = true

	return nil
}

// Delete implements KV.
func (f *FileKV) Delete(_ context.Context, key string) error {
	err := os.Remove(f.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", f.path(key), err)
	}

	return nil
}
