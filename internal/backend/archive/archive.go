// Package archive is an in-memory netdisk backend. Every FS opened on a
// Store sees the same tree; the Store can be snapshotted into a host
// container format or a file.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/tonimelisma/netdisk-go/internal/netdisk"
	"github.com/tonimelisma/netdisk-go/internal/pathutil"
)

// Name identifies this backend in errors and logs.
const Name = "archive"

// FS is a directory of a Store.
type FS struct {
	store  *Store
	label  string
	base   string
	logger *slog.Logger
}

// New returns an FS on store rooted at basePath. label names the archive in
// DirURL; it is typically the file the store is saved to.
func New(store *Store, label, basePath string, logger *slog.Logger) *FS {
	if logger == nil {
		logger = slog.Default()
	}

	return &FS{
		store:  store,
		label:  label,
		base:   pathutil.Normalize(basePath),
		logger: logger.With(slog.String("backend", Name)),
	}
}

// Store returns the shared tree.
func (f *FS) Store() *Store { return f.store }

// BasePath implements netdisk.FileSystem.
func (f *FS) BasePath() string { return f.base }

// OpenDir implements netdisk.FileSystem.
func (f *FS) OpenDir(p string) netdisk.FileSystem {
	child := *f
	child.base = pathutil.Join(f.base, p)

	return &child
}

// Verify implements netdisk.FileSystem: the base must be a directory.
func (f *FS) Verify(_ context.Context) error {
	if _, err := f.store.list(f.base); err != nil {
		return fmt.Errorf("archive: verifying %s: %w", f.base, err)
	}

	return nil
}

// List implements netdisk.FileSystem.
func (f *FS) List(ctx context.Context) ([]netdisk.FileInfo, error) {
	return netdisk.Files(f.Entries(ctx))
}

// Entries implements netdisk.FileSystem.
func (f *FS) Entries(ctx context.Context) ([]netdisk.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return f.store.list(f.base)
}

// Open implements netdisk.FileSystem.
func (f *FS) Open(info netdisk.FileInfo) netdisk.Reader {
	p := info.Path
	if p == "" {
		p = pathutil.Join(f.base, info.Name)
	}

	return &reader{fs: f, path: pathutil.Normalize(p)}
}

type reader struct {
	fs   *FS
	path string
}

func (r *reader) Read(ctx context.Context, mode netdisk.Mode) (netdisk.Content, error) {
	if err := ctx.Err(); err != nil {
		return netdisk.Content{}, err
	}

	data, err := r.fs.store.read(r.path)
	if err != nil {
		return netdisk.Content{}, err
	}

	return netdisk.NewContent(mode, data), nil
}

// Create implements netdisk.FileSystem.
func (f *FS) Create(p string) netdisk.Writer {
	return &writer{fs: f, path: pathutil.Join(f.base, p)}
}

type writer struct {
	fs   *FS
	path string
}

// Write replaces the file. The parent directory must exist.
func (w *writer) Write(ctx context.Context, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := w.fs.store.write(w.path, content); err != nil {
		return err
	}

	w.fs.logger.Debug("stored", slog.String("path", w.path), slog.Int("bytes", len(content)))

	return nil
}

// CreateDir implements netdisk.FileSystem.
func (f *FS) CreateDir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return f.store.mkdir(pathutil.Join(f.base, p))
}

// Delete implements netdisk.FileSystem. A missing path is success.
func (f *FS) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	full := pathutil.Join(f.base, p)
	if pathutil.IsRoot(full) {
		return fmt.Errorf("archive: refusing to delete the root: %w", netdisk.ErrNotSupported)
	}

	if f.store.remove(full) {
		f.logger.Debug("deleted", slog.String("path", full))
	}

	return nil
}

// DirURL implements netdisk.FileSystem with an archive:// URL.
func (f *FS) DirURL(_ context.Context) (string, error) {
	u := url.URL{Scheme: "archive", Path: f.label, Fragment: f.base}

	return u.String(), nil
}
