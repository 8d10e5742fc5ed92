package netdisk

import (
	"context"

	"github.com/tonimelisma/netdisk-go/internal/ratelimit"
)

// Limit wraps fs so every remote operation, including those of children
// opened through OpenDir and of Readers and Writers it hands out, runs
// through l.
func Limit(fs FileSystem, l *ratelimit.Limiter) FileSystem {
	if l == nil {
		return fs
	}

	if lf, ok := fs.(*limitedFS); ok && lf.limiter == l {
		return fs
	}

	return &limitedFS{inner: fs, limiter: l}
}

type limitedFS struct {
	inner   FileSystem
	limiter *ratelimit.Limiter
}

func (f *limitedFS) Verify(ctx context.Context) error {
	return f.limiter.Do(ctx, "verify", f.inner.Verify)
}

func (f *limitedFS) Open(file FileInfo) Reader {
	return &limitedReader{inner: f.inner.Open(file), limiter: f.limiter, path: file.Path}
}

func (f *limitedFS) OpenDir(path string) FileSystem {
	return &limitedFS{inner: f.inner.OpenDir(path), limiter: f.limiter}
}

func (f *limitedFS) Create(path string) Writer {
	return &limitedWriter{inner: f.inner.Create(path), limiter: f.limiter, path: path}
}

func (f *limitedFS) CreateDir(ctx context.Context, path string) error {
	return f.limiter.Do(ctx, "mkdir "+path, func(ctx context.Context) error {
		return f.inner.CreateDir(ctx, path)
	})
}

func (f *limitedFS) Delete(ctx context.Context, path string) error {
	return f.limiter.Do(ctx, "delete "+path, func(ctx context.Context) error {
		return f.inner.Delete(ctx, path)
	})
}

func (f *limitedFS) List(ctx context.Context) ([]FileInfo, error) {
	return ratelimit.Call(ctx, f.limiter, "list "+f.inner.BasePath(), f.inner.List)
}

func (f *limitedFS) Entries(ctx context.Context) ([]FileInfo, error) {
	return ratelimit.Call(ctx, f.limiter, "entries "+f.inner.BasePath(), f.inner.Entries)
}

func (f *limitedFS) DirURL(ctx context.Context) (string, error) {
	return ratelimit.Call(ctx, f.limiter, "url "+f.inner.BasePath(), f.inner.DirURL)
}

func (f *limitedFS) BasePath() string { return f.inner.BasePath() }

type limitedReader struct {
	inner   Reader
	limiter *ratelimit.Limiter
	path    string
}

func (r *limitedReader) Read(ctx context.Context, mode Mode) (Content, error) {
	return ratelimit.Call(ctx, r.limiter, "read "+r.path, func(ctx context.Context) (Content, error) {
		return r.inner.Read(ctx, mode)
	})
}

type limitedWriter struct {
	inner   Writer
	limiter *ratelimit.Limiter
	path    string
}

func (w *limitedWriter) Write(ctx context.Context, content []byte) error {
	return w.limiter.Do(ctx, "write "+w.path, func(ctx context.Context) error {
		return w.inner.Write(ctx, content)
	})
}
