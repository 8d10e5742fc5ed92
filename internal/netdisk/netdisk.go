// Package netdisk defines the capability contract every storage backend
// implements: verify, list, read, write, create directories, delete, and
// produce a browsable URL, all addressed by slash-separated paths relative
// to the instance's base path.
package netdisk

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// MaxPages bounds every paginated listing. A listing that would need more
// pages fails with ErrPaginationOverrun instead of looping forever.
const MaxPages = 100

// FileInfo describes one entry returned by List or Entries.
type FileInfo struct {
	// ID is the provider's opaque identifier, or the path when the provider
	// addresses items by path.
	ID string
	// Name is the last path segment.
	Name string
	// Path is the full normalized path from the backend root.
	Path string
	// Size in bytes; 0 for directories.
	Size uint64
	// Digest is a provider content hash when available.
	Digest string
	// IsDir reports whether the entry is a folder. Only Entries returns
	// folders.
	IsDir      bool
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// CreatedMillis returns CreatedAt as epoch milliseconds.
func (f FileInfo) CreatedMillis() int64 { return f.CreatedAt.UnixMilli() }

// ModifiedMillis returns ModifiedAt as epoch milliseconds.
func (f FileInfo) ModifiedMillis() int64 { return f.ModifiedAt.UnixMilli() }

// Millis truncates t to millisecond precision in UTC, the precision
// FileInfo timestamps carry.
func Millis(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}

	return time.UnixMilli(t.UnixMilli()).UTC()
}

// Mode selects how Read interprets file content.
type Mode int

const (
	// ModeText decodes content as UTF-8; invalid sequences become U+FFFD.
	ModeText Mode = iota
	// ModeBinary returns content byte-for-byte.
	ModeBinary
)

func (m Mode) String() string {
	if m == ModeBinary {
		return "binary"
	}

	return "text"
}

// Content is what Read returns.
type Content struct {
	Mode Mode
	Data []byte
}

// NewContent builds Content for mode, sanitizing text.
func NewContent(mode Mode, data []byte) Content {
	if mode == ModeText {
		data = []byte(strings.ToValidUTF8(string(data), "\uFFFD"))
	}

	return Content{Mode: mode, Data: data}
}

// Text returns the content as a string.
func (c Content) Text() string { return string(c.Data) }

// Bytes returns the raw content.
func (c Content) Bytes() []byte { return c.Data }

// FileSystem is one backend instance rooted at BasePath.
// Paths passed to it are relative to BasePath.
type FileSystem interface {
	// Verify checks the backend is reachable and the credentials work.
	Verify(ctx context.Context) error
	// Open returns a Reader for a file previously returned by List.
	Open(file FileInfo) Reader
	// OpenDir returns a child instance rooted at BasePath/path. Children
	// share credentials, caches, and rate limiting with their parent.
	OpenDir(path string) FileSystem
	// Create returns a Writer that replaces the file at path.
	Create(path string) Writer
	// CreateDir creates the directory at path. Creating an existing
	// directory succeeds.
	CreateDir(ctx context.Context, path string) error
	// Delete removes the file or directory at path. Deleting something
	// that does not exist succeeds.
	Delete(ctx context.Context, path string) error
	// List returns the files directly under BasePath. Folders, folder
	// placeholders and BasePath itself are never included.
	List(ctx context.Context) ([]FileInfo, error)
	// Entries returns the direct children of BasePath, files and folders,
	// with IsDir set on folders. BasePath itself is never included.
	Entries(ctx context.Context) ([]FileInfo, error)
	// DirURL returns a URL a person can open to browse BasePath.
	DirURL(ctx context.Context) (string, error)
	// BasePath is the normalized root of this instance.
	BasePath() string
}

// Reader reads a single file.
type Reader interface {
	Read(ctx context.Context, mode Mode) (Content, error)
}

// Writer replaces a single file's content.
type Writer interface {
	Write(ctx context.Context, content []byte) error
}

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ReadText reads r in text mode.
func ReadText(ctx context.Context, r Reader) (string, error) {
	c, err := r.Read(ctx, ModeText)
	if err != nil {
		return "", err
	}

	return c.Text(), nil
}

// ReadBytes reads r in binary mode.
func ReadBytes(ctx context.Context, r Reader) ([]byte, error) {
	c, err := r.Read(ctx, ModeBinary)
	if err != nil {
		return nil, err
	}

	return c.Bytes(), nil
}

// WriteString writes s through w.
func WriteString(ctx context.Context, w Writer, s string) error {
	return w.Write(ctx, []byte(s))
}

// ParseTime parses raw with the first matching layout (RFC 3339 when none
// are given) and returns it at millisecond precision in UTC. Unparseable or
// empty input yields the zero time.
func ParseTime(raw string, layouts ...string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	if len(layouts) == 0 {
		layouts = []string{time.RFC3339Nano}
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return Millis(t)
		}
	}

	return time.Time{}
}
