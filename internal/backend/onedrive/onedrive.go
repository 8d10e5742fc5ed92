// Package onedrive adapts Microsoft OneDrive (Graph API v1.0) to the
// netdisk capability contract.
package onedrive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tonimelisma/netdisk-go/internal/api"
	"github.com/tonimelisma/netdisk-go/internal/idcache"
	"github.com/tonimelisma/netdisk-go/internal/netdisk"
	"github.com/tonimelisma/netdisk-go/internal/pathutil"
)

// Name identifies this backend in errors, logs and the token store.
const Name = "onedrive"

// DefaultBaseURL is the Graph API root.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// listPageSize is the $top value for children requests; 200 is the Graph
// maximum for drive item collections.
const listPageSize = 200

// Options configures an FS.
type Options struct {
	BaseURL  string
	BasePath string
	Doer     netdisk.Doer
	Tokens   api.TokenSource
	Logger   *slog.Logger
	// ChunkSize is the upload-session chunk size. It is rounded down to a
	// multiple of 320 KiB; zero selects DefaultChunkSize.
	ChunkSize int
}

// FS is a OneDrive folder.
type FS struct {
	client    *api.Client
	baseURL   string
	base      string
	ids       *idcache.Cache
	chunkSize int
	logger    *slog.Logger
}

// New returns an FS rooted at opts.BasePath.
func New(opts Options) *FS {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &FS{
		client:    api.New(Name, opts.Doer, opts.Tokens, logger, api.WithErrorDecoder(decodeError)),
		baseURL:   baseURL,
		base:      pathutil.Normalize(opts.BasePath),
		ids:       idcache.New(),
		chunkSize: alignChunk(opts.ChunkSize),
		logger:    logger.With(slog.String("backend", Name)),
	}
}

// BasePath implements netdisk.FileSystem.
func (f *FS) BasePath() string { return f.base }

// OpenDir implements netdisk.FileSystem. The child shares the client and
// the id cache.
func (f *FS) OpenDir(p string) netdisk.FileSystem {
	child := *f
	child.base = pathutil.Join(f.base, p)

	return &child
}

// Verify implements netdisk.FileSystem.
func (f *FS) Verify(ctx context.Context) error {
	var d driveResponse
	if err := f.client.JSON(ctx, http.MethodGet, f.baseURL+"/me/drive", nil, &d); err != nil {
		return fmt.Errorf("onedrive: verifying drive access: %w", err)
	}

	f.logger.Debug("drive verified", slog.String("drive_type", d.DriveType))

	return nil
}

// itemURL addresses an item by its path from the drive root.
func (f *FS) itemURL(p string) string {
	rel := pathutil.Relative(p)
	if rel == "" {
		return f.baseURL + "/me/drive/root"
	}

	return f.baseURL + "/me/drive/root:/" + encodePathSegments(rel) + ":"
}

func (f *FS) getItem(ctx context.Context, p string) (*driveItem, error) {
	var item driveItem
	if err := f.client.JSON(ctx, http.MethodGet, f.itemURL(p), nil, &item); err != nil {
		return nil, err
	}

	f.ids.Put(p, item.ID)

	return &item, nil
}

// resolveID returns the item id for p, consulting the shared cache first.
func (f *FS) resolveID(ctx context.Context, p string) (string, error) {
	if id, ok := f.ids.Get(p); ok {
		return id, nil
	}

	item, err := f.getItem(ctx, p)
	if err != nil {
		return "", fmt.Errorf("onedrive: resolving %s: %w", p, err)
	}

	return item.ID, nil
}

// withID runs fn with the id of p. When a cached id draws a 404 the item was
// replaced behind our back: the cache under p is dropped and fn retried once
// with the id its path now has.
func (f *FS) withID(ctx context.Context, p string, fn func(id string) error) error {
	return f.ids.With(ctx, p, f.resolveID, func(err error) bool {
		if !netdisk.IsRemoteNotFound(err) {
			return false
		}

		f.logger.Debug("dropping stale cached id", slog.String("path", p))

		return true
	}, fn)
}

// List implements netdisk.FileSystem.
func (f *FS) List(ctx context.Context) ([]netdisk.FileInfo, error) {
	return netdisk.Files(f.Entries(ctx))
}

// Entries implements netdisk.FileSystem.
func (f *FS) Entries(ctx context.Context) ([]netdisk.FileInfo, error) {
	f.logger.Info("listing children", slog.String("path", f.base))

	var files []netdisk.FileInfo

	err := f.withID(ctx, f.base, func(dirID string) error {
		var err error
		files, err = f.children(ctx, dirID)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("onedrive: listing %s: %w", f.base, err)
	}

	return files, nil
}

// children follows the nextLink chain of dirID's children.
func (f *FS) children(ctx context.Context, dirID string) ([]netdisk.FileInfo, error) {
	next := fmt.Sprintf("%s/me/drive/items/%s/children?$top=%d", f.baseURL, url.PathEscape(dirID), listPageSize)
	pager := netdisk.NewPager(Name)

	var files []netdisk.FileInfo

	for next != "" {
		if err := pager.Next(); err != nil {
			return nil, err
		}

		var page childrenResponse
		if err := f.client.JSON(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, err
		}

		for i := range page.Value {
			item := &page.Value[i]
			if item.ID == dirID {
				continue
			}

			p := pathutil.Join(f.base, item.Name)
			f.ids.Put(p, item.ID)
			files = append(files, item.toFileInfo(p))
		}

		f.logger.Debug("fetched children page",
			slog.Int("page", pager.Pages()),
			slog.Int("count", len(page.Value)),
		)

		next = page.NextLink
	}

	return files, nil
}

// Open implements netdisk.FileSystem.
func (f *FS) Open(file netdisk.FileInfo) netdisk.Reader {
	p := file.Path
	if p == "" {
		p = pathutil.Join(f.base, file.Name)
	}

	return &reader{fs: f, path: pathutil.Normalize(p), id: file.ID}
}

type reader struct {
	fs   *FS
	path string
	id   string
}

func (r *reader) Read(ctx context.Context, mode netdisk.Mode) (netdisk.Content, error) {
	u := r.fs.itemURL(r.path) + "/content"
	if r.id != "" {
		u = r.fs.baseURL + "/me/drive/items/" + url.PathEscape(r.id) + "/content"
	}

	resp, err := r.fs.client.Do(ctx, &api.Request{Method: http.MethodGet, URL: u})
	if err != nil {
		return netdisk.Content{}, fmt.Errorf("onedrive: reading %s: %w", r.path, err)
	}

	r.fs.logger.Debug("downloaded", slog.String("path", r.path), slog.Int("bytes", len(resp.Body)))

	return netdisk.NewContent(mode, resp.Body), nil
}

// Create implements netdisk.FileSystem.
func (f *FS) Create(p string) netdisk.Writer {
	return &writer{fs: f, path: pathutil.Join(f.base, p)}
}

// CreateDir implements netdisk.FileSystem. An existing folder is success.
func (f *FS) CreateDir(ctx context.Context, p string) error {
	full := pathutil.Join(f.base, p)
	if pathutil.IsRoot(full) {
		return nil
	}

	body := createFolderRequest{
		Name:             pathutil.Base(full),
		Folder:           struct{}{},
		ConflictBehavior: "fail",
	}

	var item driveItem

	err := f.withID(ctx, pathutil.Parent(full), func(parentID string) error {
		return f.client.JSON(ctx, http.MethodPost,
			f.baseURL+"/me/drive/items/"+url.PathEscape(parentID)+"/children", body, &item)
	})
	if errors.Is(err, netdisk.ErrConflict) {
		f.logger.Debug("folder already exists", slog.String("path", full))
		return nil
	}

	if err != nil {
		return fmt.Errorf("onedrive: creating folder %s: %w", full, err)
	}

	f.ids.Put(full, item.ID)
	f.logger.Info("created folder", slog.String("path", full))

	return nil
}

// Delete implements netdisk.FileSystem. A missing item is success.
func (f *FS) Delete(ctx context.Context, p string) error {
	full := pathutil.Join(f.base, p)
	if pathutil.IsRoot(full) {
		return fmt.Errorf("onedrive: refusing to delete the drive root: %w", netdisk.ErrNotSupported)
	}

	_, err := f.client.Do(ctx, &api.Request{Method: http.MethodDelete, URL: f.itemURL(full)})
	f.ids.InvalidatePrefix(full)

	if netdisk.IsNotFound(err) {
		f.logger.Debug("delete target already absent", slog.String("path", full))
		return nil
	}

	if err != nil {
		return fmt.Errorf("onedrive: deleting %s: %w", full, err)
	}

	f.logger.Info("deleted", slog.String("path", full))

	return nil
}

// DirURL implements netdisk.FileSystem.
func (f *FS) DirURL(ctx context.Context) (string, error) {
	item, err := f.getItem(ctx, f.base)
	if err != nil {
		return "", fmt.Errorf("onedrive: resolving URL for %s: %w", f.base, err)
	}

	return item.WebURL, nil
}

// encodePathSegments URL-encodes each segment of a slash-separated path.
func encodePathSegments(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return strings.Join(segments, "/")
}

// decodeError reads the Graph error envelope.
func decodeError(status int, body []byte) (string, string) {
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if json.Unmarshal(body, &env) == nil && env.Error.Code != "" {
		return env.Error.Code, env.Error.Message
	}

	return "", strings.TrimSpace(http.StatusText(status) + " " + string(body))
}
