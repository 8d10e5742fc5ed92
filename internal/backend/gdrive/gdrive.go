// Package gdrive adapts Google Drive (API v3) to the netdisk capability
// contract. Drive addresses files by id only, so paths are resolved one
// segment at a time from the root and the ids are cached.
package gdrive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/netdisk-go/internal/api"
	"github.com/tonimelisma/netdisk-go/internal/idcache"
	"github.com/tonimelisma/netdisk-go/internal/netdisk"
	"github.com/tonimelisma/netdisk-go/internal/pathutil"
)

// Name identifies this backend in errors, logs and the token store.
const Name = "gdrive"

const (
	// DefaultBaseURL is the Drive v3 metadata root.
	DefaultBaseURL = "https://www.googleapis.com/drive/v3"
	// DefaultUploadURL is the Drive v3 media upload root.
	DefaultUploadURL = "https://www.googleapis.com/upload/drive/v3"
	// FolderURL prefixes a folder id to form its browser URL.
	FolderURL = "https://drive.google.com/drive/folders/"

	folderMimeType = "application/vnd.google-apps.folder"
	rootID         = "root"
	listPageSize   = 1000
	listFields     = "nextPageToken,files(id,name,mimeType,size,md5Checksum,createdTime,modifiedTime)"

	// sharedTimeout bounds a lookup or folder creation that several callers
	// wait on, since none of their contexts governs it.
	sharedTimeout = 2 * time.Minute
)

// Options configures an FS.
type Options struct {
	BaseURL   string
	UploadURL string
	BasePath  string
	Doer      netdisk.Doer
	Tokens    api.TokenSource
	Logger    *slog.Logger
}

// FS is a Google Drive folder.
type FS struct {
	client    *api.Client
	baseURL   string
	uploadURL string
	base      string
	ids       *idcache.Cache
	// group collapses concurrent lookups and folder creations of one path.
	group  *singleflight.Group
	logger *slog.Logger
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

	uploadURL := strings.TrimRight(opts.UploadURL, "/")
	if uploadURL == "" {
		uploadURL = DefaultUploadURL
	}

	ids := idcache.New()
	ids.Put(pathutil.Root, rootID)

	return &FS{
		client:    api.New(Name, opts.Doer, opts.Tokens, logger, api.WithErrorDecoder(decodeError)),
		baseURL:   baseURL,
		uploadURL: uploadURL,
		base:      pathutil.Normalize(opts.BasePath),
		ids:       ids,
		group:     &singleflight.Group{},
		logger:    logger.With(slog.String("backend", Name)),
	}
}

// BasePath implements netdisk.FileSystem.
func (f *FS) BasePath() string { return f.base }

// OpenDir implements netdisk.FileSystem. The child shares the client, the id
// cache and the lookup group.
func (f *FS) OpenDir(p string) netdisk.FileSystem {
	child := *f
	child.base = pathutil.Join(f.base, p)

	return &child
}

// Verify implements netdisk.FileSystem.
func (f *FS) Verify(ctx context.Context) error {
	var about aboutResponse
	if err := f.client.JSON(ctx, http.MethodGet, f.baseURL+"/about?fields=user", nil, &about); err != nil {
		return fmt.Errorf("gdrive: verifying drive access: %w", err)
	}

	f.logger.Debug("drive verified", slog.String("user", about.User.EmailAddress))

	return nil
}

// resolveID walks p from the root, using cached ids where present.
func (f *FS) resolveID(ctx context.Context, p string) (string, error) {
	p = pathutil.Normalize(p)
	if id, ok := f.ids.Get(p); ok {
		return id, nil
	}

	v, err := f.shared(ctx, "resolve:"+p, func(ctx context.Context) (any, error) {
		var found *file

		err := f.withID(ctx, pathutil.Parent(p), func(parentID string) error {
			var err error
			found, err = f.lookup(ctx, parentID, pathutil.Base(p))

			return err
		})
		if err != nil {
			return "", err
		}

		f.ids.Put(p, found.ID)

		return found.ID, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// withID runs fn with the id of p. A cached id the service no longer knows
// is dropped, with everything cached beneath it, and fn retried once with a
// fresh one.
func (f *FS) withID(ctx context.Context, p string, fn func(id string) error) error {
	return f.ids.With(ctx, p, f.resolveID, f.stale, fn)
}

func (f *FS) stale(err error) bool {
	if !netdisk.IsRemoteNotFound(err) {
		return false
	}

	f.logger.Debug("dropping stale cached id", slog.String("error", err.Error()))

	return true
}

// shared runs fn once for all concurrent callers with the same key. fn runs
// detached from any single caller's cancellation; each caller still stops
// waiting when its own ctx ends.
func (f *FS) shared(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	ch := f.group.DoChan(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedTimeout)
		defer cancel()

		return fn(ctx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// lookup finds the child of parentID called name.
func (f *FS) lookup(ctx context.Context, parentID, name string) (*file, error) {
	q := fmt.Sprintf("'%s' in parents and name = '%s' and trashed = false", escapeQuery(parentID), escapeQuery(name))

	params := url.Values{}
	params.Set("q", q)
	params.Set("fields", "files(id,name,mimeType)")
	params.Set("pageSize", "1")

	var resp fileList
	if err := f.client.JSON(ctx, http.MethodGet, f.baseURL+"/files?"+params.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("gdrive: looking up %q: %w", name, err)
	}

	if len(resp.Files) == 0 {
		return nil, fmt.Errorf("gdrive: %q: %w", name, netdisk.ErrNotFound)
	}

	return &resp.Files[0], nil
}

// List implements netdisk.FileSystem.
func (f *FS) List(ctx context.Context) ([]netdisk.FileInfo, error) {
	return netdisk.Files(f.Entries(ctx))
}

// Entries implements netdisk.FileSystem.
func (f *FS) Entries(ctx context.Context) ([]netdisk.FileInfo, error) {
	f.logger.Info("listing folder", slog.String("path", f.base))

	var files []netdisk.FileInfo

	err := f.withID(ctx, f.base, func(dirID string) error {
		var err error
		files, err = f.children(ctx, dirID)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("gdrive: listing %s: %w", f.base, err)
	}

	return files, nil
}

// children pages through the items whose parent is dirID.
func (f *FS) children(ctx context.Context, dirID string) ([]netdisk.FileInfo, error) {
	params := url.Values{}
	params.Set("q", fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(dirID)))
	params.Set("fields", listFields)
	params.Set("pageSize", fmt.Sprint(listPageSize))
	params.Set("orderBy", "name")

	pager := netdisk.NewPager(Name)

	var files []netdisk.FileInfo

	for {
		if err := pager.Next(); err != nil {
			return nil, err
		}

		var page fileList
		if err := f.client.JSON(ctx, http.MethodGet, f.baseURL+"/files?"+params.Encode(), nil, &page); err != nil {
			return nil, err
		}

		for i := range page.Files {
			item := &page.Files[i]
			if item.ID == dirID {
				continue
			}

			p := pathutil.Join(f.base, item.Name)
			f.ids.Put(p, item.ID)
			files = append(files, item.toFileInfo(p))
		}

		if page.NextPageToken == "" {
			return files, nil
		}

		params.Set("pageToken", page.NextPageToken)
	}
}

// Open implements netdisk.FileSystem.
func (f *FS) Open(info netdisk.FileInfo) netdisk.Reader {
	p := info.Path
	if p == "" {
		p = pathutil.Join(f.base, info.Name)
	}

	return &reader{fs: f, path: pathutil.Normalize(p), id: info.ID}
}

type reader struct {
	fs   *FS
	path string
	id   string
}

func (r *reader) Read(ctx context.Context, mode netdisk.Mode) (netdisk.Content, error) {
	var body []byte

	download := func(id string) error {
		resp, err := r.fs.client.Do(ctx, &api.Request{
			Method: http.MethodGet,
			URL:    r.fs.baseURL + "/files/" + url.PathEscape(id) + "?alt=media",
		})
		if err != nil {
			return err
		}

		body = resp.Body

		return nil
	}

	var err error
	if r.id != "" {
		err = download(r.id)
	} else {
		err = r.fs.withID(ctx, r.path, download)
	}

	if err != nil {
		return netdisk.Content{}, fmt.Errorf("gdrive: reading %s: %w", r.path, err)
	}

	r.fs.logger.Debug("downloaded", slog.String("path", r.path), slog.Int("bytes", len(body)))

	return netdisk.NewContent(mode, body), nil
}

// Create implements netdisk.FileSystem.
func (f *FS) Create(p string) netdisk.Writer {
	return &writer{fs: f, path: pathutil.Join(f.base, p)}
}

// CreateDir implements netdisk.FileSystem. Drive allows duplicate names, so
// an existing entry is looked up first and treated as success.
func (f *FS) CreateDir(ctx context.Context, p string) error {
	full := pathutil.Join(f.base, p)
	if pathutil.IsRoot(full) {
		return nil
	}

	_, err := f.shared(ctx, "mkdir:"+full, func(ctx context.Context) (any, error) {
		if _, err := f.resolveID(ctx, full); err == nil {
			f.logger.Debug("folder already exists", slog.String("path", full))
			return nil, nil
		} else if !netdisk.IsNotFound(err) {
			return nil, err
		}

		var created file

		err := f.withID(ctx, pathutil.Parent(full), func(parentID string) error {
			req := fileMetadata{Name: pathutil.Base(full), MimeType: folderMimeType, Parents: []string{parentID}}

			return f.client.JSON(ctx, http.MethodPost, f.baseURL+"/files?fields=id", req, &created)
		})
		if err != nil {
			return nil, err
		}

		f.ids.Put(full, created.ID)
		f.logger.Info("created folder", slog.String("path", full))

		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("gdrive: creating folder %s: %w", full, err)
	}

	return nil
}

// Delete implements netdisk.FileSystem. A missing item is success.
func (f *FS) Delete(ctx context.Context, p string) error {
	full := pathutil.Join(f.base, p)
	if pathutil.IsRoot(full) {
		return fmt.Errorf("gdrive: refusing to delete the drive root: %w", netdisk.ErrNotSupported)
	}

	err := f.withID(ctx, full, func(id string) error {
		_, err := f.client.Do(ctx, &api.Request{Method: http.MethodDelete, URL: f.baseURL + "/files/" + url.PathEscape(id)})

		return err
	})

	f.ids.InvalidatePrefix(full)

	if netdisk.IsNotFound(err) {
		f.logger.Debug("delete target already absent", slog.String("path", full))
		return nil
	}

	if err != nil {
		return fmt.Errorf("gdrive: deleting %s: %w", full, err)
	}

	f.logger.Info("deleted", slog.String("path", full))

	return nil
}

// DirURL implements netdisk.FileSystem.
func (f *FS) DirURL(ctx context.Context) (string, error) {
	id, err := f.resolveID(ctx, f.base)
	if err != nil {
		return "", fmt.Errorf("gdrive: resolving URL for %s: %w", f.base, err)
	}

	if id == rootID {
		return "https://drive.google.com/drive/my-drive", nil
	}

	return FolderURL + id, nil
}

// escapeQuery quotes a value for a Drive search query string literal.
func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

// decodeError reads the Google API error envelope. The first reason becomes
// the code ("rateLimitExceeded", "notFound", ...).
func decodeError(status int, body []byte) (string, string) {
	var env struct {
		Error struct {
			Message string `json:"message"`
			Errors  []struct {
				Reason string `json:"reason"`
			} `json:"errors"`
		} `json:"error"`
	}

	if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
		code := ""
		if len(env.Error.Errors) > 0 {
			code = env.Error.Errors[0].Reason
		}

		return code, env.Error.Message
	}

	return "", strings.TrimSpace(http.StatusText(status) + " " + string(body))
}
