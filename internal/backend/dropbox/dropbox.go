// Package dropbox adapts Dropbox (API v2) to the netdisk capability contract.
// Dropbox addresses everything by path, so no id cache is needed.
package dropbox

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
	"github.com/tonimelisma/netdisk-go/internal/netdisk"
	"github.com/tonimelisma/netdisk-go/internal/pathutil"
)

// Name identifies this backend in errors, logs and the token store.
const Name = "dropbox"

const (
	// DefaultAPIURL is the RPC endpoint root.
	DefaultAPIURL = "https://api.dropboxapi.com/2"
	// DefaultContentURL is the content-upload/download endpoint root.
	DefaultContentURL = "https://content.dropboxapi.com/2"
	// HomeURL prefixes a path to form its browser URL.
	HomeURL = "https://www.dropbox.com/home"

	listLimit = 2000
)

// Options configures an FS.
type Options struct {
	APIURL     string
	ContentURL string
	BasePath   string
	Doer       netdisk.Doer
	Tokens     api.TokenSource
	Logger     *slog.Logger
	// ChunkSize bounds single-request uploads; larger content goes through
	// an upload session in chunks of this size. Zero selects DefaultChunkSize.
	ChunkSize int
}

// FS is a Dropbox folder.
type FS struct {
	client     *api.Client
	apiURL     string
	contentURL string
	base       string
	chunkSize  int
	logger     *slog.Logger
}

// New returns an FS rooted at opts.BasePath.
func New(opts Options) *FS {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	apiURL := strings.TrimRight(opts.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}

	contentURL := strings.TrimRight(opts.ContentURL, "/")
	if contentURL == "" {
		contentURL = DefaultContentURL
	}

	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}

	return &FS{
		client:     api.New(Name, opts.Doer, opts.Tokens, logger, api.WithErrorDecoder(decodeError)),
		apiURL:     apiURL,
		contentURL: contentURL,
		base:       pathutil.Normalize(opts.BasePath),
		chunkSize:  chunk,
		logger:     logger.With(slog.String("backend", Name)),
	}
}

// BasePath implements netdisk.FileSystem.
func (f *FS) BasePath() string { return f.base }

// OpenDir implements netdisk.FileSystem.
func (f *FS) OpenDir(p string) netdisk.FileSystem {
	child := *f
	child.base = pathutil.Join(f.base, p)

	return &child
}

// Verify implements netdisk.FileSystem.
func (f *FS) Verify(ctx context.Context) error {
	var acct accountResponse
	if err := f.rpc(ctx, "/users/get_current_account", nil, &acct); err != nil {
		return fmt.Errorf("dropbox: verifying account: %w", err)
	}

	f.logger.Debug("account verified", slog.String("account_id", acct.AccountID))

	return nil
}

// List implements netdisk.FileSystem.
func (f *FS) List(ctx context.Context) ([]netdisk.FileInfo, error) {
	return netdisk.Files(f.Entries(ctx))
}

// Entries implements netdisk.FileSystem.
func (f *FS) Entries(ctx context.Context) ([]netdisk.FileInfo, error) {
	f.logger.Info("listing folder", slog.String("path", f.base))

	pager := netdisk.NewPager(Name)

	var files []netdisk.FileInfo

	endpoint, arg := "/files/list_folder", any(listFolderArg{Path: apiPath(f.base), Limit: listLimit})

	for {
		if err := pager.Next(); err != nil {
			return nil, err
		}

		var page listFolderResponse
		if err := f.rpc(ctx, endpoint, arg, &page); err != nil {
			return nil, fmt.Errorf("dropbox: listing %s: %w", f.base, err)
		}

		for i := range page.Entries {
			e := &page.Entries[i]
			if e.Tag == tagDeleted {
				continue
			}

			p := pathutil.Join(f.base, e.Name)
			if p == f.base {
				continue
			}

			files = append(files, e.toFileInfo(p))
		}

		if !page.HasMore {
			return files, nil
		}

		endpoint = "/files/list_folder/continue"
		arg = cursorArg{Cursor: page.Cursor}
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
	target := apiPath(r.path)
	if r.id != "" {
		target = r.id
	}

	resp, err := r.fs.content(ctx, "/files/download", pathArg{Path: target}, nil)
	if err != nil {
		return netdisk.Content{}, fmt.Errorf("dropbox: reading %s: %w", r.path, err)
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

	err := f.rpc(ctx, "/files/create_folder_v2", createFolderArg{Path: full}, nil)
	if hasErrorTag(err, "path/conflict") {
		f.logger.Debug("folder already exists", slog.String("path", full))
		return nil
	}

	if err != nil {
		return fmt.Errorf("dropbox: creating folder %s: %w", full, err)
	}

	f.logger.Info("created folder", slog.String("path", full))

	return nil
}

// Delete implements netdisk.FileSystem. A missing item is success.
func (f *FS) Delete(ctx context.Context, p string) error {
	full := pathutil.Join(f.base, p)
	if pathutil.IsRoot(full) {
		return fmt.Errorf("dropbox: refusing to delete the account root: %w", netdisk.ErrNotSupported)
	}

	err := f.rpc(ctx, "/files/delete_v2", pathArg{Path: full}, nil)
	if netdisk.IsNotFound(err) {
		f.logger.Debug("delete target already absent", slog.String("path", full))
		return nil
	}

	if err != nil {
		return fmt.Errorf("dropbox: deleting %s: %w", full, err)
	}

	f.logger.Info("deleted", slog.String("path", full))

	return nil
}

// DirURL implements netdisk.FileSystem.
func (f *FS) DirURL(_ context.Context) (string, error) {
	if pathutil.IsRoot(f.base) {
		return HomeURL, nil
	}

	segs := pathutil.Segments(f.base)
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}

	return HomeURL + "/" + strings.Join(segs, "/"), nil
}

// rpc calls an RPC-style endpoint with a JSON argument body.
func (f *FS) rpc(ctx context.Context, endpoint string, in, out any) error {
	return remapError(f.client.JSON(ctx, http.MethodPost, f.apiURL+endpoint, in, out))
}

// content calls a content endpoint: the argument travels in the
// Dropbox-API-Arg header and the body is raw bytes.
func (f *FS) content(ctx context.Context, endpoint string, arg any, body []byte) (*api.Response, error) {
	header, err := apiArg(arg)
	if err != nil {
		return nil, err
	}

	req := &api.Request{
		Method: http.MethodPost,
		URL:    f.contentURL + endpoint,
		Header: http.Header{"Dropbox-Api-Arg": {header}},
		Body:   body,
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := f.client.Do(ctx, req)

	return resp, remapError(err)
}

// apiPath converts a normalized path to Dropbox form; the root is "".
func apiPath(p string) string {
	if pathutil.IsRoot(p) {
		return ""
	}

	return pathutil.Normalize(p)
}

// apiArg encodes v as JSON with every non-ASCII character escaped, as HTTP
// headers must be ASCII.
func apiArg(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("dropbox: encoding API arg: %w", err)
	}

	var b strings.Builder

	for _, r := range string(raw) {
		switch {
		case r < 0x80:
			b.WriteRune(r)
		case r <= 0xFFFF:
			fmt.Fprintf(&b, `\u%04x`, r)
		default:
			r -= 0x10000
			fmt.Fprintf(&b, `\u%04x\u%04x`, 0xD800+(r>>10), 0xDC00+(r&0x3FF))
		}
	}

	return b.String(), nil
}

// decodeError reads the Dropbox error envelope. The error_summary (for
// example "path/not_found/..") becomes the code.
func decodeError(status int, body []byte) (string, string) {
	var env struct {
		ErrorSummary string `json:"error_summary"`
	}

	if json.Unmarshal(body, &env) == nil && env.ErrorSummary != "" {
		return env.ErrorSummary, env.ErrorSummary
	}

	return "", strings.TrimSpace(http.StatusText(status) + " " + string(body))
}

// remapError refines 409 endpoint errors: Dropbox reports a missing path as
// a conflict with a not_found tag.
func remapError(err error) error {
	var pe *netdisk.ProviderError
	if errors.As(err, &pe) && pe.StatusCode == http.StatusConflict && strings.Contains(pe.Code, "not_found") {
		pe.Err = netdisk.ErrNotFound
	}

	return err
}

func hasErrorTag(err error, tag string) bool {
	var pe *netdisk.ProviderError

	return errors.As(err, &pe) && strings.HasPrefix(pe.Code, tag)
}
