// Package yandex adapts Yandex Disk (REST API v1) to the netdisk capability
// contract.
package yandex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tonimelisma/netdisk-go/internal/api"
	"github.com/tonimelisma/netdisk-go/internal/netdisk"
	"github.com/tonimelisma/netdisk-go/internal/pathutil"
)

// Name identifies this backend in errors, logs and the token store.
const Name = "yandex"

const (
	// DefaultBaseURL is the Disk REST API root.
	DefaultBaseURL = "https://cloud-api.yandex.net/v1/disk"
	// ClientURL prefixes a path to form its browser URL.
	ClientURL = "https://disk.yandex.ru/client/disk"
	// DefaultPageSize is the listing page size.
	DefaultPageSize = 1000
	// DefaultPollInterval spaces status checks of asynchronous operations.
	DefaultPollInterval = 500 * time.Millisecond

	maxOperationPolls = 120
	listFields        = "_embedded.items.name,_embedded.items.path,_embedded.items.type,_embedded.items.size," +
		"_embedded.items.md5,_embedded.items.sha256,_embedded.items.created,_embedded.items.modified," +
		"_embedded.items.resource_id,_embedded.total"
)

// ErrOperationFailed means an asynchronous operation finished unsuccessfully.
var ErrOperationFailed = errors.New("yandex: asynchronous operation failed")

// Options configures an FS.
type Options struct {
	BaseURL      string
	BasePath     string
	Doer         netdisk.Doer
	Tokens       api.TokenSource
	Logger       *slog.Logger
	PageSize     int
	PollInterval time.Duration
	// Sleep waits between operation polls. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// FS is a Yandex Disk folder.
type FS struct {
	client       *api.Client
	baseURL      string
	base         string
	pageSize     int
	pollInterval time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
	logger       *slog.Logger
}

// New returns an FS rooted at opts.BasePath.
func New(opts Options) *FS {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	f := &FS{
		client:       api.New(Name, opts.Doer, opts.Tokens, logger, api.WithScheme("OAuth"), api.WithErrorDecoder(decodeError)),
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		base:         pathutil.Normalize(opts.BasePath),
		pageSize:     opts.PageSize,
		pollInterval: opts.PollInterval,
		sleep:        opts.Sleep,
		logger:       logger.With(slog.String("backend", Name)),
	}

	if f.baseURL == "" {
		f.baseURL = DefaultBaseURL
	}

	if f.pageSize <= 0 {
		f.pageSize = DefaultPageSize
	}

	if f.pollInterval <= 0 {
		f.pollInterval = DefaultPollInterval
	}

	if f.sleep == nil {
		f.sleep = timeSleep
	}

	return f
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
	var disk diskResponse
	if err := f.client.JSON(ctx, http.MethodGet, f.baseURL+"/", nil, &disk); err != nil {
		return fmt.Errorf("yandex: verifying disk access: %w", err)
	}

	f.logger.Debug("disk verified", slog.Int64("used_space", disk.UsedSpace), slog.Int64("total_space", disk.TotalSpace))

	return nil
}

func (f *FS) resourceURL(endpoint, p string, extra url.Values) string {
	q := url.Values{}
	q.Set("path", pathutil.Normalize(p))

	for k, vs := range extra {
		q[k] = vs
	}

	return f.baseURL + endpoint + "?" + q.Encode()
}

// List implements netdisk.FileSystem.
func (f *FS) List(ctx context.Context) ([]netdisk.FileInfo, error) {
	return netdisk.Files(f.Entries(ctx))
}

// Entries implements netdisk.FileSystem. Pages by offset until _embedded.total
// entries have been seen.
func (f *FS) Entries(ctx context.Context) ([]netdisk.FileInfo, error) {
	f.logger.Info("listing folder", slog.String("path", f.base))

	pager := netdisk.NewPager(Name)

	var files []netdisk.FileInfo

	for offset := 0; ; {
		if err := pager.Next(); err != nil {
			return nil, err
		}

		var page resourceResponse

		u := f.resourceURL("/resources", f.base, url.Values{
			"limit":  {strconv.Itoa(f.pageSize)},
			"offset": {strconv.Itoa(offset)},
			"fields": {listFields},
		})
		if err := f.client.JSON(ctx, http.MethodGet, u, nil, &page); err != nil {
			return nil, fmt.Errorf("yandex: listing %s: %w", f.base, err)
		}

		if page.Embedded == nil {
			return files, nil
		}

		for i := range page.Embedded.Items {
			item := &page.Embedded.Items[i]

			p := pathutil.Join(f.base, item.Name)
			if p == f.base {
				continue
			}

			files = append(files, item.toFileInfo(p))
		}

		offset += len(page.Embedded.Items)
		if len(page.Embedded.Items) == 0 || offset >= page.Embedded.Total {
			return files, nil
		}
	}
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

// Read fetches a one-time download link, then the content from it.
func (r *reader) Read(ctx context.Context, mode netdisk.Mode) (netdisk.Content, error) {
	var link linkResponse
	if err := r.fs.client.JSON(ctx, http.MethodGet, r.fs.resourceURL("/resources/download", r.path, nil), nil, &link); err != nil {
		return netdisk.Content{}, fmt.Errorf("yandex: reading %s: %w", r.path, err)
	}

	resp, err := r.fs.client.Do(ctx, &api.Request{Method: http.MethodGet, URL: link.Href, Anonymous: true})
	if err != nil {
		return netdisk.Content{}, fmt.Errorf("yandex: reading %s: %w", r.path, err)
	}

	r.fs.logger.Debug("downloaded", slog.String("path", r.path), slog.Int("bytes", len(resp.Body)))

	return netdisk.NewContent(mode, resp.Body), nil
}

// Create implements netdisk.FileSystem.
func (f *FS) Create(p string) netdisk.Writer {
	return &writer{fs: f, path: pathutil.Join(f.base, p)}
}

type writer struct {
	fs   *FS
	path string
}

// Write fetches a one-time upload link and sends the content to it.
func (w *writer) Write(ctx context.Context, content []byte) error {
	var link linkResponse

	u := w.fs.resourceURL("/resources/upload", w.path, url.Values{"overwrite": {"true"}})
	if err := w.fs.client.JSON(ctx, http.MethodGet, u, nil, &link); err != nil {
		return fmt.Errorf("yandex: writing %s: requesting upload link: %w", w.path, err)
	}

	method := link.Method
	if method == "" {
		method = http.MethodPut
	}

	_, err := w.fs.client.Do(ctx, &api.Request{
		Method:    method,
		URL:       link.Href,
		Header:    http.Header{"Content-Type": {"application/octet-stream"}},
		Body:      content,
		Anonymous: true,
	})
	if err != nil {
		return fmt.Errorf("yandex: writing %s: %w", w.path, err)
	}

	w.fs.logger.Info("uploaded", slog.String("path", w.path), slog.Int("bytes", len(content)))

	return nil
}

// CreateDir implements netdisk.FileSystem. An existing folder is success.
func (f *FS) CreateDir(ctx context.Context, p string) error {
	full := pathutil.Join(f.base, p)
	if pathutil.IsRoot(full) {
		return nil
	}

	err := f.client.JSON(ctx, http.MethodPut, f.resourceURL("/resources", full, nil), nil, nil)
	if errors.Is(err, netdisk.ErrConflict) {
		f.logger.Debug("folder already exists", slog.String("path", full))
		return nil
	}

	if err != nil {
		return fmt.Errorf("yandex: creating folder %s: %w", full, err)
	}

	f.logger.Info("created folder", slog.String("path", full))

	return nil
}

// Delete implements netdisk.FileSystem. A missing item is success. Deleting
// a non-empty folder may complete asynchronously; Delete waits for it.
func (f *FS) Delete(ctx context.Context, p string) error {
	full := pathutil.Join(f.base, p)
	if pathutil.IsRoot(full) {
		return fmt.Errorf("yandex: refusing to delete the disk root: %w", netdisk.ErrNotSupported)
	}

	resp, err := f.client.Do(ctx, &api.Request{
		Method: http.MethodDelete,
		URL:    f.resourceURL("/resources", full, url.Values{"permanently": {"true"}}),
	})
	if netdisk.IsNotFound(err) {
		f.logger.Debug("delete target already absent", slog.String("path", full))
		return nil
	}

	if err != nil {
		return fmt.Errorf("yandex: deleting %s: %w", full, err)
	}

	if resp.StatusCode == http.StatusAccepted {
		var link linkResponse
		if err := resp.DecodeJSON(&link); err != nil {
			return fmt.Errorf("yandex: deleting %s: %w", full, err)
		}

		if err := f.waitOperation(ctx, link.Href); err != nil {
			return fmt.Errorf("yandex: deleting %s: %w", full, err)
		}
	}

	f.logger.Info("deleted", slog.String("path", full))

	return nil
}

// waitOperation polls an operation status URL until it settles.
func (f *FS) waitOperation(ctx context.Context, href string) error {
	for range maxOperationPolls {
		var op operationResponse
		if err := f.client.JSON(ctx, http.MethodGet, href, nil, &op); err != nil {
			return fmt.Errorf("polling operation: %w", err)
		}

		switch op.Status {
		case "success":
			return nil
		case "failed":
			return ErrOperationFailed
		}

		if err := f.sleep(ctx, f.pollInterval); err != nil {
			return err
		}
	}

	return fmt.Errorf("operation still in progress after %d polls: %w", maxOperationPolls, ErrOperationFailed)
}

// DirURL implements netdisk.FileSystem.
func (f *FS) DirURL(_ context.Context) (string, error) {
	if pathutil.IsRoot(f.base) {
		return ClientURL, nil
	}

	segs := pathutil.Segments(f.base)
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}

	return ClientURL + "/" + strings.Join(segs, "/"), nil
}

// decodeError reads the Yandex error envelope.
func decodeError(status int, body []byte) (string, string) {
	var env struct {
		Error       string `json:"error"`
		Message     string `json:"message"`
		Description string `json:"description"`
	}

	if json.Unmarshal(body, &env) == nil && env.Error != "" {
		msg := env.Message
		if msg == "" {
			msg = env.Description
		}

		return env.Error, msg
	}

	return "", strings.TrimSpace(http.StatusText(status) + " " + string(body))
}

func timeSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
