// Package s3 adapts S3-compatible object stores to the netdisk capability
// contract. Requests are signed with SigV4; directories are key prefixes
// delimited by "/".
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tonimelisma/netdisk-go/internal/netdisk"
	"github.com/tonimelisma/netdisk-go/internal/pathutil"
	"github.com/tonimelisma/netdisk-go/internal/sigv4"
)

// Name identifies this backend in errors and logs.
const Name = "s3"

const (
	// DefaultRegion is used when Options.Region is empty.
	DefaultRegion = "us-east-1"
	// DefaultPageSize is the max-keys value for listings.
	DefaultPageSize = 1000

	service   = "s3"
	delimiter = "/"
)

// Options configures an FS.
type Options struct {
	// Endpoint is the service URL for non-AWS stores, for example
	// "http://localhost:9000". Empty selects AWS for Region.
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	SessionToken string
	// PathStyle addresses the bucket in the path rather than the host.
	PathStyle bool
	BasePath  string
	Doer      netdisk.Doer
	Logger    *slog.Logger
	PageSize  int
	// Now stamps signatures. Nil uses time.Now.
	Now func() time.Time
}

// FS is a prefix of an S3 bucket.
type FS struct {
	signer    sigv4.Signer
	doer      netdisk.Doer
	scheme    string
	host      string
	bucket    string
	pathStyle bool
	aws       bool
	base      string
	pageSize  int
	now       func() time.Time
	logger    *slog.Logger
}

// New returns an FS for opts.Bucket rooted at opts.BasePath.
func New(opts Options) (*FS, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}

	region := opts.Region
	if region == "" {
		region = DefaultRegion
	}

	scheme, host, aws, err := endpointHost(opts.Endpoint, region)
	if err != nil {
		return nil, err
	}

	if !opts.PathStyle {
		host = opts.Bucket + "." + host
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	doer := opts.Doer
	if doer == nil {
		doer = http.DefaultClient
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	// DeleteObjects accepts at most 1000 keys, and a listing page is one batch.
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > DefaultPageSize {
		pageSize = DefaultPageSize
	}

	return &FS{
		signer: sigv4.Signer{
			Credentials: sigv4.Credentials{
				AccessKey:    opts.AccessKey,
				SecretKey:    opts.SecretKey,
				SessionToken: opts.SessionToken,
			},
			Region:  region,
			Service: service,
		},
		doer:      doer,
		scheme:    scheme,
		host:      host,
		bucket:    opts.Bucket,
		pathStyle: opts.PathStyle,
		aws:       aws,
		base:      pathutil.Normalize(opts.BasePath),
		pageSize:  pageSize,
		now:       now,
		logger:    logger.With(slog.String("backend", Name), slog.String("bucket", opts.Bucket)),
	}, nil
}

// endpointHost splits an endpoint URL. An empty endpoint means AWS.
func endpointHost(endpoint, region string) (scheme, host string, aws bool, err error) {
	if endpoint == "" {
		return "https", "s3." + region + ".amazonaws.com", true, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "", "", false, fmt.Errorf("s3: invalid endpoint %q", endpoint)
	}

	return u.Scheme, u.Host, strings.HasSuffix(u.Hostname(), ".amazonaws.com"), nil
}

// BasePath implements netdisk.FileSystem.
func (f *FS) BasePath() string { return f.base }

// OpenDir implements netdisk.FileSystem.
func (f *FS) OpenDir(p string) netdisk.FileSystem {
	child := *f
	child.base = pathutil.Join(f.base, p)

	return &child
}

// objectKey maps a normalized path to its key: no leading slash.
func objectKey(p string) string {
	return pathutil.Relative(p)
}

// dirPrefix maps a directory path to the key prefix of its children.
func dirPrefix(p string) string {
	if k := objectKey(p); k != "" {
		return k + delimiter
	}

	return ""
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// do signs and sends one request. Non-2xx responses become
// *netdisk.ProviderError carrying the S3 error code.
func (f *FS) do(ctx context.Context, method, key string, query url.Values, header http.Header, body []byte) (*response, error) {
	signed := f.signer.Sign(sigv4.Request{
		Method:    method,
		Host:      f.host,
		Bucket:    f.bucket,
		Key:       key,
		PathStyle: f.pathStyle,
		Query:     query,
		Header:    header,
		Payload:   body,
	}, f.now())

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, signed.URL(f.scheme, f.host), reader)
	if err != nil {
		return nil, fmt.Errorf("s3: creating request: %w", err)
	}

	req.Host = f.host
	for k, vs := range signed.Header {
		if k == "Host" {
			continue
		}

		req.Header[k] = vs
	}

	redacted := f.scheme + "://" + f.host + signed.Path

	resp, err := f.doer.Do(req)
	if err != nil {
		return nil, &netdisk.NetworkError{Op: method, URL: redacted, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &netdisk.NetworkError{Op: method, URL: redacted, Err: fmt.Errorf("reading body: %w", err)}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		er := sigv4.ParseError(resp.StatusCode, data)

		f.logger.Debug("request failed",
			slog.String("method", method),
			slog.String("url", redacted),
			slog.Int("status", resp.StatusCode),
			slog.String("code", er.Code),
			slog.String("request_id", er.RequestID),
		)

		return nil, netdisk.NewProviderError(Name, resp.StatusCode, er.Code, er.Message, resp.Header)
	}

	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// Verify implements netdisk.FileSystem with a HeadBucket call.
func (f *FS) Verify(ctx context.Context) error {
	if _, err := f.do(ctx, http.MethodHead, "", nil, nil, nil); err != nil {
		return fmt.Errorf("s3: verifying bucket %s: %w", f.bucket, err)
	}

	f.logger.Debug("bucket verified")

	return nil
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
	resp, err := r.fs.do(ctx, http.MethodGet, objectKey(r.path), nil, nil, nil)
	if err != nil {
		return netdisk.Content{}, fmt.Errorf("s3: reading %s: %w", r.path, err)
	}

	r.fs.logger.Debug("downloaded", slog.String("path", r.path), slog.Int("bytes", len(resp.body)))

	return netdisk.NewContent(mode, resp.body), nil
}

// Create implements netdisk.FileSystem.
func (f *FS) Create(p string) netdisk.Writer {
	return &writer{fs: f, path: pathutil.Join(f.base, p)}
}

type writer struct {
	fs   *FS
	path string
}

func (w *writer) Write(ctx context.Context, content []byte) error {
	if content == nil {
		content = []byte{}
	}

	header := http.Header{"Content-Type": {"application/octet-stream"}}
	if _, err := w.fs.do(ctx, http.MethodPut, objectKey(w.path), nil, header, content); err != nil {
		return fmt.Errorf("s3: writing %s: %w", w.path, err)
	}

	w.fs.logger.Info("uploaded", slog.String("path", w.path), slog.Int("bytes", len(content)))

	return nil
}

// CreateDir implements netdisk.FileSystem by writing an empty "dir/"
// placeholder object, which is naturally idempotent.
func (f *FS) CreateDir(ctx context.Context, p string) error {
	full := pathutil.Join(f.base, p)
	if pathutil.IsRoot(full) {
		return nil
	}

	if _, err := f.do(ctx, http.MethodPut, dirPrefix(full), nil, nil, []byte{}); err != nil {
		return fmt.Errorf("s3: creating folder %s: %w", full, err)
	}

	f.logger.Info("created folder", slog.String("path", full))

	return nil
}

// DirURL implements netdisk.FileSystem: the AWS console for AWS buckets,
// the endpoint URL otherwise.
func (f *FS) DirURL(_ context.Context) (string, error) {
	prefix := dirPrefix(f.base)

	if f.aws {
		q := url.Values{"region": {f.signer.Region}}
		if prefix != "" {
			q.Set("prefix", prefix)
		}

		return "https://s3.console.aws.amazon.com/s3/buckets/" + url.PathEscape(f.bucket) + "?" + q.Encode(), nil
	}

	u := f.scheme + "://" + f.host + "/"
	if f.pathStyle {
		u += url.PathEscape(f.bucket) + "/"
	}

	return u + encodeKeyPath(prefix), nil
}

// encodeKeyPath escapes each segment of a key for use in a browser URL.
func encodeKeyPath(key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}

	return strings.Join(segs, "/")
}
