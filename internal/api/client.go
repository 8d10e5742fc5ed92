// Package api is the authenticated HTTP client shared by the bearer-token
// backends. It attaches the current access token, and when a provider
// rejects it, forces one refresh and replays the request exactly once.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tonimelisma/netdisk-go/internal/netdisk"
)

const userAgent = "netdisk-go/0.1"

// TokenSource supplies access tokens and handles rejected ones.
// Defined at the consumer; auth.Coordinator and auth.StaticToken satisfy it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	Invalidate(ctx context.Context, rejected string) (string, error)
}

// ErrorDecoder extracts a machine-readable code and a message from an error
// response body.
type ErrorDecoder func(status int, body []byte) (code, message string)

// Request is one HTTP call. Body is replayable because it is held in memory.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	// Anonymous sends no Authorization header, for pre-authenticated URLs.
	Anonymous bool
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON unmarshals the body into out.
func (r *Response) DecodeJSON(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}

// Client sends requests on behalf of one backend.
type Client struct {
	backend string
	doer    netdisk.Doer
	tokens  TokenSource
	logger  *slog.Logger
	scheme  string
	decode  ErrorDecoder
}

// Option configures a Client.
type Option func(*Client)

// WithScheme sets the Authorization scheme (default "Bearer").
func WithScheme(scheme string) Option {
	return func(c *Client) { c.scheme = scheme }
}

// WithErrorDecoder sets how error bodies are interpreted.
func WithErrorDecoder(d ErrorDecoder) Option {
	return func(c *Client) { c.decode = d }
}

// New returns a Client. A nil doer uses http.DefaultClient.
func New(backend string, doer netdisk.Doer, tokens TokenSource, logger *slog.Logger, opts ...Option) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c := &Client{
		backend: backend,
		doer:    doer,
		tokens:  tokens,
		logger:  logger,
		scheme:  "Bearer",
		decode:  plainDecoder,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Backend returns the backend name errors are attributed to.
func (c *Client) Backend() string { return c.backend }

// Do sends req. A 2xx response is returned; anything else becomes a
// *netdisk.ProviderError. A rejected token triggers one forced refresh and
// one replay; a second rejection becomes a *netdisk.TokenError.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	var tok string

	if !req.Anonymous {
		var err error

		tok, err = c.tokens.AccessToken(ctx)
		if err != nil {
			return nil, err
		}
	}

	resp, err := c.send(ctx, req, tok)
	if err != nil {
		return nil, err
	}

	if !req.Anonymous && resp.StatusCode == http.StatusUnauthorized {
		c.logger.Info("access token rejected, refreshing",
			slog.String("method", req.Method),
			slog.String("url", redact(req.URL)),
		)

		tok, err = c.tokens.Invalidate(ctx, tok)
		if err != nil {
			return nil, err
		}

		resp, err = c.send(ctx, req, tok)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusUnauthorized {
			return nil, &netdisk.TokenError{
				Backend: c.backend,
				Op:      "rejected after refresh",
				Err:     c.providerError(resp),
			}
		}
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("method", req.Method),
			slog.String("url", redact(req.URL)),
			slog.Int("status", resp.StatusCode),
		)

		return resp, nil
	}

	return nil, c.providerError(resp)
}

// JSON sends in (if non-nil) as a JSON body and decodes the response into
// out (if non-nil).
func (c *Client) JSON(ctx context.Context, method, rawURL string, in, out any) error {
	req := &Request{Method: method, URL: rawURL, Header: http.Header{}}

	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", c.backend, err)
		}

		req.Body = body
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}

	if out == nil || len(resp.Body) == 0 {
		return nil
	}

	if err := resp.DecodeJSON(out); err != nil {
		return fmt.Errorf("%s: %w", c.backend, err)
	}

	return nil
}

func (c *Client) send(ctx context.Context, req *Request, tok string) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", c.backend, err)
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	if !req.Anonymous {
		httpReq.Header.Set("Authorization", c.scheme+" "+tok)
	}

	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := c.doer.Do(httpReq)
	if err != nil {
		return nil, &netdisk.NetworkError{Op: req.Method, URL: redact(req.URL), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &netdisk.NetworkError{Op: req.Method, URL: redact(req.URL), Err: fmt.Errorf("reading body: %w", err)}
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) providerError(resp *Response) *netdisk.ProviderError {
	code, msg := c.decode(resp.StatusCode, resp.Body)
	return netdisk.NewProviderError(c.backend, resp.StatusCode, code, msg, resp.Header)
}

// plainDecoder uses the trimmed body as the message.
func plainDecoder(status int, body []byte) (string, string) {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}

	return "", msg
}

// redact strips query and credentials; pre-authenticated URLs carry secrets
// in their query strings.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "(invalid URL)"
	}

	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""

	return u.String()
}
