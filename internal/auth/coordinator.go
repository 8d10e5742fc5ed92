// Package auth owns the OAuth token lifecycle for the consent-based drive
// backends: lazy refresh of expired tokens, forced refresh when a provider
// rejects a token, and interactive consent when no usable token remains.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/netdisk-go/internal/netdisk"
	"github.com/tonimelisma/netdisk-go/internal/tokenstore"
)

// Consent defaults.
const (
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultConsentTimeout = 5 * time.Minute
)

var errNoRefreshToken = errors.New("no refresh token stored")

// Coordinator serializes token operations for one backend. Every method is
// safe for concurrent use; at most one refresh or consent runs at a time.
type Coordinator struct {
	provider Provider
	store    *tokenstore.Store
	launcher ConsentLauncher
	logger   *slog.Logger

	httpClient     *http.Client
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error
	pollInterval   time.Duration
	consentTimeout time.Duration

	mu sync.Mutex
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithHTTPClient sets the client used for token endpoint calls.
func WithHTTPClient(c *http.Client) Option {
	return func(co *Coordinator) { co.httpClient = c }
}

// WithClock injects the time source used for IssuedAt and expiry.
func WithClock(now func() time.Time) Option {
	return func(co *Coordinator) { co.now = now }
}

// WithSleep injects the wait used between consent polls.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(co *Coordinator) { co.sleep = fn }
}

// WithPollInterval sets how often a pending consent is polled.
func WithPollInterval(d time.Duration) Option {
	return func(co *Coordinator) { co.pollInterval = d }
}

// WithConsentTimeout bounds how long a consent may stay pending.
func WithConsentTimeout(d time.Duration) Option {
	return func(co *Coordinator) { co.consentTimeout = d }
}

// NewCoordinator returns a Coordinator. launcher may be nil, in which case
// any situation that needs user consent fails with ErrConsentRequired.
func NewCoordinator(p Provider, store *tokenstore.Store, launcher ConsentLauncher, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c := &Coordinator{
		provider:       p,
		store:          store,
		launcher:       launcher,
		logger:         logger.With(slog.String("backend", p.Name)),
		now:            time.Now,
		sleep:          timeSleep,
		pollInterval:   DefaultPollInterval,
		consentTimeout: DefaultConsentTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Backend returns the provider name.
func (c *Coordinator) Backend() string { return c.provider.Name }

// AccessToken returns a token to attach to a request. An expired token is
// refreshed first; if that refresh fails the stale token is returned anyway
// and the provider gets to decide. Consent runs only when nothing is stored.
func (c *Coordinator) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tok, err := c.store.Load(ctx, c.provider.Name)
	if err != nil {
		return "", &netdisk.TokenError{Backend: c.provider.Name, Op: "load", Err: err}
	}

	if tok == nil || tok.AccessToken == "" {
		return c.consent(ctx)
	}

	if !tok.Expired(c.now()) {
		return tok.AccessToken, nil
	}

	fresh, err := c.refresh(ctx, tok)
	if err != nil {
		c.logger.Warn("token refresh failed, using stale token", slog.String("error", err.Error()))
		return tok.AccessToken, nil
	}

	return fresh.AccessToken, nil
}

// Invalidate handles a provider rejecting rejected. If another caller has
// already replaced that token the current one is returned. Otherwise a
// refresh is forced; when it fails the stored token is discarded and
// consent is required.
func (c *Coordinator) Invalidate(ctx context.Context, rejected string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tok, err := c.store.Load(ctx, c.provider.Name)
	if err != nil {
		return "", &netdisk.TokenError{Backend: c.provider.Name, Op: "load", Err: err}
	}

	if tok == nil || tok.AccessToken == "" {
		return c.consent(ctx)
	}

	if rejected != "" && tok.AccessToken != rejected {
		c.logger.Debug("token already replaced by another caller")
		return tok.AccessToken, nil
	}

	c.logger.Info("access token rejected, forcing refresh")

	fresh, err := c.refresh(ctx, tok)
	if err == nil {
		return fresh.AccessToken, nil
	}

	c.logger.Warn("forced refresh failed, discarding stored token", slog.String("error", err.Error()))

	if delErr := c.store.Delete(ctx, c.provider.Name); delErr != nil {
		return "", &netdisk.TokenError{Backend: c.provider.Name, Op: "delete", Err: delErr}
	}

	return c.consent(ctx)
}

// Login runs consent unconditionally and stores the resulting token.
func (c *Coordinator) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.consent(ctx)

	return err
}

// Logout forgets the stored token.
func (c *Coordinator) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.store.Delete(ctx, c.provider.Name)
}

func (c *Coordinator) refresh(ctx context.Context, tok *tokenstore.Token) (*tokenstore.Token, error) {
	if tok.RefreshToken == "" {
		return nil, errNoRefreshToken
	}

	cfg := c.provider.Config

	// An empty access token makes the source go straight to the token endpoint.
	fresh, err := cfg.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: tok.RefreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}

	next := tokenstore.Token{
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		IssuedAt:     c.now(),
	}

	if next.RefreshToken == "" {
		next.RefreshToken = tok.RefreshToken
	}

	if err := c.store.Save(ctx, c.provider.Name, next); err != nil {
		return nil, err
	}

	c.logger.Info("token refreshed")

	return &next, nil
}

// consent runs the authorization-code + PKCE flow through the launcher.
func (c *Coordinator) consent(ctx context.Context) (string, error) {
	if c.launcher == nil {
		return "", &netdisk.TokenError{Backend: c.provider.Name, Op: "consent", Err: netdisk.ErrConsentRequired}
	}

	ctx, cancel := context.WithTimeout(ctx, c.consentTimeout)
	defer cancel()

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	opts := append([]oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	}, c.provider.AuthParams...)

	cfg := c.provider.Config
	authURL := cfg.AuthCodeURL(state, opts...)

	c.logger.Info("user consent required")

	handle, err := c.launcher.Open(ctx, authURL)
	if err != nil {
		return "", &netdisk.TokenError{Backend: c.provider.Name, Op: "consent", Err: err}
	}

	defer func() {
		if closeErr := handle.Close(); closeErr != nil {
			c.logger.Warn("closing consent handle", slog.String("error", closeErr.Error()))
		}
	}()

	callback, err := c.waitForConsent(ctx, handle)
	if err != nil {
		return "", &netdisk.TokenError{Backend: c.provider.Name, Op: "consent", Err: err}
	}

	code, err := codeFromCallback(callback, state)
	if err != nil {
		return "", &netdisk.TokenError{Backend: c.provider.Name, Op: "consent", Err: err}
	}

	exchanged, err := cfg.Exchange(c.oauthContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return "", &netdisk.TokenError{Backend: c.provider.Name, Op: "exchange", Err: err}
	}

	tok := tokenstore.Token{
		AccessToken:  exchanged.AccessToken,
		RefreshToken: exchanged.RefreshToken,
		IssuedAt:     c.now(),
	}

	if err := c.store.Save(ctx, c.provider.Name, tok); err != nil {
		return "", &netdisk.TokenError{Backend: c.provider.Name, Op: "save", Err: err}
	}

	c.logger.Info("consent completed",
		slog.Bool("has_refresh_token", tok.RefreshToken != ""),
	)

	return tok.AccessToken, nil
}

func (c *Coordinator) waitForConsent(ctx context.Context, h ConsentHandle) (string, error) {
	for {
		st, err := h.Poll(ctx)
		if err != nil {
			return "", fmt.Errorf("polling consent: %w", err)
		}

		if st.Done {
			return st.CallbackURL, nil
		}

		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return "", fmt.Errorf("waiting for consent: %w", err)
		}
	}
}

// codeFromCallback validates state and extracts the authorization code.
func codeFromCallback(callback, state string) (string, error) {
	u, err := url.Parse(callback)
	if err != nil {
		return "", fmt.Errorf("parsing callback URL: %w", err)
	}

	q := u.Query()

	if q.Get("state") != state {
		return "", fmt.Errorf("OAuth2 state mismatch (possible CSRF)")
	}

	if errParam := q.Get("error"); errParam != "" {
		return "", fmt.Errorf("authorization failed: %s: %s", errParam, q.Get("error_description"))
	}

	code := q.Get("code")
	if code == "" {
		return "", fmt.Errorf("callback missing authorization code")
	}

	return code, nil
}

func (c *Coordinator) oauthContext(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}

	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
