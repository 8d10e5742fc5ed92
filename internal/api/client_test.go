package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/netdisk-go/internal/netdisk"
)

// stubTokens hands out "tok-N" and counts invalidations.
type stubTokens struct {
	current     string
	invalidated atomic.Int32
	failInvalid error
}

func (s *stubTokens) AccessToken(context.Context) (string, error) { return s.current, nil }

func (s *stubTokens) Invalidate(_ context.Context, rejected string) (string, error) {
	s.invalidated.Add(1)

	if s.failInvalid != nil {
		return "", s.failInvalid
	}

	if rejected == s.current {
		s.current = "fresh"
	}

	return s.current, nil
}

func TestDo_AttachesBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New("test", srv.Client(), &stubTokens{current: "tok"}, nil)

	var out struct{ OK bool }
	require.NoError(t, c.JSON(context.Background(), http.MethodGet, srv.URL+"/x", nil, &out))
	assert.True(t, out.OK)
}

func TestDo_CustomScheme(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "OAuth tok", r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	c := New("yandex", srv.Client(), &stubTokens{current: "tok"}, nil, WithScheme("OAuth"))
	_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
}

func TestDo_RefreshesOnceOn401(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	tokens := &stubTokens{current: "stale"}
	c := New("test", srv.Client(), tokens, nil)

	resp, err := c.Do(context.Background(), &Request{Method: http.MethodPut, URL: srv.URL, Body: []byte("abc")})
	require.NoError(t, err)
	assert.Equal(t, "abc", string(resp.Body), "body replayed on retry")
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), tokens.invalidated.Load())
}

func TestDo_SecondRejectionIsTokenError(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &stubTokens{current: "stale"}
	c := New("test", srv.Client(), tokens, nil)

	_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL})

	var te *netdisk.TokenError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, netdisk.ErrUnauthorized)
	assert.Equal(t, int32(2), calls.Load(), "exactly one replay")
	assert.Equal(t, int32(1), tokens.invalidated.Load())
}

func TestDo_InvalidateFailurePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	consent := &netdisk.TokenError{Backend: "test", Op: "consent", Err: netdisk.ErrConsentRequired}
	c := New("test", srv.Client(), &stubTokens{current: "x", failInvalid: consent}, nil)

	_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL})
	assert.ErrorIs(t, err, netdisk.ErrConsentRequired)
}

func TestDo_AnonymousSkipsAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &stubTokens{current: "x"}
	c := New("test", srv.Client(), tokens, nil)

	_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL, Anonymous: true})

	var pe *netdisk.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusUnauthorized, pe.StatusCode)
	assert.Zero(t, tokens.invalidated.Load())
}

func TestDo_ProviderErrorDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "4")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`slow down`))
	}))
	defer srv.Close()

	decoder := func(_ int, body []byte) (string, string) { return "rate_limited", string(body) }
	c := New("test", srv.Client(), &stubTokens{current: "x"}, nil, WithErrorDecoder(decoder))

	_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL})

	var pe *netdisk.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "rate_limited", pe.Code)
	assert.Equal(t, "slow down", pe.Message)
	assert.ErrorIs(t, err, netdisk.ErrThrottled)
	assert.Equal(t, 4.0, pe.RetryAfter.Seconds())
}

type failingDoer struct{}

func (failingDoer) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func TestDo_NetworkErrorRedactsURL(t *testing.T) {
	c := New("test", failingDoer{}, &stubTokens{current: "x"}, nil)

	_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, URL: "https://u:p@host.example/path?sig=secret"})

	var ne *netdisk.NetworkError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "https://host.example/path", ne.URL)
	assert.NotContains(t, err.Error(), "secret")
}
