package auth

import (
	"context"
	"errors"

	"github.com/tonimelisma/netdisk-go/internal/netdisk"
)

// ErrStaticToken is returned when a fixed token is rejected: there is
// nothing to refresh it with.
var ErrStaticToken = errors.New("static token cannot be refreshed")

// StaticToken serves a fixed, externally issued bearer token.
type StaticToken struct {
	Backend string
	Token   string
}

// AccessToken returns the configured token.
func (s StaticToken) AccessToken(_ context.Context) (string, error) {
	if s.Token == "" {
		return "", &netdisk.TokenError{Backend: s.Backend, Op: "load", Err: netdisk.ErrConsentRequired}
	}

	return s.Token, nil
}

// Invalidate always fails.
func (s StaticToken) Invalidate(_ context.Context, _ string) (string, error) {
	return "", &netdisk.TokenError{Backend: s.Backend, Op: "refresh", Err: ErrStaticToken}
}
