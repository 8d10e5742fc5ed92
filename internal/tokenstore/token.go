// Package tokenstore persists OAuth token pairs per backend behind a small
// key-value abstraction. Token values are never logged.
package tokenstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// TTL is the assumed lifetime of an access token measured from IssuedAt.
// Provider-reported expiry is ignored; see DESIGN.md.
const TTL = time.Hour

// keyPrefix namespaces token entries inside a shared key-value store.
const keyPrefix = "netdisk:token:"

// Key returns the storage key for a backend's token.
func Key(backend string) string {
	return keyPrefix + backend
}

// Token is a persisted access/refresh token pair.
type Token struct {
	AccessToken  string
	RefreshToken string
	IssuedAt     time.Time
}

// Expired reports whether the access token is at or past its TTL at now.
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.IssuedAt.Add(TTL))
}

// wireToken is the stored JSON shape; issuedAt is epoch milliseconds.
type wireToken struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	IssuedAt     int64  `json:"issuedAt"`
}

// MarshalJSON encodes IssuedAt as epoch milliseconds.
func (t Token) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireToken{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		IssuedAt:     t.IssuedAt.UnixMilli(),
	})
}

// UnmarshalJSON decodes the stored shape.
func (t *Token) UnmarshalJSON(data []byte) error {
	var w wireToken
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("tokenstore: decoding token: %w", err)
	}

	t.AccessToken = w.AccessToken
	t.RefreshToken = w.RefreshToken
	t.IssuedAt = time.UnixMilli(w.IssuedAt).UTC()

	return nil
}
