package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// KV is the minimal key-value contract token persistence needs.
// Get reports ok=false when the key is absent. Delete of an absent key
// is not an error.
type KV interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Store reads and writes Tokens through a KV.
type Store struct {
	kv     KV
	logger *slog.Logger
}

// NewStore wraps kv. A nil logger discards output.
func NewStore(kv KV, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Store{kv: kv, logger: logger}
}

// Load returns the stored token for backend, or (nil, nil) if none exists.
func (s *Store) Load(ctx context.Context, backend string) (*Token, error) {
	data, ok, err := s.kv.Get(ctx, Key(backend))
	if err != nil {
		return nil, fmt.Errorf("tokenstore: loading %s: %w", backend, err)
	}

	if !ok {
		s.logger.Debug("no stored token", slog.String("backend", backend))
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("tokenstore: loading %s: %w", backend, err)
	}

	return &tok, nil
}

// Save persists tok for backend, replacing any previous value.
func (s *Store) Save(ctx context.Context, backend string, tok Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("tokenstore: encoding %s: %w", backend, err)
	}

	if err := s.kv.Set(ctx, Key(backend), data); err != nil {
		return fmt.Errorf("tokenstore: saving %s: %w", backend, err)
	}

	s.logger.Debug("token saved",
		slog.String("backend", backend),
		slog.Bool("has_refresh_token", tok.RefreshToken != ""),
	)

	return nil
}

// Delete removes the token for backend.
func (s *Store) Delete(ctx context.Context, backend string) error {
	if err := s.kv.Delete(ctx, Key(backend)); err != nil {
		return fmt.Errorf("tokenstore: deleting %s: %w", backend, err)
	}

	s.logger.Info("token removed", slog.String("backend", backend))

	return nil
}
