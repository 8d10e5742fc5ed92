package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tonimelisma/netdisk-go/internal/auth"
	"github.com/tonimelisma/netdisk-go/internal/backend"
	"github.com/tonimelisma/netdisk-go/internal/backend/archive"
	"github.com/tonimelisma/netdisk-go/internal/config"
	"github.com/tonimelisma/netdisk-go/internal/netdisk"
	"github.com/tonimelisma/netdisk-go/internal/ratelimit"
	"github.com/tonimelisma/netdisk-go/internal/tokenstore"
)

// Session holds one verified backend plus the resources behind it: the token
// store, the limiter and its metrics, and for archive backends the store that
// must be written back to disk.
type Session struct {
	FS       netdisk.FileSystem
	Name     string
	Spec     backend.Spec
	Logger   *slog.Logger
	Limiter  *ratelimit.Limiter
	Registry *prometheus.Registry

	deps        backend.Deps
	closeTokens func() error
	archive     *archive.Store
	archiveFile string
}

// selectedSpec returns the backend chosen by --location, or else the
// resolved [backend.<name>] section. The name keys OAuth tokens.
func selectedSpec() (backend.Spec, string, error) {
	if flagLocation != "" {
		spec, err := backend.ParseLocation(flagLocation)
		if err != nil {
			return nil, "", err
		}

		return spec, backend.Type(spec), nil
	}

	if resolvedCfg == nil || resolvedCfg.BackendName == "" {
		names := []string{}
		if resolvedCfg != nil {
			names = resolvedCfg.BackendNames()
		}

		return nil, "", fmt.Errorf("%w: configure [backend.<name>], pass --backend or --location (have %v)",
			config.ErrNoBackend, names)
	}

	spec, err := backend.SpecFromConfig(resolvedCfg.BackendName, resolvedCfg.Backend)
	if err != nil {
		return nil, "", err
	}

	return spec, resolvedCfg.BackendName, nil
}

// newSessionDeps builds the shared collaborators for the selected backend
// without contacting it. Login and logout stop here.
func newSessionDeps(ctx context.Context, logger *slog.Logger) (*Session, error) {
	spec, name, err := selectedSpec()
	if err != nil {
		return nil, err
	}

	cfg := config.DefaultConfig()
	if resolvedCfg != nil {
		cfg = resolvedCfg.Config
	}

	kv, closeTokens, err := openTokenKV(ctx, &cfg.Tokens, logger)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()

	metrics, err := ratelimit.NewMetrics(reg, name)
	if err != nil {
		_ = closeTokens()
		return nil, err
	}

	base, limit := cfg.Limits.Backoff()
	limiter := ratelimit.New(cfg.Limits.MaxConcurrent,
		ratelimit.WithPolicy(ratelimit.Policy{
			MaxRetries: cfg.Limits.MaxRetries,
			Backoff:    ratelimit.ExponentialBackoff(base, limit),
			Retryable:  ratelimit.IsThrottled,
		}),
		ratelimit.WithRequestsPerSecond(cfg.Limits.RequestsPerSecond),
		ratelimit.WithLogger(logger),
		ratelimit.WithMetrics(metrics),
	)

	s := &Session{
		Name:        name,
		Spec:        spec,
		Logger:      logger,
		Limiter:     limiter,
		Registry:    reg,
		closeTokens: closeTokens,
		deps: backend.Deps{
			HTTPClient: httpClient(),
			Tokens:     tokenstore.NewStore(kv, logger),
			Launcher:   &auth.BrowserLauncher{OpenURL: openBrowser, Logger: logger},
			Limiter:    limiter,
			Logger:     logger,
		},
	}

	if a, ok := spec.(backend.ArchiveSpec); ok && a.File != "" {
		store, err := archive.OpenFile(a.File)
		if err != nil {
			_ = closeTokens()
			return nil, err
		}

		a.Store = store
		s.Spec = a
		s.archive = store
		s.archiveFile = a.File
	}

	return s, nil
}

// openSession builds and verifies the selected backend.
func openSession(ctx context.Context, logger *slog.Logger) (*Session, error) {
	s, err := newSessionDeps(ctx, logger)
	if err != nil {
		return nil, err
	}

	fs, err := backend.New(ctx, s.Spec, s.deps)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("opening backend %s: %w", s.Name, err)
	}

	s.FS = fs

	return s, nil
}

// Coordinator returns the OAuth token coordinator for the session's backend.
func (s *Session) Coordinator() (*auth.Coordinator, error) {
	return backend.Coordinator(s.Spec, s.deps)
}

// Persist writes an archive backend back to its file. Other backends have
// nothing to persist.
func (s *Session) Persist() error {
	if s.archive == nil {
		return nil
	}

	if err := s.archive.SaveFile(s.archiveFile); err != nil {
		return err
	}

	s.Logger.Debug("archive saved", slog.String("file", s.archiveFile))

	return nil
}

// Close releases the token store.
func (s *Session) Close() error {
	if s.closeTokens == nil {
		return nil
	}

	return s.closeTokens()
}

// openTokenKV opens the configured token backend. The returned func closes
// it.
func openTokenKV(ctx context.Context, tc *config.TokensConfig, logger *slog.Logger) (tokenstore.KV, func() error, error) {
	noop := func() error { return nil }

	switch tc.Store {
	case config.TokenStoreMemory:
		return tokenstore.NewMemoryKV(), noop, nil
	case config.TokenStoreSQLite:
		path := tc.TokenPath()
		if err := os.MkdirAll(filepath.Dir(path), tokenstore.DirPerms); err != nil {
			return nil, nil, fmt.Errorf("creating token directory: %w", err)
		}

		db, err := tokenstore.OpenSQLite(ctx, path, logger)
		if err != nil {
			return nil, nil, err
		}

		return db, db.Close, nil
	default:
		path := tc.TokenPath()
		if path == "" {
			return nil, nil, errors.New("cannot determine token directory")
		}

		return tokenstore.NewFileKV(path), noop, nil
	}
}

// openBrowser opens url in the user's default browser.
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	return cmd.Start()
}
