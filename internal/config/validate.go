package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validation range constants.
const (
	minConcurrent = 1
	maxConcurrent = 64
	maxRetries    = 100
	minTimeout    = time.Second
)

var validTypes = []string{TypeArchive, TypeDropbox, TypeGDrive, TypeOneDrive, TypeS3, TypeWebDAV, TypeYandex}

// Validate checks all configuration values and returns all errors found.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateLimits(&cfg.Limits)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateTokens(&cfg.Tokens)...)

	for _, name := range cfg.BackendNames() {
		b := cfg.Backends[name]
		errs = append(errs, validateBackend(name, &b)...)
	}

	if cfg.DefaultBackend != "" {
		if _, ok := cfg.Backends[cfg.DefaultBackend]; !ok {
			errs = append(errs, fmt.Errorf("default_backend: %q is not a configured backend", cfg.DefaultBackend))
		}
	}

	return errors.Join(errs...)
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validLogFormats = map[string]bool{"auto": true, "text": true, "json": true}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateLimits(l *LimitsConfig) []error {
	var errs []error

	if l.MaxConcurrent < minConcurrent || l.MaxConcurrent > maxConcurrent {
		errs = append(errs, fmt.Errorf("max_concurrent: must be between %d and %d, got %d",
			minConcurrent, maxConcurrent, l.MaxConcurrent))
	}

	if l.MaxRetries < 0 || l.MaxRetries > maxRetries {
		errs = append(errs, fmt.Errorf("max_retries: must be between 0 and %d, got %d", maxRetries, l.MaxRetries))
	}

	base, err := validateDuration("base_backoff", l.BaseBackoff, 0)
	if err != nil {
		errs = append(errs, err)
	}

	limit, err := validateDuration("max_backoff", l.MaxBackoff, 0)
	if err != nil {
		errs = append(errs, err)
	}

	if base > 0 && limit > 0 && limit < base {
		errs = append(errs, fmt.Errorf("max_backoff: must be >= base_backoff (%s), got %s", base, limit))
	}

	if l.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("requests_per_second: must be >= 0, got %g", l.RequestsPerSecond))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	if n.Timeout == "0" {
		return nil
	}

	if _, err := validateDuration("timeout", n.Timeout, minTimeout); err != nil {
		return []error{err}
	}

	return nil
}

func validateTokens(t *TokensConfig) []error {
	switch t.Store {
	case TokenStoreFile, TokenStoreSQLite, TokenStoreMemory:
		return nil
	default:
		return []error{fmt.Errorf("tokens.store: must be one of file, sqlite, memory; got %q", t.Store)}
	}
}

// validateBackend checks what can be checked without knowing the backend
// package; required fields are enforced when the backend is built.
func validateBackend(name string, b *Backend) []error {
	var errs []error

	known := false

	for _, t := range validTypes {
		if b.Type == t {
			known = true
		}
	}

	if !known {
		errs = append(errs, hintUnknownType(name, b.Type))
	}

	if b.ChunkSize != "" {
		if _, err := ParseSize(b.ChunkSize); err != nil {
			errs = append(errs, fmt.Errorf("backend.%s.chunk_size: %w", name, err))
		}
	}

	urls := []struct{ field, raw string }{
		{"url", b.URL},
		{"endpoint", b.Endpoint},
		{"redirect_url", b.RedirectURL},
	}

	for _, u := range urls {
		if u.raw == "" {
			continue
		}

		if parsed, err := url.Parse(u.raw); err != nil || parsed.Scheme == "" || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("backend.%s.%s: must be an absolute URL", name, u.field))
		}
	}

	if strings.ContainsRune(b.BasePath, '\\') {
		errs = append(errs, fmt.Errorf("backend.%s.base_path: use forward slashes, got %q", name, b.BasePath))
	}

	return errs
}

// validateDuration parses value and checks it meets a minimum.
func validateDuration(field, value string, minimum time.Duration) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return 0, fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return d, nil
}
