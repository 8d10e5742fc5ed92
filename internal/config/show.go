package config

import (
	"fmt"
	"io"
	"net/url"
)

// redacted replaces secrets in rendered output.
const redacted = "********"

// RenderEffective writes the resolved configuration as an annotated summary
// to w. Secrets are never printed.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (%s)\n\n", r.Path)

	if r.BackendName != "" {
		ew.printf("[backend.%s]\n", r.BackendName)
		renderBackend(ew, &r.Backend)
		ew.printf("\n")
	}

	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", r.Logging.LogLevel)
	ew.printf("  log_format = %q\n\n", r.Logging.LogFormat)

	ew.printf("[limits]\n")
	ew.printf("  max_concurrent      = %d\n", r.Limits.MaxConcurrent)
	ew.printf("  max_retries         = %d\n", r.Limits.MaxRetries)
	ew.printf("  base_backoff        = %q\n", r.Limits.BaseBackoff)
	ew.printf("  max_backoff         = %q\n", r.Limits.MaxBackoff)
	ew.printf("  requests_per_second = %g\n\n", r.Limits.RequestsPerSecond)

	ew.printf("[network]\n")
	ew.printf("  timeout = %q\n\n", r.Network.Timeout)

	ew.printf("[tokens]\n")
	ew.printf("  store = %q\n", r.Tokens.Store)
	ew.printf("  path  = %q\n", r.Tokens.TokenPath())

	return ew.err
}

func renderBackend(ew *errWriter, b *Backend) {
	r := b.Redacted()

	fields := []struct{ key, value string }{
		{"type", r.Type},
		{"base_path", r.BasePath},
		{"client_id", r.ClientID},
		{"client_secret", r.ClientSecret},
		{"redirect_url", r.RedirectURL},
		{"chunk_size", r.ChunkSize},
		{"token", r.Token},
		{"url", r.URL},
		{"username", r.Username},
		{"password", r.Password},
		{"endpoint", r.Endpoint},
		{"region", r.Region},
		{"bucket", r.Bucket},
		{"access_key", r.AccessKey},
		{"secret_key", r.SecretKey},
		{"session_token", r.SessionToken},
		{"file", r.File},
	}

	for _, f := range fields {
		if f.value != "" {
			ew.printf("  %-13s = %q\n", f.key, f.value)
		}
	}

	if r.PathStyle {
		ew.printf("  %-13s = true\n", "path_style")
	}
}

// Redacted returns a copy of b with secrets masked, including a password
// embedded in url.
func (b Backend) Redacted() Backend {
	mask := func(s string) string {
		if s == "" {
			return ""
		}

		return redacted
	}

	b.ClientSecret = mask(b.ClientSecret)
	b.Token = mask(b.Token)
	b.Password = mask(b.Password)
	b.SecretKey = mask(b.SecretKey)
	b.SessionToken = mask(b.SessionToken)

	if u, err := url.Parse(b.URL); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), redacted)
			b.URL = u.String()
		}
	}

	return b
}

// Redacted returns a copy of r, every backend included, that is safe to
// print.
func (r *Resolved) Redacted() *Resolved {
	cfg := *r.Config
	cfg.Backends = make(map[string]Backend, len(r.Backends))

	for name, b := range r.Backends {
		cfg.Backends[name] = b.Redacted()
	}

	out := *r
	out.Config = &cfg
	out.Backend = r.Backend.Redacted()

	return &out
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
