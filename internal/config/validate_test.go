package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Limits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.MaxRetries = -1
	cfg.Limits.BaseBackoff = "10s"
	cfg.Limits.MaxBackoff = "1s"
	cfg.Limits.RequestsPerSecond = -3

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_retries")
	assert.Contains(t, err.Error(), "max_backoff: must be >= base_backoff")
	assert.Contains(t, err.Error(), "requests_per_second")
}

func TestValidate_BadDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network.Timeout = "soon"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `timeout: invalid duration "soon"`)
}

func TestValidate_TimeoutZeroDisables(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network.Timeout = "0"

	require.NoError(t, Validate(cfg))
	assert.Zero(t, cfg.Network.TimeoutDuration())
}

func TestValidate_TokenStore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tokens.Store = "keychain"

	assert.ErrorContains(t, Validate(cfg), "tokens.store")
}

func TestValidate_Backends(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultBackend = "missing"
	cfg.Backends["typo"] = Backend{Type: "dropbx"}
	cfg.Backends["bad"] = Backend{Type: "webdav", URL: "not a url", ChunkSize: "lots", BasePath: `C:\data`}

	err := Validate(cfg)
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, `did you mean "dropbox"`)
	assert.Contains(t, msg, "backend.bad.url")
	assert.Contains(t, msg, "backend.bad.chunk_size")
	assert.Contains(t, msg, "backend.bad.base_path")
	assert.Contains(t, msg, `default_backend: "missing"`)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"0", 0},
		{"512", 512},
		{"10MiB", 10 * mebibyte},
		{"1.5KB", 1500},
		{"2 GiB", 2 * gibibyte},
		{"8mb", 8 * megabyte},
	}

	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"-1", "ten MB", "-2KB"} {
		_, err := ParseSize(bad)
		assert.Error(t, err, bad)
	}
}
