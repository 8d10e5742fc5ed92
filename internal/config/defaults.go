package config

import (
	"time"

	"github.com/tonimelisma/netdisk-go/internal/ratelimit"
)

// Default values for configuration options.
const (
	defaultLogLevel    = "info"
	defaultLogFormat   = "auto"
	defaultBaseBackoff = "2s"
	defaultMaxBackoff  = "60s"
	defaultTimeout     = "60s"
	defaultTokenStore  = TokenStoreFile
)

// Token store kinds.
const (
	TokenStoreFile   = "file"
	TokenStoreSQLite = "sqlite"
	TokenStoreMemory = "memory"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Limits: LimitsConfig{
			MaxConcurrent: ratelimit.DefaultMaxConcurrent,
			MaxRetries:    ratelimit.DefaultMaxRetries,
			BaseBackoff:   defaultBaseBackoff,
			MaxBackoff:    defaultMaxBackoff,
		},
		Network: NetworkConfig{
			Timeout: defaultTimeout,
		},
		Tokens: TokensConfig{
			Store: defaultTokenStore,
		},
		Backends: make(map[string]Backend),
	}
}

// Backoff returns the parsed backoff bounds. Values are validated on load;
// unparseable ones fall back to the ratelimit defaults.
func (l *LimitsConfig) Backoff() (base, limit time.Duration) {
	base, err := time.ParseDuration(l.BaseBackoff)
	if err != nil {
		base = ratelimit.DefaultBaseBackoff
	}

	limit, err = time.ParseDuration(l.MaxBackoff)
	if err != nil {
		limit = ratelimit.DefaultMaxBackoff
	}

	return base, limit
}

// TimeoutDuration returns the parsed HTTP timeout, zero meaning none.
func (n *NetworkConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(n.Timeout)
	if err != nil {
		return 0
	}

	return d
}
