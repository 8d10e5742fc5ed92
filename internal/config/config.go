// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for netdisk-go. Values resolve through
// defaults -> config file -> environment -> CLI flags.
package config

// Backend types accepted in a [backend.<name>] section.
const (
	TypeOneDrive = "onedrive"
	TypeGDrive   = "gdrive"
	TypeDropbox  = "dropbox"
	TypeYandex   = "yandex"
	TypeS3       = "s3"
	TypeWebDAV   = "webdav"
	TypeArchive  = "archive"
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	// DefaultBackend names the backend used when none is selected.
	DefaultBackend string             `toml:"default_backend"`
	Logging        LoggingConfig      `toml:"logging"`
	Limits         LimitsConfig       `toml:"limits"`
	Network        NetworkConfig      `toml:"network"`
	Tokens         TokensConfig       `toml:"tokens"`
	Backends       map[string]Backend `toml:"backend"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// LimitsConfig configures the per-backend rate limiter.
type LimitsConfig struct {
	MaxConcurrent     int     `toml:"max_concurrent"`
	MaxRetries        int     `toml:"max_retries"`
	BaseBackoff       string  `toml:"base_backoff"`
	MaxBackoff        string  `toml:"max_backoff"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// NetworkConfig controls the HTTP client.
type NetworkConfig struct {
	Timeout string `toml:"timeout"`
}

// TokensConfig selects where OAuth tokens are persisted.
type TokensConfig struct {
	// Store is "file", "sqlite" or "memory".
	Store string `toml:"store"`
	// Path is the token directory (file) or database (sqlite). Empty uses
	// the platform data directory.
	Path string `toml:"path"`
}

// Backend is one [backend.<name>] section. Which keys apply depends on Type.
type Backend struct {
	Type     string `toml:"type"`
	BasePath string `toml:"base_path,omitempty"`

	// OAuth drives (onedrive, gdrive, dropbox).
	ClientID     string `toml:"client_id,omitempty"`
	ClientSecret string `toml:"client_secret,omitempty"`
	RedirectURL  string `toml:"redirect_url,omitempty"`
	ChunkSize    string `toml:"chunk_size,omitempty"`

	// yandex.
	Token string `toml:"token,omitempty"`

	// webdav.
	URL      string `toml:"url,omitempty"`
	Username string `toml:"username,omitempty"`
	Password string `toml:"password,omitempty"`

	// s3.
	Endpoint     string `toml:"endpoint,omitempty"`
	Region       string `toml:"region,omitempty"`
	Bucket       string `toml:"bucket,omitempty"`
	AccessKey    string `toml:"access_key,omitempty"`
	SecretKey    string `toml:"secret_key,omitempty"`
	SessionToken string `toml:"session_token,omitempty"`
	PathStyle    bool   `toml:"path_style,omitempty"`

	// archive.
	File string `toml:"file,omitempty"`
}

// CLIOverrides holds values from CLI flags. Empty strings mean the flag
// was not given.
type CLIOverrides struct {
	ConfigPath string // --config
	Backend    string // --backend
}
