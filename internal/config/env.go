package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig  = "NETDISK_GO_CONFIG"
	EnvBackend = "NETDISK_GO_BACKEND"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // NETDISK_GO_CONFIG: override config file path
	Backend    string // NETDISK_GO_BACKEND: selected backend name
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Backend:    os.Getenv(EnvBackend),
	}
}
