package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
)

// ErrNoBackend is returned by Resolve when no backend can be selected.
var ErrNoBackend = errors.New("config: no backend selected")

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal and come with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolved is a loaded config with one backend selected.
type Resolved struct {
	*Config
	// Path is the config file that was read (it may not exist).
	Path        string
	BackendName string
	Backend     Backend
}

// Resolve loads configuration and selects a backend.
// The config path is CLI > env > default; the backend is
// CLI > env > default_backend > the only configured backend.
// When requireBackend is false a missing selection is not an error.
func Resolve(env EnvOverrides, cli CLIOverrides, requireBackend bool) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	resolved := &Resolved{Config: cfg, Path: cfgPath}

	name := cli.Backend
	if name == "" {
		name = env.Backend
	}

	if name == "" {
		name = cfg.DefaultBackend
	}

	if name == "" && len(cfg.Backends) == 1 {
		for only := range cfg.Backends {
			name = only
		}
	}

	if name == "" {
		if requireBackend {
			return nil, fmt.Errorf("%w: configure [backend.<name>] or pass --backend (have %v)",
				ErrNoBackend, cfg.BackendNames())
		}

		return resolved, nil
	}

	b, ok := cfg.Backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: backend %q is not configured (have %v)", ErrNoBackend, name, cfg.BackendNames())
	}

	resolved.BackendName = name
	resolved.Backend = b

	return resolved, nil
}

// BackendNames returns the configured backend names, sorted.
func (c *Config) BackendNames() []string {
	names := make([]string, 0, len(c.Backends))
	for name := range c.Backends {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
