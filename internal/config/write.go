package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// configFilePermissions keeps config files private: backend sections may
// hold secrets.
const configFilePermissions = 0o600

// configDirPermissions is the permission mode for config directories.
const configDirPermissions = 0o700

// ErrBackendExists is returned by AddBackend for a name already configured.
var ErrBackendExists = errors.New("config: backend already configured")

// validBackendName restricts names to bare TOML keys.
var validBackendName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// configTemplate is written when AddBackend creates a new file. Global
// settings appear as commented-out defaults.
const configTemplate = `# netdisk-go configuration

# default_backend = ""

# [logging]
# log_level = "info"
# log_format = "auto"

# [limits]
# max_concurrent = 5
# max_retries = 10
# base_backoff = "2s"
# max_backoff = "60s"
# requests_per_second = 0

# [network]
# timeout = "60s"

# [tokens]
# store = "file"
`

// AddBackend appends a [backend.<name>] section to the config file at path,
// creating the file from a template when it does not exist. Existing text,
// comments included, is preserved.
func AddBackend(path, name string, b Backend) error {
	if !validBackendName.MatchString(name) {
		return fmt.Errorf("config: invalid backend name %q: use letters, digits, '-' and '_'", name)
	}

	if errs := validateBackend(name, &b); len(errs) > 0 {
		return errors.Join(errs...)
	}

	existing, err := os.ReadFile(path)

	switch {
	case errors.Is(err, os.ErrNotExist):
		existing = []byte(configTemplate)
	case err != nil:
		return fmt.Errorf("reading config file: %w", err)
	default:
		var cfg Config
		if _, err := toml.Decode(string(existing), &cfg); err != nil {
			return fmt.Errorf("parsing config file %s: %w", path, err)
		}

		if _, ok := cfg.Backends[name]; ok {
			return fmt.Errorf("%w: %q", ErrBackendExists, name)
		}
	}

	section, err := backendSectionText(name, b)
	if err != nil {
		return err
	}

	out := append(bytes.TrimRight(existing, "\n"), '\n')
	out = append(out, section...)

	return atomicWriteFile(path, out)
}

// RemoveBackend deletes the [backend.<name>] section from the config file.
// It reports whether a section was found.
func RemoveBackend(path, name string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	header := "[" + backendSection + "." + name + "]"

	start := -1

	for i, line := range lines {
		if strings.TrimSpace(line) == header {
			start = i

			break
		}
	}

	if start < 0 {
		return false, nil
	}

	end := len(lines)

	for i := start + 1; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "[") {
			end = i

			break
		}
	}

	// Take the blank separator line above the header with the section.
	if start > 0 && strings.TrimSpace(lines[start-1]) == "" {
		start--
	}

	kept := append(lines[:start:start], lines[end:]...)

	return true, atomicWriteFile(path, []byte(strings.Join(kept, "\n")))
}

// backendSectionText renders b as a TOML section. Empty keys are omitted.
func backendSectionText(name string, b Backend) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "\n[%s.%s]\n", backendSection, name)

	if err := toml.NewEncoder(&buf).Encode(b); err != nil {
		return nil, fmt.Errorf("encoding backend %q: %w", name, err)
	}

	return buf.Bytes(), nil
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it over path so a crash never leaves a partial file.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
