// Package testutil holds environment helpers for the end-to-end tests. It
// depends only on the standard library so the e2e package, which drives the
// built binary, stays independent of internal/.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AllowedBackendsEnv lists the backend names e2e tests may write to.
const AllowedBackendsEnv = "NETDISK_E2E_ALLOWED_BACKENDS"

// LoadDotEnv reads KEY=VALUE pairs from envPath. A missing file is not an
// error. Variables already set in the environment win.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}
}

// CheckAllowlist returns an error unless backend appears in the
// comma-separated AllowedBackendsEnv list. It keeps a stray environment
// variable from pointing destructive tests at a personal account.
func CheckAllowlist(backend string) error {
	allowlist := os.Getenv(AllowedBackendsEnv)
	if allowlist == "" {
		return fmt.Errorf("%s is not set", AllowedBackendsEnv)
	}

	for _, a := range strings.Split(allowlist, ",") {
		if strings.TrimSpace(a) == backend {
			return nil
		}
	}

	return fmt.Errorf("backend %q is not in %s=%q", backend, AllowedBackendsEnv, allowlist)
}

// FindModuleRoot walks up from the working directory to the nearest go.mod,
// returning fallback when there is none.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}
