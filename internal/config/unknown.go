package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// backendSection is the table holding per-backend sections.
const backendSection = "backend"

// knownSectionKeys are the valid keys of each fixed section. The "" entry
// lists top-level keys and section names.
var knownSectionKeys = map[string][]string{
	"":        {"default_backend", "logging", "limits", "network", "tokens", backendSection},
	"logging": {"log_level", "log_format"},
	"limits":  {"max_concurrent", "max_retries", "base_backoff", "max_backoff", "requests_per_second"},
	"network": {"timeout"},
	"tokens":  {"store", "path"},
}

// knownBackendKeys are the valid keys inside a [backend.<name>] section.
var knownBackendKeys = []string{
	"type", "base_path",
	"client_id", "client_secret", "redirect_url", "chunk_size",
	"token",
	"url", "username", "password",
	"endpoint", "region", "bucket", "access_key", "secret_key", "session_token", "path_style",
	"file",
}

func init() {
	for _, keys := range knownSectionKeys {
		sort.Strings(keys)
	}

	sort.Strings(knownBackendKeys)
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	seen := make(map[string]bool)

	for _, key := range md.Undecoded() {
		err := unknownKeyError(key)
		if seen[err.Error()] {
			continue
		}

		seen[err.Error()] = true
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func unknownKeyError(key toml.Key) error {
	switch {
	case len(key) >= 3 && key[0] == backendSection:
		return suggest(key[2], knownBackendKeys, fmt.Sprintf(" in [backend.%s]", key[1]))
	case len(key) == 2:
		if known, ok := knownSectionKeys[key[0]]; ok {
			return suggest(key[1], known, fmt.Sprintf(" in [%s]", key[0]))
		}
	}

	return suggest(key[0], knownSectionKeys[""], "")
}

func suggest(field string, known []string, where string) error {
	if s := closestMatch(field, known); s != "" {
		return fmt.Errorf("unknown config key %q%s, did you mean %q?", field, where, s)
	}

	return fmt.Errorf("unknown config key %q%s", field, where)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		if d := levenshtein(unknown, k); d < bestDist {
			bestDist = d
			best = k
		}
	}

	return best
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// hintUnknownType wraps an unknown backend type with the closest valid one.
func hintUnknownType(name, typ string) error {
	if s := closestMatch(strings.ToLower(typ), validTypes); s != "" {
		return fmt.Errorf("backend.%s.type: unknown type %q, did you mean %q?", name, typ, s)
	}

	return fmt.Errorf("backend.%s.type: must be one of %s; got %q", name, strings.Join(validTypes, ", "), typ)
}
