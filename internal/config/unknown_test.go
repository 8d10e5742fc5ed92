package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownKey_TopLevel(t *testing.T) {
	_, err := Load(writeTestConfig(t, "default_backnd = \"x\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "default_backnd"`)
	assert.Contains(t, err.Error(), `did you mean "default_backend"`)
}

func TestLoad_UnknownKey_InSection(t *testing.T) {
	_, err := Load(writeTestConfig(t, "[limits]\nmax_concurent = 4\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in [limits]")
	assert.Contains(t, err.Error(), `"max_concurrent"`)
}

func TestLoad_UnknownKey_InBackend(t *testing.T) {
	_, err := Load(writeTestConfig(t, "[backend.b2]\ntype = \"s3\"\nbukket = \"x\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in [backend.b2]")
	assert.Contains(t, err.Error(), `did you mean "bucket"`)
}

func TestLoad_UnknownSection_ReportedOnce(t *testing.T) {
	_, err := Load(writeTestConfig(t, "[completely_unrelated]\nfoo = 1\nbar = 2\n"))
	require.Error(t, err)
	assert.Equal(t, 1, countSubstr(err.Error(), "unknown config key"))
	assert.NotContains(t, err.Error(), "did you mean")
}

func countSubstr(s, sub string) int {
	n := 0

	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			n++
		}
	}

	return n
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"bukket", "bucket", 1},
		{"max_concurent", "max_concurrent", 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.expected, levenshtein(tt.a, tt.b))
		})
	}
}

func TestClosestMatch(t *testing.T) {
	assert.Equal(t, "secret_key", closestMatch("secretkey", knownBackendKeys))
	assert.Equal(t, "", closestMatch("completely_unrelated", knownBackendKeys))
}
