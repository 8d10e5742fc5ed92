package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(`
# comment
NETDISK_TESTUTIL_A="from file"
NETDISK_TESTUTIL_B = 'quoted'
not a pair
`), 0o600))

	t.Setenv("NETDISK_TESTUTIL_B", "from env")
	t.Setenv("NETDISK_TESTUTIL_A", "")
	os.Unsetenv("NETDISK_TESTUTIL_A")

	LoadDotEnv(path)
	t.Cleanup(func() { os.Unsetenv("NETDISK_TESTUTIL_A") })

	assert.Equal(t, "from file", os.Getenv("NETDISK_TESTUTIL_A"))
	assert.Equal(t, "from env", os.Getenv("NETDISK_TESTUTIL_B"))
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	LoadDotEnv(filepath.Join(t.TempDir(), "absent"))
}

func TestCheckAllowlist(t *testing.T) {
	t.Setenv(AllowedBackendsEnv, "")
	assert.Error(t, CheckAllowlist("nas"))

	t.Setenv(AllowedBackendsEnv, "scratch, nas")
	assert.NoError(t, CheckAllowlist("nas"))
	assert.Error(t, CheckAllowlist("personal"))
}

func TestFindModuleRoot(t *testing.T) {
	root := FindModuleRoot("")
	require.NotEmpty(t, root)

	_, err := os.Stat(filepath.Join(root, "go.mod"))
	assert.NoError(t, err)
}
