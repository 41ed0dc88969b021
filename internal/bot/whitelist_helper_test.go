package bot_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/gamehost/internal/access"
)

func mustWhitelist(t *testing.T, ids ...string) *access.Whitelist {
	t.Helper()
	path := filepath.Join(t.TempDir(), "whitelist.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(ids, "\n")), 0o644))
	w, err := access.LoadWhitelist(path)
	require.NoError(t, err)
	return w
}
