package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFS_EveryUpHasADown(t *testing.T) {
	entries, err := fs.ReadDir(FS, ".")
	require.NoError(t, err)

	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}

	var ups int
	for name := range names {
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		ups++
		down := strings.TrimSuffix(name, ".up.sql") + ".down.sql"
		assert.True(t, names[down], "missing %s", down)
	}
	assert.Equal(t, 2, ups)
}

func TestFS_SecretsTableHasConsumeColumns(t *testing.T) {
	b, err := fs.ReadFile(FS, "002_create_ephemeral_secrets.up.sql")
	require.NoError(t, err)
	sql := string(b)
	for _, col := range []string{"consumed ", "consumed_at", "expires_at", "secret_hash"} {
		assert.Contains(t, sql, col)
	}
}
