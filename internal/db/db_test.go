package db

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderMigrationSubstitutesEmbedDim(t *testing.T) {
	rendered := renderMigration("embedding vector({EMBED_DIM}) NOT NULL", 768)
	require.Equal(t, "embedding vector(768) NOT NULL", rendered)
}

func TestInitMigrationCarriesEmbedDimPlaceholder(t *testing.T) {
	content, err := fs.ReadFile(migrationsFS, "migrations/0001_init.sql")
	require.NoError(t, err)
	require.Contains(t, string(content), "vector({EMBED_DIM})")
	require.NotContains(t, string(content), "vector(512)", "the dimension comes from config, not the schema file")

	rendered := renderMigration(string(content), 512)
	require.Contains(t, rendered, "vector(512)")
	require.NotContains(t, rendered, "{EMBED_DIM}")
}
