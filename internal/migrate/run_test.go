package migrate

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFiles_SortedAndVersioned(t *testing.T) {
	files, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, files)

	assert.Equal(t, "0001_jobs_results", files[0].versionStr)
	for i := 1; i < len(files); i++ {
		assert.Less(t, files[i-1].versionStr, files[i].versionStr)
	}
}

func TestMigrationFiles_Readable(t *testing.T) {
	files, err := migrationFiles()
	require.NoError(t, err)
	for _, f := range files {
		body, readErr := migrationsFS.ReadFile("migrations/" + f.file)
		require.NoError(t, readErr, f.file)
		assert.NotEmpty(t, body, f.file)
	}
}

// Compile-time checks that both handle kinds satisfy the migration queryer.
var (
	_ queryer = (*sql.DB)(nil)
	_ queryer = (*sql.Conn)(nil)
)
