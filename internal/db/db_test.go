// Package db tests for database connection management.
package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOpen verifies database opening with proper configuration.
func TestOpen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	database, err := Open(dir)
	require.NoError(t, err)
	defer database.Close()

	assert.Equal(t, filepath.Join(dir, FileName), database.Path())
	_, err = os.Stat(database.Path())
	require.NoError(t, err, "database file was not created")

	var walMode string
	require.NoError(t, database.QueryRow("PRAGMA journal_mode").Scan(&walMode))
	assert.Equal(t, "wal", walMode)

	var count int
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM kv_store").Scan(&count))
	assert.Equal(t, 0, count)
}

// TestOpen_reopen keeps data and does not re-run migrations.
func TestOpen_reopen(t *testing.T) {
	dir := t.TempDir()

	first, err := Open(dir)
	require.NoError(t, err)
	_, err = first.Exec("INSERT INTO kv_store (key, kind, value, updated_at) VALUES ('k', 'string', 'v', 1)")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(dir)
	require.NoError(t, err)
	defer second.Close()

	var value string
	require.NoError(t, second.QueryRow("SELECT value FROM kv_store WHERE key = 'k'").Scan(&value))
	assert.Equal(t, "v", value)
}
