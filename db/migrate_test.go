package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.db")
	conn, err := Open(DriverSQLite, path, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, Migrate(conn, DriverSQLite, nil))

	versions, err := AppliedVersions(conn)
	require.NoError(t, err)
	assert.Equal(t, []string{"000", "001", "002"}, versions)

	// Tables exist
	for _, table := range []string{"scheduled_jobs", "run_records"} {
		var name string
		err := conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	conn, err := Open(DriverSQLite, ":memory:", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetMaxOpenConns(1)

	require.NoError(t, Migrate(conn, DriverSQLite, nil))
	require.NoError(t, Migrate(conn, DriverSQLite, nil))

	versions, err := AppliedVersions(conn)
	require.NoError(t, err)
	assert.Len(t, versions, 3)
}

func TestMigrate_UnknownDriver(t *testing.T) {
	conn, err := Open(DriverSQLite, ":memory:", nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Error(t, Migrate(conn, "mysql", nil))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("oracle", "whatever", nil)
	assert.Error(t, err)
}

func TestIsDatabaseClosed(t *testing.T) {
	conn, err := Open(DriverSQLite, ":memory:", nil)
	require.NoError(t, err)
	conn.Close()

	_, err = conn.Exec("SELECT 1")
	assert.True(t, IsDatabaseClosed(err))
	assert.False(t, IsDatabaseClosed(nil))
}
