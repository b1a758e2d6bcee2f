package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyMigrations_Idempotent(t *testing.T) {
	conn, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, ApplyMigrations(conn))
	require.NoError(t, ApplyMigrations(conn))

	var name string
	err = conn.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'upload_events'").Scan(&name)
	require.NoError(t, err)
	require.Equal(t, "upload_events", name)
}
