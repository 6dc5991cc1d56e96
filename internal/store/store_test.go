package store

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "kiro-memory-open-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	s, err := Open(Config{Path: tmpDir + "/test.db"})
	require.NoError(t, err)
	defer s.Close()

	assert.NoError(t, s.Ping())
}

func TestOpen_AppliesMigrations(t *testing.T) {
	s, cleanup := testStore(t)
	defer cleanup()

	var count int
	err := s.DB().QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_versions'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_PrepareCachesStatement(t *testing.T) {
	s, cleanup := testStore(t)
	defer cleanup()

	stmt1, err := s.Prepare("SELECT 1")
	require.NoError(t, err)
	stmt2, err := s.Prepare("SELECT 1")
	require.NoError(t, err)
	assert.Same(t, stmt1, stmt2)
}

func TestStore_ExecAndQueryContext(t *testing.T) {
	s, cleanup := testStore(t)
	defer cleanup()

	ctx := context.Background()
	_, err := s.ExecContext(ctx, `INSERT INTO project_aliases (project_name, display_name, created_at) VALUES (?, ?, ?)`,
		"proj", "Project Display", "2026-01-01T00:00:00Z")
	require.NoError(t, err)

	rows, err := s.QueryContext(ctx, `SELECT display_name FROM project_aliases WHERE project_name = ?`, "proj")
	require.NoError(t, err)
	defer rows.Close()

	require.True(t, rows.Next())
	var name string
	require.NoError(t, rows.Scan(&name))
	assert.Equal(t, "Project Display", name)
}

func TestStore_QueryRowContext(t *testing.T) {
	s, cleanup := testStore(t)
	defer cleanup()

	var one int
	err := s.QueryRowContext(context.Background(), "SELECT 1").Scan(&one)
	require.NoError(t, err)
	assert.Equal(t, 1, one)
}

func TestStore_TransactionCommitsOnSuccess(t *testing.T) {
	s, cleanup := testStore(t)
	defer cleanup()

	err := s.Transaction(context.Background(), func(tx *sql.Tx) error {
		_, execErr := tx.Exec(`INSERT INTO project_aliases (project_name, display_name, created_at) VALUES (?, ?, ?)`,
			"proj", "Display", "2026-01-01T00:00:00Z")
		return execErr
	})
	require.NoError(t, err)

	var count int
	err = s.DB().QueryRow("SELECT COUNT(*) FROM project_aliases").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_TransactionRollsBackOnError(t *testing.T) {
	s, cleanup := testStore(t)
	defer cleanup()

	err := s.Transaction(context.Background(), func(tx *sql.Tx) error {
		_, execErr := tx.Exec(`INSERT INTO project_aliases (project_name, display_name, created_at) VALUES (?, ?, ?)`,
			"proj", "Display", "2026-01-01T00:00:00Z")
		if execErr != nil {
			return execErr
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	var count int
	queryErr := s.DB().QueryRow("SELECT COUNT(*) FROM project_aliases").Scan(&count)
	require.NoError(t, queryErr)
	assert.Equal(t, 0, count)
}

func TestStore_Close(t *testing.T) {
	s, cleanup := testStore(t)
	defer cleanup()

	require.NoError(t, s.Close())
	assert.Error(t, s.Ping())
}

func TestNowEpochMillis(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, ts.UnixMilli(), NowEpochMillis(ts))
}
