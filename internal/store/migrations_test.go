package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMigrationManager(t *testing.T) {
	db, _, cleanup := testDB(t)
	defer cleanup()

	manager := NewMigrationManager(db)
	require.NotNil(t, manager)
	assert.Equal(t, db, manager.db)
}

func TestMigrationManager_EnsureSchemaVersionsTable(t *testing.T) {
	db, _, cleanup := testDB(t)
	defer cleanup()

	manager := NewMigrationManager(db)

	err := manager.EnsureSchemaVersionsTable()
	require.NoError(t, err)

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM schema_versions").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	err = manager.EnsureSchemaVersionsTable()
	require.NoError(t, err)
}

func TestMigrationManager_GetAppliedVersions_Empty(t *testing.T) {
	db, _, cleanup := testDB(t)
	defer cleanup()

	manager := NewMigrationManager(db)
	require.NoError(t, manager.EnsureSchemaVersionsTable())

	versions, err := manager.GetAppliedVersions()
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestMigrationManager_GetAppliedVersions_WithVersions(t *testing.T) {
	db, _, cleanup := testDB(t)
	defer cleanup()

	manager := NewMigrationManager(db)
	require.NoError(t, manager.EnsureSchemaVersionsTable())

	_, err := db.Exec("INSERT INTO schema_versions (version, name, applied_at) VALUES (1, 'a', '2025-01-01T00:00:00Z')")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO schema_versions (version, name, applied_at) VALUES (2, 'b', '2025-01-02T00:00:00Z')")
	require.NoError(t, err)

	versions, err := manager.GetAppliedVersions()
	require.NoError(t, err)
	assert.Len(t, versions, 2)
	assert.True(t, versions[1])
	assert.True(t, versions[2])
	assert.False(t, versions[3])
}

func TestMigrationManager_ApplyMigration(t *testing.T) {
	db, _, cleanup := testDB(t)
	defer cleanup()

	manager := NewMigrationManager(db)
	require.NoError(t, manager.EnsureSchemaVersionsTable())

	migration := Migration{
		Version: 100,
		Name:    "test_migration",
		SQL:     "CREATE TABLE test_table (id INTEGER PRIMARY KEY, name TEXT)",
	}

	require.NoError(t, manager.ApplyMigration(migration))

	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='test_table'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var version int
	err = db.QueryRow("SELECT version FROM schema_versions WHERE version = 100").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 100, version)
}

func TestMigrationManager_ApplyMigration_InvalidSQL(t *testing.T) {
	db, _, cleanup := testDB(t)
	defer cleanup()

	manager := NewMigrationManager(db)
	require.NoError(t, manager.EnsureSchemaVersionsTable())

	migration := Migration{
		Version: 100,
		Name:    "invalid_migration",
		SQL:     "INVALID SQL SYNTAX",
	}

	err := manager.ApplyMigration(migration)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "execute migration 100")

	// Failed migration must not be recorded (schema stays at previous version).
	var count int
	_ = db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = 100").Scan(&count)
	assert.Equal(t, 0, count)
}

func TestMigrationManager_RunMigrations_AppliesAll(t *testing.T) {
	db, _, cleanup := testDB(t)
	defer cleanup()

	manager := NewMigrationManager(db)
	require.NoError(t, manager.RunMigrations())

	versions, err := manager.GetAppliedVersions()
	require.NoError(t, err)
	for _, m := range Migrations {
		assert.True(t, versions[m.Version], "migration %d (%s) should be applied", m.Version, m.Name)
	}

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='observations'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMigrationManager_RunMigrations_SkipsApplied(t *testing.T) {
	db, _, cleanup := testDB(t)
	defer cleanup()

	manager := NewMigrationManager(db)
	require.NoError(t, manager.RunMigrations())
	require.NoError(t, manager.RunMigrations()) // idempotent re-run

	versions, err := manager.GetAppliedVersions()
	require.NoError(t, err)
	assert.Len(t, versions, len(Migrations))
}

func TestMigrations_List(t *testing.T) {
	assert.NotEmpty(t, Migrations)

	seen := make(map[int]bool)
	lastVersion := 0
	for i, m := range Migrations {
		assert.Greater(t, m.Version, 0, "migration %d has invalid version", i)
		assert.NotEmpty(t, m.Name, "migration %d has empty name", i)
		assert.NotEmpty(t, m.SQL, "migration %d has empty SQL", i)
		assert.False(t, seen[m.Version], "duplicate migration version %d", m.Version)
		assert.Greater(t, m.Version, lastVersion, "migrations must be strictly increasing")
		seen[m.Version] = true
		lastVersion = m.Version
	}
}

func TestMigrations_ObservationsFTSTriggersSync(t *testing.T) {
	s, cleanup := testStore(t)
	defer cleanup()

	_, err := s.DB().Exec(`INSERT INTO observations
		(session_id, project, type, title, text, narrative, concepts, content_hash, auto_category, created_at, created_at_epoch)
		VALUES ('s1', 'proj', 'decision', 'Use SQLite for storage', 'body text', 'chose sqlite', 'storage,db', 'abc123', 'architecture', '2026-01-01T00:00:00Z', 1)`)
	require.NoError(t, err)

	var rowid int64
	err = s.DB().QueryRow(`SELECT rowid FROM observations_fts WHERE observations_fts MATCH 'sqlite'`).Scan(&rowid)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rowid)

	_, err = s.DB().Exec(`DELETE FROM observations WHERE id = 1`)
	require.NoError(t, err)

	var count int
	err = s.DB().QueryRow(`SELECT COUNT(*) FROM observations_fts WHERE observations_fts MATCH 'sqlite'`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
