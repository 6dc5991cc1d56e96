package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kiro-dev/kiro-memory/internal/repository"
	"github.com/kiro-dev/kiro-memory/internal/store"
	"github.com/kiro-dev/kiro-memory/pkg/models"
)

func newTestService(t *testing.T) (*Service, string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "data", "test.db")
	require.NoError(t, os.MkdirAll(filepath.Dir(dbPath), 0o755))
	backupDir := filepath.Join(dir, "backups")

	s, err := store.Open(store.Config{Path: dbPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	repo := repository.New(s)
	_, err = repo.CreateObservation(context.Background(), models.ObservationInput{
		SessionID: "s1", Project: "p1", Type: models.ObsTypeFileRead, Title: "x", PromptNumber: 1,
	})
	require.NoError(t, err)

	return New(s, dbPath, backupDir), dbPath, backupDir
}

func TestCreateWritesSnapshotAndMeta(t *testing.T) {
	svc, _, backupDir := newTestService(t)

	entry, err := svc.Create(context.Background())
	require.NoError(t, err)
	require.FileExists(t, entry.Path)
	require.FileExists(t, metaPath(entry.Path))
	require.Equal(t, 1, entry.Meta.Stats.Observations)
	require.Equal(t, schemaVersionTag, entry.Meta.SchemaVersion)
	require.Contains(t, entry.Path, backupDir)
}

func TestListOrdersNewestFirst(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := svc.Create(ctx)
	require.NoError(t, err)

	entries, err := svc.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, second.Path, entries[0].Path)
	require.Equal(t, first.Path, entries[1].Path)
}

func TestRotateKeepsOnlyMostRecent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	removed, err := svc.Rotate(1)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	entries, err := svc.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRotateRejectsNonPositiveMaxKeep(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Rotate(0)
	require.ErrorIs(t, err, ErrInvalidMaxKeep)
}

func TestRestoreReplacesDatabaseFile(t *testing.T) {
	svc, dbPath, _ := newTestService(t)
	ctx := context.Background()

	entry, err := svc.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(dbPath, []byte("corrupted"), 0o644))

	require.NoError(t, svc.Restore(entry.Path, dbPath))

	restored, err := os.ReadFile(dbPath)
	require.NoError(t, err)
	original, err := os.ReadFile(entry.Path)
	require.NoError(t, err)
	require.Equal(t, original, restored)
}
