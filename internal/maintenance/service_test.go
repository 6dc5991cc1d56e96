package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kiro-dev/kiro-memory/internal/config"
	"github.com/kiro-dev/kiro-memory/internal/repository"
	"github.com/kiro-dev/kiro-memory/internal/store"
	"github.com/kiro-dev/kiro-memory/pkg/models"
)

func newTestService(t *testing.T) (*Service, *repository.Repository, *store.Store) {
	t.Helper()
	dir, err := os.MkdirTemp("", "kiro-memory-maintenance-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	s, err := store.Open(store.Config{Path: dir + "/test.db"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	repo := repository.New(s)
	cfg := &config.Config{
		RetentionObservationsMaxAgeDays: 30,
		RetentionKnowledgeMaxAgeDays:    30,
		ConsolidateMinGroupSize:         3,
		StaleDetectionLimit:             500,
	}
	return New(repo, cfg, zerolog.Nop()), repo, s
}

// TestDetectStaleFlagsModifiedFiles is spec §4.9's stale-detection property:
// an observation referencing a file whose mtime is newer than the
// observation's creation time gets flagged stale.
func TestDetectStaleFlagsModifiedFiles(t *testing.T) {
	svc, repo, s := newTestService(t)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "touched.go")
	require.NoError(t, os.WriteFile(path, []byte("package x"), 0o644))

	id, err := repo.CreateObservation(ctx, models.ObservationInput{
		SessionID: "s1", Project: "p1", Type: models.ObsTypeFileWrite,
		Title: "wrote file", FilesModified: []string{path}, PromptNumber: 1,
	})
	require.NoError(t, err)

	// Backdate the observation so the file's current mtime is newer.
	_, err = s.DB().ExecContext(ctx,
		`UPDATE observations SET created_at_epoch = created_at_epoch - 60000 WHERE id = ?`, id)
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(path, time.Now(), time.Now()))

	count, err := svc.DetectStale(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	obs, err := repo.GetObservation(ctx, id)
	require.NoError(t, err)
	require.True(t, obs.Stale)
}

func TestDetectStaleIgnoresMissingFiles(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	_, err := repo.CreateObservation(ctx, models.ObservationInput{
		SessionID: "s1", Project: "p1", Type: models.ObsTypeFileWrite,
		Title: "wrote file", FilesModified: []string{"/does/not/exist.go"}, PromptNumber: 1,
	})
	require.NoError(t, err)

	count, err := svc.DetectStale(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestRunRetentionAppliesConfiguredPolicy(t *testing.T) {
	svc, repo, s := newTestService(t)
	ctx := context.Background()

	id, err := repo.CreateObservation(ctx, models.ObservationInput{
		SessionID: "s1", Project: "p1", Type: models.ObsTypeFileRead,
		Title: "old", PromptNumber: 1,
	})
	require.NoError(t, err)

	fortyDaysMS := int64(40) * 24 * 60 * 60 * 1000
	_, err = s.DB().ExecContext(ctx,
		`UPDATE observations SET created_at_epoch = created_at_epoch - ? WHERE id = ?`, fortyDaysMS, id)
	require.NoError(t, err)

	result := svc.RunRetention(ctx)
	require.Equal(t, 1, result.Observations)

	gone, err := repo.GetObservation(ctx, id)
	require.NoError(t, err)
	require.Nil(t, gone)
}
