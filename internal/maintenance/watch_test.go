package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kiro-dev/kiro-memory/pkg/models"
)

func TestWatchProjectFilesNoopWhenDisabled(t *testing.T) {
	svc, _, _ := newTestService(t)
	require.NoError(t, svc.WatchProjectFiles(context.Background(), "p1"))
}

// TestWatchProjectFilesDetectsWriteEvent is spec §4.9's optional fast-path:
// enabling the watch flags an observation stale as soon as its referenced
// file is rewritten, without waiting for the periodic sweep.
func TestWatchProjectFilesDetectsWriteEvent(t *testing.T) {
	svc, repo, _ := newTestService(t)
	svc.config.MaintenanceWatchEnabled = true
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	path := filepath.Join(dir, "watched.go")
	require.NoError(t, os.WriteFile(path, []byte("package x"), 0o644))

	id, err := repo.CreateObservation(ctx, models.ObservationInput{
		SessionID: "s1", Project: "p1", Type: models.ObsTypeFileWrite,
		Title: "wrote file", FilesModified: []string{path}, PromptNumber: 1,
	})
	require.NoError(t, err)

	require.NoError(t, svc.WatchProjectFiles(ctx, "p1"))

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("package x\n// changed"), 0o644))

	deadline := time.Now().Add(2 * time.Second)
	var stale bool
	for time.Now().Before(deadline) {
		obs, err := repo.GetObservation(ctx, id)
		require.NoError(t, err)
		if obs.Stale {
			stale = true
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.True(t, stale, "expected watch to mark the observation stale")
}
