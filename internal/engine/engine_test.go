package engine

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kiro-dev/kiro-memory/internal/config"
	"github.com/kiro-dev/kiro-memory/pkg/models"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir, err := os.MkdirTemp("", "kiro-memory-engine-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	cfg := config.Default()
	cfg.DataDir = dir
	cfg.DBPath = dir + "/engine.db"
	cfg.BackupDir = dir + "/backups"
	cfg.MaintenanceEnabled = false

	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestStoreObservationAndGetContext(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	id, err := e.StoreObservation(ctx, models.ObservationInput{
		SessionID: "s1", Project: "p1", Type: models.ObsTypeFileRead,
		Title: "read config.go", PromptNumber: 1,
	})
	require.NoError(t, err)
	require.Positive(t, id)

	result, err := e.GetContext(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, result.RecentObservations, 1)
	require.Equal(t, "read config.go", result.RecentObservations[0].Title)
}

func TestStoreObservationDedupsWithinWindow(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	in := models.ObservationInput{
		SessionID: "s1", Project: "p1", Type: models.ObsTypeFileRead,
		Title: "read config.go", Narrative: "n", PromptNumber: 1,
	}
	id1, err := e.StoreObservation(ctx, in)
	require.NoError(t, err)
	require.Positive(t, id1)

	id2, err := e.StoreObservation(ctx, in)
	require.NoError(t, err)
	require.Equal(t, int64(-1), id2)
}

func TestStoreKnowledgeRejectsNonKnowledgeType(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.StoreKnowledge(ctx, KnowledgeInput{
		SessionID: "s1", Project: "p1", KnowledgeType: models.ObsTypeFileRead, Title: "x",
	})
	require.Error(t, err)
}

func TestStoreKnowledgePersistsFacts(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	id, err := e.StoreKnowledge(ctx, KnowledgeInput{
		SessionID: "s1", Project: "p1", KnowledgeType: models.ObsTypeConstraint,
		Title: "must use WAL mode", Facts: models.KnowledgeFacts{Constraint: "must use WAL mode", Importance: 4},
	})
	require.NoError(t, err)
	require.Positive(t, id)

	obs, err := e.Repository().GetObservation(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, obs)
	require.True(t, models.IsKnowledgeType(obs.Type))
}

func TestGetOrCreateSessionIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	first, err := e.GetOrCreateSession(ctx, "ext-1", "p1")
	require.NoError(t, err)

	second, err := e.GetOrCreateSession(ctx, "ext-1", "p1")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestCreateAndFetchCheckpoint(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.StoreObservation(ctx, models.ObservationInput{
		SessionID: "s1", Project: "p1", Type: models.ObsTypeFileRead, Title: "x", PromptNumber: 1,
	})
	require.NoError(t, err)

	id, err := e.CreateCheckpoint(ctx, CheckpointInput{
		SessionID: "s1", Project: "p1", Task: "wire engine", Progress: "halfway",
	})
	require.NoError(t, err)

	fetched, err := e.GetCheckpoint(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	require.Equal(t, "wire engine", fetched.Task)

	latest, err := e.GetLatestProjectCheckpoint(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, id, latest.ID)
}

func TestGenerateReportCountsObservations(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	titles := []string{"read a.go", "read b.go", "read c.go"}
	for i, title := range titles {
		id, err := e.StoreObservation(ctx, models.ObservationInput{
			SessionID: "s1", Project: "p1", Type: models.ObsTypeFileRead,
			Title: title, PromptNumber: i,
		})
		require.NoError(t, err)
		require.NotEqual(t, int64(-1), id)
	}

	report, err := e.GenerateReport(ctx, ReportOptions{Project: "p1"})
	require.NoError(t, err)
	require.Equal(t, 3, report.TotalObservations)
}
