package vectorindex

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kiro-dev/kiro-memory/internal/config"
	"github.com/kiro-dev/kiro-memory/internal/embedding"
	"github.com/kiro-dev/kiro-memory/internal/repository"
	"github.com/kiro-dev/kiro-memory/internal/store"
	"github.com/kiro-dev/kiro-memory/pkg/models"
)

func newTestIndex(t *testing.T) (*VectorIndex, *repository.Repository) {
	t.Helper()
	dir, err := os.MkdirTemp("", "kiro-memory-vectorindex-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	s, err := store.Open(store.Config{Path: dir + "/test.db"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	embedder := embedding.NewEmbedder(&config.Config{})
	return New(s, embedder), repository.New(s)
}

func unitVector(dims, hot int) []float32 {
	v := make([]float32, dims)
	v[hot] = 1
	return v
}

// TestSearchRespectsThreshold is spec §8 scenario 3: two orthogonal unit
// vectors, query matches one exactly (similarity 1.0) and is orthogonal to
// the other (similarity 0.0); at threshold 0.3 only the matching one comes
// back.
func TestSearchRespectsThreshold(t *testing.T) {
	idx, repo := newTestIndex(t)
	ctx := context.Background()

	match, err := repo.CreateObservation(ctx, models.ObservationInput{
		SessionID: "s1", Project: "p1", Type: models.ObsTypeFileRead, Title: "match", PromptNumber: 1,
	})
	require.NoError(t, err)
	orthogonal, err := repo.CreateObservation(ctx, models.ObservationInput{
		SessionID: "s1", Project: "p1", Type: models.ObsTypeFileRead, Title: "orthogonal", PromptNumber: 2,
	})
	require.NoError(t, err)

	require.NoError(t, idx.Put(ctx, match, unitVector(3, 0), "test"))
	require.NoError(t, idx.Put(ctx, orthogonal, unitVector(3, 1), "test"))

	hits, err := idx.Search(ctx, unitVector(3, 0), SearchOptions{Project: "p1", Threshold: 0.3})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, match, hits[0].ObservationID)
	require.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
}

func TestPutOverwritesOnConflict(t *testing.T) {
	idx, repo := newTestIndex(t)
	ctx := context.Background()

	id, err := repo.CreateObservation(ctx, models.ObservationInput{
		SessionID: "s1", Project: "p1", Type: models.ObsTypeFileRead, Title: "x", PromptNumber: 1,
	})
	require.NoError(t, err)

	require.NoError(t, idx.Put(ctx, id, unitVector(3, 0), "v1"))
	require.NoError(t, idx.Put(ctx, id, unitVector(3, 1), "v2"))

	hits, err := idx.Search(ctx, unitVector(3, 1), SearchOptions{Project: "p1", Threshold: 0.3})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
}

func TestStatsReportsCoverage(t *testing.T) {
	idx, repo := newTestIndex(t)
	ctx := context.Background()

	id1, err := repo.CreateObservation(ctx, models.ObservationInput{
		SessionID: "s1", Project: "p1", Type: models.ObsTypeFileRead, Title: "x", PromptNumber: 1,
	})
	require.NoError(t, err)
	_, err = repo.CreateObservation(ctx, models.ObservationInput{
		SessionID: "s1", Project: "p1", Type: models.ObsTypeFileRead, Title: "y", PromptNumber: 2,
	})
	require.NoError(t, err)
	require.NoError(t, idx.Put(ctx, id1, unitVector(3, 0), "test"))

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalObservations)
	require.Equal(t, 1, stats.EmbeddedCount)
	require.InDelta(t, 50.0, stats.Percentage, 1e-9)
}
