package hybrid

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kiro-dev/kiro-memory/internal/config"
	"github.com/kiro-dev/kiro-memory/internal/embedding"
	"github.com/kiro-dev/kiro-memory/internal/repository"
	"github.com/kiro-dev/kiro-memory/internal/scoring"
	"github.com/kiro-dev/kiro-memory/internal/store"
	"github.com/kiro-dev/kiro-memory/internal/vectorindex"
	"github.com/kiro-dev/kiro-memory/pkg/models"
)

func newTestSearcher(t *testing.T) (*Searcher, *repository.Repository) {
	t.Helper()
	dir, err := os.MkdirTemp("", "kiro-memory-hybrid-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	s, err := store.Open(store.Config{Path: dir + "/test.db"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	repo := repository.New(s)
	embedder := embedding.NewEmbedder(&config.Config{})
	index := vectorindex.New(s, embedder)
	scorer := scoring.New(scoring.DefaultHalfLifeHours)

	return New(repo, index, embedder, scorer), repo
}

// TestSearchFallsBackToLexicalWithoutEmbedder covers spec §4.8's degraded
// path: with no embedding provider configured, Search still returns
// keyword-sourced hits ranked by the composite scorer.
func TestSearchFallsBackToLexicalWithoutEmbedder(t *testing.T) {
	searcher, repo := newTestSearcher(t)
	ctx := context.Background()

	_, err := repo.CreateObservation(ctx, models.ObservationInput{
		SessionID: "s1", Project: "p1", Type: models.ObsTypeResearch,
		Title: "investigate retry storm in queue worker", PromptNumber: 1,
	})
	require.NoError(t, err)
	_, err = repo.CreateObservation(ctx, models.ObservationInput{
		SessionID: "s1", Project: "p1", Type: models.ObsTypeResearch,
		Title: "unrelated note about styling", PromptNumber: 2,
	})
	require.NoError(t, err)

	hits, err := searcher.Search(ctx, "retry storm", "p1", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, SourceKeyword, hits[0].Source)
	require.Contains(t, hits[0].Observation.Title, "retry storm")
}

func TestSearchReturnsNilOnNoMatches(t *testing.T) {
	searcher, _ := newTestSearcher(t)
	ctx := context.Background()

	hits, err := searcher.Search(ctx, "nothing will match this", "p1", 10)
	require.NoError(t, err)
	require.Empty(t, hits)
}
