package contexter

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kiro-dev/kiro-memory/internal/config"
	"github.com/kiro-dev/kiro-memory/internal/repository"
	"github.com/kiro-dev/kiro-memory/internal/scoring"
	"github.com/kiro-dev/kiro-memory/internal/store"
	"github.com/kiro-dev/kiro-memory/pkg/models"
)

func newTestContexter(t *testing.T, budget int) (*Contexter, *repository.Repository) {
	t.Helper()
	dir, err := os.MkdirTemp("", "kiro-memory-contexter-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	s, err := store.Open(store.Config{Path: dir + "/test.db"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	repo := repository.New(s)
	scorer := scoring.New(scoring.DefaultHalfLifeHours)
	cfg := &config.Config{ContextTokenBudget: budget}
	// search is only consulted when Options.Query is non-empty; every test
	// here exercises the recency/knowledge-split path, so nil is safe.
	return New(repo, nil, scorer, cfg), repo
}

// TestGetSmartContextPutsKnowledgeFirst is spec §4.12's ordering property:
// without a query, knowledge-type observations are emitted before
// non-knowledge ones regardless of recency.
func TestGetSmartContextPutsKnowledgeFirst(t *testing.T) {
	c, repo := newTestContexter(t, 100000)
	ctx := context.Background()

	_, err := repo.CreateObservation(ctx, models.ObservationInput{
		SessionID: "s1", Project: "p1", Type: models.ObsTypeFileRead,
		Title: "recent read", PromptNumber: 1,
	})
	require.NoError(t, err)
	_, err = repo.CreateObservation(ctx, models.ObservationInput{
		SessionID: "s1", Project: "p1", Type: models.ObsTypeConstraint,
		Title: "older constraint", PromptNumber: 2,
	})
	require.NoError(t, err)

	result, err := c.GetSmartContext(ctx, "p1", Options{})
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	require.Equal(t, models.ObsTypeConstraint, result.Items[0].Observation.Type)
}

// TestGetSmartContextRespectsTokenBudget is spec §4.12's greedy packer:
// packing stops before exceeding the budget rather than overshooting.
func TestGetSmartContextRespectsTokenBudget(t *testing.T) {
	c, repo := newTestContexter(t, 1)
	ctx := context.Background()

	_, err := repo.CreateObservation(ctx, models.ObservationInput{
		SessionID: "s1", Project: "p1", Type: models.ObsTypeFileRead,
		Title: "a reasonably long title that costs more than one token", PromptNumber: 1,
	})
	require.NoError(t, err)

	result, err := c.GetSmartContext(ctx, "p1", Options{TokenBudget: 1})
	require.NoError(t, err)
	require.Empty(t, result.Items)
	require.Equal(t, int64(0), result.TokensUsed)
}

func TestCharEstimateMatchesFormula(t *testing.T) {
	require.Equal(t, int64(3), charEstimate("ab", "cde"))
	require.Equal(t, int64(0), charEstimate("", ""))
}
