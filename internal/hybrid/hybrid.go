// Package hybrid fans out a query to the lexical and vector backends and
// merges the results under a single composite score (spec §4.8).
package hybrid

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kiro-dev/kiro-memory/internal/embedding"
	"github.com/kiro-dev/kiro-memory/internal/repository"
	"github.com/kiro-dev/kiro-memory/internal/scoring"
	"github.com/kiro-dev/kiro-memory/internal/vectorindex"
	"github.com/kiro-dev/kiro-memory/pkg/models"
)

// Source identifies which backend(s) contributed a Hit, for observability
// (spec §4.8 "The Source field").
type Source string

const (
	SourceVector  Source = "vector"
	SourceKeyword Source = "keyword"
	SourceHybrid  Source = "hybrid"
)

// Hit is one ranked search result.
type Hit struct {
	Observation *models.Observation
	Score       float64
	Source      Source
}

// Searcher implements HybridSearcher (spec §4.8).
type Searcher struct {
	repo     *repository.Repository
	index    *vectorindex.VectorIndex
	embedder *embedding.Embedder
	scorer   *scoring.Scorer
}

// New creates a Searcher over its collaborators.
func New(repo *repository.Repository, index *vectorindex.VectorIndex, embedder *embedding.Embedder, scorer *scoring.Scorer) *Searcher {
	return &Searcher{repo: repo, index: index, embedder: embedder, scorer: scorer}
}

type candidateEntry struct {
	semantic   float64
	fts5Raw    float64
	hasFTSRank bool
	hasVector  bool
}

// Search runs the fan-out/merge/score/sort pipeline described in spec §4.8
// and best-effort touches access on the returned ids.
func (s *Searcher) Search(ctx context.Context, query, project string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 20
	}

	var vectorHits []vectorindex.Hit
	var lexicalHits []repository.LexicalHit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if !s.embedder.IsAvailable() {
			return nil
		}
		vec := s.embedder.Embed(query)
		if vec == nil {
			return nil
		}
		hits, err := s.index.Search(gctx, vec, vectorindex.SearchOptions{Project: project, Limit: 2 * limit, Threshold: 0.3})
		if err != nil {
			return nil // vector backend failures degrade to lexical-only, not a hard error
		}
		vectorHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := s.repo.SearchLexicalWithRank(gctx, query, repository.SearchFilters{Project: project, Limit: 2 * limit})
		if err != nil {
			return err
		}
		lexicalHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(vectorHits) == 0 && len(lexicalHits) == 0 {
		return nil, nil
	}

	candidates := make(map[int64]*candidateEntry)
	for _, h := range vectorHits {
		candidates[h.ObservationID] = &candidateEntry{semantic: h.Similarity, hasVector: true}
	}

	rawRanks := make(map[int64]float64, len(lexicalHits))
	for _, h := range lexicalHits {
		if h.Rank != 0 {
			rawRanks[h.ID] = h.Rank
		}
		if c, ok := candidates[h.ID]; ok {
			c.fts5Raw = h.Rank
			c.hasFTSRank = h.Rank != 0
		} else {
			candidates[h.ID] = &candidateEntry{fts5Raw: h.Rank, hasFTSRank: h.Rank != 0}
		}
	}

	normalized := scoring.NormalizeFTS(rawRanks)

	now := time.Now()
	var hits []Hit
	for id, c := range candidates {
		obs, err := s.repo.GetObservation(ctx, id)
		if err != nil || obs == nil {
			continue
		}
		cand := scoring.Candidate{
			Type:           obs.Type,
			Project:        obs.Project,
			CreatedAtEpoch: obs.CreatedAtEpoch,
			Semantic:       c.semantic,
			HasFTSRank:     c.hasFTSRank,
			FTS5:           normalized[id],
		}
		score := s.scorer.Score(now, cand, project, true)

		source := SourceKeyword
		switch {
		case c.hasVector && c.hasFTSRank:
			source = SourceHybrid
		case c.hasVector:
			source = SourceVector
		}
		hits = append(hits, Hit{Observation: obs, Score: score, Source: source})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.Observation.ID
	}
	if err := s.repo.UpdateLastAccessed(ctx, ids); err != nil {
		// best-effort per spec §4.8 step 7
		_ = err
	}

	return hits, nil
}
