// Package vectorindex persists per-observation dense vectors and answers
// similarity queries with an in-process brute-force cosine scan (spec
// §4.6). The scan is intentionally not an ANN index: the index is
// per-developer and expected to stay well below 10^6 rows, and the API is
// designed so callers never observe the retrieval algorithm.
package vectorindex

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kiro-dev/kiro-memory/internal/embedding"
	"github.com/kiro-dev/kiro-memory/internal/store"
	"github.com/kiro-dev/kiro-memory/pkg/models"
)

// VectorIndex stores one row per embedded observation and answers
// project-scoped similarity queries.
type VectorIndex struct {
	store    *store.Store
	embedder *embedding.Embedder
}

// New creates a VectorIndex over an already-open Store. embedder may be
// unavailable (spec §4.5); Backfill then embeds nothing and returns 0.
func New(s *store.Store, embedder *embedding.Embedder) *VectorIndex {
	return &VectorIndex{store: s, embedder: embedder}
}

// Put persists vector under observationID, overwriting any existing row
// for that id (spec §4.6 "put... overwrites on conflict").
func (v *VectorIndex) Put(ctx context.Context, observationID int64, vector []float32, modelTag string) error {
	now := time.Now()
	blob := models.EncodeVector(vector)
	_, err := v.store.ExecContext(ctx, `
		INSERT INTO observation_embeddings (observation_id, vector, model_tag, dimensions, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(observation_id) DO UPDATE SET
			vector = excluded.vector,
			model_tag = excluded.model_tag,
			dimensions = excluded.dimensions,
			created_at = excluded.created_at,
			created_at_epoch = excluded.created_at_epoch`,
		observationID, blob, modelTag, len(vector), now.Format(time.RFC3339), now.UnixMilli(),
	)
	return err
}

// Delete removes observationID's vector, if any. Observations are usually
// deleted via the cascading foreign key (spec §3); this exists for callers
// that want to drop only the embedding (e.g. a re-embed).
func (v *VectorIndex) Delete(ctx context.Context, observationID int64) error {
	_, err := v.store.ExecContext(ctx, `DELETE FROM observation_embeddings WHERE observation_id = ?`, observationID)
	return err
}

// SearchOptions narrows Search (spec §4.6).
type SearchOptions struct {
	Project   string
	Limit     int
	Threshold float64
}

// Hit pairs an observation id with its cosine similarity to the query.
type Hit struct {
	ObservationID int64
	Similarity    float64
}

// Search reads every embedding for opts.Project (or every embedding, if
// unset), computes cosine similarity against query in-process, keeps hits
// at or above opts.Threshold, sorts descending, and returns the first
// opts.Limit (spec §4.6 search).
func (v *VectorIndex) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Hit, error) {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = 0.3
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	var rows *sql.Rows
	var err error
	if opts.Project != "" {
		rows, err = v.store.DB().QueryContext(ctx, `
			SELECT e.observation_id, e.vector
			FROM observation_embeddings e
			JOIN observations o ON o.id = e.observation_id
			WHERE o.project = ?`, opts.Project)
	} else {
		rows, err = v.store.DB().QueryContext(ctx, `SELECT observation_id, vector FROM observation_embeddings`)
	}
	if err != nil {
		return nil, fmt.Errorf("vectorindex search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		sim := cosineSimilarity(query, models.DecodeVector(blob))
		if sim >= threshold {
			hits = append(hits, Hit{ObservationID: id, Similarity: sim})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// cosineSimilarity returns the cosine similarity of a and b, 0 if either
// vector has zero magnitude or the lengths disagree.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// maxBackfillComposeChars bounds the composed text handed to the embedder
// (spec §4.6 "truncated to 2 000 chars", matching spec §4.5's input cap).
const maxBackfillComposeChars = 2000

// Backfill finds observations without an embedding, composes
// title+text+narrative+concepts, embeds, and persists the result for up to
// batchSize rows. Returns the count actually embedded (spec §4.6
// backfill). A no-op returning 0 when the embedder is unavailable.
func (v *VectorIndex) Backfill(ctx context.Context, batchSize int) (int, error) {
	if !v.embedder.IsAvailable() {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = 50
	}

	rows, err := v.store.DB().QueryContext(ctx, `
		SELECT o.id, o.title, o.text, o.narrative, o.concepts
		FROM observations o
		LEFT JOIN observation_embeddings e ON e.observation_id = o.id
		WHERE e.observation_id IS NULL
		ORDER BY o.id ASC
		LIMIT ?`, batchSize)
	if err != nil {
		return 0, fmt.Errorf("backfill scan: %w", err)
	}

	type candidate struct {
		id    int64
		title string
		text  sql.NullString
		narr  sql.NullString
		concs string
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.title, &c.text, &c.narr, &c.concs); err != nil {
			rows.Close()
			return 0, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	embedded := 0
	for _, c := range candidates {
		composed := c.title + " " + c.text.String + " " + c.narr.String + " " + c.concs
		if len(composed) > maxBackfillComposeChars {
			composed = composed[:maxBackfillComposeChars]
		}
		vec := v.embedder.Embed(composed)
		if vec == nil {
			continue
		}
		if err := v.Put(ctx, c.id, vec, v.embedder.Provider()); err != nil {
			return embedded, err
		}
		embedded++
	}
	return embedded, nil
}

// Stats reports overall embedding coverage (spec §4.6 stats).
type Stats struct {
	TotalObservations int     `json:"total_observations"`
	EmbeddedCount     int     `json:"embedded_count"`
	Percentage        float64 `json:"percentage"`
}

// Stats computes coverage across all observations.
func (v *VectorIndex) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	if err := v.store.QueryRowContext(ctx, `SELECT COUNT(*) FROM observations`).Scan(&s.TotalObservations); err != nil {
		return s, err
	}
	if err := v.store.QueryRowContext(ctx, `SELECT COUNT(*) FROM observation_embeddings`).Scan(&s.EmbeddedCount); err != nil {
		return s, err
	}
	if s.TotalObservations > 0 {
		s.Percentage = float64(s.EmbeddedCount) / float64(s.TotalObservations) * 100
	}
	return s, nil
}
