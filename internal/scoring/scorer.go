// Package scoring computes the composite relevance score HybridSearcher
// and Contexter rank candidates by (spec §4.7).
package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/kiro-dev/kiro-memory/pkg/models"
)

// DefaultHalfLifeHours is the recency half-life (spec §4.7, glossary
// "Recency half-life"): one week.
const DefaultHalfLifeHours = 168.0

// weights for the Search and Context profiles (spec §4.7).
var (
	searchWeights  = weights{semantic: 0.40, fts5: 0.30, recency: 0.20, projectMatch: 0.10}
	contextWeights = weights{semantic: 0, fts5: 0, recency: 0.70, projectMatch: 0.30}
)

type weights struct {
	semantic     float64
	fts5         float64
	recency      float64
	projectMatch float64
}

// hybridBoost applies when both backends agreed a candidate is relevant
// (spec §4.7 "Hybrid boost").
const hybridBoost = 1.15

// knowledgeBoost gives knowledge-type observations a ranking bump (spec
// §4.7 "Knowledge-type boost").
var knowledgeBoost = map[models.ObservationType]float64{
	models.ObsTypeConstraint: 1.30,
	models.ObsTypeDecision:   1.25,
	models.ObsTypeHeuristic:  1.15,
	models.ObsTypeRejected:   1.10,
}

// Scorer computes composite scores with a configurable recency half-life.
type Scorer struct {
	halfLifeHours float64
}

// New creates a Scorer. halfLifeHours <= 0 falls back to DefaultHalfLifeHours.
func New(halfLifeHours float64) *Scorer {
	if halfLifeHours <= 0 {
		halfLifeHours = DefaultHalfLifeHours
	}
	return &Scorer{halfLifeHours: halfLifeHours}
}

// Candidate is the set of signals Score needs for one retrieval hit.
type Candidate struct {
	Type           models.ObservationType
	Project        string
	CreatedAtEpoch int64
	Semantic       float64 // cosine similarity in [0,1], 0 if absent
	HasFTSRank     bool    // whether a raw BM25 rank was present for this id
	FTS5           float64 // normalized fts5 score in [0,1]
}

// Recency returns the exponential decay signal for an observation created
// createdAtEpoch milliseconds after the epoch, evaluated at now (spec
// §4.7 "recency"). Age below zero clamps to 1; a non-positive epoch
// yields 0.
func (s *Scorer) Recency(now time.Time, createdAtEpoch int64) float64 {
	if createdAtEpoch <= 0 {
		return 0
	}
	ageHours := now.Sub(time.UnixMilli(createdAtEpoch)).Hours()
	if ageHours < 0 {
		return 1
	}
	return math.Exp(-ageHours * math.Ln2 / s.halfLifeHours)
}

// ProjectMatch returns 1 if candidateProject equals queryProject
// case-insensitively and neither is empty, else 0 (spec §4.7 "projectMatch").
func ProjectMatch(candidateProject, queryProject string) float64 {
	if candidateProject == "" || queryProject == "" {
		return 0
	}
	if strings.EqualFold(candidateProject, queryProject) {
		return 1
	}
	return 0
}

// NormalizeFTS maps a pool of raw BM25 ranks (lower is better) to [0,1]
// where the best candidate scores 1 and the worst scores 0 (spec §4.7
// "fts5"). An empty pool yields an empty map; a singleton pool maps its one
// member to 1.
func NormalizeFTS(ranks map[int64]float64) map[int64]float64 {
	out := make(map[int64]float64, len(ranks))
	if len(ranks) == 0 {
		return out
	}
	if len(ranks) == 1 {
		for id := range ranks {
			out[id] = 1
		}
		return out
	}

	min, max := math.Inf(1), math.Inf(-1)
	for _, r := range ranks {
		if r < min {
			min = r
		}
		if r > max {
			max = r
		}
	}
	if max == min {
		for id := range ranks {
			out[id] = 1
		}
		return out
	}
	for id, r := range ranks {
		out[id] = (max - r) / (max - min)
	}
	return out
}

// Score computes the composite score for c relative to queryProject, at
// time now. withQuery selects the Search weight profile when true and the
// Context profile (no query) when false (spec §4.7 "Two weight profiles").
// The result is clamped to [0,1].
func (s *Scorer) Score(now time.Time, c Candidate, queryProject string, withQuery bool) float64 {
	w := contextWeights
	if withQuery {
		w = searchWeights
	}

	recency := s.Recency(now, c.CreatedAtEpoch)
	projectMatch := ProjectMatch(c.Project, queryProject)

	score := w.semantic*c.Semantic + w.fts5*c.FTS5 + w.recency*recency + w.projectMatch*projectMatch

	if c.Semantic > 0 && c.HasFTSRank {
		score *= hybridBoost
	}
	if boost, ok := knowledgeBoost[c.Type]; ok {
		score *= boost
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
