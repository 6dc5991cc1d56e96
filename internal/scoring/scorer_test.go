package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/kiro-dev/kiro-memory/pkg/models"
)

type ScorerSuite struct {
	suite.Suite
	scorer *Scorer
	now    time.Time
}

func (s *ScorerSuite) SetupTest() {
	s.scorer = New(DefaultHalfLifeHours)
	s.now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}

func TestScorerSuite(t *testing.T) {
	suite.Run(t, new(ScorerSuite))
}

func (s *ScorerSuite) TestRecencyNow() {
	s.InDelta(1.0, s.scorer.Recency(s.now, s.now.UnixMilli()), 1e-9)
}

func (s *ScorerSuite) TestRecencyHalfLife() {
	weekAgo := s.now.Add(-168 * time.Hour).UnixMilli()
	s.InDelta(0.5, s.scorer.Recency(s.now, weekAgo), 1e-6)
}

func (s *ScorerSuite) TestRecencyNonPositiveEpoch() {
	s.Equal(0.0, s.scorer.Recency(s.now, 0))
	s.Equal(0.0, s.scorer.Recency(s.now, -5))
}

func (s *ScorerSuite) TestRecencyFutureClampsToOne() {
	future := s.now.Add(10 * time.Hour).UnixMilli()
	s.Equal(1.0, s.scorer.Recency(s.now, future))
}

func (s *ScorerSuite) TestProjectMatch() {
	s.Equal(1.0, ProjectMatch("Foo", "foo"))
	s.Equal(0.0, ProjectMatch("foo", "bar"))
	s.Equal(0.0, ProjectMatch("", "foo"))
	s.Equal(0.0, ProjectMatch("foo", ""))
}

func (s *ScorerSuite) TestNormalizeFTSEmpty() {
	s.Empty(NormalizeFTS(nil))
}

func (s *ScorerSuite) TestNormalizeFTSSingleton() {
	out := NormalizeFTS(map[int64]float64{1: -3.2})
	s.Equal(1.0, out[1])
}

func (s *ScorerSuite) TestNormalizeFTSBestAndWorst() {
	ranks := map[int64]float64{1: -5.0, 2: -1.0, 3: -3.0}
	out := NormalizeFTS(ranks)
	require.Len(s.T(), out, 3)
	// lower raw rank is better in BM25, so id 1 (lowest) should map to 1.
	s.Equal(1.0, out[1])
	s.Equal(0.0, out[2])
	assert.InDelta(s.T(), 0.5, out[3], 1e-9)
}

func (s *ScorerSuite) TestNormalizeFTSAllEqual() {
	out := NormalizeFTS(map[int64]float64{1: -2, 2: -2})
	s.Equal(1.0, out[1])
	s.Equal(1.0, out[2])
}

func (s *ScorerSuite) TestScoreBoundedZeroOne() {
	c := Candidate{
		Type:           models.ObsTypeConstraint,
		Project:        "p1",
		CreatedAtEpoch: s.now.UnixMilli(),
		Semantic:       1.0,
		HasFTSRank:     true,
		FTS5:           1.0,
	}
	score := s.scorer.Score(s.now, c, "p1", true)
	s.LessOrEqual(score, 1.0)
	s.GreaterOrEqual(score, 0.0)
}

func (s *ScorerSuite) TestScoreRecencyRanksFreshHigher() {
	fresh := Candidate{Project: "p1", CreatedAtEpoch: s.now.UnixMilli(), FTS5: 0.5, HasFTSRank: true}
	stale := Candidate{Project: "p1", CreatedAtEpoch: s.now.Add(-168 * time.Hour).UnixMilli(), FTS5: 0.5, HasFTSRank: true}

	freshScore := s.scorer.Score(s.now, fresh, "p1", true)
	staleScore := s.scorer.Score(s.now, stale, "p1", true)
	s.Greater(freshScore, staleScore)
}

func (s *ScorerSuite) TestKnowledgeBoostOrdering() {
	base := Candidate{Project: "p1", CreatedAtEpoch: s.now.UnixMilli(), FTS5: 0.5, HasFTSRank: true}
	constraint := base
	constraint.Type = models.ObsTypeConstraint
	plain := base
	plain.Type = models.ObsTypeCommand

	s.Greater(s.scorer.Score(s.now, constraint, "p1", true), s.scorer.Score(s.now, plain, "p1", true))
}

func (s *ScorerSuite) TestContextProfileIgnoresSemanticAndFTS() {
	// HasFTSRank left false on both so the hybrid boost (which keys off
	// semantic>0 && HasFTSRank, independent of weight profile) never fires.
	c := Candidate{Project: "p1", CreatedAtEpoch: s.now.UnixMilli(), Semantic: 1, FTS5: 1}
	withoutSignals := Candidate{Project: "p1", CreatedAtEpoch: s.now.UnixMilli()}
	s.InDelta(s.scorer.Score(s.now, c, "p1", false), s.scorer.Score(s.now, withoutSignals, "p1", false), 1e-9)
}
