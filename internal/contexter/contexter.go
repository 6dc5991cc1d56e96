// Package contexter assembles a token-budgeted slice of a project's memory
// for injection into an LLM context window (spec §4.12).
package contexter

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tiktoken-go/tokenizer"

	"github.com/kiro-dev/kiro-memory/internal/config"
	"github.com/kiro-dev/kiro-memory/internal/hybrid"
	"github.com/kiro-dev/kiro-memory/internal/repository"
	"github.com/kiro-dev/kiro-memory/internal/scoring"
	"github.com/kiro-dev/kiro-memory/pkg/models"
)

// candidatePoolSize is the fixed pool Contexter draws from before packing
// (spec §4.12: "limit=30" / "30 most recent observations").
const candidatePoolSize = 30

// recentSummaryCount is how many of a project's summaries getSmartContext
// returns unpacked (spec §4.12: "5 most recent summaries").
const recentSummaryCount = 5

// Contexter implements getSmartContext.
type Contexter struct {
	repo   *repository.Repository
	search *hybrid.Searcher
	scorer *scoring.Scorer
	cfg    *config.Config
}

// New creates a Contexter over its collaborators.
func New(repo *repository.Repository, search *hybrid.Searcher, scorer *scoring.Scorer, cfg *config.Config) *Contexter {
	return &Contexter{repo: repo, search: search, scorer: scorer, cfg: cfg}
}

// Options configures GetSmartContext; the zero value uses the configured
// default token budget and fetches recent context rather than searching.
type Options struct {
	Query       string
	TokenBudget int
}

// Item is one packed observation with the score it was ranked by.
type Item struct {
	Observation *models.Observation
	Score       float64
}

// Result is getSmartContext's return value.
type Result struct {
	Items      []Item
	Summaries  []*models.SessionSummary
	TokensUsed int64
}

// GetSmartContext assembles a token-budgeted context for project (spec
// §4.12). With a query, it ranks via HybridSearcher; without one, it
// splits the 30 most recent observations into knowledge and non-knowledge,
// scores each with the Context weight profile, and emits knowledge first.
// Either way the result is packed greedily against tokenBudget.
func (c *Contexter) GetSmartContext(ctx context.Context, project string, opts Options) (Result, error) {
	budget := opts.TokenBudget
	if budget <= 0 {
		budget = c.cfg.ContextTokenBudget
	}
	if budget <= 0 {
		budget = config.DefaultContextTokenBudget
	}

	ordered, err := c.rank(ctx, project, opts.Query)
	if err != nil {
		return Result{}, err
	}

	summaries, err := c.repo.RecentSummariesByProject(ctx, project, recentSummaryCount)
	if err != nil {
		return Result{}, err
	}

	items, used := c.pack(ordered, budget)
	return Result{Items: items, Summaries: summaries, TokensUsed: used}, nil
}

func (c *Contexter) rank(ctx context.Context, project, query string) ([]Item, error) {
	if query != "" {
		hits, err := c.search.Search(ctx, query, project, candidatePoolSize)
		if err != nil {
			return nil, err
		}
		items := make([]Item, len(hits))
		for i, h := range hits {
			items[i] = Item{Observation: h.Observation, Score: h.Score}
		}
		return items, nil
	}

	observations, err := c.repo.ListByProject(ctx, project, nil, candidatePoolSize)
	if err != nil {
		return nil, err
	}

	var knowledge, other []Item
	now := time.Now()
	for _, o := range observations {
		cand := scoring.Candidate{Type: o.Type, Project: o.Project, CreatedAtEpoch: o.CreatedAtEpoch}
		score := c.scorer.Score(now, cand, project, false)
		item := Item{Observation: o, Score: score}
		if models.IsKnowledgeType(o.Type) {
			knowledge = append(knowledge, item)
		} else {
			other = append(other, item)
		}
	}
	sort.SliceStable(knowledge, func(i, j int) bool { return knowledge[i].Score > knowledge[j].Score })
	sort.SliceStable(other, func(i, j int) bool { return other[i].Score > other[j].Score })

	return append(knowledge, other...), nil
}

// pack greedily accepts items in order until the next one would exceed
// budget (spec §4.12 "Greedy packer").
func (c *Contexter) pack(items []Item, budget int) ([]Item, int64) {
	var packed []Item
	var used int64
	limit := int64(budget)

	for _, item := range items {
		cost := c.estimateTokens(item.Observation)
		if used+cost > limit {
			break
		}
		packed = append(packed, item)
		used += cost
	}
	return packed, used
}

func (c *Contexter) estimateTokens(o *models.Observation) int64 {
	content := o.Text.String
	if content == "" {
		content = o.Narrative.String
	}
	if c.cfg != nil && c.cfg.ContextUseTokenizer {
		if n, ok := tokenizerCount(c.cfg.ContextTokenizerEncoding, o.Title+content); ok {
			return n
		}
	}
	return charEstimate(o.Title, content)
}

// charEstimate is spec §4.12's fallback: ceil((len(title) + len(content)) / 4).
func charEstimate(title, content string) int64 {
	n := len(title) + len(content)
	return int64((n + 3) / 4)
}

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
	codecOK   bool
)

// tokenizerCount uses a cached tiktoken codec for an exact count, falling
// back to false (the caller switches to charEstimate) if the encoding name
// is unrecognized or encoding fails. The codec is loaded once per process;
// encoding is expected to stay constant across a run.
func tokenizerCount(encoding, text string) (int64, bool) {
	codecOnce.Do(func() {
		enc, err := tokenizer.Get(tokenizer.Encoding(encoding))
		if err != nil {
			codecOK = false
			return
		}
		codec = enc
		codecOK = true
	})
	if !codecOK {
		return 0, false
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, false
	}
	return int64(len(ids)), true
}
