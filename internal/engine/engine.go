// Package engine wires every component the memory engine owns into a
// single process-wide handle and exposes spec §6's external API. It is
// the sole composition root: callers (an HTTP/MCP layer, a CLI) hold an
// *Engine rather than reaching for package-level globals (spec §9
// "Global singletons... modeled as explicit dependencies held by the
// engine handle").
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kiro-dev/kiro-memory/internal/backup"
	"github.com/kiro-dev/kiro-memory/internal/config"
	"github.com/kiro-dev/kiro-memory/internal/contexter"
	"github.com/kiro-dev/kiro-memory/internal/embedding"
	"github.com/kiro-dev/kiro-memory/internal/hybrid"
	"github.com/kiro-dev/kiro-memory/internal/maintenance"
	"github.com/kiro-dev/kiro-memory/internal/porter"
	"github.com/kiro-dev/kiro-memory/internal/repository"
	"github.com/kiro-dev/kiro-memory/internal/scoring"
	"github.com/kiro-dev/kiro-memory/internal/store"
	"github.com/kiro-dev/kiro-memory/internal/vectorindex"
	"github.com/kiro-dev/kiro-memory/pkg/models"
)

// Engine is the single process-wide handle over every engine component
// (spec §9). It owns the Store and is the only thing that needs to be
// constructed and torn down at process startup/shutdown.
type Engine struct {
	cfg *config.Config
	log zerolog.Logger

	store       *store.Store
	repo        *repository.Repository
	embedder    *embedding.Embedder
	embedQueue  *embedding.Queue
	vectorIndex *vectorindex.VectorIndex
	scorer      *scoring.Scorer
	searcher    *hybrid.Searcher
	contexter   *contexter.Contexter
	maintainer  *maintenance.Service
	porter      *porter.Porter
	backup      *backup.Service

	maintCtx    context.Context
	maintCancel context.CancelFunc
}

// New opens the Store at cfg.DBPath, wires every component over it, and
// starts the background maintenance scheduler and embedding queue. Callers
// must call Close when done.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := config.EnsureDirs(cfg); err != nil {
		return nil, fmt.Errorf("engine: ensure data dirs: %w", err)
	}

	s, err := store.Open(store.Config{Path: cfg.DBPath, MaxConns: cfg.MaxConns})
	if err != nil {
		return nil, fmt.Errorf("engine: open store: %w", err)
	}

	repo := repository.New(s)
	embedder := embedding.NewEmbedder(cfg)
	vectorIndex := vectorindex.New(s, embedder)
	scorer := scoring.New(cfg.ScoringHalfLifeHours)
	searcher := hybrid.New(repo, vectorIndex, embedder, scorer)
	ctxr := contexter.New(repo, searcher, scorer, cfg)
	maint := maintenance.New(repo, cfg, log.Logger)
	prt := porter.New(s)
	bkp := backup.New(s, cfg.DBPath, cfg.BackupDir)

	e := &Engine{
		cfg:         cfg,
		log:         log.Logger.With().Str("component", "engine").Logger(),
		store:       s,
		repo:        repo,
		embedder:    embedder,
		vectorIndex: vectorIndex,
		scorer:      scorer,
		searcher:    searcher,
		contexter:   ctxr,
		maintainer:  maint,
		porter:      prt,
		backup:      bkp,
	}

	e.embedQueue = embedding.NewQueue(embedder, cfg.EmbeddingQueueSize, e.onEmbedded)

	e.maintCtx, e.maintCancel = context.WithCancel(context.Background())
	go e.maintainer.Start(e.maintCtx)

	return e, nil
}

// Close stops the background scheduler, drains the embedding queue, and
// closes the Store.
func (e *Engine) Close() error {
	e.maintCancel()
	e.maintainer.Stop()
	e.embedQueue.Stop()
	return e.store.Close()
}

// onEmbedded persists an asynchronously computed vector (spec §4 data
// flow: "hook -> Repository.create ... -> asynchronously Embedder ->
// VectorIndex.put").
func (e *Engine) onEmbedded(observationID int64, vector []float32) {
	if err := e.vectorIndex.Put(context.Background(), observationID, vector, e.embedder.Provider()); err != nil {
		e.log.Debug().Err(err).Int64("observation_id", observationID).Msg("failed to persist async embedding")
	}
}

// ComposeEmbeddingText builds the text handed to the embedder for an
// observation, mirroring VectorIndex.Backfill's composition (spec §4.6
// "title + text + narrative + concepts").
func ComposeEmbeddingText(title, text, narrative string, concepts []string) string {
	composed := title + " " + text + " " + narrative
	for _, c := range concepts {
		composed += " " + c
	}
	return composed
}

// ContextResult is getContext's return shape (spec §6).
type ContextResult struct {
	Project            string
	RecentObservations []*models.Observation
	RecentSummaries    []*models.SessionSummary
	RecentPrompts      []*models.Prompt
}

// defaultContextListSize bounds getContext's three lists absent an
// explicit limit.
const defaultContextListSize = 20

// GetContext returns a project's recent observations, summaries, and
// prompts (spec §6 "getContext(project)").
func (e *Engine) GetContext(ctx context.Context, project string) (ContextResult, error) {
	observations, err := e.repo.ListByProject(ctx, project, nil, defaultContextListSize)
	if err != nil {
		return ContextResult{}, err
	}
	summaries, err := e.repo.RecentSummariesByProject(ctx, project, defaultContextListSize)
	if err != nil {
		return ContextResult{}, err
	}
	prompts, err := e.repo.RecentPromptsByProject(ctx, project, defaultContextListSize)
	if err != nil {
		return ContextResult{}, err
	}
	return ContextResult{
		Project:            project,
		RecentObservations: observations,
		RecentSummaries:    summaries,
		RecentPrompts:      prompts,
	}, nil
}

// StoreObservation runs the pre-insert dedup check (spec §4.4 isDuplicate,
// per-type dedup windows), inserts on a miss, and fires off an async
// embedding job. Returns -1 on a dedup skip, which is a silent success,
// not an error (spec §7).
func (e *Engine) StoreObservation(ctx context.Context, in models.ObservationInput) (int64, error) {
	contentHash := in.ContentHash
	if contentHash == "" {
		contentHash = repository.ContentHash(in.Project, in.Type, in.Title, in.Narrative)
		in.ContentHash = contentHash
	}

	window := repository.DedupWindow(in.Type)
	dup, err := e.repo.IsDuplicate(ctx, contentHash, window.Milliseconds())
	if err != nil {
		return 0, err
	}
	if dup {
		return -1, nil
	}

	id, err := e.repo.CreateObservation(ctx, in)
	if err != nil {
		return 0, err
	}

	composed := ComposeEmbeddingText(in.Title, in.Text, in.Narrative, in.Concepts)
	e.embedQueue.Submit(id, composed)

	return id, nil
}

// KnowledgeInput is storeKnowledge's caller-supplied data (spec §6
// "storeKnowledge({knowledgeType, ...})").
type KnowledgeInput struct {
	SessionID     string
	Project       string
	KnowledgeType models.ObservationType
	Title         string
	Narrative     string
	Concepts      []string
	PromptNumber  int
	Facts         models.KnowledgeFacts
}

// StoreKnowledge validates KnowledgeType against the closed knowledge-type
// set, serializes Facts into the observation's facts column, and stores it
// as an ordinary observation (spec §6 storeKnowledge).
func (e *Engine) StoreKnowledge(ctx context.Context, in KnowledgeInput) (int64, error) {
	if !models.IsKnowledgeType(in.KnowledgeType) {
		return 0, fmt.Errorf("storeKnowledge: %q is not a knowledge type", in.KnowledgeType)
	}
	in.Facts.Kind = in.KnowledgeType

	factsJSON, err := models.MarshalFacts(in.Facts)
	if err != nil {
		return 0, fmt.Errorf("storeKnowledge: marshal facts: %w", err)
	}

	return e.StoreObservation(ctx, models.ObservationInput{
		SessionID:    in.SessionID,
		Project:      in.Project,
		Type:         in.KnowledgeType,
		Title:        in.Title,
		Narrative:    in.Narrative,
		Facts:        factsJSON,
		Concepts:     in.Concepts,
		PromptNumber: in.PromptNumber,
	})
}

// StoreSummary persists an end-of-session digest (spec §6 storeSummary).
func (e *Engine) StoreSummary(ctx context.Context, in models.SummaryInput) (int64, error) {
	return e.repo.StoreSummary(ctx, in)
}

// StorePrompt records a prompt for a session (spec §6 storePrompt).
func (e *Engine) StorePrompt(ctx context.Context, sessionID string, num int, text string) (int64, error) {
	return e.repo.AddPrompt(ctx, sessionID, num, text)
}

// GetOrCreateSession returns the session matching externalID, creating one
// under project on a miss (spec §6 getOrCreateSession). An empty externalID
// gets a generated one, for callers (editors, agents) that don't maintain
// their own session identifiers.
func (e *Engine) GetOrCreateSession(ctx context.Context, externalID, project string) (*models.Session, error) {
	if externalID == "" {
		externalID = uuid.NewString()
	}
	existing, err := e.repo.GetSessionByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	id, err := e.repo.StartSession(ctx, externalID, project)
	if err != nil {
		return nil, err
	}
	return e.repo.GetSession(ctx, id)
}

// CompleteSession transitions a session to completed (spec §6
// completeSession).
func (e *Engine) CompleteSession(ctx context.Context, id int64) error {
	return e.repo.CompleteSession(ctx, id, false)
}

// FailSession transitions a session to failed; an engine-level extension
// of completeSession for the failure path session lifecycle states
// support (spec §3 "states {active, completed, failed}").
func (e *Engine) FailSession(ctx context.Context, id int64) error {
	return e.repo.CompleteSession(ctx, id, true)
}

const defaultSearchLimit = 20

// Search runs the default hybrid search for query scoped to project (spec
// §6 "search(query)").
func (e *Engine) Search(ctx context.Context, query, project string) ([]hybrid.Hit, error) {
	return e.searcher.Search(ctx, query, project, defaultSearchLimit)
}

// SearchAdvanced runs a filtered lexical scan, resolving ids to full
// observations (spec §6 "searchAdvanced(query, filters)").
func (e *Engine) SearchAdvanced(ctx context.Context, query string, filters repository.SearchFilters) ([]*models.Observation, error) {
	ids, err := e.repo.SearchLexical(ctx, query, filters)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Observation, 0, len(ids))
	for _, id := range ids {
		obs, err := e.repo.GetObservation(ctx, id)
		if err != nil {
			return nil, err
		}
		if obs != nil {
			out = append(out, obs)
		}
	}
	return out, nil
}

// HybridSearch runs the fan-out lexical+vector search with a caller-chosen
// limit (spec §6 "hybridSearch(query, opts)").
func (e *Engine) HybridSearch(ctx context.Context, query, project string, limit int) ([]hybrid.Hit, error) {
	return e.searcher.Search(ctx, query, project, limit)
}

// SemanticSearch runs the vector backend alone, skipping the lexical fan-in
// (spec §6 "semanticSearch(query, opts)"). Returns an empty slice, not an
// error, when the embedder is unavailable (spec §7 "degrade to
// lexical-only" — here there is no lexical fallback by design, so the
// caller gets nothing rather than a hybrid result under a semantic-only
// name).
func (e *Engine) SemanticSearch(ctx context.Context, query, project string, limit int) ([]vectorindex.Hit, error) {
	if !e.embedder.IsAvailable() {
		return nil, nil
	}
	vec := e.embedder.Embed(query)
	if vec == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	return e.vectorIndex.Search(ctx, vec, vectorindex.SearchOptions{
		Project:   project,
		Limit:     limit,
		Threshold: e.cfg.VectorSearchThreshold,
	})
}

// GetSmartContext assembles a token-budgeted context (spec §6
// getSmartContext).
func (e *Engine) GetSmartContext(ctx context.Context, project string, opts contexter.Options) (contexter.Result, error) {
	return e.contexter.GetSmartContext(ctx, project, opts)
}

// DetectStaleObservations runs the Maintainer's mtime-based stale sweep
// (spec §6 detectStaleObservations).
func (e *Engine) DetectStaleObservations(ctx context.Context, project string) (int, error) {
	return e.maintainer.DetectStale(ctx, project)
}

// WatchProject starts a live filesystem watch over a project's recently
// modified files (spec §4.9), running stale detection as soon as a watched
// file changes instead of waiting for the periodic sweep. A no-op unless
// the caller has opted in via config.MaintenanceWatchEnabled.
func (e *Engine) WatchProject(ctx context.Context, project string) error {
	return e.maintainer.WatchProjectFiles(ctx, project)
}

// ConsolidateObservations runs the Maintainer's consolidation pass (spec
// §6 consolidateObservations).
func (e *Engine) ConsolidateObservations(ctx context.Context, project string, opts repository.ConsolidateOptions) (repository.ConsolidateResult, error) {
	return e.maintainer.Consolidate(ctx, project, opts)
}

// GetDecayStats reports project observation health (spec §6
// getDecayStats).
func (e *Engine) GetDecayStats(ctx context.Context, project string) (repository.DecayStats, error) {
	return e.maintainer.DecayStats(ctx, project)
}

// ApplyRetention runs the configured retention policy once, on demand
// rather than waiting for the scheduler's next tick.
func (e *Engine) ApplyRetention(ctx context.Context) (repository.RetentionResult, error) {
	return e.maintainer.ApplyRetention(ctx)
}

// CheckpointInput is createCheckpoint's caller-supplied data (spec §6
// createCheckpoint).
type CheckpointInput struct {
	SessionID     string
	Project       string
	Task          string
	Progress      string
	NextSteps     string
	OpenQuestions string
	RelevantFiles []string
}

// CreateCheckpoint snapshots the project's 10 most recent observations
// (spec §3 "context_snapshot") and persists a structured resumption point.
func (e *Engine) CreateCheckpoint(ctx context.Context, in CheckpointInput) (int64, error) {
	recent, err := e.repo.ListByProject(ctx, in.Project, nil, models.MaxContextSnapshotObservations)
	if err != nil {
		return 0, err
	}
	return e.repo.StoreCheckpoint(ctx, repository.CheckpointInput{
		SessionID:       in.SessionID,
		Project:         in.Project,
		Task:            in.Task,
		Progress:        in.Progress,
		NextSteps:       in.NextSteps,
		OpenQuestions:   in.OpenQuestions,
		RelevantFiles:   in.RelevantFiles,
		ContextSnapshot: models.NewContextSnapshot(recent),
	})
}

// GetCheckpoint fetches a checkpoint by id (spec §6 getCheckpoint).
func (e *Engine) GetCheckpoint(ctx context.Context, id int64) (*models.Checkpoint, error) {
	return e.repo.GetCheckpoint(ctx, id)
}

// GetLatestProjectCheckpoint returns a project's most recent checkpoint
// across every session (spec §6 getLatestProjectCheckpoint).
func (e *Engine) GetLatestProjectCheckpoint(ctx context.Context, project string) (*models.Checkpoint, error) {
	return e.repo.LatestCheckpointForProject(ctx, project)
}

// ReportOptions configures GenerateReport (spec §6 "generateReport({period
// | startDate, endDate})"). Period is a duration string like "24h", "7d",
// "30d"; it is mutually exclusive with an explicit epoch range, and
// ignored when either StartEpoch or EndEpoch is set.
type ReportOptions struct {
	Project    string
	Period     string
	StartEpoch int64
	EndEpoch   int64
}

// periodToDuration parses a report period like "7d" or "24h"; day units
// aren't a valid time.ParseDuration suffix, so they're expanded to hours
// first.
func periodToDuration(period string) (time.Duration, error) {
	if len(period) > 0 && period[len(period)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(period, "%dd", &days); err != nil {
			return 0, fmt.Errorf("invalid period %q: %w", period, err)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(period)
}

// GenerateReport aggregates observation/session/summary/prompt analytics
// over the requested window (spec §6 generateReport).
func (e *Engine) GenerateReport(ctx context.Context, opts ReportOptions) (repository.Report, error) {
	filters := repository.ReportFilters{
		Project:    opts.Project,
		StartEpoch: opts.StartEpoch,
		EndEpoch:   opts.EndEpoch,
	}
	if filters.StartEpoch == 0 && filters.EndEpoch == 0 && opts.Period != "" {
		dur, err := periodToDuration(opts.Period)
		if err != nil {
			return repository.Report{}, fmt.Errorf("generateReport: %w", err)
		}
		now := time.Now()
		filters.StartEpoch = now.Add(-dur).UnixMilli()
		filters.EndEpoch = now.UnixMilli()
	}
	return e.repo.GenerateReport(ctx, filters)
}

// BackfillEmbeddings embeds up to batchSize observations missing a vector
// (spec §6 backfillEmbeddings).
func (e *Engine) BackfillEmbeddings(ctx context.Context, batchSize int) (int, error) {
	return e.vectorIndex.Backfill(ctx, batchSize)
}

// GetEmbeddingStats reports vector coverage (spec §6 getEmbeddingStats).
func (e *Engine) GetEmbeddingStats(ctx context.Context) (vectorindex.Stats, error) {
	return e.vectorIndex.Stats(ctx)
}

// Exporter exposes the Porter for callers (the CLI, a future HTTP
// endpoint) that want the engine's canonical JSONL export/import format
// (spec §4.10).
func (e *Engine) Exporter() *porter.Porter {
	return e.porter
}

// Backups exposes the Backup service for callers that want to create,
// list, restore, or rotate snapshots (spec §4.11).
func (e *Engine) Backups() *backup.Service {
	return e.backup
}

// Repository exposes the underlying Repository for callers (tests, a CLI)
// that need typed operations this facade doesn't wrap one-to-one.
func (e *Engine) Repository() *repository.Repository {
	return e.repo
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}
