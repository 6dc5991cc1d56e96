// Package maintenance implements the scheduled upkeep machinery described
// in spec §4.9: stale detection, consolidation, decay statistics, and
// retention sweeps.
package maintenance

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kiro-dev/kiro-memory/internal/config"
	"github.com/kiro-dev/kiro-memory/internal/repository"
)

// Service runs the Maintainer's periodic sweeps on a ticker and exposes
// them for on-demand invocation (spec §4.9, §6 detectStaleObservations /
// consolidateObservations / getDecayStats).
type Service struct {
	log    zerolog.Logger
	repo   *repository.Repository
	config *config.Config

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	lastRunTime     time.Time
	lastRunDuration time.Duration
}

// New creates a maintenance Service over repo, governed by cfg.
func New(repo *repository.Repository, cfg *config.Config, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		config: cfg,
		log:    log.With().Str("component", "maintenance").Logger(),
	}
}

// Start runs the maintenance loop until ctx is cancelled or Stop is
// called. A no-op if maintenance is disabled in config.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.doneCh)
	}()

	if !s.config.MaintenanceEnabled {
		s.log.Info().Msg("maintenance disabled, not starting scheduler")
		return
	}

	interval := time.Duration(s.config.MaintenanceIntervalHours) * time.Hour
	if interval <= 0 {
		interval = time.Hour
	}

	s.log.Info().Dur("interval", interval).Msg("starting maintenance scheduler")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("maintenance shutting down: context cancelled")
			return
		case <-s.stopCh:
			s.log.Info().Msg("maintenance shutting down: stop requested")
			return
		case <-ticker.C:
			s.RunRetention(ctx)
		}
	}
}

// Stop signals the running loop to exit and waits for it to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.mu.Unlock()
	<-s.doneCh
}

// RunRetention applies the configured retention policy once, logging the
// outcome; intended for both the ticker loop and on-demand invocation.
func (s *Service) RunRetention(ctx context.Context) repository.RetentionResult {
	start := time.Now()
	result, err := s.ApplyRetention(ctx)
	s.mu.Lock()
	s.lastRunTime = time.Now()
	s.lastRunDuration = time.Since(start)
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Msg("retention sweep failed")
		return repository.RetentionResult{}
	}
	s.log.Info().
		Int("observations", result.Observations).
		Int("knowledge", result.Knowledge).
		Int("summaries", result.Summaries).
		Int("prompts", result.Prompts).
		Dur("duration", s.lastRunDuration).
		Msg("retention sweep complete")
	return result
}

// ApplyRetention runs Repository.ApplyRetention using the configured policy.
func (s *Service) ApplyRetention(ctx context.Context) (repository.RetentionResult, error) {
	return s.repo.ApplyRetention(ctx, repository.RetentionPolicy{
		ObservationsMaxAgeDays: s.config.RetentionObservationsMaxAgeDays,
		SummariesMaxAgeDays:    s.config.RetentionSummariesMaxAgeDays,
		PromptsMaxAgeDays:      s.config.RetentionPromptsMaxAgeDays,
		KnowledgeMaxAgeDays:    s.config.RetentionKnowledgeMaxAgeDays,
	})
}

// DetectStale reads the most recent observations of project that list
// modified files and marks as stale those whose referenced file now has a
// newer mtime than the observation's creation time (spec §4.9 detectStale).
// A filesystem error on one path does not abort the sweep (spec §7).
func (s *Service) DetectStale(ctx context.Context, project string) (int, error) {
	limit := s.config.StaleDetectionLimit
	if limit <= 0 {
		limit = 500
	}

	observations, err := s.repo.RecentWithFilesModified(ctx, project, limit)
	if err != nil {
		return 0, err
	}

	var staleIDs []int64
	for _, obs := range observations {
		for _, path := range obs.FilesModified {
			info, statErr := os.Stat(path)
			if statErr != nil {
				continue
			}
			if info.ModTime().UnixMilli() > obs.CreatedAtEpoch {
				staleIDs = append(staleIDs, obs.ID)
				break
			}
		}
	}

	if len(staleIDs) == 0 {
		return 0, nil
	}
	if err := s.repo.MarkStale(ctx, staleIDs, true); err != nil {
		return 0, err
	}
	return len(staleIDs), nil
}

// Consolidate delegates to Repository.Consolidate (spec §4.9 consolidate).
func (s *Service) Consolidate(ctx context.Context, project string, opts repository.ConsolidateOptions) (repository.ConsolidateResult, error) {
	if opts.MinGroupSize <= 0 {
		opts.MinGroupSize = s.config.ConsolidateMinGroupSize
	}
	return s.repo.Consolidate(ctx, project, opts)
}

// DecayStats delegates to Repository.DecayStats (spec §4.9 decayStats).
func (s *Service) DecayStats(ctx context.Context, project string) (repository.DecayStats, error) {
	return s.repo.DecayStats(ctx, project)
}

// Stats reports maintenance-loop observability fields.
func (s *Service) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"enabled":           s.config.MaintenanceEnabled,
		"interval_hours":    s.config.MaintenanceIntervalHours,
		"running":           s.running,
		"last_run":          s.lastRunTime,
		"last_duration_ms":  s.lastRunDuration.Milliseconds(),
	}
}
