package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/kiro-dev/kiro-memory/pkg/models"
)

// RecentWithFilesModified returns the `limit` most recent observations for
// project that list at least one modified file, for Maintainer.detectStale
// (spec §4.9).
func (r *Repository) RecentWithFilesModified(ctx context.Context, project string, limit int) ([]*models.Observation, error) {
	rows, err := r.store.QueryContext(ctx, `
		SELECT `+observationColumns+` FROM observations
		WHERE project = ? AND files_modified IS NOT NULL AND files_modified != '' AND files_modified != '[]'
		ORDER BY created_at_epoch DESC, id DESC
		LIMIT ?`, project, limit)
	if err != nil {
		return nil, err
	}
	return scanObservationRows(rows)
}

// DecayStats summarizes project observation health (spec §4.9 decayStats).
type DecayStats struct {
	Total             int
	Stale             int
	NeverAccessed     int
	RecentlyAccessed  int
}

// recentAccessWindow defines "recent" for DecayStats (spec §4.9: "last 48 h").
const recentAccessWindow = 48 * time.Hour

// DecayStats computes {total, stale, neverAccessed, recentlyAccessed} for project.
func (r *Repository) DecayStats(ctx context.Context, project string) (DecayStats, error) {
	var stats DecayStats

	if err := r.store.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM observations WHERE project = ?`, project,
	).Scan(&stats.Total); err != nil {
		return stats, err
	}
	if err := r.store.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM observations WHERE project = ? AND stale = 1`, project,
	).Scan(&stats.Stale); err != nil {
		return stats, err
	}
	if err := r.store.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM observations WHERE project = ? AND last_accessed_epoch IS NULL`, project,
	).Scan(&stats.NeverAccessed); err != nil {
		return stats, err
	}
	threshold := time.Now().Add(-recentAccessWindow).UnixMilli()
	if err := r.store.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM observations WHERE project = ? AND last_accessed_epoch >= ?`, project, threshold,
	).Scan(&stats.RecentlyAccessed); err != nil {
		return stats, err
	}
	return stats, nil
}

// RetentionPolicy configures ApplyRetention (spec §4.9 "retention"). A
// value <= 0 disables that family's sweep.
type RetentionPolicy struct {
	ObservationsMaxAgeDays int
	SummariesMaxAgeDays    int
	PromptsMaxAgeDays      int
	KnowledgeMaxAgeDays    int
}

// RetentionResult reports per-family deletion counts and when the sweep ran.
type RetentionResult struct {
	Observations int
	Summaries    int
	Prompts      int
	Knowledge    int
	ExecutedAt   string
}

func ageThresholdEpoch(now time.Time, maxAgeDays int) int64 {
	return now.Add(-time.Duration(maxAgeDays) * 24 * time.Hour).UnixMilli()
}

// knowledgeTypeList renders models.KnowledgeTypes as a SQL IN-list literal.
func knowledgeTypeList() string {
	types := make([]string, 0, len(models.KnowledgeTypes))
	for t := range models.KnowledgeTypes {
		types = append(types, "'"+string(t)+"'")
	}
	return strings.Join(types, ",")
}

// ApplyRetention deletes rows older than each family's threshold in a
// single transaction (spec §4.9 "retention"). Observations are partitioned
// at the threshold into non-knowledge and knowledge; knowledge rows whose
// first-class Importance column is 4 or 5 are exempt (SPEC_FULL.md
// Open Question resolution #3 — the first-class column is kept in sync
// with the facts JSON at write time, so this is a superset-safe stand-in
// for spec §4.9's literal "substring match on the serialized JSON" text,
// which models.FactsImportanceSubstringMatch also implements verbatim for
// callers that need the exact documented behavior).
func (r *Repository) ApplyRetention(ctx context.Context, policy RetentionPolicy) (RetentionResult, error) {
	now := time.Now()
	result := RetentionResult{ExecutedAt: now.Format(time.RFC3339)}

	err := r.store.Transaction(ctx, func(tx *sql.Tx) error {
		if policy.ObservationsMaxAgeDays > 0 {
			threshold := ageThresholdEpoch(now, policy.ObservationsMaxAgeDays)
			res, err := tx.ExecContext(ctx, `
				DELETE FROM observations
				WHERE created_at_epoch < ?
				  AND type NOT IN (`+knowledgeTypeList()+`)`, threshold)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			result.Observations = int(n)
		}

		if policy.KnowledgeMaxAgeDays > 0 {
			threshold := ageThresholdEpoch(now, policy.KnowledgeMaxAgeDays)
			res, err := tx.ExecContext(ctx, `
				DELETE FROM observations
				WHERE created_at_epoch < ?
				  AND type IN (`+knowledgeTypeList()+`)
				  AND (importance IS NULL OR importance < 4)`, threshold)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			result.Knowledge = int(n)
		}

		if policy.SummariesMaxAgeDays > 0 {
			threshold := ageThresholdEpoch(now, policy.SummariesMaxAgeDays)
			res, err := tx.ExecContext(ctx, `DELETE FROM session_summaries WHERE created_at_epoch < ?`, threshold)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			result.Summaries = int(n)
		}

		if policy.PromptsMaxAgeDays > 0 {
			threshold := ageThresholdEpoch(now, policy.PromptsMaxAgeDays)
			res, err := tx.ExecContext(ctx, `DELETE FROM prompts WHERE created_at_epoch < ?`, threshold)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			result.Prompts = int(n)
		}

		return nil
	})
	return result, err
}
