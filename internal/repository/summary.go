package repository

import (
	"context"

	"github.com/kiro-dev/kiro-memory/pkg/models"
)

// StoreSummary persists an end-of-session digest.
func (r *Repository) StoreSummary(ctx context.Context, in models.SummaryInput) (int64, error) {
	createdAt, createdAtEpoch := nowPair()
	discoveryTokens := models.DiscoveryTokenEstimate(in.Request + in.Investigated + in.Learned + in.Completed + in.NextSteps + in.Notes)

	res, err := r.store.ExecContext(ctx, `
		INSERT INTO session_summaries
			(session_id, project, request, investigated, learned, completed, next_steps, notes, discovery_tokens, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, project, created_at) DO NOTHING`,
		in.SessionID, in.Project,
		nullString(in.Request), nullString(in.Investigated), nullString(in.Learned),
		nullString(in.Completed), nullString(in.NextSteps), nullString(in.Notes),
		discoveryTokens, createdAt, createdAtEpoch)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentSummariesByProject returns a project's most recent summaries,
// newest first, for Contexter.getSmartContext (spec §4.12).
func (r *Repository) RecentSummariesByProject(ctx context.Context, project string, limit int) ([]*models.SessionSummary, error) {
	rows, err := r.store.QueryContext(ctx, `
		SELECT id, session_id, project, request, investigated, learned, completed, next_steps, notes,
		       discovery_tokens, created_at, created_at_epoch
		FROM session_summaries WHERE project = ? ORDER BY created_at_epoch DESC, id DESC LIMIT ?`, project, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.SessionSummary
	for rows.Next() {
		var s models.SessionSummary
		if err := rows.Scan(&s.ID, &s.SessionID, &s.Project, &s.Request, &s.Investigated, &s.Learned,
			&s.Completed, &s.NextSteps, &s.Notes, &s.DiscoveryTokens, &s.CreatedAt, &s.CreatedAtEpoch); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// ListSummaries returns every summary recorded for a session, oldest first.
func (r *Repository) ListSummaries(ctx context.Context, sessionID string) ([]*models.SessionSummary, error) {
	rows, err := r.store.QueryContext(ctx, `
		SELECT id, session_id, project, request, investigated, learned, completed, next_steps, notes,
		       discovery_tokens, created_at, created_at_epoch
		FROM session_summaries WHERE session_id = ? ORDER BY created_at_epoch ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.SessionSummary
	for rows.Next() {
		var s models.SessionSummary
		err := rows.Scan(&s.ID, &s.SessionID, &s.Project, &s.Request, &s.Investigated, &s.Learned,
			&s.Completed, &s.NextSteps, &s.Notes, &s.DiscoveryTokens, &s.CreatedAt, &s.CreatedAtEpoch)
		if err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}
