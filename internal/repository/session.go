package repository

import (
	"context"
	"database/sql"

	"github.com/kiro-dev/kiro-memory/pkg/models"
)

const sessionColumns = "id, external_id, project, status, started_at, started_at_epoch, completed_at, completed_at_epoch"

// StartSession creates a session row in the active state.
func (r *Repository) StartSession(ctx context.Context, externalID, project string) (int64, error) {
	startedAt, startedAtEpoch := nowPair()
	res, err := r.store.ExecContext(ctx, `
		INSERT INTO sessions (external_id, project, status, started_at, started_at_epoch)
		VALUES (?, ?, ?, ?, ?)`,
		externalID, project, models.SessionActive, startedAt, startedAtEpoch)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CompleteSession transitions a session to completed or failed, stamping
// the completion timestamp.
func (r *Repository) CompleteSession(ctx context.Context, id int64, failed bool) error {
	status := models.SessionCompleted
	if failed {
		status = models.SessionFailed
	}
	completedAt, completedAtEpoch := nowPair()
	_, err := r.store.ExecContext(ctx, `
		UPDATE sessions SET status = ?, completed_at = ?, completed_at_epoch = ? WHERE id = ?`,
		status, completedAt, completedAtEpoch, id)
	return err
}

func scanSession(scanner interface{ Scan(...interface{}) error }) (*models.Session, error) {
	var s models.Session
	err := scanner.Scan(&s.ID, &s.ExternalID, &s.Project, &s.Status, &s.StartedAt, &s.StartedAtEpoch, &s.CompletedAt, &s.CompletedAtEpoch)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSession fetches a session by internal id.
func (r *Repository) GetSession(ctx context.Context, id int64) (*models.Session, error) {
	row := r.store.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// GetSessionByExternalID fetches a session by its editor/agent-assigned id.
func (r *Repository) GetSessionByExternalID(ctx context.Context, externalID string) (*models.Session, error) {
	row := r.store.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE external_id = ?`, externalID)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// ListActiveSessions returns every session currently in the active state,
// most recently started first.
func (r *Repository) ListActiveSessions(ctx context.Context, project string) ([]*models.Session, error) {
	rows, err := r.store.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = ? AND (? = '' OR project = ?)
		ORDER BY started_at_epoch DESC`, models.SessionActive, project, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AddPrompt records a prompt for a session.
func (r *Repository) AddPrompt(ctx context.Context, sessionID string, promptNumber int, text string) (int64, error) {
	createdAt, createdAtEpoch := nowPair()
	res, err := r.store.ExecContext(ctx, `
		INSERT INTO prompts (session_id, prompt_number, text, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id, prompt_number) DO UPDATE SET text = excluded.text`,
		sessionID, promptNumber, text, createdAt, createdAtEpoch)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentPromptsByProject returns a project's most recent prompts, newest
// first, for getContext (spec §6 "recentPrompts").
func (r *Repository) RecentPromptsByProject(ctx context.Context, project string, limit int) ([]*models.Prompt, error) {
	rows, err := r.store.QueryContext(ctx, `
		SELECT p.id, p.session_id, p.prompt_number, p.text, p.created_at, p.created_at_epoch
		FROM prompts p
		JOIN sessions s ON s.external_id = p.session_id
		WHERE s.project = ?
		ORDER BY p.created_at_epoch DESC, p.id DESC
		LIMIT ?`, project, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Prompt
	for rows.Next() {
		var p models.Prompt
		if err := rows.Scan(&p.ID, &p.SessionID, &p.PromptNumber, &p.Text, &p.CreatedAt, &p.CreatedAtEpoch); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ListPrompts returns every prompt for a session in prompt-number order.
func (r *Repository) ListPrompts(ctx context.Context, sessionID string) ([]*models.Prompt, error) {
	rows, err := r.store.QueryContext(ctx, `
		SELECT id, session_id, prompt_number, text, created_at, created_at_epoch
		FROM prompts WHERE session_id = ? ORDER BY prompt_number ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Prompt
	for rows.Next() {
		var p models.Prompt
		if err := rows.Scan(&p.ID, &p.SessionID, &p.PromptNumber, &p.Text, &p.CreatedAt, &p.CreatedAtEpoch); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
