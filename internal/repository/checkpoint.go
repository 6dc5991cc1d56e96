package repository

import (
	"context"
	"database/sql"

	json "github.com/goccy/go-json"

	"github.com/kiro-dev/kiro-memory/pkg/models"
)

// CheckpointInput is the caller-supplied data for StoreCheckpoint.
type CheckpointInput struct {
	SessionID       string
	Project         string
	Task            string
	Progress        string
	NextSteps       string
	OpenQuestions   string
	RelevantFiles   []string
	ContextSnapshot []models.ObservationSnapshot
}

// StoreCheckpoint persists a structured resumption point.
func (r *Repository) StoreCheckpoint(ctx context.Context, in CheckpointInput) (int64, error) {
	createdAt, createdAtEpoch := nowPair()

	snapshot, err := json.Marshal(in.ContextSnapshot)
	if err != nil {
		return 0, err
	}
	relevantFiles, err := models.JSONStringArray(in.RelevantFiles).Value()
	if err != nil {
		return 0, err
	}

	res, err := r.store.ExecContext(ctx, `
		INSERT INTO checkpoints
			(session_id, project, task, progress, next_steps, open_questions, relevant_files, context_snapshot, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.SessionID, in.Project, in.Task, in.Progress, in.NextSteps, in.OpenQuestions,
		relevantFiles, string(snapshot), createdAt, createdAtEpoch)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func scanCheckpoint(scanner interface{ Scan(...interface{}) error }) (*models.Checkpoint, error) {
	var c models.Checkpoint
	var snapshot string
	err := scanner.Scan(&c.ID, &c.SessionID, &c.Project, &c.Task, &c.Progress, &c.NextSteps,
		&c.OpenQuestions, &c.RelevantFiles, &snapshot, &c.CreatedAt, &c.CreatedAtEpoch)
	if err != nil {
		return nil, err
	}
	if snapshot != "" {
		if err := json.Unmarshal([]byte(snapshot), &c.ContextSnapshot); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

const checkpointColumns = "id, session_id, project, task, progress, next_steps, open_questions, relevant_files, context_snapshot, created_at, created_at_epoch"

// LatestCheckpoint returns the most recently stored checkpoint for a
// session, or nil if none exists.
func (r *Repository) LatestCheckpoint(ctx context.Context, sessionID string) (*models.Checkpoint, error) {
	row := r.store.QueryRowContext(ctx, `
		SELECT `+checkpointColumns+` FROM checkpoints
		WHERE session_id = ? ORDER BY created_at_epoch DESC LIMIT 1`, sessionID)
	c, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// GetCheckpoint fetches a single checkpoint by id, nil if absent (spec §6
// "getCheckpoint").
func (r *Repository) GetCheckpoint(ctx context.Context, id int64) (*models.Checkpoint, error) {
	row := r.store.QueryRowContext(ctx, `SELECT `+checkpointColumns+` FROM checkpoints WHERE id = ?`, id)
	c, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// LatestCheckpointForProject returns the most recently stored checkpoint
// across every session of a project, or nil if none exists (spec §6
// "getLatestProjectCheckpoint").
func (r *Repository) LatestCheckpointForProject(ctx context.Context, project string) (*models.Checkpoint, error) {
	row := r.store.QueryRowContext(ctx, `
		SELECT `+checkpointColumns+` FROM checkpoints
		WHERE project = ? ORDER BY created_at_epoch DESC, id DESC LIMIT 1`, project)
	c, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ListCheckpoints returns every checkpoint for a session, newest first.
func (r *Repository) ListCheckpoints(ctx context.Context, sessionID string) ([]*models.Checkpoint, error) {
	rows, err := r.store.QueryContext(ctx, `
		SELECT `+checkpointColumns+` FROM checkpoints
		WHERE session_id = ? ORDER BY created_at_epoch DESC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Checkpoint
	for rows.Next() {
		c, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
