package repository

import (
	"context"
	"database/sql"

	"github.com/kiro-dev/kiro-memory/pkg/models"
)

// SetProjectAlias creates or updates the display name for a project.
func (r *Repository) SetProjectAlias(ctx context.Context, projectName, displayName string) error {
	createdAt, _ := nowPair()
	_, err := r.store.ExecContext(ctx, `
		INSERT INTO project_aliases (project_name, display_name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(project_name) DO UPDATE SET display_name = excluded.display_name`,
		projectName, displayName, createdAt)
	return err
}

// GetProjectAlias fetches the alias for a project, or nil if none is set.
func (r *Repository) GetProjectAlias(ctx context.Context, projectName string) (*models.ProjectAlias, error) {
	row := r.store.QueryRowContext(ctx, `
		SELECT id, project_name, display_name, created_at FROM project_aliases WHERE project_name = ?`, projectName)
	var a models.ProjectAlias
	err := row.Scan(&a.ID, &a.ProjectName, &a.DisplayName, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListProjectAliases returns every known alias.
func (r *Repository) ListProjectAliases(ctx context.Context) ([]*models.ProjectAlias, error) {
	rows, err := r.store.QueryContext(ctx, `SELECT id, project_name, display_name, created_at FROM project_aliases ORDER BY project_name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ProjectAlias
	for rows.Next() {
		var a models.ProjectAlias
		if err := rows.Scan(&a.ID, &a.ProjectName, &a.DisplayName, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
