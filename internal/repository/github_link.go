package repository

import (
	"context"

	"github.com/kiro-dev/kiro-memory/pkg/models"
)

// GithubLinkInput is the caller-supplied data for AddGithubLink.
type GithubLinkInput struct {
	ObservationID int64
	SessionID     string
	Repo          string
	RefType       string
	RefNumber     int
	URL           string
}

// AddGithubLink records a cross-reference from an observation or session to
// an external GitHub repo/issue/PR/commit.
func (r *Repository) AddGithubLink(ctx context.Context, in GithubLinkInput) (int64, error) {
	createdAt, _ := nowPair()
	res, err := r.store.ExecContext(ctx, `
		INSERT INTO github_links (observation_id, session_id, repo, ref_type, ref_number, url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullInt64(in.ObservationID), nullString(in.SessionID), in.Repo, in.RefType, in.RefNumber, in.URL, createdAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListGithubLinksForObservation returns every link attached to an observation.
func (r *Repository) ListGithubLinksForObservation(ctx context.Context, observationID int64) ([]*models.GithubLink, error) {
	rows, err := r.store.QueryContext(ctx, `
		SELECT id, observation_id, session_id, repo, ref_type, ref_number, url, created_at
		FROM github_links WHERE observation_id = ? ORDER BY created_at ASC`, observationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.GithubLink
	for rows.Next() {
		var g models.GithubLink
		err := rows.Scan(&g.ID, &g.ObservationID, &g.SessionID, &g.Repo, &g.RefType, &g.RefNumber, &g.URL, &g.CreatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}
