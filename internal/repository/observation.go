package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kiro-dev/kiro-memory/pkg/models"
)

const observationColumns = `id, session_id, project, type, title, subtitle, text, narrative, facts,
       concepts, files_read, files_modified, prompt_number, content_hash, discovery_tokens,
       auto_category, importance, last_accessed_epoch, stale, created_at, created_at_epoch`

// MaxBatchIDs bounds updateLastAccessed/markStale batches (spec §4.4).
const MaxBatchIDs = 500

// CreateObservation redacts textual fields, categorizes, and inserts a new
// observation row (spec §4.4 createObservation).
func (r *Repository) CreateObservation(ctx context.Context, in models.ObservationInput) (int64, error) {
	redactInput(&in)

	category := categorizeObservation(in)

	contentHash := in.ContentHash
	if contentHash == "" {
		contentHash = ContentHash(in.Project, in.Type, in.Title, in.Narrative)
	}

	discoveryTokens := in.DiscoveryTokens
	if discoveryTokens == 0 {
		discoveryTokens = models.DiscoveryTokenEstimate(in.Text + in.Narrative)
	}

	createdAt, createdAtEpoch := nowPair()

	var importance sql.NullInt64
	if v, ok := models.ParseImportance(in.Facts); ok {
		importance = sql.NullInt64{Int64: int64(v), Valid: true}
	}

	var id int64
	err := r.store.Transaction(ctx, func(tx *sql.Tx) error {
		concepts := models.StringSlice(in.Concepts).Join()
		filesRead := models.JSONStringArray(in.FilesRead)
		filesModified := models.JSONStringArray(in.FilesModified)
		filesReadVal, err := filesRead.Value()
		if err != nil {
			return fmt.Errorf("encode files_read: %w", err)
		}
		filesModifiedVal, err := filesModified.Value()
		if err != nil {
			return fmt.Errorf("encode files_modified: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO observations
			(session_id, project, type, title, subtitle, text, narrative, facts, concepts,
			 files_read, files_modified, prompt_number, content_hash, discovery_tokens,
			 auto_category, importance, created_at, created_at_epoch)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			in.SessionID, in.Project, string(in.Type), in.Title, nullString(in.Subtitle),
			nullString(in.Text), nullString(in.Narrative), nullString(in.Facts), concepts,
			filesReadVal, filesModifiedVal, in.PromptNumber, contentHash, discoveryTokens,
			string(category), importance, createdAt, createdAtEpoch,
		)
		if err != nil {
			return fmt.Errorf("insert observation: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// IsDuplicate reports whether any row with contentHash was created within
// the last windowMs (spec §4.4 isDuplicate).
func (r *Repository) IsDuplicate(ctx context.Context, contentHash string, windowMs int64) (bool, error) {
	if windowMs <= 0 {
		windowMs = 30000
	}
	_, nowEpoch := nowPair()
	threshold := nowEpoch - windowMs

	var count int
	err := r.store.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM observations WHERE content_hash = ? AND created_at_epoch >= ?`,
		contentHash, threshold,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func clampIDs(ids []int64) []int64 {
	valid := ids[:0:0]
	for _, id := range ids {
		if id > 0 {
			valid = append(valid, id)
		}
	}
	if len(valid) > MaxBatchIDs {
		valid = valid[:MaxBatchIDs]
	}
	return valid
}

// UpdateLastAccessed batches a touch of last_accessed_epoch for ids into a
// single UPDATE (spec §4.4 updateLastAccessed).
func (r *Repository) UpdateLastAccessed(ctx context.Context, ids []int64) error {
	ids = clampIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	_, nowEpoch := nowPair()

	query := `UPDATE observations SET last_accessed_epoch = ? WHERE id IN (?` + repeatPlaceholders(len(ids)-1) + `)`
	args := append([]interface{}{nowEpoch}, int64SliceToArgs(ids)...)

	_, err := r.store.DB().ExecContext(ctx, query, args...)
	return err
}

// MarkStale batches a stale-flag update for ids (spec §4.4 markStale).
func (r *Repository) MarkStale(ctx context.Context, ids []int64, stale bool) error {
	ids = clampIDs(ids)
	if len(ids) == 0 {
		return nil
	}

	query := `UPDATE observations SET stale = ? WHERE id IN (?` + repeatPlaceholders(len(ids)-1) + `)`
	val := 0
	if stale {
		val = 1
	}
	args := append([]interface{}{val}, int64SliceToArgs(ids)...)

	_, err := r.store.DB().ExecContext(ctx, query, args...)
	return err
}

// ConsolidateOptions configures Consolidate (spec §4.4 consolidate).
type ConsolidateOptions struct {
	MinGroupSize int
	DryRun       bool
}

// ConsolidateResult reports the outcome of a consolidation pass.
type ConsolidateResult struct {
	Merged  int
	Removed int
}

// maxConsolidatedTextLen bounds the concatenated text of a consolidated
// group (spec §4.4 "truncated to 100 000 chars").
const maxConsolidatedTextLen = 100000

// Consolidate merges groups of at least MinGroupSize observations sharing
// (type, files_modified) within project, keeping the newest row as keeper
// (spec §4.4 consolidate). The whole operation is one transaction.
func (r *Repository) Consolidate(ctx context.Context, project string, opts ConsolidateOptions) (ConsolidateResult, error) {
	minGroupSize := opts.MinGroupSize
	if minGroupSize <= 0 {
		minGroupSize = 3
	}

	var result ConsolidateResult
	err := r.store.Transaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT `+observationColumns+` FROM observations WHERE project = ? ORDER BY created_at_epoch DESC, id DESC`, project)
		if err != nil {
			return err
		}
		all, err := scanObservationRows(rows)
		if err != nil {
			return err
		}

		groups := make(map[string][]*models.Observation)
		order := make([]string, 0)
		for _, o := range all {
			key := string(o.Type) + "|" + strings.Join(o.FilesModified, ",")
			if _, ok := groups[key]; !ok {
				order = append(order, key)
			}
			groups[key] = append(groups[key], o)
		}

		for _, key := range order {
			members := groups[key]
			if len(members) < minGroupSize {
				continue
			}

			keeper := members[0]
			for _, m := range members[1:] {
				if m.CreatedAtEpoch > keeper.CreatedAtEpoch ||
					(m.CreatedAtEpoch == keeper.CreatedAtEpoch && m.ID > keeper.ID) {
					keeper = m
				}
			}

			seenText := make(map[string]bool)
			var texts []string
			for _, m := range members {
				text := ""
				if m.Text.Valid {
					text = m.Text.String
				}
				if text == "" || seenText[text] {
					continue
				}
				seenText[text] = true
				texts = append(texts, text)
			}
			merged := strings.Join(texts, "\n---\n")
			if len(merged) > maxConsolidatedTextLen {
				merged = merged[:maxConsolidatedTextLen]
			}

			if opts.DryRun {
				result.Merged++
				result.Removed += len(members) - 1
				continue
			}

			newTitle := fmt.Sprintf("[consolidated x%d] %s", len(members), keeper.Title)
			if _, err := tx.ExecContext(ctx,
				`UPDATE observations SET title = ?, text = ? WHERE id = ?`,
				newTitle, nullString(merged), keeper.ID,
			); err != nil {
				return fmt.Errorf("update keeper %d: %w", keeper.ID, err)
			}

			var removeIDs []int64
			for _, m := range members {
				if m.ID != keeper.ID {
					removeIDs = append(removeIDs, m.ID)
				}
			}
			if len(removeIDs) > 0 {
				delQuery := `DELETE FROM observations WHERE id IN (?` + repeatPlaceholders(len(removeIDs)-1) + `)`
				if _, err := tx.ExecContext(ctx, delQuery, int64SliceToArgs(removeIDs)...); err != nil {
					return fmt.Errorf("delete consolidated rows: %w", err)
				}
				delEmbQuery := `DELETE FROM observation_embeddings WHERE observation_id IN (?` + repeatPlaceholders(len(removeIDs)-1) + `)`
				if _, err := tx.ExecContext(ctx, delEmbQuery, int64SliceToArgs(removeIDs)...); err != nil {
					return fmt.Errorf("delete consolidated embeddings: %w", err)
				}
			}

			result.Merged++
			result.Removed += len(removeIDs)
		}
		return nil
	})
	return result, err
}

// Timeline returns the anchor's neighbourhood: `before` older rows (oldest
// first), the anchor, then `after` newer rows (spec §4.4 timeline).
func (r *Repository) Timeline(ctx context.Context, anchorID int64, before, after int) ([]*models.Observation, error) {
	anchor, err := r.GetObservation(ctx, anchorID)
	if err != nil {
		return nil, err
	}
	if anchor == nil {
		return nil, fmt.Errorf("timeline: anchor %d not found", anchorID)
	}

	olderRows, err := r.store.QueryContext(ctx,
		`SELECT `+observationColumns+` FROM observations
		 WHERE project = ? AND (created_at_epoch < ? OR (created_at_epoch = ? AND id < ?))
		 ORDER BY created_at_epoch DESC, id DESC LIMIT ?`,
		anchor.Project, anchor.CreatedAtEpoch, anchor.CreatedAtEpoch, anchor.ID, before,
	)
	if err != nil {
		return nil, err
	}
	older, err := scanObservationRows(olderRows)
	if err != nil {
		return nil, err
	}
	// reverse so older-first (we fetched DESC for "closest first" selection)
	for i, j := 0, len(older)-1; i < j; i, j = i+1, j-1 {
		older[i], older[j] = older[j], older[i]
	}

	newerRows, err := r.store.QueryContext(ctx,
		`SELECT `+observationColumns+` FROM observations
		 WHERE project = ? AND (created_at_epoch > ? OR (created_at_epoch = ? AND id > ?))
		 ORDER BY created_at_epoch ASC, id ASC LIMIT ?`,
		anchor.Project, anchor.CreatedAtEpoch, anchor.CreatedAtEpoch, anchor.ID, after,
	)
	if err != nil {
		return nil, err
	}
	newer, err := scanObservationRows(newerRows)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Observation, 0, len(older)+1+len(newer))
	out = append(out, older...)
	out = append(out, anchor)
	out = append(out, newer...)
	return out, nil
}

// GetObservation fetches a single observation by id, nil if absent.
func (r *Repository) GetObservation(ctx context.Context, id int64) (*models.Observation, error) {
	row := r.store.QueryRowContext(ctx, `SELECT `+observationColumns+` FROM observations WHERE id = ?`, id)
	obs, err := scanObservation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return obs, err
}

// ListByProject returns observations for project using keyset pagination
// under DESC (created_at_epoch, id) ordering (spec §4.4 "keyset cursors").
func (r *Repository) ListByProject(ctx context.Context, project string, after *Cursor, limit int) ([]*models.Observation, error) {
	var rows *sql.Rows
	var err error
	if after != nil {
		rows, err = r.store.QueryContext(ctx,
			`SELECT `+observationColumns+` FROM observations
			 WHERE project = ? AND (created_at_epoch < ? OR (created_at_epoch = ? AND id < ?))
			 ORDER BY created_at_epoch DESC, id DESC LIMIT ?`,
			project, after.Epoch, after.Epoch, after.ID, limit,
		)
	} else {
		rows, err = r.store.QueryContext(ctx,
			`SELECT `+observationColumns+` FROM observations
			 WHERE project = ? ORDER BY created_at_epoch DESC, id DESC LIMIT ?`,
			project, limit,
		)
	}
	if err != nil {
		return nil, err
	}
	return scanObservationRows(rows)
}

func scanObservation(scanner interface{ Scan(...interface{}) error }) (*models.Observation, error) {
	var o models.Observation
	var concepts string
	var staleInt int
	if err := scanner.Scan(
		&o.ID, &o.SessionID, &o.Project, &o.Type, &o.Title, &o.Subtitle, &o.Text, &o.Narrative,
		&o.Facts, &concepts, &o.FilesRead, &o.FilesModified, &o.PromptNumber, &o.ContentHash,
		&o.DiscoveryTokens, &o.AutoCategory, &o.Importance, &o.LastAccessedEpoch, &staleInt,
		&o.CreatedAt, &o.CreatedAtEpoch,
	); err != nil {
		return nil, err
	}
	o.Concepts = models.ParseStringSlice(concepts)
	o.Stale = staleInt != 0
	return &o, nil
}

func scanObservationRows(rows *sql.Rows) ([]*models.Observation, error) {
	defer rows.Close()
	var out []*models.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
