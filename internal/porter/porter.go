// Package porter implements the engine's streaming JSONL export/import
// format (spec §4.10).
package porter

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/kiro-dev/kiro-memory/internal/repository"
	"github.com/kiro-dev/kiro-memory/internal/store"
	"github.com/kiro-dev/kiro-memory/pkg/models"
)

// SchemaVersion is the JSONL format's version string (spec §4.10).
const SchemaVersion = "2.5.0"

// exportBatchSize bounds each family's streamed read (spec §4.10 "batches
// of 200").
const exportBatchSize = 200

// importBatchSize bounds each accepted-record transaction (spec §4.10
// "up to 100 accepted records per type").
const importBatchSize = 100

// Porter streams entity families to and from the JSONL format.
type Porter struct {
	store *store.Store
}

// New creates a Porter over an already-open Store.
func New(s *store.Store) *Porter {
	return &Porter{store: s}
}

// MetaRecord is the optional first line of an export (spec §4.10 "_meta").
type MetaRecord struct {
	Meta metaBody `json:"_meta"`
}

type metaBody struct {
	Version    string            `json:"version"`
	ExportedAt string            `json:"exported_at"`
	Counts     Counts            `json:"counts"`
	Filters    map[string]string `json:"filters,omitempty"`
}

// Counts is the per-family row count reported in the meta record.
type Counts struct {
	Observations int `json:"observations"`
	Summaries    int `json:"summaries"`
	Prompts      int `json:"prompts"`
}

// ExportFilters narrows what Export scans; zero value exports everything.
type ExportFilters struct {
	Project string
}

// Export streams every observation, summary, and prompt row (optionally
// filtered by project) as JSONL to w: a meta line first, then each family
// in (created_at_epoch ASC, id ASC) order, in batches (spec §4.10 Export).
func (p *Porter) Export(ctx context.Context, w io.Writer, filters ExportFilters) error {
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	counts, err := p.countAll(ctx, filters)
	if err != nil {
		return fmt.Errorf("export: count families: %w", err)
	}

	meta := MetaRecord{Meta: metaBody{
		Version:    SchemaVersion,
		ExportedAt: time.Now().Format(time.RFC3339),
		Counts:     counts,
	}}
	if filters.Project != "" {
		meta.Meta.Filters = map[string]string{"project": filters.Project}
	}
	if err := writeLine(bw, meta); err != nil {
		return err
	}

	if err := p.exportObservations(ctx, bw, filters); err != nil {
		return err
	}
	if err := p.exportSummaries(ctx, bw, filters); err != nil {
		return err
	}
	if err := p.exportPrompts(ctx, bw, filters); err != nil {
		return err
	}
	return bw.Flush()
}

// observationLine is the flat JSONL shape for an observation record.
// Nullable DB columns are flattened to plain strings/pointers so Import's
// field readers (which expect plain JSON values, not sql.Null* objects)
// round-trip what Export writes.
type observationLine struct {
	Type            string   `json:"_type"`
	SessionID       string   `json:"session_id"`
	Project         string   `json:"project"`
	ObsType         string   `json:"type"`
	Title           string   `json:"title"`
	Subtitle        string   `json:"subtitle,omitempty"`
	Text            string   `json:"text,omitempty"`
	Narrative       string   `json:"narrative,omitempty"`
	Facts           string   `json:"facts,omitempty"`
	Concepts        []string `json:"concepts,omitempty"`
	FilesRead       []string `json:"files_read,omitempty"`
	FilesModified   []string `json:"files_modified,omitempty"`
	PromptNumber    int      `json:"prompt_number"`
	ContentHash     string   `json:"content_hash"`
	DiscoveryTokens int64    `json:"discovery_tokens"`
	AutoCategory    string   `json:"auto_category"`
	Importance      *int64   `json:"importance,omitempty"`
	CreatedAt       string   `json:"created_at"`
	CreatedAtEpoch  int64    `json:"created_at_epoch"`
}

func toObservationLine(o *models.Observation) observationLine {
	line := observationLine{
		Type:            "observation",
		SessionID:       o.SessionID,
		Project:         o.Project,
		ObsType:         string(o.Type),
		Title:           o.Title,
		Subtitle:        o.Subtitle.String,
		Text:            o.Text.String,
		Narrative:       o.Narrative.String,
		Facts:           o.Facts.String,
		Concepts:        []string(o.Concepts),
		FilesRead:       []string(o.FilesRead),
		FilesModified:   []string(o.FilesModified),
		PromptNumber:    o.PromptNumber,
		ContentHash:     o.ContentHash,
		DiscoveryTokens: o.DiscoveryTokens,
		AutoCategory:    string(o.AutoCategory),
		CreatedAt:       o.CreatedAt,
		CreatedAtEpoch:  o.CreatedAtEpoch,
	}
	if o.Importance.Valid {
		v := o.Importance.Int64
		line.Importance = &v
	}
	return line
}

func (p *Porter) exportObservations(ctx context.Context, w *bufio.Writer, f ExportFilters) error {
	var lastEpoch, lastID int64
	for {
		rows, err := p.store.DB().QueryContext(ctx, `
			SELECT id, session_id, project, type, title, subtitle, text, narrative, facts,
			       concepts, files_read, files_modified, prompt_number, content_hash, discovery_tokens,
			       auto_category, importance, last_accessed_epoch, stale, created_at, created_at_epoch
			FROM observations
			WHERE (? = '' OR project = ?) AND (created_at_epoch > ? OR (created_at_epoch = ? AND id > ?))
			ORDER BY created_at_epoch ASC, id ASC
			LIMIT ?`, f.Project, f.Project, lastEpoch, lastEpoch, lastID, exportBatchSize)
		if err != nil {
			return fmt.Errorf("export observations: %w", err)
		}

		batch, err := scanObservationBatch(rows)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, o := range batch {
			if err := writeLine(w, toObservationLine(o)); err != nil {
				return err
			}
			lastEpoch, lastID = o.CreatedAtEpoch, o.ID
		}
		if len(batch) < exportBatchSize {
			return nil
		}
	}
}

func scanObservationBatch(rows *sql.Rows) ([]*models.Observation, error) {
	defer rows.Close()
	var out []*models.Observation
	for rows.Next() {
		var o models.Observation
		var concepts string
		var staleInt int
		if err := rows.Scan(
			&o.ID, &o.SessionID, &o.Project, &o.Type, &o.Title, &o.Subtitle, &o.Text, &o.Narrative,
			&o.Facts, &concepts, &o.FilesRead, &o.FilesModified, &o.PromptNumber, &o.ContentHash,
			&o.DiscoveryTokens, &o.AutoCategory, &o.Importance, &o.LastAccessedEpoch, &staleInt,
			&o.CreatedAt, &o.CreatedAtEpoch,
		); err != nil {
			return nil, err
		}
		o.Concepts = models.ParseStringSlice(concepts)
		o.Stale = staleInt != 0
		out = append(out, &o)
	}
	return out, rows.Err()
}

// summaryLine is the flat JSONL shape for a session summary record; see
// observationLine for why nullable columns are flattened to plain strings.
type summaryLine struct {
	Type            string `json:"_type"`
	SessionID       string `json:"session_id"`
	Project         string `json:"project"`
	Request         string `json:"request,omitempty"`
	Investigated    string `json:"investigated,omitempty"`
	Learned         string `json:"learned,omitempty"`
	Completed       string `json:"completed,omitempty"`
	NextSteps       string `json:"next_steps,omitempty"`
	Notes           string `json:"notes,omitempty"`
	DiscoveryTokens int64  `json:"discovery_tokens"`
	CreatedAt       string `json:"created_at"`
	CreatedAtEpoch  int64  `json:"created_at_epoch"`
}

func toSummaryLine(s *models.SessionSummary) summaryLine {
	return summaryLine{
		Type:            "summary",
		SessionID:       s.SessionID,
		Project:         s.Project,
		Request:         s.Request.String,
		Investigated:    s.Investigated.String,
		Learned:         s.Learned.String,
		Completed:       s.Completed.String,
		NextSteps:       s.NextSteps.String,
		Notes:           s.Notes.String,
		DiscoveryTokens: s.DiscoveryTokens,
		CreatedAt:       s.CreatedAt,
		CreatedAtEpoch:  s.CreatedAtEpoch,
	}
}

func (p *Porter) exportSummaries(ctx context.Context, w *bufio.Writer, f ExportFilters) error {
	var lastEpoch, lastID int64
	for {
		rows, err := p.store.DB().QueryContext(ctx, `
			SELECT id, session_id, project, request, investigated, learned, completed, next_steps, notes,
			       discovery_tokens, created_at, created_at_epoch
			FROM session_summaries
			WHERE (? = '' OR project = ?) AND (created_at_epoch > ? OR (created_at_epoch = ? AND id > ?))
			ORDER BY created_at_epoch ASC, id ASC
			LIMIT ?`, f.Project, f.Project, lastEpoch, lastEpoch, lastID, exportBatchSize)
		if err != nil {
			return fmt.Errorf("export summaries: %w", err)
		}

		var batch []*models.SessionSummary
		for rows.Next() {
			var s models.SessionSummary
			if err := rows.Scan(&s.ID, &s.SessionID, &s.Project, &s.Request, &s.Investigated, &s.Learned,
				&s.Completed, &s.NextSteps, &s.Notes, &s.DiscoveryTokens, &s.CreatedAt, &s.CreatedAtEpoch); err != nil {
				rows.Close()
				return err
			}
			batch = append(batch, &s)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if len(batch) == 0 {
			return nil
		}
		for _, s := range batch {
			if err := writeLine(w, toSummaryLine(s)); err != nil {
				return err
			}
			lastEpoch, lastID = s.CreatedAtEpoch, s.ID
		}
		if len(batch) < exportBatchSize {
			return nil
		}
	}
}

type promptLine struct {
	Type string `json:"_type"`
	*models.Prompt
}

func (p *Porter) exportPrompts(ctx context.Context, w *bufio.Writer, f ExportFilters) error {
	var lastEpoch, lastID int64
	for {
		var rows *sql.Rows
		var err error
		if f.Project != "" {
			rows, err = p.store.DB().QueryContext(ctx, `
				SELECT p.id, p.session_id, p.prompt_number, p.text, p.created_at, p.created_at_epoch
				FROM prompts p
				JOIN sessions s ON s.external_id = p.session_id
				WHERE s.project = ? AND (p.created_at_epoch > ? OR (p.created_at_epoch = ? AND p.id > ?))
				ORDER BY p.created_at_epoch ASC, p.id ASC
				LIMIT ?`, f.Project, lastEpoch, lastEpoch, lastID, exportBatchSize)
		} else {
			rows, err = p.store.DB().QueryContext(ctx, `
				SELECT id, session_id, prompt_number, text, created_at, created_at_epoch
				FROM prompts
				WHERE created_at_epoch > ? OR (created_at_epoch = ? AND id > ?)
				ORDER BY created_at_epoch ASC, id ASC
				LIMIT ?`, lastEpoch, lastEpoch, lastID, exportBatchSize)
		}
		if err != nil {
			return fmt.Errorf("export prompts: %w", err)
		}

		var batch []*models.Prompt
		for rows.Next() {
			var pr models.Prompt
			if err := rows.Scan(&pr.ID, &pr.SessionID, &pr.PromptNumber, &pr.Text, &pr.CreatedAt, &pr.CreatedAtEpoch); err != nil {
				rows.Close()
				return err
			}
			batch = append(batch, &pr)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if len(batch) == 0 {
			return nil
		}
		for _, pr := range batch {
			if err := writeLine(w, promptLine{Type: "prompt", Prompt: pr}); err != nil {
				return err
			}
			lastEpoch, lastID = pr.CreatedAtEpoch, pr.ID
		}
		if len(batch) < exportBatchSize {
			return nil
		}
	}
}

func (p *Porter) countAll(ctx context.Context, f ExportFilters) (Counts, error) {
	var c Counts
	if err := p.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM observations WHERE ? = '' OR project = ?`, f.Project, f.Project,
	).Scan(&c.Observations); err != nil {
		return c, err
	}
	if err := p.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_summaries WHERE ? = '' OR project = ?`, f.Project, f.Project,
	).Scan(&c.Summaries); err != nil {
		return c, err
	}
	if f.Project != "" {
		if err := p.store.DB().QueryRowContext(ctx, `
			SELECT COUNT(*) FROM prompts p JOIN sessions s ON s.external_id = p.session_id WHERE s.project = ?`,
			f.Project,
		).Scan(&c.Prompts); err != nil {
			return c, err
		}
	} else {
		if err := p.store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM prompts`).Scan(&c.Prompts); err != nil {
			return c, err
		}
	}
	return c, nil
}

func writeLine(w *bufio.Writer, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	return w.WriteByte('\n')
}

// ImportError reports one rejected or skipped JSONL line.
type ImportError struct {
	Line    int    `json:"line"`
	Excerpt string `json:"excerpt"`
	Message string `json:"message"`
}

// ImportResult summarizes an Import run (spec §4.10).
type ImportResult struct {
	Imported     int           `json:"imported"`
	Skipped      int           `json:"skipped"`
	Errors       int           `json:"errors"`
	Total        int           `json:"total"`
	ErrorDetails []ImportError `json:"error_details,omitempty"`
}

const maxExcerptLen = 120

func excerpt(line string) string {
	if len(line) > maxExcerptLen {
		return line[:maxExcerptLen]
	}
	return line
}

// Import reads JSONL from r, validating and batching accepted records per
// family (spec §4.10 Import). DryRun only counts what would be imported
// versus skipped, without writing.
func (p *Porter) Import(ctx context.Context, r io.Reader, dryRun bool) (ImportResult, error) {
	var result ImportResult

	var obsBatch []map[string]json.RawMessage
	var summaryBatch []map[string]json.RawMessage
	var promptBatch []map[string]json.RawMessage

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	lineNum := 0
	flushAll := func() error {
		if len(obsBatch) > 0 {
			if err := p.importObservationBatch(ctx, obsBatch, dryRun, &result); err != nil {
				return err
			}
			obsBatch = nil
		}
		if len(summaryBatch) > 0 {
			if err := p.importSummaryBatch(ctx, summaryBatch, dryRun, &result); err != nil {
				return err
			}
			summaryBatch = nil
		}
		if len(promptBatch) > 0 {
			if err := p.importPromptBatch(ctx, promptBatch, dryRun, &result); err != nil {
				return err
			}
			promptBatch = nil
		}
		return nil
	}

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var raw map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			result.Errors++
			result.Total++
			result.ErrorDetails = append(result.ErrorDetails, ImportError{Line: lineNum, Excerpt: excerpt(line), Message: "invalid JSON: " + err.Error()})
			continue
		}
		if _, isMeta := raw["_meta"]; isMeta {
			continue
		}

		var typ string
		if v, ok := raw["_type"]; ok {
			_ = json.Unmarshal(v, &typ)
		}

		result.Total++
		switch typ {
		case "observation":
			obsBatch = append(obsBatch, raw)
			if len(obsBatch) >= importBatchSize {
				if err := p.importObservationBatch(ctx, obsBatch, dryRun, &result); err != nil {
					return result, err
				}
				obsBatch = nil
			}
		case "summary":
			summaryBatch = append(summaryBatch, raw)
			if len(summaryBatch) >= importBatchSize {
				if err := p.importSummaryBatch(ctx, summaryBatch, dryRun, &result); err != nil {
					return result, err
				}
				summaryBatch = nil
			}
		case "prompt":
			promptBatch = append(promptBatch, raw)
			if len(promptBatch) >= importBatchSize {
				if err := p.importPromptBatch(ctx, promptBatch, dryRun, &result); err != nil {
					return result, err
				}
				promptBatch = nil
			}
		default:
			result.Errors++
			result.ErrorDetails = append(result.ErrorDetails, ImportError{Line: lineNum, Excerpt: excerpt(line), Message: fmt.Sprintf("unknown _type %q", typ)})
		}
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("import: scan: %w", err)
	}
	if err := flushAll(); err != nil {
		return result, err
	}
	return result, nil
}

func str(raw map[string]json.RawMessage, key string) string {
	v, ok := raw[key]
	if !ok {
		return ""
	}
	var s string
	_ = json.Unmarshal(v, &s)
	return s
}

func i64(raw map[string]json.RawMessage, key string) int64 {
	v, ok := raw[key]
	if !ok {
		return 0
	}
	var n int64
	_ = json.Unmarshal(v, &n)
	return n
}

func strSlice(raw map[string]json.RawMessage, key string) []string {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	var s []string
	_ = json.Unmarshal(v, &s)
	return s
}

func (p *Porter) importObservationBatch(ctx context.Context, batch []map[string]json.RawMessage, dryRun bool, result *ImportResult) error {
	return p.store.Transaction(ctx, func(tx *sql.Tx) error {
		for _, raw := range batch {
			project := str(raw, "project")
			typ := str(raw, "type")
			title := str(raw, "title")
			narrative := str(raw, "narrative")
			if project == "" || typ == "" || title == "" {
				result.Errors++
				result.ErrorDetails = append(result.ErrorDetails, ImportError{Message: "observation missing required field(s) project/type/title"})
				continue
			}

			hash := str(raw, "content_hash")
			if hash == "" {
				hash = repository.ContentHash(project, models.ObservationType(typ), title, narrative)
			}

			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM observations WHERE content_hash = ?`, hash).Scan(&exists); err != nil {
				return err
			}
			if exists > 0 {
				result.Skipped++
				continue
			}
			if dryRun {
				result.Imported++
				continue
			}

			createdAt := str(raw, "created_at")
			createdAtEpoch := i64(raw, "created_at_epoch")
			if createdAt == "" {
				now := time.Now()
				createdAt, createdAtEpoch = now.Format(time.RFC3339), now.UnixMilli()
			}
			category := str(raw, "auto_category")
			if category == "" {
				category = "general"
			}
			concepts := strings.Join(strSlice(raw, "concepts"), ",")
			filesRead, _ := models.JSONStringArray(strSlice(raw, "files_read")).Value()
			filesModified, _ := models.JSONStringArray(strSlice(raw, "files_modified")).Value()

			facts := str(raw, "facts")
			var importance sql.NullInt64
			if v, ok := raw["importance"]; ok {
				var n int64
				if err := json.Unmarshal(v, &n); err == nil {
					importance = sql.NullInt64{Int64: n, Valid: true}
				}
			} else if v, ok := models.ParseImportance(facts); ok {
				importance = sql.NullInt64{Int64: int64(v), Valid: true}
			}

			_, err := tx.ExecContext(ctx, `
				INSERT INTO observations
				(session_id, project, type, title, subtitle, text, narrative, facts, concepts,
				 files_read, files_modified, prompt_number, content_hash, discovery_tokens,
				 auto_category, importance, created_at, created_at_epoch)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				str(raw, "session_id"), project, typ, title, nullIfEmpty(str(raw, "subtitle")),
				nullIfEmpty(str(raw, "text")), nullIfEmpty(narrative), nullIfEmpty(facts), concepts,
				filesRead, filesModified, int(i64(raw, "prompt_number")), hash, i64(raw, "discovery_tokens"),
				category, importance, createdAt, createdAtEpoch,
			)
			if err != nil {
				return err
			}
			result.Imported++
		}
		return nil
	})
}

func (p *Porter) importSummaryBatch(ctx context.Context, batch []map[string]json.RawMessage, dryRun bool, result *ImportResult) error {
	return p.store.Transaction(ctx, func(tx *sql.Tx) error {
		for _, raw := range batch {
			sessionID := str(raw, "session_id")
			project := str(raw, "project")
			createdAt := str(raw, "created_at")
			if sessionID == "" || project == "" {
				result.Errors++
				result.ErrorDetails = append(result.ErrorDetails, ImportError{Message: "summary missing required field(s) session_id/project"})
				continue
			}
			if createdAt == "" {
				createdAt = time.Now().Format(time.RFC3339)
			}

			var exists int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM session_summaries WHERE session_id = ? AND project = ? AND created_at = ?`,
				sessionID, project, createdAt,
			).Scan(&exists); err != nil {
				return err
			}
			if exists > 0 {
				result.Skipped++
				continue
			}
			if dryRun {
				result.Imported++
				continue
			}

			createdAtEpoch := i64(raw, "created_at_epoch")
			if createdAtEpoch == 0 {
				createdAtEpoch = time.Now().UnixMilli()
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO session_summaries
					(session_id, project, request, investigated, learned, completed, next_steps, notes, discovery_tokens, created_at, created_at_epoch)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				sessionID, project, nullIfEmpty(str(raw, "request")), nullIfEmpty(str(raw, "investigated")),
				nullIfEmpty(str(raw, "learned")), nullIfEmpty(str(raw, "completed")), nullIfEmpty(str(raw, "next_steps")),
				nullIfEmpty(str(raw, "notes")), i64(raw, "discovery_tokens"), createdAt, createdAtEpoch,
			)
			if err != nil {
				return err
			}
			result.Imported++
		}
		return nil
	})
}

func (p *Porter) importPromptBatch(ctx context.Context, batch []map[string]json.RawMessage, dryRun bool, result *ImportResult) error {
	return p.store.Transaction(ctx, func(tx *sql.Tx) error {
		for _, raw := range batch {
			sessionID := str(raw, "session_id")
			promptNumber := int(i64(raw, "prompt_number"))
			if sessionID == "" {
				result.Errors++
				result.ErrorDetails = append(result.ErrorDetails, ImportError{Message: "prompt missing required field session_id"})
				continue
			}

			var exists int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM prompts WHERE session_id = ? AND prompt_number = ?`, sessionID, promptNumber,
			).Scan(&exists); err != nil {
				return err
			}
			if exists > 0 {
				result.Skipped++
				continue
			}
			if dryRun {
				result.Imported++
				continue
			}

			createdAt := str(raw, "created_at")
			createdAtEpoch := i64(raw, "created_at_epoch")
			if createdAt == "" {
				now := time.Now()
				createdAt, createdAtEpoch = now.Format(time.RFC3339), now.UnixMilli()
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO prompts (session_id, prompt_number, text, created_at, created_at_epoch)
				VALUES (?, ?, ?, ?, ?)`,
				sessionID, promptNumber, str(raw, "text"), createdAt, createdAtEpoch,
			)
			if err != nil {
				return err
			}
			result.Imported++
		}
		return nil
	})
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
