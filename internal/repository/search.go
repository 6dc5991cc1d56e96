package repository

import (
	"context"
	"strings"
)

// SearchFilters narrows a lexical search (spec §4.4 searchLexical).
type SearchFilters struct {
	Project        string
	Type           string
	CreatedAfter   int64
	CreatedBefore  int64
	Limit          int
}

// LexicalHit pairs an observation id with its raw BM25 rank (lower is
// better); Rank is 0 when the row came from the LIKE fallback, which
// carries no rank signal.
type LexicalHit struct {
	ID   int64
	Rank float64
}

const maxFTSQueryTerms = 100

// sanitizeFTSQuery replaces smart/typographic quotes, splits on whitespace
// into at most 100 terms, and wraps each in double quotes so the FTS5
// query treats every term as a literal phrase token (spec §4.4).
func sanitizeFTSQuery(query string) string {
	replacer := strings.NewReplacer(
		"‘", "'", "’", "'",
		"“", `"`, "”", `"`,
	)
	cleaned := replacer.Replace(query)

	fields := strings.Fields(cleaned)
	if len(fields) > maxFTSQueryTerms {
		fields = fields[:maxFTSQueryTerms]
	}

	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		if f == "" {
			continue
		}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " ")
}

func applyFilters(where *strings.Builder, args *[]interface{}, f SearchFilters, tableAlias string) {
	col := func(name string) string {
		if tableAlias == "" {
			return name
		}
		return tableAlias + "." + name
	}
	if f.Project != "" {
		where.WriteString(" AND " + col("project") + " = ?")
		*args = append(*args, f.Project)
	}
	if f.Type != "" {
		where.WriteString(" AND " + col("type") + " = ?")
		*args = append(*args, f.Type)
	}
	if f.CreatedAfter > 0 {
		where.WriteString(" AND " + col("created_at_epoch") + " >= ?")
		*args = append(*args, f.CreatedAfter)
	}
	if f.CreatedBefore > 0 {
		where.WriteString(" AND " + col("created_at_epoch") + " <= ?")
		*args = append(*args, f.CreatedBefore)
	}
}

const maxSearchLimit = 500

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > maxSearchLimit {
		return maxSearchLimit
	}
	return limit
}

// SearchLexicalWithRank runs the FTS5 path, falling back to LIKE on any FTS
// error, and returns each hit's raw BM25 rank alongside its id (spec §4.4
// searchLexicalWithRank). Column weights {title:10, text:1, narrative:5,
// concepts:3} match the FTS mirror's column order.
func (r *Repository) SearchLexicalWithRank(ctx context.Context, query string, f SearchFilters) ([]LexicalHit, error) {
	limit := clampLimit(f.Limit)
	sanitized := sanitizeFTSQuery(query)
	if sanitized == "" {
		return r.searchLike(ctx, query, f, limit)
	}

	var where strings.Builder
	args := []interface{}{sanitized}
	applyFilters(&where, &args, f, "o")
	args = append(args, limit)

	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT o.id, bm25(observations_fts, 10, 1, 5, 3) AS rank
		FROM observations_fts
		JOIN observations o ON o.id = observations_fts.rowid
		WHERE observations_fts MATCH ?`+where.String()+`
		ORDER BY rank ASC
		LIMIT ?`, args...)
	if err != nil {
		return r.searchLike(ctx, query, f, limit)
	}
	defer rows.Close()

	var hits []LexicalHit
	for rows.Next() {
		var h LexicalHit
		if err := rows.Scan(&h.ID, &h.Rank); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return r.searchLike(ctx, query, f, limit)
	}
	return hits, nil
}

func (r *Repository) searchLike(ctx context.Context, query string, f SearchFilters, limit int) ([]LexicalHit, error) {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return nil, nil
	}

	var where strings.Builder
	var args []interface{}
	for _, term := range terms {
		pattern := "%" + escapeLike(term) + "%"
		where.WriteString(" AND (title LIKE ? ESCAPE '\\' OR text LIKE ? ESCAPE '\\' OR narrative LIKE ? ESCAPE '\\' OR concepts LIKE ? ESCAPE '\\')")
		args = append(args, pattern, pattern, pattern, pattern)
	}
	applyFilters(&where, &args, f, "")
	args = append(args, limit)

	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT id FROM observations WHERE 1=1`+where.String()+`
		ORDER BY id DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []LexicalHit
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		hits = append(hits, LexicalHit{ID: id})
	}
	return hits, rows.Err()
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// SearchLexical is SearchLexicalWithRank without the rank attached, for
// callers that only need the matching ids/observations (spec §4.4
// searchLexical).
func (r *Repository) SearchLexical(ctx context.Context, query string, f SearchFilters) ([]int64, error) {
	hits, err := r.SearchLexicalWithRank(ctx, query, f)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids, nil
}
