package repository

import (
	"context"
	"database/sql"
	"time"
)

// ReportFilters narrows GenerateReport (spec §6 generateReport).
type ReportFilters struct {
	Project        string
	StartEpoch     int64
	EndEpoch       int64
}

// Report is the aggregate analytics snapshot GenerateReport returns.
type Report struct {
	Project           string         `json:"project"`
	StartEpoch        int64          `json:"start_epoch"`
	EndEpoch          int64          `json:"end_epoch"`
	TotalObservations int            `json:"total_observations"`
	ByType            map[string]int `json:"by_type"`
	ByCategory        map[string]int `json:"by_category"`
	KnowledgeCount    int            `json:"knowledge_count"`
	StaleCount        int            `json:"stale_count"`
	SessionsStarted   int            `json:"sessions_started"`
	SessionsCompleted int            `json:"sessions_completed"`
	SummariesCount    int            `json:"summaries_count"`
	PromptsCount      int            `json:"prompts_count"`
	GeneratedAt       string         `json:"generated_at"`
}

func projectClause(col, project string) (string, []interface{}) {
	if project == "" {
		return "", nil
	}
	return " AND " + col + " = ?", []interface{}{project}
}

// GenerateReport aggregates observation/session/summary/prompt counts for
// project over [StartEpoch, EndEpoch) (spec §6 "generateReport({period |
// startDate, endDate}) -> aggregate analytics"). A zero StartEpoch/EndEpoch
// means unbounded on that side.
func (r *Repository) GenerateReport(ctx context.Context, f ReportFilters) (Report, error) {
	report := Report{
		Project:     f.Project,
		StartEpoch:  f.StartEpoch,
		EndEpoch:    f.EndEpoch,
		ByType:      map[string]int{},
		ByCategory:  map[string]int{},
		GeneratedAt: time.Now().Format(time.RFC3339),
	}

	pc, pargs := projectClause("project", f.Project)
	rangeClause, rargs := epochRangeClause("created_at_epoch", f.StartEpoch, f.EndEpoch)
	args := append(append([]interface{}{}, pargs...), rargs...)

	if err := r.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM observations WHERE 1=1`+pc+rangeClause, args...,
	).Scan(&report.TotalObservations); err != nil {
		return report, err
	}

	typeRows, err := r.store.DB().QueryContext(ctx,
		`SELECT type, COUNT(*) FROM observations WHERE 1=1`+pc+rangeClause+` GROUP BY type`, args...)
	if err != nil {
		return report, err
	}
	if err := scanCountRows(typeRows, report.ByType); err != nil {
		return report, err
	}

	categoryRows, err := r.store.DB().QueryContext(ctx,
		`SELECT auto_category, COUNT(*) FROM observations WHERE 1=1`+pc+rangeClause+` GROUP BY auto_category`, args...)
	if err != nil {
		return report, err
	}
	if err := scanCountRows(categoryRows, report.ByCategory); err != nil {
		return report, err
	}

	knowledgeArgs := append(append([]interface{}{}, args...))
	if err := r.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM observations WHERE type IN (`+knowledgeTypeList()+`)`+pc+rangeClause, knowledgeArgs...,
	).Scan(&report.KnowledgeCount); err != nil {
		return report, err
	}

	if err := r.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM observations WHERE stale = 1`+pc+rangeClause, args...,
	).Scan(&report.StaleCount); err != nil {
		return report, err
	}

	sessionStartClause, sargs := epochRangeClause("started_at_epoch", f.StartEpoch, f.EndEpoch)
	sessionArgs := append(append([]interface{}{}, pargs...), sargs...)
	if err := r.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE 1=1`+pc+sessionStartClause, sessionArgs...,
	).Scan(&report.SessionsStarted); err != nil {
		return report, err
	}
	if err := r.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE status = 'completed'`+pc+sessionStartClause, sessionArgs...,
	).Scan(&report.SessionsCompleted); err != nil {
		return report, err
	}

	if err := r.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_summaries WHERE 1=1`+pc+rangeClause, args...,
	).Scan(&report.SummariesCount); err != nil {
		return report, err
	}

	if f.Project != "" {
		promptArgs := append([]interface{}{f.Project}, rargs...)
		promptRangeClause, _ := epochRangeClause("p.created_at_epoch", f.StartEpoch, f.EndEpoch)
		if err := r.store.DB().QueryRowContext(ctx, `
			SELECT COUNT(*) FROM prompts p JOIN sessions s ON s.external_id = p.session_id
			WHERE s.project = ?`+promptRangeClause, promptArgs...,
		).Scan(&report.PromptsCount); err != nil {
			return report, err
		}
	} else {
		promptRangeClause, promptArgs := epochRangeClause("created_at_epoch", f.StartEpoch, f.EndEpoch)
		if err := r.store.DB().QueryRowContext(ctx,
			`SELECT COUNT(*) FROM prompts WHERE 1=1`+promptRangeClause, promptArgs...,
		).Scan(&report.PromptsCount); err != nil {
			return report, err
		}
	}

	return report, nil
}

func epochRangeClause(col string, start, end int64) (string, []interface{}) {
	var clause string
	var args []interface{}
	if start > 0 {
		clause += " AND " + col + " >= ?"
		args = append(args, start)
	}
	if end > 0 {
		clause += " AND " + col + " <= ?"
		args = append(args, end)
	}
	return clause, args
}

func scanCountRows(rows *sql.Rows, into map[string]int) error {
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		into[key] = count
	}
	return rows.Err()
}
