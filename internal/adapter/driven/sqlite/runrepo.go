package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pipeboard/pipeboard/internal/domain/model"
	"github.com/pipeboard/pipeboard/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RunStore = (*RunRepo)(nil)

// RunRepo is the SQLite implementation of the RunStore port interface.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a new RunRepo backed by the given DB.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

const runColumns = `id, provider, pipeline_name, status, started_at, finished_at,
       duration_seconds, branch, triggered_by, url, logs, build_number, notified`

// Upsert inserts the run or merges it into the existing row with the same
// (provider, pipeline_name, build_number). The lookup and write happen in one
// transaction on the single-connection writer, so two concurrent observations
// of the same build cannot both insert or double-merge. Runs without a build
// number are always inserted as new rows.
func (r *RunRepo) Upsert(ctx context.Context, run model.PipelineRun) (model.PipelineRun, bool, error) {
	run = run.WithDerivedDuration()

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return model.PipelineRun{}, false, fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback()

	var existing *model.PipelineRun
	if run.BuildNumber != nil {
		existing, err = getByNaturalKey(ctx, tx, run.Provider, run.PipelineName, *run.BuildNumber)
		if err != nil {
			return model.PipelineRun{}, false, err
		}
	}

	if existing == nil {
		run.Notified = false
		const insert = `
			INSERT INTO pipeline_runs (
				provider, pipeline_name, status, started_at, finished_at,
				duration_seconds, branch, triggered_by, url, logs, build_number, notified
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		`
		res, err := tx.ExecContext(ctx, insert,
			string(run.Provider), run.PipelineName, string(run.Status),
			nullTime(run.StartedAt), nullTime(run.FinishedAt), nullFloat(run.DurationSeconds),
			nullString(run.Branch), nullString(run.TriggeredBy), nullString(run.URL),
			nullString(run.Logs), nullInt(run.BuildNumber),
		)
		if err != nil {
			return model.PipelineRun{}, false, fmt.Errorf("insert run %s/%s: %w", run.Provider, run.PipelineName, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return model.PipelineRun{}, false, fmt.Errorf("last insert id: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return model.PipelineRun{}, false, fmt.Errorf("commit insert: %w", err)
		}
		run.ID = id
		return run, true, nil
	}

	merged := model.Merge(*existing, run)
	const update = `
		UPDATE pipeline_runs SET
			status = ?, started_at = ?, finished_at = ?, duration_seconds = ?,
			branch = ?, triggered_by = ?, url = ?, logs = ?, build_number = ?
		WHERE id = ?
	`
	if _, err := tx.ExecContext(ctx, update,
		string(merged.Status), nullTime(merged.StartedAt), nullTime(merged.FinishedAt),
		nullFloat(merged.DurationSeconds), nullString(merged.Branch), nullString(merged.TriggeredBy),
		nullString(merged.URL), nullString(merged.Logs), nullInt(merged.BuildNumber),
		merged.ID,
	); err != nil {
		return model.PipelineRun{}, false, fmt.Errorf("update run %d: %w", merged.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return model.PipelineRun{}, false, fmt.Errorf("commit update: %w", err)
	}

	return merged, false, nil
}

// GetByID retrieves a single run by surrogate id. Returns nil, nil if the run
// does not exist.
func (r *RunRepo) GetByID(ctx context.Context, id int64) (*model.PipelineRun, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE id = ?`

	run, err := scanRun(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run %d: %w", id, err)
	}

	return run, nil
}

// List returns a page of runs matching the filter, newest-first by surrogate
// id, together with the total match count independent of paging.
func (r *RunRepo) List(ctx context.Context, filter model.RunFilter) ([]model.PipelineRun, int64, error) {
	where, args := buildWhere(filter)

	var total int64
	countQuery := `SELECT COUNT(*) FROM pipeline_runs` + where
	if err := r.db.Reader.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + runColumns + ` FROM pipeline_runs` + where + ` ORDER BY id DESC LIMIT ? OFFSET ?`
	runs, err := r.queryRuns(ctx, query, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}

	return runs, total, nil
}

// Metrics computes dashboard aggregates over the filtered set.
func (r *RunRepo) Metrics(ctx context.Context, filter model.RunFilter) (model.Metrics, error) {
	where, args := buildWhere(filter)

	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(status = 'success'), 0),
		       COALESCE(SUM(status = 'failure'), 0),
		       COALESCE(SUM(status = 'running'), 0),
		       AVG(duration_seconds)
		FROM pipeline_runs` + where

	var m model.Metrics
	var avg sql.NullFloat64
	if err := r.db.Reader.QueryRowContext(ctx, query, args...).Scan(
		&m.TotalRuns, &m.SuccessCount, &m.FailureCount, &m.RunningCount, &avg,
	); err != nil {
		return model.Metrics{}, fmt.Errorf("aggregate metrics: %w", err)
	}
	if avg.Valid {
		m.AvgDurationSecs = &avg.Float64
	}

	if m.TotalRuns > 0 {
		rate := float64(m.SuccessCount) / float64(m.TotalRuns) * 100
		m.SuccessRate = math.Round(rate*100) / 100
	}

	lastQuery := `SELECT status FROM pipeline_runs` + where + ` ORDER BY id DESC LIMIT 1`
	var last string
	err := r.db.Reader.QueryRowContext(ctx, lastQuery, args...).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return model.Metrics{}, fmt.Errorf("last status: %w", err)
	default:
		m.LastStatus = model.RunStatus(last)
	}

	return m, nil
}

// ListRecentFailures returns failed runs newest-first, independent of their
// notified flag. since may be nil for no lower bound.
func (r *RunRepo) ListRecentFailures(ctx context.Context, limit int, since *time.Time) ([]model.PipelineRun, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE status = 'failure'`
	args := []any{}
	if since != nil {
		query += ` AND started_at >= ?`
		args = append(args, formatTime(*since))
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	return r.queryRuns(ctx, query, args...)
}

// Delete removes a run by surrogate id. Returns model.ErrNotFound for
// missing rows.
func (r *RunRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.Writer.ExecContext(ctx, `DELETE FROM pipeline_runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run %d: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %d: %w", id, model.ErrNotFound)
	}

	return nil
}

// DeleteByProvider removes all rows for a provider and returns the count.
// Used by fresh-sync before re-reading upstream state.
func (r *RunRepo) DeleteByProvider(ctx context.Context, provider model.Provider) (int64, error) {
	res, err := r.db.Writer.ExecContext(ctx, `DELETE FROM pipeline_runs WHERE provider = ?`, string(provider))
	if err != nil {
		return 0, fmt.Errorf("delete %s runs: %w", provider, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}

	return rows, nil
}

// ClaimNotification atomically flips notified from false to true. The WHERE
// clause on the old value is what makes concurrent claims safe: exactly one
// caller observes an affected row.
func (r *RunRepo) ClaimNotification(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.Writer.ExecContext(ctx,
		`UPDATE pipeline_runs SET notified = 1 WHERE id = ? AND notified = 0`, id)
	if err != nil {
		return false, fmt.Errorf("claim notification for run %d: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}

	return rows == 1, nil
}

// ReleaseNotification rolls the notified flag back after a failed delivery.
func (r *RunRepo) ReleaseNotification(ctx context.Context, id int64) error {
	if _, err := r.db.Writer.ExecContext(ctx,
		`UPDATE pipeline_runs SET notified = 0 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("release notification for run %d: %w", id, err)
	}
	return nil
}

// buildWhere translates a RunFilter into a WHERE clause and its arguments.
func buildWhere(filter model.RunFilter) (string, []any) {
	var clauses []string
	var args []any

	if filter.Status != "" {
		clauses = append(clauses, `status = ?`)
		args = append(args, string(filter.Status))
	}
	if filter.Provider != "" {
		clauses = append(clauses, `provider = ?`)
		args = append(args, string(filter.Provider))
	}
	if filter.Query != "" {
		like := "%" + strings.ToLower(filter.Query) + "%"
		clauses = append(clauses,
			`(LOWER(pipeline_name) LIKE ? OR LOWER(COALESCE(branch, '')) LIKE ? OR LOWER(COALESCE(triggered_by, '')) LIKE ?)`)
		args = append(args, like, like, like)
	}
	if filter.TimeFrom != nil {
		clauses = append(clauses, `started_at >= ?`)
		args = append(args, formatTime(*filter.TimeFrom))
	}
	if filter.TimeTo != nil {
		clauses = append(clauses, `started_at <= ?`)
		args = append(args, formatTime(*filter.TimeTo))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func getByNaturalKey(ctx context.Context, tx *sql.Tx, provider model.Provider, pipeline string, buildNumber int64) (*model.PipelineRun, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs
		WHERE provider = ? AND pipeline_name = ? AND build_number = ?`

	run, err := scanRun(tx.QueryRowContext(ctx, query, string(provider), pipeline, buildNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s/%s#%d: %w", provider, pipeline, buildNumber, err)
	}

	return run, nil
}

func (r *RunRepo) queryRuns(ctx context.Context, query string, args ...any) ([]model.PipelineRun, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []model.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*model.PipelineRun, error) {
	var run model.PipelineRun
	var provider, status string
	var startedAt, finishedAt, branch, triggeredBy, url, logs sql.NullString
	var duration sql.NullFloat64
	var buildNumber sql.NullInt64
	var notified int

	err := s.Scan(
		&run.ID, &provider, &run.PipelineName, &status, &startedAt, &finishedAt,
		&duration, &branch, &triggeredBy, &url, &logs, &buildNumber, &notified,
	)
	if err != nil {
		return nil, err
	}

	run.Provider = model.Provider(provider)
	run.Status = model.RunStatus(status)
	run.Branch = branch.String
	run.TriggeredBy = triggeredBy.String
	run.URL = url.String
	run.Logs = logs.String
	run.Notified = notified != 0

	if duration.Valid {
		run.DurationSeconds = &duration.Float64
	}
	if buildNumber.Valid {
		run.BuildNumber = &buildNumber.Int64
	}

	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if run.FinishedAt, err = parseTime(finishedAt); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}

	return &run, nil
}

// Timestamps are stored as UTC RFC3339 text (second precision) so that
// lexicographic comparison in SQL matches chronological order.
func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullInt(i *int64) any {
	if i == nil {
		return nil
	}
	return *i
}

func parseTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
