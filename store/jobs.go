package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/trailcast/orchestrator/jobmanager"
	"github.com/trailcast/orchestrator/model"
)

type jobRow struct {
	ID            string          `db:"id"`
	Type          string          `db:"type"`
	Status        string          `db:"status"`
	Parameters    []byte          `db:"parameters"`
	Progress      float64         `db:"progress"`
	CurrentStep   sql.NullString  `db:"current_step"`
	CreatedAt     time.Time       `db:"created_at"`
	CreatedBy     sql.NullString  `db:"created_by"`
	StartedAt     sql.NullTime    `db:"started_at"`
	CompletedAt   sql.NullTime    `db:"completed_at"`
	ErrorMessage  sql.NullString  `db:"error_message"`
	ResultSummary []byte          `db:"result_summary"`
	RetryStatus   string          `db:"retry_status"`
	RetryCount    int             `db:"retry_count"`
}

func (r jobRow) toModel() *model.Job {
	job := &model.Job{
		ID:          r.ID,
		Type:        r.Type,
		Status:      model.NormalizeJobStatus(model.JobStatus(r.Status)),
		Progress:    r.Progress,
		CreatedAt:   r.CreatedAt,
		RetryStatus: model.RetryStatus(r.RetryStatus),
		RetryCount:  r.RetryCount,
	}
	if r.CurrentStep.Valid {
		job.CurrentStep = r.CurrentStep.String
	}
	if r.CreatedBy.Valid {
		job.CreatedBy = r.CreatedBy.String
		job.RequestedBy = r.CreatedBy.String
	}
	if r.StartedAt.Valid {
		job.StartedAt = &r.StartedAt.Time
	}
	if r.CompletedAt.Valid {
		job.CompletedAt = &r.CompletedAt.Time
	}
	if r.ErrorMessage.Valid {
		job.ErrorMessage = r.ErrorMessage.String
	}
	if len(r.Parameters) > 0 {
		job.Parameters = model.NewBag()
		_ = job.Parameters.UnmarshalJSON(r.Parameters)
	}
	if len(r.ResultSummary) > 0 {
		job.ResultSummary = model.NewBag()
		_ = job.ResultSummary.UnmarshalJSON(r.ResultSummary)
	}
	return job
}

func (s *Store) InsertJob(ctx context.Context, job *model.Job) error {
	params, err := job.Parameters.MarshalJSON()
	if err != nil {
		return fmt.Errorf("store: marshal job parameters: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO job_executions
			(id, type, status, parameters, progress, current_step, created_at, created_by,
			 started_at, completed_at, error_message, result_summary, retry_status, retry_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		job.ID, job.Type, string(job.Status), params, job.Progress, job.CurrentStep,
		job.CreatedAt, job.CreatedBy, job.StartedAt, job.CompletedAt, job.ErrorMessage,
		marshalResultSummary(job), string(job.RetryStatus), job.RetryCount)
	return err
}

func marshalResultSummary(job *model.Job) []byte {
	if job.ResultSummary == nil {
		return nil
	}
	b, err := job.ResultSummary.MarshalJSON()
	if err != nil {
		return nil
	}
	return b
}

func (s *Store) UpdateJob(ctx context.Context, job *model.Job) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE job_executions SET
			status = $2, progress = $3, current_step = $4, started_at = $5,
			completed_at = $6, error_message = $7, result_summary = $8,
			retry_status = $9, retry_count = $10
		WHERE id = $1`,
		job.ID, string(job.Status), job.Progress, job.CurrentStep, job.StartedAt,
		job.CompletedAt, job.ErrorMessage, marshalResultSummary(job),
		string(job.RetryStatus), job.RetryCount)
	return err
}

func (s *Store) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var row jobRow
	err := s.DB.GetContext(ctx, &row, `SELECT * FROM job_executions WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

func (s *Store) ListJobs(ctx context.Context, f jobmanager.ListFilter) ([]*model.Job, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	argN := 1
	if f.Type != "" {
		where += fmt.Sprintf(" AND type = $%d", argN)
		args = append(args, f.Type)
		argN++
	}
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, string(f.Status))
		argN++
	}

	var total int
	if err := s.DB.GetContext(ctx, &total, "SELECT count(*) FROM job_executions "+where, args...); err != nil {
		return nil, 0, err
	}

	page, size := f.Page, f.Size
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	query := fmt.Sprintf("SELECT * FROM job_executions %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		where, argN, argN+1)
	args = append(args, size, (page-1)*size)

	var rows []jobRow
	if err := s.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, err
	}
	jobs := make([]*model.Job, len(rows))
	for i, r := range rows {
		jobs[i] = r.toModel()
	}
	return jobs, total, nil
}

func (s *Store) AppendLog(ctx context.Context, entry model.JobLogEntry) error {
	var details []byte
	if entry.Details != nil {
		b, err := entry.Details.MarshalJSON()
		if err == nil {
			details = b
		}
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO job_logs (job_id, level, message, details, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		entry.JobID, string(entry.Level), entry.Message, details, entry.CreatedAt)
	return err
}

func (s *Store) ListLogs(ctx context.Context, jobID string, level *model.LogLevel, page, size int) ([]model.JobLogEntry, int, error) {
	where := "WHERE job_id = $1"
	args := []any{jobID}
	if level != nil {
		where += " AND level = $2"
		args = append(args, string(*level))
	}

	var total int
	if err := s.DB.GetContext(ctx, &total, "SELECT count(*) FROM job_logs "+where, args...); err != nil {
		return nil, 0, err
	}

	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 100
	}
	query := fmt.Sprintf("SELECT id, job_id, level, message, details, created_at FROM job_logs %s ORDER BY created_at DESC LIMIT %d OFFSET %d",
		where, size, (page-1)*size)

	type row struct {
		ID        int64          `db:"id"`
		JobID     string         `db:"job_id"`
		Level     string         `db:"level"`
		Message   string         `db:"message"`
		Details   []byte         `db:"details"`
		CreatedAt time.Time      `db:"created_at"`
	}
	var rows []row
	if err := s.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, err
	}
	entries := make([]model.JobLogEntry, len(rows))
	for i, r := range rows {
		entries[i] = model.JobLogEntry{
			ID:        r.ID,
			JobID:     r.JobID,
			Level:     model.LogLevel(r.Level),
			Message:   r.Message,
			CreatedAt: r.CreatedAt,
		}
		if len(r.Details) > 0 {
			entries[i].Details = model.NewBag()
			_ = entries[i].Details.UnmarshalJSON(r.Details)
		}
	}
	return entries, total, nil
}

func (s *Store) Stats(ctx context.Context, from, to *time.Time) ([]jobmanager.TypeStats, error) {
	where := "WHERE 1=1"
	args := []any{}
	argN := 1
	if from != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", argN)
		args = append(args, *from)
		argN++
	}
	if to != nil {
		where += fmt.Sprintf(" AND created_at <= $%d", argN)
		args = append(args, *to)
		argN++
	}

	type row struct {
		Type            string          `db:"type"`
		Total           int             `db:"total"`
		SuccessCount    int             `db:"success_count"`
		FailureCount    int             `db:"failure_count"`
		RunningCount    int             `db:"running_count"`
		AvgDurationSecs sql.NullFloat64 `db:"avg_duration_secs"`
	}
	query := fmt.Sprintf(`
		SELECT
			type,
			count(*) AS total,
			count(*) FILTER (WHERE status = 'COMPLETED') AS success_count,
			count(*) FILTER (WHERE status = 'FAILED') AS failure_count,
			count(*) FILTER (WHERE status = 'RUNNING') AS running_count,
			avg(extract(epoch FROM (completed_at - started_at))) FILTER (WHERE status = 'COMPLETED') AS avg_duration_secs
		FROM job_executions %s
		GROUP BY type`, where)

	var rows []row
	if err := s.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]jobmanager.TypeStats, len(rows))
	for i, r := range rows {
		stats := jobmanager.TypeStats{
			Type:         r.Type,
			Total:        r.Total,
			SuccessCount: r.SuccessCount,
			FailureCount: r.FailureCount,
			RunningCount: r.RunningCount,
		}
		if r.AvgDurationSecs.Valid {
			stats.AvgDurationSec = r.AvgDurationSecs.Float64
		}
		if r.Total > 0 {
			stats.SuccessRate = float64(r.SuccessCount) / float64(r.Total)
		}
		out[i] = stats
	}
	return out, nil
}

func (s *Store) Cleanup(ctx context.Context, olderThan time.Time) (int, int, error) {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	var logsDeleted int
	err = tx.GetContext(ctx, &logsDeleted, `
		WITH deleted AS (
			DELETE FROM job_logs WHERE job_id IN (
				SELECT id FROM job_executions
				WHERE status IN ('COMPLETED','FAILED','STOPPED') AND created_at < $1
			) RETURNING 1
		) SELECT count(*) FROM deleted`, olderThan)
	if err != nil {
		return 0, 0, err
	}

	var jobsDeleted int
	err = tx.GetContext(ctx, &jobsDeleted, `
		WITH deleted AS (
			DELETE FROM job_executions
			WHERE status IN ('COMPLETED','FAILED','STOPPED') AND created_at < $1
			RETURNING 1
		) SELECT count(*) FROM deleted`, olderThan)
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return jobsDeleted, logsDeleted, nil
}

var _ jobmanager.Store = (*Store)(nil)

// RecentLogs implements wsfanout.HistoryStore: up to size entries for
// jobID with created_at <= asOf, newest first — the snapshot-by-timestamp
// replay page (spec.md §9 open question #3).
func (s *Store) RecentLogs(jobID string, asOf time.Time, size int) ([]model.JobLogEntry, error) {
	if size <= 0 {
		size = 100
	}
	type row struct {
		ID        int64          `db:"id"`
		JobID     string         `db:"job_id"`
		Level     string         `db:"level"`
		Message   string         `db:"message"`
		Details   []byte         `db:"details"`
		CreatedAt time.Time      `db:"created_at"`
	}
	var rows []row
	err := s.DB.Select(&rows, `
		SELECT id, job_id, level, message, details, created_at
		FROM job_logs WHERE job_id = $1 AND created_at <= $2
		ORDER BY created_at DESC LIMIT $3`, jobID, asOf, size)
	if err != nil {
		return nil, err
	}
	entries := make([]model.JobLogEntry, len(rows))
	for i, r := range rows {
		entries[i] = model.JobLogEntry{
			ID:        r.ID,
			JobID:     r.JobID,
			Level:     model.LogLevel(r.Level),
			Message:   r.Message,
			CreatedAt: r.CreatedAt,
		}
		if len(r.Details) > 0 {
			entries[i].Details = model.NewBag()
			_ = entries[i].Details.UnmarshalJSON(r.Details)
		}
	}
	return entries, nil
}
