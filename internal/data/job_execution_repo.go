package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ibb-transit/crowdcast/internal/core"
	"github.com/ibb-transit/crowdcast/internal/domain/model"
)

// ErrJobExecutionNotFound is returned when a job execution row is missing.
var ErrJobExecutionNotFound = errors.New("job execution not found")

// JobExecutionRepo provides database operations for the job audit trail.
type JobExecutionRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// JobExecutionRepoOptions holds the dependencies for creating a JobExecutionRepo.
type JobExecutionRepoOptions struct {
	TimeProvider TimeProvider
	Logger       *slog.Logger
}

// NewJobExecutionRepo creates a new JobExecutionRepo instance.
func NewJobExecutionRepo(db *sql.DB, opts JobExecutionRepoOptions) *JobExecutionRepo {
	tp := opts.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JobExecutionRepo{DB: db, timeProvider: tp, logger: logger}
}

const jobExecutionColumns = `
  id,
  job_type,
  target_date,
  end_date,
  status,
  start_time,
  end_time,
  records_processed,
  error_message,
  job_metadata
`

// Start inserts a RUNNING row for a job run and returns it.
func (r *JobExecutionRepo) Start(
	ctx context.Context,
	params core.StartJobParams,
) (*model.JobExecution, error) {
	now := r.timeProvider.Now().UTC()

	const query = `
		INSERT INTO job_executions (job_type, target_date, end_date, status, start_time)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	exec := &model.JobExecution{
		JobType:    params.JobType,
		TargetDate: params.TargetDate,
		EndDate:    params.EndDate,
		Status:     model.JobStatusRunning,
		StartTime:  now,
	}
	err := r.DB.QueryRowContext(ctx, query,
		params.JobType, params.TargetDate, params.EndDate, string(model.JobStatusRunning), now).
		Scan(&exec.ID)
	if err != nil {
		return nil, fmt.Errorf("insert job execution %s: %w", params.JobType, err)
	}
	return exec, nil
}

// Finish transitions a RUNNING row to its terminal state.
func (r *JobExecutionRepo) Finish(ctx context.Context, params core.FinishJobParams) error {
	now := r.timeProvider.Now().UTC()

	const query = `
		UPDATE job_executions
		SET status = $2, end_time = $3, records_processed = $4, error_message = $5
		WHERE id = $1`

	res, err := r.DB.ExecContext(ctx, query,
		params.ID, string(params.Status), now, params.RecordsProcessed, params.ErrorMessage)
	if err != nil {
		return fmt.Errorf("finish job execution %d: %w", params.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrJobExecutionNotFound
	}
	return nil
}

// FailStaleRunning marks RUNNING rows older than maxAge as FAILED. Called once
// at startup so runs interrupted by a crash or redeploy reach a terminal state.
func (r *JobExecutionRepo) FailStaleRunning(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := r.timeProvider.Now().UTC().Add(-maxAge)

	const query = `
		UPDATE job_executions
		SET status = $1, end_time = $2, error_message = $3
		WHERE status = $4 AND start_time < $5`

	res, err := r.DB.ExecContext(ctx, query,
		string(model.JobStatusFailed), r.timeProvider.Now().UTC(),
		"abandoned: still RUNNING past startup sweep", string(model.JobStatusRunning), cutoff)
	if err != nil {
		return 0, fmt.Errorf("fail stale running executions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		r.logger.WarnContext(ctx, "marked stale running job executions failed", "count", n)
	}
	return n, nil
}

// ListRecent returns recent executions, newest first, optionally filtered by
// job type. An empty jobType returns every type.
func (r *JobExecutionRepo) ListRecent(
	ctx context.Context,
	jobType string,
	limit int,
) ([]model.JobExecution, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + jobExecutionColumns + `
		FROM job_executions
		WHERE ($1 = '' OR job_type = $1)
		ORDER BY start_time DESC
		LIMIT $2`

	rows, err := r.DB.QueryContext(ctx, query, jobType, limit)
	if err != nil {
		return nil, fmt.Errorf("list job executions: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			r.logger.Warn("close rows failed", "error", cerr)
		}
	}()

	var out []model.JobExecution
	for rows.Next() {
		exec, scanErr := scanJobExecution(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, *exec)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate job executions: %w", rowsErr)
	}
	return out, nil
}

// LastSuccess returns the most recent SUCCESS execution for a job type, or nil.
func (r *JobExecutionRepo) LastSuccess(ctx context.Context, jobType string) (*model.JobExecution, error) {
	query := `SELECT ` + jobExecutionColumns + `
		FROM job_executions
		WHERE job_type = $1 AND status = $2
		ORDER BY start_time DESC
		LIMIT 1`

	row := r.DB.QueryRowContext(ctx, query, jobType, string(model.JobStatusSuccess))
	exec, err := scanJobExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return exec, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobExecution(s rowScanner) (*model.JobExecution, error) {
	var exec model.JobExecution
	var metadata []byte
	err := s.Scan(&exec.ID, &exec.JobType, &exec.TargetDate, &exec.EndDate, &exec.Status,
		&exec.StartTime, &exec.EndTime, &exec.RecordsProcessed, &exec.ErrorMessage, &metadata)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan job execution: %w", err)
	}
	exec.Metadata = metadata
	return &exec, nil
}
