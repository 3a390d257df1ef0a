package data

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibb-transit/crowdcast/internal/core"
	"github.com/ibb-transit/crowdcast/internal/domain/model"
)

func TestJobExecutionRepoStart(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fixed := time.Date(2025, 3, 1, 4, 0, 0, 0, time.UTC)
	repo := NewJobExecutionRepo(db, JobExecutionRepoOptions{
		TimeProvider: NewFixedTimeProvider(fixed),
	})

	target := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO job_executions`).
		WithArgs(model.JobTypeDailyForecast, target, nil, "RUNNING", fixed).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	exec, err := repo.Start(context.Background(), core.StartJobParams{
		JobType:    model.JobTypeDailyForecast,
		TargetDate: &target,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), exec.ID)
	assert.Equal(t, model.JobStatusRunning, exec.Status)
	assert.Equal(t, fixed, exec.StartTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobExecutionRepoFinish(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewJobExecutionRepo(db, JobExecutionRepoOptions{})

	mock.ExpectExec(`UPDATE job_executions`).
		WithArgs(int64(42), "SUCCESS", sqlmock.AnyArg(), 120, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.Finish(context.Background(), core.FinishJobParams{
		ID:               42,
		Status:           model.JobStatusSuccess,
		RecordsProcessed: 120,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobExecutionRepoFinishMissingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewJobExecutionRepo(db, JobExecutionRepoOptions{})

	mock.ExpectExec(`UPDATE job_executions`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.Finish(context.Background(), core.FinishJobParams{
		ID:     7,
		Status: model.JobStatusFailed,
	})
	assert.ErrorIs(t, err, ErrJobExecutionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobExecutionRepoFailStaleRunning(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewJobExecutionRepo(db, JobExecutionRepoOptions{})

	mock.ExpectExec(`UPDATE job_executions`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.FailStaleRunning(context.Background(), 6*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobExecutionRepoLastSuccessNone(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewJobExecutionRepo(db, JobExecutionRepoOptions{})

	mock.ExpectQuery(`SELECT`).
		WithArgs(model.JobTypeDataQualityCheck, "SUCCESS").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "job_type", "target_date", "end_date", "status", "start_time",
			"end_time", "records_processed", "error_message", "job_metadata",
		}))

	exec, err := repo.LastSuccess(context.Background(), model.JobTypeDataQualityCheck)
	require.NoError(t, err)
	assert.Nil(t, exec)
	assert.NoError(t, mock.ExpectationsWereMet())
}
