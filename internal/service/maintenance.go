package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ibb-transit/crowdcast/internal/core"
	"github.com/ibb-transit/crowdcast/internal/data"
	"github.com/ibb-transit/crowdcast/internal/domain/model"
)

// Maintenance defaults. Cleanup never deletes inside the last
// MinForecastDaysKept days regardless of configuration.
const (
	MinForecastDaysKept = 3
	// DefaultQualityMinPerDate is the per-date forecast row floor the quality
	// check alerts under (roughly 500 lines x 24 hours with tolerance).
	DefaultQualityMinPerDate = 10000
)

// MaintenanceServiceOptions holds the dependencies for creating a MaintenanceService.
type MaintenanceServiceOptions struct {
	Forecasts core.ForecastRepository
	Jobs      core.JobExecutionRepository
	Opts      MaintenanceRuntimeOptions
}

// MaintenanceRuntimeOptions carries the ambient pieces of the maintenance jobs.
type MaintenanceRuntimeOptions struct {
	Location          *time.Location
	TimeProvider      data.TimeProvider
	Logger            *slog.Logger
	QualityMinPerDate int
}

// MaintenanceService owns the retention sweep over old forecasts and the
// daily forecast-coverage quality check.
type MaintenanceService struct {
	forecasts         core.ForecastRepository
	jobs              core.JobExecutionRepository
	loc               *time.Location
	timeProvider      data.TimeProvider
	logger            *slog.Logger
	qualityMinPerDate int
}

// NewMaintenanceService creates a MaintenanceService with defaults filled in.
func NewMaintenanceService(opts MaintenanceServiceOptions) *MaintenanceService {
	rt := opts.Opts
	if rt.Location == nil {
		rt.Location = time.UTC
	}
	if rt.TimeProvider == nil {
		rt.TimeProvider = &data.RealTimeProvider{}
	}
	if rt.Logger == nil {
		rt.Logger = slog.Default()
	}
	if rt.QualityMinPerDate <= 0 {
		rt.QualityMinPerDate = DefaultQualityMinPerDate
	}
	return &MaintenanceService{
		forecasts:         opts.Forecasts,
		jobs:              opts.Jobs,
		loc:               rt.Location,
		timeProvider:      rt.TimeProvider,
		logger:            rt.Logger,
		qualityMinPerDate: rt.QualityMinPerDate,
	}
}

// CleanupOldForecasts deletes forecast rows older than max(MinForecastDaysKept,
// daysToKeep) days before today and returns the number deleted.
func (s *MaintenanceService) CleanupOldForecasts(ctx context.Context, daysToKeep int) (int64, error) {
	keep := daysToKeep
	if keep < MinForecastDaysKept {
		keep = MinForecastDaysKept
	}
	today := model.CivilDate(s.timeProvider.Now(), s.loc)
	cutoff := today.AddDate(0, 0, -keep)

	job, err := s.jobs.Start(ctx, core.StartJobParams{
		JobType:    model.JobTypeCleanupForecasts,
		TargetDate: &cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("start cleanup job: %w", err)
	}

	deleted, err := s.forecasts.DeleteBefore(ctx, cutoff)
	if err != nil {
		msg := model.TruncateError(err)
		_ = s.jobs.Finish(ctx, core.FinishJobParams{
			ID:           job.ID,
			Status:       model.JobStatusFailed,
			ErrorMessage: &msg,
		})
		return 0, fmt.Errorf("delete old forecasts: %w", err)
	}

	if err := s.jobs.Finish(ctx, core.FinishJobParams{
		ID:               job.ID,
		Status:           model.JobStatusSuccess,
		RecordsProcessed: int(deleted),
	}); err != nil {
		return deleted, fmt.Errorf("finish cleanup job: %w", err)
	}

	s.logger.InfoContext(ctx, "forecast cleanup completed",
		"job_id", job.ID, "cutoff", model.DateString(cutoff), "deleted", deleted)
	return deleted, nil
}

// QualityReport summarizes one data quality check pass.
type QualityReport struct {
	JobID  int64    `json:"job_id"`
	Issues []string `json:"issues"`
}

// Healthy reports whether the check found no issues.
func (r *QualityReport) Healthy() bool { return len(r.Issues) == 0 }

// DataQualityCheck verifies forecast coverage: yesterday, today, and
// tomorrow must each carry a healthy row count, and the next three days must
// not be empty. Issues are recorded, not fatal.
func (s *MaintenanceService) DataQualityCheck(ctx context.Context) (*QualityReport, error) {
	today := model.CivilDate(s.timeProvider.Now(), s.loc)

	job, err := s.jobs.Start(ctx, core.StartJobParams{
		JobType:    model.JobTypeDataQualityCheck,
		TargetDate: &today,
	})
	if err != nil {
		return nil, fmt.Errorf("start quality check job: %w", err)
	}

	report := &QualityReport{JobID: job.ID}
	checkErr := s.runChecks(ctx, today, report)
	if checkErr != nil {
		msg := model.TruncateError(checkErr)
		_ = s.jobs.Finish(ctx, core.FinishJobParams{
			ID:           job.ID,
			Status:       model.JobStatusFailed,
			ErrorMessage: &msg,
		})
		return nil, checkErr
	}

	if err := s.jobs.Finish(ctx, core.FinishJobParams{
		ID:               job.ID,
		Status:           model.JobStatusSuccess,
		RecordsProcessed: len(report.Issues),
	}); err != nil {
		return report, fmt.Errorf("finish quality check job: %w", err)
	}

	if report.Healthy() {
		s.logger.InfoContext(ctx, "data quality check passed", "job_id", job.ID)
	} else {
		s.logger.WarnContext(ctx, "data quality check found issues",
			"job_id", job.ID, "issues", len(report.Issues))
	}
	return report, nil
}

func (s *MaintenanceService) runChecks(ctx context.Context, today time.Time, report *QualityReport) error {
	// Yesterday, today, tomorrow must carry a full forecast set.
	for _, offset := range []int{-1, 0, 1} {
		date := today.AddDate(0, 0, offset)
		count, err := s.forecasts.CountForDate(ctx, date)
		if err != nil {
			return fmt.Errorf("count forecasts for %s: %w", model.DateString(date), err)
		}
		if count < s.qualityMinPerDate {
			report.Issues = append(report.Issues, fmt.Sprintf(
				"low forecast count for %s: %d (expected >%d)",
				model.DateString(date), count, s.qualityMinPerDate))
		}
	}

	// The next three days must not be missing entirely.
	for offset := 1; offset <= 3; offset++ {
		date := today.AddDate(0, 0, offset)
		count, err := s.forecasts.CountForDate(ctx, date)
		if err != nil {
			return fmt.Errorf("count forecasts for %s: %w", model.DateString(date), err)
		}
		if count == 0 {
			report.Issues = append(report.Issues, fmt.Sprintf(
				"missing forecasts for %s", model.DateString(date)))
		}
	}
	return nil
}
