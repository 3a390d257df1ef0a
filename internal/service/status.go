package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ibb-transit/crowdcast/internal/core"
	"github.com/ibb-transit/crowdcast/internal/data"
	"github.com/ibb-transit/crowdcast/internal/domain/model"
	"github.com/ibb-transit/crowdcast/internal/featurestore"
	"github.com/ibb-transit/crowdcast/internal/sched"
)

// StaleRunningMaxAge is how long a RUNNING job execution may sit before the
// reset sweep marks it FAILED.
const StaleRunningMaxAge = 6 * time.Hour

// jobHistoryTypes are the job types surfaced on the admin status page.
var jobHistoryTypes = []string{
	model.JobTypeDailyForecast,
	model.JobTypeBusSchedulePrefetch,
	model.JobTypeMetroPrefetch,
	model.JobTypeCleanupForecasts,
	model.JobTypeDataQualityCheck,
}

// schedulerStatusSource is the slice of the scheduler the status page reads.
type schedulerStatusSource interface {
	Status() []sched.EntryStatus
}

// fallbackStatsSource exposes the feature store tier counters.
type fallbackStatsSource interface {
	FallbackStats() featurestore.FallbackStats
	ResetFallbackStats()
}

// StatusRepos groups the repositories of the status service.
type StatusRepos struct {
	Jobs       core.JobExecutionRepository
	BusCache   core.BusCacheRepository
	MetroCache core.MetroCacheRepository
	Forecasts  core.ForecastRepository
	Lines      core.LineRepository
}

// StatusDeps groups the live collaborators of the status service.
type StatusDeps struct {
	Scheduler schedulerStatusSource
	Features  fallbackStatsSource
	Bus       *BusCacheService
	Metro     *MetroCacheService
}

// StatusServiceOptions holds the dependencies for creating a StatusService.
type StatusServiceOptions struct {
	Repos StatusRepos
	Deps  StatusDeps
	Opts  StatusRuntimeOptions
}

// StatusRuntimeOptions carries the ambient pieces of the status service.
type StatusRuntimeOptions struct {
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// StatusService assembles the operator-facing view of the pipeline: scheduler
// entries, pending retries, cache health, fallback tier counters, and recent
// job executions.
type StatusService struct {
	repos        StatusRepos
	deps         StatusDeps
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewStatusService creates a StatusService with defaults filled in.
func NewStatusService(opts StatusServiceOptions) *StatusService {
	rt := opts.Opts
	if rt.TimeProvider == nil {
		rt.TimeProvider = &data.RealTimeProvider{}
	}
	if rt.Logger == nil {
		rt.Logger = slog.Default()
	}
	return &StatusService{
		repos:        opts.Repos,
		deps:         opts.Deps,
		timeProvider: rt.TimeProvider,
		logger:       rt.Logger,
	}
}

// JobTypeSummary is the recent history of one job type.
type JobTypeSummary struct {
	JobType     string               `json:"job_type"`
	LastSuccess *model.JobExecution  `json:"last_success,omitempty"`
	Recent      []model.JobExecution `json:"recent"`
}

// SchedulerStatus is the full admin status response.
type SchedulerStatus struct {
	GeneratedAt   time.Time                  `json:"generated_at"`
	Entries       []sched.EntryStatus        `json:"entries"`
	PendingBus    []pendingBusLine           `json:"pending_bus"`
	PendingMetro  []pendingMetroPair         `json:"pending_metro"`
	FallbackStats featurestore.FallbackStats `json:"fallback_stats"`
	BusCache      *core.CacheStatusCounts    `json:"bus_cache,omitempty"`
	MetroCache    *core.CacheStatusCounts    `json:"metro_cache,omitempty"`
	ForecastDates []string                   `json:"forecast_dates"`
	Jobs          []JobTypeSummary           `json:"jobs"`
}

// Snapshot gathers the current pipeline state. Partial failures degrade the
// response instead of failing it; only the job history is load-bearing.
func (s *StatusService) Snapshot(ctx context.Context) (*SchedulerStatus, error) {
	out := &SchedulerStatus{
		GeneratedAt:   s.timeProvider.Now(),
		Entries:       s.deps.Scheduler.Status(),
		PendingBus:    s.deps.Bus.PendingState(),
		PendingMetro:  s.deps.Metro.PendingState(),
		FallbackStats: s.deps.Features.FallbackStats(),
	}

	busStatus, err := s.repos.BusCache.Status(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "bus cache status unavailable", "error", err)
	} else {
		out.BusCache = busStatus
	}
	metroStatus, err := s.repos.MetroCache.Status(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "metro cache status unavailable", "error", err)
	} else {
		out.MetroCache = metroStatus
	}

	dates, err := s.repos.Forecasts.DistinctDates(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "forecast dates unavailable", "error", err)
	} else {
		out.ForecastDates = make([]string, len(dates))
		for i, d := range dates {
			out.ForecastDates[i] = model.DateString(d)
		}
	}

	for _, jobType := range jobHistoryTypes {
		summary, err := s.jobSummary(ctx, jobType)
		if err != nil {
			return nil, err
		}
		out.Jobs = append(out.Jobs, summary)
	}
	return out, nil
}

func (s *StatusService) jobSummary(ctx context.Context, jobType string) (JobTypeSummary, error) {
	recent, err := s.repos.Jobs.ListRecent(ctx, jobType, 5)
	if err != nil {
		return JobTypeSummary{}, fmt.Errorf("list recent %s executions: %w", jobType, err)
	}
	last, err := s.repos.Jobs.LastSuccess(ctx, jobType)
	if err != nil {
		return JobTypeSummary{}, fmt.Errorf("last success for %s: %w", jobType, err)
	}
	return JobTypeSummary{JobType: jobType, LastSuccess: last, Recent: recent}, nil
}

// DashboardStats is the condensed operator dashboard view.
type DashboardStats struct {
	LineCount          int                 `json:"line_count"`
	BusLineCount       int                 `json:"bus_line_count"`
	RailLineCount      int                 `json:"rail_line_count"`
	ForecastDateCount  int                 `json:"forecast_date_count"`
	LatestForecastDate string              `json:"latest_forecast_date,omitempty"`
	LastForecastRun    *model.JobExecution `json:"last_forecast_run,omitempty"`
}

// Dashboard gathers the headline counters for the admin landing view.
func (s *StatusService) Dashboard(ctx context.Context) (*DashboardStats, error) {
	lines, err := s.repos.Lines.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transport lines: %w", err)
	}
	out := &DashboardStats{LineCount: len(lines)}
	for _, line := range lines {
		if line.IsBus() {
			out.BusLineCount++
		} else {
			out.RailLineCount++
		}
	}

	dates, err := s.repos.Forecasts.DistinctDates(ctx)
	if err != nil {
		return nil, fmt.Errorf("distinct forecast dates: %w", err)
	}
	out.ForecastDateCount = len(dates)
	if len(dates) > 0 {
		// DistinctDates returns newest first.
		out.LatestForecastDate = model.DateString(dates[0])
	}

	last, err := s.repos.Jobs.LastSuccess(ctx, model.JobTypeDailyForecast)
	if err != nil {
		return nil, fmt.Errorf("last forecast success: %w", err)
	}
	out.LastForecastRun = last
	return out, nil
}

// ResetFallbackStats zeroes the feature store tier counters.
func (s *StatusService) ResetFallbackStats() {
	s.deps.Features.ResetFallbackStats()
}

// ResetStaleJobs marks RUNNING executions older than StaleRunningMaxAge as
// FAILED and returns the number swept. Run at startup and on operator demand.
func (s *StatusService) ResetStaleJobs(ctx context.Context) (int64, error) {
	swept, err := s.repos.Jobs.FailStaleRunning(ctx, StaleRunningMaxAge)
	if err != nil {
		return 0, fmt.Errorf("fail stale running jobs: %w", err)
	}
	if swept > 0 {
		s.logger.InfoContext(ctx, "reset stale running jobs", "count", swept)
	}
	return swept, nil
}
