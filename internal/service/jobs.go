package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ibb-transit/crowdcast/internal/domain/model"
	apperrors "github.com/ibb-transit/crowdcast/internal/errors"
	"github.com/ibb-transit/crowdcast/internal/observability/notify"
	"github.com/ibb-transit/crowdcast/internal/sched"
)

// ForecastMaxRetries bounds the one-shot retry chain after a failed nightly
// forecast run. Delays double from ForecastRetryBase: 60 s, 120 s, 240 s.
const (
	ForecastMaxRetries = 3
	ForecastRetryBase  = 60 * time.Second
)

// RetryLoopExpr is the cadence of the dynamic pending-map retry entries.
const RetryLoopExpr = "*/30 * * * *"

// CronSchedule holds the cron expressions of the five nightly jobs. The
// ordering (bus before metro before forecast) is enforced by these times.
type CronSchedule struct {
	BusPrefetch   string
	MetroPrefetch string
	Forecast      string
	Cleanup       string
	QualityCheck  string
}

// DefaultCronSchedule returns the production nightly cadence in Istanbul time.
func DefaultCronSchedule() CronSchedule {
	return CronSchedule{
		BusPrefetch:   "10 0 * * *",
		MetroPrefetch: "30 2 * * *",
		Forecast:      "0 4 * * *",
		Cleanup:       "15 4 * * *",
		QualityCheck:  "30 4 * * *",
	}
}

func (c CronSchedule) withDefaults() CronSchedule {
	d := DefaultCronSchedule()
	if c.BusPrefetch == "" {
		c.BusPrefetch = d.BusPrefetch
	}
	if c.MetroPrefetch == "" {
		c.MetroPrefetch = d.MetroPrefetch
	}
	if c.Forecast == "" {
		c.Forecast = d.Forecast
	}
	if c.Cleanup == "" {
		c.Cleanup = d.Cleanup
	}
	if c.QualityCheck == "" {
		c.QualityCheck = d.QualityCheck
	}
	return c
}

// JobServices groups the services the registrar dispatches to.
type JobServices struct {
	Forecast    *ForecastService
	Bus         *BusCacheService
	Metro       *MetroCacheService
	Maintenance *MaintenanceService
}

// JobRegistrarOptions holds the dependencies for creating a JobRegistrar.
type JobRegistrarOptions struct {
	Scheduler *sched.Scheduler
	Services  JobServices
	Opts      JobRegistrarRuntime
}

// FailureNotifier receives jobs that exhausted their retries.
type FailureNotifier interface {
	NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload)
}

// JobRegistrarRuntime carries the tunables of the registrar.
type JobRegistrarRuntime struct {
	Schedule CronSchedule
	// DaysToKeep is the cleanup retention window.
	DaysToKeep int
	// BusPrefetchDays widens the nightly bus pass; zero means a single date.
	BusPrefetchDays int
	Logger          *slog.Logger
	Notifier        FailureNotifier
}

// JobRegistrar wires the nightly pipeline onto the scheduler and owns the
// dynamic entries: forecast retry one-shots and the pending-map retry loops.
type JobRegistrar struct {
	sched           *sched.Scheduler
	services        JobServices
	schedule        CronSchedule
	daysToKeep      int
	busPrefetchDays int
	logger          *slog.Logger
	notifier        FailureNotifier
}

// NewJobRegistrar creates a JobRegistrar with defaults filled in.
func NewJobRegistrar(opts JobRegistrarOptions) *JobRegistrar {
	rt := opts.Opts
	if rt.Logger == nil {
		rt.Logger = slog.Default()
	}
	if rt.DaysToKeep < MinForecastDaysKept {
		rt.DaysToKeep = MinForecastDaysKept
	}
	return &JobRegistrar{
		sched:           opts.Scheduler,
		services:        opts.Services,
		schedule:        rt.Schedule.withDefaults(),
		daysToKeep:      rt.DaysToKeep,
		busPrefetchDays: rt.BusPrefetchDays,
		logger:          rt.Logger,
		notifier:        rt.Notifier,
	}
}

// Register installs the five nightly cron entries.
func (r *JobRegistrar) Register() error {
	entries := []struct {
		id   string
		expr string
		fn   sched.JobFunc
	}{
		{model.JobTypeBusSchedulePrefetch, r.schedule.BusPrefetch, r.runBusPrefetch},
		{model.JobTypeMetroPrefetch, r.schedule.MetroPrefetch, r.runMetroPrefetch},
		{model.JobTypeDailyForecast, r.schedule.Forecast, func(ctx context.Context) error {
			return r.runForecast(ctx, RunParams{}, 0)
		}},
		{model.JobTypeCleanupForecasts, r.schedule.Cleanup, func(ctx context.Context) error {
			_, err := r.services.Maintenance.CleanupOldForecasts(ctx, r.daysToKeep)
			return err
		}},
		{model.JobTypeDataQualityCheck, r.schedule.QualityCheck, func(ctx context.Context) error {
			_, err := r.services.Maintenance.DataQualityCheck(ctx)
			return err
		}},
	}
	for _, e := range entries {
		if err := r.sched.AddCron(e.id, e.expr, e.fn); err != nil {
			return fmt.Errorf("register %s: %w", e.id, err)
		}
	}
	return nil
}

// runForecast executes one forecast run and, on failure, chains a one-shot
// retry with doubling delay until the retry cap.
func (r *JobRegistrar) runForecast(ctx context.Context, params RunParams, retry int) error {
	_, err := r.services.Forecast.Run(ctx, params)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	if retry < ForecastMaxRetries {
		delay := ForecastRetryBase << retry
		next := retry + 1
		r.logger.WarnContext(ctx, "scheduling forecast retry",
			"attempt", next, "max_attempts", ForecastMaxRetries, "delay", delay, "error", err)
		r.sched.AddOneShot(fmt.Sprintf("daily_forecast_retry_%d", next), delay, func(ctx context.Context) error {
			return r.runForecast(ctx, params, next)
		})
	} else {
		r.logger.ErrorContext(ctx, "daily forecast failed after all retries",
			"attempts", ForecastMaxRetries+1, "error", err)
		r.notifyFinalFailure(ctx, params, err)
	}
	return err
}

// notifyFinalFailure pushes the exhausted forecast run to the configured
// alert sinks.
func (r *JobRegistrar) notifyFinalFailure(ctx context.Context, params RunParams, err error) {
	if r.notifier == nil {
		return
	}
	targetDate := "auto"
	if !params.TargetDate.IsZero() {
		targetDate = model.DateString(params.TargetDate)
	}
	r.notifier.NotifyJobFailure(ctx, notify.JobFailurePayload{
		JobType:    model.JobTypeDailyForecast,
		TargetDate: targetDate,
		Attempts:   ForecastMaxRetries + 1,
		Error:      err.Error(),
		ErrorClass: string(apperrors.GetCode(err)),
		OccurredAt: time.Now(),
	})
}

// TriggerForecast enqueues an immediate one-shot forecast run, replacing any
// pending manual trigger.
func (r *JobRegistrar) TriggerForecast(params RunParams) {
	r.sched.AddOneShot("daily_forecast_manual", 0, func(ctx context.Context) error {
		return r.runForecast(ctx, params, 0)
	})
}

// TriggerBusPrefetch enqueues an immediate one-shot bus prefetch.
func (r *JobRegistrar) TriggerBusPrefetch(params PrefetchParams) {
	r.sched.AddOneShot("bus_schedule_prefetch_manual", 0, func(ctx context.Context) error {
		_, err := r.services.Bus.PrefetchAll(ctx, params)
		r.ensureBusRetryLoop()
		return err
	})
}

// TriggerMetroPrefetch enqueues an immediate one-shot metro prefetch.
func (r *JobRegistrar) TriggerMetroPrefetch(params PrefetchParams) {
	r.sched.AddOneShot("metro_schedule_prefetch_manual", 0, func(ctx context.Context) error {
		_, err := r.services.Metro.PrefetchAll(ctx, params)
		r.ensureMetroRetryLoop()
		return err
	})
}

func (r *JobRegistrar) runBusPrefetch(ctx context.Context) error {
	_, err := r.services.Bus.PrefetchAll(ctx, PrefetchParams{Days: r.busPrefetchDays})
	r.ensureBusRetryLoop()
	return err
}

func (r *JobRegistrar) runMetroPrefetch(ctx context.Context) error {
	_, err := r.services.Metro.PrefetchAll(ctx, PrefetchParams{})
	r.ensureMetroRetryLoop()
	return err
}

// ensureBusRetryLoop installs the periodic bus retry entry while the pending
// map is non-empty. The entry removes itself once the map drains.
func (r *JobRegistrar) ensureBusRetryLoop() {
	if r.services.Bus.ActivePendingCount() == 0 {
		return
	}
	err := r.sched.AddCron(model.JobIDBusScheduleRetry, RetryLoopExpr, func(ctx context.Context) error {
		if remaining := r.services.Bus.RetryPending(ctx); remaining == 0 {
			r.sched.Remove(model.JobIDBusScheduleRetry)
			r.logger.InfoContext(ctx, "bus retry loop drained, removing entry")
		}
		return nil
	})
	if err != nil && !errors.Is(err, sched.ErrEntryExists) {
		r.logger.Error("failed to install bus retry loop", "error", err)
	}
}

// ensureMetroRetryLoop mirrors ensureBusRetryLoop for metro pairs.
func (r *JobRegistrar) ensureMetroRetryLoop() {
	if r.services.Metro.ActivePendingCount() == 0 {
		return
	}
	err := r.sched.AddCron(model.JobIDMetroScheduleRetry, RetryLoopExpr, func(ctx context.Context) error {
		if remaining := r.services.Metro.RetryPending(ctx); remaining == 0 {
			r.sched.Remove(model.JobIDMetroScheduleRetry)
			r.logger.InfoContext(ctx, "metro retry loop drained, removing entry")
		}
		return nil
	})
	if err != nil && !errors.Is(err, sched.ErrEntryExists) {
		r.logger.Error("failed to install metro retry loop", "error", err)
	}
}
