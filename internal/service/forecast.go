// Package service provides the business logic for the crowdcast forecast
// pipeline: the nightly forecast run, the schedule caches with their retry
// loops, maintenance jobs, and the read-side projections.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ibb-transit/crowdcast/internal/core"
	"github.com/ibb-transit/crowdcast/internal/data"
	"github.com/ibb-transit/crowdcast/internal/domain/model"
	apperrors "github.com/ibb-transit/crowdcast/internal/errors"
	"github.com/ibb-transit/crowdcast/internal/featurestore"
	"github.com/ibb-transit/crowdcast/internal/inference"
	"github.com/ibb-transit/crowdcast/internal/upstream"
)

// DefaultForecastDays is how many consecutive days one nightly run covers.
const DefaultForecastDays = 2

// weatherSource is the slice of the weather client the engine depends on.
type weatherSource interface {
	DailyWeather(ctx context.Context, dateStr string) ([24]model.HourlyWeather, error)
}

// featureSource is the slice of the feature store the engine depends on.
type featureSource interface {
	Calendar(dateStr string) (model.CalendarFeatures, bool)
	BatchLagsFor(lineNames []string, targetDate time.Time) featurestore.BatchLags
	MaxCapacity(lineName string) float64
	FallbackStats() featurestore.FallbackStats
	ResetFallbackStats()
}

// predictor is the slice of the inference wrapper the engine depends on.
type predictor interface {
	Predict(rows []inference.Row) ([]float64, error)
}

// capacitySource is the slice of the fleet capacity store the engine uses to
// annotate forecast rows with per-vehicle capacities.
type capacitySource interface {
	VehicleCapacity(lineCode string) (int, bool)
}

// ForecastRepos groups the repositories the forecast engine writes through.
type ForecastRepos struct {
	Lines     core.LineRepository
	Forecasts core.ForecastRepository
	Jobs      core.JobExecutionRepository
}

// ForecastDeps groups the model-side collaborators of the forecast engine.
type ForecastDeps struct {
	Features  featureSource
	Predictor predictor
	Weather   weatherSource
	// Capacity is optional; rows keep a NULL vehicle_capacity without it.
	Capacity capacitySource
}

// ForecastServiceOptions holds the dependencies for creating a ForecastService.
type ForecastServiceOptions struct {
	Repos ForecastRepos
	Deps  ForecastDeps
	Opts  ForecastRuntimeOptions
}

// ForecastRuntimeOptions carries the ambient pieces of the engine.
type ForecastRuntimeOptions struct {
	Location     *time.Location
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// ForecastService runs the nightly crowding forecast: lines x days x 24
// hours through a single batched model call into one bulk upsert.
type ForecastService struct {
	repos        ForecastRepos
	features     featureSource
	predictor    predictor
	weather      weatherSource
	capacity     capacitySource
	loc          *time.Location
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewForecastService creates a ForecastService with defaults filled in.
func NewForecastService(opts ForecastServiceOptions) *ForecastService {
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
	return &ForecastService{
		repos:        opts.Repos,
		features:     opts.Deps.Features,
		predictor:    opts.Deps.Predictor,
		weather:      opts.Deps.Weather,
		capacity:     opts.Deps.Capacity,
		loc:          rt.Location,
		timeProvider: rt.TimeProvider,
		logger:       rt.Logger,
	}
}

// RunParams selects the date range of one forecast run.
type RunParams struct {
	// TargetDate is the first forecast date. Zero means tomorrow (Istanbul).
	TargetDate time.Time
	// NumDays defaults to DefaultForecastDays.
	NumDays int
}

// RunResult summarizes a completed forecast run.
type RunResult struct {
	JobID         int64                      `json:"job_id"`
	TargetDate    string                     `json:"target_date"`
	EndDate       string                     `json:"end_date"`
	NumDays       int                        `json:"num_days"`
	Lines         int                        `json:"lines"`
	Processed     int                        `json:"processed_count"`
	FallbackStats featurestore.FallbackStats `json:"fallback_stats"`
}

// Run executes one forecast run end to end. Any error aborts the whole run
// and transitions its audit row to FAILED; the caller owns retry policy.
func (s *ForecastService) Run(ctx context.Context, params RunParams) (*RunResult, error) {
	target := params.TargetDate
	if target.IsZero() {
		target = model.CivilDate(s.timeProvider.Now().AddDate(0, 0, 1), s.loc)
	} else {
		target = model.CivilDate(target, s.loc)
	}
	numDays := params.NumDays
	if numDays <= 0 {
		numDays = DefaultForecastDays
	}
	endDate := target.AddDate(0, 0, numDays-1)

	job, err := s.repos.Jobs.Start(ctx, core.StartJobParams{
		JobType:    model.JobTypeDailyForecast,
		TargetDate: &target,
		EndDate:    &endDate,
	})
	if err != nil {
		return nil, fmt.Errorf("start forecast job: %w", err)
	}

	result, runErr := s.run(ctx, job.ID, target, numDays)
	if runErr != nil {
		s.failJob(ctx, job.ID, runErr)
		return nil, runErr
	}

	if err := s.repos.Jobs.Finish(ctx, core.FinishJobParams{
		ID:               job.ID,
		Status:           model.JobStatusSuccess,
		RecordsProcessed: result.Processed,
	}); err != nil {
		return nil, fmt.Errorf("finish forecast job: %w", err)
	}

	s.logger.InfoContext(ctx, "daily forecast completed",
		"job_id", job.ID,
		"target_date", result.TargetDate,
		"end_date", result.EndDate,
		"lines", result.Lines,
		"processed", result.Processed,
		"seasonal_match", result.FallbackStats.SeasonalMatch,
		"hour_fallback", result.FallbackStats.HourFallback,
		"zero_fallback", result.FallbackStats.ZeroFallback,
	)
	return result, nil
}

func (s *ForecastService) run(ctx context.Context, jobID int64, target time.Time, numDays int) (*RunResult, error) {
	lines, err := s.repos.Lines.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transport lines: %w", err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("no transport lines loaded")
	}
	lineNames := make([]string, len(lines))
	lineCodes := make(map[string]string, len(lines))
	for i, ln := range lines {
		lineNames[i] = ln.LineName
		lineCodes[ln.LineName] = ln.Line
	}

	s.features.ResetFallbackStats()

	// Assemble the full batch across days, then run inference once.
	type rowKey struct {
		line string
		date time.Time
		hour int
	}
	var inputs []inference.Row
	var keys []rowKey

	for d := 0; d < numDays; d++ {
		date := target.AddDate(0, 0, d)
		dateStr := model.DateString(date)

		calendar, ok := s.features.Calendar(dateStr)
		if !ok {
			return nil, fmt.Errorf("No calendar features for %s", dateStr)
		}

		weather, err := s.weather.DailyWeather(ctx, dateStr)
		if err != nil {
			s.logger.WarnContext(ctx, "weather unavailable, using fallback snapshot",
				"job_id", jobID, "date", dateStr, "error", err)
			weather = upstream.FallbackDay()
		}

		lags := s.features.BatchLagsFor(lineNames, date)

		for _, line := range lineNames {
			for hour := 0; hour < 24; hour++ {
				key := featurestore.LineHour{LineName: line, Hour: hour}
				lagValues, ok := lags.Seasonal[key]
				if !ok {
					lagValues, ok = lags.Fallback[key]
				}
				if !ok {
					lagValues = model.LagFeatures{}
				}

				inputs = append(inputs, inference.Row{
					LineName: line,
					Hour:     hour,
					Lags:     lagValues,
					Weather:  weather[hour],
					Calendar: calendar,
				})
				keys = append(keys, rowKey{line: line, date: date, hour: hour})
			}
		}
	}

	predictions, err := s.predictor.Predict(inputs)
	if err != nil {
		return nil, err
	}
	if len(predictions) != len(keys) {
		return nil, fmt.Errorf("model returned %d predictions for %d rows", len(predictions), len(keys))
	}

	rows := make([]model.DailyForecast, len(keys))
	for i, key := range keys {
		predicted := predictions[i]
		if predicted < 0 {
			predicted = 0
		}
		maxCapacity := s.features.MaxCapacity(key.line)
		rows[i] = model.DailyForecast{
			LineName:       key.line,
			Date:           key.date,
			Hour:           key.hour,
			PredictedValue: predicted,
			OccupancyPct:   model.OccupancyPctFor(predicted, maxCapacity),
			CrowdLevel:     model.CrowdLevelFor(predicted, maxCapacity),
			MaxCapacity:    int(maxCapacity),
		}
		if s.capacity != nil {
			if vc, ok := s.capacity.VehicleCapacity(lineCodes[key.line]); ok {
				rows[i].VehicleCapacity = &vc
			}
		}
	}

	written, err := s.repos.Forecasts.BulkUpsert(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("bulk upsert forecasts: %w", err)
	}

	return &RunResult{
		JobID:         jobID,
		TargetDate:    model.DateString(target),
		EndDate:       model.DateString(target.AddDate(0, 0, numDays-1)),
		NumDays:       numDays,
		Lines:         len(lineNames),
		Processed:     written,
		FallbackStats: s.features.FallbackStats(),
	}, nil
}

// NowcastParams selects one (line, date, hour) on-demand prediction.
type NowcastParams struct {
	LineName string
	Date     time.Time
	Hour     int
}

// NowcastResult is one on-demand prediction, computed without touching the
// forecast table.
type NowcastResult struct {
	LineName       string           `json:"line_name"`
	Date           string           `json:"date"`
	Hour           int              `json:"hour"`
	PredictedValue float64          `json:"predicted_value"`
	OccupancyPct   int              `json:"occupancy_pct"`
	CrowdLevel     model.CrowdLevel `json:"crowd_level"`
	MaxCapacity    int              `json:"max_capacity"`
}

// Nowcast runs the model for a single (line, date, hour) using the same
// feature assembly as the nightly run.
func (s *ForecastService) Nowcast(ctx context.Context, params NowcastParams) (*NowcastResult, error) {
	if params.Hour < 0 || params.Hour > 23 {
		return nil, apperrors.Validationf("hour %d out of range", params.Hour)
	}
	lineName := model.ForecastLineAlias(params.LineName)
	line, err := s.repos.Lines.GetByLineName(ctx, lineName)
	if err != nil {
		return nil, fmt.Errorf("lookup line %s: %w", lineName, err)
	}
	if line == nil {
		return nil, apperrors.NotFoundf("unknown line %q", params.LineName)
	}

	date := params.Date
	if date.IsZero() {
		date = s.timeProvider.Now()
	}
	date = model.CivilDate(date, s.loc)
	dateStr := model.DateString(date)

	calendar, ok := s.features.Calendar(dateStr)
	if !ok {
		return nil, apperrors.NotFoundf("no calendar features for %s", dateStr)
	}

	weather, err := s.weather.DailyWeather(ctx, dateStr)
	if err != nil {
		s.logger.WarnContext(ctx, "weather unavailable, using fallback snapshot",
			"date", dateStr, "error", err)
		weather = upstream.FallbackDay()
	}

	lags := s.features.BatchLagsFor([]string{lineName}, date)
	key := featurestore.LineHour{LineName: lineName, Hour: params.Hour}
	lagValues, ok := lags.Seasonal[key]
	if !ok {
		lagValues, ok = lags.Fallback[key]
	}
	if !ok {
		lagValues = model.LagFeatures{}
	}

	predictions, err := s.predictor.Predict([]inference.Row{{
		LineName: lineName,
		Hour:     params.Hour,
		Lags:     lagValues,
		Weather:  weather[params.Hour],
		Calendar: calendar,
	}})
	if err != nil {
		return nil, err
	}
	if len(predictions) != 1 {
		return nil, fmt.Errorf("model returned %d predictions for 1 row", len(predictions))
	}

	predicted := predictions[0]
	if predicted < 0 {
		predicted = 0
	}
	maxCapacity := s.features.MaxCapacity(lineName)
	return &NowcastResult{
		LineName:       lineName,
		Date:           dateStr,
		Hour:           params.Hour,
		PredictedValue: predicted,
		OccupancyPct:   model.OccupancyPctFor(predicted, maxCapacity),
		CrowdLevel:     model.CrowdLevelFor(predicted, maxCapacity),
		MaxCapacity:    int(maxCapacity),
	}, nil
}

func (s *ForecastService) failJob(ctx context.Context, jobID int64, runErr error) {
	msg := model.TruncateError(runErr)
	if err := s.repos.Jobs.Finish(ctx, core.FinishJobParams{
		ID:           jobID,
		Status:       model.JobStatusFailed,
		ErrorMessage: &msg,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to record forecast job failure",
			"job_id", jobID, "error", err, "run_error", runErr)
	}
	s.logger.ErrorContext(ctx, "daily forecast failed", "job_id", jobID, "error", runErr)
}
