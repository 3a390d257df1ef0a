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
	"github.com/ibb-transit/crowdcast/internal/topology"
)

// MaxForecastHorizonDays bounds how far into the future a forecast may be
// requested.
const MaxForecastHorizonDays = 7

// ServiceWindow is the first/last service hour of a line for one day,
// derived from topology or the cached schedule. The window is circular:
// FirstHour 6 with LastHour 0 covers 06:00 through the hour past midnight.
type ServiceWindow struct {
	FirstHour int
	LastHour  int
	// Known is false when no schedule data exists; unknown windows treat
	// every hour as in service.
	Known bool
	// NoService marks a day with no departures at all.
	NoService bool
}

// InService reports whether an hour falls inside the window. The hour of the
// last departure is served in full, which extends display one hour past the
// final departure time.
func (w ServiceWindow) InService(hour int) bool {
	if w.NoService {
		return false
	}
	if !w.Known {
		return true
	}
	if w.FirstHour <= w.LastHour {
		return hour >= w.FirstHour && hour <= w.LastHour
	}
	// Wraps past midnight.
	return hour >= w.FirstHour || hour <= w.LastHour
}

// windowFromClocks builds a window from first/last departure clock strings.
func windowFromClocks(first, last string) ServiceWindow {
	fh, _, okF := model.ParseClock(first)
	lh, _, okL := model.ParseClock(last)
	if !okF || !okL {
		return ServiceWindow{}
	}
	return ServiceWindow{FirstHour: fh, LastHour: lh, Known: true}
}

// HourlyForecast is one hour of the public forecast response. Predicted and
// occupancy values are nulled outside service hours.
type HourlyForecast struct {
	Hour           int              `json:"hour"`
	PredictedValue *float64         `json:"predicted_value"`
	OccupancyPct   *int             `json:"occupancy_pct"`
	CrowdLevel     model.CrowdLevel `json:"crowd_level"`
	MaxCapacity    int              `json:"max_capacity"`
	InService      bool             `json:"in_service"`
}

// ForecastQuery selects one line-day forecast read.
type ForecastQuery struct {
	LineName string
	// TargetDate defaults to today in Istanbul.
	TargetDate time.Time
	// Direction optionally narrows bus service hours to G or D.
	Direction string
}

// ForecastReadRepos groups the repositories of the read service.
type ForecastReadRepos struct {
	Lines     core.LineRepository
	Forecasts core.ForecastRepository
}

// ForecastReadDeps groups the schedule collaborators used for the
// out-of-service overlay.
type ForecastReadDeps struct {
	Topology *topology.Topology
	Bus      *BusCacheService
}

// ForecastReadServiceOptions holds the dependencies for creating a ForecastReadService.
type ForecastReadServiceOptions struct {
	Repos ForecastReadRepos
	Deps  ForecastReadDeps
	Opts  ForecastReadRuntimeOptions
}

// ForecastReadRuntimeOptions carries the ambient pieces of the read service.
type ForecastReadRuntimeOptions struct {
	Location     *time.Location
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// ForecastReadService serves the public forecast read path: stored hourly
// predictions overlaid with per-line service hours.
type ForecastReadService struct {
	repos        ForecastReadRepos
	topo         *topology.Topology
	bus          *BusCacheService
	loc          *time.Location
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewForecastReadService creates a ForecastReadService with defaults filled in.
func NewForecastReadService(opts ForecastReadServiceOptions) *ForecastReadService {
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
	return &ForecastReadService{
		repos:        opts.Repos,
		topo:         opts.Deps.Topology,
		bus:          opts.Deps.Bus,
		loc:          rt.Location,
		timeProvider: rt.TimeProvider,
		logger:       rt.Logger,
	}
}

// DailyForecast returns the 24 hourly records for one line and date with the
// out-of-service overlay applied.
func (s *ForecastReadService) DailyForecast(ctx context.Context, query ForecastQuery) ([]HourlyForecast, error) {
	today := model.CivilDate(s.timeProvider.Now(), s.loc)
	target := query.TargetDate
	if target.IsZero() {
		target = today
	} else {
		target = model.CivilDate(target, s.loc)
	}
	if target.After(today.AddDate(0, 0, MaxForecastHorizonDays)) {
		return nil, apperrors.Validationf("target_date %s is more than %d days ahead",
			model.DateString(target), MaxForecastHorizonDays)
	}
	if query.Direction != "" &&
		query.Direction != model.DirectionOutbound && query.Direction != model.DirectionInbound {
		return nil, apperrors.Validationf("unknown direction %q", query.Direction)
	}

	// Forecast rows are keyed by the model's line naming; branch codes such
	// as M1A resolve to their trained alias while schedule lookups keep the
	// requested code.
	forecastLine := model.ForecastLineAlias(query.LineName)

	line, err := s.repos.Lines.GetByLineName(ctx, forecastLine)
	if err != nil {
		return nil, fmt.Errorf("lookup line %s: %w", forecastLine, err)
	}
	if line == nil {
		return nil, apperrors.NotFoundf("unknown line %q", query.LineName)
	}

	rows, err := s.repos.Forecasts.ListRange(ctx, core.ForecastRangeParams{
		LineName: forecastLine,
		From:     target,
		To:       target,
	})
	if err != nil {
		return nil, fmt.Errorf("load forecasts for %s: %w", forecastLine, err)
	}
	if len(rows) == 0 {
		return nil, apperrors.NotFoundf("no forecast for line %q on %s",
			query.LineName, model.DateString(target))
	}

	window := s.serviceWindow(ctx, query.LineName, query.Direction, target)

	byHour := make(map[int]model.DailyForecast, len(rows))
	for _, row := range rows {
		byHour[row.Hour] = row
	}

	out := make([]HourlyForecast, 24)
	for hour := 0; hour < 24; hour++ {
		entry := HourlyForecast{Hour: hour, InService: window.InService(hour)}
		row, ok := byHour[hour]
		if ok {
			entry.MaxCapacity = row.MaxCapacity
		}
		if entry.InService && ok {
			predicted := row.PredictedValue
			occupancy := row.OccupancyPct
			entry.PredictedValue = &predicted
			entry.OccupancyPct = &occupancy
			entry.CrowdLevel = row.CrowdLevel
		} else {
			entry.CrowdLevel = model.CrowdLevelOutOfService
		}
		out[hour] = entry
	}
	return out, nil
}

// serviceWindow derives the service hours for the requested line code:
// Marmaray is fixed, rail comes from the topology, buses from the cached
// schedule payload. Missing data yields an unknown (always-open) window.
func (s *ForecastReadService) serviceWindow(ctx context.Context, lineCode, direction string, target time.Time) ServiceWindow {
	if topology.IsMarmaray(lineCode) {
		first, last := topology.MarmarayServiceHours()
		return windowFromClocks(first, last)
	}
	if model.IsRailCode(lineCode) {
		if first, last, ok := s.topo.ServiceHours(lineCode); ok {
			return windowFromClocks(first, last)
		}
		return ServiceWindow{}
	}
	return s.busServiceWindow(ctx, lineCode, direction, target)
}

func (s *ForecastReadService) busServiceWindow(ctx context.Context, lineCode, direction string, target time.Time) ServiceWindow {
	if s.bus == nil {
		return ServiceWindow{}
	}
	read, err := s.bus.GetOrFetch(ctx, lineCode, target)
	if err != nil || read.Payload == nil {
		if err != nil {
			s.logger.WarnContext(ctx, "bus schedule unavailable for overlay",
				"line_code", lineCode, "error", err)
		}
		return ServiceWindow{}
	}
	payload := read.Payload
	if payload.DataStatus == model.DataStatusNoServiceDay {
		return ServiceWindow{Known: true, NoService: true}
	}

	times := payload.Times(direction)
	if len(times) == 0 {
		return ServiceWindow{}
	}
	first, last := times[0], times[0]
	firstMin, _ := model.ClockMinutes(first)
	lastMin := firstMin
	for _, ts := range times[1:] {
		minutes, ok := model.ClockMinutes(ts)
		if !ok {
			continue
		}
		if minutes < firstMin {
			firstMin, first = minutes, ts
		}
		if minutes > lastMin {
			lastMin, last = minutes, ts
		}
	}
	return windowFromClocks(first, last)
}
