package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ibb-transit/crowdcast/internal/core"
	"github.com/ibb-transit/crowdcast/internal/domain/model"
	"github.com/ibb-transit/crowdcast/internal/featurestore"
	"github.com/ibb-transit/crowdcast/internal/inference"
	"github.com/ibb-transit/crowdcast/internal/upstream"
)

// fakeLineRepo serves a static line list.
type fakeLineRepo struct {
	lines   []model.TransportLine
	listErr error
}

func (f *fakeLineRepo) UpsertLines(_ context.Context, lines []model.TransportLine) (int, error) {
	f.lines = append(f.lines, lines...)
	return len(lines), nil
}

func (f *fakeLineRepo) List(_ context.Context) ([]model.TransportLine, error) {
	return f.lines, f.listErr
}

func (f *fakeLineRepo) GetByLineName(_ context.Context, lineName string) (*model.TransportLine, error) {
	for i := range f.lines {
		if f.lines[i].LineName == lineName {
			return &f.lines[i], nil
		}
	}
	return nil, nil
}

// fakeForecastRepo records upserts and serves canned reads.
type fakeForecastRepo struct {
	upserted   []model.DailyForecast
	listRows   []model.DailyForecast
	counts     map[string]int
	dates      []time.Time
	deleted    int64
	deletedCut time.Time
	upsertErr  error
}

func (f *fakeForecastRepo) BulkUpsert(_ context.Context, rows []model.DailyForecast) (int, error) {
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}
	f.upserted = append(f.upserted, rows...)
	return len(rows), nil
}

func (f *fakeForecastRepo) ListRange(_ context.Context, params core.ForecastRangeParams) ([]model.DailyForecast, error) {
	out := make([]model.DailyForecast, 0, len(f.listRows))
	for _, row := range f.listRows {
		if row.LineName != params.LineName {
			continue
		}
		if row.Date.Before(params.From) || row.Date.After(params.To) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeForecastRepo) DistinctDates(_ context.Context) ([]time.Time, error) {
	return f.dates, nil
}

func (f *fakeForecastRepo) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.deletedCut = cutoff
	return f.deleted, nil
}

func (f *fakeForecastRepo) CountForDate(_ context.Context, date time.Time) (int, error) {
	return f.counts[model.DateString(date)], nil
}

func (f *fakeForecastRepo) LinesForDate(_ context.Context, _ time.Time) ([]string, error) {
	return nil, nil
}

// fakeJobRepo is an in-memory job execution audit trail.
type fakeJobRepo struct {
	nextID     int64
	started    []core.StartJobParams
	finished   []core.FinishJobParams
	startErr   error
	staleSwept int64
	recent     map[string][]model.JobExecution
	last       map[string]*model.JobExecution
}

func (f *fakeJobRepo) Start(_ context.Context, params core.StartJobParams) (*model.JobExecution, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.nextID++
	f.started = append(f.started, params)
	return &model.JobExecution{ID: f.nextID, JobType: params.JobType, Status: model.JobStatusRunning}, nil
}

func (f *fakeJobRepo) Finish(_ context.Context, params core.FinishJobParams) error {
	f.finished = append(f.finished, params)
	return nil
}

func (f *fakeJobRepo) FailStaleRunning(_ context.Context, _ time.Duration) (int64, error) {
	return f.staleSwept, nil
}

func (f *fakeJobRepo) ListRecent(_ context.Context, jobType string, _ int) ([]model.JobExecution, error) {
	return f.recent[jobType], nil
}

func (f *fakeJobRepo) LastSuccess(_ context.Context, jobType string) (*model.JobExecution, error) {
	return f.last[jobType], nil
}

func (f *fakeJobRepo) lastFinish() core.FinishJobParams {
	return f.finished[len(f.finished)-1]
}

// fakeBusCacheRepo keys rows by (line, valid_for) and mimics the stale-window
// fallback of the real repository.
type fakeBusCacheRepo struct {
	rows map[string]*model.BusScheduleRow
}

func newFakeBusCacheRepo() *fakeBusCacheRepo {
	return &fakeBusCacheRepo{rows: make(map[string]*model.BusScheduleRow)}
}

func busKey(lineCode string, validFor time.Time) string {
	return lineCode + ":" + model.DateString(validFor)
}

func (f *fakeBusCacheRepo) Upsert(_ context.Context, row *model.BusScheduleRow) error {
	key := busKey(row.LineCode, row.ValidFor)
	if existing, ok := f.rows[key]; ok &&
		existing.SourceStatus == model.SourceStatusSuccess &&
		row.SourceStatus == model.SourceStatusFailed {
		return nil
	}
	clone := *row
	f.rows[key] = &clone
	return nil
}

func (f *fakeBusCacheRepo) Lookup(_ context.Context, params core.BusCacheLookupParams) (*model.BusScheduleRow, error) {
	dayType := model.DayTypeFor(params.ValidFor)
	if row, ok := f.rows[busKey(params.LineCode, params.ValidFor)]; ok && row.DayType == dayType {
		return row, nil
	}
	for back := 1; back <= params.MaxAgeDays; back++ {
		key := busKey(params.LineCode, params.ValidFor.AddDate(0, 0, -back))
		if row, ok := f.rows[key]; ok &&
			row.SourceStatus == model.SourceStatusSuccess && row.DayType == dayType {
			return row, nil
		}
	}
	return nil, nil
}

func (f *fakeBusCacheRepo) FailedLineCodes(_ context.Context, validFor time.Time) ([]string, error) {
	var out []string
	for _, row := range f.rows {
		if row.ValidFor.Equal(validFor) && row.SourceStatus == model.SourceStatusFailed {
			out = append(out, row.LineCode)
		}
	}
	return out, nil
}

func (f *fakeBusCacheRepo) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for key, row := range f.rows {
		if row.ValidFor.Before(cutoff) {
			delete(f.rows, key)
			n++
		}
	}
	return n, nil
}

func (f *fakeBusCacheRepo) Status(_ context.Context) (*core.CacheStatusCounts, error) {
	return &core.CacheStatusCounts{Total: len(f.rows)}, nil
}

// fakeMetroCacheRepo mirrors fakeBusCacheRepo for (station, direction) units.
type fakeMetroCacheRepo struct {
	rows map[string]*model.MetroScheduleRow
}

func newFakeMetroCacheRepo() *fakeMetroCacheRepo {
	return &fakeMetroCacheRepo{rows: make(map[string]*model.MetroScheduleRow)}
}

func metroKey(stationID, directionID int, validFor time.Time) string {
	return fmt.Sprintf("%d:%d:%s", stationID, directionID, model.DateString(validFor))
}

func (f *fakeMetroCacheRepo) Upsert(_ context.Context, row *model.MetroScheduleRow) error {
	key := metroKey(row.StationID, row.DirectionID, row.ValidFor)
	if existing, ok := f.rows[key]; ok &&
		existing.SourceStatus == model.SourceStatusSuccess &&
		row.SourceStatus == model.SourceStatusFailed {
		return nil
	}
	clone := *row
	f.rows[key] = &clone
	return nil
}

func (f *fakeMetroCacheRepo) Lookup(_ context.Context, params core.MetroCacheLookupParams) (*model.MetroScheduleRow, error) {
	if row, ok := f.rows[metroKey(params.StationID, params.DirectionID, params.ValidFor)]; ok {
		return row, nil
	}
	for back := 1; back <= params.MaxAgeDays; back++ {
		key := metroKey(params.StationID, params.DirectionID, params.ValidFor.AddDate(0, 0, -back))
		if row, ok := f.rows[key]; ok && row.SourceStatus == model.SourceStatusSuccess {
			return row, nil
		}
	}
	return nil, nil
}

func (f *fakeMetroCacheRepo) LookupLine(_ context.Context, _ string, _ core.MetroCacheLookupParams) ([]model.MetroScheduleRow, error) {
	return nil, nil
}

func (f *fakeMetroCacheRepo) FailedUnits(_ context.Context, validFor time.Time) ([]model.StationDirection, error) {
	var out []model.StationDirection
	for _, row := range f.rows {
		if row.ValidFor.Equal(validFor) && row.SourceStatus == model.SourceStatusFailed {
			out = append(out, model.StationDirection{
				StationID:   row.StationID,
				DirectionID: row.DirectionID,
			})
		}
	}
	return out, nil
}

func (f *fakeMetroCacheRepo) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for key, row := range f.rows {
		if row.ValidFor.Before(cutoff) {
			delete(f.rows, key)
			n++
		}
	}
	return n, nil
}

func (f *fakeMetroCacheRepo) Status(_ context.Context) (*core.CacheStatusCounts, error) {
	return &core.CacheStatusCounts{Total: len(f.rows)}, nil
}

// fakeBusFetcher dispatches to a per-test function.
type fakeBusFetcher struct {
	calls int
	fn    func(lineCode string) ([]upstream.BusRow, error)
}

func (f *fakeBusFetcher) PlannedDepartures(_ context.Context, lineCode string) ([]upstream.BusRow, error) {
	f.calls++
	return f.fn(lineCode)
}

// fakeMetroFetcher dispatches to a per-test function.
type fakeMetroFetcher struct {
	calls int
	fn    func(stationID, directionID int) (model.MetroTimetablePayload, error)
}

func (f *fakeMetroFetcher) Timetable(_ context.Context, stationID, directionID int) (model.MetroTimetablePayload, error) {
	f.calls++
	return f.fn(stationID, directionID)
}

// fakeWeatherSource serves one canned day or an error.
type fakeWeatherSource struct {
	day [24]model.HourlyWeather
	err error
}

func (f *fakeWeatherSource) DailyWeather(_ context.Context, _ string) ([24]model.HourlyWeather, error) {
	if f.err != nil {
		return [24]model.HourlyWeather{}, f.err
	}
	return f.day, nil
}

// fakeFeatureSource serves canned calendar/lag features and capacities.
type fakeFeatureSource struct {
	calendars  map[string]model.CalendarFeatures
	lags       featurestore.BatchLags
	capacities map[string]float64
	stats      featurestore.FallbackStats
	resets     int
}

func (f *fakeFeatureSource) Calendar(dateStr string) (model.CalendarFeatures, bool) {
	cal, ok := f.calendars[dateStr]
	return cal, ok
}

func (f *fakeFeatureSource) BatchLagsFor(_ []string, _ time.Time) featurestore.BatchLags {
	return f.lags
}

func (f *fakeFeatureSource) MaxCapacity(lineName string) float64 {
	if capacity, ok := f.capacities[lineName]; ok {
		return capacity
	}
	return 1000
}

func (f *fakeFeatureSource) FallbackStats() featurestore.FallbackStats { return f.stats }

func (f *fakeFeatureSource) ResetFallbackStats() { f.resets++ }

// fakePredictor returns a fixed value per row or an error.
type fakePredictor struct {
	value float64
	err   error
	rows  []inference.Row
}

func (f *fakePredictor) Predict(rows []inference.Row) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.rows = rows
	out := make([]float64, len(rows))
	for i := range out {
		out[i] = f.value
	}
	return out, nil
}
