package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibb-transit/crowdcast/internal/data"
	"github.com/ibb-transit/crowdcast/internal/domain/model"
	apperrors "github.com/ibb-transit/crowdcast/internal/errors"
	"github.com/ibb-transit/crowdcast/internal/upstream"
)

func TestServiceWindowWrapsPastMidnight(t *testing.T) {
	w := windowFromClocks("06:00", "00:00")
	require.True(t, w.Known)

	for hour := 1; hour <= 5; hour++ {
		assert.False(t, w.InService(hour), "hour %d should be out of service", hour)
	}
	assert.True(t, w.InService(0))
	for hour := 6; hour <= 23; hour++ {
		assert.True(t, w.InService(hour), "hour %d should be in service", hour)
	}
}

func TestServiceWindowLastDepartureHourServedInFull(t *testing.T) {
	// A 00:30 last departure covers the same hours as a 00:00 one.
	w := windowFromClocks("06:00", "00:30")
	assert.True(t, w.InService(0))
	assert.False(t, w.InService(1))
}

func TestServiceWindowNoWrap(t *testing.T) {
	w := windowFromClocks("06:00", "23:45")
	assert.False(t, w.InService(0))
	assert.False(t, w.InService(5))
	assert.True(t, w.InService(6))
	assert.True(t, w.InService(23))
}

func TestServiceWindowUnknownAlwaysOpen(t *testing.T) {
	var w ServiceWindow
	for hour := 0; hour < 24; hour++ {
		assert.True(t, w.InService(hour))
	}
}

func TestServiceWindowNoServiceDay(t *testing.T) {
	w := ServiceWindow{Known: true, NoService: true}
	for hour := 0; hour < 24; hour++ {
		assert.False(t, w.InService(hour))
	}
}

func fullDayForecasts(lineName string, date time.Time) []model.DailyForecast {
	rows := make([]model.DailyForecast, 24)
	for hour := 0; hour < 24; hour++ {
		rows[hour] = model.DailyForecast{
			LineName:       lineName,
			Date:           date,
			Hour:           hour,
			PredictedValue: float64(100 + hour),
			OccupancyPct:   10,
			CrowdLevel:     model.CrowdLevelLow,
			MaxCapacity:    1000,
		}
	}
	return rows
}

func readFixture(t *testing.T, forecastLine string, busFetch func(string) ([]upstream.BusRow, error)) *ForecastReadService {
	t.Helper()
	loc := istanbul(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, loc)
	today := model.CivilDate(now, loc)

	lines := &fakeLineRepo{lines: []model.TransportLine{
		{LineName: "M2", TransportTypeID: model.TransportTypeRail},
		{LineName: "M1", TransportTypeID: model.TransportTypeRail},
		{LineName: "MARMARAY", TransportTypeID: model.TransportTypeRail},
		{LineName: "34AS", TransportTypeID: model.TransportTypeBus},
	}}
	forecasts := &fakeForecastRepo{listRows: fullDayForecasts(forecastLine, today)}

	busSvc, _, _, _ := busFixture(t, busFetch)

	return NewForecastReadService(ForecastReadServiceOptions{
		Repos: ForecastReadRepos{Lines: lines, Forecasts: forecasts},
		Deps:  ForecastReadDeps{Topology: metroTopology(), Bus: busSvc},
		Opts: ForecastReadRuntimeOptions{
			Location:     loc,
			TimeProvider: data.NewFixedTimeProvider(now),
		},
	})
}

func TestDailyForecastRailOverlay(t *testing.T) {
	svc := readFixture(t, "M2", func(string) ([]upstream.BusRow, error) {
		return nil, errors.New("not a bus line")
	})

	out, err := svc.DailyForecast(context.Background(), ForecastQuery{LineName: "M2"})
	require.NoError(t, err)
	require.Len(t, out, 24)

	// M2 runs 06:00 to 00:00, so hours 1 through 5 are out of service.
	for hour := 1; hour <= 5; hour++ {
		entry := out[hour]
		assert.False(t, entry.InService)
		assert.Nil(t, entry.PredictedValue)
		assert.Nil(t, entry.OccupancyPct)
		assert.Equal(t, model.CrowdLevelOutOfService, entry.CrowdLevel)
		assert.Equal(t, 1000, entry.MaxCapacity)
	}

	ten := out[10]
	assert.True(t, ten.InService)
	require.NotNil(t, ten.PredictedValue)
	assert.Equal(t, 110.0, *ten.PredictedValue)
	require.NotNil(t, ten.OccupancyPct)
	assert.Equal(t, 10, *ten.OccupancyPct)
	assert.Equal(t, model.CrowdLevelLow, ten.CrowdLevel)

	midnight := out[0]
	assert.True(t, midnight.InService)
	require.NotNil(t, midnight.PredictedValue)
}

func TestDailyForecastMarmarayFixedHours(t *testing.T) {
	svc := readFixture(t, "MARMARAY", func(string) ([]upstream.BusRow, error) {
		return nil, errors.New("not a bus line")
	})

	out, err := svc.DailyForecast(context.Background(), ForecastQuery{LineName: "MARMARAY"})
	require.NoError(t, err)
	assert.False(t, out[3].InService)
	assert.True(t, out[0].InService)
	assert.True(t, out[7].InService)
}

func TestDailyForecastBranchAlias(t *testing.T) {
	// Forecast rows are stored under M1; a request for M1A must find them.
	svc := readFixture(t, "M1", func(string) ([]upstream.BusRow, error) {
		return nil, errors.New("not a bus line")
	})

	out, err := svc.DailyForecast(context.Background(), ForecastQuery{LineName: "M1A"})
	require.NoError(t, err)
	require.Len(t, out, 24)
	require.NotNil(t, out[10].PredictedValue)
}

func TestDailyForecastBusNoServiceDay(t *testing.T) {
	// Saturday-only departures normalized for a Tuesday leave no service.
	svc := readFixture(t, "34AS", func(string) ([]upstream.BusRow, error) {
		return []upstream.BusRow{{DayType: "C", Direction: "G", Time: "09:00"}}, nil
	})

	out, err := svc.DailyForecast(context.Background(), ForecastQuery{LineName: "34AS"})
	require.NoError(t, err)
	for hour := 0; hour < 24; hour++ {
		assert.False(t, out[hour].InService, "hour %d", hour)
		assert.Equal(t, model.CrowdLevelOutOfService, out[hour].CrowdLevel)
	}
}

func TestDailyForecastBusScheduleDerivedWindow(t *testing.T) {
	svc := readFixture(t, "34AS", func(string) ([]upstream.BusRow, error) {
		return weekdayRows(), nil
	})

	out, err := svc.DailyForecast(context.Background(), ForecastQuery{LineName: "34AS"})
	require.NoError(t, err)

	// Departures span 06:15 to 07:30, so only hours 6 and 7 are in service.
	assert.False(t, out[5].InService)
	assert.True(t, out[6].InService)
	assert.True(t, out[7].InService)
	assert.False(t, out[8].InService)
}

func TestDailyForecastBusUnavailableDefaultsOpen(t *testing.T) {
	// With no cached snapshot and a dead upstream, every hour stays in service.
	svc := readFixture(t, "34AS", func(string) ([]upstream.BusRow, error) {
		return nil, errors.New("down")
	})

	out, err := svc.DailyForecast(context.Background(), ForecastQuery{LineName: "34AS"})
	require.NoError(t, err)
	for hour := 0; hour < 24; hour++ {
		assert.True(t, out[hour].InService, "hour %d", hour)
	}
}

func TestDailyForecastHorizonLimit(t *testing.T) {
	svc := readFixture(t, "M2", func(string) ([]upstream.BusRow, error) { return nil, nil })

	_, err := svc.DailyForecast(context.Background(), ForecastQuery{
		LineName:   "M2",
		TargetDate: time.Date(2026, 3, 18, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	// Exactly seven days ahead is still allowed; it fails later only because
	// the fixture has no rows for that date.
	_, err = svc.DailyForecast(context.Background(), ForecastQuery{
		LineName:   "M2",
		TargetDate: time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
	assert.False(t, apperrors.IsValidation(err))
}

func TestDailyForecastUnknownLine(t *testing.T) {
	svc := readFixture(t, "M2", func(string) ([]upstream.BusRow, error) { return nil, nil })

	_, err := svc.DailyForecast(context.Background(), ForecastQuery{LineName: "M99"})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestDailyForecastInvalidDirection(t *testing.T) {
	svc := readFixture(t, "34AS", func(string) ([]upstream.BusRow, error) { return nil, nil })

	_, err := svc.DailyForecast(context.Background(), ForecastQuery{LineName: "34AS", Direction: "X"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}
