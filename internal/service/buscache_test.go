package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibb-transit/crowdcast/internal/core"
	"github.com/ibb-transit/crowdcast/internal/data"
	"github.com/ibb-transit/crowdcast/internal/domain/model"
	"github.com/ibb-transit/crowdcast/internal/upstream"
)

// Tuesday, a weekday.
var busTestDate = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func busFixture(t *testing.T, fetch func(lineCode string) ([]upstream.BusRow, error)) (*BusCacheService, *fakeBusCacheRepo, *fakeJobRepo, *fakeBusFetcher) {
	t.Helper()
	loc := istanbul(t)
	cache := newFakeBusCacheRepo()
	jobs := &fakeJobRepo{}
	fetcher := &fakeBusFetcher{fn: fetch}
	lines := &fakeLineRepo{lines: []model.TransportLine{
		{LineName: "34AS", TransportTypeID: model.TransportTypeBus},
		{LineName: "500T", TransportTypeID: model.TransportTypeBus},
		{LineName: "M2", TransportTypeID: model.TransportTypeRail},
	}}
	svc := NewBusCacheService(BusCacheServiceOptions{
		Repos: BusCacheRepos{Cache: cache, Lines: lines, Jobs: jobs},
		Deps:  BusCacheDeps{Fetcher: fetcher, Policy: BusCachePolicy{MaxPendingRetries: 3}},
		Opts: CacheRuntimeOptions{
			Location:     loc,
			TimeProvider: data.NewFixedTimeProvider(time.Date(2026, 3, 10, 9, 0, 0, 0, loc)),
		},
	})
	return svc, cache, jobs, fetcher
}

func weekdayRows() []upstream.BusRow {
	return []upstream.BusRow{
		{DayType: "I", Direction: "G", Time: "07:30", RouteName: "KADIKOY - TAKSIM"},
		{DayType: "I", Direction: "G", Time: "06:15", RouteName: "KADIKOY - TAKSIM"},
		{DayType: "I", Direction: "D", Time: "06:45", RouteName: "KADIKOY - TAKSIM"},
		{DayType: "C", Direction: "G", Time: "09:00", RouteName: "KADIKOY - TAKSIM"},
		{DayType: "I", Direction: "G", Time: "bogus"},
		{DayType: "I", Direction: "X", Time: "08:00"},
	}
}

func TestNormalizeFiltersAndSorts(t *testing.T) {
	payload := Normalize(weekdayRows(), busTestDate)

	assert.Equal(t, []string{"06:15", "07:30"}, payload.G)
	assert.Equal(t, []string{"06:45"}, payload.D)
	assert.True(t, payload.HasServiceToday)
	assert.Equal(t, model.DataStatusOK, payload.DataStatus)
	assert.Equal(t, model.DayTypeWeekday, payload.DayType)
	assert.Equal(t, "2026-03-10", payload.ValidFor)

	// Inbound meta swaps start and end.
	assert.Equal(t, model.RouteEnds{Start: "KADIKOY", End: "TAKSIM"}, payload.Meta["G"])
	assert.Equal(t, model.RouteEnds{Start: "TAKSIM", End: "KADIKOY"}, payload.Meta["D"])
}

func TestNormalizeNoServiceDay(t *testing.T) {
	// Saturday rows only, normalized for a weekday.
	rows := []upstream.BusRow{
		{DayType: "C", Direction: "G", Time: "09:00"},
	}
	payload := Normalize(rows, busTestDate)

	assert.Empty(t, payload.G)
	assert.Empty(t, payload.D)
	assert.False(t, payload.HasServiceToday)
	assert.Equal(t, model.DataStatusNoServiceDay, payload.DataStatus)
}

func TestBusPrefetchAllCounters(t *testing.T) {
	svc, cache, jobs, fetcher := busFixture(t, func(lineCode string) ([]upstream.BusRow, error) {
		if lineCode == "500T" {
			return nil, errors.New("timeout")
		}
		return weekdayRows(), nil
	})

	result, err := svc.PrefetchAll(context.Background(), PrefetchParams{})
	require.NoError(t, err)

	// The rail line is not part of the bus pass.
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Stored)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.FailedLines, 1)
	assert.Equal(t, "500T", result.FailedLines[0].LineCode)
	assert.Equal(t, 2, fetcher.calls)

	// The failure is persisted as a FAILED snapshot and registered for retry.
	row, err := cache.Lookup(context.Background(), busLookup("500T"))
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, model.SourceStatusFailed, row.SourceStatus)
	assert.Equal(t, 1, svc.ActivePendingCount())

	require.Len(t, jobs.finished, 1)
	assert.Equal(t, model.JobStatusSuccess, jobs.finished[0].Status)
	assert.Equal(t, 1, jobs.finished[0].RecordsProcessed)
}

func busLookup(lineCode string) core.BusCacheLookupParams {
	return core.BusCacheLookupParams{LineCode: lineCode, ValidFor: busTestDate}
}

func TestBusPrefetchSkipsExistingSuccess(t *testing.T) {
	svc, _, _, fetcher := busFixture(t, func(string) ([]upstream.BusRow, error) {
		return weekdayRows(), nil
	})

	_, err := svc.PrefetchAll(context.Background(), PrefetchParams{})
	require.NoError(t, err)
	require.Equal(t, 2, fetcher.calls)

	result, err := svc.PrefetchAll(context.Background(), PrefetchParams{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 0, result.Stored)
	assert.Equal(t, 2, fetcher.calls)

	// Force refetches everything.
	result, err = svc.PrefetchAll(context.Background(), PrefetchParams{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Stored)
	assert.Equal(t, 4, fetcher.calls)
}

func TestBusRetryPendingDrains(t *testing.T) {
	attempts := 0
	svc, _, _, _ := busFixture(t, func(lineCode string) ([]upstream.BusRow, error) {
		if lineCode == "500T" {
			attempts++
			if attempts < 3 {
				return nil, errors.New("still down")
			}
		}
		return weekdayRows(), nil
	})

	_, err := svc.PrefetchAll(context.Background(), PrefetchParams{})
	require.NoError(t, err)
	require.Equal(t, 1, svc.ActivePendingCount())

	assert.Equal(t, 1, svc.RetryPending(context.Background()))
	assert.Equal(t, 0, svc.RetryPending(context.Background()))
	assert.Equal(t, 0, svc.ActivePendingCount())
}

func TestBusRetryPendingAbandonsAtCap(t *testing.T) {
	svc, _, _, _ := busFixture(t, func(lineCode string) ([]upstream.BusRow, error) {
		if lineCode == "500T" {
			return nil, errors.New("permanently down")
		}
		return weekdayRows(), nil
	})

	_, err := svc.PrefetchAll(context.Background(), PrefetchParams{})
	require.NoError(t, err)

	// Policy cap is 3 attempts in this fixture.
	assert.Equal(t, 1, svc.RetryPending(context.Background()))
	assert.Equal(t, 1, svc.RetryPending(context.Background()))
	assert.Equal(t, 0, svc.RetryPending(context.Background()))

	state := svc.PendingState()
	require.Len(t, state, 1)
	assert.True(t, state[0].Abandoned)
	assert.Equal(t, 3, state[0].Attempts)
}

func TestBusGetOrFetchStaleFallback(t *testing.T) {
	svc, cache, _, fetcher := busFixture(t, func(string) ([]upstream.BusRow, error) {
		return nil, errors.New("down")
	})

	// Yesterday's SUCCESS snapshot is inside the stale window.
	yesterday := busTestDate.AddDate(0, 0, -1)
	require.NoError(t, cache.Upsert(context.Background(), &model.BusScheduleRow{
		LineCode:     "34AS",
		ValidFor:     yesterday,
		DayType:      model.DayTypeWeekday,
		Payload:      Normalize(weekdayRows(), yesterday),
		SourceStatus: model.SourceStatusSuccess,
	}))

	read, err := svc.GetOrFetch(context.Background(), "34AS", busTestDate)
	require.NoError(t, err)
	require.NotNil(t, read.Payload)
	assert.True(t, read.IsStale)
	assert.False(t, read.FetchedLive)
	assert.Equal(t, 0, fetcher.calls)
}

func TestBusGetOrFetchSkipsOtherDayTypeSnapshots(t *testing.T) {
	svc, cache, _, fetcher := busFixture(t, func(string) ([]upstream.BusRow, error) {
		return nil, errors.New("down")
	})

	// Sunday's snapshot sits inside the stale window, but a Tuesday read must
	// not be served a Sunday service pattern; with the upstream down the read
	// degrades to an empty live-fetch result instead.
	sunday := busTestDate.AddDate(0, 0, -2)
	require.NoError(t, cache.Upsert(context.Background(), &model.BusScheduleRow{
		LineCode:     "34AS",
		ValidFor:     sunday,
		DayType:      model.DayTypeSunday,
		Payload:      Normalize(weekdayRows(), sunday),
		SourceStatus: model.SourceStatusSuccess,
	}))

	read, err := svc.GetOrFetch(context.Background(), "34AS", busTestDate)
	require.NoError(t, err)
	assert.Nil(t, read.Payload)
	assert.True(t, read.FetchedLive)
	assert.Equal(t, 1, fetcher.calls)
}

func TestBusGetOrFetchLiveFailure(t *testing.T) {
	svc, _, _, fetcher := busFixture(t, func(string) ([]upstream.BusRow, error) {
		return nil, errors.New("down")
	})

	read, err := svc.GetOrFetch(context.Background(), "34AS", busTestDate)
	require.NoError(t, err)
	assert.Nil(t, read.Payload)
	assert.True(t, read.IsStale)
	assert.True(t, read.FetchedLive)
	assert.Equal(t, 1, fetcher.calls)
}

func TestBusTripsPerHour(t *testing.T) {
	svc, _, _, _ := busFixture(t, func(string) ([]upstream.BusRow, error) {
		return weekdayRows(), nil
	})

	counts, err := svc.TripsPerHour(context.Background(), "34AS", busTestDate)
	require.NoError(t, err)
	require.NotNil(t, counts)
	assert.Equal(t, 2, counts[6])
	assert.Equal(t, 1, counts[7])
	assert.Equal(t, 0, counts[8])
}
