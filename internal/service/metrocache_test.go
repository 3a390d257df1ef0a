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
	"github.com/ibb-transit/crowdcast/internal/topology"
)

var metroTestDate = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func metroTopology() *topology.Topology {
	return topology.New([]topology.Line{
		{
			LineCode:  "M2",
			Name:      "Yenikapi - Haciosman",
			FirstTime: "06:00",
			LastTime:  "00:00",
			Stations: []topology.Station{
				{StationID: 101, Name: "Yenikapi", Order: 1, Directions: []topology.Direction{
					{DirectionID: 1, Name: "Haciosman"},
				}},
				{StationID: 115, Name: "Haciosman", Order: 15, Directions: []topology.Direction{
					{DirectionID: 2, Name: "Yenikapi"},
				}},
			},
		},
		{
			LineCode: "M1A",
			Name:     "Yenikapi - Ataturk Havalimani",
			Stations: []topology.Station{
				{StationID: 201, Name: "Yenikapi", Order: 1, Directions: []topology.Direction{
					{DirectionID: 1, Name: "Ataturk Havalimani"},
				}},
				{StationID: 218, Name: "Ataturk Havalimani", Order: 18, Directions: []topology.Direction{
					{DirectionID: 2, Name: "Yenikapi"},
				}},
			},
		},
		{
			LineCode: "M1B",
			Name:     "Yenikapi - Kirazli",
			Stations: []topology.Station{
				{StationID: 201, Name: "Yenikapi", Order: 1, Directions: []topology.Direction{
					{DirectionID: 3, Name: "Kirazli"},
				}},
				{StationID: 313, Name: "Kirazli", Order: 13, Directions: []topology.Direction{
					{DirectionID: 4, Name: "Yenikapi"},
				}},
			},
		},
	}, nil)
}

func timetablePayload(times ...string) model.MetroTimetablePayload {
	return model.MetroTimetablePayload{
		Success: true,
		Data:    []model.MetroTimetableEntry{{TimeInfos: model.MetroTimeInfo{Times: times}}},
	}
}

func metroFixture(t *testing.T, fetch func(stationID, directionID int) (model.MetroTimetablePayload, error)) (*MetroCacheService, *fakeMetroCacheRepo, *fakeJobRepo, *fakeMetroFetcher) {
	t.Helper()
	loc := istanbul(t)
	cache := newFakeMetroCacheRepo()
	jobs := &fakeJobRepo{}
	fetcher := &fakeMetroFetcher{fn: fetch}
	svc := NewMetroCacheService(MetroCacheServiceOptions{
		Repos: MetroCacheRepos{Cache: cache, Jobs: jobs},
		Deps: MetroCacheDeps{
			Fetcher:  fetcher,
			Topology: metroTopology(),
			Policy:   MetroCachePolicy{MaxPendingRetries: 3},
		},
		Opts: CacheRuntimeOptions{
			Location:     loc,
			TimeProvider: data.NewFixedTimeProvider(time.Date(2026, 3, 10, 9, 0, 0, 0, loc)),
		},
	})
	return svc, cache, jobs, fetcher
}

func TestMetroPrefetchAllCounters(t *testing.T) {
	svc, _, jobs, fetcher := metroFixture(t, func(stationID, _ int) (model.MetroTimetablePayload, error) {
		if stationID == 115 {
			return model.MetroTimetablePayload{}, errors.New("timeout")
		}
		return timetablePayload("06:00", "06:10"), nil
	})

	result, err := svc.PrefetchAll(context.Background(), PrefetchParams{})
	require.NoError(t, err)

	// Six (station, direction) pairs across the three lines.
	assert.Equal(t, 6, result.Total)
	assert.Equal(t, 5, result.Stored)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 6, fetcher.calls)
	assert.Equal(t, 1, svc.ActivePendingCount())

	require.Len(t, jobs.finished, 1)
	assert.Equal(t, model.JobStatusSuccess, jobs.finished[0].Status)
	assert.Equal(t, 5, jobs.finished[0].RecordsProcessed)
}

func TestMetroPrefetchRejectedEnvelopeIsFailure(t *testing.T) {
	svc, _, _, _ := metroFixture(t, func(int, int) (model.MetroTimetablePayload, error) {
		return model.MetroTimetablePayload{
			Success: false,
			Error:   &model.MetroAPIError{Message: "maintenance window"},
		}, nil
	})

	result, err := svc.PrefetchAll(context.Background(), PrefetchParams{})
	require.NoError(t, err)
	assert.Equal(t, 6, result.Failed)
	require.NotEmpty(t, result.FailedPairs)
	assert.Contains(t, result.FailedPairs[0].Error, "maintenance window")
}

func TestMetroRetryPendingDrains(t *testing.T) {
	broken := true
	svc, _, _, _ := metroFixture(t, func(stationID, _ int) (model.MetroTimetablePayload, error) {
		if stationID == 115 && broken {
			return model.MetroTimetablePayload{}, errors.New("still down")
		}
		return timetablePayload("06:00"), nil
	})

	_, err := svc.PrefetchAll(context.Background(), PrefetchParams{})
	require.NoError(t, err)
	require.Equal(t, 1, svc.ActivePendingCount())

	broken = false
	assert.Equal(t, 0, svc.RetryPending(context.Background()))
	assert.Empty(t, svc.PendingState())
}

func TestMetroGetOrFetchWidensStaleWindow(t *testing.T) {
	svc, cache, _, _ := metroFixture(t, func(int, int) (model.MetroTimetablePayload, error) {
		return model.MetroTimetablePayload{}, errors.New("down")
	})

	// A five-day-old snapshot: outside the regular window, inside the hard one.
	old := metroTestDate.AddDate(0, 0, -5)
	require.NoError(t, cache.Upsert(context.Background(), &model.MetroScheduleRow{
		StationID:    101,
		DirectionID:  1,
		LineCode:     "M2",
		ValidFor:     old,
		Payload:      timetablePayload("06:00"),
		SourceStatus: model.SourceStatusSuccess,
	}))

	read, err := svc.GetOrFetch(context.Background(), model.StationDirection{
		StationID: 101, DirectionID: 1, LineCode: "M2",
	}, metroTestDate)
	require.NoError(t, err)
	require.NotNil(t, read.Payload)
	assert.True(t, read.IsStale)
	assert.True(t, read.FetchedLive)
}

func TestMetroGetOrFetchEmptyWhenNothingCached(t *testing.T) {
	svc, _, _, _ := metroFixture(t, func(int, int) (model.MetroTimetablePayload, error) {
		return model.MetroTimetablePayload{}, errors.New("down")
	})

	read, err := svc.GetOrFetch(context.Background(), model.StationDirection{
		StationID: 101, DirectionID: 1,
	}, metroTestDate)
	require.NoError(t, err)
	assert.Nil(t, read.Payload)
	assert.True(t, read.IsStale)
}

func TestLineTripsPerHourSumsTermini(t *testing.T) {
	svc, _, _, _ := metroFixture(t, func(stationID, _ int) (model.MetroTimetablePayload, error) {
		switch stationID {
		case 101:
			return timetablePayload("06:00", "06:20", "07:00"), nil
		case 115:
			return timetablePayload("06:10", "06:30"), nil
		}
		return timetablePayload(), nil
	})

	counts, err := svc.LineTripsPerHour(context.Background(), "M2", metroTestDate)
	require.NoError(t, err)
	assert.Equal(t, 4, counts[6])
	assert.Equal(t, 1, counts[7])
	assert.Equal(t, 0, counts[8])
}

func TestLineTripsPerHourM1UnionsBranches(t *testing.T) {
	svc, _, _, _ := metroFixture(t, func(stationID, _ int) (model.MetroTimetablePayload, error) {
		return timetablePayload("08:00"), nil
	})

	counts, err := svc.LineTripsPerHour(context.Background(), "M1", metroTestDate)
	require.NoError(t, err)

	// Each branch contributes its two termini, one departure each.
	assert.Equal(t, 4, counts[8])
}

func TestLineTripsPerHourUnknownLine(t *testing.T) {
	svc, _, _, _ := metroFixture(t, func(int, int) (model.MetroTimetablePayload, error) {
		return timetablePayload(), nil
	})

	_, err := svc.LineTripsPerHour(context.Background(), "M9", metroTestDate)
	require.Error(t, err)
}
