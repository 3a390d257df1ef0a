package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ibb-transit/crowdcast/internal/errors"
)

// fakeKVCache is an in-memory TTL-less key-value cache.
type fakeKVCache struct {
	values map[string][]byte
	ttls   map[string]time.Duration
	getErr error
}

func newFakeKVCache() *fakeKVCache {
	return &fakeKVCache{values: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeKVCache) Get(_ context.Context, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.values[key], nil
}

func (f *fakeKVCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	f.values[key] = value
	f.ttls[key] = ttl
	return nil
}

func (f *fakeKVCache) Delete(_ context.Context, key string) (bool, error) {
	_, ok := f.values[key]
	delete(f.values, key)
	return ok, nil
}

// fakeLiveFetcher counts upstream hits.
type fakeLiveFetcher struct {
	durationCalls int
	statusCalls   int
	err           error
}

func (f *fakeLiveFetcher) TravelDurations(_ context.Context, _, _ int, _ time.Time) (json.RawMessage, error) {
	f.durationCalls++
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"Success":true,"Data":[{"Duration":12}]}`), nil
}

func (f *fakeLiveFetcher) ServiceStatuses(_ context.Context) (json.RawMessage, error) {
	f.statusCalls++
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`[{"Line":"M2","Status":"Normal"}]`), nil
}

func liveFixture() (*MetroLiveService, *fakeKVCache, *fakeLiveFetcher) {
	cache := newFakeKVCache()
	fetcher := &fakeLiveFetcher{}
	svc := NewMetroLiveService(MetroLiveServiceOptions{
		Deps: MetroLiveDeps{Fetcher: fetcher, Cache: cache, Topology: metroTopology()},
	})
	return svc, cache, fetcher
}

func TestTravelDurationsCached(t *testing.T) {
	svc, cache, fetcher := liveFixture()

	first, err := svc.TravelDurations(context.Background(), 101, 1)
	require.NoError(t, err)
	second, err := svc.TravelDurations(context.Background(), 101, 1)
	require.NoError(t, err)

	assert.JSONEq(t, string(first), string(second))
	assert.Equal(t, 1, fetcher.durationCalls)
	assert.Equal(t, MetroDurationTTL, cache.ttls["metro:duration:101:1"])
}

func TestTravelDurationsUnknownPair(t *testing.T) {
	svc, _, fetcher := liveFixture()

	_, err := svc.TravelDurations(context.Background(), 999, 1)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, 0, fetcher.durationCalls)
}

func TestServiceStatusesCached(t *testing.T) {
	svc, cache, fetcher := liveFixture()

	_, err := svc.ServiceStatuses(context.Background())
	require.NoError(t, err)
	_, err = svc.ServiceStatuses(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, fetcher.statusCalls)
	assert.Equal(t, MetroStatusTTL, cache.ttls["metro:status"])
}

func TestCacheErrorsFallThroughToUpstream(t *testing.T) {
	svc, cache, fetcher := liveFixture()
	cache.getErr = errors.New("redis down")

	_, err := svc.ServiceStatuses(context.Background())
	require.NoError(t, err)
	_, err = svc.ServiceStatuses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.statusCalls)
}

func TestUpstreamFailureSurfaces(t *testing.T) {
	svc, _, fetcher := liveFixture()
	fetcher.err = errors.New("gateway timeout")

	_, err := svc.TravelDurations(context.Background(), 101, 1)
	require.Error(t, err)
	_, err = svc.ServiceStatuses(context.Background())
	require.Error(t, err)
}
