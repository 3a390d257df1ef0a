package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ibb-transit/crowdcast/internal/core"
	"github.com/ibb-transit/crowdcast/internal/data"
	apperrors "github.com/ibb-transit/crowdcast/internal/errors"
	"github.com/ibb-transit/crowdcast/internal/topology"
)

// Cache lifetimes for the live Metro Istanbul proxies. Travel durations are
// effectively static per day; service statuses change often.
const (
	MetroDurationTTL = 24 * time.Hour
	MetroStatusTTL   = 5 * time.Minute

	metroStatusKey = "metro:status"
)

// metroLiveFetcher is the slice of the Metro Istanbul client the proxy uses.
type metroLiveFetcher interface {
	TravelDurations(ctx context.Context, stationID, directionID int, at time.Time) (json.RawMessage, error)
	ServiceStatuses(ctx context.Context) (json.RawMessage, error)
}

// MetroLiveDeps groups the collaborators of the live proxy.
type MetroLiveDeps struct {
	Fetcher  metroLiveFetcher
	Cache    core.KeyValueCache
	Topology *topology.Topology
}

// MetroLiveServiceOptions holds the dependencies for creating a MetroLiveService.
type MetroLiveServiceOptions struct {
	Deps MetroLiveDeps
	Opts MetroLiveRuntimeOptions
}

// MetroLiveRuntimeOptions carries the ambient pieces of the live proxy.
type MetroLiveRuntimeOptions struct {
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// MetroLiveService proxies the live Metro Istanbul endpoints (travel
// durations, service statuses) through a short-lived key-value cache so bursts
// of identical requests hit the upstream once.
type MetroLiveService struct {
	fetcher      metroLiveFetcher
	cache        core.KeyValueCache
	topo         *topology.Topology
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewMetroLiveService creates a MetroLiveService with defaults filled in.
func NewMetroLiveService(opts MetroLiveServiceOptions) *MetroLiveService {
	rt := opts.Opts
	if rt.TimeProvider == nil {
		rt.TimeProvider = &data.RealTimeProvider{}
	}
	if rt.Logger == nil {
		rt.Logger = slog.Default()
	}
	return &MetroLiveService{
		fetcher:      opts.Deps.Fetcher,
		cache:        opts.Deps.Cache,
		topo:         opts.Deps.Topology,
		timeProvider: rt.TimeProvider,
		logger:       rt.Logger,
	}
}

func metroDurationKey(stationID, directionID int) string {
	return fmt.Sprintf("metro:duration:%d:%d", stationID, directionID)
}

// TravelDurations returns the station-to-station travel durations from a
// boarding station in one direction, cached for MetroDurationTTL.
func (s *MetroLiveService) TravelDurations(ctx context.Context, stationID, directionID int) (json.RawMessage, error) {
	if !s.topo.HasStationDirection(stationID, directionID) {
		return nil, apperrors.NotFoundf("unknown station %d direction %d", stationID, directionID)
	}

	key := metroDurationKey(stationID, directionID)
	if cached := s.cachedGet(ctx, key); cached != nil {
		return cached, nil
	}

	raw, err := s.fetcher.TravelDurations(ctx, stationID, directionID, s.timeProvider.Now())
	if err != nil {
		return nil, fmt.Errorf("fetch travel durations for station %d direction %d: %w",
			stationID, directionID, err)
	}
	s.cachedSet(ctx, key, raw, MetroDurationTTL)
	return raw, nil
}

// ServiceStatuses returns the current line service statuses, cached for
// MetroStatusTTL.
func (s *MetroLiveService) ServiceStatuses(ctx context.Context) (json.RawMessage, error) {
	if cached := s.cachedGet(ctx, metroStatusKey); cached != nil {
		return cached, nil
	}

	raw, err := s.fetcher.ServiceStatuses(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch service statuses: %w", err)
	}
	s.cachedSet(ctx, metroStatusKey, raw, MetroStatusTTL)
	return raw, nil
}

// cachedGet reads the cache, treating errors as misses so a cache outage only
// costs an upstream call.
func (s *MetroLiveService) cachedGet(ctx context.Context, key string) []byte {
	if s.cache == nil {
		return nil
	}
	value, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "metro cache read failed", "key", key, "error", err)
		return nil
	}
	return value
}

func (s *MetroLiveService) cachedSet(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, ttl); err != nil {
		s.logger.WarnContext(ctx, "metro cache write failed", "key", key, "error", err)
	}
}
