package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ibb-transit/crowdcast/internal/core"
	"github.com/ibb-transit/crowdcast/internal/data"
	"github.com/ibb-transit/crowdcast/internal/domain/model"
	"github.com/ibb-transit/crowdcast/internal/topology"
)

// Metro cache policy defaults. Live-fetch total failure may fall back to a
// snapshot up to DefaultMetroHardStaleDays old.
const (
	DefaultMetroRetentionDays = 5
	DefaultMetroMaxStaleDays  = 2
	DefaultMetroHardStaleDays = 7
)

// metroTimetableFetcher is the slice of the metro client the cache depends on.
type metroTimetableFetcher interface {
	Timetable(ctx context.Context, stationID, directionID int) (model.MetroTimetablePayload, error)
}

// MetroCachePolicy carries the tunables of the metro schedule cache.
type MetroCachePolicy struct {
	RetentionDays     int
	MaxStaleDays      int
	HardStaleDays     int
	MaxPendingRetries int
}

func (p MetroCachePolicy) withDefaults() MetroCachePolicy {
	if p.RetentionDays <= 0 {
		p.RetentionDays = DefaultMetroRetentionDays
	}
	if p.MaxStaleDays <= 0 {
		p.MaxStaleDays = DefaultMetroMaxStaleDays
	}
	if p.HardStaleDays <= 0 {
		p.HardStaleDays = DefaultMetroHardStaleDays
	}
	if p.MaxPendingRetries <= 0 {
		p.MaxPendingRetries = DefaultMaxPendingRetries
	}
	return p
}

// MetroCacheServiceOptions holds the dependencies for creating a MetroCacheService.
type MetroCacheServiceOptions struct {
	Repos MetroCacheRepos
	Deps  MetroCacheDeps
	Opts  CacheRuntimeOptions
}

// MetroCacheRepos groups the repositories of the metro schedule cache.
type MetroCacheRepos struct {
	Cache core.MetroCacheRepository
	Jobs  core.JobExecutionRepository
}

// MetroCacheDeps groups the upstream collaborators of the metro cache. The
// fetchable (station, direction) units come from the static topology, not
// the database.
type MetroCacheDeps struct {
	Fetcher  metroTimetableFetcher
	Topology *topology.Topology
	Policy   MetroCachePolicy
}

// pendingMetroPair is one failed (station, direction, valid_for) awaiting retry.
type pendingMetroPair struct {
	StationID   int       `json:"station_id"`
	DirectionID int       `json:"direction_id"`
	LineCode    string    `json:"line_code,omitempty"`
	ValidFor    time.Time `json:"valid_for"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	Abandoned   bool      `json:"abandoned"`
}

// MetroCacheService fetches and persists metro timetables per (station,
// direction) pair and projects them into line-level departure counts.
type MetroCacheService struct {
	cache        core.MetroCacheRepository
	jobs         core.JobExecutionRepository
	fetcher      metroTimetableFetcher
	topo         *topology.Topology
	policy       MetroCachePolicy
	loc          *time.Location
	timeProvider data.TimeProvider
	logger       *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingMetroPair
}

// NewMetroCacheService creates a MetroCacheService with defaults filled in.
func NewMetroCacheService(opts MetroCacheServiceOptions) *MetroCacheService {
	rt := opts.Opts.withDefaults()
	return &MetroCacheService{
		cache:        opts.Repos.Cache,
		jobs:         opts.Repos.Jobs,
		fetcher:      opts.Deps.Fetcher,
		topo:         opts.Deps.Topology,
		policy:       opts.Deps.Policy.withDefaults(),
		loc:          rt.Location,
		timeProvider: rt.TimeProvider,
		logger:       rt.Logger,
		pending:      make(map[string]*pendingMetroPair),
	}
}

func (s *MetroCacheService) today() time.Time {
	return model.CivilDate(s.timeProvider.Now(), s.loc)
}

// TodayIstanbul returns the current civil date in the service's location.
func (s *MetroCacheService) TodayIstanbul() time.Time {
	return s.today()
}

func pairKey(stationID, directionID int) string {
	return fmt.Sprintf("%d:%d", stationID, directionID)
}

// FetchAndStore fetches one (station, direction) timetable and upserts the
// snapshot. Fetch failures persist a FAILED row and return the fetch error.
func (s *MetroCacheService) FetchAndStore(ctx context.Context, pair model.StationDirection, validFor time.Time) (*model.MetroTimetablePayload, error) {
	validFor = model.CivilDate(validFor, s.loc)

	payload, err := s.fetcher.Timetable(ctx, pair.StationID, pair.DirectionID)
	if err == nil && !payload.Success {
		msg := "unknown error"
		if payload.Error != nil && payload.Error.Message != "" {
			msg = payload.Error.Message
		}
		err = fmt.Errorf("metro timetable rejected: %s", msg)
	}
	if err != nil {
		msg := model.TruncateError(err)
		failed := &model.MetroScheduleRow{
			StationID:     pair.StationID,
			DirectionID:   pair.DirectionID,
			LineCode:      pair.LineCode,
			StationName:   pair.StationName,
			DirectionName: pair.DirectionName,
			ValidFor:      validFor,
			Payload:       model.MetroTimetablePayload{Success: false},
			FetchedAt:     s.timeProvider.Now(),
			SourceStatus:  model.SourceStatusFailed,
			ErrorMessage:  &msg,
		}
		if upsertErr := s.cache.Upsert(ctx, failed); upsertErr != nil {
			s.logger.ErrorContext(ctx, "failed to persist metro fetch failure",
				"station_id", pair.StationID, "direction_id", pair.DirectionID, "error", upsertErr)
		}
		return nil, err
	}

	row := &model.MetroScheduleRow{
		StationID:     pair.StationID,
		DirectionID:   pair.DirectionID,
		LineCode:      pair.LineCode,
		StationName:   pair.StationName,
		DirectionName: pair.DirectionName,
		ValidFor:      validFor,
		Payload:       payload,
		FetchedAt:     s.timeProvider.Now(),
		SourceStatus:  model.SourceStatusSuccess,
	}
	if err := s.cache.Upsert(ctx, row); err != nil {
		return nil, fmt.Errorf("store metro timetable %d:%d: %w", pair.StationID, pair.DirectionID, err)
	}
	return &payload, nil
}

// FailedPair records one unfetchable (station, direction) during a prefetch.
type FailedPair struct {
	StationID   int    `json:"station_id"`
	DirectionID int    `json:"direction_id"`
	Error       string `json:"error"`
}

// MetroPrefetchResult accumulates the counters of one prefetch-all pass.
type MetroPrefetchResult struct {
	Total       int          `json:"total"`
	Stored      int          `json:"stored"`
	Skipped     int          `json:"skipped"`
	Failed      int          `json:"failed"`
	FailedPairs []FailedPair `json:"failed_pairs,omitempty"`
	Swept       int64        `json:"swept"`
}

// PrefetchAll fetches timetables for every (station, direction) pair the
// topology enumerates, then sweeps expired rows.
func (s *MetroCacheService) PrefetchAll(ctx context.Context, params PrefetchParams) (*MetroPrefetchResult, error) {
	validFor := params.ValidFor
	if validFor.IsZero() {
		validFor = s.today()
	} else {
		validFor = model.CivilDate(validFor, s.loc)
	}

	job, err := s.jobs.Start(ctx, core.StartJobParams{
		JobType:    model.JobTypeMetroPrefetch,
		TargetDate: &validFor,
	})
	if err != nil {
		return nil, fmt.Errorf("start metro prefetch job: %w", err)
	}

	result, prefetchErr := s.prefetchAll(ctx, validFor, params)
	if prefetchErr != nil {
		msg := model.TruncateError(prefetchErr)
		_ = s.jobs.Finish(ctx, core.FinishJobParams{
			ID:           job.ID,
			Status:       model.JobStatusFailed,
			ErrorMessage: &msg,
		})
		return nil, prefetchErr
	}

	if err := s.jobs.Finish(ctx, core.FinishJobParams{
		ID:               job.ID,
		Status:           model.JobStatusSuccess,
		RecordsProcessed: result.Stored,
	}); err != nil {
		return nil, fmt.Errorf("finish metro prefetch job: %w", err)
	}

	s.logger.InfoContext(ctx, "metro schedule prefetch completed",
		"job_id", job.ID,
		"valid_for", model.DateString(validFor),
		"total", result.Total,
		"stored", result.Stored,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"swept", result.Swept,
	)
	return result, nil
}

func (s *MetroCacheService) prefetchAll(ctx context.Context, validFor time.Time, params PrefetchParams) (*MetroPrefetchResult, error) {
	pairs := s.topo.StationDirections()
	result := &MetroPrefetchResult{}

	for _, pair := range pairs {
		if params.Limit > 0 && result.Total >= params.Limit {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result.Total++

		if !params.Force {
			existing, err := s.cache.Lookup(ctx, core.MetroCacheLookupParams{
				StationID:   pair.StationID,
				DirectionID: pair.DirectionID,
				ValidFor:    validFor,
			})
			if err != nil {
				return nil, fmt.Errorf("lookup metro cache %d:%d: %w", pair.StationID, pair.DirectionID, err)
			}
			if existing != nil && existing.SourceStatus == model.SourceStatusSuccess {
				result.Skipped++
				continue
			}
		}

		if _, err := s.FetchAndStore(ctx, pair, validFor); err != nil {
			result.Failed++
			result.FailedPairs = append(result.FailedPairs, FailedPair{
				StationID:   pair.StationID,
				DirectionID: pair.DirectionID,
				Error:       model.TruncateError(err),
			})
			s.registerPending(pair, validFor, err)
			continue
		}
		result.Stored++
	}

	cutoff := s.today().AddDate(0, 0, -s.policy.RetentionDays)
	swept, err := s.cache.DeleteBefore(ctx, cutoff)
	if err != nil {
		s.logger.WarnContext(ctx, "metro cache retention sweep failed", "error", err)
	} else {
		result.Swept = swept
	}
	return result, nil
}

func (s *MetroCacheService) registerPending(pair model.StationDirection, validFor time.Time, fetchErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(pair.StationID, pair.DirectionID)
	if existing, ok := s.pending[key]; ok {
		existing.LastError = model.TruncateError(fetchErr)
		existing.ValidFor = validFor
		return
	}
	s.pending[key] = &pendingMetroPair{
		StationID:   pair.StationID,
		DirectionID: pair.DirectionID,
		LineCode:    pair.LineCode,
		ValidFor:    validFor,
		LastError:   model.TruncateError(fetchErr),
	}
}

// RetryPending retries every active pending pair once, sequentially.
// Returns the number of still-active entries.
func (s *MetroCacheService) RetryPending(ctx context.Context) int {
	for _, entry := range s.activePending() {
		if ctx.Err() != nil {
			break
		}
		pair := model.StationDirection{
			StationID:   entry.StationID,
			DirectionID: entry.DirectionID,
			LineCode:    entry.LineCode,
		}
		_, err := s.FetchAndStore(ctx, pair, entry.ValidFor)

		s.mu.Lock()
		key := pairKey(entry.StationID, entry.DirectionID)
		current, ok := s.pending[key]
		if ok {
			if err == nil {
				delete(s.pending, key)
			} else {
				current.Attempts++
				current.LastError = model.TruncateError(err)
				if current.Attempts >= s.policy.MaxPendingRetries {
					current.Abandoned = true
					s.logger.Warn("metro pair retry abandoned",
						"station_id", current.StationID,
						"direction_id", current.DirectionID,
						"attempts", current.Attempts)
				}
			}
		}
		s.mu.Unlock()
	}
	return s.ActivePendingCount()
}

func (s *MetroCacheService) activePending() []pendingMetroPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pendingMetroPair, 0, len(s.pending))
	for _, entry := range s.pending {
		if !entry.Abandoned {
			out = append(out, *entry)
		}
	}
	return out
}

// ActivePendingCount returns how many pending pairs still await retry.
func (s *MetroCacheService) ActivePendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, entry := range s.pending {
		if !entry.Abandoned {
			n++
		}
	}
	return n
}

// PendingState snapshots the pending map for the admin surface.
func (s *MetroCacheService) PendingState() []pendingMetroPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pendingMetroPair, 0, len(s.pending))
	for _, entry := range s.pending {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StationID != out[j].StationID {
			return out[i].StationID < out[j].StationID
		}
		return out[i].DirectionID < out[j].DirectionID
	})
	return out
}

// TimetableRead is the read-path result of GetOrFetch.
type TimetableRead struct {
	Payload     *model.MetroTimetablePayload `json:"payload"`
	IsStale     bool                         `json:"is_stale"`
	FetchedLive bool                         `json:"fetched_live"`
}

// GetOrFetch serves a timetable for (station, direction, date): exact SUCCESS
// row, then a stale row within the regular window, then a live fetch. On live
// failure the stale window widens to the hard limit before giving up.
func (s *MetroCacheService) GetOrFetch(ctx context.Context, pair model.StationDirection, validFor time.Time) (*TimetableRead, error) {
	validFor = model.CivilDate(validFor, s.loc)

	row, err := s.cache.Lookup(ctx, core.MetroCacheLookupParams{
		StationID:   pair.StationID,
		DirectionID: pair.DirectionID,
		ValidFor:    validFor,
		MaxAgeDays:  s.policy.MaxStaleDays,
	})
	if err != nil {
		return nil, fmt.Errorf("lookup metro cache %d:%d: %w", pair.StationID, pair.DirectionID, err)
	}
	if row != nil && row.SourceStatus == model.SourceStatusSuccess {
		return &TimetableRead{
			Payload: &row.Payload,
			IsStale: !row.ValidFor.Equal(validFor),
		}, nil
	}

	payload, fetchErr := s.FetchAndStore(ctx, pair, validFor)
	if fetchErr == nil {
		return &TimetableRead{Payload: payload, FetchedLive: true}, nil
	}
	s.logger.WarnContext(ctx, "live metro timetable fetch failed",
		"station_id", pair.StationID, "direction_id", pair.DirectionID, "error", fetchErr)

	// Widen the stale window after a live failure.
	row, err = s.cache.Lookup(ctx, core.MetroCacheLookupParams{
		StationID:   pair.StationID,
		DirectionID: pair.DirectionID,
		ValidFor:    validFor,
		MaxAgeDays:  s.policy.HardStaleDays,
	})
	if err != nil {
		return nil, fmt.Errorf("lookup metro cache %d:%d: %w", pair.StationID, pair.DirectionID, err)
	}
	if row != nil && row.SourceStatus == model.SourceStatusSuccess {
		return &TimetableRead{Payload: &row.Payload, IsStale: true, FetchedLive: true}, nil
	}
	return &TimetableRead{IsStale: true, FetchedLive: true}, nil
}

// LineTripsPerHour approximates both-directions departures per hour for a
// rail line: at each terminus, union the cached departure times across the
// directions it exposes, count per hour, then sum the two termini. M1 is the
// union of its M1A and M1B branches.
func (s *MetroCacheService) LineTripsPerHour(ctx context.Context, lineCode string, validFor time.Time) ([24]int, error) {
	var counts [24]int

	codes := []string{lineCode}
	if lineCode == "M1" {
		codes = []string{"M1A", "M1B"}
	}

	for _, code := range codes {
		lineCounts, err := s.lineTripsPerHour(ctx, code, validFor)
		if err != nil {
			return counts, err
		}
		for h := range counts {
			counts[h] += lineCounts[h]
		}
	}
	return counts, nil
}

func (s *MetroCacheService) lineTripsPerHour(ctx context.Context, lineCode string, validFor time.Time) ([24]int, error) {
	var counts [24]int

	first, last, ok := s.topo.Termini(lineCode)
	if !ok {
		return counts, fmt.Errorf("unknown rail line %s", lineCode)
	}

	termini := []topology.Station{first}
	if last.StationID != first.StationID {
		termini = append(termini, last)
	}

	for _, terminus := range termini {
		seen := map[string]struct{}{}
		for _, dir := range terminus.Directions {
			read, err := s.GetOrFetch(ctx, model.StationDirection{
				StationID:     terminus.StationID,
				DirectionID:   dir.DirectionID,
				LineCode:      lineCode,
				StationName:   terminus.Name,
				DirectionName: dir.Name,
			}, validFor)
			if err != nil {
				return counts, err
			}
			if read.Payload == nil {
				continue
			}
			for _, ts := range read.Payload.DepartureTimes() {
				seen[ts] = struct{}{}
			}
		}
		for ts := range seen {
			if h, _, ok := model.ParseClock(ts); ok {
				counts[h]++
			}
		}
	}
	return counts, nil
}
