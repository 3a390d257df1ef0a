package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ibb-transit/crowdcast/internal/core"
	"github.com/ibb-transit/crowdcast/internal/data"
	"github.com/ibb-transit/crowdcast/internal/domain/model"
	"github.com/ibb-transit/crowdcast/internal/upstream"
)

// Bus cache policy defaults.
const (
	DefaultBusRetentionDays  = 5
	DefaultBusMaxStaleDays   = 2
	DefaultMaxPendingRetries = 10
)

// busScheduleFetcher is the slice of the IETT client the cache depends on.
type busScheduleFetcher interface {
	PlannedDepartures(ctx context.Context, lineCode string) ([]upstream.BusRow, error)
}

// BusCachePolicy carries the tunables of the bus schedule cache.
type BusCachePolicy struct {
	RetentionDays     int
	MaxStaleDays      int
	MaxPendingRetries int
}

func (p BusCachePolicy) withDefaults() BusCachePolicy {
	if p.RetentionDays <= 0 {
		p.RetentionDays = DefaultBusRetentionDays
	}
	if p.MaxStaleDays <= 0 {
		p.MaxStaleDays = DefaultBusMaxStaleDays
	}
	if p.MaxPendingRetries <= 0 {
		p.MaxPendingRetries = DefaultMaxPendingRetries
	}
	return p
}

// BusCacheServiceOptions holds the dependencies for creating a BusCacheService.
type BusCacheServiceOptions struct {
	Repos BusCacheRepos
	Deps  BusCacheDeps
	Opts  CacheRuntimeOptions
}

// BusCacheRepos groups the repositories of the bus schedule cache.
type BusCacheRepos struct {
	Cache core.BusCacheRepository
	Lines core.LineRepository
	Jobs  core.JobExecutionRepository
}

// BusCacheDeps groups the upstream collaborators of the bus schedule cache.
type BusCacheDeps struct {
	Fetcher busScheduleFetcher
	Policy  BusCachePolicy
}

// CacheRuntimeOptions carries the ambient pieces shared by both schedule caches.
type CacheRuntimeOptions struct {
	Location     *time.Location
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

func (o CacheRuntimeOptions) withDefaults() CacheRuntimeOptions {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.TimeProvider == nil {
		o.TimeProvider = &data.RealTimeProvider{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// pendingBusLine is one failed (line, valid_for) awaiting retry.
type pendingBusLine struct {
	LineCode  string    `json:"line_code"`
	ValidFor  time.Time `json:"valid_for"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	Abandoned bool      `json:"abandoned"`
}

// BusCacheService fetches, normalizes, and persists IETT planned bus
// schedules, and drives the pending-retry loop over failed lines.
type BusCacheService struct {
	cache        core.BusCacheRepository
	lines        core.LineRepository
	jobs         core.JobExecutionRepository
	fetcher      busScheduleFetcher
	policy       BusCachePolicy
	loc          *time.Location
	timeProvider data.TimeProvider
	logger       *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingBusLine
}

// NewBusCacheService creates a BusCacheService with defaults filled in.
func NewBusCacheService(opts BusCacheServiceOptions) *BusCacheService {
	rt := opts.Opts.withDefaults()
	return &BusCacheService{
		cache:        opts.Repos.Cache,
		lines:        opts.Repos.Lines,
		jobs:         opts.Repos.Jobs,
		fetcher:      opts.Deps.Fetcher,
		policy:       opts.Deps.Policy.withDefaults(),
		loc:          rt.Location,
		timeProvider: rt.TimeProvider,
		logger:       rt.Logger,
		pending:      make(map[string]*pendingBusLine),
	}
}

// TodayIstanbul returns the current civil date in the cache's location.
func (s *BusCacheService) TodayIstanbul() time.Time {
	return model.CivilDate(s.timeProvider.Now(), s.loc)
}

// Normalize filters raw rows to the target date's day type, buckets and
// sorts departures per direction, and derives the route meta.
func Normalize(raw []upstream.BusRow, targetDate time.Time) model.BusSchedulePayload {
	dayType := model.DayTypeFor(targetDate)

	byDirection := map[string][]string{
		model.DirectionOutbound: {},
		model.DirectionInbound:  {},
	}
	routeNames := map[string]string{}

	for _, row := range raw {
		if row.DayType == "" || row.Direction == "" || row.Time == "" {
			continue
		}
		if model.DayType(row.DayType) != dayType {
			continue
		}
		if _, ok := byDirection[row.Direction]; !ok {
			continue
		}
		if _, ok := routeNames[row.Direction]; !ok && row.RouteName != "" {
			routeNames[row.Direction] = row.RouteName
		}
		byDirection[row.Direction] = append(byDirection[row.Direction], row.Time)
	}

	for direction, times := range byDirection {
		byDirection[direction] = sortClockTimes(times)
	}

	meta := map[string]model.RouteEnds{}
	for direction, routeName := range routeNames {
		ends := parseRouteEnds(routeName)
		if direction == model.DirectionInbound {
			ends.Start, ends.End = ends.End, ends.Start
		}
		meta[direction] = ends
	}

	hasService := len(byDirection[model.DirectionOutbound]) > 0 || len(byDirection[model.DirectionInbound]) > 0
	dataStatus := model.DataStatusOK
	if !hasService {
		dataStatus = model.DataStatusNoServiceDay
	}

	return model.BusSchedulePayload{
		G:               byDirection[model.DirectionOutbound],
		D:               byDirection[model.DirectionInbound],
		Meta:            meta,
		HasServiceToday: hasService,
		DataStatus:      dataStatus,
		DayType:         dayType,
		ValidFor:        model.DateString(targetDate),
	}
}

// sortClockTimes sorts departure strings chronologically, dropping any that
// fail to parse.
func sortClockTimes(times []string) []string {
	type parsed struct {
		minutes int
		raw     string
	}
	out := make([]parsed, 0, len(times))
	for _, ts := range times {
		if minutes, ok := model.ClockMinutes(ts); ok {
			out = append(out, parsed{minutes: minutes, raw: ts})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].minutes < out[j].minutes })

	sorted := make([]string, len(out))
	for i, p := range out {
		sorted[i] = p.raw
	}
	return sorted
}

// parseRouteEnds splits an upstream route name "START - END".
func parseRouteEnds(routeName string) model.RouteEnds {
	parts := strings.SplitN(routeName, " - ", 2)
	if len(parts) != 2 {
		return model.RouteEnds{}
	}
	return model.RouteEnds{
		Start: strings.TrimSpace(parts[0]),
		End:   strings.TrimSpace(parts[1]),
	}
}

// FetchAndStore fetches one line's schedule, normalizes it for validFor, and
// upserts the snapshot. Fetch failures persist a FAILED row with an empty
// payload and return the fetch error.
func (s *BusCacheService) FetchAndStore(ctx context.Context, lineCode string, validFor time.Time) (*model.BusSchedulePayload, error) {
	validFor = model.CivilDate(validFor, s.loc)
	dayType := model.DayTypeFor(validFor)

	raw, err := s.fetcher.PlannedDepartures(ctx, lineCode)
	if err != nil {
		msg := model.TruncateError(err)
		failed := &model.BusScheduleRow{
			LineCode:     lineCode,
			ValidFor:     validFor,
			DayType:      dayType,
			Payload:      model.EmptyBusPayload(dayType, validFor),
			FetchedAt:    s.timeProvider.Now(),
			SourceStatus: model.SourceStatusFailed,
			ErrorMessage: &msg,
		}
		if upsertErr := s.cache.Upsert(ctx, failed); upsertErr != nil {
			s.logger.ErrorContext(ctx, "failed to persist bus fetch failure",
				"line_code", lineCode, "error", upsertErr)
		}
		return nil, err
	}

	payload := Normalize(raw, validFor)
	row := &model.BusScheduleRow{
		LineCode:     lineCode,
		ValidFor:     validFor,
		DayType:      dayType,
		Payload:      payload,
		FetchedAt:    s.timeProvider.Now(),
		SourceStatus: model.SourceStatusSuccess,
	}
	if err := s.cache.Upsert(ctx, row); err != nil {
		return nil, fmt.Errorf("store bus schedule %s: %w", lineCode, err)
	}
	return &payload, nil
}

// PrefetchParams selects the scope of one prefetch-all pass.
type PrefetchParams struct {
	// ValidFor defaults to today in Istanbul.
	ValidFor time.Time
	// Days widens the bus pass to one valid_for per distinct day type in
	// [ValidFor, ValidFor+Days). Zero means a single date. Metro ignores it.
	Days int
	// Force refetches lines that already have a SUCCESS row.
	Force bool
	// Limit caps how many lines are processed per date; zero means all.
	Limit int
}

// horizonDates returns the first date of each distinct day type within
// [start, start+days). Fetching one date per day type covers the whole
// horizon because the upstream schedule only varies by day type.
func horizonDates(start time.Time, days int) []time.Time {
	if days <= 1 {
		return []time.Time{start}
	}
	seen := map[model.DayType]bool{}
	var out []time.Time
	for d := 0; d < days; d++ {
		date := start.AddDate(0, 0, d)
		dayType := model.DayTypeFor(date)
		if seen[dayType] {
			continue
		}
		seen[dayType] = true
		out = append(out, date)
	}
	return out
}

// FailedLine records one line that could not be fetched during a prefetch.
type FailedLine struct {
	LineCode string `json:"line_code"`
	Error    string `json:"error"`
}

// PrefetchResult accumulates the counters of one prefetch-all pass.
type PrefetchResult struct {
	Total       int          `json:"total"`
	Stored      int          `json:"stored"`
	Skipped     int          `json:"skipped"`
	Failed      int          `json:"failed"`
	FailedLines []FailedLine `json:"failed_lines,omitempty"`
	Swept       int64        `json:"swept"`
}

// PrefetchAll fetches schedules for every bus line, skipping lines that
// already have a SUCCESS snapshot unless forced, then sweeps expired rows.
// Failures are accumulated, registered in the pending-retry map, and do not
// abort the pass.
func (s *BusCacheService) PrefetchAll(ctx context.Context, params PrefetchParams) (*PrefetchResult, error) {
	validFor := params.ValidFor
	if validFor.IsZero() {
		validFor = s.TodayIstanbul()
	} else {
		validFor = model.CivilDate(validFor, s.loc)
	}

	dates := horizonDates(validFor, params.Days)
	endDate := dates[len(dates)-1]

	job, err := s.jobs.Start(ctx, core.StartJobParams{
		JobType:    model.JobTypeBusSchedulePrefetch,
		TargetDate: &validFor,
		EndDate:    &endDate,
	})
	if err != nil {
		return nil, fmt.Errorf("start bus prefetch job: %w", err)
	}

	result := &PrefetchResult{}
	var prefetchErr error
	for _, date := range dates {
		var pass *PrefetchResult
		pass, prefetchErr = s.prefetchAll(ctx, date, params)
		if prefetchErr != nil {
			break
		}
		result.Total += pass.Total
		result.Stored += pass.Stored
		result.Skipped += pass.Skipped
		result.Failed += pass.Failed
		result.FailedLines = append(result.FailedLines, pass.FailedLines...)
		result.Swept += pass.Swept
	}
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
		return nil, fmt.Errorf("finish bus prefetch job: %w", err)
	}

	s.logger.InfoContext(ctx, "bus schedule prefetch completed",
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

func (s *BusCacheService) prefetchAll(ctx context.Context, validFor time.Time, params PrefetchParams) (*PrefetchResult, error) {
	lines, err := s.lines.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transport lines: %w", err)
	}

	result := &PrefetchResult{}
	for _, line := range lines {
		if !line.IsBus() {
			continue
		}
		if params.Limit > 0 && result.Total >= params.Limit {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result.Total++

		if !params.Force {
			existing, err := s.cache.Lookup(ctx, core.BusCacheLookupParams{
				LineCode: line.LineName,
				ValidFor: validFor,
			})
			if err != nil {
				return nil, fmt.Errorf("lookup bus cache %s: %w", line.LineName, err)
			}
			if existing != nil && existing.SourceStatus == model.SourceStatusSuccess {
				result.Skipped++
				continue
			}
		}

		if _, err := s.FetchAndStore(ctx, line.LineName, validFor); err != nil {
			result.Failed++
			result.FailedLines = append(result.FailedLines, FailedLine{
				LineCode: line.LineName,
				Error:    model.TruncateError(err),
			})
			continue
		}
		result.Stored++
	}

	s.registerPending(result.FailedLines, validFor)

	cutoff := s.TodayIstanbul().AddDate(0, 0, -s.policy.RetentionDays)
	swept, err := s.cache.DeleteBefore(ctx, cutoff)
	if err != nil {
		s.logger.WarnContext(ctx, "bus cache retention sweep failed", "error", err)
	} else {
		result.Swept = swept
	}
	return result, nil
}

func (s *BusCacheService) registerPending(failed []FailedLine, validFor time.Time) {
	if len(failed) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range failed {
		key := f.LineCode + ":" + model.DateString(validFor)
		if existing, ok := s.pending[key]; ok {
			existing.LastError = f.Error
			continue
		}
		s.pending[key] = &pendingBusLine{
			LineCode:  f.LineCode,
			ValidFor:  validFor,
			LastError: f.Error,
		}
	}
}

// RetryPending retries every active pending line once, sequentially. Lines
// that succeed leave the map; lines reaching the attempt cap are abandoned.
// Returns the number of still-active entries.
func (s *BusCacheService) RetryPending(ctx context.Context) int {
	for _, entry := range s.activePending() {
		if ctx.Err() != nil {
			break
		}
		_, err := s.FetchAndStore(ctx, entry.LineCode, entry.ValidFor)

		s.mu.Lock()
		key := entry.LineCode + ":" + model.DateString(entry.ValidFor)
		current, ok := s.pending[key]
		if ok {
			if err == nil {
				delete(s.pending, key)
			} else {
				current.Attempts++
				current.LastError = model.TruncateError(err)
				if current.Attempts >= s.policy.MaxPendingRetries {
					current.Abandoned = true
					s.logger.Warn("bus line retry abandoned",
						"line_code", current.LineCode,
						"valid_for", model.DateString(current.ValidFor),
						"attempts", current.Attempts)
				}
			}
		}
		s.mu.Unlock()
	}
	return s.ActivePendingCount()
}

func (s *BusCacheService) activePending() []pendingBusLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pendingBusLine, 0, len(s.pending))
	for _, entry := range s.pending {
		if !entry.Abandoned {
			out = append(out, *entry)
		}
	}
	return out
}

// ActivePendingCount returns how many pending lines still await retry.
func (s *BusCacheService) ActivePendingCount() int {
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
func (s *BusCacheService) PendingState() []pendingBusLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pendingBusLine, 0, len(s.pending))
	for _, entry := range s.pending {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LineCode < out[j].LineCode })
	return out
}

// ScheduleRead is the read-path result of GetOrFetch.
type ScheduleRead struct {
	Payload     *model.BusSchedulePayload `json:"payload"`
	IsStale     bool                      `json:"is_stale"`
	FetchedLive bool                      `json:"fetched_live"`
}

// GetOrFetch serves a schedule for (line, date): exact SUCCESS row first,
// then a stale SUCCESS row within the stale window, then a live fetch. A live
// fetch failure persists a FAILED row and returns an empty read.
func (s *BusCacheService) GetOrFetch(ctx context.Context, lineCode string, validFor time.Time) (*ScheduleRead, error) {
	validFor = model.CivilDate(validFor, s.loc)

	row, err := s.cache.Lookup(ctx, core.BusCacheLookupParams{
		LineCode:   lineCode,
		ValidFor:   validFor,
		MaxAgeDays: s.policy.MaxStaleDays,
	})
	if err != nil {
		return nil, fmt.Errorf("lookup bus cache %s: %w", lineCode, err)
	}
	if row != nil && row.SourceStatus == model.SourceStatusSuccess {
		return &ScheduleRead{
			Payload: &row.Payload,
			IsStale: !row.ValidFor.Equal(validFor),
		}, nil
	}

	payload, err := s.FetchAndStore(ctx, lineCode, validFor)
	if err != nil {
		s.logger.WarnContext(ctx, "live bus schedule fetch failed",
			"line_code", lineCode, "valid_for", model.DateString(validFor), "error", err)
		return &ScheduleRead{IsStale: true, FetchedLive: true}, nil
	}
	return &ScheduleRead{Payload: payload, FetchedLive: true}, nil
}

// TripsPerHour projects a line's cached schedule into a 24-bucket departure
// count for a date, or nil when no usable snapshot exists.
func (s *BusCacheService) TripsPerHour(ctx context.Context, lineCode string, validFor time.Time) (*[24]int, error) {
	read, err := s.GetOrFetch(ctx, lineCode, validFor)
	if err != nil {
		return nil, err
	}
	if read.Payload == nil {
		return nil, nil
	}
	counts := read.Payload.TripsPerHour()
	return &counts, nil
}
