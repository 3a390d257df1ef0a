// Package featurestore holds the historical lag/rolling features and the
// calendar dimension in memory and answers model-feature lookups with a
// deterministic seasonal, hour, zero tiered fallback.
package featurestore

import (
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ibb-transit/crowdcast/internal/domain/model"
)

// DefaultMaxSeasonalLookbackYears caps how old a seasonal row may be.
const DefaultMaxSeasonalLookbackYears = 3

// LineHour identifies one lag lookup unit.
type LineHour struct {
	LineName string
	Hour     int
}

// FallbackStats counts which tier served each lag lookup.
type FallbackStats struct {
	SeasonalMatch int64 `json:"seasonal_match"`
	HourFallback  int64 `json:"hour_fallback"`
	ZeroFallback  int64 `json:"zero_fallback"`
}

// BatchLags is the bulk lookup result. Callers prefer Seasonal over Fallback
// and use zero lags when neither covers a key.
type BatchLags struct {
	Seasonal map[LineHour]model.LagFeatures
	Fallback map[LineHour]model.LagFeatures
}

type seasonalKey struct {
	lineName string
	hour     int
	month    time.Month
	day      int
}

type seasonalEntry struct {
	year int
	lags model.LagFeatures
}

// Options holds the inputs for building a Store.
type Options struct {
	Features []HistoricalRecord
	Calendar []CalendarRecord
	// MaxSeasonalLookbackYears defaults to 3 when zero.
	MaxSeasonalLookbackYears int
	Logger                   *slog.Logger
}

// Store is immutable after construction apart from the fallback counters,
// so it is shared freely across goroutines. Administrative reload builds a
// new Store and swaps the handle.
type Store struct {
	maxY         map[string]float64
	globalAvgMax float64
	seasonal     map[seasonalKey][]seasonalEntry
	fallback     map[LineHour]model.LagFeatures
	calendar     map[string]model.CalendarFeatures
	maxLookback  int
	logger       *slog.Logger

	seasonalMatch atomic.Int64
	hourFallback  atomic.Int64
	zeroFallback  atomic.Int64
}

// New builds a Store from loaded records.
func New(opts Options) *Store {
	if opts.MaxSeasonalLookbackYears <= 0 {
		opts.MaxSeasonalLookbackYears = DefaultMaxSeasonalLookbackYears
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Store{
		maxY:        make(map[string]float64),
		seasonal:    make(map[seasonalKey][]seasonalEntry),
		fallback:    make(map[LineHour]model.LagFeatures),
		calendar:    make(map[string]model.CalendarFeatures, len(opts.Calendar)),
		maxLookback: opts.MaxSeasonalLookbackYears,
		logger:      opts.Logger,
	}
	s.buildCalendar(opts.Calendar)
	s.buildFeatures(opts.Features)

	opts.Logger.Info("feature store loaded",
		"lines", len(s.maxY),
		"seasonal_keys", len(s.seasonal),
		"fallback_keys", len(s.fallback),
		"calendar_dates", len(s.calendar),
		"global_avg_max", s.globalAvgMax,
	)
	return s
}

// Load reads both columnar files and builds a Store.
func Load(featuresPath, calendarPath string, logger *slog.Logger) (*Store, error) {
	features, err := ReadHistoricalFile(featuresPath)
	if err != nil {
		return nil, err
	}
	calendar, err := ReadCalendarFile(calendarPath)
	if err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("historical features file %s is empty", featuresPath)
	}
	return New(Options{Features: features, Calendar: calendar, Logger: logger}), nil
}

func (s *Store) buildCalendar(rows []CalendarRecord) {
	for _, row := range rows {
		s.calendar[model.DateString(row.Date)] = model.CalendarFeatures{
			DayOfWeek:    int(row.DayOfWeek),
			IsWeekend:    int(row.IsWeekend),
			Month:        int(row.Month),
			Season:       model.Season(row.Season),
			IsSchoolTerm: int(row.IsSchoolTerm),
			IsHoliday:    int(row.IsHoliday),
			HolidayWinM1: int(row.HolidayWinM1),
			HolidayWinP1: int(row.HolidayWinP1),
		}
	}
}

// buildFeatures computes the per-line ceilings and both lookup tables in one
// pass over the historical rows. "Latest wins" is enforced by keeping the row
// with the greatest datetime per key.
func (s *Store) buildFeatures(rows []HistoricalRecord) {
	type latest struct {
		at   time.Time
		lags model.LagFeatures
	}
	latestSeasonal := make(map[seasonalKey]map[int]latest)
	latestFallback := make(map[LineHour]latest)

	for _, row := range rows {
		if row.Y > s.maxY[row.LineName] {
			s.maxY[row.LineName] = row.Y
		}
		if !row.Complete() {
			continue
		}

		lags := model.LagFeatures{
			Lag24h:     *row.Lag24h,
			Lag48h:     *row.Lag48h,
			Lag168h:    *row.Lag168h,
			RollMean24: *row.RollMean24,
			RollStd24:  *row.RollStd24,
		}
		hour := int(row.HourOfDay)

		sk := seasonalKey{
			lineName: row.LineName,
			hour:     hour,
			month:    row.Datetime.Month(),
			day:      row.Datetime.Day(),
		}
		year := row.Datetime.Year()
		byYear, ok := latestSeasonal[sk]
		if !ok {
			byYear = make(map[int]latest)
			latestSeasonal[sk] = byYear
		}
		if prev, ok := byYear[year]; !ok || row.Datetime.After(prev.at) {
			byYear[year] = latest{at: row.Datetime, lags: lags}
		}

		fk := LineHour{LineName: row.LineName, Hour: hour}
		if prev, ok := latestFallback[fk]; !ok || row.Datetime.After(prev.at) {
			latestFallback[fk] = latest{at: row.Datetime, lags: lags}
		}
	}

	for sk, byYear := range latestSeasonal {
		entries := make([]seasonalEntry, 0, len(byYear))
		for year, v := range byYear {
			entries = append(entries, seasonalEntry{year: year, lags: v.lags})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].year > entries[j].year })
		s.seasonal[sk] = entries
	}
	for fk, v := range latestFallback {
		s.fallback[fk] = v.lags
	}

	if len(s.maxY) > 0 {
		var sum float64
		for _, v := range s.maxY {
			sum += v
		}
		s.globalAvgMax = sum / float64(len(s.maxY))
	}
}

// LineNames returns every line seen in the historical data, sorted. The
// model's line category codes are derived from this ordering.
func (s *Store) LineNames() []string {
	out := make([]string, 0, len(s.maxY))
	for name := range s.maxY {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Calendar returns the calendar features for a YYYY-MM-DD date string.
func (s *Store) Calendar(dateStr string) (model.CalendarFeatures, bool) {
	c, ok := s.calendar[dateStr]
	return c, ok
}

// MaxCapacity returns the capacity ceiling for a line: its own historical
// maximum, or the global average of per-line maxima when the line is unseen.
func (s *Store) MaxCapacity(lineName string) float64 {
	if v, ok := s.maxY[lineName]; ok && v > 0 {
		return v
	}
	return s.globalAvgMax
}

// CrowdLevel buckets a prediction for a line using its capacity ceiling.
func (s *Store) CrowdLevel(lineName string, predicted float64) model.CrowdLevel {
	return model.CrowdLevelFor(predicted, s.MaxCapacity(lineName))
}

// Lags resolves the five lag/rolling features for (line, hour, target date)
// through the seasonal, hour, zero tiers. Exactly one counter increments per call.
func (s *Store) Lags(lineName string, hour int, targetDate time.Time) model.LagFeatures {
	if lags, ok := s.seasonalLags(lineName, hour, targetDate); ok {
		s.seasonalMatch.Add(1)
		return lags
	}
	if lags, ok := s.fallback[LineHour{LineName: lineName, Hour: hour}]; ok {
		s.hourFallback.Add(1)
		return lags
	}
	s.zeroFallback.Add(1)
	return model.LagFeatures{}
}

func (s *Store) seasonalLags(lineName string, hour int, targetDate time.Time) (model.LagFeatures, bool) {
	sk := seasonalKey{
		lineName: lineName,
		hour:     hour,
		month:    targetDate.Month(),
		day:      targetDate.Day(),
	}
	for _, entry := range s.seasonal[sk] {
		yearsAgo := targetDate.Year() - entry.year
		if yearsAgo > s.maxLookback {
			break // entries are year-descending, the rest are older still
		}
		if yearsAgo < 0 {
			continue
		}
		return entry.lags, true
	}
	return model.LagFeatures{}, false
}

// BatchLagsFor resolves both tier tables for lines x 24 hours in one pass,
// incrementing the counters exactly as the per-key Lags calls would.
func (s *Store) BatchLagsFor(lineNames []string, targetDate time.Time) BatchLags {
	out := BatchLags{
		Seasonal: make(map[LineHour]model.LagFeatures),
		Fallback: make(map[LineHour]model.LagFeatures),
	}
	for _, line := range lineNames {
		for hour := 0; hour < 24; hour++ {
			key := LineHour{LineName: line, Hour: hour}
			if lags, ok := s.seasonalLags(line, hour, targetDate); ok {
				out.Seasonal[key] = lags
				s.seasonalMatch.Add(1)
				continue
			}
			if lags, ok := s.fallback[key]; ok {
				out.Fallback[key] = lags
				s.hourFallback.Add(1)
				continue
			}
			s.zeroFallback.Add(1)
		}
	}
	return out
}

// FallbackStats returns a snapshot of the tier counters.
func (s *Store) FallbackStats() FallbackStats {
	return FallbackStats{
		SeasonalMatch: s.seasonalMatch.Load(),
		HourFallback:  s.hourFallback.Load(),
		ZeroFallback:  s.zeroFallback.Load(),
	}
}

// ResetFallbackStats zeroes the tier counters.
func (s *Store) ResetFallbackStats() {
	s.seasonalMatch.Store(0)
	s.hourFallback.Store(0)
	s.zeroFallback.Store(0)
}
