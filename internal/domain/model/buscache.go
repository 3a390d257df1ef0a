package model

import (
	"strconv"
	"strings"
	"time"
)

// Source status of a cached schedule snapshot. A SUCCESS row shadows any
// earlier FAILED rows for the same key.
type SourceStatus string

const (
	SourceStatusSuccess SourceStatus = "SUCCESS"
	SourceStatusFailed  SourceStatus = "FAILED"
)

// Data status carried inside a canonical bus schedule payload.
const (
	DataStatusOK           = "OK"
	DataStatusNoServiceDay = "NO_SERVICE_DAY"
	DataStatusNoData       = "NO_DATA"
)

// Bus directions as reported by the IETT feed: G outbound (gidis), D inbound (donus).
const (
	DirectionOutbound = "G"
	DirectionInbound  = "D"
)

// RouteEnds names the first and last stop of one direction, parsed from the
// upstream route name "START - END".
type RouteEnds struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// BusSchedulePayload is the canonical per-row snapshot stored by the bus cache.
type BusSchedulePayload struct {
	G               []string             `json:"G"`
	D               []string             `json:"D"`
	Meta            map[string]RouteEnds `json:"meta"`
	HasServiceToday bool                 `json:"has_service_today"`
	DataStatus      string               `json:"data_status"`
	DayType         DayType              `json:"day_type"`
	ValidFor        string               `json:"valid_for"`
}

// EmptyBusPayload builds the NO_DATA payload persisted alongside FAILED rows.
func EmptyBusPayload(dayType DayType, validFor time.Time) BusSchedulePayload {
	return BusSchedulePayload{
		G:          []string{},
		D:          []string{},
		Meta:       map[string]RouteEnds{},
		DataStatus: DataStatusNoData,
		DayType:    dayType,
		ValidFor:   DateString(validFor),
	}
}

// Times returns the departure list for a direction, or the union G+D when
// direction is empty.
func (p BusSchedulePayload) Times(direction string) []string {
	switch direction {
	case DirectionOutbound:
		return p.G
	case DirectionInbound:
		return p.D
	default:
		out := make([]string, 0, len(p.G)+len(p.D))
		out = append(out, p.G...)
		out = append(out, p.D...)
		return out
	}
}

// TripsPerHour buckets the combined G+D departures into a length-24 vector.
// The forecast model predicts both-directions totals, so the counts are
// combined rather than per direction.
func (p BusSchedulePayload) TripsPerHour() [24]int {
	var counts [24]int
	for _, direction := range []string{DirectionOutbound, DirectionInbound} {
		for _, ts := range p.Times(direction) {
			if h, _, ok := ParseClock(ts); ok {
				counts[h]++
			}
		}
	}
	return counts
}

// BusScheduleRow is a persisted bus schedule snapshot keyed
// (line_code, valid_for, day_type).
type BusScheduleRow struct {
	ID           int64              `db:"id"`
	LineCode     string             `db:"line_code"`
	ValidFor     time.Time          `db:"valid_for"`
	DayType      DayType            `db:"day_type"`
	Payload      BusSchedulePayload `db:"payload"`
	FetchedAt    time.Time          `db:"fetched_at"`
	SourceStatus SourceStatus       `db:"source_status"`
	ErrorMessage *string            `db:"error_message"`
}

// ParseClock parses an HH:MM departure time, tolerating HH:MM:SS suffixes
// and single-digit fields. Hours of 24 and above wrap onto the next civil day
// and are reported modulo 24.
func ParseClock(s string) (hour, minute int, ok bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || h < 0 {
		return 0, 0, false
	}
	m, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h % 24, m, true
}

// ClockMinutes converts HH:MM to minutes since midnight for chronological sorting.
func ClockMinutes(s string) (int, bool) {
	h, m, ok := ParseClock(s)
	if !ok {
		return 0, false
	}
	return h*60 + m, true
}
