package model

import "time"

// MetroTimeInfo carries the raw departure list for one timetable block.
type MetroTimeInfo struct {
	Times []string `json:"Times"`
}

// MetroTimetableEntry is one element of the upstream Data array. Fields the
// projection helpers do not use are preserved verbatim by the row payload.
type MetroTimetableEntry struct {
	TimeInfos   MetroTimeInfo `json:"TimeInfos"`
	LastStation string        `json:"LastStation,omitempty"`
}

// MetroAPIError mirrors the upstream error envelope.
type MetroAPIError struct {
	Message string `json:"Message,omitempty"`
}

// MetroTimetablePayload is the verbatim upstream response stored per
// (station, direction, valid_for). No per-direction bucketing is applied.
type MetroTimetablePayload struct {
	Success bool                  `json:"Success"`
	Error   *MetroAPIError        `json:"Error,omitempty"`
	Data    []MetroTimetableEntry `json:"Data"`
}

// DepartureTimes flattens every Times list in the payload.
func (p MetroTimetablePayload) DepartureTimes() []string {
	var out []string
	for _, entry := range p.Data {
		out = append(out, entry.TimeInfos.Times...)
	}
	return out
}

// MetroScheduleRow is a persisted metro timetable snapshot keyed
// (station_id, direction_id, valid_for).
type MetroScheduleRow struct {
	ID            int64                 `db:"id"`
	StationID     int                   `db:"station_id"`
	DirectionID   int                   `db:"direction_id"`
	LineCode      string                `db:"line_code"`
	StationName   string                `db:"station_name"`
	DirectionName string                `db:"direction_name"`
	ValidFor      time.Time             `db:"valid_for"`
	Payload       MetroTimetablePayload `db:"payload"`
	FetchedAt     time.Time             `db:"fetched_at"`
	SourceStatus  SourceStatus          `db:"source_status"`
	ErrorMessage  *string               `db:"error_message"`
}

// StationDirection identifies one fetchable timetable unit, enumerated from
// the static topology rather than the database.
type StationDirection struct {
	StationID     int    `json:"station_id"`
	DirectionID   int    `json:"direction_id"`
	LineCode      string `json:"line_code"`
	StationName   string `json:"station_name"`
	DirectionName string `json:"direction_name"`
}
