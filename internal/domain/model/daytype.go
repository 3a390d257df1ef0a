package model

import "time"

// DayType is the IETT schedule day bucket derived from the civil date in
// Istanbul: I for weekdays, C for Saturday, P for Sunday.
type DayType string

const (
	DayTypeWeekday  DayType = "I"
	DayTypeSaturday DayType = "C"
	DayTypeSunday   DayType = "P"
)

// Valid returns true if the DayType is one of I, C, P.
func (d DayType) Valid() bool {
	return d == DayTypeWeekday || d == DayTypeSaturday || d == DayTypeSunday
}

// DayTypeFor derives the schedule day type for a civil date. The caller is
// responsible for passing a time already shifted into the Istanbul location;
// only the weekday of t is inspected.
func DayTypeFor(t time.Time) DayType {
	switch t.Weekday() {
	case time.Sunday:
		return DayTypeSunday
	case time.Saturday:
		return DayTypeSaturday
	default:
		return DayTypeWeekday
	}
}

// CivilDate truncates t to its civil date in loc, normalized to midnight UTC.
// Date-keyed tables (forecasts, cache valid_for) store these date-only values.
func CivilDate(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// DateString formats a date-only value as YYYY-MM-DD.
func DateString(d time.Time) string {
	return d.Format("2006-01-02")
}
