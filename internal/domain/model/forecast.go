package model

import "time"

// CrowdLevel is the discrete bucket over occupancy ratio predicted/max_capacity.
type CrowdLevel string

const (
	CrowdLevelLow          CrowdLevel = "Low"
	CrowdLevelMedium       CrowdLevel = "Medium"
	CrowdLevelHigh         CrowdLevel = "High"
	CrowdLevelVeryHigh     CrowdLevel = "Very High"
	CrowdLevelUnknown      CrowdLevel = "Unknown"
	CrowdLevelOutOfService CrowdLevel = "Out of Service"
)

// CrowdLevelFor buckets a prediction against a capacity ceiling using the
// fixed occupancy thresholds 0.30 / 0.60 / 0.90.
func CrowdLevelFor(predicted, maxCapacity float64) CrowdLevel {
	if maxCapacity <= 0 {
		return CrowdLevelUnknown
	}
	ratio := predicted / maxCapacity
	switch {
	case ratio < 0.30:
		return CrowdLevelLow
	case ratio < 0.60:
		return CrowdLevelMedium
	case ratio < 0.90:
		return CrowdLevelHigh
	default:
		return CrowdLevelVeryHigh
	}
}

// DailyForecast is one hourly crowding prediction for a line on a date.
// Rows are unique on (line_name, date, hour); a forecast run upserts the
// full 24-row set per (line, date).
type DailyForecast struct {
	ID              int64      `json:"id"                         db:"id"`
	LineName        string     `json:"line_name"                  db:"line_name"`
	Date            time.Time  `json:"date"                       db:"date"`
	Hour            int        `json:"hour"                       db:"hour"`
	PredictedValue  float64    `json:"predicted_value"            db:"predicted_value"`
	OccupancyPct    int        `json:"occupancy_pct"              db:"occupancy_pct"`
	CrowdLevel      CrowdLevel `json:"crowd_level"                db:"crowd_level"`
	MaxCapacity     int        `json:"max_capacity"               db:"max_capacity"`
	TripsPerHour    *int       `json:"trips_per_hour,omitempty"   db:"trips_per_hour"`
	VehicleCapacity *int       `json:"vehicle_capacity,omitempty" db:"vehicle_capacity"`
}

// OccupancyPctFor computes the rounded occupancy percentage, 0 when the
// capacity ceiling is missing.
func OccupancyPctFor(predicted, maxCapacity float64) int {
	if maxCapacity <= 0 {
		return 0
	}
	pct := predicted / maxCapacity * 100
	return int(pct + 0.5)
}
