// Package model defines the core data types shared across the crowdcast service.
package model

import "strings"

// Transport type ids as used by the static transport_lines table.
const (
	TransportTypeBus  = 1
	TransportTypeRail = 2
)

// TransportLine is a named transport service (bus, tram, metro, funicular).
// Rows are loaded from a read-only file at first start and never deleted at runtime.
type TransportLine struct {
	LineName        string `json:"line_name"         db:"line_name"`
	TransportTypeID int    `json:"transport_type_id" db:"transport_type_id"`
	RoadType        string `json:"road_type"         db:"road_type"`
	Line            string `json:"line"              db:"line"`
}

// IsBus reports whether the line is served by the IETT bus feed.
func (l TransportLine) IsBus() bool {
	return l.TransportTypeID == TransportTypeBus
}

// IsRailCode reports whether a line code belongs to the rail network
// (metro M, funicular F, tram T) including Marmaray.
func IsRailCode(code string) bool {
	if code == "" {
		return false
	}
	if strings.EqualFold(code, "MARMARAY") {
		return true
	}
	switch code[0] {
	case 'M', 'F', 'T':
		return true
	}
	return false
}

// ForecastLineAlias maps request line codes onto the line names the forecast
// table is keyed by. The model was trained on "M1" as a single line, so both
// branches resolve to it for forecast lookups while schedule and topology
// lookups keep the branch code.
func ForecastLineAlias(code string) string {
	switch strings.ToUpper(code) {
	case "M1A", "M1B":
		return "M1"
	}
	return code
}

// CompactLineName lowercases a line name and strips spaces, used for the
// space-insensitive search fallback.
func CompactLineName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "")
}
