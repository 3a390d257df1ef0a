// Package topology serves the static rail network description: stations,
// directions, service hours, termini, and route polylines. Loaded from
// read-only JSON files at startup and shared freely afterwards.
package topology

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ibb-transit/crowdcast/internal/domain/model"
)

// Direction is one travel direction exposed at a station.
type Direction struct {
	DirectionID int    `json:"direction_id"`
	Name        string `json:"name"`
}

// Station is one rail station with its exposed directions.
type Station struct {
	StationID  int         `json:"station_id"`
	Name       string      `json:"name"`
	Order      int         `json:"order"`
	Directions []Direction `json:"directions"`
}

// Line is one rail line in the topology file. Stations are ordered from the
// first terminus to the last.
type Line struct {
	LineCode  string    `json:"line_code"`
	Name      string    `json:"name"`
	FirstTime string    `json:"first_time"`
	LastTime  string    `json:"last_time"`
	Stations  []Station `json:"stations"`
}

type topologyFile struct {
	Lines []Line `json:"lines"`
}

// Topology indexes the static network description.
type Topology struct {
	lines  map[string]Line
	logger *slog.Logger
}

// Load reads the topology JSON file.
func Load(path string, logger *slog.Logger) (*Topology, error) {
	if logger == nil {
		logger = slog.Default()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology %s: %w", path, err)
	}
	var doc topologyFile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse topology %s: %w", path, err)
	}
	return New(doc.Lines, logger), nil
}

// New builds a Topology from parsed lines.
func New(lines []Line, logger *slog.Logger) *Topology {
	if logger == nil {
		logger = slog.Default()
	}
	byCode := make(map[string]Line, len(lines))
	for _, ln := range lines {
		byCode[strings.ToUpper(ln.LineCode)] = ln
	}
	logger.Info("topology loaded", "lines", len(byCode))
	return &Topology{lines: byCode, logger: logger}
}

// Line returns one line by code, case-insensitively.
func (t *Topology) Line(code string) (Line, bool) {
	ln, ok := t.lines[strings.ToUpper(code)]
	return ln, ok
}

// LineCodes returns every known rail line code.
func (t *Topology) LineCodes() []string {
	out := make([]string, 0, len(t.lines))
	for code := range t.lines {
		out = append(out, code)
	}
	return out
}

// ServiceHours returns the first/last departure clock strings for a line.
// Marmaray is not in the topology file and is handled by its own package.
func (t *Topology) ServiceHours(code string) (first, last string, ok bool) {
	ln, found := t.Line(code)
	if !found {
		return "", "", false
	}
	return ln.FirstTime, ln.LastTime, true
}

// StationDirections enumerates every fetchable (station, direction) unit
// across all lines. This drives the metro prefetch, not the database.
func (t *Topology) StationDirections() []model.StationDirection {
	var out []model.StationDirection
	for code, ln := range t.lines {
		for _, st := range ln.Stations {
			for _, dir := range st.Directions {
				out = append(out, model.StationDirection{
					StationID:     st.StationID,
					DirectionID:   dir.DirectionID,
					LineCode:      code,
					StationName:   st.Name,
					DirectionName: dir.Name,
				})
			}
		}
	}
	return out
}

// Termini returns the first and last stations of a line. Lines with a single
// station return it twice.
func (t *Topology) Termini(code string) (first, last Station, ok bool) {
	ln, found := t.Line(code)
	if !found || len(ln.Stations) == 0 {
		return Station{}, Station{}, false
	}
	return ln.Stations[0], ln.Stations[len(ln.Stations)-1], true
}

// HasStationDirection reports whether a (station, direction) pair exists.
func (t *Topology) HasStationDirection(stationID, directionID int) bool {
	for _, ln := range t.lines {
		for _, st := range ln.Stations {
			if st.StationID != stationID {
				continue
			}
			for _, dir := range st.Directions {
				if dir.DirectionID == directionID {
					return true
				}
			}
		}
	}
	return false
}
