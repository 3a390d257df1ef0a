package topology

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Point is a [lat, lng] pair on a route polyline.
type Point [2]float64

// RouteShape holds the outbound (G) and inbound (D) polylines for one line.
type RouteShape struct {
	G []Point `json:"G"`
	D []Point `json:"D"`
}

// Shapes indexes route polylines by line code.
type Shapes struct {
	byLine map[string]RouteShape
}

// LoadShapes reads the route shapes JSON file. A missing file yields an empty
// index rather than an error so deployments without shape data still start.
func LoadShapes(path string, logger *slog.Logger) (*Shapes, error) {
	if logger == nil {
		logger = slog.Default()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("route shapes file missing, serving empty shapes", "path", path)
			return &Shapes{byLine: map[string]RouteShape{}}, nil
		}
		return nil, fmt.Errorf("read route shapes %s: %w", path, err)
	}

	var doc map[string]RouteShape
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse route shapes %s: %w", path, err)
	}

	byLine := make(map[string]RouteShape, len(doc))
	for code, shape := range doc {
		byLine[strings.ToUpper(code)] = shape
	}
	logger.Info("route shapes loaded", "lines", len(byLine))
	return &Shapes{byLine: byLine}, nil
}

// Lookup returns the polylines for a line code, case-insensitively.
func (s *Shapes) Lookup(code string) (RouteShape, bool) {
	shape, ok := s.byLine[strings.ToUpper(code)]
	return shape, ok
}

// Len returns the number of lines with shape data.
func (s *Shapes) Len() int {
	return len(s.byLine)
}
