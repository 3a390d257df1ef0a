// Package capacity resolves per-line vehicle capacities from the
// fleet-analysis columnar file, with a static YAML override for rail lines.
package capacity

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"
)

// MetaRecord is one row of the capacity metadata file.
type MetaRecord struct {
	LineCode         string  `parquet:"line_code"`
	ExpectedCapacity int64   `parquet:"expected_capacity_weighted_int"`
	CapacityMin      *int64  `parquet:"capacity_min,optional"`
	CapacityMax      *int64  `parquet:"capacity_max,optional"`
	Confidence       string  `parquet:"confidence"`
	TopModels        *string `parquet:"top_models,optional"`
}

// Capacity source labels reported by Info.
const (
	SourceMeta     = "meta"
	SourceOverride = "override"
)

// Info is the resolved capacity for one line.
type Info struct {
	LineCode         string `json:"line_code"`
	ExpectedCapacity int    `json:"expected_capacity"`
	CapacityMin      *int   `json:"capacity_min,omitempty"`
	CapacityMax      *int   `json:"capacity_max,omitempty"`
	Confidence       string `json:"confidence,omitempty"`
	Source           string `json:"source"`
}

// Store holds resolved capacities, immutable after construction.
type Store struct {
	byLine map[string]Info
}

// Options holds the inputs for building a Store.
type Options struct {
	Meta []MetaRecord
	// RailOverride maps line_code to capacity and wins over Meta.
	RailOverride map[string]int
	Logger       *slog.Logger
}

// New builds a Store. The YAML rail override takes precedence over the
// parquet-derived expected capacity for the same line.
func New(opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	byLine := make(map[string]Info, len(opts.Meta)+len(opts.RailOverride))
	for _, m := range opts.Meta {
		info := Info{
			LineCode:         m.LineCode,
			ExpectedCapacity: int(m.ExpectedCapacity),
			Confidence:       m.Confidence,
			Source:           SourceMeta,
		}
		if m.CapacityMin != nil {
			v := int(*m.CapacityMin)
			info.CapacityMin = &v
		}
		if m.CapacityMax != nil {
			v := int(*m.CapacityMax)
			info.CapacityMax = &v
		}
		byLine[m.LineCode] = info
	}
	for code, capValue := range opts.RailOverride {
		byLine[code] = Info{
			LineCode:         code,
			ExpectedCapacity: capValue,
			Source:           SourceOverride,
		}
	}

	opts.Logger.Info("capacity store loaded",
		"lines", len(byLine), "overrides", len(opts.RailOverride))
	return &Store{byLine: byLine}
}

// Load reads the capacity metadata file and the optional rail override YAML.
// An empty overridePath skips the override.
func Load(metaPath, overridePath string, logger *slog.Logger) (*Store, error) {
	meta, err := parquet.ReadFile[MetaRecord](metaPath)
	if err != nil {
		return nil, fmt.Errorf("read capacity meta %s: %w", metaPath, err)
	}

	var override map[string]int
	if overridePath != "" {
		override, err = readRailOverride(overridePath)
		if err != nil {
			return nil, err
		}
	}
	return New(Options{Meta: meta, RailOverride: override, Logger: logger}), nil
}

func readRailOverride(path string) (map[string]int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rail capacity override %s: %w", path, err)
	}

	var doc struct {
		RailCapacities map[string]int `yaml:"rail_capacities"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse rail capacity override %s: %w", path, err)
	}
	return doc.RailCapacities, nil
}

// VehicleCapacity returns the per-vehicle capacity for a line.
func (s *Store) VehicleCapacity(lineCode string) (int, bool) {
	info, ok := s.byLine[lineCode]
	if !ok {
		return 0, false
	}
	return info.ExpectedCapacity, true
}

// Lookup returns the full capacity record for a line.
func (s *Store) Lookup(lineCode string) (Info, bool) {
	info, ok := s.byLine[lineCode]
	return info, ok
}

// Len returns the number of lines with a resolved capacity.
func (s *Store) Len() int {
	return len(s.byLine)
}
