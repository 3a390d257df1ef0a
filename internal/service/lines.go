package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ibb-transit/crowdcast/internal/core"
	"github.com/ibb-transit/crowdcast/internal/domain/model"
	apperrors "github.com/ibb-transit/crowdcast/internal/errors"
)

// MaxSearchResults caps how many lines a search returns.
const MaxSearchResults = 15

// LineServiceOptions holds the dependencies for creating a LineService.
type LineServiceOptions struct {
	Lines core.LineRepository
}

// LineService answers line lookups and name search over the known lines.
type LineService struct {
	lines core.LineRepository
}

// NewLineService creates a LineService.
func NewLineService(opts LineServiceOptions) *LineService {
	return &LineService{lines: opts.Lines}
}

// Get returns one line by its exact name.
func (s *LineService) Get(ctx context.Context, lineName string) (*model.TransportLine, error) {
	line, err := s.lines.GetByLineName(ctx, lineName)
	if err != nil {
		return nil, fmt.Errorf("lookup line %s: %w", lineName, err)
	}
	if line == nil {
		return nil, apperrors.NotFoundf("unknown line %q", lineName)
	}
	return line, nil
}

// List returns every known line.
func (s *LineService) List(ctx context.Context) ([]model.TransportLine, error) {
	return s.lines.List(ctx)
}

// searchRank orders matches: exact beats prefix beats substring. Matching is
// case-insensitive and tolerant of spacing differences ("M 2" finds "M2").
const (
	rankExact = iota
	rankPrefix
	rankContains
)

type searchHit struct {
	line model.TransportLine
	rank int
}

// Search returns up to MaxSearchResults lines whose name matches the query,
// best matches first.
func (s *LineService) Search(ctx context.Context, query string) ([]model.TransportLine, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperrors.Validation("search query must not be empty")
	}
	all, err := s.lines.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list lines: %w", err)
	}

	needle := model.CompactLineName(query)
	hits := make([]searchHit, 0, MaxSearchResults)
	for _, line := range all {
		name := model.CompactLineName(line.LineName)
		var rank int
		switch {
		case name == needle:
			rank = rankExact
		case strings.HasPrefix(name, needle):
			rank = rankPrefix
		case strings.Contains(name, needle):
			rank = rankContains
		default:
			continue
		}
		hits = append(hits, searchHit{line: line, rank: rank})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].rank != hits[j].rank {
			return hits[i].rank < hits[j].rank
		}
		return hits[i].line.LineName < hits[j].line.LineName
	})
	if len(hits) > MaxSearchResults {
		hits = hits[:MaxSearchResults]
	}

	out := make([]model.TransportLine, len(hits))
	for i, h := range hits {
		out[i] = h.line
	}
	return out, nil
}
