package httpx

import (
	"errors"
	"net/http"

	"github.com/ibb-transit/crowdcast/internal/domain/model"
	apperrors "github.com/ibb-transit/crowdcast/internal/errors"
	"github.com/ibb-transit/crowdcast/internal/service"
	"github.com/ibb-transit/crowdcast/internal/topology"
)

// LineHandlers serves line metadata, search, schedules, and route shapes.
type LineHandlers struct {
	Lines  *service.LineService
	Bus    *service.BusCacheService
	Shapes *topology.Shapes
}

// List handles GET /lines.
func (h *LineHandlers) List(w http.ResponseWriter, r *http.Request) {
	lines, err := h.Lines.List(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, lines)
}

// Get handles GET /lines/{line_name}.
func (h *LineHandlers) Get(w http.ResponseWriter, r *http.Request) {
	line, err := h.Lines.Get(r.Context(), r.PathValue("line_name"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, line)
}

// Search handles GET /lines/search?query=...
func (h *LineHandlers) Search(w http.ResponseWriter, r *http.Request) {
	out, err := h.Lines.Search(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

// Schedule handles GET /lines/{line_code}/schedule: today's cached bus
// departures per direction.
func (h *LineHandlers) Schedule(w http.ResponseWriter, r *http.Request) {
	lineCode := r.PathValue("line_code")
	read, err := h.Bus.GetOrFetch(r.Context(), lineCode, h.Bus.TodayIstanbul())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if read.Payload == nil {
		// Nothing cached and the live fetch failed.
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "schedule_unavailable",
			Err:     errors.New("schedule upstream unavailable"),
		})
		return
	}
	if len(read.Payload.G) == 0 && len(read.Payload.D) == 0 &&
		read.Payload.DataStatus != model.DataStatusNoServiceDay {
		WriteServiceError(w, apperrors.NotFoundf("no schedule for line %q", lineCode))
		return
	}
	WriteJSON(w, http.StatusOK, read.Payload)
}

// Route handles GET /lines/{line_code}/route: the stored polylines per
// direction.
func (h *LineHandlers) Route(w http.ResponseWriter, r *http.Request) {
	lineCode := r.PathValue("line_code")
	shape, ok := h.Shapes.Lookup(lineCode)
	if !ok {
		WriteServiceError(w, apperrors.NotFoundf("no route shape for line %q", lineCode))
		return
	}
	WriteJSON(w, http.StatusOK, shape)
}
