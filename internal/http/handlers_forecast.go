package httpx

import (
	"net/http"
	"time"

	apperrors "github.com/ibb-transit/crowdcast/internal/errors"
	"github.com/ibb-transit/crowdcast/internal/service"
)

// ForecastHandlers serves the public forecast read path and the on-demand
// single-prediction endpoint.
type ForecastHandlers struct {
	Read   *service.ForecastReadService
	Engine *service.ForecastService
}

// parseDateParam parses an optional YYYY-MM-DD query value. A zero time means
// the parameter was absent.
func parseDateParam(w http.ResponseWriter, raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, true
	}
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		WriteServiceError(w, apperrors.Validationf("invalid date %q, want YYYY-MM-DD", raw))
		return time.Time{}, false
	}
	return date, true
}

// Daily handles GET /forecast/{line_name}.
func (h *ForecastHandlers) Daily(w http.ResponseWriter, r *http.Request) {
	target, ok := parseDateParam(w, r.URL.Query().Get("target_date"))
	if !ok {
		return
	}

	out, err := h.Read.DailyForecast(r.Context(), service.ForecastQuery{
		LineName:   r.PathValue("line_name"),
		TargetDate: target,
		Direction:  r.URL.Query().Get("direction"),
	})
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}

type nowcastRequest struct {
	LineName string `json:"line_name"`
	Date     string `json:"date,omitempty"`
	Hour     int    `json:"hour"`
}

// Nowcast handles POST /predict.
func (h *ForecastHandlers) Nowcast(w http.ResponseWriter, r *http.Request) {
	var req nowcastRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	date, ok := parseDateParam(w, req.Date)
	if !ok {
		return
	}

	result, err := h.Engine.Nowcast(r.Context(), service.NowcastParams{
		LineName: req.LineName,
		Date:     date,
		Hour:     req.Hour,
	})
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}
