package httpx

import (
	"errors"
	"net/http"

	"github.com/ibb-transit/crowdcast/internal/domain/model"
	apperrors "github.com/ibb-transit/crowdcast/internal/errors"
	"github.com/ibb-transit/crowdcast/internal/service"
	"github.com/ibb-transit/crowdcast/internal/topology"
)

// MetroHandlers serves cached metro timetables and the live proxies.
type MetroHandlers struct {
	Cache    *service.MetroCacheService
	Live     *service.MetroLiveService
	Topology *topology.Topology
}

type metroScheduleRequest struct {
	BoardingStationID int    `json:"BoardingStationId"`
	DirectionID       int    `json:"DirectionId"`
	DateTime          string `json:"DateTime,omitempty"`
}

// Schedule handles POST /metro/schedule: the cached timetable payload for one
// (station, direction) pair.
func (h *MetroHandlers) Schedule(w http.ResponseWriter, r *http.Request) {
	var req metroScheduleRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if !h.Topology.HasStationDirection(req.BoardingStationID, req.DirectionID) {
		WriteServiceError(w, apperrors.NotFoundf("unknown station %d direction %d",
			req.BoardingStationID, req.DirectionID))
		return
	}
	validFor, ok := parseDateParam(w, req.DateTime)
	if !ok {
		return
	}
	if validFor.IsZero() {
		validFor = h.Cache.TodayIstanbul()
	}

	read, err := h.Cache.GetOrFetch(r.Context(), model.StationDirection{
		StationID:   req.BoardingStationID,
		DirectionID: req.DirectionID,
	}, validFor)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if read.Payload == nil {
		// Total upstream failure and no cached fallback inside the hard window.
		WriteError(w, ErrorParams{
			Code:    http.StatusGatewayTimeout,
			ErrCode: "timetable_unavailable",
			Err:     errors.New("metro timetable upstream unavailable"),
		})
		return
	}
	WriteJSON(w, http.StatusOK, read.Payload)
}

// Duration handles POST /metro/duration: station-to-station travel minutes,
// proxied with a 24 h cache.
func (h *MetroHandlers) Duration(w http.ResponseWriter, r *http.Request) {
	var req metroScheduleRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	raw, err := h.Live.TravelDurations(r.Context(), req.BoardingStationID, req.DirectionID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// Status handles GET /metro/status: current line service statuses, proxied
// with a 5 min cache.
func (h *MetroHandlers) Status(w http.ResponseWriter, r *http.Request) {
	raw, err := h.Live.ServiceStatuses(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}
