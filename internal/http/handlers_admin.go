package httpx

import (
	"net/http"
	"strconv"

	"github.com/ibb-transit/crowdcast/internal/core"
	"github.com/ibb-transit/crowdcast/internal/domain/model"
	apperrors "github.com/ibb-transit/crowdcast/internal/errors"
	"github.com/ibb-transit/crowdcast/internal/sched"
	"github.com/ibb-transit/crowdcast/internal/service"
)

// AdminHandlers serves the operator endpoints: scheduler status, manual job
// triggers, cache refreshes, stale-job resets, and report triage.
type AdminHandlers struct {
	Status    *service.StatusService
	Jobs      *service.JobRegistrar
	Reports   *service.ReportService
	Bus       *service.BusCacheService
	Metro     *service.MetroCacheService
	Scheduler *sched.Scheduler
}

type pauseResponse struct {
	Affected int `json:"affected"`
}

// PauseScheduler handles POST /admin/scheduler/pause.
func (h *AdminHandlers) PauseScheduler(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, pauseResponse{Affected: h.Scheduler.PauseAll()})
}

// ResumeScheduler handles POST /admin/scheduler/resume.
func (h *AdminHandlers) ResumeScheduler(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, pauseResponse{Affected: h.Scheduler.ResumeAll()})
}

// SchedulerStatus handles GET /admin/scheduler/status.
func (h *AdminHandlers) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.Status.Snapshot(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, snapshot)
}

// Dashboard handles GET /admin/dashboard.
func (h *AdminHandlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Status.Dashboard(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// ResetFallbackStats handles POST /admin/features/reset-fallback.
func (h *AdminHandlers) ResetFallbackStats(w http.ResponseWriter, _ *http.Request) {
	h.Status.ResetFallbackStats()
	WriteJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// RefreshBusLine handles POST /admin/cache/bus/{line_code}/refresh: a
// synchronous single-line refetch for today.
func (h *AdminHandlers) RefreshBusLine(w http.ResponseWriter, r *http.Request) {
	lineCode := r.PathValue("line_code")
	if lineCode == "" {
		WriteServiceError(w, apperrors.ValidationField("line_code", "line code is required"))
		return
	}
	payload, err := h.Bus.FetchAndStore(r.Context(), lineCode, h.Bus.TodayIstanbul())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, payload)
}

// RefreshMetroPair handles POST /admin/cache/metro/{station_id}/{direction_id}/refresh.
func (h *AdminHandlers) RefreshMetroPair(w http.ResponseWriter, r *http.Request) {
	stationID, err := strconv.Atoi(r.PathValue("station_id"))
	if err != nil {
		WriteServiceError(w, apperrors.ValidationField("station_id", "station id must be an integer"))
		return
	}
	directionID, err := strconv.Atoi(r.PathValue("direction_id"))
	if err != nil {
		WriteServiceError(w, apperrors.ValidationField("direction_id", "direction id must be an integer"))
		return
	}
	pair := model.StationDirection{StationID: stationID, DirectionID: directionID}
	payload, err := h.Metro.FetchAndStore(r.Context(), pair, h.Metro.TodayIstanbul())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, payload)
}

type triggerResponse struct {
	Triggered string `json:"triggered"`
}

// TriggerForecast handles POST /admin/scheduler/trigger/forecast. An optional
// target_date query overrides the default "tomorrow" start.
func (h *AdminHandlers) TriggerForecast(w http.ResponseWriter, r *http.Request) {
	target, ok := parseDateParam(w, r.URL.Query().Get("target_date"))
	if !ok {
		return
	}
	h.Jobs.TriggerForecast(service.RunParams{TargetDate: target})
	WriteJSON(w, http.StatusAccepted, triggerResponse{Triggered: "daily_forecast"})
}

// TriggerBusPrefetch handles POST /admin/scheduler/trigger/bus.
func (h *AdminHandlers) TriggerBusPrefetch(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	h.Jobs.TriggerBusPrefetch(service.PrefetchParams{Force: force})
	WriteJSON(w, http.StatusAccepted, triggerResponse{Triggered: "bus_schedule_prefetch"})
}

// TriggerMetroPrefetch handles POST /admin/scheduler/trigger/metro.
func (h *AdminHandlers) TriggerMetroPrefetch(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	h.Jobs.TriggerMetroPrefetch(service.PrefetchParams{Force: force})
	WriteJSON(w, http.StatusAccepted, triggerResponse{Triggered: "metro_schedule_prefetch"})
}

type resetResponse struct {
	ResetCount int64 `json:"reset_count"`
}

// ResetJobs handles POST /admin/jobs/reset: sweep RUNNING executions that
// outlived the stale window.
func (h *AdminHandlers) ResetJobs(w http.ResponseWriter, r *http.Request) {
	swept, err := h.Status.ResetStaleJobs(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, resetResponse{ResetCount: swept})
}

// ListReports handles GET /admin/reports.
func (h *AdminHandlers) ListReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := core.ReportListOptions{Status: q.Get("status")}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			WriteServiceError(w, apperrors.ValidationField("limit", "limit must be an integer"))
			return
		}
		opts.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			WriteServiceError(w, apperrors.ValidationField("offset", "offset must be an integer"))
			return
		}
		opts.Offset = offset
	}

	reports, err := h.Reports.List(r.Context(), opts)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, reports)
}

type reportStatusRequest struct {
	Status string `json:"status"`
}

// UpdateReportStatus handles PATCH /admin/reports/{id}.
func (h *AdminHandlers) UpdateReportStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		WriteServiceError(w, apperrors.ValidationField("id", "report id must be an integer"))
		return
	}
	var req reportStatusRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	report, err := h.Reports.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}
