package httpx

import (
	"net/http"

	"github.com/ibb-transit/crowdcast/internal/core"
	"github.com/ibb-transit/crowdcast/internal/domain/model"
	"github.com/ibb-transit/crowdcast/internal/service"
)

// ReportHandlers serves the public report submission endpoint.
type ReportHandlers struct {
	Reports *service.ReportService
}

type submitReportRequest struct {
	ReportType   model.ReportType `json:"report_type"`
	LineCode     *string          `json:"line_code,omitempty"`
	Description  string           `json:"description"`
	ContactEmail *string          `json:"contact_email,omitempty"`
}

// Submit handles POST /reports.
func (h *ReportHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitReportRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	report, err := h.Reports.Submit(r.Context(), core.CreateReportParams{
		ReportType:   req.ReportType,
		LineCode:     req.LineCode,
		Description:  req.Description,
		ContactEmail: req.ContactEmail,
	})
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, report)
}
