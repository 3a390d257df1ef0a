package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ibb-transit/crowdcast/internal/core"
	"github.com/ibb-transit/crowdcast/internal/domain/model"
	apperrors "github.com/ibb-transit/crowdcast/internal/errors"
)

// Report list and validation limits.
const (
	DefaultReportListLimit = 50
	MaxReportListLimit     = 200
	maxReportDescription   = 2000
)

// reportStatuses are the states a report moves through.
var reportStatuses = map[string]bool{
	"open":     true,
	"reviewed": true,
	"resolved": true,
	"rejected": true,
}

// ReportServiceOptions holds the dependencies for creating a ReportService.
type ReportServiceOptions struct {
	Reports core.ReportRepository
	Logger  *slog.Logger
}

// ReportService accepts and manages end-user reports (wrong data, bugs,
// feature requests).
type ReportService struct {
	reports core.ReportRepository
	logger  *slog.Logger
}

// NewReportService creates a ReportService with defaults filled in.
func NewReportService(opts ReportServiceOptions) *ReportService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportService{reports: opts.Reports, logger: logger}
}

// Submit validates and stores a new user report.
func (s *ReportService) Submit(ctx context.Context, params core.CreateReportParams) (*model.UserReport, error) {
	if !params.ReportType.Valid() {
		return nil, apperrors.Validationf("invalid report type %q", string(params.ReportType))
	}
	params.Description = strings.TrimSpace(params.Description)
	if params.Description == "" {
		return nil, apperrors.ValidationField("description", "description must not be empty")
	}
	if len(params.Description) > maxReportDescription {
		return nil, apperrors.ValidationField("description", fmt.Sprintf(
			"description exceeds %d characters", maxReportDescription))
	}
	if params.ContactEmail != nil && !strings.Contains(*params.ContactEmail, "@") {
		return nil, apperrors.ValidationField("contact_email", "contact email is not valid")
	}

	report, err := s.reports.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}
	s.logger.InfoContext(ctx, "user report submitted",
		"report_id", report.ID, "report_type", report.ReportType)
	return report, nil
}

// List returns reports matching the filter, newest first.
func (s *ReportService) List(ctx context.Context, opts core.ReportListOptions) ([]model.UserReport, error) {
	if opts.Status != "" && !reportStatuses[opts.Status] {
		return nil, apperrors.Validationf("unknown report status %q", opts.Status)
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultReportListLimit
	}
	if opts.Limit > MaxReportListLimit {
		opts.Limit = MaxReportListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return s.reports.List(ctx, opts)
}

// UpdateStatus moves a report to a new status.
func (s *ReportService) UpdateStatus(ctx context.Context, id int64, status string) (*model.UserReport, error) {
	if !reportStatuses[status] {
		return nil, apperrors.Validationf("unknown report status %q", status)
	}
	report, err := s.reports.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, fmt.Errorf("update report %d: %w", id, err)
	}
	if report == nil {
		return nil, apperrors.NotFoundf("report %d not found", id)
	}
	return report, nil
}
