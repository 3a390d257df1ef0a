package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ibb-transit/crowdcast/internal/core"
	"github.com/ibb-transit/crowdcast/internal/domain/model"
	apperrors "github.com/ibb-transit/crowdcast/internal/errors"
)

// ErrReportNotFound is returned when a user report row is missing.
var ErrReportNotFound = errors.New("report not found")

// ReportRepo provides database operations for user reports.
type ReportRepo struct {
	DB     *sql.DB
	logger *slog.Logger
}

// NewReportRepo creates a new ReportRepo instance.
func NewReportRepo(db *sql.DB, logger *slog.Logger) *ReportRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportRepo{DB: db, logger: logger}
}

const reportColumns = `
  id,
  report_type,
  line_code,
  description,
  contact_email,
  status,
  created_at
`

// Create inserts a new user report with status "new".
func (r *ReportRepo) Create(
	ctx context.Context,
	params core.CreateReportParams,
) (*model.UserReport, error) {
	query := `
		INSERT INTO user_reports (report_type, line_code, description, contact_email, status)
		VALUES ($1, $2, $3, $4, 'new')
		RETURNING ` + reportColumns

	row := r.DB.QueryRowContext(ctx, query,
		string(params.ReportType), params.LineCode, params.Description, params.ContactEmail)
	report, err := scanReport(row)
	if err != nil {
		// Check violations (bad report_type) classify as Validation so the
		// HTTP layer answers 400 instead of 500.
		return nil, fmt.Errorf("create report: %w", apperrors.MapDBError(err))
	}
	return report, nil
}

// List returns reports newest first, optionally filtered by status.
func (r *ReportRepo) List(
	ctx context.Context,
	opts core.ReportListOptions,
) ([]model.UserReport, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + reportColumns + `
		FROM user_reports
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.DB.QueryContext(ctx, query, opts.Status, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			r.logger.Warn("close rows failed", "error", cerr)
		}
	}()

	var out []model.UserReport
	for rows.Next() {
		report, scanErr := scanReport(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, *report)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate reports: %w", rowsErr)
	}
	return out, nil
}

// UpdateStatus moves a report to a new status and returns the updated row.
func (r *ReportRepo) UpdateStatus(ctx context.Context, id int64, status string) (*model.UserReport, error) {
	query := `
		UPDATE user_reports SET status = $2 WHERE id = $1
		RETURNING ` + reportColumns

	report, err := scanReport(r.DB.QueryRowContext(ctx, query, id, status))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update report %d: %w", id, err)
	}
	return report, nil
}

func scanReport(s rowScanner) (*model.UserReport, error) {
	var report model.UserReport
	err := s.Scan(&report.ID, &report.ReportType, &report.LineCode, &report.Description,
		&report.ContactEmail, &report.Status, &report.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan report: %w", err)
	}
	return &report, nil
}
