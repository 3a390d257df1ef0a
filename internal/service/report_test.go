package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibb-transit/crowdcast/internal/core"
	"github.com/ibb-transit/crowdcast/internal/domain/model"
	apperrors "github.com/ibb-transit/crowdcast/internal/errors"
)

// fakeReportRepo is an in-memory report store.
type fakeReportRepo struct {
	reports []model.UserReport
	nextID  int64
}

func (f *fakeReportRepo) Create(_ context.Context, params core.CreateReportParams) (*model.UserReport, error) {
	f.nextID++
	report := model.UserReport{
		ID:           f.nextID,
		ReportType:   params.ReportType,
		LineCode:     params.LineCode,
		Description:  params.Description,
		ContactEmail: params.ContactEmail,
		Status:       "open",
	}
	f.reports = append(f.reports, report)
	return &report, nil
}

func (f *fakeReportRepo) List(_ context.Context, opts core.ReportListOptions) ([]model.UserReport, error) {
	var out []model.UserReport
	for _, r := range f.reports {
		if opts.Status == "" || r.Status == opts.Status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReportRepo) UpdateStatus(_ context.Context, id int64, status string) (*model.UserReport, error) {
	for i := range f.reports {
		if f.reports[i].ID == id {
			f.reports[i].Status = status
			return &f.reports[i], nil
		}
	}
	return nil, nil
}

func TestSubmitReport(t *testing.T) {
	repo := &fakeReportRepo{}
	svc := NewReportService(ReportServiceOptions{Reports: repo})

	line := "34AS"
	report, err := svc.Submit(context.Background(), core.CreateReportParams{
		ReportType:  model.ReportTypeData,
		LineCode:    &line,
		Description: "  schedule shows departures on a holiday  ",
	})
	require.NoError(t, err)
	assert.Equal(t, "open", report.Status)
	assert.Equal(t, "schedule shows departures on a holiday", report.Description)
}

func TestSubmitReportValidation(t *testing.T) {
	svc := NewReportService(ReportServiceOptions{Reports: &fakeReportRepo{}})

	_, err := svc.Submit(context.Background(), core.CreateReportParams{
		ReportType:  "gossip",
		Description: "x",
	})
	assert.True(t, apperrors.IsValidation(err))

	_, err = svc.Submit(context.Background(), core.CreateReportParams{
		ReportType:  model.ReportTypeBug,
		Description: "   ",
	})
	assert.True(t, apperrors.IsValidation(err))

	bad := "not-an-email"
	_, err = svc.Submit(context.Background(), core.CreateReportParams{
		ReportType:   model.ReportTypeBug,
		Description:  "broken",
		ContactEmail: &bad,
	})
	assert.True(t, apperrors.IsValidation(err))
}

func TestUpdateReportStatus(t *testing.T) {
	repo := &fakeReportRepo{}
	svc := NewReportService(ReportServiceOptions{Reports: repo})

	created, err := svc.Submit(context.Background(), core.CreateReportParams{
		ReportType:  model.ReportTypeBug,
		Description: "broken chart",
	})
	require.NoError(t, err)

	updated, err := svc.UpdateStatus(context.Background(), created.ID, "resolved")
	require.NoError(t, err)
	assert.Equal(t, "resolved", updated.Status)

	_, err = svc.UpdateStatus(context.Background(), created.ID, "bogus")
	assert.True(t, apperrors.IsValidation(err))

	_, err = svc.UpdateStatus(context.Background(), 999, "resolved")
	assert.True(t, apperrors.IsNotFound(err))
}
