package data

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibb-transit/crowdcast/internal/core"
	"github.com/ibb-transit/crowdcast/internal/domain/model"
	apperrors "github.com/ibb-transit/crowdcast/internal/errors"
)

func TestReportRepoCreateCheckViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewReportRepo(db, nil)

	// The report_type check constraint is the database backstop behind the
	// service-level validation; it must classify as a Validation error.
	mock.ExpectQuery(`INSERT INTO user_reports`).
		WillReturnError(&pgconn.PgError{
			Code:           pgerrcode.CheckViolation,
			TableName:      "user_reports",
			ConstraintName: "user_reports_report_type_check",
		})

	report, err := repo.Create(context.Background(), core.CreateReportParams{
		ReportType:  model.ReportType("spam"),
		Description: "not a valid report type",
	})
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, apperrors.IsValidation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
