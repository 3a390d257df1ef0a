package data

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibb-transit/crowdcast/internal/domain/model"
)

func TestLineRepoUpsertLinesCommitsOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewLineRepo(db, nil)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO transport_lines`).
		WithArgs("M2", model.TransportTypeRail, "", "Yenikapi - Haciosman").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO transport_lines`).
		WithArgs("34AS", model.TransportTypeBus, "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	written, err := repo.UpsertLines(context.Background(), []model.TransportLine{
		{LineName: "M2", TransportTypeID: model.TransportTypeRail, Line: "Yenikapi - Haciosman"},
		{LineName: "34AS", TransportTypeID: model.TransportTypeBus},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, written)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLineRepoUpsertLinesRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewLineRepo(db, nil)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO transport_lines`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO transport_lines`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	written, err := repo.UpsertLines(context.Background(), []model.TransportLine{
		{LineName: "M2", TransportTypeID: model.TransportTypeRail},
		{LineName: "34AS", TransportTypeID: model.TransportTypeBus},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "34AS")
	assert.Zero(t, written)
	assert.NoError(t, mock.ExpectationsWereMet())
}
