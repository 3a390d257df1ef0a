package data

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ibb-transit/crowdcast/internal/errors"
)

func TestAdminUserRepoCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewAdminUserRepo(db, nil)
	created := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO admin_users`).
		WithArgs("admin", "bcrypt-hash").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "username", "hashed_password", "created_at", "last_login",
		}).AddRow(int64(1), "admin", "bcrypt-hash", created, nil))

	user, err := repo.Create(context.Background(), "admin", "bcrypt-hash")
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, "admin", user.Username)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdminUserRepoCreateDuplicateUsername(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewAdminUserRepo(db, nil)

	mock.ExpectQuery(`INSERT INTO admin_users`).
		WithArgs("admin", "bcrypt-hash").
		WillReturnError(&pgconn.PgError{
			Code:           pgerrcode.UniqueViolation,
			TableName:      "admin_users",
			ConstraintName: "admin_users_username_key",
			Detail:         "Key (username)=(admin) already exists.",
		})

	user, err := repo.Create(context.Background(), "admin", "bcrypt-hash")
	require.Error(t, err)
	assert.Nil(t, user)
	assert.True(t, apperrors.IsConflict(err))
	assert.Equal(t, "username", apperrors.GetField(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
