package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ibb-transit/crowdcast/internal/domain/model"
	apperrors "github.com/ibb-transit/crowdcast/internal/errors"
)

// ErrAdminUserNotFound is returned when an operator account is missing.
var ErrAdminUserNotFound = errors.New("admin user not found")

// AdminUserRepo provides database operations for operator accounts.
type AdminUserRepo struct {
	DB     *sql.DB
	logger *slog.Logger
}

// NewAdminUserRepo creates a new AdminUserRepo instance.
func NewAdminUserRepo(db *sql.DB, logger *slog.Logger) *AdminUserRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminUserRepo{DB: db, logger: logger}
}

// Create inserts an operator account. A duplicate username surfaces as a
// Conflict AppError.
func (r *AdminUserRepo) Create(
	ctx context.Context,
	username, hashedPassword string,
) (*model.AdminUser, error) {
	const query = `
		INSERT INTO admin_users (username, hashed_password)
		VALUES ($1, $2)
		RETURNING id, username, hashed_password, created_at, last_login`

	var user model.AdminUser
	err := r.DB.QueryRowContext(ctx, query, username, hashedPassword).
		Scan(&user.ID, &user.Username, &user.HashedPassword, &user.CreatedAt, &user.LastLogin)
	if err != nil {
		return nil, fmt.Errorf("create admin user %s: %w", username, apperrors.MapDBError(err))
	}
	return &user, nil
}

// GetByUsername returns one operator account, or ErrAdminUserNotFound.
func (r *AdminUserRepo) GetByUsername(ctx context.Context, username string) (*model.AdminUser, error) {
	const query = `
		SELECT id, username, hashed_password, created_at, last_login
		FROM admin_users WHERE username = $1`

	var user model.AdminUser
	err := r.DB.QueryRowContext(ctx, query, username).
		Scan(&user.ID, &user.Username, &user.HashedPassword, &user.CreatedAt, &user.LastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAdminUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get admin user %s: %w", username, err)
	}
	return &user, nil
}

// Count returns the number of operator accounts.
func (r *AdminUserRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM admin_users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count admin users: %w", err)
	}
	return n, nil
}

// TouchLastLogin stamps a successful login.
func (r *AdminUserRepo) TouchLastLogin(ctx context.Context, id int64) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE admin_users SET last_login = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch last login %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrAdminUserNotFound
	}
	return nil
}
