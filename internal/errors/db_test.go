package errors

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapDBError_Nil(t *testing.T) {
	if err := MapDBError(nil); err != nil {
		t.Errorf("MapDBError(nil) = %v, want nil", err)
	}
}

func TestMapDBError_ContextErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode ErrorCode
	}{
		{name: "deadline exceeded", err: context.DeadlineExceeded, wantCode: ErrCodeTimeout},
		{name: "canceled", err: context.Canceled, wantCode: ErrCodeCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(MapDBError(tt.err)); got != tt.wantCode {
				t.Errorf("MapDBError() code = %v, want %v", got, tt.wantCode)
			}
		})
	}
}

func TestMapDBError_NoRows(t *testing.T) {
	if err := MapDBError(pgx.ErrNoRows); !IsNotFound(err) {
		t.Errorf("MapDBError(pgx.ErrNoRows) should be NotFound, got %v", GetCode(err))
	}
}

func TestMapDBError_UniqueViolation(t *testing.T) {
	tests := []struct {
		name        string
		pgErr       *pgconn.PgError
		wantField   string
		wantMessage string
	}{
		{
			name: "duplicate admin username from detail",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.UniqueViolation,
				TableName:      "admin_users",
				ConstraintName: "admin_users_username_key",
				Detail:         "Key (username)=(admin) already exists.",
			},
			wantField:   "username",
			wantMessage: "admin user already exists",
		},
		{
			name: "duplicate forecast cell from column metadata",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.UniqueViolation,
				TableName:      "daily_forecasts",
				ColumnName:     "line_name",
				ConstraintName: "daily_forecasts_line_date_hour_key",
			},
			wantField:   "line_name",
			wantMessage: "forecast already exists",
		},
		{
			name: "no metadata falls back to generic noun",
			pgErr: &pgconn.PgError{
				Code: pgerrcode.UniqueViolation,
			},
			wantField:   "",
			wantMessage: "record already exists",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.pgErr)
			if !IsConflict(err) {
				t.Fatalf("MapDBError() code = %v, want conflict", GetCode(err))
			}
			if got := GetField(err); got != tt.wantField {
				t.Errorf("field = %q, want %q", got, tt.wantField)
			}
			var appErr *AppError
			if !errors.As(err, &appErr) {
				t.Fatal("MapDBError() did not return an AppError")
			}
			if !strings.Contains(appErr.Message, tt.wantMessage) {
				t.Errorf("message = %q, want it to contain %q", appErr.Message, tt.wantMessage)
			}
		})
	}
}

func TestMapDBError_ForeignKeyViolation(t *testing.T) {
	tests := []struct {
		name        string
		pgErr       *pgconn.PgError
		wantMessage string
	}{
		{
			name: "missing parent line",
			pgErr: &pgconn.PgError{
				Code:      pgerrcode.ForeignKeyViolation,
				TableName: "daily_forecasts",
				Detail:    `Key (line_name)=(M99) is not present in table "transport_lines".`,
			},
			wantMessage: "referenced transport line does not exist",
		},
		{
			name: "line still referenced by forecasts",
			pgErr: &pgconn.PgError{
				Code:      pgerrcode.ForeignKeyViolation,
				TableName: "transport_lines",
				Detail:    `Key (line_name)=(M2) is still referenced from table "daily_forecasts".`,
			},
			wantMessage: "transport line is still referenced by forecast rows",
		},
		{
			name: "no detail falls back to the table noun",
			pgErr: &pgconn.PgError{
				Code:      pgerrcode.ForeignKeyViolation,
				TableName: "transport_lines",
			},
			wantMessage: "transport line is referenced by other records",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.pgErr)
			if !IsForeignKey(err) {
				t.Fatalf("MapDBError() code = %v, want foreign_key", GetCode(err))
			}
			var appErr *AppError
			if !errors.As(err, &appErr) {
				t.Fatal("MapDBError() did not return an AppError")
			}
			if !strings.Contains(appErr.Message, tt.wantMessage) {
				t.Errorf("message = %q, want it to contain %q", appErr.Message, tt.wantMessage)
			}
		})
	}
}

func TestMapDBError_CheckAndNotNullViolations(t *testing.T) {
	tests := []struct {
		name      string
		pgErr     *pgconn.PgError
		wantField string
	}{
		{
			name: "report type check constraint",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.CheckViolation,
				TableName:      "user_reports",
				ConstraintName: "user_reports_report_type_check",
			},
			wantField: "",
		},
		{
			name: "forecast hour range check",
			pgErr: &pgconn.PgError{
				Code:       pgerrcode.CheckViolation,
				TableName:  "daily_forecasts",
				ColumnName: "hour",
			},
			wantField: "hour",
		},
		{
			name: "missing report description",
			pgErr: &pgconn.PgError{
				Code:       pgerrcode.NotNullViolation,
				TableName:  "user_reports",
				ColumnName: "description",
			},
			wantField: "description",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.pgErr)
			if !IsValidation(err) {
				t.Fatalf("MapDBError() code = %v, want validation", GetCode(err))
			}
			if got := GetField(err); got != tt.wantField {
				t.Errorf("field = %q, want %q", got, tt.wantField)
			}
		})
	}
}

func TestMapDBError_UnhandledPgError(t *testing.T) {
	err := MapDBError(&pgconn.PgError{Code: pgerrcode.SerializationFailure})
	if !IsInternal(err) {
		t.Errorf("unhandled pg error code = %v, want internal", GetCode(err))
	}
}

func TestMapDBError_PassThrough(t *testing.T) {
	plain := errors.New("connection refused")
	if got := MapDBError(plain); !errors.Is(got, plain) {
		t.Errorf("MapDBError() = %v, want the original error", got)
	}
	if GetCode(MapDBError(plain)) != "" {
		t.Error("non-database errors must not be classified")
	}
}
