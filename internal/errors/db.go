package errors

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Patterns for pulling structure out of PgError.Detail.
var (
	// "Key (username)=(admin) already exists."
	reKeyField = regexp.MustCompile(`Key \(([^)]+)\)=`)
	// "... is not present in table "transport_lines"."
	reNotPresent = regexp.MustCompile(`is not present in table "?([^".]+)"?`)
	// "... is still referenced from table "daily_forecasts"."
	reReferenced = regexp.MustCompile(`is still referenced from table "?([^".]+)"?`)
)

// tableNouns maps schema tables to the nouns used in operator-facing messages.
var tableNouns = map[string]string{
	"transport_lines":      "transport line",
	"daily_forecasts":      "forecast",
	"job_executions":       "job execution",
	"bus_schedule_cache":   "bus schedule snapshot",
	"metro_schedule_cache": "metro timetable snapshot",
	"user_reports":         "report",
	"admin_users":          "admin user",
}

// MapDBError classifies a database error into an AppError: pgx.ErrNoRows
// becomes NotFound, context expiry becomes Timeout/Canceled, and Postgres
// constraint violations map by pgerrcode. Anything unrecognized passes
// through unchanged so callers can still wrap it.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(err, ErrCodeTimeout, "database operation timed out")
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(err, ErrCodeCanceled, "database operation canceled")
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return Wrap(err, ErrCodeNotFound, "record not found")
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return uniqueViolation(pgErr)
	case pgerrcode.ForeignKeyViolation:
		return foreignKeyViolation(pgErr)
	case pgerrcode.CheckViolation, pgerrcode.NotNullViolation:
		return &AppError{
			Code:    ErrCodeValidation,
			Message: "invalid value for " + nounFor(pgErr.TableName),
			Field:   pgErr.ColumnName,
			Cause:   pgErr,
		}
	default:
		return Wrap(pgErr, ErrCodeInternal, "database error")
	}
}

func uniqueViolation(pgErr *pgconn.PgError) error {
	field := pgErr.ColumnName
	if field == "" {
		if m := reKeyField.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
			field = m[1]
		}
	}
	return &AppError{
		Code:    ErrCodeConflict,
		Message: nounFor(pgErr.TableName) + " already exists",
		Field:   field,
		Cause:   pgErr,
	}
}

func foreignKeyViolation(pgErr *pgconn.PgError) error {
	// Distinguish a missing parent ("is not present in table X") from a
	// referenced parent blocking a delete ("is still referenced from table X").
	if m := reNotPresent.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return &AppError{
			Code:    ErrCodeForeignKey,
			Message: "referenced " + nounFor(m[1]) + " does not exist",
			Cause:   pgErr,
		}
	}
	if m := reReferenced.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return &AppError{
			Code:    ErrCodeForeignKey,
			Message: nounFor(pgErr.TableName) + " is still referenced by " + nounFor(m[1]) + " rows",
			Cause:   pgErr,
		}
	}
	return &AppError{
		Code:    ErrCodeForeignKey,
		Message: nounFor(pgErr.TableName) + " is referenced by other records",
		Cause:   pgErr,
	}
}

// nounFor maps a table name onto the noun used in messages, falling back to
// the table name with underscores spaced out.
func nounFor(table string) string {
	table = strings.ToLower(strings.TrimSpace(table))
	if noun, ok := tableNouns[table]; ok {
		return noun
	}
	if table == "" {
		return "record"
	}
	return strings.ReplaceAll(table, "_", " ")
}
