package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ibb-transit/crowdcast/internal/core"
	"github.com/ibb-transit/crowdcast/internal/domain/model"
)

// BusCacheRepo provides database operations for cached bus schedule snapshots.
type BusCacheRepo struct {
	DB     *sql.DB
	logger *slog.Logger
}

// NewBusCacheRepo creates a new BusCacheRepo instance.
func NewBusCacheRepo(db *sql.DB, logger *slog.Logger) *BusCacheRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &BusCacheRepo{DB: db, logger: logger}
}

const busCacheColumns = `
  id,
  line_code,
  valid_for,
  day_type,
  payload,
  fetched_at,
  source_status,
  error_message
`

// Upsert writes a snapshot keyed (line_code, valid_for, day_type). A FAILED
// write never overwrites a SUCCESS row, so a later failed retry cannot clobber
// good data.
func (r *BusCacheRepo) Upsert(ctx context.Context, row *model.BusScheduleRow) error {
	payload, err := json.Marshal(row.Payload)
	if err != nil {
		return fmt.Errorf("marshal bus payload %s: %w", row.LineCode, err)
	}

	const query = `
		INSERT INTO bus_schedule_cache
			(line_code, valid_for, day_type, payload, fetched_at, source_status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (line_code, valid_for, day_type) DO UPDATE SET
			payload = EXCLUDED.payload,
			fetched_at = EXCLUDED.fetched_at,
			source_status = EXCLUDED.source_status,
			error_message = EXCLUDED.error_message
		WHERE bus_schedule_cache.source_status <> 'SUCCESS'
			OR EXCLUDED.source_status = 'SUCCESS'`

	if _, err := r.DB.ExecContext(ctx, query,
		row.LineCode, row.ValidFor, string(row.DayType), payload,
		row.FetchedAt, string(row.SourceStatus), row.ErrorMessage); err != nil {
		return fmt.Errorf("upsert bus cache %s/%s: %w", row.LineCode, model.DateString(row.ValidFor), err)
	}
	return nil
}

// Lookup returns the best available snapshot: the exact valid_for row first,
// then the newest SUCCESS row of the same day type within MaxAgeDays. A
// weekday read must never be answered with a weekend schedule, so both
// queries filter on the day type derived from the target date. Returns nil
// when nothing fits.
func (r *BusCacheRepo) Lookup(
	ctx context.Context,
	params core.BusCacheLookupParams,
) (*model.BusScheduleRow, error) {
	dayType := string(model.DayTypeFor(params.ValidFor))

	query := `SELECT ` + busCacheColumns + `
		FROM bus_schedule_cache
		WHERE line_code = $1 AND valid_for = $2 AND day_type = $3
		ORDER BY source_status = 'SUCCESS' DESC, fetched_at DESC
		LIMIT 1`

	row, err := r.scanOne(r.DB.QueryRowContext(ctx, query, params.LineCode, params.ValidFor, dayType))
	if err != nil {
		return nil, err
	}
	if row != nil && (row.SourceStatus == model.SourceStatusSuccess || params.MaxAgeDays == 0) {
		return row, nil
	}
	if params.MaxAgeDays == 0 {
		return row, nil
	}

	// Stale fallback: newest same-day-type SUCCESS snapshot inside the window.
	floor := params.ValidFor.AddDate(0, 0, -params.MaxAgeDays)
	staleQuery := `SELECT ` + busCacheColumns + `
		FROM bus_schedule_cache
		WHERE line_code = $1 AND valid_for < $2 AND valid_for >= $3
			AND day_type = $4 AND source_status = 'SUCCESS'
		ORDER BY valid_for DESC
		LIMIT 1`

	stale, err := r.scanOne(r.DB.QueryRowContext(ctx, staleQuery, params.LineCode, params.ValidFor, floor, dayType))
	if err != nil {
		return nil, err
	}
	if stale != nil {
		return stale, nil
	}
	return row, nil
}

// FailedLineCodes lists line codes whose row for valid_for is FAILED.
func (r *BusCacheRepo) FailedLineCodes(ctx context.Context, validFor time.Time) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT DISTINCT line_code FROM bus_schedule_cache
		WHERE valid_for = $1 AND source_status = 'FAILED'
		ORDER BY line_code`, validFor)
	if err != nil {
		return nil, fmt.Errorf("failed bus line codes: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			r.logger.Warn("close rows failed", "error", cerr)
		}
	}()

	var out []string
	for rows.Next() {
		var code string
		if scanErr := rows.Scan(&code); scanErr != nil {
			return nil, fmt.Errorf("scan line code: %w", scanErr)
		}
		out = append(out, code)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate line codes: %w", rowsErr)
	}
	return out, nil
}

// DeleteBefore removes snapshots with valid_for strictly before cutoff.
func (r *BusCacheRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM bus_schedule_cache WHERE valid_for < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old bus cache rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Status summarizes the cache table for the admin surface.
func (r *BusCacheRepo) Status(ctx context.Context) (*core.CacheStatusCounts, error) {
	const query = `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE source_status = 'SUCCESS'),
			COUNT(*) FILTER (WHERE source_status = 'FAILED'),
			MAX(fetched_at),
			MIN(valid_for)
		FROM bus_schedule_cache`

	var counts core.CacheStatusCounts
	err := r.DB.QueryRowContext(ctx, query).Scan(
		&counts.Total, &counts.Success, &counts.Failed, &counts.NewestFetch, &counts.OldestValid)
	if err != nil {
		return nil, fmt.Errorf("bus cache status: %w", err)
	}
	return &counts, nil
}

func (r *BusCacheRepo) scanOne(row *sql.Row) (*model.BusScheduleRow, error) {
	var out model.BusScheduleRow
	var payload []byte
	err := row.Scan(&out.ID, &out.LineCode, &out.ValidFor, &out.DayType, &payload,
		&out.FetchedAt, &out.SourceStatus, &out.ErrorMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan bus cache row: %w", err)
	}
	if err := json.Unmarshal(payload, &out.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal bus payload %s: %w", out.LineCode, err)
	}
	return &out, nil
}
