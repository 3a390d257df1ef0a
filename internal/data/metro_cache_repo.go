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

// MetroCacheRepo provides database operations for cached metro timetable snapshots.
type MetroCacheRepo struct {
	DB     *sql.DB
	logger *slog.Logger
}

// NewMetroCacheRepo creates a new MetroCacheRepo instance.
func NewMetroCacheRepo(db *sql.DB, logger *slog.Logger) *MetroCacheRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetroCacheRepo{DB: db, logger: logger}
}

const metroCacheColumns = `
  id,
  station_id,
  direction_id,
  line_code,
  station_name,
  direction_name,
  valid_for,
  payload,
  fetched_at,
  source_status,
  error_message
`

// Upsert writes a snapshot keyed (station_id, direction_id, valid_for). As
// with the bus cache, a FAILED write never overwrites a SUCCESS row.
func (r *MetroCacheRepo) Upsert(ctx context.Context, row *model.MetroScheduleRow) error {
	payload, err := json.Marshal(row.Payload)
	if err != nil {
		return fmt.Errorf("marshal metro payload station %d: %w", row.StationID, err)
	}

	const query = `
		INSERT INTO metro_schedule_cache
			(station_id, direction_id, line_code, station_name, direction_name,
			 valid_for, payload, fetched_at, source_status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (station_id, direction_id, valid_for) DO UPDATE SET
			line_code = EXCLUDED.line_code,
			station_name = EXCLUDED.station_name,
			direction_name = EXCLUDED.direction_name,
			payload = EXCLUDED.payload,
			fetched_at = EXCLUDED.fetched_at,
			source_status = EXCLUDED.source_status,
			error_message = EXCLUDED.error_message
		WHERE metro_schedule_cache.source_status <> 'SUCCESS'
			OR EXCLUDED.source_status = 'SUCCESS'`

	if _, err := r.DB.ExecContext(ctx, query,
		row.StationID, row.DirectionID, row.LineCode, row.StationName, row.DirectionName,
		row.ValidFor, payload, row.FetchedAt, string(row.SourceStatus), row.ErrorMessage); err != nil {
		return fmt.Errorf("upsert metro cache %d/%d/%s: %w",
			row.StationID, row.DirectionID, model.DateString(row.ValidFor), err)
	}
	return nil
}

// Lookup returns the best available snapshot for one (station, direction):
// exact valid_for first, then the newest SUCCESS row within MaxAgeDays.
func (r *MetroCacheRepo) Lookup(
	ctx context.Context,
	params core.MetroCacheLookupParams,
) (*model.MetroScheduleRow, error) {
	query := `SELECT ` + metroCacheColumns + `
		FROM metro_schedule_cache
		WHERE station_id = $1 AND direction_id = $2 AND valid_for = $3
		LIMIT 1`

	row, err := r.scanOne(r.DB.QueryRowContext(ctx, query,
		params.StationID, params.DirectionID, params.ValidFor))
	if err != nil {
		return nil, err
	}
	if row != nil && row.SourceStatus == model.SourceStatusSuccess {
		return row, nil
	}
	if params.MaxAgeDays == 0 {
		return row, nil
	}

	floor := params.ValidFor.AddDate(0, 0, -params.MaxAgeDays)
	staleQuery := `SELECT ` + metroCacheColumns + `
		FROM metro_schedule_cache
		WHERE station_id = $1 AND direction_id = $2
			AND valid_for < $3 AND valid_for >= $4 AND source_status = 'SUCCESS'
		ORDER BY valid_for DESC
		LIMIT 1`

	stale, err := r.scanOne(r.DB.QueryRowContext(ctx, staleQuery,
		params.StationID, params.DirectionID, params.ValidFor, floor))
	if err != nil {
		return nil, err
	}
	if stale != nil {
		return stale, nil
	}
	return row, nil
}

// LookupLine returns the best snapshot per (station, direction) for every
// cached unit of one line. DISTINCT ON picks the newest SUCCESS row inside the
// window, mirroring the per-unit fallback of Lookup in a single query.
func (r *MetroCacheRepo) LookupLine(
	ctx context.Context,
	lineCode string,
	params core.MetroCacheLookupParams,
) ([]model.MetroScheduleRow, error) {
	floor := params.ValidFor.AddDate(0, 0, -params.MaxAgeDays)

	query := `SELECT DISTINCT ON (station_id, direction_id) ` + metroCacheColumns + `
		FROM metro_schedule_cache
		WHERE line_code = $1 AND source_status = 'SUCCESS'
			AND valid_for <= $2 AND valid_for >= $3
		ORDER BY station_id, direction_id, valid_for DESC`

	rows, err := r.DB.QueryContext(ctx, query, lineCode, params.ValidFor, floor)
	if err != nil {
		return nil, fmt.Errorf("lookup metro line %s: %w", lineCode, err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			r.logger.Warn("close rows failed", "error", cerr)
		}
	}()

	var out []model.MetroScheduleRow
	for rows.Next() {
		row, scanErr := r.scanRows(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, *row)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate metro rows: %w", rowsErr)
	}
	return out, nil
}

// FailedUnits lists (station, direction) units whose row for valid_for is FAILED.
func (r *MetroCacheRepo) FailedUnits(
	ctx context.Context,
	validFor time.Time,
) ([]model.StationDirection, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT station_id, direction_id, line_code, station_name, direction_name
		FROM metro_schedule_cache
		WHERE valid_for = $1 AND source_status = 'FAILED'
		ORDER BY station_id, direction_id`, validFor)
	if err != nil {
		return nil, fmt.Errorf("failed metro units: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			r.logger.Warn("close rows failed", "error", cerr)
		}
	}()

	var out []model.StationDirection
	for rows.Next() {
		var sd model.StationDirection
		if scanErr := rows.Scan(&sd.StationID, &sd.DirectionID, &sd.LineCode,
			&sd.StationName, &sd.DirectionName); scanErr != nil {
			return nil, fmt.Errorf("scan station direction: %w", scanErr)
		}
		out = append(out, sd)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate station directions: %w", rowsErr)
	}
	return out, nil
}

// DeleteBefore removes snapshots with valid_for strictly before cutoff.
func (r *MetroCacheRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM metro_schedule_cache WHERE valid_for < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old metro cache rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Status summarizes the cache table for the admin surface.
func (r *MetroCacheRepo) Status(ctx context.Context) (*core.CacheStatusCounts, error) {
	const query = `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE source_status = 'SUCCESS'),
			COUNT(*) FILTER (WHERE source_status = 'FAILED'),
			MAX(fetched_at),
			MIN(valid_for)
		FROM metro_schedule_cache`

	var counts core.CacheStatusCounts
	err := r.DB.QueryRowContext(ctx, query).Scan(
		&counts.Total, &counts.Success, &counts.Failed, &counts.NewestFetch, &counts.OldestValid)
	if err != nil {
		return nil, fmt.Errorf("metro cache status: %w", err)
	}
	return &counts, nil
}

func (r *MetroCacheRepo) scanOne(row *sql.Row) (*model.MetroScheduleRow, error) {
	var out model.MetroScheduleRow
	var payload []byte
	err := row.Scan(&out.ID, &out.StationID, &out.DirectionID, &out.LineCode, &out.StationName,
		&out.DirectionName, &out.ValidFor, &payload, &out.FetchedAt, &out.SourceStatus, &out.ErrorMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan metro cache row: %w", err)
	}
	if err := json.Unmarshal(payload, &out.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal metro payload station %d: %w", out.StationID, err)
	}
	return &out, nil
}

func (r *MetroCacheRepo) scanRows(rows *sql.Rows) (*model.MetroScheduleRow, error) {
	var out model.MetroScheduleRow
	var payload []byte
	err := rows.Scan(&out.ID, &out.StationID, &out.DirectionID, &out.LineCode, &out.StationName,
		&out.DirectionName, &out.ValidFor, &payload, &out.FetchedAt, &out.SourceStatus, &out.ErrorMessage)
	if err != nil {
		return nil, fmt.Errorf("scan metro cache row: %w", err)
	}
	if err := json.Unmarshal(payload, &out.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal metro payload station %d: %w", out.StationID, err)
	}
	return &out, nil
}
