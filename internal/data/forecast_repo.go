package data

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ibb-transit/crowdcast/internal/core"
	"github.com/ibb-transit/crowdcast/internal/data/pgxutil"
	"github.com/ibb-transit/crowdcast/internal/domain/model"
)

// ForecastRepo provides database operations for hourly crowding forecasts.
type ForecastRepo struct {
	DB     *sql.DB
	logger *slog.Logger
}

// NewForecastRepo creates a new ForecastRepo instance.
func NewForecastRepo(db *sql.DB, logger *slog.Logger) *ForecastRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &ForecastRepo{DB: db, logger: logger}
}

const forecastColumns = `
  id,
  line_name,
  date,
  hour,
  predicted_value,
  occupancy_pct,
  crowd_level,
  max_capacity,
  trips_per_hour,
  vehicle_capacity
`

const upsertForecastSQL = `
	INSERT INTO daily_forecasts
		(line_name, date, hour, predicted_value, occupancy_pct, crowd_level,
		 max_capacity, trips_per_hour, vehicle_capacity)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (line_name, date, hour) DO UPDATE SET
		predicted_value = EXCLUDED.predicted_value,
		occupancy_pct = EXCLUDED.occupancy_pct,
		crowd_level = EXCLUDED.crowd_level,
		max_capacity = EXCLUDED.max_capacity,
		trips_per_hour = EXCLUDED.trips_per_hour,
		vehicle_capacity = EXCLUDED.vehicle_capacity`

// BulkUpsert writes forecast rows through a single pgx batch so a full run
// (every line, 24 hours, several dates) is one round-trip per batch rather
// than one per row. Returns the number of rows written.
func (r *ForecastRepo) BulkUpsert(ctx context.Context, rows []model.DailyForecast) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	written := 0
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		batch := &pgx.Batch{}
		for _, f := range rows {
			batch.Queue(upsertForecastSQL,
				f.LineName, f.Date, f.Hour, f.PredictedValue, f.OccupancyPct,
				string(f.CrowdLevel), f.MaxCapacity, f.TripsPerHour, f.VehicleCapacity)
		}

		results := conn.SendBatch(ctx, batch)
		defer func() {
			if cerr := results.Close(); cerr != nil {
				r.logger.Warn("close forecast batch failed", "error", cerr)
			}
		}()

		for i := range rows {
			if _, execErr := results.Exec(); execErr != nil {
				return fmt.Errorf("upsert forecast row %d (%s %s h%d): %w",
					i, rows[i].LineName, model.DateString(rows[i].Date), rows[i].Hour, execErr)
			}
			written++
		}
		return nil
	})
	if err != nil {
		return written, err
	}
	return written, nil
}

// ListRange returns forecasts for one line across an inclusive date range,
// ordered by date then hour.
func (r *ForecastRepo) ListRange(
	ctx context.Context,
	params core.ForecastRangeParams,
) ([]model.DailyForecast, error) {
	query := `SELECT ` + forecastColumns + `
		FROM daily_forecasts
		WHERE line_name = $1 AND date >= $2 AND date <= $3
		ORDER BY date, hour`

	rows, err := r.DB.QueryContext(ctx, query, params.LineName, params.From, params.To)
	if err != nil {
		return nil, fmt.Errorf("list forecasts for %s: %w", params.LineName, err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			r.logger.Warn("close rows failed", "error", cerr)
		}
	}()

	var out []model.DailyForecast
	for rows.Next() {
		var f model.DailyForecast
		if scanErr := rows.Scan(&f.ID, &f.LineName, &f.Date, &f.Hour, &f.PredictedValue,
			&f.OccupancyPct, &f.CrowdLevel, &f.MaxCapacity, &f.TripsPerHour, &f.VehicleCapacity); scanErr != nil {
			return nil, fmt.Errorf("scan forecast: %w", scanErr)
		}
		out = append(out, f)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate forecasts: %w", rowsErr)
	}
	return out, nil
}

// DistinctDates returns the forecast dates currently stored, newest first.
func (r *ForecastRepo) DistinctDates(ctx context.Context) ([]time.Time, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT DISTINCT date FROM daily_forecasts ORDER BY date DESC`)
	if err != nil {
		return nil, fmt.Errorf("distinct forecast dates: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			r.logger.Warn("close rows failed", "error", cerr)
		}
	}()

	var out []time.Time
	for rows.Next() {
		var d time.Time
		if scanErr := rows.Scan(&d); scanErr != nil {
			return nil, fmt.Errorf("scan date: %w", scanErr)
		}
		out = append(out, d)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate dates: %w", rowsErr)
	}
	return out, nil
}

// DeleteBefore removes forecast rows for dates strictly before cutoff.
func (r *ForecastRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM daily_forecasts WHERE date < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old forecasts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// CountForDate returns the number of forecast rows stored for one date.
func (r *ForecastRepo) CountForDate(ctx context.Context, date time.Time) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM daily_forecasts WHERE date = $1`, date).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count forecasts for %s: %w", model.DateString(date), err)
	}
	return n, nil
}

// LinesForDate returns the distinct line names with forecasts for one date.
func (r *ForecastRepo) LinesForDate(ctx context.Context, date time.Time) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT DISTINCT line_name FROM daily_forecasts WHERE date = $1 ORDER BY line_name`, date)
	if err != nil {
		return nil, fmt.Errorf("lines for date %s: %w", model.DateString(date), err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			r.logger.Warn("close rows failed", "error", cerr)
		}
	}()

	var out []string
	for rows.Next() {
		var name string
		if scanErr := rows.Scan(&name); scanErr != nil {
			return nil, fmt.Errorf("scan line name: %w", scanErr)
		}
		out = append(out, name)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate line names: %w", rowsErr)
	}
	return out, nil
}
