package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ibb-transit/crowdcast/internal/data/pgxutil"
	"github.com/ibb-transit/crowdcast/internal/domain/model"
)

// LineRepo provides database operations for the transport line registry.
type LineRepo struct {
	DB     *sql.DB
	logger *slog.Logger
}

// NewLineRepo creates a new LineRepo instance.
func NewLineRepo(db *sql.DB, logger *slog.Logger) *LineRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &LineRepo{DB: db, logger: logger}
}

const lineColumns = `
  line_name,
  transport_type_id,
  road_type,
  line
`

// UpsertLines inserts or refreshes line registry rows keyed by line_name.
// The whole refresh runs in one transaction so a mid-pass failure cannot
// leave a half-updated registry. Returns the number of rows written.
func (r *LineRepo) UpsertLines(ctx context.Context, lines []model.TransportLine) (int, error) {
	if len(lines) == 0 {
		return 0, nil
	}

	const query = `
		INSERT INTO transport_lines (line_name, transport_type_id, road_type, line)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (line_name) DO UPDATE SET
			transport_type_id = EXCLUDED.transport_type_id,
			road_type = EXCLUDED.road_type,
			line = EXCLUDED.line`

	written := 0
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{Fn: func(tx *sql.Tx) error {
		for _, ln := range lines {
			if _, execErr := tx.ExecContext(ctx, query,
				ln.LineName, ln.TransportTypeID, ln.RoadType, ln.Line); execErr != nil {
				return fmt.Errorf("upsert line %s: %w", ln.LineName, execErr)
			}
			written++
		}
		return nil
	}})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// List returns every registered line ordered by name.
func (r *LineRepo) List(ctx context.Context) ([]model.TransportLine, error) {
	query := `SELECT ` + lineColumns + ` FROM transport_lines ORDER BY line_name`

	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list lines: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			r.logger.Warn("close rows failed", "error", cerr)
		}
	}()

	var out []model.TransportLine
	for rows.Next() {
		var ln model.TransportLine
		if scanErr := rows.Scan(&ln.LineName, &ln.TransportTypeID, &ln.RoadType, &ln.Line); scanErr != nil {
			return nil, fmt.Errorf("scan line: %w", scanErr)
		}
		out = append(out, ln)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate lines: %w", rowsErr)
	}
	return out, nil
}

// GetByLineName returns one line, or nil when unknown.
func (r *LineRepo) GetByLineName(ctx context.Context, lineName string) (*model.TransportLine, error) {
	query := `SELECT ` + lineColumns + ` FROM transport_lines WHERE line_name = $1`

	var ln model.TransportLine
	err := r.DB.QueryRowContext(ctx, query, lineName).
		Scan(&ln.LineName, &ln.TransportTypeID, &ln.RoadType, &ln.Line)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get line %s: %w", lineName, err)
	}
	return &ln, nil
}
