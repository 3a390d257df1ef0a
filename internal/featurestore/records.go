package featurestore

import (
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"
)

// HistoricalRecord is one row of the precomputed historical-features table.
// Lag columns are pointers so missing values survive the columnar round trip
// and can be rejected by the tier checks.
type HistoricalRecord struct {
	LineName   string     `parquet:"line_name"`
	Datetime   time.Time  `parquet:"datetime,timestamp"`
	HourOfDay  int32      `parquet:"hour_of_day"`
	Y          float64    `parquet:"y"`
	Lag24h     *float64   `parquet:"lag_24h,optional"`
	Lag48h     *float64   `parquet:"lag_48h,optional"`
	Lag168h    *float64   `parquet:"lag_168h,optional"`
	RollMean24 *float64   `parquet:"roll_mean_24h,optional"`
	RollStd24  *float64   `parquet:"roll_std_24h,optional"`
}

// Complete reports whether all five lag/rolling values are present.
func (r HistoricalRecord) Complete() bool {
	return r.Lag24h != nil && r.Lag48h != nil && r.Lag168h != nil &&
		r.RollMean24 != nil && r.RollStd24 != nil
}

// CalendarRecord is one row of the calendar dimension file.
type CalendarRecord struct {
	Date         time.Time `parquet:"date,timestamp"`
	DayOfWeek    int32     `parquet:"day_of_week"`
	IsWeekend    int32     `parquet:"is_weekend"`
	Month        int32     `parquet:"month"`
	Season       string    `parquet:"season"`
	IsSchoolTerm int32     `parquet:"is_school_term"`
	IsHoliday    int32     `parquet:"is_holiday"`
	HolidayWinM1 int32     `parquet:"holiday_win_m1"`
	HolidayWinP1 int32     `parquet:"holiday_win_p1"`
}

// ReadHistoricalFile loads the historical-features columnar file.
func ReadHistoricalFile(path string) ([]HistoricalRecord, error) {
	rows, err := parquet.ReadFile[HistoricalRecord](path)
	if err != nil {
		return nil, fmt.Errorf("read historical features %s: %w", path, err)
	}
	return rows, nil
}

// ReadCalendarFile loads the calendar dimension columnar file.
func ReadCalendarFile(path string) ([]CalendarRecord, error) {
	rows, err := parquet.ReadFile[CalendarRecord](path)
	if err != nil {
		return nil, fmt.Errorf("read calendar dim %s: %w", path, err)
	}
	return rows, nil
}
