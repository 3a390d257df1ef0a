// Package inference wraps the pretrained LightGBM crowding model and the
// feature encoding it was trained with.
package inference

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/dmitryikh/leaves"

	"github.com/ibb-transit/crowdcast/internal/domain/model"
)

// NumFeatures is the width of one model input row.
const NumFeatures = 18

// ColumnOrder fixes the feature layout the model was trained with. line_name
// and season are categorical and enter as integer category codes.
var ColumnOrder = [NumFeatures]string{
	"line_name", "hour_of_day", "lag_24h", "lag_48h", "lag_168h",
	"roll_mean_24h", "roll_std_24h", "temperature_2m", "precipitation",
	"wind_speed_10m", "day_of_week", "is_weekend", "month", "season",
	"is_school_term", "is_holiday", "holiday_win_m1", "holiday_win_p1",
}

// unknownCategory is fed to the model for values outside the training
// vocabulary; LightGBM routes negatives through the default branch.
const unknownCategory = -1.0

// seasonCodes are the category codes of the sorted season labels the model
// was trained on.
var seasonCodes = map[model.Season]float64{
	model.SeasonFall:   0,
	model.SeasonSpring: 1,
	model.SeasonSummer: 2,
	model.SeasonWinter: 3,
}

// Row is one model input before encoding.
type Row struct {
	LineName string
	Hour     int
	Lags     model.LagFeatures
	Weather  model.HourlyWeather
	Calendar model.CalendarFeatures
}

// ensemble is the slice of leaves.Ensemble the predictor depends on.
type ensemble interface {
	PredictDense(vals []float64, nrows, ncols int, predictions []float64, nEstimators, nThreads int) error
	NFeatures() int
	NEstimators() int
}

// Predictor encodes feature rows and runs the gradient-boosted-tree model in
// a single batched call.
type Predictor struct {
	model     ensemble
	lineCodes map[string]float64
}

// New builds a Predictor. lineNames must be the training vocabulary in sorted
// order so category codes line up with the trained model.
func New(m ensemble, lineNames []string) (*Predictor, error) {
	if m == nil {
		return nil, fmt.Errorf("model is not loaded")
	}
	if n := m.NFeatures(); n != NumFeatures {
		return nil, fmt.Errorf("model expects %d features, encoder produces %d", n, NumFeatures)
	}

	if !sort.StringsAreSorted(lineNames) {
		lineNames = append([]string(nil), lineNames...)
		sort.Strings(lineNames)
	}
	codes := make(map[string]float64, len(lineNames))
	for i, name := range lineNames {
		codes[name] = float64(i)
	}
	return &Predictor{model: m, lineCodes: codes}, nil
}

// Load reads a LightGBM text model artifact and builds a Predictor around it.
func Load(path string, lineNames []string, logger *slog.Logger) (*Predictor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m, err := leaves.LGEnsembleFromFile(path, true)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}
	p, err := New(m, lineNames)
	if err != nil {
		return nil, err
	}
	logger.Info("forecast model loaded",
		"path", path, "estimators", m.NEstimators(), "features", m.NFeatures(), "lines", len(lineNames))
	return p, nil
}

// Encode flattens one row into the model's feature layout.
func (p *Predictor) Encode(row Row, dst []float64) {
	lineCode, ok := p.lineCodes[row.LineName]
	if !ok {
		lineCode = unknownCategory
	}
	seasonCode, ok := seasonCodes[row.Calendar.Season]
	if !ok {
		seasonCode = unknownCategory
	}

	dst[0] = lineCode
	dst[1] = float64(row.Hour)
	dst[2] = row.Lags.Lag24h
	dst[3] = row.Lags.Lag48h
	dst[4] = row.Lags.Lag168h
	dst[5] = row.Lags.RollMean24
	dst[6] = row.Lags.RollStd24
	dst[7] = row.Weather.Temperature2m
	dst[8] = row.Weather.Precipitation
	dst[9] = row.Weather.WindSpeed10m
	dst[10] = float64(row.Calendar.DayOfWeek)
	dst[11] = float64(row.Calendar.IsWeekend)
	dst[12] = float64(row.Calendar.Month)
	dst[13] = seasonCode
	dst[14] = float64(row.Calendar.IsSchoolTerm)
	dst[15] = float64(row.Calendar.IsHoliday)
	dst[16] = float64(row.Calendar.HolidayWinM1)
	dst[17] = float64(row.Calendar.HolidayWinP1)
}

// Predict runs the model over all rows in one dense call, preserving order.
// Predictions are raw model outputs; callers clamp and bucket them.
func (p *Predictor) Predict(rows []Row) ([]float64, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	vals := make([]float64, len(rows)*NumFeatures)
	for i, row := range rows {
		p.Encode(row, vals[i*NumFeatures:(i+1)*NumFeatures])
	}

	predictions := make([]float64, len(rows))
	if err := p.model.PredictDense(vals, len(rows), NumFeatures, predictions, 0, 1); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}
	return predictions, nil
}
