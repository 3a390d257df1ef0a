package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibb-transit/crowdcast/internal/domain/model"
)

// fakeEnsemble records the dense input and returns the row index as the
// prediction so ordering can be asserted.
type fakeEnsemble struct {
	vals  []float64
	nrows int
	ncols int
}

func (f *fakeEnsemble) PredictDense(vals []float64, nrows, ncols int, predictions []float64, nEstimators, nThreads int) error {
	f.vals = append([]float64(nil), vals...)
	f.nrows = nrows
	f.ncols = ncols
	for i := range predictions {
		predictions[i] = float64(i)
	}
	return nil
}

func (f *fakeEnsemble) NFeatures() int   { return NumFeatures }
func (f *fakeEnsemble) NEstimators() int { return 100 }

func sampleRow(line string) Row {
	return Row{
		LineName: line,
		Hour:     8,
		Lags:     model.LagFeatures{Lag24h: 1, Lag48h: 2, Lag168h: 3, RollMean24: 4, RollStd24: 5},
		Weather:  model.HourlyWeather{Temperature2m: 18.5, Precipitation: 0.2, WindSpeed10m: 6},
		Calendar: model.CalendarFeatures{
			DayOfWeek: 4, IsWeekend: 0, Month: 6, Season: model.SeasonSummer,
			IsSchoolTerm: 1, IsHoliday: 0, HolidayWinM1: 0, HolidayWinP1: 1,
		},
	}
}

func TestEncodeColumnLayout(t *testing.T) {
	fake := &fakeEnsemble{}
	p, err := New(fake, []string{"34", "500T", "M2"})
	require.NoError(t, err)

	preds, err := p.Predict([]Row{sampleRow("500T")})
	require.NoError(t, err)
	require.Len(t, preds, 1)

	require.Equal(t, 1, fake.nrows)
	require.Equal(t, NumFeatures, fake.ncols)
	assert.Equal(t, []float64{
		1,             // line_name code: sorted index of "500T"
		8,             // hour_of_day
		1, 2, 3, 4, 5, // lags
		18.5, 0.2, 6, // weather
		4, 0, 6, // day_of_week, is_weekend, month
		2,          // season code for Summer
		1, 0, 0, 1, // school term, holiday, holiday windows
	}, fake.vals)
}

func TestUnknownCategoriesEncodeNegative(t *testing.T) {
	fake := &fakeEnsemble{}
	p, err := New(fake, []string{"34"})
	require.NoError(t, err)

	row := sampleRow("ghost")
	row.Calendar.Season = "Monsoon"
	_, err = p.Predict([]Row{row})
	require.NoError(t, err)

	assert.Equal(t, unknownCategory, fake.vals[0])
	assert.Equal(t, unknownCategory, fake.vals[13])
}

func TestPredictPreservesRowOrder(t *testing.T) {
	fake := &fakeEnsemble{}
	p, err := New(fake, []string{"34", "M2"})
	require.NoError(t, err)

	preds, err := p.Predict([]Row{sampleRow("34"), sampleRow("M2"), sampleRow("34")})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2}, preds)
	assert.Equal(t, 3, fake.nrows)
}

func TestUnsortedVocabularyIsNormalized(t *testing.T) {
	fake := &fakeEnsemble{}
	p, err := New(fake, []string{"M2", "34"})
	require.NoError(t, err)

	_, err = p.Predict([]Row{sampleRow("34")})
	require.NoError(t, err)
	assert.Equal(t, 0.0, fake.vals[0])
}

func TestPredictEmptyBatch(t *testing.T) {
	p, err := New(&fakeEnsemble{}, nil)
	require.NoError(t, err)

	preds, err := p.Predict(nil)
	require.NoError(t, err)
	assert.Nil(t, preds)
}

type narrowEnsemble struct{ *fakeEnsemble }

func (narrowEnsemble) NFeatures() int { return 5 }

func TestFeatureWidthMismatch(t *testing.T) {
	_, err := New(narrowEnsemble{&fakeEnsemble{}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expects 5 features")
}
