package model

// Season labels as the crowding model was trained on them.
type Season string

const (
	SeasonWinter Season = "Winter"
	SeasonSpring Season = "Spring"
	SeasonSummer Season = "Summer"
	SeasonFall   Season = "Fall"
)

// SeasonFromIndex maps the calendar dimension's 1..4 encoding onto labels.
func SeasonFromIndex(i int) Season {
	switch i {
	case 1:
		return SeasonWinter
	case 2:
		return SeasonSpring
	case 3:
		return SeasonSummer
	case 4:
		return SeasonFall
	}
	return ""
}

// CalendarFeatures is the per-date slice of the calendar dimension consumed
// by the forecast model.
type CalendarFeatures struct {
	DayOfWeek    int    `json:"day_of_week"`
	IsWeekend    int    `json:"is_weekend"`
	Month        int    `json:"month"`
	Season       Season `json:"season"`
	IsSchoolTerm int    `json:"is_school_term"`
	IsHoliday    int    `json:"is_holiday"`
	HolidayWinM1 int    `json:"holiday_win_m1"`
	HolidayWinP1 int    `json:"holiday_win_p1"`
}

// HourlyWeather is the weather slice of one model input row.
type HourlyWeather struct {
	Temperature2m float64 `json:"temperature_2m"`
	Precipitation float64 `json:"precipitation"`
	WindSpeed10m  float64 `json:"wind_speed_10m"`
}

// FallbackWeather is applied to all 24 hours when the upstream is
// unreachable after retries.
var FallbackWeather = HourlyWeather{Temperature2m: 15.0, Precipitation: 0.0, WindSpeed10m: 5.0}

// LagFeatures are the five historical lag/rolling features resolved by the
// feature store's tiered fallback.
type LagFeatures struct {
	Lag24h     float64 `json:"lag_24h"`
	Lag48h     float64 `json:"lag_48h"`
	Lag168h    float64 `json:"lag_168h"`
	RollMean24 float64 `json:"roll_mean_24h"`
	RollStd24  float64 `json:"roll_std_24h"`
}
