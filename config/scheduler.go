package config

import "time"

// SchedulerConfig contains nightly pipeline configuration. Cron expressions
// are evaluated in Timezone; empty expressions fall back to the built-in
// nightly cadence.
type SchedulerConfig struct {
	// Timezone is the IANA zone all cron expressions and civil dates use.
	Timezone string `env:"SCHEDULER_TIMEZONE" envDefault:"Europe/Istanbul"`

	// MisfireGrace bounds how late a due entry may still fire.
	MisfireGrace time.Duration `env:"SCHEDULER_MISFIRE_GRACE" envDefault:"5m"`

	// Cron overrides for the five nightly jobs.
	BusPrefetchCron   string `env:"SCHEDULER_BUS_PREFETCH_CRON"`
	MetroPrefetchCron string `env:"SCHEDULER_METRO_PREFETCH_CRON"`
	ForecastCron      string `env:"SCHEDULER_FORECAST_CRON"`
	CleanupCron       string `env:"SCHEDULER_CLEANUP_CRON"`
	QualityCheckCron  string `env:"SCHEDULER_QUALITY_CHECK_CRON"`

	// BusPrefetchDays widens the nightly bus pass to one snapshot per
	// distinct day type within the window.
	BusPrefetchDays int `env:"BUS_PREFETCH_DAYS" envDefault:"2"`

	// ForecastDaysKept is the retention window of the cleanup job.
	ForecastDaysKept int `env:"FORECAST_DAYS_TO_KEEP" envDefault:"7"`

	// QualityMinRowsPerDate is the per-date row floor of the quality check.
	QualityMinRowsPerDate int `env:"QUALITY_MIN_ROWS_PER_DATE" envDefault:"100"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (s *SchedulerConfig) Sanitize() {
	if s.Timezone == "" {
		s.Timezone = "Europe/Istanbul"
	}
	if s.MisfireGrace <= 0 {
		s.MisfireGrace = 5 * time.Minute
	}
	if s.BusPrefetchDays < 1 {
		s.BusPrefetchDays = 1
	}
	if s.ForecastDaysKept < 1 {
		s.ForecastDaysKept = 1
	}
	if s.QualityMinRowsPerDate < 0 {
		s.QualityMinRowsPerDate = 0
	}
}
