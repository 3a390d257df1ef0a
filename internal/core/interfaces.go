package core

import (
	"context"
	"time"

	"github.com/ibb-transit/crowdcast/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// LineRepository defines the interface for transport line data operations.
type LineRepository interface {
	UpsertLines(ctx context.Context, lines []model.TransportLine) (int, error)
	List(ctx context.Context) ([]model.TransportLine, error)
	GetByLineName(ctx context.Context, lineName string) (*model.TransportLine, error)
}

// ForecastRangeParams groups parameters for ForecastRepository.ListRange to keep param count ≤3.
type ForecastRangeParams struct {
	LineName string
	From     time.Time
	To       time.Time
}

// ForecastRepository defines the interface for daily forecast data operations.
type ForecastRepository interface {
	// BulkUpsert inserts or replaces forecast rows keyed (line_name, date, hour).
	// Returns the number of rows written.
	BulkUpsert(ctx context.Context, rows []model.DailyForecast) (int, error)
	ListRange(ctx context.Context, params ForecastRangeParams) ([]model.DailyForecast, error)
	// DistinctDates returns the forecast dates currently present, newest first.
	DistinctDates(ctx context.Context) ([]time.Time, error)
	// DeleteBefore removes forecasts for dates strictly before cutoff.
	// Returns the number of rows deleted.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// CountForDate returns the number of forecast rows stored for one date.
	CountForDate(ctx context.Context, date time.Time) (int, error)
	// LinesForDate returns the distinct line names with forecasts for one date.
	LinesForDate(ctx context.Context, date time.Time) ([]string, error)
}

// StartJobParams groups parameters for JobExecutionRepository.Start.
type StartJobParams struct {
	JobType    string
	TargetDate *time.Time
	EndDate    *time.Time
}

// FinishJobParams groups parameters for JobExecutionRepository.Finish.
type FinishJobParams struct {
	ID               int64
	Status           model.JobStatus
	RecordsProcessed int
	ErrorMessage     *string
}

// JobExecutionRepository defines the interface for the job execution audit trail.
type JobExecutionRepository interface {
	Start(ctx context.Context, params StartJobParams) (*model.JobExecution, error)
	Finish(ctx context.Context, params FinishJobParams) error
	// FailStaleRunning marks RUNNING executions older than maxAge as FAILED.
	// Called once at startup so crashed runs do not linger forever.
	FailStaleRunning(ctx context.Context, maxAge time.Duration) (int64, error)
	ListRecent(ctx context.Context, jobType string, limit int) ([]model.JobExecution, error)
	// LastSuccess returns the most recent SUCCESS execution for a job type, or nil.
	LastSuccess(ctx context.Context, jobType string) (*model.JobExecution, error)
}

// BusCacheLookupParams groups parameters for bus cache lookups.
type BusCacheLookupParams struct {
	LineCode string
	ValidFor time.Time
	// MaxAgeDays bounds how far back a stale fallback may reach. Zero means
	// exact valid_for only.
	MaxAgeDays int
}

// CacheStatusCounts summarizes one cache table for the admin surface.
type CacheStatusCounts struct {
	Total       int        `json:"total"`
	Success     int        `json:"success"`
	Failed      int        `json:"failed"`
	NewestFetch *time.Time `json:"newest_fetch,omitempty"`
	OldestValid *time.Time `json:"oldest_valid,omitempty"`
}

// BusCacheRepository defines the interface for cached bus schedule snapshots.
type BusCacheRepository interface {
	// Upsert writes a snapshot keyed (line_code, valid_for, day_type). A
	// FAILED write never overwrites an existing SUCCESS row.
	Upsert(ctx context.Context, row *model.BusScheduleRow) error
	// Lookup returns the best available snapshot: exact valid_for first,
	// then the newest SUCCESS row within MaxAgeDays.
	Lookup(ctx context.Context, params BusCacheLookupParams) (*model.BusScheduleRow, error)
	// FailedLineCodes lists line codes whose newest row for valid_for is FAILED.
	FailedLineCodes(ctx context.Context, validFor time.Time) ([]string, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Status(ctx context.Context) (*CacheStatusCounts, error)
}

// MetroCacheLookupParams groups parameters for metro cache lookups.
type MetroCacheLookupParams struct {
	StationID   int
	DirectionID int
	ValidFor    time.Time
	MaxAgeDays  int
}

// MetroCacheRepository defines the interface for cached metro timetable snapshots.
type MetroCacheRepository interface {
	Upsert(ctx context.Context, row *model.MetroScheduleRow) error
	Lookup(ctx context.Context, params MetroCacheLookupParams) (*model.MetroScheduleRow, error)
	// LookupLine returns the best snapshot per (station, direction) for every
	// cached unit of one line, applying the same per-unit fallback as Lookup.
	LookupLine(ctx context.Context, lineCode string, params MetroCacheLookupParams) ([]model.MetroScheduleRow, error)
	// FailedUnits lists (station, direction) units whose newest row for
	// valid_for is FAILED.
	FailedUnits(ctx context.Context, validFor time.Time) ([]model.StationDirection, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Status(ctx context.Context) (*CacheStatusCounts, error)
}

// CreateReportParams groups parameters for ReportRepository.Create.
type CreateReportParams struct {
	ReportType   model.ReportType
	LineCode     *string
	Description  string
	ContactEmail *string
}

// ReportListOptions holds filters for listing user reports.
type ReportListOptions struct {
	Status string
	Limit  int
	Offset int
}

// ReportRepository defines the interface for user report data operations.
type ReportRepository interface {
	Create(ctx context.Context, params CreateReportParams) (*model.UserReport, error)
	List(ctx context.Context, opts ReportListOptions) ([]model.UserReport, error)
	UpdateStatus(ctx context.Context, id int64, status string) (*model.UserReport, error)
}

// AdminUserRepository defines the interface for operator account data operations.
type AdminUserRepository interface {
	Create(ctx context.Context, username, hashedPassword string) (*model.AdminUser, error)
	GetByUsername(ctx context.Context, username string) (*model.AdminUser, error)
	Count(ctx context.Context) (int, error)
	TouchLastLogin(ctx context.Context, id int64) error
}

// KeyValueCache is a TTL'd byte cache. Get returns (nil, nil) on a miss.
type KeyValueCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
}
