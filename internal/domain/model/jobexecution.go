package model

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a batch job run.
type JobStatus string

const (
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// Job type names recorded on the audit trail. These double as scheduler job
// ids for the cron entries.
const (
	JobTypeDailyForecast       = "daily_forecast"
	JobTypeCleanupForecasts    = "cleanup_old_forecasts"
	JobTypeDataQualityCheck    = "data_quality_check"
	JobTypeBusSchedulePrefetch = "bus_schedule_prefetch"
	JobTypeMetroPrefetch       = "metro_schedule_prefetch"
)

// Retry job ids installed dynamically while a pending map is non-empty.
const (
	JobIDBusScheduleRetry   = "bus_schedule_retry"
	JobIDMetroScheduleRetry = "metro_schedule_retry"
)

// ErrorMessageLimit caps persisted error diagnostics.
const ErrorMessageLimit = 1000

// JobExecution is one row of the job audit trail. A run inserts exactly one
// RUNNING row and transitions it to a terminal state on completion or failure.
type JobExecution struct {
	ID               int64           `json:"id"                 db:"id"`
	JobType          string          `json:"job_type"           db:"job_type"`
	TargetDate       *time.Time      `json:"target_date"        db:"target_date"`
	EndDate          *time.Time      `json:"end_date"           db:"end_date"`
	Status           JobStatus       `json:"status"             db:"status"`
	StartTime        time.Time       `json:"start_time"         db:"start_time"`
	EndTime          *time.Time      `json:"end_time"           db:"end_time"`
	RecordsProcessed int             `json:"records_processed"  db:"records_processed"`
	ErrorMessage     *string         `json:"error_message"      db:"error_message"`
	Metadata         json.RawMessage `json:"job_metadata"       db:"job_metadata"`
}

// TruncateError clips a diagnostic to the persisted error message limit.
func TruncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > ErrorMessageLimit {
		msg = msg[:ErrorMessageLimit]
	}
	return msg
}
