package model

import (
	"fmt"
	"strings"
	"time"
)

// ReportType classifies a user report.
type ReportType string

const (
	ReportTypeBug     ReportType = "bug"
	ReportTypeData    ReportType = "data"
	ReportTypeFeature ReportType = "feature"
)

// Valid returns true for a known report type.
func (t ReportType) Valid() bool {
	return t == ReportTypeBug || t == ReportTypeData || t == ReportTypeFeature
}

// UnmarshalText implements encoding.TextUnmarshaler so report types can be
// decoded straight from request bodies.
func (t *ReportType) UnmarshalText(text []byte) error {
	v := ReportType(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid report type: %q", string(text))
	}
	*t = v
	return nil
}

// UserReport is an end-user bug/data/feature report.
type UserReport struct {
	ID           int64      `json:"id"                      db:"id"`
	ReportType   ReportType `json:"report_type"             db:"report_type"`
	LineCode     *string    `json:"line_code,omitempty"     db:"line_code"`
	Description  string     `json:"description"             db:"description"`
	ContactEmail *string    `json:"contact_email,omitempty" db:"contact_email"`
	Status       string     `json:"status"                  db:"status"`
	CreatedAt    time.Time  `json:"created_at"              db:"created_at"`
}

// AdminUser is an operator account for the admin endpoints. The first user is
// provisioned at boot from ADMIN_USERNAME / ADMIN_PASSWORD.
type AdminUser struct {
	ID             int64      `json:"id"         db:"id"`
	Username       string     `json:"username"   db:"username"`
	HashedPassword string     `json:"-"          db:"hashed_password"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	LastLogin      *time.Time `json:"last_login" db:"last_login"`
}
