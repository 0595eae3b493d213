package store

import (
	"context"
	"strings"
	"time"
)

// UserRepository backs the users table.
type UserRepository interface {
	// CreateUser inserts u. A taken username yields ErrConflict.
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	SetUserBanned(ctx context.Context, id string, banned bool) error
}

// SessionRepository backs the user_sessions table.
type SessionRepository interface {
	InsertSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, tokenHash string) (*Session, error)
	// DeleteSession is idempotent: a missing row is not an error.
	DeleteSession(ctx context.Context, tokenHash string) error
	DeleteUserSessions(ctx context.Context, userID string) (int, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)
}

// AuditFilter narrows ListAuditEvents. Zero fields do not filter. A zero
// Limit returns every match.
type AuditFilter struct {
	UserID       string
	EventType    string
	Category     Category
	Severity     Severity
	MinRiskScore int
	From         time.Time
	To           time.Time
	Limit        int
	Offset       int
}

// Match reports whether e satisfies the filter's predicates.
func (f AuditFilter) Match(e *AuditEvent) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if e.RiskScore < f.MinRiskScore {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

// StatsQuery selects the window aggregated by AuditStats.
type StatsQuery struct {
	From              time.Time
	To                time.Time
	HighRiskThreshold int
	TopN              int
}

// EventTypeCount is one row of the top event types.
type EventTypeCount struct {
	EventType string `json:"event_type" yaml:"event_type"`
	Count     int    `json:"count" yaml:"count"`
}

// AuditStats aggregates audit events over a window.
type AuditStats struct {
	TotalEvents   int              `json:"total_events" yaml:"total_events"`
	HighRiskCount int              `json:"high_risk_count" yaml:"high_risk_count"`
	FailedLogins  int              `json:"failed_logins" yaml:"failed_logins"`
	AdminActions  int              `json:"admin_actions" yaml:"admin_actions"`
	TopEventTypes []EventTypeCount `json:"top_event_types" yaml:"top_event_types"`
	RiskBuckets   map[string]int   `json:"risk_distribution" yaml:"risk_distribution"`
}

// Risk distribution bucket labels.
const (
	BucketMinimal  = "0-19"
	BucketLow      = "20-39"
	BucketMedium   = "40-69"
	BucketHigh     = "70-89"
	BucketCritical = "90-100"
)

// RiskBuckets lists bucket labels in ascending order.
var RiskBuckets = []string{BucketMinimal, BucketLow, BucketMedium, BucketHigh, BucketCritical}

// RiskBucket maps a score to its distribution label.
func RiskBucket(score int) string {
	switch {
	case score >= 90:
		return BucketCritical
	case score >= 70:
		return BucketHigh
	case score >= 40:
		return BucketMedium
	case score >= 20:
		return BucketLow
	default:
		return BucketMinimal
	}
}

// FailedLoginMarkers are the event type fragments counted as failed logins.
var FailedLoginMarkers = []string{"failed_login", "login_failed", "unauthorized"}

// IsFailedLogin reports whether e counts as a failed login in AuditStats.
// Other unsuccessful events, such as rejected sessions, do not count.
func IsFailedLogin(e *AuditEvent) bool {
	t := strings.ToLower(e.EventType)
	for _, m := range FailedLoginMarkers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return false
}

// AuditRepository backs the append-only security_audit_logs table.
type AuditRepository interface {
	InsertAuditEvent(ctx context.Context, e *AuditEvent) error
	// ListAuditEvents returns matches newest first and the total match count
	// ignoring Limit and Offset.
	ListAuditEvents(ctx context.Context, f AuditFilter) ([]AuditEvent, int, error)
	AuditStats(ctx context.Context, q StatsQuery) (*AuditStats, error)
}

// IncidentFilter narrows ListIncidents.
type IncidentFilter struct {
	Status   IncidentStatus
	Severity Severity
	From     time.Time
	Limit    int
	Offset   int
}

// IncidentRepository backs security_incidents.
type IncidentRepository interface {
	InsertIncident(ctx context.Context, inc *SecurityIncident) error
	ListIncidents(ctx context.Context, f IncidentFilter) ([]SecurityIncident, int, error)
}

// MFARepository backs user_mfa_settings.
type MFARepository interface {
	GetMFASettings(ctx context.Context, userID string) (*MFASettings, error)
	// UpsertMFASettings inserts or replaces the row for m.UserID.
	UpsertMFASettings(ctx context.Context, m *MFASettings) error
	// RemoveBackupCode atomically deletes code from the user's list and
	// reports whether it was present. Two concurrent calls for the same code
	// cannot both return true.
	RemoveBackupCode(ctx context.Context, userID, code string, usedAt time.Time) (bool, error)
	// The targeted updates below change only the columns they name, so they
	// never write back a backup-code list read earlier. A missing row yields
	// ErrNotFound.
	EnableMFA(ctx context.Context, userID string, at time.Time) error
	TouchMFA(ctx context.Context, userID string, usedAt time.Time) error
	ReplaceBackupCodes(ctx context.Context, userID string, codes []string, at time.Time) error
	// DisableMFA clears the secret and every backup code.
	DisableMFA(ctx context.Context, userID string, at time.Time) error
}

// Store bundles every repository.
type Store interface {
	UserRepository
	SessionRepository
	AuditRepository
	IncidentRepository
	MFARepository
}
