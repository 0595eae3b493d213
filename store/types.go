package store

import "time"

// User is the durable account record. IsAdmin and IsBanned here are the
// authoritative values; copies inside issued tokens may be stale.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	IsAdmin      bool
	IsBanned     bool
	CreatedAt    time.Time
}

// Session is the server-side half of a login. TokenHash is the SHA-256 hex
// digest of the signed token.
type Session struct {
	TokenHash string
	UserID    string
	Username  string
	IsAdmin   bool
	IsBanned  bool
	IP        string
	UserAgent string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether s is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Category groups audit events.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryDataAccess     Category = "data_access"
	CategoryAdmin          Category = "admin"
	CategorySecurity       Category = "security"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryAuthentication, CategoryAuthorization, CategoryDataAccess, CategoryAdmin, CategorySecurity:
		return true
	}
	return false
}

// Severity ranks audit events and incidents.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// GeoLocation is the optional enrichment attached to an audit event.
type GeoLocation struct {
	Country string  `json:"country,omitempty"`
	Region  string  `json:"region,omitempty"`
	City    string  `json:"city,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Lon     float64 `json:"lon,omitempty"`
}

// AuditEvent is an append-only security log row.
type AuditEvent struct {
	ID               string
	UserID           string
	EventType        string
	Category         Category
	Severity         Severity
	SourceIP         string
	UserAgent        string
	ResourceAccessed string
	ActionDetails    map[string]any
	Success          bool
	ErrorMessage     string
	RiskScore        int
	ThreatIndicators []string
	Geo              *GeoLocation
	CreatedAt        time.Time
}

// IncidentStatus is the workflow state of a SecurityIncident.
type IncidentStatus string

const (
	IncidentOpen          IncidentStatus = "open"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentResolved      IncidentStatus = "resolved"
	IncidentClosed        IncidentStatus = "closed"
)

// Indicator is one observable attached to an incident.
type Indicator struct {
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// TimelineEntry records one step in an incident's history.
type TimelineEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Event     string         `json:"event"`
	Details   map[string]any `json:"details,omitempty"`
}

// SecurityIncident is raised automatically for high-risk audit events.
type SecurityIncident struct {
	ID            string
	IncidentType  string
	Severity      Severity
	Status        IncidentStatus
	AffectedUsers []string
	SourceIPs     []string
	Indicators    []Indicator
	Timeline      []TimelineEntry
	CreatedAt     time.Time
}

// MFASettings holds a user's second-factor material. TOTPSecret and each
// backup code are encrypted payloads. Disabling clears the material but keeps
// the row.
type MFASettings struct {
	UserID      string
	TOTPSecret  string
	BackupCodes []string
	IsEnabled   bool
	LastUsedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Clone returns a deep copy of m.
func (m *MFASettings) Clone() *MFASettings {
	if m == nil {
		return nil
	}
	cp := *m
	cp.BackupCodes = append([]string(nil), m.BackupCodes...)
	if m.LastUsedAt != nil {
		t := *m.LastUsedAt
		cp.LastUsedAt = &t
	}
	return &cp
}
