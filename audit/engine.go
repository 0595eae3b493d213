package audit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/trustcore/store"
)

// ErrInvalid is matched by every *ValidationError from this package.
var ErrInvalid = errors.New("audit: invalid input")

// ValidationError reports a rejected entry or query.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "audit: invalid " + e.Field + ": " + e.Reason
}

// Is matches ErrInvalid.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// Repository is the persistence the engine needs.
type Repository interface {
	store.AuditRepository
	store.IncidentRepository
}

// Config tunes scoring thresholds and enrichment.
type Config struct {
	// IncidentThreshold is the score at or above which an incident is raised.
	IncidentThreshold int
	// CriticalThreshold is the score at or above which the incident is critical.
	CriticalThreshold int
	// HighRiskThreshold is the score counted as high risk by Metrics.
	HighRiskThreshold int
	GeoTimeout        time.Duration
	Async             DispatcherConfig
}

// DefaultConfig returns the standard thresholds with synchronous recording.
func DefaultConfig() Config {
	return Config{
		IncidentThreshold: 70,
		CriticalThreshold: 90,
		HighRiskThreshold: 70,
		GeoTimeout:        500 * time.Millisecond,
		Async: DispatcherConfig{
			BufferSize: 1024,
			DropIfFull: true,
		},
	}
}

// Validate checks threshold ordering and ranges.
func (c Config) Validate() error {
	if c.IncidentThreshold < 1 || c.IncidentThreshold > maxScore {
		return &ValidationError{Field: "incident_threshold", Reason: "must be within 1..100"}
	}
	if c.CriticalThreshold < c.IncidentThreshold || c.CriticalThreshold > maxScore {
		return &ValidationError{Field: "critical_threshold", Reason: "must be within incident_threshold..100"}
	}
	if c.HighRiskThreshold < 0 || c.HighRiskThreshold > maxScore {
		return &ValidationError{Field: "high_risk_threshold", Reason: "must be within 0..100"}
	}
	if c.GeoTimeout < 0 {
		return &ValidationError{Field: "geo_timeout", Reason: "must not be negative"}
	}
	if c.Async.Enabled && c.Async.BufferSize < 1 {
		return &ValidationError{Field: "async.buffer_size", Reason: "must be positive"}
	}
	return nil
}

// Entry is the caller-supplied part of an audit event.
type Entry struct {
	UserID           string
	EventType        string
	Category         store.Category
	Severity         store.Severity
	SourceIP         string
	UserAgent        string
	ResourceAccessed string
	Details          map[string]any
	Success          bool
	ErrorMessage     string
}

const maxEventTypeLen = 100

func (e Entry) validate() error {
	if e.EventType == "" {
		return &ValidationError{Field: "event_type", Reason: "is required"}
	}
	if len(e.EventType) > maxEventTypeLen {
		return &ValidationError{Field: "event_type", Reason: "is too long"}
	}
	if !e.Category.Valid() {
		return &ValidationError{Field: "category", Reason: "is not a known category"}
	}
	if !e.Severity.Valid() {
		return &ValidationError{Field: "severity", Reason: "is not a known severity"}
	}
	return nil
}

// Option customizes an Engine.
type Option func(*Engine)

// WithSignatures replaces the detection table.
func WithSignatures(sigs *Signatures) Option {
	return func(e *Engine) { e.detector = NewDetector(sigs) }
}

// WithGeoLocator enables best-effort location enrichment.
func WithGeoLocator(g GeoLocator) Option {
	return func(e *Engine) { e.geo = g }
}

// WithLogger sets the operational logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Stats are the engine's running counters.
type Stats struct {
	Recorded         uint64
	Failures         uint64
	Incidents        uint64
	IncidentFailures uint64
	Dropped          uint64
}

// Engine records, scores and escalates audit events.
type Engine struct {
	repo     Repository
	cfg      Config
	detector *Detector
	geo      GeoLocator
	log      zerolog.Logger
	now      func() time.Time
	async    *dispatcher

	recorded         atomic.Uint64
	failures         atomic.Uint64
	incidents        atomic.Uint64
	incidentFailures atomic.Uint64
}

// New returns an Engine persisting to repo.
func New(repo Repository, cfg Config, opts ...Option) (*Engine, error) {
	if repo == nil {
		return nil, &ValidationError{Field: "repository", Reason: "is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		repo: repo,
		cfg:  cfg,
		log:  zerolog.Nop(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.detector == nil {
		e.detector = NewDetector(nil)
	}
	e.async = newDispatcher(cfg.Async, e.logRecord)

	return e, nil
}

// Detector returns the engine's detector.
func (e *Engine) Detector() *Detector {
	return e.detector
}

// Record validates, scores, persists and escalates entry synchronously.
// Only validation and event persistence errors are returned; a failed
// incident insert is logged.
func (e *Engine) Record(ctx context.Context, entry Entry) (*store.AuditEvent, error) {
	if err := entry.validate(); err != nil {
		return nil, err
	}

	ev := &store.AuditEvent{
		ID:               uuid.NewString(),
		UserID:           entry.UserID,
		EventType:        entry.EventType,
		Category:         entry.Category,
		Severity:         entry.Severity,
		SourceIP:         entry.SourceIP,
		UserAgent:        entry.UserAgent,
		ResourceAccessed: entry.ResourceAccessed,
		ActionDetails:    entry.Details,
		Success:          entry.Success,
		ErrorMessage:     entry.ErrorMessage,
		CreatedAt:        e.now().UTC(),
	}
	if ev.ActionDetails == nil {
		ev.ActionDetails = map[string]any{}
	}

	ev.ThreatIndicators = e.detector.Detect(ev)
	ev.RiskScore = e.detector.Score(ev, ev.ThreatIndicators)
	ev.Geo = e.locate(ctx, ev.SourceIP)

	if err := e.repo.InsertAuditEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("audit: insert event: %w", err)
	}
	e.recorded.Add(1)

	if ev.RiskScore >= e.cfg.IncidentThreshold {
		if err := e.escalate(ctx, ev); err != nil {
			e.incidentFailures.Add(1)
			e.log.Error().Err(err).
				Str("event", ev.EventType).
				Int("risk_score", ev.RiskScore).
				Msg("audit incident insert failed")
		}
	}

	return ev, nil
}

// LogSecurityEvent records entry without surfacing failures. In async mode
// the entry is queued and may be dropped when the queue is full.
func (e *Engine) LogSecurityEvent(ctx context.Context, entry Entry) {
	if e.async != nil {
		if !e.async.emit(ctx, entry) {
			e.failures.Add(1)
			e.log.Warn().Str("event", entry.EventType).Msg("audit event not queued")
		}
		return
	}
	e.logRecord(ctx, entry)
}

func (e *Engine) logRecord(ctx context.Context, entry Entry) {
	if _, err := e.Record(ctx, entry); err != nil {
		e.failures.Add(1)
		e.log.Error().Err(err).
			Str("event", entry.EventType).
			Str("user_id", entry.UserID).
			Msg("audit event not recorded")
	}
}

// Close flushes queued entries. It is safe to call more than once.
func (e *Engine) Close() {
	if e.async != nil {
		e.async.close()
	}
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats {
	s := Stats{
		Recorded:         e.recorded.Load(),
		Failures:         e.failures.Load(),
		Incidents:        e.incidents.Load(),
		IncidentFailures: e.incidentFailures.Load(),
	}
	if e.async != nil {
		s.Dropped = e.async.dropped.Load()
	}
	return s
}

func (e *Engine) locate(ctx context.Context, ip string) *store.GeoLocation {
	if e.geo == nil || ip == "" {
		return nil
	}
	if e.cfg.GeoTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.GeoTimeout)
		defer cancel()
	}

	loc, err := e.geo.Locate(ctx, ip)
	if err != nil {
		e.log.Debug().Err(err).Msg("geolocation lookup failed")
		return nil
	}
	return loc
}

func (e *Engine) escalate(ctx context.Context, ev *store.AuditEvent) error {
	severity := store.SeverityHigh
	if ev.RiskScore >= e.cfg.CriticalThreshold {
		severity = store.SeverityCritical
	}
	confidence := float64(ev.RiskScore) / 100

	inc := &store.SecurityIncident{
		ID:           uuid.NewString(),
		IncidentType: "auto_" + ev.EventType,
		Severity:     severity,
		Status:       store.IncidentOpen,
		CreatedAt:    ev.CreatedAt,
	}
	if ev.UserID != "" {
		inc.AffectedUsers = []string{ev.UserID}
	}
	if ev.SourceIP != "" {
		inc.SourceIPs = []string{ev.SourceIP}
	}
	for _, ind := range ev.ThreatIndicators {
		inc.Indicators = append(inc.Indicators, store.Indicator{
			Type:       ind,
			Value:      ev.EventType,
			Confidence: confidence,
		})
	}
	if len(inc.Indicators) == 0 {
		inc.Indicators = []store.Indicator{{
			Type:       "risk_score",
			Value:      strconv.Itoa(ev.RiskScore),
			Confidence: confidence,
		}}
	}

	details := map[string]any{
		"audit_event_id": ev.ID,
		"risk_score":     ev.RiskScore,
	}
	if ev.UserID != "" {
		details["user_id"] = ev.UserID
	}
	if ev.SourceIP != "" {
		details["source_ip"] = ev.SourceIP
	}
	inc.Timeline = []store.TimelineEntry{{
		Timestamp: ev.CreatedAt,
		Event:     "Incident automatically created from audit event",
		Details:   details,
	}}

	if err := e.repo.InsertIncident(ctx, inc); err != nil {
		return err
	}
	e.incidents.Add(1)

	e.log.Warn().
		Str("incident_id", inc.ID).
		Str("incident_type", inc.IncidentType).
		Str("severity", string(inc.Severity)).
		Str("user_id", ev.UserID).
		Int("risk_score", ev.RiskScore).
		Msg("security incident raised")

	return nil
}
