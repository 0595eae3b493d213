package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/trustcore/store"
)

// Page sizes for Query and Incidents.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Filter selects audit events. Zero fields do not filter; To is exclusive.
type Filter struct {
	UserID       string
	EventType    string
	Category     store.Category
	Severity     store.Severity
	MinRiskScore int
	From         time.Time
	To           time.Time
	Limit        int
	Offset       int
}

// Page is one slice of a Query result.
type Page struct {
	Events []store.AuditEvent `json:"events"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// Query returns matching events newest first.
func (e *Engine) Query(ctx context.Context, f Filter) (Page, error) {
	limit, err := pageLimit(f.Limit, f.Offset)
	if err != nil {
		return Page{}, err
	}
	if f.Category != "" && !f.Category.Valid() {
		return Page{}, &ValidationError{Field: "category", Reason: "is not a known category"}
	}
	if f.Severity != "" && !f.Severity.Valid() {
		return Page{}, &ValidationError{Field: "severity", Reason: "is not a known severity"}
	}
	if f.MinRiskScore < 0 || f.MinRiskScore > maxScore {
		return Page{}, &ValidationError{Field: "min_risk_score", Reason: "must be within 0..100"}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return Page{}, &ValidationError{Field: "to", Reason: "is before from"}
	}

	events, total, err := e.repo.ListAuditEvents(ctx, store.AuditFilter{
		UserID:       f.UserID,
		EventType:    f.EventType,
		Category:     f.Category,
		Severity:     f.Severity,
		MinRiskScore: f.MinRiskScore,
		From:         f.From,
		To:           f.To,
		Limit:        limit,
		Offset:       f.Offset,
	})
	if err != nil {
		return Page{}, fmt.Errorf("audit: list events: %w", err)
	}

	return Page{Events: events, Total: total, Limit: limit, Offset: f.Offset}, nil
}

// Timeframe is a rolling window for Metrics.
type Timeframe string

const (
	Timeframe24h Timeframe = "24h"
	Timeframe7d  Timeframe = "7d"
	Timeframe30d Timeframe = "30d"
)

// Duration returns the window length, or false for an unknown timeframe.
func (t Timeframe) Duration() (time.Duration, bool) {
	switch t {
	case Timeframe24h:
		return 24 * time.Hour, true
	case Timeframe7d:
		return 7 * 24 * time.Hour, true
	case Timeframe30d:
		return 30 * 24 * time.Hour, true
	}
	return 0, false
}

const topEventTypes = 10

// Metrics aggregates events over a rolling window.
type Metrics struct {
	store.AuditStats `yaml:",inline"`

	Timeframe     Timeframe `json:"timeframe" yaml:"timeframe"`
	From          time.Time `json:"from" yaml:"from"`
	To            time.Time `json:"to" yaml:"to"`
	OpenIncidents int       `json:"open_incidents" yaml:"open_incidents"`
}

// Metrics returns aggregate statistics for the window ending now. The open
// incident count covers incidents created inside the same window.
func (e *Engine) Metrics(ctx context.Context, tf Timeframe) (*Metrics, error) {
	window, ok := tf.Duration()
	if !ok {
		return nil, &ValidationError{Field: "timeframe", Reason: "must be one of 24h, 7d, 30d"}
	}
	to := e.now().UTC()
	from := to.Add(-window)

	stats, err := e.repo.AuditStats(ctx, store.StatsQuery{
		From: from,
		// To is exclusive; include events stamped exactly now.
		To:                to.Add(time.Nanosecond),
		HighRiskThreshold: e.cfg.HighRiskThreshold,
		TopN:              topEventTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("audit: stats: %w", err)
	}

	_, open, err := e.repo.ListIncidents(ctx, store.IncidentFilter{
		Status: store.IncidentOpen,
		From:   from,
		Limit:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("audit: count incidents: %w", err)
	}

	return &Metrics{
		AuditStats:    *stats,
		Timeframe:     tf,
		From:          from,
		To:            to,
		OpenIncidents: open,
	}, nil
}

// IncidentFilter selects incidents.
type IncidentFilter struct {
	Status   store.IncidentStatus
	Severity store.Severity
	From     time.Time
	Limit    int
	Offset   int
}

// IncidentPage is one slice of an Incidents result.
type IncidentPage struct {
	Incidents []store.SecurityIncident `json:"incidents"`
	Total     int                      `json:"total"`
	Limit     int                      `json:"limit"`
	Offset    int                      `json:"offset"`
}

// Incidents returns matching incidents newest first.
func (e *Engine) Incidents(ctx context.Context, f IncidentFilter) (IncidentPage, error) {
	limit, err := pageLimit(f.Limit, f.Offset)
	if err != nil {
		return IncidentPage{}, err
	}
	switch f.Status {
	case "", store.IncidentOpen, store.IncidentInvestigating, store.IncidentResolved, store.IncidentClosed:
	default:
		return IncidentPage{}, &ValidationError{Field: "status", Reason: "is not a known status"}
	}
	if f.Severity != "" && !f.Severity.Valid() {
		return IncidentPage{}, &ValidationError{Field: "severity", Reason: "is not a known severity"}
	}

	incidents, total, err := e.repo.ListIncidents(ctx, store.IncidentFilter{
		Status:   f.Status,
		Severity: f.Severity,
		From:     f.From,
		Limit:    limit,
		Offset:   f.Offset,
	})
	if err != nil {
		return IncidentPage{}, fmt.Errorf("audit: list incidents: %w", err)
	}

	return IncidentPage{Incidents: incidents, Total: total, Limit: limit, Offset: f.Offset}, nil
}

func pageLimit(limit, offset int) (int, error) {
	if limit < 0 {
		return 0, &ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	if offset < 0 {
		return 0, &ValidationError{Field: "offset", Reason: "must not be negative"}
	}
	switch {
	case limit == 0:
		return DefaultLimit, nil
	case limit > MaxLimit:
		return MaxLimit, nil
	}
	return limit, nil
}
