package trustcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/trustcore/audit"
	"github.com/MrEthical07/trustcore/store"
)

// contextAuditor fills the caller's IP and user agent from ctx before
// handing an entry to the audit engine.
type contextAuditor struct {
	engine *Engine
}

func (a contextAuditor) LogSecurityEvent(ctx context.Context, entry audit.Entry) {
	a.engine.LogSecurityEvent(ctx, entry)
}

// LogSecurityEvent records entry best-effort. It never fails the caller;
// SourceIP and UserAgent default to the values attached to ctx.
func (e *Engine) LogSecurityEvent(ctx context.Context, entry audit.Entry) {
	if entry.SourceIP == "" {
		entry.SourceIP = clientIPFromContext(ctx)
	}
	if entry.UserAgent == "" {
		entry.UserAgent = userAgentFromContext(ctx)
	}
	e.audit.LogSecurityEvent(ctx, entry)
}

func (e *Engine) emitAudit(ctx context.Context, eventType, userID string, category store.Category, severity store.Severity, success bool, details map[string]any) {
	entry := audit.Entry{
		UserID:    userID,
		EventType: eventType,
		Category:  category,
		Severity:  severity,
		Details:   details,
		Success:   success,
	}
	if !success {
		entry.ErrorMessage = eventType
	}
	e.LogSecurityEvent(ctx, entry)
}

// SecurityAuditLogs returns a page of audit events.
func (e *Engine) SecurityAuditLogs(ctx context.Context, f audit.Filter) (audit.Page, error) {
	page, err := e.audit.Query(ctx, f)
	if err != nil {
		return audit.Page{}, mapAuditErr("query_audit_logs", err)
	}
	return page, nil
}

// SecurityMetrics aggregates audit events over a 24h, 7d or 30d window.
func (e *Engine) SecurityMetrics(ctx context.Context, tf audit.Timeframe) (*audit.Metrics, error) {
	m, err := e.audit.Metrics(ctx, tf)
	if err != nil {
		return nil, mapAuditErr("security_metrics", err)
	}
	return m, nil
}

// Incidents returns a page of security incidents.
func (e *Engine) Incidents(ctx context.Context, f audit.IncidentFilter) (audit.IncidentPage, error) {
	page, err := e.audit.Incidents(ctx, f)
	if err != nil {
		return audit.IncidentPage{}, mapAuditErr("list_incidents", err)
	}
	return page, nil
}

func mapAuditErr(op string, err error) error {
	var ve *audit.ValidationError
	if errors.As(err, &ve) {
		return &ValidationError{Field: ve.Field, Reason: ve.Reason}
	}
	return storeErr(op, err)
}
