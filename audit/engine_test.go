package audit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/trustcore/store"
	"github.com/MrEthical07/trustcore/store/memstore"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *memstore.Store) {
	t.Helper()

	st := memstore.New()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	e, err := New(st, DefaultConfig(), opts...)
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}
	t.Cleanup(e.Close)
	return e, st
}

func incidentCount(t *testing.T, st *memstore.Store) []store.SecurityIncident {
	t.Helper()
	incs, _, err := st.ListIncidents(context.Background(), store.IncidentFilter{})
	if err != nil {
		t.Fatalf("list incidents failed: %v", err)
	}
	return incs
}

func TestRecordPersistsScoredEvent(t *testing.T) {
	e, st := newTestEngine(t)

	ev, err := e.Record(context.Background(), Entry{
		UserID:    "u1",
		EventType: "profile_update",
		Category:  store.CategoryDataAccess,
		Severity:  store.SeverityMedium,
		Details:   map[string]any{"bio": "<script>alert(1)</script>"},
		Success:   true,
	})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if ev.RiskScore != 45 {
		t.Fatalf("expected score 45, got %d", ev.RiskScore)
	}
	if ev.ID == "" || !ev.CreatedAt.Equal(testNow) {
		t.Fatalf("unexpected identity fields: %+v", ev)
	}

	events, total, _ := st.ListAuditEvents(context.Background(), store.AuditFilter{})
	if total != 1 || events[0].ThreatIndicators[0] != IndicatorXSS {
		t.Fatalf("unexpected stored events: %+v", events)
	}
	if n := len(incidentCount(t, st)); n != 0 {
		t.Fatalf("expected no incident, got %d", n)
	}
}

func TestRecordEscalatesHighRisk(t *testing.T) {
	e, st := newTestEngine(t)

	// 60 high, 10 admin, 5 privilege escalation, 10 failed with ip
	ev, err := e.Record(context.Background(), Entry{
		UserID:    "u1",
		EventType: "role_change",
		Category:  store.CategoryAdmin,
		Severity:  store.SeverityHigh,
		SourceIP:  "203.0.113.7",
		Success:   false,
	})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if ev.RiskScore != 85 {
		t.Fatalf("expected score 85, got %d", ev.RiskScore)
	}

	incs := incidentCount(t, st)
	if len(incs) != 1 {
		t.Fatalf("expected exactly one incident, got %d", len(incs))
	}
	inc := incs[0]
	if inc.Severity != store.SeverityHigh || inc.Status != store.IncidentOpen || inc.IncidentType != "auto_role_change" {
		t.Fatalf("unexpected incident: %+v", inc)
	}
	if len(inc.AffectedUsers) != 1 || inc.AffectedUsers[0] != "u1" || inc.SourceIPs[0] != "203.0.113.7" {
		t.Fatalf("unexpected incident subjects: %+v", inc)
	}
	if len(inc.Timeline) != 1 || inc.Indicators[0].Confidence != 0.85 {
		t.Fatalf("unexpected incident detail: %+v", inc)
	}
	if e.Stats().Incidents != 1 {
		t.Fatalf("incident counter not bumped")
	}
}

func TestRecordCriticalIncident(t *testing.T) {
	e, st := newTestEngine(t)

	if _, err := e.Record(context.Background(), Entry{
		EventType: "failed_login",
		Category:  store.CategoryAuthentication,
		Severity:  store.SeverityCritical,
		SourceIP:  "203.0.113.7",
	}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	incs := incidentCount(t, st)
	if len(incs) != 1 || incs[0].Severity != store.SeverityCritical {
		t.Fatalf("expected one critical incident, got %+v", incs)
	}
	if len(incs[0].AffectedUsers) != 0 {
		t.Fatalf("anonymous event must not name users: %+v", incs[0])
	}
}

func TestRecordValidation(t *testing.T) {
	e, _ := newTestEngine(t)

	bad := []Entry{
		{Category: store.CategorySecurity, Severity: store.SeverityInfo},
		{EventType: "x", Category: "bogus", Severity: store.SeverityInfo},
		{EventType: "x", Category: store.CategorySecurity, Severity: "urgent"},
	}
	for i, entry := range bad {
		if _, err := e.Record(context.Background(), entry); !errors.Is(err, ErrInvalid) {
			t.Fatalf("case %d: expected ErrInvalid, got %v", i, err)
		}
	}
}

type failingRepo struct {
	*memstore.Store
	failIncidents bool
}

func (f *failingRepo) InsertAuditEvent(ctx context.Context, e *store.AuditEvent) error {
	if f.failIncidents {
		return f.Store.InsertAuditEvent(ctx, e)
	}
	return errors.New("disk full")
}

func (f *failingRepo) InsertIncident(context.Context, *store.SecurityIncident) error {
	return errors.New("disk full")
}

func TestLogSecurityEventSwallowsFailures(t *testing.T) {
	e, err := New(&failingRepo{Store: memstore.New()}, DefaultConfig())
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	e.LogSecurityEvent(context.Background(), Entry{EventType: "x", Category: store.CategorySecurity, Severity: store.SeverityInfo})
	e.LogSecurityEvent(context.Background(), Entry{})

	if got := e.Stats().Failures; got != 2 {
		t.Fatalf("expected 2 failures, got %d", got)
	}
}

func TestIncidentFailureDoesNotFailRecord(t *testing.T) {
	e, err := New(&failingRepo{Store: memstore.New(), failIncidents: true}, DefaultConfig())
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	ev, err := e.Record(context.Background(), Entry{
		EventType: "failed_login",
		Category:  store.CategoryAuthentication,
		Severity:  store.SeverityCritical,
		SourceIP:  "203.0.113.7",
	})
	if err != nil || ev == nil {
		t.Fatalf("record should succeed, got %v", err)
	}
	if s := e.Stats(); s.IncidentFailures != 1 || s.Recorded != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestAsyncDispatchFlushesOnClose(t *testing.T) {
	st := memstore.New()
	cfg := DefaultConfig()
	cfg.Async = DispatcherConfig{Enabled: true, BufferSize: 64}

	e, err := New(st, cfg)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	for i := 0; i < 20; i++ {
		e.LogSecurityEvent(context.Background(), Entry{EventType: "message_send", Category: store.CategoryDataAccess, Severity: store.SeverityInfo, Success: true})
	}
	e.Close()
	e.Close()

	_, total, _ := st.ListAuditEvents(context.Background(), store.AuditFilter{})
	if total != 20 {
		t.Fatalf("expected 20 flushed events, got %d", total)
	}

	e.LogSecurityEvent(context.Background(), Entry{EventType: "late", Category: store.CategorySecurity, Severity: store.SeverityInfo})
	if e.Stats().Failures != 1 {
		t.Fatalf("emit after close should count as failure")
	}
}

func TestGeoEnrichment(t *testing.T) {
	var calls atomic.Int32
	upstream := GeoLocatorFunc(func(ctx context.Context, ip string) (*store.GeoLocation, error) {
		calls.Add(1)
		return &store.GeoLocation{Country: "NL", City: "Amsterdam"}, nil
	})
	geo := NewCachedLocator(upstream, time.Hour, 16)
	e, st := newTestEngine(t, WithGeoLocator(geo))

	for _, ip := range []string{"198.51.100.4", "198.51.100.4", "10.0.0.1"} {
		if _, err := e.Record(context.Background(), Entry{
			EventType: "login_success",
			Category:  store.CategoryAuthentication,
			Severity:  store.SeverityInfo,
			SourceIP:  ip,
			Success:   true,
		}); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	if calls.Load() != 1 {
		t.Fatalf("expected one upstream lookup, got %d", calls.Load())
	}
	events, _, _ := st.ListAuditEvents(context.Background(), store.AuditFilter{})
	var located int
	for _, ev := range events {
		if ev.Geo != nil && ev.Geo.Country == "NL" {
			located++
		}
	}
	if located != 2 {
		t.Fatalf("expected 2 located events, got %d", located)
	}
}

func TestGeoFailureIsBestEffort(t *testing.T) {
	slow := GeoLocatorFunc(func(ctx context.Context, ip string) (*store.GeoLocation, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg := DefaultConfig()
	cfg.GeoTimeout = 10 * time.Millisecond
	e, err := New(memstore.New(), cfg, WithGeoLocator(slow))
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	ev, err := e.Record(context.Background(), Entry{EventType: "x", Category: store.CategorySecurity, Severity: store.SeverityInfo, SourceIP: "198.51.100.4"})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if ev.Geo != nil {
		t.Fatalf("expected no geo, got %+v", ev.Geo)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CriticalThreshold = 50
	if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if _, err := New(nil, DefaultConfig()); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for nil repo, got %v", err)
	}
}
