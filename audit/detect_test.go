package audit

import (
	"reflect"
	"testing"

	"github.com/MrEthical07/trustcore/store"
)

func TestDetectSignatures(t *testing.T) {
	d := NewDetector(nil)

	tests := []struct {
		name    string
		details map[string]any
		want    []string
	}{
		{"clean", map[string]any{"message": "hello there"}, nil},
		{"sql", map[string]any{"q": "1 UNION SELECT password FROM users"}, []string{IndicatorSQLInjection}},
		{"xss unescaped", map[string]any{"bio": "<script>alert(1)</script>"}, []string{IndicatorXSS}},
		{"xss handler", map[string]any{"img": `x onerror=alert(1)`}, []string{IndicatorXSS}},
		{"unix traversal", map[string]any{"path": "../../etc/passwd"}, []string{IndicatorPathTraversal}},
		{"windows traversal", map[string]any{"path": `..\..\boot.ini`}, []string{IndicatorPathTraversal}},
		{"encoded traversal", map[string]any{"path": "%2E%2E%2Fetc"}, []string{IndicatorPathTraversal}},
		{"command", map[string]any{"name": "a && rm -rf /"}, []string{IndicatorCommandInjection}},
		{"backtick", map[string]any{"name": "`id`"}, []string{IndicatorCommandInjection}},
		{"nested", map[string]any{"outer": map[string]any{"inner": []any{"drop table x"}}}, []string{IndicatorSQLInjection}},
		{
			"several once each",
			map[string]any{"a": "delete from t; insert into t", "b": "javascript:x", "c": "$(whoami)"},
			[]string{IndicatorSQLInjection, IndicatorXSS, IndicatorCommandInjection},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &store.AuditEvent{
				EventType:     "profile_update",
				Category:      store.CategoryDataAccess,
				Success:       true,
				ActionDetails: tt.details,
			}
			if got := d.Detect(ev); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Detect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetectBehavioralIndicators(t *testing.T) {
	d := NewDetector(nil)

	got := d.Detect(&store.AuditEvent{EventType: "failed_login", Category: store.CategoryAuthentication})
	if !reflect.DeepEqual(got, []string{IndicatorBruteForce}) {
		t.Fatalf("unexpected indicators %v", got)
	}

	got = d.Detect(&store.AuditEvent{EventType: "role_change", Category: store.CategoryAdmin, Success: false})
	if !reflect.DeepEqual(got, []string{IndicatorPrivilegeEscalation}) {
		t.Fatalf("unexpected indicators %v", got)
	}

	if got := d.Detect(&store.AuditEvent{EventType: "role_change", Category: store.CategoryAdmin, Success: true}); got != nil {
		t.Fatalf("successful admin action flagged: %v", got)
	}
}

func TestScoreBySeverity(t *testing.T) {
	d := NewDetector(nil)

	tests := []struct {
		severity store.Severity
		want     int
	}{
		{store.SeverityCritical, 80},
		{store.SeverityHigh, 60},
		{store.SeverityMedium, 40},
		{store.SeverityLow, 20},
		{store.SeverityInfo, 0},
	}
	for _, tt := range tests {
		ev := &store.AuditEvent{EventType: "x", Category: store.CategorySecurity, Severity: tt.severity, Success: true}
		if got := d.Score(ev, nil); got != tt.want {
			t.Fatalf("Score(%s) = %d, want %d", tt.severity, got, tt.want)
		}
	}
}

func TestScoreBonuses(t *testing.T) {
	d := NewDetector(nil)

	ev := &store.AuditEvent{
		EventType: "unauthorized_access",
		Category:  store.CategoryAdmin,
		Severity:  store.SeverityLow,
		SourceIP:  "203.0.113.9",
		UserAgent: "sqlmap/1.7",
	}
	// 20 base, 15 login marker, 10 admin, 10 two indicators, 20 scanner, 10 failed with ip
	if got := d.Score(ev, []string{"a", "b"}); got != 85 {
		t.Fatalf("Score() = %d, want 85", got)
	}

	ev.Severity = store.SeverityCritical
	if got := d.Score(ev, []string{"a", "b"}); got != 100 {
		t.Fatalf("Score() = %d, want clamp to 100", got)
	}
}

func TestScoreMonotonicInSeverityAndIndicators(t *testing.T) {
	d := NewDetector(nil)

	base := store.AuditEvent{EventType: "message_send", Category: store.CategoryDataAccess, Success: true}
	low := base
	low.Severity = store.SeverityInfo
	high := base
	high.Severity = store.SeverityCritical

	if d.Score(&high, []string{"a", "b"}) <= d.Score(&low, nil) {
		t.Fatalf("critical with indicators must outscore info without")
	}
}

func TestIsScanner(t *testing.T) {
	d := NewDetector(nil)

	for _, ua := range []string{"curl/8.1", "Mozilla/5.0 (compatible; Nmap Scripting Engine)", "Go-http-client/1.1"} {
		if !d.IsScanner(ua) {
			t.Fatalf("expected %q to match", ua)
		}
	}
	for _, ua := range []string{"", "Mozilla/5.0 (X11; Linux x86_64) Firefox/120.0"} {
		if d.IsScanner(ua) {
			t.Fatalf("did not expect %q to match", ua)
		}
	}
}
