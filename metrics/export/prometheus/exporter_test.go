package prometheus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/MrEthical07/trustcore"
	"github.com/MrEthical07/trustcore/audit"
	"github.com/MrEthical07/trustcore/crypto"
	"github.com/MrEthical07/trustcore/store/memstore"
)

type fakeSource struct {
	snapshot trustcore.MetricsSnapshot
	stats    audit.Stats
}

func (f fakeSource) MetricsSnapshot() trustcore.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditStats() audit.Stats                    { return f.stats }

func TestCollectOmitsDisabledCounters(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: trustcore.MetricsSnapshot{
			Counters:   map[trustcore.MetricID]uint64{},
			Histograms: map[trustcore.MetricID][]uint64{},
		},
	})

	if got := testutil.CollectAndCount(exp, "trustcore_login_success_total"); got != 0 {
		t.Fatalf("expected no login counter for disabled metrics, got %d", got)
	}
	if got := testutil.CollectAndCount(exp, "trustcore_audit_dropped_total"); got != 1 {
		t.Fatalf("expected audit counter, got %d", got)
	}
}

func TestCollectCountersAndHistogram(t *testing.T) {
	counters := make(map[trustcore.MetricID]uint64, trustcore.MetricCount)
	counters[trustcore.MetricLoginSuccess] = 7
	exp := NewExporterFromSource(fakeSource{
		snapshot: trustcore.MetricsSnapshot{
			Counters: counters,
			Histograms: map[trustcore.MetricID][]uint64{
				trustcore.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		stats: audit.Stats{Dropped: 2, Incidents: 1},
	})

	expected := `
# HELP trustcore_login_success_total Successful logins.
# TYPE trustcore_login_success_total counter
trustcore_login_success_total 7
# HELP trustcore_audit_dropped_total Audit events dropped by dispatcher backpressure.
# TYPE trustcore_audit_dropped_total counter
trustcore_audit_dropped_total 2
`
	if err := testutil.CollectAndCompare(exp, strings.NewReader(expected),
		"trustcore_login_success_total", "trustcore_audit_dropped_total"); err != nil {
		t.Fatalf("unexpected collection: %v", err)
	}

	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(body, `trustcore_validate_latency_seconds_bucket{le="0.005"} 1`) {
		t.Fatalf("expected first bucket, got:\n%s", body)
	}
	if !strings.Contains(body, `trustcore_validate_latency_seconds_bucket{le="+Inf"} 36`) {
		t.Fatalf("expected +Inf bucket, got:\n%s", body)
	}
	if !strings.Contains(body, "trustcore_incidents_total 1") {
		t.Fatalf("expected incidents counter, got:\n%s", body)
	}
}

func TestExporterReadsEngine(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	cfg := trustcore.DefaultConfig()
	cfg.Crypto.EncryptionKey = key
	cfg.Crypto.PasswordWorkFactor = 4
	cfg.Token.Secret = []byte("0123456789abcdef0123456789abcdef")

	e, err := trustcore.New().WithConfig(cfg).WithStore(memstore.New()).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer e.Close()

	if _, err := e.RegisterUser(context.Background(), "alice", "password-1", false); err != nil {
		t.Fatalf("register: %v", err)
	}

	expected := `
# HELP trustcore_user_registered_total Accounts created.
# TYPE trustcore_user_registered_total counter
trustcore_user_registered_total 1
`
	if err := testutil.CollectAndCompare(NewExporter(e), strings.NewReader(expected), "trustcore_user_registered_total"); err != nil {
		t.Fatalf("unexpected collection: %v", err)
	}
}
