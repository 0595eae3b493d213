package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrEthical07/trustcore"
	"github.com/MrEthical07/trustcore/audit"
	"github.com/MrEthical07/trustcore/crypto"
	"github.com/MrEthical07/trustcore/store"
	"github.com/MrEthical07/trustcore/store/memstore"
)

func newTestEngine(t *testing.T) *trustcore.Engine {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	cfg := trustcore.DefaultConfig()
	cfg.Crypto.EncryptionKey = key
	cfg.Crypto.PasswordWorkFactor = 4
	cfg.Token.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.RateLimit.Message.MaxAttempts = 2

	e, err := trustcore.New().WithConfig(cfg).WithStore(memstore.New()).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func issue(t *testing.T, e *trustcore.Engine, username string, admin bool) (*store.User, string) {
	t.Helper()
	ctx := context.Background()
	u, err := e.RegisterUser(ctx, username, "password-1", admin)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	token, _, err := e.GenerateToken(ctx, u, trustcore.SessionMeta{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return u, token
}

func serve(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGuard(t *testing.T) {
	e := newTestEngine(t)
	u, token := issue(t, e, "alice", false)

	var seen *store.User
	h := Guard(e)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	if rec := serve(h, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing header: expected 401, got %d", rec.Code)
	}
	if rec := serve(h, "garbage"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", rec.Code)
	}
	if rec := serve(h, token); rec.Code != http.StatusNoContent {
		t.Fatalf("valid token: expected 204, got %d", rec.Code)
	}
	if seen == nil || seen.ID != u.ID {
		t.Fatalf("user not on context: %+v", seen)
	}

	if err := e.BanUser(context.Background(), u.ID, true); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if rec := serve(h, token); rec.Code != http.StatusUnauthorized {
		t.Fatalf("banned user: expected 401, got %d", rec.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	e := newTestEngine(t)
	_, userToken := issue(t, e, "bob", false)
	_, adminToken := issue(t, e, "root", true)

	h := RequireAdmin(e)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	if rec := serve(h, userToken); rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin: expected 403, got %d", rec.Code)
	}
	if rec := serve(h, adminToken); rec.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d", rec.Code)
	}
}

func TestMessageGuardRateLimits(t *testing.T) {
	e := newTestEngine(t)
	_, token := issue(t, e, "carol", false)

	h := MessageGuard(e)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	for i := 0; i < 2; i++ {
		if rec := serve(h, token); rec.Code != http.StatusAccepted {
			t.Fatalf("message %d: expected 202, got %d", i+1, rec.Code)
		}
	}
	rec := serve(h, token)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After header")
	}
}

func TestRequestContextCarriesClient(t *testing.T) {
	e := newTestEngine(t)

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "203.0.113.4:5555"
	req.Header.Set("User-Agent", "sqlmap/1.7")

	e.LogSecurityEvent(RequestContext(req), auditEntry())

	page, err := e.SecurityAuditLogs(context.Background(), auditFilter())
	if err != nil {
		t.Fatalf("audit logs: %v", err)
	}
	if len(page.Events) != 1 {
		t.Fatalf("expected one event, got %d", len(page.Events))
	}
	ev := page.Events[0]
	if ev.SourceIP != "203.0.113.4" || ev.UserAgent != "sqlmap/1.7" {
		t.Fatalf("client not recorded: ip=%q ua=%q", ev.SourceIP, ev.UserAgent)
	}
}

func auditEntry() audit.Entry {
	return audit.Entry{
		EventType: "login_page_view",
		Category:  store.CategorySecurity,
		Severity:  store.SeverityInfo,
		Success:   true,
	}
}

func auditFilter() audit.Filter {
	return audit.Filter{EventType: "login_page_view"}
}
