package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/MrEthical07/trustcore/store"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		_ = db.Close()
	})
	return New(db), mock
}

func TestMigrate(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS users`).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := Migrate(context.Background(), s.db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
}

func TestCreateUserConflict(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO users`).
		WithArgs("u1", "alice", "hash", false, false, sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: "users_username_lower_unique"})

	err := s.CreateUser(context.Background(), &store.User{ID: "u1", Username: "alice", PasswordHash: "hash"})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGetUserByUsername(t *testing.T) {
	s, mock := newMock(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT id, username, password_hash, is_admin, is_banned, created_at FROM users WHERE LOWER\(username\) = LOWER\(\$1\)`).
		WithArgs("Alice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "is_admin", "is_banned", "created_at"}).
			AddRow("u1", "alice", "h", true, false, created))

	u, err := s.GetUserByUsername(context.Background(), "Alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u.ID != "u1" || !u.IsAdmin || !u.CreatedAt.Equal(created) {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestGetUserNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "is_admin", "is_banned", "created_at"}))

	if _, err := s.GetUser(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetUserBannedMissing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`UPDATE users SET is_banned = \$2 WHERE id = \$1`).
		WithArgs("u9", true).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.SetUserBanned(context.Background(), "u9", true); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sess := &store.Session{TokenHash: "h", UserID: "u1", Username: "alice", IP: "10.0.0.1", UserAgent: "ua", IssuedAt: issued, ExpiresAt: issued.Add(time.Hour)}

	mock.ExpectExec(`INSERT INTO user_sessions`).
		WithArgs("h", "u1", "alice", false, false, "10.0.0.1", "ua", issued, issued.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM user_sessions WHERE token_hash = \$1`).
		WithArgs("h").
		WillReturnRows(sqlmock.NewRows([]string{"token_hash", "user_id", "username", "is_admin", "is_banned", "ip", "user_agent", "issued_at", "expires_at"}).
			AddRow("h", "u1", "alice", false, false, "10.0.0.1", "ua", issued, issued.Add(time.Hour)))
	mock.ExpectExec(`DELETE FROM user_sessions WHERE expires_at <= \$1`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	if err := s.InsertSession(ctx, sess); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}
	got, err := s.GetSession(ctx, "h")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.UserID != "u1" || !got.ExpiresAt.Equal(issued.Add(time.Hour)) {
		t.Fatalf("unexpected session: %+v", got)
	}
	n, err := s.DeleteExpiredSessions(ctx, issued)
	if err != nil || n != 3 {
		t.Fatalf("DeleteExpiredSessions: n=%d err=%v", n, err)
	}
}

func TestListAuditEventsBuildsFilter(t *testing.T) {
	s, mock := newMock(t)
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	created := from.Add(time.Hour)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM security_audit_logs WHERE user_id = \$1 AND event_category = \$2 AND risk_score >= \$3 AND created_at >= \$4`).
		WithArgs("u1", "authentication", 50, from).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(`FROM security_audit_logs WHERE .+ ORDER BY created_at DESC LIMIT 2 OFFSET 4`).
		WithArgs("u1", "authentication", 50, from).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "event_type", "event_category", "severity", "source_ip", "user_agent", "resource_accessed",
			"action_details", "success", "error_message", "risk_score", "threat_indicators", "geo", "created_at",
		}).AddRow(
			"e1", "u1", "failed_login", "authentication", "medium", "1.2.3.4", "curl/8", "",
			[]byte(`{"username":"alice"}`), false, "bad password", 90, []byte(`{potential_brute_force}`), []byte(`{"country":"NL"}`), created,
		))

	events, total, err := s.ListAuditEvents(context.Background(), store.AuditFilter{
		UserID:       "u1",
		Category:     store.CategoryAuthentication,
		MinRiskScore: 50,
		From:         from,
		Limit:        2,
		Offset:       4,
	})
	if err != nil {
		t.Fatalf("ListAuditEvents: %v", err)
	}
	if total != 7 || len(events) != 1 {
		t.Fatalf("unexpected result total=%d len=%d", total, len(events))
	}
	e := events[0]
	if e.ActionDetails["username"] != "alice" || len(e.ThreatIndicators) != 1 || e.ThreatIndicators[0] != "potential_brute_force" {
		t.Fatalf("unexpected event decoding: %+v", e)
	}
	if e.Geo == nil || e.Geo.Country != "NL" {
		t.Fatalf("expected geo decoded, got %+v", e.Geo)
	}
}

func TestAuditStats(t *testing.T) {
	s, mock := newMock(t)
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\),.+LOWER\(event_type\) LIKE ANY\(\$4\)`).
		WithArgs(from, to, 70, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"total", "high", "failed", "admin"}).AddRow(10, 3, 4, 1))
	mock.ExpectQuery(`GROUP BY event_type`).
		WithArgs(from, to, 10).
		WillReturnRows(sqlmock.NewRows([]string{"event_type", "n"}).AddRow("failed_login", 4).AddRow("login_success", 3))
	mock.ExpectQuery(`GROUP BY bucket`).
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"bucket", "count"}).AddRow("0-19", 5).AddRow("90-100", 2))

	stats, err := s.AuditStats(context.Background(), store.StatsQuery{From: from, To: to, HighRiskThreshold: 70, TopN: 10})
	if err != nil {
		t.Fatalf("AuditStats: %v", err)
	}
	if stats.TotalEvents != 10 || stats.HighRiskCount != 3 || stats.FailedLogins != 4 || stats.AdminActions != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(stats.TopEventTypes) != 2 || stats.TopEventTypes[0].EventType != "failed_login" {
		t.Fatalf("unexpected top types: %+v", stats.TopEventTypes)
	}
	if stats.RiskBuckets["0-19"] != 5 || stats.RiskBuckets["90-100"] != 2 || stats.RiskBuckets["40-69"] != 0 {
		t.Fatalf("unexpected buckets: %+v", stats.RiskBuckets)
	}
}

func TestInsertIncident(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO security_incidents`).
		WithArgs("i1", "auto_failed_login", "high", "open", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.InsertIncident(context.Background(), &store.SecurityIncident{
		ID:           "i1",
		IncidentType: "auto_failed_login",
		Severity:     store.SeverityHigh,
		Status:       store.IncidentOpen,
		SourceIPs:    []string{"1.2.3.4"},
		Timeline:     []store.TimelineEntry{{Timestamp: time.Now(), Event: "detected"}},
		CreatedAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("InsertIncident: %v", err)
	}
}

func TestMFASettings(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO user_mfa_settings .+ ON CONFLICT \(user_id\) DO UPDATE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM user_mfa_settings WHERE user_id = \$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "totp_secret", "backup_codes", "is_enabled", "last_used_at", "created_at", "updated_at"}).
			AddRow("u1", "enc", []byte(`{c1,c2}`), true, nil, now, now))
	mock.ExpectExec(`UPDATE user_mfa_settings`).
		WithArgs("u1", "c1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE user_mfa_settings`).
		WithArgs("u1", "c1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.UpsertMFASettings(ctx, &store.MFASettings{UserID: "u1", TOTPSecret: "enc", BackupCodes: []string{"c1", "c2"}, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("UpsertMFASettings: %v", err)
	}

	m, err := s.GetMFASettings(ctx, "u1")
	if err != nil {
		t.Fatalf("GetMFASettings: %v", err)
	}
	if !m.IsEnabled || len(m.BackupCodes) != 2 || m.LastUsedAt != nil {
		t.Fatalf("unexpected settings: %+v", m)
	}

	ok, err := s.RemoveBackupCode(ctx, "u1", "c1", now)
	if err != nil || !ok {
		t.Fatalf("expected first removal ok, got %v err=%v", ok, err)
	}
	ok, err = s.RemoveBackupCode(ctx, "u1", "c1", now)
	if err != nil || ok {
		t.Fatalf("expected second removal to report false, got %v err=%v", ok, err)
	}
}

func TestMFATargetedUpdates(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE user_mfa_settings SET is_enabled = TRUE, last_used_at = \$2, updated_at = \$2 WHERE user_id = \$1`).
		WithArgs("u1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE user_mfa_settings SET last_used_at = \$2, updated_at = \$2 WHERE user_id = \$1`).
		WithArgs("u1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE user_mfa_settings SET backup_codes = \$2, updated_at = \$3 WHERE user_id = \$1`).
		WithArgs("u1", sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE user_mfa_settings SET totp_secret = '', backup_codes = '\{\}', is_enabled = FALSE`).
		WithArgs("u1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE user_mfa_settings SET last_used_at`).
		WithArgs("missing", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.EnableMFA(ctx, "u1", now); err != nil {
		t.Fatalf("EnableMFA: %v", err)
	}
	if err := s.TouchMFA(ctx, "u1", now); err != nil {
		t.Fatalf("TouchMFA: %v", err)
	}
	if err := s.ReplaceBackupCodes(ctx, "u1", []string{"n1", "n2"}, now); err != nil {
		t.Fatalf("ReplaceBackupCodes: %v", err)
	}
	if err := s.DisableMFA(ctx, "u1", now); err != nil {
		t.Fatalf("DisableMFA: %v", err)
	}
	if err := s.TouchMFA(ctx, "missing", now); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing row, got %v", err)
	}
}
