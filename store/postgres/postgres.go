// Package postgres implements store.Store on PostgreSQL through database/sql
// and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/MrEthical07/trustcore/store"
)

const uniqueViolation = "23505"

// Store is a store.Store backed by *sql.DB.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New wraps db. The caller owns db and must run Migrate before use.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects with the lib/pq driver and pings.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", store.ErrConflict, pqErr.Constraint)
	}
	return err
}

func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, is_admin, is_banned, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Username, u.PasswordHash, u.IsAdmin, u.IsBanned, created,
	)
	return mapErr(err)
}

const userColumns = `id, username, password_hash, is_admin, is_banned, created_at`

func scanUser(row *sql.Row) (*store.User, error) {
	var u store.User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsAdmin, &u.IsBanned, &u.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(username) = LOWER($1)`, username))
}

func (s *Store) SetUserBanned(ctx context.Context, id string, banned bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_banned = $2 WHERE id = $1`, id, banned)
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) InsertSession(ctx context.Context, sess *store.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_sessions (token_hash, user_id, username, is_admin, is_banned, ip, user_agent, issued_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sess.TokenHash, sess.UserID, sess.Username, sess.IsAdmin, sess.IsBanned, sess.IP, sess.UserAgent, sess.IssuedAt, sess.ExpiresAt,
	)
	return mapErr(err)
}

func (s *Store) GetSession(ctx context.Context, tokenHash string) (*store.Session, error) {
	var sess store.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT token_hash, user_id, username, is_admin, is_banned, ip, user_agent, issued_at, expires_at
		 FROM user_sessions WHERE token_hash = $1`, tokenHash,
	).Scan(&sess.TokenHash, &sess.UserID, &sess.Username, &sess.IsAdmin, &sess.IsBanned, &sess.IP, &sess.UserAgent, &sess.IssuedAt, &sess.ExpiresAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE token_hash = $1`, tokenHash)
	return mapErr(err)
}

func (s *Store) DeleteUserSessions(ctx context.Context, userID string) (int, error) {
	return s.execCount(ctx, `DELETE FROM user_sessions WHERE user_id = $1`, userID)
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	return s.execCount(ctx, `DELETE FROM user_sessions WHERE expires_at <= $1`, now)
}

func (s *Store) execCount(ctx context.Context, query string, args ...any) (int, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Store) InsertAuditEvent(ctx context.Context, e *store.AuditEvent) error {
	details, err := json.Marshal(nonNilDetails(e.ActionDetails))
	if err != nil {
		return fmt.Errorf("encode action details: %w", err)
	}
	// lib/pq sends []byte as bytea, so json goes over the wire as text.
	var geo any
	if e.Geo != nil {
		raw, err := json.Marshal(e.Geo)
		if err != nil {
			return fmt.Errorf("encode geo: %w", err)
		}
		geo = string(raw)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO security_audit_logs
		 (id, user_id, event_type, event_category, severity, source_ip, user_agent, resource_accessed,
		  action_details, success, error_message, risk_score, threat_indicators, geo, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		e.ID, e.UserID, e.EventType, string(e.Category), string(e.Severity), e.SourceIP, e.UserAgent, e.ResourceAccessed,
		string(details), e.Success, e.ErrorMessage, e.RiskScore, pq.Array(nonNilStrings(e.ThreatIndicators)), geo, e.CreatedAt,
	)
	return mapErr(err)
}

// whereBuilder accumulates positional predicates.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(w.args))))
}

func (w *whereBuilder) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func auditWhere(f store.AuditFilter) *whereBuilder {
	w := &whereBuilder{}
	if f.UserID != "" {
		w.add("user_id = ?", f.UserID)
	}
	if f.EventType != "" {
		w.add("event_type = ?", f.EventType)
	}
	if f.Category != "" {
		w.add("event_category = ?", string(f.Category))
	}
	if f.Severity != "" {
		w.add("severity = ?", string(f.Severity))
	}
	if f.MinRiskScore > 0 {
		w.add("risk_score >= ?", f.MinRiskScore)
	}
	if !f.From.IsZero() {
		w.add("created_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		w.add("created_at < ?", f.To)
	}
	return w
}

func (s *Store) ListAuditEvents(ctx context.Context, f store.AuditFilter) ([]store.AuditEvent, int, error) {
	w := auditWhere(f)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM security_audit_logs`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, mapErr(err)
	}

	query := `SELECT id, user_id, event_type, event_category, severity, source_ip, user_agent, resource_accessed,
		action_details, success, error_message, risk_score, threat_indicators, geo, created_at
		FROM security_audit_logs` + w.String() + ` ORDER BY created_at DESC` + limitOffset(f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, 0, mapErr(err)
	}
	defer rows.Close()

	events := make([]store.AuditEvent, 0)
	for rows.Next() {
		var (
			e          store.AuditEvent
			category   string
			severity   string
			details    []byte
			geo        []byte
			indicators pq.StringArray
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.EventType, &category, &severity, &e.SourceIP, &e.UserAgent, &e.ResourceAccessed,
			&details, &e.Success, &e.ErrorMessage, &e.RiskScore, &indicators, &geo, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.Category = store.Category(category)
		e.Severity = store.Severity(severity)
		e.ThreatIndicators = []string(indicators)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.ActionDetails); err != nil {
				return nil, 0, fmt.Errorf("decode action details: %w", err)
			}
		}
		if len(geo) > 0 {
			e.Geo = &store.GeoLocation{}
			if err := json.Unmarshal(geo, e.Geo); err != nil {
				return nil, 0, fmt.Errorf("decode geo: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return events, total, nil
}

func (s *Store) AuditStats(ctx context.Context, q store.StatsQuery) (*store.AuditStats, error) {
	stats := &store.AuditStats{RiskBuckets: make(map[string]int, len(store.RiskBuckets))}
	for _, b := range store.RiskBuckets {
		stats.RiskBuckets[b] = 0
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE risk_score >= $3),
		        COUNT(*) FILTER (WHERE LOWER(event_type) LIKE ANY($4)),
		        COUNT(*) FILTER (WHERE event_category = 'admin')
		 FROM security_audit_logs WHERE created_at >= $1 AND created_at < $2`,
		q.From, q.To, q.HighRiskThreshold, pq.Array(failedLoginPatterns()),
	).Scan(&stats.TotalEvents, &stats.HighRiskCount, &stats.FailedLogins, &stats.AdminActions)
	if err != nil {
		return nil, mapErr(err)
	}

	topN := q.TopN
	if topN <= 0 {
		topN = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, COUNT(*) AS n FROM security_audit_logs
		 WHERE created_at >= $1 AND created_at < $2
		 GROUP BY event_type ORDER BY n DESC, event_type ASC LIMIT $3`,
		q.From, q.To, topN,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	for rows.Next() {
		var c store.EventTypeCount
		if err := rows.Scan(&c.EventType, &c.Count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.TopEventTypes = append(stats.TopEventTypes, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT CASE
		          WHEN risk_score >= 90 THEN '90-100'
		          WHEN risk_score >= 70 THEN '70-89'
		          WHEN risk_score >= 40 THEN '40-69'
		          WHEN risk_score >= 20 THEN '20-39'
		          ELSE '0-19'
		        END AS bucket, COUNT(*)
		 FROM security_audit_logs WHERE created_at >= $1 AND created_at < $2
		 GROUP BY bucket`,
		q.From, q.To,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			bucket string
			n      int
		)
		if err := rows.Scan(&bucket, &n); err != nil {
			return nil, err
		}
		stats.RiskBuckets[bucket] = n
	}

	return stats, rows.Err()
}

func (s *Store) InsertIncident(ctx context.Context, inc *store.SecurityIncident) error {
	indicators, err := json.Marshal(nonNilIndicators(inc.Indicators))
	if err != nil {
		return fmt.Errorf("encode indicators: %w", err)
	}
	timeline, err := json.Marshal(nonNilTimeline(inc.Timeline))
	if err != nil {
		return fmt.Errorf("encode timeline: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO security_incidents
		 (id, incident_type, severity, status, affected_users, source_ips, indicators, timeline, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		inc.ID, inc.IncidentType, string(inc.Severity), string(inc.Status),
		pq.Array(nonNilStrings(inc.AffectedUsers)), pq.Array(nonNilStrings(inc.SourceIPs)),
		string(indicators), string(timeline), inc.CreatedAt,
	)
	return mapErr(err)
}

func (s *Store) ListIncidents(ctx context.Context, f store.IncidentFilter) ([]store.SecurityIncident, int, error) {
	w := &whereBuilder{}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.Severity != "" {
		w.add("severity = ?", string(f.Severity))
	}
	if !f.From.IsZero() {
		w.add("created_at >= ?", f.From)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM security_incidents`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, mapErr(err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, incident_type, severity, status, affected_users, source_ips, indicators, timeline, created_at
		 FROM security_incidents`+w.String()+` ORDER BY created_at DESC`+limitOffset(f.Limit, f.Offset),
		w.args...,
	)
	if err != nil {
		return nil, 0, mapErr(err)
	}
	defer rows.Close()

	incidents := make([]store.SecurityIncident, 0)
	for rows.Next() {
		var (
			inc        store.SecurityIncident
			severity   string
			status     string
			users      pq.StringArray
			ips        pq.StringArray
			indicators []byte
			timeline   []byte
		)
		if err := rows.Scan(&inc.ID, &inc.IncidentType, &severity, &status, &users, &ips, &indicators, &timeline, &inc.CreatedAt); err != nil {
			return nil, 0, err
		}
		inc.Severity = store.Severity(severity)
		inc.Status = store.IncidentStatus(status)
		inc.AffectedUsers = []string(users)
		inc.SourceIPs = []string(ips)
		if err := json.Unmarshal(indicators, &inc.Indicators); err != nil {
			return nil, 0, fmt.Errorf("decode indicators: %w", err)
		}
		if err := json.Unmarshal(timeline, &inc.Timeline); err != nil {
			return nil, 0, fmt.Errorf("decode timeline: %w", err)
		}
		incidents = append(incidents, inc)
	}

	return incidents, total, rows.Err()
}

func (s *Store) GetMFASettings(ctx context.Context, userID string) (*store.MFASettings, error) {
	var (
		m     store.MFASettings
		codes pq.StringArray
		last  sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, totp_secret, backup_codes, is_enabled, last_used_at, created_at, updated_at
		 FROM user_mfa_settings WHERE user_id = $1`, userID,
	).Scan(&m.UserID, &m.TOTPSecret, &codes, &m.IsEnabled, &last, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	m.BackupCodes = []string(codes)
	if last.Valid {
		t := last.Time
		m.LastUsedAt = &t
	}
	return &m, nil
}

func (s *Store) UpsertMFASettings(ctx context.Context, m *store.MFASettings) error {
	var last sql.NullTime
	if m.LastUsedAt != nil {
		last = sql.NullTime{Time: *m.LastUsedAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_mfa_settings (user_id, totp_secret, backup_codes, is_enabled, last_used_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id) DO UPDATE SET
		   totp_secret = EXCLUDED.totp_secret,
		   backup_codes = EXCLUDED.backup_codes,
		   is_enabled = EXCLUDED.is_enabled,
		   last_used_at = EXCLUDED.last_used_at,
		   updated_at = EXCLUDED.updated_at`,
		m.UserID, m.TOTPSecret, pq.Array(nonNilStrings(m.BackupCodes)), m.IsEnabled, last, m.CreatedAt, m.UpdatedAt,
	)
	return mapErr(err)
}

func (s *Store) RemoveBackupCode(ctx context.Context, userID, code string, usedAt time.Time) (bool, error) {
	n, err := s.execCount(ctx,
		`UPDATE user_mfa_settings
		 SET backup_codes = array_remove(backup_codes, $2), last_used_at = $3, updated_at = $3
		 WHERE user_id = $1 AND $2 = ANY(backup_codes)`,
		userID, code, usedAt,
	)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) EnableMFA(ctx context.Context, userID string, at time.Time) error {
	return s.updateMFA(ctx,
		`UPDATE user_mfa_settings SET is_enabled = TRUE, last_used_at = $2, updated_at = $2 WHERE user_id = $1`,
		userID, at,
	)
}

func (s *Store) TouchMFA(ctx context.Context, userID string, usedAt time.Time) error {
	return s.updateMFA(ctx,
		`UPDATE user_mfa_settings SET last_used_at = $2, updated_at = $2 WHERE user_id = $1`,
		userID, usedAt,
	)
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, userID string, codes []string, at time.Time) error {
	return s.updateMFA(ctx,
		`UPDATE user_mfa_settings SET backup_codes = $2, updated_at = $3 WHERE user_id = $1`,
		userID, pq.Array(nonNilStrings(codes)), at,
	)
}

func (s *Store) DisableMFA(ctx context.Context, userID string, at time.Time) error {
	return s.updateMFA(ctx,
		`UPDATE user_mfa_settings SET totp_secret = '', backup_codes = '{}', is_enabled = FALSE, updated_at = $2 WHERE user_id = $1`,
		userID, at,
	)
}

func (s *Store) updateMFA(ctx context.Context, query string, args ...any) error {
	n, err := s.execCount(ctx, query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func failedLoginPatterns() []string {
	out := make([]string, len(store.FailedLoginMarkers))
	for i, m := range store.FailedLoginMarkers {
		out[i] = "%" + m + "%"
	}
	return out
}

func limitOffset(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(limit))
	}
	if offset > 0 {
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.Itoa(offset))
	}
	return b.String()
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilDetails(v map[string]any) map[string]any {
	if v == nil {
		return map[string]any{}
	}
	return v
}

func nonNilIndicators(v []store.Indicator) []store.Indicator {
	if v == nil {
		return []store.Indicator{}
	}
	return v
}

func nonNilTimeline(v []store.TimelineEntry) []store.TimelineEntry {
	if v == nil {
		return []store.TimelineEntry{}
	}
	return v
}
