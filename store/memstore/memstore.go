// Package memstore is an in-memory store.Store. It suits tests, the load
// generator and single-process deployments that accept losing state on
// restart.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/trustcore/store"
)

// Store keeps every table in maps guarded by one RWMutex. Values are copied
// on the way in and out so callers never share memory with the store.
type Store struct {
	mu sync.RWMutex

	users     map[string]*store.User
	usernames map[string]string
	sessions  map[string]*store.Session
	audit     []store.AuditEvent
	incidents []store.SecurityIncident
	mfa       map[string]*store.MFASettings
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:     make(map[string]*store.User),
		usernames: make(map[string]string),
		sessions:  make(map[string]*store.Session),
		mfa:       make(map[string]*store.MFASettings),
	}
}

func usernameKey(username string) string {
	return strings.ToLower(username)
}

func (s *Store) CreateUser(_ context.Context, u *store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return store.ErrConflict
	}
	if _, ok := s.usernames[usernameKey(u.Username)]; ok {
		return store.ErrConflict
	}
	cp := *u
	s.users[u.ID] = &cp
	s.usernames[usernameKey(u.Username)] = u.ID
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernames[usernameKey(username)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *Store) SetUserBanned(_ context.Context, id string, banned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.IsBanned = banned
	return nil
}

func (s *Store) InsertSession(_ context.Context, sess *store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.TokenHash]; ok {
		return store.ErrConflict
	}
	cp := *sess
	s.sessions[sess.TokenHash] = &cp
	return nil
}

func (s *Store) GetSession(_ context.Context, tokenHash string) (*store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[tokenHash]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) DeleteSession(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	delete(s.sessions, tokenHash)
	s.mu.Unlock()
	return nil
}

func (s *Store) DeleteUserSessions(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for hash, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, hash)
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteExpiredSessions(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for hash, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, hash)
			n++
		}
	}
	return n, nil
}

// SessionCount reports stored session rows, expired or not.
func (s *Store) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) InsertAuditEvent(_ context.Context, e *store.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, cloneEvent(e))
	return nil
}

func (s *Store) ListAuditEvents(_ context.Context, f store.AuditFilter) ([]store.AuditEvent, int, error) {
	s.mu.RLock()
	matched := make([]store.AuditEvent, 0)
	for i := range s.audit {
		if f.Match(&s.audit[i]) {
			matched = append(matched, cloneEvent(&s.audit[i]))
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	return paginate(matched, f.Offset, f.Limit), len(matched), nil
}

func (s *Store) AuditStats(_ context.Context, q store.StatsQuery) (*store.AuditStats, error) {
	stats := &store.AuditStats{RiskBuckets: make(map[string]int, len(store.RiskBuckets))}
	for _, b := range store.RiskBuckets {
		stats.RiskBuckets[b] = 0
	}
	types := make(map[string]int)
	window := store.AuditFilter{From: q.From, To: q.To}

	s.mu.RLock()
	for i := range s.audit {
		e := &s.audit[i]
		if !window.Match(e) {
			continue
		}
		stats.TotalEvents++
		if e.RiskScore >= q.HighRiskThreshold {
			stats.HighRiskCount++
		}
		if store.IsFailedLogin(e) {
			stats.FailedLogins++
		}
		if e.Category == store.CategoryAdmin {
			stats.AdminActions++
		}
		types[e.EventType]++
		stats.RiskBuckets[store.RiskBucket(e.RiskScore)]++
	}
	s.mu.RUnlock()

	for t, n := range types {
		stats.TopEventTypes = append(stats.TopEventTypes, store.EventTypeCount{EventType: t, Count: n})
	}
	sort.Slice(stats.TopEventTypes, func(i, j int) bool {
		a, b := stats.TopEventTypes[i], stats.TopEventTypes[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.EventType < b.EventType
	})
	if q.TopN > 0 && len(stats.TopEventTypes) > q.TopN {
		stats.TopEventTypes = stats.TopEventTypes[:q.TopN]
	}

	return stats, nil
}

func (s *Store) InsertIncident(_ context.Context, inc *store.SecurityIncident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *inc
	cp.AffectedUsers = append([]string(nil), inc.AffectedUsers...)
	cp.SourceIPs = append([]string(nil), inc.SourceIPs...)
	cp.Indicators = append([]store.Indicator(nil), inc.Indicators...)
	cp.Timeline = append([]store.TimelineEntry(nil), inc.Timeline...)
	s.incidents = append(s.incidents, cp)
	return nil
}

func (s *Store) ListIncidents(_ context.Context, f store.IncidentFilter) ([]store.SecurityIncident, int, error) {
	s.mu.RLock()
	matched := make([]store.SecurityIncident, 0)
	for _, inc := range s.incidents {
		if f.Status != "" && inc.Status != f.Status {
			continue
		}
		if f.Severity != "" && inc.Severity != f.Severity {
			continue
		}
		if !f.From.IsZero() && inc.CreatedAt.Before(f.From) {
			continue
		}
		matched = append(matched, inc)
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	return paginate(matched, f.Offset, f.Limit), len(matched), nil
}

func (s *Store) GetMFASettings(_ context.Context, userID string) (*store.MFASettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mfa[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m.Clone(), nil
}

func (s *Store) UpsertMFASettings(_ context.Context, m *store.MFASettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := m.Clone()
	if existing, ok := s.mfa[m.UserID]; ok && !existing.CreatedAt.IsZero() {
		cp.CreatedAt = existing.CreatedAt
	}
	s.mfa[m.UserID] = cp
	return nil
}

func (s *Store) RemoveBackupCode(_ context.Context, userID, code string, usedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mfa[userID]
	if !ok {
		return false, nil
	}
	for i, c := range m.BackupCodes {
		if c == code {
			m.BackupCodes = append(m.BackupCodes[:i:i], m.BackupCodes[i+1:]...)
			t := usedAt
			m.LastUsedAt = &t
			m.UpdatedAt = usedAt
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) EnableMFA(_ context.Context, userID string, at time.Time) error {
	return s.updateMFA(userID, func(m *store.MFASettings) {
		t := at
		m.IsEnabled = true
		m.LastUsedAt = &t
		m.UpdatedAt = at
	})
}

func (s *Store) TouchMFA(_ context.Context, userID string, usedAt time.Time) error {
	return s.updateMFA(userID, func(m *store.MFASettings) {
		t := usedAt
		m.LastUsedAt = &t
		m.UpdatedAt = usedAt
	})
}

func (s *Store) ReplaceBackupCodes(_ context.Context, userID string, codes []string, at time.Time) error {
	return s.updateMFA(userID, func(m *store.MFASettings) {
		m.BackupCodes = append([]string(nil), codes...)
		m.UpdatedAt = at
	})
}

func (s *Store) DisableMFA(_ context.Context, userID string, at time.Time) error {
	return s.updateMFA(userID, func(m *store.MFASettings) {
		m.TOTPSecret = ""
		m.BackupCodes = nil
		m.IsEnabled = false
		m.UpdatedAt = at
	})
}

func (s *Store) updateMFA(userID string, apply func(*store.MFASettings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.mfa[userID]
	if !ok {
		return store.ErrNotFound
	}
	apply(m)
	return nil
}

func cloneEvent(e *store.AuditEvent) store.AuditEvent {
	cp := *e
	cp.ThreatIndicators = append([]string(nil), e.ThreatIndicators...)
	if e.ActionDetails != nil {
		cp.ActionDetails = make(map[string]any, len(e.ActionDetails))
		for k, v := range e.ActionDetails {
			cp.ActionDetails[k] = v
		}
	}
	if e.Geo != nil {
		g := *e.Geo
		cp.Geo = &g
	}
	return cp
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
