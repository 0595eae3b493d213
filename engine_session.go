package trustcore

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/trustcore/crypto"
	"github.com/MrEthical07/trustcore/jwt"
	"github.com/MrEthical07/trustcore/store"
)

// SessionMeta is recorded on the session row.
type SessionMeta struct {
	IP        string
	UserAgent string
}

// GenerateToken signs a token for user and stores the matching session row
// with the same expiry. No token is returned if the row cannot be stored.
func (e *Engine) GenerateToken(ctx context.Context, user *store.User, meta SessionMeta) (string, time.Time, error) {
	if user == nil || user.ID == "" {
		return "", time.Time{}, &ValidationError{Field: "user", Reason: "is required"}
	}

	token, claims, err := e.tokens.Issue(jwt.Subject{
		UserID:   user.ID,
		Username: user.Username,
		IsAdmin:  user.IsAdmin,
		IsBanned: user.IsBanned,
	})
	if err != nil {
		return "", time.Time{}, &CryptoError{Op: "sign_token", Err: err}
	}

	if meta.IP == "" {
		meta.IP = clientIPFromContext(ctx)
	}
	if meta.UserAgent == "" {
		meta.UserAgent = userAgentFromContext(ctx)
	}

	sess := &store.Session{
		TokenHash: crypto.HashToken(token),
		UserID:    user.ID,
		Username:  user.Username,
		IsAdmin:   user.IsAdmin,
		IsBanned:  user.IsBanned,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if err := e.sessions.InsertSession(ctx, sess); err != nil {
		return "", time.Time{}, storeErr("insert_session", err)
	}

	e.metrics.Inc(MetricSessionCreated)
	return token, sess.ExpiresAt, nil
}

// VerifyToken checks only the signature and expiry of token and returns the
// user fields it carries, or nil. The result may be stale; use
// ValidateSession to authorize anything.
func (e *Engine) VerifyToken(token string) *store.User {
	claims, err := e.tokens.Verify(token)
	if err != nil {
		return nil
	}
	return &store.User{
		ID:       claims.UserID,
		Username: claims.Username,
		IsAdmin:  claims.IsAdmin,
		IsBanned: claims.IsBanned,
	}
}

// ValidateSession is the authoritative check. The token must verify, a
// matching unexpired row must exist, and the user's current record must not
// be banned. Expired and banned sessions are deleted on the way out. Every
// rejection is an *AuthenticationError whose message does not say why.
func (e *Engine) ValidateSession(ctx context.Context, token string) (*store.User, error) {
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	claims, err := e.tokens.Verify(token)
	if err != nil {
		return nil, e.rejectSession(ctx, ReasonInvalidToken, "")
	}

	hash := crypto.HashToken(token)
	sess, err := e.sessions.GetSession(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, e.rejectSession(ctx, ReasonSessionNotFound, claims.UserID)
		}
		return nil, storeErr("get_session", err)
	}

	if sess.Expired(e.now()) {
		e.dropSession(ctx, hash)
		e.metrics.Inc(MetricSessionExpired)
		return nil, e.rejectSession(ctx, ReasonSessionExpired, sess.UserID)
	}

	user, err := e.users.GetUser(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.dropSession(ctx, hash)
			return nil, e.rejectSession(ctx, ReasonUserNotFound, sess.UserID)
		}
		return nil, storeErr("get_user", err)
	}

	if user.IsBanned {
		e.dropSession(ctx, hash)
		e.metrics.Inc(MetricSessionBanRevoked)
		return nil, e.rejectSession(ctx, ReasonUserBanned, user.ID)
	}

	e.metrics.Inc(MetricSessionValidated)
	return user, nil
}

func (e *Engine) dropSession(ctx context.Context, hash string) {
	if err := e.sessions.DeleteSession(ctx, hash); err != nil {
		e.log.Error().Err(err).Msg("session delete failed")
	}
}

func (e *Engine) rejectSession(ctx context.Context, reason, userID string) error {
	e.metrics.Inc(MetricSessionRejected)
	e.log.Debug().Str("user_id", userID).Str("reason", reason).Msg("session rejected")

	severity := store.SeverityLow
	if reason == ReasonUserBanned {
		severity = store.SeverityMedium
	}
	e.emitAudit(ctx, "session_rejected", userID, store.CategoryAuthentication, severity, false,
		map[string]any{"reason": reason})

	return authFailure(reason)
}

// LogoutUser deletes the session row for token. It succeeds for unknown,
// expired and malformed tokens alike.
func (e *Engine) LogoutUser(ctx context.Context, token string) error {
	if token == "" {
		return &ValidationError{Field: "token", Reason: "is required"}
	}

	if err := e.sessions.DeleteSession(ctx, crypto.HashToken(token)); err != nil {
		return storeErr("delete_session", err)
	}
	e.metrics.Inc(MetricLogout)

	var userID string
	if u := e.VerifyToken(token); u != nil {
		userID = u.ID
	}
	e.emitAudit(ctx, "logout", userID, store.CategoryAuthentication, store.SeverityInfo, true, nil)
	return nil
}

// LogoutAll deletes every session of userID and returns how many existed.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, &ValidationError{Field: "user_id", Reason: "is required"}
	}

	n, err := e.sessions.DeleteUserSessions(ctx, userID)
	if err != nil {
		return 0, storeErr("delete_user_sessions", err)
	}
	e.metrics.Inc(MetricLogoutAll)
	e.emitAudit(ctx, "logout_all", userID, store.CategoryAuthentication, store.SeverityInfo, true,
		map[string]any{"sessions": n})
	return n, nil
}

// BanUser sets the ban flag on the user record. Existing sessions are left
// in place; the next ValidateSession for each of them deletes it.
func (e *Engine) BanUser(ctx context.Context, userID string, banned bool) error {
	if userID == "" {
		return &ValidationError{Field: "user_id", Reason: "is required"}
	}

	if err := e.users.SetUserBanned(ctx, userID, banned); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &ValidationError{Field: "user_id", Reason: "unknown user"}
		}
		return storeErr("set_user_banned", err)
	}

	eventType, severity := "user_unbanned", store.SeverityLow
	if banned {
		eventType, severity = "user_banned", store.SeverityMedium
		e.metrics.Inc(MetricUserBanned)
	}
	e.emitAudit(ctx, eventType, userID, store.CategoryAdmin, severity, true, nil)
	return nil
}

// SweepExpiredSessions deletes rows past their expiry. Lazy expiry in
// ValidateSession is what keeps expired sessions out; this is cleanup.
func (e *Engine) SweepExpiredSessions(ctx context.Context) (int, error) {
	n, err := e.sessions.DeleteExpiredSessions(ctx, e.now())
	if err != nil {
		return 0, storeErr("delete_expired_sessions", err)
	}
	e.metrics.Add(MetricSessionsSwept, uint64(n))
	return n, nil
}

// StartSweeper runs SweepExpiredSessions every interval until ctx is done or
// the engine is closed. A zero interval uses Session.SweepInterval.
func (e *Engine) StartSweeper(ctx context.Context, interval time.Duration) error {
	if interval == 0 {
		interval = e.config.Session.SweepInterval
	}
	if interval <= 0 {
		return &ValidationError{Field: "interval", Reason: "must be positive"}
	}
	if e.closed.Load() {
		return ErrEngineClosed
	}

	e.workers.Add(1)
	go func() {
		defer e.workers.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stop:
				return
			case <-ticker.C:
				n, err := e.SweepExpiredSessions(ctx)
				if err != nil {
					e.log.Warn().Err(err).Msg("session sweep failed")
					continue
				}
				if n > 0 {
					e.log.Debug().Int("sessions", n).Msg("expired sessions swept")
				}
			}
		}
	}()
	return nil
}
