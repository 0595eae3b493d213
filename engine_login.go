package trustcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/trustcore/mfa"
	"github.com/MrEthical07/trustcore/store"
)

// LoginRequest carries credentials and an optional second factor.
type LoginRequest struct {
	Username string
	Password string
	// Identifier keys the login limiter. Empty falls back to the client IP
	// on the context, then to the username.
	Identifier string
	MFACode    string
	// MFAMethod defaults to TOTP.
	MFAMethod mfa.Method
}

// LoginResult is returned by a successful Login, and with MFARequired set
// alongside ErrMFARequired.
type LoginResult struct {
	Token       string
	User        *store.User
	ExpiresAt   time.Time
	MFARequired bool
}

// Login runs the rate-limited password and MFA flow and issues a session.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if req.Username == "" {
		return nil, &ValidationError{Field: "username", Reason: "is required"}
	}
	if req.Password == "" {
		return nil, &ValidationError{Field: "password", Reason: "is required"}
	}

	identifier := req.Identifier
	if identifier == "" {
		identifier = clientIPFromContext(ctx)
	}
	if identifier == "" {
		identifier = strings.ToLower(req.Username)
	}

	allowed, err := e.loginLimiter.IsAllowed(ctx, identifier)
	if err != nil {
		return nil, storeErr("login_rate_limit", err)
	}
	if !allowed {
		retry, err := e.loginLimiter.RemainingTime(ctx, identifier)
		if err != nil {
			return nil, storeErr("login_rate_limit", err)
		}
		e.metrics.Inc(MetricLoginRateLimited)
		e.emitAudit(ctx, "login_rate_limited", "", store.CategoryAuthentication, store.SeverityMedium, false,
			map[string]any{"username": req.Username, "retry_after_seconds": int(retry.Seconds())})
		return nil, &RateLimitedError{Scope: "login", RetryAfter: retry}
	}

	user, err := e.users.GetUserByUsername(ctx, req.Username)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, storeErr("get_user_by_username", err)
	}
	if user == nil {
		e.VerifyPassword(req.Password, e.dummyPasswordHash())
		return nil, e.failLogin(ctx, "", req.Username, ReasonUserNotFound)
	}
	if !e.VerifyPassword(req.Password, user.PasswordHash) {
		return nil, e.failLogin(ctx, user.ID, req.Username, ReasonInvalidCredentials)
	}

	if user.IsBanned {
		e.metrics.Inc(MetricLoginBanned)
		e.emitAudit(ctx, "login_banned", user.ID, store.CategoryAuthentication, store.SeverityHigh, false, nil)
		return nil, authFailure(ReasonUserBanned)
	}

	enabled, err := e.mfa.Enabled(ctx, user.ID)
	if err != nil {
		return nil, storeErr("mfa_status", err)
	}
	if enabled {
		if req.MFACode == "" {
			e.metrics.Inc(MetricMFARequired)
			return &LoginResult{MFARequired: true}, ErrMFARequired
		}
		method := req.MFAMethod
		if method == "" {
			method = mfa.MethodTOTP
		}
		if err := e.mfa.VerifyToken(ctx, user.ID, req.MFACode, method); err != nil {
			if errors.Is(err, mfa.ErrInvalidCode) {
				e.metrics.Inc(MetricMFAFailure)
				return nil, e.failLogin(ctx, user.ID, req.Username, ReasonInvalidMFACode)
			}
			return nil, mapMFAErr("verify_mfa", err)
		}
		e.metrics.Inc(MetricMFASuccess)
		if method == mfa.MethodBackupCode {
			e.metrics.Inc(MetricBackupCodeUsed)
		}
	}

	token, expiresAt, err := e.GenerateToken(ctx, user, SessionMeta{})
	if err != nil {
		return nil, err
	}

	if e.config.RateLimit.ResetLoginOnSuccess {
		if err := e.loginLimiter.Reset(ctx, identifier); err != nil {
			e.log.Warn().Err(err).Msg("login limiter reset failed")
		}
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, "login_success", user.ID, store.CategoryAuthentication, store.SeverityInfo, true,
		map[string]any{"mfa": enabled})

	return &LoginResult{Token: token, User: user, ExpiresAt: expiresAt}, nil
}

func (e *Engine) failLogin(ctx context.Context, userID, username, reason string) error {
	e.metrics.Inc(MetricLoginFailure)
	e.log.Debug().Str("user_id", userID).Str("reason", reason).Msg("login failed")
	e.emitAudit(ctx, "failed_login", userID, store.CategoryAuthentication, store.SeverityMedium, false,
		map[string]any{"username": username, "reason": reason})
	return authFailure(reason)
}

const (
	minUsernameLen = 3
	maxUsernameLen = 32
	minPasswordLen = 8
)

// RegisterUser creates an account with a hashed password. Usernames are
// 3 to 32 characters of letters, digits, '_', '.' and '-'.
func (e *Engine) RegisterUser(ctx context.Context, username, password string, isAdmin bool) (*store.User, error) {
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if len(password) < minPasswordLen {
		return nil, &ValidationError{Field: "password", Reason: "must be at least 8 characters"}
	}

	hash, err := e.HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &store.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		IsAdmin:      isAdmin,
		CreatedAt:    e.now().UTC(),
	}
	if err := e.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrUsernameTaken
		}
		return nil, storeErr("create_user", err)
	}

	e.metrics.Inc(MetricUserRegistered)
	e.emitAudit(ctx, "user_registered", u.ID, store.CategoryAuthentication, store.SeverityInfo, true,
		map[string]any{"admin": isAdmin})
	return u, nil
}

func validateUsername(username string) error {
	if n := len(username); n < minUsernameLen || n > maxUsernameLen {
		return &ValidationError{Field: "username", Reason: "must be 3 to 32 characters"}
	}
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '.', r == '-':
		default:
			return &ValidationError{Field: "username", Reason: "contains an invalid character"}
		}
	}
	return nil
}
