package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/trustcore"
	"github.com/MrEthical07/trustcore/store"
)

type userContextKey struct{}

// UserFromContext returns the user stored by a guard.
func UserFromContext(ctx context.Context) (*store.User, bool) {
	u, ok := ctx.Value(userContextKey{}).(*store.User)
	return u, ok
}

// Guard rejects requests without a valid session.
func Guard(engine *trustcore.Engine) func(http.Handler) http.Handler {
	return guard(engine, func(ctx context.Context, token string) (*store.User, error) {
		return engine.ValidateSession(ctx, token)
	}, false)
}

// RequireAdmin rejects requests whose user is not currently an admin. The
// flag is read from the user record, not from the token.
func RequireAdmin(engine *trustcore.Engine) func(http.Handler) http.Handler {
	return guard(engine, func(ctx context.Context, token string) (*store.User, error) {
		return engine.ValidateSession(ctx, token)
	}, true)
}

// MessageGuard applies the message-send limit and then the session check.
func MessageGuard(engine *trustcore.Engine) func(http.Handler) http.Handler {
	return guard(engine, func(ctx context.Context, token string) (*store.User, error) {
		return engine.AuthorizeMessageSend(ctx, token)
	}, false)
}

type checkFunc func(ctx context.Context, token string) (*store.User, error)

func guard(engine *trustcore.Engine, check checkFunc, admin bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := RequestContext(r)
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			user, err := check(ctx, token)
			if err != nil {
				writeError(w, err)
				return
			}
			if admin && !user.IsAdmin {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx = context.WithValue(ctx, userContextKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestContext returns r's context carrying the client IP and User-Agent
// for rate-limit keys and audit events. Handlers that call Engine.Login
// directly should use it too.
func RequestContext(r *http.Request) context.Context {
	ctx := r.Context()
	if ip := clientIP(r); ip != "" {
		ctx = trustcore.WithClientIP(ctx, ip)
	}
	if ua := r.UserAgent(); ua != "" {
		ctx = trustcore.WithUserAgent(ctx, ua)
	}
	return ctx
}

func writeError(w http.ResponseWriter, err error) {
	var rl *trustcore.RateLimitedError
	switch {
	case errors.As(err, &rl):
		secs := int((rl.RetryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	case errors.Is(err, trustcore.ErrStore):
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
