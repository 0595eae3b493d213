package trustcore

import (
	"context"

	"github.com/MrEthical07/trustcore/store"
)

// AuthorizeMessageSend applies the message limiter and then validates the
// session. The limiter is keyed by the token's user id, or by the client IP
// when the token does not verify, so a bad token still counts.
func (e *Engine) AuthorizeMessageSend(ctx context.Context, token string) (*store.User, error) {
	key := "ip:" + clientIPFromContext(ctx)
	if claims, err := e.tokens.Verify(token); err == nil {
		key = "user:" + claims.UserID
	}

	allowed, err := e.messageLimiter.IsAllowed(ctx, key)
	if err != nil {
		return nil, storeErr("message_rate_limit", err)
	}
	if !allowed {
		retry, err := e.messageLimiter.RemainingTime(ctx, key)
		if err != nil {
			return nil, storeErr("message_rate_limit", err)
		}
		e.metrics.Inc(MetricMessageRateLimited)
		return nil, &RateLimitedError{Scope: "message", RetryAfter: retry}
	}

	user, err := e.ValidateSession(ctx, token)
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricMessageAllowed)
	return user, nil
}
