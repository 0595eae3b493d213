package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// The window is the key's PX expiry, so an expired window is simply a missing
// key and gets replaced by SET.
const allowScript = `
local max = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local count = redis.call("GET", KEYS[1])
if not count then
  redis.call("SET", KEYS[1], 1, "PX", window)
  return {1, window}
end
local ttl = redis.call("PTTL", KEYS[1])
if tonumber(count) >= max then
  return {0, ttl}
end
redis.call("INCR", KEYS[1])
return {1, ttl}
`

var allowLua = redis.NewScript(allowScript)

// RedisLimiter is a Limiter shared by every process using the same Redis.
type RedisLimiter struct {
	redis  redis.UniversalClient
	prefix string
	cfg    Config
}

// NewRedisLimiter returns a limiter storing counters under prefix.
func NewRedisLimiter(client redis.UniversalClient, prefix string, cfg Config) (*RedisLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("%w: nil client", ErrRedisUnavailable)
	}
	return &RedisLimiter{redis: client, prefix: prefix, cfg: cfg}, nil
}

func (l *RedisLimiter) key(identifier string) string {
	return l.prefix + identifier
}

// IsAllowed atomically applies one attempt for identifier.
func (l *RedisLimiter) IsAllowed(ctx context.Context, identifier string) (bool, error) {
	if identifier == "" {
		return false, ErrEmptyIdentifier
	}

	res, err := allowLua.Run(ctx, l.redis, []string{l.key(identifier)}, l.cfg.MaxAttempts, l.cfg.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return false, fmt.Errorf("%w: unexpected script reply", ErrRedisUnavailable)
	}

	return res[0] == 1, nil
}

// Reset deletes identifier's counter.
func (l *RedisLimiter) Reset(ctx context.Context, identifier string) error {
	if err := l.redis.Del(ctx, l.key(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RemainingTime returns the counter's remaining expiry.
func (l *RedisLimiter) RemainingTime(ctx context.Context, identifier string) (time.Duration, error) {
	ttl, err := l.redis.PTTL(ctx, l.key(identifier)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
