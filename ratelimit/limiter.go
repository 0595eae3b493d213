package ratelimit

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidConfig is returned for non-positive limits or windows.
	ErrInvalidConfig = errors.New("invalid rate limit configuration")
	// ErrEmptyIdentifier is returned when the caller passes an empty key.
	ErrEmptyIdentifier = errors.New("rate limit identifier must not be empty")
	// ErrRedisUnavailable wraps Redis transport failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Limiter is satisfied by MemoryLimiter and RedisLimiter.
type Limiter interface {
	IsAllowed(ctx context.Context, identifier string) (bool, error)
	Reset(ctx context.Context, identifier string) error
	RemainingTime(ctx context.Context, identifier string) (time.Duration, error)
}

// Config bounds one limiter instance.
type Config struct {
	MaxAttempts int
	Window      time.Duration
}

// LoginConfig allows 5 attempts per 15 minutes.
func LoginConfig() Config {
	return Config{MaxAttempts: 5, Window: 15 * time.Minute}
}

// MessageConfig allows 30 sends per minute.
func MessageConfig() Config {
	return Config{MaxAttempts: 30, Window: time.Minute}
}

// Validate reports whether c can drive a limiter.
func (c Config) Validate() error {
	if c.MaxAttempts <= 0 || c.Window <= 0 {
		return ErrInvalidConfig
	}
	return nil
}
