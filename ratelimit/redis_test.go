package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestRedisLimiterWindow(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l, err := NewRedisLimiter(rdb, "rl:login:", LoginConfig())
	if err != nil {
		t.Fatalf("NewRedisLimiter error: %v", err)
	}
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		ok, err := l.IsAllowed(ctx, "user-A")
		if err != nil || !ok {
			t.Fatalf("attempt %d: expected allowed, got %v err=%v", i, ok, err)
		}
	}
	if ok, _ := l.IsAllowed(ctx, "user-A"); ok {
		t.Fatal("attempt 6: expected denied")
	}

	count, _ := rdb.Get(ctx, "rl:login:user-A").Int()
	if count != 5 {
		t.Fatalf("denied attempts must not increment, count=%d", count)
	}

	remaining, err := l.RemainingTime(ctx, "user-A")
	if err != nil || remaining <= 0 || remaining > 15*time.Minute {
		t.Fatalf("unexpected remaining %v err=%v", remaining, err)
	}

	mr.FastForward(15*time.Minute + time.Second)

	if ok, _ := l.IsAllowed(ctx, "user-A"); !ok {
		t.Fatal("expected allowed after window")
	}
	count, _ = rdb.Get(ctx, "rl:login:user-A").Int()
	if count != 1 {
		t.Fatalf("expected fresh count 1, got %d", count)
	}
}

func TestRedisLimiterReset(t *testing.T) {
	_, rdb := newTestRedis(t)
	l, _ := NewRedisLimiter(rdb, "rl:msg:", Config{MaxAttempts: 1, Window: time.Minute})
	ctx := context.Background()

	_, _ = l.IsAllowed(ctx, "u1")
	if ok, _ := l.IsAllowed(ctx, "u1"); ok {
		t.Fatal("expected denied")
	}
	if err := l.Reset(ctx, "u1"); err != nil {
		t.Fatalf("Reset error: %v", err)
	}
	if ok, _ := l.IsAllowed(ctx, "u1"); !ok {
		t.Fatal("expected allowed after reset")
	}
	if d, _ := l.RemainingTime(ctx, "missing"); d != 0 {
		t.Fatalf("expected zero for missing key, got %v", d)
	}
}

func TestRedisLimiterUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l, _ := NewRedisLimiter(rdb, "rl:", LoginConfig())
	mr.Close()

	if _, err := l.IsAllowed(context.Background(), "x"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
