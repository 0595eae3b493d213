package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryLimiterLoginWindow(t *testing.T) {
	clock := newFakeClock()
	l, err := NewMemoryLimiter(LoginConfig(), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewMemoryLimiter error: %v", err)
	}
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		ok, err := l.IsAllowed(ctx, "user-A")
		if err != nil || !ok {
			t.Fatalf("attempt %d: expected allowed, got %v err=%v", i, ok, err)
		}
	}
	ok, err := l.IsAllowed(ctx, "user-A")
	if err != nil || ok {
		t.Fatalf("attempt 6: expected denied, got %v err=%v", ok, err)
	}

	clock.Advance(15*time.Minute + time.Second)

	ok, err = l.IsAllowed(ctx, "user-A")
	if err != nil || !ok {
		t.Fatalf("after window: expected allowed, got %v err=%v", ok, err)
	}
	rec, found := l.Lookup("user-A")
	if !found || rec.Count != 1 {
		t.Fatalf("expected fresh record with count 1, got %+v found=%v", rec, found)
	}
}

func TestMemoryLimiterBlockedCallsDoNotExtendWindow(t *testing.T) {
	clock := newFakeClock()
	l, _ := NewMemoryLimiter(Config{MaxAttempts: 2, Window: time.Minute}, WithClock(clock.Now))
	ctx := context.Background()

	_, _ = l.IsAllowed(ctx, "id")
	_, _ = l.IsAllowed(ctx, "id")
	before, _ := l.Lookup("id")

	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
		if ok, _ := l.IsAllowed(ctx, "id"); ok {
			t.Fatal("expected denied while blocked")
		}
	}

	after, _ := l.Lookup("id")
	if after.Count != before.Count || !after.ResetAt.Equal(before.ResetAt) {
		t.Fatalf("blocked calls mutated record: before=%+v after=%+v", before, after)
	}
}

func TestMemoryLimiterBoundaryIsInsideWindow(t *testing.T) {
	clock := newFakeClock()
	l, _ := NewMemoryLimiter(Config{MaxAttempts: 1, Window: time.Minute}, WithClock(clock.Now))
	ctx := context.Background()

	_, _ = l.IsAllowed(ctx, "id")
	clock.Advance(time.Minute)
	if ok, _ := l.IsAllowed(ctx, "id"); ok {
		t.Fatal("window reset instant must still be inside the window")
	}
	clock.Advance(time.Nanosecond)
	if ok, _ := l.IsAllowed(ctx, "id"); !ok {
		t.Fatal("expected allowed once past the reset instant")
	}
}

func TestMemoryLimiterResetAndRemaining(t *testing.T) {
	clock := newFakeClock()
	l, _ := NewMemoryLimiter(Config{MaxAttempts: 1, Window: 10 * time.Minute}, WithClock(clock.Now))
	ctx := context.Background()

	if d, _ := l.RemainingTime(ctx, "id"); d != 0 {
		t.Fatalf("expected zero remaining for unknown id, got %v", d)
	}

	_, _ = l.IsAllowed(ctx, "id")
	clock.Advance(4 * time.Minute)
	if d, _ := l.RemainingTime(ctx, "id"); d != 6*time.Minute {
		t.Fatalf("expected 6m remaining, got %v", d)
	}
	if ok, _ := l.IsAllowed(ctx, "id"); ok {
		t.Fatal("expected denied")
	}

	if err := l.Reset(ctx, "id"); err != nil {
		t.Fatalf("Reset error: %v", err)
	}
	if ok, _ := l.IsAllowed(ctx, "id"); !ok {
		t.Fatal("expected allowed after reset")
	}
}

func TestMemoryLimiterIndependentKeys(t *testing.T) {
	l, _ := NewMemoryLimiter(Config{MaxAttempts: 1, Window: time.Minute})
	ctx := context.Background()

	_, _ = l.IsAllowed(ctx, "a")
	if ok, _ := l.IsAllowed(ctx, "b"); !ok {
		t.Fatal("identifiers must not share a budget")
	}
}

func TestMemoryLimiterConcurrentAttemptsNeverExceedMax(t *testing.T) {
	l, _ := NewMemoryLimiter(Config{MaxAttempts: 30, Window: time.Minute})
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.IsAllowed(ctx, "shared"); ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != 30 {
		t.Fatalf("expected exactly 30 allowed, got %d", allowed.Load())
	}
}

func TestMemoryLimiterEvictsIdleIdentifiers(t *testing.T) {
	l, _ := NewMemoryLimiter(Config{MaxAttempts: 5, Window: 20 * time.Millisecond})
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, _ = l.IsAllowed(ctx, id)
	}
	if l.Len() != 3 {
		t.Fatalf("expected 3 records, got %d", l.Len())
	}

	time.Sleep(60 * time.Millisecond)
	l.Prune()

	if l.Len() != 0 {
		t.Fatalf("expected idle records to be evicted, got %d", l.Len())
	}
}

func TestMemoryLimiterValidation(t *testing.T) {
	if _, err := NewMemoryLimiter(Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	l, _ := NewMemoryLimiter(MessageConfig())
	if _, err := l.IsAllowed(context.Background(), ""); !errors.Is(err, ErrEmptyIdentifier) {
		t.Fatalf("expected ErrEmptyIdentifier, got %v", err)
	}
}
