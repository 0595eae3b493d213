package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Record is the per-identifier counter state.
type Record struct {
	Identifier string
	Count      int
	ResetAt    time.Time
}

// MemoryLimiter is an in-process Limiter. Records are held in a TTL cache
// whose TTL equals the window, so identifiers that stop appearing are
// dropped instead of accumulating.
type MemoryLimiter struct {
	cfg     Config
	now     func() time.Time
	mu      sync.Mutex
	records *ttlcache.Cache[string, *Record]
}

// Option customizes a MemoryLimiter.
type Option func(*MemoryLimiter)

// WithClock replaces time.Now. Used by tests to move across windows.
func WithClock(now func() time.Time) Option {
	return func(l *MemoryLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewMemoryLimiter returns a limiter for cfg. Call Start to run background
// eviction and Stop to end it; without Start, expired records are still
// replaced on access and pruned by Prune.
func NewMemoryLimiter(cfg Config, opts ...Option) (*MemoryLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &MemoryLimiter{
		cfg: cfg,
		now: time.Now,
		records: ttlcache.New(
			ttlcache.WithTTL[string, *Record](cfg.Window),
			ttlcache.WithDisableTouchOnHit[string, *Record](),
		),
	}
	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// Start runs the eviction loop until Stop is called.
func (l *MemoryLimiter) Start() {
	go l.records.Start()
}

// Stop ends the eviction loop.
func (l *MemoryLimiter) Stop() {
	l.records.Stop()
}

// IsAllowed records an attempt for identifier and reports whether it is
// within budget. A denied attempt does not change the record.
func (l *MemoryLimiter) IsAllowed(_ context.Context, identifier string) (bool, error) {
	if identifier == "" {
		return false, ErrEmptyIdentifier
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	item := l.records.Get(identifier)
	if item == nil || now.After(item.Value().ResetAt) {
		l.records.Set(identifier, &Record{
			Identifier: identifier,
			Count:      1,
			ResetAt:    now.Add(l.cfg.Window),
		}, ttlcache.DefaultTTL)
		return true, nil
	}

	rec := item.Value()
	if rec.Count >= l.cfg.MaxAttempts {
		return false, nil
	}
	rec.Count++

	return true, nil
}

// Reset forgets identifier.
func (l *MemoryLimiter) Reset(_ context.Context, identifier string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records.Delete(identifier)
	return nil
}

// RemainingTime returns the time until identifier's window resets, or zero
// when there is no open window.
func (l *MemoryLimiter) RemainingTime(_ context.Context, identifier string) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	item := l.records.Get(identifier)
	if item == nil {
		return 0, nil
	}
	remaining := item.Value().ResetAt.Sub(l.now())
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// Lookup returns a copy of identifier's record.
func (l *MemoryLimiter) Lookup(identifier string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	item := l.records.Get(identifier)
	if item == nil {
		return Record{}, false
	}
	return *item.Value(), true
}

// Prune drops expired records immediately.
func (l *MemoryLimiter) Prune() {
	l.records.DeleteExpired()
}

// Len reports how many identifiers are tracked.
func (l *MemoryLimiter) Len() int {
	return l.records.Len()
}
