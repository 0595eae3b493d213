package audit

import (
	"context"
	"net/netip"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/MrEthical07/trustcore/store"
)

// GeoLocator resolves an IP address to a location.
type GeoLocator interface {
	Locate(ctx context.Context, ip string) (*store.GeoLocation, error)
}

// GeoLocatorFunc adapts a function to GeoLocator.
type GeoLocatorFunc func(ctx context.Context, ip string) (*store.GeoLocation, error)

// Locate calls f.
func (f GeoLocatorFunc) Locate(ctx context.Context, ip string) (*store.GeoLocation, error) {
	return f(ctx, ip)
}

// CachedLocator memoizes successful lookups of a slower GeoLocator. Private,
// loopback and unparsable addresses are never sent upstream.
type CachedLocator struct {
	next  GeoLocator
	cache *ttlcache.Cache[string, store.GeoLocation]
}

// NewCachedLocator wraps next with a cache holding at most capacity entries
// for ttl each.
func NewCachedLocator(next GeoLocator, ttl time.Duration, capacity uint64) *CachedLocator {
	opts := []ttlcache.Option[string, store.GeoLocation]{
		ttlcache.WithTTL[string, store.GeoLocation](ttl),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, store.GeoLocation](capacity))
	}
	return &CachedLocator{next: next, cache: ttlcache.New(opts...)}
}

// Locate returns a cached location or asks the wrapped locator.
func (c *CachedLocator) Locate(ctx context.Context, ip string) (*store.GeoLocation, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil || addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() || addr.IsLinkLocalUnicast() {
		return nil, nil
	}
	key := addr.String()

	if item := c.cache.Get(key); item != nil {
		loc := item.Value()
		return &loc, nil
	}

	loc, err := c.next.Locate(ctx, key)
	if err != nil || loc == nil {
		return nil, err
	}
	c.cache.Set(key, *loc, ttlcache.DefaultTTL)
	cp := *loc
	return &cp, nil
}

// Len returns the number of cached entries.
func (c *CachedLocator) Len() int {
	return c.cache.Len()
}

// Start runs the cache's expiry loop until Stop.
func (c *CachedLocator) Start() {
	go c.cache.Start()
}

// Stop ends the expiry loop.
func (c *CachedLocator) Stop() {
	c.cache.Stop()
}
