package billing

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CacheConfig configures a CachedResolver.
type CacheConfig struct {
	// TTL bounds how long a resolved plan is served without consulting the
	// underlying resolver again. Defaults to 5 minutes.
	TTL time.Duration

	// MaxEntries bounds the cache size; the least recently used entry is
	// evicted at capacity. Defaults to 10000.
	MaxEntries int
}

// CacheStats holds cache performance counters.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// cacheEntry wraps a cached plan with expiration and access times for LRU.
type cacheEntry struct {
	plan       string
	expiration time.Time
	accessTime time.Time
	sequence   int64 // tiebreak when access times are equal
}

// CachedResolver memoizes plan resolutions from an underlying Resolver.
// Provider-backed resolution costs API round trips per request while plans
// change rarely, so even a short TTL removes nearly all of that traffic.
// Resolution failures are never cached.
type CachedResolver struct {
	inner Resolver
	conf  CacheConfig

	mu        sync.Mutex
	plans     map[string]*cacheEntry
	sequence  int64
	hits      int64
	misses    int64
	evictions int64
}

// NewCachedResolver wraps inner with a TTL-bounded LRU cache.
func NewCachedResolver(inner Resolver, config CacheConfig) (*CachedResolver, error) {
	if inner == nil {
		return nil, fmt.Errorf("cached resolver: inner resolver is required")
	}
	if config.TTL <= 0 {
		config.TTL = 5 * time.Minute
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 10000
	}
	return &CachedResolver{
		inner: inner,
		conf:  config,
		plans: make(map[string]*cacheEntry, config.MaxEntries),
	}, nil
}

// ResolvePlan returns the cached plan for userID, consulting the underlying
// resolver on a miss or after expiry.
func (c *CachedResolver) ResolvePlan(ctx context.Context, userID string) (string, error) {
	if plan, ok := c.lookup(userID); ok {
		return plan, nil
	}
	plan, err := c.inner.ResolvePlan(ctx, userID)
	if err != nil {
		return plan, err
	}
	c.store(userID, plan)
	return plan, nil
}

// Invalidate drops the cached plan for userID, forcing re-resolution on the
// next request. Call it when a subscription is known to have changed.
func (c *CachedResolver) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.plans, userID)
}

// Clear removes all entries from the cache.
func (c *CachedResolver) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plans = make(map[string]*cacheEntry, c.conf.MaxEntries)
}

// Stats returns cache statistics.
func (c *CachedResolver) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.plans),
	}
}

func (c *CachedResolver) lookup(userID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.plans[userID]
	if !exists || time.Now().After(entry.expiration) {
		c.misses++
		return "", false
	}

	entry.accessTime = time.Now()
	c.hits++
	return entry.plan, true
}

func (c *CachedResolver) store(userID, plan string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	_, exists := c.plans[userID]

	// Evict the least recently used entry when at capacity. The linear
	// scan is fine at the sizes plan caches run at.
	if len(c.plans) >= c.conf.MaxEntries && !exists {
		var oldestKey string
		var oldestTime time.Time
		var oldestSeq int64
		first := true
		for key, entry := range c.plans {
			if first || entry.accessTime.Before(oldestTime) ||
				(entry.accessTime.Equal(oldestTime) && entry.sequence < oldestSeq) {
				oldestKey = key
				oldestTime = entry.accessTime
				oldestSeq = entry.sequence
				first = false
			}
		}
		if oldestKey != "" {
			delete(c.plans, oldestKey)
			c.evictions++
		}
	}

	seq := c.sequence
	c.sequence++
	c.plans[userID] = &cacheEntry{
		plan:       plan,
		expiration: now.Add(c.conf.TTL),
		accessTime: now,
		sequence:   seq,
	}
}
