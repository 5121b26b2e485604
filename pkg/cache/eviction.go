package cache

import (
	"context"
	"sort"
	"time"

	"github.com/playforge/arcadia/internal/logger"
	"github.com/playforge/arcadia/pkg/store/redis"
)

// maybeEvict runs one LRU eviction pass when the tracked key count is past
// the capacity threshold. Called before every set.
func (c *Cache) maybeEvict(ctx context.Context) error {
	c.mu.Lock()
	over := float64(len(c.access)) > float64(c.cfg.MaxCapacity)*c.cfg.EvictionThreshold
	c.mu.Unlock()

	if !over {
		return nil
	}
	_, err := c.EvictLRU(ctx, c.cfg.EvictionBatchSize)
	return err
}

// EvictLRU removes the n oldest-accessed keys from the store and from the
// access map. Returns how many keys were dropped from tracking.
func (c *Cache) EvictLRU(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}

	type aged struct {
		key  string
		last time.Time
	}

	c.mu.Lock()
	snapshot := make([]aged, 0, len(c.access))
	for k, t := range c.access {
		snapshot = append(snapshot, aged{key: k, last: t})
	}
	c.mu.Unlock()

	if len(snapshot) == 0 {
		return 0, nil
	}
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].last.Before(snapshot[j].last)
	})
	if n > len(snapshot) {
		n = len(snapshot)
	}

	victims := make([]string, n)
	for i := 0; i < n; i++ {
		victims[i] = snapshot[i].key
	}

	if _, err := c.store.Del(ctx, victims...); err != nil {
		return 0, err
	}
	c.forget(victims...)
	c.stats.evicted(n)

	logger.Debug("cache LRU eviction", "evicted", n, "tracked", c.TrackedKeys())
	return n, nil
}

// CleanupExpired drops access-map entries whose store-side TTL has elapsed,
// then runs an LRU pass if still over threshold. Returns the expired count.
func (c *Cache) CleanupExpired(ctx context.Context) (int, error) {
	c.mu.Lock()
	keys := make([]string, 0, len(c.access))
	for k := range c.access {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	expired := 0
	for _, k := range keys {
		ttl, err := c.store.TTL(ctx, k)
		if err != nil {
			return expired, err
		}
		if ttl == redis.TTLMissing {
			c.forget(k)
			expired++
		}
	}
	c.stats.expiredSweep(expired, time.Now())

	if err := c.maybeEvict(ctx); err != nil {
		return expired, err
	}
	return expired, nil
}
