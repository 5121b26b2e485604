// Package cache implements the category-driven caching layer on top of the
// cache store adapter.
//
// Every key belongs to a Category which determines its default TTL and its
// namespace: stored keys take the shape "<prefix>:<category>:<logical-key>".
// The cache tracks last-access instants locally and uses them for LRU
// admission: sets past the capacity threshold evict the oldest-accessed keys
// first.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playforge/arcadia/pkg/store/redis"
)

// Category names a class of cached data with a shared TTL policy.
type Category string

const (
	CategoryPlayerSession Category = "player_session"
	CategoryPlayerState   Category = "player_state"
	CategoryPosition      Category = "position"
	CategoryRoomState     Category = "room_state"
	CategoryRoomPlayers   Category = "room_players"
	CategoryMatchmaking   Category = "matchmaking"
	CategoryChat          Category = "chat"
	CategoryConfig        Category = "config"
	CategoryTemp          Category = "temp"
	CategoryRateLimit     Category = "rate_limit"
)

// defaultTTLs is the built-in TTL table. Configuration overrides win.
var defaultTTLs = map[Category]time.Duration{
	CategoryPlayerSession: 2 * time.Hour,
	CategoryPlayerState:   40 * time.Minute,
	CategoryPosition:      15 * time.Minute,
	CategoryRoomState:     20 * time.Minute,
	CategoryRoomPlayers:   15 * time.Minute,
	CategoryMatchmaking:   5 * time.Minute,
	CategoryChat:          15 * time.Minute,
	CategoryConfig:        time.Hour,
	CategoryTemp:          2 * time.Minute,
	CategoryRateLimit:     time.Minute,
}

// Store is the subset of the cache store adapter the cache needs.
// Implemented by *redis.Client.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	SetBatch(ctx context.Context, items []redis.SetItem) error
	MemoryUsed(ctx context.Context) (int64, error)
}

// Config holds cache policy settings.
type Config struct {
	// DefaultTTL applies to categories absent from both the built-in table
	// and the TTLs override map.
	DefaultTTL time.Duration `mapstructure:"default_ttl" yaml:"default_ttl"`

	// KeyPrefix is the global namespace for all cached keys.
	KeyPrefix string `mapstructure:"key_prefix" validate:"required" yaml:"key_prefix"`

	// TTLs overrides the built-in per-category TTL table.
	TTLs map[string]time.Duration `mapstructure:"ttls" yaml:"ttls"`

	// MaxCapacity is the soft bound on locally tracked keys.
	MaxCapacity int `mapstructure:"max_capacity" validate:"gt=0" yaml:"max_capacity"`

	// EvictionThreshold is the fraction of MaxCapacity past which sets
	// trigger an LRU eviction pass. Must be in (0,1).
	EvictionThreshold float64 `mapstructure:"eviction_threshold" validate:"gt=0,lt=1" yaml:"eviction_threshold"`

	// EvictionBatchSize is how many oldest keys one eviction pass removes.
	EvictionBatchSize int `mapstructure:"eviction_batch_size" validate:"gt=0" yaml:"eviction_batch_size"`

	// CleanupInterval is the period of the expired-key sweep.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`

	// EnableStatistics toggles hit/miss/latency accounting.
	EnableStatistics bool `mapstructure:"enable_statistics" yaml:"enable_statistics"`
}

// DefaultConfig returns production-leaning cache settings.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:        15 * time.Minute,
		KeyPrefix:         "arcadia",
		MaxCapacity:       100_000,
		EvictionThreshold: 0.9,
		EvictionBatchSize: 512,
		CleanupInterval:   time.Minute,
		EnableStatistics:  true,
	}
}

// Cache is the category-aware caching layer.
type Cache struct {
	store Store
	cfg   Config

	mu     sync.Mutex
	access map[string]time.Time // stored key -> last access

	stats cacheStats

	stopCh    chan struct{}
	stoppedCh chan struct{}
	started   bool
}

// New creates a cache over the given store.
func New(store Store, cfg Config) *Cache {
	c := &Cache{
		store:  store,
		cfg:    cfg,
		access: make(map[string]time.Time),
	}
	c.stats.enabled = cfg.EnableStatistics
	return c
}

// TTLFor resolves the TTL of a category: configuration override, then the
// built-in table, then the configured default.
func (c *Cache) TTLFor(cat Category) time.Duration {
	if ttl, ok := c.cfg.TTLs[string(cat)]; ok && ttl > 0 {
		return ttl
	}
	if ttl, ok := defaultTTLs[cat]; ok {
		return ttl
	}
	return c.cfg.DefaultTTL
}

// Key returns the stored form of a logical key.
func (c *Cache) Key(cat Category, key string) string {
	return fmt.Sprintf("%s:%s:%s", c.cfg.KeyPrefix, cat, key)
}

func (c *Cache) touch(storeKey string) {
	c.mu.Lock()
	c.access[storeKey] = time.Now()
	c.mu.Unlock()
}

func (c *Cache) forget(storeKeys ...string) {
	c.mu.Lock()
	for _, k := range storeKeys {
		delete(c.access, k)
	}
	c.mu.Unlock()
}

// TrackedKeys returns the number of locally tracked keys.
func (c *Cache) TrackedKeys() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.access)
}

// Get fetches one entry. ok is false on a miss.
func (c *Cache) Get(ctx context.Context, cat Category, key string) (val []byte, ok bool, err error) {
	defer c.stats.timed()()

	sk := c.Key(cat, key)
	val, ok, err = c.store.Get(ctx, sk)
	if err != nil {
		return nil, false, err
	}
	if ok {
		c.touch(sk)
		c.stats.hit()
	} else {
		c.stats.miss()
	}
	return val, ok, nil
}

// Set stores one entry. A zero expiry uses the category TTL.
func (c *Cache) Set(ctx context.Context, cat Category, key string, value []byte, expiry time.Duration) error {
	defer c.stats.timed()()

	if expiry <= 0 {
		expiry = c.TTLFor(cat)
	}
	if err := c.maybeEvict(ctx); err != nil {
		return err
	}
	sk := c.Key(cat, key)
	if err := c.store.Set(ctx, sk, value, expiry); err != nil {
		return err
	}
	c.touch(sk)
	return nil
}

// Remove deletes one entry. Returns whether the store held it.
func (c *Cache) Remove(ctx context.Context, cat Category, key string) (bool, error) {
	sk := c.Key(cat, key)
	n, err := c.store.Del(ctx, sk)
	c.forget(sk)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Exists reports key presence without fetching the value.
func (c *Cache) Exists(ctx context.Context, cat Category, key string) (bool, error) {
	sk := c.Key(cat, key)
	ok, err := c.store.Exists(ctx, sk)
	if err != nil {
		return false, err
	}
	if ok {
		c.touch(sk)
	}
	return ok, nil
}

// Refresh resets an entry's TTL to the category default. Returns false when
// the entry is gone.
func (c *Cache) Refresh(ctx context.Context, cat Category, key string) (bool, error) {
	sk := c.Key(cat, key)
	updated, err := c.store.Expire(ctx, sk, c.TTLFor(cat))
	if err != nil {
		return false, err
	}
	if updated {
		c.touch(sk)
	}
	return updated, nil
}

// GetMany fetches several entries of one category. The result holds only the
// keys that were present, under their logical names.
func (c *Cache) GetMany(ctx context.Context, cat Category, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	defer c.stats.timed()()

	storeKeys := make([]string, len(keys))
	for i, k := range keys {
		storeKeys[i] = c.Key(cat, k)
	}
	vals, err := c.store.MGet(ctx, storeKeys...)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(keys))
	for i, v := range vals {
		if v == nil {
			c.stats.miss()
			continue
		}
		out[keys[i]] = v
		c.touch(storeKeys[i])
		c.stats.hit()
	}
	return out, nil
}

// SetMany stores several entries of one category through one pipeline.
// A zero expiry uses the category TTL. Pipelines are not atomic: a failure
// may leave a prefix of the batch applied.
func (c *Cache) SetMany(ctx context.Context, cat Category, values map[string][]byte, expiry time.Duration) error {
	if len(values) == 0 {
		return nil
	}
	defer c.stats.timed()()

	if expiry <= 0 {
		expiry = c.TTLFor(cat)
	}
	if err := c.maybeEvict(ctx); err != nil {
		return err
	}

	items := make([]redis.SetItem, 0, len(values))
	for k, v := range values {
		items = append(items, redis.SetItem{Key: c.Key(cat, k), Value: v, TTL: expiry})
	}
	if err := c.store.SetBatch(ctx, items); err != nil {
		return err
	}
	for _, it := range items {
		c.touch(it.Key)
	}
	return nil
}
