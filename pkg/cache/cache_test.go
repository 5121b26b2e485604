package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playforge/arcadia/pkg/store/redis"
)

// fakeStore is an in-memory Store with manually controllable expiry.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string]fakeEntry
	setErr  error
}

type fakeEntry struct {
	value []byte
	ttl   time.Duration
	gone  bool // simulates store-side expiry without removing the entry record
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]fakeEntry)}
}

func (f *fakeStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok || e.gone {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (f *fakeStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.mu.Lock()
	f.entries[key] = fakeEntry{value: value, ttl: ttl}
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if e, ok := f.entries[k]; ok && !e.gone {
			n++
		}
		delete(f.entries, k)
	}
	return n, nil
}

func (f *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	return ok && !e.gone, nil
}

func (f *fakeStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok || e.gone {
		return false, nil
	}
	e.ttl = ttl
	f.entries[key] = e
	return true, nil
}

func (f *fakeStore) TTL(_ context.Context, key string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok || e.gone {
		return redis.TTLMissing, nil
	}
	if e.ttl <= 0 {
		return redis.TTLNoExpiry, nil
	}
	return e.ttl, nil
}

func (f *fakeStore) MGet(_ context.Context, keys ...string) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(keys))
	for i, k := range keys {
		if e, ok := f.entries[k]; ok && !e.gone {
			out[i] = e.value
		}
	}
	return out, nil
}

func (f *fakeStore) SetBatch(_ context.Context, items []redis.SetItem) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.mu.Lock()
	for _, it := range items {
		f.entries[it.Key] = fakeEntry{value: it.Value, ttl: it.TTL}
	}
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) MemoryUsed(context.Context) (int64, error) {
	return 4096, nil
}

// expire marks a key as gone, simulating a TTL elapsing at the store.
func (f *fakeStore) expire(key string) {
	f.mu.Lock()
	if e, ok := f.entries[key]; ok {
		e.gone = true
		f.entries[key] = e
	}
	f.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CleanupInterval = 0 // no worker in unit tests
	return cfg
}

func TestSetGetRoundTrip(t *testing.T) {
	st := newFakeStore()
	c := New(st, testConfig())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, CategoryPlayerState, "p1", []byte("hp=100"), 0))

	val, ok, err := c.Get(ctx, CategoryPlayerState, "p1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("hp=100"), val)

	// Key shape is prefix:category:key.
	_, present := st.entries["arcadia:player_state:p1"]
	assert.True(t, present)
}

func TestGetMiss(t *testing.T) {
	c := New(newFakeStore(), testConfig())

	_, ok, err := c.Get(context.Background(), CategoryChat, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	st := c.Stats(context.Background())
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, int64(0), st.Hits)
}

func TestCategoryTTLs(t *testing.T) {
	st := newFakeStore()
	c := New(st, testConfig())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, CategoryPlayerSession, "p1", []byte("s"), 0))
	require.NoError(t, c.Set(ctx, CategoryRateLimit, "p1", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, CategoryTemp, "p1", []byte("t"), time.Second))

	assert.Equal(t, 2*time.Hour, st.entries[c.Key(CategoryPlayerSession, "p1")].ttl)
	assert.Equal(t, time.Minute, st.entries[c.Key(CategoryRateLimit, "p1")].ttl)
	// Explicit expiry wins over the table.
	assert.Equal(t, time.Second, st.entries[c.Key(CategoryTemp, "p1")].ttl)
}

func TestTTLForConfigOverride(t *testing.T) {
	cfg := testConfig()
	cfg.TTLs = map[string]time.Duration{"chat": 3 * time.Minute}
	c := New(newFakeStore(), cfg)

	assert.Equal(t, 3*time.Minute, c.TTLFor(CategoryChat))
	assert.Equal(t, 15*time.Minute, c.TTLFor(CategoryPosition))
	assert.Equal(t, cfg.DefaultTTL, c.TTLFor(Category("unknown")))
}

func TestRemove(t *testing.T) {
	c := New(newFakeStore(), testConfig())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, CategoryRoomState, "r1", []byte("x"), 0))

	removed, err := c.Remove(ctx, CategoryRoomState, "r1")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, 0, c.TrackedKeys())

	removed, err = c.Remove(ctx, CategoryRoomState, "r1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRefresh(t *testing.T) {
	st := newFakeStore()
	c := New(st, testConfig())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, CategoryRoomState, "r1", []byte("x"), time.Second))

	ok, err := c.Refresh(ctx, CategoryRoomState, "r1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 20*time.Minute, st.entries[c.Key(CategoryRoomState, "r1")].ttl)

	ok, err = c.Refresh(ctx, CategoryRoomState, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetManySetMany(t *testing.T) {
	c := New(newFakeStore(), testConfig())
	ctx := context.Background()

	in := map[string][]byte{"a": []byte("1"), "b": []byte("2"), "c": []byte("3")}
	require.NoError(t, c.SetMany(ctx, CategoryRoomPlayers, in, 0))

	out, err := c.GetMany(ctx, CategoryRoomPlayers, []string{"a", "b", "c", "missing"})
	require.NoError(t, err)
	assert.Equal(t, in, out)

	st := c.Stats(ctx)
	assert.Equal(t, int64(3), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
}

func TestLRUAdmissionEvictsOldest(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCapacity = 10
	cfg.EvictionThreshold = 0.5
	cfg.EvictionBatchSize = 3
	st := newFakeStore()
	c := New(st, cfg)
	ctx := context.Background()

	// Fill past the threshold (10 * 0.5 = 5 keys).
	for i := 0; i < 6; i++ {
		require.NoError(t, c.Set(ctx, CategoryTemp, fmt.Sprintf("k%d", i), []byte("v"), 0))
		time.Sleep(time.Millisecond)
	}

	// Keep k0 and k1 fresh so k2..k4 become the oldest.
	_, _, err := c.Get(ctx, CategoryTemp, "k0")
	require.NoError(t, err)
	_, _, err = c.Get(ctx, CategoryTemp, "k1")
	require.NoError(t, err)

	// The next set is over threshold and evicts the 3 oldest.
	require.NoError(t, c.Set(ctx, CategoryTemp, "k6", []byte("v"), 0))

	for _, k := range []string{"k0", "k1", "k5", "k6"} {
		ok, err := c.Exists(ctx, CategoryTemp, k)
		require.NoError(t, err)
		assert.True(t, ok, k)
	}
	for _, k := range []string{"k2", "k3", "k4"} {
		ok, err := c.Exists(ctx, CategoryTemp, k)
		require.NoError(t, err)
		assert.False(t, ok, k)
	}

	assert.Equal(t, int64(3), c.Stats(ctx).Evicted)
}

func TestEvictLRUBounds(t *testing.T) {
	c := New(newFakeStore(), testConfig())
	ctx := context.Background()

	n, err := c.EvictLRU(ctx, 5)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, c.Set(ctx, CategoryTemp, "only", []byte("v"), 0))
	n, err = c.EvictLRU(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCleanupExpired(t *testing.T) {
	st := newFakeStore()
	c := New(st, testConfig())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, CategoryTemp, "live", []byte("v"), 0))
	require.NoError(t, c.Set(ctx, CategoryTemp, "dead", []byte("v"), 0))
	st.expire(c.Key(CategoryTemp, "dead"))

	n, err := c.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, c.TrackedKeys())

	got := c.Stats(ctx)
	assert.Equal(t, int64(1), got.Expired)
	assert.False(t, got.LastCleanup.IsZero())
}

func TestWarmupPriorityOrder(t *testing.T) {
	st := newFakeStore()
	c := New(st, testConfig())

	items := []WarmupItem{
		{Category: CategoryConfig, Key: "low", Value: []byte("1"), Priority: 1},
		{Category: CategoryConfig, Key: "high", Value: []byte("2"), Priority: 10},
		{Category: CategoryConfig, Key: "mid", Value: []byte("3"), Priority: 5, TTL: time.Minute},
	}
	res := c.Warmup(context.Background(), items)

	assert.Equal(t, 3, res.Loaded)
	assert.Zero(t, res.Failed)
	assert.Equal(t, time.Minute, st.entries[c.Key(CategoryConfig, "mid")].ttl)
	assert.Equal(t, time.Hour, st.entries[c.Key(CategoryConfig, "high")].ttl)
}

func TestWarmupCollectsFailures(t *testing.T) {
	st := newFakeStore()
	st.setErr = fmt.Errorf("store down")
	c := New(st, testConfig())

	res := c.Warmup(context.Background(), []WarmupItem{
		{Category: CategoryConfig, Key: "a", Value: []byte("1")},
		{Category: CategoryConfig, Key: "b", Value: []byte("2")},
	})

	assert.Zero(t, res.Loaded)
	assert.Equal(t, 2, res.Failed)
	assert.Len(t, res.FailedKeys, 2)
}

func TestStatsSnapshot(t *testing.T) {
	c := New(newFakeStore(), testConfig())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, CategoryChat, "m1", []byte("hi"), 0))
	_, _, err := c.Get(ctx, CategoryChat, "m1")
	require.NoError(t, err)
	_, _, err = c.Get(ctx, CategoryChat, "m2")
	require.NoError(t, err)

	st := c.Stats(ctx)
	assert.Equal(t, int64(2), st.TotalRequests)
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.InDelta(t, 0.5, st.HitRate, 1e-9)
	assert.Equal(t, int64(4096), st.MemoryBytes)
	assert.Equal(t, 1, st.TrackedKeys)
	assert.GreaterOrEqual(t, st.AvgResponseMs, 0.0)
}

func TestStatisticsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.EnableStatistics = false
	c := New(newFakeStore(), cfg)
	ctx := context.Background()

	_, _, err := c.Get(ctx, CategoryChat, "x")
	require.NoError(t, err)

	st := c.Stats(ctx)
	assert.Zero(t, st.TotalRequests)
}

func TestCleanupWorkerStartStop(t *testing.T) {
	cfg := testConfig()
	cfg.CleanupInterval = 5 * time.Millisecond
	st := newFakeStore()
	c := New(st, cfg)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, CategoryTemp, "dead", []byte("v"), 0))
	st.expire(c.Key(CategoryTemp, "dead"))

	c.Start(ctx)
	assert.Eventually(t, func() bool {
		return c.TrackedKeys() == 0
	}, time.Second, 5*time.Millisecond)
	c.Stop()

	// Idempotent.
	c.Stop()
	c.Start(ctx)
	c.Stop()
}
