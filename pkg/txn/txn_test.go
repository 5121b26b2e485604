package txn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playforge/arcadia/pkg/lock"
	"github.com/playforge/arcadia/pkg/store/redis"
)

type fakeCache struct {
	mu         sync.Mutex
	values     map[string]string
	ttls       map[string]time.Duration
	hashes     map[string]map[string]string
	failSet    string // key that fails Set
	batchCalls int
	batchErr   error // transport failure: batch outcome unknown
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		values: make(map[string]string),
		ttls:   make(map[string]time.Duration),
		hashes: make(map[string]map[string]string),
	}
}

func (f *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return []byte(v), ok, nil
}

func (f *fakeCache) TTL(_ context.Context, key string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; !ok {
		return redis.TTLMissing, nil
	}
	ttl := f.ttls[key]
	if ttl <= 0 {
		return redis.TTLNoExpiry, nil
	}
	return ttl, nil
}

func (f *fakeCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == f.failSet {
		return errors.New("cache store down")
	}
	f.mu.Lock()
	f.values[key] = string(value)
	f.ttls[key] = ttl
	f.mu.Unlock()
	return nil
}

func (f *fakeCache) Del(_ context.Context, keys ...string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			n++
		}
		delete(f.values, k)
		delete(f.ttls, k)
	}
	return n, nil
}

func (f *fakeCache) HGet(_ context.Context, key, field string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.hashes[key][field]
	return []byte(v), ok, nil
}

func (f *fakeCache) HSet(_ context.Context, key string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		h = make(map[string]string)
		f.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v.(string)
	}
	return nil
}

func (f *fakeCache) HDel(_ context.Context, key string, fields ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fd := range fields {
		delete(f.hashes[key], fd)
	}
	return nil
}

// ExecBatch mirrors pipeline semantics: every op runs, a failed op does
// not stop the ones after it.
func (f *fakeCache) ExecBatch(ctx context.Context, ops []redis.BatchOp) ([]error, error) {
	f.mu.Lock()
	f.batchCalls++
	f.mu.Unlock()
	if f.batchErr != nil {
		return nil, f.batchErr
	}

	errs := make([]error, len(ops))
	for i, op := range ops {
		switch op.Op {
		case redis.BatchSet:
			errs[i] = f.Set(ctx, op.Key, op.Value, op.TTL)
		case redis.BatchDel:
			_, errs[i] = f.Del(ctx, op.Key)
		case redis.BatchHSet:
			errs[i] = f.HSet(ctx, op.Key, op.Fields)
		default:
			errs[i] = f.HDel(ctx, op.Key, op.Names...)
		}
	}
	return errs, nil
}

func (f *fakeCache) value(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok
}

type fakeSession struct {
	mu        sync.Mutex
	began     bool
	committed bool
	aborted   bool
	ended     bool
	commitErr error
}

func (s *fakeSession) Begin(context.Context) error {
	s.mu.Lock()
	s.began = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Commit(context.Context) error {
	if s.commitErr != nil {
		return s.commitErr
	}
	s.mu.Lock()
	s.committed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Abort(context.Context) error {
	s.mu.Lock()
	s.aborted = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) End(context.Context) {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
}

func (s *fakeSession) Context(ctx context.Context) context.Context { return ctx }

type fakeLocker struct {
	mu       sync.Mutex
	acquired []string
	released []string
	failKey  string
	invalid  map[string]bool // keys whose handles read as lost
}

func (f *fakeLocker) Acquire(_ context.Context, key string, _, _ time.Duration) (*lock.Handle, error) {
	if key == f.failKey {
		return nil, lock.ErrContended
	}
	f.mu.Lock()
	f.acquired = append(f.acquired, key)
	f.mu.Unlock()
	return &lock.Handle{Key: key, Token: "tok-" + key}, nil
}

func (f *fakeLocker) Release(_ context.Context, h *lock.Handle) (bool, error) {
	f.mu.Lock()
	f.released = append(f.released, h.Key)
	f.mu.Unlock()
	return true, nil
}

func (f *fakeLocker) Valid(_ context.Context, h *lock.Handle) (bool, error) {
	return !f.invalid[h.Key], nil
}

type fixture struct {
	m     *Manager
	cache *fakeCache
	locks *fakeLocker
	sess  *fakeSession
}

func newFixture() *fixture {
	fc := newFakeCache()
	fl := &fakeLocker{invalid: map[string]bool{}}
	fs := &fakeSession{}
	cfg := DefaultConfig()
	cfg.SweepInterval = 0
	m := New(fc, func(context.Context) (Session, error) { return fs, nil }, fl, cfg)
	return &fixture{m: m, cache: fc, locks: fl, sess: fs}
}

func TestBeginSortsAndDeduplicatesKeys(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	tx, err := fx.m.Begin(ctx, []string{"zebra", "alpha", "mango", "alpha"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mango", "zebra"}, tx.Keys)
	assert.Equal(t, []string{"alpha", "mango", "zebra"}, fx.locks.acquired)
	assert.Equal(t, StateActive, tx.State())
	assert.Equal(t, 1, fx.m.ActiveCount())
	assert.True(t, fx.sess.began)

	require.NoError(t, tx.Rollback(ctx))
}

func TestBeginLockFailureReleasesAcquired(t *testing.T) {
	fx := newFixture()
	fx.locks.failKey = "mango"

	_, err := fx.m.Begin(context.Background(), []string{"zebra", "alpha", "mango"}, 0)
	assert.ErrorIs(t, err, ErrAborted)
	// alpha was acquired before mango failed; zebra never was.
	assert.Equal(t, []string{"alpha"}, fx.locks.acquired)
	assert.Equal(t, []string{"alpha"}, fx.locks.released)
	assert.Zero(t, fx.m.ActiveCount())
}

func TestCommitAppliesCacheOpsAfterDocuments(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	tx, err := fx.m.Begin(ctx, []string{"player:p1", "room:r1"}, 0)
	require.NoError(t, err)

	require.NoError(t, tx.RegisterSet(ctx, "player:p1", []byte("state-v2"), time.Minute))
	require.NoError(t, tx.RegisterDelete(ctx, "room:r1"))

	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, StateCommitted, tx.State())
	assert.True(t, fx.sess.committed)
	assert.True(t, fx.sess.ended)

	v, ok := fx.cache.value("player:p1")
	assert.True(t, ok)
	assert.Equal(t, "state-v2", v)
	assert.Zero(t, fx.m.ActiveCount())
	assert.Len(t, fx.locks.released, 2)

	st := fx.m.Stats()
	assert.Equal(t, int64(1), st.Started)
	assert.Equal(t, int64(1), st.Committed)
	assert.InDelta(t, 1.0, st.SuccessRate, 1e-9)
}

func TestCommitAppliesCacheOpsInOneBatch(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	tx, err := fx.m.Begin(ctx, []string{"a", "b", "h"}, 0)
	require.NoError(t, err)
	require.NoError(t, tx.RegisterSet(ctx, "a", []byte("v"), time.Minute))
	require.NoError(t, tx.RegisterDelete(ctx, "b"))
	require.NoError(t, tx.RegisterHSet(ctx, "h", map[string]any{"f": "1"}))

	require.NoError(t, tx.Commit(ctx))

	// All ops travel in one pipelined round-trip.
	assert.Equal(t, 1, fx.cache.batchCalls)
	v, ok := fx.cache.value("a")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestCommitWithoutCacheOpsSkipsBatch(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	tx, err := fx.m.Begin(ctx, []string{"a"}, 0)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	assert.Zero(t, fx.cache.batchCalls)
	assert.Equal(t, StateCommitted, tx.State())
}

func TestDocumentCommitFailureEndsFailed(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	tx, err := fx.m.Begin(ctx, []string{"a"}, 0)
	require.NoError(t, err)
	require.NoError(t, tx.RegisterSet(ctx, "a", []byte("v"), 0))

	fx.sess.commitErr = errors.New("replica set unavailable")
	err = tx.Commit(ctx)
	assert.ErrorContains(t, err, "document commit")
	assert.Equal(t, StateFailed, tx.State())
	assert.True(t, fx.sess.aborted)

	// The cache phase never ran.
	assert.Zero(t, fx.cache.batchCalls)
	_, ok := fx.cache.value("a")
	assert.False(t, ok)
	assert.Equal(t, int64(1), fx.m.Stats().Failed)
	assert.Zero(t, fx.m.Stats().SuccessRate)
}

func TestUnknownBatchOutcomeCompensatesAll(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	require.NoError(t, fx.cache.Set(ctx, "a", []byte("old-a"), 0))

	tx, err := fx.m.Begin(ctx, []string{"a", "b"}, 0)
	require.NoError(t, err)
	require.NoError(t, tx.RegisterSet(ctx, "a", []byte("new-a"), time.Minute))
	require.NoError(t, tx.RegisterDelete(ctx, "b"))

	// Transport failure: the pipeline outcome is unknown, so every op is
	// compensated. Rewriting values the cache already holds is harmless.
	fx.cache.batchErr = errors.New("connection reset")
	err = tx.Commit(ctx)
	assert.ErrorIs(t, err, ErrPartial)
	assert.Equal(t, StateCommitted, tx.State())

	v, ok := fx.cache.value("a")
	assert.True(t, ok)
	assert.Equal(t, "old-a", v)
	assert.Equal(t, int64(1), fx.m.Stats().Partial)
}

func TestCachePhaseFailureCompensates(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	// Pre-existing value that the transaction will overwrite.
	require.NoError(t, fx.cache.Set(ctx, "a", []byte("old-a"), 0))

	tx, err := fx.m.Begin(ctx, []string{"a", "b"}, 0)
	require.NoError(t, err)
	require.NoError(t, tx.RegisterSet(ctx, "a", []byte("new-a"), time.Minute))
	require.NoError(t, tx.RegisterSet(ctx, "b", []byte("new-b"), time.Minute))

	fx.cache.failSet = "b"
	err = tx.Commit(ctx)
	assert.ErrorIs(t, err, ErrPartial)

	// Documents committed; the applied "a" write was reversed.
	assert.True(t, fx.sess.committed)
	v, ok := fx.cache.value("a")
	assert.True(t, ok)
	assert.Equal(t, "old-a", v)
	_, ok = fx.cache.value("b")
	assert.False(t, ok)

	st := fx.m.Stats()
	assert.Equal(t, int64(1), st.Partial)
	assert.Equal(t, int64(0), st.Committed)
}

func TestCompensationRemovesFreshKeys(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	tx, err := fx.m.Begin(ctx, []string{"a", "b"}, 0)
	require.NoError(t, err)
	// "a" did not exist before; compensation must delete it, not restore.
	require.NoError(t, tx.RegisterSet(ctx, "a", []byte("new-a"), time.Minute))
	require.NoError(t, tx.RegisterSet(ctx, "b", []byte("new-b"), time.Minute))

	fx.cache.failSet = "b"
	require.ErrorIs(t, tx.Commit(ctx), ErrPartial)

	_, ok := fx.cache.value("a")
	assert.False(t, ok)
}

func TestRollbackLeavesCacheUntouched(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	require.NoError(t, fx.cache.Set(ctx, "a", []byte("old"), 0))

	tx, err := fx.m.Begin(ctx, []string{"a"}, 0)
	require.NoError(t, err)
	require.NoError(t, tx.RegisterSet(ctx, "a", []byte("new"), time.Minute))

	require.NoError(t, tx.Rollback(ctx))
	assert.Equal(t, StateRolledBack, tx.State())
	assert.True(t, fx.sess.aborted)
	assert.False(t, fx.sess.committed)

	v, _ := fx.cache.value("a")
	assert.Equal(t, "old", v)
	assert.Zero(t, fx.m.ActiveCount())
}

func TestRegisterAfterTerminalState(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	tx, err := fx.m.Begin(ctx, []string{"a"}, 0)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	err = tx.RegisterSet(ctx, "a", []byte("late"), 0)
	assert.ErrorIs(t, err, ErrNotActive)

	err = tx.Commit(ctx)
	assert.ErrorIs(t, err, ErrNotActive)

	err = tx.Rollback(ctx)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestCommitRefusesOnLostLock(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	tx, err := fx.m.Begin(ctx, []string{"a"}, 0)
	require.NoError(t, err)
	require.NoError(t, tx.RegisterSet(ctx, "a", []byte("new"), 0))

	fx.locks.invalid["a"] = true
	err = tx.Commit(ctx)
	assert.ErrorIs(t, err, lock.ErrLost)
	assert.Equal(t, StateFailed, tx.State())
	assert.True(t, fx.sess.aborted)
	assert.False(t, fx.sess.committed)
	assert.Equal(t, int64(1), fx.m.Stats().Failed)

	_, ok := fx.cache.value("a")
	assert.False(t, ok)
}

func TestHashOpsRoundTripAndCompensation(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	require.NoError(t, fx.cache.HSet(ctx, "h", map[string]any{"kept": "1", "old": "2"}))

	tx, err := fx.m.Begin(ctx, []string{"h", "x"}, 0)
	require.NoError(t, err)
	require.NoError(t, tx.RegisterHSet(ctx, "h", map[string]any{"old": "changed", "fresh": "3"}))
	require.NoError(t, tx.RegisterHDel(ctx, "h", "kept"))
	require.NoError(t, tx.RegisterSet(ctx, "x", []byte("v"), 0))

	fx.cache.failSet = "x"
	require.ErrorIs(t, tx.Commit(ctx), ErrPartial)

	// Both hash ops applied, then compensated back to the original state.
	fx.cache.mu.Lock()
	h := fx.cache.hashes["h"]
	fx.cache.mu.Unlock()
	assert.Equal(t, map[string]string{"kept": "1", "old": "2"}, h)
}

func TestSweeperRollsBackExpired(t *testing.T) {
	fx := newFixture()
	fx.m.cfg.SweepInterval = 5 * time.Millisecond
	ctx := context.Background()

	tx, err := fx.m.Begin(ctx, []string{"a"}, 10*time.Millisecond)
	require.NoError(t, err)

	fx.m.Start(ctx)
	defer fx.m.Stop()

	assert.Eventually(t, func() bool {
		return tx.State() == StateTimedOut
	}, time.Second, 5*time.Millisecond)
	assert.True(t, fx.sess.aborted)
	assert.Zero(t, fx.m.ActiveCount())
	assert.Equal(t, int64(1), fx.m.Stats().TimedOut)
}

func TestBeginRequiresKeys(t *testing.T) {
	fx := newFixture()

	_, err := fx.m.Begin(context.Background(), nil, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
