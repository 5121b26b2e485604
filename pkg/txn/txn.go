// Package txn implements distributed transactions spanning the document
// store and the cache for a bounded set of keys.
//
// A transaction acquires its keys' distributed locks in lexicographic order,
// runs the caller's document operations inside a document store transaction,
// and applies registered cache operations only after the document commit.
// Every registered cache operation captures the previous cache state, so a
// failure in the cache phase compensates the applied prefix in reverse and
// surfaces ErrPartial. Documents stay committed in that case; the divergence
// heals on the next reconciliation read.
package txn

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/playforge/arcadia/internal/logger"
	"github.com/playforge/arcadia/internal/telemetry"
	"github.com/playforge/arcadia/pkg/lock"
	"github.com/playforge/arcadia/pkg/store/mongo"
	"github.com/playforge/arcadia/pkg/store/redis"
)

var (
	// ErrNotActive is returned for operations on a finished transaction.
	ErrNotActive = errors.New("txn: transaction not active")

	// ErrAborted is returned when a transaction cannot start (lock
	// contention, session failure).
	ErrAborted = errors.New("txn: aborted")

	// ErrPartial is returned when the cache phase fails after the document
	// commit. The document changes are durable; the cache was compensated.
	ErrPartial = errors.New("txn: committed documents, cache phase failed")

	// ErrInvalidArgument is returned for an empty key set.
	ErrInvalidArgument = errors.New("txn: invalid argument")
)

// State is a transaction lifecycle state.
type State string

const (
	StateActive      State = "active"
	StateCommitting  State = "committing"
	StateCommitted   State = "committed"
	StateRollingBack State = "rolling_back"
	StateRolledBack  State = "rolled_back"
	StateTimedOut    State = "timed_out"
	StateFailed      State = "failed"
)

// CacheStore is the slice of the cache store the manager needs.
// Implemented by *redis.Client.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	HGet(ctx context.Context, key, field string) ([]byte, bool, error)
	HSet(ctx context.Context, key string, fields map[string]any) error
	HDel(ctx context.Context, key string, fields ...string) error
	ExecBatch(ctx context.Context, ops []redis.BatchOp) ([]error, error)
}

// Session is one document store session carrying a transaction.
// Implemented by *mongo.Session.
type Session interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
	End(ctx context.Context)
	Context(ctx context.Context) context.Context
}

// SessionFactory opens document store sessions.
type SessionFactory func(ctx context.Context) (Session, error)

// MongoSessions adapts the document store client to a SessionFactory.
func MongoSessions(c *mongo.Client) SessionFactory {
	return func(ctx context.Context) (Session, error) {
		return c.StartSession(ctx)
	}
}

// Locker is the slice of the lock service the manager needs.
// Implemented by *lock.Service.
type Locker interface {
	Acquire(ctx context.Context, key string, expiry, wait time.Duration) (*lock.Handle, error)
	Release(ctx context.Context, h *lock.Handle) (bool, error)
	Valid(ctx context.Context, h *lock.Handle) (bool, error)
}

// Config holds transaction manager settings.
type Config struct {
	// DefaultTimeout applies when Begin receives a non-positive timeout.
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`

	// LockExpiry is the TTL of the per-key locks; it should exceed the
	// longest expected transaction.
	LockExpiry time.Duration `mapstructure:"lock_expiry" yaml:"lock_expiry"`

	// LockWait bounds how long Begin waits per key.
	LockWait time.Duration `mapstructure:"lock_wait" yaml:"lock_wait"`

	// SweepInterval is the timeout sweeper's tick.
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// DefaultConfig returns production-leaning transaction settings.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 30 * time.Second,
		LockExpiry:     time.Minute,
		LockWait:       5 * time.Second,
		SweepInterval:  time.Second,
	}
}

// Manager begins and tracks distributed transactions.
type Manager struct {
	cache    CacheStore
	sessions SessionFactory
	locks    Locker
	cfg      Config

	mu     sync.Mutex
	active map[string]*Txn

	stats txnStats

	stopCh    chan struct{}
	stoppedCh chan struct{}
	started   bool
}

// New creates a transaction manager.
func New(cache CacheStore, sessions SessionFactory, locks Locker, cfg Config) *Manager {
	return &Manager{
		cache:    cache,
		sessions: sessions,
		locks:    locks,
		cfg:      cfg,
		active:   make(map[string]*Txn),
	}
}

// Txn is one in-flight transaction handle.
type Txn struct {
	ID      string
	Keys    []string // sorted
	Timeout time.Duration

	m       *Manager
	session Session
	locks   []*lock.Handle

	mu        sync.Mutex
	state     State
	startedAt time.Time
	ops       []cacheOp
}

// State returns the transaction's current lifecycle state.
func (t *Txn) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// StartedAt returns the begin instant.
func (t *Txn) StartedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startedAt
}

// Context binds ctx to the document session so the caller's document
// operations join the transaction.
func (t *Txn) Context(ctx context.Context) context.Context {
	return t.session.Context(ctx)
}

// Begin starts a transaction over the given logical keys. Keys are
// deduplicated and locked in lexicographic order; a non-positive timeout
// uses the configured default.
func (m *Manager) Begin(ctx context.Context, keys []string, timeout time.Duration) (*Txn, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no keys", ErrInvalidArgument)
	}
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}

	sorted := dedupeSorted(keys)
	id := uuid.NewString()

	ctx, span := telemetry.StartTxnSpan(ctx, "begin", id, sorted)
	defer span.End()

	handles := make([]*lock.Handle, 0, len(sorted))
	for _, key := range sorted {
		h, err := m.locks.Acquire(ctx, key, m.cfg.LockExpiry, m.cfg.LockWait)
		if err != nil {
			m.releaseAll(ctx, handles)
			m.stats.failedBegin()
			return nil, fmt.Errorf("%w: lock %q: %v", ErrAborted, key, err)
		}
		handles = append(handles, h)
	}

	sess, err := m.sessions(ctx)
	if err != nil {
		m.releaseAll(ctx, handles)
		m.stats.failedBegin()
		return nil, fmt.Errorf("%w: session: %v", ErrAborted, err)
	}
	if err := sess.Begin(ctx); err != nil {
		sess.End(ctx)
		m.releaseAll(ctx, handles)
		m.stats.failedBegin()
		return nil, fmt.Errorf("%w: begin: %v", ErrAborted, err)
	}

	t := &Txn{
		ID:        id,
		Keys:      sorted,
		Timeout:   timeout,
		m:         m,
		session:   sess,
		locks:     handles,
		state:     StateActive,
		startedAt: time.Now(),
	}

	m.mu.Lock()
	m.active[id] = t
	m.mu.Unlock()
	m.stats.started()

	logger.DebugCtx(ctx, "transaction started",
		logger.KeyTxnID, id, "keys", len(sorted), "timeout", timeout)
	return t, nil
}

func (m *Manager) releaseAll(ctx context.Context, handles []*lock.Handle) {
	for i := len(handles) - 1; i >= 0; i-- {
		if _, err := m.locks.Release(ctx, handles[i]); err != nil {
			logger.WarnCtx(ctx, "transaction lock release failed",
				logger.KeyLockKey, handles[i].Key, logger.KeyError, err.Error())
		}
	}
}

func (m *Manager) untrack(id string) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

// ActiveCount returns the number of in-flight transactions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) snapshotActive() []*Txn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Txn, 0, len(m.active))
	for _, t := range m.active {
		out = append(out, t)
	}
	return out
}

func dedupeSorted(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
