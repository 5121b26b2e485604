// Package lock implements fenced mutual-exclusion locks over the cache
// store.
//
// A lock is a single key holding an owner token: host, pid, and a fresh
// nonce per acquisition. Release and renew are server-side scripts that
// compare the stored token first, so a stale owner can never release or
// extend somebody else's lock. The store's TTL is the crash-safety net: if
// an owner stalls past its expiry the key vanishes and the next acquirer
// wins.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrContended is returned when the wait budget elapses without the
	// lock becoming free.
	ErrContended = errors.New("lock: contended, wait exhausted")

	// ErrLost is returned for operations under a token that is no longer
	// owned (renewal failed or TTL elapsed).
	ErrLost = errors.New("lock: ownership lost")

	// ErrInvalidArgument is returned for empty keys or non-positive TTLs.
	ErrInvalidArgument = errors.New("lock: invalid argument")
)

// Store is the subset of the cache store the lock service needs.
// Implemented by *redis.Client.
type Store interface {
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)
}

// Compare-and-delete: delete only when the stored value equals the owner
// token. Runs atomically at the store.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// Compare-and-expire: extend the TTL only when the stored value equals the
// owner token.
const renewScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("pexpire", KEYS[1], ARGV[2]) else return 0 end`

// Config holds lock service settings.
type Config struct {
	// DefaultExpiry is the lock TTL used when the caller passes zero.
	DefaultExpiry time.Duration `mapstructure:"default_expiry" yaml:"default_expiry"`

	// DefaultWait bounds how long Acquire blocks when the caller passes a
	// negative wait.
	DefaultWait time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`

	// RetryInterval is the pause between acquisition attempts.
	RetryInterval time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`

	// MaxRetries bounds acquisition attempts inside the wait budget.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`

	// KeyPrefix namespaces lock keys: "<prefix>:<logical-key>".
	KeyPrefix string `mapstructure:"key_prefix" validate:"required" yaml:"key_prefix"`

	// EnableAutoRenewal starts the background renewal worker.
	EnableAutoRenewal bool `mapstructure:"enable_auto_renewal" yaml:"enable_auto_renewal"`

	// AutoRenewalRatio is the fraction of a lock's TTL after which the
	// worker renews it. Must be in (0,1).
	AutoRenewalRatio float64 `mapstructure:"auto_renewal_ratio" validate:"gt=0,lt=1" yaml:"auto_renewal_ratio"`

	// RenewCheckInterval is the renewal worker's tick.
	RenewCheckInterval time.Duration `mapstructure:"renew_check_interval" yaml:"renew_check_interval"`
}

// DefaultConfig returns production-leaning lock settings.
func DefaultConfig() Config {
	return Config{
		DefaultExpiry:      30 * time.Second,
		DefaultWait:        10 * time.Second,
		RetryInterval:      50 * time.Millisecond,
		MaxRetries:         100,
		KeyPrefix:          "lock",
		EnableAutoRenewal:  true,
		AutoRenewalRatio:   0.7,
		RenewCheckInterval: time.Second,
	}
}

// Handle represents one acquired lock. The token is the fencing token:
// every release and renew is conditioned on it.
type Handle struct {
	Key        string // logical key (without prefix)
	Token      string
	AcquiredAt time.Time

	mu        sync.Mutex
	ttl       time.Duration
	renewedAt time.Time // last successful renewal (AcquiredAt before any)
	expiresAt time.Time
	released  bool
}

// TTL returns the lock's current time-to-live span.
func (h *Handle) TTL() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ttl
}

// sinceRefresh returns the elapsed time since the last renewal (or the
// acquisition, before any renewal).
func (h *Handle) sinceRefresh(now time.Time) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return now.Sub(h.renewedAt)
}

// ExpiresAt returns the current expiry instant of the lock.
func (h *Handle) ExpiresAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.expiresAt
}

// Released reports whether the handle was released (explicitly or by a
// failed renewal).
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

func (h *Handle) markReleased() {
	h.mu.Lock()
	h.released = true
	h.mu.Unlock()
}

func (h *Handle) extend(expiry time.Duration) {
	h.mu.Lock()
	now := time.Now()
	h.ttl = expiry
	h.renewedAt = now
	h.expiresAt = now.Add(expiry)
	h.mu.Unlock()
}

// Service acquires and tracks distributed locks.
type Service struct {
	store  Store
	cfg    Config
	nodeID string

	mu     sync.Mutex
	active map[string]*Handle // token -> handle

	stats lockStats

	stopCh    chan struct{}
	stoppedCh chan struct{}
	started   bool
}

// New creates a lock service over the given store.
func New(store Store, cfg Config) *Service {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	return &Service{
		store:  store,
		cfg:    cfg,
		nodeID: fmt.Sprintf("%s:%d", host, os.Getpid()),
		active: make(map[string]*Handle),
	}
}

func (s *Service) storeKey(key string) string {
	return s.cfg.KeyPrefix + ":" + key
}

func (s *Service) newToken() string {
	return s.nodeID + ":" + uuid.NewString()
}

// TryAcquire makes a single atomic set-if-absent attempt.
// Returns (nil, nil) when another owner holds the lock.
func (s *Service) TryAcquire(ctx context.Context, key string, expiry time.Duration) (*Handle, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	return s.tryAcquireToken(ctx, key, expiry)
}

// Acquire retries TryAcquire until success, wait exhaustion, or
// cancellation. wait == 0 never blocks: it degenerates to one attempt.
// A negative wait uses the configured default.
func (s *Service) Acquire(ctx context.Context, key string, expiry, wait time.Duration) (*Handle, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	if wait < 0 {
		wait = s.cfg.DefaultWait
	}

	start := time.Now()
	deadline := start.Add(wait)
	attempts := 0

	for {
		attempts++
		h, err := s.tryAcquireToken(ctx, key, expiry)
		if err != nil {
			return nil, err
		}
		if h != nil {
			s.stats.addWait(time.Since(start))
			return h, nil
		}

		if wait == 0 || attempts >= s.cfg.MaxRetries || !time.Now().Add(s.cfg.RetryInterval).Before(deadline) {
			s.stats.timedOut()
			return nil, fmt.Errorf("%w: key %q after %d attempts", ErrContended, key, attempts)
		}

		select {
		case <-ctx.Done():
			s.stats.timedOut()
			return nil, ctx.Err()
		case <-time.After(s.cfg.RetryInterval):
		}
	}
}

func (s *Service) tryAcquireToken(ctx context.Context, key string, expiry time.Duration) (*Handle, error) {
	if expiry <= 0 {
		expiry = s.cfg.DefaultExpiry
	}
	token := s.newToken()
	stored, err := s.store.SetNX(ctx, s.storeKey(key), []byte(token), expiry)
	if err != nil {
		s.stats.failed()
		return nil, err
	}
	if !stored {
		return nil, nil
	}
	now := time.Now()
	h := &Handle{
		Key:        key,
		Token:      token,
		AcquiredAt: now,
		ttl:        expiry,
		renewedAt:  now,
		expiresAt:  now.Add(expiry),
	}
	s.track(h)
	s.stats.acquired()
	return h, nil
}

// Release deletes the lock only if the stored token still matches.
// Returns whether the lock was actually released; releasing a lock that is
// already gone (or owned by someone else) is a successful no-op.
func (s *Service) Release(ctx context.Context, h *Handle) (bool, error) {
	if h == nil {
		return false, fmt.Errorf("%w: nil handle", ErrInvalidArgument)
	}
	res, err := s.store.Eval(ctx, releaseScript, []string{s.storeKey(h.Key)}, h.Token)
	if err != nil {
		return false, err
	}

	s.untrack(h)
	h.markReleased()

	deleted := asInt(res) == 1
	if deleted {
		s.stats.released(time.Since(h.AcquiredAt))
	}
	return deleted, nil
}

// Renew extends the lock TTL only if the stored token still matches.
// Returns false (and ErrLost) when ownership was lost.
func (s *Service) Renew(ctx context.Context, h *Handle, expiry time.Duration) (bool, error) {
	if h == nil {
		return false, fmt.Errorf("%w: nil handle", ErrInvalidArgument)
	}
	if expiry <= 0 {
		expiry = s.cfg.DefaultExpiry
	}
	res, err := s.store.Eval(ctx, renewScript,
		[]string{s.storeKey(h.Key)}, h.Token, expiry.Milliseconds())
	if err != nil {
		return false, err
	}
	if asInt(res) != 1 {
		s.untrack(h)
		h.markReleased()
		s.stats.renewFailed()
		return false, fmt.Errorf("%w: key %q", ErrLost, h.Key)
	}
	h.extend(expiry)
	return true, nil
}

// Valid reports whether the stored token still equals the handle's token.
func (s *Service) Valid(ctx context.Context, h *Handle) (bool, error) {
	if h == nil || h.Released() {
		return false, nil
	}
	val, ok, err := s.store.Get(ctx, s.storeKey(h.Key))
	if err != nil {
		return false, err
	}
	return ok && string(val) == h.Token, nil
}

func (s *Service) track(h *Handle) {
	s.mu.Lock()
	s.active[h.Token] = h
	s.mu.Unlock()
}

func (s *Service) untrack(h *Handle) {
	s.mu.Lock()
	delete(s.active, h.Token)
	s.mu.Unlock()
}

// activeHandles snapshots the tracked handles for the renewal worker.
func (s *Service) activeHandles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Handle, 0, len(s.active))
	for _, h := range s.active {
		out = append(out, h)
	}
	return out
}

// ActiveCount returns the number of locks this process currently tracks.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// asInt normalizes script replies, which arrive as int64 from the store
// and as plain int from test fakes.
func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
