// Package redis implements the cache store adapter: a typed facade over a
// Redis-compatible key-value store.
//
// The adapter owns connection multiplexing, bounded retry with exponential
// backoff, and availability signalling to upper layers. Single commands are
// atomic at the store; batched pipelines are not, so anything that needs
// atomicity across a read-modify-write goes through Eval (server-side
// scripting).
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/playforge/arcadia/internal/logger"
)

// ErrUnavailable is returned when the store is not reachable after the
// configured retry budget is exhausted.
var ErrUnavailable = errors.New("redis: cache store unavailable")

// TTL sentinels matching the store's reply for TTL queries.
const (
	// TTLNoExpiry means the key exists but has no expiration.
	TTLNoExpiry = time.Duration(-1)
	// TTLMissing means the key does not exist.
	TTLMissing = time.Duration(-2)
)

// Config holds connection and retry settings for the cache store.
type Config struct {
	Addr         string        `mapstructure:"addr" validate:"required" yaml:"addr"`
	Password     string        `mapstructure:"password" yaml:"password"`
	DB           int           `mapstructure:"db" validate:"gte=0" yaml:"db"`
	PoolSize     int           `mapstructure:"pool_size" validate:"gte=0" yaml:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// MaxRetries is the number of attempts after the first failure before
	// an operation surfaces ErrUnavailable.
	MaxRetries     uint          `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay" yaml:"retry_max_delay"`
}

// DefaultConfig returns settings suitable for a local development store.
func DefaultConfig() Config {
	return Config{
		Addr:           "localhost:6379",
		DB:             0,
		PoolSize:       32,
		DialTimeout:    5 * time.Second,
		ReadTimeout:    3 * time.Second,
		WriteTimeout:   3 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 50 * time.Millisecond,
		RetryMaxDelay:  2 * time.Second,
	}
}

// StateHandler is notified when the adapter loses or regains the store.
// available=false carries the terminal error of the failed operation.
type StateHandler func(available bool, err error)

// SetItem is one entry of a batched set.
type SetItem struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// Client is the cache store adapter. Safe for concurrent use.
type Client struct {
	rdb   *redis.Client
	cfg   Config
	state *stateTracker
}

// New creates a cache store adapter. The underlying connection is
// established lazily on first use; call Ping to verify reachability.
func New(cfg Config) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		// The adapter runs its own retry loop with backoff.
		MaxRetries: -1,
	})
	return &Client{
		rdb:   rdb,
		cfg:   cfg,
		state: newStateTracker(),
	}
}

// SetStateHandler registers the availability callback. Only one handler is
// kept; later calls replace it.
func (c *Client) SetStateHandler(h StateHandler) {
	c.state.setHandler(h)
}

// WithDB returns a new adapter bound to another logical database index.
// The new adapter shares configuration but owns its own connection pool.
func (c *Client) WithDB(index int) *Client {
	cfg := c.cfg
	cfg.DB = index
	clone := New(cfg)
	clone.state = c.state
	return clone
}

// Ping verifies the store is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "PING", func() error {
		return c.rdb.Ping(ctx).Err()
	})
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// ============================================================================
// String operations
// ============================================================================

// Get returns the value for key. ok is false on a miss.
func (c *Client) Get(ctx context.Context, key string) (val []byte, ok bool, err error) {
	err = c.do(ctx, "GET", func() error {
		b, gerr := c.rdb.Get(ctx, key).Bytes()
		if errors.Is(gerr, redis.Nil) {
			val, ok = nil, false
			return nil
		}
		if gerr != nil {
			return gerr
		}
		val, ok = b, true
		return nil
	})
	return val, ok, err
}

// Set stores value under key with the given TTL. ttl <= 0 keeps the key
// without expiry, which callers should avoid: the cache strategy always
// passes a finite TTL.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.do(ctx, "SET", func() error {
		return c.rdb.Set(ctx, key, value, ttl).Err()
	})
}

// SetNX atomically stores value only if key is absent. Returns whether the
// value was stored.
func (c *Client) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (stored bool, err error) {
	err = c.do(ctx, "SETNX", func() error {
		var serr error
		stored, serr = c.rdb.SetNX(ctx, key, value, ttl).Result()
		return serr
	})
	return stored, err
}

// Del removes the given keys and returns how many existed.
func (c *Client) Del(ctx context.Context, keys ...string) (removed int64, err error) {
	if len(keys) == 0 {
		return 0, nil
	}
	err = c.do(ctx, "DEL", func() error {
		var derr error
		removed, derr = c.rdb.Del(ctx, keys...).Result()
		return derr
	})
	return removed, err
}

// Exists reports whether key is present.
func (c *Client) Exists(ctx context.Context, key string) (exists bool, err error) {
	err = c.do(ctx, "EXISTS", func() error {
		n, eerr := c.rdb.Exists(ctx, key).Result()
		exists = n > 0
		return eerr
	})
	return exists, err
}

// Expire updates the TTL of key. Returns false when the key does not exist.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) (updated bool, err error) {
	err = c.do(ctx, "EXPIRE", func() error {
		var eerr error
		updated, eerr = c.rdb.Expire(ctx, key, ttl).Result()
		return eerr
	})
	return updated, err
}

// TTL returns the remaining lifetime of key. The sentinels TTLNoExpiry and
// TTLMissing mirror the store's replies.
func (c *Client) TTL(ctx context.Context, key string) (ttl time.Duration, err error) {
	err = c.do(ctx, "TTL", func() error {
		var terr error
		ttl, terr = c.rdb.TTL(ctx, key).Result()
		return terr
	})
	return ttl, err
}

// ============================================================================
// Hash operations
// ============================================================================

// HGet returns one hash field. ok is false when field or key are absent.
func (c *Client) HGet(ctx context.Context, key, field string) (val []byte, ok bool, err error) {
	err = c.do(ctx, "HGET", func() error {
		b, herr := c.rdb.HGet(ctx, key, field).Bytes()
		if errors.Is(herr, redis.Nil) {
			val, ok = nil, false
			return nil
		}
		if herr != nil {
			return herr
		}
		val, ok = b, true
		return nil
	})
	return val, ok, err
}

// HGetAll returns all fields of a hash. An absent key yields an empty map.
func (c *Client) HGetAll(ctx context.Context, key string) (fields map[string]string, err error) {
	err = c.do(ctx, "HGETALL", func() error {
		var herr error
		fields, herr = c.rdb.HGetAll(ctx, key).Result()
		return herr
	})
	return fields, err
}

// HSet writes the given fields of a hash.
func (c *Client) HSet(ctx context.Context, key string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	flat := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		flat = append(flat, k, v)
	}
	return c.do(ctx, "HSET", func() error {
		return c.rdb.HSet(ctx, key, flat...).Err()
	})
}

// HDel removes fields from a hash.
func (c *Client) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return c.do(ctx, "HDEL", func() error {
		return c.rdb.HDel(ctx, key, fields...).Err()
	})
}

// ============================================================================
// Batched pipelines
// ============================================================================

// MGet returns values for keys in order; missing keys yield nil entries.
func (c *Client) MGet(ctx context.Context, keys ...string) (vals [][]byte, err error) {
	if len(keys) == 0 {
		return nil, nil
	}
	err = c.do(ctx, "MGET", func() error {
		raw, merr := c.rdb.MGet(ctx, keys...).Result()
		if merr != nil {
			return merr
		}
		vals = make([][]byte, len(raw))
		for i, v := range raw {
			if s, ok := v.(string); ok {
				vals[i] = []byte(s)
			}
		}
		return nil
	})
	return vals, err
}

// SetBatch stores all items through one pipeline. Pipelines are not atomic:
// a failure may leave a prefix of the batch applied.
func (c *Client) SetBatch(ctx context.Context, items []SetItem) error {
	if len(items) == 0 {
		return nil
	}
	return c.do(ctx, "PIPELINE.SET", func() error {
		_, perr := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, it := range items {
				pipe.Set(ctx, it.Key, it.Value, it.TTL)
			}
			return nil
		})
		return perr
	})
}

// Pipeline exposes a raw pipeline for callers that need mixed batches.
// The returned pipeliner must be used before ctx is done.
func (c *Client) Pipeline() redis.Pipeliner {
	return c.rdb.Pipeline()
}

// BatchOpKind selects the command of a BatchOp.
type BatchOpKind int

const (
	BatchSet BatchOpKind = iota
	BatchDel
	BatchHSet
	BatchHDel
)

// BatchOp is one command of a mixed pipelined batch.
type BatchOp struct {
	Op     BatchOpKind
	Key    string
	Value  []byte         // BatchSet
	TTL    time.Duration  // BatchSet
	Fields map[string]any // BatchHSet
	Names  []string       // BatchHDel
}

// ExecBatch applies a mixed batch of write commands through one pipelined
// round-trip. The returned slice carries one error per op, in order; the
// second return is set when the pipeline itself could not be sent and the
// per-op outcome is unknown. Pipelines are not atomic: ops after a failed
// one may still have been applied.
func (c *Client) ExecBatch(ctx context.Context, ops []BatchOp) ([]error, error) {
	if len(ops) == 0 {
		return nil, nil
	}

	pipe := c.Pipeline()
	for _, op := range ops {
		switch op.Op {
		case BatchSet:
			pipe.Set(ctx, op.Key, op.Value, op.TTL)
		case BatchDel:
			pipe.Del(ctx, op.Key)
		case BatchHSet:
			pipe.HSet(ctx, op.Key, op.Fields)
		case BatchHDel:
			pipe.HDel(ctx, op.Key, op.Names...)
		}
	}

	cmds, err := pipe.Exec(ctx)
	if len(cmds) != len(ops) {
		return nil, fmt.Errorf("%w: pipeline: %v", ErrUnavailable, err)
	}
	errs := make([]error, len(ops))
	for i, cmd := range cmds {
		if cerr := cmd.Err(); cerr != nil && !errors.Is(cerr, redis.Nil) {
			errs[i] = cerr
		}
	}
	return errs, nil
}

// ============================================================================
// Scripting
// ============================================================================

// Eval runs a server-side script. This is the atomic building block for
// compare-and-delete and compare-and-expire.
func (c *Client) Eval(ctx context.Context, script string, keys []string, args ...any) (res any, err error) {
	err = c.do(ctx, "EVAL", func() error {
		var eerr error
		res, eerr = c.rdb.Eval(ctx, script, keys, args...).Result()
		if errors.Is(eerr, redis.Nil) {
			res = nil
			return nil
		}
		return eerr
	})
	return res, err
}

// ============================================================================
// Server info and pub/sub
// ============================================================================

// Info returns the raw INFO reply for the given sections.
func (c *Client) Info(ctx context.Context, sections ...string) (info string, err error) {
	err = c.do(ctx, "INFO", func() error {
		var ierr error
		info, ierr = c.rdb.Info(ctx, sections...).Result()
		return ierr
	})
	return info, err
}

// MemoryUsed returns the store's used_memory in bytes, or 0 when the field
// is absent from the INFO reply.
func (c *Client) MemoryUsed(ctx context.Context) (int64, error) {
	info, err := c.Info(ctx, "memory")
	if err != nil {
		return 0, err
	}
	v := InfoValue(info, "used_memory")
	if v == "" {
		return 0, nil
	}
	n, perr := strconv.ParseInt(v, 10, 64)
	if perr != nil {
		return 0, fmt.Errorf("redis: parse used_memory %q: %w", v, perr)
	}
	return n, nil
}

// DBSize returns the number of keys in the selected database.
func (c *Client) DBSize(ctx context.Context) (n int64, err error) {
	err = c.do(ctx, "DBSIZE", func() error {
		var derr error
		n, derr = c.rdb.DBSize(ctx).Result()
		return derr
	})
	return n, err
}

// Subscriber opens a pub/sub subscription on the given channels. The caller
// owns the returned subscription and must Close it.
func (c *Client) Subscriber(ctx context.Context, channels ...string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channels...)
}

// Publish sends a message on a pub/sub channel.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.do(ctx, "PUBLISH", func() error {
		return c.rdb.Publish(ctx, channel, payload).Err()
	})
}

// InfoValue extracts a single "field:value" line from an INFO reply.
// Returns "" when the field is not present.
func InfoValue(info, field string) string {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, field+":"); ok {
			return rest
		}
	}
	return ""
}

func init() {
	// go-redis logs through the standard library by default; route its
	// internal messages away from user-facing output.
	redis.SetLogger(discardLogger{})
}

type discardLogger struct{}

func (discardLogger) Printf(_ context.Context, format string, v ...any) {
	logger.Debug("go-redis: " + fmt.Sprintf(format, v...))
}
