// Package syncer mediates between the cache and the document store under
// per-kind synchronization strategies.
//
// A Binder registered at startup ties each payload kind to its cache
// category, document collection, and wire marshaller. Writes route through
// the kind's strategy: write-through lands in both stores before returning,
// write-behind lands in the cache and queues the document upsert for the
// flush worker, cache-aside touches the cache only and leaves documents to
// the caller's loader source.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/playforge/arcadia/pkg/cache"
	"github.com/playforge/arcadia/pkg/codec"
	"github.com/playforge/arcadia/pkg/store/mongo"
)

var (
	// ErrUnknownKind is returned for operations on a kind with no binder.
	ErrUnknownKind = errors.New("syncer: unknown payload kind")

	// ErrClosed is returned for writes after Close.
	ErrClosed = errors.New("syncer: engine closed")

	// ErrQueueFull is returned when the write-behind queue is at capacity
	// and an immediate flush could not free space.
	ErrQueueFull = errors.New("syncer: write-behind queue full")
)

// Strategy selects how a write reaches the document store.
type Strategy string

const (
	WriteThrough Strategy = "write_through"
	WriteBehind  Strategy = "write_behind"
	CacheAside   Strategy = "cache_aside"
)

// MarshalFunc serializes a payload into its cached wire form.
type MarshalFunc func(v any) ([]byte, error)

// Binder ties a payload kind to its cache category and document collection.
// A nil Marshal uses the default state-frame envelope. An empty Strategy
// falls back to the configured per-kind map, then the engine default.
type Binder struct {
	Kind     mongo.Kind
	Category cache.Category
	Strategy Strategy
	Marshal  MarshalFunc
}

// CacheStore is the slice of the cache layer the engine needs.
// Implemented by *cache.Cache.
type CacheStore interface {
	Get(ctx context.Context, cat cache.Category, key string) ([]byte, bool, error)
	Set(ctx context.Context, cat cache.Category, key string, value []byte, expiry time.Duration) error
	Remove(ctx context.Context, cat cache.Category, key string) (bool, error)
}

// DocStore is the slice of the document store the engine needs.
// Implemented by *mongo.Client.
type DocStore interface {
	UpsertByID(ctx context.Context, kind mongo.Kind, id string, doc any) error
	BulkUpsert(ctx context.Context, kind mongo.Kind, docs map[string]any) (int64, error)
	DeleteByID(ctx context.Context, kind mongo.Kind, id string) (bool, error)
}

// Config holds sync engine settings.
type Config struct {
	// FlushInterval is the write-behind flush period.
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`

	// FlushBatchSize bounds how many queued writes one flush pass takes.
	FlushBatchSize int `mapstructure:"flush_batch_size" validate:"gt=0" yaml:"flush_batch_size"`

	// MaxPendingWrites triggers an immediate flush when the queue reaches it.
	MaxPendingWrites int `mapstructure:"max_pending_writes" validate:"gt=0" yaml:"max_pending_writes"`

	// DefaultStrategy applies to kinds without a binder or map override.
	DefaultStrategy Strategy `mapstructure:"default_strategy" yaml:"default_strategy"`

	// Strategies overrides the strategy per kind name.
	Strategies map[string]Strategy `mapstructure:"strategies" yaml:"strategies"`
}

// DefaultConfig returns production-leaning sync settings.
func DefaultConfig() Config {
	return Config{
		FlushInterval:    5 * time.Second,
		FlushBatchSize:   256,
		MaxPendingWrites: 1024,
		DefaultStrategy:  WriteThrough,
	}
}

// Engine is the two-tier synchronization engine.
type Engine struct {
	cache CacheStore
	docs  DocStore
	cfg   Config

	binders map[mongo.Kind]Binder

	mu      sync.Mutex
	queue   []*pending
	index   map[string]*pending // kind/id -> queued item, for coalescing
	passSeq uint64              // flush pass counter, for the requeue-once-per-pass rule
	closed  bool

	stats syncStats

	kickCh    chan struct{}
	stopCh    chan struct{}
	stoppedCh chan struct{}
	started   bool
}

type pending struct {
	kind mongo.Kind
	id   string
	doc  any

	requeuedPass uint64 // flush pass that requeued this item; 0 = never
	dropped      bool
}

// New creates a sync engine over the given stores.
func New(cacheStore CacheStore, docs DocStore, cfg Config) *Engine {
	return &Engine{
		cache:   cacheStore,
		docs:    docs,
		cfg:     cfg,
		binders: make(map[mongo.Kind]Binder),
		index:   make(map[string]*pending),
		kickCh:  make(chan struct{}, 1),
	}
}

// Register installs a binder for a payload kind. Later registrations for the
// same kind win. Not safe to call concurrently with operations; bind at
// startup.
func (e *Engine) Register(b Binder) {
	if b.Marshal == nil {
		b.Marshal = func(v any) ([]byte, error) {
			return codec.Encode(codec.KindState, v)
		}
	}
	e.binders[b.Kind] = b
}

func (e *Engine) binder(kind mongo.Kind) (Binder, error) {
	b, ok := e.binders[kind]
	if !ok {
		return Binder{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return b, nil
}

// strategyFor resolves the strategy of a kind: binder, per-kind map,
// engine default.
func (e *Engine) strategyFor(b Binder) Strategy {
	if b.Strategy != "" {
		return b.Strategy
	}
	if s, ok := e.cfg.Strategies[string(b.Kind)]; ok && s != "" {
		return s
	}
	if e.cfg.DefaultStrategy != "" {
		return e.cfg.DefaultStrategy
	}
	return WriteThrough
}

// Write stores a payload under its kind's strategy. The document form is the
// payload itself; the cached form is the binder's marshalled bytes.
func (e *Engine) Write(ctx context.Context, kind mongo.Kind, id string, payload any) error {
	b, err := e.binder(kind)
	if err != nil {
		return err
	}
	blob, err := b.Marshal(payload)
	if err != nil {
		return fmt.Errorf("syncer: marshal %s/%s: %w", kind, id, err)
	}

	switch e.strategyFor(b) {
	case WriteBehind:
		if err := e.cache.Set(ctx, b.Category, id, blob, 0); err != nil {
			return err
		}
		return e.enqueue(ctx, kind, id, payload)

	case CacheAside:
		return e.cache.Set(ctx, b.Category, id, blob, 0)

	default: // WriteThrough
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return e.cache.Set(gctx, b.Category, id, blob, 0)
		})
		g.Go(func() error {
			return e.docs.UpsertByID(gctx, kind, id, payload)
		})
		if err := g.Wait(); err != nil {
			return err
		}
		e.stats.wroteThrough()
		return nil
	}
}

// Loader fetches a payload from its source of truth on a cache miss.
type Loader func(ctx context.Context) (any, error)

// Read returns the cached bytes for a key. On a miss it invokes the loader,
// populates the cache with the category TTL, and returns the loaded bytes.
// A nil loader turns a miss into (nil, false, nil).
func (e *Engine) Read(ctx context.Context, kind mongo.Kind, id string, loader Loader) ([]byte, bool, error) {
	b, err := e.binder(kind)
	if err != nil {
		return nil, false, err
	}

	blob, ok, err := e.cache.Get(ctx, b.Category, id)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return blob, true, nil
	}
	if loader == nil {
		return nil, false, nil
	}

	payload, err := loader(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("syncer: load %s/%s: %w", kind, id, err)
	}
	blob, err = b.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("syncer: marshal %s/%s: %w", kind, id, err)
	}
	if err := e.cache.Set(ctx, b.Category, id, blob, 0); err != nil {
		return nil, false, err
	}
	return blob, true, nil
}

// Delete removes a key from the cache and from its document collection.
// Both removals are attempted; the first error wins but does not stop the
// other.
func (e *Engine) Delete(ctx context.Context, kind mongo.Kind, id string) error {
	b, err := e.binder(kind)
	if err != nil {
		return err
	}

	_, cacheErr := e.cache.Remove(ctx, b.Category, id)
	_, docErr := e.docs.DeleteByID(ctx, kind, id)
	e.dropPending(kind, id)

	if cacheErr != nil {
		return cacheErr
	}
	return docErr
}
