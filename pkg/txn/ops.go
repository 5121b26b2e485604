package txn

import (
	"context"
	"fmt"
	"time"

	"github.com/playforge/arcadia/pkg/store/redis"
)

type opKind int

const (
	opSet opKind = iota
	opDelete
	opHSet
	opHDel
)

func (k opKind) String() string {
	switch k {
	case opSet:
		return "set"
	case opDelete:
		return "delete"
	case opHSet:
		return "hset"
	default:
		return "hdel"
	}
}

// cacheOp is one registered cache operation plus the previous state needed
// to reverse it.
type cacheOp struct {
	kind      opKind
	key       string
	value     []byte
	ttl       time.Duration
	fields    map[string]any
	delFields []string

	prevPresent bool
	prevValue   []byte
	prevTTL     time.Duration
	prevFields  map[string]*string // prior field values; nil entry = absent
}

func (t *Txn) register(op cacheOp) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return fmt.Errorf("%w: %s", ErrNotActive, t.state)
	}
	t.ops = append(t.ops, op)
	return nil
}

// capturePrev records the current string value and TTL of a key.
func (t *Txn) capturePrev(ctx context.Context, op *cacheOp) error {
	val, ok, err := t.m.cache.Get(ctx, op.key)
	if err != nil {
		return err
	}
	op.prevPresent = ok
	if !ok {
		return nil
	}
	op.prevValue = val

	ttl, err := t.m.cache.TTL(ctx, op.key)
	if err != nil {
		return err
	}
	switch ttl {
	case redis.TTLNoExpiry, redis.TTLMissing:
		op.prevTTL = 0
	default:
		op.prevTTL = ttl
	}
	return nil
}

// capturePrevFields records the current values of the named hash fields.
func (t *Txn) capturePrevFields(ctx context.Context, op *cacheOp, names []string) error {
	op.prevFields = make(map[string]*string, len(names))
	for _, f := range names {
		val, ok, err := t.m.cache.HGet(ctx, op.key, f)
		if err != nil {
			return err
		}
		if !ok {
			op.prevFields[f] = nil
			continue
		}
		s := string(val)
		op.prevFields[f] = &s
	}
	return nil
}

// RegisterSet queues a cache set to apply at commit.
func (t *Txn) RegisterSet(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	op := cacheOp{kind: opSet, key: key, value: value, ttl: ttl}
	if err := t.capturePrev(ctx, &op); err != nil {
		return err
	}
	return t.register(op)
}

// RegisterDelete queues a cache delete to apply at commit.
func (t *Txn) RegisterDelete(ctx context.Context, key string) error {
	op := cacheOp{kind: opDelete, key: key}
	if err := t.capturePrev(ctx, &op); err != nil {
		return err
	}
	return t.register(op)
}

// RegisterHSet queues a hash field write to apply at commit.
func (t *Txn) RegisterHSet(ctx context.Context, key string, fields map[string]any) error {
	if len(fields) == 0 {
		return fmt.Errorf("%w: no fields", ErrInvalidArgument)
	}
	op := cacheOp{kind: opHSet, key: key, fields: fields}
	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	if err := t.capturePrevFields(ctx, &op, names); err != nil {
		return err
	}
	return t.register(op)
}

// RegisterHDel queues a hash field delete to apply at commit.
func (t *Txn) RegisterHDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return fmt.Errorf("%w: no fields", ErrInvalidArgument)
	}
	op := cacheOp{kind: opHDel, key: key, delFields: fields}
	if err := t.capturePrevFields(ctx, &op, fields); err != nil {
		return err
	}
	return t.register(op)
}

// batchOp translates the operation into its pipelined batch command.
func (op *cacheOp) batchOp() redis.BatchOp {
	switch op.kind {
	case opSet:
		return redis.BatchOp{Op: redis.BatchSet, Key: op.key, Value: op.value, TTL: op.ttl}
	case opDelete:
		return redis.BatchOp{Op: redis.BatchDel, Key: op.key}
	case opHSet:
		return redis.BatchOp{Op: redis.BatchHSet, Key: op.key, Fields: op.fields}
	default:
		return redis.BatchOp{Op: redis.BatchHDel, Key: op.key, Names: op.delFields}
	}
}

// compensate restores the captured previous state.
func (op *cacheOp) compensate(ctx context.Context, store CacheStore) error {
	switch op.kind {
	case opSet, opDelete:
		if !op.prevPresent {
			_, err := store.Del(ctx, op.key)
			return err
		}
		return store.Set(ctx, op.key, op.prevValue, op.prevTTL)

	default: // opHSet, opHDel
		restore := make(map[string]any)
		var drop []string
		for f, prev := range op.prevFields {
			if prev == nil {
				drop = append(drop, f)
				continue
			}
			restore[f] = *prev
		}
		if len(drop) > 0 {
			if err := store.HDel(ctx, op.key, drop...); err != nil {
				return err
			}
		}
		if len(restore) > 0 {
			return store.HSet(ctx, op.key, restore)
		}
		return nil
	}
}
