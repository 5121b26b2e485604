// Package conflict implements optimistic concurrency over cached entities.
//
// Every guarded entity carries a version record, a store hash under
// "version:<logical-key>" holding the version number, a digest of the last
// written payload, the writer id, and the update instant. CheckAndResolve
// compares the caller's expected version against the record and resolves
// divergence under a named policy. Check and apply run under the entity's
// distributed lock, so versions issued here are strictly increasing per key.
package conflict

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/playforge/arcadia/internal/logger"
	"github.com/playforge/arcadia/pkg/cache"
	"github.com/playforge/arcadia/pkg/lock"
)

var (
	// ErrVersionConflict is returned when a write is rejected under
	// OptimisticLock (directly or as a merge fallback).
	ErrVersionConflict = errors.New("conflict: version mismatch")

	// ErrInvalidArgument is returned for empty keys or writers.
	ErrInvalidArgument = errors.New("conflict: invalid argument")
)

// Policy names a conflict resolution strategy.
type Policy string

const (
	OptimisticLock Policy = "optimistic_lock"
	LastWriteWins  Policy = "last_write_wins"
	FirstWriteWins Policy = "first_write_wins"
	Merge          Policy = "merge"
	UserChoice     Policy = "user_choice"
)

// Outcome describes how a resolution ended.
type Outcome string

const (
	// OutcomeApplied means the caller's payload became current.
	OutcomeApplied Outcome = "applied"
	// OutcomeMerged means a merged payload became current.
	OutcomeMerged Outcome = "merged"
	// OutcomeKeptStored means the stored payload won; the caller's write
	// was discarded.
	OutcomeKeptStored Outcome = "kept_stored"
	// OutcomeRejected means the caller must reload and retry.
	OutcomeRejected Outcome = "rejected"
	// OutcomeDeferred means both payloads were returned for the caller to
	// decide later.
	OutcomeDeferred Outcome = "deferred"
)

// Record is a decoded version record.
type Record struct {
	Version   int64     `json:"version"`
	Digest    string    `json:"digest"`
	Writer    string    `json:"writer"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Resolution is the result of one CheckAndResolve call.
type Resolution struct {
	Outcome  Outcome
	Conflict bool
	NoOp     bool // incoming digest equals the stored digest

	// Version is the current version after resolution.
	Version int64
	// Payload is the authoritative payload after resolution.
	Payload []byte
	// Stored is the pre-resolution stored payload, populated for
	// FirstWriteWins and UserChoice.
	Stored []byte
	// StoredRecord is the version record seen at check time, when present.
	StoredRecord *Record
}

// VersionStore is the slice of the cache store holding version records.
// Implemented by *redis.Client.
type VersionStore interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, fields map[string]any) error
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) (int64, error)
}

// PayloadCache is the slice of the cache layer holding entity payloads.
// Implemented by *cache.Cache.
type PayloadCache interface {
	Get(ctx context.Context, cat cache.Category, key string) ([]byte, bool, error)
	Set(ctx context.Context, cat cache.Category, key string, value []byte, expiry time.Duration) error
}

// Locker serializes concurrent resolutions per key.
// Implemented by *lock.Service.
type Locker interface {
	Acquire(ctx context.Context, key string, expiry, wait time.Duration) (*lock.Handle, error)
	Release(ctx context.Context, h *lock.Handle) (bool, error)
}

// Config holds conflict detector settings.
type Config struct {
	// DefaultPolicy applies when a request names no policy.
	DefaultPolicy Policy `mapstructure:"default_policy" yaml:"default_policy"`

	// VersionKeyPrefix namespaces version records.
	VersionKeyPrefix string `mapstructure:"version_key_prefix" validate:"required" yaml:"version_key_prefix"`

	// RecordTTL bounds how long version records outlive their last write.
	RecordTTL time.Duration `mapstructure:"record_ttl" yaml:"record_ttl"`

	// LockExpiry and LockWait shape the per-key serialization lock.
	LockExpiry time.Duration `mapstructure:"lock_expiry" yaml:"lock_expiry"`
	LockWait   time.Duration `mapstructure:"lock_wait" yaml:"lock_wait"`
}

// DefaultConfig returns production-leaning conflict settings.
func DefaultConfig() Config {
	return Config{
		DefaultPolicy:    OptimisticLock,
		VersionKeyPrefix: "version",
		RecordTTL:        2 * time.Hour,
		LockExpiry:       5 * time.Second,
		LockWait:         2 * time.Second,
	}
}

// Detector checks and resolves write conflicts.
type Detector struct {
	versions VersionStore
	payloads PayloadCache
	locks    Locker
	cfg      Config

	merges map[cache.Category]MergeFunc
}

// New creates a conflict detector.
func New(versions VersionStore, payloads PayloadCache, locks Locker, cfg Config) *Detector {
	return &Detector{
		versions: versions,
		payloads: payloads,
		locks:    locks,
		cfg:      cfg,
		merges:   make(map[cache.Category]MergeFunc),
	}
}

// RegisterMerge installs a category-specific merge function. Bind at
// startup; not safe to call concurrently with resolutions.
func (d *Detector) RegisterMerge(cat cache.Category, fn MergeFunc) {
	d.merges[cat] = fn
}

// Request is one guarded write.
type Request struct {
	Category cache.Category
	Key      string
	// ExpectedVersion is the version the caller read before mutating.
	// Zero means the caller expects a fresh entity.
	ExpectedVersion int64
	Payload         []byte
	Writer          string
	// Policy overrides the configured default when non-empty.
	Policy Policy
	// Expiry overrides the category TTL for the payload write when > 0.
	Expiry time.Duration
}

func (d *Detector) versionKey(key string) string {
	return d.cfg.VersionKeyPrefix + ":" + key
}

// CheckAndResolve performs the guarded write. The returned resolution always
// describes the authoritative state; an ErrVersionConflict error accompanies
// rejections.
func (d *Detector) CheckAndResolve(ctx context.Context, req Request) (*Resolution, error) {
	if req.Key == "" || req.Writer == "" {
		return nil, fmt.Errorf("%w: key and writer required", ErrInvalidArgument)
	}
	policy := req.Policy
	if policy == "" {
		policy = d.cfg.DefaultPolicy
	}

	h, err := d.locks.Acquire(ctx, d.versionKey(req.Key), d.cfg.LockExpiry, d.cfg.LockWait)
	if err != nil {
		return nil, fmt.Errorf("conflict: serialize %q: %w", req.Key, err)
	}
	defer func() {
		if _, rerr := d.locks.Release(ctx, h); rerr != nil {
			logger.WarnCtx(ctx, "conflict lock release failed",
				logger.KeyLockKey, req.Key, logger.KeyError, rerr.Error())
		}
	}()

	rec, err := d.loadRecord(ctx, req.Key)
	if err != nil {
		return nil, err
	}

	// No record, or the caller saw the latest version: no conflict.
	if rec == nil || rec.Version == req.ExpectedVersion {
		return d.apply(ctx, req, rec, req.Payload, OutcomeApplied)
	}

	logger.DebugCtx(ctx, "write conflict detected",
		"key", req.Key, logger.KeyPolicy, string(policy),
		"expected", req.ExpectedVersion, logger.KeyVersion, rec.Version)

	switch policy {
	case LastWriteWins:
		return d.apply(ctx, req, rec, req.Payload, OutcomeApplied)

	case FirstWriteWins:
		stored, _, err := d.payloads.Get(ctx, req.Category, req.Key)
		if err != nil {
			return nil, err
		}
		return &Resolution{
			Outcome:      OutcomeKeptStored,
			Conflict:     true,
			Version:      rec.Version,
			Payload:      stored,
			Stored:       stored,
			StoredRecord: rec,
		}, nil

	case Merge:
		stored, ok, err := d.payloads.Get(ctx, req.Category, req.Key)
		if err != nil {
			return nil, err
		}
		if ok {
			merged, merr := d.mergeFor(req.Category)(stored, req.Payload)
			if merr == nil {
				res, err := d.apply(ctx, req, rec, merged, OutcomeMerged)
				if res != nil {
					res.Conflict = true
				}
				return res, err
			}
			logger.DebugCtx(ctx, "merge failed, rejecting write",
				"key", req.Key, logger.KeyError, merr.Error())
		}
		return d.reject(req, rec), fmt.Errorf("%w: key %q expected %d stored %d",
			ErrVersionConflict, req.Key, req.ExpectedVersion, rec.Version)

	case UserChoice:
		stored, _, err := d.payloads.Get(ctx, req.Category, req.Key)
		if err != nil {
			return nil, err
		}
		return &Resolution{
			Outcome:      OutcomeDeferred,
			Conflict:     true,
			Version:      rec.Version,
			Payload:      req.Payload,
			Stored:       stored,
			StoredRecord: rec,
		}, nil

	default: // OptimisticLock
		return d.reject(req, rec), fmt.Errorf("%w: key %q expected %d stored %d",
			ErrVersionConflict, req.Key, req.ExpectedVersion, rec.Version)
	}
}

func (d *Detector) reject(req Request, rec *Record) *Resolution {
	return &Resolution{
		Outcome:      OutcomeRejected,
		Conflict:     true,
		Version:      rec.Version,
		StoredRecord: rec,
	}
}

// apply writes the payload and advances the version record.
func (d *Detector) apply(ctx context.Context, req Request, rec *Record, payload []byte, outcome Outcome) (*Resolution, error) {
	digest := Digest(payload)

	var version int64 = 1
	noop := false
	if rec != nil {
		version = rec.Version + 1
		noop = rec.Digest == digest
	}

	if err := d.payloads.Set(ctx, req.Category, req.Key, payload, req.Expiry); err != nil {
		return nil, err
	}
	if err := d.storeRecord(ctx, req.Key, Record{
		Version:   version,
		Digest:    digest,
		Writer:    req.Writer,
		UpdatedAt: time.Now(),
	}); err != nil {
		return nil, err
	}

	return &Resolution{
		Outcome:      outcome,
		NoOp:         noop,
		Version:      version,
		Payload:      payload,
		StoredRecord: rec,
	}, nil
}

// Version returns the current record for a key, or nil when the key is
// unversioned.
func (d *Detector) Version(ctx context.Context, key string) (*Record, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	return d.loadRecord(ctx, key)
}

// Forget drops the version record of a key. Used when the entity itself is
// deleted.
func (d *Detector) Forget(ctx context.Context, key string) error {
	_, err := d.versions.Del(ctx, d.versionKey(key))
	return err
}

func (d *Detector) loadRecord(ctx context.Context, key string) (*Record, error) {
	fields, err := d.versions.HGetAll(ctx, d.versionKey(key))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	rec := &Record{
		Digest: fields["digest"],
		Writer: fields["writer"],
	}
	rec.Version, _ = strconv.ParseInt(fields["version"], 10, 64)
	if ns, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		rec.UpdatedAt = time.Unix(0, ns)
	}
	return rec, nil
}

func (d *Detector) storeRecord(ctx context.Context, key string, rec Record) error {
	vk := d.versionKey(key)
	err := d.versions.HSet(ctx, vk, map[string]any{
		"version":    strconv.FormatInt(rec.Version, 10),
		"digest":     rec.Digest,
		"writer":     rec.Writer,
		"updated_at": strconv.FormatInt(rec.UpdatedAt.UnixNano(), 10),
	})
	if err != nil {
		return err
	}
	if d.cfg.RecordTTL > 0 {
		if _, err := d.versions.Expire(ctx, vk, d.cfg.RecordTTL); err != nil {
			return err
		}
	}
	return nil
}

// Digest fingerprints a payload. Callers may compare digests to detect
// no-op writes before paying for a guarded one.
func Digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
