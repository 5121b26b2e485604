package txn

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/playforge/arcadia/internal/logger"
	"github.com/playforge/arcadia/internal/telemetry"
	"github.com/playforge/arcadia/pkg/lock"
	"github.com/playforge/arcadia/pkg/store/redis"
)

// Commit finishes the transaction: document commit first, then the
// registered cache operations in one pipelined batch. A cache-phase
// failure compensates the applied ops in reverse and returns ErrPartial;
// the document changes stay committed.
func (t *Txn) Commit(ctx context.Context) error {
	// Claim the transaction; a concurrent Rollback or sweeper pass loses.
	if !t.claim(StateCommitting) {
		return fmt.Errorf("%w: %s", ErrNotActive, t.State())
	}
	t.mu.Lock()
	ops := t.ops
	t.mu.Unlock()

	ctx, span := telemetry.StartTxnSpan(ctx, "commit", t.ID, t.Keys)
	span.SetAttributes(attribute.Int(telemetry.AttrCacheOps, len(ops)))
	defer span.End()

	// Fencing: a lock lost to TTL expiry means another owner may have
	// touched our keys. Refuse to commit on a stale token.
	for _, h := range t.locks {
		ok, err := t.m.locks.Valid(ctx, h)
		if err != nil {
			t.abort(ctx, StateFailed)
			t.m.stats.failed()
			return fmt.Errorf("txn %s: lock check: %w", t.ID, err)
		}
		if !ok {
			t.abort(ctx, StateFailed)
			t.m.stats.failed()
			return fmt.Errorf("txn %s: key %q: %w", t.ID, h.Key, lock.ErrLost)
		}
	}

	if err := t.session.Commit(ctx); err != nil {
		t.abort(ctx, StateFailed)
		t.m.stats.failed()
		return fmt.Errorf("txn %s: document commit: %w", t.ID, err)
	}

	// Document changes are durable from here on.
	t.setState(StateCommitted)
	defer t.finish(ctx)

	if len(ops) > 0 {
		batch := make([]redis.BatchOp, len(ops))
		for i := range ops {
			batch[i] = ops[i].batchOp()
		}
		// One pipelined round-trip. Pipelines are not atomic: ops after a
		// failed one may still have landed, so compensation covers every
		// op that applied, not just the prefix before the failure.
		errs, execErr := t.m.cache.ExecBatch(ctx, batch)
		if i, err := firstBatchFailure(errs, execErr); err != nil {
			logger.ErrorCtx(ctx, "transaction cache phase failed",
				logger.KeyTxnID, t.ID, "op", ops[i].kind.String(),
				"key", ops[i].key, logger.KeyError, err.Error())
			t.compensate(ctx, appliedOps(ops, errs))
			t.m.stats.partial()
			return fmt.Errorf("%w: txn %s op %d (%s %s): %v",
				ErrPartial, t.ID, i, ops[i].kind, ops[i].key, err)
		}
	}

	t.m.stats.committed()
	logger.DebugCtx(ctx, "transaction committed",
		logger.KeyTxnID, t.ID, "cache_ops", len(ops))
	return nil
}

// firstBatchFailure returns the index and error of the first failed batch
// op, or the pipeline error when the batch never reached the store.
func firstBatchFailure(errs []error, execErr error) (int, error) {
	for i, err := range errs {
		if err != nil {
			return i, err
		}
	}
	return 0, execErr
}

// appliedOps selects the ops that reached the store. A nil errs means the
// pipeline outcome is unknown; compensating an unapplied op rewrites the
// value it already holds, so all ops are treated as applied.
func appliedOps(ops []cacheOp, errs []error) []cacheOp {
	if errs == nil {
		return ops
	}
	applied := make([]cacheOp, 0, len(ops))
	for i, op := range ops {
		if errs[i] == nil {
			applied = append(applied, op)
		}
	}
	return applied
}

// Rollback aborts the document transaction. Registered cache operations
// were never applied, so the cache needs no repair.
func (t *Txn) Rollback(ctx context.Context) error {
	return t.rollbackTo(ctx, StateRolledBack)
}

func (t *Txn) rollbackTo(ctx context.Context, terminal State) error {
	if !t.claim(StateRollingBack) {
		return fmt.Errorf("%w: %s", ErrNotActive, t.State())
	}

	ctx, span := telemetry.StartTxnSpan(ctx, "rollback", t.ID, t.Keys)
	defer span.End()

	t.abort(ctx, terminal)
	if terminal == StateTimedOut {
		t.m.stats.timedOut()
	} else {
		t.m.stats.rolledBack()
	}
	logger.DebugCtx(ctx, "transaction rolled back",
		logger.KeyTxnID, t.ID, "state", string(terminal))
	return nil
}

// abort aborts the document session and settles in a terminal state.
func (t *Txn) abort(ctx context.Context, terminal State) {
	if err := t.session.Abort(ctx); err != nil {
		logger.WarnCtx(ctx, "transaction abort failed",
			logger.KeyTxnID, t.ID, logger.KeyError, err.Error())
	}
	t.setState(terminal)
	t.finish(ctx)
}

// claim atomically moves an active transaction to next. Returns false when
// the transaction already left the active state.
func (t *Txn) claim(next State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return false
	}
	t.state = next
	return true
}

// compensate reverse-applies the captured previous values of the given
// already-applied operations. Failures are logged; compensation is
// best-effort by construction.
func (t *Txn) compensate(ctx context.Context, applied []cacheOp) {
	for i := len(applied) - 1; i >= 0; i-- {
		op := applied[i]
		if err := op.compensate(ctx, t.m.cache); err != nil {
			logger.ErrorCtx(ctx, "transaction compensation failed",
				logger.KeyTxnID, t.ID, "op", op.kind.String(),
				"key", op.key, logger.KeyError, err.Error())
		}
	}
}

// finish releases locks and the session. Idempotent per terminal state
// transition: callers reach it exactly once.
func (t *Txn) finish(ctx context.Context) {
	t.m.releaseAll(ctx, t.locks)
	t.session.End(ctx)
	t.m.untrack(t.ID)
}

func (t *Txn) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// expired reports whether the transaction has outlived its timeout.
func (t *Txn) expired(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StateActive && now.Sub(t.startedAt) > t.Timeout
}

// Start launches the timeout sweeper. Idempotent.
func (m *Manager) Start(ctx context.Context) {
	if m.cfg.SweepInterval <= 0 {
		return
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})
	m.stoppedCh = make(chan struct{})
	m.mu.Unlock()

	logger.Info("transaction sweeper started", "interval", m.cfg.SweepInterval)
	go m.sweepLoop(ctx)
}

// Stop shuts the sweeper down and waits for it to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.stopCh)
	stopped := m.stoppedCh
	m.mu.Unlock()

	<-stopped
}

func (m *Manager) sweepLoop(ctx context.Context) {
	defer close(m.stoppedCh)

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep rolls back transactions that outlived their timeout.
func (m *Manager) sweep(ctx context.Context) {
	now := time.Now()
	for _, t := range m.snapshotActive() {
		if !t.expired(now) {
			continue
		}
		logger.Warn("transaction timed out",
			logger.KeyTxnID, t.ID, "age", now.Sub(t.StartedAt()), "timeout", t.Timeout)
		if err := t.rollbackTo(ctx, StateTimedOut); err != nil {
			logger.Warn("transaction timeout rollback failed",
				logger.KeyTxnID, t.ID, logger.KeyError, err.Error())
		}
	}
}
