package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/playforge/arcadia/internal/logger"
	"github.com/playforge/arcadia/pkg/store/mongo"
)

func queueKey(kind mongo.Kind, id string) string {
	return string(kind) + "/" + id
}

// enqueue adds a write-behind item, coalescing with any pending write for
// the same key: the last write is the one that persists. At capacity it
// flushes synchronously and admits the item iff space freed; the caller
// gets ErrQueueFull otherwise.
func (e *Engine) enqueue(ctx context.Context, kind mongo.Kind, id string, doc any) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}

	k := queueKey(kind, id)
	if it, ok := e.index[k]; ok {
		it.doc = doc
		it.requeuedPass = 0
		e.mu.Unlock()
		return nil
	}

	if len(e.queue) >= e.cfg.MaxPendingWrites {
		e.mu.Unlock()
		if err := e.Flush(ctx); err != nil {
			logger.Warn("write-behind queue full, flush failed",
				logger.KeyKind, string(kind), logger.KeyError, err.Error())
		}
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return ErrClosed
		}
		// The flush may have surfaced a coalescing target via requeue.
		if it, ok := e.index[k]; ok {
			it.doc = doc
			it.requeuedPass = 0
			e.mu.Unlock()
			return nil
		}
		if len(e.queue) >= e.cfg.MaxPendingWrites {
			e.mu.Unlock()
			e.stats.rejected()
			return fmt.Errorf("%w: %d writes", ErrQueueFull, e.cfg.MaxPendingWrites)
		}
	}

	it := &pending{kind: kind, id: id, doc: doc}
	e.queue = append(e.queue, it)
	e.index[k] = it
	depth := len(e.queue)
	e.mu.Unlock()

	e.stats.enqueued()
	if depth >= e.cfg.MaxPendingWrites {
		select {
		case e.kickCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// dropPending discards any queued write for a key that was just deleted.
func (e *Engine) dropPending(kind mongo.Kind, id string) {
	e.mu.Lock()
	if it, ok := e.index[queueKey(kind, id)]; ok {
		it.dropped = true
		delete(e.index, queueKey(kind, id))
	}
	e.mu.Unlock()
}

// Flush drains up to FlushBatchSize queued writes, grouped by kind, through
// one bulk upsert per group. A failed group is re-enqueued, at most once per
// flush pass, so a transient outage spanning several passes loses nothing.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	n := len(e.queue)
	if n == 0 {
		e.mu.Unlock()
		return nil
	}
	e.passSeq++
	pass := e.passSeq
	if n > e.cfg.FlushBatchSize {
		n = e.cfg.FlushBatchSize
	}
	batch := e.queue[:n]
	e.queue = e.queue[n:]
	for _, it := range batch {
		if !it.dropped {
			delete(e.index, queueKey(it.kind, it.id))
		}
	}
	e.mu.Unlock()

	groups := make(map[mongo.Kind][]*pending)
	for _, it := range batch {
		if it.dropped {
			continue
		}
		groups[it.kind] = append(groups[it.kind], it)
	}

	var firstErr error
	for kind, items := range groups {
		docs := make(map[string]any, len(items))
		for _, it := range items {
			docs[it.id] = it.doc
		}
		if _, err := e.docs.BulkUpsert(ctx, kind, docs); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			e.stats.flushFailed()
			e.requeue(items, pass)
			logger.Warn("write-behind flush failed",
				logger.KeyKind, string(kind), "items", len(items),
				logger.KeyError, err.Error())
			continue
		}
		e.stats.flushed(len(items))
	}

	e.stats.flushPass(time.Now())
	return firstErr
}

// requeue puts a failed group back at the tail, at most once per flush
// pass. A newer pending write for the same key wins over the requeue.
func (e *Engine) requeue(items []*pending, pass uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, it := range items {
		k := queueKey(it.kind, it.id)
		if _, newer := e.index[k]; newer {
			continue
		}
		if it.requeuedPass == pass {
			e.stats.dropped()
			continue
		}
		it.requeuedPass = pass
		e.queue = append(e.queue, it)
		e.index[k] = it
	}
}

// Pending returns the write-behind queue depth.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Start launches the write-behind flush worker. Idempotent.
func (e *Engine) Start(ctx context.Context) {
	if e.cfg.FlushInterval <= 0 {
		return
	}

	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.stopCh = make(chan struct{})
	e.stoppedCh = make(chan struct{})
	e.mu.Unlock()

	logger.Info("sync flush worker started",
		"interval", e.cfg.FlushInterval, "batch_size", e.cfg.FlushBatchSize)
	go e.flushLoop(ctx)
}

// Stop shuts the flush worker down and waits for it to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	close(e.stopCh)
	stopped := e.stoppedCh
	e.mu.Unlock()

	<-stopped
}

func (e *Engine) flushLoop(ctx context.Context) {
	defer close(e.stoppedCh)

	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-e.kickCh:
		case <-ticker.C:
		}
		if err := e.Flush(ctx); err != nil {
			logger.Warn("sync flush pass failed", logger.KeyError, err.Error())
		}
	}
}

// Close stops the worker and attempts a final bounded drain of the queue.
// Writes arriving after Close fail with ErrClosed.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.Stop()

	// Each pass takes one batch. The pass count is bounded so a document
	// store that stays down cannot wedge shutdown; whatever remains after
	// the budget is logged and abandoned.
	passes := 2*(e.Pending()/e.cfg.FlushBatchSize) + 2
	var lastErr error
	for i := 0; i < passes && e.Pending() > 0; i++ {
		if err := e.Flush(ctx); err != nil {
			lastErr = err
		}
	}
	if n := e.Pending(); n > 0 {
		logger.Error("sync engine closed with writes unflushed", "pending", n)
	}
	return lastErr
}
