package session

import (
	"context"
	"time"

	"github.com/playforge/arcadia/internal/logger"
)

// Start launches the idle session sweep. Idempotent.
func (r *Registry) Start(ctx context.Context) {
	if r.cfg.CleanupInterval <= 0 {
		return
	}

	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.stopCh = make(chan struct{})
	r.stoppedCh = make(chan struct{})
	r.mu.Unlock()

	logger.Info("session cleanup started",
		"interval", r.cfg.CleanupInterval, "idle_timeout", r.cfg.IdleTimeout)
	go r.cleanupLoop(ctx)
}

// Stop shuts the sweep worker down and waits for it to exit.
func (r *Registry) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	close(r.stopCh)
	stopped := r.stoppedCh
	r.mu.Unlock()

	<-stopped
}

func (r *Registry) cleanupLoop(ctx context.Context) {
	defer close(r.stoppedCh)

	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.CleanupExpired(); n > 0 {
				logger.Debug("idle sessions evicted", "evicted", n)
			}
		}
	}
}
