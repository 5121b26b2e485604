package cache

import (
	"context"
	"time"

	"github.com/playforge/arcadia/internal/logger"
)

// Start launches the periodic expired-key sweep. Idempotent.
func (c *Cache) Start(ctx context.Context) {
	if c.cfg.CleanupInterval <= 0 {
		return
	}

	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.stopCh = make(chan struct{})
	c.stoppedCh = make(chan struct{})
	c.mu.Unlock()

	logger.Info("cache cleanup started", "interval", c.cfg.CleanupInterval)
	go c.cleanupLoop(ctx)
}

// Stop shuts the cleanup worker down and waits for it to exit.
func (c *Cache) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	close(c.stopCh)
	stopped := c.stoppedCh
	c.mu.Unlock()

	<-stopped
}

func (c *Cache) cleanupLoop(ctx context.Context) {
	defer close(c.stoppedCh)

	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.CleanupExpired(ctx)
			if err != nil {
				logger.Warn("cache cleanup failed", logger.KeyError, err.Error())
				continue
			}
			if n > 0 {
				logger.Debug("cache cleanup pass", "expired", n)
			}
		}
	}
}
