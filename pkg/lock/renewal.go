package lock

import (
	"context"
	"time"

	"github.com/playforge/arcadia/internal/logger"
)

// Start launches the auto-renewal worker when enabled by configuration.
// Idempotent; a second call is a no-op.
func (s *Service) Start(ctx context.Context) {
	if !s.cfg.EnableAutoRenewal {
		return
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.stoppedCh = make(chan struct{})
	s.mu.Unlock()

	logger.Info("lock auto-renewal started",
		"interval", s.cfg.RenewCheckInterval, "ratio", s.cfg.AutoRenewalRatio)

	go s.renewLoop(ctx)
}

// Stop shuts the renewal worker down and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	stopped := s.stoppedCh
	s.mu.Unlock()

	<-stopped
}

func (s *Service) renewLoop(ctx context.Context) {
	defer close(s.stoppedCh)

	ticker := time.NewTicker(s.cfg.RenewCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.renewDue(ctx)
		}
	}
}

// renewDue renews every tracked lock whose elapsed lifetime exceeds the
// configured fraction of its TTL. Locks that fail renewal are marked
// released locally and evicted; the owner must re-acquire.
func (s *Service) renewDue(ctx context.Context) {
	now := time.Now()
	for _, h := range s.activeHandles() {
		if h.Released() {
			s.untrack(h)
			continue
		}

		ttl := h.TTL()
		if ttl <= 0 {
			continue
		}
		if float64(h.sinceRefresh(now)) < s.cfg.AutoRenewalRatio*float64(ttl) {
			continue
		}

		if _, err := s.Renew(ctx, h, ttl); err != nil {
			// Renew already marked the handle released on ErrLost; an
			// unavailable store just means we try again next tick unless
			// the TTL runs out first.
			logger.Warn("lock renewal failed",
				logger.KeyLockKey, h.Key, logger.KeyError, err.Error())
			continue
		}
		logger.Debug("lock renewed", logger.KeyLockKey, h.Key, logger.KeyTTL, ttl)
	}
}
