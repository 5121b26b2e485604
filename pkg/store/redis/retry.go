package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/playforge/arcadia/internal/logger"
)

// do runs fn under the configured retry budget with exponential backoff.
// Context cancellation and deadline expiry abort immediately; everything
// else is considered transient until the budget is exhausted, at which
// point the error surfaces wrapped in ErrUnavailable and the state tracker
// reports the store as down.
func (c *Client) do(ctx context.Context, op string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.RetryBaseDelay
	bo.MaxInterval = c.cfg.RetryMaxDelay
	bo.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		ferr := fn()
		if ferr == nil {
			return nil
		}
		if isPermanent(ferr) {
			return backoff.Permanent(ferr)
		}
		logger.Debug("cache store operation retrying",
			"op", op, logger.KeyAttempt, attempt, logger.KeyError, ferr.Error())
		return ferr
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxRetries)), ctx))

	if err == nil {
		c.state.markUp()
		return nil
	}
	if isPermanent(err) {
		// Caller-driven abort, not a store failure.
		return err
	}
	c.state.markDown(err)
	return fmt.Errorf("%w: %s after %d attempts: %v", ErrUnavailable, op, attempt, err)
}

// isPermanent reports whether an error must not be retried.
func isPermanent(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// stateTracker debounces availability transitions so upper layers get one
// notification per edge, not one per failed command.
type stateTracker struct {
	mu      sync.Mutex
	down    atomic.Bool
	handler StateHandler
}

func newStateTracker() *stateTracker {
	return &stateTracker{}
}

func (s *stateTracker) setHandler(h StateHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *stateTracker) markDown(err error) {
	if s.down.Swap(true) {
		return // already down
	}
	logger.Error("cache store unavailable", logger.KeyError, err.Error())
	s.notify(false, err)
}

func (s *stateTracker) markUp() {
	if !s.down.Swap(false) {
		return // was already up
	}
	logger.Info("cache store restored", "at", time.Now().Format(time.RFC3339))
	s.notify(true, nil)
}

func (s *stateTracker) notify(available bool, err error) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(available, err)
	}
}
