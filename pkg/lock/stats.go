package lock

import (
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of lock service counters.
type Stats struct {
	Acquired      int64   `json:"acquired"`
	Failed        int64   `json:"failed"`
	TimedOut      int64   `json:"timed_out"`
	Released      int64   `json:"released"`
	RenewFailures int64   `json:"renew_failures"`
	Active        int     `json:"active"`
	AvgWaitMs     float64 `json:"avg_wait_ms"`
	AvgHoldMs     float64 `json:"avg_hold_ms"`
}

// lockStats accumulates counters. Updates are best-effort: they sit behind
// one mutex and never block the lock path on anything else.
type lockStats struct {
	mu sync.Mutex

	acquiredN     int64
	failedN       int64
	timedOutN     int64
	releasedN     int64
	renewFailures int64

	waitTotal time.Duration
	waitN     int64
	holdTotal time.Duration
	holdN     int64
}

func (s *lockStats) acquired() {
	s.mu.Lock()
	s.acquiredN++
	s.mu.Unlock()
}

func (s *lockStats) failed() {
	s.mu.Lock()
	s.failedN++
	s.mu.Unlock()
}

func (s *lockStats) timedOut() {
	s.mu.Lock()
	s.timedOutN++
	s.mu.Unlock()
}

func (s *lockStats) addWait(d time.Duration) {
	s.mu.Lock()
	s.waitTotal += d
	s.waitN++
	s.mu.Unlock()
}

func (s *lockStats) released(hold time.Duration) {
	s.mu.Lock()
	s.releasedN++
	s.holdTotal += hold
	s.holdN++
	s.mu.Unlock()
}

func (s *lockStats) renewFailed() {
	s.mu.Lock()
	s.renewFailures++
	s.mu.Unlock()
}

// Stats returns a snapshot of the service counters.
func (s *Service) Stats() Stats {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()

	st := Stats{
		Acquired:      s.stats.acquiredN,
		Failed:        s.stats.failedN,
		TimedOut:      s.stats.timedOutN,
		Released:      s.stats.releasedN,
		RenewFailures: s.stats.renewFailures,
		Active:        s.ActiveCount(),
	}
	if s.stats.waitN > 0 {
		st.AvgWaitMs = float64(s.stats.waitTotal.Microseconds()) / float64(s.stats.waitN) / 1000.0
	}
	if s.stats.holdN > 0 {
		st.AvgHoldMs = float64(s.stats.holdTotal.Microseconds()) / float64(s.stats.holdN) / 1000.0
	}
	return st
}
