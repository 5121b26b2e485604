package router

import (
	"context"
	"sync"
	"time"

	"github.com/playforge/arcadia/internal/logger"
)

// Stats is a point-in-time snapshot of router counters.
type Stats struct {
	Processed    int64            `json:"processed"`
	Succeeded    int64            `json:"succeeded"`
	Failed       int64            `json:"failed"`
	Rejected     int64            `json:"rejected"`
	ByKind       map[string]int64 `json:"by_kind"`
	Receivers    int              `json:"receivers"`
	AvgLatencyMs float64          `json:"avg_latency_ms"`
}

// routerStats accumulates counters. Latency is an exponential moving
// average with alpha 0.1.
type routerStats struct {
	mu sync.Mutex

	processedN int64
	succeededN int64
	failedN    int64
	rejectedN  int64
	byKind     map[TargetKind]int64
	avgMs      float64
	sampled    bool
}

func (s *routerStats) processed(kind TargetKind, ok bool, took time.Duration) {
	ms := float64(took.Microseconds()) / 1000.0

	s.mu.Lock()
	defer s.mu.Unlock()
	s.processedN++
	if ok {
		s.succeededN++
	} else {
		s.failedN++
	}
	if s.byKind == nil {
		s.byKind = make(map[TargetKind]int64)
	}
	s.byKind[kind]++
	if !s.sampled {
		s.avgMs = ms
		s.sampled = true
	} else {
		s.avgMs = 0.9*s.avgMs + 0.1*ms
	}
}

func (s *routerStats) rejected(kind TargetKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processedN++
	s.failedN++
	s.rejectedN++
	if s.byKind == nil {
		s.byKind = make(map[TargetKind]int64)
	}
	s.byKind[kind]++
}

// Stats returns a snapshot of the router counters.
func (r *Router) Stats() Stats {
	r.stats.mu.Lock()
	st := Stats{
		Processed:    r.stats.processedN,
		Succeeded:    r.stats.succeededN,
		Failed:       r.stats.failedN,
		Rejected:     r.stats.rejectedN,
		ByKind:       make(map[string]int64, len(r.stats.byKind)),
		AvgLatencyMs: r.stats.avgMs,
	}
	for k, v := range r.stats.byKind {
		st.ByKind[string(k)] = v
	}
	r.stats.mu.Unlock()

	st.Receivers = r.ReceiverCount()
	return st
}

// Start launches the stale receiver sweep. Idempotent.
func (r *Router) Start(ctx context.Context) {
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

	logger.Info("router cleanup started",
		"interval", r.cfg.CleanupInterval, "max_receiver_age", r.cfg.MaxReceiverAge)
	go r.cleanupLoop(ctx)
}

// Stop shuts the sweep worker down and waits for it to exit.
func (r *Router) Stop() {
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

func (r *Router) cleanupLoop(ctx context.Context) {
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
			if n := r.CleanupStale(); n > 0 {
				logger.Debug("stale receivers removed", "removed", n)
			}
		}
	}
}
