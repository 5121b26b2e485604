package cache

import (
	"context"
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	TotalRequests int64     `json:"total_requests"`
	Hits          int64     `json:"hits"`
	Misses        int64     `json:"misses"`
	HitRate       float64   `json:"hit_rate"`
	Evicted       int64     `json:"evicted"`
	Expired       int64     `json:"expired"`
	TrackedKeys   int       `json:"tracked_keys"`
	MemoryBytes   int64     `json:"memory_bytes"`
	LastCleanup   time.Time `json:"last_cleanup"`
	AvgResponseMs float64   `json:"avg_response_ms"`
}

// cacheStats accumulates counters. The response-time average is an
// exponential moving average: avg = 0.9*avg + 0.1*sample.
type cacheStats struct {
	enabled bool

	mu          sync.Mutex
	hits        int64
	misses      int64
	evictedN    int64
	expiredN    int64
	lastCleanup time.Time
	avgMs       float64
	sampled     bool
}

func (s *cacheStats) hit() {
	if !s.enabled {
		return
	}
	s.mu.Lock()
	s.hits++
	s.mu.Unlock()
}

func (s *cacheStats) miss() {
	if !s.enabled {
		return
	}
	s.mu.Lock()
	s.misses++
	s.mu.Unlock()
}

func (s *cacheStats) evicted(n int) {
	if !s.enabled {
		return
	}
	s.mu.Lock()
	s.evictedN += int64(n)
	s.mu.Unlock()
}

func (s *cacheStats) expiredSweep(n int, at time.Time) {
	if !s.enabled {
		return
	}
	s.mu.Lock()
	s.expiredN += int64(n)
	s.lastCleanup = at
	s.mu.Unlock()
}

// timed samples the duration of one operation into the moving average.
// Usage: defer s.timed()().
func (s *cacheStats) timed() func() {
	if !s.enabled {
		return func() {}
	}
	start := time.Now()
	return func() {
		ms := float64(time.Since(start).Microseconds()) / 1000.0
		s.mu.Lock()
		if !s.sampled {
			s.avgMs = ms
			s.sampled = true
		} else {
			s.avgMs = 0.9*s.avgMs + 0.1*ms
		}
		s.mu.Unlock()
	}
}

// Stats returns a snapshot of the cache counters. Memory usage is queried
// from the store; a store fault leaves it at zero rather than failing the
// snapshot.
func (c *Cache) Stats(ctx context.Context) Stats {
	c.stats.mu.Lock()
	st := Stats{
		Hits:          c.stats.hits,
		Misses:        c.stats.misses,
		Evicted:       c.stats.evictedN,
		Expired:       c.stats.expiredN,
		LastCleanup:   c.stats.lastCleanup,
		AvgResponseMs: c.stats.avgMs,
	}
	c.stats.mu.Unlock()

	st.TotalRequests = st.Hits + st.Misses
	if st.TotalRequests > 0 {
		st.HitRate = float64(st.Hits) / float64(st.TotalRequests)
	}
	st.TrackedKeys = c.TrackedKeys()

	if mem, err := c.store.MemoryUsed(ctx); err == nil {
		st.MemoryBytes = mem
	}
	return st
}
