package syncer

import (
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of sync engine counters.
type Stats struct {
	Pending       int       `json:"pending"`
	Enqueued      int64     `json:"enqueued"`
	Flushed       int64     `json:"flushed"`
	FlushFailures int64     `json:"flush_failures"`
	Dropped       int64     `json:"dropped"`
	Rejected      int64     `json:"rejected"`
	WriteThrough  int64     `json:"write_through"`
	LastFlush     time.Time `json:"last_flush"`
}

type syncStats struct {
	mu sync.Mutex

	enqueuedN     int64
	flushedN      int64
	flushFailures int64
	droppedN      int64
	rejectedN     int64
	wroteThroughN int64
	lastFlush     time.Time
}

func (s *syncStats) enqueued() {
	s.mu.Lock()
	s.enqueuedN++
	s.mu.Unlock()
}

func (s *syncStats) flushed(n int) {
	s.mu.Lock()
	s.flushedN += int64(n)
	s.mu.Unlock()
}

func (s *syncStats) flushFailed() {
	s.mu.Lock()
	s.flushFailures++
	s.mu.Unlock()
}

func (s *syncStats) dropped() {
	s.mu.Lock()
	s.droppedN++
	s.mu.Unlock()
}

func (s *syncStats) rejected() {
	s.mu.Lock()
	s.rejectedN++
	s.mu.Unlock()
}

func (s *syncStats) wroteThrough() {
	s.mu.Lock()
	s.wroteThroughN++
	s.mu.Unlock()
}

func (s *syncStats) flushPass(at time.Time) {
	s.mu.Lock()
	s.lastFlush = at
	s.mu.Unlock()
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.stats.mu.Lock()
	st := Stats{
		Enqueued:      e.stats.enqueuedN,
		Flushed:       e.stats.flushedN,
		FlushFailures: e.stats.flushFailures,
		Dropped:       e.stats.droppedN,
		Rejected:      e.stats.rejectedN,
		WriteThrough:  e.stats.wroteThroughN,
		LastFlush:     e.stats.lastFlush,
	}
	e.stats.mu.Unlock()

	st.Pending = e.Pending()
	return st
}
