package txn

import "sync"

// Stats is a point-in-time snapshot of transaction manager counters.
type Stats struct {
	Started     int64   `json:"started"`
	Committed   int64   `json:"committed"`
	RolledBack  int64   `json:"rolled_back"`
	TimedOut    int64   `json:"timed_out"`
	Partial     int64   `json:"partial"`
	Failed      int64   `json:"failed"`
	FailedBegin int64   `json:"failed_begin"`
	Active      int     `json:"active"`
	SuccessRate float64 `json:"success_rate"`
}

type txnStats struct {
	mu sync.Mutex

	startedN     int64
	committedN   int64
	rolledBackN  int64
	timedOutN    int64
	partialN     int64
	failedN      int64
	failedBeginN int64
}

func (s *txnStats) started() {
	s.mu.Lock()
	s.startedN++
	s.mu.Unlock()
}

func (s *txnStats) committed() {
	s.mu.Lock()
	s.committedN++
	s.mu.Unlock()
}

func (s *txnStats) rolledBack() {
	s.mu.Lock()
	s.rolledBackN++
	s.mu.Unlock()
}

func (s *txnStats) timedOut() {
	s.mu.Lock()
	s.timedOutN++
	s.mu.Unlock()
}

func (s *txnStats) partial() {
	s.mu.Lock()
	s.partialN++
	s.mu.Unlock()
}

func (s *txnStats) failed() {
	s.mu.Lock()
	s.failedN++
	s.mu.Unlock()
}

func (s *txnStats) failedBegin() {
	s.mu.Lock()
	s.failedBeginN++
	s.mu.Unlock()
}

// Stats returns a snapshot of the manager counters. Partial commits count
// as successes for the rate: the document changes are durable.
func (m *Manager) Stats() Stats {
	m.stats.mu.Lock()
	st := Stats{
		Started:     m.stats.startedN,
		Committed:   m.stats.committedN,
		RolledBack:  m.stats.rolledBackN,
		TimedOut:    m.stats.timedOutN,
		Partial:     m.stats.partialN,
		Failed:      m.stats.failedN,
		FailedBegin: m.stats.failedBeginN,
	}
	m.stats.mu.Unlock()

	st.Active = m.ActiveCount()
	finished := st.Committed + st.Partial + st.RolledBack + st.TimedOut + st.Failed
	if finished > 0 {
		st.SuccessRate = float64(st.Committed+st.Partial) / float64(finished)
	}
	return st
}
