package opt

import "sync"

// statsStore keeps the metrics of the latest run of each strategy.
type statsStore struct {
	mu   sync.Mutex
	runs map[string]Metrics
}

func newStatsStore() *statsStore {
	return &statsStore{runs: map[string]Metrics{}}
}

func (s *statsStore) record(algo string, m Metrics) {
	s.mu.Lock()
	s.runs[algo] = m
	s.mu.Unlock()
}

func (s *statsStore) snapshot() map[string]Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Metrics, len(s.runs))
	for k, v := range s.runs {
		out[k] = v
	}
	return out
}
