package monitor

import (
	"strings"
	"sync"
	"time"
)

// frequencyStore keeps re-optimisation timestamps per route, trimmed to window.
type frequencyStore struct {
	mu     sync.Mutex
	window time.Duration
	byID   map[string][]time.Time
}

func newFrequencyStore(window time.Duration) *frequencyStore {
	return &frequencyStore{window: window, byID: map[string][]time.Time{}}
}

func (s *frequencyStore) record(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id] = append(s.evict(id, at), at)
}

// count returns how many re-optimisations of id fall in the trailing window.
func (s *frequencyStore) count(id string, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.evict(id, now))
}

func (s *frequencyStore) evict(id string, now time.Time) []time.Time {
	cutoff := now.Add(-s.window)
	kept := s.byID[id][:0]
	for _, t := range s.byID[id] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(s.byID, id)
		return nil
	}
	s.byID[id] = kept
	return kept
}

type reading struct {
	multiplier float64
	at         time.Time
}

// segmentCache holds the last traffic reading per route segment. Keys are
// "<routeID>|<segment>".
type segmentCache struct {
	mu       sync.Mutex
	maxAge   time.Duration
	readings map[string]reading
}

func newSegmentCache(maxAge time.Duration) *segmentCache {
	return &segmentCache{maxAge: maxAge, readings: map[string]reading{}}
}

// swap stores r under key and returns the previous reading, if still fresh.
func (c *segmentCache) swap(key string, r reading) (reading, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.readings[key]
	c.readings[key] = r
	if ok && c.maxAge > 0 && r.at.Sub(prev.at) > c.maxAge {
		return reading{}, false
	}
	return prev, ok
}

func (c *segmentCache) dropRoute(routeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := routeID + "|"
	for k := range c.readings {
		if strings.HasPrefix(k, prefix) {
			delete(c.readings, k)
		}
	}
}

// evictBefore removes readings older than cutoff.
func (c *segmentCache) evictBefore(cutoff time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, r := range c.readings {
		if r.at.Before(cutoff) {
			delete(c.readings, k)
		}
	}
}
