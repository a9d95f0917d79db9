package grid

import (
	"sort"
	"sync"
)

// ResultStore keeps the latest result per plate in memory
type ResultStore struct {
	results map[string]*Result
	mu      sync.RWMutex
}

// NewResultStore creates an empty store
func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string]*Result)}
}

// Put records r as the latest result for its plate. Results without a plate
// are stored under "default".
func (s *ResultStore) Put(r *Result) {
	plate := r.Plate
	if plate == "" {
		plate = "default"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[plate] = r
}

// Get returns the latest result for a plate
func (s *ResultStore) Get(plate string) (*Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[plate]
	return r, ok
}

// Plates lists stored plate ids in sorted order
func (s *ResultStore) Plates() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.results))
	for id := range s.results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of stored plates
func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}
