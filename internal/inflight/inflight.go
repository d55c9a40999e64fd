// Package inflight guards nodes against overlapping mutations.
package inflight

import (
	"sync"

	"github.com/Banbury-inc/Banbury-Website-sub002/pkg/models"
)

// Set holds the ids of nodes with an outstanding mutation.
type Set struct {
	mu  sync.Mutex
	ids models.IDSet
}

// New returns an empty set.
func New() *Set {
	return &Set{ids: models.NewIDSet()}
}

// TryAcquire marks id busy. It returns false if id is already busy.
func (s *Set) TryAcquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids.Has(id) {
		return false
	}
	s.ids.Add(id)
	return true
}

// Release clears the busy mark of ids.
func (s *Set) Release(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.ids.Remove(id)
	}
}

// Busy reports whether id has an outstanding mutation.
func (s *Set) Busy(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids.Has(id)
}

// Len returns the number of busy ids.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids.Len()
}
