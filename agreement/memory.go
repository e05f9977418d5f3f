package agreement

import (
	"context"
	"sync"
)

// MemoryStore keeps agreements in insertion order.
type MemoryStore struct {
	mu         sync.RWMutex
	agreements []Agreement
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Query implements Store.
func (s *MemoryStore) Query(_ context.Context, f Filter) ([]Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Agreement{}
	for _, a := range s.agreements {
		if f.Matches(a) {
			a.Policy = a.Policy.Clone()
			out = append(out, a)
		}
	}
	return out, nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, a Agreement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Policy = a.Policy.Clone()
	for i := range s.agreements {
		if s.agreements[i].ID == a.ID {
			s.agreements[i] = a
			return nil
		}
	}
	s.agreements = append(s.agreements, a)
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.agreements {
		if s.agreements[i].ID == id {
			s.agreements = append(s.agreements[:i], s.agreements[i+1:]...)
			return nil
		}
	}
	return nil
}
