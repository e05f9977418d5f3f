package selfdesc

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/aas"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
)

// MemoryStore keeps self-descriptions in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string]*SelfDescription
	listeners listeners
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*SelfDescription)}
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, url string) error {
	key := normalize(url)
	if key == "" {
		return errors.WrapInvalid(errors.ErrMissingAccessURL, "MemoryStore", "Create", "validate url")
	}

	s.mu.Lock()
	if _, exists := s.records[key]; exists {
		s.mu.Unlock()
		return nil
	}
	s.records[key] = &SelfDescription{URL: key, Environment: aas.NewEnvironment(), UpdatedAt: time.Now()}
	s.mu.Unlock()

	return s.listeners.created(ctx, key)
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, url string) (*SelfDescription, error) {
	s.mu.RLock()
	sd, ok := s.records[normalize(url)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("self-description %s: %w", url, errors.ErrNotFound)
	}
	return sd.clone(), nil
}

// List implements Store. URLs are returned in lexical order.
func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	urls := make([]string, 0, len(s.records))
	for url := range s.records {
		urls = append(urls, url)
	}
	s.mu.RUnlock()
	sort.Strings(urls)
	return urls, nil
}

// Update implements Store. The stored record is a private copy of env.
func (s *MemoryStore) Update(_ context.Context, url string, env *aas.Environment) error {
	key := normalize(url)
	record := &SelfDescription{URL: key, Environment: env.Clone(), UpdatedAt: time.Now()}
	if record.Environment == nil {
		record.Environment = aas.NewEnvironment()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return fmt.Errorf("self-description %s: %w", url, errors.ErrNotFound)
	}
	s.records[key] = record
	return nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(ctx context.Context, url string) error {
	key := normalize(url)

	s.mu.RLock()
	_, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("self-description %s: %w", url, errors.ErrNotFound)
	}

	err := s.listeners.removed(ctx, key)

	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()

	return err
}

// RegisterListener implements Store.
func (s *MemoryStore) RegisterListener(l Listener) {
	s.listeners.add(l)
}
