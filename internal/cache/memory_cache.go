package cache

import (
	"sync"

	"github.com/rewired-gh/survivorship/internal/models"
)

// MemoryStore keeps loaded datasets in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	datasets map[string]*models.Dataset
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{datasets: make(map[string]*models.Dataset)}
}

// Get returns a copy of the cached dataset for key.
func (s *MemoryStore) Get(key string) (*models.Dataset, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ds, ok := s.datasets[key]
	if !ok {
		return nil, false, nil
	}
	return ds.Clone(), true, nil
}

// Put caches a copy of ds under key.
func (s *MemoryStore) Put(key string, ds *models.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.datasets[key] = ds.Clone()
	return nil
}

// Len reports the number of cached datasets.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.datasets)
}

// Clear removes all cached data
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	s.datasets = make(map[string]*models.Dataset)
	s.mu.Unlock()
}
