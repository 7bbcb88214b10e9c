package memory

import (
	"context"
	"sync"

	"coinboard/internal/storage"
)

// SearchHistoryStore is an in-memory implementation of storage.SearchHistoryStore.
type SearchHistoryStore struct {
	mu      sync.RWMutex
	queries []string
}

// NewSearchHistoryStore creates a new in-memory search history store.
func NewSearchHistoryStore() *SearchHistoryStore {
	return &SearchHistoryStore{}
}

// Save replaces the stored list.
func (s *SearchHistoryStore) Save(_ context.Context, queries []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queries = make([]string, len(queries))
	copy(s.queries, queries)
	return nil
}

// Load retrieves the stored list. Returns ErrNotFound when absent.
func (s *SearchHistoryStore) Load(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.queries == nil {
		return nil, storage.ErrNotFound
	}

	result := make([]string, len(s.queries))
	copy(result, s.queries)
	return result, nil
}

// Delete removes the stored list.
func (s *SearchHistoryStore) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queries = nil
	return nil
}

// Verify interface compliance at compile time.
var _ storage.SearchHistoryStore = (*SearchHistoryStore)(nil)
