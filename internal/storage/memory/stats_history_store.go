package memory

import (
	"context"
	"sync"

	"coinboard/internal/domain"
	"coinboard/internal/storage"
)

// StatsHistoryStore is an in-memory implementation of storage.StatsHistoryStore.
// Points are kept in append order; Recent walks backward.
type StatsHistoryStore struct {
	mu     sync.RWMutex
	points []domain.StatsPoint
}

// NewStatsHistoryStore creates a new in-memory stats history store.
func NewStatsHistoryStore() *StatsHistoryStore {
	return &StatsHistoryStore{}
}

// Append adds a new point.
func (s *StatsHistoryStore) Append(_ context.Context, p *domain.StatsPoint) error {
	if p == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.points = append(s.points, *p)
	return nil
}

// Recent retrieves up to limit points, newest first.
func (s *StatsHistoryStore) Recent(_ context.Context, limit int) ([]*domain.StatsPoint, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.points)
	if limit > n {
		limit = n
	}

	result := make([]*domain.StatsPoint, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		pointCopy := s.points[i]
		result = append(result, &pointCopy)
	}
	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.StatsHistoryStore = (*StatsHistoryStore)(nil)
