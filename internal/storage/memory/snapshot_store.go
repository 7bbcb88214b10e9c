package memory

import (
	"context"
	"sync"

	"coinboard/internal/domain"
	"coinboard/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
// Used in tests and as the memory backend; contents do not survive a restart.
type SnapshotStore struct {
	mu   sync.RWMutex
	snap *domain.Snapshot
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// Save persists the snapshot, replacing any previous one.
func (s *SnapshotStore) Save(_ context.Context, snap *domain.Snapshot) error {
	if snap == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external mutation
	s.snap = copySnapshot(snap)
	return nil
}

// Load retrieves the persisted snapshot. Returns ErrNotFound when absent.
func (s *SnapshotStore) Load(_ context.Context) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snap == nil {
		return nil, storage.ErrNotFound
	}

	// Return a copy
	return copySnapshot(s.snap), nil
}

// Delete removes the persisted snapshot.
func (s *SnapshotStore) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap = nil
	return nil
}

// Clear wipes everything this store owns.
func (s *SnapshotStore) Clear(ctx context.Context) error {
	return s.Delete(ctx)
}

func copySnapshot(snap *domain.Snapshot) *domain.Snapshot {
	snapCopy := *snap
	snapCopy.Coins = make([]domain.Coin, len(snap.Coins))
	copy(snapCopy.Coins, snap.Coins)
	return &snapCopy
}

// Verify interface compliance at compile time.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)
