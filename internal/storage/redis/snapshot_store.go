package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"coinboard/internal/domain"
	"coinboard/internal/storage"
)

// snapshotKey is the single key holding the serialized working set.
const snapshotKey = "coinboard:snapshot"

// SnapshotStore implements storage.SnapshotStore using Redis.
// The snapshot lives at one key as a JSON blob; Save replaces it wholesale.
type SnapshotStore struct {
	client *Client
	ttl    time.Duration
}

// NewSnapshotStore creates a new SnapshotStore. A positive ttl lets stale
// snapshots expire on their own; zero keeps them until replaced.
func NewSnapshotStore(client *Client, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{client: client, ttl: ttl}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// Save persists the snapshot, replacing any previous one.
func (s *SnapshotStore) Save(ctx context.Context, snap *domain.Snapshot) error {
	if snap == nil {
		return storage.ErrInvalidInput
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := s.client.Set(ctx, snapshotKey, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load retrieves the persisted snapshot. A missing key and an undecodable
// blob both return ErrNotFound: corrupt data is treated as absent.
func (s *SnapshotStore) Load(ctx context.Context) (*domain.Snapshot, error) {
	data, err := s.client.Get(ctx, snapshotKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, storage.ErrNotFound
	}
	return &snap, nil
}

// Delete removes the persisted snapshot.
func (s *SnapshotStore) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, snapshotKey).Err(); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// Clear wipes everything this store owns. Same as Delete for a
// single-key store.
func (s *SnapshotStore) Clear(ctx context.Context) error {
	return s.Delete(ctx)
}
