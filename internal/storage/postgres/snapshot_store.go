package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"coinboard/internal/domain"
	"coinboard/internal/storage"
)

// snapshotKey identifies the snapshot row in cache_blobs.
const snapshotKey = "coinboard:snapshot"

// SnapshotStore implements storage.SnapshotStore using PostgreSQL.
// The snapshot is a single keyed row in cache_blobs, replaced on every save.
type SnapshotStore struct {
	pool *Pool
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(pool *Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
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

	query := `
		INSERT INTO cache_blobs (key, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`

	if _, err := s.pool.Exec(ctx, query, snapshotKey, data); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load retrieves the persisted snapshot. A missing row and an undecodable
// blob both return ErrNotFound: corrupt data is treated as absent.
func (s *SnapshotStore) Load(ctx context.Context) (*domain.Snapshot, error) {
	query := `SELECT data FROM cache_blobs WHERE key = $1`

	var data []byte
	err := s.pool.QueryRow(ctx, query, snapshotKey).Scan(&data)
	if err != nil {
		if isNotFoundError(err) {
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
	query := `DELETE FROM cache_blobs WHERE key = $1`

	if _, err := s.pool.Exec(ctx, query, snapshotKey); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// Clear wipes everything this store owns. Same as Delete for a
// single-row store.
func (s *SnapshotStore) Clear(ctx context.Context) error {
	return s.Delete(ctx)
}
