package storage

import (
	"context"

	"coinboard/internal/domain"
)

// SnapshotStore persists the serialized working set across restarts.
// A snapshot is a single keyed blob: Save replaces it wholesale.
type SnapshotStore interface {
	// Save persists the snapshot, replacing any previous one.
	Save(ctx context.Context, snap *domain.Snapshot) error

	// Load retrieves the persisted snapshot. Returns ErrNotFound when no
	// snapshot exists or the stored blob cannot be decoded (corrupt data is
	// treated as absent, never fatal).
	Load(ctx context.Context) (*domain.Snapshot, error)

	// Delete removes the persisted snapshot. Deleting a missing snapshot is
	// not an error.
	Delete(ctx context.Context) error

	// Clear wipes everything this store owns. Used by the write-retry path
	// when Save fails on a full backend.
	Clear(ctx context.Context) error
}

// SearchHistoryStore persists the recent-search list.
type SearchHistoryStore interface {
	// Save replaces the stored list.
	Save(ctx context.Context, queries []string) error

	// Load retrieves the stored list. Returns ErrNotFound when absent.
	Load(ctx context.Context) ([]string, error)

	// Delete removes the stored list. Deleting a missing list is not an error.
	Delete(ctx context.Context) error
}

// StatsHistoryStore records one aggregate row per successful refresh.
type StatsHistoryStore interface {
	// Append adds a new point.
	Append(ctx context.Context, p *domain.StatsPoint) error

	// Recent retrieves up to limit points, newest first.
	Recent(ctx context.Context, limit int) ([]*domain.StatsPoint, error)
}
