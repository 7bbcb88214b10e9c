package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"coinboard/internal/storage"
)

// searchHistoryKey identifies the recent-search row in cache_blobs.
const searchHistoryKey = "coinboard:recent_searches"

// SearchHistoryStore implements storage.SearchHistoryStore using PostgreSQL.
type SearchHistoryStore struct {
	pool *Pool
}

// NewSearchHistoryStore creates a new SearchHistoryStore.
func NewSearchHistoryStore(pool *Pool) *SearchHistoryStore {
	return &SearchHistoryStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SearchHistoryStore = (*SearchHistoryStore)(nil)

// Save replaces the stored list.
func (s *SearchHistoryStore) Save(ctx context.Context, queries []string) error {
	if queries == nil {
		queries = []string{}
	}

	data, err := json.Marshal(queries)
	if err != nil {
		return fmt.Errorf("marshal search history: %w", err)
	}

	query := `
		INSERT INTO cache_blobs (key, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`

	if _, err := s.pool.Exec(ctx, query, searchHistoryKey, data); err != nil {
		return fmt.Errorf("save search history: %w", err)
	}
	return nil
}

// Load retrieves the stored list. A missing row and an undecodable blob
// both return ErrNotFound.
func (s *SearchHistoryStore) Load(ctx context.Context) ([]string, error) {
	query := `SELECT data FROM cache_blobs WHERE key = $1`

	var data []byte
	err := s.pool.QueryRow(ctx, query, searchHistoryKey).Scan(&data)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load search history: %w", err)
	}

	var queries []string
	if err := json.Unmarshal(data, &queries); err != nil {
		return nil, storage.ErrNotFound
	}
	return queries, nil
}

// Delete removes the stored list.
func (s *SearchHistoryStore) Delete(ctx context.Context) error {
	query := `DELETE FROM cache_blobs WHERE key = $1`

	if _, err := s.pool.Exec(ctx, query, searchHistoryKey); err != nil {
		return fmt.Errorf("delete search history: %w", err)
	}
	return nil
}
