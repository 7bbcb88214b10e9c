package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"coinboard/internal/storage"
)

// searchHistoryKey holds the recent-search list as a JSON array.
const searchHistoryKey = "coinboard:recent_searches"

// SearchHistoryStore implements storage.SearchHistoryStore using Redis.
type SearchHistoryStore struct {
	client *Client
}

// NewSearchHistoryStore creates a new SearchHistoryStore.
func NewSearchHistoryStore(client *Client) *SearchHistoryStore {
	return &SearchHistoryStore{client: client}
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

	if err := s.client.Set(ctx, searchHistoryKey, data, 0).Err(); err != nil {
		return fmt.Errorf("save search history: %w", err)
	}
	return nil
}

// Load retrieves the stored list. A missing key and an undecodable blob
// both return ErrNotFound.
func (s *SearchHistoryStore) Load(ctx context.Context) ([]string, error) {
	data, err := s.client.Get(ctx, searchHistoryKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
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
	if err := s.client.Del(ctx, searchHistoryKey).Err(); err != nil {
		return fmt.Errorf("delete search history: %w", err)
	}
	return nil
}
