package clickhouse

import (
	"context"
	"fmt"

	"coinboard/internal/domain"
	"coinboard/internal/storage"
)

// StatsHistoryStore implements storage.StatsHistoryStore using ClickHouse.
// One row per successful refresh; the dashboard reads them back for trend
// sparklines.
type StatsHistoryStore struct {
	conn *Conn
}

// NewStatsHistoryStore creates a new StatsHistoryStore.
func NewStatsHistoryStore(conn *Conn) *StatsHistoryStore {
	return &StatsHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.StatsHistoryStore = (*StatsHistoryStore)(nil)

// Append adds a new point.
func (s *StatsHistoryStore) Append(ctx context.Context, p *domain.StatsPoint) error {
	if p == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO stats_history (
			updated_at_ms, total_market_cap, total_volume_24h, total_coins
		) VALUES (?, ?, ?, ?)
	`

	err := s.conn.Exec(ctx, query,
		uint64(p.UpdatedAt),
		p.TotalMarketCap,
		p.TotalVolume24h,
		uint32(p.TotalCoins),
	)
	if err != nil {
		return fmt.Errorf("append stats point: %w", err)
	}
	return nil
}

// Recent retrieves up to limit points, newest first.
func (s *StatsHistoryStore) Recent(ctx context.Context, limit int) ([]*domain.StatsPoint, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT updated_at_ms, total_market_cap, total_volume_24h, total_coins
		FROM stats_history
		ORDER BY updated_at_ms DESC
		LIMIT ?
	`

	rows, err := s.conn.Query(ctx, query, uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("query recent stats: %w", err)
	}
	defer rows.Close()

	var points []*domain.StatsPoint
	for rows.Next() {
		var p domain.StatsPoint
		var updatedAtMs uint64
		var totalCoins uint32

		err := rows.Scan(&updatedAtMs, &p.TotalMarketCap, &p.TotalVolume24h, &totalCoins)
		if err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}

		p.UpdatedAt = int64(updatedAtMs)
		p.TotalCoins = int(totalCoins)
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats rows: %w", err)
	}

	return points, nil
}
