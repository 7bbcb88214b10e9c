package memory

import (
	"context"
	"errors"
	"testing"

	"coinboard/internal/domain"
	"coinboard/internal/storage"
)

func TestStatsHistoryStore_AppendAndRecent(t *testing.T) {
	store := NewStatsHistoryStore()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		p := &domain.StatsPoint{
			UpdatedAt:      int64(i * 1000),
			TotalMarketCap: float64(i) * 100,
			TotalCoins:     i,
		}
		if err := store.Append(ctx, p); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}

	result, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}

	if len(result) != 3 {
		t.Fatalf("Length mismatch: got %d, want 3", len(result))
	}

	// Newest first
	if result[0].UpdatedAt != 3000 {
		t.Errorf("Expected newest point first, got UpdatedAt=%d", result[0].UpdatedAt)
	}

	if result[2].UpdatedAt != 1000 {
		t.Errorf("Expected oldest point last, got UpdatedAt=%d", result[2].UpdatedAt)
	}
}

func TestStatsHistoryStore_RecentLimit(t *testing.T) {
	store := NewStatsHistoryStore()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if err := store.Append(ctx, &domain.StatsPoint{UpdatedAt: int64(i)}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	result, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}

	if len(result) != 2 {
		t.Fatalf("Expected 2 points, got %d", len(result))
	}

	if result[0].UpdatedAt != 5 || result[1].UpdatedAt != 4 {
		t.Errorf("Expected points 5, 4; got %d, %d", result[0].UpdatedAt, result[1].UpdatedAt)
	}
}

func TestStatsHistoryStore_RecentEmpty(t *testing.T) {
	store := NewStatsHistoryStore()
	ctx := context.Background()

	result, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}

	if len(result) != 0 {
		t.Errorf("Expected no points, got %d", len(result))
	}
}

func TestStatsHistoryStore_RecentZeroLimit(t *testing.T) {
	store := NewStatsHistoryStore()
	ctx := context.Background()

	if err := store.Append(ctx, &domain.StatsPoint{UpdatedAt: 1}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	result, err := store.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}

	if len(result) != 0 {
		t.Errorf("Expected no points for limit 0, got %d", len(result))
	}
}

func TestStatsHistoryStore_InvalidInput(t *testing.T) {
	store := NewStatsHistoryStore()
	ctx := context.Background()

	err := store.Append(ctx, nil)
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for nil, got %v", err)
	}
}

func TestStatsHistoryStore_ReturnsCopy(t *testing.T) {
	store := NewStatsHistoryStore()
	ctx := context.Background()

	p := &domain.StatsPoint{UpdatedAt: 1000, TotalMarketCap: 500}
	if err := store.Append(ctx, p); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	p.TotalMarketCap = 999

	result, err := store.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}

	if result[0].TotalMarketCap != 500 {
		t.Error("Store should copy on append, not hold caller's pointer")
	}
}
