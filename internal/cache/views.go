package cache

import (
	"context"
	"sort"
	"time"

	"coinboard/internal/domain"
	"coinboard/internal/stats"
)

// Coins created within this window qualify for the "new" filter.
const newCoinWindow = 7 * 24 * time.Hour

// Page returns one page of the working set filtered and sorted as
// requested. Unknown keys fall back to their defaults, pages below 1 are
// clamped to 1 and out-of-range pages return an empty slice, not an error.
// Serving a page triggers a fetch only when no working set exists yet.
func (m *Manager) Page(ctx context.Context, page int, sortBy, filterBy string) (*domain.CoinPage, error) {
	ws, err := m.ensure(ctx, false)
	if ws == nil {
		return nil, err
	}
	sortKey := domain.NormalizeSortKey(sortBy)
	filterKey := domain.NormalizeFilterKey(filterBy)
	return buildPage(ws, page, m.pageSize, sortKey, filterKey, m.now().UnixMilli()), nil
}

// buildPage derives a request-scoped view from one working set generation.
// Everything it returns is freshly allocated.
func buildPage(ws *workingSet, page, pageSize int, sortKey domain.SortKey, filterKey domain.FilterKey, nowMs int64) *domain.CoinPage {
	if page < 1 {
		page = 1
	}

	var ordered []domain.Coin
	if filterKey == domain.FilterTop {
		// The top view is the performance ranking itself; the sort key
		// does not apply.
		ordered = copyCoins(ws.stats.TopPerformers)
	} else {
		ordered = filterCoins(ws.coins, filterKey, nowMs)
		sortCoins(ordered, sortKey)
		if filterKey == domain.FilterAll && sortKey == domain.SortMarketCap {
			ordered = curate(ws.stats.TopPerformers, ordered)
		}
	}

	total := len(ordered)
	totalPages := (total + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	end := start + pageSize
	coins := []domain.Coin{}
	if start < total {
		if end > total {
			end = total
		}
		coins = copyCoins(ordered[start:end])
	}

	return &domain.CoinPage{
		Coins:      coins,
		Page:       page,
		TotalPages: totalPages,
		TotalCoins: total,
		HasMore:    page*pageSize < total,
	}
}

// filterCoins returns a fresh slice holding the subset selected by filter.
func filterCoins(coins []domain.Coin, filter domain.FilterKey, nowMs int64) []domain.Coin {
	out := make([]domain.Coin, 0, len(coins))
	switch filter {
	case domain.FilterGainers:
		for _, c := range coins {
			if c.Change24h > 0 {
				out = append(out, c)
			}
		}
	case domain.FilterLosers:
		for _, c := range coins {
			if c.Change24h < 0 {
				out = append(out, c)
			}
		}
	case domain.FilterNew:
		cutoff := nowMs - newCoinWindow.Milliseconds()
		for _, c := range coins {
			if c.CreatedAt >= cutoff {
				out = append(out, c)
			}
		}
	default:
		out = append(out, coins...)
	}
	return out
}

// sortCoins orders coins in place, descending for every key. Age means
// newest first. Ties keep their input order.
func sortCoins(coins []domain.Coin, key domain.SortKey) {
	sort.SliceStable(coins, func(i, j int) bool {
		a, b := coins[i], coins[j]
		switch key {
		case domain.SortVolume:
			return a.Volume24h > b.Volume24h
		case domain.SortChange:
			return a.Change24h > b.Change24h
		case domain.SortHolders:
			return a.Holders > b.Holders
		case domain.SortAge:
			return a.CreatedAt > b.CreatedAt
		default:
			return a.MarketCap > b.MarketCap
		}
	})
}

// curate leads the default dashboard ordering with the top performers, then
// the remaining coins in sorted order with those ids removed. Later pages
// continue the same sequence, so no id appears on two pages.
func curate(top, sorted []domain.Coin) []domain.Coin {
	if len(top) > stats.TopN {
		top = top[:stats.TopN]
	}
	out := make([]domain.Coin, 0, len(sorted))
	seen := make(map[string]struct{}, len(top))
	for _, c := range top {
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	for _, c := range sorted {
		if _, dup := seen[c.ID]; !dup {
			out = append(out, c)
		}
	}
	return out
}
