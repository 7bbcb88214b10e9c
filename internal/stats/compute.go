package stats

import (
	"sort"

	"coinboard/internal/domain"
)

// Performance score weights: market cap dominates, volume keeps
// actively-traded coins visible.
const (
	marketCapWeight = 0.6
	volumeWeight    = 0.4
)

// topPerformersKept is the internal retention size. External surfaces
// truncate to TopN.
const topPerformersKept = 20

// TopN is the list size served to external consumers.
const TopN = 10

// Compute derives MarketStats from a working set. Pure: no I/O, no clock,
// deterministic for a given input. The input slice is never reordered or
// mutated; all ranking lists are fresh slices. UpdatedAt is left zero for
// the caller to stamp.
func Compute(coins []domain.Coin) domain.MarketStats {
	s := domain.MarketStats{
		TotalCoins:    len(coins),
		TopPerformers: []domain.Coin{},
		TopGainers:    []domain.Coin{},
		TopLosers:     []domain.Coin{},
	}

	if len(coins) == 0 {
		return s
	}

	for i := range coins {
		s.TotalMarketCap += coins[i].MarketCap
		s.TotalVolume24h += coins[i].Volume24h
	}

	s.TopPerformers = topPerformers(coins)
	s.TopGainers = topGainers(coins)
	s.TopLosers = topLosers(coins)

	return s
}

// Score is the blended performance metric used for the top-performers
// ranking, distinct from plain market-cap ordering.
func Score(c domain.Coin) float64 {
	return marketCapWeight*c.MarketCap + volumeWeight*c.Volume24h
}

func topPerformers(coins []domain.Coin) []domain.Coin {
	ranked := make([]domain.Coin, len(coins))
	copy(ranked, coins)

	// Stable: equal scores keep input order
	sort.SliceStable(ranked, func(i, j int) bool {
		return Score(ranked[i]) > Score(ranked[j])
	})

	if len(ranked) > topPerformersKept {
		ranked = ranked[:topPerformersKept]
	}
	return ranked
}

func topGainers(coins []domain.Coin) []domain.Coin {
	gainers := make([]domain.Coin, 0)
	for i := range coins {
		if coins[i].Change24h > 0 {
			gainers = append(gainers, coins[i])
		}
	}

	sort.SliceStable(gainers, func(i, j int) bool {
		return gainers[i].Change24h > gainers[j].Change24h
	})

	if len(gainers) > TopN {
		gainers = gainers[:TopN]
	}
	return gainers
}

func topLosers(coins []domain.Coin) []domain.Coin {
	losers := make([]domain.Coin, 0)
	for i := range coins {
		if coins[i].Change24h < 0 {
			losers = append(losers, coins[i])
		}
	}

	// Most negative first
	sort.SliceStable(losers, func(i, j int) bool {
		return losers[i].Change24h < losers[j].Change24h
	})

	if len(losers) > TopN {
		losers = losers[:TopN]
	}
	return losers
}
