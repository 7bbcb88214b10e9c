package domain

// MarketStats is the aggregate view derived from a working set. It is
// recomputed in full whenever the working set is replaced, never patched.
type MarketStats struct {
	TotalMarketCap float64 `json:"totalMarketCap"` // sum of market caps across the working set
	TotalVolume24h float64 `json:"totalVolume24h"` // sum of 24h volumes
	TotalCoins     int     `json:"totalCoins"`     // working set size
	TopPerformers  []Coin  `json:"topPerformers"`  // blended cap/volume score, descending; up to 20 internally
	TopGainers     []Coin  `json:"topGainers"`     // change > 0, descending by change; up to 10
	TopLosers      []Coin  `json:"topLosers"`      // change < 0, ascending by change (worst first); up to 10
	UpdatedAt      int64   `json:"updatedAt"`      // Unix ms of the producing refresh
}

// StatsPoint is one row of aggregate history, appended after each successful
// refresh. Corresponds to the stats_history table in ClickHouse.
type StatsPoint struct {
	UpdatedAt      int64   `json:"updatedAt"`      // Unix ms
	TotalMarketCap float64 `json:"totalMarketCap"` // market-wide cap at that refresh
	TotalVolume24h float64 `json:"totalVolume24h"` // market-wide 24h volume
	TotalCoins     int     `json:"totalCoins"`     // working set size
}
