package domain

// SortKey selects the ordering of a paginated coin view.
type SortKey string

const (
	SortMarketCap SortKey = "marketCap"
	SortVolume    SortKey = "volume"
	SortChange    SortKey = "change"
	SortHolders   SortKey = "holders"
	SortAge       SortKey = "age"
)

// NormalizeSortKey maps unknown keys to the default SortMarketCap.
func NormalizeSortKey(s string) SortKey {
	switch SortKey(s) {
	case SortMarketCap, SortVolume, SortChange, SortHolders, SortAge:
		return SortKey(s)
	default:
		return SortMarketCap
	}
}

// FilterKey selects the subset of the working set a view is built from.
type FilterKey string

const (
	FilterAll     FilterKey = "all"
	FilterGainers FilterKey = "gainers"
	FilterLosers  FilterKey = "losers"
	FilterNew     FilterKey = "new"
	FilterTop     FilterKey = "top"
)

// NormalizeFilterKey maps unknown keys to the default FilterAll.
func NormalizeFilterKey(s string) FilterKey {
	switch FilterKey(s) {
	case FilterAll, FilterGainers, FilterLosers, FilterNew, FilterTop:
		return FilterKey(s)
	default:
		return FilterAll
	}
}

// CoinPage is a request-scoped slice of the working set. It is recomputed on
// every request and never stored.
type CoinPage struct {
	Coins      []Coin `json:"coins"`
	Page       int    `json:"currentPage"`
	TotalPages int    `json:"totalPages"`
	TotalCoins int    `json:"totalCoins"`
	HasMore    bool   `json:"hasMore"`
}
