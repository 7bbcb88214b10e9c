package domain

// Coin represents one tradable coined post as served by the dashboard.
// Numeric fields are sanitized at the API boundary: parse failures coerce to
// zero, never to NaN or an error.
type Coin struct {
	ID              string  `json:"id"`              // unique within a working set; upstream id or derived fallback
	ContractAddress string  `json:"contractAddress"` // 0x-prefixed hex contract address
	ChainID         string  `json:"chainId"`         // chain identifier, e.g. "base"
	Name            string  `json:"name"`
	Symbol          string  `json:"symbol"`
	Image           string  `json:"image"`
	Description     string  `json:"description"`
	Price           float64 `json:"price"`     // current price in USD, >= 0
	Change24h       float64 `json:"change24h"` // 24h price change, signed percent
	Volume24h       float64 `json:"volume24h"` // 24h traded volume in USD, >= 0
	MarketCap       float64 `json:"marketCap"` // market capitalization in USD, >= 0
	Holders         int     `json:"holders"`   // holder count, >= 0
	TotalSupply     float64 `json:"totalSupply"`
	CreatedAt       int64   `json:"createdAt"` // creation timestamp, Unix ms
	CreatorAddress  string  `json:"creatorAddress"`
	Rank            int     `json:"rank"` // 1-based position in fetched order; not identity
}

// Snapshot is the persisted form of a working set: the full coin list plus
// bookkeeping needed to judge freshness after a restart.
type Snapshot struct {
	Coins        []Coin `json:"coins"`
	FetchedCount int    `json:"fetchedCount"` // total records seen across batches, before dedupe
	UpdatedAt    int64  `json:"updatedAt"`    // Unix ms of the fetch-merge cycle that produced it
}
