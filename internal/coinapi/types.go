package coinapi

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// flexNumber tolerates the upstream's numeric sloppiness: values arrive as
// JSON numbers, quoted strings ("12.5"), "NaN", null, or are missing
// entirely. Anything unusable decodes to 0, never an error.
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		*f = 0
		return nil
	}

	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			*f = 0
			return nil
		}
		*f = flexNumber(v)
		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		*f = 0
		return nil
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		*f = 0
		return nil
	}
	*f = flexNumber(v)
	return nil
}

// flexString accepts a JSON string or number and stores its string form.
// Chain identifiers arrive both ways.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		*f = ""
		return nil
	}

	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			*f = ""
			return nil
		}
		*f = flexString(strings.TrimSpace(str))
		return nil
	}

	// Bare number: keep the literal as written
	*f = flexString(s)
	return nil
}

// rawMarket is the nested market-data object some payload variants carry.
type rawMarket struct {
	Price     flexNumber `json:"price"`
	Change24h flexNumber `json:"change24h"`
	Volume24h flexNumber `json:"volume24h"`
	MarketCap flexNumber `json:"marketCap"`
	Holders   flexNumber `json:"holders"`
}

// RawCoin is one record as the upstream sends it. Market fields appear
// either flat or nested under "market"; the nested object wins when present.
type RawCoin struct {
	ID              string      `json:"id"`
	ContractAddress string      `json:"contractAddress"`
	Address         string      `json:"address"`
	ChainID         flexString  `json:"chainId"`
	Name            string      `json:"name"`
	Symbol          string      `json:"symbol"`
	Image           string      `json:"image"`
	Description     string      `json:"description"`
	Price           flexNumber  `json:"price"`
	Change24h       flexNumber  `json:"change24h"`
	Volume24h       flexNumber  `json:"volume24h"`
	MarketCap       flexNumber  `json:"marketCap"`
	Holders         flexNumber  `json:"holders"`
	TotalSupply     flexNumber  `json:"totalSupply"`
	CreatedAt       flexNumber  `json:"createdAt"`
	CreatorAddress  string      `json:"creatorAddress"`
	Market          *rawMarket  `json:"market"`
}

// ListParams mirror the upstream list query. Zero values are omitted from
// the request.
type ListParams struct {
	Limit     int
	Page      int
	Offset    int
	SortBy    string
	SortOrder string
	FilterBy  string
	Search    string
}
