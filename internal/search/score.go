package search

import (
	"sort"
	"strings"

	"coinboard/internal/domain"
)

// Relevance weights. Scoring is additive: a coin accumulates every criterion
// its fields satisfy, so an exact name match also collects the prefix and
// substring weights.
const (
	scoreNameExact       = 100
	scoreSymbolExact     = 90
	scoreNamePrefix      = 50
	scoreSymbolPrefix    = 40
	scoreNameContains    = 25
	scoreSymbolContains  = 20
	scoreCreatorContains = 15
	scoreDescContains    = 10
	scoreAddrContains    = 5
)

type scoredCoin struct {
	coin  domain.Coin
	score int
}

// scoreCoin computes the relevance of one coin for a lowercase query.
func scoreCoin(c domain.Coin, query string) int {
	name := strings.ToLower(c.Name)
	symbol := strings.ToLower(c.Symbol)

	score := 0
	if name == query {
		score += scoreNameExact
	}
	if symbol == query {
		score += scoreSymbolExact
	}
	if strings.HasPrefix(name, query) {
		score += scoreNamePrefix
	}
	if strings.HasPrefix(symbol, query) {
		score += scoreSymbolPrefix
	}
	if strings.Contains(name, query) {
		score += scoreNameContains
	}
	if strings.Contains(symbol, query) {
		score += scoreSymbolContains
	}
	if strings.Contains(strings.ToLower(c.CreatorAddress), query) {
		score += scoreCreatorContains
	}
	if strings.Contains(strings.ToLower(c.Description), query) {
		score += scoreDescContains
	}
	if strings.Contains(strings.ToLower(c.ContractAddress), query) {
		score += scoreAddrContains
	}
	return score
}

// scoreMatches scores coins against a lowercase query and keeps only those
// matching at least one criterion. This is the local substring scan: a coin
// scores above zero exactly when some field contains the query.
func scoreMatches(coins []domain.Coin, query string) []scoredCoin {
	matches := make([]scoredCoin, 0, len(coins)/4)
	for _, c := range coins {
		if s := scoreCoin(c, query); s > 0 {
			matches = append(matches, scoredCoin{coin: c, score: s})
		}
	}
	return matches
}

// scoreAll scores every coin, keeping zero-score entries. Used for upstream
// results, which matched server-side on criteria the local scorer may not
// see.
func scoreAll(coins []domain.Coin, query string) []scoredCoin {
	scored := make([]scoredCoin, 0, len(coins))
	for _, c := range coins {
		scored = append(scored, scoredCoin{coin: c, score: scoreCoin(c, query)})
	}
	return scored
}

// rank orders matches by score descending, ties broken by market cap
// descending, and strips the scores.
func rank(matches []scoredCoin) []domain.Coin {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].coin.MarketCap > matches[j].coin.MarketCap
	})

	coins := make([]domain.Coin, len(matches))
	for i, m := range matches {
		coins[i] = m.coin
	}
	return coins
}
