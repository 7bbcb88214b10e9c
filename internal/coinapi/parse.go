package coinapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"coinboard/internal/domain"
	"coinboard/internal/idhash"
)

// ErrEmptyBody is returned when the upstream responds with no payload.
var ErrEmptyBody = errors.New("empty response body")

// decodeCoinList extracts the record array from any accepted payload shape:
// a bare array, {"data":[...]}, {"coins":[...]}, or {"data":{"coins":[...]}}.
// This is the single parse step; nothing else in the repository sniffs
// payload shapes.
func decodeCoinList(data []byte) ([]RawCoin, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrEmptyBody
	}

	if trimmed[0] == '[' {
		var coins []RawCoin
		if err := json.Unmarshal(trimmed, &coins); err != nil {
			return nil, fmt.Errorf("decode coin array: %w", err)
		}
		return coins, nil
	}

	var env struct {
		Data  json.RawMessage `json:"data"`
		Coins json.RawMessage `json:"coins"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	if len(env.Coins) > 0 {
		var coins []RawCoin
		if err := json.Unmarshal(env.Coins, &coins); err != nil {
			return nil, fmt.Errorf("decode coins field: %w", err)
		}
		return coins, nil
	}

	inner := bytes.TrimSpace(env.Data)
	if len(inner) == 0 || string(inner) == "null" {
		return nil, fmt.Errorf("unrecognized payload shape")
	}

	if inner[0] == '[' {
		var coins []RawCoin
		if err := json.Unmarshal(inner, &coins); err != nil {
			return nil, fmt.Errorf("decode data array: %w", err)
		}
		return coins, nil
	}

	var nested struct {
		Coins []RawCoin `json:"coins"`
	}
	if err := json.Unmarshal(inner, &nested); err != nil {
		return nil, fmt.Errorf("decode nested coins: %w", err)
	}
	if nested.Coins == nil {
		return nil, fmt.Errorf("unrecognized payload shape")
	}
	return nested.Coins, nil
}

// decodeCoin extracts a single record, accepting a bare object,
// {"data":{...}}, or a one-element array. Returns nil when the payload
// carries no record.
func decodeCoin(data []byte) (*RawCoin, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrEmptyBody
	}

	payload := trimmed
	if payload[0] == '{' {
		var probe struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(payload, &probe); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		if inner := bytes.TrimSpace(probe.Data); len(inner) > 0 && string(inner) != "null" {
			payload = inner
		}
	}

	if payload[0] == '[' {
		var coins []RawCoin
		if err := json.Unmarshal(payload, &coins); err != nil {
			return nil, fmt.Errorf("decode coin array: %w", err)
		}
		if len(coins) == 0 {
			return nil, nil
		}
		return &coins[0], nil
	}

	var rc RawCoin
	if err := json.Unmarshal(payload, &rc); err != nil {
		return nil, fmt.Errorf("decode coin: %w", err)
	}
	return &rc, nil
}

// Coin converts the raw record into the domain shape. Conversion never
// fails: unusable fields default, identity is preserved, and a missing ID
// gets a deterministic fallback derived from the contract address.
func (r RawCoin) Coin() domain.Coin {
	addr := strings.TrimSpace(r.ContractAddress)
	if addr == "" {
		addr = strings.TrimSpace(r.Address)
	}
	chainID := string(r.ChainID)

	id := strings.TrimSpace(r.ID)
	if id == "" {
		id = idhash.FallbackCoinID(addr, chainID)
	}

	price := float64(r.Price)
	change := float64(r.Change24h)
	volume := float64(r.Volume24h)
	marketCap := float64(r.MarketCap)
	holders := float64(r.Holders)
	if m := r.Market; m != nil {
		price = float64(m.Price)
		change = float64(m.Change24h)
		volume = float64(m.Volume24h)
		marketCap = float64(m.MarketCap)
		holders = float64(m.Holders)
	}

	return domain.Coin{
		ID:              id,
		ContractAddress: addr,
		ChainID:         chainID,
		Name:            strings.TrimSpace(r.Name),
		Symbol:          strings.TrimSpace(r.Symbol),
		Image:           strings.TrimSpace(r.Image),
		Description:     r.Description,
		Price:           nonNegative(price),
		Change24h:       change,
		Volume24h:       nonNegative(volume),
		MarketCap:       nonNegative(marketCap),
		Holders:         int(nonNegative(holders)),
		TotalSupply:     nonNegative(float64(r.TotalSupply)),
		CreatedAt:       int64(r.CreatedAt),
		CreatorAddress:  strings.TrimSpace(r.CreatorAddress),
	}
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// toCoins converts a raw batch in order.
func toCoins(raws []RawCoin) []domain.Coin {
	coins := make([]domain.Coin, 0, len(raws))
	for _, r := range raws {
		coins = append(coins, r.Coin())
	}
	return coins
}
