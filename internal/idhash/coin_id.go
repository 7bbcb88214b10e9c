package idhash

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// FallbackCoinID computes a deterministic id for a coin the upstream API
// returned without one. Formula: SHA256(lower(contract_address)|chain_id),
// base58-encoded so the id stays short and URL-safe.
func FallbackCoinID(contractAddress, chainID string) string {
	data := fmt.Sprintf("%s|%s", strings.ToLower(contractAddress), chainID)
	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}
