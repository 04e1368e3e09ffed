package validation

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ValidateAddress validates an EVM address format (0x followed by 40 hex characters)
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return fmt.Errorf("address must start with 0x")
	}
	normalized := addr[2:]

	// 40 hex characters = 20 bytes
	if len(normalized) != 40 {
		return fmt.Errorf("invalid address length: expected 40 characters (without 0x), got %d", len(normalized))
	}

	if _, err := hex.DecodeString(normalized); err != nil {
		return fmt.Errorf("invalid hex address: %w", err)
	}

	return nil
}

// NormalizeAddress lowercases an address and its 0x prefix.
// Every address stored or compared by the indexer goes through here.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ValidateAndNormalizeAddress validates an address and returns its normalized form
func ValidateAndNormalizeAddress(addr string) (string, error) {
	if err := ValidateAddress(addr); err != nil {
		return "", err
	}
	return NormalizeAddress(addr), nil
}
