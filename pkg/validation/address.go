package validation

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"
	"github.com/ethereum/go-ethereum/common"
)

// ValidateBTCAddress validates a mainnet Bitcoin deposit address
func ValidateBTCAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}
	decoded, err := btcutil.DecodeAddress(addr, &chaincfg.MainNetParams)
	if err != nil {
		return fmt.Errorf("invalid bitcoin address: %w", err)
	}
	if !decoded.IsForNet(&chaincfg.MainNetParams) {
		return fmt.Errorf("bitcoin address %s is not a mainnet address", addr)
	}
	return nil
}

// ValidateETHAddress validates an Ethereum deposit address
func ValidateETHAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if !common.IsHexAddress(addr) {
		return fmt.Errorf("invalid ethereum address: %s", addr)
	}
	return nil
}

// NormalizeETHAddress converts an address to its checksummed form
func NormalizeETHAddress(addr string) string {
	return common.HexToAddress(addr).Hex()
}

// ValidateTxHash validates a transaction hash reported by the payment processor.
// Both chains use 32-byte hashes; Ethereum hashes carry a 0x prefix.
func ValidateTxHash(hash string) error {
	if hash == "" {
		return fmt.Errorf("tx hash cannot be empty")
	}

	// Remove 0x prefix if present
	normalized := strings.TrimPrefix(hash, "0x")
	normalized = strings.TrimPrefix(normalized, "0X")

	if len(normalized) != 64 {
		return fmt.Errorf("invalid tx hash length: expected 64 characters (without 0x), got %d", len(normalized))
	}

	if _, err := hex.DecodeString(normalized); err != nil {
		return fmt.Errorf("invalid hex tx hash: %w", err)
	}

	return nil
}

// NormalizeTxHash converts a hash to lowercase without 0x prefix
func NormalizeTxHash(hash string) string {
	hash = strings.TrimPrefix(hash, "0x")
	hash = strings.TrimPrefix(hash, "0X")
	return strings.ToLower(hash)
}

// ValidateAndNormalizeTxHash validates a hash and returns its normalized form
func ValidateAndNormalizeTxHash(hash string) (string, error) {
	if err := ValidateTxHash(hash); err != nil {
		return "", err
	}
	return NormalizeTxHash(hash), nil
}
