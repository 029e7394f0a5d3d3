package domain

import "fmt"

// ChainID identifies an EVM chain (EIP-155 chain id).
type ChainID int64

// TokenAddress is a token contract address scoped to a chain.
// Hex is always the canonical lower-case 0x-prefixed form; construct values
// through address.Normalize.
type TokenAddress struct {
	Chain ChainID
	Hex   string
}

// String returns "<chain>:<hex>".
func (a TokenAddress) String() string {
	return fmt.Sprintf("%d:%s", a.Chain, a.Hex)
}
