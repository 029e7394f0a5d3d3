package domain

// TokenMetadata represents ERC20 metadata read from chain.
// Corresponds to token_metadata table in PostgreSQL and ClickHouse.
//
// Component0/Component1 are set for pool-like tokens (e.g. Uniswap pair shares)
// and hold the lower-cased hex addresses of the underlying tokens.
type TokenMetadata struct {
	Chain      ChainID // PK part 1
	Address    string  // PK part 2, canonical lower-case hex
	Name       string
	Symbol     string
	Decimals   uint8
	Component0 *string // underlying token0 (nullable)
	Component1 *string // underlying token1 (nullable)
	FetchedAt  int64   // when metadata was fetched (ms)
}

// Key returns the chain-scoped address the record is stored under.
func (m *TokenMetadata) Key() TokenAddress {
	return TokenAddress{Chain: m.Chain, Hex: m.Address}
}

// IsComposite reports whether the token references underlying tokens.
func (m *TokenMetadata) IsComposite() bool {
	return m.Component0 != nil || m.Component1 != nil
}

// Components returns the non-nil component addresses on the record's chain.
func (m *TokenMetadata) Components() []TokenAddress {
	var out []TokenAddress
	for _, c := range []*string{m.Component0, m.Component1} {
		if c != nil && *c != "" {
			out = append(out, TokenAddress{Chain: m.Chain, Hex: *c})
		}
	}
	return out
}

// Clone returns a deep copy of the record.
func (m *TokenMetadata) Clone() *TokenMetadata {
	c := *m
	if m.Component0 != nil {
		v := *m.Component0
		c.Component0 = &v
	}
	if m.Component1 != nil {
		v := *m.Component1
		c.Component1 = &v
	}
	return &c
}
