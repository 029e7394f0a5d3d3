package storage

import (
	"context"

	"evm-token-lab/internal/domain"
)

// TokenMetadataStore provides access to token_metadata storage.
//
// Implementations are all-or-nothing per call: Append either persists every
// record or none of them.
type TokenMetadataStore interface {
	// Lookup returns the stored records for addrs on chain.
	// Addresses with no record are absent from the result; a miss is not an error.
	Lookup(ctx context.Context, chain domain.ChainID, addrs []domain.TokenAddress) (map[domain.TokenAddress]*domain.TokenMetadata, error)

	// Append inserts records, overwriting any prior record with the same (chain, address).
	// An empty batch is a no-op. Returns ErrInvalidInput for nil or incomplete records.
	Append(ctx context.Context, records []*domain.TokenMetadata) error
}
