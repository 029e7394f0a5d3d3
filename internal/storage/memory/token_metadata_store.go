package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"evm-token-lab/internal/domain"
	"evm-token-lab/internal/storage"
)

// TokenMetadataStore is an in-memory implementation of storage.TokenMetadataStore.
type TokenMetadataStore struct {
	mu      sync.RWMutex
	records map[domain.TokenAddress]*domain.TokenMetadata

	lookups atomic.Int64
	appends atomic.Int64
}

// NewTokenMetadataStore creates a new in-memory token metadata store.
func NewTokenMetadataStore() *TokenMetadataStore {
	return &TokenMetadataStore{
		records: make(map[domain.TokenAddress]*domain.TokenMetadata),
	}
}

// Lookup returns copies of the stored records for addrs on chain.
func (s *TokenMetadataStore) Lookup(_ context.Context, chain domain.ChainID, addrs []domain.TokenAddress) (map[domain.TokenAddress]*domain.TokenMetadata, error) {
	s.lookups.Add(1)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[domain.TokenAddress]*domain.TokenMetadata, len(addrs))
	for _, a := range addrs {
		if a.Chain != chain {
			continue
		}
		if m, ok := s.records[a]; ok {
			out[a] = m.Clone()
		}
	}
	return out, nil
}

// Append stores copies of records, overwriting existing keys.
// Validation happens before any write so a bad batch leaves the store untouched.
func (s *TokenMetadataStore) Append(_ context.Context, records []*domain.TokenMetadata) error {
	if len(records) == 0 {
		return nil
	}
	if err := storage.ValidateRecords(records); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.appends.Add(1)
	for _, r := range records {
		s.records[r.Key()] = r.Clone()
	}
	return nil
}

// Len returns the number of stored records.
func (s *TokenMetadataStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Calls returns how many Lookup and non-empty Append calls were served.
func (s *TokenMetadataStore) Calls() (lookups, appends int) {
	return int(s.lookups.Load()), int(s.appends.Load())
}

var _ storage.TokenMetadataStore = (*TokenMetadataStore)(nil)
