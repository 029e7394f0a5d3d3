package memory

import (
	"context"
	"sync"

	"evm-token-lab/internal/domain"
	"evm-token-lab/internal/storage"
)

// ScanProgressStore is an in-memory implementation of storage.ScanProgressStore.
type ScanProgressStore struct {
	mu       sync.RWMutex
	progress map[domain.ChainID]storage.ScanProgress
}

// NewScanProgressStore creates an empty store.
func NewScanProgressStore() *ScanProgressStore {
	return &ScanProgressStore{progress: make(map[domain.ChainID]storage.ScanProgress)}
}

// GetProgress returns the checkpoint for chain.
func (s *ScanProgressStore) GetProgress(_ context.Context, chain domain.ChainID) (*storage.ScanProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.progress[chain]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

// SetProgress records a checkpoint.
func (s *ScanProgressStore) SetProgress(_ context.Context, progress *storage.ScanProgress) error {
	if progress == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.progress[progress.Chain] = *progress
	return nil
}
