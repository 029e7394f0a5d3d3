package storage

import (
	"context"

	"evm-token-lab/internal/domain"
)

// ScanProgress is the last block whose logs were fully processed on a chain.
type ScanProgress struct {
	Chain     domain.ChainID
	Block     uint64
	UpdatedAt int64 // unix ms
}

// ScanProgressStore persists log scan checkpoints so a restarted scan
// continues after the last completed window instead of starting over.
type ScanProgressStore interface {
	// GetProgress returns the checkpoint for chain.
	// Returns ErrNotFound if the chain was never scanned.
	GetProgress(ctx context.Context, chain domain.ChainID) (*ScanProgress, error)

	// SetProgress records a checkpoint, replacing any previous one for the chain.
	SetProgress(ctx context.Context, progress *ScanProgress) error
}
