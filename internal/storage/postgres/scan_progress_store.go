package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"evm-token-lab/internal/domain"
	"evm-token-lab/internal/storage"
)

// ScanProgressStore is a PostgreSQL implementation of storage.ScanProgressStore.
// One row per chain in scan_progress.
type ScanProgressStore struct {
	pool *Pool
}

// NewScanProgressStore creates a new PostgreSQL scan progress store.
func NewScanProgressStore(pool *Pool) *ScanProgressStore {
	return &ScanProgressStore{pool: pool}
}

// GetProgress returns the checkpoint for chain.
func (s *ScanProgressStore) GetProgress(ctx context.Context, chain domain.ChainID) (*storage.ScanProgress, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT chain, block, updated_at
		FROM scan_progress
		WHERE chain = $1
	`, int64(chain))

	var (
		p       storage.ScanProgress
		chainID int64
		block   int64
	)
	if err := row.Scan(&chainID, &block, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	p.Chain = domain.ChainID(chainID)
	p.Block = uint64(block)
	return &p, nil
}

// SetProgress upserts the checkpoint for progress.Chain.
func (s *ScanProgressStore) SetProgress(ctx context.Context, progress *storage.ScanProgress) error {
	if progress == nil {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO scan_progress (chain, block, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (chain) DO UPDATE
		SET block = EXCLUDED.block,
		    updated_at = EXCLUDED.updated_at
	`, int64(progress.Chain), int64(progress.Block), progress.UpdatedAt)
	return err
}
