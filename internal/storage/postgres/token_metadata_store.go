package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"evm-token-lab/internal/domain"
	"evm-token-lab/internal/observability"
	"evm-token-lab/internal/storage"
)

// TokenMetadataStore implements storage.TokenMetadataStore using PostgreSQL.
type TokenMetadataStore struct {
	pool    *Pool
	metrics *observability.Metrics
}

// NewTokenMetadataStore creates a new TokenMetadataStore.
// metrics may be nil.
func NewTokenMetadataStore(pool *Pool, metrics *observability.Metrics) *TokenMetadataStore {
	return &TokenMetadataStore{pool: pool, metrics: metrics}
}

// Compile-time interface check.
var _ storage.TokenMetadataStore = (*TokenMetadataStore)(nil)

// Lookup retrieves the stored records for addrs on chain.
func (s *TokenMetadataStore) Lookup(ctx context.Context, chain domain.ChainID, addrs []domain.TokenAddress) (out map[domain.TokenAddress]*domain.TokenMetadata, err error) {
	out = make(map[domain.TokenAddress]*domain.TokenMetadata, len(addrs))
	hexes := storage.Hexes(chain, addrs)
	if len(hexes) == 0 {
		return out, nil
	}

	start := time.Now()
	defer func() { s.metrics.RecordDBQuery("postgres", "lookup", time.Since(start).Seconds(), err) }()

	query := `
		SELECT chain, address, name, symbol, decimals, component0, component1, fetched_at
		FROM token_metadata
		WHERE chain = $1 AND address = ANY($2)
	`

	rows, err := s.pool.Query(ctx, query, int64(chain), hexes)
	if err != nil {
		return nil, fmt.Errorf("query token metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanTokenMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token metadata: %w", err)
		}
		out[m.Key()] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token metadata rows: %w", err)
	}

	return out, nil
}

// Append upserts records in a single transaction.
func (s *TokenMetadataStore) Append(ctx context.Context, records []*domain.TokenMetadata) (err error) {
	if len(records) == 0 {
		return nil
	}
	if err := storage.ValidateRecords(records); err != nil {
		return err
	}

	start := time.Now()
	defer func() { s.metrics.RecordDBQuery("postgres", "append", time.Since(start).Seconds(), err) }()

	query := `
		INSERT INTO token_metadata (
			chain, address, name, symbol, decimals, component0, component1, fetched_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (chain, address) DO UPDATE SET
			name = EXCLUDED.name,
			symbol = EXCLUDED.symbol,
			decimals = EXCLUDED.decimals,
			component0 = EXCLUDED.component0,
			component1 = EXCLUDED.component1,
			fetched_at = EXCLUDED.fetched_at
	`

	batch := &pgx.Batch{}
	for _, m := range records {
		batch.Queue(query,
			int64(m.Chain),
			m.Address,
			m.Name,
			m.Symbol,
			int16(m.Decimals),
			m.Component0,
			m.Component1,
			m.FetchedAt,
		)
	}

	// BeginFunc rolls back on any returned error and commits otherwise.
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for i := range records {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("upsert token metadata %s: %w", records[i].Key(), err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("close batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append token metadata: %w", err)
	}
	return nil
}

// scanTokenMetadata scans a single row into TokenMetadata.
func scanTokenMetadata(row pgx.Row) (*domain.TokenMetadata, error) {
	var (
		m        domain.TokenMetadata
		chain    int64
		decimals int16
	)

	err := row.Scan(
		&chain,
		&m.Address,
		&m.Name,
		&m.Symbol,
		&decimals,
		&m.Component0,
		&m.Component1,
		&m.FetchedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Chain = domain.ChainID(chain)
	m.Decimals = uint8(decimals)
	return &m, nil
}
