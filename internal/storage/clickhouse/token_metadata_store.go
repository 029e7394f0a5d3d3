package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"evm-token-lab/internal/domain"
	"evm-token-lab/internal/observability"
	"evm-token-lab/internal/storage"
)

// TokenMetadataStore implements storage.TokenMetadataStore using ClickHouse.
// The table is a ReplacingMergeTree keyed by (chain, address), so Append
// overwrites by inserting a newer row and Lookup reads with FINAL.
type TokenMetadataStore struct {
	conn    *Conn
	metrics *observability.Metrics
}

// NewTokenMetadataStore creates a new TokenMetadataStore.
// metrics may be nil.
func NewTokenMetadataStore(conn *Conn, metrics *observability.Metrics) *TokenMetadataStore {
	return &TokenMetadataStore{conn: conn, metrics: metrics}
}

// Compile-time interface check.
var _ storage.TokenMetadataStore = (*TokenMetadataStore)(nil)

// Lookup retrieves the latest record for each of addrs on chain.
func (s *TokenMetadataStore) Lookup(ctx context.Context, chain domain.ChainID, addrs []domain.TokenAddress) (out map[domain.TokenAddress]*domain.TokenMetadata, err error) {
	out = make(map[domain.TokenAddress]*domain.TokenMetadata, len(addrs))
	hexes := storage.Hexes(chain, addrs)
	if len(hexes) == 0 {
		return out, nil
	}

	start := time.Now()
	defer func() { s.metrics.RecordDBQuery("clickhouse", "lookup", time.Since(start).Seconds(), err) }()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(hexes)), ", ")
	query := fmt.Sprintf(`
		SELECT chain, address, name, symbol, decimals, component0, component1, fetched_at
		FROM token_metadata FINAL
		WHERE chain = ? AND address IN (%s)
	`, placeholders)

	args := make([]any, 0, len(hexes)+1)
	args = append(args, uint64(chain))
	for _, h := range hexes {
		args = append(args, h)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query token metadata: %w", err)
	}
	defer rows.Close()

	records, err := scanTokenMetadata(rows)
	if err != nil {
		return nil, err
	}
	for _, m := range records {
		out[m.Key()] = m
	}
	return out, nil
}

// Append inserts records as one native batch. A batch is sent as a single
// insert block, so either every row lands or none does.
func (s *TokenMetadataStore) Append(ctx context.Context, records []*domain.TokenMetadata) (err error) {
	if len(records) == 0 {
		return nil
	}
	if err := storage.ValidateRecords(records); err != nil {
		return err
	}

	start := time.Now()
	defer func() { s.metrics.RecordDBQuery("clickhouse", "append", time.Since(start).Seconds(), err) }()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO token_metadata (
			chain, address, name, symbol, decimals, component0, component1, fetched_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, m := range records {
		err = batch.Append(
			uint64(m.Chain), m.Address, m.Name, m.Symbol, m.Decimals,
			m.Component0, m.Component1, uint64(m.FetchedAt),
		)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// chRows is the subset of driver.Rows the scanner reads.
type chRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// scanTokenMetadata scans multiple rows.
func scanTokenMetadata(rows chRows) ([]*domain.TokenMetadata, error) {
	var records []*domain.TokenMetadata

	for rows.Next() {
		var m domain.TokenMetadata
		var chain, fetchedAt uint64

		err := rows.Scan(
			&chain, &m.Address, &m.Name, &m.Symbol, &m.Decimals,
			&m.Component0, &m.Component1, &fetchedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan token metadata row: %w", err)
		}

		m.Chain = domain.ChainID(chain)
		m.FetchedAt = int64(fetchedAt)
		records = append(records, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token metadata rows: %w", err)
	}

	return records, nil
}
