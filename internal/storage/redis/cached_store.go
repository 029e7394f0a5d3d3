// Package redis provides a read-through Redis cache in front of a token metadata store.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"evm-token-lab/internal/domain"
	"evm-token-lab/internal/observability"
	"evm-token-lab/internal/storage"
)

// DefaultTTL bounds how long a cached record survives without a refresh.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "tokenmeta"

// CachedStore is a storage.TokenMetadataStore that serves Lookups from Redis
// and falls back to the backing store for misses.
//
// The backing store stays the source of truth: Append writes it first and only
// then refreshes Redis. Redis failures never fail a call.
type CachedStore struct {
	client  redis.UniversalClient
	backing storage.TokenMetadataStore
	ttl     time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics
}

// Compile-time interface check.
var _ storage.TokenMetadataStore = (*CachedStore)(nil)

// NewCachedStore wraps backing with a Redis cache. ttl <= 0 uses DefaultTTL.
func NewCachedStore(client redis.UniversalClient, backing storage.TokenMetadataStore, ttl time.Duration, logger *zap.Logger, metrics *observability.Metrics) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedStore{
		client:  client,
		backing: backing,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
	}
}

// cacheEntry is the JSON form stored under each key.
type cacheEntry struct {
	Name       string  `json:"name"`
	Symbol     string  `json:"symbol"`
	Decimals   uint8   `json:"decimals"`
	Component0 *string `json:"component0,omitempty"`
	Component1 *string `json:"component1,omitempty"`
	FetchedAt  int64   `json:"fetched_at"`
}

func cacheKey(a domain.TokenAddress) string {
	return fmt.Sprintf("%s:%d:%s", keyPrefix, a.Chain, a.Hex)
}

func encode(m *domain.TokenMetadata) ([]byte, error) {
	return json.Marshal(cacheEntry{
		Name:       m.Name,
		Symbol:     m.Symbol,
		Decimals:   m.Decimals,
		Component0: m.Component0,
		Component1: m.Component1,
		FetchedAt:  m.FetchedAt,
	})
}

func decode(a domain.TokenAddress, raw string) (*domain.TokenMetadata, error) {
	var e cacheEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, err
	}
	return &domain.TokenMetadata{
		Chain:      a.Chain,
		Address:    a.Hex,
		Name:       e.Name,
		Symbol:     e.Symbol,
		Decimals:   e.Decimals,
		Component0: e.Component0,
		Component1: e.Component1,
		FetchedAt:  e.FetchedAt,
	}, nil
}

// Lookup serves cached records from Redis and reads the rest from the backing store.
func (s *CachedStore) Lookup(ctx context.Context, chain domain.ChainID, addrs []domain.TokenAddress) (map[domain.TokenAddress]*domain.TokenMetadata, error) {
	var scoped []domain.TokenAddress
	for _, a := range addrs {
		if a.Chain == chain {
			scoped = append(scoped, a)
		}
	}

	out := make(map[domain.TokenAddress]*domain.TokenMetadata, len(scoped))
	if len(scoped) == 0 {
		return out, nil
	}

	misses := s.readCache(ctx, scoped, out)
	s.metrics.RecordCache(len(out), len(misses))
	if len(misses) == 0 {
		return out, nil
	}

	found, err := s.backing.Lookup(ctx, chain, misses)
	if err != nil {
		return nil, err
	}

	fill := make([]*domain.TokenMetadata, 0, len(found))
	for a, m := range found {
		out[a] = m
		fill = append(fill, m)
	}
	s.writeCache(ctx, fill)

	return out, nil
}

// Append persists records in the backing store, then refreshes the cache.
func (s *CachedStore) Append(ctx context.Context, records []*domain.TokenMetadata) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.backing.Append(ctx, records); err != nil {
		return err
	}
	s.writeCache(ctx, records)
	return nil
}

// readCache fills out with cached records and returns the addresses not cached.
func (s *CachedStore) readCache(ctx context.Context, addrs []domain.TokenAddress, out map[domain.TokenAddress]*domain.TokenMetadata) []domain.TokenAddress {
	keys := make([]string, len(addrs))
	for i, a := range addrs {
		keys[i] = cacheKey(a)
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		s.logger.Warn("redis mget failed, reading backing store", zap.Int("keys", len(keys)), zap.Error(err))
		return addrs
	}

	var misses []domain.TokenAddress
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			misses = append(misses, addrs[i])
			continue
		}
		m, err := decode(addrs[i], raw)
		if err != nil {
			s.logger.Warn("dropping undecodable cache entry", zap.String("key", keys[i]), zap.Error(err))
			misses = append(misses, addrs[i])
			continue
		}
		out[addrs[i]] = m
	}
	return misses
}

func (s *CachedStore) writeCache(ctx context.Context, records []*domain.TokenMetadata) {
	if len(records) == 0 {
		return
	}

	pipe := s.client.Pipeline()
	for _, m := range records {
		data, err := encode(m)
		if err != nil {
			s.logger.Warn("encode cache entry", zap.Stringer("token", m.Key()), zap.Error(err))
			continue
		}
		pipe.Set(ctx, cacheKey(m.Key()), data, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("redis cache write failed", zap.Int("records", len(records)), zap.Error(err))
	}
}
