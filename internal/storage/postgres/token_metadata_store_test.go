package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evm-token-lab/internal/domain"
	"evm-token-lab/internal/storage"
)

const (
	wethHex = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	usdcHex = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	pairHex = "0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc"
)

func TestTokenMetadataStore_AppendAndLookup(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTokenMetadataStore(pool, nil)

	records := []*domain.TokenMetadata{
		{Chain: 1, Address: wethHex, Name: "Wrapped Ether", Symbol: "WETH", Decimals: 18, FetchedAt: 1700000000000},
		{Chain: 1, Address: usdcHex, Name: "USD Coin", Symbol: "USDC", Decimals: 6, FetchedAt: 1700000000000},
		{
			Chain: 1, Address: pairHex, Name: "Uniswap V2", Symbol: "UNI-V2", Decimals: 18,
			Component0: ptr(usdcHex), Component1: ptr(wethHex), FetchedAt: 1700000000000,
		},
	}

	err := store.Append(ctx, records)
	require.NoError(t, err)

	got, err := store.Lookup(ctx, 1, []domain.TokenAddress{
		addr(1, wethHex), addr(1, pairHex), addr(1, "0x0000000000000000000000000000000000000001"),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	weth := got[addr(1, wethHex)]
	require.NotNil(t, weth)
	assert.Equal(t, "WETH", weth.Symbol)
	assert.Equal(t, uint8(18), weth.Decimals)
	assert.Nil(t, weth.Component0)
	assert.Nil(t, weth.Component1)

	pair := got[addr(1, pairHex)]
	require.NotNil(t, pair)
	require.NotNil(t, pair.Component0)
	require.NotNil(t, pair.Component1)
	assert.Equal(t, usdcHex, *pair.Component0)
	assert.Equal(t, wethHex, *pair.Component1)
	assert.Equal(t, int64(1700000000000), pair.FetchedAt)
}

func TestTokenMetadataStore_AppendOverwrites(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTokenMetadataStore(pool, nil)

	require.NoError(t, store.Append(ctx, []*domain.TokenMetadata{
		{Chain: 1, Address: wethHex, Symbol: "OLD", Decimals: 18, FetchedAt: 1},
	}))
	require.NoError(t, store.Append(ctx, []*domain.TokenMetadata{
		{Chain: 1, Address: wethHex, Symbol: "WETH", Decimals: 18, FetchedAt: 2},
	}))

	got, err := store.Lookup(ctx, 1, []domain.TokenAddress{addr(1, wethHex)})
	require.NoError(t, err)
	assert.Equal(t, "WETH", got[addr(1, wethHex)].Symbol)
	assert.Equal(t, int64(2), got[addr(1, wethHex)].FetchedAt)
}

func TestTokenMetadataStore_LookupChainScoped(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTokenMetadataStore(pool, nil)

	require.NoError(t, store.Append(ctx, []*domain.TokenMetadata{
		{Chain: 1, Address: usdcHex, Symbol: "USDC", Decimals: 6, FetchedAt: 1},
	}))

	got, err := store.Lookup(ctx, 137, []domain.TokenAddress{addr(137, usdcHex)})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTokenMetadataStore_EmptyInputs(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTokenMetadataStore(pool, nil)

	assert.NoError(t, store.Append(ctx, nil))

	got, err := store.Lookup(ctx, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTokenMetadataStore_InvalidBatchRejected(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTokenMetadataStore(pool, nil)

	err := store.Append(ctx, []*domain.TokenMetadata{
		{Chain: 1, Address: wethHex, Decimals: 18},
		nil,
	})
	assert.True(t, errors.Is(err, storage.ErrInvalidInput))

	got, err := store.Lookup(ctx, 1, []domain.TokenAddress{addr(1, wethHex)})
	require.NoError(t, err)
	assert.Empty(t, got, "rejected batch must not be partially written")
}

func TestTokenMetadataStore_AppendRollsBackOnDatabaseError(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTokenMetadataStore(pool, nil)

	// Postgres text columns reject NUL bytes, failing the second statement.
	err := store.Append(ctx, []*domain.TokenMetadata{
		{Chain: 1, Address: wethHex, Symbol: "WETH", Decimals: 18, FetchedAt: 1},
		{Chain: 1, Address: usdcHex, Symbol: "US\x00DC", Decimals: 6, FetchedAt: 1},
	})
	require.Error(t, err)

	got, err := store.Lookup(ctx, 1, []domain.TokenAddress{addr(1, wethHex), addr(1, usdcHex)})
	require.NoError(t, err)
	assert.Empty(t, got, "first record must be rolled back with the failed one")
}
