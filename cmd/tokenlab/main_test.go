package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"evm-token-lab/internal/chain"
	"evm-token-lab/internal/config"
	"evm-token-lab/internal/domain"
	"evm-token-lab/internal/storage/memory"
)

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"0xa", "0xb"}, splitList(" 0xa, ,0xb,"))
	assert.Nil(t, splitList(""))
}

func TestRateLimits(t *testing.T) {
	cfg := config.Default()
	cfg.Chains = []config.ChainConfig{
		{ID: 1, RPCURL: "https://eth.example", RateLimit: 20, Burst: 4},
		{ID: 56, RPCURL: "https://bsc.example"},
	}

	got := rateLimits(cfg)
	assert.Equal(t, chain.RateLimit{PerSecond: 20, Burst: 4}, got[domain.ChainID(1)])
	assert.Equal(t, chain.RateLimit{}, got[domain.ChainID(56)])
}

func TestRetryConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Resolver.MaxRetries = 5
	assert.Equal(t, 5, retryConfig(cfg).MaxRetries)

	cfg.Resolver.MaxRetries = 0
	assert.Equal(t, 3, retryConfig(cfg).MaxRetries)
}

func TestCreateStores_Memory(t *testing.T) {
	st, err := createStores(context.Background(), config.Default(), zap.NewNop(), nil)
	require.NoError(t, err)
	defer st.Close()
	assert.IsType(t, &memory.TokenMetadataStore{}, st.metadata)
	assert.IsType(t, &memory.ScanProgressStore{}, st.progress)
}

func TestCreateStores_UnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = "sqlite"
	_, err := createStores(context.Background(), cfg, zap.NewNop(), nil)
	assert.Error(t, err)
}

func TestStoresCloseOrder(t *testing.T) {
	var order []int
	st := &stores{closers: []func(){
		func() { order = append(order, 1) },
		func() { order = append(order, 2) },
	}}
	st.Close()
	assert.Equal(t, []int{2, 1}, order)
}

func TestMigrate_MemoryIsNoop(t *testing.T) {
	assert.NoError(t, migrate(context.Background(), config.Default(), zap.NewNop()))
}
