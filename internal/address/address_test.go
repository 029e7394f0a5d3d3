package address

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evm-token-lab/internal/domain"
)

const (
	weth = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	usdc = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"checksummed", weth, "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"},
		{"lowercase", "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"},
		{"no prefix", "c02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"},
		{"whitespace", "  " + weth + "\n", "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(1, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, domain.ChainID(1), got.Chain)
			assert.Equal(t, tt.want, got.Hex)
		})
	}
}

func TestNormalize_Malformed(t *testing.T) {
	for _, raw := range []string{"", "0x", "0x1234", "not-an-address", weth + "00"} {
		_, err := Normalize(1, raw)
		assert.True(t, errors.Is(err, ErrMalformedAddress), "expected ErrMalformedAddress for %q, got %v", raw, err)
	}
}

func TestNormalize_ChainScoped(t *testing.T) {
	a := MustNormalize(1, weth)
	b := MustNormalize(10, weth)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a.Hex, b.Hex)
}

func TestParseList_Dedups(t *testing.T) {
	set, err := ParseList(1, []string{weth, "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", usdc})
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Has(MustNormalize(1, usdc)))
}

func TestParseList_FailsOnMalformed(t *testing.T) {
	_, err := ParseList(1, []string{weth, "bogus"})
	assert.ErrorIs(t, err, ErrMalformedAddress)
}

func TestDifference(t *testing.T) {
	a := MustNormalize(1, weth)
	b := MustNormalize(1, usdc)
	requested := NewSet(a, b)

	found := map[domain.TokenAddress]*domain.TokenMetadata{
		a: {Chain: 1, Address: a.Hex},
	}

	missing := Difference(requested, found)
	assert.Equal(t, 1, missing.Len())
	assert.True(t, missing.Has(b))

	// Requested set is untouched.
	assert.Equal(t, 2, requested.Len())
}

func TestDedupAndSlice_Sorted(t *testing.T) {
	a := MustNormalize(1, weth)
	b := MustNormalize(1, usdc)
	c := MustNormalize(2, usdc)

	got := Dedup([]domain.TokenAddress{c, a, b, a})
	assert.Equal(t, []domain.TokenAddress{b, a, c}, got)
	assert.Equal(t, []string{b.Hex, a.Hex}, NewSet(a, b).Hexes())
}
