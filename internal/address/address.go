// Package address normalizes and deduplicates chain-scoped token addresses.
package address

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"evm-token-lab/internal/domain"
)

// ErrMalformedAddress is returned when a string is not a 20-byte hex address.
var ErrMalformedAddress = errors.New("malformed address")

// Normalize converts raw into the canonical lower-case 0x form on chain.
func Normalize(chain domain.ChainID, raw string) (domain.TokenAddress, error) {
	s := strings.TrimSpace(raw)
	if !common.IsHexAddress(s) {
		return domain.TokenAddress{}, fmt.Errorf("%w: %q", ErrMalformedAddress, raw)
	}
	return domain.TokenAddress{
		Chain: chain,
		Hex:   strings.ToLower(common.HexToAddress(s).Hex()),
	}, nil
}

// MustNormalize is Normalize that panics on malformed input.
// Only for constants and tests.
func MustNormalize(chain domain.ChainID, raw string) domain.TokenAddress {
	a, err := Normalize(chain, raw)
	if err != nil {
		panic(err)
	}
	return a
}

// ParseList normalizes and deduplicates raw addresses.
// The first malformed entry fails the whole list.
func ParseList(chain domain.ChainID, raw []string) (Set, error) {
	set := make(Set, len(raw))
	for _, r := range raw {
		a, err := Normalize(chain, r)
		if err != nil {
			return nil, err
		}
		set.Add(a)
	}
	return set, nil
}

// Set is an unordered set of token addresses.
type Set map[domain.TokenAddress]struct{}

// NewSet builds a set from addrs.
func NewSet(addrs ...domain.TokenAddress) Set {
	s := make(Set, len(addrs))
	for _, a := range addrs {
		s.Add(a)
	}
	return s
}

// Add inserts a into the set.
func (s Set) Add(a domain.TokenAddress) {
	s[a] = struct{}{}
}

// Has reports whether a is in the set.
func (s Set) Has(a domain.TokenAddress) bool {
	_, ok := s[a]
	return ok
}

// Len returns the number of addresses.
func (s Set) Len() int {
	return len(s)
}

// Slice returns the addresses sorted by (chain, hex).
func (s Set) Slice() []domain.TokenAddress {
	out := make([]domain.TokenAddress, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sortAddresses(out)
	return out
}

// Hexes returns the sorted hex strings of the set.
func (s Set) Hexes() []string {
	addrs := s.Slice()
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex
	}
	return out
}

// Dedup removes duplicate addresses. Output is sorted.
func Dedup(addrs []domain.TokenAddress) []domain.TokenAddress {
	return NewSet(addrs...).Slice()
}

// Difference returns the members of requested that are not keys of found.
func Difference[V any](requested Set, found map[domain.TokenAddress]V) Set {
	out := make(Set)
	for a := range requested {
		if _, ok := found[a]; !ok {
			out.Add(a)
		}
	}
	return out
}

func sortAddresses(addrs []domain.TokenAddress) {
	sort.Slice(addrs, func(i, j int) bool {
		if addrs[i].Chain != addrs[j].Chain {
			return addrs[i].Chain < addrs[j].Chain
		}
		return addrs[i].Hex < addrs[j].Hex
	})
}
