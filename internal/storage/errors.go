package storage

import (
	"errors"
	"fmt"

	"evm-token-lab/internal/domain"
)

// Storage errors shared by all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// ValidateRecords checks that every record is non-nil and keyed.
func ValidateRecords(records []*domain.TokenMetadata) error {
	for i, r := range records {
		if r == nil {
			return fmt.Errorf("%w: record %d is nil", ErrInvalidInput, i)
		}
		if r.Address == "" {
			return fmt.Errorf("%w: record %d has empty address", ErrInvalidInput, i)
		}
	}
	return nil
}

// Hexes returns the hex part of addrs that belong to chain.
func Hexes(chain domain.ChainID, addrs []domain.TokenAddress) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.Chain == chain {
			out = append(out, a.Hex)
		}
	}
	return out
}
