package tokens

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"evm-token-lab/internal/domain"
)

// ErrNotResolved marks an address that neither the store nor the fetcher produced a record for.
var ErrNotResolved = errors.New("token not resolved")

// errFetchNotRun marks an address whose fetch task was never started.
var errFetchNotRun = errors.New("fetch not run")

// FetchError is a failed chain read for one address.
type FetchError struct {
	Address domain.TokenAddress
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Address, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FetchFailure aggregates the fetch errors of one resolution pass.
type FetchFailure struct {
	Errors []*FetchError
}

func (e *FetchFailure) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Error()
	}
	return fmt.Sprintf("fetch failed for %d token(s): %s", len(e.Errors), strings.Join(parts, "; "))
}

// Addresses lists the addresses whose fetch failed.
func (e *FetchFailure) Addresses() []domain.TokenAddress {
	out := make([]domain.TokenAddress, len(e.Errors))
	for i, fe := range e.Errors {
		out[i] = fe.Address
	}
	return out
}

func (e *FetchFailure) Unwrap() []error {
	out := make([]error, len(e.Errors))
	for i, fe := range e.Errors {
		out[i] = fe
	}
	return out
}

// StoreError wraps a metadata store failure. Op is "lookup" or "append".
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IncompleteResolutionError names requested addresses left without metadata.
type IncompleteResolutionError struct {
	Missing []domain.TokenAddress
}

func (e *IncompleteResolutionError) Error() string {
	parts := make([]string, len(e.Missing))
	for i, a := range e.Missing {
		parts[i] = a.String()
	}
	return fmt.Sprintf("incomplete resolution: %d token(s) missing: %s", len(e.Missing), strings.Join(parts, ", "))
}

func (e *IncompleteResolutionError) Is(target error) bool {
	return target == ErrNotResolved
}

// errorKind labels err for metrics.
func errorKind(err error) string {
	var (
		fetchFailure *FetchFailure
		storeErr     *StoreError
		incomplete   *IncompleteResolutionError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &fetchFailure):
		return "fetch"
	case errors.As(err, &storeErr):
		return "store"
	case errors.As(err, &incomplete):
		return "incomplete"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "invalid"
	}
}
