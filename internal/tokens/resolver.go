// Package tokens resolves token addresses to metadata, reading the store first,
// fetching the gaps from chain and persisting what it learns.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"evm-token-lab/internal/address"
	"evm-token-lab/internal/chain"
	"evm-token-lab/internal/domain"
	"evm-token-lab/internal/observability"
	"evm-token-lab/internal/storage"
)

// MaxResolutionDepth is the number of resolution passes: the requested tokens,
// then their direct components. Components of components are never followed,
// so pools referencing each other cannot loop.
const MaxResolutionDepth = 2

// DefaultWorkers bounds concurrent fetches across all calls of one Resolver.
const DefaultWorkers = 16

// Result maps every resolved address to its metadata.
type Result map[domain.TokenAddress]*domain.TokenMetadata

// Sorted returns the records ordered by chain and address.
func (r Result) Sorted() []*domain.TokenMetadata {
	out := make([]*domain.TokenMetadata, 0, len(r))
	for _, m := range r {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Chain != out[j].Chain {
			return out[i].Chain < out[j].Chain
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// Outcome is the result of ResolvePartial.
type Outcome struct {
	Resolved Result
	Failed   map[domain.TokenAddress]error
}

// Complete reports whether nothing failed.
func (o *Outcome) Complete() bool {
	return len(o.Failed) == 0
}

// Options configures a Resolver.
type Options struct {
	Store   storage.TokenMetadataStore
	Fetcher chain.MetadataFetcher
	Logger  *zap.Logger

	// Workers bounds concurrent fetches. Defaults to DefaultWorkers.
	Workers int
	// FetchTimeout bounds one fetch. Defaults to chain.DefaultFetchTimeout.
	FetchTimeout time.Duration

	Metrics *observability.Metrics
}

// Resolver turns address sets into complete metadata mappings.
// It is safe for concurrent use and keeps no state between calls
// apart from fetches currently in flight.
type Resolver struct {
	store        storage.TokenMetadataStore
	fetcher      chain.MetadataFetcher
	logger       *zap.Logger
	pool         pond.Pool
	fetchTimeout time.Duration
	metrics      *observability.Metrics
	inflight     singleflight.Group
}

// NewResolver creates a Resolver. Store and Fetcher are required.
func NewResolver(opts Options) (*Resolver, error) {
	if opts.Store == nil {
		return nil, errors.New("tokens: store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("tokens: fetcher is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = chain.DefaultFetchTimeout
	}

	return &Resolver{
		store:        opts.Store,
		fetcher:      opts.Fetcher,
		logger:       opts.Logger,
		pool:         pond.NewPool(opts.Workers),
		fetchTimeout: opts.FetchTimeout,
		metrics:      opts.Metrics,
	}, nil
}

// Close stops the fetch pool after running tasks finish.
func (r *Resolver) Close() {
	r.pool.StopAndWait()
}

// Resolve returns metadata for every requested address and their direct components.
//
// It is all-or-nothing: any fetch error fails the call with *FetchFailure and
// nothing from that pass is appended to the store. Store failures return
// *StoreError, and an address left without metadata returns
// *IncompleteResolutionError.
func (r *Resolver) Resolve(ctx context.Context, chainID domain.ChainID, requested []domain.TokenAddress) (Result, error) {
	start := time.Now()
	out, err := r.resolve(ctx, chainID, requested, true)
	r.metrics.RecordResolve("strict", time.Since(start).Seconds(), errorKind(err))
	if err != nil {
		return nil, err
	}
	return out.Resolved, nil
}

// ResolvePartial is Resolve without the all-or-nothing rule: fetch errors are
// reported per address in Outcome.Failed, and successful fetches are still
// persisted. Store errors and cancellation remain fatal.
func (r *Resolver) ResolvePartial(ctx context.Context, chainID domain.ChainID, requested []domain.TokenAddress) (*Outcome, error) {
	start := time.Now()
	out, err := r.resolve(ctx, chainID, requested, false)
	kind := errorKind(err)
	if err == nil && !out.Complete() {
		kind = "partial"
	}
	r.metrics.RecordResolve("partial", time.Since(start).Seconds(), kind)
	return out, err
}

func (r *Resolver) resolve(ctx context.Context, chainID domain.ChainID, requested []domain.TokenAddress, strict bool) (*Outcome, error) {
	pending, err := requestSet(chainID, requested)
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		Resolved: make(Result, pending.Len()),
		Failed:   make(map[domain.TokenAddress]error),
	}

	for depth := 1; depth <= MaxResolutionDepth && pending.Len() > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, err := r.pass(ctx, chainID, pending, depth, strict)
		if err != nil {
			return nil, err
		}

		// Earlier passes win.
		for a, m := range p.found {
			if _, ok := out.Resolved[a]; !ok {
				out.Resolved[a] = m
			}
		}
		for a, ferr := range p.failed {
			out.Failed[a] = ferr
		}

		missing := address.Difference(pending, p.found)
		for a := range p.failed {
			delete(missing, a)
		}
		if missing.Len() > 0 {
			if strict {
				return nil, &IncompleteResolutionError{Missing: missing.Slice()}
			}
			for a := range missing {
				out.Failed[a] = ErrNotResolved
			}
		}

		if depth == MaxResolutionDepth {
			break
		}
		pending = r.underlying(chainID, p.found, out)
		r.metrics.RecordUnderlying(strconv.FormatInt(int64(chainID), 10), pending.Len())
	}

	return out, nil
}

// requestSet validates and deduplicates the requested addresses.
func requestSet(chainID domain.ChainID, requested []domain.TokenAddress) (address.Set, error) {
	set := address.NewSet()
	for _, a := range requested {
		if a.Chain != chainID {
			return nil, fmt.Errorf("%w: %s is not on chain %d", storage.ErrInvalidInput, a, chainID)
		}
		n, err := address.Normalize(chainID, a.Hex)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", storage.ErrInvalidInput, err)
		}
		set.Add(n)
	}
	return set, nil
}

// underlying collects the components of records that are not resolved or failed yet.
func (r *Resolver) underlying(chainID domain.ChainID, records Result, out *Outcome) address.Set {
	next := address.NewSet()
	for _, m := range records {
		for _, c := range m.Components() {
			n, err := address.Normalize(chainID, c.Hex)
			if err != nil {
				r.logger.Warn("skipping malformed component",
					zap.Stringer("token", m.Key()),
					zap.String("component", c.Hex),
					zap.Error(err))
				continue
			}
			if _, ok := out.Resolved[n]; ok {
				continue
			}
			if _, ok := out.Failed[n]; ok {
				continue
			}
			next.Add(n)
		}
	}
	return next
}

type passResult struct {
	found  Result
	failed map[domain.TokenAddress]error
}

// pass runs lookup, fetch and write-back for one address set.
func (r *Resolver) pass(ctx context.Context, chainID domain.ChainID, want address.Set, depth int, strict bool) (*passResult, error) {
	label := passLabel(depth)
	keys := want.Slice()

	stored, err := r.store.Lookup(ctx, chainID, keys)
	if err != nil {
		return nil, &StoreError{Op: "lookup", Err: err}
	}

	res := &passResult{
		found:  make(Result, len(keys)),
		failed: make(map[domain.TokenAddress]error),
	}
	for _, a := range keys {
		if m, ok := stored[a]; ok && m != nil {
			res.found[a] = m
		}
	}

	missing := address.Difference(want, res.found).Slice()
	r.metrics.RecordStoreLookup(label, len(res.found), len(missing))
	r.logger.Debug("resolution pass",
		zap.String("pass", label),
		zap.Int64("chain", int64(chainID)),
		zap.Int("requested", len(keys)),
		zap.Int("found", len(res.found)),
		zap.Int("missing", len(missing)))

	if len(missing) == 0 {
		return res, nil
	}

	fetched, fetchErrs, err := r.fetchAll(ctx, missing)
	if err != nil {
		return nil, err
	}
	if strict && len(fetchErrs) > 0 {
		return nil, &FetchFailure{Errors: fetchErrs}
	}
	for _, fe := range fetchErrs {
		res.failed[fe.Address] = fe
	}

	if len(fetched) == 0 {
		return res, nil
	}

	records := make([]*domain.TokenMetadata, 0, len(fetched))
	for _, a := range missing {
		if m, ok := fetched[a]; ok {
			records = append(records, m)
		}
	}
	if err := r.store.Append(ctx, records); err != nil {
		return nil, &StoreError{Op: "append", Err: err}
	}
	for a, m := range fetched {
		res.found[a] = m
	}

	return res, nil
}

// fetchAll fetches addrs concurrently and waits for all of them.
// A cancelled ctx returns ctx.Err() and no results. An address whose task never
// ran (stopped pool, group cancelled) fails with the group's error.
func (r *Resolver) fetchAll(ctx context.Context, addrs []domain.TokenAddress) (Result, []*FetchError, error) {
	records := make([]*domain.TokenMetadata, len(addrs))
	errs := make([]error, len(addrs))
	ran := make([]bool, len(addrs))

	group := r.pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for i, a := range addrs {
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			records[i], errs[i] = r.fetchOne(groupCtx, a)
			ran[i] = true
		})
	}

	waitErr := group.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if waitErr != nil {
		r.logger.Warn("fetch group failed", zap.Error(waitErr))
	}
	for i := range addrs {
		if ran[i] {
			continue
		}
		errs[i] = waitErr
		if errs[i] == nil {
			errs[i] = context.Cause(groupCtx)
		}
		if errs[i] == nil {
			errs[i] = errFetchNotRun
		}
	}

	fetched := make(Result, len(addrs))
	var fetchErrs []*FetchError
	for i, a := range addrs {
		switch {
		case errs[i] != nil:
			r.logger.Warn("token fetch failed",
				zap.Stringer("token", a),
				zap.Error(errs[i]))
			fetchErrs = append(fetchErrs, &FetchError{Address: a, Err: errs[i]})
		case records[i] != nil:
			fetched[a] = records[i]
		}
	}
	return fetched, fetchErrs, nil
}

// fetchOne fetches a single address. Concurrent calls for the same address share
// one fetcher call, which runs under its own timeout so one caller giving up does
// not fail the others.
func (r *Resolver) fetchOne(ctx context.Context, a domain.TokenAddress) (*domain.TokenMetadata, error) {
	ch := r.inflight.DoChan(a.String(), func() (v any, err error) {
		// DoChan re-panics on its own goroutine, out of reach of any caller.
		defer func() {
			if p := recover(); p != nil {
				v, err = nil, fmt.Errorf("fetch panicked: %v", p)
				r.metrics.RecordFetch(err)
			}
		}()

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.fetchTimeout)
		defer cancel()
		m, err := r.fetcher.Fetch(fctx, a)
		r.metrics.RecordFetch(err)
		return m, err
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		m, _ := res.Val.(*domain.TokenMetadata)
		if m == nil {
			return nil, nil
		}
		// Shared callers each get their own copy, keyed by the address they asked for.
		m = m.Clone()
		m.Chain = a.Chain
		m.Address = a.Hex
		return m, nil
	}
}

func passLabel(depth int) string {
	if depth == 1 {
		return "requested"
	}
	return "underlying"
}
