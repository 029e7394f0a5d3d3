// Package chain reads token metadata from EVM chains over JSON-RPC.
package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"evm-token-lab/internal/domain"
	"evm-token-lab/internal/observability"
	"evm-token-lab/internal/retry"
)

// DefaultFetchTimeout bounds all contract reads for one address.
const DefaultFetchTimeout = 10 * time.Second

// ErrNotToken is returned when the address does not answer decimals().
var ErrNotToken = errors.New("not a token contract")

var errReverted = errors.New("execution reverted")

// MetadataFetcher reads the metadata of a single token from its chain.
type MetadataFetcher interface {
	Fetch(ctx context.Context, addr domain.TokenAddress) (*domain.TokenMetadata, error)
}

// FetcherOptions configures an EVMFetcher.
type FetcherOptions struct {
	Callers CallerSource
	Timeout time.Duration
	Retry   retry.Config

	// Limits caps contract calls per chain. Chains without an entry are unlimited.
	Limits map[domain.ChainID]RateLimit

	Logger  *zap.Logger
	Metrics *observability.Metrics
	Clock   func() time.Time
}

// RateLimit is a token bucket: PerSecond calls per second with Burst capacity.
type RateLimit struct {
	PerSecond float64
	Burst     int
}

// EVMFetcher implements MetadataFetcher with ERC20 and Uniswap pool reads.
type EVMFetcher struct {
	callers  CallerSource
	timeout  time.Duration
	retry    retry.Config
	limiters *xsync.Map[domain.ChainID, *rate.Limiter]
	logger   *zap.Logger
	metrics  *observability.Metrics
	clock    func() time.Time
}

var _ MetadataFetcher = (*EVMFetcher)(nil)

// NewEVMFetcher creates a fetcher. Callers is required.
func NewEVMFetcher(opts FetcherOptions) *EVMFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFetchTimeout
	}
	if opts.Retry.MaxRetries == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	limiters := xsync.NewMap[domain.ChainID, *rate.Limiter]()
	for id, l := range opts.Limits {
		if l.PerSecond <= 0 {
			continue
		}
		burst := l.Burst
		if burst <= 0 {
			burst = 1
		}
		limiters.Store(id, rate.NewLimiter(rate.Limit(l.PerSecond), burst))
	}

	return &EVMFetcher{
		callers:  opts.Callers,
		timeout:  opts.Timeout,
		retry:    opts.Retry,
		limiters: limiters,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		clock:    opts.Clock,
	}
}

// Fetch reads decimals, name, symbol and, for pools, token0/token1.
func (f *EVMFetcher) Fetch(ctx context.Context, addr domain.TokenAddress) (*domain.TokenMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	caller, err := f.callers.Caller(ctx, addr.Chain)
	if err != nil {
		return nil, err
	}
	c := contract{chain: addr.Chain, to: common.HexToAddress(addr.Hex), caller: caller}

	decimals, err := f.readDecimals(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("read decimals of %s: %w", addr, err)
	}
	name, err := f.readText(ctx, c, "name")
	if err != nil {
		return nil, fmt.Errorf("read name of %s: %w", addr, err)
	}
	symbol, err := f.readText(ctx, c, "symbol")
	if err != nil {
		return nil, fmt.Errorf("read symbol of %s: %w", addr, err)
	}
	c0, c1, err := f.readComponents(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("read components of %s: %w", addr, err)
	}

	return &domain.TokenMetadata{
		Chain:      addr.Chain,
		Address:    addr.Hex,
		Name:       name,
		Symbol:     symbol,
		Decimals:   decimals,
		Component0: c0,
		Component1: c1,
		FetchedAt:  f.clock().UnixMilli(),
	}, nil
}

type contract struct {
	chain  domain.ChainID
	to     common.Address
	caller ethereum.ContractCaller
}

func (f *EVMFetcher) readDecimals(ctx context.Context, c contract) (uint8, error) {
	raw, err := f.call(ctx, c, erc20ABI, "decimals")
	if errors.Is(err, errReverted) {
		return 0, fmt.Errorf("%w: %v", ErrNotToken, err)
	}
	if err != nil {
		return 0, err
	}
	if len(raw) == 0 {
		return 0, ErrNotToken
	}

	vals, err := erc20ABI.Unpack("decimals", raw)
	if err != nil {
		return 0, fmt.Errorf("%w: decode decimals: %v", ErrNotToken, err)
	}
	d, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%w: decimals has type %T", ErrNotToken, vals[0])
	}
	return d, nil
}

// readText reads name() or symbol(). Tokens that revert or return nothing get "".
func (f *EVMFetcher) readText(ctx context.Context, c contract, method string) (string, error) {
	raw, err := f.call(ctx, c, erc20ABI, method)
	if errors.Is(err, errReverted) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	switch {
	case len(raw) == 0:
		return "", nil
	case len(raw) == 32:
		vals, err := erc20Bytes32ABI.Unpack(method, raw)
		if err != nil {
			return "", nil
		}
		b, _ := vals[0].([32]byte)
		return string(bytes.TrimRight(b[:], "\x00")), nil
	}

	vals, err := erc20ABI.Unpack(method, raw)
	if err != nil {
		f.logger.Debug("undecodable token text",
			zap.String("method", method),
			zap.String("contract", c.to.Hex()),
			zap.Error(err))
		return "", nil
	}
	s, _ := vals[0].(string)
	return strings.TrimRight(s, "\x00"), nil
}

// readComponents probes token0/token1. Anything but two non-zero addresses means "not a pool".
func (f *EVMFetcher) readComponents(ctx context.Context, c contract) (*string, *string, error) {
	c0, err := f.readAddress(ctx, c, "token0")
	if err != nil || c0 == nil {
		return nil, nil, err
	}
	c1, err := f.readAddress(ctx, c, "token1")
	if err != nil || c1 == nil {
		return nil, nil, err
	}
	return c0, c1, nil
}

func (f *EVMFetcher) readAddress(ctx context.Context, c contract, method string) (*string, error) {
	raw, err := f.call(ctx, c, poolABI, method)
	if errors.Is(err, errReverted) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw) < 32 {
		return nil, nil
	}

	vals, err := poolABI.Unpack(method, raw)
	if err != nil {
		return nil, nil
	}
	a, ok := vals[0].(common.Address)
	if !ok || a == (common.Address{}) {
		return nil, nil
	}
	hex := strings.ToLower(a.Hex())
	return &hex, nil
}

// call performs one eth_call with rate limiting and retries. Reverts are not retried.
func (f *EVMFetcher) call(ctx context.Context, c contract, def abi.ABI, method string) ([]byte, error) {
	data, err := def.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	var out []byte
	err = retry.WithBackoff(ctx, f.retry, f.logger, method, func() error {
		if err := f.wait(ctx, c.chain); err != nil {
			return retry.Permanent(err)
		}

		start := time.Now()
		res, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &c.to, Data: data}, nil)
		f.metrics.RecordRPCLatency(method, time.Since(start).Seconds())

		switch {
		case err == nil:
			out = res
			return nil
		case isRevert(err):
			return retry.Permanent(fmt.Errorf("%s: %w", method, errReverted))
		case ctx.Err() != nil:
			return retry.Permanent(err)
		default:
			return err
		}
	})
	return out, err
}

func (f *EVMFetcher) wait(ctx context.Context, chain domain.ChainID) error {
	l, ok := f.limiters.Load(chain)
	if !ok {
		return nil
	}
	return l.Wait(ctx)
}

func isRevert(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}
