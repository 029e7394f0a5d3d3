package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"evm-token-lab/internal/domain"
)

// ErrUnknownChain is returned when no RPC endpoint is configured for a chain.
var ErrUnknownChain = errors.New("unknown chain")

// CallerSource hands out a contract caller for a chain.
type CallerSource interface {
	Caller(ctx context.Context, chain domain.ChainID) (ethereum.ContractCaller, error)
}

// Registry dials one ethclient per chain on first use and reuses it afterwards.
type Registry struct {
	endpoints map[domain.ChainID]string
	clients   *xsync.Map[domain.ChainID, *ethclient.Client]
	logger    *zap.Logger
}

var _ CallerSource = (*Registry)(nil)

// NewRegistry creates a registry over chain ID -> RPC URL.
func NewRegistry(endpoints map[domain.ChainID]string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	eps := make(map[domain.ChainID]string, len(endpoints))
	for id, url := range endpoints {
		eps[id] = url
	}
	return &Registry{
		endpoints: eps,
		clients:   xsync.NewMap[domain.ChainID, *ethclient.Client](),
		logger:    logger,
	}
}

// Chains returns the configured chain IDs.
func (r *Registry) Chains() []domain.ChainID {
	out := make([]domain.ChainID, 0, len(r.endpoints))
	for id := range r.endpoints {
		out = append(out, id)
	}
	return out
}

// Caller returns the client for chain, dialing it if needed.
func (r *Registry) Caller(ctx context.Context, chain domain.ChainID) (ethereum.ContractCaller, error) {
	c, err := r.Client(ctx, chain)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// LogFilterer returns the client for chain as a log source.
func (r *Registry) LogFilterer(ctx context.Context, chain domain.ChainID) (ethereum.LogFilterer, error) {
	c, err := r.Client(ctx, chain)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Client returns the ethclient for chain, dialing it if needed.
func (r *Registry) Client(ctx context.Context, chain domain.ChainID) (*ethclient.Client, error) {
	if c, ok := r.clients.Load(chain); ok {
		return c, nil
	}

	url, ok := r.endpoints[chain]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChain, chain)
	}

	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial chain %d: %w", chain, err)
	}

	actual, loaded := r.clients.LoadOrStore(chain, c)
	if loaded {
		// Lost the race to another dialer.
		c.Close()
	} else {
		r.logger.Info("connected to chain rpc", zap.Int64("chain", int64(chain)))
	}
	return actual, nil
}

// Close closes every dialed client.
func (r *Registry) Close() {
	r.clients.Range(func(id domain.ChainID, c *ethclient.Client) bool {
		c.Close()
		r.clients.Delete(id)
		return true
	})
}
