// Package logs turns decoded event logs into token metadata lookups.
package logs

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"evm-token-lab/internal/address"
	"evm-token-lab/internal/domain"
	"evm-token-lab/internal/tokens"
)

// CollectTokenAddresses returns the contracts that emitted token or pool events.
// Removed logs and unknown topics are ignored.
func CollectTokenAddresses(chain domain.ChainID, logs []types.Log) (address.Set, error) {
	set := address.NewSet()
	for i := range logs {
		l := &logs[i]
		if l.Removed || len(l.Topics) == 0 {
			continue
		}
		if !isTokenEvent(l) {
			continue
		}
		a, err := address.Normalize(chain, l.Address.Hex())
		if err != nil {
			return nil, fmt.Errorf("log %d in tx %s: %w", l.Index, l.TxHash.Hex(), err)
		}
		set.Add(a)
	}
	return set, nil
}

func isTokenEvent(l *types.Log) bool {
	topic := l.Topics[0]
	if _, ok := erc20Topics[topic]; ok {
		return len(l.Topics) == 3
	}
	_, ok := poolTopics[topic]
	return ok
}

// Resolver is the part of tokens.Resolver the processor needs.
type Resolver interface {
	Resolve(ctx context.Context, chain domain.ChainID, requested []domain.TokenAddress) (tokens.Result, error)
}

// Processor resolves metadata for every token referenced by a batch of logs.
type Processor struct {
	resolver Resolver
	logger   *zap.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(resolver Resolver, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{resolver: resolver, logger: logger}
}

// Process returns metadata for every token referenced by logs, including the
// components of referenced pools.
func (p *Processor) Process(ctx context.Context, chain domain.ChainID, logs []types.Log) (tokens.Result, error) {
	set, err := CollectTokenAddresses(chain, logs)
	if err != nil {
		return nil, err
	}
	if set.Len() == 0 {
		return tokens.Result{}, nil
	}

	res, err := p.resolver.Resolve(ctx, chain, set.Slice())
	if err != nil {
		return nil, fmt.Errorf("resolve tokens for %d logs: %w", len(logs), err)
	}

	p.logger.Debug("processed logs",
		zap.Int64("chain", int64(chain)),
		zap.Int("logs", len(logs)),
		zap.Int("referenced", set.Len()),
		zap.Int("resolved", len(res)))
	return res, nil
}

// ProcessRange pulls the recognized logs of [from, to] from src and processes them.
func (p *Processor) ProcessRange(ctx context.Context, chain domain.ChainID, src ethereum.LogFilterer, from, to uint64) (tokens.Result, error) {
	if to < from {
		return nil, fmt.Errorf("invalid block range %d-%d", from, to)
	}

	logs, err := src.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Topics:    [][]common.Hash{Topics()},
	})
	if err != nil {
		return nil, fmt.Errorf("filter logs %d-%d: %w", from, to, err)
	}

	p.logger.Info("fetched logs",
		zap.Int64("chain", int64(chain)),
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("logs", len(logs)))

	return p.Process(ctx, chain, logs)
}
