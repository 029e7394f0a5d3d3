package logs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"go.uber.org/zap"

	"evm-token-lab/internal/domain"
	"evm-token-lab/internal/storage"
	"evm-token-lab/internal/tokens"
)

// DefaultBlockWindow is used when a Scanner is built with a zero window.
const DefaultBlockWindow uint64 = 2000

// Scanner walks a block range in fixed windows and checkpoints each
// completed window, so an interrupted scan can resume where it stopped.
type Scanner struct {
	processor *Processor
	progress  storage.ScanProgressStore
	window    uint64
	logger    *zap.Logger
	now       func() time.Time
}

// NewScanner creates a Scanner.
func NewScanner(processor *Processor, progress storage.ScanProgressStore, window uint64, logger *zap.Logger) *Scanner {
	if window == 0 {
		window = DefaultBlockWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		processor: processor,
		progress:  progress,
		window:    window,
		logger:    logger,
		now:       time.Now,
	}
}

// Scan processes [from, to]. With resume set, blocks up to the stored
// checkpoint for chain are skipped. A window's checkpoint is written only
// after every token it references has been resolved and stored.
func (s *Scanner) Scan(ctx context.Context, chain domain.ChainID, src ethereum.LogFilterer, from, to uint64, resume bool) (tokens.Result, error) {
	if to < from {
		return nil, fmt.Errorf("invalid block range %d-%d", from, to)
	}

	if resume {
		p, err := s.progress.GetProgress(ctx, chain)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("load scan progress: %w", err)
		case p.Block >= from:
			s.logger.Info("resuming log scan",
				zap.Int64("chain", int64(chain)),
				zap.Uint64("checkpoint", p.Block))
			from = p.Block + 1
		}
	}

	out := tokens.Result{}
	for start := from; start <= to; {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		end := to
		if to-start >= s.window {
			end = start + s.window - 1
		}

		res, err := s.processor.ProcessRange(ctx, chain, src, start, end)
		if err != nil {
			return out, err
		}
		for a, m := range res {
			out[a] = m
		}

		err = s.progress.SetProgress(ctx, &storage.ScanProgress{
			Chain:     chain,
			Block:     end,
			UpdatedAt: s.now().UnixMilli(),
		})
		if err != nil {
			return out, fmt.Errorf("save scan progress at block %d: %w", end, err)
		}

		if end == to {
			break
		}
		start = end + 1
	}
	return out, nil
}
