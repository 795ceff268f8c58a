// Package inclusionPoller waits for a submitted operation to be included on chain
// by polling the entry point for its UserOperationEvent.
package inclusionPoller

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/Layr-Labs/userop-go/pkg/chainManager"
	"github.com/Layr-Labs/userop-go/pkg/entryPoint"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const (
	DefaultTimeout  = 30 * time.Second
	DefaultInterval = 5 * time.Second
	// DefaultLookbackBlocks is how far before the current block the event query starts
	DefaultLookbackBlocks = 100
)

type IInclusionPoller interface {
	// Poll returns the hash of the transaction that included opHash. found is
	// false, with a nil error, when the timeout elapses first.
	Poll(ctx context.Context, opHash common.Hash, timeout, interval time.Duration) (txHash common.Hash, found bool, err error)
}

type Config struct {
	// LookbackBlocks is how far below the current block PollEvent starts its
	// query. Zero means DefaultLookbackBlocks.
	LookbackBlocks uint64
}

type InclusionPoller struct {
	config     *Config
	entryPoint entryPoint.IEntryPoint
	client     chainManager.EthClientInterface
	logger     *zap.Logger
}

func NewInclusionPoller(cfg *Config, ep entryPoint.IEntryPoint, client chainManager.EthClientInterface, l *zap.Logger) *InclusionPoller {
	resolved := Config{}
	if cfg != nil {
		resolved = *cfg
	}
	if resolved.LookbackBlocks == 0 {
		resolved.LookbackBlocks = DefaultLookbackBlocks
	}
	return &InclusionPoller{
		config:     &resolved,
		entryPoint: ep,
		client:     client,
		logger:     l,
	}
}

func (p *InclusionPoller) Poll(ctx context.Context, opHash common.Hash, timeout, interval time.Duration) (common.Hash, bool, error) {
	event, err := p.PollEvent(ctx, opHash, timeout, interval)
	if err != nil || event == nil {
		return common.Hash{}, false, err
	}
	return event.TxHash, true, nil
}

// PollEvent is Poll returning the decoded event; nil means not found. The
// query covers the last LookbackBlocks blocks, which suits an operation that
// was just submitted.
func (p *InclusionPoller) PollEvent(ctx context.Context, opHash common.Hash, timeout, interval time.Duration) (*entryPoint.UserOperationEvent, error) {
	fromBlock, err := p.fromBlock(ctx)
	if err != nil {
		return nil, err
	}
	return p.PollEventFromBlock(ctx, opHash, fromBlock, timeout, interval)
}

// PollEventFromBlock polls for the event in blocks from fromBlock onwards. A nil
// fromBlock searches from genesis. The first matching log wins.
func (p *InclusionPoller) PollEventFromBlock(ctx context.Context, opHash common.Hash, fromBlock *big.Int, timeout, interval time.Duration) (*entryPoint.UserOperationEvent, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if fromBlock == nil {
		fromBlock = new(big.Int)
	}
	deadline := time.Now().Add(timeout)

	for attempt := 1; ; attempt++ {
		logs, err := p.entryPoint.FilterUserOperationEvents(ctx, opHash, fromBlock)
		if err != nil {
			p.logger.Sugar().Warnw("Failed to query UserOperationEvent, retrying",
				zap.String("userOpHash", opHash.String()),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		} else if len(logs) > 0 {
			event, err := entryPoint.ParseUserOperationEvent(logs[0])
			if err != nil {
				return nil, fmt.Errorf("failed to parse UserOperationEvent: %w", err)
			}
			p.logger.Sugar().Infow("User operation included",
				zap.String("userOpHash", opHash.String()),
				zap.String("txHash", event.TxHash.String()),
				zap.Bool("success", event.Success),
			)
			return event, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.logger.Sugar().Infow("User operation not included before timeout",
				zap.String("userOpHash", opHash.String()),
				zap.Duration("timeout", timeout),
			)
			return nil, nil
		}
		wait := interval
		if remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (p *InclusionPoller) fromBlock(ctx context.Context) (*big.Int, error) {
	current, err := p.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current block number: %w", err)
	}
	if current < p.config.LookbackBlocks {
		return new(big.Int), nil
	}
	return new(big.Int).SetUint64(current - p.config.LookbackBlocks), nil
}
