// Package feeEstimator derives EIP-1559 fee bounds for user operations from the
// latest block base fee and the node's gas price suggestion.
//
// Fee-data helpers in common client libraries hardcode a priority fee tuned for
// Ethereum mainnet. Here the tip is derived from gasPrice - baseFee and clamped
// to [0, MinimumTip], which yields a usable tip on L2 fee markets as well.
package feeEstimator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/Layr-Labs/userop-go/pkg/chainManager"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultMinimumTip is 1.5 gwei.
var DefaultMinimumTip = big.NewInt(1_500_000_000)

// Fees holds the resolved fee bounds. Both fields are nil on chains without a base fee.
type Fees struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// IsLegacy reports whether the chain has no fee market.
func (f *Fees) IsLegacy() bool {
	return f.MaxFeePerGas == nil || f.MaxPriorityFeePerGas == nil
}

type IFeeEstimator interface {
	EstimateFees(ctx context.Context) (*Fees, error)
}

type Config struct {
	// MinimumTip replaces any derived priority fee that is negative or above it. Defaults to DefaultMinimumTip.
	MinimumTip *big.Int
}

type FeeEstimator struct {
	config *Config
	client chainManager.EthClientInterface
	logger *zap.Logger
}

func NewFeeEstimator(cfg *Config, client chainManager.EthClientInterface, l *zap.Logger) (*FeeEstimator, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.MinimumTip == nil {
		cfg.MinimumTip = new(big.Int).Set(DefaultMinimumTip)
	}
	if cfg.MinimumTip.Sign() < 0 {
		return nil, fmt.Errorf("minimum tip must not be negative: %s", cfg.MinimumTip)
	}
	return &FeeEstimator{
		config: cfg,
		client: client,
		logger: l,
	}, nil
}

// EstimateFees reads the latest header and the suggested gas price concurrently.
// A failing gas price read is tolerated and treated as absent; a failing header
// read is returned as an error.
func (fe *FeeEstimator) EstimateFees(ctx context.Context) (*Fees, error) {
	var (
		baseFee  *big.Int
		gasPrice *big.Int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		header, err := fe.client.HeaderByNumber(gctx, nil)
		if err != nil {
			return fmt.Errorf("failed to get latest block header: %w", err)
		}
		baseFee = header.BaseFee
		return nil
	})
	g.Go(func() error {
		price, err := fe.client.SuggestGasPrice(gctx)
		if err != nil {
			fe.logger.Sugar().Warnw("Failed to get gas price, using minimum tip", zap.Error(err))
			return nil
		}
		gasPrice = price
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if baseFee == nil {
		fe.logger.Sugar().Debugw("Chain reports no base fee, leaving fee bounds unset")
		return &Fees{}, nil
	}

	maxFee, tip := CalculateFees(baseFee, gasPrice, fe.config.MinimumTip)
	fe.logger.Sugar().Debugw("Estimated fees",
		zap.String("baseFee", baseFee.String()),
		zap.String("maxFeePerGas", maxFee.String()),
		zap.String("maxPriorityFeePerGas", tip.String()),
	)
	return &Fees{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: tip}, nil
}

// PriorityFee returns gasPrice - baseFee, replaced by minTip when the gas price is
// unknown or the difference falls outside [0, minTip].
func PriorityFee(baseFee, gasPrice, minTip *big.Int) *big.Int {
	if gasPrice == nil || baseFee == nil {
		return new(big.Int).Set(minTip)
	}
	tip := new(big.Int).Sub(gasPrice, baseFee)
	if tip.Sign() < 0 || tip.Cmp(minTip) > 0 {
		return new(big.Int).Set(minTip)
	}
	return tip
}

// CalculateFees returns (2*baseFee + tip, tip).
func CalculateFees(baseFee, gasPrice, minTip *big.Int) (*big.Int, *big.Int) {
	tip := PriorityFee(baseFee, gasPrice, minTip)
	maxFee := new(big.Int).Lsh(baseFee, 1)
	return maxFee.Add(maxFee, tip), tip
}
