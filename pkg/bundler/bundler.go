// Package bundler is a JSON-RPC client for an ERC-4337 bundler. It submits
// signed operations and serves as the remote gas estimator of the builder.
package bundler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/Layr-Labs/userop-go/pkg/logger"
	"github.com/Layr-Labs/userop-go/pkg/userOperation"
	"github.com/Layr-Labs/userop-go/pkg/util"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

var (
	// ErrEntryPointNotSupported is returned when the bundler does not relay for the configured entry point
	ErrEntryPointNotSupported = errors.New("entry point not supported by bundler")
)

// GasEstimate is the result of eth_estimateUserOperationGas. Any field the
// bundler omits is nil.
type GasEstimate struct {
	PreVerificationGas   *big.Int
	VerificationGas      *big.Int
	CallGasLimit         *big.Int
	ValidAfter           *big.Int
	ValidUntil           *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// IGasEstimator is the remote gas estimator used by the builder.
type IGasEstimator interface {
	EstimateUserOperationGas(ctx context.Context, op userOperation.UserOperation) (*GasEstimate, error)
}

// ISubmitter relays signed operations and returns the operation hash.
type ISubmitter interface {
	SendUserOperation(ctx context.Context, op userOperation.UserOperation) (common.Hash, error)
}

type IBundlerClient interface {
	IGasEstimator
	ISubmitter
	SupportedEntryPoints(ctx context.Context) ([]common.Address, error)
}

type Config struct {
	Url               string
	EntryPointAddress common.Address
}

type BundlerClient struct {
	config *Config
	client *rpc.Client
	logger *zap.Logger
}

// NewBundlerClient dials the bundler. Outbound HTTP requests are logged through logger.HttpClientLogger.
func NewBundlerClient(ctx context.Context, cfg *Config, l *zap.Logger) (*BundlerClient, error) {
	if cfg == nil || cfg.Url == "" {
		return nil, fmt.Errorf("bundler url is required")
	}
	opts := []rpc.ClientOption{}
	if strings.HasPrefix(cfg.Url, "http") {
		opts = append(opts, rpc.WithHTTPClient(&http.Client{
			Transport: logger.HttpClientLogger(nil, l),
		}))
	}
	client, err := rpc.DialOptions(ctx, cfg.Url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial bundler at %s: %w", cfg.Url, err)
	}
	return NewBundlerClientWithRPC(cfg, client, l), nil
}

func NewBundlerClientWithRPC(cfg *Config, client *rpc.Client, l *zap.Logger) *BundlerClient {
	return &BundlerClient{
		config: cfg,
		client: client,
		logger: l,
	}
}

func (b *BundlerClient) Close() {
	b.client.Close()
}

type gasEstimateResponse struct {
	PreVerificationGas   *userOperation.Quantity `json:"preVerificationGas"`
	VerificationGas      *userOperation.Quantity `json:"verificationGas"`
	VerificationGasLimit *userOperation.Quantity `json:"verificationGasLimit"`
	CallGasLimit         *userOperation.Quantity `json:"callGasLimit"`
	ValidAfter           *userOperation.Quantity `json:"validAfter"`
	ValidUntil           *userOperation.Quantity `json:"validUntil"`
	MaxFeePerGas         *userOperation.Quantity `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *userOperation.Quantity `json:"maxPriorityFeePerGas"`
}

func (b *BundlerClient) EstimateUserOperationGas(ctx context.Context, op userOperation.UserOperation) (*GasEstimate, error) {
	var resp *gasEstimateResponse
	if err := b.client.CallContext(ctx, &resp, "eth_estimateUserOperationGas", op, b.config.EntryPointAddress); err != nil {
		return nil, fmt.Errorf("eth_estimateUserOperationGas failed: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("eth_estimateUserOperationGas returned no result")
	}

	// older bundlers name the field verificationGas, newer ones verificationGasLimit
	verificationGas := resp.VerificationGas.BigInt()
	if verificationGas == nil {
		verificationGas = resp.VerificationGasLimit.BigInt()
	}
	estimate := &GasEstimate{
		PreVerificationGas:   resp.PreVerificationGas.BigInt(),
		VerificationGas:      verificationGas,
		CallGasLimit:         resp.CallGasLimit.BigInt(),
		ValidAfter:           resp.ValidAfter.BigInt(),
		ValidUntil:           resp.ValidUntil.BigInt(),
		MaxFeePerGas:         resp.MaxFeePerGas.BigInt(),
		MaxPriorityFeePerGas: resp.MaxPriorityFeePerGas.BigInt(),
	}
	b.logger.Sugar().Debugw("Received remote gas estimate",
		zap.Stringer("preVerificationGas", estimate.PreVerificationGas),
		zap.Stringer("verificationGas", estimate.VerificationGas),
		zap.Stringer("callGasLimit", estimate.CallGasLimit),
	)
	return estimate, nil
}

func (b *BundlerClient) SendUserOperation(ctx context.Context, op userOperation.UserOperation) (common.Hash, error) {
	var opHash common.Hash
	if err := b.client.CallContext(ctx, &opHash, "eth_sendUserOperation", op, b.config.EntryPointAddress); err != nil {
		return common.Hash{}, fmt.Errorf("eth_sendUserOperation failed: %w", err)
	}
	b.logger.Sugar().Infow("Submitted user operation",
		zap.String("sender", op.Sender.String()),
		zap.String("userOpHash", opHash.String()),
	)
	return opHash, nil
}

func (b *BundlerClient) SupportedEntryPoints(ctx context.Context) ([]common.Address, error) {
	var entryPoints []common.Address
	if err := b.client.CallContext(ctx, &entryPoints, "eth_supportedEntryPoints"); err != nil {
		return nil, fmt.Errorf("eth_supportedEntryPoints failed: %w", err)
	}
	return entryPoints, nil
}

// CheckEntryPoint fails with ErrEntryPointNotSupported unless the configured
// entry point is among the bundler's supported entry points.
func (b *BundlerClient) CheckEntryPoint(ctx context.Context) error {
	entryPoints, err := b.SupportedEntryPoints(ctx)
	if err != nil {
		return err
	}
	if _, ok := util.Find(entryPoints, func(ep common.Address) bool {
		return ep == b.config.EntryPointAddress
	}); !ok {
		return fmt.Errorf("%w: %s", ErrEntryPointNotSupported, b.config.EntryPointAddress)
	}
	return nil
}
