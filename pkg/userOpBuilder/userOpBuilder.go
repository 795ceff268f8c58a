// Package userOpBuilder assembles unsigned user operations for a smart account.
//
// A build runs as a sequence of transformations over an immutable
// userOperation.UserOperation: encode the call, resolve the sender and its
// bootstrap payload, estimate gas and fees, size the envelope with a dummy
// signature, negotiate sponsorship and finally consult the remote estimator.
// Sponsorship and remote estimation are best effort; every other failure
// aborts the build.
package userOpBuilder

import (
	"context"
	"fmt"
	"math/big"

	"github.com/Layr-Labs/userop-go/pkg/account"
	"github.com/Layr-Labs/userop-go/pkg/addressResolver"
	"github.com/Layr-Labs/userop-go/pkg/bundler"
	"github.com/Layr-Labs/userop-go/pkg/chainManager"
	"github.com/Layr-Labs/userop-go/pkg/entryPoint"
	"github.com/Layr-Labs/userop-go/pkg/feeEstimator"
	"github.com/Layr-Labs/userop-go/pkg/preVerificationGas"
	"github.com/Layr-Labs/userop-go/pkg/sponsor"
	"github.com/Layr-Labs/userop-go/pkg/userOperation"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const (
	// DefaultVerificationGasLimit is the verification budget of a deployed account
	DefaultVerificationGasLimit = 110000
	// DefaultDeploymentCallGasLimit replaces the call gas estimate while the account is undeployed
	DefaultDeploymentCallGasLimit = 1_000_000

	remotePreVerificationGasPlaceholder = 100000
	remoteVerificationGasPlaceholder    = 1000000
)

// remote pre-verification and verification estimates are scaled by 12/10
var (
	remoteMarginNumerator   = big.NewInt(12)
	remoteMarginDenominator = big.NewInt(10)
)

type IUserOpBuilder interface {
	GetAccountAddress(ctx context.Context) (common.Address, error)
	BuildUserOperation(ctx context.Context, details account.TransactionDetails) (userOperation.UserOperation, error)
}

type Config struct {
	// Overheads of the pre-verification cost model. Defaults to
	// preVerificationGas.DefaultOverheads sized for the account's dummy signature.
	Overheads *preVerificationGas.Overheads
	// VerificationGasLimit is the base verification budget. Defaults to DefaultVerificationGasLimit.
	VerificationGasLimit *big.Int
	// DeploymentCallGasLimit defaults to DefaultDeploymentCallGasLimit.
	DeploymentCallGasLimit *big.Int
}

type UserOpBuilder struct {
	config     *Config
	overheads  preVerificationGas.Overheads
	account    account.IAccount
	entryPoint entryPoint.IEntryPoint
	resolver   addressResolver.IAddressResolver
	fees       feeEstimator.IFeeEstimator
	client     chainManager.EthClientInterface
	negotiator sponsor.INegotiator
	remote     bundler.IGasEstimator
	logger     *zap.Logger
}

// NewUserOpBuilder creates a builder for one account. negotiator and remote are
// optional; pass nil to build self-funded operations or to skip remote estimation.
func NewUserOpBuilder(
	cfg *Config,
	acc account.IAccount,
	ep entryPoint.IEntryPoint,
	resolver addressResolver.IAddressResolver,
	fees feeEstimator.IFeeEstimator,
	client chainManager.EthClientInterface,
	negotiator sponsor.INegotiator,
	remote bundler.IGasEstimator,
	l *zap.Logger,
) *UserOpBuilder {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.VerificationGasLimit == nil {
		cfg.VerificationGasLimit = big.NewInt(DefaultVerificationGasLimit)
	}
	if cfg.DeploymentCallGasLimit == nil {
		cfg.DeploymentCallGasLimit = big.NewInt(DefaultDeploymentCallGasLimit)
	}

	var overheads preVerificationGas.Overheads
	if cfg.Overheads != nil {
		overheads = *cfg.Overheads
	} else {
		overheads = preVerificationGas.DefaultOverheads()
		overheads.SigSize = len(acc.DummySignature())
	}

	return &UserOpBuilder{
		config:     cfg,
		overheads:  overheads,
		account:    acc,
		entryPoint: ep,
		resolver:   resolver,
		fees:       fees,
		client:     client,
		negotiator: negotiator,
		remote:     remote,
		logger:     l,
	}
}

// Init fails with entryPoint.ErrEntryPointNotDeployed when the entry point has no
// code, then resolves the account address.
func (b *UserOpBuilder) Init(ctx context.Context) error {
	deployed, err := b.entryPoint.IsDeployed(ctx)
	if err != nil {
		return err
	}
	if !deployed {
		return fmt.Errorf("%w: %s", entryPoint.ErrEntryPointNotDeployed, b.entryPoint.Address())
	}
	address, err := b.resolver.ResolveAddress(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve account address: %w", err)
	}
	b.logger.Sugar().Infow("Initialized user operation builder",
		zap.String("entryPoint", b.entryPoint.Address().String()),
		zap.String("account", address.String()),
	)
	return nil
}

func (b *UserOpBuilder) GetAccountAddress(ctx context.Context) (common.Address, error) {
	return b.resolver.ResolveAddress(ctx)
}

// BuildUserOperation returns a fully resolved operation with an empty signature.
func (b *UserOpBuilder) BuildUserOperation(ctx context.Context, details account.TransactionDetails) (userOperation.UserOperation, error) {
	callData, err := account.EncodeCallData(b.account, details)
	if err != nil {
		return userOperation.UserOperation{}, fmt.Errorf("failed to encode call data: %w", err)
	}
	sender, err := b.resolver.ResolveAddress(ctx)
	if err != nil {
		return userOperation.UserOperation{}, fmt.Errorf("failed to resolve account address: %w", err)
	}
	initCode, err := b.resolver.ResolveBootstrapPayload(ctx)
	if err != nil {
		return userOperation.UserOperation{}, fmt.Errorf("failed to resolve init code: %w", err)
	}

	callGasLimit, err := b.callGasLimit(ctx, sender, initCode, callData, details)
	if err != nil {
		return userOperation.UserOperation{}, err
	}
	creationGas, err := b.EstimateCreationGas(ctx, initCode)
	if err != nil {
		return userOperation.UserOperation{}, err
	}
	nonce := details.Nonce
	if nonce == nil {
		if nonce, err = b.account.GetNonce(ctx, sender); err != nil {
			return userOperation.UserOperation{}, fmt.Errorf("failed to get account nonce: %w", err)
		}
	}
	maxFeePerGas, maxPriorityFeePerGas, err := b.resolveFees(ctx, details)
	if err != nil {
		return userOperation.UserOperation{}, err
	}

	op := userOperation.UserOperation{
		Sender:               sender,
		Nonce:                nonce,
		InitCode:             initCode,
		CallData:             callData,
		CallGasLimit:         callGasLimit,
		VerificationGasLimit: new(big.Int).Add(b.config.VerificationGasLimit, creationGas),
		PaymasterAndData:     []byte{},
		Signature:            b.account.DummySignature(),
	}.WithFees(maxFeePerGas, maxPriorityFeePerGas)
	if b.negotiator != nil {
		op = op.WithPaymasterAndData(sponsor.DummyPaymasterAndData)
	}
	if op, err = b.withPreVerificationGas(op); err != nil {
		return userOperation.UserOperation{}, err
	}

	authoritative := false
	if b.negotiator != nil {
		result := b.negotiator.Negotiate(ctx, op.WithPaymasterAndData([]byte{}), details)
		op = result.Apply(op)
		authoritative = result.HasGasEstimates()
		if !result.Sponsored() || result.Response.PreVerificationGas == nil {
			if op, err = b.withPreVerificationGas(op); err != nil {
				return userOperation.UserOperation{}, err
			}
		}
	}

	if b.remote != nil && !authoritative {
		op = b.applyRemoteEstimate(ctx, op)
	}

	op = op.WithSignature([]byte{})
	b.logger.Sugar().Debugw("Built user operation",
		zap.String("sender", op.Sender.String()),
		zap.Stringer("nonce", op.Nonce),
		zap.Bool("deployment", op.IsDeployment()),
		zap.Bool("sponsored", len(op.PaymasterAndData) > 0),
		zap.Stringer("callGasLimit", op.CallGasLimit),
		zap.Stringer("verificationGasLimit", op.VerificationGasLimit),
		zap.Stringer("preVerificationGas", op.PreVerificationGas),
	)
	return op, nil
}

// EstimateCreationGas simulates the factory call of initCode; zero without init code.
func (b *UserOpBuilder) EstimateCreationGas(ctx context.Context, initCode []byte) (*big.Int, error) {
	if len(initCode) == 0 {
		return new(big.Int), nil
	}
	factory, factoryData, err := account.FactoryCall(initCode)
	if err != nil {
		return nil, err
	}
	gas, err := b.client.EstimateGas(ctx, ethereum.CallMsg{
		To:   &factory,
		Data: factoryData,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate account creation gas: %w", err)
	}
	return new(big.Int).SetUint64(gas), nil
}

// callGasLimit uses the deployment ceiling while init code is present, since
// execution against an undeployed account cannot be simulated.
func (b *UserOpBuilder) callGasLimit(
	ctx context.Context,
	sender common.Address,
	initCode []byte,
	callData []byte,
	details account.TransactionDetails,
) (*big.Int, error) {
	if len(initCode) > 0 {
		return new(big.Int).Set(b.config.DeploymentCallGasLimit), nil
	}
	if details.GasLimit != nil {
		return new(big.Int).Set(details.GasLimit), nil
	}
	gas, err := b.client.EstimateGas(ctx, ethereum.CallMsg{
		From: b.entryPoint.Address(),
		To:   &sender,
		Data: callData,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate call gas: %w", err)
	}
	return new(big.Int).SetUint64(gas), nil
}

// resolveFees returns nil fees on chains without a base fee unless the caller
// supplied a legacy gas price.
func (b *UserOpBuilder) resolveFees(ctx context.Context, details account.TransactionDetails) (*big.Int, *big.Int, error) {
	if details.MaxFeePerGas != nil && details.MaxPriorityFeePerGas != nil {
		return details.MaxFeePerGas, details.MaxPriorityFeePerGas, nil
	}
	fees, err := b.fees.EstimateFees(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to estimate fees: %w", err)
	}
	if fees.IsLegacy() {
		if details.GasPrice != nil {
			return details.GasPrice, details.GasPrice, nil
		}
		return nil, nil, nil
	}
	return fees.MaxFeePerGas, fees.MaxPriorityFeePerGas, nil
}

func (b *UserOpBuilder) withPreVerificationGas(op userOperation.UserOperation) (userOperation.UserOperation, error) {
	sized := op.Copy()
	sized.PreVerificationGas = nil
	pvg, err := preVerificationGas.Calculate(sized, b.overheads)
	if err != nil {
		return userOperation.UserOperation{}, fmt.Errorf("failed to calculate pre-verification gas: %w", err)
	}
	return op.WithGasLimits(userOperation.GasLimits{PreVerificationGas: pvg}), nil
}

// applyRemoteEstimate keeps op unchanged when the estimator fails.
func (b *UserOpBuilder) applyRemoteEstimate(ctx context.Context, op userOperation.UserOperation) userOperation.UserOperation {
	candidate := op.WithGasLimits(userOperation.GasLimits{
		PreVerificationGas:   big.NewInt(remotePreVerificationGasPlaceholder),
		VerificationGasLimit: big.NewInt(remoteVerificationGasPlaceholder),
	})
	estimate, err := b.remote.EstimateUserOperationGas(ctx, candidate)
	if err != nil {
		b.logger.Sugar().Warnw("Remote gas estimation failed, keeping local estimates",
			zap.String("sender", op.Sender.String()),
			zap.Error(err),
		)
		return op
	}

	out := op.WithGasLimits(userOperation.GasLimits{
		PreVerificationGas:   withMargin(estimate.PreVerificationGas),
		VerificationGasLimit: withMargin(estimate.VerificationGas),
		CallGasLimit:         estimate.CallGasLimit,
	})
	if out.MaxFeePerGas == nil && out.MaxPriorityFeePerGas == nil && estimate.MaxFeePerGas != nil {
		tip := estimate.MaxPriorityFeePerGas
		if tip == nil || tip.Cmp(estimate.MaxFeePerGas) > 0 {
			tip = estimate.MaxFeePerGas
		}
		out = out.WithFees(estimate.MaxFeePerGas, tip)
	}
	return out
}

func withMargin(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	scaled := new(big.Int).Mul(v, remoteMarginNumerator)
	return scaled.Div(scaled, remoteMarginDenominator)
}
