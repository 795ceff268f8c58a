package sponsor

import (
	"context"
	"fmt"
	"math/big"

	"github.com/Layr-Labs/userop-go/pkg/account"
	"github.com/Layr-Labs/userop-go/pkg/chainManager"
	"github.com/Layr-Labs/userop-go/pkg/userOperation"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type NegotiatorConfig struct {
	EntryPointAddress common.Address
	// DeploymentCallGasLimit replaces the batch call gas estimate while the account is undeployed
	DeploymentCallGasLimit *big.Int
}

// Negotiator asks an IPaymasterAPI to sponsor operations built for one account.
type Negotiator struct {
	config    *NegotiatorConfig
	paymaster IPaymasterAPI
	account   account.IAccount
	client    chainManager.EthClientInterface
	logger    *zap.Logger
}

func NewNegotiator(
	cfg *NegotiatorConfig,
	paymaster IPaymasterAPI,
	acc account.IAccount,
	client chainManager.EthClientInterface,
	l *zap.Logger,
) *Negotiator {
	return &Negotiator{
		config:    cfg,
		paymaster: paymaster,
		account:   acc,
		client:    client,
		logger:    l,
	}
}

// Negotiate never fails: errors are logged and returned in Result.Err, which
// Result.Apply treats as self-funded.
func (n *Negotiator) Negotiate(ctx context.Context, op userOperation.UserOperation, details account.TransactionDetails) Result {
	result, err := n.negotiate(ctx, op, details)
	if err != nil {
		n.logger.Sugar().Warnw("Failed to get paymaster data, falling back to self-funded operation",
			zap.String("sender", op.Sender.String()),
			zap.Error(err),
		)
		return Result{Err: err}
	}
	n.logger.Sugar().Infow("Operation sponsored",
		zap.String("paymaster", common.BytesToAddress(prefix(result.Response.PaymasterAndData)).String()),
		zap.Bool("authoritativeGas", result.Response.HasGasEstimates()),
	)
	return result
}

func (n *Negotiator) negotiate(ctx context.Context, op userOperation.UserOperation, details account.TransactionDetails) (Result, error) {
	tokenPaymaster, isToken := n.paymaster.(ITokenPaymasterAPI)
	if !isToken {
		resp, err := n.paymaster.GetPaymasterResponse(ctx, op, nil)
		if err != nil {
			return Result{}, err
		}
		if resp == nil {
			return Result{}, fmt.Errorf("paymaster returned no response")
		}
		return Result{Response: resp}, nil
	}

	erc20Op, err := n.buildTokenOperation(ctx, tokenPaymaster, op, details)
	if err != nil {
		return Result{}, fmt.Errorf("failed to build gas token operation: %w", err)
	}
	resp, err := tokenPaymaster.GetPaymasterResponse(ctx, op, &erc20Op)
	if err != nil {
		return Result{}, err
	}
	if resp == nil {
		return Result{}, fmt.Errorf("paymaster returned no response")
	}
	return Result{
		Response:          resp,
		BatchCallData:     erc20Op.CallData,
		BatchCallGasLimit: erc20Op.CallGasLimit,
	}, nil
}

// buildTokenOperation rewrites the call data into [approval, original calls...].
// A batched original is unwrapped so the batch is never nested.
func (n *Negotiator) buildTokenOperation(
	ctx context.Context,
	tokenPaymaster ITokenPaymasterAPI,
	op userOperation.UserOperation,
	details account.TransactionDetails,
) (userOperation.UserOperation, error) {
	approval, err := tokenPaymaster.CreateGasTokenApprovalRequest(ctx)
	if err != nil {
		return userOperation.UserOperation{}, fmt.Errorf("failed to create gas token approval: %w", err)
	}
	calls, err := account.Calls(n.account, details)
	if err != nil {
		return userOperation.UserOperation{}, err
	}
	batch := append([]account.Call{approval}, calls...)
	callData, err := n.account.EncodeExecuteBatch(batch)
	if err != nil {
		return userOperation.UserOperation{}, fmt.Errorf("failed to encode approval batch: %w", err)
	}

	callGas, err := n.estimateCallGas(ctx, op, callData)
	if err != nil {
		return userOperation.UserOperation{}, err
	}
	return op.WithCallData(callData).WithGasLimits(userOperation.GasLimits{CallGasLimit: callGas}), nil
}

func (n *Negotiator) estimateCallGas(ctx context.Context, op userOperation.UserOperation, callData []byte) (*big.Int, error) {
	if op.IsDeployment() && n.config.DeploymentCallGasLimit != nil {
		return new(big.Int).Set(n.config.DeploymentCallGasLimit), nil
	}
	gas, err := n.client.EstimateGas(ctx, ethereum.CallMsg{
		From: n.config.EntryPointAddress,
		To:   &op.Sender,
		Data: callData,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate approval batch call gas: %w", err)
	}
	return new(big.Int).SetUint64(gas), nil
}

func prefix(paymasterAndData []byte) []byte {
	if len(paymasterAndData) < common.AddressLength {
		return paymasterAndData
	}
	return paymasterAndData[:common.AddressLength]
}
