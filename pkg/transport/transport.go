// Package transport signs built user operations and relays them to a bundler,
// then waits for their inclusion on chain.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/Layr-Labs/userop-go/pkg/account"
	"github.com/Layr-Labs/userop-go/pkg/bundler"
	"github.com/Layr-Labs/userop-go/pkg/entryPoint"
	"github.com/Layr-Labs/userop-go/pkg/inclusionPoller"
	"github.com/Layr-Labs/userop-go/pkg/userOpBuilder"
	"github.com/Layr-Labs/userop-go/pkg/userOperation"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

const ecdsaSignatureLength = 65

type TransportConfig struct {
	// PollTimeout defaults to inclusionPoller.DefaultTimeout
	PollTimeout time.Duration
	// PollInterval defaults to inclusionPoller.DefaultInterval
	PollInterval time.Duration
}

// SendResult describes a submitted operation. TxHash is zero when the
// operation was not seen on chain before the poll timeout.
type SendResult struct {
	UserOpHash common.Hash
	TxHash     common.Hash
	Included   bool
}

type Transport struct {
	config     *TransportConfig
	logger     *zap.Logger
	builder    userOpBuilder.IUserOpBuilder
	account    account.IAccount
	entryPoint entryPoint.IEntryPoint
	submitter  bundler.ISubmitter
	poller     inclusionPoller.IInclusionPoller
}

// NewTransport creates a Transport. submitter and poller may be nil when the
// transport is only used to sign.
func NewTransport(
	cfg *TransportConfig,
	builder userOpBuilder.IUserOpBuilder,
	acc account.IAccount,
	ep entryPoint.IEntryPoint,
	submitter bundler.ISubmitter,
	poller inclusionPoller.IInclusionPoller,
	logger *zap.Logger,
) *Transport {
	if cfg == nil {
		cfg = &TransportConfig{}
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = inclusionPoller.DefaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = inclusionPoller.DefaultInterval
	}
	return &Transport{
		config:     cfg,
		logger:     logger,
		builder:    builder,
		account:    acc,
		entryPoint: ep,
		submitter:  submitter,
		poller:     poller,
	}
}

// SignUserOperation hashes op through the entry point with an empty signature,
// signs the hash with the account and attaches the normalized signature.
func (t *Transport) SignUserOperation(ctx context.Context, op userOperation.UserOperation) (userOperation.UserOperation, error) {
	unsigned := op.WithSignature([]byte{})
	if err := unsigned.Validate(); err != nil {
		return userOperation.UserOperation{}, err
	}
	opHash, err := t.entryPoint.GetUserOpHash(ctx, unsigned)
	if err != nil {
		return userOperation.UserOperation{}, fmt.Errorf("failed to get user operation hash: %w", err)
	}
	sig, err := t.account.SignUserOpHash(ctx, opHash)
	if err != nil {
		return userOperation.UserOperation{}, fmt.Errorf("failed to sign user operation hash: %w", err)
	}
	if len(sig) == 0 {
		return userOperation.UserOperation{}, fmt.Errorf("account produced an empty signature")
	}

	t.logger.Sugar().Debugw("Signed user operation",
		zap.String("sender", op.Sender.String()),
		zap.String("userOpHash", opHash.String()),
		zap.String("signature", hexutil.Encode(sig)),
	)
	return unsigned.WithSignature(NormalizeSignature(sig)), nil
}

// CreateSignedUserOp builds and signs an operation.
func (t *Transport) CreateSignedUserOp(ctx context.Context, details account.TransactionDetails) (userOperation.UserOperation, error) {
	op, err := t.builder.BuildUserOperation(ctx, details)
	if err != nil {
		return userOperation.UserOperation{}, err
	}
	return t.SignUserOperation(ctx, op)
}

// SendUserOperation builds, signs and submits an operation, then waits for its
// inclusion. Not being included before the poll timeout is not an error.
func (t *Transport) SendUserOperation(ctx context.Context, details account.TransactionDetails) (*SendResult, error) {
	if t.submitter == nil {
		return nil, fmt.Errorf("no bundler configured")
	}
	signed, err := t.CreateSignedUserOp(ctx, details)
	if err != nil {
		return nil, err
	}

	opHash, err := t.submitter.SendUserOperation(ctx, signed)
	if err != nil {
		t.logger.Sugar().Errorw("Failed to submit user operation",
			zap.String("sender", signed.Sender.String()),
			zap.Error(err),
		)
		return nil, err
	}
	result := &SendResult{UserOpHash: opHash}
	if t.poller == nil {
		return result, nil
	}

	txHash, found, err := t.poller.Poll(ctx, opHash, t.config.PollTimeout, t.config.PollInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for user operation %s: %w", opHash, err)
	}
	result.TxHash = txHash
	result.Included = found

	t.logger.Sugar().Infow("Sent user operation",
		zap.String("userOpHash", opHash.String()),
		zap.String("transactionHash", txHash.String()),
		zap.Bool("included", found),
	)
	return result, nil
}

// NormalizeSignature shifts the recovery id of a 65-byte ECDSA signature from
// {0,1} to {27,28}. Other signatures are returned unchanged.
func NormalizeSignature(sig []byte) []byte {
	out := common.CopyBytes(sig)
	if len(out) == ecdsaSignatureLength && out[ecdsaSignatureLength-1] < 27 {
		out[ecdsaSignatureLength-1] += 27
	}
	return out
}
