// Package entryPoint wraps the read-only surface of the ERC-4337 v0.6 EntryPoint
// contract: counterfactual sender simulation, the canonical operation hash,
// account nonces and UserOperationEvent queries.
package entryPoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/Layr-Labs/userop-go/pkg/chainManager"
	"github.com/Layr-Labs/userop-go/pkg/userOperation"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// DefaultAddress is the canonical v0.6 EntryPoint deployment.
var DefaultAddress = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")

var (
	// ErrEntryPointNotDeployed is returned when no code exists at the configured entry point address
	ErrEntryPointNotDeployed = errors.New("entry point is not deployed")
	// ErrSenderAddressNotReported is returned when getSenderAddress does not revert with SenderAddressResult
	ErrSenderAddressNotReported = errors.New("entry point did not report a sender address")
)

var parsedABI abi.ABI

func init() {
	var err error
	parsedABI, err = abi.JSON(strings.NewReader(entryPointABI))
	if err != nil {
		panic(fmt.Sprintf("failed to parse entry point ABI: %v", err))
	}
}

// UserOperationEventTopic is topic0 of UserOperationEvent.
func UserOperationEventTopic() common.Hash {
	return parsedABI.Events["UserOperationEvent"].ID
}

// IEntryPoint is the entry point surface used by the builder, resolver, account variants and poller.
type IEntryPoint interface {
	Address() common.Address
	IsDeployed(ctx context.Context) (bool, error)
	SimulateSenderAddress(ctx context.Context, initCode []byte) (*SenderAddressResult, error)
	GetUserOpHash(ctx context.Context, op userOperation.UserOperation) (common.Hash, error)
	GetNonce(ctx context.Context, sender common.Address, key *big.Int) (*big.Int, error)
	FilterUserOperationEvents(ctx context.Context, opHash common.Hash, fromBlock *big.Int) ([]types.Log, error)
}

// SenderAddressResult is the expected outcome of getSenderAddress: the entry point
// always reverts, and the revert carries the counterfactual account address.
type SenderAddressResult struct {
	Sender common.Address
}

// UserOperationEvent is the decoded inclusion event of an operation.
type UserOperationEvent struct {
	UserOpHash    common.Hash
	Sender        common.Address
	Paymaster     common.Address
	Nonce         *big.Int
	Success       bool
	ActualGasCost *big.Int
	ActualGasUsed *big.Int
	TxHash        common.Hash
	BlockNumber   uint64
}

type Config struct {
	// Address of the entry point contract. Defaults to DefaultAddress.
	Address common.Address
}

type EntryPoint struct {
	config *Config
	client chainManager.EthClientInterface
	logger *zap.Logger
}

func NewEntryPoint(cfg *Config, client chainManager.EthClientInterface, l *zap.Logger) *EntryPoint {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Address == (common.Address{}) {
		cfg.Address = DefaultAddress
	}
	return &EntryPoint{
		config: cfg,
		client: client,
		logger: l,
	}
}

func (ep *EntryPoint) Address() common.Address {
	return ep.config.Address
}

// IsDeployed reports whether the entry point has code on the connected chain.
func (ep *EntryPoint) IsDeployed(ctx context.Context) (bool, error) {
	code, err := ep.client.CodeAt(ctx, ep.config.Address, nil)
	if err != nil {
		return false, fmt.Errorf("failed to get entry point code: %w", err)
	}
	return len(code) > 0, nil
}

// SimulateSenderAddress calls getSenderAddress(initCode). The only successful
// outcome is a SenderAddressResult revert; a call that succeeds, or reverts with
// anything else, is reported as an error wrapping ErrSenderAddressNotReported.
func (ep *EntryPoint) SimulateSenderAddress(ctx context.Context, initCode []byte) (*SenderAddressResult, error) {
	calldata, err := parsedABI.Pack("getSenderAddress", initCode)
	if err != nil {
		return nil, fmt.Errorf("failed to pack getSenderAddress: %w", err)
	}

	_, callErr := ep.client.CallContract(ctx, ethereum.CallMsg{
		To:   &ep.config.Address,
		Data: calldata,
	}, nil)
	if callErr == nil {
		return nil, fmt.Errorf("%w: getSenderAddress returned without reverting", ErrSenderAddressNotReported)
	}

	revertData, ok := RevertData(callErr)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrSenderAddressNotReported, callErr)
	}
	sender, ok := DecodeSenderAddressResult(revertData)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected revert %s: %v", ErrSenderAddressNotReported, describeRevert(revertData), callErr)
	}
	ep.logger.Sugar().Debugw("Simulated sender address", zap.String("sender", sender.String()))
	return &SenderAddressResult{Sender: sender}, nil
}

// GetUserOpHash computes the canonical operation hash on-chain. The signature
// field does not contribute to the hash.
func (ep *EntryPoint) GetUserOpHash(ctx context.Context, op userOperation.UserOperation) (common.Hash, error) {
	if err := op.Validate(); err != nil {
		return common.Hash{}, err
	}
	calldata, err := parsedABI.Pack("getUserOpHash", op.Copy())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack getUserOpHash: %w", err)
	}
	out, err := ep.call(ctx, calldata)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to call getUserOpHash: %w", err)
	}
	values, err := parsedABI.Unpack("getUserOpHash", out)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to unpack getUserOpHash: %w", err)
	}
	hash, ok := values[0].([32]byte)
	if !ok {
		return common.Hash{}, fmt.Errorf("unexpected getUserOpHash output type %T", values[0])
	}
	return common.Hash(hash), nil
}

// GetNonce returns the next nonce of sender for the given key.
func (ep *EntryPoint) GetNonce(ctx context.Context, sender common.Address, key *big.Int) (*big.Int, error) {
	if key == nil {
		key = new(big.Int)
	}
	calldata, err := parsedABI.Pack("getNonce", sender, key)
	if err != nil {
		return nil, fmt.Errorf("failed to pack getNonce: %w", err)
	}
	out, err := ep.call(ctx, calldata)
	if err != nil {
		return nil, fmt.Errorf("failed to call getNonce: %w", err)
	}
	values, err := parsedABI.Unpack("getNonce", out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack getNonce: %w", err)
	}
	nonce, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getNonce output type %T", values[0])
	}
	return nonce, nil
}

// FilterUserOperationEvents returns UserOperationEvent logs for opHash from fromBlock onwards.
func (ep *EntryPoint) FilterUserOperationEvents(ctx context.Context, opHash common.Hash, fromBlock *big.Int) ([]types.Log, error) {
	logs, err := ep.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: fromBlock,
		Addresses: []common.Address{ep.config.Address},
		Topics:    [][]common.Hash{{UserOperationEventTopic()}, {opHash}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter UserOperationEvent logs: %w", err)
	}
	return logs, nil
}

func (ep *EntryPoint) call(ctx context.Context, calldata []byte) ([]byte, error) {
	return ep.client.CallContract(ctx, ethereum.CallMsg{
		To:   &ep.config.Address,
		Data: calldata,
	}, nil)
}

// ParseUserOperationEvent decodes a UserOperationEvent log.
func ParseUserOperationEvent(log types.Log) (*UserOperationEvent, error) {
	if len(log.Topics) != 4 || log.Topics[0] != UserOperationEventTopic() {
		return nil, fmt.Errorf("log is not a UserOperationEvent")
	}
	values, err := parsedABI.Unpack("UserOperationEvent", log.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack UserOperationEvent: %w", err)
	}
	if len(values) != 4 {
		return nil, fmt.Errorf("unexpected UserOperationEvent field count %d", len(values))
	}
	nonce, _ := values[0].(*big.Int)
	success, _ := values[1].(bool)
	gasCost, _ := values[2].(*big.Int)
	gasUsed, _ := values[3].(*big.Int)

	return &UserOperationEvent{
		UserOpHash:    log.Topics[1],
		Sender:        common.BytesToAddress(log.Topics[2].Bytes()),
		Paymaster:     common.BytesToAddress(log.Topics[3].Bytes()),
		Nonce:         nonce,
		Success:       success,
		ActualGasCost: gasCost,
		ActualGasUsed: gasUsed,
		TxHash:        log.TxHash,
		BlockNumber:   log.BlockNumber,
	}, nil
}

// RevertData extracts the revert payload carried by a JSON-RPC error.
func RevertData(err error) ([]byte, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return nil, false
	}
	switch data := dataErr.ErrorData().(type) {
	case string:
		decoded, decodeErr := hexutil.Decode(data)
		if decodeErr != nil {
			return nil, false
		}
		return decoded, true
	case []byte:
		return data, true
	default:
		return nil, false
	}
}

// DecodeSenderAddressResult decodes SenderAddressResult(address) revert data.
func DecodeSenderAddressResult(data []byte) (common.Address, bool) {
	senderError := parsedABI.Errors["SenderAddressResult"]
	if len(data) < 4 || !bytes.Equal(data[:4], senderError.ID[:4]) {
		return common.Address{}, false
	}
	values, err := senderError.Inputs.Unpack(data[4:])
	if err != nil || len(values) != 1 {
		return common.Address{}, false
	}
	sender, ok := values[0].(common.Address)
	return sender, ok
}

// EncodeSenderAddressResult builds SenderAddressResult revert data, as a node would return it.
func EncodeSenderAddressResult(sender common.Address) []byte {
	senderError := parsedABI.Errors["SenderAddressResult"]
	packed, err := senderError.Inputs.Pack(sender)
	if err != nil {
		panic(err)
	}
	return append(common.CopyBytes(senderError.ID[:4]), packed...)
}

func describeRevert(data []byte) string {
	failedOp := parsedABI.Errors["FailedOp"]
	if len(data) >= 4 && bytes.Equal(data[:4], failedOp.ID[:4]) {
		if values, err := failedOp.Inputs.Unpack(data[4:]); err == nil && len(values) == 2 {
			return fmt.Sprintf("FailedOp(%v, %q)", values[0], values[1])
		}
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return fmt.Sprintf("%q", reason)
	}
	return hexutil.Encode(data)
}
