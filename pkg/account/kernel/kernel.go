// Package kernel implements the Kernel v1 smart account: an ECDSA-owned account
// that executes through executeAndRevert and batches by delegate-calling MultiSend.
package kernel

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/Layr-Labs/userop-go/pkg/account"
	"github.com/Layr-Labs/userop-go/pkg/entryPoint"
	"github.com/Layr-Labs/userop-go/pkg/multiSend"
	"github.com/Layr-Labs/userop-go/pkg/txSigner"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

const (
	operationCall         uint8 = 0
	operationDelegateCall uint8 = 1
)

const kernelABI = `[
	{
		"type": "function",
		"name": "executeAndRevert",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "data", "type": "bytes"},
			{"name": "operation", "type": "uint8"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "createAccount",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "_owner", "type": "address"},
			{"name": "_index", "type": "uint256"}
		],
		"outputs": [{"name": "proxy", "type": "address"}]
	}
]`

// dummySignature is a well-formed 65-byte ECDSA signature used only for gas sizing
var dummySignature = hexutil.MustDecode("0x4046ab7d9c387d7a5ef5ca0777eded29767fd9863048946d35b3042d2f7458ff7c62ade2903503e15973a63a296313eab15b964a18d79f4b06c8c01c7028143c1c")

var parsedABI abi.ABI

func init() {
	var err error
	parsedABI, err = abi.JSON(strings.NewReader(kernelABI))
	if err != nil {
		panic(fmt.Sprintf("failed to parse Kernel ABI: %v", err))
	}
}

type Config struct {
	// FactoryAddress deploys the account through createAccount(owner, index)
	FactoryAddress common.Address
	// Index distinguishes several accounts of one owner
	Index *big.Int
	// MultiSendAddress is delegate-called for batches. Defaults to multiSend.DefaultAddress.
	MultiSendAddress common.Address
}

// KernelAccount implements account.IAccount.
type KernelAccount struct {
	config     *Config
	signer     txSigner.ISigner
	entryPoint entryPoint.IEntryPoint
	logger     *zap.Logger
}

func NewKernelAccount(cfg *Config, signer txSigner.ISigner, ep entryPoint.IEntryPoint, l *zap.Logger) (*KernelAccount, error) {
	if cfg == nil || cfg.FactoryAddress == (common.Address{}) {
		return nil, fmt.Errorf("kernel factory address is required")
	}
	if cfg.Index == nil {
		cfg.Index = new(big.Int)
	}
	if cfg.MultiSendAddress == (common.Address{}) {
		cfg.MultiSendAddress = multiSend.DefaultAddress
	}
	return &KernelAccount{
		config:     cfg,
		signer:     signer,
		entryPoint: ep,
		logger:     l,
	}, nil
}

func (k *KernelAccount) GetFactoryAddress() common.Address {
	return k.config.FactoryAddress
}

// GetAccountInitCode returns factory ++ createAccount(owner, index).
func (k *KernelAccount) GetAccountInitCode(_ context.Context) ([]byte, error) {
	owner, err := k.signer.GetAddress()
	if err != nil {
		return nil, fmt.Errorf("failed to get owner address: %w", err)
	}
	factoryData, err := parsedABI.Pack("createAccount", owner, k.config.Index)
	if err != nil {
		return nil, fmt.Errorf("failed to pack createAccount: %w", err)
	}
	return append(k.config.FactoryAddress.Bytes(), factoryData...), nil
}

func (k *KernelAccount) GetNonce(ctx context.Context, sender common.Address) (*big.Int, error) {
	return k.entryPoint.GetNonce(ctx, sender, big.NewInt(0))
}

func (k *KernelAccount) EncodeExecute(target common.Address, value *big.Int, data []byte) ([]byte, error) {
	return encodeExecuteAndRevert(target, value, data, operationCall)
}

func (k *KernelAccount) DecodeExecute(callData []byte) (*account.Call, error) {
	return decodeExecuteAndRevert(callData, operationCall)
}

func (k *KernelAccount) EncodeExecuteDelegate(target common.Address, value *big.Int, data []byte) ([]byte, error) {
	return encodeExecuteAndRevert(target, value, data, operationDelegateCall)
}

func (k *KernelAccount) DecodeExecuteDelegate(callData []byte) (*account.Call, error) {
	return decodeExecuteAndRevert(callData, operationDelegateCall)
}

// EncodeExecuteBatch delegate-calls multiSend with the packed calls.
func (k *KernelAccount) EncodeExecuteBatch(calls []account.Call) ([]byte, error) {
	data, err := multiSend.EncodeMultiSend(calls)
	if err != nil {
		return nil, fmt.Errorf("failed to encode multiSend: %w", err)
	}
	return k.EncodeExecuteDelegate(k.config.MultiSendAddress, new(big.Int), data)
}

func (k *KernelAccount) DecodeExecuteBatch(callData []byte) ([]account.Call, error) {
	call, err := k.DecodeExecuteDelegate(callData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", account.ErrNotBatchCall, err)
	}
	if call.To != k.config.MultiSendAddress {
		return nil, fmt.Errorf("%w: delegate call target %s is not multiSend", account.ErrNotBatchCall, call.To)
	}
	return multiSend.DecodeMultiSend(call.Data)
}

// SignUserOpHash signs the EIP-191 message of the hash, as the Kernel ECDSA validator expects.
func (k *KernelAccount) SignUserOpHash(ctx context.Context, hash common.Hash) ([]byte, error) {
	return k.signer.SignMessage(ctx, hash.Bytes())
}

func (k *KernelAccount) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	return k.signer.SignMessage(ctx, message)
}

func (k *KernelAccount) DummySignature() []byte {
	return common.CopyBytes(dummySignature)
}

func encodeExecuteAndRevert(target common.Address, value *big.Int, data []byte, operation uint8) ([]byte, error) {
	if value == nil {
		value = new(big.Int)
	}
	if data == nil {
		data = []byte{}
	}
	return parsedABI.Pack("executeAndRevert", target, value, data, operation)
}

func decodeExecuteAndRevert(callData []byte, operation uint8) (*account.Call, error) {
	method := parsedABI.Methods["executeAndRevert"]
	if len(callData) < 4 || !bytes.Equal(callData[:4], method.ID) {
		return nil, fmt.Errorf("call data is not executeAndRevert")
	}
	values, err := method.Inputs.Unpack(callData[4:])
	if err != nil {
		return nil, fmt.Errorf("failed to unpack executeAndRevert: %w", err)
	}
	if len(values) != 4 {
		return nil, fmt.Errorf("unexpected executeAndRevert argument count %d", len(values))
	}
	to, _ := values[0].(common.Address)
	value, _ := values[1].(*big.Int)
	data, _ := values[2].([]byte)
	op, _ := values[3].(uint8)
	if op != operation {
		return nil, fmt.Errorf("executeAndRevert operation is %d, expected %d", op, operation)
	}
	return &account.Call{
		To:           to,
		Value:        value,
		Data:         data,
		DelegateCall: op == operationDelegateCall,
	}, nil
}
