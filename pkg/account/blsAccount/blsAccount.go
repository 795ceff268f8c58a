// Package blsAccount implements a BLS-owned SimpleAccount variant whose owner is
// a BN254 public key. Signatures are 64-byte G1 points, so its dummy signature
// is shorter than the ECDSA one.
package blsAccount

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/Layr-Labs/userop-go/pkg/account"
	"github.com/Layr-Labs/userop-go/pkg/blsSigner"
	"github.com/Layr-Labs/userop-go/pkg/entryPoint"
	"github.com/Layr-Labs/userop-go/pkg/util"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

const blsAccountABI = `[
	{
		"type": "function",
		"name": "execute",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "dest", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "func", "type": "bytes"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "executeBatch",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "dest", "type": "address[]"},
			{"name": "func", "type": "bytes[]"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "createAccount",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "salt", "type": "uint256"},
			{"name": "aPublicKey", "type": "uint256[4]"}
		],
		"outputs": [{"name": "ret", "type": "address"}]
	}
]`

var parsedABI abi.ABI

func init() {
	var err error
	parsedABI, err = abi.JSON(strings.NewReader(blsAccountABI))
	if err != nil {
		panic(fmt.Sprintf("failed to parse BLS account ABI: %v", err))
	}
}

type Config struct {
	// FactoryAddress deploys the account through createAccount(salt, publicKey)
	FactoryAddress common.Address
	Salt           *big.Int
}

// BLSAccount implements account.IAccount.
type BLSAccount struct {
	config     *Config
	signer     blsSigner.IBLSSigner
	entryPoint entryPoint.IEntryPoint
	logger     *zap.Logger
}

func NewBLSAccount(cfg *Config, signer blsSigner.IBLSSigner, ep entryPoint.IEntryPoint, l *zap.Logger) (*BLSAccount, error) {
	if cfg == nil || cfg.FactoryAddress == (common.Address{}) {
		return nil, fmt.Errorf("BLS account factory address is required")
	}
	if cfg.Salt == nil {
		cfg.Salt = new(big.Int)
	}
	return &BLSAccount{
		config:     cfg,
		signer:     signer,
		entryPoint: ep,
		logger:     l,
	}, nil
}

func (b *BLSAccount) GetFactoryAddress() common.Address {
	return b.config.FactoryAddress
}

// GetAccountInitCode returns factory ++ createAccount(salt, publicKey).
func (b *BLSAccount) GetAccountInitCode(ctx context.Context) ([]byte, error) {
	publicKey, err := b.publicKeyWords(ctx)
	if err != nil {
		return nil, err
	}
	factoryData, err := parsedABI.Pack("createAccount", b.config.Salt, publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to pack createAccount: %w", err)
	}
	return append(b.config.FactoryAddress.Bytes(), factoryData...), nil
}

func (b *BLSAccount) publicKeyWords(ctx context.Context) ([4]*big.Int, error) {
	var words [4]*big.Int
	pub, err := b.signer.GetPublicKey(ctx)
	if err != nil {
		return words, fmt.Errorf("failed to get BLS public key: %w", err)
	}
	encoded, err := blsSigner.PublicKeyToPrecompileFormat(pub)
	if err != nil {
		return words, err
	}
	for i := range words {
		words[i] = new(big.Int).SetBytes(encoded[i*32 : (i+1)*32])
	}
	return words, nil
}

func (b *BLSAccount) GetNonce(ctx context.Context, sender common.Address) (*big.Int, error) {
	return b.entryPoint.GetNonce(ctx, sender, big.NewInt(0))
}

func (b *BLSAccount) EncodeExecute(target common.Address, value *big.Int, data []byte) ([]byte, error) {
	if value == nil {
		value = new(big.Int)
	}
	if data == nil {
		data = []byte{}
	}
	return parsedABI.Pack("execute", target, value, data)
}

func (b *BLSAccount) DecodeExecute(callData []byte) (*account.Call, error) {
	values, err := unpackMethod("execute", callData)
	if err != nil {
		return nil, err
	}
	to, _ := values[0].(common.Address)
	value, _ := values[1].(*big.Int)
	data, _ := values[2].([]byte)
	return &account.Call{To: to, Value: value, Data: data}, nil
}

func (b *BLSAccount) EncodeExecuteDelegate(common.Address, *big.Int, []byte) ([]byte, error) {
	return nil, account.ErrDelegateCallUnsupported
}

func (b *BLSAccount) DecodeExecuteDelegate([]byte) (*account.Call, error) {
	return nil, account.ErrDelegateCallUnsupported
}

// EncodeExecuteBatch encodes executeBatch(dest[], func[]). The account cannot
// forward value or delegate-call inside a batch.
func (b *BLSAccount) EncodeExecuteBatch(calls []account.Call) ([]byte, error) {
	for i, call := range calls {
		if call.DelegateCall {
			return nil, fmt.Errorf("batch call %d: %w", i, account.ErrDelegateCallUnsupported)
		}
		if call.Value != nil && call.Value.Sign() != 0 {
			return nil, fmt.Errorf("batch call %d: executeBatch cannot transfer value", i)
		}
	}
	dest := util.Map(calls, func(c account.Call, _ int) common.Address { return c.To })
	funcs := util.Map(calls, func(c account.Call, _ int) []byte {
		if c.Data == nil {
			return []byte{}
		}
		return c.Data
	})
	return parsedABI.Pack("executeBatch", dest, funcs)
}

func (b *BLSAccount) DecodeExecuteBatch(callData []byte) ([]account.Call, error) {
	values, err := unpackMethod("executeBatch", callData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", account.ErrNotBatchCall, err)
	}
	dest, _ := values[0].([]common.Address)
	funcs, _ := values[1].([][]byte)
	if len(dest) != len(funcs) {
		return nil, fmt.Errorf("executeBatch has %d targets and %d payloads", len(dest), len(funcs))
	}
	return util.Map(dest, func(to common.Address, i int) account.Call {
		return account.Call{To: to, Value: new(big.Int), Data: funcs[i]}
	}), nil
}

// SignUserOpHash returns the 64-byte BLS signature of the hash.
func (b *BLSAccount) SignUserOpHash(ctx context.Context, hash common.Hash) ([]byte, error) {
	sig, err := b.signer.SignBytes(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign user operation hash: %w", err)
	}
	return blsSigner.SignatureToPrecompileFormat(sig)
}

// SignMessage signs keccak256(message).
func (b *BLSAccount) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	return b.SignUserOpHash(ctx, crypto.Keccak256Hash(message))
}

func (b *BLSAccount) DummySignature() []byte {
	return bytes.Repeat([]byte{0xff}, blsSigner.SignatureLength)
}

func unpackMethod(name string, callData []byte) ([]interface{}, error) {
	method := parsedABI.Methods[name]
	if len(callData) < 4 || !bytes.Equal(callData[:4], method.ID) {
		return nil, fmt.Errorf("call data is not %s", name)
	}
	values, err := method.Inputs.Unpack(callData[4:])
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", name, err)
	}
	return values, nil
}
