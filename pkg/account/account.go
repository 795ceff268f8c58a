// Package account defines the capability interface implemented by each smart
// account variant. The operation builder is written against IAccount only and
// never branches on the concrete account type.
package account

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrDelegateCallUnsupported is returned by variants that cannot execute delegate calls
	ErrDelegateCallUnsupported = errors.New("account does not support delegate calls")
	// ErrNotBatchCall is returned when call data does not decode as the variant's batch call
	ErrNotBatchCall = errors.New("call data is not a batch call")
)

// ExecuteType selects how TransactionDetails are encoded into account call data.
type ExecuteType int

const (
	ExecuteTypeExecute ExecuteType = iota
	ExecuteTypeDelegate
	ExecuteTypeBatch
)

func (e ExecuteType) String() string {
	switch e {
	case ExecuteTypeExecute:
		return "execute"
	case ExecuteTypeDelegate:
		return "executeDelegate"
	case ExecuteTypeBatch:
		return "executeBatch"
	default:
		return fmt.Sprintf("ExecuteType(%d)", int(e))
	}
}

// Call is a single call executed by the account.
type Call struct {
	To           common.Address
	Value        *big.Int
	Data         []byte
	DelegateCall bool
}

// TransactionDetails describes what the account should execute and any caller
// supplied overrides for gas and fees.
type TransactionDetails struct {
	Target common.Address
	Value  *big.Int
	// Data is the inner call data, or for ExecuteTypeBatch an already encoded batch call
	Data        []byte
	Calls       []Call
	ExecuteType ExecuteType

	// GasLimit overrides the call gas estimate
	GasLimit             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	// GasPrice is the single legacy fee used on chains without a base fee
	GasPrice *big.Int
	Nonce    *big.Int
}

// IAccount is implemented by every smart account variant.
type IAccount interface {
	// GetFactoryAddress returns the factory that deploys the account
	GetFactoryAddress() common.Address
	// GetAccountInitCode returns factory address ++ factory call data
	GetAccountInitCode(ctx context.Context) ([]byte, error)
	// GetNonce returns the next operation nonce of sender
	GetNonce(ctx context.Context, sender common.Address) (*big.Int, error)

	EncodeExecute(target common.Address, value *big.Int, data []byte) ([]byte, error)
	DecodeExecute(callData []byte) (*Call, error)
	EncodeExecuteDelegate(target common.Address, value *big.Int, data []byte) ([]byte, error)
	DecodeExecuteDelegate(callData []byte) (*Call, error)
	EncodeExecuteBatch(calls []Call) ([]byte, error)
	// DecodeExecuteBatch returns ErrNotBatchCall when callData is not a batch call
	DecodeExecuteBatch(callData []byte) ([]Call, error)

	// SignUserOpHash returns the operation signature the account validates
	SignUserOpHash(ctx context.Context, hash common.Hash) ([]byte, error)
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
	// DummySignature has the length and shape of a real signature and is used for sizing
	DummySignature() []byte
}

// EncodeCallData encodes details as account call data according to its ExecuteType.
func EncodeCallData(acc IAccount, details TransactionDetails) ([]byte, error) {
	value := details.Value
	if value == nil {
		value = new(big.Int)
	}
	switch details.ExecuteType {
	case ExecuteTypeExecute:
		return acc.EncodeExecute(details.Target, value, details.Data)
	case ExecuteTypeDelegate:
		return acc.EncodeExecuteDelegate(details.Target, value, details.Data)
	case ExecuteTypeBatch:
		if len(details.Calls) > 0 {
			return acc.EncodeExecuteBatch(details.Calls)
		}
		if len(details.Data) == 0 {
			return nil, fmt.Errorf("batch call requires calls or encoded call data")
		}
		return common.CopyBytes(details.Data), nil
	default:
		return nil, fmt.Errorf("unsupported execute type %s", details.ExecuteType)
	}
}

// Calls returns the calls that details executes, decoding pre-encoded batch
// call data through acc.
func Calls(acc IAccount, details TransactionDetails) ([]Call, error) {
	value := details.Value
	if value == nil {
		value = new(big.Int)
	}
	switch details.ExecuteType {
	case ExecuteTypeExecute:
		return []Call{{To: details.Target, Value: value, Data: details.Data}}, nil
	case ExecuteTypeDelegate:
		return []Call{{To: details.Target, Value: value, Data: details.Data, DelegateCall: true}}, nil
	case ExecuteTypeBatch:
		if len(details.Calls) > 0 {
			return details.Calls, nil
		}
		calls, err := acc.DecodeExecuteBatch(details.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode batch call data: %w", err)
		}
		return calls, nil
	default:
		return nil, fmt.Errorf("unsupported execute type %s", details.ExecuteType)
	}
}

// FactoryCall splits init code into the factory address and the factory call data.
func FactoryCall(initCode []byte) (common.Address, []byte, error) {
	if len(initCode) < common.AddressLength {
		return common.Address{}, nil, fmt.Errorf("init code is shorter than an address: %d bytes", len(initCode))
	}
	return common.BytesToAddress(initCode[:common.AddressLength]), common.CopyBytes(initCode[common.AddressLength:]), nil
}
