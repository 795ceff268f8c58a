// Package multiSend encodes batches for the Gnosis-style MultiSend contract that
// Kernel accounts delegate-call to execute several calls in one operation.
//
// Each call is packed as operation(1) ++ to(20) ++ value(32) ++ dataLength(32) ++ data,
// and the concatenation is passed to multiSend(bytes).
package multiSend

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/Layr-Labs/userop-go/pkg/account"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultAddress is the MultiSend deployment used by Kernel v1 accounts.
var DefaultAddress = common.HexToAddress("0x8ae01fCF7c655655fF2c6Ef907b8B4718Ab4e17c")

const (
	operationCall         = 0
	operationDelegateCall = 1

	headerLength = 1 + common.AddressLength + 32 + 32
)

const multiSendABI = `[{"type":"function","name":"multiSend","stateMutability":"payable","inputs":[{"name":"transactions","type":"bytes"}],"outputs":[]}]`

var parsedABI abi.ABI

func init() {
	var err error
	parsedABI, err = abi.JSON(strings.NewReader(multiSendABI))
	if err != nil {
		panic(fmt.Sprintf("failed to parse MultiSend ABI: %v", err))
	}
}

// Pack concatenates calls in the MultiSend transaction layout.
func Pack(calls []account.Call) ([]byte, error) {
	var buf bytes.Buffer
	for i, call := range calls {
		value := call.Value
		if value == nil {
			value = new(big.Int)
		}
		if value.Sign() < 0 || value.BitLen() > 256 {
			return nil, fmt.Errorf("call %d has an invalid value %s", i, value)
		}
		op := byte(operationCall)
		if call.DelegateCall {
			op = operationDelegateCall
		}
		buf.WriteByte(op)
		buf.Write(call.To.Bytes())
		buf.Write(common.LeftPadBytes(value.Bytes(), 32))
		buf.Write(common.LeftPadBytes(big.NewInt(int64(len(call.Data))).Bytes(), 32))
		buf.Write(call.Data)
	}
	return buf.Bytes(), nil
}

// Unpack splits packed MultiSend transactions back into calls.
func Unpack(packed []byte) ([]account.Call, error) {
	var calls []account.Call
	for offset := 0; offset < len(packed); {
		if len(packed)-offset < headerLength {
			return nil, fmt.Errorf("truncated transaction header at offset %d", offset)
		}
		op := packed[offset]
		if op != operationCall && op != operationDelegateCall {
			return nil, fmt.Errorf("unknown operation %d at offset %d", op, offset)
		}
		to := common.BytesToAddress(packed[offset+1 : offset+21])
		value := new(big.Int).SetBytes(packed[offset+21 : offset+53])
		length := new(big.Int).SetBytes(packed[offset+53 : offset+85])
		offset += headerLength

		if !length.IsInt64() || length.Int64() > int64(len(packed)-offset) {
			return nil, fmt.Errorf("transaction data length %s exceeds remaining %d bytes", length, len(packed)-offset)
		}
		end := offset + int(length.Int64())
		calls = append(calls, account.Call{
			To:           to,
			Value:        value,
			Data:         common.CopyBytes(packed[offset:end]),
			DelegateCall: op == operationDelegateCall,
		})
		offset = end
	}
	return calls, nil
}

// EncodeMultiSend returns multiSend(bytes) call data for calls.
func EncodeMultiSend(calls []account.Call) ([]byte, error) {
	packed, err := Pack(calls)
	if err != nil {
		return nil, err
	}
	return parsedABI.Pack("multiSend", packed)
}

// DecodeMultiSend decodes multiSend(bytes) call data.
func DecodeMultiSend(callData []byte) ([]account.Call, error) {
	method := parsedABI.Methods["multiSend"]
	if len(callData) < 4 || !bytes.Equal(callData[:4], method.ID) {
		return nil, fmt.Errorf("call data is not a multiSend call")
	}
	values, err := method.Inputs.Unpack(callData[4:])
	if err != nil {
		return nil, fmt.Errorf("failed to unpack multiSend: %w", err)
	}
	packed, ok := values[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected multiSend argument type %T", values[0])
	}
	return Unpack(packed)
}
