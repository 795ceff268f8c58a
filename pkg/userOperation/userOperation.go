// Package userOperation defines the ERC-4337 (v0.6) operation envelope.
//
// UserOperation values are treated as immutable: every With* method returns a
// modified copy and never aliases the receiver's byte slices or integers, so a
// build pipeline can be expressed as a chain of transformations.
package userOperation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	// ErrUnresolvedField is returned when a numeric envelope field is still nil at signing time
	ErrUnresolvedField = errors.New("user operation field is unresolved")
)

// UserOperation is the envelope relayed to the entry point on behalf of a smart account.
type UserOperation struct {
	Sender               common.Address
	Nonce                *big.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	PaymasterAndData     []byte
	Signature            []byte
}

// GasLimits groups the three gas limits of an envelope. Nil fields are left untouched by WithGasLimits.
type GasLimits struct {
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return common.CopyBytes(b)
}

// Copy returns a deep copy of the operation.
func (op UserOperation) Copy() UserOperation {
	return UserOperation{
		Sender:               op.Sender,
		Nonce:                copyBig(op.Nonce),
		InitCode:             copyBytes(op.InitCode),
		CallData:             copyBytes(op.CallData),
		CallGasLimit:         copyBig(op.CallGasLimit),
		VerificationGasLimit: copyBig(op.VerificationGasLimit),
		PreVerificationGas:   copyBig(op.PreVerificationGas),
		MaxFeePerGas:         copyBig(op.MaxFeePerGas),
		MaxPriorityFeePerGas: copyBig(op.MaxPriorityFeePerGas),
		PaymasterAndData:     copyBytes(op.PaymasterAndData),
		Signature:            copyBytes(op.Signature),
	}
}

func (op UserOperation) WithCallData(callData []byte) UserOperation {
	out := op.Copy()
	out.CallData = copyBytes(callData)
	return out
}

func (op UserOperation) WithPaymasterAndData(data []byte) UserOperation {
	out := op.Copy()
	out.PaymasterAndData = copyBytes(data)
	return out
}

func (op UserOperation) WithSignature(sig []byte) UserOperation {
	out := op.Copy()
	out.Signature = copyBytes(sig)
	return out
}

// WithGasLimits replaces every non-nil limit in g.
func (op UserOperation) WithGasLimits(g GasLimits) UserOperation {
	out := op.Copy()
	if g.CallGasLimit != nil {
		out.CallGasLimit = copyBig(g.CallGasLimit)
	}
	if g.VerificationGasLimit != nil {
		out.VerificationGasLimit = copyBig(g.VerificationGasLimit)
	}
	if g.PreVerificationGas != nil {
		out.PreVerificationGas = copyBig(g.PreVerificationGas)
	}
	return out
}

// WithFees sets both fee bounds; nil values are kept nil (legacy chains).
func (op UserOperation) WithFees(maxFeePerGas, maxPriorityFeePerGas *big.Int) UserOperation {
	out := op.Copy()
	out.MaxFeePerGas = copyBig(maxFeePerGas)
	out.MaxPriorityFeePerGas = copyBig(maxPriorityFeePerGas)
	return out
}

// IsDeployment reports whether the envelope carries a bootstrap payload.
func (op UserOperation) IsDeployment() bool {
	return len(op.InitCode) > 0
}

// PaymasterAddress returns the sponsor contract named in the first 20 bytes of PaymasterAndData.
func (op UserOperation) PaymasterAddress() common.Address {
	if len(op.PaymasterAndData) < common.AddressLength {
		return common.Address{}
	}
	return common.BytesToAddress(op.PaymasterAndData[:common.AddressLength])
}

// Validate checks that every numeric field is resolved and the fee bounds are consistent.
func (op UserOperation) Validate() error {
	fields := []struct {
		name  string
		value *big.Int
	}{
		{"nonce", op.Nonce},
		{"callGasLimit", op.CallGasLimit},
		{"verificationGasLimit", op.VerificationGasLimit},
		{"preVerificationGas", op.PreVerificationGas},
		{"maxFeePerGas", op.MaxFeePerGas},
		{"maxPriorityFeePerGas", op.MaxPriorityFeePerGas},
	}
	for _, f := range fields {
		if f.value == nil {
			return fmt.Errorf("%w: %s", ErrUnresolvedField, f.name)
		}
		if f.value.Sign() < 0 {
			return fmt.Errorf("user operation field %s is negative: %s", f.name, f.value)
		}
	}
	if op.MaxPriorityFeePerGas.Cmp(op.MaxFeePerGas) > 0 {
		return fmt.Errorf("maxPriorityFeePerGas %s exceeds maxFeePerGas %s", op.MaxPriorityFeePerGas, op.MaxFeePerGas)
	}
	return nil
}

var packArguments abi.Arguments

func init() {
	mustType := func(t string) abi.Type {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		return typ
	}
	address, uint256, bytesT := mustType("address"), mustType("uint256"), mustType("bytes")
	packArguments = abi.Arguments{
		{Name: "sender", Type: address},
		{Name: "nonce", Type: uint256},
		{Name: "initCode", Type: bytesT},
		{Name: "callData", Type: bytesT},
		{Name: "callGasLimit", Type: uint256},
		{Name: "verificationGasLimit", Type: uint256},
		{Name: "preVerificationGas", Type: uint256},
		{Name: "maxFeePerGas", Type: uint256},
		{Name: "maxPriorityFeePerGas", Type: uint256},
		{Name: "paymasterAndData", Type: bytesT},
		{Name: "signature", Type: bytesT},
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// Pack ABI-encodes every field of the operation, signature included, the way
// it is laid out in handleOps calldata. Unresolved numbers are encoded as zero;
// only the length of the result matters for calldata cost estimation.
func (op UserOperation) Pack() ([]byte, error) {
	return packArguments.Pack(
		op.Sender,
		orZero(op.Nonce),
		copyBytes(op.InitCode),
		copyBytes(op.CallData),
		orZero(op.CallGasLimit),
		orZero(op.VerificationGasLimit),
		orZero(op.PreVerificationGas),
		orZero(op.MaxFeePerGas),
		orZero(op.MaxPriorityFeePerGas),
		copyBytes(op.PaymasterAndData),
		copyBytes(op.Signature),
	)
}

type jsonUserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *hexutil.Big   `json:"nonce"`
	InitCode             hexutil.Bytes  `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes  `json:"paymasterAndData"`
	Signature            hexutil.Bytes  `json:"signature"`
}

// MarshalJSON renders the operation in the bundler RPC wire format (hex quantities and bytes).
func (op UserOperation) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonUserOperation{
		Sender:               op.Sender,
		Nonce:                (*hexutil.Big)(op.Nonce),
		InitCode:             copyBytes(op.InitCode),
		CallData:             copyBytes(op.CallData),
		CallGasLimit:         (*hexutil.Big)(op.CallGasLimit),
		VerificationGasLimit: (*hexutil.Big)(op.VerificationGasLimit),
		PreVerificationGas:   (*hexutil.Big)(op.PreVerificationGas),
		MaxFeePerGas:         (*hexutil.Big)(op.MaxFeePerGas),
		MaxPriorityFeePerGas: (*hexutil.Big)(op.MaxPriorityFeePerGas),
		PaymasterAndData:     copyBytes(op.PaymasterAndData),
		Signature:            copyBytes(op.Signature),
	})
}

func (op *UserOperation) UnmarshalJSON(data []byte) error {
	var dec jsonUserOperation
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	*op = UserOperation{
		Sender:               dec.Sender,
		Nonce:                (*big.Int)(dec.Nonce),
		InitCode:             copyBytes(dec.InitCode),
		CallData:             copyBytes(dec.CallData),
		CallGasLimit:         (*big.Int)(dec.CallGasLimit),
		VerificationGasLimit: (*big.Int)(dec.VerificationGasLimit),
		PreVerificationGas:   (*big.Int)(dec.PreVerificationGas),
		MaxFeePerGas:         (*big.Int)(dec.MaxFeePerGas),
		MaxPriorityFeePerGas: (*big.Int)(dec.MaxPriorityFeePerGas),
		PaymasterAndData:     copyBytes(dec.PaymasterAndData),
		Signature:            copyBytes(dec.Signature),
	}
	return nil
}
