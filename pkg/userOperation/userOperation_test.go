package userOperation

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolvedOperation() UserOperation {
	return UserOperation{
		Sender:               common.HexToAddress("0x1234567890123456789012345678901234567890"),
		Nonce:                big.NewInt(1),
		InitCode:             []byte{},
		CallData:             []byte{0xde, 0xad},
		CallGasLimit:         big.NewInt(50000),
		VerificationGasLimit: big.NewInt(110000),
		PreVerificationGas:   big.NewInt(45000),
		MaxFeePerGas:         big.NewInt(3_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_500_000_000),
		PaymasterAndData:     []byte{},
		Signature:            []byte{},
	}
}

func TestUserOperation_WithTransforms_DoNotAlias(t *testing.T) {
	op := resolvedOperation()
	callData := []byte{0x01}

	next := op.WithCallData(callData).WithGasLimits(GasLimits{CallGasLimit: big.NewInt(1)})
	callData[0] = 0x02
	next.Nonce.SetInt64(99)

	assert.Equal(t, []byte{0x01}, next.CallData)
	assert.Equal(t, []byte{0xde, 0xad}, op.CallData)
	assert.Equal(t, int64(1), op.Nonce.Int64())
	assert.Equal(t, int64(50000), op.CallGasLimit.Int64())
	assert.Equal(t, int64(1), next.CallGasLimit.Int64())
}

func TestUserOperation_WithGasLimits_SkipsNilFields(t *testing.T) {
	op := resolvedOperation().WithGasLimits(GasLimits{PreVerificationGas: big.NewInt(5)})

	assert.Equal(t, int64(5), op.PreVerificationGas.Int64())
	assert.Equal(t, int64(50000), op.CallGasLimit.Int64())
	assert.Equal(t, int64(110000), op.VerificationGasLimit.Int64())
}

func TestUserOperation_WithFees_KeepsNil(t *testing.T) {
	op := resolvedOperation().WithFees(nil, nil)
	assert.Nil(t, op.MaxFeePerGas)
	assert.Nil(t, op.MaxPriorityFeePerGas)
}

func TestUserOperation_Validate(t *testing.T) {
	assert.NoError(t, resolvedOperation().Validate())

	unresolved := resolvedOperation().WithFees(nil, nil)
	err := unresolved.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolvedField))

	inverted := resolvedOperation().WithFees(big.NewInt(1), big.NewInt(2))
	err = inverted.Validate()
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnresolvedField))

	negative := resolvedOperation().WithGasLimits(GasLimits{CallGasLimit: big.NewInt(-1)})
	assert.Error(t, negative.Validate())
}

func TestUserOperation_PaymasterAddress(t *testing.T) {
	paymaster := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	op := resolvedOperation().WithPaymasterAndData(append(paymaster.Bytes(), 0x01, 0x02))

	assert.Equal(t, paymaster, op.PaymasterAddress())
	assert.Equal(t, common.Address{}, resolvedOperation().PaymasterAddress())
}

func TestUserOperation_Pack_LengthTracksPayloads(t *testing.T) {
	op := resolvedOperation()
	packed, err := op.Pack()
	require.NoError(t, err)
	// 11 head words + 4 length words + 1 word of call data
	assert.Len(t, packed, 32*16)

	op.PreVerificationGas = nil
	packedNil, err := op.Pack()
	require.NoError(t, err)
	assert.Len(t, packedNil, 32*16)

	longer, err := op.WithCallData(make([]byte, 33)).Pack()
	require.NoError(t, err)
	assert.Len(t, longer, 32*17)
}

func TestUserOperation_JSON_WireFormat(t *testing.T) {
	op := resolvedOperation()
	encoded, err := json.Marshal(op)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(encoded, &fields))
	assert.Equal(t, "0xdead", fields["callData"])
	assert.Equal(t, "0xc350", fields["callGasLimit"])
	assert.Equal(t, "0x", fields["signature"])

	var decoded UserOperation
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, op, decoded)
}
