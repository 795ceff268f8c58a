package account

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingAccount tags its encodings so tests can see which method produced them
type recordingAccount struct {
	batch []Call
}

func (r *recordingAccount) GetFactoryAddress() common.Address                  { return common.Address{} }
func (r *recordingAccount) GetAccountInitCode(context.Context) ([]byte, error) { return nil, nil }
func (r *recordingAccount) GetNonce(context.Context, common.Address) (*big.Int, error) {
	return nil, nil
}
func (r *recordingAccount) EncodeExecute(common.Address, *big.Int, []byte) ([]byte, error) {
	return []byte("execute"), nil
}
func (r *recordingAccount) DecodeExecute([]byte) (*Call, error) { return nil, nil }
func (r *recordingAccount) EncodeExecuteDelegate(common.Address, *big.Int, []byte) ([]byte, error) {
	return []byte("delegate"), nil
}
func (r *recordingAccount) DecodeExecuteDelegate([]byte) (*Call, error) { return nil, nil }
func (r *recordingAccount) EncodeExecuteBatch([]Call) ([]byte, error)   { return []byte("batch"), nil }
func (r *recordingAccount) DecodeExecuteBatch([]byte) ([]Call, error)   { return r.batch, nil }
func (r *recordingAccount) SignUserOpHash(context.Context, common.Hash) ([]byte, error) {
	return nil, nil
}
func (r *recordingAccount) SignMessage(context.Context, []byte) ([]byte, error) { return nil, nil }
func (r *recordingAccount) DummySignature() []byte                              { return nil }

func TestEncodeCallData(t *testing.T) {
	acc := &recordingAccount{}

	tests := []struct {
		details  TransactionDetails
		expected string
	}{
		{TransactionDetails{ExecuteType: ExecuteTypeExecute}, "execute"},
		{TransactionDetails{ExecuteType: ExecuteTypeDelegate}, "delegate"},
		{TransactionDetails{ExecuteType: ExecuteTypeBatch, Calls: []Call{{}}}, "batch"},
		{TransactionDetails{ExecuteType: ExecuteTypeBatch, Data: []byte("encoded")}, "encoded"},
	}
	for _, tt := range tests {
		t.Run(tt.details.ExecuteType.String(), func(t *testing.T) {
			out, err := EncodeCallData(acc, tt.details)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}

	_, err := EncodeCallData(acc, TransactionDetails{ExecuteType: ExecuteTypeBatch})
	assert.Error(t, err)
	_, err = EncodeCallData(acc, TransactionDetails{ExecuteType: ExecuteType(9)})
	assert.Error(t, err)
}

func TestCalls(t *testing.T) {
	inner := []Call{{To: common.HexToAddress("0x01")}, {To: common.HexToAddress("0x02")}}
	acc := &recordingAccount{batch: inner}
	target := common.HexToAddress("0xaa")

	calls, err := Calls(acc, TransactionDetails{Target: target, Data: []byte{0x01}})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, target, calls[0].To)
	assert.Equal(t, int64(0), calls[0].Value.Int64())

	calls, err = Calls(acc, TransactionDetails{Target: target, ExecuteType: ExecuteTypeDelegate})
	require.NoError(t, err)
	assert.True(t, calls[0].DelegateCall)

	calls, err = Calls(acc, TransactionDetails{ExecuteType: ExecuteTypeBatch, Data: []byte{0x01}})
	require.NoError(t, err)
	assert.Equal(t, inner, calls)
}

func TestFactoryCall(t *testing.T) {
	factory := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	addr, data, err := FactoryCall(append(factory.Bytes(), 0xaa, 0xbb))
	require.NoError(t, err)
	assert.Equal(t, factory, addr)
	assert.Equal(t, []byte{0xaa, 0xbb}, data)

	_, _, err = FactoryCall([]byte{0x01})
	assert.Error(t, err)
}
