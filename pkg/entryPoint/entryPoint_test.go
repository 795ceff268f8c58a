package entryPoint

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/Layr-Labs/userop-go/pkg/chainManager"
	"github.com/Layr-Labs/userop-go/pkg/userOperation"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// revertError mimics the JSON-RPC error returned by eth_call on revert
type revertError struct {
	data interface{}
}

func (e *revertError) Error() string          { return "execution reverted" }
func (e *revertError) ErrorCode() int         { return 3 }
func (e *revertError) ErrorData() interface{} { return e.data }

func setupEntryPoint(t *testing.T) (*EntryPoint, *chainManager.MockEthClientInterface) {
	mockClient := chainManager.NewMockEthClientInterface(t)
	l, _ := zap.NewDevelopment()
	return NewEntryPoint(nil, mockClient, l), mockClient
}

func TestNewEntryPoint_DefaultAddress(t *testing.T) {
	ep, _ := setupEntryPoint(t)
	assert.Equal(t, DefaultAddress, ep.Address())
}

func TestEntryPoint_IsDeployed(t *testing.T) {
	ep, mockClient := setupEntryPoint(t)
	mockClient.On("CodeAt", mock.Anything, DefaultAddress, mock.Anything).Return([]byte{0x60, 0x80}, nil).Once()
	mockClient.On("CodeAt", mock.Anything, DefaultAddress, mock.Anything).Return([]byte{}, nil).Once()

	deployed, err := ep.IsDeployed(context.Background())
	require.NoError(t, err)
	assert.True(t, deployed)

	deployed, err = ep.IsDeployed(context.Background())
	require.NoError(t, err)
	assert.False(t, deployed)
}

func TestEntryPoint_SimulateSenderAddress_ReportsSender(t *testing.T) {
	ep, mockClient := setupEntryPoint(t)
	sender := common.HexToAddress("0x00000000000000000000000000000000000c0ffe")
	initCode := []byte{0x01, 0x02, 0x03}

	mockClient.On("CallContract", mock.Anything, mock.MatchedBy(func(msg ethereum.CallMsg) bool {
		return *msg.To == DefaultAddress && len(msg.Data) > 4
	}), mock.Anything).Return(nil, &revertError{data: hexutil.Encode(EncodeSenderAddressResult(sender))})

	result, err := ep.SimulateSenderAddress(context.Background(), initCode)
	require.NoError(t, err)
	assert.Equal(t, sender, result.Sender)
}

func TestEntryPoint_SimulateSenderAddress_Failures(t *testing.T) {
	tests := []struct {
		name    string
		callErr error
	}{
		{"call succeeds", nil},
		{"transport error", errors.New("connection refused")},
		{"other revert", &revertError{data: "0x08c379a0"}},
		{"undecodable revert data", &revertError{data: "not hex"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, mockClient := setupEntryPoint(t)
			mockClient.On("CallContract", mock.Anything, mock.Anything, mock.Anything).Return([]byte{}, tt.callErr)

			_, err := ep.SimulateSenderAddress(context.Background(), []byte{0x01})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSenderAddressNotReported))
		})
	}
}

func TestDecodeSenderAddressResult(t *testing.T) {
	sender := common.HexToAddress("0x1234567890123456789012345678901234567890")
	decoded, ok := DecodeSenderAddressResult(EncodeSenderAddressResult(sender))
	assert.True(t, ok)
	assert.Equal(t, sender, decoded)

	_, ok = DecodeSenderAddressResult([]byte{0x6c, 0xa7})
	assert.False(t, ok)
}

func TestEntryPoint_GetUserOpHash(t *testing.T) {
	ep, mockClient := setupEntryPoint(t)
	expected := common.HexToHash("0xaa00000000000000000000000000000000000000000000000000000000000001")

	mockClient.On("CallContract", mock.Anything, mock.Anything, mock.Anything).Return(expected.Bytes(), nil)

	op := userOperation.UserOperation{
		Sender:               common.HexToAddress("0x1234567890123456789012345678901234567890"),
		Nonce:                big.NewInt(0),
		CallGasLimit:         big.NewInt(1),
		VerificationGasLimit: big.NewInt(1),
		PreVerificationGas:   big.NewInt(1),
		MaxFeePerGas:         big.NewInt(2),
		MaxPriorityFeePerGas: big.NewInt(1),
	}
	hash, err := ep.GetUserOpHash(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, expected, hash)
}

func TestEntryPoint_GetUserOpHash_RejectsUnresolved(t *testing.T) {
	ep, _ := setupEntryPoint(t)
	_, err := ep.GetUserOpHash(context.Background(), userOperation.UserOperation{})
	assert.True(t, errors.Is(err, userOperation.ErrUnresolvedField))
}

func TestEntryPoint_GetNonce(t *testing.T) {
	ep, mockClient := setupEntryPoint(t)
	mockClient.On("CallContract", mock.Anything, mock.Anything, mock.Anything).
		Return(common.LeftPadBytes(big.NewInt(5).Bytes(), 32), nil)

	nonce, err := ep.GetNonce(context.Background(), common.HexToAddress("0x01"), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), nonce.Int64())
}

func TestEntryPoint_FilterAndParseUserOperationEvents(t *testing.T) {
	ep, mockClient := setupEntryPoint(t)
	opHash := common.HexToHash("0xbeef")
	sender := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	data, err := parsedABI.Events["UserOperationEvent"].Inputs.NonIndexed().Pack(big.NewInt(3), true, big.NewInt(1000), big.NewInt(50))
	require.NoError(t, err)
	log := types.Log{
		Address:     DefaultAddress,
		Topics:      []common.Hash{UserOperationEventTopic(), opHash, common.BytesToHash(sender.Bytes()), {}},
		Data:        data,
		TxHash:      common.HexToHash("0x7777"),
		BlockNumber: 42,
	}

	mockClient.On("FilterLogs", mock.Anything, mock.MatchedBy(func(q ethereum.FilterQuery) bool {
		return q.Topics[1][0] == opHash && q.Addresses[0] == DefaultAddress && q.FromBlock.Int64() == 10
	})).Return([]types.Log{log}, nil)

	logs, err := ep.FilterUserOperationEvents(context.Background(), opHash, big.NewInt(10))
	require.NoError(t, err)
	require.Len(t, logs, 1)

	event, err := ParseUserOperationEvent(logs[0])
	require.NoError(t, err)
	assert.Equal(t, opHash, event.UserOpHash)
	assert.Equal(t, sender, event.Sender)
	assert.True(t, event.Success)
	assert.Equal(t, int64(1000), event.ActualGasCost.Int64())
	assert.Equal(t, common.HexToHash("0x7777"), event.TxHash)
}

func TestUserOperationEventTopic(t *testing.T) {
	assert.Equal(t,
		common.HexToHash("0x49628fd1471006c1482da88028e9ce4dbb080b815c9b0344d39e5a8e6ec1419f"),
		UserOperationEventTopic())
}
