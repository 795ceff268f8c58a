package blsAccount

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/Layr-Labs/userop-go/pkg/account"
	"github.com/Layr-Labs/userop-go/pkg/blsSigner"
	"github.com/Layr-Labs/userop-go/pkg/chainManager"
	"github.com/Layr-Labs/userop-go/pkg/entryPoint"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testBLSPrivateKey = "1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef"

var testFactory = common.HexToAddress("0x00000000000000000000000000000000000fac70")

func setupBLSAccount(t *testing.T) *BLSAccount {
	pk, err := blsSigner.PrivateKeyFromHex(testBLSPrivateKey)
	require.NoError(t, err)
	signer, err := blsSigner.NewInMemoryBLSSigner(pk)
	require.NoError(t, err)
	ep := entryPoint.NewEntryPoint(nil, chainManager.NewMockEthClientInterface(t), zap.NewNop())

	acc, err := NewBLSAccount(&Config{FactoryAddress: testFactory, Salt: big.NewInt(1)}, signer, ep, zap.NewNop())
	require.NoError(t, err)
	return acc
}

func TestBLSAccount_GetAccountInitCode(t *testing.T) {
	acc := setupBLSAccount(t)

	initCode, err := acc.GetAccountInitCode(context.Background())
	require.NoError(t, err)

	factory, factoryData, err := account.FactoryCall(initCode)
	require.NoError(t, err)
	assert.Equal(t, testFactory, factory)
	// selector + salt + uint256[4] public key
	assert.Len(t, factoryData, 4+32+4*32)

	args, err := parsedABI.Methods["createAccount"].Inputs.Unpack(factoryData[4:])
	require.NoError(t, err)
	assert.Equal(t, int64(1), args[0].(*big.Int).Int64())
}

func TestBLSAccount_Execute_RoundTrip(t *testing.T) {
	acc := setupBLSAccount(t)
	target := common.HexToAddress("0xaa")

	callData, err := acc.EncodeExecute(target, big.NewInt(7), []byte{0x01})
	require.NoError(t, err)
	call, err := acc.DecodeExecute(callData)
	require.NoError(t, err)
	assert.Equal(t, target, call.To)
	assert.Equal(t, int64(7), call.Value.Int64())
	assert.Equal(t, []byte{0x01}, call.Data)
}

func TestBLSAccount_ExecuteBatch_RoundTrip(t *testing.T) {
	acc := setupBLSAccount(t)
	calls := []account.Call{
		{To: common.HexToAddress("0xaa"), Data: []byte{0x01}},
		{To: common.HexToAddress("0xbb"), Value: big.NewInt(0), Data: []byte{0x02}},
	}

	callData, err := acc.EncodeExecuteBatch(calls)
	require.NoError(t, err)
	decoded, err := acc.DecodeExecuteBatch(callData)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, calls[0].To, decoded[0].To)
	assert.Equal(t, calls[1].Data, decoded[1].Data)

	single, err := acc.EncodeExecute(common.HexToAddress("0xaa"), nil, nil)
	require.NoError(t, err)
	_, err = acc.DecodeExecuteBatch(single)
	assert.True(t, errors.Is(err, account.ErrNotBatchCall))
}

func TestBLSAccount_ExecuteBatch_RejectsValueAndDelegate(t *testing.T) {
	acc := setupBLSAccount(t)

	_, err := acc.EncodeExecuteBatch([]account.Call{{To: common.HexToAddress("0xaa"), Value: big.NewInt(1)}})
	assert.Error(t, err)

	_, err = acc.EncodeExecuteBatch([]account.Call{{To: common.HexToAddress("0xaa"), DelegateCall: true}})
	assert.True(t, errors.Is(err, account.ErrDelegateCallUnsupported))

	_, err = acc.EncodeExecuteDelegate(common.HexToAddress("0xaa"), nil, nil)
	assert.True(t, errors.Is(err, account.ErrDelegateCallUnsupported))
}

func TestBLSAccount_Signatures(t *testing.T) {
	acc := setupBLSAccount(t)

	sig, err := acc.SignUserOpHash(context.Background(), common.HexToHash("0x01"))
	require.NoError(t, err)
	assert.Len(t, sig, len(acc.DummySignature()))
	assert.Len(t, acc.DummySignature(), blsSigner.SignatureLength)

	msgSig, err := acc.SignMessage(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.NotEqual(t, sig, msgSig)
}
