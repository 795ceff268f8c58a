package addressResolver

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/Layr-Labs/userop-go/pkg/account/kernel"
	"github.com/Layr-Labs/userop-go/pkg/chainManager"
	"github.com/Layr-Labs/userop-go/pkg/entryPoint"
	"github.com/Layr-Labs/userop-go/pkg/txSigner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testPrivateKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var (
	testFactory = common.HexToAddress("0x4E4946298614FC299B50c947289F4aD0572CB9ce")
	testSender  = common.HexToAddress("0x00000000000000000000000000000000000c0ffe")
)

type revertError struct {
	data string
}

func (e *revertError) Error() string          { return "execution reverted" }
func (e *revertError) ErrorData() interface{} { return e.data }

func setupResolver(t *testing.T, cfg *Config) (*AddressResolver, *chainManager.MockEthClientInterface) {
	mockClient := chainManager.NewMockEthClientInterface(t)
	l := zap.NewNop()
	ep := entryPoint.NewEntryPoint(nil, mockClient, l)
	signer, err := txSigner.NewPrivateKeySigner(testPrivateKey)
	require.NoError(t, err)
	acc, err := kernel.NewKernelAccount(&kernel.Config{FactoryAddress: testFactory}, signer, ep, l)
	require.NoError(t, err)
	return NewAddressResolver(cfg, acc, ep, mockClient, l), mockClient
}

func expectSimulation(mockClient *chainManager.MockEthClientInterface) *mock.Call {
	return mockClient.On("CallContract", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &revertError{data: hexutil.Encode(entryPoint.EncodeSenderAddressResult(testSender))})
}

func TestAddressResolver_ResolveAddress_Idempotent(t *testing.T) {
	resolver, mockClient := setupResolver(t, nil)
	expectSimulation(mockClient).Once()

	first, err := resolver.ResolveAddress(context.Background())
	require.NoError(t, err)
	second, err := resolver.ResolveAddress(context.Background())
	require.NoError(t, err)

	assert.Equal(t, testSender, first)
	assert.Equal(t, first, second)
	mockClient.AssertNumberOfCalls(t, "CallContract", 1)
}

func TestAddressResolver_ResolveAddress_ConcurrentCallersSimulateOnce(t *testing.T) {
	resolver, mockClient := setupResolver(t, nil)
	expectSimulation(mockClient).Once()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			addr, err := resolver.ResolveAddress(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, testSender, addr)
		}()
	}
	wg.Wait()
	mockClient.AssertNumberOfCalls(t, "CallContract", 1)
}

func TestAddressResolver_ResolveAddress_PresetSkipsSimulation(t *testing.T) {
	preset := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	resolver, _ := setupResolver(t, &Config{PresetAddress: &preset})

	addr, err := resolver.ResolveAddress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, preset, addr)
}

func TestAddressResolver_ResolveAddress_UnexpectedRevertIsFatal(t *testing.T) {
	resolver, mockClient := setupResolver(t, nil)
	mockClient.On("CallContract", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &revertError{data: "0x08c379a0"})

	_, err := resolver.ResolveAddress(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, entryPoint.ErrSenderAddressNotReported))
}

func TestAddressResolver_IsPhantom_MonotonicTransition(t *testing.T) {
	resolver, mockClient := setupResolver(t, nil)
	expectSimulation(mockClient).Once()
	mockClient.On("CodeAt", mock.Anything, testSender, mock.Anything).Return([]byte{}, nil).Once()
	mockClient.On("CodeAt", mock.Anything, testSender, mock.Anything).Return([]byte{0x60}, nil).Once()

	phantom, err := resolver.IsPhantom(context.Background())
	require.NoError(t, err)
	assert.True(t, phantom)

	phantom, err = resolver.IsPhantom(context.Background())
	require.NoError(t, err)
	assert.False(t, phantom)

	// live accounts are never re-checked, even if the node would report no code
	for i := 0; i < 3; i++ {
		phantom, err = resolver.IsPhantom(context.Background())
		require.NoError(t, err)
		assert.False(t, phantom)
	}
	mockClient.AssertNumberOfCalls(t, "CodeAt", 2)
}

func TestAddressResolver_ResolveBootstrapPayload(t *testing.T) {
	resolver, mockClient := setupResolver(t, nil)
	expectSimulation(mockClient).Once()
	mockClient.On("CodeAt", mock.Anything, testSender, mock.Anything).Return([]byte{}, nil).Once()
	mockClient.On("CodeAt", mock.Anything, testSender, mock.Anything).Return([]byte{0x60}, nil).Once()

	payload, err := resolver.ResolveBootstrapPayload(context.Background())
	require.NoError(t, err)
	require.True(t, len(payload) > common.AddressLength)
	assert.Equal(t, testFactory.Bytes(), payload[:common.AddressLength])

	payload, err = resolver.ResolveBootstrapPayload(context.Background())
	require.NoError(t, err)
	assert.Empty(t, payload)
}

func TestAddressResolver_IsPhantom_CodeReadFailure(t *testing.T) {
	preset := testSender
	resolver, mockClient := setupResolver(t, &Config{PresetAddress: &preset})
	mockClient.On("CodeAt", mock.Anything, testSender, (*big.Int)(nil)).Return(nil, errors.New("timeout"))

	_, err := resolver.IsPhantom(context.Background())
	assert.Error(t, err)
}
