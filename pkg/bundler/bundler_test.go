package bundler

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http/httptest"
	"testing"

	"github.com/Layr-Labs/userop-go/pkg/userOperation"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testEntryPoint = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")

type fakeBundlerService struct {
	estimate    json.RawMessage
	estimateErr error
	opHash      common.Hash
	sent        []userOperation.UserOperation
	entryPoints []common.Address
	lastEP      common.Address
}

func (s *fakeBundlerService) EstimateUserOperationGas(op userOperation.UserOperation, ep common.Address) (json.RawMessage, error) {
	s.lastEP = ep
	if s.estimateErr != nil {
		return nil, s.estimateErr
	}
	return s.estimate, nil
}

func (s *fakeBundlerService) SendUserOperation(op userOperation.UserOperation, ep common.Address) (common.Hash, error) {
	s.lastEP = ep
	s.sent = append(s.sent, op)
	return s.opHash, nil
}

func (s *fakeBundlerService) SupportedEntryPoints() []common.Address {
	return s.entryPoints
}

func setupBundler(t *testing.T, service *fakeBundlerService) *BundlerClient {
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", service))
	httpServer := httptest.NewServer(server)
	t.Cleanup(func() {
		httpServer.Close()
		server.Stop()
	})

	client, err := NewBundlerClient(context.Background(), &Config{
		Url:               httpServer.URL,
		EntryPointAddress: testEntryPoint,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func testOperation() userOperation.UserOperation {
	return userOperation.UserOperation{
		Sender:               common.HexToAddress("0xc0ffee"),
		Nonce:                big.NewInt(7),
		InitCode:             []byte{},
		CallData:             []byte{0x01, 0x02},
		CallGasLimit:         big.NewInt(50000),
		VerificationGasLimit: big.NewInt(1000000),
		PreVerificationGas:   big.NewInt(100000),
		MaxFeePerGas:         big.NewInt(2),
		MaxPriorityFeePerGas: big.NewInt(1),
		PaymasterAndData:     []byte{},
		Signature:            []byte{},
	}
}

func TestBundlerClient_EstimateUserOperationGas(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     GasEstimate
	}{
		{
			name:     "hex quantities",
			response: `{"preVerificationGas":"0xc350","verificationGas":"0x186a0","callGasLimit":"0x7530","validAfter":"0x0","validUntil":"0xffffffffffff"}`,
			want: GasEstimate{
				PreVerificationGas: big.NewInt(50000),
				VerificationGas:    big.NewInt(100000),
				CallGasLimit:       big.NewInt(30000),
				ValidAfter:         big.NewInt(0),
				ValidUntil:         big.NewInt(0xffffffffffff),
			},
		},
		{
			name:     "numeric quantities and verificationGasLimit",
			response: `{"preVerificationGas":50000,"verificationGasLimit":100000,"callGasLimit":"30000"}`,
			want: GasEstimate{
				PreVerificationGas: big.NewInt(50000),
				VerificationGas:    big.NewInt(100000),
				CallGasLimit:       big.NewInt(30000),
			},
		},
		{
			name:     "partial",
			response: `{"callGasLimit":"0x7530"}`,
			want:     GasEstimate{CallGasLimit: big.NewInt(30000)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &fakeBundlerService{estimate: json.RawMessage(tt.response)}
			client := setupBundler(t, service)

			got, err := client.EstimateUserOperationGas(context.Background(), testOperation())
			require.NoError(t, err)
			assert.Equal(t, testEntryPoint, service.lastEP)

			assertBigEqual(t, tt.want.PreVerificationGas, got.PreVerificationGas)
			assertBigEqual(t, tt.want.VerificationGas, got.VerificationGas)
			assertBigEqual(t, tt.want.CallGasLimit, got.CallGasLimit)
			assertBigEqual(t, tt.want.ValidAfter, got.ValidAfter)
			assertBigEqual(t, tt.want.ValidUntil, got.ValidUntil)
			assert.Nil(t, got.MaxFeePerGas)
		})
	}
}

func TestBundlerClient_EstimateUserOperationGas_Errors(t *testing.T) {
	client := setupBundler(t, &fakeBundlerService{estimateErr: errors.New("AA21 didn't pay prefund")})
	_, err := client.EstimateUserOperationGas(context.Background(), testOperation())
	assert.ErrorContains(t, err, "AA21")

	client = setupBundler(t, &fakeBundlerService{estimate: json.RawMessage(`null`)})
	_, err = client.EstimateUserOperationGas(context.Background(), testOperation())
	assert.Error(t, err)

	client = setupBundler(t, &fakeBundlerService{estimate: json.RawMessage(`{"callGasLimit":"-5"}`)})
	_, err = client.EstimateUserOperationGas(context.Background(), testOperation())
	assert.Error(t, err)
}

func TestBundlerClient_SendUserOperation(t *testing.T) {
	service := &fakeBundlerService{opHash: common.HexToHash("0xabc123")}
	client := setupBundler(t, service)
	op := testOperation().WithSignature([]byte{0xaa, 0xbb})

	opHash, err := client.SendUserOperation(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, service.opHash, opHash)

	require.Len(t, service.sent, 1)
	assert.Equal(t, op.Sender, service.sent[0].Sender)
	assert.Equal(t, []byte{0xaa, 0xbb}, service.sent[0].Signature)
	assert.Equal(t, int64(7), service.sent[0].Nonce.Int64())
}

func TestBundlerClient_CheckEntryPoint(t *testing.T) {
	client := setupBundler(t, &fakeBundlerService{entryPoints: []common.Address{common.HexToAddress("0x01"), testEntryPoint}})
	assert.NoError(t, client.CheckEntryPoint(context.Background()))

	client = setupBundler(t, &fakeBundlerService{entryPoints: []common.Address{common.HexToAddress("0x01")}})
	assert.ErrorIs(t, client.CheckEntryPoint(context.Background()), ErrEntryPointNotSupported)
}

func TestNewBundlerClient_RequiresUrl(t *testing.T) {
	_, err := NewBundlerClient(context.Background(), &Config{}, zap.NewNop())
	assert.Error(t, err)
}

func assertBigEqual(t *testing.T, want, got *big.Int) {
	t.Helper()
	if want == nil {
		assert.Nil(t, got)
		return
	}
	require.NotNil(t, got)
	assert.Equal(t, 0, want.Cmp(got), "want %s, got %s", want, got)
}
