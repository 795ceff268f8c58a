package sponsor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/Layr-Labs/userop-go/pkg/account"
	"github.com/Layr-Labs/userop-go/pkg/logger"
	"github.com/Layr-Labs/userop-go/pkg/userOperation"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 20 * time.Second
	maxResponseBytes      = 1 << 20
)

const erc20ApproveABI = `[{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}]`

var erc20ABI abi.ABI

func init() {
	var err error
	erc20ABI, err = abi.JSON(strings.NewReader(erc20ApproveABI))
	if err != nil {
		panic(fmt.Sprintf("failed to parse ERC-20 ABI: %v", err))
	}
}

type PaymasterConfig struct {
	// Url is the base URL of the paymaster service
	Url               string
	ProjectId         string
	ChainId           uint64
	EntryPointAddress common.Address
	// RequestTimeout bounds each HTTP request. Defaults to 20s.
	RequestTimeout time.Duration
}

type TokenPaymasterConfig struct {
	PaymasterConfig
	// GasTokenAddress is the ERC-20 the operation pays gas with
	GasTokenAddress common.Address
}

// PaymasterClient is the flat sponsorship client: POST <url>/sign.
type PaymasterClient struct {
	config     *PaymasterConfig
	httpClient *http.Client
	logger     *zap.Logger
}

func NewPaymasterClient(cfg *PaymasterConfig, l *zap.Logger) (*PaymasterClient, error) {
	if cfg == nil || cfg.Url == "" {
		return nil, fmt.Errorf("paymaster url is required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &PaymasterClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: logger.HttpClientLogger(nil, l),
		},
		logger: l,
	}, nil
}

type signRequest struct {
	ProjectId         string                       `json:"projectId"`
	ChainId           uint64                       `json:"chainId"`
	UserOp            userOperation.UserOperation  `json:"userOp"`
	EntryPointAddress common.Address               `json:"entryPointAddress"`
	GasTokenAddress   *common.Address              `json:"gasTokenAddress,omitempty"`
	Erc20UserOp       *userOperation.UserOperation `json:"erc20UserOp,omitempty"`
}

type signResponse struct {
	PaymasterAndData     *hexutil.Bytes          `json:"paymasterAndData"`
	PreVerificationGas   *userOperation.Quantity `json:"preVerificationGas"`
	VerificationGasLimit *userOperation.Quantity `json:"verificationGasLimit"`
	CallGasLimit         *userOperation.Quantity `json:"callGasLimit"`
	CallData             *hexutil.Bytes          `json:"callData"`
	Error                string                  `json:"error"`
}

func (c *PaymasterClient) GetPaymasterResponse(ctx context.Context, op userOperation.UserOperation, _ *userOperation.UserOperation) (*Response, error) {
	return c.sign(ctx, signRequest{
		ProjectId:         c.config.ProjectId,
		ChainId:           c.config.ChainId,
		UserOp:            op,
		EntryPointAddress: c.config.EntryPointAddress,
	})
}

func (c *PaymasterClient) sign(ctx context.Context, req signRequest) (*Response, error) {
	var resp signResponse
	if err := c.post(ctx, "/sign", req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("paymaster rejected operation: %s", resp.Error)
	}
	if resp.PaymasterAndData == nil || len(*resp.PaymasterAndData) < common.AddressLength {
		return nil, fmt.Errorf("paymaster response has no paymasterAndData")
	}

	out := &Response{
		PaymasterAndData:     common.CopyBytes(*resp.PaymasterAndData),
		PreVerificationGas:   resp.PreVerificationGas.BigInt(),
		VerificationGasLimit: resp.VerificationGasLimit.BigInt(),
		CallGasLimit:         resp.CallGasLimit.BigInt(),
	}
	if resp.CallData != nil && len(*resp.CallData) > 0 {
		out.CallData = common.CopyBytes(*resp.CallData)
	}
	return out, nil
}

func (c *PaymasterClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal paymaster request: %w", err)
	}
	url := strings.TrimRight(c.config.Url, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create paymaster request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("paymaster request to %s failed: %w", path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read paymaster response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("paymaster %s returned status %d: %s", path, res.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode paymaster response: %w", err)
	}
	return nil
}

// TokenPaymasterClient sponsors operations paid in an ERC-20 gas token.
type TokenPaymasterClient struct {
	*PaymasterClient
	config *TokenPaymasterConfig
	cache  IAddressCache
}

func NewTokenPaymasterClient(cfg *TokenPaymasterConfig, cache IAddressCache, l *zap.Logger) (*TokenPaymasterClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("token paymaster config is required")
	}
	if cfg.GasTokenAddress == (common.Address{}) {
		return nil, fmt.Errorf("gas token address is required")
	}
	base, err := NewPaymasterClient(&cfg.PaymasterConfig, l)
	if err != nil {
		return nil, err
	}
	if cache == nil {
		if cache, err = NewLRUAddressCache(DefaultCacheSize); err != nil {
			return nil, err
		}
	}
	return &TokenPaymasterClient{
		PaymasterClient: base,
		config:          cfg,
		cache:           cache,
	}, nil
}

func (c *TokenPaymasterClient) GetPaymasterResponse(ctx context.Context, op userOperation.UserOperation, erc20Op *userOperation.UserOperation) (*Response, error) {
	gasToken := c.config.GasTokenAddress
	return c.sign(ctx, signRequest{
		ProjectId:         c.config.ProjectId,
		ChainId:           c.config.ChainId,
		UserOp:            op,
		EntryPointAddress: c.config.EntryPointAddress,
		GasTokenAddress:   &gasToken,
		Erc20UserOp:       erc20Op,
	})
}

type paymasterAddressRequest struct {
	ChainId           uint64         `json:"chainId"`
	EntryPointAddress common.Address `json:"entryPointAddress"`
	GasTokenAddress   common.Address `json:"gasTokenAddress"`
}

type paymasterAddressResponse struct {
	PaymasterAddress *common.Address `json:"paymasterAddress"`
}

// GetPaymasterAddress returns the token paymaster contract, asking the service
// only on a cache miss.
func (c *TokenPaymasterClient) GetPaymasterAddress(ctx context.Context) (common.Address, error) {
	key := fmt.Sprintf("%d:%s:%s", c.config.ChainId, c.config.EntryPointAddress.Hex(), c.config.GasTokenAddress.Hex())
	if address, ok := c.cache.Get(key); ok {
		return address, nil
	}

	var resp paymasterAddressResponse
	err := c.post(ctx, "/getPaymasterAddress", paymasterAddressRequest{
		ChainId:           c.config.ChainId,
		EntryPointAddress: c.config.EntryPointAddress,
		GasTokenAddress:   c.config.GasTokenAddress,
	}, &resp)
	if err != nil {
		return common.Address{}, err
	}
	if resp.PaymasterAddress == nil || *resp.PaymasterAddress == (common.Address{}) {
		return common.Address{}, fmt.Errorf("paymaster service returned no paymaster address")
	}
	c.cache.Add(key, *resp.PaymasterAddress)
	return *resp.PaymasterAddress, nil
}

// CreateGasTokenApprovalRequest approves the paymaster for the maximum gas token allowance.
func (c *TokenPaymasterClient) CreateGasTokenApprovalRequest(ctx context.Context) (account.Call, error) {
	paymaster, err := c.GetPaymasterAddress(ctx)
	if err != nil {
		return account.Call{}, fmt.Errorf("failed to get paymaster address: %w", err)
	}
	data, err := erc20ABI.Pack("approve", paymaster, new(big.Int).Set(math.MaxBig256))
	if err != nil {
		return account.Call{}, fmt.Errorf("failed to pack approve: %w", err)
	}
	return account.Call{
		To:    c.config.GasTokenAddress,
		Value: new(big.Int),
		Data:  data,
	}, nil
}
