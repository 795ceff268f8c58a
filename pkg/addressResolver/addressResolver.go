// Package addressResolver resolves the counterfactual address of a smart account
// and tracks whether it has been deployed.
//
// The address is resolved once per resolver through the entry point's
// getSenderAddress simulation and cached. The deployment state starts as
// phantom and flips to live the first time code is observed at the address;
// a live account is never checked again.
package addressResolver

import (
	"context"
	"fmt"
	"sync"

	"github.com/Layr-Labs/userop-go/pkg/account"
	"github.com/Layr-Labs/userop-go/pkg/chainManager"
	"github.com/Layr-Labs/userop-go/pkg/entryPoint"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type IAddressResolver interface {
	// ResolveAddress returns the account address, simulating at most once
	ResolveAddress(ctx context.Context) (common.Address, error)
	// ResolveBootstrapPayload returns the init code while the account is phantom, empty once live
	ResolveBootstrapPayload(ctx context.Context) ([]byte, error)
	// IsPhantom reports whether the account has no code yet
	IsPhantom(ctx context.Context) (bool, error)
}

type Config struct {
	// PresetAddress skips the getSenderAddress simulation when the address is already known
	PresetAddress *common.Address
}

// AddressResolver is safe for concurrent use; calls are serialized.
type AddressResolver struct {
	config     *Config
	account    account.IAccount
	entryPoint entryPoint.IEntryPoint
	client     chainManager.EthClientInterface
	logger     *zap.Logger

	mu      sync.Mutex
	address *common.Address
	live    bool
}

func NewAddressResolver(
	cfg *Config,
	acc account.IAccount,
	ep entryPoint.IEntryPoint,
	client chainManager.EthClientInterface,
	l *zap.Logger,
) *AddressResolver {
	if cfg == nil {
		cfg = &Config{}
	}
	r := &AddressResolver{
		config:     cfg,
		account:    acc,
		entryPoint: ep,
		client:     client,
		logger:     l,
	}
	if cfg.PresetAddress != nil {
		addr := *cfg.PresetAddress
		r.address = &addr
	}
	return r
}

func (r *AddressResolver) ResolveAddress(ctx context.Context) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveAddressLocked(ctx)
}

func (r *AddressResolver) resolveAddressLocked(ctx context.Context) (common.Address, error) {
	if r.address != nil {
		return *r.address, nil
	}
	initCode, err := r.account.GetAccountInitCode(ctx)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to get account init code: %w", err)
	}
	result, err := r.entryPoint.SimulateSenderAddress(ctx, initCode)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to resolve account address: %w", err)
	}
	addr := result.Sender
	r.address = &addr
	r.logger.Sugar().Infow("Resolved account address", zap.String("address", addr.String()))
	return addr, nil
}

func (r *AddressResolver) IsPhantom(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isPhantomLocked(ctx)
}

func (r *AddressResolver) isPhantomLocked(ctx context.Context) (bool, error) {
	if r.live {
		return false, nil
	}
	addr, err := r.resolveAddressLocked(ctx)
	if err != nil {
		return false, err
	}
	code, err := r.client.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, fmt.Errorf("failed to get account code: %w", err)
	}
	if len(code) > 0 {
		r.live = true
		r.logger.Sugar().Debugw("Account is deployed", zap.String("address", addr.String()))
		return false, nil
	}
	return true, nil
}

func (r *AddressResolver) ResolveBootstrapPayload(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	phantom, err := r.isPhantomLocked(ctx)
	if err != nil {
		return nil, err
	}
	if !phantom {
		return []byte{}, nil
	}
	initCode, err := r.account.GetAccountInitCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get account init code: %w", err)
	}
	return initCode, nil
}
