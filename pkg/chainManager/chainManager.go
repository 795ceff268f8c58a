// Package chainManager provides blockchain connection management for user operation
// construction. It keeps a registry of chain connections keyed by chain ID and
// defines EthClientInterface, the read-only chain collaborator used by the
// builder, resolver, fee estimator and inclusion poller.
package chainManager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	// ErrChainNotFound is returned when a requested chain ID is not found in the manager
	ErrChainNotFound = errors.New("chain not found")
	// ErrChainIdMismatch is returned when the RPC endpoint reports a different chain ID than configured
	ErrChainIdMismatch = errors.New("chain id mismatch")
)

// IChainManager defines the interface for managing blockchain connections.
type IChainManager interface {
	// AddChain dials the configured RPC URL and registers the connection
	AddChain(ctx context.Context, cfg *ChainConfig) error
	// GetChainForId retrieves a chain connection by its chain ID
	GetChainForId(chainId uint64) (*Chain, error)
}

// ChainConfig holds the configuration for connecting to a blockchain.
type ChainConfig struct {
	// ChainID is the unique identifier for the blockchain network
	ChainID uint64
	// RPCUrl is the URL endpoint for connecting to the blockchain RPC
	RPCUrl string
}

// Chain represents an active connection to a blockchain.
type Chain struct {
	config *ChainConfig
	// RPCClient is the active client connection for this chain
	RPCClient EthClientInterface
}

// ChainID returns the configured chain ID of the connection.
func (c *Chain) ChainID() uint64 {
	return c.config.ChainID
}

// ChainManager implements IChainManager and manages blockchain connections.
// This implementation is thread-safe using sync.Map for concurrent access.
type ChainManager struct {
	Chains sync.Map // map[uint64]*Chain
}

// NewChainManager creates a new ChainManager instance with an empty registry.
func NewChainManager() *ChainManager {
	return &ChainManager{}
}

// AddChain adds a new blockchain connection to the manager.
// The endpoint is dialed and its reported chain ID must match cfg.ChainID,
// so an operation hash is never computed against the wrong network.
//
// Parameters:
//   - ctx: Context for dialing and the chain ID check
//   - cfg: The chain configuration containing chain ID and RPC URL
//
// Returns:
//   - error: An error if the chain already exists, the connection fails or the chain ID differs
func (cm *ChainManager) AddChain(ctx context.Context, cfg *ChainConfig) error {
	if _, exists := cm.Chains.Load(cfg.ChainID); exists {
		return fmt.Errorf("chain with ID %d already exists", cfg.ChainID)
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCUrl)
	if err != nil {
		return fmt.Errorf("failed to connect to RPC URL %s: %w", cfg.RPCUrl, err)
	}
	reported, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return fmt.Errorf("failed to query chain id from %s: %w", cfg.RPCUrl, err)
	}
	if reported.Uint64() != cfg.ChainID {
		client.Close()
		return fmt.Errorf("%w: configured %d, endpoint reports %d", ErrChainIdMismatch, cfg.ChainID, reported.Uint64())
	}
	return cm.AddChainWithClient(cfg, client)
}

// AddChainWithClient registers an already constructed client for the chain.
func (cm *ChainManager) AddChainWithClient(cfg *ChainConfig, client EthClientInterface) error {
	if _, loaded := cm.Chains.LoadOrStore(cfg.ChainID, &Chain{config: cfg, RPCClient: client}); loaded {
		return fmt.Errorf("chain with ID %d already exists", cfg.ChainID)
	}
	return nil
}

// GetChainForId retrieves a chain connection by its chain ID.
// This method is thread-safe and can be called concurrently.
//
// Parameters:
//   - chainId: The chain ID to look up
//
// Returns:
//   - *Chain: The chain connection if found
//   - error: ErrChainNotFound if the chain ID is not registered
func (cm *ChainManager) GetChainForId(chainId uint64) (*Chain, error) {
	value, exists := cm.Chains.Load(chainId)
	if !exists {
		return nil, ErrChainNotFound
	}
	chain, ok := value.(*Chain)
	if !ok {
		return nil, fmt.Errorf("invalid chain type stored for ID %d", chainId)
	}
	return chain, nil
}
