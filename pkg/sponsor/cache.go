package sponsor

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
)

// DefaultCacheSize bounds the number of cached paymaster addresses.
const DefaultCacheSize = 128

// LRUAddressCache implements IAddressCache with a bounded LRU.
type LRUAddressCache struct {
	cache *lru.Cache
}

func NewLRUAddressCache(size int) (*LRUAddressCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create paymaster address cache: %w", err)
	}
	return &LRUAddressCache{cache: cache}, nil
}

func (c *LRUAddressCache) Get(key string) (common.Address, bool) {
	value, ok := c.cache.Get(key)
	if !ok {
		return common.Address{}, false
	}
	address, ok := value.(common.Address)
	return address, ok
}

func (c *LRUAddressCache) Add(key string, address common.Address) {
	c.cache.Add(key, address)
}
