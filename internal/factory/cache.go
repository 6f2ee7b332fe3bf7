package factory

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// cacheKey scopes an entry to a transaction, or to a transaction plus the
// legacy deployer carried by the event when the outcome depended on it.
type cacheKey struct {
	tx       common.Hash
	legacy   common.Address
	byLegacy bool
}

// DeployerCache memoizes resolutions by transaction hash for the life of
// the process. It is never persisted.
type DeployerCache struct {
	mu   sync.RWMutex
	data map[cacheKey]Resolution
}

func NewDeployerCache() *DeployerCache {
	return &DeployerCache{data: make(map[cacheKey]Resolution)}
}

// Get prefers a transaction-wide entry over one scoped to legacy.
func (c *DeployerCache) Get(tx common.Hash, legacy common.Address) (Resolution, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if res, ok := c.data[cacheKey{tx: tx}]; ok {
		return res, true
	}
	res, ok := c.data[cacheKey{tx: tx, legacy: legacy, byLegacy: true}]
	return res, ok
}

// Set stores a resolution that holds for every log of the transaction.
func (c *DeployerCache) Set(tx common.Hash, res Resolution) {
	c.mu.Lock()
	c.data[cacheKey{tx: tx}] = res
	c.mu.Unlock()
}

// SetForLegacy stores a resolution that only holds for logs carrying legacy.
func (c *DeployerCache) SetForLegacy(tx common.Hash, legacy common.Address, res Resolution) {
	c.mu.Lock()
	c.data[cacheKey{tx: tx, legacy: legacy, byLegacy: true}] = res
	c.mu.Unlock()
}

func (c *DeployerCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
