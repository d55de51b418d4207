package enrich

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"echopay/internal/model"
)

// MetaCache stores token metadata resolved from chain. Token metadata is immutable,
// so entries never need invalidation.
type MetaCache interface {
	Get(ctx context.Context, token common.Address) (model.TokenMeta, bool)
	Set(ctx context.Context, token common.Address, meta model.TokenMeta)
}

// MemoryMetaCache caches token metadata by address in process memory.
type MemoryMetaCache struct {
	mu   sync.RWMutex
	data map[common.Address]model.TokenMeta
}

func NewMemoryMetaCache() *MemoryMetaCache {
	return &MemoryMetaCache{data: make(map[common.Address]model.TokenMeta)}
}

func (c *MemoryMetaCache) Get(_ context.Context, token common.Address) (model.TokenMeta, bool) {
	c.mu.RLock()
	meta, ok := c.data[token]
	c.mu.RUnlock()
	return meta, ok
}

func (c *MemoryMetaCache) Set(_ context.Context, token common.Address, meta model.TokenMeta) {
	c.mu.Lock()
	c.data[token] = meta
	c.mu.Unlock()
}
