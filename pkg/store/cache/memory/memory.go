package memory

import (
	"context"
	"sync"

	"github.com/marmos91/headerprop/pkg/header"
	"github.com/marmos91/headerprop/pkg/store/cache"
)

// Cache implements cache.HeaderCache in process memory.
//
// Entries are lost on restart, so every folder gets rescanned once after a
// restart. Suitable for tests and single-instance deployments.
type Cache struct {
	locks *cache.KeyedMutex

	mu      sync.RWMutex
	entries map[string]*header.Header
}

// New creates an empty in-memory header cache.
func New() *Cache {
	return &Cache{
		locks:   cache.NewKeyedMutex(),
		entries: make(map[string]*header.Header),
	}
}

func (c *Cache) Get(ctx context.Context, prefix string) (*header.Header, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	unlock := c.locks.Lock(prefix)
	defer unlock()

	c.mu.RLock()
	h, ok := c.entries[prefix]
	c.mu.RUnlock()

	return h.Clone(), ok, nil
}

func (c *Cache) Set(ctx context.Context, prefix string, h *header.Header) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cache.CheckPropagatable(h); err != nil {
		return err
	}

	unlock := c.locks.Lock(prefix)
	defer unlock()

	c.mu.Lock()
	c.entries[prefix] = h.Clone()
	c.mu.Unlock()
	return nil
}

func (c *Cache) Reset(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := c.locks.Lock(prefix)
	defer unlock()

	c.mu.Lock()
	c.entries[prefix] = &header.Header{}
	c.mu.Unlock()
	return nil
}

func (c *Cache) Close() error {
	return nil
}
