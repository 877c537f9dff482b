// Package recipients caches network registration lookups. Broadcast
// batches often repeat recipients; the cache keeps repeated blasts from
// re-querying the directory for every send.
package recipients

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nextlevelbuilder/goblast/internal/driver"
)

const (
	defaultSize = 4096
	defaultTTL  = time.Hour
)

// Cache is a TTL-bounded LRU over Driver.IsRegistered keyed by
// normalized address. Both positive and negative results are cached.
type Cache struct {
	lru *expirable.LRU[string, bool]
}

// NewCache creates a cache. size <= 0 and ttl <= 0 select defaults.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = defaultSize
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{lru: expirable.NewLRU[string, bool](size, nil, ttl)}
}

// IsRegistered answers from the cache when possible, otherwise asks the
// driver and remembers the answer. Lookup errors are never cached.
func (c *Cache) IsRegistered(ctx context.Context, drv driver.Driver, address string) (bool, error) {
	if ok, found := c.lru.Get(address); found {
		return ok, nil
	}
	registered, err := drv.IsRegistered(ctx, address)
	if err != nil {
		return false, err
	}
	c.lru.Add(address, registered)
	return registered, nil
}

// Purge empties the cache. Called when the session re-pairs, since a
// different account may see a different directory.
func (c *Cache) Purge() {
	c.lru.Purge()
}
