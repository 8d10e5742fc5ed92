// Package idcache memoizes the mapping from a normalized remote path to a
// provider's opaque item ID.
//
// A Cache is owned by a root adapter and shared by pointer with every child
// created through OpenDir, so invalidation from any instance is visible to
// all of them: they address the same remote namespace.
package idcache

import (
	"context"
	"sync"

	"github.com/tonimelisma/netdisk-go/internal/pathutil"
)

// Cache is a concurrency-safe path→ID map.
type Cache struct {
	mu  sync.RWMutex
	ids map[string]string
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{ids: make(map[string]string)}
}

// Get returns the cached ID for p.
func (c *Cache) Get(p string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.ids[pathutil.Normalize(p)]

	return id, ok
}

// Put records the ID for p, replacing any previous entry.
func (c *Cache) Put(p, id string) {
	if id == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.ids[pathutil.Normalize(p)] = id
}

// InvalidatePrefix removes prefix and every entry beneath it. It returns the
// number of entries removed. Invalidating the root empties the cache.
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0

	for p := range c.ids {
		if pathutil.HasPrefix(p, prefix) {
			delete(c.ids, p)
			removed++
		}
	}

	return removed
}

// Resolver finds the ID of p, filling the cache as it goes.
type Resolver func(ctx context.Context, p string) (string, error)

// With calls fn with the ID of p. If that ID came from the cache and fn's
// error satisfies stale, the item was removed or replaced behind the
// cache's back: p and everything beneath it is dropped and fn runs once more
// with a freshly resolved ID. The root's ID never goes stale.
func (c *Cache) With(ctx context.Context, p string, resolve Resolver, stale func(error) bool, fn func(id string) error) error {
	p = pathutil.Normalize(p)
	_, cached := c.Get(p)

	id, err := resolve(ctx, p)
	if err != nil {
		return err
	}

	err = fn(id)
	if err == nil || !cached || pathutil.IsRoot(p) || !stale(err) {
		return err
	}

	c.InvalidatePrefix(p)

	fresh, rerr := resolve(ctx, p)
	if rerr != nil {
		return rerr
	}

	return fn(fresh)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.ids)
}
