// Package rpccache memoizes JSON-RPC responses keyed by method, chain and
// block number, and coalesces concurrent requests for the same key into a
// single upstream call. Only responses for blocks old enough to be
// immutable (at or below the caller-supplied safe boundary) are cached;
// everything else passes through untouched so a live-tail caller never
// reads stale data.
package rpccache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Key identifies a cacheable RPC call. Params must already be normalized by
// the caller (lowercased hex, no leading-zero padding variance) so that two
// logically identical calls always produce the same Key.
type Key struct {
	Method      string
	ChainID     uint64
	BlockNumber uint64
	Params      string
}

func (k Key) string() string {
	return fmt.Sprintf("%d|%d|%s|%s", k.ChainID, k.BlockNumber, k.Method, k.Params)
}

// Fetch performs the uncached call. Its result is cached verbatim, so
// callers must return a value safe to share across goroutines (or a deep
// copy if the caller will mutate what it gets back).
type Fetch func(ctx context.Context) (any, error)

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]any
	group   singleflight.Group

	hits   int64
	misses int64
}

// New constructs an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]any)}
}

// Get returns the cached value for key if present; otherwise it runs fetch
// exactly once even under concurrent callers requesting the same key, and
// caches the result before returning it.
func (c *Cache) Get(ctx context.Context, key Key, fetch Fetch) (any, error) {
	k := key.string()

	c.mu.RLock()
	v, ok := c.entries[k]
	c.mu.RUnlock()
	if ok {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return v, nil
	}

	result, err, _ := c.group.Do(k, func() (any, error) {
		// Re-check under the singleflight key: another caller may have
		// populated the entry while we were waiting to enter Do.
		c.mu.RLock()
		v, ok := c.entries[k]
		c.mu.RUnlock()
		if ok {
			return v, nil
		}

		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[k] = v
		c.mu.Unlock()

		return v, nil
	})

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()

	return result, err
}

// Passthrough runs fetch with single-flight coalescing but never caches the
// result, for calls that are not safe to memoize (anything scoped to the
// live, possibly-reorging chain tip).
func (c *Cache) Passthrough(ctx context.Context, key Key, fetch Fetch) (any, error) {
	result, err, _ := c.group.Do("passthrough|"+key.string(), func() (any, error) {
		return fetch(ctx)
	})
	return result, err
}

// Stats reports cumulative hit/miss counts for observability.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

// Len reports the number of distinct entries currently cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Invalidate drops every cached entry for chainID at or above fromBlock.
// A range that turned out to sit on a pruned fork is fetched again after
// this rather than served from a stale entry.
func (c *Cache) Invalidate(chainID uint64, fromBlock uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.entries {
		var cid, block uint64
		if _, err := fmt.Sscanf(k, "%d|%d|", &cid, &block); err != nil {
			continue
		}
		if cid == chainID && block >= fromBlock {
			delete(c.entries, k)
		}
	}
}
