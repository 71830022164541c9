// Package plancache provides a concurrency-safe get-or-compute cache keyed by
// structured, comparable keys.
//
// Every memoized lookup in the compiler (schema descriptors, catalog rows,
// policy decisions, compiled plans) goes through a Cache. A failed
// computation never leaves an entry behind, so a later call retries it.
package plancache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache memoizes values of type V by key K.
//
// At most one computation per key is in flight at any time: concurrent
// callers for the same key wait for the first and share its result. The
// computation does not inherit any caller's cancellation; a caller whose
// context ends stops waiting and gets its own ctx.Err().
type Cache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
	gens    map[K]uint64
	epoch   uint64
	group   singleflight.Group
}

// generation identifies the state of one key. Invalidate bumps the key's
// counter and Clear bumps the epoch; a flight stores its result only if the
// generation it started under is still current.
type generation struct {
	epoch uint64
	gen   uint64
}

// New creates an empty cache.
func New[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{entries: make(map[K]V), gens: make(map[K]uint64)}
}

// Get returns the cached value for key without computing it.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// lookup returns the cached value and the key's current generation.
func (c *Cache[K, V]) lookup(key K) (V, bool, generation) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok, generation{epoch: c.epoch, gen: c.gens[key]}
}

// GetOrCompute returns the cached value for key, computing and storing it on
// a miss. Errors from compute are returned to every waiting caller and are
// not cached.
func (c *Cache[K, V]) GetOrCompute(ctx context.Context, key K, compute func(context.Context) (V, error)) (V, error) {
	var zero V
	v, ok, gen := c.lookup(key)
	if ok {
		return v, nil
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey(gen, key), func() (any, error) {
		// Re-check under the flight: a previous flight may have stored it
		// between our miss and acquiring the slot.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := compute(detached)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if (generation{epoch: c.epoch, gen: c.gens[key]}) == gen {
			c.entries[key] = v
		}
		c.mu.Unlock()
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Invalidate removes the entry for key. The next GetOrCompute recomputes it,
// and a computation already in flight for key does not store its result.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.gens[key]++
	c.mu.Unlock()
}

// Clear removes every entry. Computations in flight do not store their
// results.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[K]V)
	c.gens = make(map[K]uint64)
	c.epoch++
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// flightKey renders key and its generation for singleflight. %#v includes
// field names and types, so distinct structured keys never collide; callers
// arriving after an invalidation start a fresh flight.
func flightKey[K comparable](gen generation, key K) string {
	return fmt.Sprintf("%d/%d/%#v", gen.epoch, gen.gen, key)
}
