// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"sync"
	"time"

	"github.com/viccon/sturdyc"
)

// Cache is a go-routine safe cache keyed by principal. Implementations decide
// about expiry; Invalidate and InvalidateAll are the explicit flush.
type Cache[V any] interface {
	Read(principal string) (V, bool)
	Write(principal string, value V)
	Invalidate(principal string)
	InvalidateAll()
}

// MemoryCache is an in-memory cache whose entries never expire
type MemoryCache[V any] struct {
	mutex sync.RWMutex
	cache map[string]V
}

// NewMemoryCache creates a new cache without expiry
func NewMemoryCache[V any]() *MemoryCache[V] {
	return &MemoryCache[V]{cache: make(map[string]V)}
}

// Read returns a cached value
func (c *MemoryCache[V]) Read(principal string) (V, bool) {
	c.mutex.RLock()
	value, ok := c.cache[principal]
	c.mutex.RUnlock()
	return value, ok
}

// Write stores a value
func (c *MemoryCache[V]) Write(principal string, value V) {
	c.mutex.Lock()
	c.cache[principal] = value
	c.mutex.Unlock()
}

// Invalidate removes the value of one principal
func (c *MemoryCache[V]) Invalidate(principal string) {
	c.mutex.Lock()
	delete(c.cache, principal)
	c.mutex.Unlock()
}

// InvalidateAll removes all values
func (c *MemoryCache[V]) InvalidateAll() {
	c.mutex.Lock()
	c.cache = make(map[string]V)
	c.mutex.Unlock()
}

// ExpiringCache is an in-memory cache whose entries expire after a ttl. When
// capacity is reached, the oldest entries are evicted.
type ExpiringCache[V any] struct {
	client *sturdyc.Client[V]
}

// NewExpiringCache creates a new cache with expiry
func NewExpiringCache[V any](ttl time.Duration, capacity int) *ExpiringCache[V] {
	if capacity <= 0 {
		capacity = 10000
	}
	return &ExpiringCache[V]{
		client: sturdyc.New[V](capacity, 10, ttl, 10),
	}
}

// Read returns a cached value
func (c *ExpiringCache[V]) Read(principal string) (V, bool) {
	return c.client.Get(principal)
}

// Write stores a value
func (c *ExpiringCache[V]) Write(principal string, value V) {
	c.client.Set(principal, value)
}

// Invalidate removes the value of one principal
func (c *ExpiringCache[V]) Invalidate(principal string) {
	c.client.Delete(principal)
}

// InvalidateAll removes all values
func (c *ExpiringCache[V]) InvalidateAll() {
	for _, key := range c.client.ScanKeys() {
		c.client.Delete(key)
	}
}
