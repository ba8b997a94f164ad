// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package memocache provides a small query-keyed memoization cache shared by
// the remote collaborator clients. Entries live for one pipeline run; there
// is no eviction. Concurrent writers may duplicate a computation but never
// produce an incorrect result.
package memocache

import "sync"

// Cache memoizes values by query string.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]V
}

// New creates an empty cache.
func New[V any]() *Cache[V] {
	return &Cache[V]{entries: make(map[string]V)}
}

// Get returns the cached value for key, if present.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Put stores a value for key, replacing any previous entry.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
