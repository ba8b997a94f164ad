// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package memocache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCache(t *testing.T) {
	c := New[int]()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Put("a", 1)
	c.Put("a", 2)
	c.Put("b", 3)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, c.Len())
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := New[int]()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.Put("key", n)
			c.Get("key")
		}(i)
	}
	wg.Wait()

	_, ok := c.Get("key")
	assert.True(t, ok)
}
