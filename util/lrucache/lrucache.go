/*
   Copyright The DeepGrep Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package lrucache provides a goroutine-safe LRU cache on top of
// github.com/golang/groupcache/lru.
package lrucache

import (
	"sync"

	"github.com/golang/groupcache/lru"
)

// Cache is a size-bounded LRU cache safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	cache *lru.Cache

	// OnEvicted optionally runs when an entry is evicted. It runs with
	// the cache lock held, so it must not call back into the cache.
	OnEvicted func(key lru.Key, value interface{})
}

// New creates a cache holding up to maxEntries entries. Zero means no
// bound.
func New(maxEntries int) *Cache {
	c := &Cache{cache: lru.New(maxEntries)}
	c.cache.OnEvicted = func(key lru.Key, value interface{}) {
		if c.OnEvicted != nil {
			c.OnEvicted(key, value)
		}
	}
	return c
}

func (c *Cache) Get(key lru.Key) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Get(key)
}

func (c *Cache) Add(key lru.Key, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(key, value)
}

func (c *Cache) Remove(key lru.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(key)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}
