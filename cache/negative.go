package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/miguelportilla/rippled/nodeobject"
)

// Negative is a key-only LRU of hashes recently proven absent from the
// backend. A touch_if_exists hit short-circuits a backend read; a store
// must erase the corresponding entry or a stale absence proof could
// shadow the freshly written object forever.
type Negative struct {
	mu        sync.Mutex
	lru       *lru.Cache[nodeobject.Hash, time.Time]
	targetAge time.Duration
}

// NewNegative creates a negative cache with the given target size and age.
func NewNegative(targetSize int, targetAge time.Duration) *Negative {
	if targetSize <= 0 {
		targetSize = 1
	}
	l, _ := lru.New[nodeobject.Hash, time.Time](targetSize)
	return &Negative{lru: l, targetAge: targetAge}
}

// Insert records hash as proven absent.
func (c *Negative) Insert(hash nodeobject.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(hash, time.Now())
}

// Erase drops the absence proof for hash, called after every successful
// store so a subsequent fetch never returns absent purely because of a
// stale cache entry.
func (c *Negative) Erase(hash nodeobject.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(hash)
}

// TouchIfExists reports whether hash is a live absence proof, refreshing
// its recency when it is. An entry older than the target age is treated
// as expired and removed rather than trusted.
func (c *Negative) TouchIfExists(hash nodeobject.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts, ok := c.lru.Get(hash)
	if !ok {
		return false
	}
	if c.targetAge > 0 && time.Since(ts) > c.targetAge {
		c.lru.Remove(hash)
		return false
	}
	c.lru.Add(hash, time.Now())
	return true
}

// Sweep drops entries older than the target age.
func (c *Negative) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.targetAge)
	for _, k := range c.lru.Keys() {
		ts, ok := c.lru.Peek(k)
		if ok && ts.Before(cutoff) {
			c.lru.Remove(k)
		}
	}
}

func (c *Negative) SetTargetSize(size int) {
	if size <= 0 {
		size = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Resize(size)
}

func (c *Negative) SetTargetAge(age time.Duration) {
	c.mu.Lock()
	c.targetAge = age
	c.mu.Unlock()
}

func (c *Negative) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
