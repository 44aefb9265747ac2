// Package cache implements the two-tier cache pair every shard (and the
// baseline node/rotating stores) keeps in front of its backend: a tagged
// positive cache of resident objects, and a key-only negative cache of
// proven-absent hashes.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miguelportilla/rippled/nodeobject"
)

type positiveEntry struct {
	hash    nodeobject.Hash
	object  *nodeobject.Object
	touched time.Time
}

// Positive is a tagged, LRU-by-age cache: entries older than the target
// age are swept, and among the survivors the least recently touched are
// evicted first once the target size is exceeded. It is safe for
// concurrent use; all locking is internal and fine-grained relative to
// backend I/O, which never happens while the lock is held.
type Positive struct {
	mu         sync.Mutex
	entries    map[nodeobject.Hash]*list.Element
	order      *list.List // front = most recently touched
	targetSize int
	targetAge  time.Duration

	hits   uint64
	misses uint64
}

// NewPositive creates a positive cache with the given target size and age.
func NewPositive(targetSize int, targetAge time.Duration) *Positive {
	return &Positive{
		entries:    make(map[nodeobject.Hash]*list.Element),
		order:      list.New(),
		targetSize: targetSize,
		targetAge:  targetAge,
	}
}

// Fetch returns the cached object for hash, promoting it to the front of
// the recency list on a hit.
func (c *Positive) Fetch(hash nodeobject.Hash) *nodeobject.Object {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[hash]
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return nil
	}
	atomic.AddUint64(&c.hits, 1)
	ent := el.Value.(*positiveEntry)
	ent.touched = time.Now()
	c.order.MoveToFront(el)
	return ent.object
}

// Canonicalize deduplicates object identity at store time: if an entry
// already exists for hash it is returned (unless replaceExisting asks the
// new object to supersede it); otherwise candidate is inserted and
// returned. This ensures every caller holding the same hash converges on
// one in-memory instance.
func (c *Positive) Canonicalize(hash nodeobject.Hash, candidate *nodeobject.Object, replaceExisting bool) *nodeobject.Object {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[hash]; ok {
		ent := el.Value.(*positiveEntry)
		ent.touched = time.Now()
		c.order.MoveToFront(el)
		if replaceExisting {
			ent.object = candidate
		}
		return ent.object
	}

	ent := &positiveEntry{hash: hash, object: candidate, touched: time.Now()}
	el := c.order.PushFront(ent)
	c.entries[hash] = el
	return candidate
}

// Erase drops a single entry, used when a store invalidates a stale copy.
func (c *Positive) Erase(hash nodeobject.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[hash]; ok {
		c.order.Remove(el)
		delete(c.entries, hash)
	}
}

// Sweep evicts entries older than the target age, then continues evicting
// the least recently touched entries until the cache is at or under the
// target size.
func (c *Positive) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.targetAge)
	for el := c.order.Back(); el != nil; {
		ent := el.Value.(*positiveEntry)
		if !ent.touched.Before(cutoff) {
			break
		}
		prev := el.Prev()
		c.order.Remove(el)
		delete(c.entries, ent.hash)
		el = prev
	}

	for c.order.Len() > c.targetSize {
		el := c.order.Back()
		if el == nil {
			break
		}
		ent := el.Value.(*positiveEntry)
		c.order.Remove(el)
		delete(c.entries, ent.hash)
	}
}

func (c *Positive) SetTargetSize(size int) {
	c.mu.Lock()
	c.targetSize = size
	c.mu.Unlock()
}

func (c *Positive) SetTargetAge(age time.Duration) {
	c.mu.Lock()
	c.targetAge = age
	c.mu.Unlock()
}

func (c *Positive) GetTargetSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetSize
}

func (c *Positive) GetTargetAge() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetAge
}

// GetHitRate is the lifetime hit ratio over total fetch attempts.
func (c *Positive) GetHitRate() float64 {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Len reports the current entry count, mostly for tests.
func (c *Positive) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
