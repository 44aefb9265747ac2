// Package database implements fetch/store/async-fetch machinery with a
// background read-thread pool, routed through a CacheLookup. NodeStore and
// RotatingStore expose a Lookup and Shard exposes NewBase so a caller can
// wire a Base to them; the stores themselves keep their own direct
// fetch/store paths and do not hold a Base.
package database

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/miguelportilla/rippled/backend"
	"github.com/miguelportilla/rippled/cache"
	"github.com/miguelportilla/rippled/logs"
	"github.com/miguelportilla/rippled/nodeobject"
)

// CacheLookup resolves the positive/negative cache pair and backend that
// own a given ledger sequence. Implementations report ok=false for an
// unroutable sequence (outside every shard, for example).
type CacheLookup func(seq uint32) (pCache *cache.Positive, nCache *cache.Negative, be backend.Backend, ok bool)

// Base holds the counters, read-thread pool and cache-routing hook. It is
// created with New and used through a pointer; callers supply the routing
// via Lookup.
type Base struct {
	Logger logs.Logger
	Lookup CacheLookup

	asyncDivider int

	readQueue chan readTask
	readWg    sync.WaitGroup
	stopOnce  sync.Once
	stopChan  chan struct{}

	storeCount     uint64
	storeSz        uint64
	fetchTotalCount uint64
	fetchHitCount  uint64
	fetchSz        uint64
}

type readTask struct {
	hash nodeobject.Hash
	seq  uint32
}

// New creates a Base with readThreads background workers pulling from a
// queue of depth queueDepth. asyncDivider feeds GetDesiredAsyncReadCount.
func New(logger logs.Logger, lookup CacheLookup, readThreads, queueDepth, asyncDivider int) *Base {
	if logger == nil {
		logger = logs.Nop{}
	}
	if readThreads <= 0 {
		readThreads = 1
	}
	if queueDepth <= 0 {
		queueDepth = 1
	}
	if asyncDivider <= 0 {
		asyncDivider = 1
	}
	b := &Base{
		Logger:       logger,
		Lookup:       lookup,
		asyncDivider: asyncDivider,
		readQueue:    make(chan readTask, queueDepth),
		stopChan:     make(chan struct{}),
	}
	for i := 0; i < readThreads; i++ {
		b.readWg.Add(1)
		go b.runReadThread()
	}
	return b
}

// Stop drains and halts the read-thread pool. Safe to call more than once.
func (b *Base) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopChan)
	})
	b.readWg.Wait()
}

func (b *Base) runReadThread() {
	defer b.readWg.Done()
	for {
		select {
		case <-b.stopChan:
			// drain whatever is already queued before exiting, mirroring
			// the write-queue shutdown discipline elsewhere in the stack.
			for {
				select {
				case t := <-b.readQueue:
					b.performFetch(t.hash, t.seq)
				default:
					return
				}
			}
		case t := <-b.readQueue:
			b.performFetch(t.hash, t.seq)
		}
	}
}

// FetchInternal maps a raw backend fetch onto (object, present) and logs
// the two failure classes the core never tries to repair.
func (b *Base) FetchInternal(hash nodeobject.Hash, be backend.Backend) (*nodeobject.Object, bool) {
	obj, status, err := be.Fetch(hash)
	if err != nil {
		b.Logger.Error("fetch %s failed: %v", hash, err)
		return nil, false
	}
	switch status {
	case backend.StatusOK:
		return obj, true
	case backend.StatusNotFound:
		return nil, false
	case backend.StatusDataCorrupt:
		b.Logger.Fatal("corrupt object %s", hash)
		return nil, false
	default:
		b.Logger.Error("fetch %s returned status %v", hash, status)
		return nil, false
	}
}

// doFetch runs the shared pCache -> nCache -> backend chain once the
// caller has already resolved which cache pair and backend own seq.
func (b *Base) doFetch(hash nodeobject.Hash, pCache *cache.Positive, nCache *cache.Negative, be backend.Backend) *nodeobject.Object {
	atomic.AddUint64(&b.fetchTotalCount, 1)

	if obj := pCache.Fetch(hash); obj != nil {
		atomic.AddUint64(&b.fetchHitCount, 1)
		return obj
	}
	if nCache.TouchIfExists(hash) {
		return nil
	}

	obj, ok := b.FetchInternal(hash, be)
	if !ok {
		nCache.Insert(hash)
		return nil
	}
	atomic.AddUint64(&b.fetchSz, uint64(obj.Size()))
	return pCache.Canonicalize(hash, obj, false)
}

// Fetch is the synchronous path described by the shared fetch contract:
// resolve the owning cache pair, then run doFetch.
func (b *Base) Fetch(hash nodeobject.Hash, seq uint32) *nodeobject.Object {
	pCache, nCache, be, ok := b.Lookup(seq)
	if !ok {
		return nil
	}
	return b.doFetch(hash, pCache, nCache, be)
}

func (b *Base) performFetch(hash nodeobject.Hash, seq uint32) {
	pCache, nCache, be, ok := b.Lookup(seq)
	if !ok {
		return
	}
	b.doFetch(hash, pCache, nCache, be)
}

// AsyncFetch checks the caches inline and, on a full miss, enqueues a
// background fetch instead of blocking. It returns true (with out set)
// whenever the caches alone can answer the call.
func (b *Base) AsyncFetch(hash nodeobject.Hash, seq uint32) (obj *nodeobject.Object, done bool) {
	pCache, nCache, _, ok := b.Lookup(seq)
	if !ok {
		return nil, true
	}
	if o := pCache.Fetch(hash); o != nil {
		return o, true
	}
	if nCache.TouchIfExists(hash) {
		return nil, true
	}

	select {
	case b.readQueue <- readTask{hash: hash, seq: seq}:
	default:
		// queue saturated; caller falls back to a synchronous fetch
		b.Logger.Warn("read queue saturated, dropping prefetch for %s", hash)
	}
	return nil, false
}

// StoreInternal writes obj to be, canonicalizes it into pCache and
// invalidates any stale absence proof in nCache.
func (b *Base) StoreInternal(obj *nodeobject.Object, pCache *cache.Positive, nCache *cache.Negative, be backend.Backend) error {
	if err := be.Store(obj); err != nil {
		b.Logger.Error("store %s failed: %v", obj.Hash(), err)
		return err
	}
	atomic.AddUint64(&b.storeCount, 1)
	atomic.AddUint64(&b.storeSz, uint64(obj.Size()))
	pCache.Canonicalize(obj.Hash(), obj, true)
	nCache.Erase(obj.Hash())
	return nil
}

// StoreBatchInternal stores each object in order, stopping at the first
// error so a partial batch failure is never silently swallowed.
func (b *Base) StoreBatchInternal(objs []*nodeobject.Object, pCache *cache.Positive, nCache *cache.Negative, be backend.Backend) error {
	for _, obj := range objs {
		if err := b.StoreInternal(obj, pCache, nCache, be); err != nil {
			return err
		}
	}
	return nil
}

// GetDesiredAsyncReadCount sizes a caller's prefetch window to the cache
// budget of the shard owning seq.
func (b *Base) GetDesiredAsyncReadCount(seq uint32) int {
	pCache, _, _, ok := b.Lookup(seq)
	if !ok {
		return 0
	}
	return pCache.GetTargetSize() / b.asyncDivider
}

// Tune updates the positive/negative cache targets for the pair owning
// seq.
func (b *Base) Tune(seq uint32, targetSize int, targetAge time.Duration) {
	pCache, nCache, _, ok := b.Lookup(seq)
	if !ok {
		return
	}
	pCache.SetTargetSize(targetSize)
	pCache.SetTargetAge(targetAge)
	nCache.SetTargetSize(targetSize)
	nCache.SetTargetAge(targetAge)
}

// Sweep evicts stale entries from the pair owning seq.
func (b *Base) Sweep(seq uint32) {
	pCache, nCache, _, ok := b.Lookup(seq)
	if !ok {
		return
	}
	pCache.Sweep()
	nCache.Sweep()
}

// GetCacheHitRate reports the positive-cache hit ratio for the pair
// owning seq.
func (b *Base) GetCacheHitRate(seq uint32) float64 {
	pCache, _, _, ok := b.Lookup(seq)
	if !ok {
		return 0
	}
	return pCache.GetHitRate()
}

// Counts is a snapshot of the lifetime store/fetch counters, used by the
// owning store's updateStats.
type Counts struct {
	StoreCount      uint64
	StoreSz         uint64
	FetchTotalCount uint64
	FetchHitCount   uint64
	FetchSz         uint64
}

func (b *Base) Counts() Counts {
	return Counts{
		StoreCount:      atomic.LoadUint64(&b.storeCount),
		StoreSz:         atomic.LoadUint64(&b.storeSz),
		FetchTotalCount: atomic.LoadUint64(&b.fetchTotalCount),
		FetchHitCount:   atomic.LoadUint64(&b.fetchHitCount),
		FetchSz:         atomic.LoadUint64(&b.fetchSz),
	}
}
