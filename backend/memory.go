package backend

import (
	"sync"
	"sync/atomic"

	"github.com/miguelportilla/rippled/nodeobject"
)

func init() {
	Register("memory", newMemory)
}

// memoryBackend is the degenerate, in-memory/null backend: Fdlimit reports
// zero so callers (Shard.Open, ShardStore.init) take the simplified
// no-control-file code path.
type memoryBackend struct {
	mu        sync.RWMutex
	objects   map[nodeobject.Hash]*nodeobject.Object
	writeLoad int64
}

func newMemory(Config) (Backend, error) {
	return &memoryBackend{objects: make(map[nodeobject.Hash]*nodeobject.Object)}, nil
}

func (b *memoryBackend) Store(obj *nodeobject.Object) error {
	b.mu.Lock()
	b.objects[obj.Hash()] = obj
	b.mu.Unlock()
	atomic.AddInt64(&b.writeLoad, 1)
	return nil
}

func (b *memoryBackend) Fetch(hash nodeobject.Hash) (*nodeobject.Object, Status, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[hash]
	if !ok {
		return nil, StatusNotFound, nil
	}
	return obj, StatusOK, nil
}

func (b *memoryBackend) Fdlimit() int { return 0 }

func (b *memoryBackend) WriteLoad() int64 { return atomic.LoadInt64(&b.writeLoad) }

func (b *memoryBackend) Close() error { return nil }
