// Package backend defines the pluggable physical key->blob store that
// underlies a shard or rotating tier, plus a small registry of factories
// so the store config can select one by name.
package backend

import (
	"fmt"
	"sync"

	"github.com/miguelportilla/rippled/nodeobject"
)

// Status distinguishes "not found" from "found corrupt" from a hard I/O
// error, so the core never has to guess why a fetch came back empty.
type Status int

const (
	StatusOK Status = iota
	StatusNotFound
	StatusDataCorrupt
	StatusOtherError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not-found"
	case StatusDataCorrupt:
		return "data-corrupt"
	default:
		return "other-error"
	}
}

// Backend is the contract a physical store must satisfy. The core treats
// a backend as a trust boundary: corruption surfaces as StatusDataCorrupt
// and is logged, never silently healed.
type Backend interface {
	// Store durably persists a single object, keyed by its hash.
	Store(obj *nodeobject.Object) error
	// Fetch retrieves an object by hash. The returned Status is
	// authoritative even when err is nil; err is reserved for I/O
	// failures the backend cannot classify.
	Fetch(hash nodeobject.Hash) (*nodeobject.Object, Status, error)
	// Fdlimit is the backend's advertised file-descriptor requirement.
	// Zero means an in-memory/null backend; callers take a simplified
	// path that skips all control-file bookkeeping.
	Fdlimit() int
	// WriteLoad is a monotone counter of write pressure, aggregated by
	// callers for diagnostics.
	WriteLoad() int64
	// Close releases any resources (file handles, in-flight batches).
	Close() error
}

// Config is the subset of config.StoreConfig a Factory needs to open a
// backend instance, scoped to a single directory.
type Config struct {
	Path string
	// Extra carries backend-specific tuning (e.g. block cache size);
	// factories ignore keys they don't recognize.
	Extra map[string]any
}

// Factory opens a Backend rooted at cfg.Path.
type Factory func(cfg Config) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a named backend factory to the registry. Called from each
// backend implementation's init().
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New resolves name in the registry and opens a backend at cfg.Path. An
// unknown name is returned as an error (ShardStore.Init and Shard.Open
// both fail on it).
func New(name string, cfg Config) (Backend, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("backend: unknown type %q", name)
	}
	return f(cfg)
}
