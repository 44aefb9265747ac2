// Package nodestore implements the baseline storage topology: one
// backend with a write-through cache pair in front of it. It exists as
// the common interface ShardStore and RotatingStore specialize, not as
// a topology with interesting lifecycle of its own.
package nodestore

import (
	"time"

	"github.com/miguelportilla/rippled/backend"
	"github.com/miguelportilla/rippled/cache"
	"github.com/miguelportilla/rippled/ledger"
	"github.com/miguelportilla/rippled/ledgercopy"
	"github.com/miguelportilla/rippled/logs"
	"github.com/miguelportilla/rippled/nodeobject"
)

// Store is a single backend fronted by a positive/negative cache pair.
type Store struct {
	be     backend.Backend
	pCache *cache.Positive
	nCache *cache.Negative
	logger logs.Logger
}

// New wraps be with a cache pair sized by cacheSize/cacheAge.
func New(be backend.Backend, cacheSize int, cacheAge time.Duration, logger logs.Logger) *Store {
	if logger == nil {
		logger = logs.Nop{}
	}
	return &Store{
		be:     be,
		pCache: cache.NewPositive(cacheSize, cacheAge),
		nCache: cache.NewNegative(cacheSize, cacheAge),
		logger: logger,
	}
}

func (s *Store) Store(obj *nodeobject.Object) error {
	if err := s.be.Store(obj); err != nil {
		s.logger.Error("nodestore: store %s failed: %v", obj.Hash(), err)
		return err
	}
	s.pCache.Canonicalize(obj.Hash(), obj, true)
	s.nCache.Erase(obj.Hash())
	return nil
}

func (s *Store) Fetch(hash nodeobject.Hash, seq uint32) *nodeobject.Object {
	_ = seq
	if obj := s.pCache.Fetch(hash); obj != nil {
		return obj
	}
	if s.nCache.TouchIfExists(hash) {
		return nil
	}
	obj, status, err := s.be.Fetch(hash)
	if err != nil {
		s.logger.Error("nodestore: fetch %s failed: %v", hash, err)
		s.nCache.Insert(hash)
		return nil
	}
	switch status {
	case backend.StatusOK:
		return s.pCache.Canonicalize(hash, obj, false)
	case backend.StatusDataCorrupt:
		s.logger.Fatal("nodestore: corrupt object %s", hash)
		s.nCache.Insert(hash)
		return nil
	default:
		s.nCache.Insert(hash)
		return nil
	}
}

func (s *Store) AsyncFetch(hash nodeobject.Hash, seq uint32) (obj *nodeobject.Object, done bool) {
	_ = seq
	if o := s.pCache.Fetch(hash); o != nil {
		return o, true
	}
	if s.nCache.TouchIfExists(hash) {
		return nil, true
	}
	return nil, false
}

// Lookup implements database.CacheLookup for callers that want a
// database.Base wired for real background-pool asynchrony.
func (s *Store) Lookup(seq uint32) (*cache.Positive, *cache.Negative, backend.Backend, bool) {
	return s.pCache, s.nCache, s.be, true
}

func (s *Store) SetStored(ledger.Info) bool { return true }

func (s *Store) CopyLedger(src ledgercopy.Source, srcSeq uint32, info ledger.Info, stateTree, txTree ledgercopy.Tree) error {
	return ledgercopy.Copy(src, srcSeq, s, info, stateTree, txTree, nil)
}

func (s *Store) Close() error { return s.be.Close() }

var _ ledgercopy.Destination = (*Store)(nil)
