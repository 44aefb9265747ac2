package rotatingstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miguelportilla/rippled/backend"
	"github.com/miguelportilla/rippled/ledger"
	"github.com/miguelportilla/rippled/nodeobject"
)

func newBackend(t *testing.T) backend.Backend {
	t.Helper()
	be, err := backend.New("memory", backend.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { be.Close() })
	return be
}

func TestStoreWritesToWritable(t *testing.T) {
	writable, archive := newBackend(t), newBackend(t)
	s := New(writable, archive, 16, time.Hour, nil)

	h := nodeobject.Hash{1}
	obj := nodeobject.New(nodeobject.TypeTreeLeaf, []byte("data"), h)
	require.NoError(t, s.Store(obj))

	got, status, err := writable.Fetch(h)
	require.NoError(t, err)
	assert.Equal(t, backend.StatusOK, status)
	assert.True(t, got.Equal(obj))
}

func TestFetchFallsBackToArchiveAndPromotes(t *testing.T) {
	writable, archive := newBackend(t), newBackend(t)
	s := New(writable, archive, 16, time.Hour, nil)

	h := nodeobject.Hash{2}
	obj := nodeobject.New(nodeobject.TypeTreeLeaf, []byte("archived"), h)
	require.NoError(t, archive.Store(obj))

	got := s.Fetch(h, 1)
	require.NotNil(t, got)
	assert.True(t, got.Equal(obj))

	// The archive hit must have been promoted into writable.
	promoted, status, err := writable.Fetch(h)
	require.NoError(t, err)
	assert.Equal(t, backend.StatusOK, status)
	assert.True(t, promoted.Equal(obj))
}

func TestFetchMissWithNoArchiveHit(t *testing.T) {
	writable, archive := newBackend(t), newBackend(t)
	s := New(writable, archive, 16, time.Hour, nil)

	assert.Nil(t, s.Fetch(nodeobject.Hash{3}, 1))
	assert.True(t, s.nCache.TouchIfExists(nodeobject.Hash{3}))
}

func TestFetchPromotionErasesNegativeCacheEntry(t *testing.T) {
	writable, archive := newBackend(t), newBackend(t)
	s := New(writable, archive, 16, time.Hour, nil)

	h := nodeobject.Hash{4}
	s.nCache.Insert(h) // a prior miss before the object landed in archive

	obj := nodeobject.New(nodeobject.TypeTreeLeaf, []byte("late"), h)
	require.NoError(t, archive.Store(obj))

	got := s.fetchFrom(h)
	require.NotNil(t, got)
	assert.False(t, s.nCache.TouchIfExists(h), "promotion must erase the stale absence proof")
}

func TestRotateBackendsEvictsArchiveAndDemotesWritable(t *testing.T) {
	writable, archive, fresh := newBackend(t), newBackend(t), newBackend(t)
	s := New(writable, archive, 16, time.Hour, nil)

	evicted := s.RotateBackends(fresh)
	assert.Same(t, archive, evicted)

	s.mu.RLock()
	newWritable, newArchive := s.writable, s.archive
	s.mu.RUnlock()
	assert.Same(t, fresh, newWritable)
	assert.Same(t, writable, newArchive, "the old writable becomes the new archive")
}

func TestSetStoredIsANoOp(t *testing.T) {
	s := New(newBackend(t), newBackend(t), 16, time.Hour, nil)
	assert.True(t, s.SetStored(ledger.Info{Seq: 1}))
}

func TestLookupRoutesEverySequenceToWritable(t *testing.T) {
	writable, archive := newBackend(t), newBackend(t)
	s := New(writable, archive, 16, time.Hour, nil)

	p, n, be, ok := s.Lookup(42)
	require.True(t, ok)
	assert.Same(t, s.pCache, p)
	assert.Same(t, s.nCache, n)
	assert.Same(t, writable, be)
}
