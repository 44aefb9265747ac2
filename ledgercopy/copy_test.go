package ledgercopy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miguelportilla/rippled/ledger"
	"github.com/miguelportilla/rippled/nodeobject"
)

// fakeTree is a flat set of node hashes; VisitDifferences reports only
// hashes absent from prev's set, mirroring a real authenticated tree's
// differential walk without any actual tree structure.
type fakeTree struct {
	nodes map[nodeobject.Hash]bool
}

func newFakeTree(hashes ...nodeobject.Hash) *fakeTree {
	t := &fakeTree{nodes: map[nodeobject.Hash]bool{}}
	for _, h := range hashes {
		t.nodes[h] = true
	}
	return t
}

func (t *fakeTree) VisitNodes(visit func(nodeobject.Hash) bool) {
	for h := range t.nodes {
		if !visit(h) {
			return
		}
	}
}

func (t *fakeTree) VisitDifferences(prev Tree, visit func(nodeobject.Hash) bool) {
	other, ok := prev.(*fakeTree)
	if !ok {
		t.VisitNodes(visit)
		return
	}
	for h := range t.nodes {
		if other.nodes[h] {
			continue
		}
		if !visit(h) {
			return
		}
	}
}

type fakeSource struct {
	objects map[nodeobject.Hash]*nodeobject.Object
}

func (s *fakeSource) Fetch(hash nodeobject.Hash, seq uint32) *nodeobject.Object {
	return s.objects[hash]
}

type fakeDestination struct {
	stored    map[nodeobject.Hash]*nodeobject.Object
	setStored bool
	rejectSet bool
	storeErr  error
}

func newFakeDestination() *fakeDestination {
	return &fakeDestination{stored: map[nodeobject.Hash]*nodeobject.Object{}}
}

func (d *fakeDestination) Store(obj *nodeobject.Object) error {
	if d.storeErr != nil {
		return d.storeErr
	}
	d.stored[obj.Hash()] = obj
	return nil
}

func (d *fakeDestination) SetStored(info ledger.Info) bool {
	d.setStored = true
	return !d.rejectSet
}

func objAt(seed byte) (nodeobject.Hash, *nodeobject.Object) {
	h := nodeobject.Hash{seed}
	return h, nodeobject.New(nodeobject.TypeTreeLeaf, []byte{seed}, h)
}

func TestCopyFullStateAndTxWalk(t *testing.T) {
	h1, o1 := objAt(1)
	h2, o2 := objAt(2)
	h3, o3 := objAt(3)

	src := &fakeSource{objects: map[nodeobject.Hash]*nodeobject.Object{h1: o1, h2: o2, h3: o3}}
	dst := newFakeDestination()

	info := ledger.Info{
		Seq:         5,
		Hash:        nodeobject.Hash{100},
		AccountHash: nodeobject.Hash{1},
		TxHash:      nodeobject.Hash{2},
	}
	stateTree := newFakeTree(h1, h2)
	txTree := newFakeTree(h3)

	err := Copy(src, info.Seq, dst, info, stateTree, txTree, nil)
	require.NoError(t, err)

	assert.Contains(t, dst.stored, h1)
	assert.Contains(t, dst.stored, h2)
	assert.Contains(t, dst.stored, h3)
	assert.Contains(t, dst.stored, info.Hash, "header object must be stored under the ledger's own hash")
	assert.True(t, dst.setStored)
}

func TestCopyDifferentialAgainstChainAdjacentNeighbor(t *testing.T) {
	h1, o1 := objAt(1)
	h2, o2 := objAt(2)

	src := &fakeSource{objects: map[nodeobject.Hash]*nodeobject.Object{h1: o1, h2: o2}}
	dst := newFakeDestination()

	info := ledger.Info{Seq: 5, Hash: nodeobject.Hash{100}, AccountHash: nodeobject.Hash{1}}
	next := ledger.Info{Seq: 6, Hash: nodeobject.Hash{60}, ParentHash: info.Hash, AccountHash: nodeobject.Hash{9}}

	neighborTree := newFakeTree(h1) // state tree of the successor ledger already at the destination
	currentTree := newFakeTree(h1, h2)

	neighbor := &Neighbor{Info: next, StateTree: neighborTree}
	err := Copy(src, info.Seq, dst, info, currentTree, nil, neighbor)
	require.NoError(t, err)

	assert.NotContains(t, dst.stored, h1, "h1 is shared with the neighbor and should not be replayed")
	assert.Contains(t, dst.stored, h2, "h2 is new relative to the neighbor and must be replayed")
}

func TestCopyFallsBackToFullWalkWhenNeighborNotChainAdjacent(t *testing.T) {
	h1, o1 := objAt(1)
	h2, o2 := objAt(2)

	src := &fakeSource{objects: map[nodeobject.Hash]*nodeobject.Object{h1: o1, h2: o2}}
	dst := newFakeDestination()

	unrelated := ledger.Info{Seq: 1, Hash: nodeobject.Hash{200}, AccountHash: nodeobject.Hash{9}}
	info := ledger.Info{Seq: 5, Hash: nodeobject.Hash{100}, ParentHash: nodeobject.Hash{77}, AccountHash: nodeobject.Hash{1}}

	neighbor := &Neighbor{Info: unrelated, StateTree: newFakeTree(h1)}
	currentTree := newFakeTree(h1, h2)

	err := Copy(src, info.Seq, dst, info, currentTree, nil, neighbor)
	require.NoError(t, err)

	assert.Contains(t, dst.stored, h1, "non-adjacent neighbor forces a full walk, h1 must be replayed too")
	assert.Contains(t, dst.stored, h2)
}

func TestCopyRejectsMissingAccountHash(t *testing.T) {
	src := &fakeSource{objects: map[nodeobject.Hash]*nodeobject.Object{}}
	dst := newFakeDestination()

	info := ledger.Info{Seq: 1, Hash: nodeobject.Hash{1}}
	err := Copy(src, info.Seq, dst, info, newFakeTree(), nil, nil)
	assert.ErrorIs(t, err, ErrNoAccountHash)
}

func TestCopyReturnsErrNodeAbsentWhenSourceMissesANode(t *testing.T) {
	h1, o1 := objAt(1)
	missing, _ := objAt(2)

	src := &fakeSource{objects: map[nodeobject.Hash]*nodeobject.Object{h1: o1}}
	dst := newFakeDestination()

	info := ledger.Info{Seq: 1, Hash: nodeobject.Hash{1}, AccountHash: nodeobject.Hash{9}}
	err := Copy(src, info.Seq, dst, info, newFakeTree(h1, missing), nil, nil)
	assert.ErrorIs(t, err, ErrNodeAbsent)
}

func TestCopyRejectsNilSourceOrDestination(t *testing.T) {
	info := ledger.Info{Seq: 1, Hash: nodeobject.Hash{1}, AccountHash: nodeobject.Hash{9}}
	err := Copy(nil, 1, newFakeDestination(), info, newFakeTree(), nil, nil)
	assert.ErrorIs(t, err, ErrSameStore)
}

func TestCopyPropagatesDestinationRejection(t *testing.T) {
	h1, o1 := objAt(1)
	src := &fakeSource{objects: map[nodeobject.Hash]*nodeobject.Object{h1: o1}}
	dst := newFakeDestination()
	dst.rejectSet = true

	info := ledger.Info{Seq: 1, Hash: nodeobject.Hash{1}, AccountHash: nodeobject.Hash{9}}
	err := Copy(src, info.Seq, dst, info, newFakeTree(h1), nil, nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNodeAbsent))
}
