// Package ledgercopy implements the walk-and-materialize algorithm shared
// by every store's copyLedger operation: persist a ledger's header, then
// replay its state and transaction trees into a destination store, either
// in full or differentially against a chain-adjacent neighbor already
// present at the destination.
package ledgercopy

import (
	"errors"

	"github.com/miguelportilla/rippled/ledger"
	"github.com/miguelportilla/rippled/nodeobject"
)

// ErrSameStore is returned when the source and destination are the same
// object; copying a ledger onto itself is never meaningful. It is also
// returned when either of them is nil.
var ErrSameStore = errors.New("ledgercopy: source and destination are identical")

// ErrNoAccountHash is returned when the ledger carries no state map root;
// every copyable ledger is expected to have one.
var ErrNoAccountHash = errors.New("ledgercopy: ledger has no account hash")

// ErrNodeAbsent is returned when a node the tree walk names is missing
// from the source, aborting the copy at the first such failure.
var ErrNodeAbsent = errors.New("ledgercopy: source node absent")

// Tree is the authenticated radix tree external collaborator: visit and
// diff traversals are assumed, not reimplemented here.
type Tree interface {
	// VisitNodes calls visit for every reachable node hash. Traversal
	// stops at the first call that returns false.
	VisitNodes(visit func(hash nodeobject.Hash) bool)
	// VisitDifferences calls visit only for nodes reachable from this
	// tree but not from prev, the cheap path when prev is a verified
	// chain-adjacent neighbor.
	VisitDifferences(prev Tree, visit func(hash nodeobject.Hash) bool)
}

// Source is what the algorithm needs from the chain the ledger is being
// copied out of.
type Source interface {
	Fetch(hash nodeobject.Hash, seq uint32) *nodeobject.Object
}

// Destination is what the algorithm needs from the store being copied
// into. SetStored lets shard-backed destinations record completion; other
// topologies can implement it as a no-op returning true.
type Destination interface {
	Store(obj *nodeobject.Object) error
	SetStored(info ledger.Info) bool
}

// Neighbor is a ledger already present at the destination, used to bound
// the state-map walk to only the nodes info introduces.
type Neighbor struct {
	Info      ledger.Info
	StateTree Tree
}

// Copy persists info's header and the reachable nodes of its state and
// (if present) transaction trees from src into dst. neighbor may be nil;
// when non-nil and its ParentHash equals info.Hash (the neighbor is info's
// direct successor), the state map is copied differentially against it. txTree differencing is never attempted,
// matching the one topology in this stack that copies trees at all.
func Copy(src Source, srcSeq uint32, dst Destination, info ledger.Info, stateTree, txTree Tree, neighbor *Neighbor) error {
	if src == nil || dst == nil {
		return ErrSameStore
	}
	if d, ok := src.(Destination); ok && d == dst {
		return ErrSameStore
	}
	if info.AccountHash.IsZero() {
		return ErrNoAccountHash
	}

	if err := dst.Store(ledger.HeaderObject(info)); err != nil {
		return err
	}

	replay := func(node nodeobject.Hash) bool {
		obj := src.Fetch(node, srcSeq)
		if obj == nil {
			return false
		}
		if err := dst.Store(obj); err != nil {
			return false
		}
		return true
	}

	var walkFailed bool
	failGuard := func(node nodeobject.Hash) bool {
		if !replay(node) {
			walkFailed = true
			return false
		}
		return true
	}

	if stateTree == nil {
		return ErrNoAccountHash
	}
	if neighbor != nil && neighbor.Info.ChainsFrom(info) && neighbor.StateTree != nil {
		stateTree.VisitDifferences(neighbor.StateTree, failGuard)
	} else {
		stateTree.VisitNodes(failGuard)
	}
	if walkFailed {
		return ErrNodeAbsent
	}

	if !info.TxHash.IsZero() && txTree != nil {
		txTree.VisitNodes(failGuard)
		if walkFailed {
			return ErrNodeAbsent
		}
	}

	if !dst.SetStored(info) {
		return errors.New("ledgercopy: destination rejected setStored")
	}
	return nil
}
