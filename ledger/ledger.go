// Package ledger defines the minimal ledger-header shape the node store
// needs to drive shard lifecycle and tree-copy decisions. The header codec
// itself is an external collaborator; only the binary framing pinned for
// interop lives here.
package ledger

import (
	"encoding/binary"

	"github.com/miguelportilla/rippled/nodeobject"
)

// hashPrefixLedgerMaster tags the canonical ledger-header blob so the
// framing is distinguishable from any other object type sharing a backend.
const hashPrefixLedgerMaster uint32 = 0x4c444700 // 'L','D','G',0x00

// Info is the chain-independent subset of a ledger header the store cares
// about: its own identity, its parent for chain-adjacency checks, and the
// two tree roots it may need to walk.
type Info struct {
	Seq        uint32
	Hash       nodeobject.Hash
	ParentHash nodeobject.Hash
	AccountHash nodeobject.Hash // state map root, zero means no state map
	TxHash     nodeobject.Hash // tx map root, zero means no tx map
	Raw        []byte          // canonical encoded header, opaque to the store
}

// ChainsFrom reports whether info is the direct successor of prev, the
// condition that makes differential state-map copying against prev valid.
func (info Info) ChainsFrom(prev Info) bool {
	return info.ParentHash == prev.Hash
}

// FrameHeader builds the pinned on-disk blob for a ledger-header node
// object: a 4-byte big-endian hash prefix followed by the canonical
// encoded header.
func FrameHeader(info Info) []byte {
	out := make([]byte, 4+len(info.Raw))
	binary.BigEndian.PutUint32(out[:4], hashPrefixLedgerMaster)
	copy(out[4:], info.Raw)
	return out
}

// HeaderObject builds the NodeObject that represents info's header,
// hashed under the ledger's own hash as pinned by the framing contract.
func HeaderObject(info Info) *nodeobject.Object {
	return nodeobject.New(nodeobject.TypeLedgerHeader, FrameHeader(info), info.Hash)
}
