// Package nodeobject defines the content-addressed blob type persisted by
// every backend: a typed, hash-tagged, immutable chunk of ledger data.
package nodeobject

import (
	"encoding/hex"
)

// HashSize is the width of a node object's identity: a 256-bit digest.
const HashSize = 32

// Hash is a 256-bit content key. Hashes are assumed collision-free and are
// verified by the caller before a NodeObject is constructed; the store
// never recomputes them.
type Hash [HashSize]byte

// String renders the hash as lowercase hex, for logs and control files.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is the zero value (used as an
// absent-root sentinel by ledger headers).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// HashFromHex parses a hex-encoded hash, as found in a ledger header
// reference.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != HashSize {
		return h, ErrInvalidHashLength
	}
	copy(h[:], b)
	return h, nil
}

// Type tags the category of a NodeObject. It carries no semantics for the
// core store beyond being round-tripped through the backend.
type Type uint8

const (
	TypeUnknown Type = iota
	// TypeLedgerHeader is a serialized ledger header; its hash equals the
	// ledger's hash.
	TypeLedgerHeader
	// TypeTreeInner is an inner node of the state or transaction map.
	TypeTreeInner
	// TypeTreeLeaf is a leaf node of the state or transaction map.
	TypeTreeLeaf
	// TypeTransaction is a raw transaction blob referenced from a
	// transaction map leaf.
	TypeTransaction
)

func (t Type) String() string {
	switch t {
	case TypeLedgerHeader:
		return "ledger-header"
	case TypeTreeInner:
		return "tree-inner"
	case TypeTreeLeaf:
		return "tree-leaf"
	case TypeTransaction:
		return "transaction"
	default:
		return "unknown"
	}
}

// Object is a content-addressed blob. Identity and equality are both
// defined solely by Hash; Type and Data are frozen at construction.
type Object struct {
	typ  Type
	data []byte
	hash Hash
}

// New constructs a Object. The caller asserts hash == H(data); the store
// never recomputes or checks the digest.
func New(typ Type, data []byte, hash Hash) *Object {
	return &Object{typ: typ, data: data, hash: hash}
}

func (o *Object) Type() Type   { return o.typ }
func (o *Object) Data() []byte { return o.data }
func (o *Object) Hash() Hash   { return o.hash }

// Size is the number of payload bytes, used for write/fetch byte counters.
func (o *Object) Size() int { return len(o.data) }

// Equal compares identity, not content: two objects are equal iff their
// hashes match, per the data model's "equality is by hash alone" invariant.
func (o *Object) Equal(other *Object) bool {
	if o == nil || other == nil {
		return o == other
	}
	return o.hash == other.hash
}
