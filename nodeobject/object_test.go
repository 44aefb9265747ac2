package nodeobject

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashFromHex(t *testing.T) {
	h, err := HashFromHex("0000000000000000000000000000000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.False(t, h.IsZero())
	assert.Equal(t, "0000000000000000000000000000000000000000000000000000000000000001", h.String())

	_, err = HashFromHex("deadbeef")
	assert.ErrorIs(t, err, ErrInvalidHashLength)
}

func TestZeroHash(t *testing.T) {
	var h Hash
	assert.True(t, h.IsZero())
}

func TestObjectEqualityByHashOnly(t *testing.T) {
	h, err := HashFromHex("000000000000000000000000000000000000000000000000000000000000002a")
	require.NoError(t, err)

	a := New(TypeTreeLeaf, []byte("payload-a"), h)
	b := New(TypeTreeLeaf, []byte("payload-b"), h)

	assert.True(t, a.Equal(b), "objects sharing a hash are equal regardless of data")
	assert.Equal(t, h, a.Hash())
	assert.Equal(t, len("payload-a"), a.Size())
}

func TestTypeString(t *testing.T) {
	cases := map[Type]string{
		TypeUnknown:      "unknown",
		TypeLedgerHeader: "ledger-header",
		TypeTreeInner:    "tree-inner",
		TypeTreeLeaf:     "tree-leaf",
		TypeTransaction:  "transaction",
	}
	for typ, want := range cases {
		assert.Equal(t, want, typ.String())
	}
}
