package shard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miguelportilla/rippled/ledger"
	"github.com/miguelportilla/rippled/nodeobject"

	_ "github.com/miguelportilla/rippled/backend"
)

func openTestShard(t *testing.T, index uint32, ledgersPerShard uint32) (*Shard, Config) {
	t.Helper()
	cfg := NewConfig(ledgersPerShard)
	sh := New(cfg, index, 64, time.Hour)
	require.NoError(t, sh.Open(t.TempDir(), "memory", nil, nil))
	return sh, cfg
}

func TestOpenFreshShardIsIncompleteWithConfiguredRange(t *testing.T) {
	sh, cfg := openTestShard(t, 5, 100)
	assert.False(t, sh.IsComplete())
	assert.Equal(t, cfg.FirstSeq(5), sh.FirstSeq())
	assert.Equal(t, cfg.LastSeq(5), sh.LastSeq())
}

func TestPrepareNewestToOldest(t *testing.T) {
	sh, cfg := openTestShard(t, 2, 100)

	seq, ok := sh.Prepare()
	require.True(t, ok)
	assert.Equal(t, cfg.LastSeq(2), seq)

	require.True(t, sh.SetStored(ledger.Info{Seq: seq, Hash: nodeobject.Hash{byte(seq)}, AccountHash: nodeobject.Hash{1}}))

	seq2, ok := sh.Prepare()
	require.True(t, ok)
	assert.Equal(t, seq-1, seq2)
}

func TestSetStoredRejectsOutOfRange(t *testing.T) {
	sh, _ := openTestShard(t, 3, 100)
	ok := sh.SetStored(ledger.Info{Seq: 1, AccountHash: nodeobject.Hash{1}})
	assert.False(t, ok)
}

func TestSetStoredRejectsDuplicate(t *testing.T) {
	sh, cfg := openTestShard(t, 4, 100)
	seq := cfg.LastSeq(4)
	require.True(t, sh.SetStored(ledger.Info{Seq: seq, AccountHash: nodeobject.Hash{1}}))
	assert.False(t, sh.SetStored(ledger.Info{Seq: seq, AccountHash: nodeobject.Hash{1}}))
}

func TestAtomicCompletionShortcut(t *testing.T) {
	// A tiny shard (ledgersPerShard=2) makes the shortcut reachable in a
	// handful of calls: the final ledger's sequence is never explicitly
	// inserted into storedSeqs, yet HasLedger still reports it present
	// once the shard flips to complete.
	sh, cfg := openTestShard(t, 6, 2)
	first, last := cfg.FirstSeq(6), cfg.LastSeq(6)

	require.True(t, sh.SetStored(ledger.Info{Seq: last, AccountHash: nodeobject.Hash{1}}))
	assert.False(t, sh.IsComplete(), "one of two ledgers stored, shard should still be incomplete")

	require.True(t, sh.SetStored(ledger.Info{Seq: first, AccountHash: nodeobject.Hash{1}}))
	assert.True(t, sh.IsComplete(), "storing the shard's last remaining ledger triggers the completion shortcut instead of a normal insert")
	assert.True(t, sh.HasLedger(first))
	assert.True(t, sh.HasLedger(last), "the implicit final ledger is never inserted but still reports present")
}

func TestHasLedgerOutOfRange(t *testing.T) {
	sh, cfg := openTestShard(t, 7, 100)
	assert.False(t, sh.HasLedger(cfg.FirstSeq(7)-1))
	assert.False(t, sh.HasLedger(cfg.LastSeq(7)+1))
}

func TestOpenRestoresControlFileAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	cfg := NewConfig(100)

	sh1 := New(cfg, 8, 64, time.Hour)
	require.NoError(t, sh1.Open(dir, "pebble", nil, nil))
	seq := cfg.LastSeq(8)
	require.True(t, sh1.SetStored(ledger.Info{Seq: seq, AccountHash: nodeobject.Hash{1}}))
	require.NoError(t, sh1.Close())

	sh2 := New(cfg, 8, 64, time.Hour)
	require.NoError(t, sh2.Open(dir, "pebble", nil, nil))
	assert.False(t, sh2.IsComplete())
	assert.True(t, sh2.HasLedger(seq))
}
