// Package shard implements one partition of the ledger chain: a fixed
// range of sequences backed by its own physical store, cache pair and
// crash-safe record of which sequences it has fully persisted.
package shard

// GenesisSeq is the first ledger sequence the chain ever produces; the
// genesis shard (the one containing GenesisSeq, see GenesisShardIndex)
// covers [GenesisSeq, RangeLast(index)] instead of the full
// ledgersPerShard range every later shard gets.
const GenesisSeq uint32 = 32570

// avgLedgerSize is the assumed steady-state footprint of a single
// ledger's worth of node objects, used only to size a brand-new shard
// store's initial file-descriptor budget before any shard exists.
const avgLedgerSize uint64 = 192 * 1024

// Config pins the fixed-range partitioning scheme: every shard except the
// genesis shard covers exactly LedgersPerShard sequences.
type Config struct {
	LedgersPerShard uint32
}

// NewConfig returns a Config, defaulting LedgersPerShard to a sane value
// when the caller passes zero.
func NewConfig(ledgersPerShard uint32) Config {
	if ledgersPerShard == 0 {
		ledgersPerShard = 16384
	}
	return Config{LedgersPerShard: ledgersPerShard}
}

// GenesisShardIndex is the index of the shard that contains GenesisSeq.
func (c Config) GenesisShardIndex() uint32 {
	return c.SeqToShardIndex(GenesisSeq)
}

// SeqToShardIndex maps a ledger sequence to the shard range containing it.
func (c Config) SeqToShardIndex(seq uint32) uint32 {
	return (seq - 1) / c.LedgersPerShard
}

// RangeFirst is the first sequence of shard index, ignoring the genesis
// floor; callers wanting the genesis shard's true first sequence use
// FirstSeq instead.
func (c Config) RangeFirst(index uint32) uint32 {
	return 1 + index*c.LedgersPerShard
}

// RangeLast is the last sequence of shard index.
func (c Config) RangeLast(index uint32) uint32 {
	return (index + 1) * c.LedgersPerShard
}

// FirstSeq is the true first sequence of shard index, raised to
// GenesisSeq for the genesis shard.
func (c Config) FirstSeq(index uint32) uint32 {
	first := c.RangeFirst(index)
	if index == c.GenesisShardIndex() && first < GenesisSeq {
		return GenesisSeq
	}
	return first
}

// LastSeq is the inclusive last sequence of shard index.
func (c Config) LastSeq(index uint32) uint32 {
	return c.RangeLast(index)
}

// ExpectedLedgerCount is the number of distinct sequences shard index
// must have stored before it can transition to complete.
func (c Config) ExpectedLedgerCount(index uint32) uint32 {
	if index == c.GenesisShardIndex() {
		return c.LedgersPerShard - (GenesisSeq - c.RangeFirst(index))
	}
	return c.LedgersPerShard
}

// AvgShardSize is the assumed on-disk footprint of a fully stored shard,
// used for disk-budget admission before any shard has actually completed.
func (c Config) AvgShardSize() uint64 {
	return uint64(c.LedgersPerShard) * avgLedgerSize
}
