// Package config holds the tunables for the node store: backend selection,
// disk budget, and per-shard cache defaults.
package config

import "time"

// Config is the root configuration for a node store instance.
type Config struct {
	Store    StoreConfig
	Database DatabaseConfig
}

// StoreConfig is recognized from the on-disk [node_db] / [shard_db] style
// sections: backend type, root path, and the disk/cache budget.
type StoreConfig struct {
	// Type names a registered backend factory ("pebble", "badger", "memory").
	Type string
	// Path is the root directory; for a shard store this contains one
	// subdirectory per shard index, for a node/rotating store it is the
	// backend's own directory.
	Path string
	// MaxSizeGB is the disk budget in gigabytes (left-shifted by 30 to bytes).
	MaxSizeGB uint64
	// CacheSize and CacheAge are defaults pushed into every shard's caches.
	CacheSize int
	CacheAge  time.Duration
}

// MaxSizeBytes returns the disk budget in bytes.
func (c StoreConfig) MaxSizeBytes() uint64 {
	return c.MaxSizeGB << 30
}

// DatabaseConfig tunes the shared fetch/write machinery: the read-thread
// pool, write batching, and cache/async defaults.
type DatabaseConfig struct {
	ReadThreads       int
	AsyncDivider      int
	CacheTargetSize   int
	CacheTargetAge    time.Duration
	ShardCacheMinSize int

	WriteQueueSize      int
	MaxBatchSize        int
	FlushInterval       time.Duration
	WriteBatchSoftLimit int64
	MaxCountPerTxn      int
	PerEntryOverhead    int

	// FdPerShard is the file-descriptor cost assumed per shard instance,
	// used to size fdLimit for shards not yet opened.
	FdPerShard int
	// ValidateSweepEvery is how many ledgers elapse between cache sweeps
	// during an offline validation pass.
	ValidateSweepEvery int
}

// DefaultConfig mirrors the defaults the shard store ships with.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Type:      "pebble",
			Path:      "./nodestore_data",
			MaxSizeGB: 8,
			CacheSize: 16384,
			CacheAge:  5 * time.Minute,
		},
		Database: DatabaseConfig{
			ReadThreads:         4,
			AsyncDivider:        8,
			CacheTargetSize:     16384,
			CacheTargetAge:      5 * time.Minute,
			ShardCacheMinSize:   4096,
			WriteQueueSize:      100000,
			MaxBatchSize:        500,
			FlushInterval:       200 * time.Millisecond,
			WriteBatchSoftLimit: 8 * 1024 * 1024,
			MaxCountPerTxn:      500,
			PerEntryOverhead:    32,
			FdPerShard:          8,
			ValidateSweepEvery:  128,
		},
	}
}
