// Package shardstore coordinates the full set of shards that together
// partition a ledger chain: disk-budget admission, selection of which
// shard to acquire next, and store/fetch dispatch by sequence.
package shardstore

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/miguelportilla/rippled/backend"
	"github.com/miguelportilla/rippled/ledger"
	"github.com/miguelportilla/rippled/ledgercopy"
	"github.com/miguelportilla/rippled/logs"
	"github.com/miguelportilla/rippled/nodeobject"
	"github.com/miguelportilla/rippled/shard"
)

// Config configures a ShardStore instance.
type Config struct {
	Dir           string
	BackendName   string
	BackendExtra  map[string]interface{}
	MaxDiskSpace  uint64
	CacheSize     int
	CacheAge      time.Duration
	ShardCacheMin int
	FdPerShard    int
	ShardConfig   shard.Config
}

// Store is the multi-shard coordinator. A single mutex guards the
// routing tables; it is never held across backend I/O.
type Store struct {
	mu sync.Mutex

	cfg    Config
	logger logs.Logger

	complete   map[uint32]*shard.Shard
	incomplete *shard.Shard

	backed        bool
	fdLimit       int
	usedDiskSpace uint64
	avgShardSz    uint64
	canAdd        bool
	status        string

	rng   *rand.Rand
	rngMu sync.Mutex
}

// New prepares a Store without touching disk; call Init to open it.
func New(cfg Config, logger logs.Logger) *Store {
	if logger == nil {
		logger = logs.Nop{}
	}
	if cfg.FdPerShard <= 0 {
		cfg.FdPerShard = 8
	}
	return &Store{
		cfg:        cfg,
		logger:     logger,
		complete:   make(map[uint32]*shard.Shard),
		canAdd:     true,
		avgShardSz: cfg.ShardConfig.AvgShardSize(),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Init probes the backend's fdlimit in a throwaway directory, then opens
// every existing shard subdirectory under cfg.Dir.
func (st *Store) Init() error {
	if err := os.MkdirAll(st.cfg.Dir, 0755); err != nil {
		return err
	}

	probeFd, err := st.probeFdlimit()
	if err != nil {
		return fmt.Errorf("shardstore: probe backend: %w", err)
	}
	st.backed = probeFd > 0
	if !st.backed {
		return nil
	}
	st.fdLimit = probeFd

	entries, err := os.ReadDir(st.cfg.Dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if !isAllDigits(name) {
			continue
		}
		idx64, err := strconv.ParseUint(name, 10, 32)
		if err != nil {
			continue
		}
		index := uint32(idx64)
		if index < st.cfg.ShardConfig.GenesisShardIndex() {
			continue
		}

		sh := shard.New(st.cfg.ShardConfig, index, st.cfg.CacheSize, st.cfg.CacheAge)
		if err := sh.Open(st.cfg.Dir, st.cfg.BackendName, st.cfg.BackendExtra, st.logger); err != nil {
			return err
		}
		st.usedDiskSpace += sh.FileSize()
		if sh.IsComplete() {
			st.complete[index] = sh
		} else {
			if st.incomplete != nil {
				return fmt.Errorf("shardstore: more than one incomplete shard found (%d and %d)", st.incomplete.Index(), index)
			}
			st.incomplete = sh
		}
	}

	if st.incomplete == nil && len(st.complete) == 0 {
		st.fdLimit = 1 + st.cfg.FdPerShard*maxU64(1, st.cfg.MaxDiskSpace/st.avgShardSz)
		st.canAdd = true
		return nil
	}
	st.updateStats()
	return nil
}

func maxU64(a, b uint64) int { // result only ever multiplies a small constant, int is fine
	if a > b {
		return int(a)
	}
	return int(b)
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (st *Store) probeFdlimit() (int, error) {
	tmpDir := ""
	for i := 0; ; i++ {
		candidate := filepath.Join(st.cfg.Dir, fmt.Sprintf("TMP%d", i))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			tmpDir = candidate
			break
		}
	}
	defer os.RemoveAll(tmpDir)

	be, err := backend.New(st.cfg.BackendName, backend.Config{Path: tmpDir, Extra: st.cfg.BackendExtra})
	if err != nil {
		return 0, err
	}
	defer be.Close()
	return be.Fdlimit(), nil
}

// Prepare returns the next sequence to acquire, opening a new shard to
// become the incomplete one if none is currently being acquired.
func (st *Store) Prepare(validLedgerSeq uint32) (uint32, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.incomplete != nil {
		return st.incomplete.Prepare()
	}
	if !st.canAdd {
		return 0, false
	}
	if st.backed {
		if st.usedDiskSpace+st.avgShardSz > st.cfg.MaxDiskSpace {
			st.logger.Debug("shardstore: maximum size reached")
			st.canAdd = false
			return 0, false
		}
		if free, err := freeDiskSpace(st.cfg.Dir); err == nil && st.avgShardSz > free {
			st.logger.Warn("shardstore: insufficient disk space")
			st.canAdd = false
			return 0, false
		}
	}

	indexToAdd, ok := st.findShardIndexToAdd(validLedgerSeq)
	if !ok {
		st.logger.Debug("shardstore: no new shards to add")
		st.canAdd = false
		return 0, false
	}

	cacheSz := st.cfg.ShardCacheMin
	if perShard := st.cfg.CacheSize / maxInt(1, len(st.complete)+1); perShard > cacheSz {
		cacheSz = perShard
	}

	sh := shard.New(st.cfg.ShardConfig, indexToAdd, cacheSz, st.cfg.CacheAge)
	if err := sh.Open(st.cfg.Dir, st.cfg.BackendName, st.cfg.BackendExtra, st.logger); err != nil {
		st.logger.Error("shardstore: open shard %d: %v", indexToAdd, err)
		os.RemoveAll(filepath.Join(st.cfg.Dir, fmt.Sprintf("%d", indexToAdd)))
		return 0, false
	}
	st.incomplete = sh
	return sh.Prepare()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// findShardIndexToAdd implements the deterministic-policy, random-choice
// selection: dense or small index spaces are enumerated and sampled
// uniformly; large sparse spaces are rejection-sampled up to 40 draws.
func (st *Store) findShardIndexToAdd(validLedgerSeq uint32) (uint32, bool) {
	genesis := st.cfg.ShardConfig.GenesisShardIndex()
	if validLedgerSeq < st.cfg.ShardConfig.FirstSeq(genesis) {
		return 0, false
	}

	maxShardIndex := st.cfg.ShardConfig.SeqToShardIndex(validLedgerSeq)
	if validLedgerSeq != st.cfg.ShardConfig.RangeLast(maxShardIndex) {
		// The shard holding validLedgerSeq is still being built by the live
		// chain; only shards strictly behind it are eligible to acquire.
		if maxShardIndex <= genesis {
			return 0, false
		}
		maxShardIndex--
	}

	numShards := uint32(len(st.complete))
	if st.incomplete != nil {
		numShards++
	}
	if numShards >= maxShardIndex+1 {
		return 0, false
	}

	if maxShardIndex < 1024 || float64(numShards)/float64(maxShardIndex) > 0.5 {
		available := make([]uint32, 0, maxShardIndex-numShards+1)
		for i := genesis; i <= maxShardIndex; i++ {
			if !st.isAcquiredLocked(i) {
				available = append(available, i)
			}
		}
		if len(available) > 0 {
			return available[st.randIntn(len(available))], true
		}
	}

	for i := 0; i < 40; i++ {
		r := genesis + uint32(st.randIntn(int(maxShardIndex-genesis+1)))
		if !st.isAcquiredLocked(r) {
			return r, true
		}
	}
	return 0, false
}

func (st *Store) isAcquiredLocked(index uint32) bool {
	if _, ok := st.complete[index]; ok {
		return true
	}
	return st.incomplete != nil && st.incomplete.Index() == index
}

func (st *Store) randIntn(n int) int {
	st.rngMu.Lock()
	defer st.rngMu.Unlock()
	return st.rng.Intn(n)
}

// route resolves the shard owning seq, distinguishing complete from
// incomplete so callers can reject writes aimed at a completed shard.
func (st *Store) route(seq uint32) (sh *shard.Shard, isIncomplete bool, ok bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	index := st.cfg.ShardConfig.SeqToShardIndex(seq)
	if c, found := st.complete[index]; found {
		return c, false, true
	}
	if st.incomplete != nil && st.incomplete.Index() == index {
		return st.incomplete, true, true
	}
	return nil, false, false
}

// Store persists obj into the shard owning seq. Writes are rejected
// unless the target is the incomplete shard.
func (st *Store) Store(obj *nodeobject.Object, seq uint32) error {
	sh, isIncomplete, ok := st.route(seq)
	if !ok || !isIncomplete {
		return fmt.Errorf("shardstore: seq %d is not in the acquiring shard", seq)
	}
	return sh.Store(obj)
}

// Fetch consults the shard owning seq, whether complete or incomplete.
func (st *Store) Fetch(hash nodeobject.Hash, seq uint32) *nodeobject.Object {
	sh, _, ok := st.route(seq)
	if !ok {
		return nil
	}
	return fetchFromShard(sh, hash)
}

func fetchFromShard(sh *shard.Shard, hash nodeobject.Hash) *nodeobject.Object {
	if obj := sh.PositiveCache().Fetch(hash); obj != nil {
		return obj
	}
	if sh.NegativeCache().TouchIfExists(hash) {
		return nil
	}
	obj, status, err := sh.Backend().Fetch(hash)
	if err != nil || status != backend.StatusOK {
		sh.NegativeCache().Insert(hash)
		return nil
	}
	return sh.PositiveCache().Canonicalize(hash, obj, false)
}

// AsyncFetch mirrors Fetch's cache-only fast path; callers without a
// dedicated read-thread pool may fall back to a synchronous Fetch on a
// miss, since ShardStore itself does not own the pool (database.Base
// wired per-shard does, for callers that need it).
func (st *Store) AsyncFetch(hash nodeobject.Hash, seq uint32) (obj *nodeobject.Object, done bool) {
	sh, _, ok := st.route(seq)
	if !ok {
		return nil, true
	}
	if o := sh.PositiveCache().Fetch(hash); o != nil {
		return o, true
	}
	if sh.NegativeCache().TouchIfExists(hash) {
		return nil, true
	}
	return nil, false
}

// HasLedger reports whether the shard owning seq has it durably stored.
func (st *Store) HasLedger(seq uint32) bool {
	sh, _, ok := st.route(seq)
	if !ok {
		return false
	}
	return sh.HasLedger(seq)
}

// SetStored forwards to the incomplete shard and, on completion, moves
// it into the complete set and recomputes stats.
func (st *Store) SetStored(info ledger.Info) bool {
	st.mu.Lock()
	index := st.cfg.ShardConfig.SeqToShardIndex(info.Seq)
	if st.incomplete == nil || st.incomplete.Index() != index {
		st.mu.Unlock()
		st.logger.Warn("shardstore: ledger seq %d is not being acquired", info.Seq)
		return false
	}
	sh := st.incomplete
	beforeSz := sh.FileSize()
	st.mu.Unlock()

	if !sh.SetStored(info) {
		return false
	}

	st.mu.Lock()
	st.usedDiskSpace += sh.FileSize() - beforeSz
	if sh.IsComplete() {
		st.complete[sh.Index()] = sh
		st.incomplete = nil
		st.updateStats()
	}
	st.mu.Unlock()
	return true
}

// CopyLedger copies info from src into the incomplete shard, diffing the
// state map against the shard's last stored ledger when chain-adjacent.
func (st *Store) CopyLedger(src ledgercopy.Source, srcSeq uint32, info ledger.Info, stateTree, txTree ledgercopy.Tree, trees shard.TreeOpener) error {
	st.mu.Lock()
	sh := st.incomplete
	st.mu.Unlock()
	if sh == nil {
		return fmt.Errorf("shardstore: no shard is being acquired")
	}

	var neighbor *ledgercopy.Neighbor
	if last, ok := sh.LastStored(); ok && trees != nil && !last.AccountHash.IsZero() {
		neighbor = &ledgercopy.Neighbor{Info: last, StateTree: trees.OpenTree(last.AccountHash)}
	}

	if err := ledgercopy.Copy(src, srcSeq, sh, info, stateTree, txTree, neighbor); err != nil {
		return err
	}

	st.mu.Lock()
	if sh.IsComplete() {
		st.complete[sh.Index()] = sh
		st.incomplete = nil
	}
	st.updateStats()
	st.mu.Unlock()
	return nil
}

// updateStats rebuilds the range-compressed status string and
// recomputes fdLimit and the canAdd latch. Lock must be held by caller.
func (st *Store) updateStats() {
	var filesPerShard int
	if len(st.complete) > 0 {
		indices := make([]uint32, 0, len(st.complete))
		for i := range st.complete {
			indices = append(indices, i)
		}
		sort.Slice(indices, func(a, b int) bool { return indices[a] < indices[b] })
		filesPerShard = st.complete[indices[0]].Backend().Fdlimit()

		var totalSz uint64
		st.status = rangeCompress(indices)
		for _, i := range indices {
			totalSz += st.complete[i].FileSize()
		}
		if st.backed {
			st.avgShardSz = totalSz / uint64(len(indices))
		}
	} else if st.incomplete != nil {
		filesPerShard = st.incomplete.Backend().Fdlimit()
	}
	if !st.backed {
		return
	}

	present := len(st.complete)
	if st.incomplete != nil {
		present++
	}
	st.fdLimit = 1 + filesPerShard*present

	if st.usedDiskSpace >= st.cfg.MaxDiskSpace {
		st.logger.Warn("shardstore: maximum size reached")
		st.canAdd = false
		return
	}
	remaining := st.cfg.MaxDiskSpace - st.usedDiskSpace
	if free, err := freeDiskSpace(st.cfg.Dir); err == nil && remaining > free {
		st.logger.Warn("shardstore: max shard store size exceeds remaining free disk space")
	}
	if st.avgShardSz > 0 {
		st.fdLimit += filesPerShard * int(remaining/st.avgShardSz)
	}
}

// rangeCompress formats sorted shard indices as a canonical range set:
// contiguous runs become "first-last", singletons stay bare.
func rangeCompress(sorted []uint32) string {
	if len(sorted) == 0 {
		return ""
	}
	var b strings.Builder
	runStart := sorted[0]
	prev := sorted[0]
	first := true

	flush := func(end uint32) {
		if !first {
			b.WriteByte(',')
		}
		first = false
		if runStart == end {
			b.WriteString(strconv.FormatUint(uint64(runStart), 10))
		} else {
			b.WriteString(strconv.FormatUint(uint64(runStart), 10))
			b.WriteByte('-')
			b.WriteString(strconv.FormatUint(uint64(end), 10))
		}
	}

	for _, idx := range sorted[1:] {
		if idx == prev+1 {
			prev = idx
			continue
		}
		flush(prev)
		runStart = idx
		prev = idx
	}
	flush(prev)
	return b.String()
}

// Status is the compressed human-readable range string of complete
// shard indices.
func (st *Store) Status() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.status
}

func (st *Store) FdLimit() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.fdLimit
}

// Tune pushes size/age to every shard's caches.
func (st *Store) Tune(size int, age time.Duration) {
	st.mu.Lock()
	shards := st.allShardsLocked()
	st.mu.Unlock()
	for _, sh := range shards {
		sh.SetCacheTargets(size, age)
	}
}

// Sweep invokes sweep() on every shard's caches, then caps any cache
// whose target size exceeds the recomputed per-shard budget.
func (st *Store) Sweep() {
	st.mu.Lock()
	shards := st.allShardsLocked()
	budget := st.cfg.ShardCacheMin
	if perShard := st.cfg.CacheSize / maxInt(1, len(st.complete)+1); perShard > budget {
		budget = perShard
	}
	st.mu.Unlock()

	for _, sh := range shards {
		sh.Sweep()
		if sh.PositiveCache().GetTargetSize() > budget {
			sh.PositiveCache().SetTargetSize(budget)
		}
	}
}

func (st *Store) allShardsLocked() []*shard.Shard {
	out := make([]*shard.Shard, 0, len(st.complete)+1)
	for _, sh := range st.complete {
		out = append(out, sh)
	}
	if st.incomplete != nil {
		out = append(out, st.incomplete)
	}
	return out
}

func freeDiskSpace(dir string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
