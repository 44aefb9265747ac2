package shard

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/miguelportilla/rippled/backend"
	"github.com/miguelportilla/rippled/cache"
	"github.com/miguelportilla/rippled/database"
	"github.com/miguelportilla/rippled/ledger"
	"github.com/miguelportilla/rippled/ledgercopy"
	"github.com/miguelportilla/rippled/logs"
	"github.com/miguelportilla/rippled/nodeobject"
)

// Shard is one fixed-range partition of the ledger chain: its own
// backend directory, its own cache pair, and a crash-safe record of
// which sequences in its range have been fully persisted.
type Shard struct {
	mu sync.Mutex

	index    uint32
	cfg      Config
	dir      string
	firstSeq uint32
	lastSeq  uint32

	be      backend.Backend
	pCache  *cache.Positive
	nCache  *cache.Negative
	logger  logs.Logger

	stored     *storedSeqs
	complete   bool
	lastStored *ledger.Info
	fileSize   uint64
	degenerate bool // backend.Fdlimit() == 0, control-file bookkeeping skipped
}

// New constructs a shard descriptor for index without touching disk.
func New(cfg Config, index uint32, cacheSize int, cacheAge time.Duration) *Shard {
	return &Shard{
		index:    index,
		cfg:      cfg,
		firstSeq: cfg.FirstSeq(index),
		lastSeq:  cfg.LastSeq(index),
		pCache:   cache.NewPositive(cacheSize, cacheAge),
		nCache:   cache.NewNegative(cacheSize, cacheAge),
		stored:   newStoredSeqs(),
	}
}

func (s *Shard) Index() uint32    { return s.index }
func (s *Shard) FirstSeq() uint32 { return s.firstSeq }
func (s *Shard) LastSeq() uint32  { return s.lastSeq }

func (s *Shard) IsComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete
}

func (s *Shard) FileSize() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileSize
}

// Open resolves dir/<index>, instantiates the backend named backendName
// and restores (or initializes) the control file, per the shard-open
// procedure: a missing or empty directory starts a fresh shard; an
// existing control file is trusted unless it names a sequence outside
// range, in which case it is rejected; a directory with no control file
// at all is assumed complete.
func (s *Shard) Open(rootDir, backendName string, extra map[string]interface{}, logger logs.Logger) error {
	if logger == nil {
		logger = logs.Nop{}
	}
	s.logger = logger
	s.dir = filepath.Join(rootDir, fmt.Sprintf("%d", s.index))

	newShard, err := dirMissingOrEmpty(s.dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}

	be, err := backend.New(backendName, backend.Config{Path: s.dir, Extra: extra})
	if err != nil {
		return fmt.Errorf("shard %d: open backend: %w", s.index, err)
	}
	s.be = be

	if be.Fdlimit() == 0 {
		s.degenerate = true
		return nil
	}

	switch {
	case newShard:
		s.stored = newStoredSeqs()
		if err := writeControl(s.dir, s.stored); err != nil {
			return fmt.Errorf("shard %d: write control: %w", s.index, err)
		}
	default:
		loaded, ok, err := readControl(s.dir)
		if err != nil {
			return fmt.Errorf("shard %d: read control: %w", s.index, err)
		}
		if ok {
			if !loaded.allWithin(s.firstSeq, s.lastSeq) {
				return fmt.Errorf("shard %d: control file names a sequence outside [%d,%d]", s.index, s.firstSeq, s.lastSeq)
			}
			s.stored = loaded
			if uint32(loaded.len()) == s.cfg.ExpectedLedgerCount(s.index) {
				s.stored.clear()
				if err := deleteControl(s.dir); err != nil {
					return fmt.Errorf("shard %d: delete control: %w", s.index, err)
				}
				s.complete = true
			}
		} else {
			s.complete = true
			s.stored = newStoredSeqs()
		}
	}

	s.refreshFileSize()
	return nil
}

func dirMissingOrEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	return len(entries) == 0, nil
}

func (s *Shard) refreshFileSize() {
	var total uint64
	_ = filepath.Walk(s.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += uint64(info.Size())
		}
		return nil
	})
	s.mu.Lock()
	s.fileSize = total
	s.mu.Unlock()
}

// SetStored records that every reachable node for info has been durably
// stored, called once the header, state map and transaction map have all
// been written. The shard's very last ledger is never explicitly
// inserted into the stored set: inserting it would bring the count to
// the shard's expected total, so that insertion is replaced by an
// immediate transition to complete.
func (s *Shard) SetStored(info ledger.Info) bool {
	s.mu.Lock()

	if s.complete {
		s.logger.Error("shard %d: setStored on completed shard, seq=%d", s.index, info.Seq)
		s.mu.Unlock()
		return false
	}
	if info.Seq < s.firstSeq || info.Seq > s.lastSeq {
		s.logger.Error("shard %d: setStored seq=%d outside range [%d,%d]", s.index, info.Seq, s.firstSeq, s.lastSeq)
		s.mu.Unlock()
		return false
	}
	if s.stored.contains(info.Seq) {
		s.logger.Error("shard %d: setStored seq=%d already stored", s.index, info.Seq)
		s.mu.Unlock()
		return false
	}

	expected := s.cfg.ExpectedLedgerCount(s.index)
	justCompleted := uint32(s.stored.len())+1 == expected

	if justCompleted {
		s.stored.clear()
		if !s.degenerate {
			if err := deleteControl(s.dir); err != nil {
				s.logger.Error("shard %d: delete control on completion: %v", s.index, err)
				s.mu.Unlock()
				return false
			}
		}
		s.complete = true
		s.lastStored = &info
		s.mu.Unlock()
		s.refreshFileSize()
		return true
	}

	s.stored.insert(info.Seq)
	s.lastStored = &info
	if !s.degenerate {
		if err := writeControl(s.dir, s.stored); err != nil {
			s.logger.Error("shard %d: rewrite control: %v", s.index, err)
			s.mu.Unlock()
			return false
		}
	}
	s.mu.Unlock()
	return true
}

// Prepare returns the next ledger sequence the shard should acquire:
// newest-to-oldest within the range, lastSeq first when nothing is
// stored yet.
func (s *Shard) Prepare() (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.complete {
		return 0, false
	}
	if s.stored.len() == 0 {
		return s.lastSeq, true
	}
	for seq := s.lastSeq; seq >= s.firstSeq; seq-- {
		if !s.stored.contains(seq) {
			return seq, true
		}
		if seq == s.firstSeq {
			break
		}
	}
	return 0, false
}

// HasLedger reports whether seq has been durably stored. A completed
// shard answers true for every in-range sequence, including the final
// one that was never explicitly inserted into the stored set.
func (s *Shard) HasLedger(seq uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq < s.firstSeq || seq > s.lastSeq {
		return false
	}
	return s.complete || s.stored.contains(seq)
}

// lookup implements database.CacheLookup: every sequence in the shard's
// own range routes to its own cache pair and backend.
func (s *Shard) lookup(seq uint32) (*cache.Positive, *cache.Negative, backend.Backend, bool) {
	if seq < s.firstSeq || seq > s.lastSeq {
		return nil, nil, nil, false
	}
	return s.pCache, s.nCache, s.be, true
}

// NewBase builds a database.Base routed exclusively at this shard, for
// callers that want the shared fetch/store machinery without
// reimplementing cache plumbing per shard.
func (s *Shard) NewBase(logger logs.Logger, readThreads, queueDepth, asyncDivider int) *database.Base {
	return database.New(logger, s.lookup, readThreads, queueDepth, asyncDivider)
}

// Store persists obj directly through this shard's cache pair and
// backend, satisfying ledgercopy.Destination.
func (s *Shard) Store(obj *nodeobject.Object) error {
	if err := s.be.Store(obj); err != nil {
		return err
	}
	s.pCache.Canonicalize(obj.Hash(), obj, true)
	s.nCache.Erase(obj.Hash())
	return nil
}

// SetStored satisfies ledgercopy.Destination's completion hook.
var _ ledgercopy.Destination = (*Shard)(nil)

// LastStored is the most recently completed ledger in this shard while
// still incomplete, the neighbor a differential copy diffs against.
func (s *Shard) LastStored() (ledger.Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastStored == nil {
		return ledger.Info{}, false
	}
	return *s.lastStored, true
}

func (s *Shard) PositiveCache() *cache.Positive { return s.pCache }
func (s *Shard) NegativeCache() *cache.Negative { return s.nCache }
func (s *Shard) Backend() backend.Backend       { return s.be }

func (s *Shard) SetCacheTargets(size int, age time.Duration) {
	s.pCache.SetTargetSize(size)
	s.pCache.SetTargetAge(age)
	s.nCache.SetTargetSize(size)
	s.nCache.SetTargetAge(age)
}

func (s *Shard) Sweep() {
	s.pCache.Sweep()
	s.nCache.Sweep()
}

// Close releases the shard's backend handle.
func (s *Shard) Close() error {
	if s.be == nil {
		return nil
	}
	return s.be.Close()
}

// Dir is the shard's root directory, used by ShardStore to remove a
// shard that failed to open.
func (s *Shard) Dir() string { return s.dir }
