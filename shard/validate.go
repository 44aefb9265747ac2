package shard

import (
	"github.com/miguelportilla/rippled/backend"
	"github.com/miguelportilla/rippled/ledger"
	"github.com/miguelportilla/rippled/ledgercopy"
	"github.com/miguelportilla/rippled/nodeobject"
)

// HeaderCodec decodes the pinned ledger-header framing back into an
// Info, an external collaborator the core only pins the wire shape of.
type HeaderCodec interface {
	Decode(raw []byte) (ledger.Info, error)
}

// TreeOpener opens the authenticated radix tree rooted at a node hash,
// another external collaborator.
type TreeOpener interface {
	OpenTree(root nodeobject.Hash) ledgercopy.Tree
}

// OutcomeKind classifies the result of an offline validation sweep.
type OutcomeKind int

const (
	OutcomeValid OutcomeKind = iota
	OutcomeInvalidAt
	OutcomeIncompleteStoppedAt
)

// Outcome reports where validation stopped, and why.
type Outcome struct {
	Kind OutcomeKind
	Seq  uint32
	Hash nodeobject.Hash
	Err  error
}

const validationSweepEvery = 128

// Validate walks the shard backward from lastSeq to firstSeq, following
// the parentHash chain starting at lastHash (the caller's externally
// known hash for the shard's last ledger). At each step it verifies the
// header, then replays the state map — differentially against the
// previously verified ledger when the chain links, in full otherwise —
// and the transaction map in full. A data-corrupt or absent node aborts
// immediately with a report identifying the stopping point.
func (s *Shard) Validate(lastHash nodeobject.Hash, codec HeaderCodec, trees TreeOpener) Outcome {
	savedAge := s.pCache.GetTargetAge()
	s.pCache.SetTargetAge(0)
	defer s.pCache.SetTargetAge(savedAge)

	var prevInfo ledger.Info
	var prevStateTree ledgercopy.Tree
	havePrev := false

	nextHash := lastHash
	stepCount := 0

	for seq := s.lastSeq; ; seq-- {
		if !s.HasLedger(seq) {
			return Outcome{Kind: OutcomeIncompleteStoppedAt, Seq: seq}
		}

		headerObj, ok := s.fetchNode(nextHash)
		if !ok {
			return Outcome{Kind: OutcomeInvalidAt, Seq: seq, Hash: nextHash, Err: errNodeMissing}
		}
		info, err := codec.Decode(headerObj.Data())
		if err != nil {
			return Outcome{Kind: OutcomeInvalidAt, Seq: seq, Hash: nextHash, Err: err}
		}
		if info.Seq != seq || info.Hash != nextHash {
			return Outcome{Kind: OutcomeInvalidAt, Seq: seq, Hash: nextHash, Err: errSeqMismatch}
		}

		if !info.AccountHash.IsZero() {
			stateTree := trees.OpenTree(info.AccountHash)
			if stateTree == nil {
				return Outcome{Kind: OutcomeInvalidAt, Seq: seq, Hash: info.Hash, Err: errTreeOpenFailed}
			}
			var failed error
			visit := func(node nodeobject.Hash) bool {
				if _, ok := s.fetchNode(node); !ok {
					failed = errNodeMissing
					return false
				}
				return true
			}
			if havePrev && prevInfo.ChainsFrom(info) && prevStateTree != nil {
				stateTree.VisitDifferences(prevStateTree, visit)
			} else {
				stateTree.VisitNodes(visit)
			}
			if failed != nil {
				return Outcome{Kind: OutcomeInvalidAt, Seq: seq, Hash: info.Hash, Err: failed}
			}
			prevStateTree = stateTree
		} else {
			prevStateTree = nil
		}

		if !info.TxHash.IsZero() {
			txTree := trees.OpenTree(info.TxHash)
			if txTree == nil {
				return Outcome{Kind: OutcomeInvalidAt, Seq: seq, Hash: info.Hash, Err: errTreeOpenFailed}
			}
			var failed error
			txTree.VisitNodes(func(node nodeobject.Hash) bool {
				if _, ok := s.fetchNode(node); !ok {
					failed = errNodeMissing
					return false
				}
				return true
			})
			if failed != nil {
				return Outcome{Kind: OutcomeInvalidAt, Seq: seq, Hash: info.Hash, Err: failed}
			}
		}

		prevInfo = info
		havePrev = true
		nextHash = info.ParentHash

		stepCount++
		if stepCount%validationSweepEvery == 0 {
			s.pCache.Sweep()
			s.nCache.Sweep()
		}

		if seq == s.firstSeq {
			break
		}
	}

	return Outcome{Kind: OutcomeValid}
}

func (s *Shard) fetchNode(hash nodeobject.Hash) (*nodeobject.Object, bool) {
	if obj := s.pCache.Fetch(hash); obj != nil {
		return obj, true
	}
	if s.nCache.TouchIfExists(hash) {
		return nil, false
	}
	obj, status, err := s.be.Fetch(hash)
	if err != nil || status == backend.StatusOtherError {
		s.logger.Error("shard %d: fetch %s failed: %v", s.index, hash, err)
		s.nCache.Insert(hash)
		return nil, false
	}
	switch status {
	case backend.StatusOK:
		return s.pCache.Canonicalize(hash, obj, false), true
	case backend.StatusDataCorrupt:
		s.logger.Fatal("shard %d: corrupt object %s", s.index, hash)
		s.nCache.Insert(hash)
		return nil, false
	default:
		s.nCache.Insert(hash)
		return nil, false
	}
}

var (
	errSeqMismatch    = errValidation("ledger sequence or hash mismatch")
	errTreeOpenFailed = errValidation("failed to open tree")
	errNodeMissing    = errValidation("node absent or corrupt")
)

type errValidation string

func (e errValidation) Error() string { return string(e) }
