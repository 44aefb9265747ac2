package shard

import (
	"os"

	"github.com/RoaringBitmap/roaring"
)

// storedSeqs is the crash-safe record of which sequences within a shard's
// range have been fully persisted, range-compressed via a Roaring bitmap
// the same way the wider stack tracks sparse integer sets.
type storedSeqs struct {
	bitmap *roaring.Bitmap
}

func newStoredSeqs() *storedSeqs {
	return &storedSeqs{bitmap: roaring.New()}
}

func (s *storedSeqs) insert(seq uint32) { s.bitmap.Add(seq) }

func (s *storedSeqs) contains(seq uint32) bool { return s.bitmap.Contains(seq) }

func (s *storedSeqs) len() int { return int(s.bitmap.GetCardinality()) }

func (s *storedSeqs) clear() { s.bitmap.Clear() }

// each calls f for every stored sequence in ascending order.
func (s *storedSeqs) each(f func(seq uint32)) {
	it := s.bitmap.Iterator()
	for it.HasNext() {
		f(it.Next())
	}
}

// max returns the greatest stored sequence and whether the set is
// non-empty.
func (s *storedSeqs) max() (uint32, bool) {
	if s.bitmap.IsEmpty() {
		return 0, false
	}
	return s.bitmap.Maximum(), true
}

// every element must lie within [first, last]; used to validate a
// deserialized control file before trusting it.
func (s *storedSeqs) allWithin(first, last uint32) bool {
	ok := true
	s.each(func(seq uint32) {
		if seq < first || seq > last {
			ok = false
		}
	})
	return ok
}

// controlPath is the fixed filename for a shard's control file, absent
// iff the shard is complete.
func controlPath(dir string) string {
	return dir + "/control.bitmap"
}

// writeControl truncates and rewrites the control file in place with the
// current bitmap contents and syncs it; it does not write a temp file and
// rename it, so a crash mid-write can leave a partial file.
func writeControl(dir string, s *storedSeqs) error {
	buf, err := s.bitmap.ToBytes()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(controlPath(dir), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(buf); err != nil {
		return err
	}
	return f.Sync()
}

// readControl loads the control file if present. ok is false when the
// file does not exist, the caller's cue that the shard is complete.
func readControl(dir string) (*storedSeqs, bool, error) {
	buf, err := os.ReadFile(controlPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	bm := roaring.New()
	if _, err := bm.FromBuffer(buf); err != nil {
		return nil, false, err
	}
	return &storedSeqs{bitmap: bm}, true, nil
}

func deleteControl(dir string) error {
	err := os.Remove(controlPath(dir))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
