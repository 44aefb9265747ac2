package backend

import (
	"errors"
	"os"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"github.com/miguelportilla/rippled/nodeobject"
)

func init() {
	Register("pebble", newPebble)
}

// pebbleBackend stores node objects directly under their hash in a Pebble
// LSM tree. Every regular file Pebble writes under cfg.Path counts toward
// the shard's fileSize accounting.
type pebbleBackend struct {
	db        *pebble.DB
	writeLoad int64
}

func newPebble(cfg Config) (Backend, error) {
	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, err
	}
	opts := &pebble.Options{}
	if v, ok := cfg.Extra["max_open_files"].(int); ok && v > 0 {
		opts.MaxOpenFiles = v
	} else {
		opts.MaxOpenFiles = 256
	}
	db, err := pebble.Open(cfg.Path, opts)
	if err != nil {
		return nil, err
	}
	return &pebbleBackend{db: db}, nil
}

func (b *pebbleBackend) Store(obj *nodeobject.Object) error {
	h := obj.Hash()
	// One leading byte for the type tag, so fetch can recover it without
	// a side table.
	payload := make([]byte, 1+len(obj.Data()))
	payload[0] = byte(obj.Type())
	copy(payload[1:], obj.Data())
	atomic.AddInt64(&b.writeLoad, 1)
	return b.db.Set(h[:], payload, pebble.Sync)
}

func (b *pebbleBackend) Fetch(hash nodeobject.Hash) (*nodeobject.Object, Status, error) {
	val, closer, err := b.db.Get(hash[:])
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, StatusNotFound, nil
		}
		return nil, StatusOtherError, err
	}
	defer closer.Close()

	if len(val) < 1 {
		return nil, StatusDataCorrupt, nil
	}
	typ := nodeobject.Type(val[0])
	data := append([]byte(nil), val[1:]...)
	return nodeobject.New(typ, data, hash), StatusOK, nil
}

func (b *pebbleBackend) Fdlimit() int { return 8 }

func (b *pebbleBackend) WriteLoad() int64 { return atomic.LoadInt64(&b.writeLoad) }

func (b *pebbleBackend) Close() error { return b.db.Close() }
