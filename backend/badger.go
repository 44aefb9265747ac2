package backend

import (
	"os"
	"sync/atomic"

	"github.com/dgraph-io/badger/v2"

	"github.com/miguelportilla/rippled/nodeobject"
)

func init() {
	Register("badger", newBadgerBackend)
}

// badgerBackend is an alternative physical store to pebbleBackend. It opens
// Badger with its default options and logging disabled; the only tuning
// applied is an optional value-log file size from cfg.Extra. Loading modes
// stay at Badger's defaults.
type badgerBackend struct {
	db        *badger.DB
	writeLoad int64
}

func newBadgerBackend(cfg Config) (Backend, error) {
	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, err
	}
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	if v, ok := cfg.Extra["value_log_file_size"].(int64); ok && v > 0 {
		opts.ValueLogFileSize = v
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerBackend{db: db}, nil
}

func (b *badgerBackend) Store(obj *nodeobject.Object) error {
	h := obj.Hash()
	payload := make([]byte, 1+len(obj.Data()))
	payload[0] = byte(obj.Type())
	copy(payload[1:], obj.Data())
	atomic.AddInt64(&b.writeLoad, 1)
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(h[:], payload)
	})
}

func (b *badgerBackend) Fetch(hash nodeobject.Hash) (*nodeobject.Object, Status, error) {
	var typ nodeobject.Type
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(hash[:])
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) < 1 {
				return errDataCorrupt
			}
			typ = nodeobject.Type(val[0])
			data = append([]byte(nil), val[1:]...)
			return nil
		})
	})
	switch {
	case err == nil:
		return nodeobject.New(typ, data, hash), StatusOK, nil
	case err == badger.ErrKeyNotFound:
		return nil, StatusNotFound, nil
	case err == errDataCorrupt:
		return nil, StatusDataCorrupt, nil
	default:
		return nil, StatusOtherError, err
	}
}

func (b *badgerBackend) Fdlimit() int { return 16 }

func (b *badgerBackend) WriteLoad() int64 { return atomic.LoadInt64(&b.writeLoad) }

func (b *badgerBackend) Close() error { return b.db.Close() }

type corruptErr struct{}

func (corruptErr) Error() string { return "badger backend: corrupt payload" }

var errDataCorrupt = corruptErr{}
