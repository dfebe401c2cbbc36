// Package badger implements the storage contract on top of the Badger
// embedded key/value engine.
package badger

import (
	"errors"

	"github.com/ardanlabs/ledger/foundation/blockchain/storage"
	badgerdb "github.com/dgraph-io/badger/v4"
)

// Config represents the values needed to open the store. An empty path
// opens an in-memory instance.
type Config struct {
	Path string
}

// Badger represents the storage implementation for Badger. This implements
// the storage.KV interface.
type Badger struct {
	db *badgerdb.DB
}

// New opens the Badger database.
func New(cfg Config) (*Badger, error) {
	opts := badgerdb.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.Path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Badger{db: db}, nil
}

// Close releases the database.
func (b *Badger) Close() error {
	return b.db.Close()
}

// Get returns a copy of the value stored for the key.
func (b *Badger) Get(ns string, key []byte) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		var err error
		val, err = get(txn, ns, key)
		return err
	})
	return val, err
}

// Put stores the value for the key.
func (b *Badger) Put(ns string, key []byte, val []byte) error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(storage.Key(ns, key), val)
	})
}

// Delete removes the key. Deleting a missing key is not an error.
func (b *Badger) Delete(ns string, key []byte) error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(storage.Key(ns, key))
	})
}

// ScanPrefix calls fn for every key in the namespace starting with prefix
// in ascending key order.
func (b *Badger) ScanPrefix(ns string, prefix []byte, fn func(key []byte, val []byte) error) error {
	return b.db.View(func(txn *badgerdb.Txn) error {
		it := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer it.Close()

		p := storage.Key(ns, prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()

			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			if err := fn(storage.SplitKey(ns, item.KeyCopy(nil)), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// Update runs fn inside a read-write Badger transaction. A conflict with a
// concurrent transaction surfaces as badger.ErrConflict.
func (b *Badger) Update(fn func(txn storage.Txn) error) error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return fn(&badgerTxn{txn: txn})
	})
}

// IsTransient reports whether the error is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, badgerdb.ErrConflict)
}

// =============================================================================

type badgerTxn struct {
	txn *badgerdb.Txn
}

func (t *badgerTxn) Get(ns string, key []byte) ([]byte, error) {
	return get(t.txn, ns, key)
}

func (t *badgerTxn) Put(ns string, key []byte, val []byte) error {
	return t.txn.Set(storage.Key(ns, key), val)
}

func (t *badgerTxn) Delete(ns string, key []byte) error {
	return t.txn.Delete(storage.Key(ns, key))
}

func get(txn *badgerdb.Txn, ns string, key []byte) ([]byte, error) {
	item, err := txn.Get(storage.Key(ns, key))
	if err != nil {
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}
