// Package leveldb implements the storage contract on top of goleveldb.
package leveldb

import (
	"errors"

	"github.com/ardanlabs/ledger/foundation/blockchain/storage"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	ldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Config represents the values needed to open the store. An empty path
// opens an in-memory instance.
type Config struct {
	Path string
}

// LevelDB represents the storage implementation for goleveldb. This
// implements the storage.KV interface.
type LevelDB struct {
	ldb *leveldb.DB
}

// New opens the database at the configured path, recovering it when the
// files are corrupted.
func New(cfg Config) (*LevelDB, error) {
	if cfg.Path == "" {
		ldb, err := leveldb.Open(ldbstorage.NewMemStorage(), nil)
		if err != nil {
			return nil, err
		}
		return &LevelDB{ldb: ldb}, nil
	}

	ldb, err := leveldb.OpenFile(cfg.Path, nil)

	var corrupted *ldberrors.ErrCorrupted
	if errors.As(err, &corrupted) {
		ldb, err = leveldb.RecoverFile(cfg.Path, nil)
	}

	if err != nil {
		return nil, err
	}

	return &LevelDB{ldb: ldb}, nil
}

// Close releases the database.
func (db *LevelDB) Close() error {
	return db.ldb.Close()
}

// Get returns the value stored for the key.
func (db *LevelDB) Get(ns string, key []byte) ([]byte, error) {
	val, err := db.ldb.Get(storage.Key(ns, key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return val, nil
}

// Put stores the value for the key.
func (db *LevelDB) Put(ns string, key []byte, val []byte) error {
	return db.ldb.Put(storage.Key(ns, key), val, nil)
}

// Delete removes the key. Deleting a missing key is not an error.
func (db *LevelDB) Delete(ns string, key []byte) error {
	return db.ldb.Delete(storage.Key(ns, key), nil)
}

// ScanPrefix calls fn for every key in the namespace starting with prefix
// in ascending key order.
func (db *LevelDB) ScanPrefix(ns string, prefix []byte, fn func(key []byte, val []byte) error) error {
	it := db.ldb.NewIterator(util.BytesPrefix(storage.Key(ns, prefix)), nil)
	defer it.Release()

	for it.Next() {
		key := append([]byte(nil), it.Key()...)
		val := append([]byte(nil), it.Value()...)

		if err := fn(storage.SplitKey(ns, key), val); err != nil {
			return err
		}
	}

	return it.Error()
}

// Update runs fn against a snapshot of the database. The writes are
// collected in a batch that is written atomically when fn returns nil.
func (db *LevelDB) Update(fn func(txn storage.Txn) error) error {
	snapshot, err := db.ldb.GetSnapshot()
	if err != nil {
		return err
	}
	defer snapshot.Release()

	txn := ldbTxn{
		snapshot: snapshot,
		batch:    new(leveldb.Batch),
		pending:  make(map[string][]byte),
	}

	if err := fn(&txn); err != nil {
		return err
	}

	return db.ldb.Write(txn.batch, nil)
}

// =============================================================================

// ldbTxn reads through the pending writes before the snapshot so a scope
// sees its own changes. A nil value in pending marks a delete.
type ldbTxn struct {
	snapshot *leveldb.Snapshot
	batch    *leveldb.Batch
	pending  map[string][]byte
}

func (t *ldbTxn) Get(ns string, key []byte) ([]byte, error) {
	k := storage.Key(ns, key)

	if v, exists := t.pending[string(k)]; exists {
		if v == nil {
			return nil, storage.ErrNotFound
		}
		return append([]byte(nil), v...), nil
	}

	val, err := t.snapshot.Get(k, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return val, nil
}

func (t *ldbTxn) Put(ns string, key []byte, val []byte) error {
	k := storage.Key(ns, key)
	v := append([]byte{}, val...)

	t.batch.Put(k, v)
	t.pending[string(k)] = v
	return nil
}

func (t *ldbTxn) Delete(ns string, key []byte) error {
	k := storage.Key(ns, key)

	t.batch.Delete(k)
	t.pending[string(k)] = nil
	return nil
}
