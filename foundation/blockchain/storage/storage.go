// Package storage defines the key/value contract the ledger persists its
// chain through, along with the adapters that store blocks on top of it.
package storage

import (
	"bytes"
	"errors"
)

// ErrNotFound is returned when a key does not exist in a namespace.
var ErrNotFound = errors.New("key not found")

// Txn is the view of the store inside an Update scope. Writes become visible
// to other readers only when the scope returns without error.
type Txn interface {
	Get(ns string, key []byte) ([]byte, error)
	Put(ns string, key []byte, val []byte) error
	Delete(ns string, key []byte) error
}

// KV is the behavior required of a key/value engine. Keys are grouped by
// namespace and ScanPrefix walks a namespace in ascending key order.
type KV interface {
	Get(ns string, key []byte) ([]byte, error)
	Put(ns string, key []byte, val []byte) error
	Delete(ns string, key []byte) error
	ScanPrefix(ns string, prefix []byte, fn func(key []byte, val []byte) error) error
	Update(fn func(txn Txn) error) error
	Close() error
}

// =============================================================================

// separator splits the namespace from the key in the physical key.
const separator = '/'

// Key returns the physical key for a key inside a namespace.
func Key(ns string, key []byte) []byte {
	k := make([]byte, 0, len(ns)+1+len(key))
	k = append(k, ns...)
	k = append(k, separator)
	return append(k, key...)
}

// SplitKey returns the namespace relative part of a physical key.
func SplitKey(ns string, physical []byte) []byte {
	return bytes.TrimPrefix(physical, Key(ns, nil))
}
