// Package memory implements the storage contract with a map so a node can
// run without touching disk.
package memory

import (
	"bytes"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/ardanlabs/ledger/foundation/blockchain/storage"
)

// ErrClosed is returned when the store is used after Close.
var ErrClosed = errors.New("memory store is closed")

// Memory represents the storage implementation for keeping values in a map.
// This implements the storage.KV interface.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// New constructs a Memory value for use.
func New() *Memory {
	return &Memory{
		data: make(map[string][]byte),
	}
}

// Close in this implementation drops the data since everything is in memory.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = nil
	m.closed = true
	return nil
}

// Get returns a copy of the value stored for the key.
func (m *Memory) Get(ns string, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	val, exists := m.data[string(storage.Key(ns, key))]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return bytes.Clone(val), nil
}

// Put stores a copy of the value for the key.
func (m *Memory) Put(ns string, key []byte, val []byte) error {
	return m.Update(func(txn storage.Txn) error {
		return txn.Put(ns, key, val)
	})
}

// Delete removes the key. Deleting a missing key is not an error.
func (m *Memory) Delete(ns string, key []byte) error {
	return m.Update(func(txn storage.Txn) error {
		return txn.Delete(ns, key)
	})
}

// ScanPrefix calls fn for every key in the namespace starting with prefix
// in ascending key order. The values are copies taken when the scan began.
func (m *Memory) ScanPrefix(ns string, prefix []byte, fn func(key []byte, val []byte) error) error {
	type pair struct {
		key string
		val []byte
	}

	var pairs []pair

	m.mu.RLock()
	{
		if m.closed {
			m.mu.RUnlock()
			return ErrClosed
		}

		p := string(storage.Key(ns, prefix))
		for k, v := range m.data {
			if strings.HasPrefix(k, p) {
				pairs = append(pairs, pair{key: k, val: bytes.Clone(v)})
			}
		}
	}
	m.mu.RUnlock()

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].key < pairs[j].key
	})

	for _, p := range pairs {
		if err := fn(storage.SplitKey(ns, []byte(p.key)), p.val); err != nil {
			return err
		}
	}

	return nil
}

// Update runs fn against a copy-on-write view of the store. The writes are
// applied only when fn returns nil.
func (m *Memory) Update(fn func(txn storage.Txn) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	txn := memTxn{
		data:    m.data,
		pending: make(map[string][]byte),
	}

	if err := fn(&txn); err != nil {
		return err
	}

	for k, v := range txn.pending {
		if v == nil {
			delete(m.data, k)
			continue
		}
		m.data[k] = v
	}

	return nil
}

// =============================================================================

// memTxn records writes on top of the committed data. A nil value in
// pending marks a delete.
type memTxn struct {
	data    map[string][]byte
	pending map[string][]byte
}

func (t *memTxn) Get(ns string, key []byte) ([]byte, error) {
	k := string(storage.Key(ns, key))

	if v, exists := t.pending[k]; exists {
		if v == nil {
			return nil, storage.ErrNotFound
		}
		return bytes.Clone(v), nil
	}

	v, exists := t.data[k]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (t *memTxn) Put(ns string, key []byte, val []byte) error {
	v := make([]byte, len(val))
	copy(v, val)

	t.pending[string(storage.Key(ns, key))] = v
	return nil
}

func (t *memTxn) Delete(ns string, key []byte) error {
	t.pending[string(storage.Key(ns, key))] = nil
	return nil
}
