package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
)

// Set of namespaces used by the block store.
const (
	NamespaceBlocks = "blocks"
	NamespaceMeta   = "meta"
)

var metaKey = []byte("chain")

// BlockStore persists blocks and chain metadata in a KV. Blocks are keyed by
// big-endian height so a scan returns them in chain order. Each value is the
// block hash followed by the block record. This implements the
// database.Serializer interface.
type BlockStore struct {
	kv KV
}

// NewBlockStore constructs a block store on top of the specified KV.
func NewBlockStore(kv KV) *BlockStore {
	return &BlockStore{kv: kv}
}

// Write stores the block and the metadata in one atomic scope.
func (bs *BlockStore) Write(block database.Block, meta database.Meta) error {
	record, err := database.EncodeBlock(block)
	if err != nil {
		return err
	}

	metaData, err := json.Marshal(meta)
	if err != nil {
		return database.NewStructuralError("blockstore", "unable to marshal meta: %s", err)
	}

	val := make([]byte, 0, database.HashLength+len(record))
	val = append(val, block.BlockHash[:]...)
	val = append(val, record...)

	key := heightKey(block.Header.Height)

	return bs.kv.Update(func(txn Txn) error {
		switch _, err := txn.Get(NamespaceBlocks, key); {
		case err == nil:
			return database.NewConsistencyError("blockstore", "block %d is already stored", block.Header.Height)
		case !errors.Is(err, ErrNotFound):
			return err
		}

		if err := txn.Put(NamespaceBlocks, key, val); err != nil {
			return err
		}
		return txn.Put(NamespaceMeta, metaKey, metaData)
	})
}

// GetBlock reads the block at the specified height.
func (bs *BlockStore) GetBlock(height uint64) (database.Block, error) {
	val, err := bs.kv.Get(NamespaceBlocks, heightKey(height))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return database.Block{}, database.NewConsistencyError("blockstore", "block %d does not exist", height)
		}
		return database.Block{}, err
	}

	return decodeValue(val)
}

// ForEach hands every stored block to fn in height order.
func (bs *BlockStore) ForEach(fn func(block database.Block) error) error {
	return bs.kv.ScanPrefix(NamespaceBlocks, nil, func(key []byte, val []byte) error {
		block, err := decodeValue(val)
		if err != nil {
			return err
		}

		if len(key) != 8 || binary.BigEndian.Uint64(key) != block.Header.Height {
			return database.NewConsistencyError("blockstore", "block %d stored under the wrong key", block.Header.Height)
		}

		return fn(block)
	})
}

// Meta returns the metadata written with the latest block.
func (bs *BlockStore) Meta() (database.Meta, bool, error) {
	data, err := bs.kv.Get(NamespaceMeta, metaKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return database.Meta{}, false, nil
		}
		return database.Meta{}, false, err
	}

	var meta database.Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return database.Meta{}, false, database.NewStructuralError("blockstore", "unable to unmarshal meta: %s", err)
	}

	return meta, true, nil
}

// Close releases the KV.
func (bs *BlockStore) Close() error {
	return bs.kv.Close()
}

// Reset removes every block and the metadata.
func (bs *BlockStore) Reset() error {
	var keys [][]byte
	err := bs.kv.ScanPrefix(NamespaceBlocks, nil, func(key []byte, val []byte) error {
		keys = append(keys, append([]byte(nil), key...))
		return nil
	})
	if err != nil {
		return err
	}

	return bs.kv.Update(func(txn Txn) error {
		for _, key := range keys {
			if err := txn.Delete(NamespaceBlocks, key); err != nil {
				return err
			}
		}
		return txn.Delete(NamespaceMeta, metaKey)
	})
}

// =============================================================================

func heightKey(height uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], height)
	return key[:]
}

func decodeValue(val []byte) (database.Block, error) {
	if len(val) < database.HashLength {
		return database.Block{}, database.NewMismatchError(database.KindStructural, "blockstore", "stored value is too short", database.HashLength, len(val))
	}

	var stored database.Hash
	copy(stored[:], val[:database.HashLength])

	block, err := database.DecodeBlock(val[database.HashLength:])
	if err != nil {
		return database.Block{}, err
	}

	if block.BlockHash != stored {
		return database.Block{}, database.NewMismatchError(database.KindConsistency, "blockstore", "stored hash doesn't match header", stored, block.BlockHash)
	}

	return block, nil
}
