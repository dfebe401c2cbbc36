// Package database handles all the lower level support for maintaining the
// ledger: the block and transaction types, hashing, the binary record codec
// and an in memory index of the confirmed chain backed by a serializer.
package database

import (
	"math/big"
	"sync"
)

// Meta represents chain metadata written alongside every block.
type Meta struct {
	Height     uint64   `json:"height"`
	Difficulty *big.Int `json:"difficulty"`
	Treasury   Amount   `json:"treasury"`
}

// Serializer interface represents the behavior required to be implemented by any
// package providing support for storing and reading the blockchain.
type Serializer interface {
	Write(block Block, meta Meta) error
	GetBlock(height uint64) (Block, error)
	ForEach(fn func(block Block) error) error
	Meta() (Meta, bool, error)
	Close() error
	Reset() error
}

// =============================================================================

// Database manages the confirmed blocks of the chain in memory and writes
// them through the serializer.
type Database struct {
	mu sync.RWMutex

	blocks []Block
	byHash map[Hash]uint64

	serializer Serializer
}

// New constructs a database that persists through the specified serializer.
func New(serializer Serializer) *Database {
	return &Database{
		byHash:     make(map[Hash]uint64),
		serializer: serializer,
	}
}

// Load reads every stored block in height order and hands it to the apply
// function. A block is indexed only when apply accepts it; the first failure
// stops the load.
func (db *Database) Load(apply func(block Block) error) error {
	return db.serializer.ForEach(func(block Block) error {
		if err := apply(block); err != nil {
			return err
		}

		db.mu.Lock()
		defer db.mu.Unlock()

		db.append(block)
		return nil
	})
}

// StoredMeta returns the metadata recorded with the last written block.
func (db *Database) StoredMeta() (Meta, bool, error) {
	return db.serializer.Meta()
}

// Write persists the block and its metadata and then adds it to the index.
func (db *Database) Write(block Block, meta Meta) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if exp := uint64(len(db.blocks)); block.Header.Height != exp {
		return NewMismatchError(KindConsistency, "database", "block is not the next height", exp, block.Header.Height)
	}

	if err := db.serializer.Write(block, meta); err != nil {
		return err
	}

	db.append(block)
	return nil
}

// Close closes the serializer.
func (db *Database) Close() error {
	return db.serializer.Close()
}

// Reset removes every block from the index and the serializer.
func (db *Database) Reset() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.blocks = nil
	db.byHash = make(map[Hash]uint64)

	return db.serializer.Reset()
}

// LatestBlock returns the latest block.
func (db *Database) LatestBlock() (Block, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if len(db.blocks) == 0 {
		return Block{}, false
	}
	return db.blocks[len(db.blocks)-1], true
}

// Genesis returns the genesis block.
func (db *Database) Genesis() (Block, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if len(db.blocks) == 0 {
		return Block{}, false
	}
	return db.blocks[0], true
}

// Count returns the number of blocks in the chain.
func (db *Database) Count() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return uint64(len(db.blocks))
}

// GetBlock returns the block at the specified height.
func (db *Database) GetBlock(height uint64) (Block, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if height >= uint64(len(db.blocks)) {
		return Block{}, NewConsistencyError("database", "block %d not found", height)
	}
	return db.blocks[height], nil
}

// GetBlockByHash returns the block with the specified hash.
func (db *Database) GetBlockByHash(hash Hash) (Block, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	height, exists := db.byHash[hash]
	if !exists {
		return Block{}, NewConsistencyError("database", "block %s not found", hash)
	}
	return db.blocks[height], nil
}

// Blocks returns the blocks between the two heights inclusive.
func (db *Database) Blocks(from uint64, to uint64) []Block {
	db.mu.RLock()
	defer db.mu.RUnlock()

	n := uint64(len(db.blocks))
	if n == 0 || from > to || from >= n {
		return nil
	}
	to = min(to, n-1)

	out := make([]Block, 0, to-from+1)
	return append(out, db.blocks[from:to+1]...)
}

// Headers returns the headers between the two heights inclusive.
func (db *Database) Headers(from uint64, to uint64) []BlockHeader {
	blocks := db.Blocks(from, to)

	headers := make([]BlockHeader, len(blocks))
	for i, b := range blocks {
		headers[i] = b.Header
	}
	return headers
}

func (db *Database) append(block Block) {
	db.byHash[block.BlockHash] = uint64(len(db.blocks))
	db.blocks = append(db.blocks, block)
}
