package state

import (
	"math/big"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/mempool"
	"github.com/ardanlabs/ledger/foundation/blockchain/merkle"
	"github.com/ardanlabs/ledger/foundation/blockchain/utxo"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// QueryLastest represents to query the latest block in the chain.
const QueryLastest = ^uint64(0) >> 1

// Status summarizes the node.
type Status struct {
	Height       uint64          `json:"height"`
	LatestHash   database.Hash   `json:"latest_hash"`
	Difficulty   *big.Int        `json:"difficulty"`
	MempoolCount int             `json:"mempool_count"`
	MempoolBytes int             `json:"mempool_bytes"`
	UTXOCount    int             `json:"utxo_count"`
	UTXOTotal    database.Amount `json:"utxo_total"`
	Treasury     database.Amount `json:"treasury"`
	TreasuryCap  database.Amount `json:"treasury_cap"`
	Mining       bool            `json:"mining"`
}

// FeeQuote describes the fee a transaction would need right now.
type FeeQuote struct {
	Class       database.Class  `json:"class"`
	Size        int             `json:"size"`
	Volume      int             `json:"volume"`
	Level       string          `json:"level"`
	RequiredFee database.Amount `json:"required_fee"`
}

// MerkleProof proves a transaction is part of a block.
type MerkleProof struct {
	Height uint64          `json:"height"`
	TxID   database.Hash   `json:"tx_id"`
	Leaf   hexutil.Bytes   `json:"leaf"`
	Root   database.Hash   `json:"root"`
	Proof  []hexutil.Bytes `json:"proof"`
	Order  []int64         `json:"order"`
}

// Verify walks the proof and reports whether it lands on the root.
func (p MerkleProof) Verify() bool {
	proof := make([][]byte, len(p.Proof))
	for i, h := range p.Proof {
		proof[i] = h
	}
	return merkle.VerifyProof(p.Leaf, proof, p.Order, p.Root[:])
}

// =============================================================================

// LatestBlock returns a copy of the current latest block.
func (s *State) LatestBlock() database.Block {
	block, _ := s.db.LatestBlock()
	return block
}

// Difficulty returns the difficulty the next block must be mined at.
func (s *State) Difficulty() *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return new(big.Int).Set(s.difficulty)
}

// QueryBlocksByRange returns the set of blocks within the specified range
// inclusive. QueryLastest on either end means the latest block.
func (s *State) QueryBlocksByRange(from uint64, to uint64) []database.Block {
	latest := s.LatestBlock().Header.Height
	if from == QueryLastest {
		from = latest
	}
	if to == QueryLastest {
		to = latest
	}

	return s.db.Blocks(from, to)
}

// QueryBlockByHeight returns the block at the specified height.
func (s *State) QueryBlockByHeight(height uint64) (database.Block, error) {
	if height == QueryLastest {
		return s.LatestBlock(), nil
	}

	return s.db.GetBlock(height)
}

// QueryBlockByHash returns the block with the specified hash.
func (s *State) QueryBlockByHash(hash database.Hash) (database.Block, error) {
	return s.db.GetBlockByHash(hash)
}

// QueryUTXOsByOwner returns the unspent outputs owned by the account.
func (s *State) QueryUTXOsByOwner(owner common.Address) []utxo.UnspentOutput {
	return s.utxos.ByOwner(owner)
}

// QueryMempool returns the pooled transactions in fee per byte order.
func (s *State) QueryMempool() []mempool.Entry {
	return s.mempool.Entries()
}

// QueryMempoolLength returns the current number of pooled transactions.
func (s *State) QueryMempoolLength() int {
	return s.mempool.Count()
}

// QueryMempoolEntry returns the pooled transaction with the specified id.
func (s *State) QueryMempoolEntry(id database.Hash) (mempool.Entry, error) {
	return s.mempool.Get(id)
}

// QueryMerkleProof builds the inclusion proof for a transaction in the block
// at the specified height.
func (s *State) QueryMerkleProof(height uint64, txID database.Hash) (MerkleProof, error) {
	block, err := s.QueryBlockByHeight(height)
	if err != nil {
		return MerkleProof{}, err
	}
	height = block.Header.Height

	var tx database.Transaction
	var found bool
	for _, t := range block.Transactions() {
		if t.ID == txID {
			tx, found = t, true
			break
		}
	}

	if !found {
		return MerkleProof{}, database.NewConsistencyError("state", "transaction %s is not in block %d", txID, height)
	}

	leaf, err := tx.Hash()
	if err != nil {
		return MerkleProof{}, err
	}

	proof, order, err := block.MerkleTree.Proof(tx)
	if err != nil {
		return MerkleProof{}, database.NewConsistencyError("state", "unable to build proof for %s: %s", txID, err)
	}

	mp := MerkleProof{
		Height: height,
		TxID:   txID,
		Leaf:   leaf,
		Root:   block.Header.MerkleRoot,
		Proof:  make([]hexutil.Bytes, len(proof)),
		Order:  order,
	}
	for i, p := range proof {
		mp.Proof[i] = p
	}

	return mp, nil
}

// QueryFee quotes the fee a transaction of the class and size must pay given
// what is currently pooled.
func (s *State) QueryFee(class database.Class, size int) (FeeQuote, error) {
	if !class.IsValid() || class == database.ClassCoinbase {
		return FeeQuote{}, database.NewStructuralError("fee", "class %q can't be quoted", class)
	}

	volume := s.mempool.ClassCount(class)
	level := s.policy.Congestion(s.genesis.BlockSizeMB, class, volume)

	fq := FeeQuote{
		Class:       class,
		Size:        size,
		Volume:      volume,
		Level:       level.String(),
		RequiredFee: s.policy.RequiredFee(s.genesis.BlockSizeMB, class, volume, size),
	}

	return fq, nil
}

// QueryTreasury returns the treasury total and its cap.
func (s *State) QueryTreasury() (total database.Amount, limit database.Amount) {
	t := s.policy.Treasury()
	return t.Total(), t.Cap()
}

// QueryStatus summarizes the chain, the pool and the treasury.
func (s *State) QueryStatus() Status {
	latest := s.LatestBlock()
	total, limit := s.QueryTreasury()

	return Status{
		Height:       latest.Header.Height,
		LatestHash:   latest.BlockHash,
		Difficulty:   s.Difficulty(),
		MempoolCount: s.mempool.Count(),
		MempoolBytes: s.mempool.Bytes(),
		UTXOCount:    s.utxos.Count(),
		UTXOTotal:    s.utxos.Total(),
		Treasury:     total,
		TreasuryCap:  limit,
		Mining:       s.IsMiningAllowed(),
	}
}
