package database

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/merkle"
	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common"
)

// PowLimit is the easiest possible target, 2^256 - 1. The active target is
// PowLimit divided by the difficulty.
var PowLimit = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Target converts a difficulty into the value a block hash must not exceed.
func Target(difficulty *big.Int) *big.Int {
	if difficulty == nil || difficulty.Sign() <= 0 {
		return new(big.Int).Set(PowLimit)
	}
	return new(big.Int).Div(PowLimit, difficulty)
}

// =============================================================================

// BlockHeader represents common information required for each block.
type BlockHeader struct {
	Version       uint32         `json:"version"`         // Format version of the block.
	Height        uint64         `json:"height"`          // Position of the block in the chain, genesis is 0.
	PrevBlockHash Hash           `json:"prev_block_hash"` // Hash of the previous block in the chain.
	MerkleRoot    Hash           `json:"merkle_root"`     // Merkle root of the transactions in this block.
	TimeStamp     uint64         `json:"timestamp"`       // Time the block was mined in unix milliseconds.
	Nonce         uint32         `json:"nonce"`           // Value identified to solve the hash solution.
	Difficulty    *big.Int       `json:"difficulty"`      // Difficulty the block was mined against.
	MinerAddress  common.Address `json:"miner"`           // Account receiving the coinbase output.
}

// CalculateHash returns the double SHA3-256 hash of the fixed width header
// fields that are covered by proof of work.
func CalculateHash(h BlockHeader) Hash {
	var buf [4 + 8 + HashLength + HashLength + 8 + 4]byte

	binary.BigEndian.PutUint32(buf[0:4], h.Version)
	binary.BigEndian.PutUint64(buf[4:12], h.Height)
	copy(buf[12:44], h.PrevBlockHash[:])
	copy(buf[44:76], h.MerkleRoot[:])
	binary.BigEndian.PutUint64(buf[76:84], h.TimeStamp)
	binary.BigEndian.PutUint32(buf[84:88], h.Nonce)

	return signature.DoubleHash(buf[:])
}

// ValidateHeaderFields checks the header values are in range.
func ValidateHeaderFields(h BlockHeader) error {
	if h.Version == 0 {
		return NewStructuralError("header", "version must be greater than zero")
	}

	if h.TimeStamp == 0 {
		return NewStructuralError("header", "timestamp must be greater than zero")
	}

	if h.Difficulty == nil || h.Difficulty.Sign() <= 0 {
		return NewStructuralError("header", "difficulty must be greater than zero")
	}

	if h.Difficulty.BitLen() > 256 {
		return NewStructuralError("header", "difficulty exceeds 256 bits")
	}

	if h.Height > math.MaxUint32 {
		return NewMismatchError(KindStructural, "header", "height exceeds the encodable range", uint64(math.MaxUint32), h.Height)
	}

	return nil
}

// =============================================================================

// Block represents a group of transactions batched together. The first
// transaction is always the coinbase.
type Block struct {
	Header     BlockHeader
	MerkleTree *merkle.Tree[Transaction]
	BlockHash  Hash
}

// NewBlockArgs are the values needed to assemble a candidate block.
type NewBlockArgs struct {
	Version      uint32
	Parent       *Block // Nil for the genesis block.
	MinerAddress common.Address
	Difficulty   *big.Int
	Transactions []Transaction // Coinbase first.
}

// NewBlock assembles a candidate block ready to be mined. The nonce is
// identified later by POW.
func NewBlock(args NewBlockArgs) (Block, error) {
	if len(args.Transactions) == 0 || !args.Transactions[0].IsCoinbase() {
		return Block{}, NewStructuralError("block", "first transaction must be the coinbase")
	}

	// Construct a merkle tree from the transactions for this block. The root
	// of this tree will be part of the block to be mined.
	tree, err := merkle.NewTree(args.Transactions)
	if err != nil {
		return Block{}, NewStructuralError("block", "unable to build merkle tree: %s", err)
	}

	var root Hash
	copy(root[:], tree.MerkleRoot)

	// When mining the first block, the previous block's hash will be zero.
	var height uint64
	var prevHash Hash
	timestamp := uint64(time.Now().UTC().UnixMilli())

	if args.Parent != nil {
		height = args.Parent.Header.Height + 1
		prevHash = args.Parent.BlockHash
		timestamp = max(timestamp, args.Parent.Header.TimeStamp)
	}

	nb := Block{
		Header: BlockHeader{
			Version:       args.Version,
			Height:        height,
			PrevBlockHash: prevHash,
			MerkleRoot:    root,
			TimeStamp:     timestamp,
			Nonce:         0, // Will be identified by the POW algorithm.
			Difficulty:    new(big.Int).Set(args.Difficulty),
			MinerAddress:  args.MinerAddress,
		},
		MerkleTree: tree,
	}

	if err := ValidateHeaderFields(nb.Header); err != nil {
		return Block{}, err
	}

	return nb, nil
}

// Hash recalculates the hash of the header.
func (b Block) Hash() Hash {
	return CalculateHash(b.Header)
}

// Transactions returns the transactions in block order.
func (b Block) Transactions() []Transaction {
	if b.MerkleTree == nil {
		return nil
	}
	return b.MerkleTree.Values()
}

// Coinbase returns the first transaction when it is a coinbase.
func (b Block) Coinbase() (Transaction, bool) {
	txs := b.Transactions()
	if len(txs) == 0 || !txs[0].IsCoinbase() {
		return Transaction{}, false
	}
	return txs[0], true
}

// MerkleRootOf recomputes the merkle root over the transactions.
func (b Block) MerkleRootOf() (Hash, error) {
	tree, err := merkle.NewTree(b.Transactions())
	if err != nil {
		return Hash{}, err
	}

	var root Hash
	copy(root[:], tree.MerkleRoot)
	return root, nil
}

// IsHashSolved checks the hash complies with the target implied by the
// header difficulty.
func (b Block) IsHashSolved() bool {
	return isHashSolved(Target(b.Header.Difficulty), b.BlockHash)
}

// String implements the fmt.Stringer interface for logging.
func (b Block) String() string {
	return fmt.Sprintf("%d:%s", b.Header.Height, b.BlockHash)
}

// =============================================================================

// POW performs the work of mining to find a nonce that solves the puzzle for
// the candidate block. The search is abandoned when the context is cancelled
// or the preempt flag is raised because another block was accepted.
func POW(ctx context.Context, candidate Block, preempt *atomic.Bool, ev func(v string, args ...any)) (Block, error) {
	ev("worker: POW: MINING: started: blk[%d]", candidate.Header.Height)
	defer ev("worker: POW: MINING: completed: blk[%d]", candidate.Header.Height)

	// Log the transactions that are a part of this potential block.
	for _, tx := range candidate.Transactions() {
		ev("worker: POW: MINING: tx[%s]", tx)
	}

	nb := candidate
	nb.Header.Difficulty = new(big.Int).Set(candidate.Header.Difficulty)
	target := Target(nb.Header.Difficulty)

	// Choose a random starting point for the nonce. After this, the nonce
	// will be incremented by 1 until a solution is found or the space is
	// exhausted, at which point the timestamp moves forward.
	nBig, err := rand.Int(rand.Reader, big.NewInt(math.MaxUint32))
	if err != nil {
		return Block{}, err
	}
	start := uint32(nBig.Uint64())
	nb.Header.Nonce = start

	var attempts uint64
	for {
		attempts++
		if attempts%1_000_000 == 0 {
			ev("worker: POW: MINING: attempts[%d]", attempts)
		}

		// Did we get cancelled or beaten to the block.
		if ctx.Err() != nil {
			ev("worker: POW: MINING: CANCELLED")
			return Block{}, ctx.Err()
		}
		if preempt != nil && preempt.Load() {
			ev("worker: POW: MINING: PREEMPTED")
			return Block{}, ErrMiningPreempted
		}

		// Hash the header and check if we have solved the puzzle.
		hash := CalculateHash(nb.Header)
		if isHashSolved(target, hash) {
			nb.BlockHash = hash

			ev("worker: POW: MINING: SOLVED: prevBlk[%s]: newBlk[%s]", nb.Header.PrevBlockHash, hash)
			ev("worker: POW: MINING: attempts[%d]", attempts)

			return nb, nil
		}

		nb.Header.Nonce++
		if nb.Header.Nonce == start {
			nb.Header.TimeStamp++
			ev("worker: POW: MINING: nonce space exhausted: timestamp[%d]", nb.Header.TimeStamp)
		}
	}
}

// isHashSolved compares the hash as a big unsigned integer with the target.
func isHashSolved(target *big.Int, hash Hash) bool {
	return new(big.Int).SetBytes(hash[:]).Cmp(target) <= 0
}

// =============================================================================

// BlockData represents what is exchanged with clients for a block.
type BlockData struct {
	Hash   Hash          `json:"hash"`
	Header BlockHeader   `json:"block"`
	Trans  []Transaction `json:"trans"`
}

// NewBlockData constructs the value to serialize for clients.
func NewBlockData(block Block) BlockData {
	return BlockData{
		Hash:   block.BlockHash,
		Header: block.Header,
		Trans:  block.Transactions(),
	}
}

// ToBlock converts a BlockData into a Block.
func ToBlock(bd BlockData) (Block, error) {
	tree, err := merkle.NewTree(bd.Trans)
	if err != nil {
		return Block{}, NewStructuralError("block", "unable to build merkle tree: %s", err)
	}

	nb := Block{
		Header:     bd.Header,
		MerkleTree: tree,
		BlockHash:  bd.Hash,
	}

	return nb, nil
}
