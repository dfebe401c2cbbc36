// Package chain validates candidate blocks against the confirmed chain and
// recomputes the proof of work difficulty.
package chain

import (
	"math/big"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/utxo"
	"github.com/ethereum/go-ethereum/common"
)

// UTXOReader provides access to the confirmed unspent outputs.
type UTXOReader interface {
	Get(id database.OutPoint) (utxo.UnspentOutput, bool)
}

// FeePolicy computes the minimum fee a transaction must pay.
type FeePolicy interface {
	RequiredFee(blockSizeMB float64, class database.Class, competingVolume int, txSize int) database.Amount
}

// Config represents the consensus values a block is validated against.
type Config struct {
	BlockSizeMB      float64
	BaseReward       database.Amount
	CoinbaseMaturity uint64
	VerifyUnlock     bool
	EvHandler        func(v string, args ...any)
}

// Report describes what a valid block carries. Transactions listed in
// Skipped failed only the fee checks and must not be applied.
type Report struct {
	Fees     database.Amount
	Accepted int
	Skipped  map[database.Hash]error
}

// SkipSet returns the ids of the skipped transactions.
func (r Report) SkipSet() map[database.Hash]struct{} {
	if len(r.Skipped) == 0 {
		return nil
	}

	skip := make(map[database.Hash]struct{}, len(r.Skipped))
	for id := range r.Skipped {
		skip[id] = struct{}{}
	}
	return skip
}

// =============================================================================

// Validator checks blocks for linkage, proof of work, merkle integrity and
// balance conservation.
type Validator struct {
	cfg    Config
	utxos  UTXOReader
	policy FeePolicy
	ev     func(v string, args ...any)
}

// NewValidator constructs a validator that resolves inputs against the
// UTXO reader.
func NewValidator(utxos UTXOReader, policy FeePolicy, cfg Config) *Validator {
	ev := cfg.EvHandler
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	return &Validator{
		cfg:    cfg,
		utxos:  utxos,
		policy: policy,
		ev:     ev,
	}
}

// ValidateBlock checks the block can extend the parent at the specified
// difficulty. The parent is nil for the genesis block.
func (v *Validator) ValidateBlock(block database.Block, parent *database.Block, difficulty *big.Int) (Report, error) {
	h := block.Header

	v.ev("chain: ValidateBlock: blk[%d]: check: header fields", h.Height)

	if err := database.ValidateHeaderFields(h); err != nil {
		return Report{}, err
	}

	if h.Height == 0 {
		if parent != nil {
			return Report{}, database.NewConsistencyError("block", "genesis block already exists")
		}
		return v.validateGenesis(block, difficulty)
	}

	if parent == nil {
		return Report{}, database.NewConsistencyError("block", "block %d has no parent", h.Height)
	}

	v.ev("chain: ValidateBlock: blk[%d]: check: block height is the next height", h.Height)

	if next := parent.Header.Height + 1; h.Height != next {
		return Report{}, database.NewMismatchError(database.KindConsistency, "block", "height is not the next height", next, h.Height)
	}

	v.ev("chain: ValidateBlock: blk[%d]: check: previous hash matches parent block", h.Height)

	if h.PrevBlockHash != parent.BlockHash {
		return Report{}, database.NewMismatchError(database.KindConsistency, "block", "previous hash doesn't match parent", parent.BlockHash, h.PrevBlockHash)
	}

	v.ev("chain: ValidateBlock: blk[%d]: check: timestamp is not before parent", h.Height)

	if h.TimeStamp < parent.Header.TimeStamp {
		return Report{}, database.NewMismatchError(database.KindConsistency, "block", "timestamp is before parent", parent.Header.TimeStamp, h.TimeStamp)
	}

	if err := v.validateWork(block, difficulty); err != nil {
		return Report{}, err
	}

	if err := v.validateMerkle(block); err != nil {
		return Report{}, err
	}

	return v.validateTransactions(block)
}

// =============================================================================

func (v *Validator) validateGenesis(block database.Block, difficulty *big.Int) (Report, error) {
	h := block.Header

	v.ev("chain: ValidateBlock: blk[0]: check: genesis has no parent")

	if !h.PrevBlockHash.IsZero() {
		return Report{}, database.NewConsistencyError("block", "genesis previous hash must be zero, got %s", h.PrevBlockHash)
	}

	if err := v.validateWork(block, difficulty); err != nil {
		return Report{}, err
	}

	if err := v.validateMerkle(block); err != nil {
		return Report{}, err
	}

	txs := block.Transactions()
	if len(txs) != 1 {
		return Report{}, database.NewMismatchError(database.KindStructural, "block", "genesis must only carry the coinbase", 1, len(txs))
	}

	cb, err := v.validateCoinbase(block)
	if err != nil {
		return Report{}, err
	}

	if cb.Outputs[0].Amount > v.cfg.BaseReward {
		return Report{}, database.NewMismatchError(database.KindConsistency, "block", "genesis coinbase exceeds the reward", v.cfg.BaseReward, cb.Outputs[0].Amount)
	}

	return Report{}, nil
}

func (v *Validator) validateWork(block database.Block, difficulty *big.Int) error {
	h := block.Header

	v.ev("chain: ValidateBlock: blk[%d]: check: block difficulty matches the chain", h.Height)

	if difficulty != nil && h.Difficulty.Cmp(difficulty) != 0 {
		return database.NewMismatchError(database.KindConsistency, "block", "difficulty doesn't match the chain", difficulty, h.Difficulty)
	}

	v.ev("chain: ValidateBlock: blk[%d]: check: block hash has been solved", h.Height)

	if hash := block.Hash(); hash != block.BlockHash {
		return database.NewMismatchError(database.KindConsistency, "block", "stored hash doesn't match header", hash, block.BlockHash)
	}

	if !block.IsHashSolved() {
		return database.NewConsistencyError("block", "hash %s is above the target", block.BlockHash)
	}

	return nil
}

func (v *Validator) validateMerkle(block database.Block) error {
	v.ev("chain: ValidateBlock: blk[%d]: check: merkle root does match transactions", block.Header.Height)

	root, err := block.MerkleRootOf()
	if err != nil {
		return database.NewStructuralError("block", "unable to compute merkle root: %s", err)
	}

	if root != block.Header.MerkleRoot {
		return database.NewMismatchError(database.KindConsistency, "block", "merkle root doesn't match transactions", root, block.Header.MerkleRoot)
	}

	return nil
}

func (v *Validator) validateCoinbase(block database.Block) (database.Transaction, error) {
	v.ev("chain: ValidateBlock: blk[%d]: check: coinbase is first and only", block.Header.Height)

	cb, exists := block.Coinbase()
	if !exists {
		return database.Transaction{}, database.NewStructuralError("block", "first transaction must be the coinbase")
	}

	if err := cb.Validate(); err != nil {
		return database.Transaction{}, err
	}

	for _, tx := range block.Transactions()[1:] {
		if tx.IsCoinbase() {
			return database.Transaction{}, database.NewStructuralError("block", "coinbase %s is not the first transaction", tx.ID)
		}
	}

	return cb, nil
}

// validateTransactions checks every transaction spends existing outputs and
// pays its fee. Outputs created earlier in the same block can be spent by
// later transactions.
func (v *Validator) validateTransactions(block database.Block) (Report, error) {
	height := block.Header.Height

	cb, err := v.validateCoinbase(block)
	if err != nil {
		return Report{}, err
	}

	txs := block.Transactions()[1:]

	volume := make(map[database.Class]int)
	for _, tx := range txs {
		volume[tx.Class]++
	}

	created := make(map[database.OutPoint]database.Output)
	consumed := make(map[database.OutPoint]database.Hash)

	report := Report{
		Skipped: make(map[database.Hash]error),
	}

	for _, tx := range txs {
		v.ev("chain: ValidateBlock: blk[%d]: check: tx[%s]", height, tx.Ref())

		if err := tx.Validate(); err != nil {
			return Report{}, err
		}

		var inTotal database.Amount
		prevs := make([]database.OutPoint, 0, len(tx.Inputs))

		for i, in := range tx.Inputs {
			if spender, exists := consumed[in.Prev]; exists {
				return Report{}, database.NewConsistencyError("block", "double spend: output %s spent by %s and %s", in.Prev, spender, tx.ID)
			}

			amount, owner, err := v.resolve(in.Prev, created, height)
			if err != nil {
				return Report{}, err
			}

			if v.cfg.VerifyUnlock {
				if err := tx.VerifyInput(i, owner); err != nil {
					return Report{}, err
				}
			}

			if inTotal+amount < inTotal {
				return Report{}, database.NewStructuralError("block", "tx %s input total overflows", tx.ID)
			}
			inTotal += amount
			prevs = append(prevs, in.Prev)
		}

		outTotal, err := tx.OutputTotal()
		if err != nil {
			return Report{}, err
		}

		if outTotal > inTotal {
			return Report{}, database.NewMismatchError(database.KindStructural, "block", "tx outputs exceed inputs", inTotal, outTotal)
		}

		if fee := inTotal - outTotal; fee != tx.Fee {
			return Report{}, database.NewMismatchError(database.KindStructural, "block", "tx declared fee doesn't match inputs minus outputs", fee, tx.Fee)
		}

		required := v.policy.RequiredFee(v.cfg.BlockSizeMB, tx.Class, volume[tx.Class], tx.Size())
		if tx.Fee < required {
			err := database.NewMismatchError(database.KindEconomic, "block", "tx fee below required minimum", required, tx.Fee)
			report.Skipped[tx.ID] = err

			v.ev("chain: ValidateBlock: blk[%d]: skipped: tx[%s]: %s", height, tx.Ref(), err)
			continue
		}

		for _, prev := range prevs {
			consumed[prev] = tx.ID
			delete(created, prev)
		}
		for i, out := range tx.Outputs {
			created[tx.OutPoint(i)] = out
		}

		if report.Fees+tx.Fee < report.Fees {
			return Report{}, database.NewStructuralError("block", "fee total overflows")
		}
		report.Fees += tx.Fee
		report.Accepted++
	}

	v.ev("chain: ValidateBlock: blk[%d]: check: coinbase value is within reward plus fees", height)

	allowed := v.cfg.BaseReward + report.Fees
	if allowed < report.Fees {
		return Report{}, database.NewStructuralError("block", "reward plus fees overflows")
	}

	if cb.Outputs[0].Amount > allowed {
		return Report{}, database.NewMismatchError(database.KindConsistency, "block", "coinbase exceeds reward plus fees", allowed, cb.Outputs[0].Amount)
	}

	return report, nil
}

// resolve finds the amount and owner of an output either in the block or in
// the confirmed set.
func (v *Validator) resolve(id database.OutPoint, created map[database.OutPoint]database.Output, height uint64) (database.Amount, common.Address, error) {
	if out, exists := created[id]; exists {
		return out.Amount, out.Owner, nil
	}

	uo, exists := v.utxos.Get(id)
	if !exists {
		return 0, common.Address{}, database.NewConsistencyError("block", "output %s does not exist", id)
	}

	if uo.Locked {
		return 0, common.Address{}, database.NewConsistencyError("block", "output %s is locked", id)
	}

	if matures := uo.MaturesAt(v.cfg.CoinbaseMaturity); matures > height {
		return 0, common.Address{}, database.NewMismatchError(database.KindConsistency, "block", "coinbase output "+id.String()+" is immature", matures, height)
	}

	return uo.Amount, uo.Owner, nil
}
