package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/chain"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/common"
)

// blockOverhead is the space held back from selection for the header, the
// coinbase and the length prefix of every transaction record.
const blockOverhead = 4096

// =============================================================================

// AssembleCandidate selects the best transactions from the mempool and builds
// the next block for the miner. The nonce is left for POW to find.
func (s *State) AssembleCandidate(miner common.Address) (database.Block, error) {
	s.mu.RLock()
	parent, exists := s.db.LatestBlock()
	difficulty := s.difficulty
	s.mu.RUnlock()

	if !exists {
		return database.Block{}, database.NewConsistencyError("state", "no genesis block to build on")
	}

	height := parent.Header.Height + 1
	maxBytes := max(s.genesis.BlockSizeBytes()-blockOverhead, 0)

	s.evHandler("state: AssembleCandidate: blk[%d]: select transactions: maxBytes[%d]", height, maxBytes)

	txs := s.affordable(s.mempool.SelectForBlock(maxBytes, height))
	if len(txs) == 0 {
		return database.Block{}, database.ErrNoTransactions
	}

	var fees database.Amount
	for _, tx := range txs {
		fees += tx.Fee
	}

	reward := database.Amount(s.genesis.MiningReward)
	cb := database.NewCoinbase(miner, reward+fees, uint64(time.Now().UTC().UnixNano()))

	trans := make([]database.Transaction, 0, len(txs)+1)
	trans = append(trans, cb)
	trans = append(trans, txs...)

	s.evHandler("state: AssembleCandidate: blk[%d]: txs[%d]: fees[%d]", height, len(txs), fees)

	return database.NewBlock(database.NewBlockArgs{
		Version:      s.genesis.Version,
		Parent:       &parent,
		MinerAddress: miner,
		Difficulty:   difficulty,
		Transactions: trans,
	})
}

// MineNewBlock attempts to create a new block with a proper hash that can become
// the next block in the chain.
func (s *State) MineNewBlock(ctx context.Context) (database.Block, error) {
	s.evHandler("state: MineNewBlock: MINING: assemble candidate")

	// Any block accepted from here on makes this attempt stale.
	s.preempt.Store(false)

	candidate, err := s.AssembleCandidate(s.minerAddress)
	if err != nil {
		return database.Block{}, err
	}

	s.evHandler("state: MineNewBlock: MINING: perform POW")

	// Attempt to create a new block by solving the POW puzzle. This can be
	// cancelled or preempted.
	start := time.Now()
	block, err := database.POW(ctx, candidate, &s.preempt, s.evHandler)
	if err != nil {
		if errors.Is(err, database.ErrMiningPreempted) {
			prometheusMiningPreempted.Inc()
		}
		return database.Block{}, err
	}
	prometheusMiningDuration.Observe(time.Since(start).Seconds())

	// Just check one more time we were not cancelled.
	if ctx.Err() != nil {
		return database.Block{}, ctx.Err()
	}

	s.evHandler("state: MineNewBlock: MINING: validate and update database")

	if err := s.acceptBlock(block); err != nil {
		return database.Block{}, err
	}

	return block, nil
}

// ProcessProposedBlock takes a block produced outside the local miner,
// validates it and if that passes, adds the block to the local chain.
func (s *State) ProcessProposedBlock(block database.Block) error {
	s.evHandler("state: ProcessProposedBlock: started: prevBlk[%s]: newBlk[%s]: numTrans[%d]", block.Header.PrevBlockHash, block.BlockHash, len(block.Transactions()))
	defer s.evHandler("state: ProcessProposedBlock: completed: newBlk[%s]", block.BlockHash)

	if err := s.acceptBlock(block); err != nil {
		return err
	}

	// The accepted block preempted any running attempt. Restart mining if
	// there is still work in the pool.
	if s.Worker != nil && s.IsMiningAllowed() && s.mempool.Count() > 0 {
		s.Worker.SignalStartMining()
	}

	return nil
}

// =============================================================================

// acceptBlock validates the block against the tip of the chain, applies it
// to the UTXO set, persists it and then updates the mempool.
func (s *State) acceptBlock(block database.Block) error {
	s.mu.Lock()
	report, err := s.applyBlock(block, true)
	s.mu.Unlock()

	if err != nil {
		prometheusBlocksRejected.WithLabelValues(database.KindOf(err).String()).Inc()
		s.evHandler("state: acceptBlock: blk[%d]: REJECTED: %s", block.Header.Height, err)
		return err
	}

	s.evHandler("state: acceptBlock: blk[%d]: update mempool", block.Header.Height)

	removed := s.mempool.Confirm(block, report.SkipSet())

	prometheusBlocksAccepted.Inc()
	prometheusBlockHeight.Set(float64(block.Header.Height))
	prometheusBlockTransactions.Observe(float64(report.Accepted))
	s.poolMetrics()

	// Tell a running miner it lost the race.
	s.preempt.Store(true)

	s.evHandler("state: acceptBlock: blk[%d]: accepted: txs[%d]: skipped[%d]: removed[%d]", block.Header.Height, report.Accepted, len(report.Skipped), len(removed))

	// Send an event about this new block.
	s.blockEvent(block)

	return nil
}

// applyBlock validates the block against the tip of the chain and applies its
// effects to the UTXO set, the treasury and the difficulty. When persist is
// set the block is written to storage and every in memory change is undone if
// the write fails. The caller must hold the chain mutex.
func (s *State) applyBlock(block database.Block, persist bool) (chain.Report, error) {
	height := block.Header.Height

	var parent *database.Block
	if latest, exists := s.db.LatestBlock(); exists {
		parent = &latest
	}

	s.evHandler("state: applyBlock: blk[%d]: validate block", height)

	report, err := s.validator.ValidateBlock(block, parent, s.difficulty)
	if err != nil {
		return chain.Report{}, err
	}

	s.evHandler("state: applyBlock: blk[%d]: apply to unspent outputs", height)

	skip := report.SkipSet()

	undo, err := s.utxos.ApplyBlock(block, skip)
	if err != nil {
		return chain.Report{}, err
	}

	treasury := s.policy.Treasury()
	prevTreasury := treasury.Total()
	s.allocateTax(block, skip)

	next, err := s.retarget(block)
	if err != nil {
		s.utxos.Revert(undo)
		treasury.Restore(prevTreasury)
		return chain.Report{}, err
	}

	if persist {
		s.evHandler("state: applyBlock: blk[%d]: write to disk", height)

		meta := database.Meta{
			Height:     height,
			Difficulty: next,
			Treasury:   treasury.Total(),
		}

		if err := s.db.Write(block, meta); err != nil {
			s.evHandler("state: applyBlock: blk[%d]: ERROR: %s: reverting", height, err)

			s.utxos.Revert(undo)
			treasury.Restore(prevTreasury)
			return chain.Report{}, err
		}
	}

	s.difficulty = next
	prometheusTreasuryTotal.Set(float64(treasury.Total()))

	return report, nil
}

// allocateTax routes the treasury tax of every applied transaction fee. The
// congestion level uses the same class volume the validator used.
func (s *State) allocateTax(block database.Block, skip map[database.Hash]struct{}) {
	txs := block.Transactions()
	if len(txs) < 2 {
		return
	}

	volume := make(map[database.Class]int)
	for _, tx := range txs[1:] {
		volume[tx.Class]++
	}

	for _, tx := range txs[1:] {
		if _, skipped := skip[tx.ID]; skipped {
			continue
		}

		level := s.policy.Congestion(s.genesis.BlockSizeMB, tx.Class, volume[tx.Class])
		tax, net := s.policy.TaxAndAllocation(tx.Fee, level)

		s.evHandler("state: allocateTax: blk[%d]: tx[%s]: level[%s]: tax[%d]: miner[%d]", block.Header.Height, tx.Ref(), level, tax, net)
	}
}

// retarget returns the difficulty for the blocks after this one.
func (s *State) retarget(block database.Block) (*big.Int, error) {
	height := block.Header.Height
	if !s.retargeter.Due(height) {
		return s.difficulty, nil
	}

	n := s.retargeter.Interval()
	window := append(s.db.Headers(height-n, height-1), block.Header)

	res, err := s.retargeter.Retarget(window, s.difficulty)
	if err != nil {
		return nil, err
	}

	s.evHandler("state: retarget: blk[%d]: actual[%dms]: expected[%dms]: factor[%s]: difficulty[%s -> %s]", height, res.ActualMS, res.ExpectedMS, res.Factor, res.Previous, res.Difficulty)

	if res.Changed() {
		prometheusDifficultyRetarget.Inc()
	}

	return res.Difficulty, nil
}

// affordable drops transactions whose fee no longer covers the required fee
// once the volume of their class in the block is known. Dropping only lowers
// the volume so one pass is enough.
func (s *State) affordable(txs []database.Transaction) []database.Transaction {
	volume := make(map[database.Class]int)
	for _, tx := range txs {
		volume[tx.Class]++
	}

	out := make([]database.Transaction, 0, len(txs))
	for _, tx := range txs {
		required := s.policy.RequiredFee(s.genesis.BlockSizeMB, tx.Class, volume[tx.Class], tx.Size())
		if tx.Fee < required {
			s.evHandler("state: affordable: tx[%s]: fee[%d] below required[%d]: left in mempool", tx.Ref(), tx.Fee, required)
			continue
		}
		out = append(out, tx)
	}

	return out
}

// blockEvent provides a specific event about a new block in the chain for
// application specific support.
func (s *State) blockEvent(block database.Block) {
	blockHeaderJSON, err := json.Marshal(block.Header)
	if err != nil {
		blockHeaderJSON = []byte(fmt.Sprintf("%q", err.Error()))
	}

	blockTransJSON, err := json.Marshal(block.Transactions())
	if err != nil {
		blockTransJSON = []byte(fmt.Sprintf("%q", err.Error()))
	}

	s.evHandler(`viewer: block: {"hash":%q,"header":%s,"trans":%s}`, block.BlockHash, string(blockHeaderJSON), string(blockTransJSON))
}
