// Package state is the core API for the ledger and implements all the
// business rules and processing.
package state

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/chain"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/fee"
	"github.com/ardanlabs/ledger/foundation/blockchain/genesis"
	"github.com/ardanlabs/ledger/foundation/blockchain/mempool"
	"github.com/ardanlabs/ledger/foundation/blockchain/utxo"
	"github.com/ethereum/go-ethereum/common"
)

// =============================================================================

// EventHandler defines a function that is called when events
// occur in the processing of persisting blocks.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for mining and mempool maintenance.
type Worker interface {
	Shutdown()
	SignalStartMining()
	SignalCancelMining()
}

// =============================================================================

// Config represents the configuration required to start the ledger node.
type Config struct {
	Genesis         genesis.Genesis
	MinerAddress    common.Address
	Serializer      database.Serializer
	SelectStrategy  string
	MempoolCapacity int
	MempoolTTL      time.Duration
	EvictionFloor   float64
	VerifyUnlock    bool
	Mining          bool
	Resolver        mempool.Resolver
	EvHandler       EventHandler
}

// State manages the ledger. The chain mutex serializes block acceptance.
// Submissions take it for reading so admission never interleaves with a
// block being applied.
type State struct {
	mu sync.RWMutex

	minerAddress common.Address
	evHandler    EventHandler
	genesis      genesis.Genesis
	difficulty   *big.Int
	preempt      atomic.Bool
	mining       atomic.Bool

	db         *database.Database
	utxos      *utxo.Set
	policy     *fee.Policy
	mempool    *mempool.Mempool
	validator  *chain.Validator
	retargeter *chain.Retargeter

	Worker Worker
}

// New constructs the ledger, reloading the chain from storage or mining the
// genesis block when storage is empty.
func New(cfg Config) (*State, error) {
	initPrometheusMetrics()

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	g := cfg.Genesis
	if err := g.Validate(); err != nil {
		return nil, err
	}

	shares, err := g.Shares()
	if err != nil {
		return nil, err
	}

	utxos := utxo.New()

	policy := fee.New(fee.Config{
		MinFee:    database.Amount(g.MinFee),
		MaxSupply: database.Amount(g.MaxSupply),
	})

	mp, err := mempool.New(utxos, policy, mempool.Config{
		CapacityBytes:    cfg.MempoolCapacity,
		ClassShares:      shares,
		TTL:              cfg.MempoolTTL,
		EvictionFloor:    cfg.EvictionFloor,
		BlockSizeMB:      g.BlockSizeMB,
		CoinbaseMaturity: g.CoinbaseMaturity,
		SelectStrategy:   cfg.SelectStrategy,
		VerifyUnlock:     cfg.VerifyUnlock,
		Resolver:         cfg.Resolver,
		EvHandler:        ev,
	})
	if err != nil {
		return nil, err
	}

	validator := chain.NewValidator(utxos, policy, chain.Config{
		BlockSizeMB:      g.BlockSizeMB,
		BaseReward:       database.Amount(g.MiningReward),
		CoinbaseMaturity: g.CoinbaseMaturity,
		VerifyUnlock:     cfg.VerifyUnlock,
		EvHandler:        ev,
	})

	minDifficulty, maxDifficulty := g.DifficultyBounds()
	retargeter := chain.NewRetargeter(chain.RetargetConfig{
		Interval:      g.RetargetInterval,
		TargetBlockMS: g.TargetBlockMS,
		MinDifficulty: minDifficulty,
		MaxDifficulty: maxDifficulty,
	})

	s := State{
		minerAddress: cfg.MinerAddress,
		evHandler:    ev,
		genesis:      g,
		difficulty:   g.StartDifficulty(),

		db:         database.New(cfg.Serializer),
		utxos:      utxos,
		policy:     policy,
		mempool:    mp,
		validator:  validator,
		retargeter: retargeter,
	}
	s.mining.Store(cfg.Mining)

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.

	if err := s.load(); err != nil {
		return nil, err
	}

	if _, exists := s.db.LatestBlock(); !exists {
		if err := s.mineGenesis(); err != nil {
			return nil, err
		}
	}

	return &s, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	// Stop all blockchain writing activity.
	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	// Make sure the database is properly closed.
	return s.db.Close()
}

// Truncate resets the chain both in storage and in memory and mines a new
// genesis block.
func (s *State) Truncate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evHandler("state: Truncate: resetting the chain")

	s.preempt.Store(true)
	s.mempool.Truncate()
	s.utxos.Reset()
	s.policy.Treasury().Reset()
	s.difficulty = s.genesis.StartDifficulty()

	if err := s.db.Reset(); err != nil {
		return err
	}

	return s.mineGenesisLocked()
}

// IsMiningAllowed reports whether the node mines blocks.
func (s *State) IsMiningAllowed() bool {
	return s.mining.Load()
}

// SetMining turns mining on or off.
func (s *State) SetMining(allowed bool) {
	s.mining.Store(allowed)

	if s.Worker == nil {
		return
	}

	if allowed {
		s.Worker.SignalStartMining()
		return
	}
	s.Worker.SignalCancelMining()
}

// Genesis returns a copy of the genesis information.
func (s *State) Genesis() genesis.Genesis {
	return s.genesis
}

// MinerAddress returns the account receiving the rewards of mined blocks.
func (s *State) MinerAddress() common.Address {
	return s.minerAddress
}

// =============================================================================

// load replays every stored block through validation so the UTXO set, the
// treasury and the difficulty are rebuilt.
func (s *State) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Load(func(block database.Block) error {
		s.evHandler("state: load: blk[%d]: replay", block.Header.Height)

		_, err := s.applyBlock(block, false)
		return err
	})
	if err != nil {
		return err
	}

	meta, exists, err := s.db.StoredMeta()
	if err != nil {
		return err
	}

	if exists && meta.Difficulty != nil && meta.Difficulty.Cmp(s.difficulty) != 0 {
		s.evHandler("state: load: WARNING: stored difficulty[%s] differs from replay[%s]", meta.Difficulty, s.difficulty)
	}

	if latest, exists := s.db.LatestBlock(); exists {
		prometheusBlockHeight.Set(float64(latest.Header.Height))
		s.evHandler("state: load: blk[%d]: chain reloaded", latest.Header.Height)
	}

	return nil
}

func (s *State) mineGenesis() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mineGenesisLocked()
}

// mineGenesisLocked builds the genesis block paying the reward to the
// genesis miner. The caller must hold the chain mutex.
func (s *State) mineGenesisLocked() error {
	g := s.genesis

	s.evHandler("state: genesis: mining the genesis block")

	cb := database.NewCoinbase(g.MinerAddress(), database.Amount(g.MiningReward), uint64(g.Date.UTC().UnixNano()))

	candidate, err := database.NewBlock(database.NewBlockArgs{
		Version:      g.Version,
		MinerAddress: g.MinerAddress(),
		Difficulty:   s.difficulty,
		Transactions: []database.Transaction{cb},
	})
	if err != nil {
		return err
	}

	block, err := database.POW(context.Background(), candidate, nil, s.evHandler)
	if err != nil {
		return err
	}

	_, err = s.applyBlock(block, true)
	return err
}
