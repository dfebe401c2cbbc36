// Package utxo maintains the set of unspent transaction outputs derived from
// the confirmed chain.
package utxo

import (
	"sort"
	"sync"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/common"
)

// UnspentOutput represents an output that can still be consumed.
type UnspentOutput struct {
	ID           database.OutPoint `json:"id"`
	Amount       database.Amount   `json:"amount"`
	Owner        common.Address    `json:"owner"`
	Locked       bool              `json:"locked"`
	OriginHeight uint64            `json:"origin_height"`
	Coinbase     bool              `json:"coinbase"`
}

// MaturesAt returns the first height at which the output may be spent when
// coinbase outputs require the specified number of confirmations.
func (uo UnspentOutput) MaturesAt(maturity uint64) uint64 {
	if !uo.Coinbase {
		return 0
	}
	return uo.OriginHeight + maturity
}

// Undo records what a block application changed so it can be reverted.
type Undo struct {
	Removed []UnspentOutput
	Created []database.OutPoint
}

// =============================================================================

// Set manages the unspent outputs. Consumed ids are remembered so they can
// never be created again.
type Set struct {
	mu      sync.RWMutex
	outputs map[database.OutPoint]UnspentOutput
	spent   map[database.OutPoint]struct{}
}

// New constructs an empty set.
func New() *Set {
	return &Set{
		outputs: make(map[database.OutPoint]UnspentOutput),
		spent:   make(map[database.OutPoint]struct{}),
	}
}

// Get returns the unspent output for the specified id.
func (s *Set) Get(id database.OutPoint) (UnspentOutput, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uo, exists := s.outputs[id]
	return uo, exists
}

// Lock reserves an output for an off-chain process.
func (s *Set) Lock(id database.OutPoint) error {
	return s.setLocked(id, true)
}

// Unlock releases a reservation.
func (s *Set) Unlock(id database.OutPoint) error {
	return s.setLocked(id, false)
}

// ApplyBlock consumes the inputs and inserts the outputs of every
// transaction in the block that isn't listed in skip. Any failure rolls back
// the changes already made.
func (s *Set) ApplyBlock(block database.Block, skip map[database.Hash]struct{}) (Undo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var undo Undo
	height := block.Header.Height

	for _, tx := range block.Transactions() {
		if _, skipped := skip[tx.ID]; skipped {
			continue
		}

		for _, in := range tx.Inputs {
			uo, exists := s.outputs[in.Prev]
			if !exists {
				s.revert(undo)
				return Undo{}, database.NewConsistencyError("utxo", "tx %s spends missing output %s", tx.Ref(), in.Prev)
			}

			delete(s.outputs, in.Prev)
			s.spent[in.Prev] = struct{}{}
			undo.Removed = append(undo.Removed, uo)
		}

		for i, out := range tx.Outputs {
			id := tx.OutPoint(i)

			if _, exists := s.outputs[id]; exists {
				s.revert(undo)
				return Undo{}, database.NewConsistencyError("utxo", "output %s already exists", id)
			}
			if _, consumed := s.spent[id]; consumed {
				s.revert(undo)
				return Undo{}, database.NewConsistencyError("utxo", "output %s was already consumed", id)
			}

			s.outputs[id] = UnspentOutput{
				ID:           id,
				Amount:       out.Amount,
				Owner:        out.Owner,
				OriginHeight: height,
				Coinbase:     tx.IsCoinbase(),
			}
			undo.Created = append(undo.Created, id)
		}
	}

	return undo, nil
}

// Revert restores the state captured by the undo record.
func (s *Set) Revert(undo Undo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.revert(undo)
}

// Count returns the number of unspent outputs.
func (s *Set) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.outputs)
}

// Total returns the sum of every unspent output.
func (s *Set) Total() database.Amount {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total database.Amount
	for _, uo := range s.outputs {
		total += uo.Amount
	}
	return total
}

// ByOwner returns the unspent outputs held by the owner ordered by height.
func (s *Set) ByOwner(owner common.Address) []UnspentOutput {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []UnspentOutput
	for _, uo := range s.outputs {
		if uo.Owner == owner {
			list = append(list, uo)
		}
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].OriginHeight != list[j].OriginHeight {
			return list[i].OriginHeight < list[j].OriginHeight
		}
		return list[i].ID.String() < list[j].ID.String()
	})

	return list
}

// Reset removes every output and forgets consumed ids.
func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outputs = make(map[database.OutPoint]UnspentOutput)
	s.spent = make(map[database.OutPoint]struct{})
}

// =============================================================================

func (s *Set) setLocked(id database.OutPoint, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	uo, exists := s.outputs[id]
	if !exists {
		return database.NewConsistencyError("utxo", "output %s not found", id)
	}

	if uo.Locked == locked {
		return database.NewMismatchError(database.KindConsistency, "utxo", "output lock state unchanged", !locked, uo.Locked)
	}

	uo.Locked = locked
	s.outputs[id] = uo

	return nil
}

// revert restores the removed outputs before deleting the created ones, so an
// output created and consumed inside the same block ends up absent. The
// caller must hold the lock.
func (s *Set) revert(undo Undo) {
	for i := len(undo.Removed) - 1; i >= 0; i-- {
		uo := undo.Removed[i]
		delete(s.spent, uo.ID)
		s.outputs[uo.ID] = uo
	}

	for i := len(undo.Created) - 1; i >= 0; i-- {
		delete(s.outputs, undo.Created[i])
	}
}
