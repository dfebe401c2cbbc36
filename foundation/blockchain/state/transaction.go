package state

import (
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/mempool"
)

// SubmitTransaction accepts a transaction from a wallet for inclusion. The
// chain mutex is held for reading so a block can't be applied while the
// transaction's inputs are checked.
func (s *State) SubmitTransaction(tx database.Transaction) (mempool.Result, error) {
	s.evHandler("state: SubmitTransaction: started: tx[%s]", tx.Ref())
	defer s.evHandler("state: SubmitTransaction: completed")

	s.mu.RLock()
	res, err := s.mempool.Add(tx)
	s.mu.RUnlock()

	if err != nil {
		prometheusMempoolRejected.WithLabelValues(database.KindOf(err).String()).Inc()
		s.evHandler("state: SubmitTransaction: tx[%s]: REJECTED: %s", tx.Ref(), err)
		return mempool.Result{}, err
	}

	prometheusMempoolAdmitted.WithLabelValues(tx.Class.String()).Inc()
	prometheusMempoolEvicted.Add(float64(len(res.Evicted)))
	s.poolMetrics()

	if s.Worker != nil && s.IsMiningAllowed() {
		s.Worker.SignalStartMining()
	}

	return res, nil
}

// Rebroadcast raises the priority bid of a pooled transaction by the factor
// and returns the new bid.
func (s *State) Rebroadcast(id database.Hash, factor float64) (database.Amount, error) {
	return s.mempool.Rebroadcast(id, factor)
}

// Dispute moves a transaction that has waited past the TTL to the off-chain
// resolver.
func (s *State) Dispute(id database.Hash) error {
	return s.mempool.TriggerDispute(id, time.Now())
}

// Resolve closes a dispute, either refunding the transaction or returning it
// to the pool.
func (s *State) Resolve(id database.Hash, refund bool) error {
	if err := s.mempool.ResolveDispute(id, refund); err != nil {
		return err
	}

	s.poolMetrics()
	return nil
}

// LockOutput stops the confirmed output from being spent.
func (s *State) LockOutput(id database.OutPoint) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.utxos.Lock(id)
}

// UnlockOutput allows the confirmed output to be spent again.
func (s *State) UnlockOutput(id database.OutPoint) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.utxos.Unlock(id)
}

// SweepExpired removes the pending transactions that outlived the TTL.
func (s *State) SweepExpired() []database.Hash {
	removed := s.mempool.SweepExpired(time.Now())
	if len(removed) == 0 {
		return nil
	}

	prometheusMempoolExpired.Add(float64(len(removed)))
	s.poolMetrics()

	s.evHandler("state: SweepExpired: removed[%d]", len(removed))

	return removed
}

// =============================================================================

func (s *State) poolMetrics() {
	prometheusMempoolSize.Set(float64(s.mempool.Count()))
	prometheusMempoolBytes.Set(float64(s.mempool.Bytes()))
}
