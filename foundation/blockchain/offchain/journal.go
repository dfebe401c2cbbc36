// Package offchain records the settlement requests the mempool hands to the
// off-chain resolver.
package offchain

import (
	"sort"
	"sync"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/common"
)

// Set of actions recorded in the journal.
const (
	ActionRegister    = "register"
	ActionRefund      = "refund"
	ActionRebroadcast = "rebroadcast"
)

// Record is one call made to the resolver.
type Record struct {
	Action    string            `json:"action"`
	TxID      database.Hash     `json:"tx_id"`
	ParentID  database.Hash     `json:"parent_id"`
	OutputID  database.OutPoint `json:"output_id"`
	Sender    common.Address    `json:"sender"`
	Recipient common.Address    `json:"recipient"`
	Amount    database.Amount   `json:"amount,omitempty"`
	Fee       database.Amount   `json:"fee"`
	At        time.Time         `json:"at"`
}

// Journal is the shipped resolver. It keeps every call in memory and reports
// it through the event handler. This implements the mempool.Resolver
// interface.
type Journal struct {
	mu         sync.RWMutex
	records    []Record
	registered map[database.Hash]Record
	ev         func(v string, args ...any)
	now        func() time.Time
}

// New constructs an empty journal.
func New(evHandler func(v string, args ...any)) *Journal {
	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}

	return &Journal{
		registered: make(map[database.Hash]Record),
		ev:         evHandler,
		now:        time.Now,
	}
}

// RegisterTransaction records a disputed transaction.
func (j *Journal) RegisterTransaction(id database.Hash, parentID database.Hash, outputID database.OutPoint, sender common.Address, recipient common.Address, amount database.Amount, fee database.Amount) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, exists := j.registered[id]; exists {
		return database.NewConsistencyError("offchain", "transaction %s is already registered", id)
	}

	r := Record{
		Action:    ActionRegister,
		TxID:      id,
		ParentID:  parentID,
		OutputID:  outputID,
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Fee:       fee,
		At:        j.now(),
	}

	j.registered[id] = r
	j.records = append(j.records, r)

	j.ev("offchain: RegisterTransaction: tx[%s]: sender[%s]: recipient[%s]: amount[%d]: fee[%d]", id, sender, recipient, amount, fee)

	return nil
}

// RefundTransaction records the refund of a registered transaction.
func (j *Journal) RefundTransaction(id database.Hash) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	reg, exists := j.registered[id]
	if !exists {
		return database.NewConsistencyError("offchain", "transaction %s was never registered", id)
	}
	delete(j.registered, id)

	j.records = append(j.records, Record{
		Action:    ActionRefund,
		TxID:      id,
		Sender:    reg.Sender,
		Recipient: reg.Recipient,
		Amount:    reg.Amount,
		Fee:       reg.Fee,
		At:        j.now(),
	})

	j.ev("offchain: RefundTransaction: tx[%s]: refund[%d] to [%s]", id, reg.Amount+reg.Fee, reg.Sender)

	return nil
}

// RebroadcastTransaction records the new priority bid of a transaction.
func (j *Journal) RebroadcastTransaction(id database.Hash, newFee database.Amount) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.records = append(j.records, Record{
		Action: ActionRebroadcast,
		TxID:   id,
		Fee:    newFee,
		At:     j.now(),
	})

	j.ev("offchain: RebroadcastTransaction: tx[%s]: fee[%d]", id, newFee)

	return nil
}

// Records returns a copy of every recorded call in the order they happened.
func (j *Journal) Records() []Record {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return append([]Record(nil), j.records...)
}

// Registered returns the transactions that are waiting on a settlement.
func (j *Journal) Registered() []Record {
	j.mu.RLock()
	defer j.mu.RUnlock()

	list := make([]Record, 0, len(j.registered))
	for _, r := range j.registered {
		list = append(list, r)
	}

	sort.Slice(list, func(i, k int) bool {
		return list[i].At.Before(list[k].At)
	})

	return list
}
