package mempool

import (
	"fmt"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/common"
)

// Status represents where a pooled transaction is in its lifecycle.
type Status int

// Set of entry statuses.
const (
	StatusPending Status = iota
	StatusDisputed
	StatusConfirmed
	StatusRefunded
)

var statusNames = map[Status]string{
	StatusPending:   "pending",
	StatusDisputed:  "disputed",
	StatusConfirmed: "confirmed",
	StatusRefunded:  "refunded",
}

// String implements the fmt.Stringer interface.
func (s Status) String() string {
	if name, exists := statusNames[s]; exists {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText implements the encoding.TextMarshaler interface.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// =============================================================================

// Entry is a transaction held by the mempool along with its priority bid.
type Entry struct {
	Tx              database.Transaction `json:"tx"`
	AdmittedAt      time.Time            `json:"admitted_at"`
	Fee             database.Amount      `json:"fee"`
	FeePerByte      float64              `json:"fee_per_byte"`
	Status          Status               `json:"status"`
	ParentID        database.Hash        `json:"parent_id"`
	ParentConfirmed bool                 `json:"parent_confirmed"`
	ChildIDs        []database.Hash      `json:"child_ids"`
	Senders         []common.Address     `json:"senders"`
	MaturesAt       uint64               `json:"matures_at"`
}

// IsChild reports whether the entry spends the output of a pooled parent.
func (e Entry) IsChild() bool {
	return !e.ParentID.IsZero()
}

// Size returns the encoded size of the transaction.
func (e Entry) Size() int {
	return e.Tx.Size()
}

// copy returns a value that shares no slices with the pooled entry.
func (e *Entry) copy() Entry {
	c := *e
	c.ChildIDs = append([]database.Hash(nil), e.ChildIDs...)
	c.Senders = append([]common.Address(nil), e.Senders...)
	return c
}

func (e *Entry) removeChild(id database.Hash) {
	for i, child := range e.ChildIDs {
		if child == id {
			e.ChildIDs = append(e.ChildIDs[:i], e.ChildIDs[i+1:]...)
			return
		}
	}
}

// Result describes a successful admission.
type Result struct {
	ID      database.Hash   `json:"id"`
	Ref     string          `json:"ref"`
	Child   bool            `json:"child"`
	Evicted []database.Hash `json:"evicted"`
}
