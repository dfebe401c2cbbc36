package private

import "github.com/ardanlabs/ledger/foundation/blockchain/database"

// outcomeRefund resolves a dispute by refunding the transaction. Any other
// outcome returns it to the pool.
const outcomeRefund = "refund"

type status struct {
	Status string        `json:"status"`
	Height uint64        `json:"height,omitempty"`
	ID     database.Hash `json:"id,omitzero"`
}

type mining struct {
	Mining bool `json:"mining"`
}

type resolve struct {
	Outcome string `json:"outcome" validate:"required,oneof=refund requeue"`
}

type outPoint struct {
	OutPoint string `json:"outpoint" validate:"required"`
}

type lockStatus struct {
	OutPoint string `json:"outpoint"`
	Locked   bool   `json:"locked"`
}
