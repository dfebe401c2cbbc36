package fee

import (
	"sync"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/shopspring/decimal"
)

// capShare is the share of the maximum supply the treasury can hold.
var capShare = decimal.RequireFromString("0.04")

// Treasury accumulates the tax collected from fees up to its cap.
type Treasury struct {
	mu    sync.Mutex
	cap   database.Amount
	total database.Amount
}

// NewTreasury constructs a treasury capped at 4% of the maximum supply.
func NewTreasury(maxSupply database.Amount) *Treasury {
	c := decimal.NewFromUint64(uint64(maxSupply)).Mul(capShare).Floor()

	return &Treasury{
		cap: database.Amount(c.BigInt().Uint64()),
	}
}

// Allocate accepts as much of the tax as the remaining headroom allows and
// returns the amount accepted.
func (t *Treasury) Allocate(tax database.Amount) database.Amount {
	t.mu.Lock()
	defer t.mu.Unlock()

	accepted := min(tax, t.cap-t.total)
	t.total += accepted

	return accepted
}

// Total returns the amount allocated so far.
func (t *Treasury) Total() database.Amount {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.total
}

// Cap returns the maximum the treasury can hold.
func (t *Treasury) Cap() database.Amount {
	return t.cap
}

// Reset sets the running total back to zero.
func (t *Treasury) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total = 0
}

// Restore sets the running total to a previously observed value, clamped to
// the cap. It is used to undo allocations when a block can't be stored.
func (t *Treasury) Restore(total database.Amount) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total = min(total, t.cap)
}
