// Package selector provides different transaction selecting algorithms.
package selector

import (
	"bytes"
	"fmt"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
)

// List of different select strategies.
const (
	StrategyClassAlloc = "classalloc"
	StrategyFeeRate    = "feerate"
)

// Map of different select strategies with functions.
var strategies = map[string]Func{
	StrategyClassAlloc: classAllocSelect,
	StrategyFeeRate:    feeRateSelect,
}

// Candidate is a pooled transaction that is eligible for the next block.
type Candidate struct {
	Tx         database.Transaction
	Size       int
	FeePerByte float64
}

// Func defines a function that takes the eligible candidates and picks the
// transactions for a block whose encoded size must not exceed maxBytes. The
// shares hold the percentage of block space reserved for each class.
type Func func(candidates []Candidate, shares map[database.Class]int, maxBytes int) []database.Transaction

// Retrieve returns the specified select strategy function.
func Retrieve(strategy string) (Func, error) {
	fn, exists := strategies[strategy]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}
	return fn, nil
}

// =============================================================================

// byFeePerByte provides sorting support by the fee paid per byte.
type byFeePerByte []Candidate

// Len returns the number of candidates in the list.
func (bf byFeePerByte) Len() int {
	return len(bf)
}

// Less helps to sort the list by fee per byte in descending order to pick
// the transactions that provide the best reward. Ties go to the older
// transaction and then to the lower id so the order is stable.
func (bf byFeePerByte) Less(i, j int) bool {
	if bf[i].FeePerByte != bf[j].FeePerByte {
		return bf[i].FeePerByte > bf[j].FeePerByte
	}
	if bf[i].Tx.TimeStamp != bf[j].Tx.TimeStamp {
		return bf[i].Tx.TimeStamp < bf[j].Tx.TimeStamp
	}
	return bytes.Compare(bf[i].Tx.ID[:], bf[j].Tx.ID[:]) < 0
}

// Swap moves candidates in the order of the fee per byte.
func (bf byFeePerByte) Swap(i, j int) {
	bf[i], bf[j] = bf[j], bf[i]
}
