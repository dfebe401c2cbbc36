package chain

import (
	"math/big"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/shopspring/decimal"
)

// Bounds on how far a single retarget can move the difficulty.
var (
	minFactor = decimal.RequireFromString("0.25")
	maxFactor = decimal.NewFromInt(4)
)

// RetargetConfig represents the values that drive difficulty adjustment.
type RetargetConfig struct {
	Interval      uint64   // Number of blocks between adjustments.
	TargetBlockMS uint64   // Expected time between blocks in milliseconds.
	MinDifficulty *big.Int // Nil means 1.
	MaxDifficulty *big.Int // Nil means unbounded.
}

// RetargetResult describes a difficulty adjustment.
type RetargetResult struct {
	ActualMS   uint64          `json:"actual_ms"`
	ExpectedMS uint64          `json:"expected_ms"`
	Factor     decimal.Decimal `json:"factor"`
	Previous   *big.Int        `json:"previous"`
	Difficulty *big.Int        `json:"difficulty"`
}

// Changed reports whether the difficulty moved.
func (r RetargetResult) Changed() bool {
	return r.Previous.Cmp(r.Difficulty) != 0
}

// =============================================================================

// Retargeter recomputes the difficulty from the time the last window of
// blocks took to mine.
type Retargeter struct {
	cfg RetargetConfig
}

// NewRetargeter constructs a retargeter for the specified configuration.
func NewRetargeter(cfg RetargetConfig) *Retargeter {
	return &Retargeter{cfg: cfg}
}

// Interval returns the number of blocks between adjustments.
func (r *Retargeter) Interval() uint64 {
	return r.cfg.Interval
}

// Due reports whether the block at the specified height closes a window.
func (r *Retargeter) Due(height uint64) bool {
	return r.cfg.Interval > 0 && height > 0 && height%r.cfg.Interval == 0
}

// Retarget computes the new difficulty from a window of Interval+1 headers
// in height order. Only the last Interval+1 headers are used.
func (r *Retargeter) Retarget(window []database.BlockHeader, current *big.Int) (RetargetResult, error) {
	n := r.cfg.Interval
	if n == 0 {
		return RetargetResult{}, database.NewStructuralError("retarget", "interval must be greater than zero")
	}

	if uint64(len(window)) < n+1 {
		return RetargetResult{}, database.NewMismatchError(database.KindStructural, "retarget", "window is too short", n+1, len(window))
	}

	last := window[len(window)-1]
	first := window[uint64(len(window)-1)-n]

	var actual uint64 = 1
	if last.TimeStamp > first.TimeStamp {
		actual = last.TimeStamp - first.TimeStamp
	}
	expected := n * r.cfg.TargetBlockMS

	factor := decimal.NewFromUint64(expected).Div(decimal.NewFromUint64(actual))
	switch {
	case factor.LessThan(minFactor):
		factor = minFactor
	case factor.GreaterThan(maxFactor):
		factor = maxFactor
	}

	next := decimal.NewFromBigInt(current, 0).Mul(factor).Floor().BigInt()
	next = r.clamp(next)

	res := RetargetResult{
		ActualMS:   actual,
		ExpectedMS: expected,
		Factor:     factor,
		Previous:   new(big.Int).Set(current),
		Difficulty: next,
	}

	return res, nil
}

func (r *Retargeter) clamp(difficulty *big.Int) *big.Int {
	minimum := big.NewInt(1)
	if r.cfg.MinDifficulty != nil && r.cfg.MinDifficulty.Cmp(minimum) > 0 {
		minimum = r.cfg.MinDifficulty
	}

	if difficulty.Cmp(minimum) < 0 {
		return new(big.Int).Set(minimum)
	}

	if r.cfg.MaxDifficulty != nil && difficulty.Cmp(r.cfg.MaxDifficulty) > 0 {
		return new(big.Int).Set(r.cfg.MaxDifficulty)
	}

	if difficulty.Cmp(database.PowLimit) > 0 {
		return new(big.Int).Set(database.PowLimit)
	}

	return difficulty
}
