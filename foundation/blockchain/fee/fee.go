// Package fee computes the minimum fee a transaction must pay given the
// congestion of its payment class, and splits collected fees between the
// miner and the treasury.
package fee

import (
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/shopspring/decimal"
)

// Level represents how congested a payment class is.
type Level int

// Set of congestion levels.
const (
	LevelLow Level = iota
	LevelModerate
	LevelHigh
)

// String implements the fmt.Stringer interface.
func (l Level) String() string {
	switch l {
	case LevelModerate:
		return "moderate"
	case LevelHigh:
		return "high"
	}
	return "low"
}

// =============================================================================

// feePerByte is the price of a byte per congestion level and class.
var feePerByte = map[Level]map[database.Class]database.Amount{
	LevelLow:      {database.ClassStandard: 1, database.ClassSmartContract: 2, database.ClassInstant: 3},
	LevelModerate: {database.ClassStandard: 2, database.ClassSmartContract: 4, database.ClassInstant: 6},
	LevelHigh:     {database.ClassStandard: 4, database.ClassSmartContract: 8, database.ClassInstant: 12},
}

// taxRate is the share of a fee routed to the treasury per congestion level.
var taxRate = map[Level]decimal.Decimal{
	LevelLow:      decimal.RequireFromString("0.05"),
	LevelModerate: decimal.RequireFromString("0.03"),
	LevelHigh:     decimal.RequireFromString("0.01"),
}

// anchor holds the competing volume thresholds for a block size.
type anchor struct {
	sizeMB   float64
	moderate float64
	high     float64
}

// anchors are the thresholds per class at the tabulated block sizes, in
// ascending size order.
var anchors = map[database.Class][]anchor{
	database.ClassStandard: {
		{sizeMB: 1, moderate: 20, high: 50},
		{sizeMB: 2, moderate: 40, high: 100},
		{sizeMB: 4, moderate: 80, high: 200},
		{sizeMB: 8, moderate: 160, high: 400},
	},
	database.ClassSmartContract: {
		{sizeMB: 1, moderate: 10, high: 25},
		{sizeMB: 2, moderate: 20, high: 50},
		{sizeMB: 4, moderate: 40, high: 100},
		{sizeMB: 8, moderate: 80, high: 200},
	},
	database.ClassInstant: {
		{sizeMB: 1, moderate: 15, high: 40},
		{sizeMB: 2, moderate: 30, high: 80},
		{sizeMB: 4, moderate: 60, high: 160},
		{sizeMB: 8, moderate: 120, high: 320},
	},
}

// =============================================================================

// Config represents the values that tune the policy.
type Config struct {
	MinFee    database.Amount
	MaxSupply database.Amount
}

// Policy computes required fees and tracks the treasury allocation. The
// value is safe for concurrent use.
type Policy struct {
	minFee   database.Amount
	treasury *Treasury
}

// New constructs a policy for the specified configuration.
func New(cfg Config) *Policy {
	return &Policy{
		minFee:   cfg.MinFee,
		treasury: NewTreasury(cfg.MaxSupply),
	}
}

// MinFee returns the floor applied to every non-coinbase fee.
func (p *Policy) MinFee() database.Amount {
	return p.minFee
}

// Treasury returns the treasury allocator.
func (p *Policy) Treasury() *Treasury {
	return p.treasury
}

// Congestion picks the level for a class by comparing the competing volume
// with the thresholds for the block size.
func (p *Policy) Congestion(blockSizeMB float64, class database.Class, competingVolume int) Level {
	table, exists := anchors[class]
	if !exists {
		return LevelLow
	}

	moderate, high := thresholds(table, blockSizeMB)
	volume := float64(competingVolume)

	switch {
	case volume >= high:
		return LevelHigh
	case volume >= moderate:
		return LevelModerate
	}
	return LevelLow
}

// RequiredFee returns the minimum fee for a transaction of the specified
// class and size. A coinbase requires nothing.
func (p *Policy) RequiredFee(blockSizeMB float64, class database.Class, competingVolume int, txSize int) database.Amount {
	if class == database.ClassCoinbase {
		return 0
	}

	level := p.Congestion(blockSizeMB, class, competingVolume)

	rate, exists := feePerByte[level][class]
	if !exists {
		rate = feePerByte[level][database.ClassStandard]
	}

	fee := rate * database.Amount(max(txSize, 0))
	return max(fee, p.minFee)
}

// TaxAndAllocation computes the treasury tax on a fee for the congestion
// level and allocates it. Any tax the treasury can't accept stays with the
// miner.
func (p *Policy) TaxAndAllocation(fee database.Amount, level Level) (tax database.Amount, minerNet database.Amount) {
	rate, exists := taxRate[level]
	if !exists {
		rate = taxRate[LevelLow]
	}

	computed := decimal.NewFromUint64(uint64(fee)).Mul(rate).Floor()
	tax = p.treasury.Allocate(database.Amount(computed.BigInt().Uint64()))

	return tax, fee - tax
}

// =============================================================================

// thresholds interpolates linearly between the anchors that surround the
// block size and clamps outside the table.
func thresholds(table []anchor, sizeMB float64) (moderate float64, high float64) {
	first, last := table[0], table[len(table)-1]

	switch {
	case sizeMB <= first.sizeMB:
		return first.moderate, first.high
	case sizeMB >= last.sizeMB:
		return last.moderate, last.high
	}

	for i := 1; i < len(table); i++ {
		lo, hi := table[i-1], table[i]
		if sizeMB > hi.sizeMB {
			continue
		}

		t := (sizeMB - lo.sizeMB) / (hi.sizeMB - lo.sizeMB)
		return lo.moderate + t*(hi.moderate-lo.moderate), lo.high + t*(hi.high-lo.high)
	}

	return last.moderate, last.high
}
