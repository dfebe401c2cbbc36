// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/common"
)

// Genesis represents the genesis file.
type Genesis struct {
	Date             time.Time      `json:"date"`
	ChainID          uint16         `json:"chain_id"`          // The chain id represents an unique id for this running instance.
	Version          uint32         `json:"version"`           // Block format version written into every header.
	Difficulty       uint64         `json:"difficulty"`        // Starting difficulty, the target is 2^256-1 divided by this value.
	MinDifficulty    uint64         `json:"min_difficulty"`    // Lowest difficulty a retarget can reach.
	MaxDifficulty    uint64         `json:"max_difficulty"`    // Highest difficulty a retarget can reach, zero is unbounded.
	RetargetInterval uint64         `json:"retarget_interval"` // Number of blocks between difficulty adjustments.
	TargetBlockMS    uint64         `json:"target_block_ms"`   // Expected time between blocks in milliseconds.
	MiningReward     uint64         `json:"mining_reward"`     // Base reward for mining a block.
	MaxSupply        uint64         `json:"max_supply"`        // Total units that can ever exist, used to cap the treasury.
	BlockSizeMB      float64        `json:"block_size_mb"`     // Maximum size of a block.
	MinFee           uint64         `json:"min_fee"`           // Floor applied to every non-coinbase fee.
	CoinbaseMaturity uint64         `json:"coinbase_maturity"` // Blocks before a coinbase output can be spent, zero disables the check.
	Miner            string         `json:"miner"`             // Account receiving the genesis reward.
	ClassShares      map[string]int `json:"class_shares"`      // Percentage of block and pool space per payment class.
}

// Default returns the values used when no genesis file is provided.
func Default() Genesis {
	return Genesis{
		Date:             time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ChainID:          1,
		Version:          1,
		Difficulty:       1 << 12,
		MinDifficulty:    1,
		RetargetInterval: 10,
		TargetBlockMS:    10_000,
		MiningReward:     50 * database.UnitsPerCoin,
		MaxSupply:        21_000_000 * database.UnitsPerCoin,
		BlockSizeMB:      1,
		MinFee:           1_000,
		CoinbaseMaturity: 0,
		Miner:            "0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4",
		ClassShares: map[string]int{
			"instant":        20,
			"standard":       60,
			"smart_contract": 20,
		},
	}
}

// =============================================================================

// Load opens and consumes the genesis file. An empty path returns the
// default values.
func Load(path string) (Genesis, error) {
	if path == "" {
		return Default(), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	err = json.Unmarshal(content, &genesis)
	if err != nil {
		return Genesis{}, err
	}

	if err := genesis.Validate(); err != nil {
		return Genesis{}, fmt.Errorf("genesis %s: %w", path, err)
	}

	return genesis, nil
}

// Validate checks the values are usable.
func (g Genesis) Validate() error {
	if g.Version == 0 {
		return fmt.Errorf("version must be greater than zero")
	}

	if g.Difficulty == 0 {
		return fmt.Errorf("difficulty must be greater than zero")
	}

	if g.MinDifficulty > g.Difficulty {
		return fmt.Errorf("min difficulty %d is above the difficulty %d", g.MinDifficulty, g.Difficulty)
	}

	if g.MaxDifficulty != 0 && g.MaxDifficulty < g.Difficulty {
		return fmt.Errorf("max difficulty %d is below the difficulty %d", g.MaxDifficulty, g.Difficulty)
	}

	if g.RetargetInterval > 0 && g.TargetBlockMS == 0 {
		return fmt.Errorf("target block time is required when retargeting")
	}

	if g.BlockSizeMB <= 0 {
		return fmt.Errorf("block size must be greater than zero")
	}

	if g.MiningReward > g.MaxSupply {
		return fmt.Errorf("mining reward %d is above the max supply %d", g.MiningReward, g.MaxSupply)
	}

	if !common.IsHexAddress(g.Miner) {
		return fmt.Errorf("miner %q is not an address", g.Miner)
	}

	if _, err := g.Shares(); err != nil {
		return err
	}

	return nil
}

// Shares converts the class shares into payment classes.
func (g Genesis) Shares() (map[database.Class]int, error) {
	shares := make(map[database.Class]int, len(g.ClassShares))

	var total int
	for name, share := range g.ClassShares {
		class, err := database.ParseClass(name)
		if err != nil {
			return nil, err
		}

		if class == database.ClassCoinbase {
			return nil, fmt.Errorf("coinbase transactions don't take a share")
		}

		if share < 0 {
			return nil, fmt.Errorf("share for %s is negative", name)
		}

		shares[class] = share
		total += share
	}

	if total > 100 {
		return nil, fmt.Errorf("class shares add up to %d%%", total)
	}

	return shares, nil
}

// MinerAddress returns the genesis miner as an address.
func (g Genesis) MinerAddress() common.Address {
	return common.HexToAddress(g.Miner)
}

// BlockSizeBytes returns the maximum size of a block in bytes.
func (g Genesis) BlockSizeBytes() int {
	return int(g.BlockSizeMB * 1024 * 1024)
}

// StartDifficulty returns the starting difficulty.
func (g Genesis) StartDifficulty() *big.Int {
	return new(big.Int).SetUint64(g.Difficulty)
}

// DifficultyBounds returns the retarget bounds. The maximum is nil when the
// difficulty is unbounded.
func (g Genesis) DifficultyBounds() (minimum *big.Int, maximum *big.Int) {
	minimum = new(big.Int).SetUint64(max(g.MinDifficulty, 1))
	if g.MaxDifficulty != 0 {
		maximum = new(big.Int).SetUint64(g.MaxDifficulty)
	}
	return minimum, maximum
}
