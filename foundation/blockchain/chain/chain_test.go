package chain_test

import (
	"math/big"
	"testing"

	"github.com/ardanlabs/ledger/foundation/blockchain/chain"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/fee"
	"github.com/ardanlabs/ledger/foundation/blockchain/utxo"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

var (
	miner = common.HexToAddress("0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4")
	bob   = common.HexToAddress("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")
)

const reward = 5_000

// =============================================================================

func Test_Genesis(t *testing.T) {
	t.Log("Given the need to validate the genesis block.")
	{
		v, _ := validator(chain.Config{BaseReward: reward})

		testID := 0
		t.Logf("\tTest %d:\tWhen the genesis block only carries the reward output.", testID)
		{
			genesis := block(t, nil, big.NewInt(1), database.NewCoinbase(miner, reward, 1))

			report, err := v.ValidateBlock(genesis, nil, big.NewInt(1))
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould accept the block: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould accept the block.", success, testID)

			if report.Fees != 0 || len(report.Skipped) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould not report any fees: %+v", failed, testID, report)
			}
			t.Logf("\t%s\tTest %d:\tShould not report any fees.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the genesis coinbase pays more than the reward.", testID)
		{
			genesis := block(t, nil, big.NewInt(1), database.NewCoinbase(miner, reward+1, 1))

			if _, err := v.ValidateBlock(genesis, nil, big.NewInt(1)); !database.IsConsistency(err) {
				t.Fatalf("\t%s\tTest %d:\tShould reject the block: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the block.", success, testID)
		}
	}
}

func Test_ValidateBlock(t *testing.T) {
	t.Log("Given the need to validate blocks extending the chain.")
	{
		v, set := validator(chain.Config{BaseReward: reward, BlockSizeMB: 1})

		cb := database.NewCoinbase(miner, reward, 1)
		genesis := block(t, nil, big.NewInt(1), cb)
		if _, err := set.ApplyBlock(genesis, nil); err != nil {
			t.Fatalf("Should be able to apply genesis: %v", err)
		}

		pay := spend(t, cb.OutPoint(0), reward, 1_000)

		testID := 0
		t.Logf("\tTest %d:\tWhen the block is valid.", testID)
		{
			next := block(t, &genesis, big.NewInt(1), database.NewCoinbase(miner, reward+1_000, 2), pay)

			report, err := v.ValidateBlock(next, &genesis, big.NewInt(1))
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould accept the block: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould accept the block.", success, testID)

			if report.Fees != 1_000 || report.Accepted != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould report the fees: %+v", failed, testID, report)
			}
			t.Logf("\t%s\tTest %d:\tShould report the fees.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen a transaction spends an output created earlier in the block.", testID)
		{
			child := spend(t, pay.OutPoint(0), reward-1_000, 500)
			next := block(t, &genesis, big.NewInt(1), database.NewCoinbase(miner, reward+1_500, 2), pay, child)

			report, err := v.ValidateBlock(next, &genesis, big.NewInt(1))
			if err != nil || report.Fees != 1_500 {
				t.Fatalf("\t%s\tTest %d:\tShould accept the block: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould accept the block.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the previous hash is wrong.", testID)
		{
			count, total := set.Count(), set.Total()

			next := block(t, &genesis, big.NewInt(1), database.NewCoinbase(miner, reward+1_000, 2), pay)
			next.Header.PrevBlockHash = database.Hash{1}
			next.BlockHash = next.Hash()

			if _, err := v.ValidateBlock(next, &genesis, big.NewInt(1)); !database.IsConsistency(err) {
				t.Fatalf("\t%s\tTest %d:\tShould reject the block as inconsistent: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the block as inconsistent.", success, testID)

			if set.Count() != count || set.Total() != total {
				t.Fatalf("\t%s\tTest %d:\tShould leave the unspent outputs unchanged.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould leave the unspent outputs unchanged.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen a transaction pays less than the required fee.", testID)
		{
			cheap := spend(t, cb.OutPoint(0), reward, 100)
			next := block(t, &genesis, big.NewInt(1), database.NewCoinbase(miner, reward, 2), cheap)

			report, err := v.ValidateBlock(next, &genesis, big.NewInt(1))
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould accept the block: %v", failed, testID, err)
			}

			if _, exists := report.Skipped[cheap.ID]; !exists || report.Accepted != 0 || report.Fees != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould skip the transaction: %+v", failed, testID, report)
			}
			t.Logf("\t%s\tTest %d:\tShould skip the transaction.", success, testID)

			if !database.IsEconomic(report.Skipped[cheap.ID]) {
				t.Fatalf("\t%s\tTest %d:\tShould record an economic error.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould record an economic error.", success, testID)

			if _, exists := report.SkipSet()[cheap.ID]; !exists {
				t.Fatalf("\t%s\tTest %d:\tShould return the skip set.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould return the skip set.", success, testID)
		}

		second := spend(t, cb.OutPoint(0), reward, 2_000)
		missing := spend(t, database.OutPoint{TxID: database.Hash{7}}, reward, 1_000)

		merkleBad := block(t, &genesis, big.NewInt(1), database.NewCoinbase(miner, reward+1_000, 2), pay)
		merkleBad.Header.MerkleRoot = database.Hash{9}
		merkleBad.BlockHash = merkleBad.Hash()

		hard := new(big.Int).Lsh(big.NewInt(1), 255)

		type table struct {
			name       string
			block      database.Block
			difficulty *big.Int
			check      func(error) bool
		}

		tt := []table{
			{"coinbase above reward plus fees", block(t, &genesis, big.NewInt(1), database.NewCoinbase(miner, reward+1_001, 2), pay), big.NewInt(1), database.IsConsistency},
			{"double spend", block(t, &genesis, big.NewInt(1), database.NewCoinbase(miner, reward, 2), pay, second), big.NewInt(1), database.IsConsistency},
			{"missing input", block(t, &genesis, big.NewInt(1), database.NewCoinbase(miner, reward, 2), missing), big.NewInt(1), database.IsConsistency},
			{"bad merkle root", merkleBad, big.NewInt(1), database.IsConsistency},
			{"different difficulty", block(t, &genesis, big.NewInt(2), database.NewCoinbase(miner, reward, 2)), big.NewInt(1), database.IsConsistency},
			{"unsolved hash", block(t, &genesis, hard, database.NewCoinbase(miner, reward, 2)), hard, database.IsConsistency},
			{"second coinbase", block(t, &genesis, big.NewInt(1), database.NewCoinbase(miner, reward, 2), database.NewCoinbase(bob, 1, 3)), big.NewInt(1), database.IsStructural},
		}

		for _, tst := range tt {
			testID++
			t.Logf("\tTest %d:\tWhen the block has a %s.", testID, tst.name)
			{
				_, err := v.ValidateBlock(tst.block, &genesis, tst.difficulty)
				if err == nil {
					t.Fatalf("\t%s\tTest %d:\tShould reject the block.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould reject the block.", success, testID)

				if !tst.check(err) {
					t.Fatalf("\t%s\tTest %d:\tShould get the right kind of error: %v", failed, testID, err)
				}
				t.Logf("\t%s\tTest %d:\tShould get the right kind of error: %v", success, testID, err)
			}
		}
	}
}

func Test_CoinbaseMaturity(t *testing.T) {
	t.Log("Given the need to hold coinbase outputs until they mature.")
	{
		v, set := validator(chain.Config{BaseReward: reward, BlockSizeMB: 1, CoinbaseMaturity: 100})

		cb := database.NewCoinbase(miner, reward, 1)
		genesis := block(t, nil, big.NewInt(1), cb)
		if _, err := set.ApplyBlock(genesis, nil); err != nil {
			t.Fatalf("Should be able to apply genesis: %v", err)
		}

		testID := 0
		t.Logf("\tTest %d:\tWhen spending the genesis reward at height 1.", testID)
		{
			next := block(t, &genesis, big.NewInt(1), database.NewCoinbase(miner, reward+1_000, 2), spend(t, cb.OutPoint(0), reward, 1_000))

			if _, err := v.ValidateBlock(next, &genesis, big.NewInt(1)); !database.IsConsistency(err) {
				t.Fatalf("\t%s\tTest %d:\tShould reject the block: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the block.", success, testID)
		}
	}
}

func Test_Retarget(t *testing.T) {
	t.Log("Given the need to adjust the difficulty to the block rate.")
	{
		cfg := chain.RetargetConfig{
			Interval:      4,
			TargetBlockMS: 1_000,
		}

		type table struct {
			name     string
			spacing  uint64
			min      int64
			max      int64
			factor   string
			expected int64
		}

		tt := []table{
			{"blocks on time", 1_000, 0, 0, "1", 1_000},
			{"blocks four times too fast", 250, 0, 0, "4", 4_000},
			{"blocks far too fast", 10, 0, 0, "4", 4_000},
			{"blocks twice too slow", 2_000, 0, 0, "0.5", 500},
			{"blocks far too slow", 8_000, 0, 0, "0.25", 250},
			{"a difficulty floor", 8_000, 600, 0, "0.25", 600},
			{"a difficulty ceiling", 250, 0, 2_000, "4", 2_000},
		}

		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen retargeting with %s.", testID, tst.name)
			{
				c := cfg
				if tst.min > 0 {
					c.MinDifficulty = big.NewInt(tst.min)
				}
				if tst.max > 0 {
					c.MaxDifficulty = big.NewInt(tst.max)
				}
				r := chain.NewRetargeter(c)

				res, err := r.Retarget(window(5, tst.spacing), big.NewInt(1_000))
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to retarget: %v", failed, testID, err)
				}
				t.Logf("\t%s\tTest %d:\tShould be able to retarget.", success, testID)

				if !res.Factor.Equal(decimal.RequireFromString(tst.factor)) {
					t.Fatalf("\t%s\tTest %d:\tShould compute factor %s, got %s.", failed, testID, tst.factor, res.Factor)
				}
				t.Logf("\t%s\tTest %d:\tShould compute factor %s.", success, testID, tst.factor)

				if res.Difficulty.Cmp(big.NewInt(tst.expected)) != 0 {
					t.Fatalf("\t%s\tTest %d:\tShould get difficulty %d, got %s.", failed, testID, tst.expected, res.Difficulty)
				}
				t.Logf("\t%s\tTest %d:\tShould get difficulty %d.", success, testID, tst.expected)

				if res.Changed() != (tst.expected != 1_000) {
					t.Fatalf("\t%s\tTest %d:\tShould report whether the difficulty changed.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould report whether the difficulty changed.", success, testID)
			}
		}

		testID := len(tt)
		t.Logf("\tTest %d:\tWhen the window is too short.", testID)
		{
			r := chain.NewRetargeter(cfg)

			if _, err := r.Retarget(window(3, 1_000), big.NewInt(1_000)); !database.IsStructural(err) {
				t.Fatalf("\t%s\tTest %d:\tShould reject the window: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the window.", success, testID)

			if !r.Due(4) || !r.Due(8) || r.Due(0) || r.Due(5) {
				t.Fatalf("\t%s\tTest %d:\tShould only be due at the interval.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould only be due at the interval.", success, testID)
		}
	}
}

// =============================================================================

func validator(cfg chain.Config) (*chain.Validator, *utxo.Set) {
	set := utxo.New()
	policy := fee.New(fee.Config{MinFee: 10, MaxSupply: 21_000_000 * database.UnitsPerCoin})

	return chain.NewValidator(set, policy, cfg), set
}

func spend(t *testing.T, prev database.OutPoint, amount database.Amount, fee database.Amount) database.Transaction {
	tx, err := database.NewTransaction(database.ClassStandard, []database.OutPoint{prev}, []database.Output{{Owner: bob, Amount: amount - fee}}, fee)
	if err != nil {
		t.Fatalf("Should be able to construct a transaction: %v", err)
	}
	return tx
}

func block(t *testing.T, parent *database.Block, difficulty *big.Int, txs ...database.Transaction) database.Block {
	b, err := database.NewBlock(database.NewBlockArgs{
		Version:      1,
		Parent:       parent,
		MinerAddress: miner,
		Difficulty:   difficulty,
		Transactions: txs,
	})
	if err != nil {
		t.Fatalf("Should be able to assemble the block: %v", err)
	}
	b.BlockHash = b.Hash()

	return b
}

func window(n int, spacing uint64) []database.BlockHeader {
	headers := make([]database.BlockHeader, n)
	for i := range headers {
		headers[i] = database.BlockHeader{
			Height:    uint64(i),
			TimeStamp: 1_700_000_000_000 + uint64(i)*spacing,
		}
	}
	return headers
}
