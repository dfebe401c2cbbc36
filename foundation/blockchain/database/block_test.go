package database_test

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func Test_POW(t *testing.T) {
	ev := func(v string, args ...any) {}

	t.Log("Given the need to mine blocks.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen mining a genesis block.", testID)
		{
			genesis := mine(t, testID, nil, big.NewInt(16))

			if genesis.Header.Height != 0 || !genesis.Header.PrevBlockHash.IsZero() {
				t.Fatalf("\t%s\tTest %d:\tShould produce a height 0 block with a zero parent.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould produce a height 0 block with a zero parent.", success, testID)

			if genesis.BlockHash != database.CalculateHash(genesis.Header) || !genesis.IsHashSolved() {
				t.Fatalf("\t%s\tTest %d:\tShould produce a hash that solves the target.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould produce a hash that solves the target.", success, testID)

			if database.CalculateHash(genesis.Header) != database.CalculateHash(genesis.Header) {
				t.Fatalf("\t%s\tTest %d:\tShould recompute the same hash.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould recompute the same hash.", success, testID)

			next := mine(t, testID, &genesis, big.NewInt(16))
			if next.Header.Height != 1 || next.Header.PrevBlockHash != genesis.BlockHash {
				t.Fatalf("\t%s\tTest %d:\tShould link the next block to its parent.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould link the next block to its parent.", success, testID)

			if next.Header.TimeStamp < genesis.Header.TimeStamp {
				t.Fatalf("\t%s\tTest %d:\tShould not move time backwards.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not move time backwards.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen mining is preempted.", testID)
		{
			candidate := candidate(t, testID, nil, new(big.Int).Set(database.PowLimit))

			var preempt atomic.Bool
			preempt.Store(true)

			if _, err := database.POW(context.Background(), candidate, &preempt, ev); !errors.Is(err, database.ErrMiningPreempted) {
				t.Fatalf("\t%s\tTest %d:\tShould abort with the preempted error: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould abort with the preempted error.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen mining is cancelled.", testID)
		{
			candidate := candidate(t, testID, nil, new(big.Int).Set(database.PowLimit))

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			if _, err := database.POW(ctx, candidate, nil, ev); !errors.Is(err, context.Canceled) {
				t.Fatalf("\t%s\tTest %d:\tShould abort with the context error: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould abort with the context error.", success, testID)
		}
	}
}

func Test_BlockCodec(t *testing.T) {
	t.Log("Given the need to encode blocks into records.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen handling a block with payments.", testID)
		{
			pk, err := crypto.HexToECDSA(pkHexKey)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to generate a private key: %v", failed, testID, err)
			}

			genesis := mine(t, testID, nil, big.NewInt(4))

			tx, err := database.NewTransaction(database.ClassSmartContract, []database.OutPoint{genesis.Transactions()[0].OutPoint(0)}, []database.Output{{Owner: common.HexToAddress(to), Amount: 1000}}, 250)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct a transaction: %v", failed, testID, err)
			}
			tx, err = tx.Sign(pk)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to sign a transaction: %v", failed, testID, err)
			}

			cb := database.NewCoinbase(common.HexToAddress(from), 5000+250, 2)
			nb, err := database.NewBlock(database.NewBlockArgs{
				Version:      1,
				Parent:       &genesis,
				MinerAddress: common.HexToAddress(from),
				Difficulty:   big.NewInt(4),
				Transactions: []database.Transaction{cb, tx},
			})
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to assemble the block: %v", failed, testID, err)
			}
			nb, err = database.POW(context.Background(), nb, nil, func(string, ...any) {})
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to mine the block: %v", failed, testID, err)
			}

			record, err := database.EncodeBlock(nb)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to encode the block: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to encode the block.", success, testID)

			if string(record[4:8]) != "LDGR" {
				t.Fatalf("\t%s\tTest %d:\tShould start the record with the magic.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould start the record with the magic.", success, testID)

			decoded, err := database.DecodeBlock(record)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to decode the block: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to decode the block.", success, testID)

			if decoded.BlockHash != nb.BlockHash || decoded.Header.MerkleRoot != nb.Header.MerkleRoot {
				t.Fatalf("\t%s\tTest %d:\tShould decode the same block.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould decode the same block.", success, testID)

			root, err := decoded.MerkleRootOf()
			if err != nil || root != nb.Header.MerkleRoot {
				t.Fatalf("\t%s\tTest %d:\tShould recompute the merkle root: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould recompute the merkle root.", success, testID)

			if err := decoded.Transactions()[1].VerifyInput(0, common.HexToAddress(from)); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould keep the unlock proofs: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the unlock proofs.", success, testID)

			bad := append([]byte{}, record...)
			bad[4] = 'X'
			if _, err := database.DecodeBlock(bad); !database.IsStructural(err) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a bad magic: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a bad magic.", success, testID)

			if _, err := database.DecodeBlock(record[:len(record)-3]); !database.IsStructural(err) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a truncated record: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a truncated record.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the header is out of range.", testID)
		{
			b := mine(t, testID, nil, big.NewInt(2))
			b.Header.Height = 1 << 33

			if _, err := database.EncodeBlock(b); !database.IsStructural(err) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a height beyond 32 bits: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a height beyond 32 bits.", success, testID)
		}
	}
}

func Test_Database(t *testing.T) {
	t.Log("Given the need to index the confirmed chain.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen writing blocks.", testID)
		{
			ser := &memSerializer{}
			db := database.New(ser)

			genesis := mine(t, testID, nil, big.NewInt(2))
			next := mine(t, testID, &genesis, big.NewInt(2))

			if err := db.Write(next, database.Meta{}); !database.IsConsistency(err) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a block out of order: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a block out of order.", success, testID)

			for _, b := range []database.Block{genesis, next} {
				if err := db.Write(b, database.Meta{Height: b.Header.Height}); err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould write block %d: %v", failed, testID, b.Header.Height, err)
				}
			}
			t.Logf("\t%s\tTest %d:\tShould write the blocks.", success, testID)

			latest, _ := db.LatestBlock()
			if latest.BlockHash != next.BlockHash || db.Count() != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould track the latest block.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould track the latest block.", success, testID)

			if b, err := db.GetBlockByHash(genesis.BlockHash); err != nil || b.Header.Height != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould find a block by hash: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould find a block by hash.", success, testID)

			if got := len(db.Blocks(0, 10)); got != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould clamp the range, got %d blocks.", failed, testID, got)
			}
			t.Logf("\t%s\tTest %d:\tShould clamp the range.", success, testID)

			reload := database.New(ser)
			var applied int
			if err := reload.Load(func(database.Block) error { applied++; return nil }); err != nil || applied != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould reload every block: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reload every block.", success, testID)
		}
	}
}

// =============================================================================

func candidate(t *testing.T, testID int, parent *database.Block, difficulty *big.Int) database.Block {
	var ts uint64 = 1
	if parent != nil {
		ts = parent.Header.Height + 2
	}

	cb := database.NewCoinbase(common.HexToAddress(from), 50*database.UnitsPerCoin, ts)
	nb, err := database.NewBlock(database.NewBlockArgs{
		Version:      1,
		Parent:       parent,
		MinerAddress: common.HexToAddress(from),
		Difficulty:   difficulty,
		Transactions: []database.Transaction{cb},
	})
	if err != nil {
		t.Fatalf("\t%s\tTest %d:\tShould be able to assemble a candidate: %v", failed, testID, err)
	}

	return nb
}

func mine(t *testing.T, testID int, parent *database.Block, difficulty *big.Int) database.Block {
	nb, err := database.POW(context.Background(), candidate(t, testID, parent, difficulty), nil, func(string, ...any) {})
	if err != nil {
		t.Fatalf("\t%s\tTest %d:\tShould be able to mine a block: %v", failed, testID, err)
	}

	return nb
}

// memSerializer keeps blocks in a slice.
type memSerializer struct {
	blocks []database.Block
	meta   database.Meta
}

func (m *memSerializer) Write(block database.Block, meta database.Meta) error {
	m.blocks = append(m.blocks, block)
	m.meta = meta
	return nil
}

func (m *memSerializer) GetBlock(height uint64) (database.Block, error) {
	if height >= uint64(len(m.blocks)) {
		return database.Block{}, errors.New("not found")
	}
	return m.blocks[height], nil
}

func (m *memSerializer) ForEach(fn func(database.Block) error) error {
	for _, b := range m.blocks {
		if err := fn(b); err != nil {
			return err
		}
	}
	return nil
}

func (m *memSerializer) Meta() (database.Meta, bool, error) {
	return m.meta, len(m.blocks) > 0, nil
}

func (m *memSerializer) Close() error { return nil }

func (m *memSerializer) Reset() error {
	m.blocks = nil
	return nil
}
