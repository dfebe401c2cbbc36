package mempool_test

import (
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/fee"
	"github.com/ardanlabs/ledger/foundation/blockchain/mempool"
	"github.com/ardanlabs/ledger/foundation/blockchain/utxo"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const pkHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"

var (
	miner = common.HexToAddress("0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4")
	bob   = common.HexToAddress("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")
)

// A one input, one output transaction encodes to this many bytes.
const txSize = 182

// =============================================================================

func Test_Admission(t *testing.T) {
	t.Log("Given the need to admit transactions into the mempool.")
	{
		utxos := newUTXOs(5)
		utxos.lock(op(4))

		mp := newMempool(t, utxos, flatPolicy(100), mempool.Config{})

		tx := spend(t, database.ClassStandard, op(1), 1_000)

		testID := 0
		t.Logf("\tTest %d:\tWhen adding a valid transaction.", testID)
		{
			res, err := mp.Add(tx)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to add the transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to add the transaction.", success, testID)

			if res.ID != tx.ID || res.Ref != tx.Ref() || res.Child {
				t.Fatalf("\t%s\tTest %d:\tShould get back the admission result: %+v", failed, testID, res)
			}
			t.Logf("\t%s\tTest %d:\tShould get back the admission result.", success, testID)

			if mp.Count() != 1 || mp.Bytes() != txSize || mp.ClassCount(database.ClassStandard) != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould track the pool size: %d/%d.", failed, testID, mp.Count(), mp.Bytes())
			}
			t.Logf("\t%s\tTest %d:\tShould track the pool size.", success, testID)

			e, err := mp.Get(tx.ID)
			if err != nil || e.Status != mempool.StatusPending || e.Senders[0] != bob {
				t.Fatalf("\t%s\tTest %d:\tShould be able to get the pending entry: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to get the pending entry.", success, testID)
		}

		mismatch := spend(t, database.ClassStandard, op(2), 1_000)
		mismatch.Fee++
		mismatch.ID = mismatch.ComputeID()

		cb := database.NewCoinbase(miner, 5_000, 1)

		type table struct {
			name  string
			tx    database.Transaction
			check func(error) bool
		}

		tt := []table{
			{"duplicate id", tx, database.IsConsistency},
			{"double spend", spend(t, database.ClassInstant, op(1), 2_000), database.IsConsistency},
			{"missing output", spend(t, database.ClassStandard, op(9), 1_000), database.IsConsistency},
			{"locked output", spend(t, database.ClassStandard, op(4), 1_000), database.IsConsistency},
			{"fee mismatch", mismatch, database.IsStructural},
			{"coinbase", cb, database.IsStructural},
			{"fee too low", spend(t, database.ClassStandard, op(3), 50), database.IsEconomic},
		}

		for _, tst := range tt {
			testID++
			t.Logf("\tTest %d:\tWhen adding a transaction with a %s.", testID, tst.name)
			{
				_, err := mp.Add(tst.tx)
				if err == nil {
					t.Fatalf("\t%s\tTest %d:\tShould reject the transaction.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould reject the transaction.", success, testID)

				if !tst.check(err) {
					t.Fatalf("\t%s\tTest %d:\tShould get the right kind of error: %v", failed, testID, err)
				}
				t.Logf("\t%s\tTest %d:\tShould get the right kind of error: %v", success, testID, err)

				if mp.Count() != 1 {
					t.Fatalf("\t%s\tTest %d:\tShould leave the pool unchanged.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould leave the pool unchanged.", success, testID)
			}
		}
	}
}

func Test_UnlockProof(t *testing.T) {
	t.Log("Given the need to verify unlock proofs at admission.")
	{
		pk, err := crypto.HexToECDSA(pkHexKey)
		if err != nil {
			t.Fatalf("Should be able to decode the private key: %v", err)
		}
		owner := crypto.PubkeyToAddress(pk.PublicKey)

		utxos := newUTXOs(2)
		utxos.outputs[op(0)] = utxo.UnspentOutput{ID: op(0), Amount: 100_000, Owner: owner}

		mp := newMempool(t, utxos, flatPolicy(0), mempool.Config{VerifyUnlock: true})

		testID := 0
		t.Logf("\tTest %d:\tWhen the proof is signed by the output owner.", testID)
		{
			signed, err := spend(t, database.ClassStandard, op(0), 1_000).Sign(pk)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to sign: %v", failed, testID, err)
			}

			if _, err := mp.Add(signed); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to add the transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to add the transaction.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the proof is signed by someone else.", testID)
		{
			signed, err := spend(t, database.ClassStandard, op(1), 1_000).Sign(pk)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to sign: %v", failed, testID, err)
			}

			if _, err := mp.Add(signed); !database.IsStructural(err) {
				t.Fatalf("\t%s\tTest %d:\tShould reject the transaction as structural: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the transaction as structural.", success, testID)
		}
	}
}

func Test_Eviction(t *testing.T) {
	t.Log("Given the need to make room for better paying transactions.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the pool is full of 5 and 50 fee per byte transactions.", testID)
		{
			mp := newMempool(t, newUTXOs(5), flatPolicy(0), mempool.Config{CapacityBytes: 2 * txSize})

			low := spend(t, database.ClassStandard, op(0), 5*txSize)
			high := spend(t, database.ClassStandard, op(1), 50*txSize)
			add(t, mp, low, high)

			res, err := mp.Add(spend(t, database.ClassStandard, op(2), 10*txSize))
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould admit the 10 fee per byte transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould admit the 10 fee per byte transaction.", success, testID)

			if len(res.Evicted) != 1 || res.Evicted[0] != low.ID {
				t.Fatalf("\t%s\tTest %d:\tShould evict only the 5 fee per byte transaction: %v", failed, testID, res.Evicted)
			}
			t.Logf("\t%s\tTest %d:\tShould evict only the 5 fee per byte transaction.", success, testID)

			if _, err := mp.Get(high.ID); err != nil || mp.Count() != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould keep the 50 fee per byte transaction.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the 50 fee per byte transaction.", success, testID)

			_, err = mp.Add(spend(t, database.ClassStandard, op(3), 8*txSize))
			if !database.IsEconomic(err) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a transaction with nothing cheaper to evict: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a transaction with nothing cheaper to evict.", success, testID)

			if mp.Count() != 2 || mp.Bytes() != 2*txSize {
				t.Fatalf("\t%s\tTest %d:\tShould not evict anything when admission fails.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not evict anything when admission fails.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the cheapest transaction is above the eviction floor.", testID)
		{
			cfg := mempool.Config{CapacityBytes: 2 * txSize, EvictionFloor: 4}
			mp := newMempool(t, newUTXOs(5), flatPolicy(0), cfg)

			add(t, mp,
				spend(t, database.ClassStandard, op(0), 5*txSize),
				spend(t, database.ClassStandard, op(1), 50*txSize),
			)

			if _, err := mp.Add(spend(t, database.ClassStandard, op(2), 10*txSize)); !database.IsEconomic(err) {
				t.Fatalf("\t%s\tTest %d:\tShould reject the transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the transaction.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen a class borrows the space other classes leave unused.", testID)
		{
			cfg := mempool.Config{
				CapacityBytes: 4 * txSize,
				ClassShares: map[database.Class]int{
					database.ClassInstant:       25,
					database.ClassStandard:      50,
					database.ClassSmartContract: 25,
				},
			}
			mp := newMempool(t, newUTXOs(5), flatPolicy(0), cfg)

			add(t, mp,
				spend(t, database.ClassInstant, op(0), 10*txSize),
				spend(t, database.ClassInstant, op(1), 10*txSize),
				spend(t, database.ClassInstant, op(2), 10*txSize),
			)

			if mp.ClassCount(database.ClassInstant) != 3 {
				t.Fatalf("\t%s\tTest %d:\tShould admit past the class ceiling.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould admit past the class ceiling.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen a cheap parent has a child above the eviction floor.", testID)
		{
			cfg := mempool.Config{CapacityBytes: 3 * txSize, EvictionFloor: 10}
			mp := newMempool(t, newUTXOs(5), flatPolicy(0), cfg)

			parent := spend(t, database.ClassStandard, op(0), 2*txSize)
			child := spendFrom(t, parent, 0, 50*txSize)
			mid := spend(t, database.ClassStandard, op(1), 8*txSize)
			add(t, mp, parent, child, mid)

			res, err := mp.Add(spend(t, database.ClassStandard, op(2), 60*txSize))
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould admit the transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould admit the transaction.", success, testID)

			if len(res.Evicted) != 1 || res.Evicted[0] != mid.ID {
				t.Fatalf("\t%s\tTest %d:\tShould evict only the 8 fee per byte transaction: %v", failed, testID, res.Evicted)
			}
			t.Logf("\t%s\tTest %d:\tShould evict only the 8 fee per byte transaction.", success, testID)

			if _, err := mp.Get(child.ID); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould keep the child above the floor: %v", failed, testID, err)
			}
			if _, err := mp.Get(parent.ID); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould keep the parent of that child: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the parent and its child.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen evicting a parent.", testID)
		{
			mp := newMempool(t, newUTXOs(5), flatPolicy(0), mempool.Config{CapacityBytes: 3 * txSize})

			parent := spend(t, database.ClassStandard, op(0), 2*txSize)
			child := spendFrom(t, parent, 0, 3*txSize)
			high := spend(t, database.ClassStandard, op(1), 50*txSize)
			add(t, mp, parent, child, high)

			res, err := mp.Add(spend(t, database.ClassStandard, op(2), 10*txSize))
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould admit the transaction: %v", failed, testID, err)
			}

			if len(res.Evicted) != 2 || mp.Count() != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould evict the parent and its child: %v", failed, testID, res.Evicted)
			}
			t.Logf("\t%s\tTest %d:\tShould evict the parent and its child.", success, testID)
		}
	}
}

func Test_Children(t *testing.T) {
	t.Log("Given the need to chain unconfirmed transactions.")
	{
		utxos := newUTXOs(5)
		mp := newMempool(t, utxos, flatPolicy(0), mempool.Config{})

		parent := spend(t, database.ClassStandard, op(0), 1_000)
		add(t, mp, parent)

		child := spendFrom(t, parent, 0, 1_000)

		testID := 0
		t.Logf("\tTest %d:\tWhen spending the output of a pooled parent.", testID)
		{
			res, err := mp.Add(child)
			if err != nil || !res.Child {
				t.Fatalf("\t%s\tTest %d:\tShould admit the transaction as a child: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould admit the transaction as a child.", success, testID)

			e, _ := mp.Get(parent.ID)
			if len(e.ChildIDs) != 1 || e.ChildIDs[0] != child.ID {
				t.Fatalf("\t%s\tTest %d:\tShould link the child under the parent.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould link the child under the parent.", success, testID)

			txs := mp.SelectForBlock(1_000_000, 1)
			if len(txs) != 1 || txs[0].ID != parent.ID {
				t.Fatalf("\t%s\tTest %d:\tShould select only the parent, got %d.", failed, testID, len(txs))
			}
			t.Logf("\t%s\tTest %d:\tShould select only the parent.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen a child spends more than one input.", testID)
		{
			tx, err := database.NewTransaction(database.ClassStandard,
				[]database.OutPoint{op(1), parent.OutPoint(0)},
				[]database.Output{{Owner: bob, Amount: 100_000}},
				parent.Outputs[0].Amount,
			)
			if err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould be able to construct the transaction: %v", failed, testID, err)
			}

			if _, err := mp.Add(tx); !database.IsConsistency(err) {
				t.Fatalf("\t%s\tTest %d:\tShould reject the transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the transaction.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the parent is confirmed.", testID)
		{
			blk := block(t, database.NewCoinbase(miner, 6_000, 1), parent)

			utxos.apply(parent)

			removed := mp.Confirm(blk, nil)
			if len(removed) != 1 || removed[0] != parent.ID {
				t.Fatalf("\t%s\tTest %d:\tShould remove the parent: %v", failed, testID, removed)
			}
			t.Logf("\t%s\tTest %d:\tShould remove the parent.", success, testID)

			e, err := mp.Get(child.ID)
			if err != nil || !e.ParentConfirmed {
				t.Fatalf("\t%s\tTest %d:\tShould release the child: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould release the child.", success, testID)

			txs := mp.SelectForBlock(1_000_000, 2)
			if len(txs) != 1 || txs[0].ID != child.ID {
				t.Fatalf("\t%s\tTest %d:\tShould now select the child.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould now select the child.", success, testID)
		}
	}
}

func Test_Confirm(t *testing.T) {
	t.Log("Given the need to drop transactions invalidated by a block.")
	{
		mp := newMempool(t, newUTXOs(5), flatPolicy(0), mempool.Config{})

		pooled := spend(t, database.ClassStandard, op(0), 1_000)
		parent := spend(t, database.ClassStandard, op(1), 1_000)
		child := spendFrom(t, parent, 0, 1_000)
		add(t, mp, pooled, parent, child)

		testID := 0
		t.Logf("\tTest %d:\tWhen a block spends the same outputs.", testID)
		{
			blk := block(t, database.NewCoinbase(miner, 5_000, 1),
				spend(t, database.ClassInstant, op(0), 2_000),
				spend(t, database.ClassInstant, op(1), 2_000),
			)

			removed := mp.Confirm(blk, nil)
			if len(removed) != 3 || mp.Count() != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould remove the conflicts and their children: %v", failed, testID, removed)
			}
			t.Logf("\t%s\tTest %d:\tShould remove the conflicts and their children.", success, testID)

			if mp.Bytes() != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould release the bytes.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould release the bytes.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the block skipped a pooled parent for its fee.", testID)
		{
			mp := newMempool(t, newUTXOs(5), flatPolicy(0), mempool.Config{})

			parent := spend(t, database.ClassStandard, op(0), 1_000)
			child := spendFrom(t, parent, 0, 1_000)
			add(t, mp, parent, child)

			blk := block(t, database.NewCoinbase(miner, 5_000, 1), parent)
			skip := map[database.Hash]struct{}{parent.ID: {}}

			if removed := mp.Confirm(blk, skip); len(removed) != 0 || mp.Count() != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould keep the parent and child pooled: %v", failed, testID, removed)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the parent and child pooled.", success, testID)

			e, _ := mp.Get(parent.ID)
			if e.Status != mempool.StatusPending || len(e.ChildIDs) != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould leave the parent pending with its child: %s", failed, testID, e.Status)
			}
			t.Logf("\t%s\tTest %d:\tShould leave the parent pending with its child.", success, testID)

			if e, _ := mp.Get(child.ID); e.ParentConfirmed {
				t.Fatalf("\t%s\tTest %d:\tShould not release the child.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not release the child.", success, testID)

			txs := mp.SelectForBlock(1_000_000, 2)
			if len(txs) != 1 || txs[0].ID != parent.ID {
				t.Fatalf("\t%s\tTest %d:\tShould select only the parent again, got %d.", failed, testID, len(txs))
			}
			t.Logf("\t%s\tTest %d:\tShould select only the parent again.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the block skipped a transaction the pool never saw.", testID)
		{
			mp := newMempool(t, newUTXOs(5), flatPolicy(0), mempool.Config{})

			pooled := spend(t, database.ClassStandard, op(0), 1_000)
			add(t, mp, pooled)

			other := spend(t, database.ClassInstant, op(0), 2_000)
			blk := block(t, database.NewCoinbase(miner, 5_000, 1), other)
			skip := map[database.Hash]struct{}{other.ID: {}}

			if removed := mp.Confirm(blk, skip); len(removed) != 0 || mp.Count() != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould keep the spender of the unconsumed output: %v", failed, testID, removed)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the spender of the unconsumed output.", success, testID)
		}
	}
}

func Test_Unspendable(t *testing.T) {
	t.Log("Given the need to hold back transactions whose inputs changed after admission.")
	{
		utxos := newUTXOs(5)
		mp := newMempool(t, utxos, flatPolicy(0), mempool.Config{})

		locked := spend(t, database.ClassStandard, op(0), 1_000)
		spent := spend(t, database.ClassStandard, op(1), 1_000)
		fine := spend(t, database.ClassStandard, op(2), 1_000)
		add(t, mp, locked, spent, fine)

		utxos.lock(op(0))
		delete(utxos.outputs, op(1))

		testID := 0
		t.Logf("\tTest %d:\tWhen one input is locked and another is gone.", testID)
		{
			txs := mp.SelectForBlock(1_000_000, 1)
			if len(txs) != 1 || txs[0].ID != fine.ID {
				t.Fatalf("\t%s\tTest %d:\tShould select only the spendable transaction, got %d.", failed, testID, len(txs))
			}
			t.Logf("\t%s\tTest %d:\tShould select only the spendable transaction.", success, testID)

			if mp.Count() != 3 {
				t.Fatalf("\t%s\tTest %d:\tShould keep the held back transactions pooled.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould keep the held back transactions pooled.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the input is unlocked again.", testID)
		{
			utxos.unlock(op(0))

			if txs := mp.SelectForBlock(1_000_000, 1); len(txs) != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould select the unlocked spender, got %d.", failed, testID, len(txs))
			}
			t.Logf("\t%s\tTest %d:\tShould select the unlocked spender.", success, testID)
		}
	}
}

func Test_Maturity(t *testing.T) {
	t.Log("Given the need to hold back spenders of immature coinbase outputs.")
	{
		utxos := newUTXOs(1)
		uo := utxos.outputs[op(0)]
		uo.Coinbase = true
		uo.OriginHeight = 10
		utxos.outputs[op(0)] = uo

		mp := newMempool(t, utxos, flatPolicy(0), mempool.Config{CoinbaseMaturity: 100})

		tx := spend(t, database.ClassStandard, op(0), 1_000)
		add(t, mp, tx)

		testID := 0
		t.Logf("\tTest %d:\tWhen selecting before and after the output matures.", testID)
		{
			if txs := mp.SelectForBlock(1_000_000, 109); len(txs) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould not select the transaction before maturity.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not select the transaction before maturity.", success, testID)

			if txs := mp.SelectForBlock(1_000_000, 110); len(txs) != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould select the transaction at maturity.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould select the transaction at maturity.", success, testID)
		}
	}
}

func Test_Lifecycle(t *testing.T) {
	t.Log("Given the need to expire, rebroadcast and dispute transactions.")
	{
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		res := &resolver{}

		cfg := mempool.Config{
			TTL:      time.Minute,
			Resolver: res,
			Now:      func() time.Time { return now },
		}
		mp := newMempool(t, newUTXOs(5), flatPolicy(0), cfg)

		tx := spend(t, database.ClassStandard, op(0), 910)
		add(t, mp, tx)

		testID := 0
		t.Logf("\tTest %d:\tWhen rebroadcasting a transaction.", testID)
		{
			if _, err := mp.Rebroadcast(tx.ID, 1); !database.IsEconomic(err) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a factor of one: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a factor of one.", success, testID)

			fee, err := mp.Rebroadcast(tx.ID, 1.5)
			if err != nil || fee != 1365 {
				t.Fatalf("\t%s\tTest %d:\tShould raise the fee to 1365, got %d: %v", failed, testID, fee, err)
			}
			t.Logf("\t%s\tTest %d:\tShould raise the fee.", success, testID)

			e, _ := mp.Get(tx.ID)
			if e.FeePerByte != 1365.0/txSize || e.Tx.Fee != 910 {
				t.Fatalf("\t%s\tTest %d:\tShould re-derive the fee per byte only: %f", failed, testID, e.FeePerByte)
			}
			t.Logf("\t%s\tTest %d:\tShould re-derive the fee per byte only.", success, testID)

			if res.last() != fmt.Sprintf("rebroadcast %s 1365", tx.ID) {
				t.Fatalf("\t%s\tTest %d:\tShould notify the resolver: %s", failed, testID, res.last())
			}
			t.Logf("\t%s\tTest %d:\tShould notify the resolver.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen disputing a transaction.", testID)
		{
			if err := mp.TriggerDispute(tx.ID, now.Add(30*time.Second)); !database.IsEconomic(err) {
				t.Fatalf("\t%s\tTest %d:\tShould reject a dispute before the TTL: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject a dispute before the TTL.", success, testID)

			if err := mp.TriggerDispute(tx.ID, now.Add(2*time.Minute)); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould open the dispute: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould open the dispute.", success, testID)

			if res.last() != fmt.Sprintf("register %s", tx.ID) {
				t.Fatalf("\t%s\tTest %d:\tShould register the transaction: %s", failed, testID, res.last())
			}
			t.Logf("\t%s\tTest %d:\tShould register the transaction.", success, testID)

			if removed := mp.SweepExpired(now.Add(time.Hour)); len(removed) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould not sweep a disputed transaction.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not sweep a disputed transaction.", success, testID)

			if txs := mp.SelectForBlock(1_000_000, 1); len(txs) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould not select a disputed transaction.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould not select a disputed transaction.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen resolving a dispute without a refund.", testID)
		{
			now = now.Add(5 * time.Minute)

			if err := mp.ResolveDispute(tx.ID, false); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould resolve the dispute: %v", failed, testID, err)
			}

			e, _ := mp.Get(tx.ID)
			if e.Status != mempool.StatusPending || !e.AdmittedAt.Equal(now) {
				t.Fatalf("\t%s\tTest %d:\tShould put the transaction back to pending: %s", failed, testID, e.Status)
			}
			t.Logf("\t%s\tTest %d:\tShould put the transaction back to pending.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen resolving a dispute with a refund.", testID)
		{
			if err := mp.ResolveDispute(tx.ID, true); !database.IsConsistency(err) {
				t.Fatalf("\t%s\tTest %d:\tShould reject resolving a pending transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject resolving a pending transaction.", success, testID)

			if err := mp.TriggerDispute(tx.ID, now.Add(time.Minute)); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould open the dispute: %v", failed, testID, err)
			}

			if err := mp.ResolveDispute(tx.ID, true); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould refund the transaction: %v", failed, testID, err)
			}

			if mp.Count() != 0 || res.last() != fmt.Sprintf("refund %s", tx.ID) {
				t.Fatalf("\t%s\tTest %d:\tShould remove the refunded transaction.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould remove the refunded transaction.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen sweeping expired transactions.", testID)
		{
			parent := spend(t, database.ClassStandard, op(1), 1_000)
			child := spendFrom(t, parent, 0, 1_000)
			add(t, mp, parent, child)

			if removed := mp.SweepExpired(now.Add(30 * time.Second)); len(removed) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould keep fresh transactions.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould keep fresh transactions.", success, testID)

			if removed := mp.SweepExpired(now.Add(2 * time.Minute)); len(removed) != 2 || mp.Count() != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould remove expired transactions and their children: %v", failed, testID, removed)
			}
			t.Logf("\t%s\tTest %d:\tShould remove expired transactions and their children.", success, testID)
		}
	}
}

func Test_RequiredFee(t *testing.T) {
	t.Log("Given the need to price admission by congestion.")
	{
		policy := fee.New(fee.Config{MinFee: 10, MaxSupply: 21_000_000 * database.UnitsPerCoin})
		mp := newMempool(t, newUTXOs(5), policy, mempool.Config{BlockSizeMB: 1})

		testID := 0
		t.Logf("\tTest %d:\tWhen paying the low congestion standard rate.", testID)
		{
			if _, err := mp.Add(spend(t, database.ClassStandard, op(0), txSize)); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould admit the transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould admit the transaction.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen paying below the low congestion instant rate.", testID)
		{
			if _, err := mp.Add(spend(t, database.ClassInstant, op(1), txSize)); !database.IsEconomic(err) {
				t.Fatalf("\t%s\tTest %d:\tShould reject the transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the transaction.", success, testID)
		}
	}
}

// =============================================================================

type utxoStub struct {
	outputs map[database.OutPoint]utxo.UnspentOutput
}

// newUTXOs seeds n confirmed outputs of 100,000 units owned by bob.
func newUTXOs(n int) *utxoStub {
	s := utxoStub{outputs: make(map[database.OutPoint]utxo.UnspentOutput)}
	for i := 0; i < n; i++ {
		s.outputs[op(i)] = utxo.UnspentOutput{ID: op(i), Amount: 100_000, Owner: bob}
	}
	return &s
}

func (s *utxoStub) Get(id database.OutPoint) (utxo.UnspentOutput, bool) {
	uo, exists := s.outputs[id]
	return uo, exists
}

func (s *utxoStub) lock(id database.OutPoint) {
	uo := s.outputs[id]
	uo.Locked = true
	s.outputs[id] = uo
}

func (s *utxoStub) unlock(id database.OutPoint) {
	uo := s.outputs[id]
	uo.Locked = false
	s.outputs[id] = uo
}

// apply consumes the inputs of the transaction and adds its outputs.
func (s *utxoStub) apply(tx database.Transaction) {
	for _, in := range tx.Inputs {
		delete(s.outputs, in.Prev)
	}
	for i, out := range tx.Outputs {
		id := tx.OutPoint(i)
		s.outputs[id] = utxo.UnspentOutput{ID: id, Amount: out.Amount, Owner: out.Owner}
	}
}

type flatPolicy database.Amount

func (p flatPolicy) RequiredFee(blockSizeMB float64, class database.Class, competingVolume int, txSize int) database.Amount {
	return database.Amount(p)
}

type resolver struct {
	calls []string
}

func (r *resolver) RegisterTransaction(id database.Hash, parentID database.Hash, outputID database.OutPoint, sender common.Address, recipient common.Address, amount database.Amount, fee database.Amount) error {
	r.calls = append(r.calls, fmt.Sprintf("register %s", id))
	return nil
}

func (r *resolver) RefundTransaction(id database.Hash) error {
	r.calls = append(r.calls, fmt.Sprintf("refund %s", id))
	return nil
}

func (r *resolver) RebroadcastTransaction(id database.Hash, newFee database.Amount) error {
	r.calls = append(r.calls, fmt.Sprintf("rebroadcast %s %d", id, newFee))
	return nil
}

func (r *resolver) last() string {
	if len(r.calls) == 0 {
		return ""
	}
	return r.calls[len(r.calls)-1]
}

// =============================================================================

func newMempool(t *testing.T, utxos mempool.UTXOReader, policy mempool.FeePolicy, cfg mempool.Config) *mempool.Mempool {
	mp, err := mempool.New(utxos, policy, cfg)
	if err != nil {
		t.Fatalf("Should be able to construct the mempool: %v", err)
	}
	return mp
}

func add(t *testing.T, mp *mempool.Mempool, txs ...database.Transaction) {
	for _, tx := range txs {
		if _, err := mp.Add(tx); err != nil {
			t.Fatalf("Should be able to add %s: %v", tx.Ref(), err)
		}
	}
}

func op(n int) database.OutPoint {
	var id database.Hash
	id[0] = byte(n + 1)
	return database.OutPoint{TxID: id}
}

// spend pays everything but the fee from a confirmed 100,000 unit output.
func spend(t *testing.T, class database.Class, prev database.OutPoint, fee database.Amount) database.Transaction {
	tx, err := database.NewTransaction(class, []database.OutPoint{prev}, []database.Output{{Owner: bob, Amount: 100_000 - fee}}, fee)
	if err != nil {
		t.Fatalf("Should be able to construct a transaction: %v", err)
	}
	return tx
}

func spendFrom(t *testing.T, parent database.Transaction, index int, fee database.Amount) database.Transaction {
	amount := parent.Outputs[index].Amount - fee

	tx, err := database.NewTransaction(database.ClassStandard, []database.OutPoint{parent.OutPoint(index)}, []database.Output{{Owner: bob, Amount: amount}}, fee)
	if err != nil {
		t.Fatalf("Should be able to construct a transaction: %v", err)
	}
	return tx
}

func block(t *testing.T, txs ...database.Transaction) database.Block {
	b, err := database.NewBlock(database.NewBlockArgs{
		Version:      1,
		MinerAddress: miner,
		Difficulty:   big.NewInt(1),
		Transactions: txs,
	})
	if err != nil {
		t.Fatalf("Should be able to assemble the block: %v", err)
	}
	b.BlockHash = b.Hash()

	return b
}
