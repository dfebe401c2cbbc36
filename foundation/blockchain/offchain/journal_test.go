package offchain_test

import (
	"testing"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/offchain"
	"github.com/ethereum/go-ethereum/common"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Journal(t *testing.T) {
	t.Log("Given the need to record settlement requests.")
	{
		var events int
		j := offchain.New(func(v string, args ...any) { events++ })

		id := database.Hash{1}
		sender := common.HexToAddress("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")
		recipient := common.HexToAddress("0xbEE6ACE826eC3DE1B6349888B9151B92522F7F76")

		testID := 0
		t.Logf("\tTest %d:\tWhen a transaction is disputed and refunded.", testID)
		{
			if err := j.RefundTransaction(id); !database.IsConsistency(err) {
				t.Fatalf("\t%s\tTest %d:\tShould not refund an unregistered transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould not refund an unregistered transaction.", success, testID)

			if err := j.RegisterTransaction(id, database.Hash{}, database.OutPoint{TxID: database.Hash{2}}, sender, recipient, 900, 100); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould register the transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould register the transaction.", success, testID)

			if err := j.RegisterTransaction(id, database.Hash{}, database.OutPoint{}, sender, recipient, 900, 100); !database.IsConsistency(err) {
				t.Fatalf("\t%s\tTest %d:\tShould not register the transaction twice: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould not register the transaction twice.", success, testID)

			if len(j.Registered()) != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould list the open settlement.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould list the open settlement.", success, testID)

			if err := j.RebroadcastTransaction(id, 150); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould record the rebroadcast: %v", failed, testID, err)
			}

			if err := j.RefundTransaction(id); err != nil {
				t.Fatalf("\t%s\tTest %d:\tShould refund the transaction: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould refund the transaction.", success, testID)

			records := j.Records()
			if len(records) != 3 || records[0].Action != offchain.ActionRegister || records[1].Action != offchain.ActionRebroadcast || records[2].Action != offchain.ActionRefund {
				t.Fatalf("\t%s\tTest %d:\tShould record every call in order: %+v", failed, testID, records)
			}
			t.Logf("\t%s\tTest %d:\tShould record every call in order.", success, testID)

			if len(j.Registered()) != 0 || events != 3 {
				t.Fatalf("\t%s\tTest %d:\tShould close the settlement and log each call: events[%d]", failed, testID, events)
			}
			t.Logf("\t%s\tTest %d:\tShould close the settlement and log each call.", success, testID)
		}
	}
}
