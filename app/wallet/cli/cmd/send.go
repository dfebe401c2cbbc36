package cmd

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/state"
	"github.com/ardanlabs/ledger/foundation/blockchain/utxo"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var (
	to     string
	amount uint64
	fee    uint64
	class  string
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a payment",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
		if err != nil {
			log.Fatal(err)
		}

		if err := sendWithDetails(privateKey); err != nil {
			log.Fatal(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Name or address of the recipient.")
	sendCmd.Flags().Uint64VarP(&amount, "amount", "v", 0, "Amount to send.")
	sendCmd.Flags().Uint64VarP(&fee, "fee", "f", 0, "Fee to pay, zero asks the node for a quote.")
	sendCmd.Flags().StringVarP(&class, "class", "c", "standard", "Payment class: standard, smart_contract or instant.")
}

func sendWithDetails(privateKey *ecdsa.PrivateKey) error {
	from := crypto.PubkeyToAddress(privateKey.PublicKey)

	recipient, err := resolve(to)
	if err != nil {
		return err
	}

	cls, err := database.ParseClass(class)
	if err != nil {
		return err
	}

	owned, err := fetchUTXOs(from)
	if err != nil {
		return err
	}

	// Without a fee the payment is built once to learn its size, then built
	// again with the quoted fee.
	payFee := database.Amount(fee)
	if payFee == 0 {
		tx, err := buildPayment(owned.Outputs, from, recipient, database.Amount(amount), 0, cls)
		if err != nil {
			return err
		}

		if payFee, err = quote(cls, tx.Size()); err != nil {
			return err
		}
	}

	tx, err := buildPayment(owned.Outputs, from, recipient, database.Amount(amount), payFee, cls)
	if err != nil {
		return err
	}

	signed, err := tx.Sign(privateKey)
	if err != nil {
		return err
	}

	data, err := json.Marshal(signed)
	if err != nil {
		return err
	}

	resp, err := http.Post(fmt.Sprintf("%s/v1/tx/submit", url), "application/json", bytes.NewBuffer(data))
	if err != nil {
		return err
	}

	var result struct {
		Status  string          `json:"status"`
		Ref     string          `json:"ref"`
		Evicted []database.Hash `json:"evicted"`
	}
	if err := decode(resp, &result); err != nil {
		return err
	}

	fmt.Printf("%s: %s fee[%s] evicted[%d]\n", result.Status, result.Ref, payFee, len(result.Evicted))
	return nil
}

// buildPayment spends unlocked outputs in the order given until the amount
// and the fee are covered and sends any change back to the sender.
func buildPayment(outputs []utxo.UnspentOutput, from common.Address, recipient common.Address, amount database.Amount, fee database.Amount, class database.Class) (database.Transaction, error) {
	if amount == 0 {
		return database.Transaction{}, fmt.Errorf("amount must be greater than zero")
	}

	need := amount + fee

	var prevs []database.OutPoint
	var total database.Amount
	for _, uo := range outputs {
		if total >= need {
			break
		}
		if uo.Locked || uo.Owner != from {
			continue
		}

		prevs = append(prevs, uo.ID)
		total += uo.Amount
	}

	if total < need {
		return database.Transaction{}, fmt.Errorf("insufficient funds: have %s, need %s", total, need)
	}

	outs := []database.Output{{Owner: recipient, Amount: amount}}
	if change := total - need; change > 0 {
		outs = append(outs, database.Output{Owner: from, Amount: change})
	}

	return database.NewTransaction(class, prevs, outs, fee)
}

// quote asks the node for the fee a transaction of this class and size
// must pay right now.
func quote(class database.Class, size int) (database.Amount, error) {
	resp, err := http.Get(fmt.Sprintf("%s/v1/fee/%s/%d", url, class, size))
	if err != nil {
		return 0, err
	}

	var fq state.FeeQuote
	if err := decode(resp, &fq); err != nil {
		return 0, err
	}

	return fq.RequiredFee, nil
}
