package cmd

import (
	"fmt"
	"log"
	"net/http"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/utxo"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

type ownerUTXOs struct {
	Owner   common.Address       `json:"owner"`
	Balance database.Amount      `json:"balance"`
	Outputs []utxo.UnspentOutput `json:"outputs"`
}

var utxosCmd = &cobra.Command{
	Use:   "utxos",
	Short: "Print the unspent outputs of your wallet.",
	Run:   utxosRun,
}

func init() {
	rootCmd.AddCommand(utxosCmd)
}

func utxosRun(cmd *cobra.Command, args []string) {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		log.Fatal(err)
	}

	owned, err := fetchUTXOs(crypto.PubkeyToAddress(privateKey.PublicKey))
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("For Account:", owned.Owner)
	for _, uo := range owned.Outputs {
		locked := ""
		if uo.Locked {
			locked = " (locked)"
		}
		fmt.Printf("  %s  %s%s\n", uo.ID, uo.Amount, locked)
	}
	fmt.Println("Balance:", owned.Balance)
}

func fetchUTXOs(owner common.Address) (ownerUTXOs, error) {
	resp, err := http.Get(fmt.Sprintf("%s/v1/utxos/list/%s", url, owner.Hex()))
	if err != nil {
		return ownerUTXOs{}, err
	}

	var owned ownerUTXOs
	if err := decode(resp, &owned); err != nil {
		return ownerUTXOs{}, err
	}

	return owned, nil
}
