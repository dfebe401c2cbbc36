package public

import (
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/mempool"
	"github.com/ardanlabs/ledger/foundation/blockchain/utxo"
	"github.com/ethereum/go-ethereum/common"
)

type submitted struct {
	Status string `json:"status"`
	mempool.Result
}

type rebroadcast struct {
	Factor float64 `json:"factor" validate:"required,gt=1"`
}

type rebroadcasted struct {
	ID  database.Hash   `json:"id"`
	Fee database.Amount `json:"fee"`
}

type output struct {
	utxo.UnspentOutput
	OwnerName string `json:"owner_name"`
}

type ownerUTXOs struct {
	Owner     common.Address  `json:"owner"`
	OwnerName string          `json:"owner_name"`
	Balance   database.Amount `json:"balance"`
	Outputs   []output        `json:"outputs"`
}

type entry struct {
	mempool.Entry
	Ref string `json:"ref"`
}
