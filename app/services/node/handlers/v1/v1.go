// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/ardanlabs/ledger/app/services/node/handlers/v1/private"
	"github.com/ardanlabs/ledger/app/services/node/handlers/v1/public"
	"github.com/ardanlabs/ledger/foundation/blockchain/offchain"
	"github.com/ardanlabs/ledger/foundation/blockchain/state"
	"github.com/ardanlabs/ledger/foundation/events"
	"github.com/ardanlabs/ledger/foundation/nameservice"
	"github.com/ardanlabs/ledger/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log     *zap.SugaredLogger
	State   *state.State
	NS      *nameservice.NameService
	Evts    *events.Events
	Journal *offchain.Journal
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		NS:    cfg.NS,
		WS:    websocket.Upgrader{},
		Evts:  cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/genesis/list", pbl.Genesis)
	app.Handle(http.MethodGet, version, "/status", pbl.Status)
	app.Handle(http.MethodGet, version, "/fee/:class/:size", pbl.FeeQuote)
	app.Handle(http.MethodGet, version, "/utxos/list/:owner", pbl.UTXOs)
	app.Handle(http.MethodGet, version, "/blocks/list/:from/:to", pbl.BlocksByRange)
	app.Handle(http.MethodGet, version, "/blocks/hash/:hash", pbl.BlockByHash)
	app.Handle(http.MethodGet, version, "/blocks/proof/:height/:id", pbl.MerkleProof)
	app.Handle(http.MethodGet, version, "/tx/uncommitted/list", pbl.Mempool)
	app.Handle(http.MethodGet, version, "/tx/uncommitted/:id", pbl.MempoolEntry)
	app.Handle(http.MethodPost, version, "/tx/submit", pbl.SubmitTransaction)
	app.Handle(http.MethodPost, version, "/tx/rebroadcast/:id", pbl.Rebroadcast)
}

// PrivateRoutes binds all the version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:     cfg.Log,
		State:   cfg.State,
		Journal: cfg.Journal,
	}

	app.Handle(http.MethodPost, version, "/node/block/propose", prv.ProposeBlock)
	app.Handle(http.MethodPost, version, "/node/mining/:signal", prv.SignalMining)
	app.Handle(http.MethodPost, version, "/node/truncate", prv.Truncate)
	app.Handle(http.MethodPost, version, "/node/tx/dispute/:id", prv.Dispute)
	app.Handle(http.MethodPost, version, "/node/tx/resolve/:id", prv.Resolve)
	app.Handle(http.MethodPost, version, "/node/utxos/lock", prv.LockOutput)
	app.Handle(http.MethodPost, version, "/node/utxos/unlock", prv.UnlockOutput)
	app.Handle(http.MethodGet, version, "/node/offchain/list", prv.ListJournal)
}
