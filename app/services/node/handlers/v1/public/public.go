// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ardanlabs/ledger/business/sys/validate"
	"github.com/ardanlabs/ledger/business/web/errs"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/state"
	"github.com/ardanlabs/ledger/foundation/events"
	"github.com/ardanlabs/ledger/foundation/nameservice"
	"github.com/ardanlabs/ledger/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of ledger endpoints for wallets and viewers.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	NS    *nameservice.NameService
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// SubmitTransaction adds a signed wallet transaction to the mempool.
func (h Handlers) SubmitTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var tx database.Transaction
	if err := web.Decode(r, &tx); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	h.Log.Infow("submit tran", "traceid", v.TraceID, "tx", tx.Ref(), "class", tx.Class, "inputs", len(tx.Inputs), "outputs", len(tx.Outputs), "fee", tx.Fee)

	res, err := h.State.SubmitTransaction(tx)
	if err != nil {
		return errs.NewLedger(err)
	}

	resp := submitted{
		Status: "transaction added to mempool",
		Result: res,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Rebroadcast raises the priority bid of a pooled transaction.
func (h Handlers) Rebroadcast(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	id, err := database.ParseTxID(web.Param(r, "id"))
	if err != nil {
		return errs.NewLedger(err)
	}

	var req rebroadcast
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := validate.Check(req); err != nil {
		return err
	}

	fee, err := h.State.Rebroadcast(id, req.Factor)
	if err != nil {
		return errs.NewLedger(err)
	}

	return web.Respond(ctx, w, rebroadcasted{ID: id, Fee: fee}, http.StatusOK)
}

// Genesis returns the chain parameters.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.Genesis(), http.StatusOK)
}

// Status returns the summary of the chain, the mempool and the treasury.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.QueryStatus(), http.StatusOK)
}

// FeeQuote returns the fee a transaction of the class and size must pay.
func (h Handlers) FeeQuote(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	class, err := database.ParseClass(web.Param(r, "class"))
	if err != nil {
		return errs.NewLedger(err)
	}

	size, err := strconv.Atoi(web.Param(r, "size"))
	if err != nil || size <= 0 {
		return errs.NewTrusted(fmt.Errorf("invalid size %q", web.Param(r, "size")), http.StatusBadRequest)
	}

	quote, err := h.State.QueryFee(class, size)
	if err != nil {
		return errs.NewLedger(err)
	}

	return web.Respond(ctx, w, quote, http.StatusOK)
}

// UTXOs returns the unspent outputs of an owner. The owner can be an address
// or a name known to the name service.
func (h Handlers) UTXOs(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	owner, err := h.NS.Resolve(web.Param(r, "owner"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	uos := h.State.QueryUTXOsByOwner(owner)

	resp := ownerUTXOs{
		Owner:     owner,
		OwnerName: h.NS.Lookup(owner),
		Outputs:   make([]output, len(uos)),
	}
	for i, uo := range uos {
		resp.Balance += uo.Amount
		resp.Outputs[i] = output{
			UnspentOutput: uo,
			OwnerName:     resp.OwnerName,
		}
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// BlocksByRange returns all the blocks based on the specified to/from values.
func (h Handlers) BlocksByRange(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	from, err := height(web.Param(r, "from"))
	if err != nil {
		return err
	}

	to, err := height(web.Param(r, "to"))
	if err != nil {
		return err
	}

	if from > to {
		return errs.NewTrusted(fmt.Errorf("from %d greater than to %d", from, to), http.StatusBadRequest)
	}

	blocks := h.State.QueryBlocksByRange(from, to)
	if len(blocks) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	blockData := make([]database.BlockData, len(blocks))
	for i, block := range blocks {
		blockData[i] = database.NewBlockData(block)
	}

	return web.Respond(ctx, w, blockData, http.StatusOK)
}

// BlockByHash returns the block with the specified hash.
func (h Handlers) BlockByHash(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash, err := database.ToHash(web.Param(r, "hash"))
	if err != nil {
		return errs.NewLedger(err)
	}

	block, err := h.State.QueryBlockByHash(hash)
	if err != nil {
		return errs.NewTrusted(err, http.StatusNotFound)
	}

	return web.Respond(ctx, w, database.NewBlockData(block), http.StatusOK)
}

// MerkleProof returns the inclusion proof of a transaction in a block.
func (h Handlers) MerkleProof(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	blockHeight, err := height(web.Param(r, "height"))
	if err != nil {
		return err
	}

	id, err := database.ParseTxID(web.Param(r, "id"))
	if err != nil {
		return errs.NewLedger(err)
	}

	proof, err := h.State.QueryMerkleProof(blockHeight, id)
	if err != nil {
		return errs.NewLedger(err)
	}

	return web.Respond(ctx, w, proof, http.StatusOK)
}

// Mempool returns the set of uncommitted transactions.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	entries := h.State.QueryMempool()

	resp := make([]entry, len(entries))
	for i, e := range entries {
		resp[i] = entry{Entry: e, Ref: e.Tx.Ref()}
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// MempoolEntry returns a single uncommitted transaction.
func (h Handlers) MempoolEntry(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	id, err := database.ParseTxID(web.Param(r, "id"))
	if err != nil {
		return errs.NewLedger(err)
	}

	e, err := h.State.QueryMempoolEntry(id)
	if err != nil {
		return errs.NewTrusted(err, http.StatusNotFound)
	}

	return web.Respond(ctx, w, entry{Entry: e, Ref: e.Tx.Ref()}, http.StatusOK)
}

// =============================================================================

// height converts a path parameter into a block height. The value latest
// or an empty value mean the tip of the chain.
func height(s string) (uint64, error) {
	if s == "latest" || s == "" {
		return state.QueryLastest, nil
	}

	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errs.NewTrusted(fmt.Errorf("invalid height %q", s), http.StatusBadRequest)
	}

	return n, nil
}
