// Package private maintains the group of handlers for operator access.
package private

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ardanlabs/ledger/business/sys/validate"
	"github.com/ardanlabs/ledger/business/web/errs"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/offchain"
	"github.com/ardanlabs/ledger/foundation/blockchain/state"
	"github.com/ardanlabs/ledger/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of operator endpoints.
type Handlers struct {
	Log     *zap.SugaredLogger
	State   *state.State
	Journal *offchain.Journal
}

// ProposeBlock takes a block mined outside this node, validates it and
// if that passes, adds the block to the local chain.
func (h Handlers) ProposeBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

	// Decode the JSON in the post call into a block.
	var blockData database.BlockData
	if err := web.Decode(r, &blockData); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	// Convert the block data into a block. This action will create a merkle
	// tree for the set of transactions.
	block, err := database.ToBlock(blockData)
	if err != nil {
		return errs.NewLedger(err)
	}

	// Ask the state package to validate the proposed block. If the block
	// passes validation, it will be added to the chain.
	if err := h.State.ProcessProposedBlock(block); err != nil {
		return errs.NewLedger(err)
	}

	resp := status{
		Status: "accepted",
		Height: block.Header.Height,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// SignalMining turns mining on or off.
func (h Handlers) SignalMining(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	switch web.Param(r, "signal") {
	case "start":
		h.State.SetMining(true)
	case "stop":
		h.State.SetMining(false)
	default:
		return errs.NewTrusted(fmt.Errorf("unknown mining signal %q", web.Param(r, "signal")), http.StatusBadRequest)
	}

	resp := mining{
		Mining: h.State.IsMiningAllowed(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Truncate resets the chain back to a new genesis block.
func (h Handlers) Truncate(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.Log.Infow("truncate", "traceid", v.TraceID)

	if err := h.State.Truncate(); err != nil {
		return errs.NewLedger(err)
	}

	resp := status{
		Status: "truncated",
		Height: h.State.LatestBlock().Header.Height,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Dispute hands a transaction that outlived the TTL to the off-chain
// resolver.
func (h Handlers) Dispute(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	id, err := database.ParseTxID(web.Param(r, "id"))
	if err != nil {
		return errs.NewLedger(err)
	}

	if err := h.State.Dispute(id); err != nil {
		return errs.NewLedger(err)
	}

	return web.Respond(ctx, w, status{Status: "disputed", ID: id}, http.StatusOK)
}

// Resolve closes a dispute with a refund or by returning the transaction
// to the pool.
func (h Handlers) Resolve(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	id, err := database.ParseTxID(web.Param(r, "id"))
	if err != nil {
		return errs.NewLedger(err)
	}

	var req resolve
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := validate.Check(req); err != nil {
		return err
	}

	if err := h.State.Resolve(id, req.Outcome == outcomeRefund); err != nil {
		return errs.NewLedger(err)
	}

	return web.Respond(ctx, w, status{Status: "resolved: " + req.Outcome, ID: id}, http.StatusOK)
}

// LockOutput stops a confirmed output from being spent.
func (h Handlers) LockOutput(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return h.setLocked(ctx, w, r, true)
}

// UnlockOutput allows a locked output to be spent again.
func (h Handlers) UnlockOutput(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return h.setLocked(ctx, w, r, false)
}

// ListJournal returns every call the mempool made to the off-chain resolver.
func (h Handlers) ListJournal(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Journal.Records(), http.StatusOK)
}

// =============================================================================

func (h Handlers) setLocked(ctx context.Context, w http.ResponseWriter, r *http.Request, locked bool) error {
	var req outPoint
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := validate.Check(req); err != nil {
		return err
	}

	id, err := database.ParseOutPoint(req.OutPoint)
	if err != nil {
		return errs.NewLedger(err)
	}

	fn := h.State.UnlockOutput
	if locked {
		fn = h.State.LockOutput
	}

	if err := fn(id); err != nil {
		return errs.NewLedger(err)
	}

	resp := lockStatus{
		OutPoint: id.String(),
		Locked:   locked,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}
