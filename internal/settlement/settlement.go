// Package settlement executes outbound fund movements for held transactions.
//
// The orchestrator is the only component that instructs the Payment Rail.
// Ordering is the correctness core: the payout call happens first, and the
// status flip is a conditional transition afterwards. A transaction that is
// no longer in its expected state is never paid; a payout failure leaves the
// transaction in its prior state so a later attempt can retry safely.
package settlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dpayne7/escrowd/internal/escrow"
	"github.com/dpayne7/escrowd/internal/metrics"
	"github.com/dpayne7/escrowd/internal/rail"
)

// ErrPayoutFailed means the rail could not complete the transfer on any
// route. The transaction keeps its prior status.
var ErrPayoutFailed = errors.New("payout failed")

// Orchestrator settles held transactions through the Payment Rail.
type Orchestrator struct {
	store  escrow.Store
	rail   rail.Rail
	logger *slog.Logger
}

// NewOrchestrator creates a settlement orchestrator.
func NewOrchestrator(store escrow.Store, r rail.Rail, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{store: store, rail: r, logger: logger}
}

// Settle releases a PENDING transaction's funds to the merchant and marks it
// SETTLED. Calling it on a transaction in any other state is a no-op
// returning escrow.ErrInvalidStateTransition.
func (o *Orchestrator) Settle(ctx context.Context, id string) (*escrow.Transaction, error) {
	return o.finalize(ctx, id, escrow.StatusPending, escrow.StatusSettled, recipientMerchant)
}

// ResolveDispute finalizes a REFUND_REQUESTED transaction. approve pays the
// buyer back (REFUNDED); reject pays the merchant (SETTLED).
func (o *Orchestrator) ResolveDispute(ctx context.Context, id string, approve bool) (*escrow.Transaction, error) {
	if approve {
		return o.finalize(ctx, id, escrow.StatusRefundRequested, escrow.StatusRefunded, recipientAgent)
	}
	return o.finalize(ctx, id, escrow.StatusRefundRequested, escrow.StatusSettled, recipientMerchant)
}

type recipientKind int

const (
	recipientMerchant recipientKind = iota
	recipientAgent
)

func (o *Orchestrator) finalize(ctx context.Context, id string, from, to escrow.Status, kind recipientKind) (*escrow.Transaction, error) {
	tx, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status != from {
		o.logger.Warn("rejected settlement in wrong state",
			"transactionId", id, "status", tx.Status, "expected", from)
		return nil, escrow.ErrInvalidStateTransition
	}

	recipient := tx.MerchantWallet
	if kind == recipientAgent {
		recipient = tx.AgentWallet
	}

	receipt, err := o.payout(ctx, tx, recipient)
	if err != nil {
		metrics.SettlementsTotal.WithLabelValues("payout_failed").Inc()
		o.logger.Error("payout failed, transaction left for retry",
			"transactionId", id, "recipient", recipient, "error", err)
		return nil, err
	}

	updated, err := o.store.Transition(ctx, id, from, func(t *escrow.Transaction) error {
		t.Status = to
		t.PayoutRoute = receipt.Route
		t.PayoutRef = receipt.TransferID
		now := time.Now()
		t.ResolvedAt = &now
		return nil
	})
	if err != nil {
		if errors.Is(err, escrow.ErrInvalidStateTransition) {
			// Funds moved but another caller won the status race. The rail
			// receipt makes this reconcilable; it must never be silent.
			o.logger.Error("payout completed but status transition lost a race, manual reconciliation required",
				"transactionId", id, "transferId", receipt.TransferID, "route", receipt.Route)
		}
		return nil, err
	}

	metrics.SettlementsTotal.WithLabelValues(string(to)).Inc()
	o.logger.Info("transaction finalized",
		"transactionId", id, "status", to, "recipient", recipient,
		"route", receipt.Route, "transferId", receipt.TransferID, "amount", tx.Amount)
	return updated, nil
}

// payout attempts the internal route, falling back to the external route
// only on a structured recipient-not-found signal. Every other failure is
// fatal for this attempt.
func (o *Orchestrator) payout(ctx context.Context, tx *escrow.Transaction, recipient string) (*rail.Receipt, error) {
	transfer := rail.Transfer{
		To:        recipient,
		Amount:    tx.Amount,
		Token:     tx.Token,
		Network:   tx.Network,
		Reference: tx.ID,
	}

	receipt, err := o.rail.TransferInternal(ctx, transfer)
	if err == nil {
		return receipt, nil
	}
	if !rail.IsRecipientNotFound(err) {
		return nil, errors.Join(ErrPayoutFailed, err)
	}

	metrics.RailFallbacks.Inc()
	o.logger.Info("internal route does not know recipient, retrying external",
		"transactionId", tx.ID, "recipient", recipient)

	receipt, err = o.rail.TransferExternal(ctx, transfer)
	if err != nil {
		// External route miss included: no further fallback exists.
		return nil, errors.Join(ErrPayoutFailed, err)
	}
	return receipt, nil
}
