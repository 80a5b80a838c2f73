// Package escrow defines the transaction ledger at the heart of the
// facilitator.
//
// A Transaction is created when a valid payment proof is accepted for a
// resource and the funds enter custody. It then follows a strict state
// machine:
//
//	PENDING → SETTLED            (buyer confirms, or auto-settle deadline)
//	PENDING → REFUND_REQUESTED   (buyer disputes)
//	REFUND_REQUESTED → REFUNDED  (dispute approved, buyer repaid)
//	REFUND_REQUESTED → SETTLED   (dispute rejected, merchant paid)
//
// SETTLED and REFUNDED are terminal. Transactions are never deleted; they
// are the audit record. At most one outbound fund movement ever happens per
// transaction, gated by the conditional Transition in Store.
package escrow

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrInvalidStateTransition is returned when a mutation's status
	// precondition does not hold, including lost compare-and-set races.
	ErrInvalidStateTransition = errors.New("invalid transaction state transition")
)

// Status is the transaction lifecycle state.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusRefundRequested Status = "REFUND_REQUESTED"
	StatusSettled         Status = "SETTLED"
	StatusRefunded        Status = "REFUNDED"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusRefunded
}

// CanTransitionTo reports whether the edge s → to exists in the state machine.
func (s Status) CanTransitionTo(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusSettled || to == StatusRefundRequested
	case StatusRefundRequested:
		return to == StatusRefunded || to == StatusSettled
	}
	return false
}

// Verdict holds the dispute analyzer's output, persisted onto the transaction.
type Verdict struct {
	Decision   string    `json:"decision"` // "refund" or "reject"
	Reasoning  string    `json:"reasoning"`
	Confidence float64   `json:"confidence"` // 0..1
	AnalyzedAt time.Time `json:"analyzedAt"`
}

// Transaction is one successful resource-access payment held in escrow.
type Transaction struct {
	ID          string `json:"id"`
	ReceiptCode string `json:"receiptCode"`

	MerchantWallet string `json:"merchantWallet"`
	ResourceID     string `json:"resourceId"`
	AgentWallet    string `json:"agentWallet"`

	Amount  string `json:"amount"`
	Network string `json:"network"`
	Token   string `json:"token"`

	Status Status `json:"status"`

	// PaymentHeader is the raw proof header exactly as received.
	// Stored verbatim for audit, never mutated, never exposed over JSON.
	PaymentHeader string `json:"-"`
	// VerifyReason records how the payment was accepted (on-chain vs
	// proof-trust downgrade).
	VerifyReason string `json:"verifyReason,omitempty"`

	// Dispute fields.
	DisputeReason       string   `json:"disputeReason,omitempty"` // opaque, possibly encrypted at rest
	MerchantExplanation string   `json:"merchantExplanation,omitempty"`
	AIVerdict           *Verdict `json:"aiVerdict,omitempty"`

	// Payout audit trail.
	PayoutRoute string `json:"payoutRoute,omitempty"` // "internal" or "external"
	PayoutRef   string `json:"payoutRef,omitempty"`   // rail transfer id

	AutoSettleAt time.Time  `json:"autoSettleAt"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	ResolvedAt   *time.Time `json:"resolvedAt,omitempty"`
}

// Aggregate summarizes transaction history for trust scoring.
type Aggregate struct {
	AccessCount   int     // all transactions ever created
	SettledCount  int     // reached SETTLED
	RefundedCount int     // reached REFUNDED (lost disputes)
	OpenDisputes  int     // currently REFUND_REQUESTED
	TotalEarnings float64 // sum of settled amounts
	FirstAt       time.Time
}

// Store persists transactions. Implementations must make Transition atomic
// per transaction id: of two concurrent calls with the same precondition,
// exactly one succeeds and the other observes ErrInvalidStateTransition.
type Store interface {
	Create(ctx context.Context, tx *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	GetByReceipt(ctx context.Context, code string) (*Transaction, error)

	// Transition re-reads the transaction, requires its status to equal
	// from, applies mutate, and writes the result — all atomically with
	// respect to other Transitions on the same id. mutate may change the
	// status only along edges of the state machine.
	Transition(ctx context.Context, id string, from Status, mutate func(*Transaction) error) (*Transaction, error)

	// ListDue returns PENDING transactions whose hold deadline has passed.
	ListDue(ctx context.Context, before time.Time, limit int) ([]*Transaction, error)
	ListByAgent(ctx context.Context, wallet string, limit int) ([]*Transaction, error)
	ListByMerchant(ctx context.Context, wallet string, limit int) ([]*Transaction, error)

	AggregateForMerchant(ctx context.Context, wallet string) (*Aggregate, error)
	AggregateForResource(ctx context.Context, resourceID string) (*Aggregate, error)
}
