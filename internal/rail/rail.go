// Package rail talks to the external Payment Rail, the service that actually
// moves funds once the engine decides a settlement outcome.
//
// The rail exposes two routing paths: "internal" transfers between accounts
// the rail already knows, and "external" transfers out to arbitrary wallets.
// The orchestrator tries internal first and falls back to external only when
// the internal route reports the recipient as unknown — a decision made on
// the structured error code, never on error message text.
package rail

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies rail failures for routing decisions.
type Code string

const (
	// CodeRecipientNotFound means the route does not know the recipient.
	// This is the only code that triggers the external-route fallback.
	CodeRecipientNotFound Code = "recipient_not_found"
	// CodeTimeout means the transfer call exceeded its deadline.
	CodeTimeout Code = "timeout"
	// CodeUnavailable means the rail was unreachable or returned a 5xx.
	CodeUnavailable Code = "unavailable"
	// CodeRejected means the rail refused the transfer (bad request,
	// insufficient custody balance, compliance hold).
	CodeRejected Code = "rejected"
)

// Error is a structured rail failure.
type Error struct {
	Code    Code
	Route   string // "internal" or "external"
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("rail %s route: %s (%s)", e.Route, e.Code, e.Message)
}

// IsRecipientNotFound reports whether err is a recipient-unknown rail error.
func IsRecipientNotFound(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Code == CodeRecipientNotFound
}

// Transfer instructs the rail to move funds out of custody.
type Transfer struct {
	To        string `json:"to"`
	Amount    string `json:"amount"`
	Token     string `json:"token"`
	Network   string `json:"network"`
	Reference string `json:"reference"` // transaction id, for rail-side idempotency
}

// Receipt acknowledges a completed transfer.
type Receipt struct {
	TransferID string `json:"transferId"`
	Route      string `json:"route"`
}

// Rail moves funds via one of two routing paths.
type Rail interface {
	TransferInternal(ctx context.Context, t Transfer) (*Receipt, error)
	TransferExternal(ctx context.Context, t Transfer) (*Receipt, error)
}
