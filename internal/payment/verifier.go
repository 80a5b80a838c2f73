package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Verification reason strings. The downgraded proof-trust reasons are
// distinct so audits can tell a hard on-chain confirmation from a
// trust-on-proof acceptance.
const (
	ReasonVerifiedOnChain    = "verified_onchain"
	ReasonProofTrusted       = "proof_trusted"
	ReasonProofTrustedNoConf = "proof_trusted_verifier_unavailable"

	ReasonRecipientMismatch   = "recipient_mismatch"
	ReasonAmountInsufficient  = "amount_insufficient"
	ReasonAmountMismatch      = "amount_mismatch"
	ReasonTxNotConfirmed      = "onchain_verification_failed"
	ReasonInvalidHeader       = "invalid_payment_header"
	ReasonVerifierUnavailable = "verification_unavailable"
)

// legacyTolerance absorbs floating-point rounding in legacy headers.
var legacyTolerance = decimal.RequireFromString("0.0001")

// ChainVerifier confirms an on-chain reference's existence and confirmation
// status. Implementations talk to an external service; errors mean the
// verifier itself was unreachable, not that the transaction is invalid.
type ChainVerifier interface {
	Confirmed(ctx context.Context, txRef string) (bool, error)
}

// Result is the outcome of verifying a decoded payment header.
type Result struct {
	Valid  bool
	Reason string
}

// Verifier checks decoded payment headers against the required amount and
// recipient. It never mutates state.
type Verifier struct {
	chain ChainVerifier // nil means on-chain confirmation is unavailable
}

// NewVerifier creates a verifier. chain may be nil, in which case every
// on-chain consult behaves as unavailable and the proof-trust fallback
// policy applies.
func NewVerifier(chain ChainVerifier) *Verifier {
	return &Verifier{chain: chain}
}

// Verify checks h against requiredAmount and requiredRecipient.
func (v *Verifier) Verify(ctx context.Context, h *Decoded, requiredAmount, requiredRecipient string) Result {
	switch h.Kind {
	case KindExact:
		return v.verifyExact(ctx, h, requiredAmount, requiredRecipient)
	case KindLegacy:
		return v.verifyLegacy(h, requiredAmount)
	default:
		return Result{Valid: false, Reason: ReasonInvalidHeader}
	}
}

func (v *Verifier) verifyExact(ctx context.Context, h *Decoded, requiredAmount, requiredRecipient string) Result {
	p := h.Exact

	if !strings.EqualFold(p.PayTo, requiredRecipient) {
		return Result{Valid: false, Reason: ReasonRecipientMismatch}
	}

	paid, err := decimal.NewFromString(p.Amount)
	if err != nil {
		return Result{Valid: false, Reason: ReasonInvalidHeader}
	}
	required, err := decimal.NewFromString(requiredAmount)
	if err != nil {
		return Result{Valid: false, Reason: ReasonInvalidHeader}
	}
	if paid.LessThan(required) {
		return Result{
			Valid:  false,
			Reason: fmt.Sprintf("%s: paid %s, required %s", ReasonAmountInsufficient, paid, required),
		}
	}

	if p.TxRef != "" {
		if v.chain == nil {
			return v.proofFallback(h, ReasonProofTrustedNoConf)
		}
		confirmed, err := v.chain.Confirmed(ctx, p.TxRef)
		if err != nil {
			// Verifier unreachable: availability wins over hard confirmation,
			// but only when an embedded proof backs the claim, and the
			// downgrade stays observable in the reason.
			return v.proofFallback(h, ReasonProofTrustedNoConf)
		}
		if !confirmed {
			return Result{Valid: false, Reason: ReasonTxNotConfirmed}
		}
		return Result{Valid: true, Reason: ReasonVerifiedOnChain}
	}

	return v.proofFallback(h, ReasonProofTrusted)
}

func (v *Verifier) proofFallback(h *Decoded, reason string) Result {
	if h.HasProof() {
		return Result{Valid: true, Reason: reason}
	}
	if reason == ReasonProofTrustedNoConf {
		return Result{Valid: false, Reason: ReasonVerifierUnavailable}
	}
	return Result{Valid: false, Reason: ReasonInvalidHeader}
}

func (v *Verifier) verifyLegacy(h *Decoded, requiredAmount string) Result {
	if !h.HasProof() {
		return Result{Valid: false, Reason: ReasonInvalidHeader}
	}

	declared, err := decimal.NewFromString(h.Legacy.Amount.String())
	if err != nil {
		return Result{Valid: false, Reason: ReasonInvalidHeader}
	}
	required, err := decimal.NewFromString(requiredAmount)
	if err != nil {
		return Result{Valid: false, Reason: ReasonInvalidHeader}
	}

	if declared.Sub(required).Abs().GreaterThan(legacyTolerance) {
		return Result{
			Valid:  false,
			Reason: fmt.Sprintf("%s: declared %s, required %s", ReasonAmountMismatch, declared, required),
		}
	}

	return Result{Valid: true, Reason: ReasonProofTrusted}
}
