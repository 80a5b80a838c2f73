// Package dispute manages the buyer-protection workflow for held
// transactions.
//
// A buyer may dispute a PENDING transaction, which freezes it in
// REFUND_REQUESTED. The owning merchant can then request an analyzer
// verdict, add a rebuttal (which refreshes the verdict), and finally
// resolve the dispute, which pays out through the settlement orchestrator.
// The verdict is advisory; the merchant's resolve decision is what moves
// funds.
package dispute

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/dpayne7/escrowd/internal/catalog"
	"github.com/dpayne7/escrowd/internal/escrow"
	"github.com/dpayne7/escrowd/internal/metrics"
)

// ErrForbidden means the caller is not the merchant that owns the
// transaction.
var ErrForbidden = errors.New("caller does not own this transaction")

// Decrypter recovers the plaintext of a stored dispute reason. Encryption at
// rest is an external collaborator's concern; the engine only needs the
// plaintext at analysis time.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Base64Decrypter handles reasons stored base64-encoded, passing through
// plaintext unchanged for legacy records.
type Base64Decrypter struct{}

func (Base64Decrypter) Decrypt(ciphertext string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil || !utf8.Valid(decoded) {
		return ciphertext, nil
	}
	return string(decoded), nil
}

// Resolver finalizes a disputed transaction. Implemented by the settlement
// orchestrator.
type Resolver interface {
	ResolveDispute(ctx context.Context, id string, approve bool) (*escrow.Transaction, error)
}

// Service implements the dispute workflow.
type Service struct {
	store    escrow.Store
	catalog  catalog.Store
	analyzer Analyzer
	resolver Resolver
	decrypt  Decrypter
	logger   *slog.Logger
}

// NewService creates a dispute service. analyzer may be nil when no analyzer
// is configured; Analyze then reports it unavailable.
func NewService(store escrow.Store, cat catalog.Store, analyzer Analyzer, resolver Resolver, decrypt Decrypter, logger *slog.Logger) *Service {
	if decrypt == nil {
		decrypt = Base64Decrypter{}
	}
	return &Service{
		store:    store,
		catalog:  cat,
		analyzer: analyzer,
		resolver: resolver,
		decrypt:  decrypt,
		logger:   logger,
	}
}

// File opens a dispute on a PENDING transaction, freezing the funds until
// resolution. reason is stored as received; it may arrive encrypted.
func (s *Service) File(ctx context.Context, id, reason string) (*escrow.Transaction, error) {
	tx, err := s.store.Transition(ctx, id, escrow.StatusPending, func(t *escrow.Transaction) error {
		t.Status = escrow.StatusRefundRequested
		t.DisputeReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.DisputesTotal.WithLabelValues("filed").Inc()
	s.logger.Info("dispute filed",
		"transactionId", id, "agent", tx.AgentWallet, "merchant", tx.MerchantWallet)
	return tx, nil
}

// Analyze runs the analyzer over a disputed transaction and persists the
// verdict. The transaction's status does not change; the verdict informs the
// merchant's resolve decision.
func (s *Service) Analyze(ctx context.Context, id, merchantWallet string) (*escrow.Verdict, error) {
	tx, err := s.authorized(ctx, id, merchantWallet)
	if err != nil {
		return nil, err
	}
	return s.analyze(ctx, tx)
}

// SubmitExplanation records the merchant's rebuttal and refreshes the
// verdict with it included. Re-analysis happens only on this explicit call.
func (s *Service) SubmitExplanation(ctx context.Context, id, merchantWallet, explanation string) (*escrow.Verdict, error) {
	if _, err := s.authorized(ctx, id, merchantWallet); err != nil {
		return nil, err
	}

	tx, err := s.store.Transition(ctx, id, escrow.StatusRefundRequested, func(t *escrow.Transaction) error {
		t.MerchantExplanation = explanation
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.analyze(ctx, tx)
}

// Resolve finalizes the dispute. approve refunds the buyer; reject pays the
// merchant. Only the owning merchant may resolve.
func (s *Service) Resolve(ctx context.Context, id, merchantWallet string, approve bool) (*escrow.Transaction, error) {
	if _, err := s.authorized(ctx, id, merchantWallet); err != nil {
		return nil, err
	}

	tx, err := s.resolver.ResolveDispute(ctx, id, approve)
	if err != nil {
		return nil, err
	}

	outcome := "rejected"
	if approve {
		outcome = "approved"
	}
	metrics.DisputesTotal.WithLabelValues(outcome).Inc()
	s.logger.Info("dispute resolved",
		"transactionId", id, "merchant", merchantWallet, "outcome", outcome, "status", tx.Status)
	return tx, nil
}

// authorized loads the transaction and checks dispute-stage preconditions:
// the transaction is REFUND_REQUESTED and the caller owns it.
func (s *Service) authorized(ctx context.Context, id, merchantWallet string) (*escrow.Transaction, error) {
	tx, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status != escrow.StatusRefundRequested {
		return nil, escrow.ErrInvalidStateTransition
	}
	if tx.MerchantWallet != merchantWallet {
		s.logger.Warn("dispute operation by non-owner",
			"transactionId", id, "caller", merchantWallet, "owner", tx.MerchantWallet)
		return nil, ErrForbidden
	}
	return tx, nil
}

func (s *Service) analyze(ctx context.Context, tx *escrow.Transaction) (*escrow.Verdict, error) {
	if s.analyzer == nil {
		return nil, ErrAnalyzerUnavailable
	}

	reason, err := s.decrypt.Decrypt(tx.DisputeReason)
	if err != nil {
		reason = tx.DisputeReason
	}

	in := Input{
		Reason:              reason,
		Amount:              tx.Amount,
		MerchantExplanation: tx.MerchantExplanation,
	}
	if res, err := s.catalog.GetResource(ctx, tx.ResourceID); err == nil {
		in.ResourceTitle = res.Title
		in.ResourceDescription = res.Description
	}

	result, err := s.analyzer.Analyze(ctx, in)
	if err != nil {
		s.logger.Warn("dispute analysis failed", "transactionId", tx.ID, "error", err)
		return nil, err
	}

	verdict := &escrow.Verdict{
		Decision:   result.Decision,
		Reasoning:  result.Reasoning,
		Confidence: result.Confidence,
		AnalyzedAt: time.Now(),
	}

	// Persisting the verdict still goes through the conditional transition:
	// if the dispute was resolved while the analyzer ran, the verdict is
	// dropped rather than written onto a terminal record.
	if _, err := s.store.Transition(ctx, tx.ID, escrow.StatusRefundRequested, func(t *escrow.Transaction) error {
		t.AIVerdict = verdict
		return nil
	}); err != nil {
		return nil, err
	}

	metrics.DisputesTotal.WithLabelValues("analyzed").Inc()
	s.logger.Info("dispute analyzed",
		"transactionId", tx.ID, "decision", verdict.Decision, "confidence", verdict.Confidence)
	return verdict, nil
}
