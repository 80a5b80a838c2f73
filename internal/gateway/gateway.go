// Package gateway implements the 402 challenge/response protocol for paid
// resource access.
//
// A request without a payment header gets a machine-readable challenge
// naming the price, the facilitator's custody wallet, and the token. A
// request with a valid payment proof gets the content plus a new PENDING
// transaction holding the funds until settlement. Each accepted payment is
// a distinct purchase event; the gateway never deduplicates.
package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/dpayne7/escrowd/internal/catalog"
	"github.com/dpayne7/escrowd/internal/escrow"
	"github.com/dpayne7/escrowd/internal/idgen"
	"github.com/dpayne7/escrowd/internal/metrics"
	"github.com/dpayne7/escrowd/internal/payment"
	"github.com/dpayne7/escrowd/internal/validation"
	"github.com/dpayne7/escrowd/pkg/x402"
)

// Config holds the facilitator identity the gateway embeds in challenges.
type Config struct {
	CustodyWallet string
	Network       string
	Token         string
	// DefaultWindow is the hold period for resources without their own
	// auto-approval window.
	DefaultWindow time.Duration
}

// Access is the outcome of one resource-access attempt. Either Granted is
// true and Resource/Transaction are set, or Challenge carries the 402 body.
type Access struct {
	Granted     bool
	Challenge   *x402.Challenge
	Resource    *catalog.Resource
	Transaction *escrow.Transaction
}

// Service is the state machine entry point: the only component that creates
// transactions.
type Service struct {
	catalog  catalog.Store
	store    escrow.Store
	verifier *payment.Verifier
	cfg      Config
	logger   *slog.Logger
}

// NewService creates a gateway service.
func NewService(cat catalog.Store, store escrow.Store, verifier *payment.Verifier, cfg Config, logger *slog.Logger) *Service {
	if cfg.DefaultWindow <= 0 {
		cfg.DefaultWindow = 60 * time.Minute
	}
	return &Service{
		catalog:  cat,
		store:    store,
		verifier: verifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// AccessResource runs the 402 protocol for one request. rawHeader is the
// payment header if the caller sent one; callerWallet is the caller's
// self-declared wallet, used only when the payment scheme names no sender.
func (s *Service) AccessResource(ctx context.Context, resourceID, rawHeader, callerWallet string) (*Access, error) {
	res, err := s.catalog.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if !res.Active {
		return nil, catalog.ErrResourceNotFound
	}

	if rawHeader == "" {
		metrics.ChallengesIssued.Inc()
		return &Access{Challenge: s.challenge(res, "Payment required")}, nil
	}

	decoded, err := payment.Decode(rawHeader)
	if err != nil {
		metrics.PaymentsRejected.WithLabelValues(payment.ReasonInvalidHeader).Inc()
		s.logger.Info("rejected unparseable payment header", "resourceId", res.ID, "error", err)
		return &Access{Challenge: s.challenge(res, "Invalid payment header: "+err.Error())}, nil
	}

	result := s.verifier.Verify(ctx, decoded, res.Price, s.cfg.CustodyWallet)
	if !result.Valid {
		metrics.PaymentsRejected.WithLabelValues(result.Reason).Inc()
		s.logger.Info("rejected payment",
			"resourceId", res.ID, "scheme", decoded.Kind, "reason", result.Reason)
		return &Access{Challenge: s.challenge(res, "Payment verification failed: "+result.Reason)}, nil
	}

	tx, err := s.createTransaction(ctx, res, decoded, result.Reason, callerWallet)
	if err != nil {
		return nil, err
	}

	metrics.PaymentsAccepted.WithLabelValues(string(decoded.Kind)).Inc()
	s.logger.Info("payment accepted",
		"transactionId", tx.ID, "resourceId", res.ID, "agent", tx.AgentWallet,
		"amount", tx.Amount, "scheme", decoded.Kind, "verifyReason", result.Reason)
	return &Access{Granted: true, Resource: res, Transaction: tx}, nil
}

func (s *Service) createTransaction(ctx context.Context, res *catalog.Resource, decoded *payment.Decoded, verifyReason, callerWallet string) (*escrow.Transaction, error) {
	agent := callerWallet
	if decoded.Kind == payment.KindExact && decoded.Exact.From != "" {
		agent = decoded.Exact.From
	}
	if agent != "" {
		agent = validation.SanitizeWallet(agent)
	}

	amount := res.Price
	if decoded.Kind == payment.KindExact {
		amount = decoded.Exact.Amount
	}

	window := s.cfg.DefaultWindow
	if res.AutoSettleMins > 0 {
		window = time.Duration(res.AutoSettleMins) * time.Minute
	}

	now := time.Now()
	tx := &escrow.Transaction{
		ID:             idgen.WithPrefix("tx_"),
		ReceiptCode:    idgen.ReceiptCode(),
		MerchantWallet: validation.SanitizeWallet(res.MerchantWallet),
		ResourceID:     res.ID,
		AgentWallet:    agent,
		Amount:         amount,
		Network:        res.Network,
		Token:          res.Token,
		Status:         escrow.StatusPending,
		PaymentHeader:  decoded.Raw,
		VerifyReason:   verifyReason,
		AutoSettleAt:   now.Add(window),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Service) challenge(res *catalog.Resource, reason string) *x402.Challenge {
	window := s.cfg.DefaultWindow
	if res.AutoSettleMins > 0 {
		window = time.Duration(res.AutoSettleMins) * time.Minute
	}

	network := res.Network
	if network == "" {
		network = s.cfg.Network
	}
	token := res.Token
	if token == "" {
		token = s.cfg.Token
	}

	return &x402.Challenge{
		Error: reason,
		PaymentRequirements: x402.PaymentRequirements{
			Scheme:            x402.SchemeExact,
			Network:           network,
			MaxAmountRequired: res.Price,
			Resource:          "/resource/" + res.ID,
			PayTo:             s.cfg.CustodyWallet,
			MaxTimeoutSeconds: int(window.Seconds()),
			Extra:             x402.Extra{Token: token},
		},
	}
}
