package x402

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Payer produces a payment payload satisfying a challenge. How the funds
// actually move (wallet signing, on-chain transfer) is up to the caller;
// the client only handles the protocol round-trip.
type Payer func(ctx context.Context, req *PaymentRequirements) (*PaymentPayload, error)

// Client wraps http.Client with automatic 402 challenge handling.
type Client struct {
	httpClient *http.Client
	payer      Payer

	// MaxPayment caps the amount the client will pay automatically.
	// Empty means unlimited.
	MaxPayment string

	// OnPayment is called before each payment attempt.
	OnPayment func(req *PaymentRequirements, payload *PaymentPayload)
}

// NewClient creates a 402-aware HTTP client.
func NewClient(payer Payer) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		payer:      payer,
	}
}

// Do performs a request, transparently answering a single 402 challenge.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		_ = req.Body.Close()
	}

	for attempt := 0; attempt <= 1; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		if resp.StatusCode != http.StatusPaymentRequired || c.payer == nil || attempt == 1 {
			return resp, nil
		}

		ch, err := ParseChallenge(resp)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to parse payment challenge: %w", err)
		}

		if c.MaxPayment != "" {
			if err := c.checkPaymentLimit(ch.PaymentRequirements.MaxAmountRequired); err != nil {
				return nil, err
			}
		}

		payload, err := c.payer(req.Context(), &ch.PaymentRequirements)
		if err != nil {
			return nil, fmt.Errorf("payment failed: %w", err)
		}

		if c.OnPayment != nil {
			c.OnPayment(&ch.PaymentRequirements, payload)
		}

		if err := AddPaymentToRequest(req, payload); err != nil {
			return nil, fmt.Errorf("failed to attach payment: %w", err)
		}
	}

	return nil, fmt.Errorf("unreachable")
}

func (c *Client) checkPaymentLimit(price string) error {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return fmt.Errorf("invalid price in challenge: %q", price)
	}
	limit, err := decimal.NewFromString(c.MaxPayment)
	if err != nil {
		return fmt.Errorf("invalid MaxPayment configured: %q", c.MaxPayment)
	}
	if p.GreaterThan(limit) {
		return fmt.Errorf("price %s exceeds payment limit %s", price, c.MaxPayment)
	}
	return nil
}
