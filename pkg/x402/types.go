// Package x402 implements the wire types of the 402 payment challenge
// protocol spoken by the facilitator, plus client-side helpers for agents.
package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Header names used by the protocol.
const (
	// PaymentHeader carries the payment proof on resource requests.
	PaymentHeader = "X-Payment"
	// TransactionIDHeader returns the created transaction id on success.
	TransactionIDHeader = "X-Transaction-ID"
	// ReceiptCodeHeader returns the human-readable receipt code.
	ReceiptCodeHeader = "X-Receipt-Code"
	// AutoSettleAtHeader returns the escrow hold deadline (RFC 3339).
	AutoSettleAtHeader = "X-Auto-Settle-At"
)

// SchemeExact is the current payment scheme discriminator.
const SchemeExact = "exact"

// PaymentRequirements tells an agent how to pay for a resource.
// Returned inside 402 response bodies.
type PaymentRequirements struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Resource          string `json:"resource"`
	PayTo             string `json:"payTo"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
	Extra             Extra  `json:"extra"`
}

// Extra carries token metadata for the payment.
type Extra struct {
	Token string `json:"token"`
}

// Challenge is the full 402 response body.
type Challenge struct {
	Error               string              `json:"error"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// PaymentPayload is the current-scheme proof an agent sends in the
// payment header, base64-encoded JSON.
type PaymentPayload struct {
	Scheme    string          `json:"scheme"`
	From      string          `json:"from"`
	PayTo     string          `json:"payTo"`
	Amount    string          `json:"amount"`
	Token     string          `json:"token,omitempty"`
	TxRef     string          `json:"txRef,omitempty"`
	Proof     json.RawMessage `json:"proof,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// EncodeHeader serializes the payload for the payment header.
func (p *PaymentPayload) EncodeHeader() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Is402Response checks if an HTTP response is a 402 Payment Required.
func Is402Response(resp *http.Response) bool {
	return resp.StatusCode == http.StatusPaymentRequired
}

// ParseChallenge extracts the payment challenge from a 402 response.
func ParseChallenge(resp *http.Response) (*Challenge, error) {
	if resp.StatusCode != http.StatusPaymentRequired {
		return nil, fmt.Errorf("not a 402 response: got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var ch Challenge
	if err := json.Unmarshal(body, &ch); err != nil {
		return nil, fmt.Errorf("failed to parse payment challenge: %w", err)
	}
	return &ch, nil
}

// AddPaymentToRequest attaches an encoded payment payload to a request.
func AddPaymentToRequest(req *http.Request, payload *PaymentPayload) error {
	header, err := payload.EncodeHeader()
	if err != nil {
		return err
	}
	req.Header.Set(PaymentHeader, header)
	return nil
}
