package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dpayne7/escrowd/internal/circuitbreaker"
	"github.com/dpayne7/escrowd/internal/retry"
)

// HTTPChainVerifier confirms on-chain references via an external HTTP service.
//
// Expected API: GET {base}/v1/tx/{ref} → 200 {"confirmed": bool}.
// 404 means the reference does not exist (not an availability error).
//
// A circuit breaker fronts the service: when it has been failing, calls
// return immediately as unavailable and the proof-trust fallback applies
// without paying the timeout each time.
type HTTPChainVerifier struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

// NewHTTPChainVerifier creates a chain verifier client, or nil when no
// endpoint is configured (verification then degrades to proof-trust).
func NewHTTPChainVerifier(baseURL string, timeout time.Duration) *HTTPChainVerifier {
	if baseURL == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPChainVerifier{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    circuitbreaker.New("chain_verifier", 5, 30*time.Second),
	}
}

// Confirmed implements ChainVerifier. Transient upstream failures are retried
// once with backoff before being reported as unavailability.
func (c *HTTPChainVerifier) Confirmed(ctx context.Context, txRef string) (bool, error) {
	var confirmed bool

	err := c.breaker.Do(func() error {
		return c.confirm(ctx, txRef, &confirmed)
	})
	if err != nil {
		return false, err
	}
	return confirmed, nil
}

func (c *HTTPChainVerifier) confirm(ctx context.Context, txRef string, confirmed *bool) error {
	return retry.Do(ctx, 2, 200*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/v1/tx/"+url.PathEscape(txRef), nil)
		if err != nil {
			return retry.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("chain verifier unreachable: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusOK:
			var body struct {
				Confirmed bool `json:"confirmed"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return fmt.Errorf("chain verifier bad response: %w", err)
			}
			*confirmed = body.Confirmed
			return nil
		case resp.StatusCode == http.StatusNotFound:
			// Unknown reference is a definitive answer.
			*confirmed = false
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("chain verifier returned %d", resp.StatusCode)
		default:
			return retry.Permanent(fmt.Errorf("chain verifier returned %d", resp.StatusCode))
		}
	})
}
