package dispute

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrAnalyzerUnavailable means the Dispute Analyzer could not produce a
// verdict. There is no trust fallback for verdicts: the dispute simply
// remains without one until a later attempt succeeds.
var ErrAnalyzerUnavailable = errors.New("dispute analyzer unavailable")

// Input is the material the analyzer reasons over.
type Input struct {
	Reason              string `json:"reason"`
	ResourceTitle       string `json:"resourceTitle"`
	ResourceDescription string `json:"resourceDescription,omitempty"`
	Amount              string `json:"amount"`
	MerchantExplanation string `json:"merchantExplanation,omitempty"`
}

// Result is the analyzer's verdict on a dispute.
type Result struct {
	Decision   string  `json:"decision"` // "refund" or "reject"
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"` // 0..1
}

// Analyzer produces a verdict for a dispute.
type Analyzer interface {
	Analyze(ctx context.Context, in Input) (*Result, error)
}

// HTTPAnalyzer calls an external analyzer service.
type HTTPAnalyzer struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAnalyzer creates an analyzer client. The analyzer call wraps a
// model invocation upstream, so the timeout is generous.
func NewHTTPAnalyzer(baseURL string) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *HTTPAnalyzer) Analyze(ctx context.Context, in Input) (*Result, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal analyzer input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build analyzer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errors.Join(ErrAnalyzerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d", ErrAnalyzerUnavailable, resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrAnalyzerUnavailable, err)
	}
	return &result, nil
}
