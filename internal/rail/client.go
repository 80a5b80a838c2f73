package rail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/dpayne7/escrowd/internal/validation"
)

// Client is the HTTP implementation of Rail.
//
// API: POST {base}/v1/transfers/{route} with a JSON Transfer body and an
// Authorization bearer key. 200/201 return a receipt; 404 or a
// recipient_not_found error body map to CodeRecipientNotFound.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a rail client. timeout bounds each transfer call; a
// timeout surfaces as CodeTimeout and is treated like any other rail
// failure by the caller (retryable later, never silently dropped).
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) TransferInternal(ctx context.Context, t Transfer) (*Receipt, error) {
	return c.transfer(ctx, "internal", t)
}

func (c *Client) TransferExternal(ctx context.Context, t Transfer) (*Receipt, error) {
	return c.transfer(ctx, "external", t)
}

func (c *Client) transfer(ctx context.Context, route string, t Transfer) (*Receipt, error) {
	// A malformed transfer is rejected here rather than bounced off the
	// rail, so it never burns a network round trip or a retry budget.
	if errs := validation.Check(
		validation.ValidWallet("to", t.To),
		validation.ValidAmount("amount", t.Amount),
	); len(errs) > 0 {
		return nil, &Error{Code: CodeRejected, Route: route, Message: errs.Error()}
	}

	body, err := json.Marshal(t)
	if err != nil {
		return nil, &Error{Code: CodeRejected, Route: route, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/transfers/"+route, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Code: CodeRejected, Route: route, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		code := CodeUnavailable
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			code = CodeTimeout
		}
		return nil, &Error{Code: code, Route: route, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var receipt Receipt
		if err := json.Unmarshal(respBody, &receipt); err != nil {
			return nil, &Error{Code: CodeUnavailable, Route: route, Message: "malformed receipt: " + err.Error()}
		}
		receipt.Route = route
		return &receipt, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, &Error{Code: CodeRecipientNotFound, Route: route, Message: errorMessage(respBody)}

	case resp.StatusCode >= 500:
		return nil, &Error{Code: CodeUnavailable, Route: route, Message: errorMessage(respBody)}

	default:
		// Some rail deployments signal unknown recipients with a 4xx error
		// body rather than a 404; the code field is authoritative.
		if errorCode(respBody) == string(CodeRecipientNotFound) {
			return nil, &Error{Code: CodeRecipientNotFound, Route: route, Message: errorMessage(respBody)}
		}
		return nil, &Error{Code: CodeRejected, Route: route, Message: errorMessage(respBody)}
	}
}

type railErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func errorCode(body []byte) string {
	var e railErrorBody
	_ = json.Unmarshal(body, &e)
	return e.Error
}

func errorMessage(body []byte) string {
	var e railErrorBody
	if err := json.Unmarshal(body, &e); err != nil || (e.Error == "" && e.Message == "") {
		return "no detail"
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}
