// Package ledger implements the HTTP client for the external ledger network
// that mirrors commitments, reveals, and AMM trades.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/outcomelab/predmarket/internal/crypto"
	"github.com/outcomelab/predmarket/internal/domain"
)

// rateLimitKey groups all outbound ledger calls under one sliding window.
const rateLimitKey = "ledger:outbound"

// ClientConfig holds connection and throttle parameters for the ledger
// network client.
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RateLimit  int
	RateWindow time.Duration
}

// Client is the REST client for the ledger network API. Every call is
// HMAC-authenticated and passes through the shared rate limiter before
// leaving the process. Failures map to domain.ErrLedgerUnavailable so
// services can abort their unit of work and retry later.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
	limiter    domain.RateLimiter
	rateLimit  int
	rateWindow time.Duration
}

// NewClient creates a ledger network client. limiter may be nil, in which
// case calls are not throttled locally.
func NewClient(cfg ClientConfig, auth *crypto.HMACAuth, limiter domain.RateLimiter) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 10
	}
	window := cfg.RateWindow
	if window <= 0 {
		window = time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		auth:       auth,
		limiter:    limiter,
		rateLimit:  limit,
		rateWindow: window,
	}
}

// receiptResponse is the ledger network's acknowledgement payload.
type receiptResponse struct {
	TxHash   string `json:"txHash"`
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
}

// CommitPrediction mirrors a commitment hash and its escrowed stake to the
// ledger network.
func (c *Client) CommitPrediction(ctx context.Context, marketRef, commitmentHash string, amount *apd.Decimal) (domain.LedgerReceipt, error) {
	body := map[string]any{
		"marketRef":      marketRef,
		"commitmentHash": commitmentHash,
		"amount":         amount.Text('f'),
	}

	receipt, err := c.submit(ctx, "/v1/predictions/commit", body)
	if err != nil {
		return domain.LedgerReceipt{}, fmt.Errorf("ledger: commit prediction: %w", err)
	}
	return receipt, nil
}

// RevealPrediction mirrors a revealed outcome and salt to the ledger network.
func (c *Client) RevealPrediction(ctx context.Context, marketRef string, outcome domain.Outcome, salt string) (domain.LedgerReceipt, error) {
	body := map[string]any{
		"marketRef": marketRef,
		"outcome":   int(outcome),
		"salt":      salt,
	}

	receipt, err := c.submit(ctx, "/v1/predictions/reveal", body)
	if err != nil {
		return domain.LedgerReceipt{}, fmt.Errorf("ledger: reveal prediction: %w", err)
	}
	return receipt, nil
}

// BuyShares mirrors an AMM buy to the ledger network.
func (c *Client) BuyShares(ctx context.Context, params domain.LedgerTradeParams) (domain.LedgerReceipt, error) {
	receipt, err := c.submit(ctx, "/v1/trades/buy", tradeBody(params))
	if err != nil {
		return domain.LedgerReceipt{}, fmt.Errorf("ledger: buy shares: %w", err)
	}
	return receipt, nil
}

// SellShares mirrors an AMM sell to the ledger network.
func (c *Client) SellShares(ctx context.Context, params domain.LedgerTradeParams) (domain.LedgerReceipt, error) {
	receipt, err := c.submit(ctx, "/v1/trades/sell", tradeBody(params))
	if err != nil {
		return domain.LedgerReceipt{}, fmt.Errorf("ledger: sell shares: %w", err)
	}
	return receipt, nil
}

func tradeBody(params domain.LedgerTradeParams) map[string]any {
	return map[string]any{
		"marketRef":  params.MarketRef,
		"userId":     params.UserID,
		"outcome":    int(params.Outcome),
		"shares":     params.Shares.Text('f'),
		"usdcAmount": params.UsdcAmount.Text('f'),
	}
}

// submit posts a payload, waiting on the rate limiter first, and decodes the
// receipt. Transport and HTTP failures come back wrapped in
// domain.ErrLedgerUnavailable.
func (c *Client) submit(ctx context.Context, path string, body map[string]any) (domain.LedgerReceipt, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rateLimitKey, c.rateLimit, c.rateWindow); err != nil {
			return domain.LedgerReceipt{}, fmt.Errorf("rate limit: %w", err)
		}
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return domain.LedgerReceipt{}, err
	}

	var resp receiptResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return domain.LedgerReceipt{}, fmt.Errorf("decode receipt: %w", err)
	}
	if !resp.Success {
		return domain.LedgerReceipt{}, fmt.Errorf("%w: rejected: %s", domain.ErrLedgerUnavailable, resp.ErrorMsg)
	}

	return domain.LedgerReceipt{TxHash: resp.TxHash}, nil
}

// doAuthenticatedRequest builds, signs, sends, and reads an HTTP request
// against the ledger network API. It returns the raw response body.
func (c *Client) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.auth != nil {
		for k, v := range c.auth.Headers(method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrLedgerUnavailable, err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrLedgerUnavailable, statusCode, bodyStr)
	}
}

// Compile-time interface check.
var _ domain.LedgerClient = (*Client)(nil)
