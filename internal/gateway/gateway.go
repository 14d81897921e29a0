// Package gateway is the adapter boundary to the external payment
// processor. It opens checkout sessions, issues refunds, and verifies and
// parses the processor's webhook deliveries.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// SessionRequest describes a checkout session to open at the processor.
type SessionRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Reference  string          `json:"reference"`
	SuccessURL string          `json:"success_url"`
	CancelURL  string          `json:"cancel_url"`
}

// Session is an open checkout session at the processor.
type Session struct {
	ID          string `json:"id"`
	RedirectURL string `json:"redirect_url"`
}

// RefundResult reports the processor's answer to a refund request.
type RefundResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// PaymentGateway is the port every processor adapter implements.
type PaymentGateway interface {
	// OpenSession creates a checkout session and returns its id and the
	// redirect target for the member.
	OpenSession(ctx context.Context, req SessionRequest) (*Session, error)

	// Refund refunds the full amount of a completed payment intent.
	Refund(ctx context.Context, paymentIntentID string) (*RefundResult, error)
}

// HTTPGateway talks to the processor's REST API.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPGateway creates a gateway client for the given API base URL.
func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// OpenSession implements PaymentGateway.
func (g *HTTPGateway) OpenSession(ctx context.Context, req SessionRequest) (*Session, error) {
	var session Session
	if err := g.post(ctx, "/v1/checkout/sessions", req, &session); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	if session.ID == "" {
		return nil, fmt.Errorf("open session: gateway returned no session id")
	}
	return &session, nil
}

// Refund implements PaymentGateway.
func (g *HTTPGateway) Refund(ctx context.Context, paymentIntentID string) (*RefundResult, error) {
	body := map[string]string{"payment_intent": paymentIntentID}
	var result RefundResult
	if err := g.post(ctx, "/v1/refunds", body, &result); err != nil {
		return nil, fmt.Errorf("refund: %w", err)
	}
	return &result, nil
}

// post sends a JSON request and decodes the JSON response.
func (g *HTTPGateway) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("call gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
