package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ErrInvalidSignature is returned when a webhook delivery fails
// authentication. Rejections apply no state change, so redelivery of the
// same payload is always safe.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// EventType identifies a supported webhook event kind.
type EventType string

// Webhook event kinds delivered by the processor. Unknown kinds are
// acknowledged and ignored for forward compatibility.
const (
	EventSessionCompleted EventType = "session.completed"
	EventSessionExpired   EventType = "session.expired"
	EventPaymentFailed    EventType = "payment.failed"
	EventRefundCreated    EventType = "refund.created"
	EventRefundUpdated    EventType = "refund.updated"
)

// Event is a verified, typed webhook delivery.
type Event struct {
	ID              string
	Type            EventType
	SessionID       string
	PaymentIntentID string
	RefundID        string
	RefundStatus    string
	Reason          string
}

// Known reports whether the event type is one this service processes.
func (e *Event) Known() bool {
	switch e.Type {
	case EventSessionCompleted, EventSessionExpired, EventPaymentFailed,
		EventRefundCreated, EventRefundUpdated:
		return true
	}
	return false
}

// envelope is the wire format of a webhook delivery.
type envelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		SessionID     string `json:"session_id"`
		PaymentIntent string `json:"payment_intent"`
		RefundID      string `json:"refund_id"`
		RefundStatus  string `json:"refund_status"`
		Reason        string `json:"reason"`
	} `json:"data"`
}

// ParseEvent decodes a raw webhook body into a typed event. Call only after
// the signature verified.
func ParseEvent(body []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode webhook body: %w", err)
	}
	return &Event{
		ID:              env.ID,
		Type:            EventType(env.Type),
		SessionID:       env.Data.SessionID,
		PaymentIntentID: env.Data.PaymentIntent,
		RefundID:        env.Data.RefundID,
		RefundStatus:    env.Data.RefundStatus,
		Reason:          env.Data.Reason,
	}, nil
}

var (
	tsPattern = regexp.MustCompile(`t=([^,]+)`)
	v1Pattern = regexp.MustCompile(`v1=([^,]+)`)
)

// SignatureVerifier authenticates webhook deliveries.
//
// The signature header carries: t=<unix>,v1=<signature>
// where the signature is HMAC-SHA256 over "<unix>.<raw body>" with the
// shared secret. Timestamps outside the tolerance window are rejected to
// limit replay of captured deliveries.
type SignatureVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewSignatureVerifier creates a verifier for the shared webhook secret.
func NewSignatureVerifier(secret string, tolerance time.Duration) *SignatureVerifier {
	return &SignatureVerifier{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Verify checks the signature header against the exact raw body. Returns
// ErrInvalidSignature on any mismatch.
func (v *SignatureVerifier) Verify(header string, body []byte) error {
	if header == "" || len(v.secret) == 0 {
		return ErrInvalidSignature
	}

	ts, gotHex := parseSignatureHeader(header)
	if ts == "" || gotHex == "" {
		return ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if v.tolerance > 0 {
		age := v.now().Sub(time.Unix(unix, 0))
		if age > v.tolerance || age < -v.tolerance {
			return ErrInvalidSignature
		}
	}

	want := computeSignature(v.secret, ts, body)
	if !hmac.Equal([]byte(gotHex), []byte(want)) {
		return ErrInvalidSignature
	}
	return nil
}

// parseSignatureHeader extracts t and v1 values from the signature header.
func parseSignatureHeader(header string) (ts, hash string) {
	if m := tsPattern.FindStringSubmatch(header); len(m) > 1 {
		ts = m[1]
	}
	if m := v1Pattern.FindStringSubmatch(header); len(m) > 1 {
		hash = m[1]
	}
	return ts, hash
}

// computeSignature returns the hex HMAC-SHA256 of "<ts>.<body>".
func computeSignature(secret []byte, ts string, body []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(ts))
	h.Write([]byte("."))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
