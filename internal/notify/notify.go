// Package notify holds the best-effort side-effect collaborators. Nothing
// in this package returns an error to its caller: a failed notification or
// mail must never roll back or fail the ledger transition that queued it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Kind identifies a notification template.
type Kind string

const (
	KindPaymentConfirmed Kind = "payment_confirmed"
	KindPaymentFailed    Kind = "payment_failed"
	KindRefundConfirmed  Kind = "refund_confirmed"
	KindEventFull        Kind = "event_full"
	KindEventCancelled   Kind = "event_cancelled"
	KindInvoice          Kind = "invoice"
)

// Dispatcher delivers a notification to a member. Implementations report
// success as a bool and never return errors.
type Dispatcher interface {
	Notify(ctx context.Context, memberID string, kind Kind, payload map[string]any) bool
}

// MailGateway sends plain mail. Same contract: best-effort, bool result.
type MailGateway interface {
	Send(ctx context.Context, to, subject, body string) bool
}

// SideEffect is one queued notification produced by a core state
// transition. Core logic builds these; the Runner executes them afterwards.
type SideEffect struct {
	MemberID string
	Kind     Kind
	Payload  map[string]any
}

// Runner executes side effects and swallows their failures.
type Runner struct {
	dispatcher Dispatcher
	log        *slog.Logger
}

// NewRunner constructs a Runner.
func NewRunner(dispatcher Dispatcher, log *slog.Logger) *Runner {
	return &Runner{dispatcher: dispatcher, log: log}
}

// Run delivers each effect in order. Failures are logged and skipped.
func (r *Runner) Run(ctx context.Context, effects []SideEffect) {
	for _, e := range effects {
		if ok := r.dispatcher.Notify(ctx, e.MemberID, e.Kind, e.Payload); !ok {
			r.log.Warn("notification delivery failed",
				"member_id", e.MemberID, "kind", string(e.Kind))
		}
	}
}

// HTTPDispatcher posts notifications to the notification service.
type HTTPDispatcher struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *slog.Logger
}

// NewHTTPDispatcher creates a dispatcher for the given notification
// service base URL.
func NewHTTPDispatcher(baseURL, apiKey string, timeout time.Duration, log *slog.Logger) *HTTPDispatcher {
	return &HTTPDispatcher{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Notify implements Dispatcher.
func (d *HTTPDispatcher) Notify(ctx context.Context, memberID string, kind Kind, payload map[string]any) bool {
	body, err := json.Marshal(map[string]any{
		"member_id": memberID,
		"kind":      string(kind),
		"payload":   payload,
	})
	if err != nil {
		d.log.Warn("marshal notification", "error", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.baseURL+"/v1/notifications", bytes.NewReader(body))
	if err != nil {
		d.log.Warn("build notification request", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Warn("send notification", "error", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// LogDispatcher logs notifications instead of delivering them. Used in
// local development when no notification service is configured.
type LogDispatcher struct {
	log *slog.Logger
}

// NewLogDispatcher constructs a LogDispatcher.
func NewLogDispatcher(log *slog.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

// Notify implements Dispatcher.
func (d *LogDispatcher) Notify(_ context.Context, memberID string, kind Kind, payload map[string]any) bool {
	d.log.Info("notification (log only)",
		"member_id", memberID, "kind", string(kind), "payload", payload)
	return true
}

// LogMailGateway logs mail instead of sending it.
type LogMailGateway struct {
	log *slog.Logger
}

// NewLogMailGateway constructs a LogMailGateway.
func NewLogMailGateway(log *slog.Logger) *LogMailGateway {
	return &LogMailGateway{log: log}
}

// Send implements MailGateway.
func (g *LogMailGateway) Send(_ context.Context, to, subject, _ string) bool {
	g.log.Info("mail (log only)", "to", to, "subject", subject)
	return true
}
