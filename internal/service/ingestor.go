package service

import (
	"context"
	"log/slog"

	"github.com/eventra/participation-service/internal/gateway"
	"github.com/eventra/participation-service/internal/notify"
)

// Ingestor is the entry point for asynchronous gateway callbacks. It
// verifies authenticity, parses and classifies the payload, delegates to
// the orchestrator, and runs the resulting side effects.
//
// The gateway delivers at least once. After the signature verifies, Ingest
// always acknowledges: returning a retryable error for a downstream
// failure would only trigger duplicate redelivery storms, so processing
// failures are logged and resolved by later replays or the self-healing
// reconciliation paths.
type Ingestor struct {
	verifier *gateway.SignatureVerifier
	orch     *Orchestrator
	effects  *notify.Runner
	log      *slog.Logger
}

// NewIngestor constructs an Ingestor.
func NewIngestor(verifier *gateway.SignatureVerifier, orch *Orchestrator, effects *notify.Runner, log *slog.Logger) *Ingestor {
	return &Ingestor{verifier: verifier, orch: orch, effects: effects, log: log}
}

// Ingest processes one webhook delivery. It returns
// gateway.ErrInvalidSignature when authentication fails (the only
// rejection) and nil for every authenticated delivery.
func (i *Ingestor) Ingest(ctx context.Context, signatureHeader string, body []byte) error {
	if err := i.verifier.Verify(signatureHeader, body); err != nil {
		i.log.Warn("webhook signature rejected")
		return err
	}

	evt, err := gateway.ParseEvent(body)
	if err != nil {
		// Authenticated but malformed. Acknowledge; retrying the same
		// bytes cannot succeed.
		i.log.Warn("unparseable webhook body", "error", err)
		return nil
	}
	if !evt.Known() {
		i.log.Debug("acknowledging unknown webhook type",
			"event_id", evt.ID, "type", string(evt.Type))
		return nil
	}

	effects, err := i.orch.Apply(ctx, evt)
	if err != nil {
		// Acknowledge anyway; the gateway will replay and the guarded
		// transitions make the replay safe.
		i.log.Error("webhook processing failed",
			"event_id", evt.ID, "type", string(evt.Type), "error", err)
		return nil
	}

	i.effects.Run(ctx, effects)
	return nil
}
