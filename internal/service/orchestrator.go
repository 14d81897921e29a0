package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/eventra/participation-service/internal/gateway"
	"github.com/eventra/participation-service/internal/model"
	"github.com/eventra/participation-service/internal/notify"
	"github.com/eventra/participation-service/internal/repository"
)

// Orchestrator applies verified gateway events to the payment and
// participation ledgers.
//
// Every transition is a conditional update guarded by the expected current
// status, so deliveries may arrive duplicated or out of order without
// corrupting state: a replayed SessionCompleted cannot
// regress a REFUNDED record, and a duplicated event whose guard fails
// applies nothing.
//
// Apply returns the best-effort side effects to perform; it never executes
// them itself, which keeps the state machine pure and testable.
type Orchestrator struct {
	events         EventCatalog
	participations ParticipationLedger
	payments       PaymentLedger
	log            *slog.Logger
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(
	events EventCatalog,
	participations ParticipationLedger,
	payments PaymentLedger,
	log *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		events:         events,
		participations: participations,
		payments:       payments,
		log:            log,
	}
}

// Apply routes one typed gateway event through the state machine.
func (o *Orchestrator) Apply(ctx context.Context, evt *gateway.Event) ([]notify.SideEffect, error) {
	switch evt.Type {
	case gateway.EventSessionCompleted:
		return o.sessionCompleted(ctx, evt)
	case gateway.EventSessionExpired, gateway.EventPaymentFailed:
		return o.paymentFailed(ctx, evt)
	case gateway.EventRefundCreated, gateway.EventRefundUpdated:
		return o.refund(ctx, evt)
	default:
		o.log.Debug("ignoring unknown gateway event", "type", string(evt.Type))
		return nil, nil
	}
}

// sessionCompleted handles PENDING → COMPLETED and reconciles the
// participation.
func (o *Orchestrator) sessionCompleted(ctx context.Context, evt *gateway.Event) ([]notify.SideEffect, error) {
	rec, err := o.payments.GetBySessionID(ctx, evt.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			// A session created outside the tracked flow. Log and
			// acknowledge; this must never crash ingestion.
			o.log.Warn("completion for untracked session", "session_id", evt.SessionID)
			return nil, nil
		}
		return nil, fmt.Errorf("locate payment by session: %w", err)
	}

	applied, err := o.payments.MarkCompleted(ctx, rec.ID, evt.PaymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("complete payment %s: %w", rec.ID, err)
	}
	if !applied {
		// Replay or out-of-order delivery. The record already left
		// PENDING; heal a missing participation if an earlier delivery
		// died between completing the record and creating it, but fire no
		// side effects again.
		current, getErr := o.payments.GetBySessionID(ctx, evt.SessionID)
		if getErr == nil && current.Status == model.PaymentRecordCompleted {
			if _, _, recErr := o.participations.ReconcilePaid(ctx, rec.EventID, rec.MemberID); recErr != nil {
				return nil, fmt.Errorf("heal participation for payment %s: %w", rec.ID, recErr)
			}
		}
		o.log.Info("session completion replayed, no transition applied",
			"payment_id", rec.ID, "session_id", evt.SessionID)
		return nil, nil
	}

	// A completed payment always ends with exactly one participation: the
	// reconcile creates it for the normal priced flow and equally heals the
	// case where an earlier admission request died mid-flight.
	part, created, err := o.participations.ReconcilePaid(ctx, rec.EventID, rec.MemberID)
	if err != nil {
		return nil, fmt.Errorf("reconcile participation for payment %s: %w", rec.ID, err)
	}

	effects := []notify.SideEffect{
		{MemberID: rec.MemberID, Kind: notify.KindPaymentConfirmed, Payload: map[string]any{
			"event_id":   rec.EventID,
			"payment_id": rec.ID,
			"amount":     rec.Amount.StringFixed(2),
			"currency":   rec.Currency,
		}},
		{MemberID: rec.MemberID, Kind: notify.KindInvoice, Payload: map[string]any{
			"payment_id": rec.ID,
			"amount":     rec.Amount.StringFixed(2),
			"currency":   rec.Currency,
		}},
	}

	full, fullEffects, err := o.capacityFanOut(ctx, rec.EventID)
	if err != nil {
		// The core transition already happened; report the fan-out failure
		// without undoing anything.
		o.log.Error("capacity fan-out check failed", "event_id", rec.EventID, "error", err)
	} else if full {
		effects = append(effects, fullEffects...)
	}

	o.log.Info("payment completed",
		"payment_id", rec.ID, "event_id", rec.EventID,
		"member_id", rec.MemberID, "participation_id", part.ID,
		"participation_created", created)
	return effects, nil
}

// capacityFanOut checks whether this completion filled the event exactly
// to capacity and, if so, builds the fan-out notifications. It only runs
// after an applied PENDING → COMPLETED transition, so webhook replays can
// never fan out twice.
func (o *Orchestrator) capacityFanOut(ctx context.Context, eventID string) (bool, []notify.SideEffect, error) {
	event, err := o.events.GetByID(ctx, eventID)
	if err != nil {
		return false, nil, err
	}
	count, err := o.participations.CountActive(ctx, eventID)
	if err != nil {
		return false, nil, err
	}
	if count != event.Capacity {
		return false, nil, nil
	}

	parts, err := o.participations.ListByEvent(ctx, eventID)
	if err != nil {
		return false, nil, err
	}
	var effects []notify.SideEffect
	for i := range parts {
		if !parts[i].Active() {
			continue
		}
		effects = append(effects, notify.SideEffect{
			MemberID: parts[i].MemberID,
			Kind:     notify.KindEventFull,
			Payload:  map[string]any{"event_id": eventID, "event_name": event.Name},
		})
	}
	return true, effects, nil
}

// paymentFailed handles PENDING → FAILED for expired sessions and failed
// payments. The member's participation, if any, reverts its payment status
// so admission can be retried.
func (o *Orchestrator) paymentFailed(ctx context.Context, evt *gateway.Event) ([]notify.SideEffect, error) {
	rec, err := o.payments.GetBySessionID(ctx, evt.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			o.log.Warn("failure event for untracked session", "session_id", evt.SessionID)
			return nil, nil
		}
		return nil, fmt.Errorf("locate payment by session: %w", err)
	}

	applied, err := o.payments.MarkFailed(ctx, rec.ID, evt.Reason)
	if err != nil {
		return nil, fmt.Errorf("fail payment %s: %w", rec.ID, err)
	}
	if !applied {
		o.log.Info("payment failure replayed, no transition applied", "payment_id", rec.ID)
		return nil, nil
	}

	if part, getErr := o.participations.GetActive(ctx, rec.EventID, rec.MemberID); getErr == nil {
		if setErr := o.participations.SetPaymentStatus(ctx, part.ID, model.PaymentStatusFailed); setErr != nil {
			return nil, fmt.Errorf("mark participation failed: %w", setErr)
		}
	} else if !errors.Is(getErr, repository.ErrNotFound) {
		return nil, fmt.Errorf("locate participation: %w", getErr)
	}

	o.log.Info("payment failed",
		"payment_id", rec.ID, "event_id", rec.EventID,
		"member_id", rec.MemberID, "reason", evt.Reason)
	return []notify.SideEffect{
		{MemberID: rec.MemberID, Kind: notify.KindPaymentFailed, Payload: map[string]any{
			"event_id": rec.EventID,
			"reason":   evt.Reason,
		}},
	}, nil
}

// refund handles COMPLETED → REFUNDED. A failed refund attempt leaves the
// record untouched; a record refunded synchronously by the refund
// coordinator treats the webhook as an idempotent confirmation.
func (o *Orchestrator) refund(ctx context.Context, evt *gateway.Event) ([]notify.SideEffect, error) {
	if evt.Type == gateway.EventRefundUpdated && evt.RefundStatus == "failed" {
		o.log.Warn("gateway reported refund failure",
			"refund_id", evt.RefundID, "payment_intent", evt.PaymentIntentID)
		return nil, nil
	}

	rec, err := o.locateForRefund(ctx, evt)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			o.log.Warn("refund event for untracked payment",
				"refund_id", evt.RefundID, "payment_intent", evt.PaymentIntentID)
			return nil, nil
		}
		return nil, fmt.Errorf("locate payment for refund: %w", err)
	}

	applied, err := o.payments.MarkRefunded(ctx, rec.ID, evt.RefundID)
	if err != nil {
		return nil, fmt.Errorf("refund payment %s: %w", rec.ID, err)
	}
	if !applied {
		o.log.Info("refund replayed or already applied synchronously", "payment_id", rec.ID)
		return nil, nil
	}

	if part, getErr := o.participations.GetActive(ctx, rec.EventID, rec.MemberID); getErr == nil {
		if setErr := o.participations.SetPaymentStatus(ctx, part.ID, model.PaymentStatusRefunded); setErr != nil {
			return nil, fmt.Errorf("mark participation refunded: %w", setErr)
		}
	} else if !errors.Is(getErr, repository.ErrNotFound) {
		return nil, fmt.Errorf("locate participation: %w", getErr)
	}

	o.log.Info("payment refunded",
		"payment_id", rec.ID, "event_id", rec.EventID, "refund_id", evt.RefundID)
	return []notify.SideEffect{
		{MemberID: rec.MemberID, Kind: notify.KindRefundConfirmed, Payload: map[string]any{
			"event_id":  rec.EventID,
			"refund_id": evt.RefundID,
			"amount":    rec.Amount.StringFixed(2),
			"currency":  rec.Currency,
		}},
	}, nil
}

// locateForRefund prefers the payment-intent id and falls back to the
// session id for gateways that omit the intent on refund events.
func (o *Orchestrator) locateForRefund(ctx context.Context, evt *gateway.Event) (*model.PaymentRecord, error) {
	if evt.PaymentIntentID != "" {
		return o.payments.GetByExternalPaymentID(ctx, evt.PaymentIntentID)
	}
	if evt.SessionID != "" {
		return o.payments.GetBySessionID(ctx, evt.SessionID)
	}
	return nil, repository.ErrPaymentNotFound
}
