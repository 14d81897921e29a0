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

// RefundCoordinator cancels participations and whole events, refunding
// completed payments through the gateway and updating both ledgers
// synchronously. The later refund webhook is an idempotent confirmation,
// not a new transition.
type RefundCoordinator struct {
	events         EventCatalog
	participations ParticipationLedger
	payments       PaymentLedger
	gateway        gateway.PaymentGateway
	dispatcher     notify.Dispatcher
	mail           notify.MailGateway
	log            *slog.Logger
}

// NewRefundCoordinator constructs a RefundCoordinator.
func NewRefundCoordinator(
	events EventCatalog,
	participations ParticipationLedger,
	payments PaymentLedger,
	gw gateway.PaymentGateway,
	dispatcher notify.Dispatcher,
	mail notify.MailGateway,
	log *slog.Logger,
) *RefundCoordinator {
	return &RefundCoordinator{
		events:         events,
		participations: participations,
		payments:       payments,
		gateway:        gw,
		dispatcher:     dispatcher,
		mail:           mail,
		log:            log,
	}
}

// RefundParticipation refunds the completed payment for the pair and marks
// both ledgers REFUNDED. Returns repository.ErrPaymentNotFound when no
// COMPLETED record exists, which is also what a second call sees after a
// successful refund, so double-refunding is impossible.
func (c *RefundCoordinator) RefundParticipation(ctx context.Context, eventID, memberID string) (*model.PaymentRecord, error) {
	rec, err := c.payments.GetCompleted(ctx, eventID, memberID)
	if err != nil {
		return nil, err
	}
	if rec.ExternalPaymentID == "" {
		return nil, fmt.Errorf("payment %s has no gateway payment id: %w",
			rec.ID, repository.ErrPaymentNotFound)
	}

	result, err := c.gateway.Refund(ctx, rec.ExternalPaymentID)
	if err != nil {
		return nil, fmt.Errorf("gateway refund: %w", err)
	}

	applied, err := c.payments.MarkRefunded(ctx, rec.ID, result.ID)
	if err != nil {
		return nil, fmt.Errorf("record refund: %w", err)
	}
	if !applied {
		// The refund webhook beat us to it; state is already final.
		c.log.Info("refund already recorded", "payment_id", rec.ID)
	}
	rec.Status = model.PaymentRecordRefunded
	rec.ExternalRefundID = result.ID

	if part, getErr := c.participations.GetActive(ctx, eventID, memberID); getErr == nil {
		if setErr := c.participations.SetPaymentStatus(ctx, part.ID, model.PaymentStatusRefunded); setErr != nil {
			c.log.Error("failed to mark participation refunded",
				"participation_id", part.ID, "error", setErr)
		}
	} else if !errors.Is(getErr, repository.ErrNotFound) {
		c.log.Error("failed to locate participation for refund",
			"event_id", eventID, "member_id", memberID, "error", getErr)
	}

	c.dispatcher.Notify(ctx, memberID, notify.KindRefundConfirmed, map[string]any{
		"event_id":  eventID,
		"refund_id": result.ID,
		"amount":    rec.Amount.StringFixed(2),
		"currency":  rec.Currency,
	})

	c.log.Info("participation refunded",
		"event_id", eventID, "member_id", memberID,
		"payment_id", rec.ID, "refund_id", result.ID)
	return rec, nil
}

// CancelEvent cancels the event, refunds every paid participant and
// notifies all of them. Individual refund failures are counted and logged,
// never fatal to the batch: the organizer always gets the summary so
// follow-up action is possible.
func (c *RefundCoordinator) CancelEvent(ctx context.Context, eventID, reason string) (*model.CancellationSummary, error) {
	event, err := c.events.MarkCancelled(ctx, eventID, reason)
	if err != nil {
		return nil, err
	}

	parts, err := c.participations.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}

	summary := &model.CancellationSummary{}
	for i := range parts {
		part := &parts[i]
		if !part.Active() {
			continue
		}
		summary.Total++

		if part.PaymentStatus == model.PaymentStatusPaid {
			if _, refundErr := c.RefundParticipation(ctx, eventID, part.MemberID); refundErr != nil {
				c.log.Error("refund failed during event cancellation",
					"event_id", eventID, "member_id", part.MemberID, "error", refundErr)
			} else {
				summary.Refunded++
			}
		}

		if ok := c.dispatcher.Notify(ctx, part.MemberID, notify.KindEventCancelled, map[string]any{
			"event_id":   eventID,
			"event_name": event.Name,
			"reason":     reason,
		}); ok {
			summary.Notified++
		}
		// The mail collaborator resolves member ids to addresses.
		c.mail.Send(ctx, part.MemberID,
			fmt.Sprintf("Event cancelled: %s", event.Name), reason)
	}

	c.log.Info("event cancelled",
		"event_id", eventID, "total", summary.Total,
		"refunded", summary.Refunded, "notified", summary.Notified)
	return summary, nil
}

// Unregister removes a member from an event, refunding first when a
// completed payment exists. The refund is best-effort: a gateway failure
// is logged and the participation is still cancelled.
func (c *RefundCoordinator) Unregister(ctx context.Context, eventID, memberID string) error {
	part, err := c.participations.GetActive(ctx, eventID, memberID)
	if err != nil {
		return err
	}

	if _, refundErr := c.RefundParticipation(ctx, eventID, memberID); refundErr != nil {
		if !errors.Is(refundErr, repository.ErrPaymentNotFound) {
			c.log.Warn("refund failed during unregister",
				"event_id", eventID, "member_id", memberID, "error", refundErr)
		}
	}

	if err := c.participations.Cancel(ctx, part.ID); err != nil {
		return fmt.Errorf("cancel participation: %w", err)
	}

	c.log.Info("member unregistered", "event_id", eventID, "member_id", memberID)
	return nil
}
