package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/eventra/participation-service/internal/gateway"
	"github.com/eventra/participation-service/internal/model"
)

// AdmissionController decides whether a member may start joining an event
// and, for priced events, opens the payment session at the gateway.
//
// The capacity and duplicate checks run inside the ledger's row-locked
// admission transaction; this controller only sequences the gateway call
// around it.
type AdmissionController struct {
	participations ParticipationLedger
	payments       PaymentLedger
	gateway        gateway.PaymentGateway
	redirectBase   string
	pendingTTL     time.Duration
	log            *slog.Logger
}

// NewAdmissionController constructs an AdmissionController.
func NewAdmissionController(
	participations ParticipationLedger,
	payments PaymentLedger,
	gw gateway.PaymentGateway,
	redirectBase string,
	pendingTTL time.Duration,
	log *slog.Logger,
) *AdmissionController {
	return &AdmissionController{
		participations: participations,
		payments:       payments,
		gateway:        gw,
		redirectBase:   redirectBase,
		pendingTTL:     pendingTTL,
		log:            log,
	}
}

// RequestAdmission admits the member directly for free events, or reserves
// a slot and opens a checkout session for priced ones.
//
// Surfaces repository.ErrNotFound, ErrEventCancelled,
// ErrAlreadyParticipating, ErrPaymentInProgress and ErrEventFull unchanged
// so handlers can map them to HTTP statuses.
func (c *AdmissionController) RequestAdmission(ctx context.Context, eventID, memberID string) (*model.AdmissionResult, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event id is required")
	}
	if memberID == "" {
		return nil, fmt.Errorf("member id is required")
	}

	decision, err := c.participations.ReserveAdmission(ctx, eventID, memberID, c.pendingTTL)
	if err != nil {
		return nil, err
	}

	if decision.Action == model.ActionJoinFree {
		c.log.Info("member admitted to free event",
			"event_id", eventID, "member_id", memberID)
		return &model.AdmissionResult{
			Action:        model.ActionJoinFree,
			Participation: decision.Participation,
		}, nil
	}

	rec := decision.Payment
	session, err := c.gateway.OpenSession(ctx, gateway.SessionRequest{
		Amount:     rec.Amount,
		Currency:   rec.Currency,
		Reference:  rec.ID,
		SuccessURL: fmt.Sprintf("%s/events/%s?payment=success", c.redirectBase, eventID),
		CancelURL:  fmt.Sprintf("%s/events/%s?payment=cancelled", c.redirectBase, eventID),
	})
	if err != nil {
		// The reservation must not keep holding a slot when no session
		// exists for it.
		if delErr := c.payments.DeleteReservation(ctx, rec.ID); delErr != nil {
			c.log.Error("failed to release reservation after gateway error",
				"payment_id", rec.ID, "error", delErr)
		}
		return nil, fmt.Errorf("open payment session: %w", err)
	}

	if err := c.payments.AttachSession(ctx, rec.ID, session.ID); err != nil {
		// The session exists at the gateway but is not linked locally. The
		// reservation expires after the TTL; a completion webhook for it is
		// logged and acknowledged as an untracked session.
		c.log.Error("failed to attach session to reservation",
			"payment_id", rec.ID, "session_id", session.ID, "error", err)
		return nil, fmt.Errorf("record payment session: %w", err)
	}

	c.log.Info("payment session opened",
		"event_id", eventID, "member_id", memberID,
		"payment_id", rec.ID, "session_id", session.ID)

	return &model.AdmissionResult{
		Action:     model.ActionOpenPaymentSession,
		SessionURL: session.RedirectURL,
		PaymentID:  rec.ID,
	}, nil
}
