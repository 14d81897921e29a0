// Package model defines the core domain types for the event-participation
// and payment-reconciliation service.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ParticipationStatus is the lifecycle state of a member's participation.
type ParticipationStatus string

// Participation lifecycle. Status advances monotonically
// PENDING → APPROVED → CONFIRMED, or terminates via REJECTED/CANCELLED.
const (
	ParticipationPending   ParticipationStatus = "PENDING"
	ParticipationApproved  ParticipationStatus = "APPROVED"
	ParticipationConfirmed ParticipationStatus = "CONFIRMED"
	ParticipationRejected  ParticipationStatus = "REJECTED"
	ParticipationCancelled ParticipationStatus = "CANCELLED"
)

// PaymentStatus mirrors the state of the payment backing a participation.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFree     PaymentStatus = "FREE"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// PaymentRecordStatus is the lifecycle state of a tracked payment session.
type PaymentRecordStatus string

// PaymentRecord lifecycle. Transitions are monotone:
// PENDING → {COMPLETED, FAILED}, COMPLETED → {REFUNDED, PARTIALLY_REFUNDED}.
// REFUNDED never regresses.
const (
	PaymentRecordPending           PaymentRecordStatus = "PENDING"
	PaymentRecordCompleted         PaymentRecordStatus = "COMPLETED"
	PaymentRecordFailed            PaymentRecordStatus = "FAILED"
	PaymentRecordRefunded          PaymentRecordStatus = "REFUNDED"
	PaymentRecordPartiallyRefunded PaymentRecordStatus = "PARTIALLY_REFUNDED"
)

// Event represents a bookable event created by an organizer.
type Event struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Description        string          `json:"description"`
	Capacity           int             `json:"capacity"`
	Price              decimal.Decimal `json:"price"`
	Currency           string          `json:"currency"`
	Cancelled          bool            `json:"cancelled"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// IsFree returns true when joining the event requires no payment.
func (e *Event) IsFree() bool {
	return e.Price.IsZero()
}

// Participation represents a member's (attempted) attendance of an event.
// At most one non-cancelled Participation exists per (event, member) pair.
type Participation struct {
	ID            string              `json:"id"`
	EventID       string              `json:"event_id"`
	MemberID      string              `json:"member_id"`
	Status        ParticipationStatus `json:"status"`
	PaymentStatus PaymentStatus       `json:"payment_status"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Active reports whether the participation still occupies a slot.
func (p *Participation) Active() bool {
	return p.Status != ParticipationCancelled
}

// PaymentRecord tracks one payment session against the external gateway.
// ExternalSessionID is the gateway's idempotency key; it is assigned once
// when the session opens and never changes afterwards.
type PaymentRecord struct {
	ID                string              `json:"id"`
	EventID           string              `json:"event_id"`
	MemberID          string              `json:"member_id"`
	Amount            decimal.Decimal     `json:"amount"`
	Currency          string              `json:"currency"`
	Status            PaymentRecordStatus `json:"status"`
	ExternalSessionID string              `json:"external_session_id,omitempty"`
	ExternalPaymentID string              `json:"external_payment_id,omitempty"`
	ExternalRefundID  string              `json:"external_refund_id,omitempty"`
	FailureReason     string              `json:"failure_reason,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	CompletedAt       *time.Time          `json:"completed_at,omitempty"`
	RefundedAt        *time.Time          `json:"refunded_at,omitempty"`
}

// AdmissionAction tells the caller how the admission proceeds.
type AdmissionAction string

const (
	// ActionJoinFree means the member was admitted directly (free event).
	ActionJoinFree AdmissionAction = "JOIN_FREE"
	// ActionOpenPaymentSession means the member must complete a payment
	// at the gateway before the participation materialises.
	ActionOpenPaymentSession AdmissionAction = "OPEN_PAYMENT_SESSION"
)

// AdmissionDecision is the outcome of the transactional admission check.
// Exactly one of Participation (free path) or Payment (priced path) is set.
type AdmissionDecision struct {
	Action        AdmissionAction
	Event         *Event
	Participation *Participation
	Payment       *PaymentRecord
}

// AdmissionResult is returned to the caller of RequestAdmission.
type AdmissionResult struct {
	Action        AdmissionAction `json:"action"`
	Participation *Participation  `json:"participation,omitempty"`
	SessionURL    string          `json:"session_url,omitempty"`
	PaymentID     string          `json:"payment_id,omitempty"`
}

// CancellationSummary reports the outcome of cancelling a whole event.
// Refunds may partially fail; the summary is returned regardless so the
// organizer can follow up.
type CancellationSummary struct {
	Total    int `json:"total"`
	Refunded int `json:"refunded"`
	Notified int `json:"notified"`
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Capacity    int             `json:"capacity"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
}

// CancelEventRequest is the payload for cancelling an event.
type CancelEventRequest struct {
	Reason string `json:"reason"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
