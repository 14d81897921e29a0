package service

import (
	"context"
	"time"

	"github.com/eventra/participation-service/internal/model"
)

// EventCatalog is the persistence contract for events.
// Implemented by repository.EventRepository.
type EventCatalog interface {
	Create(ctx context.Context, req model.CreateEventRequest) (*model.Event, error)
	GetByID(ctx context.Context, id string) (*model.Event, error)
	List(ctx context.Context) ([]model.Event, error)
	MarkCancelled(ctx context.Context, id, reason string) (*model.Event, error)
}

// ParticipationLedger is the persistence contract for participations.
// Implemented by repository.ParticipationRepository.
type ParticipationLedger interface {
	ReserveAdmission(ctx context.Context, eventID, memberID string, pendingTTL time.Duration) (*model.AdmissionDecision, error)
	GetActive(ctx context.Context, eventID, memberID string) (*model.Participation, error)
	ListByEvent(ctx context.Context, eventID string) ([]model.Participation, error)
	CountActive(ctx context.Context, eventID string) (int, error)
	ReconcilePaid(ctx context.Context, eventID, memberID string) (*model.Participation, bool, error)
	SetPaymentStatus(ctx context.Context, id string, status model.PaymentStatus) error
	Cancel(ctx context.Context, id string) error
}

// PaymentLedger is the persistence contract for payment records.
// Implemented by repository.PaymentRepository.
type PaymentLedger interface {
	AttachSession(ctx context.Context, id, sessionID string) error
	DeleteReservation(ctx context.Context, id string) error
	GetBySessionID(ctx context.Context, sessionID string) (*model.PaymentRecord, error)
	GetByExternalPaymentID(ctx context.Context, externalPaymentID string) (*model.PaymentRecord, error)
	GetCompleted(ctx context.Context, eventID, memberID string) (*model.PaymentRecord, error)
	MarkCompleted(ctx context.Context, id, externalPaymentID string) (bool, error)
	MarkFailed(ctx context.Context, id, reason string) (bool, error)
	MarkRefunded(ctx context.Context, id, refundID string) (bool, error)
	PurgeAbandoned(ctx context.Context, olderThan time.Duration) (int64, error)
}
