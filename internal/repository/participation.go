package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventra/participation-service/internal/model"
)

const participationColumns = `id, event_id, member_id, status, payment_status,
	created_at, updated_at`

// ParticipationRepository handles persistence for participations
// (the participation ledger).
type ParticipationRepository struct {
	db *pgxpool.Pool
}

// NewParticipationRepository constructs a ParticipationRepository.
func NewParticipationRepository(db *pgxpool.Pool) *ParticipationRepository {
	return &ParticipationRepository{db: db}
}

// ReserveAdmission performs the concurrency-safe admission decision inside
// a single serialised transaction.
//
// Two concurrent admissions for the last open slot race on the
// count-then-act capacity check. The naive read-then-write approach lets
// both requests read the same snapshot and both proceed, overbooking the
// event. SELECT ... FOR UPDATE acquires a row-level exclusive lock on the
// event row for the duration of the decision, so concurrent attempts are
// serialised and exactly one wins the last slot.
//
// A PENDING payment row doubles as a slot reservation: it is created here,
// inside the lock, and counted against capacity together with the active
// participations. The gateway session is opened by the caller after commit,
// so the row lock is never held across a network call.
func (r *ParticipationRepository) ReserveAdmission(ctx context.Context, eventID, memberID string, pendingTTL time.Duration) (*model.AdmissionDecision, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// Step 1: lock the event row for the duration of the decision.
	event := &model.Event{ID: eventID}
	err = tx.QueryRow(ctx,
		`SELECT name, capacity, price, currency, cancelled
		 FROM events
		 WHERE id = $1
		 FOR UPDATE`,
		eventID,
	).Scan(&event.Name, &event.Capacity, &event.Price, &event.Currency, &event.Cancelled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock event row: %w", err)
	}
	if event.Cancelled {
		return nil, ErrEventCancelled
	}

	// Step 2: reject duplicate participation. A participation missing after
	// a completed payment is healed by the orchestrator, never re-admitted.
	var dupCount int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM participations
		 WHERE event_id = $1 AND member_id = $2 AND status <> 'CANCELLED'`,
		eventID, memberID,
	).Scan(&dupCount)
	if err != nil {
		return nil, fmt.Errorf("check duplicate participation: %w", err)
	}
	if dupCount > 0 {
		return nil, ErrAlreadyParticipating
	}

	// Step 3: reject while a fresh payment attempt is still open. Attempts
	// older than the TTL count as abandoned and are ignored (the sweeper
	// purges them lazily).
	cutoff := time.Now().UTC().Add(-pendingTTL)
	var openCount int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM payments
		 WHERE event_id = $1 AND member_id = $2
		   AND status = 'PENDING' AND created_at > $3`,
		eventID, memberID, cutoff,
	).Scan(&openCount)
	if err != nil {
		return nil, fmt.Errorf("check open payment: %w", err)
	}
	if openCount > 0 {
		return nil, ErrPaymentInProgress
	}

	// Clear the member's abandoned attempts now; they would otherwise trip
	// the pending-uniqueness index when reserving again below.
	_, err = tx.Exec(ctx,
		`DELETE FROM payments
		 WHERE event_id = $1 AND member_id = $2
		   AND status = 'PENDING' AND created_at <= $3`,
		eventID, memberID, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("clear abandoned payments: %w", err)
	}

	// Step 4: capacity guard. Active participations plus unexpired PENDING
	// reservations together occupy the slots.
	var taken int
	err = tx.QueryRow(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM participations
		    WHERE event_id = $1 AND status <> 'CANCELLED')
		 + (SELECT COUNT(*) FROM payments
		    WHERE event_id = $1 AND status = 'PENDING' AND created_at > $2)`,
		eventID, cutoff,
	).Scan(&taken)
	if err != nil {
		return nil, fmt.Errorf("count taken slots: %w", err)
	}
	if taken >= event.Capacity {
		return nil, ErrEventFull
	}

	now := time.Now().UTC()
	decision := &model.AdmissionDecision{Event: event}

	if event.IsFree() {
		// Step 5a: free event, admit directly.
		p := &model.Participation{
			ID:            uuid.New().String(),
			EventID:       eventID,
			MemberID:      memberID,
			Status:        model.ParticipationApproved,
			PaymentStatus: model.PaymentStatusFree,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO participations (id, event_id, member_id, status, payment_status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			p.ID, p.EventID, p.MemberID, p.Status, p.PaymentStatus, p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("insert participation: %w", err)
		}
		decision.Action = model.ActionJoinFree
		decision.Participation = p
	} else {
		// Step 5b: priced event, reserve the slot with a PENDING payment
		// row. The gateway session id is attached after the session opens.
		rec := &model.PaymentRecord{
			ID:        uuid.New().String(),
			EventID:   eventID,
			MemberID:  memberID,
			Amount:    event.Price,
			Currency:  event.Currency,
			Status:    model.PaymentRecordPending,
			CreatedAt: now,
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO payments (id, event_id, member_id, amount, currency, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			rec.ID, rec.EventID, rec.MemberID, rec.Amount, rec.Currency, rec.Status, rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("insert payment reservation: %w", err)
		}
		decision.Action = model.ActionOpenPaymentSession
		decision.Payment = rec
	}

	// Only now does any other request see the taken slot.
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return decision, nil
}

// GetActive returns the non-cancelled participation for the pair, or
// ErrNotFound.
func (r *ParticipationRepository) GetActive(ctx context.Context, eventID, memberID string) (*model.Participation, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+participationColumns+` FROM participations
		 WHERE event_id = $1 AND member_id = $2 AND status <> 'CANCELLED'`,
		eventID, memberID,
	)
	p, err := scanParticipation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get participation: %w", err)
	}
	return p, nil
}

// ListByEvent returns all participations for a given event.
func (r *ParticipationRepository) ListByEvent(ctx context.Context, eventID string) ([]model.Participation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+participationColumns+` FROM participations
		 WHERE event_id = $1
		 ORDER BY created_at ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list participations: %w", err)
	}
	defer rows.Close()

	var parts []model.Participation
	for rows.Next() {
		p, scanErr := scanParticipation(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan participation: %w", scanErr)
		}
		parts = append(parts, *p)
	}
	return parts, rows.Err()
}

// CountActive returns the number of slot-occupying participations.
func (r *ParticipationRepository) CountActive(ctx context.Context, eventID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM participations
		 WHERE event_id = $1 AND status <> 'CANCELLED'`,
		eventID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count participations: %w", err)
	}
	return count, nil
}

// ReconcilePaid guarantees exactly one APPROVED/PAID participation for the
// pair after a completed payment. If none exists (the originating request
// died between opening the session and this webhook), it is created; if one
// exists its payment status becomes PAID and a not-yet-confirmed status
// becomes APPROVED. Returns whether a new row was created.
func (r *ParticipationRepository) ReconcilePaid(ctx context.Context, eventID, memberID string) (*model.Participation, bool, error) {
	now := time.Now().UTC()

	row := r.db.QueryRow(ctx,
		`UPDATE participations
		 SET payment_status = 'PAID',
		     status = CASE WHEN status IN ('PENDING', 'APPROVED') THEN 'APPROVED' ELSE status END,
		     updated_at = $3
		 WHERE event_id = $1 AND member_id = $2 AND status <> 'CANCELLED'
		 RETURNING `+participationColumns,
		eventID, memberID, now,
	)
	p, err := scanParticipation(row)
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("reconcile participation: %w", err)
	}

	p = &model.Participation{
		ID:            uuid.New().String(),
		EventID:       eventID,
		MemberID:      memberID,
		Status:        model.ParticipationApproved,
		PaymentStatus: model.PaymentStatusPaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO participations (id, event_id, member_id, status, payment_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.EventID, p.MemberID, p.Status, p.PaymentStatus, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("create healed participation: %w", err)
	}
	return p, true, nil
}

// SetPaymentStatus updates the payment status of a participation.
func (r *ParticipationRepository) SetPaymentStatus(ctx context.Context, id string, status model.PaymentStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE participations SET payment_status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Cancel terminates a participation, freeing its slot.
func (r *ParticipationRepository) Cancel(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE participations SET status = 'CANCELLED', updated_at = $2
		 WHERE id = $1 AND status <> 'CANCELLED'`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("cancel participation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanParticipation reads one participation row.
func scanParticipation(row pgx.Row) (*model.Participation, error) {
	var p model.Participation
	err := row.Scan(&p.ID, &p.EventID, &p.MemberID, &p.Status, &p.PaymentStatus,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
