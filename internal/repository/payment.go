package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventra/participation-service/internal/model"
)

const paymentColumns = `id, event_id, member_id, amount, currency, status,
	external_session_id, external_payment_id, external_refund_id,
	failure_reason, created_at, completed_at, refunded_at`

// PaymentRepository handles persistence for payment records (the payment
// ledger). Status transitions are single-row conditional updates guarded by
// the expected current status, so a stale or replayed webhook applies
// nothing instead of overwriting newer state.
type PaymentRepository struct {
	db *pgxpool.Pool
}

// NewPaymentRepository constructs a PaymentRepository.
func NewPaymentRepository(db *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// AttachSession assigns the gateway session id to a reservation exactly
// once. The id is immutable after assignment.
func (r *PaymentRepository) AttachSession(ctx context.Context, id, sessionID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE payments SET external_session_id = $2
		 WHERE id = $1 AND external_session_id IS NULL`,
		id, sessionID,
	)
	if err != nil {
		return fmt.Errorf("attach session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment %s already has a session id", id)
	}
	return nil
}

// DeleteReservation removes a PENDING reservation, typically after the
// gateway refused to open a session for it.
func (r *PaymentRepository) DeleteReservation(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM payments WHERE id = $1 AND status = 'PENDING'`, id,
	)
	if err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}
	return nil
}

// GetBySessionID locates a payment record by the gateway session id.
func (r *PaymentRepository) GetBySessionID(ctx context.Context, sessionID string) (*model.PaymentRecord, error) {
	return r.getOne(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE external_session_id = $1`,
		sessionID)
}

// GetByExternalPaymentID locates a payment record by the gateway's
// payment-intent id, set when the session completed.
func (r *PaymentRepository) GetByExternalPaymentID(ctx context.Context, externalPaymentID string) (*model.PaymentRecord, error) {
	return r.getOne(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE external_payment_id = $1`,
		externalPaymentID)
}

// GetCompleted returns the COMPLETED payment record for the pair, or
// ErrPaymentNotFound. An already refunded record no longer qualifies, which
// is what makes a second refund attempt fail instead of double-refunding.
func (r *PaymentRepository) GetCompleted(ctx context.Context, eventID, memberID string) (*model.PaymentRecord, error) {
	return r.getOne(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE event_id = $1 AND member_id = $2 AND status = 'COMPLETED'
		 ORDER BY created_at DESC
		 LIMIT 1`,
		eventID, memberID)
}

// MarkCompleted transitions PENDING → COMPLETED, recording the gateway's
// payment-intent id. Returns false when the guard fails (already completed,
// failed or refunded), which callers treat as an idempotent replay.
func (r *PaymentRepository) MarkCompleted(ctx context.Context, id, externalPaymentID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE payments
		 SET status = 'COMPLETED', external_payment_id = $2, completed_at = $3
		 WHERE id = $1 AND status = 'PENDING'`,
		id, externalPaymentID, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("mark completed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed transitions PENDING → FAILED with the gateway's reason.
func (r *PaymentRepository) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE payments
		 SET status = 'FAILED', failure_reason = $2
		 WHERE id = $1 AND status = 'PENDING'`,
		id, reason,
	)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkRefunded transitions COMPLETED → REFUNDED, recording the refund id.
// A record already REFUNDED fails the guard, so a late SessionCompleted
// replay can never have regressed it and a duplicate refund never applies.
func (r *PaymentRepository) MarkRefunded(ctx context.Context, id, refundID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE payments
		 SET status = 'REFUNDED', external_refund_id = $2, refunded_at = $3
		 WHERE id = $1 AND status = 'COMPLETED'`,
		id, refundID, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("mark refunded: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// PurgeAbandoned deletes PENDING records older than the TTL. They no longer
// reserve slots; this just keeps the table tidy.
func (r *PaymentRepository) PurgeAbandoned(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := r.db.Exec(ctx,
		`DELETE FROM payments WHERE status = 'PENDING' AND created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purge abandoned payments: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PaymentRepository) getOne(ctx context.Context, query string, args ...any) (*model.PaymentRecord, error) {
	row := r.db.QueryRow(ctx, query, args...)
	rec, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return rec, nil
}

// scanPayment reads one payment row.
func scanPayment(row pgx.Row) (*model.PaymentRecord, error) {
	var (
		rec                                    model.PaymentRecord
		sessionID, paymentID, refundID, reason *string
	)
	err := row.Scan(&rec.ID, &rec.EventID, &rec.MemberID, &rec.Amount,
		&rec.Currency, &rec.Status, &sessionID, &paymentID, &refundID,
		&reason, &rec.CreatedAt, &rec.CompletedAt, &rec.RefundedAt)
	if err != nil {
		return nil, err
	}
	if sessionID != nil {
		rec.ExternalSessionID = *sessionID
	}
	if paymentID != nil {
		rec.ExternalPaymentID = *paymentID
	}
	if refundID != nil {
		rec.ExternalRefundID = *refundID
	}
	if reason != nil {
		rec.FailureReason = *reason
	}
	return &rec, nil
}
