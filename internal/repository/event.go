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

const eventColumns = `id, name, description, capacity, price, currency,
	cancelled, cancellation_reason, created_at`

// EventRepository handles persistence for events (the event catalog).
type EventRepository struct {
	db *pgxpool.Pool
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// Create inserts a new event and returns it with a generated UUID.
func (r *EventRepository) Create(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	event := &model.Event{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Capacity:    req.Capacity,
		Price:       req.Price,
		Currency:    req.Currency,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO events (id, name, description, capacity, price, currency, cancelled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)`,
		event.ID, event.Name, event.Description, event.Capacity,
		event.Price, event.Currency, event.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return event, nil
}

// List returns all events ordered by creation time descending.
func (r *EventRepository) List(ctx context.Context) ([]model.Event, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan event: %w", scanErr)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// GetByID returns a single event or ErrNotFound.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*model.Event, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id,
	)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

// MarkCancelled flips the cancelled flag exactly once. A second call
// returns ErrEventCancelled, an unknown id ErrNotFound.
func (r *EventRepository) MarkCancelled(ctx context.Context, id, reason string) (*model.Event, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE events
		 SET cancelled = TRUE, cancellation_reason = $2
		 WHERE id = $1 AND cancelled = FALSE
		 RETURNING `+eventColumns,
		id, reason,
	)
	e, err := scanEvent(row)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("cancel event: %w", err)
	}

	// Either the event does not exist or it was already cancelled.
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrEventCancelled
}

// scanEvent reads one event row from a pgx row or rows cursor.
func scanEvent(row pgx.Row) (*model.Event, error) {
	var (
		e      model.Event
		reason *string
	)
	err := row.Scan(&e.ID, &e.Name, &e.Description, &e.Capacity, &e.Price,
		&e.Currency, &e.Cancelled, &reason, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if reason != nil {
		e.CancellationReason = *reason
	}
	return &e, nil
}
