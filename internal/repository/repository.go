// Package repository implements all database queries for the participation
// service. It uses pgx directly (no ORM) for transparency and performance.
package repository

import "errors"

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrEventCancelled is returned when the event has been cancelled.
var ErrEventCancelled = errors.New("event is cancelled")

// ErrEventFull is returned when an event has no remaining capacity.
var ErrEventFull = errors.New("event is fully booked")

// ErrAlreadyParticipating is returned when the member already holds a
// non-cancelled participation for the event.
var ErrAlreadyParticipating = errors.New("member already participates in this event")

// ErrPaymentInProgress is returned when the member has an open payment
// attempt for the event that has not yet expired.
var ErrPaymentInProgress = errors.New("payment already in progress for this event")

// ErrPaymentNotFound is returned when no matching payment record exists.
var ErrPaymentNotFound = errors.New("payment record not found")
