package service_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/eventra/participation-service/internal/gateway"
	"github.com/eventra/participation-service/internal/model"
	"github.com/eventra/participation-service/internal/notify"
	"github.com/eventra/participation-service/internal/repository"
)

// memStore is an in-memory implementation of the three ledger contracts.
// It mirrors the repository semantics, including the serialised admission
// decision (the mutex stands in for the row lock) and the guarded status
// transitions.
type memStore struct {
	mu        sync.Mutex
	events    map[string]*model.Event
	partOrder []string
	parts     map[string]*model.Participation
	payOrder  []string
	payments  map[string]*model.PaymentRecord
}

func newMemStore() *memStore {
	return &memStore{
		events:   make(map[string]*model.Event),
		parts:    make(map[string]*model.Participation),
		payments: make(map[string]*model.PaymentRecord),
	}
}

func (s *memStore) addEvent(capacity int, price string) *model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &model.Event{
		ID:        uuid.New().String(),
		Name:      "test event",
		Capacity:  capacity,
		Price:     decimal.RequireFromString(price),
		Currency:  "EUR",
		CreatedAt: time.Now().UTC(),
	}
	s.events[e.ID] = e
	return e
}

func (s *memStore) addParticipation(eventID, memberID string, status model.ParticipationStatus, ps model.PaymentStatus) *model.Participation {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &model.Participation{
		ID:            uuid.New().String(),
		EventID:       eventID,
		MemberID:      memberID,
		Status:        status,
		PaymentStatus: ps,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	s.parts[p.ID] = p
	s.partOrder = append(s.partOrder, p.ID)
	return p
}

func (s *memStore) addPayment(eventID, memberID string, status model.PaymentRecordStatus, sessionID, paymentIntentID string) *model.PaymentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &model.PaymentRecord{
		ID:                uuid.New().String(),
		EventID:           eventID,
		MemberID:          memberID,
		Amount:            decimal.RequireFromString("10.00"),
		Currency:          "EUR",
		Status:            status,
		ExternalSessionID: sessionID,
		ExternalPaymentID: paymentIntentID,
		CreatedAt:         time.Now().UTC(),
	}
	s.payments[rec.ID] = rec
	s.payOrder = append(s.payOrder, rec.ID)
	return rec
}

// ─── EventCatalog ─────────────────────────────────────────────────────────────

func (s *memStore) Create(_ context.Context, req model.CreateEventRequest) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &model.Event{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Capacity:  req.Capacity,
		Price:     req.Price,
		Currency:  req.Currency,
		CreatedAt: time.Now().UTC(),
	}
	s.events[e.ID] = e
	return e, nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *memStore) List(_ context.Context) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Event
	for _, e := range s.events {
		out = append(out, *e)
	}
	return out, nil
}

func (s *memStore) MarkCancelled(_ context.Context, id, reason string) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if e.Cancelled {
		return nil, repository.ErrEventCancelled
	}
	e.Cancelled = true
	e.CancellationReason = reason
	cp := *e
	return &cp, nil
}

// ─── ParticipationLedger ──────────────────────────────────────────────────────

func (s *memStore) ReserveAdmission(_ context.Context, eventID, memberID string, pendingTTL time.Duration) (*model.AdmissionDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if e.Cancelled {
		return nil, repository.ErrEventCancelled
	}

	for _, p := range s.parts {
		if p.EventID == eventID && p.MemberID == memberID && p.Status != model.ParticipationCancelled {
			return nil, repository.ErrAlreadyParticipating
		}
	}

	cutoff := time.Now().UTC().Add(-pendingTTL)
	for _, rec := range s.payments {
		if rec.EventID == eventID && rec.MemberID == memberID &&
			rec.Status == model.PaymentRecordPending && rec.CreatedAt.After(cutoff) {
			return nil, repository.ErrPaymentInProgress
		}
	}
	for id, rec := range s.payments {
		if rec.EventID == eventID && rec.MemberID == memberID &&
			rec.Status == model.PaymentRecordPending && !rec.CreatedAt.After(cutoff) {
			delete(s.payments, id)
		}
	}

	taken := 0
	for _, p := range s.parts {
		if p.EventID == eventID && p.Status != model.ParticipationCancelled {
			taken++
		}
	}
	for _, rec := range s.payments {
		if rec.EventID == eventID && rec.Status == model.PaymentRecordPending && rec.CreatedAt.After(cutoff) {
			taken++
		}
	}
	if taken >= e.Capacity {
		return nil, repository.ErrEventFull
	}

	now := time.Now().UTC()
	evCopy := *e
	decision := &model.AdmissionDecision{Event: &evCopy}
	if e.Price.IsZero() {
		p := &model.Participation{
			ID:            uuid.New().String(),
			EventID:       eventID,
			MemberID:      memberID,
			Status:        model.ParticipationApproved,
			PaymentStatus: model.PaymentStatusFree,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		s.parts[p.ID] = p
		s.partOrder = append(s.partOrder, p.ID)
		cp := *p
		decision.Action = model.ActionJoinFree
		decision.Participation = &cp
	} else {
		rec := &model.PaymentRecord{
			ID:        uuid.New().String(),
			EventID:   eventID,
			MemberID:  memberID,
			Amount:    e.Price,
			Currency:  e.Currency,
			Status:    model.PaymentRecordPending,
			CreatedAt: now,
		}
		s.payments[rec.ID] = rec
		s.payOrder = append(s.payOrder, rec.ID)
		cp := *rec
		decision.Action = model.ActionOpenPaymentSession
		decision.Payment = &cp
	}
	return decision, nil
}

func (s *memStore) GetActive(_ context.Context, eventID, memberID string) (*model.Participation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.parts {
		if p.EventID == eventID && p.MemberID == memberID && p.Status != model.ParticipationCancelled {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) ListByEvent(_ context.Context, eventID string) ([]model.Participation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Participation
	for _, id := range s.partOrder {
		if p := s.parts[id]; p.EventID == eventID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *memStore) CountActive(_ context.Context, eventID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, p := range s.parts {
		if p.EventID == eventID && p.Status != model.ParticipationCancelled {
			count++
		}
	}
	return count, nil
}

func (s *memStore) ReconcilePaid(_ context.Context, eventID, memberID string) (*model.Participation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, p := range s.parts {
		if p.EventID == eventID && p.MemberID == memberID && p.Status != model.ParticipationCancelled {
			p.PaymentStatus = model.PaymentStatusPaid
			if p.Status == model.ParticipationPending || p.Status == model.ParticipationApproved {
				p.Status = model.ParticipationApproved
			}
			p.UpdatedAt = now
			cp := *p
			return &cp, false, nil
		}
	}
	p := &model.Participation{
		ID:            uuid.New().String(),
		EventID:       eventID,
		MemberID:      memberID,
		Status:        model.ParticipationApproved,
		PaymentStatus: model.PaymentStatusPaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.parts[p.ID] = p
	s.partOrder = append(s.partOrder, p.ID)
	cp := *p
	return &cp, true, nil
}

func (s *memStore) SetPaymentStatus(_ context.Context, id string, status model.PaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.PaymentStatus = status
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memStore) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[id]
	if !ok || p.Status == model.ParticipationCancelled {
		return repository.ErrNotFound
	}
	p.Status = model.ParticipationCancelled
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// ─── PaymentLedger ────────────────────────────────────────────────────────────

func (s *memStore) AttachSession(_ context.Context, id, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.payments[id]
	if !ok {
		return repository.ErrPaymentNotFound
	}
	if rec.ExternalSessionID != "" {
		return fmt.Errorf("payment %s already has a session id", id)
	}
	rec.ExternalSessionID = sessionID
	return nil
}

func (s *memStore) DeleteReservation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.payments[id]; ok && rec.Status == model.PaymentRecordPending {
		delete(s.payments, id)
	}
	return nil
}

func (s *memStore) GetBySessionID(_ context.Context, sessionID string) (*model.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.payments {
		if rec.ExternalSessionID == sessionID && sessionID != "" {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, repository.ErrPaymentNotFound
}

func (s *memStore) GetByExternalPaymentID(_ context.Context, externalPaymentID string) (*model.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.payments {
		if rec.ExternalPaymentID == externalPaymentID && externalPaymentID != "" {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, repository.ErrPaymentNotFound
}

func (s *memStore) GetCompleted(_ context.Context, eventID, memberID string) (*model.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.payments {
		if rec.EventID == eventID && rec.MemberID == memberID && rec.Status == model.PaymentRecordCompleted {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, repository.ErrPaymentNotFound
}

func (s *memStore) MarkCompleted(_ context.Context, id, externalPaymentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.payments[id]
	if !ok || rec.Status != model.PaymentRecordPending {
		return false, nil
	}
	now := time.Now().UTC()
	rec.Status = model.PaymentRecordCompleted
	rec.ExternalPaymentID = externalPaymentID
	rec.CompletedAt = &now
	return true, nil
}

func (s *memStore) MarkFailed(_ context.Context, id, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.payments[id]
	if !ok || rec.Status != model.PaymentRecordPending {
		return false, nil
	}
	rec.Status = model.PaymentRecordFailed
	rec.FailureReason = reason
	return true, nil
}

func (s *memStore) MarkRefunded(_ context.Context, id, refundID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.payments[id]
	if !ok || rec.Status != model.PaymentRecordCompleted {
		return false, nil
	}
	now := time.Now().UTC()
	rec.Status = model.PaymentRecordRefunded
	rec.ExternalRefundID = refundID
	rec.RefundedAt = &now
	return true, nil
}

func (s *memStore) PurgeAbandoned(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	var purged int64
	for id, rec := range s.payments {
		if rec.Status == model.PaymentRecordPending && rec.CreatedAt.Before(cutoff) {
			delete(s.payments, id)
			purged++
		}
	}
	return purged, nil
}

func (s *memStore) payment(id string) *model.PaymentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.payments[id]; ok {
		cp := *rec
		return &cp
	}
	return nil
}

// ─── Collaborator fakes ───────────────────────────────────────────────────────

// fakeGateway records session and refund calls.
type fakeGateway struct {
	mu           sync.Mutex
	sessions     int
	refunds      []string
	failOpen     bool
	failRefund   bool
	nextSession  string
	nextRedirect string
	nextRefund   string
}

func (g *fakeGateway) OpenSession(_ context.Context, _ gateway.SessionRequest) (*gateway.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failOpen {
		return nil, fmt.Errorf("gateway unreachable")
	}
	g.sessions++
	id := g.nextSession
	if id == "" {
		id = fmt.Sprintf("sess_%d", g.sessions)
	}
	redirect := g.nextRedirect
	if redirect == "" {
		redirect = "https://pay.example.com/" + id
	}
	return &gateway.Session{ID: id, RedirectURL: redirect}, nil
}

func (g *fakeGateway) Refund(_ context.Context, paymentIntentID string) (*gateway.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failRefund {
		return nil, fmt.Errorf("gateway unreachable")
	}
	g.refunds = append(g.refunds, paymentIntentID)
	id := g.nextRefund
	if id == "" {
		id = fmt.Sprintf("re_%d", len(g.refunds))
	}
	return &gateway.RefundResult{ID: id, Status: "succeeded"}, nil
}

func (g *fakeGateway) refundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.refunds)
}

// fakeDispatcher records notifications.
type fakeDispatcher struct {
	mu   sync.Mutex
	sent []notify.SideEffect
	fail bool
}

func (d *fakeDispatcher) Notify(_ context.Context, memberID string, kind notify.Kind, payload map[string]any) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return false
	}
	d.sent = append(d.sent, notify.SideEffect{MemberID: memberID, Kind: kind, Payload: payload})
	return true
}

func (d *fakeDispatcher) byKind(kind notify.Kind) []notify.SideEffect {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []notify.SideEffect
	for _, e := range d.sent {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// fakeMail records mail sends.
type fakeMail struct {
	mu   sync.Mutex
	sent int
}

func (m *fakeMail) Send(_ context.Context, _, _, _ string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent++
	return true
}
