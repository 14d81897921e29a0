// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eventra/participation-service/internal/model"
	"github.com/eventra/participation-service/internal/repository"
	"github.com/eventra/participation-service/internal/service"
)

// memberIDHeader carries the authenticated member identity, installed by
// the fronting auth layer. Authentication itself is out of scope here.
const memberIDHeader = "X-Member-ID"

// EventHandler holds all HTTP handlers for the participation API.
type EventHandler struct {
	events     *service.EventService
	admissions *service.AdmissionController
	refunds    *service.RefundCoordinator
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(
	events *service.EventService,
	admissions *service.AdmissionController,
	refunds *service.RefundCoordinator,
) *EventHandler {
	return &EventHandler{events: events, admissions: admissions, refunds: refunds}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// ─── Event CRUD ───────────────────────────────────────────────────────────────

// CreateEvent handles POST /events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	event, err := h.events.CreateEvent(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListEvents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []model.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	event, err := h.events.GetEvent(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// ListParticipants handles GET /events/{id}/participants
func (h *EventHandler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	parts, err := h.events.ListParticipants(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to list participants")
		return
	}

	if parts == nil {
		parts = []model.Participation{}
	}

	writeJSON(w, http.StatusOK, parts)
}

// ─── Admission ────────────────────────────────────────────────────────────────

// RequestAdmission handles POST /events/{id}/admission
// Free events admit immediately; priced events answer with the gateway's
// checkout URL.
func (h *EventHandler) RequestAdmission(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")
	memberID := r.Header.Get(memberIDHeader)
	if memberID == "" {
		writeError(w, http.StatusUnauthorized, "missing member identity")
		return
	}

	result, err := h.admissions.RequestAdmission(r.Context(), eventID, memberID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "event not found")
		case errors.Is(err, repository.ErrEventCancelled):
			writeError(w, http.StatusBadRequest, "event has been cancelled")
		case errors.Is(err, repository.ErrEventFull):
			writeError(w, http.StatusBadRequest, "event is fully booked")
		case errors.Is(err, repository.ErrAlreadyParticipating):
			writeError(w, http.StatusConflict, "you already participate in this event")
		case errors.Is(err, repository.ErrPaymentInProgress):
			writeError(w, http.StatusConflict, "a payment for this event is already in progress")
		default:
			writeError(w, http.StatusBadGateway, "admission failed: "+err.Error())
		}
		return
	}

	if result.Action == model.ActionJoinFree {
		writeJSON(w, http.StatusCreated, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ─── Cancellation and refunds ─────────────────────────────────────────────────

// CancelEvent handles POST /events/{id}/cancel
// Organizer-only. Always answers with the refund/notification summary,
// even when individual refunds failed.
func (h *EventHandler) CancelEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req model.CancelEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	summary, err := h.refunds.CancelEvent(r.Context(), id, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "event not found")
		case errors.Is(err, repository.ErrEventCancelled):
			writeError(w, http.StatusConflict, "event is already cancelled")
		default:
			writeError(w, http.StatusInternalServerError, "failed to cancel event")
		}
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// Unregister handles DELETE /events/{id}/participants/{memberID}
// Triggers a best-effort refund before removing the participation.
func (h *EventHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")
	memberID := chi.URLParam(r, "memberID")

	if err := h.refunds.Unregister(r.Context(), eventID, memberID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "participation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to unregister")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
