package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/eventra/participation-service/internal/gateway"
	"github.com/eventra/participation-service/internal/service"
)

// signatureHeader carries the gateway's HMAC signature over the raw body.
const signatureHeader = "X-Gateway-Signature"

// WebhookHandler receives asynchronous payment gateway callbacks.
type WebhookHandler struct {
	ingestor *service.Ingestor
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(ingestor *service.Ingestor) *WebhookHandler {
	return &WebhookHandler{ingestor: ingestor}
}

// HandlePaymentWebhook handles POST /webhooks/payment
//
// The signature is computed over the exact raw bytes, so the body must not
// be parsed before verification. Any verified payload is answered 200
// regardless of the downstream business outcome; only signature failures
// are rejected.
func (h *WebhookHandler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if err := h.ingestor.Ingest(r.Context(), r.Header.Get(signatureHeader), body); err != nil {
		if errors.Is(err, gateway.ErrInvalidSignature) {
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		writeError(w, http.StatusInternalServerError, "webhook ingestion failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
