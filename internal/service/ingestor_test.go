package service_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventra/participation-service/internal/gateway"
	"github.com/eventra/participation-service/internal/model"
	"github.com/eventra/participation-service/internal/notify"
	"github.com/eventra/participation-service/internal/service"
)

const testSecret = "whsec_test"

func sign(secret string, body []byte) string {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func newIngestor(store *memStore, dispatcher *fakeDispatcher) *service.Ingestor {
	log := slog.Default()
	verifier := gateway.NewSignatureVerifier(testSecret, 5*time.Minute)
	orch := service.NewOrchestrator(store, store, store, log)
	return service.NewIngestor(verifier, orch, notify.NewRunner(dispatcher, log), log)
}

func TestIngest_RejectsInvalidSignature(t *testing.T) {
	store := newMemStore()
	event := store.addEvent(10, "10.00")
	rec := store.addPayment(event.ID, "member-1", model.PaymentRecordPending, "sess_1", "")
	ingestor := newIngestor(store, &fakeDispatcher{})

	body := []byte(`{"id":"evt_1","type":"session.completed","data":{"session_id":"sess_1","payment_intent":"pi_1"}}`)

	err := ingestor.Ingest(context.Background(), sign("wrong-secret", body), body)
	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
	assert.Equal(t, model.PaymentRecordPending, store.payment(rec.ID).Status,
		"a rejected delivery must not change state")

	err = ingestor.Ingest(context.Background(), "", body)
	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
}

func TestIngest_AppliesVerifiedCompletion(t *testing.T) {
	store := newMemStore()
	dispatcher := &fakeDispatcher{}
	event := store.addEvent(10, "10.00")
	rec := store.addPayment(event.ID, "member-1", model.PaymentRecordPending, "sess_1", "")
	ingestor := newIngestor(store, dispatcher)

	body := []byte(`{"id":"evt_1","type":"session.completed","data":{"session_id":"sess_1","payment_intent":"pi_1"}}`)

	require.NoError(t, ingestor.Ingest(context.Background(), sign(testSecret, body), body))

	assert.Equal(t, model.PaymentRecordCompleted, store.payment(rec.ID).Status)
	assert.Len(t, dispatcher.byKind(notify.KindPaymentConfirmed), 1,
		"side effects run after the transition")
}

func TestIngest_AcknowledgesUnknownEventType(t *testing.T) {
	store := newMemStore()
	dispatcher := &fakeDispatcher{}
	ingestor := newIngestor(store, dispatcher)

	body := []byte(`{"id":"evt_1","type":"account.updated","data":{}}`)

	assert.NoError(t, ingestor.Ingest(context.Background(), sign(testSecret, body), body))
	assert.Empty(t, dispatcher.sent)
}

func TestIngest_AcknowledgesMalformedBody(t *testing.T) {
	store := newMemStore()
	ingestor := newIngestor(store, &fakeDispatcher{})

	body := []byte(`{not json`)

	assert.NoError(t, ingestor.Ingest(context.Background(), sign(testSecret, body), body),
		"retrying the same bytes cannot succeed, so acknowledge")
}

func TestIngest_ReplayedDeliveryIsAcknowledged(t *testing.T) {
	store := newMemStore()
	dispatcher := &fakeDispatcher{}
	event := store.addEvent(10, "10.00")
	store.addPayment(event.ID, "member-1", model.PaymentRecordPending, "sess_1", "")
	ingestor := newIngestor(store, dispatcher)

	body := []byte(`{"id":"evt_1","type":"session.completed","data":{"session_id":"sess_1","payment_intent":"pi_1"}}`)

	require.NoError(t, ingestor.Ingest(context.Background(), sign(testSecret, body), body))
	require.NoError(t, ingestor.Ingest(context.Background(), sign(testSecret, body), body))

	assert.Len(t, dispatcher.byKind(notify.KindPaymentConfirmed), 1,
		"the duplicate delivery fires no second confirmation")
}
