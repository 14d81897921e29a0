package gateway_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventra/participation-service/internal/gateway"
)

func signedHeader(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestSignatureVerifier(t *testing.T) {
	const secret = "whsec_test"
	body := []byte(`{"id":"evt_1","type":"session.completed"}`)
	now := time.Now().Unix()

	tests := []struct {
		name    string
		header  string
		body    []byte
		wantErr bool
	}{
		{
			name:   "valid_signature",
			header: signedHeader(secret, now, body),
			body:   body,
		},
		{
			name:    "wrong_secret",
			header:  signedHeader("other-secret", now, body),
			body:    body,
			wantErr: true,
		},
		{
			name:    "tampered_body",
			header:  signedHeader(secret, now, body),
			body:    []byte(`{"id":"evt_1","type":"refund.created"}`),
			wantErr: true,
		},
		{
			name:    "missing_header",
			header:  "",
			body:    body,
			wantErr: true,
		},
		{
			name:    "garbage_header",
			header:  "nonsense",
			body:    body,
			wantErr: true,
		},
		{
			name:    "expired_timestamp",
			header:  signedHeader(secret, time.Now().Add(-time.Hour).Unix(), body),
			body:    body,
			wantErr: true,
		},
		{
			name:    "future_timestamp",
			header:  signedHeader(secret, time.Now().Add(time.Hour).Unix(), body),
			body:    body,
			wantErr: true,
		},
	}

	verifier := gateway.NewSignatureVerifier(secret, 5*time.Minute)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := verifier.Verify(tc.header, tc.body)
			if tc.wantErr {
				assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSignatureVerifier_EmptySecretRejectsEverything(t *testing.T) {
	verifier := gateway.NewSignatureVerifier("", 5*time.Minute)
	body := []byte(`{}`)
	err := verifier.Verify(signedHeader("", time.Now().Unix(), body), body)
	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
}

func TestParseEvent(t *testing.T) {
	body := []byte(`{
		"id": "evt_42",
		"type": "refund.updated",
		"data": {
			"session_id": "sess_1",
			"payment_intent": "pi_1",
			"refund_id": "re_1",
			"refund_status": "succeeded"
		}
	}`)

	evt, err := gateway.ParseEvent(body)
	require.NoError(t, err)

	assert.Equal(t, "evt_42", evt.ID)
	assert.Equal(t, gateway.EventRefundUpdated, evt.Type)
	assert.Equal(t, "sess_1", evt.SessionID)
	assert.Equal(t, "pi_1", evt.PaymentIntentID)
	assert.Equal(t, "re_1", evt.RefundID)
	assert.Equal(t, "succeeded", evt.RefundStatus)
	assert.True(t, evt.Known())
}

func TestParseEvent_UnknownTypeIsNotKnown(t *testing.T) {
	evt, err := gateway.ParseEvent([]byte(`{"id":"evt_1","type":"customer.created","data":{}}`))
	require.NoError(t, err)
	assert.False(t, evt.Known())
}

func TestParseEvent_MalformedBody(t *testing.T) {
	_, err := gateway.ParseEvent([]byte(`{broken`))
	assert.Error(t, err)
}
