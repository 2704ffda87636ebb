package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starline/starline-api/internal/domain/billing"
	"github.com/starline/starline-api/internal/pkg/database"
	"github.com/starline/starline-api/internal/pkg/invoicing"
)

const testSecret = "whsec_test"

type fakeConfirmer struct {
	events []billing.PaymentEvent
	out    *billing.PaymentOutcome
	err    error
}

func (f *fakeConfirmer) ConfirmExternalPayment(_ context.Context, ev billing.PaymentEvent) (*billing.PaymentOutcome, error) {
	f.events = append(f.events, ev)
	if f.err != nil {
		return nil, f.err
	}
	if f.out != nil {
		return f.out, nil
	}
	return &billing.PaymentOutcome{}, nil
}

func webhookBody(eventID, invoiceID, status string) string {
	return fmt.Sprintf(`{"event_id":%q,"type":"invoice.updated","data":{"object":{"invoice":{"id":%q,"status":%q}}}}`,
		eventID, invoiceID, status)
}

func post(h *Handler, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(invoicing.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	h.WebhookRoutes().ServeHTTP(rec, req)
	return rec
}

func TestWebhook_AppliesSignedEvent(t *testing.T) {
	confirmer := &fakeConfirmer{}
	h := NewHandler(confirmer, testSecret)

	body := webhookBody("evt_1", "inv_1", "PAID")
	rec := post(h, body, invoicing.GenerateSignature([]byte(body), testSecret))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, confirmer.events, 1)
	assert.Equal(t, billing.PaymentEvent{DeliveryID: "evt_1", InvoiceID: "inv_1", Status: invoicing.StatusCompleted}, confirmer.events[0])

	var env struct {
		Data struct {
			Duplicate bool `json:"duplicate"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.False(t, env.Data.Duplicate)
}

func TestWebhook_ReportsDuplicates(t *testing.T) {
	confirmer := &fakeConfirmer{out: &billing.PaymentOutcome{Duplicate: true}}
	h := NewHandler(confirmer, testSecret)

	body := webhookBody("evt_1", "inv_1", "FAILED")
	rec := post(h, body, invoicing.GenerateSignature([]byte(body), testSecret))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"duplicate":true`)
}

func TestWebhook_Errors(t *testing.T) {
	body := webhookBody("evt_1", "inv_1", "PAID")
	signed := invoicing.GenerateSignature([]byte(body), testSecret)

	cases := []struct {
		name      string
		body      string
		signature string
		err       error
		want      int
	}{
		{"missing signature", body, "", nil, http.StatusUnauthorized},
		{"wrong secret", body, invoicing.GenerateSignature([]byte(body), "other"), nil, http.StatusUnauthorized},
		{"bad payload", "{}", invoicing.GenerateSignature([]byte("{}"), testSecret), nil, http.StatusBadRequest},
		{"unknown invoice", body, signed, billing.ErrUnknownPayment, http.StatusNotFound},
		{"storage down", body, signed, database.ErrStorageUnavailable, http.StatusServiceUnavailable},
		{"unexpected", body, signed, fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			confirmer := &fakeConfirmer{err: tc.err}
			rec := post(NewHandler(confirmer, testSecret), tc.body, tc.signature)
			assert.Equal(t, tc.want, rec.Code)
			if tc.want == http.StatusUnauthorized || tc.want == http.StatusBadRequest {
				assert.Empty(t, confirmer.events)
			}
		})
	}
}
