package invoicing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateInvoice(t *testing.T) {
	var got invoiceEnvelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/invoices" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing api key")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"invoice": map[string]interface{}{
				"id":          "inv_1",
				"status":      "UNPAID",
				"amount":      "12.50",
				"currency":    "USD",
				"payment_url": "https://pay.example/inv_1",
			},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "key", LocationID: "loc"})
	inv, err := c.CreateInvoice(context.Background(), InvoiceRequest{
		ContactID:      "user-1",
		AmountMinor:    1250,
		Currency:       "USD",
		IdempotencyKey: "tx-1",
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}

	if got.Invoice.Amount != "12.50" || got.Invoice.LocationID != "loc" || got.IdempotencyKey != "tx-1" {
		t.Fatalf("unexpected request body: %+v", got)
	}
	if inv.ID != "inv_1" || inv.Status != StatusPending || inv.AmountMinor != 1250 {
		t.Fatalf("unexpected invoice: %+v", inv)
	}
}

func TestCreateInvoice_Validation(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:0"})

	if _, err := c.CreateInvoice(context.Background(), InvoiceRequest{ContactID: "u", AmountMinor: 0}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for zero amount, got %v", err)
	}
	if _, err := c.CreateInvoice(context.Background(), InvoiceRequest{AmountMinor: 10}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for missing contact, got %v", err)
	}
	if _, err := NewClient(Config{}).GetInvoice(context.Background(), "inv"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestGetInvoice_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/invoices/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})

	if _, err := c.GetInvoice(context.Background(), "missing"); !errors.Is(err, ErrInvoiceNotFound) {
		t.Fatalf("expected ErrInvoiceNotFound, got %v", err)
	}

	_, err := c.GetInvoice(context.Background(), "other")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.Temporary() {
		t.Fatalf("expected temporary APIError, got %v", err)
	}
}
