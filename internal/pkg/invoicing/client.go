// Package invoicing talks to the external processor that settles real-money charges.
package invoicing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/starline/starline-api/internal/pkg/errorhandler"
)

const serviceName = "invoicing"

var (
	ErrNotConfigured   = errors.New("invoicing client is not configured")
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrInvalidRequest  = errors.New("invalid invoice request")
)

// APIError is a non-2xx answer from the processor.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("invoicing api returned %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed if repeated.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Config struct {
	BaseURL    string
	APIKey     string
	LocationID string
	Timeout    time.Duration
}

type Client struct {
	httpClient *http.Client
	config     Config
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
	}
}

// InvoiceRequest asks the processor to bill ContactID for AmountMinor cents.
type InvoiceRequest struct {
	ContactID      string
	AmountMinor    int64
	Currency       string
	Description    string
	IdempotencyKey string
	Metadata       map[string]string
}

type Invoice struct {
	ID          string
	Status      Status
	RawStatus   string
	PaymentURL  string
	AmountMinor int64
	Currency    string
}

type invoiceBody struct {
	ID          string            `json:"id,omitempty"`
	LocationID  string            `json:"location_id,omitempty"`
	ContactID   string            `json:"contact_id,omitempty"`
	Amount      string            `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description,omitempty"`
	Status      string            `json:"status,omitempty"`
	PaymentURL  string            `json:"payment_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type invoiceEnvelope struct {
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
	Invoice        invoiceBody `json:"invoice"`
}

func (b invoiceBody) toInvoice() (*Invoice, error) {
	minor, err := ParseMinor(b.Amount)
	if err != nil {
		return nil, err
	}
	return &Invoice{
		ID:          b.ID,
		Status:      MapStatus(b.Status),
		RawStatus:   b.Status,
		PaymentURL:  b.PaymentURL,
		AmountMinor: minor,
		Currency:    b.Currency,
	}, nil
}

// CreateInvoice registers a new invoice. Repeating a request with the same
// IdempotencyKey returns the original invoice.
func (c *Client) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	if req.AmountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be > 0", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.ContactID) == "" {
		return nil, fmt.Errorf("%w: contact_id must be non-empty", ErrInvalidRequest)
	}

	payload := invoiceEnvelope{
		IdempotencyKey: req.IdempotencyKey,
		Invoice: invoiceBody{
			LocationID:  c.config.LocationID,
			ContactID:   req.ContactID,
			Amount:      FormatMinor(req.AmountMinor),
			Currency:    req.Currency,
			Description: req.Description,
			Metadata:    req.Metadata,
		},
	}

	var out invoiceEnvelope
	if err := c.do(ctx, http.MethodPost, "/v2/invoices", payload, &out); err != nil {
		return nil, err
	}
	return out.Invoice.toInvoice()
}

// GetInvoice fetches the current state of an invoice.
func (c *Client) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: invoice id must be non-empty", ErrInvalidRequest)
	}

	var out invoiceEnvelope
	if err := c.do(ctx, http.MethodGet, "/v2/invoices/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return out.Invoice.toInvoice()
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	if c == nil || c.httpClient == nil || strings.TrimSpace(c.config.BaseURL) == "" {
		return ErrNotConfigured
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode invoicing request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	endpoint := strings.TrimRight(c.config.BaseURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build invoicing request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		errorhandler.LogExternalServiceError(ctx, serviceName, path, 0, err, "")
		return fmt.Errorf("invoicing api call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read invoicing response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrInvoiceNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
		errorhandler.LogExternalServiceError(ctx, serviceName, path, resp.StatusCode, apiErr, string(raw))
		return apiErr
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode invoicing response: %w", err)
	}
	return nil
}
