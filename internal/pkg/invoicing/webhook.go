package invoicing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Signature"

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
)

// Event is one invoice status notification.
type Event struct {
	DeliveryID string
	Type       string
	InvoiceID  string
	Status     Status
	RawStatus  string
}

type webhookPayload struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Data    struct {
		Object struct {
			Invoice struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"invoice"`
		} `json:"object"`
	} `json:"data"`
}

// ParseWebhook verifies the signature and decodes the event.
func ParseWebhook(payload []byte, signature, secret string) (*Event, error) {
	if !VerifySignature(payload, signature, secret) {
		return nil, ErrInvalidSignature
	}

	var p webhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	inv := p.Data.Object.Invoice
	if strings.TrimSpace(p.EventID) == "" || strings.TrimSpace(inv.ID) == "" {
		return nil, fmt.Errorf("%w: event_id and invoice id are required", ErrInvalidPayload)
	}

	return &Event{
		DeliveryID: p.EventID,
		Type:       p.Type,
		InvoiceID:  inv.ID,
		Status:     MapStatus(inv.Status),
		RawStatus:  inv.Status,
	}, nil
}

// VerifySignature validates an HMAC-SHA256 hex signature.
func VerifySignature(payload []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	given, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(given, sign(payload, secret))
}

// GenerateSignature signs payload the way the processor does.
func GenerateSignature(payload []byte, secret string) string {
	if secret == "" {
		return ""
	}
	return hex.EncodeToString(sign(payload, secret))
}

func sign(payload []byte, secret string) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return h.Sum(nil)
}
