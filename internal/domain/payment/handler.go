package payment

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/starline/starline-api/internal/domain/billing"
	"github.com/starline/starline-api/internal/pkg/database"
	"github.com/starline/starline-api/internal/pkg/errorhandler"
	"github.com/starline/starline-api/internal/pkg/invoicing"
	"github.com/starline/starline-api/internal/pkg/response"
)

const maxWebhookBody = 1 << 20

// Confirmer applies processor status updates to the ledger.
type Confirmer interface {
	ConfirmExternalPayment(ctx context.Context, ev billing.PaymentEvent) (*billing.PaymentOutcome, error)
}

// Handler receives payment processor webhooks.
type Handler struct {
	confirmer Confirmer
	secret    string
}

func NewHandler(confirmer Confirmer, secret string) *Handler {
	return &Handler{confirmer: confirmer, secret: secret}
}

// Webhook handles POST /webhooks/payments
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(w, "Invalid webhook body")
		return
	}

	ev, err := invoicing.ParseWebhook(payload, r.Header.Get(invoicing.SignatureHeader), h.secret)
	if errors.Is(err, invoicing.ErrInvalidSignature) {
		log.Warn().Str("remote_addr", r.RemoteAddr).Msg("payment webhook signature rejected")
		response.Unauthorized(w, "invalid signature")
		return
	}
	if err != nil {
		response.BadRequest(w, "Invalid webhook payload")
		return
	}

	out, err := h.confirmer.ConfirmExternalPayment(r.Context(), billing.PaymentEvent{
		DeliveryID: ev.DeliveryID,
		InvoiceID:  ev.InvoiceID,
		Status:     ev.Status,
	})
	switch {
	case errors.Is(err, billing.ErrUnknownPayment):
		// The processor retries, which covers a webhook racing the invoice link.
		response.NotFound(w, "Unknown invoice")
		return
	case errors.Is(err, database.ErrStorageUnavailable), errors.Is(err, database.ErrConflict):
		errorhandler.HandleError(r.Context(), w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Try again later", err)
		return
	case err != nil:
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "Webhook not processed", err)
		return
	}

	log.Info().
		Str("delivery_id", ev.DeliveryID).
		Str("invoice_id", ev.InvoiceID).
		Str("status", string(ev.Status)).
		Bool("duplicate", out.Duplicate).
		Msg("payment webhook processed")
	response.OK(w, map[string]interface{}{"status": "ok", "duplicate": out.Duplicate})
}

// WebhookRoutes mounts under /webhooks. No auth; requests are signed.
func (h *Handler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/payments", h.Webhook)
	return r
}
