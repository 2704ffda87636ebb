package audit

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/starline/starline-api/internal/pkg/errorhandler"
	"github.com/starline/starline-api/internal/pkg/response"
	"github.com/starline/starline-api/internal/pkg/storage"
	"github.com/starline/starline-api/internal/pkg/validator"
)

type Handler struct {
	exporter *Exporter
}

func NewHandler(exporter *Exporter) *Handler {
	return &Handler{exporter: exporter}
}

type exportRequest struct {
	UserID uuid.UUID  `json:"user_id" validate:"required"`
	From   *time.Time `json:"from"`
	To     *time.Time `json:"to"`
}

// Create handles POST /api/admin/exports
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	export, err := h.exporter.ExportUser(r.Context(), req.UserID, req.From, req.To)
	switch {
	case errors.Is(err, ErrInvalidRange):
		response.ValidationError(w, map[string]string{"to": "Must not be before from"})
		return
	case errors.Is(err, storage.ErrNotConfigured):
		response.ServiceUnavailable(w, "EXPORTS_DISABLED", "Ledger exports are not configured")
		return
	case err != nil:
		errorhandler.HandleError(r.Context(), w, http.StatusBadGateway, "EXPORT_FAILED", "Export could not be written", err)
		return
	}

	response.Created(w, export)
}

// Routes mounts under /api/admin/exports.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	return r
}
