package ledger

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/starline/starline-api/internal/middleware"
	"github.com/starline/starline-api/internal/pkg/database"
	"github.com/starline/starline-api/internal/pkg/errorhandler"
	"github.com/starline/starline-api/internal/pkg/jwt"
	"github.com/starline/starline-api/internal/pkg/response"
	"github.com/starline/starline-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// List handles GET /api/v1/wallet/transactions
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	query := r.URL.Query()
	filter := ListFilter{UserID: userID}
	filter.Limit, _ = strconv.Atoi(query.Get("limit"))
	filter.Offset, _ = strconv.Atoi(query.Get("offset"))

	if v := query.Get("type"); v != "" {
		t := Type(v)
		if !t.Valid() {
			response.ValidationError(w, map[string]string{"type": "Unknown transaction type"})
			return
		}
		filter.Type = &t
	}
	if v := query.Get("status"); v != "" {
		st := Status(v)
		filter.Status = &st
	}
	for name, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		v := query.Get(name)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			response.ValidationError(w, map[string]string{name: "Must be an RFC3339 timestamp"})
			return
		}
		*dst = &ts
	}

	items, total, err := h.svc.ListByUser(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	filter.normalize()
	response.WithMeta(w, items, response.Meta{
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
		More:   filter.Offset+len(items) < total,
	})
}

// Get handles GET /api/v1/wallet/transactions/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid transaction ID")
		return
	}

	tx, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tx.UserID != userID && middleware.GetRole(r.Context()) != jwt.RoleAdmin {
		response.NotFound(w, "Transaction not found")
		return
	}

	response.OK(w, tx)
}

type refundRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// Refund handles POST /api/admin/transactions/{id}/refund
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid transaction ID")
		return
	}

	var req refundRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	refund, err := h.svc.Refund(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}

	response.Created(w, refund)
}

// AdminRoutes mounts under /api/admin/transactions.
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{id}", h.Get)
	r.Post("/{id}/refund", h.Refund)
	return r
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var stErr *InvalidStateTransitionError

	switch {
	case errors.Is(err, ErrTransactionNotFound):
		response.NotFound(w, "Transaction not found")
	case errors.As(err, &stErr):
		errorhandler.HandleError(ctx, w, http.StatusConflict, "INVALID_STATE_TRANSITION", err.Error(), err)
	case errors.Is(err, ErrNotRefundable):
		response.Conflict(w, "NOT_REFUNDABLE", "Only completed wallet debits can be refunded")
	case errors.Is(err, ErrAlreadyBilled):
		response.Conflict(w, "ALREADY_BILLED", "Transaction was already processed")
	case errors.Is(err, database.ErrStorageUnavailable), errors.Is(err, database.ErrConflict):
		errorhandler.HandleError(ctx, w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Ledger is temporarily unavailable", err)
	default:
		errorhandler.HandleError(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", err)
	}
}
