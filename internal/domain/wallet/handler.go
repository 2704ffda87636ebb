package wallet

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/starline/starline-api/internal/middleware"
	"github.com/starline/starline-api/internal/pkg/database"
	"github.com/starline/starline-api/internal/pkg/errorhandler"
	"github.com/starline/starline-api/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type walletResponse struct {
	UserID           uuid.UUID `json:"user_id"`
	Stars            int64     `json:"stars"`
	SecondaryBalance int64     `json:"secondary_balance"`
	TotalEarned      int64     `json:"total_earned"`
	TotalSpent       int64     `json:"total_spent"`
	SecondaryEarned  int64     `json:"secondary_earned"`
	SecondarySpent   int64     `json:"secondary_spent"`
}

// Get handles GET /api/v1/wallet
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	wl, err := h.svc.GetOrCreate(r.Context(), userID)
	if err != nil {
		if errors.Is(err, database.ErrStorageUnavailable) {
			errorhandler.HandleError(r.Context(), w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Wallet is temporarily unavailable", err)
			return
		}
		errorhandler.HandleError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", err)
		return
	}

	response.OK(w, walletResponse{
		UserID:           wl.UserID,
		Stars:            wl.Stars,
		SecondaryBalance: wl.SecondaryBalance,
		TotalEarned:      wl.TotalEarned,
		TotalSpent:       wl.TotalSpent,
		SecondaryEarned:  wl.SecondaryEarned,
		SecondarySpent:   wl.SecondarySpent,
	})
}
