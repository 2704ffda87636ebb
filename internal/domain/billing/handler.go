package billing

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/starline/starline-api/internal/domain/ledger"
	"github.com/starline/starline-api/internal/domain/wallet"
	"github.com/starline/starline-api/internal/middleware"
	"github.com/starline/starline-api/internal/pkg/database"
	"github.com/starline/starline-api/internal/pkg/errorhandler"
	"github.com/starline/starline-api/internal/pkg/response"
	"github.com/starline/starline-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// decode reads and validates a JSON body, writing the error response itself.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := response.DecodeJSON(r.Body, dst); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return false
	}
	if errs := validator.Validate(dst); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid "+what+" ID")
		return uuid.Nil, false
	}
	return id, true
}

func idempotencyKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.Header.Get(IdempotencyKeyHeader)
	if err := validator.ValidateVar(key, "idempotency_key"); err != nil {
		response.ValidationError(w, map[string]string{IdempotencyKeyHeader: "Must be at most 200 characters without whitespace"})
		return "", false
	}
	return key, true
}

func currentUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return uuid.Nil, false
	}
	return userID, true
}

// Calls

// InitiateCall handles POST /api/v1/calls
func (h *Handler) InitiateCall(w http.ResponseWriter, r *http.Request) {
	var req InitiateCallRequest
	if !decode(w, r, &req) {
		return
	}

	call, err := h.svc.InitiateCall(r.Context(), InitiateCallInput{
		CallID:        idOrNil(req.CallID),
		CallerID:      req.CallerID,
		ReceiverID:    req.ReceiverID,
		RatePerMinute: req.RatePerMinute,
		Currency:      wallet.Currency(req.Currency),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, call)
}

// GetCall handles GET /api/v1/calls/{id}
func (h *Handler) GetCall(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "call")
	if !ok {
		return
	}
	call, err := h.svc.GetCall(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, call)
}

// StartCall handles POST /api/v1/calls/{id}/start
func (h *Handler) StartCall(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "call")
	if !ok {
		return
	}
	call, err := h.svc.StartCall(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, call)
}

// EndCall handles POST /api/v1/calls/{id}/end
func (h *Handler) EndCall(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "call")
	if !ok {
		return
	}
	var req EndCallRequest
	if !decode(w, r, &req) {
		return
	}

	call, err := h.svc.EndCall(r.Context(), id, req.DurationSeconds)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, call)
}

// Live parties

// StartLiveParty handles POST /api/v1/liveparties
func (h *Handler) StartLiveParty(w http.ResponseWriter, r *http.Request) {
	var req StartLivePartyRequest
	if !decode(w, r, &req) {
		return
	}

	party, err := h.svc.StartLiveParty(r.Context(), StartLivePartyInput{
		PartyID:             idOrNil(req.PartyID),
		HostID:              req.HostID,
		EntryFee:            req.EntryFee,
		ViewerRatePerMinute: req.ViewerRatePerMinute,
		Currency:            wallet.Currency(req.Currency),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, party)
}

// EndLiveParty handles POST /api/v1/liveparties/{id}/end
func (h *Handler) EndLiveParty(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "live party")
	if !ok {
		return
	}
	party, err := h.svc.EndLiveParty(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, party)
}

// JoinLiveParty handles POST /api/v1/liveparties/{id}/join
func (h *Handler) JoinLiveParty(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "live party")
	if !ok {
		return
	}

	res, err := h.svc.JoinLiveParty(r.Context(), id, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, res)
}

// ReportWatchTime handles POST /api/v1/liveparties/{id}/watch
func (h *Handler) ReportWatchTime(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "live party")
	if !ok {
		return
	}
	var req WatchReportRequest
	if !decode(w, r, &req) {
		return
	}

	bill, err := h.svc.BillViewerMinutes(r.Context(), id, req.UserID, req.MinutesWatched)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, bill)
}

// TipLiveParty handles POST /api/v1/liveparties/{id}/tips
func (h *Handler) TipLiveParty(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "live party")
	if !ok {
		return
	}
	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}
	var req TipRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.svc.TipLiveParty(r.Context(), id, userID, req.Amount, key)
	if errors.Is(err, ledger.ErrAlreadyBilled) && res != nil {
		response.OK(w, res)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, res)
}

// Battles

// StartBattle handles POST /api/v1/battles
func (h *Handler) StartBattle(w http.ResponseWriter, r *http.Request) {
	var req StartBattleRequest
	if !decode(w, r, &req) {
		return
	}

	battle, err := h.svc.StartBattle(r.Context(), StartBattleInput{
		BattleID: idOrNil(req.BattleID),
		Host1ID:  req.Host1ID,
		Host2ID:  req.Host2ID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, battle)
}

// GetBattle handles GET /api/v1/battles/{id}
func (h *Handler) GetBattle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "battle")
	if !ok {
		return
	}
	battle, err := h.svc.GetBattle(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, battle)
}

// TipBattle handles POST /api/v1/battles/{id}/tips
func (h *Handler) TipBattle(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "battle")
	if !ok {
		return
	}
	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}
	var req TipRequest
	if !decode(w, r, &req) {
		return
	}
	if req.HostID == nil {
		response.ValidationError(w, map[string]string{"host_id": "This field is required"})
		return
	}

	tx, err := h.svc.TipBattle(r.Context(), id, userID, *req.HostID, req.Amount, key)
	if errors.Is(err, ledger.ErrAlreadyBilled) && tx != nil {
		response.OK(w, tx)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, tx)
}

// SettleBattle handles POST /api/v1/battles/{id}/end
func (h *Handler) SettleBattle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "battle")
	if !ok {
		return
	}
	battle, err := h.svc.SettleBattle(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, battle)
}

// Payments

// TopUp handles POST /api/v1/wallet/topup
func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}
	var req TopUpRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.svc.TopUp(r.Context(), userID, req.Stars, key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Accepted(w, res)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var (
		short   *wallet.InsufficientFundsError
		upgrade *UpgradeRequiredError
		stErr   *ledger.InvalidStateTransitionError
	)

	switch {
	case errors.As(err, &short):
		response.PaymentRequired(w, "INSUFFICIENT_FUNDS", "Not enough balance", map[string]string{
			"currency":  string(short.Currency),
			"required":  strconv.FormatInt(short.Required, 10),
			"available": strconv.FormatInt(short.Available, 10),
		})
	case errors.As(err, &upgrade):
		response.PaymentRequired(w, "UPGRADE_REQUIRED", "Free trial used, top up to continue", map[string]string{
			"currency":  string(upgrade.Currency),
			"required":  strconv.FormatInt(upgrade.Required, 10),
			"available": strconv.FormatInt(upgrade.Available, 10),
		})
	case errors.Is(err, ErrCallNotFound):
		response.NotFound(w, "Call not found")
	case errors.Is(err, ErrLivePartyNotFound):
		response.NotFound(w, "Live party not found")
	case errors.Is(err, ErrBattleNotFound):
		response.NotFound(w, "Battle not found")
	case errors.Is(err, ErrNotJoined):
		response.NotFound(w, "Viewer has not joined this live party")
	case errors.Is(err, ErrSessionExists):
		response.Conflict(w, "SESSION_EXISTS", "Session is already registered")
	case errors.Is(err, ErrSessionNotActive):
		response.Conflict(w, "SESSION_NOT_ACTIVE", "Session is not active")
	case errors.Is(err, ErrAlreadyJoined):
		response.Conflict(w, "ALREADY_JOINED", "Already joined this live party")
	case errors.Is(err, ledger.ErrAlreadyBilled):
		response.Conflict(w, "ALREADY_BILLED", "Already billed")
	case errors.Is(err, ledger.ErrIdempotencyConflict):
		response.Conflict(w, "IDEMPOTENCY_CONFLICT", "Idempotency key was used for a different request")
	case errors.As(err, &stErr):
		errorhandler.HandleError(ctx, w, http.StatusConflict, "INVALID_STATE_TRANSITION", err.Error(), err)
	case errors.Is(err, ErrInvalidRecipient):
		response.ValidationError(w, map[string]string{"host_id": "Not a host of this battle"})
	case errors.Is(err, ErrSelfBilling):
		response.ValidationError(w, map[string]string{"user_id": "Cannot bill a host for their own session"})
	case errors.Is(err, ErrUnsupportedCurrency), errors.Is(err, wallet.ErrUnknownCurrency):
		response.ValidationError(w, map[string]string{"currency": "Currency is not supported here"})
	case errors.Is(err, ErrInvalidInput), errors.Is(err, wallet.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidAmount):
		response.ValidationError(w, map[string]string{"_": err.Error()})
	case errors.Is(err, database.ErrStorageUnavailable), errors.Is(err, database.ErrConflict):
		errorhandler.HandleError(ctx, w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Billing is temporarily unavailable", err)
	default:
		errorhandler.HandleError(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", err)
	}
}
