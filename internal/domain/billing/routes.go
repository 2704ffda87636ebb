package billing

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starline/starline-api/internal/middleware"
)

// CallRoutes mounts under /api/v1/calls. Session events come from the realtime services.
func (h *Handler) CallRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware, middleware.RequireService())

	r.Post("/", h.InitiateCall)
	r.Get("/{id}", h.GetCall)
	r.Post("/{id}/start", h.StartCall)
	r.Post("/{id}/end", h.EndCall)
	return r
}

// LivePartyRoutes mounts under /api/v1/liveparties.
func (h *Handler) LivePartyRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	// Viewer actions
	r.Post("/{id}/join", h.JoinLiveParty)
	r.Post("/{id}/tips", h.TipLiveParty)

	// Realtime service events
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireService())
		r.Post("/", h.StartLiveParty)
		r.Post("/{id}/watch", h.ReportWatchTime)
		r.Post("/{id}/end", h.EndLiveParty)
	})
	return r
}

// BattleRoutes mounts under /api/v1/battles.
func (h *Handler) BattleRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Get("/{id}", h.GetBattle)
	r.Post("/{id}/tips", h.TipBattle)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireService())
		r.Post("/", h.StartBattle)
		r.Post("/{id}/end", h.SettleBattle)
	})
	return r
}
