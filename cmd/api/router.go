package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/starline/starline-api/internal/app"
	"github.com/starline/starline-api/internal/domain/audit"
	"github.com/starline/starline-api/internal/domain/billing"
	"github.com/starline/starline-api/internal/domain/ledger"
	"github.com/starline/starline-api/internal/domain/notification"
	"github.com/starline/starline-api/internal/domain/payment"
	"github.com/starline/starline-api/internal/domain/wallet"
	"github.com/starline/starline-api/internal/middleware"
	"github.com/starline/starline-api/internal/pkg/response"
)

func newRouter(a *app.App) http.Handler {
	authMiddleware := middleware.Auth(a.Tokens)

	walletHandler := wallet.NewHandler(a.Wallets)
	ledgerHandler := ledger.NewHandler(a.Ledger)
	billingHandler := billing.NewHandler(a.Billing)
	paymentHandler := payment.NewHandler(a.Billing, a.Config.PaymentsWebhookSecret)
	exportHandler := audit.NewHandler(a.Exporter)
	wsHandler := notification.NewHandler(a.Hub, a.Config.AllowedOrigins)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover)
	r.Use(middleware.Logger)
	r.Use(chimw.RealIP)
	r.Use(middleware.CORSHandler(a.Config.AllowedOrigins))

	// Browsers cannot set headers on websocket upgrades
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		if token := r.URL.Query().Get("token"); token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		authMiddleware(http.HandlerFunc(wsHandler.WebSocket)).ServeHTTP(w, r)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, map[string]string{
			"status": "ok",
			"store":  a.Stores.Driver,
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/wallet", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Get("/", walletHandler.Get)
			r.Get("/transactions", ledgerHandler.List)
			r.Get("/transactions/{id}", ledgerHandler.Get)
			r.Post("/topup", billingHandler.TopUp)
		})

		r.Mount("/calls", billingHandler.CallRoutes(authMiddleware))
		r.Mount("/liveparties", billingHandler.LivePartyRoutes(authMiddleware))
		r.Mount("/battles", billingHandler.BattleRoutes(authMiddleware))
	})

	r.Mount("/webhooks", paymentHandler.WebhookRoutes())

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(authMiddleware, middleware.RequireAdmin())
		r.Mount("/transactions", ledgerHandler.AdminRoutes())
		r.Mount("/exports", exportHandler.Routes())
	})

	return r
}
