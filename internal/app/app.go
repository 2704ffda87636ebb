// Package app assembles the billing services shared by the API and the worker.
package app

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/starline/starline-api/internal/config"
	"github.com/starline/starline-api/internal/domain/audit"
	"github.com/starline/starline-api/internal/domain/billing"
	"github.com/starline/starline-api/internal/domain/ledger"
	"github.com/starline/starline-api/internal/domain/notification"
	"github.com/starline/starline-api/internal/domain/wallet"
	"github.com/starline/starline-api/internal/pkg/database"
	"github.com/starline/starline-api/internal/pkg/invoicing"
	"github.com/starline/starline-api/internal/pkg/jwt"
	"github.com/starline/starline-api/internal/pkg/retry"
	"github.com/starline/starline-api/internal/pkg/storage"
	"github.com/starline/starline-api/internal/store"
)

type App struct {
	Config   *config.Config
	Stores   *store.Stores
	Redis    *redis.Client
	Hub      *notification.Hub
	Tokens   *jwt.Service
	Wallets  *wallet.Service
	Ledger   *ledger.Service
	Billing  *billing.Service
	Exporter *audit.Exporter
}

// New opens the configured store and wires every service on top of it. Redis,
// the payment processor and export storage are optional.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	stores, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, notifications stay on this instance")
		rdb = nil
	}

	var invoicer billing.Invoicer
	if cfg.PaymentsEnabled() {
		invoicer = invoicing.NewClient(invoicing.Config{
			BaseURL:    cfg.PaymentsBaseURL,
			APIKey:     cfg.PaymentsAPIKey,
			LocationID: cfg.PaymentsLocationID,
			Timeout:    cfg.PaymentsTimeout,
		})
	} else {
		log.Warn().Msg("Payments API not configured, USD charges are disabled")
	}

	var objects storage.ObjectStore
	if cfg.ExportsEnabled() {
		s3, err := storage.NewS3Storage(ctx, storage.Config{
			Endpoint:  cfg.ExportS3Endpoint,
			Region:    cfg.ExportS3Region,
			Bucket:    cfg.ExportS3Bucket,
			AccessKey: cfg.ExportS3AccessKey,
			SecretKey: cfg.ExportS3SecretKey,
		})
		if err != nil {
			stores.Close()
			database.CloseRedis(rdb)
			return nil, err
		}
		objects = s3
	}

	hub := notification.NewHub(rdb)
	wallets := wallet.NewService(stores.Wallets, stores.DB)
	ledgerSvc := ledger.NewService(stores.Ledger, wallets, stores.DB)

	return &App{
		Config:   cfg,
		Stores:   stores,
		Redis:    rdb,
		Hub:      hub,
		Tokens:   jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL),
		Wallets:  wallets,
		Ledger:   ledgerSvc,
		Billing:  billing.NewService(stores.Billing, ledgerSvc, wallets, stores.DB, invoicer, hub, BillingConfig(cfg)),
		Exporter: audit.NewExporter(ledgerSvc, objects),
	}, nil
}

// BillingConfig maps environment settings onto the reconciler.
func BillingConfig(cfg *config.Config) billing.Config {
	policy := retry.DefaultPolicy()
	if cfg.BillingMaxRetries > 0 {
		policy.MaxTries = uint(cfg.BillingMaxRetries)
	}
	return billing.Config{
		BattleRewardPercent: cfg.BattleRewardPercent,
		TrialMaxSeconds:     cfg.TrialMaxSeconds,
		StarPriceCents:      cfg.StarPriceCents,
		Retry:               policy,
	}
}

func (a *App) Close() {
	a.Hub.Close()
	database.CloseRedis(a.Redis)
	a.Stores.Close()
}
