// Command billing-worker reconciles pending external payments and retries
// failed call charges on a fixed interval.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/starline/starline-api/internal/app"
	"github.com/starline/starline-api/internal/config"
	"github.com/starline/starline-api/internal/domain/payment"
	"github.com/starline/starline-api/internal/pkg/logger"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env, Service: "billing-worker"})

	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Fatal().Msg("billing-worker needs a shared store; set STORE_DRIVER=postgres or RUN_WORKER=true on the API")
	}

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise services")
	}
	defer a.Close()

	worker := payment.NewWorker(a.Billing, cfg.PendingTTL, cfg.WorkerInterval)
	worker.Start()

	log.Info().
		Dur("pending_ttl", cfg.PendingTTL).
		Dur("interval", cfg.WorkerInterval).
		Msg("Billing worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down billing worker...")
	worker.Stop()
	log.Info().Msg("Billing worker stopped")
}
