// Package store opens the repositories selected by STORE_DRIVER.
package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/starline/starline-api/internal/config"
	"github.com/starline/starline-api/internal/domain/billing"
	"github.com/starline/starline-api/internal/domain/ledger"
	"github.com/starline/starline-api/internal/domain/wallet"
	"github.com/starline/starline-api/internal/pkg/database"
	"github.com/starline/starline-api/internal/store/memory"
)

// Stores bundles the repositories of one backend with the runner for its units of work.
type Stores struct {
	Driver  string
	DB      database.TxRunner
	Wallets wallet.Repository
	Ledger  ledger.Repository
	Billing billing.Repository

	close func()
}

// Open connects to the configured backend. Postgres gets its schema applied.
func Open(ctx context.Context, cfg *config.Config) (*Stores, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		db, err := database.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := database.Migrate(ctx, db); err != nil {
			database.ClosePostgres(db)
			return nil, err
		}
		return &Stores{
			Driver:  cfg.StoreDriver,
			DB:      database.NewTxRunner(db),
			Wallets: wallet.NewPostgresRepository(),
			Ledger:  ledger.NewPostgresRepository(),
			Billing: billing.NewPostgresRepository(),
			close:   func() { database.ClosePostgres(db) },
		}, nil

	case config.StoreDriverMemory:
		log.Warn().Msg("Using in-memory store: single process, balances lost on restart, each unit of work copies the whole store. Not for production load")
		m := memory.New()
		return &Stores{
			Driver:  cfg.StoreDriver,
			DB:      m,
			Wallets: m.Wallets(),
			Ledger:  m.Transactions(),
			Billing: m.Billing(),
			close:   func() {},
		}, nil
	}
	return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}

// Close releases the backend connection.
func (s *Stores) Close() {
	if s != nil && s.close != nil {
		s.close()
	}
}
