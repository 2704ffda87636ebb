package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/starline/starline-api/internal/domain/ledger"
	"github.com/starline/starline-api/internal/domain/notification"
	"github.com/starline/starline-api/internal/domain/wallet"
	"github.com/starline/starline-api/internal/pkg/database"
	"github.com/starline/starline-api/internal/pkg/logger"
	"github.com/starline/starline-api/internal/pkg/retry"
)

type Config struct {
	BattleRewardPercent int64
	TrialMaxSeconds     int64
	StarPriceCents      int64
	Retry               retry.Policy
}

func DefaultConfig() Config {
	return Config{
		BattleRewardPercent: 50,
		TrialMaxSeconds:     60,
		StarPriceCents:      1,
		Retry:               retry.DefaultPolicy(),
	}
}

// Notifier receives billing outcomes after commit.
type Notifier interface {
	Publish(ctx context.Context, userID uuid.UUID, event notification.Event) error
}

type WalletReader interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*wallet.Wallet, error)
}

// Service is the billing reconciler. It turns session events into ledger entries
// and keeps the session mirrors consistent with them.
type Service struct {
	repo       Repository
	ledger     *ledger.Service
	wallets    WalletReader
	db         database.TxRunner
	invoicer   Invoicer
	strategies map[wallet.Currency]SettlementStrategy
	notifier   Notifier
	cfg        Config
	now        func() time.Time
}

// NewService wires the reconciler. invoicer and notifier may be nil; without an
// invoicer USD charges are rejected.
func NewService(repo Repository, ledgerSvc *ledger.Service, wallets WalletReader, db database.TxRunner, invoicer Invoicer, notifier Notifier, cfg Config) *Service {
	s := &Service{
		repo:       repo,
		ledger:     ledgerSvc,
		wallets:    wallets,
		db:         db,
		invoicer:   invoicer,
		strategies: make(map[wallet.Currency]SettlementStrategy),
		notifier:   notifier,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if s.cfg.BattleRewardPercent < 0 || s.cfg.BattleRewardPercent > 100 {
		s.cfg.BattleRewardPercent = 50
	}
	if s.cfg.StarPriceCents <= 0 {
		s.cfg.StarPriceCents = 1
	}

	s.strategies[wallet.CurrencyStars] = NewImmediateSettlement(ledgerSvc, wallet.CurrencyStars)
	if invoicer != nil {
		s.strategies[wallet.CurrencyUSD] = NewDeferredSettlement(ledgerSvc, invoicer, wallet.CurrencyUSD)
	}
	return s
}

func (s *Service) strategy(c wallet.Currency) (SettlementStrategy, error) {
	st, ok := s.strategies[c]
	if !ok {
		return nil, ErrUnsupportedCurrency
	}
	return st, nil
}

// atomically runs fn in one unit of work, retrying transient storage failures.
// fn must reset anything it hands back to the caller, since it may run more than once.
func (s *Service) atomically(ctx context.Context, op string, fn func(q database.Querier) error) error {
	_, err := retry.Do(ctx, s.cfg.Retry, op, func() (struct{}, error) {
		return struct{}{}, s.db.WithTx(ctx, fn)
	})
	return err
}

func (s *Service) notify(ctx context.Context, userID uuid.UUID, t notification.EventType, data interface{}) {
	if s.notifier == nil || userID == uuid.Nil {
		return
	}
	ev := notification.Event{Type: t, UserID: userID, Data: data, OccurredAt: s.now()}
	if err := s.notifier.Publish(ctx, userID, ev); err != nil {
		logger.LogWarn(ctx, "billing notification not delivered", "user_id", userID.String(), "event", string(t), "error", err.Error())
	}
}

// afterCommit finishes a settlement whose unit of work committed.
func (s *Service) afterCommit(ctx context.Context, tx *ledger.Transaction) (*Receipt, error) {
	if tx == nil {
		return nil, nil
	}
	ledger.LogApplied(ctx, tx)

	st, err := s.strategy(tx.Currency)
	if err != nil {
		return nil, err
	}
	return st.AfterCommit(ctx, tx)
}

func paymentStatusOf(tx *ledger.Transaction) PaymentStatus {
	if tx.Status == ledger.StatusPending {
		return PaymentPending
	}
	return PaymentPaid
}

func timePtr(t time.Time) *time.Time { return &t }

func idPtr(id uuid.UUID) *uuid.UUID { return &id }
