package wallet

import (
	"context"

	"github.com/google/uuid"

	"github.com/starline/starline-api/internal/pkg/database"
)

// Service is the wallet store. Balance mutations are only reachable through the
// ledger, which passes its transaction in as q.
type Service struct {
	repo Repository
	db   database.TxRunner
}

func NewService(repo Repository, db database.TxRunner) *Service {
	return &Service{repo: repo, db: db}
}

// GetOrCreate returns the user's wallet, creating an empty one on first access.
func (s *Service) GetOrCreate(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	q := s.db.DB()
	if err := s.repo.Ensure(ctx, q, userID); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, q, userID)
}

// DebitTx removes amount from the c balance inside q.
func (s *Service) DebitTx(ctx context.Context, q database.Querier, userID uuid.UUID, amount int64, c Currency) (*Wallet, error) {
	if err := check(amount, c); err != nil {
		return nil, err
	}
	if err := s.repo.Ensure(ctx, q, userID); err != nil {
		return nil, err
	}
	return s.repo.Debit(ctx, q, userID, amount, c)
}

// CreditTx adds amount to the c balance inside q.
func (s *Service) CreditTx(ctx context.Context, q database.Querier, userID uuid.UUID, amount int64, c Currency) (*Wallet, error) {
	if err := check(amount, c); err != nil {
		return nil, err
	}
	if err := s.repo.Ensure(ctx, q, userID); err != nil {
		return nil, err
	}
	return s.repo.Credit(ctx, q, userID, amount, c)
}

func check(amount int64, c Currency) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if !c.Valid() {
		return ErrUnknownCurrency
	}
	return nil
}
