package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/starline/starline-api/internal/domain/wallet"
	"github.com/starline/starline-api/internal/pkg/database"
)

type WalletRepository struct {
	s *Store
}

func (r *WalletRepository) Ensure(_ context.Context, q database.Querier, userID uuid.UUID) error {
	return r.s.with(q, func(st *state) error {
		if _, ok := st.wallets[userID]; !ok {
			now := r.s.now()
			st.wallets[userID] = wallet.Wallet{UserID: userID, CreatedAt: now, UpdatedAt: now}
		}
		return nil
	})
}

func (r *WalletRepository) Get(_ context.Context, q database.Querier, userID uuid.UUID) (*wallet.Wallet, error) {
	var out *wallet.Wallet
	err := r.s.with(q, func(st *state) error {
		w, ok := st.wallets[userID]
		if !ok {
			return wallet.ErrWalletNotFound
		}
		out = &w
		return nil
	})
	return out, err
}

func (r *WalletRepository) Debit(ctx context.Context, q database.Querier, userID uuid.UUID, amount int64, c wallet.Currency) (*wallet.Wallet, error) {
	return r.apply(q, userID, c, -amount)
}

func (r *WalletRepository) Credit(ctx context.Context, q database.Querier, userID uuid.UUID, amount int64, c wallet.Currency) (*wallet.Wallet, error) {
	return r.apply(q, userID, c, amount)
}

func (r *WalletRepository) apply(q database.Querier, userID uuid.UUID, c wallet.Currency, delta int64) (*wallet.Wallet, error) {
	var out *wallet.Wallet
	err := r.s.with(q, func(st *state) error {
		w, ok := st.wallets[userID]
		if !ok {
			return wallet.ErrWalletNotFound
		}
		if err := w.Apply(c, delta); err != nil {
			return err
		}
		w.UpdatedAt = r.s.now()
		st.wallets[userID] = w
		out = &w
		return nil
	})
	return out, err
}

// SeedWallet sets a user's balances directly, bypassing the ledger. Intended for
// fixtures and local development.
func (s *Store) SeedWallet(userID uuid.UUID, stars, usdCents int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.data.wallets[userID]
	if !ok {
		now := s.now()
		w = wallet.Wallet{UserID: userID, CreatedAt: now, UpdatedAt: now}
	}
	w.Stars = stars
	w.SecondaryBalance = usdCents
	s.data.wallets[userID] = w
}
