package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/starline/starline-api/internal/pkg/database"
)

// Repository persists wallets. Every method runs on the given querier so it can join
// the caller's transaction.
type Repository interface {
	Ensure(ctx context.Context, q database.Querier, userID uuid.UUID) error
	Get(ctx context.Context, q database.Querier, userID uuid.UUID) (*Wallet, error)
	// Debit fails with *InsufficientFundsError and leaves the row untouched when the
	// balance is short.
	Debit(ctx context.Context, q database.Querier, userID uuid.UUID, amount int64, c Currency) (*Wallet, error)
	Credit(ctx context.Context, q database.Querier, userID uuid.UUID, amount int64, c Currency) (*Wallet, error)
}

type PostgresRepository struct{}

func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

const walletColumns = `user_id, stars, secondary_balance, total_earned, total_spent,
	secondary_earned, secondary_spent, created_at, updated_at`

type columns struct {
	balance, earned, spent string
}

func columnsFor(c Currency) (columns, error) {
	switch c {
	case CurrencyStars:
		return columns{"stars", "total_earned", "total_spent"}, nil
	case CurrencyUSD:
		return columns{"secondary_balance", "secondary_earned", "secondary_spent"}, nil
	}
	return columns{}, fmt.Errorf("%w: %q", ErrUnknownCurrency, c)
}

func (r *PostgresRepository) Ensure(ctx context.Context, q database.Querier, userID uuid.UUID) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO wallets (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	return database.Wrap("ensure wallet", err)
}

func (r *PostgresRepository) Get(ctx context.Context, q database.Querier, userID uuid.UUID) (*Wallet, error) {
	var w Wallet
	err := q.GetContext(ctx, &w, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, database.Wrap("get wallet", err)
	}
	return &w, nil
}

func (r *PostgresRepository) Debit(ctx context.Context, q database.Querier, userID uuid.UUID, amount int64, c Currency) (*Wallet, error) {
	cols, err := columnsFor(c)
	if err != nil {
		return nil, err
	}

	var w Wallet
	err = q.GetContext(ctx, &w, fmt.Sprintf(`
		UPDATE wallets
		SET %[1]s = %[1]s - $2, %[2]s = %[2]s + $2, updated_at = NOW()
		WHERE user_id = $1 AND %[1]s >= $2
		RETURNING `+walletColumns, cols.balance, cols.spent), userID, amount)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := r.Get(ctx, q, userID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, &InsufficientFundsError{Currency: c, Required: amount, Available: current.Balance(c)}
	}
	if err != nil {
		return nil, database.Wrap("debit wallet", err)
	}
	return &w, nil
}

func (r *PostgresRepository) Credit(ctx context.Context, q database.Querier, userID uuid.UUID, amount int64, c Currency) (*Wallet, error) {
	cols, err := columnsFor(c)
	if err != nil {
		return nil, err
	}

	var w Wallet
	err = q.GetContext(ctx, &w, fmt.Sprintf(`
		UPDATE wallets
		SET %[1]s = %[1]s + $2, %[2]s = %[2]s + $2, updated_at = NOW()
		WHERE user_id = $1
		RETURNING `+walletColumns, cols.balance, cols.earned), userID, amount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, database.Wrap("credit wallet", err)
	}
	return &w, nil
}
