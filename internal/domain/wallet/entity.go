package wallet

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Currency identifies one balance inside a wallet.
type Currency string

const (
	CurrencyStars Currency = "STARS"
	// CurrencyUSD balances are kept in cents.
	CurrencyUSD Currency = "USD"
)

func (c Currency) Valid() bool {
	return c == CurrencyStars || c == CurrencyUSD
}

func ParseCurrency(s string) (Currency, error) {
	c := Currency(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, s)
	}
	return c, nil
}

// Wallet holds a user's balances. Earned/spent counters are tracked per currency.
type Wallet struct {
	UserID           uuid.UUID `db:"user_id" json:"user_id"`
	Stars            int64     `db:"stars" json:"stars"`
	SecondaryBalance int64     `db:"secondary_balance" json:"secondary_balance"`
	TotalEarned      int64     `db:"total_earned" json:"total_earned"`
	TotalSpent       int64     `db:"total_spent" json:"total_spent"`
	SecondaryEarned  int64     `db:"secondary_earned" json:"secondary_earned"`
	SecondarySpent   int64     `db:"secondary_spent" json:"secondary_spent"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Balance returns the balance held in c.
func (w *Wallet) Balance(c Currency) int64 {
	if c == CurrencyUSD {
		return w.SecondaryBalance
	}
	return w.Stars
}

// Apply adds delta to the c balance and bumps the matching counter.
// It refuses to drive the balance below zero.
func (w *Wallet) Apply(c Currency, delta int64) error {
	balance := w.Balance(c)
	if balance+delta < 0 {
		return &InsufficientFundsError{Currency: c, Required: -delta, Available: balance}
	}

	switch c {
	case CurrencyStars:
		w.Stars += delta
		if delta > 0 {
			w.TotalEarned += delta
		} else {
			w.TotalSpent -= delta
		}
	case CurrencyUSD:
		w.SecondaryBalance += delta
		if delta > 0 {
			w.SecondaryEarned += delta
		} else {
			w.SecondarySpent -= delta
		}
	default:
		return ErrUnknownCurrency
	}
	return nil
}
