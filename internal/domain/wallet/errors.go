package wallet

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient wallet balance")
	ErrUnknownCurrency   = errors.New("unknown currency")
	ErrWalletNotFound    = errors.New("wallet not found")
)

// InsufficientFundsError reports how far short a debit fell.
type InsufficientFundsError struct {
	Currency  Currency
	Required  int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient %s balance: required %d, available %d", e.Currency, e.Required, e.Available)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}
