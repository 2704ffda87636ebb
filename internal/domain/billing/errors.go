package billing

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/starline/starline-api/internal/domain/wallet"
)

var (
	ErrCallNotFound        = errors.New("call not found")
	ErrLivePartyNotFound   = errors.New("live party not found")
	ErrBattleNotFound      = errors.New("battle not found")
	ErrSessionExists       = errors.New("session already registered")
	ErrSessionNotActive    = errors.New("session is not active")
	ErrAlreadyJoined       = errors.New("already joined this live party")
	ErrNotJoined           = errors.New("viewer has not joined this live party")
	ErrInvalidRecipient    = errors.New("recipient is not a host of this session")
	ErrSelfBilling         = errors.New("cannot bill a user for their own session")
	ErrUnsupportedCurrency = errors.New("currency not supported for this operation")
	ErrInvalidInput        = errors.New("invalid billing input")
	ErrUnknownPayment      = errors.New("no transaction for this payment")
	ErrUpgradeRequired     = errors.New("upgrade required")
)

// UpgradeRequiredError is returned when a caller's free trial is spent and their
// wallet cannot cover the first minute.
type UpgradeRequiredError struct {
	UserID    uuid.UUID
	Currency  wallet.Currency
	Required  int64
	Available int64
}

func (e *UpgradeRequiredError) Error() string {
	return fmt.Sprintf("free trial used: %d %s required per minute, %d available", e.Required, e.Currency, e.Available)
}

func (e *UpgradeRequiredError) Unwrap() error {
	return ErrUpgradeRequired
}
