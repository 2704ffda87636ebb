package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidAmount       = errors.New("transaction amount must be positive")
	ErrUnknownType         = errors.New("unknown transaction type")
	ErrMetadataMismatch    = errors.New("metadata does not match transaction type")
	// ErrAlreadyBilled accompanies the original transaction on an idempotent replay.
	ErrAlreadyBilled = errors.New("already billed")
	// ErrIdempotencyConflict means the key was reused for a different request.
	ErrIdempotencyConflict    = errors.New("idempotency key reused with different parameters")
	ErrInvalidStateTransition = errors.New("invalid transaction state transition")
	ErrNotRefundable          = errors.New("transaction cannot be refunded")
	ErrDuplicateExternalRef   = errors.New("external reference already attached")
)

// InvalidStateTransitionError reports a rejected status change.
type InvalidStateTransitionError struct {
	ID   uuid.UUID
	From Status
	To   Status
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("transaction %s: cannot move from %s to %s", e.ID, e.From, e.To)
}

func (e *InvalidStateTransitionError) Unwrap() error {
	return ErrInvalidStateTransition
}
