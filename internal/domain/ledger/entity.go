package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/starline/starline-api/internal/domain/wallet"
)

// Type names the feature a transaction bills for.
type Type string

const (
	TypeCall            Type = "call"
	TypeBattleTip       Type = "battle_tip"
	TypeBattleReward    Type = "battle_reward"
	TypeLivePartyEntry  Type = "liveparty_entry"
	TypeLivePartyTip    Type = "liveparty_tip"
	TypeLivePartyViewer Type = "liveparty_viewer"
	TypeWalletTopUp     Type = "wallet_topup"
	TypeSubscription    Type = "subscription"
	TypeMessageUnlock   Type = "message_unlock"
	TypeOther           Type = "other"
	// TypeRefund marks compensating credits written by Fail, Cancel and Refund.
	TypeRefund Type = "refund"
)

func (t Type) Valid() bool {
	switch t {
	case TypeCall, TypeBattleTip, TypeBattleReward, TypeLivePartyEntry, TypeLivePartyTip,
		TypeLivePartyViewer, TypeWalletTopUp, TypeSubscription, TypeMessageUnlock, TypeOther, TypeRefund:
		return true
	}
	return false
}

type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
	StatusCancelled Status = "cancelled"
)

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusCompleted || next == StatusFailed || next == StatusRefunded || next == StatusCancelled
	case StatusCompleted:
		return next == StatusRefunded
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusRefunded || s == StatusCancelled
}

// Transaction is an immutable-amount ledger record. Only Status, FailureReason and
// ExternalRef change after insert.
type Transaction struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"user_id"`
	Type           Type            `json:"type"`
	Direction      Direction       `json:"direction"`
	Amount         int64           `json:"amount"`
	Currency       wallet.Currency `json:"currency"`
	Status         Status          `json:"status"`
	Description    string          `json:"description"`
	Metadata       Metadata        `json:"metadata"`
	SessionID      *uuid.UUID      `json:"session_id,omitempty"`
	CounterpartyID *uuid.UUID      `json:"counterparty_id,omitempty"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	ExternalRef    *string         `json:"external_ref,omitempty"`
	FailureReason  *string         `json:"failure_reason,omitempty"`
	// WalletApplied is set when a wallet mutation was written with this record.
	WalletApplied bool      `json:"wallet_applied"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// OpenRequest describes a transaction to create.
type OpenRequest struct {
	UserID         uuid.UUID
	Type           Type
	Amount         int64
	Currency       wallet.Currency
	Description    string
	Metadata       Metadata
	IdempotencyKey string
	// Direction is only read by Open; OpenAndDebit and OpenAndCredit set it themselves.
	Direction Direction
}

// ListFilter selects a page of a user's history.
type ListFilter struct {
	UserID uuid.UUID
	Type   *Type
	Status *Status
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

func (f *ListFilter) normalize() {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}
