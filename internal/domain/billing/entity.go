package billing

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/starline/starline-api/internal/domain/wallet"
)

// SessionState mirrors the lifecycle owned by the realtime services.
type SessionState string

const (
	StateInitiated SessionState = "initiated"
	StateActive    SessionState = "active"
	StateEnded     SessionState = "ended"
)

type PaymentStatus string

const (
	PaymentUnpaid    PaymentStatus = "unpaid"
	PaymentPaid      PaymentStatus = "paid"
	PaymentFreeTrial PaymentStatus = "free_trial"
	PaymentPending   PaymentStatus = "pending"
	PaymentFailed    PaymentStatus = "failed"
	PaymentNoCharge  PaymentStatus = "no_charge"
)

type Call struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	CallerID        uuid.UUID       `db:"caller_id" json:"caller_id"`
	ReceiverID      uuid.UUID       `db:"receiver_id" json:"receiver_id"`
	RatePerMinute   int64           `db:"rate_per_minute" json:"rate_per_minute"`
	Currency        wallet.Currency `db:"currency" json:"currency"`
	State           SessionState    `db:"state" json:"state"`
	DurationSeconds int64           `db:"duration_seconds" json:"duration_seconds"`
	Cost            int64           `db:"cost" json:"cost"`
	PaymentStatus   PaymentStatus   `db:"payment_status" json:"payment_status"`
	TransactionID   *uuid.UUID      `db:"transaction_id" json:"transaction_id,omitempty"`
	StartedAt       *time.Time      `db:"started_at" json:"started_at,omitempty"`
	EndedAt         *time.Time      `db:"ended_at" json:"ended_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// TrialUsage records the call that consumed a user's one free trial.
type TrialUsage struct {
	UserID uuid.UUID `db:"user_id" json:"user_id"`
	CallID uuid.UUID `db:"call_id" json:"call_id"`
	UsedAt time.Time `db:"used_at" json:"used_at"`
}

type LiveParty struct {
	ID                  uuid.UUID       `db:"id" json:"id"`
	HostID              uuid.UUID       `db:"host_id" json:"host_id"`
	EntryFee            int64           `db:"entry_fee" json:"entry_fee"`
	ViewerRatePerMinute int64           `db:"viewer_rate_per_minute" json:"viewer_rate_per_minute"`
	Currency            wallet.Currency `db:"currency" json:"currency"`
	State               SessionState    `db:"state" json:"state"`
	StartedAt           *time.Time      `db:"started_at" json:"started_at,omitempty"`
	EndedAt             *time.Time      `db:"ended_at" json:"ended_at,omitempty"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
}

// Viewer is one user's membership in a live party.
type Viewer struct {
	PartyID            uuid.UUID  `db:"party_id" json:"party_id"`
	UserID             uuid.UUID  `db:"user_id" json:"user_id"`
	BilledMinutes      int64      `db:"billed_minutes" json:"billed_minutes"`
	EntryTransactionID *uuid.UUID `db:"entry_transaction_id" json:"entry_transaction_id,omitempty"`
	JoinedAt           time.Time  `db:"joined_at" json:"joined_at"`
}

type Battle struct {
	ID      uuid.UUID    `db:"id" json:"id"`
	Host1ID uuid.UUID    `db:"host1_id" json:"host1_id"`
	Host2ID uuid.UUID    `db:"host2_id" json:"host2_id"`
	State   SessionState `db:"state" json:"state"`
	// Host1Tips and Host2Tips are running counters for display. Settlement sums the ledger.
	Host1Tips           int64      `db:"host1_tips" json:"host1_tips"`
	Host2Tips           int64      `db:"host2_tips" json:"host2_tips"`
	WinnerID            *uuid.UUID `db:"winner_id" json:"winner_id,omitempty"`
	RewardTransactionID *uuid.UUID `db:"reward_transaction_id" json:"reward_transaction_id,omitempty"`
	RewardAmount        int64      `db:"reward_amount" json:"reward_amount"`
	StartedAt           *time.Time `db:"started_at" json:"started_at,omitempty"`
	SettledAt           *time.Time `db:"settled_at" json:"settled_at,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
}

// HostSlot returns 1 or 2 for a battle host and 0 for anyone else.
func (b *Battle) HostSlot(userID uuid.UUID) int {
	switch userID {
	case b.Host1ID:
		return 1
	case b.Host2ID:
		return 2
	}
	return 0
}

type DiscrepancyKind string

const (
	// DiscrepancyCallCharge: the call ended but the caller could not be charged.
	DiscrepancyCallCharge DiscrepancyKind = "call_charge_failed"
	// DiscrepancyPaymentFailed: the external processor rejected a deferred charge.
	DiscrepancyPaymentFailed DiscrepancyKind = "payment_failed"
	// DiscrepancyLatePayment: the processor confirmed a charge we had already closed.
	DiscrepancyLatePayment DiscrepancyKind = "late_payment"
)

// Discrepancy queues a session whose billing disagrees with its ledger entries.
type Discrepancy struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	Kind       DiscrepancyKind `db:"kind" json:"kind"`
	SessionID  uuid.UUID       `db:"session_id" json:"session_id"`
	UserID     uuid.UUID       `db:"user_id" json:"user_id"`
	Amount     int64           `db:"amount" json:"amount"`
	Reason     string          `db:"reason" json:"reason"`
	Attempts   int             `db:"attempts" json:"attempts"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	ResolvedAt *time.Time      `db:"resolved_at" json:"resolved_at,omitempty"`
}

// CallCost is ceil(durationSeconds * ratePerMinute / 60). Products that do not
// fit in an int64 are rejected with ErrInvalidInput.
func CallCost(durationSeconds, ratePerMinute int64) (int64, error) {
	if durationSeconds <= 0 || ratePerMinute <= 0 {
		return 0, nil
	}
	total, ok := mulInt64(durationSeconds, ratePerMinute)
	if !ok || total > math.MaxInt64-59 {
		return 0, fmt.Errorf("call of %ds at %d/min: %w", durationSeconds, ratePerMinute, ErrInvalidInput)
	}
	return (total + 59) / 60, nil
}

// mulInt64 multiplies two non-negative values, reporting false on overflow.
func mulInt64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt64/b {
		return 0, false
	}
	return a * b, true
}
