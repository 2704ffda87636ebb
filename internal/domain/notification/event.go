package notification

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a billing outcome pushed to clients.
type EventType string

const (
	EventCallBilled        EventType = "call.billed"
	EventCallPaymentFailed EventType = "call.payment_failed"
	EventWalletUpdated     EventType = "wallet.updated"
	EventPartyJoined       EventType = "liveparty.joined"
	EventPartyTipReceived  EventType = "liveparty.tip_received"
	EventBattleTip         EventType = "battle.tip"
	EventBattleSettled     EventType = "battle.settled"
	EventPaymentCompleted  EventType = "payment.completed"
	EventPaymentFailed     EventType = "payment.failed"
)

// Event is what a websocket client receives.
type Event struct {
	Type       EventType   `json:"type"`
	UserID     uuid.UUID   `json:"user_id"`
	Data       interface{} `json:"data,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}
