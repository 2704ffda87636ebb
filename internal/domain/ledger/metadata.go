package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Metadata correlates a transaction with the feature that produced it.
// Each Type has exactly one metadata variant.
type Metadata interface {
	TransactionType() Type
	// Refs returns the session the transaction belongs to and the other party, when any.
	Refs() (session *uuid.UUID, counterparty *uuid.UUID)
}

func ref(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

type CallMeta struct {
	CallID          uuid.UUID `json:"call_id"`
	ReceiverID      uuid.UUID `json:"receiver_id"`
	DurationSeconds int64     `json:"duration_seconds"`
	RatePerMinute   int64     `json:"rate_per_minute"`
}

func (CallMeta) TransactionType() Type            { return TypeCall }
func (m CallMeta) Refs() (*uuid.UUID, *uuid.UUID) { return ref(m.CallID), ref(m.ReceiverID) }

type BattleTipMeta struct {
	BattleID uuid.UUID `json:"battle_id"`
	HostID   uuid.UUID `json:"host_id"`
}

func (BattleTipMeta) TransactionType() Type            { return TypeBattleTip }
func (m BattleTipMeta) Refs() (*uuid.UUID, *uuid.UUID) { return ref(m.BattleID), ref(m.HostID) }

type BattleRewardMeta struct {
	BattleID    uuid.UUID `json:"battle_id"`
	WinnerTotal int64     `json:"winner_total"`
	LoserTotal  int64     `json:"loser_total"`
	RewardPct   int64     `json:"reward_percent"`
}

func (BattleRewardMeta) TransactionType() Type            { return TypeBattleReward }
func (m BattleRewardMeta) Refs() (*uuid.UUID, *uuid.UUID) { return ref(m.BattleID), nil }

type LivePartyEntryMeta struct {
	PartyID uuid.UUID `json:"party_id"`
	HostID  uuid.UUID `json:"host_id"`
}

func (LivePartyEntryMeta) TransactionType() Type            { return TypeLivePartyEntry }
func (m LivePartyEntryMeta) Refs() (*uuid.UUID, *uuid.UUID) { return ref(m.PartyID), ref(m.HostID) }

// LivePartyTipMeta is shared by the tipper's debit and the host's credit.
type LivePartyTipMeta struct {
	PartyID  uuid.UUID `json:"party_id"`
	HostID   uuid.UUID `json:"host_id"`
	TipperID uuid.UUID `json:"tipper_id"`
}

func (LivePartyTipMeta) TransactionType() Type { return TypeLivePartyTip }
func (m LivePartyTipMeta) Refs() (*uuid.UUID, *uuid.UUID) {
	return ref(m.PartyID), ref(m.HostID)
}

type LivePartyViewerMeta struct {
	PartyID    uuid.UUID `json:"party_id"`
	HostID     uuid.UUID `json:"host_id"`
	FromMinute int64     `json:"from_minute"`
	ToMinute   int64     `json:"to_minute"`
}

func (LivePartyViewerMeta) TransactionType() Type            { return TypeLivePartyViewer }
func (m LivePartyViewerMeta) Refs() (*uuid.UUID, *uuid.UUID) { return ref(m.PartyID), ref(m.HostID) }

type TopUpMeta struct {
	Stars          int64 `json:"stars"`
	UnitPriceCents int64 `json:"unit_price_cents"`
	// PaymentTransactionID links the star credit to the USD payment it settles.
	PaymentTransactionID uuid.UUID `json:"payment_transaction_id,omitempty"`
}

func (TopUpMeta) TransactionType() Type            { return TypeWalletTopUp }
func (m TopUpMeta) Refs() (*uuid.UUID, *uuid.UUID) { return ref(m.PaymentTransactionID), nil }

type SubscriptionMeta struct {
	PlanID string `json:"plan_id"`
	Period string `json:"period"`
}

func (SubscriptionMeta) TransactionType() Type          { return TypeSubscription }
func (SubscriptionMeta) Refs() (*uuid.UUID, *uuid.UUID) { return nil, nil }

type MessageUnlockMeta struct {
	MessageID uuid.UUID `json:"message_id"`
	SenderID  uuid.UUID `json:"sender_id"`
}

func (MessageUnlockMeta) TransactionType() Type            { return TypeMessageUnlock }
func (m MessageUnlockMeta) Refs() (*uuid.UUID, *uuid.UUID) { return ref(m.MessageID), ref(m.SenderID) }

type RefundMeta struct {
	OriginalTransactionID uuid.UUID `json:"original_transaction_id"`
	OriginalType          Type      `json:"original_type"`
	Reason                string    `json:"reason"`
}

func (RefundMeta) TransactionType() Type            { return TypeRefund }
func (m RefundMeta) Refs() (*uuid.UUID, *uuid.UUID) { return ref(m.OriginalTransactionID), nil }

type OtherMeta struct {
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (OtherMeta) TransactionType() Type          { return TypeOther }
func (OtherMeta) Refs() (*uuid.UUID, *uuid.UUID) { return nil, nil }

// DecodeMetadata restores the metadata variant for t from its JSON form.
func DecodeMetadata(t Type, raw []byte) (Metadata, error) {
	switch t {
	case TypeCall:
		return decodeAs[CallMeta](raw)
	case TypeBattleTip:
		return decodeAs[BattleTipMeta](raw)
	case TypeBattleReward:
		return decodeAs[BattleRewardMeta](raw)
	case TypeLivePartyEntry:
		return decodeAs[LivePartyEntryMeta](raw)
	case TypeLivePartyTip:
		return decodeAs[LivePartyTipMeta](raw)
	case TypeLivePartyViewer:
		return decodeAs[LivePartyViewerMeta](raw)
	case TypeWalletTopUp:
		return decodeAs[TopUpMeta](raw)
	case TypeSubscription:
		return decodeAs[SubscriptionMeta](raw)
	case TypeMessageUnlock:
		return decodeAs[MessageUnlockMeta](raw)
	case TypeRefund:
		return decodeAs[RefundMeta](raw)
	case TypeOther:
		return decodeAs[OtherMeta](raw)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
}

func decodeAs[T Metadata](raw []byte) (Metadata, error) {
	var m T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode %T: %w", m, err)
		}
	}
	return m, nil
}
