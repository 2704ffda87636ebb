package billing

import "github.com/google/uuid"

// IdempotencyKeyHeader lets clients make tips and top-ups safe to retry.
const IdempotencyKeyHeader = "Idempotency-Key"

// InitiateCallRequest for POST /calls
type InitiateCallRequest struct {
	CallID        *uuid.UUID `json:"call_id"`
	CallerID      uuid.UUID  `json:"caller_id" validate:"required"`
	ReceiverID    uuid.UUID  `json:"receiver_id" validate:"required"`
	RatePerMinute int64      `json:"rate_per_minute" validate:"gte=0,lte=1000000"`
	Currency      string     `json:"currency" validate:"required,currency"`
}

// EndCallRequest for POST /calls/{id}/end. Durations are capped at 30 days.
type EndCallRequest struct {
	DurationSeconds int64 `json:"duration_seconds" validate:"gte=0,lte=2592000"`
}

// StartLivePartyRequest for POST /liveparties
type StartLivePartyRequest struct {
	PartyID             *uuid.UUID `json:"party_id"`
	HostID              uuid.UUID  `json:"host_id" validate:"required"`
	EntryFee            int64      `json:"entry_fee" validate:"gte=0,lte=100000000"`
	ViewerRatePerMinute int64      `json:"viewer_rate_per_minute" validate:"gte=0,lte=1000000"`
	Currency            string     `json:"currency" validate:"required,currency"`
}

// WatchReportRequest for POST /liveparties/{id}/watch
type WatchReportRequest struct {
	UserID         uuid.UUID `json:"user_id" validate:"required"`
	MinutesWatched float64   `json:"minutes_watched" validate:"gte=0,lte=43200"`
}

// TipRequest for POST /liveparties/{id}/tips and /battles/{id}/tips. HostID is
// ignored for live parties.
type TipRequest struct {
	HostID *uuid.UUID `json:"host_id"`
	Amount int64      `json:"amount" validate:"required,gt=0"`
}

// StartBattleRequest for POST /battles
type StartBattleRequest struct {
	BattleID *uuid.UUID `json:"battle_id"`
	Host1ID  uuid.UUID  `json:"host1_id" validate:"required"`
	Host2ID  uuid.UUID  `json:"host2_id" validate:"required"`
}

// TopUpRequest for POST /wallet/topup
type TopUpRequest struct {
	Stars int64 `json:"stars" validate:"required,gt=0,lte=1000000"`
}

func idOrNil(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}
