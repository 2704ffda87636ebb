package billing

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/starline/starline-api/internal/domain/ledger"
	"github.com/starline/starline-api/internal/domain/notification"
	"github.com/starline/starline-api/internal/domain/wallet"
	"github.com/starline/starline-api/internal/pkg/database"
	"github.com/starline/starline-api/internal/pkg/logger"
)

type StartLivePartyInput struct {
	PartyID             uuid.UUID
	HostID              uuid.UUID
	EntryFee            int64
	ViewerRatePerMinute int64
	Currency            wallet.Currency
}

// JoinResult is the outcome of a viewer joining. Transaction and Receipt are nil for free parties.
type JoinResult struct {
	Viewer      *Viewer             `json:"viewer"`
	Transaction *ledger.Transaction `json:"transaction,omitempty"`
	Receipt     *Receipt            `json:"receipt,omitempty"`
}

// ViewerBill is the outcome of a watch-time report.
type ViewerBill struct {
	Viewer        *Viewer             `json:"viewer"`
	BilledMinutes int64               `json:"billed_minutes"`
	Transaction   *ledger.Transaction `json:"transaction,omitempty"`
}

// TipResult pairs the tipper's debit with the host's credit.
type TipResult struct {
	Debit  *ledger.Transaction `json:"debit"`
	Credit *ledger.Transaction `json:"credit,omitempty"`
}

func (s *Service) StartLiveParty(ctx context.Context, in StartLivePartyInput) (*LiveParty, error) {
	if in.HostID == uuid.Nil || in.EntryFee < 0 || in.ViewerRatePerMinute < 0 {
		return nil, ErrInvalidInput
	}
	if _, err := s.strategy(in.Currency); err != nil {
		return nil, err
	}
	if in.ViewerRatePerMinute > 0 && in.Currency != wallet.CurrencyStars {
		return nil, ErrUnsupportedCurrency
	}
	if in.PartyID == uuid.Nil {
		in.PartyID = uuid.New()
	}

	now := s.now()
	party := &LiveParty{
		ID:                  in.PartyID,
		HostID:              in.HostID,
		EntryFee:            in.EntryFee,
		ViewerRatePerMinute: in.ViewerRatePerMinute,
		Currency:            in.Currency,
		State:               StateActive,
		StartedAt:           &now,
		CreatedAt:           now,
	}
	err := s.atomically(ctx, "start_live_party", func(q database.Querier) error {
		return s.repo.CreateParty(ctx, q, party)
	})
	if err != nil {
		return nil, err
	}
	return party, nil
}

// EndLiveParty closes the party. Late watch-time reports are still billed afterwards.
func (s *Service) EndLiveParty(ctx context.Context, partyID uuid.UUID) (*LiveParty, error) {
	var out *LiveParty
	err := s.atomically(ctx, "end_live_party", func(q database.Querier) error {
		party, err := s.repo.GetParty(ctx, q, partyID, true)
		if err != nil {
			return err
		}
		if party.State != StateEnded {
			party.State = StateEnded
			party.EndedAt = timePtr(s.now())
			if err := s.repo.UpdateParty(ctx, q, party); err != nil {
				return err
			}
		}
		out = party
		return nil
	})
	return out, err
}

// JoinLiveParty admits a viewer and charges the entry fee once.
func (s *Service) JoinLiveParty(ctx context.Context, partyID, userID uuid.UUID) (*JoinResult, error) {
	if userID == uuid.Nil {
		return nil, ErrInvalidInput
	}

	var (
		res  *JoinResult
		host uuid.UUID
	)
	err := s.atomically(ctx, "join_live_party", func(q database.Querier) error {
		res = nil
		party, err := s.repo.GetParty(ctx, q, partyID, true)
		if err != nil {
			return err
		}
		if party.State != StateActive {
			return ErrSessionNotActive
		}
		if party.HostID == userID {
			return ErrSelfBilling
		}
		host = party.HostID

		viewer := &Viewer{PartyID: partyID, UserID: userID, JoinedAt: s.now()}
		inserted, err := s.repo.InsertViewer(ctx, q, viewer)
		if err != nil {
			return err
		}
		if !inserted {
			return ErrAlreadyJoined
		}

		res = &JoinResult{Viewer: viewer}
		if party.EntryFee == 0 {
			return nil
		}

		st, err := s.strategy(party.Currency)
		if err != nil {
			return err
		}
		tx, err := st.Settle(ctx, q, ledger.OpenRequest{
			UserID:         userID,
			Type:           ledger.TypeLivePartyEntry,
			Amount:         party.EntryFee,
			Description:    "Live party entry",
			Metadata:       ledger.LivePartyEntryMeta{PartyID: party.ID, HostID: party.HostID},
			IdempotencyKey: fmt.Sprintf("liveparty_entry:%s:%s", party.ID, userID),
		})
		if err != nil && !errors.Is(err, ledger.ErrAlreadyBilled) {
			return err
		}
		if err := s.repo.SetViewerEntry(ctx, q, partyID, userID, tx.ID); err != nil {
			return err
		}
		viewer.EntryTransactionID = idPtr(tx.ID)
		res.Transaction = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Transaction != nil {
		receipt, err := s.afterCommit(ctx, res.Transaction)
		if err != nil {
			logger.LogError(ctx, err, "live party entry settlement failed", "party_id", partyID.String(), "user_id", userID.String())
			if qErr := s.queueEntryFailure(ctx, res.Transaction, err.Error()); qErr != nil {
				logger.LogError(ctx, qErr, "queue live party entry discrepancy", "party_id", partyID.String(), "user_id", userID.String())
			}
		}
		res.Receipt = receipt
	}

	s.notify(ctx, host, notification.EventPartyJoined, res.Viewer)
	return res, nil
}

// BillViewerMinutes charges the minutes watched since the last report. Reports are
// cumulative; repeated or shorter reports bill nothing.
func (s *Service) BillViewerMinutes(ctx context.Context, partyID, userID uuid.UUID, minutesWatched float64) (*ViewerBill, error) {
	// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
	if math.IsNaN(minutesWatched) || minutesWatched < 0 || minutesWatched >= float64(math.MaxInt64) {
		return nil, ErrInvalidInput
	}
	watched := int64(math.Floor(minutesWatched))

	var bill *ViewerBill
	err := s.atomically(ctx, "bill_viewer_minutes", func(q database.Querier) error {
		bill = nil
		party, err := s.repo.GetParty(ctx, q, partyID, false)
		if err != nil {
			return err
		}
		if party.State == StateInitiated {
			return ErrSessionNotActive
		}
		if party.Currency != wallet.CurrencyStars {
			return ErrUnsupportedCurrency
		}

		viewer, err := s.repo.GetViewer(ctx, q, partyID, userID, true)
		if err != nil {
			return err
		}
		from := viewer.BilledMinutes
		if watched <= from {
			bill = &ViewerBill{Viewer: viewer}
			return nil
		}

		amount, ok := mulInt64(watched-from, party.ViewerRatePerMinute)
		if !ok {
			return fmt.Errorf("%d minutes at %d/min: %w", watched-from, party.ViewerRatePerMinute, ErrInvalidInput)
		}

		bill = &ViewerBill{Viewer: viewer, BilledMinutes: watched - from}
		if amount > 0 {
			st, err := s.strategy(wallet.CurrencyStars)
			if err != nil {
				return err
			}
			tx, err := st.Settle(ctx, q, ledger.OpenRequest{
				UserID:      userID,
				Type:        ledger.TypeLivePartyViewer,
				Amount:      amount,
				Description: fmt.Sprintf("Live party minutes %d-%d", from, watched),
				Metadata: ledger.LivePartyViewerMeta{
					PartyID:    partyID,
					HostID:     party.HostID,
					FromMinute: from,
					ToMinute:   watched,
				},
				IdempotencyKey: fmt.Sprintf("liveparty_viewer:%s:%s:%d-%d", partyID, userID, from, watched),
			})
			if err != nil && !errors.Is(err, ledger.ErrAlreadyBilled) {
				return err
			}
			bill.Transaction = tx
		}

		advanced, err := s.repo.AdvanceViewerMinutes(ctx, q, partyID, userID, from, watched)
		if err != nil {
			return err
		}
		if !advanced {
			return fmt.Errorf("viewer minutes moved past %d: %w", from, database.ErrConflict)
		}
		viewer.BilledMinutes = watched
		return nil
	})
	if err != nil {
		return nil, err
	}

	if bill.Transaction != nil {
		ledger.LogApplied(ctx, bill.Transaction)
		s.notify(ctx, userID, notification.EventWalletUpdated, bill.Transaction)
	}
	return bill, nil
}

// TipLiveParty moves stars from a viewer to the host. An empty key makes the tip
// non-idempotent.
func (s *Service) TipLiveParty(ctx context.Context, partyID, tipperID uuid.UUID, amount int64, key string) (*TipResult, error) {
	if tipperID == uuid.Nil || amount <= 0 {
		return nil, ErrInvalidInput
	}
	if key == "" {
		key = uuid.NewString()
	}

	var (
		res  *TipResult
		host uuid.UUID
	)
	err := s.atomically(ctx, "tip_live_party", func(q database.Querier) error {
		res = nil
		party, err := s.repo.GetParty(ctx, q, partyID, false)
		if err != nil {
			return err
		}
		if party.State != StateActive {
			return ErrSessionNotActive
		}
		if party.HostID == tipperID {
			return ErrSelfBilling
		}
		host = party.HostID

		meta := ledger.LivePartyTipMeta{PartyID: partyID, HostID: party.HostID, TipperID: tipperID}
		debit, err := s.ledger.OpenAndDebitTx(ctx, q, ledger.OpenRequest{
			UserID:         tipperID,
			Type:           ledger.TypeLivePartyTip,
			Amount:         amount,
			Currency:       wallet.CurrencyStars,
			Description:    "Live party tip",
			Metadata:       meta,
			IdempotencyKey: fmt.Sprintf("liveparty_tip:%s:%s:%s", partyID, tipperID, key),
		})
		if errors.Is(err, ledger.ErrAlreadyBilled) {
			res = &TipResult{Debit: debit}
			return err
		}
		if err != nil {
			return err
		}

		credit, err := s.ledger.OpenAndCreditTx(ctx, q, ledger.OpenRequest{
			UserID:         party.HostID,
			Type:           ledger.TypeLivePartyTip,
			Amount:         amount,
			Currency:       wallet.CurrencyStars,
			Description:    "Live party tip received",
			Metadata:       meta,
			IdempotencyKey: "liveparty_tip_credit:" + debit.ID.String(),
		})
		if err != nil {
			return err
		}
		res = &TipResult{Debit: debit, Credit: credit}
		return nil
	})
	if errors.Is(err, ledger.ErrAlreadyBilled) {
		return res, err
	}
	if err != nil {
		return nil, err
	}

	ledger.LogApplied(ctx, res.Debit)
	ledger.LogApplied(ctx, res.Credit)
	s.notify(ctx, host, notification.EventPartyTipReceived, res.Credit)
	s.notify(ctx, tipperID, notification.EventWalletUpdated, res.Debit)
	return res, nil
}

func (s *Service) GetLiveParty(ctx context.Context, partyID uuid.UUID) (*LiveParty, error) {
	return s.repo.GetParty(ctx, s.db.DB(), partyID, false)
}

func (s *Service) queueEntryFailure(ctx context.Context, tx *ledger.Transaction, reason string) error {
	return s.atomically(ctx, "queue_entry_failure", func(q database.Querier) error {
		return s.queueEntryFailureTx(ctx, q, tx, reason)
	})
}

// queueEntryFailureTx records an unpaid entry fee. The viewer keeps access, so the
// party and the failed transaction disagree until someone reviews it.
func (s *Service) queueEntryFailureTx(ctx context.Context, q database.Querier, tx *ledger.Transaction, reason string) error {
	session := tx.ID
	if tx.SessionID != nil {
		session = *tx.SessionID
	}
	logger.LogWarn(ctx, "live party entry fee unpaid",
		"transaction_id", tx.ID.String(), "party_id", session.String(), "user_id", tx.UserID.String())
	return s.repo.CreateDiscrepancy(ctx, q, &Discrepancy{
		ID:        uuid.New(),
		Kind:      DiscrepancyPaymentFailed,
		SessionID: session,
		UserID:    tx.UserID,
		Amount:    tx.Amount,
		Reason:    reason,
		CreatedAt: s.now(),
	})
}
