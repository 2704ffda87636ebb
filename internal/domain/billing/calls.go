package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/starline/starline-api/internal/domain/ledger"
	"github.com/starline/starline-api/internal/domain/notification"
	"github.com/starline/starline-api/internal/domain/wallet"
	"github.com/starline/starline-api/internal/pkg/database"
	"github.com/starline/starline-api/internal/pkg/logger"
)

type InitiateCallInput struct {
	CallID        uuid.UUID
	CallerID      uuid.UUID
	ReceiverID    uuid.UUID
	RatePerMinute int64
	Currency      wallet.Currency
}

// InitiateCall registers a call before it connects. A caller whose trial is spent
// must be able to pay for the first minute.
func (s *Service) InitiateCall(ctx context.Context, in InitiateCallInput) (*Call, error) {
	if in.CallerID == uuid.Nil || in.ReceiverID == uuid.Nil || in.RatePerMinute < 0 {
		return nil, ErrInvalidInput
	}
	if in.CallerID == in.ReceiverID {
		return nil, ErrSelfBilling
	}
	if _, err := s.strategy(in.Currency); err != nil {
		return nil, err
	}
	if in.CallID == uuid.Nil {
		in.CallID = uuid.New()
	}

	trialUsed, err := s.repo.HasUsedTrial(ctx, s.db.DB(), in.CallerID)
	if err != nil {
		return nil, err
	}
	if trialUsed && in.RatePerMinute > 0 && in.Currency == wallet.CurrencyStars {
		w, err := s.wallets.GetOrCreate(ctx, in.CallerID)
		if err != nil {
			return nil, err
		}
		if w.Stars < in.RatePerMinute {
			return nil, &UpgradeRequiredError{
				UserID:    in.CallerID,
				Currency:  in.Currency,
				Required:  in.RatePerMinute,
				Available: w.Stars,
			}
		}
	}

	call := &Call{
		ID:            in.CallID,
		CallerID:      in.CallerID,
		ReceiverID:    in.ReceiverID,
		RatePerMinute: in.RatePerMinute,
		Currency:      in.Currency,
		State:         StateInitiated,
		PaymentStatus: PaymentUnpaid,
		CreatedAt:     s.now(),
	}
	err = s.atomically(ctx, "initiate_call", func(q database.Querier) error {
		return s.repo.CreateCall(ctx, q, call)
	})
	if err != nil {
		return nil, err
	}
	return call, nil
}

// StartCall marks the call connected. Repeating it is a no-op.
func (s *Service) StartCall(ctx context.Context, callID uuid.UUID) (*Call, error) {
	var out *Call
	err := s.atomically(ctx, "start_call", func(q database.Querier) error {
		call, err := s.repo.GetCall(ctx, q, callID, true)
		if err != nil {
			return err
		}
		switch call.State {
		case StateActive:
		case StateInitiated:
			call.State = StateActive
			call.StartedAt = timePtr(s.now())
			if err := s.repo.UpdateCall(ctx, q, call); err != nil {
				return err
			}
		default:
			return ErrSessionNotActive
		}
		out = call
		return nil
	})
	return out, err
}

// EndCall closes an active call and bills it. Replaying it returns the stored outcome.
func (s *Service) EndCall(ctx context.Context, callID uuid.UUID, durationSeconds int64) (*Call, error) {
	if durationSeconds < 0 {
		return nil, ErrInvalidInput
	}

	var (
		out     *Call
		settled *ledger.Transaction
		replay  bool
		cost    int64
	)
	err := s.atomically(ctx, "end_call", func(q database.Querier) error {
		out, settled, replay, cost = nil, nil, false, 0

		call, err := s.repo.GetCall(ctx, q, callID, true)
		if err != nil {
			return err
		}
		if call.State == StateEnded {
			out, replay = call, true
			return nil
		}
		if call.State != StateActive {
			return ErrSessionNotActive
		}

		now := s.now()
		call.State = StateEnded
		call.DurationSeconds = durationSeconds
		call.EndedAt = &now
		cost, err = CallCost(durationSeconds, call.RatePerMinute)
		if err != nil {
			return err
		}
		call.Cost = cost

		// The first ended call consumes the trial whatever its length.
		firstCall, err := s.repo.ConsumeTrial(ctx, q, TrialUsage{UserID: call.CallerID, CallID: call.ID, UsedAt: now})
		if err != nil {
			return err
		}

		switch {
		case firstCall && durationSeconds <= s.cfg.TrialMaxSeconds:
			call.PaymentStatus = PaymentFreeTrial
		case cost == 0:
			call.PaymentStatus = PaymentNoCharge
		default:
			tx, err := s.chargeCall(ctx, q, call)
			if err != nil {
				return err
			}
			call.TransactionID = idPtr(tx.ID)
			call.PaymentStatus = paymentStatusOf(tx)
			settled = tx
		}

		if err := s.repo.UpdateCall(ctx, q, call); err != nil {
			return err
		}
		out = call
		return nil
	})

	var short *wallet.InsufficientFundsError
	if errors.As(err, &short) {
		failed, failErr := s.failCallCharge(ctx, callID, durationSeconds, cost, err)
		if failErr != nil {
			return nil, failErr
		}
		s.notify(ctx, failed.CallerID, notification.EventCallPaymentFailed, failed)
		return failed, err
	}
	if err != nil {
		return nil, err
	}
	if replay {
		return out, nil
	}

	if _, err := s.afterCommit(ctx, settled); err != nil {
		logger.LogError(ctx, err, "deferred call settlement failed", "call_id", callID.String())
		if failed, markErr := s.markCallPayment(ctx, settled, PaymentFailed, err.Error()); markErr == nil && failed != nil {
			out = failed
		}
	}

	logger.LogInfo(ctx, "call billed",
		"call_id", out.ID.String(),
		"user_id", out.CallerID.String(),
		"duration_seconds", out.DurationSeconds,
		"amount", out.Cost,
		"currency", string(out.Currency),
		"payment_status", string(out.PaymentStatus),
	)
	s.notify(ctx, out.CallerID, notification.EventCallBilled, out)
	return out, nil
}

func (s *Service) chargeCall(ctx context.Context, q database.Querier, call *Call) (*ledger.Transaction, error) {
	st, err := s.strategy(call.Currency)
	if err != nil {
		return nil, err
	}
	tx, err := st.Settle(ctx, q, ledger.OpenRequest{
		UserID:      call.CallerID,
		Type:        ledger.TypeCall,
		Amount:      call.Cost,
		Description: fmt.Sprintf("Call, %d seconds", call.DurationSeconds),
		Metadata: ledger.CallMeta{
			CallID:          call.ID,
			ReceiverID:      call.ReceiverID,
			DurationSeconds: call.DurationSeconds,
			RatePerMinute:   call.RatePerMinute,
		},
		IdempotencyKey: "call:" + call.ID.String(),
	})
	if errors.Is(err, ledger.ErrAlreadyBilled) {
		return tx, nil
	}
	return tx, err
}

// failCallCharge ends the call unpaid and queues it for reconciliation.
func (s *Service) failCallCharge(ctx context.Context, callID uuid.UUID, durationSeconds, cost int64, cause error) (*Call, error) {
	var out *Call
	err := s.atomically(ctx, "fail_call_charge", func(q database.Querier) error {
		out = nil
		call, err := s.repo.GetCall(ctx, q, callID, true)
		if err != nil {
			return err
		}
		if call.State == StateEnded {
			out = call
			return nil
		}

		now := s.now()
		if _, err := s.repo.ConsumeTrial(ctx, q, TrialUsage{UserID: call.CallerID, CallID: call.ID, UsedAt: now}); err != nil {
			return err
		}
		call.State = StateEnded
		call.DurationSeconds = durationSeconds
		call.Cost = cost
		call.EndedAt = &now
		call.PaymentStatus = PaymentFailed
		if err := s.repo.UpdateCall(ctx, q, call); err != nil {
			return err
		}
		if err := s.repo.CreateDiscrepancy(ctx, q, &Discrepancy{
			ID:        uuid.New(),
			Kind:      DiscrepancyCallCharge,
			SessionID: call.ID,
			UserID:    call.CallerID,
			Amount:    cost,
			Reason:    cause.Error(),
			CreatedAt: now,
		}); err != nil {
			return err
		}
		out = call
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.LogWarn(ctx, "call ended unpaid", "call_id", callID.String(), "amount", cost, "reason", cause.Error())
	return out, nil
}

// markCallPayment updates the call settled by tx, if there is one. Failures queue a discrepancy.
func (s *Service) markCallPayment(ctx context.Context, tx *ledger.Transaction, status PaymentStatus, reason string) (*Call, error) {
	if tx == nil || tx.Type != ledger.TypeCall {
		return nil, nil
	}
	var out *Call
	err := s.atomically(ctx, "mark_call_payment", func(q database.Querier) error {
		out = nil
		call, err := s.markCallPaymentTx(ctx, q, tx, status, reason)
		out = call
		return err
	})
	return out, err
}

func (s *Service) markCallPaymentTx(ctx context.Context, q database.Querier, tx *ledger.Transaction, status PaymentStatus, reason string) (*Call, error) {
	call, err := s.repo.GetCallByTransaction(ctx, q, tx.ID)
	if errors.Is(err, ErrCallNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if call.PaymentStatus == status {
		return call, nil
	}

	call.PaymentStatus = status
	if err := s.repo.UpdateCall(ctx, q, call); err != nil {
		return nil, err
	}
	if status == PaymentFailed {
		if err := s.repo.CreateDiscrepancy(ctx, q, &Discrepancy{
			ID:        uuid.New(),
			Kind:      DiscrepancyPaymentFailed,
			SessionID: call.ID,
			UserID:    call.CallerID,
			Amount:    tx.Amount,
			Reason:    reason,
			CreatedAt: s.now(),
		}); err != nil {
			return nil, err
		}
	}
	return call, nil
}

func (s *Service) GetCall(ctx context.Context, callID uuid.UUID) (*Call, error) {
	return s.repo.GetCall(ctx, s.db.DB(), callID, false)
}
