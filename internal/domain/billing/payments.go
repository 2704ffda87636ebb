package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/starline/starline-api/internal/domain/ledger"
	"github.com/starline/starline-api/internal/domain/notification"
	"github.com/starline/starline-api/internal/domain/wallet"
	"github.com/starline/starline-api/internal/pkg/database"
	"github.com/starline/starline-api/internal/pkg/invoicing"
	"github.com/starline/starline-api/internal/pkg/logger"
)

const reconcileBatchSize = 100

// PaymentEvent is a processor status update for one invoice.
type PaymentEvent struct {
	DeliveryID string
	InvoiceID  string
	Status     invoicing.Status
}

type TopUpResult struct {
	Transaction *ledger.Transaction `json:"transaction"`
	Receipt     *Receipt            `json:"receipt,omitempty"`
}

// PaymentOutcome is what ConfirmExternalPayment did. Duplicate is set for a
// delivery that was already processed.
type PaymentOutcome struct {
	Transaction *ledger.Transaction `json:"transaction,omitempty"`
	Credit      *ledger.Transaction `json:"credit,omitempty"`
	Duplicate   bool                `json:"duplicate"`
}

type ExpiryReport struct {
	Checked   int `json:"checked"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Waiting   int `json:"waiting"`
	Errors    int `json:"errors"`
}

type DiscrepancyReport struct {
	Checked  int `json:"checked"`
	Resolved int `json:"resolved"`
	Retried  int `json:"retried"`
	Skipped  int `json:"skipped"`
}

// TopUp opens a USD payment for stars. The stars are credited when the processor
// confirms the invoice.
func (s *Service) TopUp(ctx context.Context, userID uuid.UUID, stars int64, key string) (*TopUpResult, error) {
	if userID == uuid.Nil || stars <= 0 {
		return nil, ErrInvalidInput
	}
	st, err := s.strategy(wallet.CurrencyUSD)
	if err != nil {
		return nil, err
	}
	if key == "" {
		key = uuid.NewString()
	}

	var tx *ledger.Transaction
	err = s.atomically(ctx, "top_up", func(q database.Querier) error {
		var err error
		tx, err = st.Settle(ctx, q, ledger.OpenRequest{
			UserID:         userID,
			Type:           ledger.TypeWalletTopUp,
			Amount:         stars * s.cfg.StarPriceCents,
			Description:    fmt.Sprintf("Top up %d stars", stars),
			Metadata:       ledger.TopUpMeta{Stars: stars, UnitPriceCents: s.cfg.StarPriceCents},
			IdempotencyKey: fmt.Sprintf("wallet_topup:%s:%s", userID, key),
		})
		if errors.Is(err, ledger.ErrAlreadyBilled) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	receipt, err := s.afterCommit(ctx, tx)
	if err != nil {
		return nil, err
	}
	if receipt == nil && tx.ExternalRef != nil {
		receipt = &Receipt{ExternalRef: *tx.ExternalRef}
	}
	return &TopUpResult{Transaction: tx, Receipt: receipt}, nil
}

// ConfirmExternalPayment applies a processor status update. Each delivery is
// applied at most once.
func (s *Service) ConfirmExternalPayment(ctx context.Context, ev PaymentEvent) (*PaymentOutcome, error) {
	if ev.InvoiceID == "" {
		return nil, ErrInvalidInput
	}

	var out *PaymentOutcome
	err := s.atomically(ctx, "confirm_external_payment", func(q database.Querier) error {
		out = nil
		if ev.DeliveryID != "" {
			fresh, err := s.repo.RecordDelivery(ctx, q, ev.DeliveryID, s.now())
			if err != nil {
				return err
			}
			if !fresh {
				out = &PaymentOutcome{Duplicate: true}
				return nil
			}
		}

		tx, err := s.ledger.GetByExternalRefTx(ctx, q, ev.InvoiceID)
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return ErrUnknownPayment
		}
		if err != nil {
			return err
		}
		out, err = s.applyPaymentStatusTx(ctx, q, tx, ev.Status)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !out.Duplicate {
		s.publishPayment(ctx, out)
	}
	return out, nil
}

func (s *Service) applyPaymentStatusTx(ctx context.Context, q database.Querier, tx *ledger.Transaction, status invoicing.Status) (*PaymentOutcome, error) {
	out := &PaymentOutcome{Transaction: tx}

	switch status {
	case invoicing.StatusCompleted:
		if tx.Status != ledger.StatusPending {
			if tx.Status.Terminal() {
				return out, s.queueLatePayment(ctx, q, tx)
			}
			return out, nil
		}
		done, err := s.ledger.CompleteTx(ctx, q, tx.ID)
		if err != nil {
			return nil, err
		}
		out.Transaction = done

		switch done.Type {
		case ledger.TypeWalletTopUp:
			credit, err := s.creditTopUp(ctx, q, done)
			if err != nil {
				return nil, err
			}
			out.Credit = credit
		case ledger.TypeCall:
			if _, err := s.markCallPaymentTx(ctx, q, done, PaymentPaid, ""); err != nil {
				return nil, err
			}
		}

	case invoicing.StatusFailed, invoicing.StatusExpired:
		if tx.Status != ledger.StatusPending {
			return out, nil
		}
		reason := "payment " + string(status)
		var (
			closed *ledger.Transaction
			err    error
		)
		if status == invoicing.StatusExpired {
			closed, err = s.ledger.CancelTx(ctx, q, tx.ID, reason)
		} else {
			closed, err = s.ledger.FailTx(ctx, q, tx.ID, reason)
		}
		if err != nil {
			return nil, err
		}
		out.Transaction = closed
		switch closed.Type {
		case ledger.TypeCall:
			if _, err := s.markCallPaymentTx(ctx, q, closed, PaymentFailed, reason); err != nil {
				return nil, err
			}
		case ledger.TypeLivePartyEntry:
			if err := s.queueEntryFailureTx(ctx, q, closed, reason); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (s *Service) creditTopUp(ctx context.Context, q database.Querier, payment *ledger.Transaction) (*ledger.Transaction, error) {
	meta, ok := payment.Metadata.(ledger.TopUpMeta)
	if !ok || meta.Stars <= 0 {
		return nil, fmt.Errorf("top-up %s has no star amount: %w", payment.ID, ledger.ErrMetadataMismatch)
	}
	meta.PaymentTransactionID = payment.ID

	credit, err := s.ledger.OpenAndCreditTx(ctx, q, ledger.OpenRequest{
		UserID:         payment.UserID,
		Type:           ledger.TypeWalletTopUp,
		Amount:         meta.Stars,
		Currency:       wallet.CurrencyStars,
		Description:    fmt.Sprintf("Top up %d stars", meta.Stars),
		Metadata:       meta,
		IdempotencyKey: "topup_credit:" + payment.ID.String(),
	})
	if errors.Is(err, ledger.ErrAlreadyBilled) {
		return credit, nil
	}
	return credit, err
}

// queueLatePayment records money received for a charge we had already closed.
func (s *Service) queueLatePayment(ctx context.Context, q database.Querier, tx *ledger.Transaction) error {
	session := tx.ID
	if tx.SessionID != nil {
		session = *tx.SessionID
	}
	logger.LogWarn(ctx, "payment confirmed for closed transaction",
		"transaction_id", tx.ID.String(), "status", string(tx.Status))
	return s.repo.CreateDiscrepancy(ctx, q, &Discrepancy{
		ID:        uuid.New(),
		Kind:      DiscrepancyLatePayment,
		SessionID: session,
		UserID:    tx.UserID,
		Amount:    tx.Amount,
		Reason:    fmt.Sprintf("processor confirmed %s transaction %s", tx.Status, tx.ID),
		CreatedAt: s.now(),
	})
}

func (s *Service) publishPayment(ctx context.Context, out *PaymentOutcome) {
	tx := out.Transaction
	if tx == nil {
		return
	}
	ledger.LogApplied(ctx, out.Credit)
	switch tx.Status {
	case ledger.StatusCompleted:
		s.notify(ctx, tx.UserID, notification.EventPaymentCompleted, out)
	case ledger.StatusFailed, ledger.StatusCancelled:
		s.notify(ctx, tx.UserID, notification.EventPaymentFailed, out)
	}
}

// ExpireStalePending settles pending transactions older than olderThan from the
// processor's view of their invoices. Invoices still open at the processor are left alone.
func (s *Service) ExpireStalePending(ctx context.Context, olderThan time.Time) (*ExpiryReport, error) {
	stale, err := s.ledger.ListStalePending(ctx, olderThan, reconcileBatchSize)
	if err != nil {
		return nil, err
	}

	report := &ExpiryReport{}
	for _, tx := range stale {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++

		status := invoicing.StatusExpired
		if tx.ExternalRef != nil && s.invoicer != nil {
			inv, err := s.invoicer.GetInvoice(ctx, *tx.ExternalRef)
			switch {
			case errors.Is(err, invoicing.ErrInvoiceNotFound):
			case err != nil:
				report.Errors++
				logger.LogWarn(ctx, "invoice lookup failed", "transaction_id", tx.ID.String(), "error", err.Error())
				continue
			default:
				status = inv.Status
			}
		}
		if !status.Final() {
			report.Waiting++
			continue
		}

		var out *PaymentOutcome
		err := s.atomically(ctx, "expire_pending", func(q database.Querier) error {
			current, err := s.ledger.GetTx(ctx, q, tx.ID)
			if err != nil {
				return err
			}
			out, err = s.applyPaymentStatusTx(ctx, q, current, status)
			return err
		})
		if err != nil {
			report.Errors++
			logger.LogError(ctx, err, "stale transaction not settled", "transaction_id", tx.ID.String())
			continue
		}

		switch out.Transaction.Status {
		case ledger.StatusCompleted:
			report.Completed++
		case ledger.StatusFailed:
			report.Failed++
		case ledger.StatusCancelled:
			report.Cancelled++
		}
		s.publishPayment(ctx, out)
	}

	if report.Checked > 0 {
		logger.LogInfo(ctx, "stale pending transactions reconciled",
			"checked", report.Checked,
			"completed", report.Completed,
			"failed", report.Failed,
			"cancelled", report.Cancelled,
			"waiting", report.Waiting,
			"errors", report.Errors,
		)
	}
	return report, nil
}

// RetryDiscrepancies re-attempts call charges that failed at EndCall. Other kinds
// stay open for manual review.
func (s *Service) RetryDiscrepancies(ctx context.Context) (*DiscrepancyReport, error) {
	open, err := s.repo.ListOpenDiscrepancies(ctx, s.db.DB(), reconcileBatchSize)
	if err != nil {
		return nil, err
	}

	report := &DiscrepancyReport{}
	for _, d := range open {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		if d.Kind != DiscrepancyCallCharge {
			report.Skipped++
			continue
		}

		tx, err := s.retryCallCharge(ctx, d)
		var short *wallet.InsufficientFundsError
		switch {
		case errors.As(err, &short):
			report.Retried++
			if bumpErr := s.atomically(ctx, "bump_discrepancy", func(q database.Querier) error {
				return s.repo.BumpDiscrepancy(ctx, q, d.ID, err.Error())
			}); bumpErr != nil {
				logger.LogError(ctx, bumpErr, "discrepancy not updated", "discrepancy_id", d.ID.String())
			}
			continue
		case err != nil:
			report.Retried++
			logger.LogError(ctx, err, "call charge retry failed", "discrepancy_id", d.ID.String(), "call_id", d.SessionID.String())
			continue
		}

		report.Resolved++
		if _, err := s.afterCommit(ctx, tx); err != nil {
			logger.LogError(ctx, err, "deferred call settlement failed", "call_id", d.SessionID.String())
			if _, markErr := s.markCallPayment(ctx, tx, PaymentFailed, err.Error()); markErr != nil {
				logger.LogError(ctx, markErr, "call payment status not updated", "call_id", d.SessionID.String())
			}
		}
	}
	return report, nil
}

// retryCallCharge charges an ended call and closes its discrepancy in one unit of
// work. tx is nil when the call was already settled.
func (s *Service) retryCallCharge(ctx context.Context, d *Discrepancy) (*ledger.Transaction, error) {
	var settled *ledger.Transaction
	err := s.atomically(ctx, "retry_call_charge", func(q database.Querier) error {
		settled = nil
		call, err := s.repo.GetCall(ctx, q, d.SessionID, true)
		if err != nil {
			return err
		}
		if call.PaymentStatus == PaymentFailed && call.Cost > 0 {
			tx, err := s.chargeCall(ctx, q, call)
			if err != nil {
				return err
			}
			call.TransactionID = idPtr(tx.ID)
			call.PaymentStatus = paymentStatusOf(tx)
			if err := s.repo.UpdateCall(ctx, q, call); err != nil {
				return err
			}
			settled = tx
		}
		return s.repo.ResolveDiscrepancy(ctx, q, d.ID, s.now())
	})
	if err != nil {
		return nil, err
	}
	if settled != nil {
		logger.LogInfo(ctx, "call charge recovered", "call_id", d.SessionID.String(), "amount", settled.Amount)
	}
	return settled, nil
}
