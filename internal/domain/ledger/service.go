package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/starline/starline-api/internal/domain/wallet"
	"github.com/starline/starline-api/internal/pkg/database"
	"github.com/starline/starline-api/internal/pkg/logger"
)

// WalletMutator is the slice of the wallet store the ledger drives.
type WalletMutator interface {
	DebitTx(ctx context.Context, q database.Querier, userID uuid.UUID, amount int64, c wallet.Currency) (*wallet.Wallet, error)
	CreditTx(ctx context.Context, q database.Querier, userID uuid.UUID, amount int64, c wallet.Currency) (*wallet.Wallet, error)
}

// Service is the transaction ledger. Methods ending in Tx join the caller's unit of
// work; the others open their own.
type Service struct {
	repo    Repository
	wallets WalletMutator
	db      database.TxRunner
	now     func() time.Time
}

func NewService(repo Repository, wallets WalletMutator, db database.TxRunner) *Service {
	return &Service{
		repo:    repo,
		wallets: wallets,
		db:      db,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) newTransaction(req OpenRequest, dir Direction, status Status, applied bool) (*Transaction, error) {
	if req.UserID == uuid.Nil {
		return nil, errors.New("user id is required")
	}
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !req.Type.Valid() {
		return nil, ErrUnknownType
	}
	if !req.Currency.Valid() {
		return nil, wallet.ErrUnknownCurrency
	}
	if req.Metadata == nil || req.Metadata.TransactionType() != req.Type {
		return nil, ErrMetadataMismatch
	}

	now := s.now()
	session, counterparty := req.Metadata.Refs()
	tx := &Transaction{
		ID:             uuid.New(),
		UserID:         req.UserID,
		Type:           req.Type,
		Direction:      dir,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Status:         status,
		Description:    req.Description,
		Metadata:       req.Metadata,
		SessionID:      session,
		CounterpartyID: counterparty,
		WalletApplied:  applied,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		tx.IdempotencyKey = &key
	}
	return tx, nil
}

// insert stores tx, or resolves an idempotent replay to the stored original.
func (s *Service) insert(ctx context.Context, q database.Querier, tx *Transaction) (*Transaction, error) {
	inserted, err := s.repo.Insert(ctx, q, tx)
	if err != nil {
		return nil, err
	}
	if inserted {
		return tx, nil
	}

	existing, err := s.repo.GetByIdempotencyKey(ctx, q, *tx.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing.UserID != tx.UserID || existing.Type != tx.Type || existing.Amount != tx.Amount ||
		existing.Currency != tx.Currency || existing.Direction != tx.Direction {
		return existing, ErrIdempotencyConflict
	}
	return existing, ErrAlreadyBilled
}

// OpenTx creates a pending transaction without touching the wallet.
func (s *Service) OpenTx(ctx context.Context, q database.Querier, req OpenRequest) (*Transaction, error) {
	dir := req.Direction
	if dir == "" {
		dir = DirectionDebit
	}
	tx, err := s.newTransaction(req, dir, StatusPending, false)
	if err != nil {
		return nil, err
	}
	return s.insert(ctx, q, tx)
}

func (s *Service) Open(ctx context.Context, req OpenRequest) (*Transaction, error) {
	return s.inTx(ctx, func(q database.Querier) (*Transaction, error) {
		return s.OpenTx(ctx, q, req)
	})
}

// OpenAndDebitTx records a completed debit and decrements the wallet in q.
// On insufficient funds the caller must roll q back; nothing is left behind then.
func (s *Service) OpenAndDebitTx(ctx context.Context, q database.Querier, req OpenRequest) (*Transaction, error) {
	tx, err := s.newTransaction(req, DirectionDebit, StatusCompleted, true)
	if err != nil {
		return nil, err
	}
	tx, err = s.insert(ctx, q, tx)
	if err != nil {
		return tx, err
	}
	if _, err := s.wallets.DebitTx(ctx, q, tx.UserID, tx.Amount, tx.Currency); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Service) OpenAndDebit(ctx context.Context, req OpenRequest) (*Transaction, error) {
	tx, err := s.inTx(ctx, func(q database.Querier) (*Transaction, error) {
		return s.OpenAndDebitTx(ctx, q, req)
	})
	if err == nil {
		LogApplied(ctx, tx)
	}
	return tx, err
}

// OpenAndCreditTx records a completed credit and increments the wallet in q.
func (s *Service) OpenAndCreditTx(ctx context.Context, q database.Querier, req OpenRequest) (*Transaction, error) {
	tx, err := s.newTransaction(req, DirectionCredit, StatusCompleted, true)
	if err != nil {
		return nil, err
	}
	tx, err = s.insert(ctx, q, tx)
	if err != nil {
		return tx, err
	}
	if _, err := s.wallets.CreditTx(ctx, q, tx.UserID, tx.Amount, tx.Currency); err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Service) OpenAndCredit(ctx context.Context, req OpenRequest) (*Transaction, error) {
	tx, err := s.inTx(ctx, func(q database.Querier) (*Transaction, error) {
		return s.OpenAndCreditTx(ctx, q, req)
	})
	if err == nil {
		LogApplied(ctx, tx)
	}
	return tx, err
}

// CompleteTx moves a pending transaction to completed. The wallet is not touched.
func (s *Service) CompleteTx(ctx context.Context, q database.Querier, id uuid.UUID) (*Transaction, error) {
	return s.transition(ctx, q, id, StatusPending, StatusCompleted, nil)
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return s.inTx(ctx, func(q database.Querier) (*Transaction, error) {
		return s.CompleteTx(ctx, q, id)
	})
}

// FailTx moves a pending transaction to failed and reverses any wallet effect.
func (s *Service) FailTx(ctx context.Context, q database.Querier, id uuid.UUID, reason string) (*Transaction, error) {
	return s.closePending(ctx, q, id, StatusFailed, reason)
}

func (s *Service) Fail(ctx context.Context, id uuid.UUID, reason string) (*Transaction, error) {
	return s.inTx(ctx, func(q database.Querier) (*Transaction, error) {
		return s.FailTx(ctx, q, id, reason)
	})
}

// CancelTx moves a pending transaction to cancelled, reversing any wallet effect.
func (s *Service) CancelTx(ctx context.Context, q database.Querier, id uuid.UUID, reason string) (*Transaction, error) {
	return s.closePending(ctx, q, id, StatusCancelled, reason)
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Transaction, error) {
	return s.inTx(ctx, func(q database.Querier) (*Transaction, error) {
		return s.CancelTx(ctx, q, id, reason)
	})
}

func (s *Service) closePending(ctx context.Context, q database.Querier, id uuid.UUID, to Status, reason string) (*Transaction, error) {
	tx, err := s.transition(ctx, q, id, StatusPending, to, &reason)
	if err != nil {
		return nil, err
	}
	if tx.WalletApplied {
		if _, err := s.compensate(ctx, q, tx, "compensate:"+tx.ID.String(), reason); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

// RefundTx reverses a completed wallet debit and returns the compensating credit.
func (s *Service) RefundTx(ctx context.Context, q database.Querier, id uuid.UUID, reason string) (*Transaction, error) {
	orig, err := s.repo.GetByID(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if orig.Direction != DirectionDebit || !orig.WalletApplied {
		return nil, ErrNotRefundable
	}
	if _, err := s.transition(ctx, q, id, StatusCompleted, StatusRefunded, &reason); err != nil {
		return nil, err
	}
	return s.compensate(ctx, q, orig, "refund:"+orig.ID.String(), reason)
}

func (s *Service) Refund(ctx context.Context, id uuid.UUID, reason string) (*Transaction, error) {
	tx, err := s.inTx(ctx, func(q database.Querier) (*Transaction, error) {
		return s.RefundTx(ctx, q, id, reason)
	})
	if err == nil {
		LogApplied(ctx, tx)
	}
	return tx, err
}

// compensate writes the reverse wallet movement of orig as a refund record.
func (s *Service) compensate(ctx context.Context, q database.Querier, orig *Transaction, key, reason string) (*Transaction, error) {
	req := OpenRequest{
		UserID:         orig.UserID,
		Type:           TypeRefund,
		Amount:         orig.Amount,
		Currency:       orig.Currency,
		Description:    "Reversal of " + string(orig.Type),
		Metadata:       RefundMeta{OriginalTransactionID: orig.ID, OriginalType: orig.Type, Reason: reason},
		IdempotencyKey: key,
	}
	if orig.Direction == DirectionCredit {
		return s.OpenAndDebitTx(ctx, q, req)
	}
	return s.OpenAndCreditTx(ctx, q, req)
}

func (s *Service) transition(ctx context.Context, q database.Querier, id uuid.UUID, from, to Status, reason *string) (*Transaction, error) {
	ok, err := s.repo.Transition(ctx, q, id, from, to, reason)
	if err != nil {
		return nil, err
	}

	tx, err := s.repo.GetByID(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		stErr := &InvalidStateTransitionError{ID: id, From: tx.Status, To: to}
		logger.FromContext(ctx).Error().Err(stErr).
			Str("transaction_id", id.String()).
			Str("from", string(tx.Status)).
			Str("to", string(to)).
			Msg("rejected transaction state transition")
		return tx, stErr
	}
	return tx, nil
}

// AttachExternalRef links a processor invoice id to the transaction.
func (s *Service) AttachExternalRef(ctx context.Context, id uuid.UUID, ref string) error {
	return s.repo.SetExternalRef(ctx, s.db.DB(), id, ref)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return s.repo.GetByID(ctx, s.db.DB(), id)
}

func (s *Service) GetTx(ctx context.Context, q database.Querier, id uuid.UUID) (*Transaction, error) {
	return s.repo.GetByID(ctx, q, id)
}

func (s *Service) GetByExternalRefTx(ctx context.Context, q database.Querier, ref string) (*Transaction, error) {
	return s.repo.GetByExternalRef(ctx, q, ref)
}

func (s *Service) GetByExternalRef(ctx context.Context, ref string) (*Transaction, error) {
	return s.repo.GetByExternalRef(ctx, s.db.DB(), ref)
}

func (s *Service) ListByUser(ctx context.Context, filter ListFilter) ([]*Transaction, int, error) {
	return s.repo.ListByUser(ctx, s.db.DB(), filter)
}

// SumCompletedTx totals completed transactions of type t in a session, optionally
// narrowed to one counterparty.
func (s *Service) SumCompletedTx(ctx context.Context, q database.Querier, t Type, sessionID uuid.UUID, counterpartyID *uuid.UUID) (int64, error) {
	return s.repo.SumCompleted(ctx, q, t, sessionID, counterpartyID)
}

func (s *Service) SumCompleted(ctx context.Context, t Type, sessionID uuid.UUID, counterpartyID *uuid.UUID) (int64, error) {
	return s.repo.SumCompleted(ctx, s.db.DB(), t, sessionID, counterpartyID)
}

// ListStalePending returns pending transactions created before olderThan, oldest first.
func (s *Service) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListStalePending(ctx, s.db.DB(), olderThan, limit)
}

// inTx runs fn in its own unit of work. Replays surface the stored transaction.
func (s *Service) inTx(ctx context.Context, fn func(q database.Querier) (*Transaction, error)) (*Transaction, error) {
	var out *Transaction
	err := s.db.WithTx(ctx, func(q database.Querier) error {
		tx, err := fn(q)
		out = tx
		return err
	})
	return out, err
}

// LogApplied writes the audit line for a committed wallet mutation.
func LogApplied(ctx context.Context, tx *Transaction) {
	if tx == nil || !tx.WalletApplied {
		return
	}
	logger.FromContext(ctx).Info().
		Str("user_id", tx.UserID.String()).
		Int64("amount", tx.Amount).
		Str("currency", string(tx.Currency)).
		Str("direction", string(tx.Direction)).
		Str("type", string(tx.Type)).
		Str("transaction_id", tx.ID.String()).
		Msg("wallet mutation committed")
}
