package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starline/starline-api/internal/domain/wallet"
	"github.com/starline/starline-api/internal/pkg/database"
)

// Repository persists transactions on the caller's querier.
type Repository interface {
	// Insert reports false when a row with the same idempotency key already exists.
	Insert(ctx context.Context, q database.Querier, tx *Transaction) (bool, error)
	GetByID(ctx context.Context, q database.Querier, id uuid.UUID) (*Transaction, error)
	GetByIdempotencyKey(ctx context.Context, q database.Querier, key string) (*Transaction, error)
	GetByExternalRef(ctx context.Context, q database.Querier, ref string) (*Transaction, error)
	// Transition moves id from one status to another and reports whether it did.
	Transition(ctx context.Context, q database.Querier, id uuid.UUID, from, to Status, reason *string) (bool, error)
	SetExternalRef(ctx context.Context, q database.Querier, id uuid.UUID, ref string) error
	ListByUser(ctx context.Context, q database.Querier, filter ListFilter) ([]*Transaction, int, error)
	SumCompleted(ctx context.Context, q database.Querier, t Type, sessionID uuid.UUID, counterpartyID *uuid.UUID) (int64, error)
	ListStalePending(ctx context.Context, q database.Querier, olderThan time.Time, limit int) ([]*Transaction, error)
}

type PostgresRepository struct{}

func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

const transactionColumns = `id, user_id, type, direction, amount, currency, status, description,
	metadata, session_id, counterparty_id, idempotency_key, external_ref, failure_reason,
	wallet_applied, created_at, updated_at`

type transactionRow struct {
	ID             uuid.UUID  `db:"id"`
	UserID         uuid.UUID  `db:"user_id"`
	Type           string     `db:"type"`
	Direction      string     `db:"direction"`
	Amount         int64      `db:"amount"`
	Currency       string     `db:"currency"`
	Status         string     `db:"status"`
	Description    string     `db:"description"`
	Metadata       []byte     `db:"metadata"`
	SessionID      *uuid.UUID `db:"session_id"`
	CounterpartyID *uuid.UUID `db:"counterparty_id"`
	IdempotencyKey *string    `db:"idempotency_key"`
	ExternalRef    *string    `db:"external_ref"`
	FailureReason  *string    `db:"failure_reason"`
	WalletApplied  bool       `db:"wallet_applied"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

func (r transactionRow) toTransaction() (*Transaction, error) {
	meta, err := DecodeMetadata(Type(r.Type), r.Metadata)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		ID:             r.ID,
		UserID:         r.UserID,
		Type:           Type(r.Type),
		Direction:      Direction(r.Direction),
		Amount:         r.Amount,
		Currency:       wallet.Currency(r.Currency),
		Status:         Status(r.Status),
		Description:    r.Description,
		Metadata:       meta,
		SessionID:      r.SessionID,
		CounterpartyID: r.CounterpartyID,
		IdempotencyKey: r.IdempotencyKey,
		ExternalRef:    r.ExternalRef,
		FailureReason:  r.FailureReason,
		WalletApplied:  r.WalletApplied,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, q database.Querier, tx *Transaction) (bool, error) {
	meta, err := json.Marshal(tx.Metadata)
	if err != nil {
		return false, fmt.Errorf("encode metadata: %w", err)
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO transactions (
			id, user_id, type, direction, amount, currency, status, description, metadata,
			session_id, counterparty_id, idempotency_key, external_ref, failure_reason,
			wallet_applied, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, tx.ID, tx.UserID, string(tx.Type), string(tx.Direction), tx.Amount, string(tx.Currency),
		string(tx.Status), tx.Description, string(meta), tx.SessionID, tx.CounterpartyID,
		tx.IdempotencyKey, tx.ExternalRef, tx.FailureReason, tx.WalletApplied, tx.CreatedAt, tx.UpdatedAt)
	if err != nil {
		return false, insertError(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, database.Wrap("insert transaction", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, q database.Querier, where string, arg interface{}) (*Transaction, error) {
	var row transactionRow
	err := q.GetContext(ctx, &row, `SELECT `+transactionColumns+` FROM transactions WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, database.Wrap("get transaction", err)
	}
	return row.toTransaction()
}

func (r *PostgresRepository) GetByID(ctx context.Context, q database.Querier, id uuid.UUID) (*Transaction, error) {
	return r.getOne(ctx, q, "id = $1", id)
}

func (r *PostgresRepository) GetByIdempotencyKey(ctx context.Context, q database.Querier, key string) (*Transaction, error) {
	return r.getOne(ctx, q, "idempotency_key = $1", key)
}

func (r *PostgresRepository) GetByExternalRef(ctx context.Context, q database.Querier, ref string) (*Transaction, error) {
	return r.getOne(ctx, q, "external_ref = $1", ref)
}

func (r *PostgresRepository) Transition(ctx context.Context, q database.Querier, id uuid.UUID, from, to Status, reason *string) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE transactions
		SET status = $3, failure_reason = COALESCE($4, failure_reason), updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), reason)
	if err != nil {
		return false, database.Wrap("transition transaction", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, database.Wrap("transition transaction", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) SetExternalRef(ctx context.Context, q database.Querier, id uuid.UUID, ref string) error {
	res, err := q.ExecContext(ctx, `
		UPDATE transactions SET external_ref = $2, updated_at = NOW()
		WHERE id = $1 AND (external_ref IS NULL OR external_ref = $2)
	`, id, ref)
	if err != nil {
		err = database.Wrap("set external ref", err)
		if errors.Is(err, database.ErrUniqueViolation) {
			return ErrDuplicateExternalRef
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return database.Wrap("set external ref", err)
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, q, id); err != nil {
			return err
		}
		return ErrDuplicateExternalRef
	}
	return nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, q database.Querier, filter ListFilter) ([]*Transaction, int, error) {
	filter.normalize()

	conds := []string{"user_id = $1"}
	args := []interface{}{filter.UserID}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Type != nil {
		add("type = $%d", string(*filter.Type))
	}
	if filter.Status != nil {
		add("status = $%d", string(*filter.Status))
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at < $%d", *filter.To)
	}
	where := strings.Join(conds, " AND ")

	var total int
	if err := q.GetContext(ctx, &total, `SELECT COUNT(*) FROM transactions WHERE `+where, args...); err != nil {
		return nil, 0, database.Wrap("count transactions", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		transactionColumns, where, len(args)-1, len(args))

	var rows []transactionRow
	if err := q.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, database.Wrap("list transactions", err)
	}

	out, err := toTransactions(rows)
	return out, total, err
}

func (r *PostgresRepository) SumCompleted(ctx context.Context, q database.Querier, t Type, sessionID uuid.UUID, counterpartyID *uuid.UUID) (int64, error) {
	var sum int64
	err := q.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE type = $1 AND session_id = $2 AND status = 'completed'
		  AND ($3::uuid IS NULL OR counterparty_id = $3)
	`, string(t), sessionID, counterpartyID)
	if err != nil {
		return 0, database.Wrap("sum transactions", err)
	}
	return sum, nil
}

func (r *PostgresRepository) ListStalePending(ctx context.Context, q database.Querier, olderThan time.Time, limit int) ([]*Transaction, error) {
	var rows []transactionRow
	err := q.SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, database.Wrap("list stale pending", err)
	}
	return toTransactions(rows)
}

func toTransactions(rows []transactionRow) ([]*Transaction, error) {
	out := make([]*Transaction, 0, len(rows))
	for _, row := range rows {
		tx, err := row.toTransaction()
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

// Constraint name Postgres generates for the UNIQUE column in schema.sql.
const externalRefConstraint = "transactions_external_ref_key"

// insertError maps a failed insert. Idempotency-key conflicts never get here
// because of ON CONFLICT; only an external ref clash is a domain error.
func insertError(err error) error {
	if database.UniqueConstraint(err) == externalRefConstraint {
		return ErrDuplicateExternalRef
	}
	return database.Wrap("insert transaction", err)
}
