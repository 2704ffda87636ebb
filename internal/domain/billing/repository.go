package billing

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/starline/starline-api/internal/pkg/database"
)

// Repository stores the billing-side mirrors of calls, live parties and battles.
// forUpdate locks the row until the surrounding transaction ends.
type Repository interface {
	CreateCall(ctx context.Context, q database.Querier, c *Call) error
	GetCall(ctx context.Context, q database.Querier, id uuid.UUID, forUpdate bool) (*Call, error)
	UpdateCall(ctx context.Context, q database.Querier, c *Call) error
	GetCallByTransaction(ctx context.Context, q database.Querier, txID uuid.UUID) (*Call, error)

	HasUsedTrial(ctx context.Context, q database.Querier, userID uuid.UUID) (bool, error)
	// ConsumeTrial reports false when the user's trial was already taken.
	ConsumeTrial(ctx context.Context, q database.Querier, usage TrialUsage) (bool, error)

	CreateParty(ctx context.Context, q database.Querier, p *LiveParty) error
	GetParty(ctx context.Context, q database.Querier, id uuid.UUID, forUpdate bool) (*LiveParty, error)
	UpdateParty(ctx context.Context, q database.Querier, p *LiveParty) error
	// InsertViewer reports false when the viewer already joined.
	InsertViewer(ctx context.Context, q database.Querier, v *Viewer) (bool, error)
	GetViewer(ctx context.Context, q database.Querier, partyID, userID uuid.UUID, forUpdate bool) (*Viewer, error)
	SetViewerEntry(ctx context.Context, q database.Querier, partyID, userID, txID uuid.UUID) error
	// AdvanceViewerMinutes moves billed_minutes from one value to another and reports
	// whether the row still held from.
	AdvanceViewerMinutes(ctx context.Context, q database.Querier, partyID, userID uuid.UUID, from, to int64) (bool, error)

	CreateBattle(ctx context.Context, q database.Querier, b *Battle) error
	GetBattle(ctx context.Context, q database.Querier, id uuid.UUID, forUpdate bool) (*Battle, error)
	UpdateBattle(ctx context.Context, q database.Querier, b *Battle) error
	AddBattleTips(ctx context.Context, q database.Querier, battleID uuid.UUID, slot int, amount int64) error

	// RecordDelivery reports false when the webhook delivery was seen before.
	RecordDelivery(ctx context.Context, q database.Querier, deliveryID string, at time.Time) (bool, error)

	CreateDiscrepancy(ctx context.Context, q database.Querier, d *Discrepancy) error
	ListOpenDiscrepancies(ctx context.Context, q database.Querier, limit int) ([]*Discrepancy, error)
	ResolveDiscrepancy(ctx context.Context, q database.Querier, id uuid.UUID, at time.Time) error
	BumpDiscrepancy(ctx context.Context, q database.Querier, id uuid.UUID, reason string) error
}

type PostgresRepository struct{}

func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

func lockClause(forUpdate bool) string {
	if forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

func createErr(op string, err error) error {
	err = database.Wrap(op, err)
	if errors.Is(err, database.ErrUniqueViolation) {
		return ErrSessionExists
	}
	return err
}

func execChanged(ctx context.Context, q database.Querier, op, query string, args ...interface{}) (bool, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, database.Wrap(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, database.Wrap(op, err)
	}
	return n > 0, nil
}

// Calls

const callColumns = `id, caller_id, receiver_id, rate_per_minute, currency, state, duration_seconds,
	cost, payment_status, transaction_id, started_at, ended_at, created_at`

func (r *PostgresRepository) CreateCall(ctx context.Context, q database.Querier, c *Call) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO billing_calls (`+callColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, c.ID, c.CallerID, c.ReceiverID, c.RatePerMinute, string(c.Currency), string(c.State),
		c.DurationSeconds, c.Cost, string(c.PaymentStatus), c.TransactionID, c.StartedAt, c.EndedAt, c.CreatedAt)
	return createErr("create call", err)
}

func (r *PostgresRepository) GetCall(ctx context.Context, q database.Querier, id uuid.UUID, forUpdate bool) (*Call, error) {
	var c Call
	err := q.GetContext(ctx, &c, `SELECT `+callColumns+` FROM billing_calls WHERE id = $1`+lockClause(forUpdate), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCallNotFound
	}
	if err != nil {
		return nil, database.Wrap("get call", err)
	}
	return &c, nil
}

func (r *PostgresRepository) GetCallByTransaction(ctx context.Context, q database.Querier, txID uuid.UUID) (*Call, error) {
	var c Call
	err := q.GetContext(ctx, &c, `SELECT `+callColumns+` FROM billing_calls WHERE transaction_id = $1 FOR UPDATE`, txID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCallNotFound
	}
	if err != nil {
		return nil, database.Wrap("get call by transaction", err)
	}
	return &c, nil
}

func (r *PostgresRepository) UpdateCall(ctx context.Context, q database.Querier, c *Call) error {
	ok, err := execChanged(ctx, q, "update call", `
		UPDATE billing_calls
		SET state = $2, duration_seconds = $3, cost = $4, payment_status = $5,
			transaction_id = $6, started_at = $7, ended_at = $8
		WHERE id = $1
	`, c.ID, string(c.State), c.DurationSeconds, c.Cost, string(c.PaymentStatus), c.TransactionID, c.StartedAt, c.EndedAt)
	if err == nil && !ok {
		return ErrCallNotFound
	}
	return err
}

// Trials

func (r *PostgresRepository) HasUsedTrial(ctx context.Context, q database.Querier, userID uuid.UUID) (bool, error) {
	var used bool
	err := q.GetContext(ctx, &used, `SELECT EXISTS (SELECT 1 FROM billing_trial_usage WHERE user_id = $1)`, userID)
	if err != nil {
		return false, database.Wrap("check trial", err)
	}
	return used, nil
}

func (r *PostgresRepository) ConsumeTrial(ctx context.Context, q database.Querier, usage TrialUsage) (bool, error) {
	return execChanged(ctx, q, "consume trial", `
		INSERT INTO billing_trial_usage (user_id, call_id, used_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, usage.UserID, usage.CallID, usage.UsedAt)
}

// Live parties

const partyColumns = `id, host_id, entry_fee, viewer_rate_per_minute, currency, state, started_at, ended_at, created_at`

func (r *PostgresRepository) CreateParty(ctx context.Context, q database.Querier, p *LiveParty) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO billing_live_parties (`+partyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.HostID, p.EntryFee, p.ViewerRatePerMinute, string(p.Currency), string(p.State), p.StartedAt, p.EndedAt, p.CreatedAt)
	return createErr("create live party", err)
}

func (r *PostgresRepository) GetParty(ctx context.Context, q database.Querier, id uuid.UUID, forUpdate bool) (*LiveParty, error) {
	var p LiveParty
	err := q.GetContext(ctx, &p, `SELECT `+partyColumns+` FROM billing_live_parties WHERE id = $1`+lockClause(forUpdate), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLivePartyNotFound
	}
	if err != nil {
		return nil, database.Wrap("get live party", err)
	}
	return &p, nil
}

func (r *PostgresRepository) UpdateParty(ctx context.Context, q database.Querier, p *LiveParty) error {
	ok, err := execChanged(ctx, q, "update live party", `
		UPDATE billing_live_parties SET state = $2, started_at = $3, ended_at = $4 WHERE id = $1
	`, p.ID, string(p.State), p.StartedAt, p.EndedAt)
	if err == nil && !ok {
		return ErrLivePartyNotFound
	}
	return err
}

func (r *PostgresRepository) InsertViewer(ctx context.Context, q database.Querier, v *Viewer) (bool, error) {
	return execChanged(ctx, q, "insert viewer", `
		INSERT INTO billing_viewers (party_id, user_id, billed_minutes, entry_transaction_id, joined_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (party_id, user_id) DO NOTHING
	`, v.PartyID, v.UserID, v.BilledMinutes, v.EntryTransactionID, v.JoinedAt)
}

func (r *PostgresRepository) GetViewer(ctx context.Context, q database.Querier, partyID, userID uuid.UUID, forUpdate bool) (*Viewer, error) {
	var v Viewer
	err := q.GetContext(ctx, &v, `
		SELECT party_id, user_id, billed_minutes, entry_transaction_id, joined_at
		FROM billing_viewers WHERE party_id = $1 AND user_id = $2`+lockClause(forUpdate), partyID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotJoined
	}
	if err != nil {
		return nil, database.Wrap("get viewer", err)
	}
	return &v, nil
}

func (r *PostgresRepository) SetViewerEntry(ctx context.Context, q database.Querier, partyID, userID, txID uuid.UUID) error {
	ok, err := execChanged(ctx, q, "set viewer entry", `
		UPDATE billing_viewers SET entry_transaction_id = $3 WHERE party_id = $1 AND user_id = $2
	`, partyID, userID, txID)
	if err == nil && !ok {
		return ErrNotJoined
	}
	return err
}

func (r *PostgresRepository) AdvanceViewerMinutes(ctx context.Context, q database.Querier, partyID, userID uuid.UUID, from, to int64) (bool, error) {
	return execChanged(ctx, q, "advance viewer minutes", `
		UPDATE billing_viewers SET billed_minutes = $4
		WHERE party_id = $1 AND user_id = $2 AND billed_minutes = $3
	`, partyID, userID, from, to)
}

// Battles

const battleColumns = `id, host1_id, host2_id, state, host1_tips, host2_tips, winner_id,
	reward_transaction_id, reward_amount, started_at, settled_at, created_at`

func (r *PostgresRepository) CreateBattle(ctx context.Context, q database.Querier, b *Battle) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO billing_battles (`+battleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, b.ID, b.Host1ID, b.Host2ID, string(b.State), b.Host1Tips, b.Host2Tips, b.WinnerID,
		b.RewardTransactionID, b.RewardAmount, b.StartedAt, b.SettledAt, b.CreatedAt)
	return createErr("create battle", err)
}

func (r *PostgresRepository) GetBattle(ctx context.Context, q database.Querier, id uuid.UUID, forUpdate bool) (*Battle, error) {
	var b Battle
	err := q.GetContext(ctx, &b, `SELECT `+battleColumns+` FROM billing_battles WHERE id = $1`+lockClause(forUpdate), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBattleNotFound
	}
	if err != nil {
		return nil, database.Wrap("get battle", err)
	}
	return &b, nil
}

func (r *PostgresRepository) UpdateBattle(ctx context.Context, q database.Querier, b *Battle) error {
	ok, err := execChanged(ctx, q, "update battle", `
		UPDATE billing_battles
		SET state = $2, host1_tips = $3, host2_tips = $4, winner_id = $5,
			reward_transaction_id = $6, reward_amount = $7, started_at = $8, settled_at = $9
		WHERE id = $1
	`, b.ID, string(b.State), b.Host1Tips, b.Host2Tips, b.WinnerID, b.RewardTransactionID,
		b.RewardAmount, b.StartedAt, b.SettledAt)
	if err == nil && !ok {
		return ErrBattleNotFound
	}
	return err
}

func (r *PostgresRepository) AddBattleTips(ctx context.Context, q database.Querier, battleID uuid.UUID, slot int, amount int64) error {
	column := "host1_tips"
	if slot == 2 {
		column = "host2_tips"
	}
	ok, err := execChanged(ctx, q, "add battle tips",
		`UPDATE billing_battles SET `+column+` = `+column+` + $2 WHERE id = $1`, battleID, amount)
	if err == nil && !ok {
		return ErrBattleNotFound
	}
	return err
}

// Webhooks and discrepancies

func (r *PostgresRepository) RecordDelivery(ctx context.Context, q database.Querier, deliveryID string, at time.Time) (bool, error) {
	return execChanged(ctx, q, "record webhook delivery", `
		INSERT INTO billing_webhook_deliveries (delivery_id, received_at)
		VALUES ($1, $2)
		ON CONFLICT (delivery_id) DO NOTHING
	`, deliveryID, at)
}

func (r *PostgresRepository) CreateDiscrepancy(ctx context.Context, q database.Querier, d *Discrepancy) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO billing_discrepancies (id, kind, session_id, user_id, amount, reason, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, d.ID, string(d.Kind), d.SessionID, d.UserID, d.Amount, d.Reason, d.Attempts, d.CreatedAt)
	return database.Wrap("create discrepancy", err)
}

func (r *PostgresRepository) ListOpenDiscrepancies(ctx context.Context, q database.Querier, limit int) ([]*Discrepancy, error) {
	var out []*Discrepancy
	err := q.SelectContext(ctx, &out, `
		SELECT id, kind, session_id, user_id, amount, reason, attempts, created_at, resolved_at
		FROM billing_discrepancies
		WHERE resolved_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, database.Wrap("list discrepancies", err)
	}
	return out, nil
}

func (r *PostgresRepository) ResolveDiscrepancy(ctx context.Context, q database.Querier, id uuid.UUID, at time.Time) error {
	_, err := q.ExecContext(ctx, `UPDATE billing_discrepancies SET resolved_at = $2 WHERE id = $1 AND resolved_at IS NULL`, id, at)
	return database.Wrap("resolve discrepancy", err)
}

func (r *PostgresRepository) BumpDiscrepancy(ctx context.Context, q database.Querier, id uuid.UUID, reason string) error {
	_, err := q.ExecContext(ctx, `UPDATE billing_discrepancies SET attempts = attempts + 1, reason = $2 WHERE id = $1`, id, reason)
	return database.Wrap("bump discrepancy", err)
}
