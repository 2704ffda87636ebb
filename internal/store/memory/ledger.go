package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/starline/starline-api/internal/domain/ledger"
	"github.com/starline/starline-api/internal/pkg/database"
)

type LedgerRepository struct {
	s *Store
}

func (r *LedgerRepository) Insert(_ context.Context, q database.Querier, tx *ledger.Transaction) (bool, error) {
	inserted := false
	err := r.s.with(q, func(st *state) error {
		if tx.IdempotencyKey != nil {
			if _, ok := st.txByKey[*tx.IdempotencyKey]; ok {
				return nil
			}
		}
		if _, ok := st.txs[tx.ID]; ok {
			return fmt.Errorf("insert transaction %s: %w", tx.ID, database.ErrUniqueViolation)
		}
		if tx.ExternalRef != nil {
			if _, ok := st.txByRef[*tx.ExternalRef]; ok {
				return ledger.ErrDuplicateExternalRef
			}
			st.txByRef[*tx.ExternalRef] = tx.ID
		}
		if tx.IdempotencyKey != nil {
			st.txByKey[*tx.IdempotencyKey] = tx.ID
		}
		st.txs[tx.ID] = *tx
		inserted = true
		return nil
	})
	return inserted, err
}

func (r *LedgerRepository) get(q database.Querier, lookup func(st *state) (uuid.UUID, bool)) (*ledger.Transaction, error) {
	var out *ledger.Transaction
	err := r.s.with(q, func(st *state) error {
		id, ok := lookup(st)
		if !ok {
			return ledger.ErrTransactionNotFound
		}
		tx, ok := st.txs[id]
		if !ok {
			return ledger.ErrTransactionNotFound
		}
		out = &tx
		return nil
	})
	return out, err
}

func (r *LedgerRepository) GetByID(_ context.Context, q database.Querier, id uuid.UUID) (*ledger.Transaction, error) {
	return r.get(q, func(*state) (uuid.UUID, bool) { return id, true })
}

func (r *LedgerRepository) GetByIdempotencyKey(_ context.Context, q database.Querier, key string) (*ledger.Transaction, error) {
	return r.get(q, func(st *state) (uuid.UUID, bool) {
		id, ok := st.txByKey[key]
		return id, ok
	})
}

func (r *LedgerRepository) GetByExternalRef(_ context.Context, q database.Querier, ref string) (*ledger.Transaction, error) {
	return r.get(q, func(st *state) (uuid.UUID, bool) {
		id, ok := st.txByRef[ref]
		return id, ok
	})
}

func (r *LedgerRepository) Transition(_ context.Context, q database.Querier, id uuid.UUID, from, to ledger.Status, reason *string) (bool, error) {
	moved := false
	err := r.s.with(q, func(st *state) error {
		tx, ok := st.txs[id]
		if !ok || tx.Status != from {
			return nil
		}
		tx.Status = to
		if reason != nil {
			v := *reason
			tx.FailureReason = &v
		}
		tx.UpdatedAt = r.s.now()
		st.txs[id] = tx
		moved = true
		return nil
	})
	return moved, err
}

func (r *LedgerRepository) SetExternalRef(_ context.Context, q database.Querier, id uuid.UUID, ref string) error {
	return r.s.with(q, func(st *state) error {
		tx, ok := st.txs[id]
		if !ok {
			return ledger.ErrTransactionNotFound
		}
		if tx.ExternalRef != nil {
			if *tx.ExternalRef == ref {
				return nil
			}
			return ledger.ErrDuplicateExternalRef
		}
		if owner, ok := st.txByRef[ref]; ok && owner != id {
			return ledger.ErrDuplicateExternalRef
		}
		v := ref
		tx.ExternalRef = &v
		tx.UpdatedAt = r.s.now()
		st.txs[id] = tx
		st.txByRef[ref] = id
		return nil
	})
}

func (r *LedgerRepository) ListByUser(_ context.Context, q database.Querier, filter ledger.ListFilter) ([]*ledger.Transaction, int, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var matched []*ledger.Transaction
	err := r.s.with(q, func(st *state) error {
		for _, tx := range st.txs {
			if tx.UserID != filter.UserID ||
				(filter.Type != nil && tx.Type != *filter.Type) ||
				(filter.Status != nil && tx.Status != *filter.Status) ||
				(filter.From != nil && tx.CreatedAt.Before(*filter.From)) ||
				(filter.To != nil && !tx.CreatedAt.Before(*filter.To)) {
				continue
			}
			tx := tx
			matched = append(matched, &tx)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	total := len(matched)
	if filter.Offset >= total {
		return []*ledger.Transaction{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return matched[filter.Offset:end], total, nil
}

func (r *LedgerRepository) SumCompleted(_ context.Context, q database.Querier, t ledger.Type, sessionID uuid.UUID, counterpartyID *uuid.UUID) (int64, error) {
	var sum int64
	err := r.s.with(q, func(st *state) error {
		for _, tx := range st.txs {
			if tx.Type != t || tx.Status != ledger.StatusCompleted || tx.SessionID == nil || *tx.SessionID != sessionID {
				continue
			}
			if counterpartyID != nil && (tx.CounterpartyID == nil || *tx.CounterpartyID != *counterpartyID) {
				continue
			}
			sum += tx.Amount
		}
		return nil
	})
	return sum, err
}

func (r *LedgerRepository) ListStalePending(_ context.Context, q database.Querier, olderThan time.Time, limit int) ([]*ledger.Transaction, error) {
	var out []*ledger.Transaction
	err := r.s.with(q, func(st *state) error {
		for _, tx := range st.txs {
			if tx.Status == ledger.StatusPending && tx.CreatedAt.Before(olderThan) {
				tx := tx
				out = append(out, &tx)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
