package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/starline/starline-api/internal/domain/billing"
	"github.com/starline/starline-api/internal/pkg/database"
)

// BillingRepository ignores forUpdate: units of work are already serialised.
type BillingRepository struct {
	s *Store
}

// Calls

func (r *BillingRepository) CreateCall(_ context.Context, q database.Querier, c *billing.Call) error {
	return r.s.with(q, func(st *state) error {
		if _, ok := st.calls[c.ID]; ok {
			return billing.ErrSessionExists
		}
		st.calls[c.ID] = *c
		return nil
	})
}

func (r *BillingRepository) GetCall(_ context.Context, q database.Querier, id uuid.UUID, _ bool) (*billing.Call, error) {
	var out *billing.Call
	err := r.s.with(q, func(st *state) error {
		c, ok := st.calls[id]
		if !ok {
			return billing.ErrCallNotFound
		}
		out = &c
		return nil
	})
	return out, err
}

func (r *BillingRepository) UpdateCall(_ context.Context, q database.Querier, c *billing.Call) error {
	return r.s.with(q, func(st *state) error {
		if _, ok := st.calls[c.ID]; !ok {
			return billing.ErrCallNotFound
		}
		st.calls[c.ID] = *c
		return nil
	})
}

func (r *BillingRepository) GetCallByTransaction(_ context.Context, q database.Querier, txID uuid.UUID) (*billing.Call, error) {
	var out *billing.Call
	err := r.s.with(q, func(st *state) error {
		for _, c := range st.calls {
			if c.TransactionID != nil && *c.TransactionID == txID {
				c := c
				out = &c
				return nil
			}
		}
		return billing.ErrCallNotFound
	})
	return out, err
}

// Trials

func (r *BillingRepository) HasUsedTrial(_ context.Context, q database.Querier, userID uuid.UUID) (bool, error) {
	used := false
	err := r.s.with(q, func(st *state) error {
		_, used = st.trials[userID]
		return nil
	})
	return used, err
}

func (r *BillingRepository) ConsumeTrial(_ context.Context, q database.Querier, usage billing.TrialUsage) (bool, error) {
	consumed := false
	err := r.s.with(q, func(st *state) error {
		if _, ok := st.trials[usage.UserID]; ok {
			return nil
		}
		st.trials[usage.UserID] = usage
		consumed = true
		return nil
	})
	return consumed, err
}

// Live parties

func (r *BillingRepository) CreateParty(_ context.Context, q database.Querier, p *billing.LiveParty) error {
	return r.s.with(q, func(st *state) error {
		if _, ok := st.parties[p.ID]; ok {
			return billing.ErrSessionExists
		}
		st.parties[p.ID] = *p
		return nil
	})
}

func (r *BillingRepository) GetParty(_ context.Context, q database.Querier, id uuid.UUID, _ bool) (*billing.LiveParty, error) {
	var out *billing.LiveParty
	err := r.s.with(q, func(st *state) error {
		p, ok := st.parties[id]
		if !ok {
			return billing.ErrLivePartyNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *BillingRepository) UpdateParty(_ context.Context, q database.Querier, p *billing.LiveParty) error {
	return r.s.with(q, func(st *state) error {
		if _, ok := st.parties[p.ID]; !ok {
			return billing.ErrLivePartyNotFound
		}
		st.parties[p.ID] = *p
		return nil
	})
}

func (r *BillingRepository) InsertViewer(_ context.Context, q database.Querier, v *billing.Viewer) (bool, error) {
	inserted := false
	err := r.s.with(q, func(st *state) error {
		key := viewerKey{v.PartyID, v.UserID}
		if _, ok := st.viewers[key]; ok {
			return nil
		}
		st.viewers[key] = *v
		inserted = true
		return nil
	})
	return inserted, err
}

func (r *BillingRepository) GetViewer(_ context.Context, q database.Querier, partyID, userID uuid.UUID, _ bool) (*billing.Viewer, error) {
	var out *billing.Viewer
	err := r.s.with(q, func(st *state) error {
		v, ok := st.viewers[viewerKey{partyID, userID}]
		if !ok {
			return billing.ErrNotJoined
		}
		out = &v
		return nil
	})
	return out, err
}

func (r *BillingRepository) SetViewerEntry(_ context.Context, q database.Querier, partyID, userID, txID uuid.UUID) error {
	return r.s.with(q, func(st *state) error {
		key := viewerKey{partyID, userID}
		v, ok := st.viewers[key]
		if !ok {
			return billing.ErrNotJoined
		}
		id := txID
		v.EntryTransactionID = &id
		st.viewers[key] = v
		return nil
	})
}

func (r *BillingRepository) AdvanceViewerMinutes(_ context.Context, q database.Querier, partyID, userID uuid.UUID, from, to int64) (bool, error) {
	advanced := false
	err := r.s.with(q, func(st *state) error {
		key := viewerKey{partyID, userID}
		v, ok := st.viewers[key]
		if !ok || v.BilledMinutes != from {
			return nil
		}
		v.BilledMinutes = to
		st.viewers[key] = v
		advanced = true
		return nil
	})
	return advanced, err
}

// Battles

func (r *BillingRepository) CreateBattle(_ context.Context, q database.Querier, b *billing.Battle) error {
	return r.s.with(q, func(st *state) error {
		if _, ok := st.battles[b.ID]; ok {
			return billing.ErrSessionExists
		}
		st.battles[b.ID] = *b
		return nil
	})
}

func (r *BillingRepository) GetBattle(_ context.Context, q database.Querier, id uuid.UUID, _ bool) (*billing.Battle, error) {
	var out *billing.Battle
	err := r.s.with(q, func(st *state) error {
		b, ok := st.battles[id]
		if !ok {
			return billing.ErrBattleNotFound
		}
		out = &b
		return nil
	})
	return out, err
}

func (r *BillingRepository) UpdateBattle(_ context.Context, q database.Querier, b *billing.Battle) error {
	return r.s.with(q, func(st *state) error {
		if _, ok := st.battles[b.ID]; !ok {
			return billing.ErrBattleNotFound
		}
		st.battles[b.ID] = *b
		return nil
	})
}

func (r *BillingRepository) AddBattleTips(_ context.Context, q database.Querier, battleID uuid.UUID, slot int, amount int64) error {
	return r.s.with(q, func(st *state) error {
		b, ok := st.battles[battleID]
		if !ok {
			return billing.ErrBattleNotFound
		}
		if slot == 2 {
			b.Host2Tips += amount
		} else {
			b.Host1Tips += amount
		}
		st.battles[battleID] = b
		return nil
	})
}

// Webhooks and discrepancies

func (r *BillingRepository) RecordDelivery(_ context.Context, q database.Querier, deliveryID string, at time.Time) (bool, error) {
	fresh := false
	err := r.s.with(q, func(st *state) error {
		if _, ok := st.deliveries[deliveryID]; ok {
			return nil
		}
		st.deliveries[deliveryID] = at
		fresh = true
		return nil
	})
	return fresh, err
}

func (r *BillingRepository) CreateDiscrepancy(_ context.Context, q database.Querier, d *billing.Discrepancy) error {
	return r.s.with(q, func(st *state) error {
		st.discrepancies[d.ID] = *d
		return nil
	})
}

func (r *BillingRepository) ListOpenDiscrepancies(_ context.Context, q database.Querier, limit int) ([]*billing.Discrepancy, error) {
	var out []*billing.Discrepancy
	err := r.s.with(q, func(st *state) error {
		for _, d := range st.discrepancies {
			if d.ResolvedAt == nil {
				d := d
				out = append(out, &d)
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

func (r *BillingRepository) ResolveDiscrepancy(_ context.Context, q database.Querier, id uuid.UUID, at time.Time) error {
	return r.s.with(q, func(st *state) error {
		d, ok := st.discrepancies[id]
		if !ok || d.ResolvedAt != nil {
			return nil
		}
		resolved := at
		d.ResolvedAt = &resolved
		st.discrepancies[id] = d
		return nil
	})
}

func (r *BillingRepository) BumpDiscrepancy(_ context.Context, q database.Querier, id uuid.UUID, reason string) error {
	return r.s.with(q, func(st *state) error {
		d, ok := st.discrepancies[id]
		if !ok {
			return nil
		}
		d.Attempts++
		d.Reason = reason
		st.discrepancies[id] = d
		return nil
	})
}
