// Package memory is an in-process implementation of every repository. Units of
// work are serialised and rolled back from a snapshot, so it honours the same
// atomicity the Postgres store gets from transactions.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/starline/starline-api/internal/domain/billing"
	"github.com/starline/starline-api/internal/domain/ledger"
	"github.com/starline/starline-api/internal/domain/wallet"
	"github.com/starline/starline-api/internal/pkg/database"
)

var errRawSQL = errors.New("memory store does not run SQL")

type viewerKey struct {
	party, user uuid.UUID
}

type state struct {
	wallets map[uuid.UUID]wallet.Wallet

	txs     map[uuid.UUID]ledger.Transaction
	txByKey map[string]uuid.UUID
	txByRef map[string]uuid.UUID

	calls         map[uuid.UUID]billing.Call
	trials        map[uuid.UUID]billing.TrialUsage
	parties       map[uuid.UUID]billing.LiveParty
	viewers       map[viewerKey]billing.Viewer
	battles       map[uuid.UUID]billing.Battle
	deliveries    map[string]time.Time
	discrepancies map[uuid.UUID]billing.Discrepancy
}

func newState() *state {
	return &state{
		wallets:       make(map[uuid.UUID]wallet.Wallet),
		txs:           make(map[uuid.UUID]ledger.Transaction),
		txByKey:       make(map[string]uuid.UUID),
		txByRef:       make(map[string]uuid.UUID),
		calls:         make(map[uuid.UUID]billing.Call),
		trials:        make(map[uuid.UUID]billing.TrialUsage),
		parties:       make(map[uuid.UUID]billing.LiveParty),
		viewers:       make(map[viewerKey]billing.Viewer),
		battles:       make(map[uuid.UUID]billing.Battle),
		deliveries:    make(map[string]time.Time),
		discrepancies: make(map[uuid.UUID]billing.Discrepancy),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// clone copies every table. Records are stored by value and their pointer fields
// are replaced, never written through, so a shallow copy per record is enough.
func (s *state) clone() *state {
	return &state{
		wallets:       cloneMap(s.wallets),
		txs:           cloneMap(s.txs),
		txByKey:       cloneMap(s.txByKey),
		txByRef:       cloneMap(s.txByRef),
		calls:         cloneMap(s.calls),
		trials:        cloneMap(s.trials),
		parties:       cloneMap(s.parties),
		viewers:       cloneMap(s.viewers),
		battles:       cloneMap(s.battles),
		deliveries:    cloneMap(s.deliveries),
		discrepancies: cloneMap(s.discrepancies),
	}
}

// Store holds all tables behind one lock.
type Store struct {
	mu   sync.Mutex
	data *state
	now  func() time.Time
}

func New() *Store {
	return &Store{data: newState(), now: func() time.Time { return time.Now().UTC() }}
}

// querier marks whether a repository call runs inside WithTx, where the lock is
// already held.
type querier struct {
	store *Store
	inTx  bool
}

func (querier) GetContext(context.Context, interface{}, string, ...interface{}) error {
	return errRawSQL
}

func (querier) SelectContext(context.Context, interface{}, string, ...interface{}) error {
	return errRawSQL
}

func (querier) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, errRawSQL
}

func (querier) QueryRowxContext(context.Context, string, ...interface{}) *sqlx.Row {
	return nil
}

func (s *Store) DB() database.Querier {
	return querier{store: s}
}

// WithTx runs fn with the store locked and restores the previous state if fn fails.
// fn must not call WithTx again. Every call clones all tables, so its cost grows with
// the store; this backend is for tests and local runs, not production traffic.
func (s *Store) WithTx(ctx context.Context, fn func(q database.Querier) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(querier{store: s, inTx: true}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// with runs fn against the current state, taking the lock unless q already holds it.
func (s *Store) with(q database.Querier, fn func(st *state) error) error {
	if mq, ok := q.(querier); ok && mq.inTx && mq.store == s {
		return fn(s.data)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

// Wallets returns the wallet repository.
func (s *Store) Wallets() *WalletRepository { return &WalletRepository{s: s} }

// Transactions returns the ledger repository.
func (s *Store) Transactions() *LedgerRepository { return &LedgerRepository{s: s} }

// Billing returns the billing repository.
func (s *Store) Billing() *BillingRepository { return &BillingRepository{s: s} }

var (
	_ database.TxRunner  = (*Store)(nil)
	_ wallet.Repository  = (*WalletRepository)(nil)
	_ ledger.Repository  = (*LedgerRepository)(nil)
	_ billing.Repository = (*BillingRepository)(nil)
)
