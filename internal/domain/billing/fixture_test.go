package billing_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/starline/starline-api/internal/domain/billing"
	"github.com/starline/starline-api/internal/domain/ledger"
	"github.com/starline/starline-api/internal/domain/notification"
	"github.com/starline/starline-api/internal/domain/wallet"
	"github.com/starline/starline-api/internal/pkg/invoicing"
	"github.com/starline/starline-api/internal/pkg/retry"
	"github.com/starline/starline-api/internal/store/memory"
)

type fakeInvoicer struct {
	mu        sync.Mutex
	seq       int
	created   []invoicing.InvoiceRequest
	statuses  map[string]invoicing.Status
	createErr error
}

func newFakeInvoicer() *fakeInvoicer {
	return &fakeInvoicer{statuses: make(map[string]invoicing.Status)}
}

func (f *fakeInvoicer) CreateInvoice(_ context.Context, req invoicing.InvoiceRequest) (*invoicing.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.seq++
	id := fmt.Sprintf("inv_%d", f.seq)
	f.created = append(f.created, req)
	f.statuses[id] = invoicing.StatusPending
	return &invoicing.Invoice{
		ID:          id,
		Status:      invoicing.StatusPending,
		PaymentURL:  "https://pay.example.test/" + id,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
	}, nil
}

func (f *fakeInvoicer) GetInvoice(_ context.Context, id string) (*invoicing.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[id]
	if !ok {
		return nil, invoicing.ErrInvoiceNotFound
	}
	return &invoicing.Invoice{ID: id, Status: st}, nil
}

func (f *fakeInvoicer) set(id string, st invoicing.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = st
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification.Event
	err    error
}

func (n *recordingNotifier) Publish(_ context.Context, _ uuid.UUID, ev notification.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) types() []notification.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notification.EventType, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	store    *memory.Store
	wallets  *wallet.Service
	ledger   *ledger.Service
	svc      *billing.Service
	invoicer *fakeInvoicer
	notifier *recordingNotifier
}

func testConfig() billing.Config {
	cfg := billing.DefaultConfig()
	cfg.Retry = retry.Policy{MaxTries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	return cfg
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, newFakeInvoicer())
}

// newFixtureWith builds the reconciler on a fresh memory store. A nil invoicer
// leaves USD unsupported.
func newFixtureWith(t *testing.T, inv *fakeInvoicer) *fixture {
	t.Helper()
	store := memory.New()
	wallets := wallet.NewService(store.Wallets(), store)
	ledgerSvc := ledger.NewService(store.Transactions(), wallets, store)
	notifier := &recordingNotifier{}

	var invoicer billing.Invoicer
	if inv != nil {
		invoicer = inv
	}
	return &fixture{
		store:    store,
		wallets:  wallets,
		ledger:   ledgerSvc,
		svc:      billing.NewService(store.Billing(), ledgerSvc, wallets, store, invoicer, notifier, testConfig()),
		invoicer: inv,
		notifier: notifier,
	}
}

func (f *fixture) stars(t *testing.T, userID uuid.UUID) int64 {
	t.Helper()
	w, err := f.wallets.GetOrCreate(context.Background(), userID)
	require.NoError(t, err)
	return w.Stars
}

func (f *fixture) transactions(t *testing.T, userID uuid.UUID, typ ledger.Type) []*ledger.Transaction {
	t.Helper()
	items, _, err := f.ledger.ListByUser(context.Background(), ledger.ListFilter{UserID: userID, Type: &typ, Limit: 100})
	require.NoError(t, err)
	return items
}

func (f *fixture) openDiscrepancies(t *testing.T) []*billing.Discrepancy {
	t.Helper()
	items, err := f.store.Billing().ListOpenDiscrepancies(context.Background(), f.store.DB(), 100)
	require.NoError(t, err)
	return items
}

// activeCall registers and connects a call.
func (f *fixture) activeCall(t *testing.T, caller uuid.UUID, rate int64, c wallet.Currency) *billing.Call {
	t.Helper()
	call, err := f.svc.InitiateCall(context.Background(), billing.InitiateCallInput{
		CallerID:      caller,
		ReceiverID:    uuid.New(),
		RatePerMinute: rate,
		Currency:      c,
	})
	require.NoError(t, err)
	call, err = f.svc.StartCall(context.Background(), call.ID)
	require.NoError(t, err)
	return call
}

var errProcessorDown = errors.New("processor down")
