package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starline/starline-api/internal/domain/billing"
	"github.com/starline/starline-api/internal/domain/ledger"
	"github.com/starline/starline-api/internal/domain/wallet"
	"github.com/starline/starline-api/internal/pkg/database"
)

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	userID := uuid.New()
	s.SeedWallet(userID, 100, 0)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(q database.Querier) error {
		if _, err := s.Wallets().Debit(ctx, q, userID, 40, wallet.CurrencyStars); err != nil {
			return err
		}
		if err := s.Billing().CreateCall(ctx, q, &billing.Call{ID: uuid.New(), CallerID: userID}); err != nil {
			return err
		}
		if _, err := s.Billing().RecordDelivery(ctx, q, "evt-1", time.Now()); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	w, err := s.Wallets().Get(ctx, s.DB(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), w.Stars)
	assert.Empty(t, s.data.calls)

	fresh, err := s.Billing().RecordDelivery(ctx, s.DB(), "evt-1", time.Now())
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	s := New()
	ctx := context.Background()
	userID := uuid.New()

	err := s.WithTx(ctx, func(q database.Querier) error {
		if err := s.Wallets().Ensure(ctx, q, userID); err != nil {
			return err
		}
		_, err := s.Wallets().Credit(ctx, q, userID, 7, wallet.CurrencyStars)
		return err
	})
	require.NoError(t, err)

	w, err := s.Wallets().Get(ctx, s.DB(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), w.Stars)
}

func TestWithTx_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := New().WithTx(ctx, func(database.Querier) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestWallet_DebitNeverGoesNegative(t *testing.T) {
	s := New()
	ctx := context.Background()
	userID := uuid.New()
	s.SeedWallet(userID, 100, 0)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Wallets().Debit(ctx, s.DB(), userID, 30, wallet.CurrencyStars); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	w, err := s.Wallets().Get(ctx, s.DB(), userID)
	require.NoError(t, err)
	assert.Equal(t, 3, success)
	assert.Equal(t, int64(10), w.Stars)
}

func TestLedger_IdempotencyAndExternalRef(t *testing.T) {
	s := New()
	ctx := context.Background()
	repo := s.Transactions()
	key := "call:abc"
	tx := &ledger.Transaction{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		Type:           ledger.TypeCall,
		Direction:      ledger.DirectionDebit,
		Amount:         5,
		Currency:       wallet.CurrencyUSD,
		Status:         ledger.StatusPending,
		IdempotencyKey: &key,
		CreatedAt:      time.Now(),
	}

	inserted, err := repo.Insert(ctx, s.DB(), tx)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := *tx
	dup.ID = uuid.New()
	inserted, err = repo.Insert(ctx, s.DB(), &dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := repo.GetByIdempotencyKey(ctx, s.DB(), key)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)

	// Same id under another key is a plain unique violation.
	otherKey := "call:def"
	clash := *tx
	clash.IdempotencyKey = &otherKey
	_, err = repo.Insert(ctx, s.DB(), &clash)
	assert.ErrorIs(t, err, database.ErrUniqueViolation)
	assert.NotErrorIs(t, err, ledger.ErrDuplicateExternalRef)

	require.NoError(t, repo.SetExternalRef(ctx, s.DB(), tx.ID, "inv_9"))
	got, err = repo.GetByExternalRef(ctx, s.DB(), "inv_9")
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)

	ok, err := repo.Transition(ctx, s.DB(), tx.ID, ledger.StatusPending, ledger.StatusCompleted, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.Transition(ctx, s.DB(), tx.ID, ledger.StatusPending, ledger.StatusFailed, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.GetByExternalRef(ctx, s.DB(), "inv_missing")
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}

func TestBilling_ViewerMinutesCompareAndSwap(t *testing.T) {
	s := New()
	ctx := context.Background()
	repo := s.Billing()
	partyID, userID := uuid.New(), uuid.New()

	require.NoError(t, repo.CreateParty(ctx, s.DB(), &billing.LiveParty{ID: partyID, HostID: uuid.New(), State: billing.StateActive}))
	inserted, err := repo.InsertViewer(ctx, s.DB(), &billing.Viewer{PartyID: partyID, UserID: userID})
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = repo.InsertViewer(ctx, s.DB(), &billing.Viewer{PartyID: partyID, UserID: userID})
	require.NoError(t, err)
	assert.False(t, inserted)

	ok, err := repo.AdvanceViewerMinutes(ctx, s.DB(), partyID, userID, 0, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.AdvanceViewerMinutes(ctx, s.DB(), partyID, userID, 0, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := repo.GetViewer(ctx, s.DB(), partyID, userID, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.BilledMinutes)
}
