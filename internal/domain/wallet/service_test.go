package wallet_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starline/starline-api/internal/domain/wallet"
	"github.com/starline/starline-api/internal/pkg/database"
	"github.com/starline/starline-api/internal/store/memory"
)

func newService(t *testing.T) (*wallet.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	return wallet.NewService(store.Wallets(), store), store
}

func TestGetOrCreate_IsIdempotent(t *testing.T) {
	svc, _ := newService(t)
	userID := uuid.New()

	first, err := svc.GetOrCreate(context.Background(), userID)
	require.NoError(t, err)
	second, err := svc.GetOrCreate(context.Background(), userID)
	require.NoError(t, err)

	assert.Equal(t, int64(0), first.Stars)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestDebit_InsufficientFundsLeavesBalance(t *testing.T) {
	svc, store := newService(t)
	userID := uuid.New()
	store.SeedWallet(userID, 50, 0)

	err := store.WithTx(context.Background(), func(q database.Querier) error {
		_, err := svc.DebitTx(context.Background(), q, userID, 60, wallet.CurrencyStars)
		return err
	})

	var short *wallet.InsufficientFundsError
	require.ErrorAs(t, err, &short)
	assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)
	assert.Equal(t, int64(60), short.Required)
	assert.Equal(t, int64(50), short.Available)

	w, err := svc.GetOrCreate(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), w.Stars)
	assert.Equal(t, int64(0), w.TotalSpent)
}

func TestDebit_ConcurrentNeverNegative(t *testing.T) {
	svc, store := newService(t)
	userID := uuid.New()
	store.SeedWallet(userID, 100, 0)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		shortfall int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithTx(context.Background(), func(q database.Querier) error {
				_, err := svc.DebitTx(context.Background(), q, userID, 60, wallet.CurrencyStars)
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, wallet.ErrInsufficientFunds):
				shortfall++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, shortfall)

	w, err := svc.GetOrCreate(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), w.Stars)
}

func TestCredit_TracksCountersPerCurrency(t *testing.T) {
	svc, store := newService(t)
	userID := uuid.New()

	err := store.WithTx(context.Background(), func(q database.Querier) error {
		if _, err := svc.CreditTx(context.Background(), q, userID, 30, wallet.CurrencyStars); err != nil {
			return err
		}
		_, err := svc.CreditTx(context.Background(), q, userID, 500, wallet.CurrencyUSD)
		return err
	})
	require.NoError(t, err)

	w, err := svc.GetOrCreate(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), w.Stars)
	assert.Equal(t, int64(30), w.TotalEarned)
	assert.Equal(t, int64(500), w.SecondaryBalance)
	assert.Equal(t, int64(500), w.SecondaryEarned)
}

func TestMutations_RejectBadInput(t *testing.T) {
	svc, store := newService(t)
	userID := uuid.New()

	err := store.WithTx(context.Background(), func(q database.Querier) error {
		_, err := svc.DebitTx(context.Background(), q, userID, 0, wallet.CurrencyStars)
		return err
	})
	assert.ErrorIs(t, err, wallet.ErrInvalidAmount)

	err = store.WithTx(context.Background(), func(q database.Querier) error {
		_, err := svc.CreditTx(context.Background(), q, userID, 10, wallet.Currency("EUR"))
		return err
	})
	assert.ErrorIs(t, err, wallet.ErrUnknownCurrency)
}
