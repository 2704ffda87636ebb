package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/starline/starline-api/internal/domain/billing"
)

type fakeReconciler struct {
	mu        sync.Mutex
	cutoffs   []time.Time
	retries   int
	expiryErr error
}

func (f *fakeReconciler) ExpireStalePending(_ context.Context, olderThan time.Time) (*billing.ExpiryReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, olderThan)
	if f.expiryErr != nil {
		return nil, f.expiryErr
	}
	return &billing.ExpiryReport{Checked: 1, Cancelled: 1}, nil
}

func (f *fakeReconciler) RetryDiscrepancies(context.Context) (*billing.DiscrepancyReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries++
	return &billing.DiscrepancyReport{}, nil
}

func (f *fakeReconciler) passes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.retries
}

func TestWorker_RunOnceUsesPendingTTL(t *testing.T) {
	rec := &fakeReconciler{}
	w := NewWorker(rec, time.Hour, time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	w.RunOnce(context.Background())

	assert.Equal(t, []time.Time{now.Add(-time.Hour)}, rec.cutoffs)
	assert.Equal(t, 1, rec.retries)
}

func TestWorker_RetriesEvenWhenExpiryFails(t *testing.T) {
	rec := &fakeReconciler{expiryErr: errors.New("storage down")}
	NewWorker(rec, 0, 0).RunOnce(context.Background())
	assert.Equal(t, 1, rec.retries)
}

func TestWorker_StartStop(t *testing.T) {
	rec := &fakeReconciler{}
	w := NewWorker(rec, time.Hour, 10*time.Millisecond)
	w.Start()

	assert.Eventually(t, func() bool { return rec.passes() >= 2 }, time.Second, 5*time.Millisecond)
	w.Stop()

	after := rec.passes()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, rec.passes())
}

func TestNewWorker_Defaults(t *testing.T) {
	w := NewWorker(&fakeReconciler{}, 0, 0)
	assert.Equal(t, 24*time.Hour, w.pendingTTL)
	assert.Equal(t, 5*time.Minute, w.interval)
}
