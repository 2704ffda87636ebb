package payment

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/starline/starline-api/internal/domain/billing"
)

// Reconciler is the part of billing the worker drives.
type Reconciler interface {
	ExpireStalePending(ctx context.Context, olderThan time.Time) (*billing.ExpiryReport, error)
	RetryDiscrepancies(ctx context.Context) (*billing.DiscrepancyReport, error)
}

// Worker settles stale external payments and retries failed charges.
type Worker struct {
	reconciler Reconciler
	pendingTTL time.Duration
	interval   time.Duration
	timeout    time.Duration
	stopCh     chan struct{}
	done       sync.WaitGroup
	now        func() time.Time
}

// NewWorker creates a payment reconciliation worker
func NewWorker(reconciler Reconciler, pendingTTL, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if pendingTTL <= 0 {
		pendingTTL = 24 * time.Hour
	}
	return &Worker{
		reconciler: reconciler,
		pendingTTL: pendingTTL,
		interval:   interval,
		timeout:    2 * time.Minute,
		stopCh:     make(chan struct{}),
		now:        time.Now,
	}
}

// Start begins the background worker
func (w *Worker) Start() {
	log.Info().Dur("interval", w.interval).Msg("Starting payment reconciliation worker...")
	w.done.Add(1)
	go w.loop()
}

// Stop stops the worker and waits for the current pass to finish
func (w *Worker) Stop() {
	log.Info().Msg("Stopping payment reconciliation worker...")
	close(w.stopCh)
	w.done.Wait()
}

func (w *Worker) loop() {
	defer w.done.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	w.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			w.RunOnce(context.Background())
		case <-w.stopCh:
			return
		}
	}
}

// RunOnce performs one reconciliation pass.
func (w *Worker) RunOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, w.timeout)
	defer cancel()

	log.Debug().Msg("Starting payment reconciliation...")

	// 1. Settle or expire stale pending payments
	expiry, err := w.reconciler.ExpireStalePending(ctx, w.now().Add(-w.pendingTTL))
	if err != nil {
		log.Error().Err(err).Msg("Failed to reconcile stale pending payments")
	} else if expiry.Checked > 0 {
		log.Info().
			Int("checked", expiry.Checked).
			Int("completed", expiry.Completed).
			Int("cancelled", expiry.Cancelled).
			Msg("Reconciled stale pending payments")
	}

	// 2. Retry failed call charges
	retried, err := w.reconciler.RetryDiscrepancies(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to retry billing discrepancies")
	} else if retried.Checked > 0 {
		log.Info().
			Int("checked", retried.Checked).
			Int("resolved", retried.Resolved).
			Msg("Retried billing discrepancies")
	}

	log.Debug().Msg("Finished payment reconciliation")
}
