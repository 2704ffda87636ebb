package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starline/starline-api/internal/domain/billing"
	"github.com/starline/starline-api/internal/domain/ledger"
	"github.com/starline/starline-api/internal/domain/notification"
	"github.com/starline/starline-api/internal/pkg/invoicing"
)

func TestTopUp_CreditsStarsOnConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()

	res, err := f.svc.TopUp(ctx, user, 250, "order-1")
	require.NoError(t, err)
	require.NotNil(t, res.Receipt)
	assert.Equal(t, "inv_1", res.Receipt.ExternalRef)
	assert.NotEmpty(t, res.Receipt.PaymentURL)
	assert.Equal(t, ledger.StatusPending, res.Transaction.Status)
	assert.Equal(t, int64(250), res.Transaction.Amount)
	assert.Zero(t, f.stars(t, user))

	replay, err := f.svc.TopUp(ctx, user, 250, "order-1")
	require.NoError(t, err)
	assert.Equal(t, res.Transaction.ID, replay.Transaction.ID)
	assert.Equal(t, "inv_1", replay.Receipt.ExternalRef)
	assert.Len(t, f.invoicer.created, 1)

	out, err := f.svc.ConfirmExternalPayment(ctx, billing.PaymentEvent{DeliveryID: "evt-1", InvoiceID: "inv_1", Status: invoicing.StatusCompleted})
	require.NoError(t, err)
	assert.False(t, out.Duplicate)
	assert.Equal(t, ledger.StatusCompleted, out.Transaction.Status)
	require.NotNil(t, out.Credit)
	assert.Equal(t, int64(250), out.Credit.Amount)
	assert.Equal(t, int64(250), f.stars(t, user))
	assert.Contains(t, f.notifier.types(), notification.EventPaymentCompleted)

	dup, err := f.svc.ConfirmExternalPayment(ctx, billing.PaymentEvent{DeliveryID: "evt-1", InvoiceID: "inv_1", Status: invoicing.StatusCompleted})
	require.NoError(t, err)
	assert.True(t, dup.Duplicate)

	// A second delivery of the same outcome finds nothing pending.
	_, err = f.svc.ConfirmExternalPayment(ctx, billing.PaymentEvent{DeliveryID: "evt-2", InvoiceID: "inv_1", Status: invoicing.StatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, int64(250), f.stars(t, user))
}

func TestConfirmExternalPayment_FailedTopUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()

	_, err := f.svc.TopUp(ctx, user, 10, "")
	require.NoError(t, err)

	out, err := f.svc.ConfirmExternalPayment(ctx, billing.PaymentEvent{DeliveryID: "evt-1", InvoiceID: "inv_1", Status: invoicing.StatusFailed})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, out.Transaction.Status)
	assert.Nil(t, out.Credit)
	assert.Zero(t, f.stars(t, user))
	assert.Contains(t, f.notifier.types(), notification.EventPaymentFailed)

	// Money arriving after we gave up is queued for review, not credited.
	_, err = f.svc.ConfirmExternalPayment(ctx, billing.PaymentEvent{DeliveryID: "evt-2", InvoiceID: "inv_1", Status: invoicing.StatusCompleted})
	require.NoError(t, err)
	assert.Zero(t, f.stars(t, user))

	open := f.openDiscrepancies(t)
	require.Len(t, open, 1)
	assert.Equal(t, billing.DiscrepancyLatePayment, open[0].Kind)
}

func TestConfirmExternalPayment_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ConfirmExternalPayment(ctx, billing.PaymentEvent{DeliveryID: "evt-1", InvoiceID: "inv_missing", Status: invoicing.StatusCompleted})
	assert.ErrorIs(t, err, billing.ErrUnknownPayment)

	// The unknown delivery was rolled back, so a retry is not a duplicate.
	_, err = f.svc.ConfirmExternalPayment(ctx, billing.PaymentEvent{DeliveryID: "evt-1", InvoiceID: "inv_missing", Status: invoicing.StatusCompleted})
	assert.ErrorIs(t, err, billing.ErrUnknownPayment)

	_, err = f.svc.ConfirmExternalPayment(ctx, billing.PaymentEvent{Status: invoicing.StatusCompleted})
	assert.ErrorIs(t, err, billing.ErrInvalidInput)
}

func TestTopUp_RequiresInvoicer(t *testing.T) {
	f := newFixtureWith(t, nil)
	_, err := f.svc.TopUp(context.Background(), uuid.New(), 10, "")
	assert.ErrorIs(t, err, billing.ErrUnsupportedCurrency)

	f = newFixture(t)
	_, err = f.svc.TopUp(context.Background(), uuid.New(), 0, "")
	assert.ErrorIs(t, err, billing.ErrInvalidInput)
}

func TestTopUp_InvoiceFailureFailsTransaction(t *testing.T) {
	inv := newFakeInvoicer()
	inv.createErr = errProcessorDown
	f := newFixtureWith(t, inv)
	ctx := context.Background()
	user := uuid.New()

	_, err := f.svc.TopUp(ctx, user, 10, "k")
	require.ErrorIs(t, err, errProcessorDown)

	txs := f.transactions(t, user, ledger.TypeWalletTopUp)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.StatusFailed, txs[0].Status)
}

func TestExpireStalePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	paid, expired, waiting := uuid.New(), uuid.New(), uuid.New()

	for _, user := range []uuid.UUID{paid, expired, waiting} {
		_, err := f.svc.TopUp(ctx, user, 100, "")
		require.NoError(t, err)
	}
	f.invoicer.set("inv_1", invoicing.StatusCompleted)
	f.invoicer.set("inv_2", invoicing.StatusExpired)

	report, err := f.svc.ExpireStalePending(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 1, report.Cancelled)
	assert.Equal(t, 1, report.Waiting)
	assert.Zero(t, report.Errors)

	assert.Equal(t, int64(100), f.stars(t, paid))
	assert.Zero(t, f.stars(t, expired))
	assert.Zero(t, f.stars(t, waiting))

	// Nothing is older than an hour ago.
	report, err = f.svc.ExpireStalePending(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, report.Checked)
}
