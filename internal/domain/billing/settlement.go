package billing

import (
	"context"
	"fmt"

	"github.com/starline/starline-api/internal/domain/ledger"
	"github.com/starline/starline-api/internal/domain/wallet"
	"github.com/starline/starline-api/internal/pkg/database"
	"github.com/starline/starline-api/internal/pkg/invoicing"
)

// Invoicer is the external payment bridge.
type Invoicer interface {
	CreateInvoice(ctx context.Context, req invoicing.InvoiceRequest) (*invoicing.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*invoicing.Invoice, error)
}

// Receipt is what the payer needs after a deferred charge.
type Receipt struct {
	ExternalRef string `json:"external_ref"`
	PaymentURL  string `json:"payment_url"`
}

// SettlementStrategy charges a user in one currency.
type SettlementStrategy interface {
	Currency() wallet.Currency
	// Settle records the charge inside q. A replay returns the stored transaction and
	// ledger.ErrAlreadyBilled.
	Settle(ctx context.Context, q database.Querier, req ledger.OpenRequest) (*ledger.Transaction, error)
	// AfterCommit runs once the unit of work holding tx committed. It returns nil
	// when nothing else has to happen.
	AfterCommit(ctx context.Context, tx *ledger.Transaction) (*Receipt, error)
}

// ImmediateSettlement debits the wallet in the same unit of work.
type ImmediateSettlement struct {
	ledger   *ledger.Service
	currency wallet.Currency
}

func NewImmediateSettlement(l *ledger.Service, c wallet.Currency) *ImmediateSettlement {
	return &ImmediateSettlement{ledger: l, currency: c}
}

func (s *ImmediateSettlement) Currency() wallet.Currency { return s.currency }

func (s *ImmediateSettlement) Settle(ctx context.Context, q database.Querier, req ledger.OpenRequest) (*ledger.Transaction, error) {
	req.Currency = s.currency
	return s.ledger.OpenAndDebitTx(ctx, q, req)
}

func (s *ImmediateSettlement) AfterCommit(context.Context, *ledger.Transaction) (*Receipt, error) {
	return nil, nil
}

// DeferredSettlement leaves the transaction pending and bills it through the
// external processor once committed.
type DeferredSettlement struct {
	ledger   *ledger.Service
	invoicer Invoicer
	currency wallet.Currency
}

func NewDeferredSettlement(l *ledger.Service, invoicer Invoicer, c wallet.Currency) *DeferredSettlement {
	return &DeferredSettlement{ledger: l, invoicer: invoicer, currency: c}
}

func (s *DeferredSettlement) Currency() wallet.Currency { return s.currency }

func (s *DeferredSettlement) Settle(ctx context.Context, q database.Querier, req ledger.OpenRequest) (*ledger.Transaction, error) {
	req.Currency = s.currency
	req.Direction = ledger.DirectionDebit
	return s.ledger.OpenTx(ctx, q, req)
}

// AfterCommit creates the invoice. On failure the pending transaction is failed so
// it cannot linger without an invoice.
func (s *DeferredSettlement) AfterCommit(ctx context.Context, tx *ledger.Transaction) (*Receipt, error) {
	if tx.Status != ledger.StatusPending || tx.ExternalRef != nil {
		return nil, nil
	}

	inv, err := s.invoicer.CreateInvoice(ctx, invoicing.InvoiceRequest{
		ContactID:      tx.UserID.String(),
		AmountMinor:    tx.Amount,
		Currency:       string(tx.Currency),
		Description:    tx.Description,
		IdempotencyKey: tx.ID.String(),
		Metadata: map[string]string{
			"transaction_id": tx.ID.String(),
			"type":           string(tx.Type),
		},
	})
	if err == nil {
		err = s.ledger.AttachExternalRef(ctx, tx.ID, inv.ID)
	}
	if err != nil {
		if _, failErr := s.ledger.Fail(ctx, tx.ID, "invoice creation failed: "+err.Error()); failErr != nil {
			return nil, fmt.Errorf("create invoice: %w (fail transaction: %v)", err, failErr)
		}
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	ref := inv.ID
	tx.ExternalRef = &ref
	return &Receipt{ExternalRef: inv.ID, PaymentURL: inv.PaymentURL}, nil
}
