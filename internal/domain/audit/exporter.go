// Package audit exports per-user ledger statements to object storage.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/starline/starline-api/internal/domain/ledger"
	"github.com/starline/starline-api/internal/pkg/logger"
	"github.com/starline/starline-api/internal/pkg/storage"
)

const pageSize = 100

var ErrInvalidRange = errors.New("export range is invalid")

// TransactionLister pages through a user's ledger history.
type TransactionLister interface {
	ListByUser(ctx context.Context, filter ledger.ListFilter) ([]*ledger.Transaction, int, error)
}

// Export describes one written statement.
type Export struct {
	UserID uuid.UUID  `json:"user_id"`
	Key    string     `json:"key"`
	URL    string     `json:"url"`
	Count  int        `json:"count"`
	From   *time.Time `json:"from,omitempty"`
	To     *time.Time `json:"to,omitempty"`
}

type Exporter struct {
	ledger TransactionLister
	store  storage.ObjectStore
	now    func() time.Time
}

func NewExporter(l TransactionLister, store storage.ObjectStore) *Exporter {
	return &Exporter{ledger: l, store: store, now: func() time.Time { return time.Now().UTC() }}
}

// ExportUser writes the user's transactions, newest first, as JSON lines to
// exports/<user>/<timestamp>.jsonl.
func (e *Exporter) ExportUser(ctx context.Context, userID uuid.UUID, from, to *time.Time) (*Export, error) {
	if e.store == nil {
		return nil, storage.ErrNotConfigured
	}
	if userID == uuid.Nil || (from != nil && to != nil && to.Before(*from)) {
		return nil, ErrInvalidRange
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	count := 0
	for offset := 0; ; offset += pageSize {
		items, total, err := e.ledger.ListByUser(ctx, ledger.ListFilter{
			UserID: userID,
			From:   from,
			To:     to,
			Limit:  pageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, fmt.Errorf("list transactions: %w", err)
		}
		for _, tx := range items {
			if err := enc.Encode(tx); err != nil {
				return nil, fmt.Errorf("encode transaction %s: %w", tx.ID, err)
			}
		}
		count += len(items)
		if len(items) == 0 || offset+len(items) >= total {
			break
		}
	}

	key := fmt.Sprintf("exports/%s/%s.jsonl", userID, e.now().Format("20060102T150405Z"))
	if err := e.store.Put(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "application/x-ndjson"); err != nil {
		return nil, err
	}

	logger.LogInfo(ctx, "ledger export written", "user_id", userID.String(), "key", key, "count", count)
	return &Export{UserID: userID, Key: key, URL: e.store.URL(key), Count: count, From: from, To: to}, nil
}
