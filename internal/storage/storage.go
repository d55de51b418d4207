package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"echopay/internal/model"
)

// ErrNotFound is returned when a receipt has not been ingested (yet).
var ErrNotFound = errors.New("receipt not found")

// ReceiptStore persists receipts keyed by code.
type ReceiptStore interface {
	// UpsertReceipt inserts r if no receipt with r.Code exists and otherwise leaves
	// the stored record untouched. It returns the stored record and whether it was inserted.
	UpsertReceipt(ctx context.Context, r model.Receipt) (model.Receipt, bool, error)
	ReceiptByCode(ctx context.Context, code string) (model.Receipt, error)
	ListByMerchant(ctx context.Context, merchant string, offset, limit int) ([]model.Receipt, error)
	CountByMerchant(ctx context.Context, merchant string) (int64, error)
	SumUSDByMerchant(ctx context.Context, merchant string) (decimal.Decimal, error)
	ReceiptsByMerchantSince(ctx context.Context, merchant string, since time.Time) ([]model.Receipt, error)
}

// CursorStore persists the poller watermark under a name.
type CursorStore interface {
	LoadCursor(ctx context.Context, name string) (uint64, bool, error)
	SaveCursor(ctx context.Context, name string, block uint64) error
}
