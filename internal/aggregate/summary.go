package aggregate

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"echopay/internal/model"
	"echopay/internal/storage"
)

const (
	SummaryDays     = 7
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Summarizer computes merchant dashboards from the receipt store.
type Summarizer struct {
	store  storage.ReceiptStore
	logger *zap.Logger
	now    func() time.Time
}

func NewSummarizer(store storage.ReceiptStore, logger *zap.Logger) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{store: store, logger: logger, now: time.Now}
}

// Summary returns the merchant's receipt count, total USD and a continuous
// series of the last SummaryDays UTC days.
func (s *Summarizer) Summary(ctx context.Context, merchant string) (model.MerchantSummary, error) {
	count, err := s.store.CountByMerchant(ctx, merchant)
	if err != nil {
		return model.MerchantSummary{}, fmt.Errorf("count receipts: %w", err)
	}
	total, err := s.store.SumUSDByMerchant(ctx, merchant)
	if err != nil {
		return model.MerchantSummary{}, fmt.Errorf("sum receipts: %w", err)
	}

	acc := NewAccumulator(s.now(), SummaryDays)
	rows, err := s.store.ReceiptsByMerchantSince(ctx, merchant, acc.WindowStart)
	if err != nil {
		return model.MerchantSummary{}, fmt.Errorf("recent receipts: %w", err)
	}
	for _, r := range rows {
		acc.Add(r)
	}

	s.logger.Debug("merchant summary",
		zap.String("merchant", merchant),
		zap.Int64("tx_count", count),
		zap.Int("recent", len(rows)),
	)

	return model.MerchantSummary{
		TxCount:  count,
		TotalUSD: total.Round(2),
		Last7d:   acc.Series(),
	}, nil
}

// Receipts returns one page of the merchant's receipts, newest first. page is
// clamped to >= 1 and pageSize to [1, MaxPageSize], with 0 meaning DefaultPageSize.
func (s *Summarizer) Receipts(ctx context.Context, merchant string, page, pageSize int) (model.ReceiptPage, error) {
	page, pageSize = NormalizePage(page, pageSize)

	total, err := s.store.CountByMerchant(ctx, merchant)
	if err != nil {
		return model.ReceiptPage{}, fmt.Errorf("count receipts: %w", err)
	}
	items := []model.Receipt{}
	if offset, ok := pageOffset(page, pageSize); ok && int64(offset) < total {
		items, err = s.store.ListByMerchant(ctx, merchant, offset, pageSize)
		if err != nil {
			return model.ReceiptPage{}, fmt.Errorf("list receipts: %w", err)
		}
	}

	return model.ReceiptPage{
		Page:     page,
		PageSize: pageSize,
		Total:    total,
		Pages:    (total + int64(pageSize) - 1) / int64(pageSize),
		Items:    items,
	}, nil
}

// NormalizePage applies the pagination bounds.
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// pageOffset returns the row offset of page, or false when it overflows int.
func pageOffset(page, pageSize int) (int, bool) {
	if page-1 > math.MaxInt/pageSize {
		return 0, false
	}
	return (page - 1) * pageSize, true
}
