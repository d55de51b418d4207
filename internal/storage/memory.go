package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"echopay/internal/model"
)

// MemoryStore is an in-process ReceiptStore and CursorStore.
type MemoryStore struct {
	mu       sync.RWMutex
	receipts map[string]model.Receipt
	order    []string
	cursors  map[string]uint64
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		receipts: make(map[string]model.Receipt),
		cursors:  make(map[string]uint64),
		now:      time.Now,
	}
}

func (s *MemoryStore) UpsertReceipt(_ context.Context, r model.Receipt) (model.Receipt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.receipts[r.Code]; ok {
		return existing, false, nil
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}
	s.receipts[r.Code] = r
	s.order = append(s.order, r.Code)
	return r, true, nil
}

func (s *MemoryStore) ReceiptByCode(_ context.Context, code string) (model.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.receipts[code]
	if !ok {
		return model.Receipt{}, ErrNotFound
	}
	return r, nil
}

// Len returns the number of stored receipts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.receipts)
}

func (s *MemoryStore) byMerchant(merchant string) []model.Receipt {
	merchant = strings.ToLower(merchant)
	out := make([]model.Receipt, 0)
	for _, code := range s.order {
		r := s.receipts[code]
		if r.Merchant == merchant {
			out = append(out, r)
		}
	}
	return out
}

func (s *MemoryStore) ListByMerchant(_ context.Context, merchant string, offset, limit int) ([]model.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.byMerchant(merchant)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
	if offset < 0 || offset >= len(rows) || limit <= 0 {
		return []model.Receipt{}, nil
	}
	end := offset + limit
	if end > len(rows) || end < offset {
		end = len(rows)
	}
	return rows[offset:end], nil
}

func (s *MemoryStore) CountByMerchant(_ context.Context, merchant string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.byMerchant(merchant))), nil
}

func (s *MemoryStore) SumUSDByMerchant(_ context.Context, merchant string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, r := range s.byMerchant(merchant) {
		if r.UsdAtTx != nil {
			total = total.Add(*r.UsdAtTx)
		}
	}
	return total, nil
}

func (s *MemoryStore) ReceiptsByMerchantSince(_ context.Context, merchant string, since time.Time) ([]model.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Receipt, 0)
	for _, r := range s.byMerchant(merchant) {
		if !r.CreatedAt.Before(since) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) LoadCursor(_ context.Context, name string) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	block, ok := s.cursors[name]
	return block, ok, nil
}

func (s *MemoryStore) SaveCursor(_ context.Context, name string, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[name] = block
	return nil
}

var (
	_ ReceiptStore = (*MemoryStore)(nil)
	_ CursorStore  = (*MemoryStore)(nil)
)
