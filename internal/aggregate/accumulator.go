package aggregate

import (
	"time"

	"github.com/shopspring/decimal"

	"echopay/internal/model"
)

const dayLayout = "2006-01-02"

// Accumulator sums receipt USD values into contiguous UTC day windows.
type Accumulator struct {
	WindowStart time.Time
	Days        int
	buckets     []decimal.Decimal
}

// NewAccumulator covers the days UTC days ending with the day containing end.
func NewAccumulator(end time.Time, days int) *Accumulator {
	if days <= 0 {
		days = 1
	}
	today := end.UTC().Truncate(24 * time.Hour)
	buckets := make([]decimal.Decimal, days)
	for i := range buckets {
		buckets[i] = decimal.Zero
	}
	return &Accumulator{
		WindowStart: today.AddDate(0, 0, -(days - 1)),
		Days:        days,
		buckets:     buckets,
	}
}

// Add counts r toward its creation day. Receipts outside the window or without a
// USD estimate are ignored.
func (a *Accumulator) Add(r model.Receipt) {
	if r.UsdAtTx == nil {
		return
	}
	created := r.CreatedAt.UTC()
	if created.Before(a.WindowStart) {
		return
	}
	idx := int(created.Sub(a.WindowStart) / (24 * time.Hour))
	if idx >= a.Days {
		return
	}
	a.buckets[idx] = a.buckets[idx].Add(*r.UsdAtTx)
}

// Series returns one entry per day, oldest first, rounded to cents.
func (a *Accumulator) Series() []model.DailyUSD {
	out := make([]model.DailyUSD, 0, a.Days)
	for i, usd := range a.buckets {
		out = append(out, model.DailyUSD{
			Date: a.WindowStart.AddDate(0, 0, i).Format(dayLayout),
			USD:  usd.Round(2),
		})
	}
	return out
}
