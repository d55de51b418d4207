package enrich

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MaxUSDIntegerDigits matches the integer part of usd_at_tx NUMERIC(38, 2).
const MaxUSDIntegerDigits = 36

var maxUSD = decimal.New(1, MaxUSDIntegerDigits)

// Pricer is a static USD oracle: the stablecoin is worth one dollar, the
// native asset is worth a configured rate, everything else is unpriced.
type Pricer struct {
	StableSymbol string
	NativeSymbol string
	NativeUSD    decimal.Decimal
}

// USD values amount of symbol in dollars rounded to cents. Values that do not
// fit the stored column are unpriced.
func (p Pricer) USD(symbol string, amount decimal.Decimal) (decimal.Decimal, bool) {
	var rate decimal.Decimal
	switch {
	case p.StableSymbol != "" && strings.EqualFold(symbol, p.StableSymbol):
		rate = decimal.NewFromInt(1)
	case p.NativeSymbol != "" && strings.EqualFold(symbol, p.NativeSymbol):
		rate = p.NativeUSD
	default:
		return decimal.Decimal{}, false
	}

	usd := amount.Mul(rate).Round(2)
	if usd.Abs().Cmp(maxUSD) >= 0 {
		return decimal.Decimal{}, false
	}
	return usd, true
}
