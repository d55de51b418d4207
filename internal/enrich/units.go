package enrich

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// FromBaseUnits converts an integer amount in base units into a decimal of
// value amount / 10^decimals. The raw string never passes through a float.
func FromBaseUnits(raw string, decimals uint8) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("invalid base-unit amount: %q", raw)
	}
	if value.Sign() < 0 {
		return decimal.Decimal{}, fmt.Errorf("negative base-unit amount: %q", raw)
	}
	return decimal.NewFromBigInt(value, -int32(decimals)), nil
}

// FormatAmount renders a base-unit amount with its symbol, e.g. "1.5 S".
func FormatAmount(raw string, decimals *uint8, symbol *string) string {
	text := raw + " (base units)"
	if decimals != nil {
		if human, err := FromBaseUnits(raw, *decimals); err == nil {
			text = human.String()
		}
	}
	if symbol != nil && *symbol != "" {
		text += " " + *symbol
	}
	return text
}
