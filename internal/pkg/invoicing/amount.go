package invoicing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FormatMinor renders cents as a two-decimal string, e.g. 1999 -> "19.99".
func FormatMinor(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

// ParseMinor converts a decimal amount string into cents. Sub-cent precision is rejected.
func ParseMinor(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	cents := d.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("invalid amount %q: more than two decimal places", raw)
	}
	return cents.IntPart(), nil
}
