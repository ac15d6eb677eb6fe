package store

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// parseDecimal wraps decimal.NewFromString with a consistent error message
// for the repositories' scan helpers.
func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}
