package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// numericFromDecimal converts d into a pgtype.Numeric without going through
// float64.
func numericFromDecimal(d decimal.Decimal) (pgtype.Numeric, error) {
	var out pgtype.Numeric
	if err := out.Scan(d.String()); err != nil {
		return out, fmt.Errorf("parse numeric %q: %w", d.String(), err)
	}
	return out, nil
}

// fillAmounts converts the decimal columns of one fill.
func fillAmounts(price, size, fee decimal.Decimal) (p, s, f pgtype.Numeric, err error) {
	if p, err = numericFromDecimal(price); err != nil {
		return
	}
	if s, err = numericFromDecimal(size); err != nil {
		return
	}
	f, err = numericFromDecimal(fee)
	return
}
