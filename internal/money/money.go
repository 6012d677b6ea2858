// Package money provides shared naira parsing and formatting utilities.
//
// All amounts are decimal.Decimal values at kobo precision (2 decimal
// places). Database columns are NUMERIC(20,2); amounts cross the wire as
// decimal strings (e.g. "19999.99").
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the naira precision: 1 NGN = 100 kobo.
const Decimals = 2

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrNegativeAmount = errors.New("amount must not be negative")
)

// Zero is the zero amount.
var Zero = decimal.Zero

// Parse converts a decimal string (e.g. "19999.99") to an amount rounded
// to kobo precision. Empty strings and malformed input are rejected.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if d.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}
	return d.Round(Decimals), nil
}

// ParsePositive is Parse with a strictly-positive requirement. Used for
// credits, debits, and transfer amounts where zero is never meaningful.
func ParsePositive(s string) (decimal.Decimal, error) {
	d, err := Parse(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// MustParse parses s or panics. For constants and tests only.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic("money: bad amount " + s + ": " + err.Error())
	}
	return d
}

// Format renders an amount with exactly two decimal places ("5000.00").
func Format(d decimal.Decimal) string {
	return d.StringFixed(Decimals)
}

// Percent returns pct percent of d, rounded to kobo precision.
func Percent(d decimal.Decimal, pct decimal.Decimal) decimal.Decimal {
	return d.Mul(pct).Div(decimal.NewFromInt(100)).Round(Decimals)
}

// Kobo returns the amount as an integer number of kobo. Useful for
// gateway adapters that bill in minor units.
func Kobo(d decimal.Decimal) int64 {
	return d.Shift(Decimals).IntPart()
}
