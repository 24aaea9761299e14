package entity

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an amount in cents. All arithmetic stays in integers; fractional
// factors go through decimal and are rounded to whole cents.
type Money int64

var hundred = decimal.NewFromInt(100)

// Mul multiplies the amount by a quantity.
func (m Money) Mul(qty int) Money {
	return m * Money(qty)
}

// Scale multiplies the amount by factor, rounding half away from zero.
func (m Money) Scale(factor decimal.Decimal) Money {
	return Money(decimal.NewFromInt(int64(m)).Mul(factor).Round(0).IntPart())
}

// Percent returns pct percent of the amount.
func (m Money) Percent(pct decimal.Decimal) Money {
	return m.Scale(pct.Div(hundred))
}

func (m Money) Min(other Money) Money {
	if m < other {
		return m
	}
	return other
}

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}
