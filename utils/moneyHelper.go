package utils

import (
	"github.com/shopspring/decimal"
)

var decimalOneHundred = decimal.NewFromInt(100)

// ApplyPercentage computes base * percent / 100, rounded half-up to 2 decimal
// places. The intermediate quotient keeps 4 decimal places so a percentage with
// fractional precision doesn't lose value before the final rounding.
func ApplyPercentage(base decimal.Decimal, percent decimal.Decimal) decimal.Decimal {
	if percent.IsZero() || base.IsZero() {
		return decimal.Zero
	}
	return base.Mul(percent).DivRound(decimalOneHundred, 4).Round(2)
}

// RoundMoney normalizes a monetary value to its 2-decimal display scale.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// RatioPercent computes part / whole * 100 at 4-decimal precision
// (collection rate and similar derived percentages). A zero divisor
// short-circuits to zero.
func RatioPercent(part decimal.Decimal, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Mul(decimalOneHundred).DivRound(whole, 4)
}
