package engine

import "github.com/shopspring/decimal"

// one hundred, for percentage scaling.
var hundred = decimal.NewFromInt(100)

// RedistributionAmount computes the final transfer amount:
// min(offering * percentage/100, cap). A zero or negative result means
// "nothing to redistribute" and the caller stops before touching any
// adapter; it is a legitimate terminal outcome, not an error.
func RedistributionAmount(offering, percentage, cap decimal.Decimal) decimal.Decimal {
	final := offering.Mul(percentage).Div(hundred)

	if cap.LessThan(final) {
		final = cap
	}

	if final.Sign() <= 0 {
		return decimal.Zero
	}
	return final
}
