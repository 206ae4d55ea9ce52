package ledger

import "github.com/shopspring/decimal"

// RedistributionConfig is loaded once at startup and immutable thereafter.
type RedistributionConfig struct {
	// Threshold is the admission threshold on the 0-10 normalized match
	// scale.
	Threshold float64

	// Percentage of the offering amount to redistribute (0-100).
	Percentage decimal.Decimal

	// Caps bounds the transfer amount per currency. A currency with no cap
	// entry caps at zero, which terminates the pipeline with
	// nothing_to_redistribute.
	Caps map[string]decimal.Decimal

	// DisableGate bypasses the breath-safety gate entirely. Controlled
	// testing only.
	DisableGate bool
}

// DefaultRedistributionConfig returns the stock thresholds: admit at 7.2,
// redistribute 33% of the offering, no caps.
func DefaultRedistributionConfig() RedistributionConfig {
	return RedistributionConfig{
		Threshold:  7.2,
		Percentage: decimal.NewFromInt(33),
		Caps:       map[string]decimal.Decimal{},
	}
}

// Cap returns the configured cap for a currency, zero when absent.
func (c RedistributionConfig) Cap(currency string) decimal.Decimal {
	if cap, ok := c.Caps[currency]; ok {
		return cap
	}
	return decimal.Zero
}
