// README: Integer money arithmetic used by the wallet ledger.
package types

import "math"

// Percent returns round(amount * pct / 100) using half-away-from-zero rounding.
// Amounts are integer currency units; fractional cents never enter the ledger.
func Percent(amount int64, pct float64) int64 {
	return int64(math.Round(float64(amount) * pct / 100))
}

// Clamp bounds v to [min, max]; a zero max means no upper bound.
func Clamp(v, min, max int64) int64 {
	if v < min {
		return min
	}
	if max > 0 && v > max {
		return max
	}
	return v
}
