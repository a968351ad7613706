package snapshots

import (
	"gonum.org/v1/gonum/stat"

	"github.com/shopspring/decimal"
)

// windowReturn compares a value directly against the value at the start of
// the window. Returns 0 when the base is zero or missing.
func windowReturn(current, base decimal.Decimal) float64 {
	if base.IsZero() {
		return 0
	}
	r, _ := current.Sub(base).Div(base).Float64()
	return r
}

// seriesReturns converts a value series to per-step fractional returns.
// Returns[i] = (values[i+1] - values[i]) / values[i].
func seriesReturns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			continue
		}
		returns = append(returns, (values[i]-values[i-1])/values[i-1])
	}
	return returns
}

// volatility is the standard deviation of the trailing window of per-step
// returns. Needs at least two returns, otherwise 0.
func volatility(values []float64, window int) float64 {
	returns := seriesReturns(values)
	if len(returns) > window {
		returns = returns[len(returns)-window:]
	}
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil)
}

// maxDrawdown is the largest peak-to-trough decline across the value series,
// as a positive fraction (0.25 = a 25% decline).
func maxDrawdown(values []float64) float64 {
	var peak, worst float64
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}
