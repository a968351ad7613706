package snapshots

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestWindowReturn(t *testing.T) {
	testCases := []struct {
		name     string
		current  string
		base     string
		expected float64
	}{
		{"gain", "1100", "1000", 0.1},
		{"loss", "900", "1000", -0.1},
		{"flat", "1000", "1000", 0},
		{"zero base yields zero", "1000", "0", 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := windowReturn(decimal.RequireFromString(tc.current), decimal.RequireFromString(tc.base))
			assert.InDelta(t, tc.expected, got, 1e-9)
		})
	}
}

func TestSeriesReturns(t *testing.T) {
	returns := seriesReturns([]float64{100, 110, 99})
	assert.Len(t, returns, 2)
	assert.InDelta(t, 0.1, returns[0], 1e-9)
	assert.InDelta(t, -0.1, returns[1], 1e-9)

	assert.Nil(t, seriesReturns([]float64{100}))
	assert.Nil(t, seriesReturns(nil))

	// A zero value cannot be a base; its step is skipped.
	assert.Len(t, seriesReturns([]float64{100, 0, 50}), 1)
}

func TestVolatility(t *testing.T) {
	// Constant values have zero-variance returns.
	assert.InDelta(t, 0, volatility([]float64{100, 100, 100, 100}, 30), 1e-12)

	// Fewer than two returns cannot produce a deviation.
	assert.Equal(t, float64(0), volatility([]float64{100, 110}, 30), "single return")
	assert.Equal(t, float64(0), volatility([]float64{100}, 30))

	// Alternating +10%/-10% returns: sample stdev is known.
	vol := volatility([]float64{100, 110, 99, 108.9}, 30)
	assert.Greater(t, vol, 0.1)
	assert.Less(t, vol, 0.13)
}

// TestVolatility_TrailingWindow tests that only the trailing window of
// returns enters the deviation: old turbulence ages out
func TestVolatility_TrailingWindow(t *testing.T) {
	// Wild swings followed by a long flat stretch.
	values := []float64{100, 200, 50, 100, 100, 100, 100, 100, 100}

	full := volatility(values, 100)
	windowed := volatility(values, 3)

	assert.Greater(t, full, 0.3)
	assert.InDelta(t, 0, windowed, 1e-12, "flat trailing window has no volatility")
}

func TestMaxDrawdown(t *testing.T) {
	testCases := []struct {
		name     string
		values   []float64
		expected float64
	}{
		{"monotonic rise has none", []float64{100, 110, 120}, 0},
		{"single decline", []float64{100, 80}, 0.2},
		{"peak to trough across recovery", []float64{100, 120, 60, 110}, 0.5},
		{"later deeper trough wins", []float64{100, 90, 150, 60}, 0.6},
		{"empty series", nil, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, maxDrawdown(tc.values), 1e-9)
		})
	}
}
