// Package snapshots computes and stores immutable point-in-time portfolio
// snapshots at daily, weekly and monthly granularities.
package snapshots

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/folioledger/folioledger/internal/domain"
)

// AssetSnapshot is the state of one (portfolio, asset) on a date. Snapshots
// are immutable per (portfolio, asset, date, granularity) key: recalculation
// replaces the row wholesale, never patches individual fields.
type AssetSnapshot struct {
	ID          int64              `json:"id"`
	PortfolioID string             `json:"portfolio_id"`
	AssetID     string             `json:"asset_id"`
	Date        string             `json:"date"`
	Granularity domain.Granularity `json:"granularity"`

	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`

	AllocationPct    float64         `json:"allocation_pct"` // Share of portfolio total value
	PortfolioValue   decimal.Decimal `json:"portfolio_value"`
	ReturnPct        float64         `json:"return_pct"`        // Total P&L over cost basis
	DailyReturn      float64         `json:"daily_return"`      // vs previous snapshot in the series
	CumulativeReturn float64         `json:"cumulative_return"` // vs first snapshot in the series

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PortfolioSnapshot aggregates all asset snapshots of a date plus cash.
// Invariant: TotalValue = sum of asset CurrentValue + CashBalance, within
// rounding tolerance.
type PortfolioSnapshot struct {
	ID          int64              `json:"id"`
	PortfolioID string             `json:"portfolio_id"`
	Date        string             `json:"date"`
	Granularity domain.Granularity `json:"granularity"`

	TotalValue    decimal.Decimal `json:"total_value"`
	InvestedValue decimal.Decimal `json:"invested_value"` // Asset value excluding cash
	CashBalance   decimal.Decimal `json:"cash_balance"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`

	// Returns are fractions (0.05 = 5%). Window returns compare directly
	// against the snapshot at the window start.
	DailyReturn   float64 `json:"daily_return"`
	WeeklyReturn  float64 `json:"weekly_return"`
	MonthlyReturn float64 `json:"monthly_return"`
	YTDReturn     float64 `json:"ytd_return"`
	Volatility    float64 `json:"volatility"`   // Stdev of trailing daily returns
	MaxDrawdown   float64 `json:"max_drawdown"` // Largest peak-to-trough decline to date

	// Allocation maps asset id to its share of total value. Fixed schema:
	// recomputation always rewrites the whole map.
	Allocation map[string]float64 `json:"allocation"`

	// PriceGaps lists assets excluded from this snapshot because no usable
	// price existed for the date.
	PriceGaps []string `json:"price_gaps"`

	AssetCount int `json:"asset_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
