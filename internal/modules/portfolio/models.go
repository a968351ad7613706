// Package portfolio maintains portfolio metadata and the position ledger,
// the derived view of current and point-in-time holdings per asset.
package portfolio

import (
	"time"

	"github.com/shopspring/decimal"
)

// Portfolio is the metadata record for one portfolio. The engine treats it
// as read-only input; cash balances and fund units are derived from the
// cash-flow and unit-transaction ledgers.
type Portfolio struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	BaseCurrency string          `json:"base_currency"`
	IsFund       bool            `json:"is_fund"`
	OpeningCash  decimal.Decimal `json:"opening_cash"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Position is the derived state of one (portfolio, asset): the fold of all
// trades for that scope. It is never persisted as independent truth and is
// always reproducible by replaying the trade ledger.
type Position struct {
	PortfolioID string          `json:"portfolio_id"`
	AssetID     string          `json:"asset_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	AvgCost     decimal.Decimal `json:"avg_cost"`
	CostBasis   decimal.Decimal `json:"cost_basis"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`

	// Mark-to-market fields, filled by MarkToMarket when a price is known.
	CurrentPrice  decimal.Decimal `json:"current_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// MarkToMarket fills the valuation fields from a current price
func (p *Position) MarkToMarket(price decimal.Decimal) {
	p.CurrentPrice = price
	p.MarketValue = p.Quantity.Mul(price)
	p.UnrealizedPnL = price.Sub(p.AvgCost).Mul(p.Quantity)
}
