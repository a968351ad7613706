// Package trading implements the trade ledger and the FIFO trade matcher.
package trading

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/folioledger/folioledger/internal/domain"
)

// Trade represents an executed trade. Once recorded a trade is immutable:
// matching progress is tracked in MatchedQuantity, the original quantity and
// price are never rewritten.
type Trade struct {
	ID              int64           `json:"id"`
	PortfolioID     string          `json:"portfolio_id"`
	AssetID         string          `json:"asset_id"`
	Side            domain.Side     `json:"side"`
	Quantity        decimal.Decimal `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	Fee             decimal.Decimal `json:"fee"`
	Tax             decimal.Decimal `json:"tax"`
	MatchedQuantity decimal.Decimal `json:"matched_quantity"`
	Unmatched       bool            `json:"unmatched"`
	TradeDate       string          `json:"trade_date"`
	Source          string          `json:"source"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Remaining returns the quantity not yet consumed by matching
func (t *Trade) Remaining() decimal.Decimal {
	return t.Quantity.Sub(t.MatchedQuantity)
}

// Validate checks trade fields before insertion
func (t *Trade) Validate() error {
	if strings.TrimSpace(t.PortfolioID) == "" {
		return domain.Validationf("portfolio id is required")
	}
	if strings.TrimSpace(t.AssetID) == "" {
		return domain.Validationf("asset id is required")
	}
	if !t.Side.Valid() {
		return domain.Validationf("invalid side %q", t.Side)
	}
	if !t.Quantity.IsPositive() {
		return domain.Validationf("quantity must be positive, got %s", t.Quantity)
	}
	if t.Price.IsNegative() {
		return domain.Validationf("price must not be negative, got %s", t.Price)
	}
	if t.Price.IsZero() {
		return domain.Validationf("price must not be zero")
	}
	if t.Fee.IsNegative() || t.Tax.IsNegative() {
		return domain.Validationf("fee and tax must not be negative")
	}
	if _, err := domain.ParseDate(t.TradeDate); err != nil {
		return domain.Validationf("invalid trade date: %v", err)
	}
	return nil
}

// MatchedLot links a closing trade to an opening trade. The realized P&L is
// (sell price - buy price) x quantity minus fees/taxes pro-rated by matched
// quantity over each trade's total quantity.
type MatchedLot struct {
	ID          int64           `json:"id"`
	PortfolioID string          `json:"portfolio_id"`
	AssetID     string          `json:"asset_id"`
	BuyTradeID  int64           `json:"buy_trade_id"`
	SellTradeID int64           `json:"sell_trade_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	BuyPrice    decimal.Decimal `json:"buy_price"`
	SellPrice   decimal.Decimal `json:"sell_price"`
	Fees        decimal.Decimal `json:"fees"`
	Taxes       decimal.Decimal `json:"taxes"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	TradeDate   string          `json:"trade_date"`
	CreatedAt   time.Time       `json:"created_at"`
}
