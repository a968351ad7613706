package portfolio

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/folioledger/folioledger/internal/domain"
	"github.com/folioledger/folioledger/internal/modules/trading"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// stubTradeSource serves a fixed trade history, filtered by date
type stubTradeSource struct {
	trades []*trading.Trade
}

func (s *stubTradeSource) ListByScopeUpTo(portfolioID, assetID, date string) ([]*trading.Trade, error) {
	var out []*trading.Trade
	for _, t := range s.trades {
		if t.PortfolioID == portfolioID && t.AssetID == assetID && t.TradeDate <= date {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *stubTradeSource) AssetIDs(portfolioID, date string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, t := range s.trades {
		if t.PortfolioID == portfolioID && t.TradeDate <= date && !seen[t.AssetID] {
			seen[t.AssetID] = true
			out = append(out, t.AssetID)
		}
	}
	return out, nil
}

func trade(asset, date string, side domain.Side, qty, price string) *trading.Trade {
	return &trading.Trade{
		PortfolioID: "pf-1",
		AssetID:     asset,
		Side:        side,
		Quantity:    dec(qty),
		Price:       dec(price),
		TradeDate:   date,
	}
}

func newTestLedger(trades ...*trading.Trade) *Ledger {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	return NewLedger(&stubTradeSource{trades: trades}, log)
}

// TestPositionAsOf_AvgCostIsFIFORemainder tests that average cost reflects
// the open lots left after matching, not the blended cost of all buys
func TestPositionAsOf_AvgCostIsFIFORemainder(t *testing.T) {
	ledger := newTestLedger(
		trade("AAPL", "2024-01-02", domain.SideBuy, "10", "100"),
		trade("AAPL", "2024-01-05", domain.SideBuy, "5", "120"),
		trade("AAPL", "2024-01-10", domain.SideSell, "12", "130"),
	)

	pos, err := ledger.PositionAsOf(context.Background(), "pf-1", "AAPL", "2024-01-31")
	assert.NoError(t, err)

	assert.True(t, pos.Quantity.Equal(dec("3")))
	// The 10@100 lot is gone; only 3 of the 120 lot remain.
	assert.True(t, pos.AvgCost.Equal(dec("120")), "got %s", pos.AvgCost)
	assert.True(t, pos.CostBasis.Equal(dec("360")))
	assert.True(t, pos.RealizedPnL.Equal(dec("320")))
}

func TestPositionAsOf_DateCutoffExcludesLaterTrades(t *testing.T) {
	ledger := newTestLedger(
		trade("AAPL", "2024-01-02", domain.SideBuy, "10", "100"),
		trade("AAPL", "2024-01-10", domain.SideSell, "10", "130"),
	)

	pos, err := ledger.PositionAsOf(context.Background(), "pf-1", "AAPL", "2024-01-05")
	assert.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(dec("10")), "the sell is after the cutoff")
	assert.True(t, pos.RealizedPnL.IsZero())
}

// TestPositionAsOf_FlatPositionRetainsRealizedPnL tests that a fully closed
// position reports zero quantity but keeps its cumulative realized P&L
func TestPositionAsOf_FlatPositionRetainsRealizedPnL(t *testing.T) {
	ledger := newTestLedger(
		trade("AAPL", "2024-01-02", domain.SideBuy, "10", "100"),
		trade("AAPL", "2024-01-10", domain.SideSell, "10", "130"),
	)

	pos, err := ledger.PositionAsOf(context.Background(), "pf-1", "AAPL", "2024-02-01")
	assert.NoError(t, err)
	assert.True(t, pos.Quantity.IsZero())
	assert.True(t, pos.AvgCost.IsZero())
	assert.True(t, pos.RealizedPnL.Equal(dec("300")))
}

func TestPositionAsOf_UntradedAssetIsEmpty(t *testing.T) {
	ledger := newTestLedger()

	pos, err := ledger.PositionAsOf(context.Background(), "pf-1", "MSFT", "2024-02-01")
	assert.NoError(t, err)
	assert.True(t, pos.Quantity.IsZero())
	assert.True(t, pos.RealizedPnL.IsZero())
}

func TestPositionsAsOf_IncludesFlatPositions(t *testing.T) {
	ledger := newTestLedger(
		trade("AAPL", "2024-01-02", domain.SideBuy, "10", "100"),
		trade("AAPL", "2024-01-10", domain.SideSell, "10", "130"),
		trade("MSFT", "2024-01-03", domain.SideBuy, "2", "400"),
	)

	positions, err := ledger.PositionsAsOf(context.Background(), "pf-1", "2024-02-01")
	assert.NoError(t, err)
	assert.Len(t, positions, 2)

	byAsset := map[string]*Position{}
	for _, p := range positions {
		byAsset[p.AssetID] = p
	}
	assert.True(t, byAsset["AAPL"].Quantity.IsZero())
	assert.True(t, byAsset["AAPL"].RealizedPnL.Equal(dec("300")))
	assert.True(t, byAsset["MSFT"].Quantity.Equal(dec("2")))
}

func TestMarkToMarket(t *testing.T) {
	pos := &Position{
		Quantity: dec("3"),
		AvgCost:  dec("120"),
	}
	pos.MarkToMarket(dec("130"))

	assert.True(t, pos.MarketValue.Equal(dec("390")))
	assert.True(t, pos.UnrealizedPnL.Equal(dec("30")), "(130-120)*3")
}
