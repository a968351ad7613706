package portfolio

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/folioledger/folioledger/internal/domain"
	"github.com/folioledger/folioledger/internal/modules/trading"
)

// TradeSource provides the trade history the ledger folds over.
// Implemented by trading.TradeRepository.
type TradeSource interface {
	ListByScopeUpTo(portfolioID, assetID, date string) ([]*trading.Trade, error)
	AssetIDs(portfolioID, date string) ([]string, error)
}

// Ledger computes positions as a pure fold of the trade history. It holds no
// state of its own: every call replays the relevant trades, so recomputing a
// position any number of times yields the identical result.
type Ledger struct {
	trades TradeSource
	log    zerolog.Logger
}

// NewLedger creates a new position ledger
func NewLedger(trades TradeSource, log zerolog.Logger) *Ledger {
	return &Ledger{
		trades: trades,
		log:    log.With().Str("service", "ledger").Logger(),
	}
}

// Position returns the current position for a (portfolio, asset)
func (l *Ledger) Position(ctx context.Context, portfolioID, assetID string) (*Position, error) {
	return l.PositionAsOf(ctx, portfolioID, assetID, domain.Today())
}

// PositionAsOf returns the position for a (portfolio, asset) as of the given
// date: quantity and FIFO-remainder average cost of the open buy lots, plus
// cumulative realized P&L up to that date. O(trades for the asset).
func (l *Ledger) PositionAsOf(ctx context.Context, portfolioID, assetID, date string) (*Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trades, err := l.trades.ListByScopeUpTo(portfolioID, assetID, date)
	if err != nil {
		return nil, err
	}

	pos := &Position{
		PortfolioID: portfolioID,
		AssetID:     assetID,
		Quantity:    decimal.Zero,
		AvgCost:     decimal.Zero,
		CostBasis:   decimal.Zero,
		RealizedPnL: decimal.Zero,
	}
	if len(trades) == 0 {
		return pos, nil
	}

	result, err := trading.Replay(trades)
	if err != nil {
		return nil, err
	}

	for _, lot := range result.Open {
		pos.Quantity = pos.Quantity.Add(lot.Remaining)
		pos.CostBasis = pos.CostBasis.Add(lot.Remaining.Mul(lot.Price))
	}
	if pos.Quantity.IsPositive() {
		pos.AvgCost = pos.CostBasis.Div(pos.Quantity)
	}
	pos.RealizedPnL = result.RealizedPnL

	return pos, nil
}

// PositionsAsOf returns positions for every asset traded in the portfolio at
// or before the given date, including flat (zero quantity) positions, which
// still carry realized P&L.
func (l *Ledger) PositionsAsOf(ctx context.Context, portfolioID, date string) ([]*Position, error) {
	assets, err := l.trades.AssetIDs(portfolioID, date)
	if err != nil {
		return nil, err
	}

	positions := make([]*Position, 0, len(assets))
	for _, assetID := range assets {
		pos, err := l.PositionAsOf(ctx, portfolioID, assetID, date)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, nil
}
