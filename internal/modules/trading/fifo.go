package trading

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/folioledger/folioledger/internal/domain"
)

// ReplayLot is a match produced by a replay, referencing trades by their
// index in the input slice. It is converted to a persisted MatchedLot once
// trade ids are known.
type ReplayLot struct {
	BuyIdx      int
	SellIdx     int
	Quantity    decimal.Decimal
	BuyPrice    decimal.Decimal
	SellPrice   decimal.Decimal
	Fees        decimal.Decimal
	Taxes       decimal.Decimal
	RealizedPnL decimal.Decimal
	TradeDate   string
}

// OpenLot is the unmatched remainder of a buy trade after a replay
type OpenLot struct {
	Idx       int
	Remaining decimal.Decimal
	Price     decimal.Decimal
	TradeDate string
}

// ReplayResult is the outcome of folding a trade sequence through FIFO
// matching. It is a pure function of the input: replaying the same trades
// always yields the same result.
type ReplayResult struct {
	Lots        []ReplayLot
	Matched     []decimal.Decimal // Matched quantity per input trade, by index
	Open        []OpenLot         // Remaining open buy lots, oldest first
	RealizedPnL decimal.Decimal
}

// Replay folds the given trades through FIFO matching in chronological
// order. Trades sharing a date keep their relative input order, so callers
// append a new trade after the persisted ones to match insertion semantics.
//
// Each SELL consumes the oldest open BUY lots first. A SELL that exceeds the
// open quantity at its point in the sequence is rejected: short positions
// are not supported.
func Replay(trades []*Trade) (*ReplayResult, error) {
	order := make([]int, len(trades))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return trades[order[a]].TradeDate < trades[order[b]].TradeDate
	})

	result := &ReplayResult{
		Matched:     make([]decimal.Decimal, len(trades)),
		RealizedPnL: decimal.Zero,
	}
	for i := range result.Matched {
		result.Matched[i] = decimal.Zero
	}

	var open []OpenLot

	for _, idx := range order {
		t := trades[idx]

		switch t.Side {
		case domain.SideBuy:
			open = append(open, OpenLot{
				Idx:       idx,
				Remaining: t.Quantity,
				Price:     t.Price,
				TradeDate: t.TradeDate,
			})

		case domain.SideSell:
			remaining := t.Quantity

			for len(open) > 0 && remaining.IsPositive() {
				lot := &open[0]
				buy := trades[lot.Idx]

				matched := decimal.Min(remaining, lot.Remaining)

				fees := allocate(buy.Fee, matched, buy.Quantity).
					Add(allocate(t.Fee, matched, t.Quantity))
				taxes := allocate(buy.Tax, matched, buy.Quantity).
					Add(allocate(t.Tax, matched, t.Quantity))
				pnl := t.Price.Sub(lot.Price).Mul(matched).Sub(fees).Sub(taxes)

				result.Lots = append(result.Lots, ReplayLot{
					BuyIdx:      lot.Idx,
					SellIdx:     idx,
					Quantity:    matched,
					BuyPrice:    lot.Price,
					SellPrice:   t.Price,
					Fees:        fees,
					Taxes:       taxes,
					RealizedPnL: pnl,
					TradeDate:   t.TradeDate,
				})
				result.RealizedPnL = result.RealizedPnL.Add(pnl)

				result.Matched[lot.Idx] = result.Matched[lot.Idx].Add(matched)
				result.Matched[idx] = result.Matched[idx].Add(matched)

				lot.Remaining = lot.Remaining.Sub(matched)
				remaining = remaining.Sub(matched)

				if lot.Remaining.IsZero() {
					open = open[1:]
				}
			}

			if remaining.IsPositive() {
				return nil, domain.Validationf(
					"sell of %s %s on %s exceeds open quantity by %s (short positions not supported)",
					t.Quantity, t.AssetID, t.TradeDate, remaining)
			}
		}
	}

	// Matched quantities can never exceed the trade's own quantity. A
	// violation here means the fold itself is broken, so fail loudly.
	for i, m := range result.Matched {
		if m.GreaterThan(trades[i].Quantity) {
			return nil, domain.Consistencyf(
				"matched quantity %s exceeds trade quantity %s for trade on %s",
				m, trades[i].Quantity, trades[i].TradeDate)
		}
	}

	result.Open = open
	return result, nil
}

// allocate pro-rates a total cost by matched/total quantity
func allocate(total, matched, quantity decimal.Decimal) decimal.Decimal {
	if quantity.IsZero() || total.IsZero() {
		return decimal.Zero
	}
	return total.Mul(matched).Div(quantity)
}
