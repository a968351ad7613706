// Package pricing supplies asset prices by date, with a carry-forward policy
// for dates without a quote and a read-through cache for repeated lookups.
package pricing

import (
	"context"

	"github.com/shopspring/decimal"
)

// Quote is a resolved price for an asset on a date. When the exact date has
// no quote the most recent earlier price inside the carry-forward window is
// used and CarriedForward is set.
type Quote struct {
	AssetID        string          `json:"asset_id"`
	Date           string          `json:"date"`       // Requested date
	PriceDate      string          `json:"price_date"` // Date the price actually comes from
	Price          decimal.Decimal `json:"price"`
	CarriedForward bool            `json:"carried_forward"`
}

// Source supplies prices to the snapshot aggregator and the position ledger.
// A missing price yields an error wrapping domain.ErrUpstreamData.
type Source interface {
	PriceAsOf(ctx context.Context, assetID, date string) (*Quote, error)
}
