package pricing

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/folioledger/folioledger/internal/domain"
)

// PriceRepository handles price history database operations (history.db)
type PriceRepository struct {
	historyDB *sql.DB
	log       zerolog.Logger
}

// NewPriceRepository creates a new price repository
func NewPriceRepository(historyDB *sql.DB, log zerolog.Logger) *PriceRepository {
	return &PriceRepository{
		historyDB: historyDB,
		log:       log.With().Str("repo", "prices").Logger(),
	}
}

// Upsert stores a closing price for an asset and date
func (r *PriceRepository) Upsert(assetID, date string, close decimal.Decimal) error {
	if _, err := domain.ParseDate(date); err != nil {
		return domain.Validationf("invalid price date: %v", err)
	}
	if close.IsNegative() {
		return domain.Validationf("price must not be negative, got %s", close)
	}

	_, err := r.historyDB.Exec(`
		INSERT INTO prices (asset_id, date, close, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (asset_id, date) DO UPDATE SET close = excluded.close
	`, strings.ToUpper(assetID), date, close, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert price: %w", err)
	}
	return nil
}

// LatestAtOrBefore returns the most recent price for an asset dated at or
// before the given date, together with the date it comes from.
func (r *PriceRepository) LatestAtOrBefore(assetID, date string) (decimal.Decimal, string, error) {
	var close decimal.Decimal
	var priceDate string
	err := r.historyDB.QueryRow(`
		SELECT close, date FROM prices
		WHERE asset_id = ? AND date <= ?
		ORDER BY date DESC
		LIMIT 1
	`, strings.ToUpper(assetID), date).Scan(&close, &priceDate)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, "", domain.Upstreamf("no price for %s at or before %s", assetID, date)
	}
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("failed to query price: %w", err)
	}
	return close, priceDate, nil
}
