package pricing

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/folioledger/folioledger/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestHistoryDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE prices (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			asset_id   TEXT    NOT NULL,
			date       TEXT    NOT NULL,
			close      TEXT    NOT NULL,
			created_at INTEGER NOT NULL,
			UNIQUE (asset_id, date)
		)
	`)
	if err != nil {
		t.Fatalf("Failed to create test table: %v", err)
	}
	return db
}

func newTestCache(t *testing.T) *QuoteCache {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open cache database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE price_cache (
			cache_key  TEXT    PRIMARY KEY,
			payload    BLOB    NOT NULL,
			expires_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		t.Fatalf("Failed to create cache table: %v", err)
	}

	log := zerolog.New(nil).Level(zerolog.Disabled)
	return NewQuoteCache(db, time.Hour, log)
}

func newTestService(t *testing.T, cache *QuoteCache, carryForwardDays int) *Service {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewPriceRepository(newTestHistoryDB(t), log)
	return NewService(repo, cache, carryForwardDays, log)
}

func TestPriceAsOf_ExactDate(t *testing.T) {
	svc := newTestService(t, nil, 7)
	assert.NoError(t, svc.Record("AAPL", "2024-01-10", dec("185.50")))

	quote, err := svc.PriceAsOf(context.Background(), "AAPL", "2024-01-10")
	assert.NoError(t, err)
	assert.True(t, quote.Price.Equal(dec("185.50")))
	assert.False(t, quote.CarriedForward)
	assert.Equal(t, "2024-01-10", quote.PriceDate)
}

// TestPriceAsOf_CarriesForwardWithinLimit tests that a weekend or holiday
// gap inside the carry-forward window resolves to the last quote
func TestPriceAsOf_CarriesForwardWithinLimit(t *testing.T) {
	svc := newTestService(t, nil, 7)
	assert.NoError(t, svc.Record("AAPL", "2024-01-05", dec("180")))

	// Friday quote used on the following Monday.
	quote, err := svc.PriceAsOf(context.Background(), "AAPL", "2024-01-08")
	assert.NoError(t, err)
	assert.True(t, quote.Price.Equal(dec("180")))
	assert.True(t, quote.CarriedForward)
	assert.Equal(t, "2024-01-05", quote.PriceDate)
	assert.Equal(t, "2024-01-08", quote.Date)
}

// TestPriceAsOf_GapBeyondLimit tests that a quote older than the
// carry-forward limit is a data gap, not a usable price
func TestPriceAsOf_GapBeyondLimit(t *testing.T) {
	svc := newTestService(t, nil, 7)
	assert.NoError(t, svc.Record("AAPL", "2024-01-05", dec("180")))

	_, err := svc.PriceAsOf(context.Background(), "AAPL", "2024-01-13")
	assert.ErrorIs(t, err, domain.ErrUpstreamData)
}

func TestPriceAsOf_NoHistoryAtAll(t *testing.T) {
	svc := newTestService(t, nil, 7)

	_, err := svc.PriceAsOf(context.Background(), "NOPE", "2024-01-13")
	assert.ErrorIs(t, err, domain.ErrUpstreamData)
}

func TestPriceAsOf_RejectsBadDate(t *testing.T) {
	svc := newTestService(t, nil, 7)

	_, err := svc.PriceAsOf(context.Background(), "AAPL", "13/01/2024")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

// TestPriceAsOf_CacheReadThrough tests that a resolved quote is served from
// the cache on the second lookup, surviving deletion of the backing row
func TestPriceAsOf_CacheReadThrough(t *testing.T) {
	cache := newTestCache(t)
	svc := newTestService(t, cache, 7)
	ctx := context.Background()

	assert.NoError(t, svc.Record("AAPL", "2024-01-10", dec("185.50")))

	first, err := svc.PriceAsOf(ctx, "AAPL", "2024-01-10")
	assert.NoError(t, err)

	// Remove the history row: only the cache can answer now.
	_, err = svc.repo.historyDB.Exec("DELETE FROM prices")
	assert.NoError(t, err)

	second, err := svc.PriceAsOf(ctx, "AAPL", "2024-01-10")
	assert.NoError(t, err)
	assert.True(t, second.Price.Equal(first.Price))
	assert.Equal(t, first.PriceDate, second.PriceDate)
}

// TestRecord_InvalidatesCache tests that upserting a price drops the asset's
// cached quotes so the new close is visible immediately
func TestRecord_InvalidatesCache(t *testing.T) {
	cache := newTestCache(t)
	svc := newTestService(t, cache, 7)
	ctx := context.Background()

	assert.NoError(t, svc.Record("AAPL", "2024-01-10", dec("185.50")))
	_, err := svc.PriceAsOf(ctx, "AAPL", "2024-01-10")
	assert.NoError(t, err)

	assert.NoError(t, svc.Record("AAPL", "2024-01-10", dec("190")))

	quote, err := svc.PriceAsOf(ctx, "AAPL", "2024-01-10")
	assert.NoError(t, err)
	assert.True(t, quote.Price.Equal(dec("190")), "corrected close replaces the cached quote, got %s", quote.Price)
}

func TestQuoteCache_RoundTrip(t *testing.T) {
	cache := newTestCache(t)

	cache.Put(&Quote{
		AssetID:        "AAPL",
		Date:           "2024-01-08",
		PriceDate:      "2024-01-05",
		Price:          dec("180.25"),
		CarriedForward: true,
	})

	got := cache.Get("AAPL", "2024-01-08")
	assert.NotNil(t, got)
	assert.True(t, got.Price.Equal(dec("180.25")))
	assert.True(t, got.CarriedForward)
	assert.Equal(t, "2024-01-05", got.PriceDate)

	assert.Nil(t, cache.Get("AAPL", "2024-01-09"), "different date is a miss")
}
