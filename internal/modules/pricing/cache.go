package pricing

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// cachedQuote is the msgpack payload stored per cache key. Price travels as
// a string to keep decimal exactness through serialization.
type cachedQuote struct {
	AssetID        string `msgpack:"asset_id"`
	Date           string `msgpack:"date"`
	PriceDate      string `msgpack:"price_date"`
	Price          string `msgpack:"price"`
	CarriedForward bool   `msgpack:"carried_forward"`
}

// QuoteCache is a read-through cache for resolved quotes, backed by the
// cache database. Entries expire; the cache database is disposable.
type QuoteCache struct {
	cacheDB *sql.DB
	ttl     time.Duration
	log     zerolog.Logger
}

// NewQuoteCache creates a quote cache with the given entry TTL
func NewQuoteCache(cacheDB *sql.DB, ttl time.Duration, log zerolog.Logger) *QuoteCache {
	return &QuoteCache{
		cacheDB: cacheDB,
		ttl:     ttl,
		log:     log.With().Str("service", "quote_cache").Logger(),
	}
}

func cacheKey(assetID, date string) string {
	return assetID + "@" + date
}

// Get returns the cached quote for (asset, date), or nil on miss.
// Cache failures are logged and treated as misses, never surfaced.
func (c *QuoteCache) Get(assetID, date string) *Quote {
	var payload []byte
	err := c.cacheDB.QueryRow(
		"SELECT payload FROM price_cache WHERE cache_key = ? AND expires_at > ?",
		cacheKey(assetID, date), time.Now().Unix(),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("Quote cache read failed")
		return nil
	}

	var cached cachedQuote
	if err := msgpack.Unmarshal(payload, &cached); err != nil {
		c.log.Warn().Err(err).Msg("Quote cache payload corrupt, ignoring")
		return nil
	}

	quote, err := cached.toQuote()
	if err != nil {
		c.log.Warn().Err(err).Msg("Quote cache payload invalid, ignoring")
		return nil
	}
	return quote
}

// Put stores a resolved quote. Failures are logged only.
func (c *QuoteCache) Put(quote *Quote) {
	payload, err := msgpack.Marshal(cachedQuote{
		AssetID:        quote.AssetID,
		Date:           quote.Date,
		PriceDate:      quote.PriceDate,
		Price:          quote.Price.String(),
		CarriedForward: quote.CarriedForward,
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("Quote cache encode failed")
		return
	}

	_, err = c.cacheDB.Exec(`
		INSERT INTO price_cache (cache_key, payload, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at
	`, cacheKey(quote.AssetID, quote.Date), payload, time.Now().Add(c.ttl).Unix())
	if err != nil {
		c.log.Warn().Err(err).Msg("Quote cache write failed")
	}
}

// Invalidate removes cached quotes for an asset (called after price upserts)
func (c *QuoteCache) Invalidate(assetID string) {
	_, err := c.cacheDB.Exec("DELETE FROM price_cache WHERE cache_key LIKE ?", assetID+"@%")
	if err != nil {
		c.log.Warn().Err(err).Msg("Quote cache invalidation failed")
	}
}

// Prune deletes expired entries
func (c *QuoteCache) Prune() {
	_, err := c.cacheDB.Exec("DELETE FROM price_cache WHERE expires_at <= ?", time.Now().Unix())
	if err != nil {
		c.log.Warn().Err(err).Msg("Quote cache prune failed")
	}
}

func (q cachedQuote) toQuote() (*Quote, error) {
	price, err := parseDecimal(q.Price)
	if err != nil {
		return nil, fmt.Errorf("bad cached price %q: %w", q.Price, err)
	}
	return &Quote{
		AssetID:        q.AssetID,
		Date:           q.Date,
		PriceDate:      q.PriceDate,
		Price:          price,
		CarriedForward: q.CarriedForward,
	}, nil
}
