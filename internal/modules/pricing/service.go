package pricing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/folioledger/folioledger/internal/domain"
)

// Service resolves prices with the carry-forward policy: when the requested
// date has no quote, the most recent earlier price is used as long as it is
// no older than carryForwardDays. Older prices are treated as a gap.
type Service struct {
	repo             *PriceRepository
	cache            *QuoteCache // Optional
	carryForwardDays int
	log              zerolog.Logger
}

// NewService creates a pricing service. cache may be nil.
func NewService(repo *PriceRepository, cache *QuoteCache, carryForwardDays int, log zerolog.Logger) *Service {
	return &Service{
		repo:             repo,
		cache:            cache,
		carryForwardDays: carryForwardDays,
		log:              log.With().Str("service", "pricing").Logger(),
	}
}

// PriceAsOf implements Source
func (s *Service) PriceAsOf(ctx context.Context, assetID, date string) (*Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := domain.ParseDate(date); err != nil {
		return nil, domain.Validationf("invalid price lookup date: %v", err)
	}

	if s.cache != nil {
		if quote := s.cache.Get(assetID, date); quote != nil {
			return quote, nil
		}
	}

	price, priceDate, err := s.repo.LatestAtOrBefore(assetID, date)
	if err != nil {
		return nil, err
	}

	if priceDate != date {
		age, err := daysBetween(priceDate, date)
		if err != nil {
			return nil, err
		}
		if age > s.carryForwardDays {
			return nil, domain.Upstreamf(
				"price for %s is %d days stale on %s (last quote %s, carry-forward limit %d)",
				assetID, age, date, priceDate, s.carryForwardDays)
		}
	}

	quote := &Quote{
		AssetID:        assetID,
		Date:           date,
		PriceDate:      priceDate,
		Price:          price,
		CarriedForward: priceDate != date,
	}

	if s.cache != nil {
		s.cache.Put(quote)
	}
	return quote, nil
}

// Record stores a price and invalidates cached lookups for the asset
func (s *Service) Record(assetID, date string, close decimal.Decimal) error {
	if err := s.repo.Upsert(assetID, date, close); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Invalidate(assetID)
	}
	return nil
}

func daysBetween(earlier, later string) (int, error) {
	a, err := domain.ParseDate(earlier)
	if err != nil {
		return 0, err
	}
	b, err := domain.ParseDate(later)
	if err != nil {
		return 0, err
	}
	return int(b.Sub(a).Hours() / 24), nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return d, nil
}
