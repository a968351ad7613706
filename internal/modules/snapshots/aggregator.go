package snapshots

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/folioledger/folioledger/internal/database"
	"github.com/folioledger/folioledger/internal/domain"
	"github.com/folioledger/folioledger/internal/modules/portfolio"
	"github.com/folioledger/folioledger/internal/modules/pricing"
	"github.com/folioledger/folioledger/internal/runs"
	"github.com/folioledger/folioledger/internal/utils"
)

// PortfolioSource supplies portfolio metadata to the aggregator.
// Implemented by portfolio.PortfolioRepository.
type PortfolioSource interface {
	GetByID(id string) (*portfolio.Portfolio, error)
	List() ([]portfolio.Portfolio, error)
}

// CashSource supplies the cumulative external cash balance of a portfolio
// up to a date. Implemented by cashflows.Repository.
type CashSource interface {
	BalanceAsOf(portfolioID, date string) (decimal.Decimal, error)
}

// AggregatorService computes point-in-time snapshots by folding the position
// ledger, pricing every open position, and layering return and risk metrics
// on top of the stored snapshot history.
//
// A snapshot is derived state: recomputing the same (portfolio, date,
// granularity) key from identical inputs always produces the identical row.
// Concurrent computations of the same key are rejected, not queued; the
// losing caller gets a conflict error and retries.
type AggregatorService struct {
	snapshotRepo  *SnapshotRepository
	portfolioRepo PortfolioSource
	ledger        *portfolio.Ledger
	prices        pricing.Source
	cash          CashSource
	runRepo       *runs.Repository

	locks     *utils.KeyedMutex
	workers   int
	volWindow int
	log       zerolog.Logger
}

// NewAggregatorService creates a new snapshot aggregator
func NewAggregatorService(
	snapshotRepo *SnapshotRepository,
	portfolioRepo PortfolioSource,
	ledger *portfolio.Ledger,
	prices pricing.Source,
	cash CashSource,
	runRepo *runs.Repository,
	workers int,
	volWindow int,
	log zerolog.Logger,
) *AggregatorService {
	if workers < 1 {
		workers = 1
	}
	if volWindow < 2 {
		volWindow = 30
	}
	return &AggregatorService{
		snapshotRepo:  snapshotRepo,
		portfolioRepo: portfolioRepo,
		ledger:        ledger,
		prices:        prices,
		cash:          cash,
		runRepo:       runRepo,
		locks:         utils.NewKeyedMutex(),
		workers:       workers,
		volWindow:     volWindow,
		log:           log.With().Str("service", "snapshot_aggregator").Logger(),
	}
}

// CreateOrRecalculate computes and stores the snapshot for one
// (portfolio, date, granularity) key, replacing any previous row wholesale.
//
// Assets whose price cannot be resolved for the date are excluded from the
// snapshot and listed in PriceGaps; the snapshot itself still succeeds. A
// concurrent computation of the same key makes this call fail fast with
// domain.ErrConflict.
func (s *AggregatorService) CreateOrRecalculate(ctx context.Context, portfolioID, date string, granularity domain.Granularity) (*PortfolioSnapshot, error) {
	if !granularity.Valid() {
		return nil, domain.Validationf("invalid granularity %q", granularity)
	}
	if _, err := domain.ParseDate(date); err != nil {
		return nil, domain.Validationf("invalid date %q", date)
	}

	key := portfolioID + "|" + date + "|" + string(granularity)
	if !s.locks.TryLock(key) {
		return nil, fmt.Errorf("snapshot %s already being computed: %w", key, domain.ErrConflict)
	}
	defer s.locks.Unlock(key)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p, err := s.portfolioRepo.GetByID(portfolioID)
	if err != nil {
		return nil, err
	}

	ps, assets, err := s.compute(ctx, p, date, granularity)
	if err != nil {
		return nil, err
	}

	err = database.WithTransaction(s.snapshotRepo.DB(), func(tx *sql.Tx) error {
		return s.snapshotRepo.ReplaceForDateTx(tx, ps, assets)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("portfolio_id", portfolioID).
		Str("date", date).
		Str("granularity", string(granularity)).
		Str("total_value", ps.TotalValue.String()).
		Int("assets", ps.AssetCount).
		Int("price_gaps", len(ps.PriceGaps)).
		Msg("Snapshot computed")

	return ps, nil
}

// compute folds positions, prices and cash into the snapshot rows without
// persisting anything.
func (s *AggregatorService) compute(ctx context.Context, p *portfolio.Portfolio, date string, granularity domain.Granularity) (*PortfolioSnapshot, []AssetSnapshot, error) {
	positions, err := s.ledger.PositionsAsOf(ctx, p.ID, date)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fold positions for %s: %w", p.ID, err)
	}

	ps := &PortfolioSnapshot{
		PortfolioID: p.ID,
		Date:        date,
		Granularity: granularity,
		Allocation:  map[string]float64{},
		PriceGaps:   []string{},
	}

	var assets []AssetSnapshot
	for _, pos := range positions {
		a := AssetSnapshot{
			PortfolioID: p.ID,
			AssetID:     pos.AssetID,
			Date:        date,
			Granularity: granularity,
			Quantity:    pos.Quantity,
			CostBasis:   pos.CostBasis,
			AvgCost:     pos.AvgCost,
			RealizedPnL: pos.RealizedPnL,
		}

		// Flat positions need no price; they only carry realized P&L.
		if !pos.Quantity.IsZero() {
			quote, err := s.prices.PriceAsOf(ctx, pos.AssetID, date)
			if errors.Is(err, domain.ErrUpstreamData) {
				s.log.Warn().
					Str("portfolio_id", p.ID).
					Str("asset_id", pos.AssetID).
					Str("date", date).
					Msg("No usable price, excluding asset from snapshot")
				ps.PriceGaps = append(ps.PriceGaps, pos.AssetID)
				continue
			}
			if err != nil {
				return nil, nil, err
			}
			pos.MarkToMarket(quote.Price)
			a.Price = quote.Price
			a.CurrentValue = pos.MarketValue
			a.UnrealizedPnL = pos.UnrealizedPnL
		}
		a.TotalPnL = a.RealizedPnL.Add(a.UnrealizedPnL)

		ps.InvestedValue = ps.InvestedValue.Add(a.CurrentValue)
		ps.RealizedPnL = ps.RealizedPnL.Add(a.RealizedPnL)
		ps.UnrealizedPnL = ps.UnrealizedPnL.Add(a.UnrealizedPnL)
		assets = append(assets, a)
	}

	cashFlows, err := s.cash.BalanceAsOf(p.ID, date)
	if err != nil {
		return nil, nil, err
	}
	ps.CashBalance = p.OpeningCash.Add(cashFlows)
	ps.TotalValue = ps.InvestedValue.Add(ps.CashBalance)
	ps.TotalPnL = ps.RealizedPnL.Add(ps.UnrealizedPnL)
	ps.AssetCount = len(assets)

	for i := range assets {
		a := &assets[i]
		a.PortfolioValue = ps.TotalValue
		if ps.TotalValue.IsPositive() && !a.CurrentValue.IsZero() {
			pct, _ := a.CurrentValue.Div(ps.TotalValue).Float64()
			a.AllocationPct = pct
			ps.Allocation[a.AssetID] = pct
		}
		if a.CostBasis.IsPositive() {
			r, _ := a.TotalPnL.Div(a.CostBasis).Float64()
			a.ReturnPct = r
		}
		s.assetSeriesReturns(a)
	}

	if err := s.portfolioReturns(ps); err != nil {
		return nil, nil, err
	}
	if err := s.riskMetrics(ps); err != nil {
		return nil, nil, err
	}

	return ps, assets, nil
}

// assetSeriesReturns fills an asset's daily and cumulative returns from its
// own snapshot series. A missing prior snapshot leaves the return at 0; any
// other lookup failure is logged, never swallowed.
func (s *AggregatorService) assetSeriesReturns(a *AssetSnapshot) {
	prev, err := s.snapshotRepo.LatestAssetSnapshotBefore(a.PortfolioID, a.AssetID, a.Date, a.Granularity)
	switch {
	case err == nil:
		a.DailyReturn = windowReturn(a.CurrentValue, prev.CurrentValue)
	case !errors.Is(err, domain.ErrNotFound):
		s.log.Error().Err(err).
			Str("portfolio_id", a.PortfolioID).
			Str("asset_id", a.AssetID).
			Str("date", a.Date).
			Msg("Failed to load prior asset snapshot")
	}

	first, err := s.snapshotRepo.FirstAssetSnapshot(a.PortfolioID, a.AssetID, a.Granularity)
	switch {
	case err == nil:
		if first.Date < a.Date {
			a.CumulativeReturn = windowReturn(a.CurrentValue, first.CurrentValue)
		}
	case !errors.Is(err, domain.ErrNotFound):
		s.log.Error().Err(err).
			Str("portfolio_id", a.PortfolioID).
			Str("asset_id", a.AssetID).
			Str("date", a.Date).
			Msg("Failed to load first asset snapshot")
	}
}

// portfolioReturns fills the window returns by direct comparison against the
// snapshot standing at each window's start. Missing bases yield 0, not an
// error: a young portfolio simply has no weekly return yet.
func (s *AggregatorService) portfolioReturns(ps *PortfolioSnapshot) error {
	prevDate, err := domain.AddDays(ps.Date, -1)
	if err != nil {
		return err
	}
	if prev, err := s.baseSnapshot(ps.PortfolioID, prevDate, ps.Granularity); err == nil {
		ps.DailyReturn = windowReturn(ps.TotalValue, prev.TotalValue)
	}

	weekStart, err := domain.WindowStart(ps.Date, domain.GranularityWeekly)
	if err != nil {
		return err
	}
	if base, err := s.baseSnapshot(ps.PortfolioID, weekStart, ps.Granularity); err == nil {
		ps.WeeklyReturn = windowReturn(ps.TotalValue, base.TotalValue)
	}

	monthStart, err := domain.WindowStart(ps.Date, domain.GranularityMonthly)
	if err != nil {
		return err
	}
	if base, err := s.baseSnapshot(ps.PortfolioID, monthStart, ps.Granularity); err == nil {
		ps.MonthlyReturn = windowReturn(ps.TotalValue, base.TotalValue)
	}

	yearStart, err := domain.YearStart(ps.Date)
	if err != nil {
		return err
	}
	if base, err := s.baseSnapshot(ps.PortfolioID, yearStart, ps.Granularity); err == nil {
		ps.YTDReturn = windowReturn(ps.TotalValue, base.TotalValue)
	}

	return nil
}

// baseSnapshot resolves the comparison base for a window start. Daily series
// are the densest, so the base comes from the daily series when one exists
// and falls back to the snapshot's own granularity.
func (s *AggregatorService) baseSnapshot(portfolioID, date string, granularity domain.Granularity) (*PortfolioSnapshot, error) {
	base, err := s.snapshotRepo.LatestAtOrBefore(portfolioID, date, domain.GranularityDaily)
	if err == nil {
		return base, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if granularity == domain.GranularityDaily {
		return nil, err
	}
	return s.snapshotRepo.LatestAtOrBefore(portfolioID, date, granularity)
}

// riskMetrics fills volatility and max drawdown from the daily value series
// up to and including this snapshot's value.
func (s *AggregatorService) riskMetrics(ps *PortfolioSnapshot) error {
	values, err := s.snapshotRepo.TotalValuesBefore(ps.PortfolioID, domain.GranularityDaily, ps.Date)
	if err != nil {
		return err
	}
	current, _ := ps.TotalValue.Float64()
	values = append(values, current)

	ps.Volatility = volatility(values, s.volWindow)
	ps.MaxDrawdown = maxDrawdown(values)
	return nil
}

// ValueAsOf computes a portfolio's total value on a date without persisting
// a snapshot. Used for NAV when no stored snapshot covers the date yet.
func (s *AggregatorService) ValueAsOf(ctx context.Context, portfolioID, date string) (decimal.Decimal, error) {
	p, err := s.portfolioRepo.GetByID(portfolioID)
	if err != nil {
		return decimal.Zero, err
	}
	ps, _, err := s.compute(ctx, p, date, domain.GranularityDaily)
	if err != nil {
		return decimal.Zero, err
	}
	return ps.TotalValue, nil
}

// RunSnapshots executes a bulk snapshot computation across portfolios for
// one date and granularity, tracked as a run record. Scope is "all" or a
// single portfolio id.
//
// Portfolios are computed in parallel by a bounded worker pool; one
// portfolio failing never aborts the others. The returned run carries the
// per-portfolio tally. An already active run for the same key makes this
// call fail fast with domain.ErrConflict.
func (s *AggregatorService) RunSnapshots(ctx context.Context, date string, granularity domain.Granularity, scope string) (*runs.Run, error) {
	if scope == "" {
		scope = "all"
	}
	if !granularity.Valid() {
		return nil, domain.Validationf("invalid granularity %q", granularity)
	}
	if _, err := domain.ParseDate(date); err != nil {
		return nil, domain.Validationf("invalid date %q", date)
	}

	// The claim and the active-run check are one statement: concurrent
	// triggers for the same key race on the insert, not on a prior read,
	// so exactly one of them wins.
	run, err := s.runRepo.BeginExclusive(runs.KindSnapshotRun, scope, date, granularity)
	if err != nil {
		return nil, err
	}

	var portfolios []portfolio.Portfolio
	if scope == "all" {
		portfolios, err = s.portfolioRepo.List()
	} else {
		var p *portfolio.Portfolio
		p, err = s.portfolioRepo.GetByID(scope)
		if err == nil {
			portfolios = []portfolio.Portfolio{*p}
		}
	}
	if err != nil {
		if ferr := s.runRepo.FailRun(run.ID, err); ferr != nil {
			s.log.Error().Err(ferr).Str("run_id", run.ID).Msg("Failed to record aborted run")
		}
		return nil, err
	}

	if err := s.runRepo.MarkInProgress(run.ID); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("run_id", run.ID).
		Str("scope", scope).
		Str("date", date).
		Str("granularity", string(granularity)).
		Int("portfolios", len(portfolios)).
		Msg("Snapshot run started")

	var (
		mu        sync.Mutex
		succeeded int
		failures  []runs.Failure
	)

	jobs := make(chan portfolio.Portfolio)
	var wg sync.WaitGroup
	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				_, err := s.CreateOrRecalculate(ctx, p.ID, date, granularity)

				mu.Lock()
				if err != nil {
					failures = append(failures, runs.Failure{PortfolioID: p.ID, Error: err.Error()})
					s.log.Error().Err(err).
						Str("run_id", run.ID).
						Str("portfolio_id", p.ID).
						Msg("Snapshot failed for portfolio")
				} else {
					succeeded++
				}
				mu.Unlock()
			}
		}()
	}

	for _, p := range portfolios {
		if ctx.Err() != nil {
			break
		}
		jobs <- p
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		if ferr := s.runRepo.FailRun(run.ID, err); ferr != nil {
			s.log.Error().Err(ferr).Str("run_id", run.ID).Msg("Failed to record cancelled run")
		}
		return nil, err
	}

	if err := s.runRepo.Finish(run.ID, len(portfolios), succeeded, failures); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("run_id", run.ID).
		Int("total", len(portfolios)).
		Int("succeeded", succeeded).
		Int("failed", len(failures)).
		Msg("Snapshot run finished")

	return s.runRepo.GetByID(run.ID)
}
