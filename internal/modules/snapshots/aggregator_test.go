package snapshots

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/folioledger/folioledger/internal/domain"
	"github.com/folioledger/folioledger/internal/modules/portfolio"
	"github.com/folioledger/folioledger/internal/modules/pricing"
	"github.com/folioledger/folioledger/internal/modules/trading"
	"github.com/folioledger/folioledger/internal/runs"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestPortfolioDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE asset_snapshots (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			portfolio_id      TEXT    NOT NULL,
			asset_id          TEXT    NOT NULL,
			date              TEXT    NOT NULL,
			granularity       TEXT    NOT NULL CHECK (granularity IN ('DAILY', 'WEEKLY', 'MONTHLY')),
			quantity          TEXT    NOT NULL,
			price             TEXT    NOT NULL,
			current_value     TEXT    NOT NULL,
			cost_basis        TEXT    NOT NULL,
			avg_cost          TEXT    NOT NULL,
			realized_pnl      TEXT    NOT NULL,
			unrealized_pnl    TEXT    NOT NULL,
			total_pnl         TEXT    NOT NULL,
			allocation_pct    REAL    NOT NULL DEFAULT 0,
			portfolio_value   TEXT    NOT NULL,
			return_pct        REAL    NOT NULL DEFAULT 0,
			daily_return      REAL    NOT NULL DEFAULT 0,
			cumulative_return REAL    NOT NULL DEFAULT 0,
			created_at        INTEGER NOT NULL,
			updated_at        INTEGER NOT NULL,
			UNIQUE (portfolio_id, asset_id, date, granularity)
		);
		CREATE TABLE portfolio_snapshots (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			portfolio_id   TEXT    NOT NULL,
			date           TEXT    NOT NULL,
			granularity    TEXT    NOT NULL CHECK (granularity IN ('DAILY', 'WEEKLY', 'MONTHLY')),
			total_value    TEXT    NOT NULL,
			invested_value TEXT    NOT NULL,
			cash_balance   TEXT    NOT NULL,
			realized_pnl   TEXT    NOT NULL,
			unrealized_pnl TEXT    NOT NULL,
			total_pnl      TEXT    NOT NULL,
			daily_return   REAL    NOT NULL DEFAULT 0,
			weekly_return  REAL    NOT NULL DEFAULT 0,
			monthly_return REAL    NOT NULL DEFAULT 0,
			ytd_return     REAL    NOT NULL DEFAULT 0,
			volatility     REAL    NOT NULL DEFAULT 0,
			max_drawdown   REAL    NOT NULL DEFAULT 0,
			allocation     TEXT    NOT NULL DEFAULT '{}',
			price_gaps     TEXT    NOT NULL DEFAULT '[]',
			asset_count    INTEGER NOT NULL DEFAULT 0,
			created_at     INTEGER NOT NULL,
			updated_at     INTEGER NOT NULL,
			UNIQUE (portfolio_id, date, granularity)
		);
		CREATE TABLE runs (
			id           TEXT    PRIMARY KEY,
			kind         TEXT    NOT NULL,
			scope        TEXT    NOT NULL DEFAULT 'all',
			run_date     TEXT    NOT NULL,
			granularity  TEXT    NOT NULL,
			status       TEXT    NOT NULL CHECK (status IN ('started', 'in_progress', 'completed', 'failed', 'cancelled')),
			total        INTEGER NOT NULL DEFAULT 0,
			succeeded    INTEGER NOT NULL DEFAULT 0,
			failed       INTEGER NOT NULL DEFAULT 0,
			failures     TEXT    NOT NULL DEFAULT '[]',
			started_at   INTEGER NOT NULL,
			finished_at  INTEGER,
			created_at   INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test tables: %v", err)
	}
	return db
}

// stubPortfolios serves portfolio metadata from a fixed map. Ids in broken
// appear in List() but fail GetByID, simulating a record lost mid-run.
type stubPortfolios struct {
	portfolios map[string]*portfolio.Portfolio
	broken     map[string]bool
}

func (s *stubPortfolios) GetByID(id string) (*portfolio.Portfolio, error) {
	p, ok := s.portfolios[id]
	if !ok || s.broken[id] {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (s *stubPortfolios) List() ([]portfolio.Portfolio, error) {
	var out []portfolio.Portfolio
	for _, p := range s.portfolios {
		out = append(out, *p)
	}
	return out, nil
}

// stubPrices serves fixed closes; a missing asset is an upstream gap
type stubPrices struct {
	prices map[string]decimal.Decimal
}

func (s *stubPrices) PriceAsOf(ctx context.Context, assetID, date string) (*pricing.Quote, error) {
	price, ok := s.prices[assetID]
	if !ok {
		return nil, domain.Upstreamf("no price for %s", assetID)
	}
	return &pricing.Quote{AssetID: assetID, Date: date, PriceDate: date, Price: price}, nil
}

type stubCash struct {
	balance decimal.Decimal
}

func (s *stubCash) BalanceAsOf(portfolioID, date string) (decimal.Decimal, error) {
	return s.balance, nil
}

// stubTrades feeds the position ledger a fixed trade history
type stubTrades struct {
	trades []*trading.Trade
}

func (s *stubTrades) ListByScopeUpTo(portfolioID, assetID, date string) ([]*trading.Trade, error) {
	var out []*trading.Trade
	for _, tr := range s.trades {
		if tr.PortfolioID == portfolioID && tr.AssetID == assetID && tr.TradeDate <= date {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (s *stubTrades) AssetIDs(portfolioID, date string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, tr := range s.trades {
		if tr.PortfolioID == portfolioID && tr.TradeDate <= date && !seen[tr.AssetID] {
			seen[tr.AssetID] = true
			out = append(out, tr.AssetID)
		}
	}
	return out, nil
}

type aggregatorFixture struct {
	svc      *AggregatorService
	repo     *SnapshotRepository
	runRepo  *runs.Repository
	prices   *stubPrices
	accounts *stubPortfolios
}

func newAggregatorFixture(t *testing.T, trades []*trading.Trade) *aggregatorFixture {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)

	db := newTestPortfolioDB(t)
	repo := NewSnapshotRepository(db, log)
	runRepo := runs.NewRepository(db, log)

	accounts := &stubPortfolios{
		portfolios: map[string]*portfolio.Portfolio{
			"pf-1": {ID: "pf-1", Name: "Main", BaseCurrency: "EUR", OpeningCash: dec("1000")},
		},
		broken: map[string]bool{},
	}
	prices := &stubPrices{prices: map[string]decimal.Decimal{}}
	ledger := portfolio.NewLedger(&stubTrades{trades: trades}, log)

	svc := NewAggregatorService(repo, accounts, ledger, prices, &stubCash{balance: dec("500")}, runRepo, 2, 30, log)
	return &aggregatorFixture{svc: svc, repo: repo, runRepo: runRepo, prices: prices, accounts: accounts}
}

func testTrade(pf, asset, date string, side domain.Side, qty, price string) *trading.Trade {
	return &trading.Trade{
		PortfolioID: pf,
		AssetID:     asset,
		Side:        side,
		Quantity:    dec(qty),
		Price:       dec(price),
		TradeDate:   date,
	}
}

// TestCreateOrRecalculate_TotalsAndAllocation tests that a snapshot sums
// positions at market price plus cash, and allocates by share of total value
func TestCreateOrRecalculate_TotalsAndAllocation(t *testing.T) {
	f := newAggregatorFixture(t, []*trading.Trade{
		testTrade("pf-1", "AAPL", "2024-01-02", domain.SideBuy, "10", "100"),
		testTrade("pf-1", "AAPL", "2024-01-05", domain.SideBuy, "5", "120"),
		testTrade("pf-1", "AAPL", "2024-01-10", domain.SideSell, "12", "130"),
		testTrade("pf-1", "MSFT", "2024-01-03", domain.SideBuy, "2", "400"),
	})
	f.prices.prices["AAPL"] = dec("130")
	f.prices.prices["MSFT"] = dec("410")

	ps, err := f.svc.CreateOrRecalculate(context.Background(), "pf-1", "2024-01-31", domain.GranularityDaily)
	assert.NoError(t, err)

	// AAPL: 3 left @ market 130 = 390. MSFT: 2 @ 410 = 820.
	assert.True(t, ps.InvestedValue.Equal(dec("1210")), "got %s", ps.InvestedValue)
	assert.True(t, ps.CashBalance.Equal(dec("1500")), "opening 1000 + flows 500")
	assert.True(t, ps.TotalValue.Equal(dec("2710")))
	assert.True(t, ps.RealizedPnL.Equal(dec("320")))
	// AAPL (130-120)*3 = 30, MSFT (410-400)*2 = 20.
	assert.True(t, ps.UnrealizedPnL.Equal(dec("50")))
	assert.True(t, ps.TotalPnL.Equal(dec("370")))
	assert.Equal(t, 2, ps.AssetCount)
	assert.Empty(t, ps.PriceGaps)

	assert.InDelta(t, 390.0/2710.0, ps.Allocation["AAPL"], 1e-9)
	assert.InDelta(t, 820.0/2710.0, ps.Allocation["MSFT"], 1e-9)

	// The asset rows carry the same story.
	assets, err := f.repo.ListAssetSnapshots("pf-1", "2024-01-31", domain.GranularityDaily)
	assert.NoError(t, err)
	assert.Len(t, assets, 2)
}

// TestCreateOrRecalculate_PriceGapExcludesAsset tests that an unpriceable
// asset is excluded and listed, while the snapshot still succeeds
func TestCreateOrRecalculate_PriceGapExcludesAsset(t *testing.T) {
	f := newAggregatorFixture(t, []*trading.Trade{
		testTrade("pf-1", "AAPL", "2024-01-02", domain.SideBuy, "3", "120"),
		testTrade("pf-1", "XDEL", "2024-01-03", domain.SideBuy, "2", "400"),
	})
	f.prices.prices["AAPL"] = dec("130")
	// XDEL has no price at all.

	ps, err := f.svc.CreateOrRecalculate(context.Background(), "pf-1", "2024-01-31", domain.GranularityDaily)
	assert.NoError(t, err)

	assert.Equal(t, []string{"XDEL"}, ps.PriceGaps)
	assert.Equal(t, 1, ps.AssetCount)
	assert.True(t, ps.InvestedValue.Equal(dec("390")), "only the priced asset counts")
	assert.NotContains(t, ps.Allocation, "XDEL")
}

// TestCreateOrRecalculate_FlatPositionNeedsNoPrice tests that a closed
// position contributes realized P&L without a price lookup
func TestCreateOrRecalculate_FlatPositionNeedsNoPrice(t *testing.T) {
	f := newAggregatorFixture(t, []*trading.Trade{
		testTrade("pf-1", "AAPL", "2024-01-02", domain.SideBuy, "10", "100"),
		testTrade("pf-1", "AAPL", "2024-01-10", domain.SideSell, "10", "130"),
	})
	// Deliberately no price for AAPL.

	ps, err := f.svc.CreateOrRecalculate(context.Background(), "pf-1", "2024-01-31", domain.GranularityDaily)
	assert.NoError(t, err)

	assert.Empty(t, ps.PriceGaps)
	assert.True(t, ps.RealizedPnL.Equal(dec("300")))
	assert.True(t, ps.InvestedValue.IsZero())
	assert.True(t, ps.TotalValue.Equal(dec("1500")), "cash only")
}

// TestCreateOrRecalculate_Idempotent tests that recomputing the same key
// replaces the row instead of duplicating it
func TestCreateOrRecalculate_Idempotent(t *testing.T) {
	f := newAggregatorFixture(t, []*trading.Trade{
		testTrade("pf-1", "AAPL", "2024-01-02", domain.SideBuy, "3", "120"),
	})
	f.prices.prices["AAPL"] = dec("130")
	ctx := context.Background()

	first, err := f.svc.CreateOrRecalculate(ctx, "pf-1", "2024-01-31", domain.GranularityDaily)
	assert.NoError(t, err)
	second, err := f.svc.CreateOrRecalculate(ctx, "pf-1", "2024-01-31", domain.GranularityDaily)
	assert.NoError(t, err)
	assert.True(t, first.TotalValue.Equal(second.TotalValue))

	var count int
	err = f.repo.DB().QueryRow(
		"SELECT COUNT(*) FROM portfolio_snapshots WHERE portfolio_id = 'pf-1' AND date = '2024-01-31' AND granularity = 'DAILY'",
	).Scan(&count)
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCreateOrRecalculate_ValidatesInput(t *testing.T) {
	f := newAggregatorFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.CreateOrRecalculate(ctx, "pf-1", "2024-01-31", "HOURLY")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.CreateOrRecalculate(ctx, "pf-1", "31/01/2024", domain.GranularityDaily)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.CreateOrRecalculate(ctx, "pf-missing", "2024-01-31", domain.GranularityDaily)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// TestCreateOrRecalculate_DailyReturnAgainstPreviousSnapshot tests window
// returns computed against the stored series
func TestCreateOrRecalculate_DailyReturnAgainstPreviousSnapshot(t *testing.T) {
	f := newAggregatorFixture(t, []*trading.Trade{
		testTrade("pf-1", "AAPL", "2024-01-02", domain.SideBuy, "10", "100"),
	})
	ctx := context.Background()

	f.prices.prices["AAPL"] = dec("100")
	_, err := f.svc.CreateOrRecalculate(ctx, "pf-1", "2024-01-10", domain.GranularityDaily)
	assert.NoError(t, err)

	// Next day the price moves; total value goes 2500 -> 2600.
	f.prices.prices["AAPL"] = dec("110")
	ps, err := f.svc.CreateOrRecalculate(ctx, "pf-1", "2024-01-11", domain.GranularityDaily)
	assert.NoError(t, err)

	assert.InDelta(t, 100.0/2500.0, ps.DailyReturn, 1e-9)
}

// TestCreateOrRecalculate_AssetReturnsFromOwnSeries tests that asset rows
// derive daily and cumulative returns from their own snapshot series, and
// that a young series without a prior snapshot stays at zero
func TestCreateOrRecalculate_AssetReturnsFromOwnSeries(t *testing.T) {
	f := newAggregatorFixture(t, []*trading.Trade{
		testTrade("pf-1", "AAPL", "2024-01-02", domain.SideBuy, "10", "100"),
	})
	ctx := context.Background()

	f.prices.prices["AAPL"] = dec("100")
	_, err := f.svc.CreateOrRecalculate(ctx, "pf-1", "2024-01-10", domain.GranularityDaily)
	assert.NoError(t, err)

	first, err := f.repo.ListAssetSnapshots("pf-1", "2024-01-10", domain.GranularityDaily)
	assert.NoError(t, err)
	assert.Len(t, first, 1)
	assert.Zero(t, first[0].DailyReturn, "no prior snapshot yet")
	assert.Zero(t, first[0].CumulativeReturn)

	// The asset's value goes 1000 -> 1100.
	f.prices.prices["AAPL"] = dec("110")
	_, err = f.svc.CreateOrRecalculate(ctx, "pf-1", "2024-01-11", domain.GranularityDaily)
	assert.NoError(t, err)

	second, err := f.repo.ListAssetSnapshots("pf-1", "2024-01-11", domain.GranularityDaily)
	assert.NoError(t, err)
	assert.Len(t, second, 1)
	assert.InDelta(t, 0.1, second[0].DailyReturn, 1e-9)
	assert.InDelta(t, 0.1, second[0].CumulativeReturn, 1e-9)
}

// TestRunSnapshots_PartialFailureTally tests that one failing portfolio is
// tallied without aborting the others
func TestRunSnapshots_PartialFailureTally(t *testing.T) {
	f := newAggregatorFixture(t, []*trading.Trade{
		testTrade("pf-1", "AAPL", "2024-01-02", domain.SideBuy, "3", "120"),
	})
	f.prices.prices["AAPL"] = dec("130")

	// pf-2 appears in the portfolio list but its record cannot be loaded.
	f.accounts.portfolios["pf-2"] = &portfolio.Portfolio{ID: "pf-2", Name: "Broken"}
	f.accounts.broken["pf-2"] = true

	run, err := f.svc.RunSnapshots(context.Background(), "2024-01-31", domain.GranularityDaily, "")
	assert.NoError(t, err)

	assert.Equal(t, runs.StatusCompleted, run.Status, "partial success still completes the run")
	assert.Equal(t, "all", run.Scope)
	assert.Equal(t, 2, run.Total)
	assert.Equal(t, 1, run.Succeeded)
	assert.Equal(t, 1, run.Failed)
	assert.Len(t, run.Failures, 1)
	assert.Equal(t, "pf-2", run.Failures[0].PortfolioID)

	// The healthy portfolio's snapshot landed regardless.
	_, err = f.repo.GetPortfolioSnapshot("pf-1", "2024-01-31", domain.GranularityDaily)
	assert.NoError(t, err)
}

// TestRunSnapshots_ScopedToOnePortfolio tests running for a single portfolio
func TestRunSnapshots_ScopedToOnePortfolio(t *testing.T) {
	f := newAggregatorFixture(t, []*trading.Trade{
		testTrade("pf-1", "AAPL", "2024-01-02", domain.SideBuy, "3", "120"),
	})
	f.prices.prices["AAPL"] = dec("130")

	run, err := f.svc.RunSnapshots(context.Background(), "2024-01-31", domain.GranularityDaily, "pf-1")
	assert.NoError(t, err)
	assert.Equal(t, "pf-1", run.Scope)
	assert.Equal(t, 1, run.Succeeded)

	_, err = f.repo.GetPortfolioSnapshot("pf-1", "2024-01-31", domain.GranularityDaily)
	assert.NoError(t, err)
}

// TestRunSnapshots_RejectsOverlappingRun tests cross-trigger exclusion: an
// active run for the same key makes a second trigger fail fast without
// creating a duplicate run record
func TestRunSnapshots_RejectsOverlappingRun(t *testing.T) {
	f := newAggregatorFixture(t, nil)

	_, err := f.runRepo.Begin(runs.KindSnapshotRun, "all", "2024-01-31", domain.GranularityDaily)
	assert.NoError(t, err)

	_, err = f.svc.RunSnapshots(context.Background(), "2024-01-31", domain.GranularityDaily, "all")
	assert.ErrorIs(t, err, domain.ErrConflict)

	list, err := f.runRepo.Query(runs.Filter{Kind: runs.KindSnapshotRun})
	assert.NoError(t, err)
	assert.Len(t, list, 1, "the losing trigger claims no run")
}

// TestRunSnapshots_UnresolvableScopeFailsRun tests that a claimed run whose
// scope cannot be resolved is recorded as failed, not left dangling
func TestRunSnapshots_UnresolvableScopeFailsRun(t *testing.T) {
	f := newAggregatorFixture(t, nil)

	_, err := f.svc.RunSnapshots(context.Background(), "2024-01-31", domain.GranularityDaily, "pf-missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := f.runRepo.Query(runs.Filter{Kind: runs.KindSnapshotRun})
	assert.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, runs.StatusFailed, list[0].Status)
}

func TestValueAsOf_DoesNotPersist(t *testing.T) {
	f := newAggregatorFixture(t, []*trading.Trade{
		testTrade("pf-1", "AAPL", "2024-01-02", domain.SideBuy, "3", "120"),
	})
	f.prices.prices["AAPL"] = dec("130")

	value, err := f.svc.ValueAsOf(context.Background(), "pf-1", "2024-01-31")
	assert.NoError(t, err)
	assert.True(t, value.Equal(dec("1890")), "390 invested + 1500 cash, got %s", value)

	_, err = f.repo.GetPortfolioSnapshot("pf-1", "2024-01-31", domain.GranularityDaily)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
