package funds

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/folioledger/folioledger/internal/database"
	"github.com/folioledger/folioledger/internal/domain"
	"github.com/folioledger/folioledger/internal/modules/cashflows"
	"github.com/folioledger/folioledger/internal/modules/portfolio"
	"github.com/folioledger/folioledger/internal/modules/snapshots"
	"github.com/folioledger/folioledger/internal/utils"
)

// PortfolioSource supplies portfolio metadata.
// Implemented by portfolio.PortfolioRepository.
type PortfolioSource interface {
	GetByID(id string) (*portfolio.Portfolio, error)
}

// NAVSource supplies the portfolio values NAV is computed from: the stored
// snapshot at or before a date, or a fresh valuation when no snapshot covers
// the date yet. Implemented by snapshots.SnapshotRepository and
// snapshots.AggregatorService respectively.
type NAVSource interface {
	LatestAtOrBefore(portfolioID, date string, granularity domain.Granularity) (*snapshots.PortfolioSnapshot, error)
}

// Valuer computes a fresh portfolio value for a date.
// Implemented by snapshots.AggregatorService.
type Valuer interface {
	ValueAsOf(ctx context.Context, portfolioID, date string) (decimal.Decimal, error)
}

// Service executes fund subscriptions and redemptions. Each operation
// appends a unit transaction and its cash flow in one ledger transaction,
// then refreshes the derived holding cache.
//
// NAV per unit is always resolved from state at or before the transaction
// date, never after it. The first subscription of an empty fund is seeded at
// NAV 1.0.
type Service struct {
	txns       *UnitTxnRepository
	holdings   *HoldingRepository
	portfolios PortfolioSource
	cash       *cashflows.Repository
	navSource  NAVSource
	valuer     Valuer

	locks *utils.KeyedMutex
	log   zerolog.Logger
}

// NewService creates a new fund unit accounting service
func NewService(
	txns *UnitTxnRepository,
	holdings *HoldingRepository,
	portfolios PortfolioSource,
	cash *cashflows.Repository,
	navSource NAVSource,
	valuer Valuer,
	log zerolog.Logger,
) *Service {
	return &Service{
		txns:       txns,
		holdings:   holdings,
		portfolios: portfolios,
		cash:       cash,
		navSource:  navSource,
		valuer:     valuer,
		locks:      utils.NewKeyedMutex(),
		log:        log.With().Str("service", "funds").Logger(),
	}
}

// Subscribe invests an amount into a fund, issuing amount / NAV units to the
// account.
func (s *Service) Subscribe(ctx context.Context, portfolioID, accountID string, amount decimal.Decimal, date string) (*UnitTransaction, error) {
	if err := validateTxnInput(portfolioID, accountID, date); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, domain.Validationf("subscription amount must be positive, got %s", amount)
	}

	p, err := s.fund(portfolioID)
	if err != nil {
		return nil, err
	}

	s.locks.Lock(portfolioID)
	defer s.locks.Unlock(portfolioID)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nav, err := s.navPerUnit(ctx, p.ID, date)
	if err != nil {
		return nil, err
	}
	units := amount.Div(nav)

	txn := &UnitTransaction{
		PortfolioID: p.ID,
		AccountID:   accountID,
		Type:        TxnSubscribe,
		Units:       units,
		NavPerUnit:  nav,
		Amount:      amount,
		RealizedPnL: decimal.Zero,
		TxnDate:     date,
	}
	flow := &cashflows.CashFlow{
		PortfolioID: p.ID,
		Type:        cashflows.FlowDeposit,
		Amount:      amount,
		FlowDate:    date,
		Description: fmt.Sprintf("fund subscription by %s", accountID),
	}

	if err := s.append(txn, flow); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("portfolio_id", p.ID).
		Str("account_id", accountID).
		Str("units", units.String()).
		Str("nav", nav.String()).
		Str("amount", amount.String()).
		Msg("Subscription recorded")

	// The unit transaction is durable at this point; the holding row is
	// derived state, recoverable through the rebuild endpoint.
	if _, err := s.RebuildHolding(ctx, p.ID, accountID); err != nil {
		s.log.Warn().Err(err).
			Str("portfolio_id", p.ID).
			Str("account_id", accountID).
			Msg("Holding cache refresh failed after subscription")
	}
	return txn, nil
}

// Redeem sells units back to the fund at NAV, paying out units * NAV and
// realizing (NAV - avg cost per unit) * units.
func (s *Service) Redeem(ctx context.Context, portfolioID, accountID string, units decimal.Decimal, date string) (*UnitTransaction, error) {
	if err := validateTxnInput(portfolioID, accountID, date); err != nil {
		return nil, err
	}
	if !units.IsPositive() {
		return nil, domain.Validationf("redemption units must be positive, got %s", units)
	}

	p, err := s.fund(portfolioID)
	if err != nil {
		return nil, err
	}

	s.locks.Lock(portfolioID)
	defer s.locks.Unlock(portfolioID)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	held, avgCost, _, err := s.accountState(p.ID, accountID)
	if err != nil {
		return nil, err
	}
	if units.GreaterThan(held) {
		return nil, domain.Validationf("cannot redeem %s units, account %s holds %s", units, accountID, held)
	}

	nav, err := s.navPerUnit(ctx, p.ID, date)
	if err != nil {
		return nil, err
	}
	amount := units.Mul(nav)
	realized := nav.Sub(avgCost).Mul(units)

	txn := &UnitTransaction{
		PortfolioID: p.ID,
		AccountID:   accountID,
		Type:        TxnRedeem,
		Units:       units,
		NavPerUnit:  nav,
		Amount:      amount,
		RealizedPnL: realized,
		TxnDate:     date,
	}
	flow := &cashflows.CashFlow{
		PortfolioID: p.ID,
		Type:        cashflows.FlowWithdrawal,
		Amount:      amount,
		FlowDate:    date,
		Description: fmt.Sprintf("fund redemption by %s", accountID),
	}

	if err := s.append(txn, flow); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("portfolio_id", p.ID).
		Str("account_id", accountID).
		Str("units", units.String()).
		Str("nav", nav.String()).
		Str("realized_pnl", realized.String()).
		Msg("Redemption recorded")

	// The unit transaction is durable at this point; the holding row is
	// derived state, recoverable through the rebuild endpoint.
	if _, err := s.RebuildHolding(ctx, p.ID, accountID); err != nil {
		s.log.Warn().Err(err).
			Str("portfolio_id", p.ID).
			Str("account_id", accountID).
			Msg("Holding cache refresh failed after redemption")
	}
	return txn, nil
}

// NAVPerUnit returns the fund's NAV per unit for a date
func (s *Service) NAVPerUnit(ctx context.Context, portfolioID, date string) (decimal.Decimal, error) {
	if _, err := s.fund(portfolioID); err != nil {
		return decimal.Zero, err
	}
	return s.navPerUnit(ctx, portfolioID, date)
}

// OutstandingUnits returns the fund's derived outstanding units at a date
func (s *Service) OutstandingUnits(portfolioID, date string) (decimal.Decimal, error) {
	return s.txns.OutstandingUnits(portfolioID, date)
}

// Transactions returns the fund's unit transaction history
func (s *Service) Transactions(portfolioID string) ([]UnitTransaction, error) {
	return s.txns.ListByPortfolio(portfolioID)
}

// Holdings returns the fund's cached investor holdings
func (s *Service) Holdings(portfolioID string) ([]InvestorHolding, error) {
	return s.holdings.ListByPortfolio(portfolioID)
}

// RebuildHolding re-derives one account's holding from the unit-transaction
// ledger and rewrites the cache row. The recovery path for a stale or lost
// cache is the same code as the normal write path.
func (s *Service) RebuildHolding(ctx context.Context, portfolioID, accountID string) (*InvestorHolding, error) {
	units, avgCost, realized, err := s.accountState(portfolioID, accountID)
	if err != nil {
		return nil, err
	}

	h := &InvestorHolding{
		PortfolioID:     portfolioID,
		AccountID:       accountID,
		TotalUnits:      units,
		AvgCostPerUnit:  avgCost,
		TotalInvestment: units.Mul(avgCost),
		RealizedPnL:     realized,
	}

	if units.IsPositive() {
		nav, err := s.navPerUnit(ctx, portfolioID, domain.Today())
		if err != nil {
			return nil, err
		}
		h.CurrentValue = units.Mul(nav)
		h.UnrealizedPnL = nav.Sub(avgCost).Mul(units)
	}

	if err := s.holdings.Upsert(h); err != nil {
		return nil, err
	}
	return h, nil
}

// CheckConsistency verifies that the cached holdings sum to the derived
// outstanding units at a date. A mismatch means the cache is stale and
// returns a consistency fault naming both sides.
func (s *Service) CheckConsistency(portfolioID, date string) error {
	outstanding, err := s.txns.OutstandingUnits(portfolioID, date)
	if err != nil {
		return err
	}
	holdings, err := s.holdings.ListByPortfolio(portfolioID)
	if err != nil {
		return err
	}

	cached := decimal.Zero
	for _, h := range holdings {
		cached = cached.Add(h.TotalUnits)
	}
	if !cached.Equal(outstanding) {
		return domain.Consistencyf("holdings cache sums to %s units but ledger derives %s for %s",
			cached, outstanding, portfolioID)
	}
	return nil
}

// fund loads a portfolio and rejects non-fund portfolios
func (s *Service) fund(portfolioID string) (*portfolio.Portfolio, error) {
	p, err := s.portfolios.GetByID(portfolioID)
	if err != nil {
		return nil, err
	}
	if !p.IsFund {
		return nil, domain.Validationf("portfolio %s is not a fund", portfolioID)
	}
	return p, nil
}

// append writes the unit transaction and its cash flow in one ledger
// transaction, linking the transaction to the flow it produced.
func (s *Service) append(txn *UnitTransaction, flow *cashflows.CashFlow) error {
	return database.WithTransaction(s.txns.DB(), func(tx *sql.Tx) error {
		if err := s.cash.CreateTx(tx, flow); err != nil {
			return err
		}
		txn.CashFlowID = flow.ID
		return s.txns.InsertTx(tx, txn)
	})
}

// navPerUnit resolves the NAV: total value / outstanding units, both as of
// the date. An empty fund seeds at 1.0. Value comes from the latest stored
// snapshot at or before the date, or a fresh valuation when none exists.
func (s *Service) navPerUnit(ctx context.Context, portfolioID, date string) (decimal.Decimal, error) {
	outstanding, err := s.txns.OutstandingUnits(portfolioID, date)
	if err != nil {
		return decimal.Zero, err
	}
	if outstanding.IsZero() {
		return decimal.NewFromInt(1), nil
	}

	var value decimal.Decimal
	snap, err := s.navSource.LatestAtOrBefore(portfolioID, date, domain.GranularityDaily)
	switch {
	case err == nil:
		value = snap.TotalValue
	case errors.Is(err, domain.ErrNotFound):
		value, err = s.valuer.ValueAsOf(ctx, portfolioID, date)
		if err != nil {
			return decimal.Zero, err
		}
	default:
		return decimal.Zero, err
	}

	if !value.IsPositive() {
		return decimal.Zero, domain.Consistencyf("fund %s has %s outstanding units but non-positive value %s",
			portfolioID, outstanding, value)
	}
	return value.Div(outstanding), nil
}

// accountState folds one account's unit transactions: held units, average
// cost per unit of the remaining holding, and cumulative realized P&L.
func (s *Service) accountState(portfolioID, accountID string) (units, avgCost, realized decimal.Decimal, err error) {
	txns, err := s.txns.ListByAccount(portfolioID, accountID)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}

	investment := decimal.Zero
	for i := range txns {
		txn := &txns[i]
		switch txn.Type {
		case TxnSubscribe:
			units = units.Add(txn.Units)
			investment = investment.Add(txn.Amount)
		case TxnRedeem:
			// Redeemed units leave at average cost; realized P&L is
			// recorded on the transaction itself.
			investment = investment.Sub(txn.Units.Mul(avgCost))
			units = units.Sub(txn.Units)
			realized = realized.Add(txn.RealizedPnL)
		}
		if units.IsPositive() {
			avgCost = investment.Div(units)
		} else {
			avgCost = decimal.Zero
			investment = decimal.Zero
		}
	}
	return units, avgCost, realized, nil
}
