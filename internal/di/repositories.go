package di

import (
	"github.com/folioledger/folioledger/internal/modules/cashflows"
	"github.com/folioledger/folioledger/internal/modules/funds"
	"github.com/folioledger/folioledger/internal/modules/portfolio"
	"github.com/folioledger/folioledger/internal/modules/pricing"
	"github.com/folioledger/folioledger/internal/modules/snapshots"
	"github.com/folioledger/folioledger/internal/modules/trading"
	"github.com/folioledger/folioledger/internal/runs"
)

// buildRepositories creates all repositories over the opened databases
func (c *Container) buildRepositories() {
	c.TradeRepo = trading.NewTradeRepository(c.LedgerDB.Conn(), c.Log)
	c.CashFlowRepo = cashflows.NewRepository(c.LedgerDB.Conn(), c.Log)
	c.UnitTxnRepo = funds.NewUnitTxnRepository(c.LedgerDB.Conn(), c.Log)

	c.PortfolioRepo = portfolio.NewPortfolioRepository(c.PortfolioDB.Conn(), c.Log)
	c.SnapshotRepo = snapshots.NewSnapshotRepository(c.PortfolioDB.Conn(), c.Log)
	c.RunRepo = runs.NewRepository(c.PortfolioDB.Conn(), c.Log)
	c.HoldingRepo = funds.NewHoldingRepository(c.PortfolioDB.Conn(), c.Log)

	c.PriceRepo = pricing.NewPriceRepository(c.HistoryDB.Conn(), c.Log)
}
