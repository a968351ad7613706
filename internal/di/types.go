// Package di wires the engine together: databases, repositories, services
// and background jobs, in dependency order.
package di

import (
	"github.com/rs/zerolog"

	"github.com/folioledger/folioledger/internal/config"
	"github.com/folioledger/folioledger/internal/database"
	"github.com/folioledger/folioledger/internal/modules/cashflows"
	"github.com/folioledger/folioledger/internal/modules/funds"
	"github.com/folioledger/folioledger/internal/modules/portfolio"
	"github.com/folioledger/folioledger/internal/modules/pricing"
	"github.com/folioledger/folioledger/internal/modules/snapshots"
	"github.com/folioledger/folioledger/internal/modules/trading"
	"github.com/folioledger/folioledger/internal/reliability"
	"github.com/folioledger/folioledger/internal/runs"
)

// Container holds all initialized components
type Container struct {
	Config *config.Config
	Log    zerolog.Logger

	// Databases
	LedgerDB    *database.DB
	PortfolioDB *database.DB
	HistoryDB   *database.DB
	CacheDB     *database.DB

	// Repositories
	TradeRepo     *trading.TradeRepository
	PortfolioRepo *portfolio.PortfolioRepository
	CashFlowRepo  *cashflows.Repository
	PriceRepo     *pricing.PriceRepository
	SnapshotRepo  *snapshots.SnapshotRepository
	RunRepo       *runs.Repository
	UnitTxnRepo   *funds.UnitTxnRepository
	HoldingRepo   *funds.HoldingRepository

	// Services
	Matcher        *trading.MatcherService
	Ledger         *portfolio.Ledger
	QuoteCache     *pricing.QuoteCache
	PricingService *pricing.Service
	Aggregator     *snapshots.AggregatorService
	FundService    *funds.Service

	// BackupService is nil when backups are disabled
	BackupService *reliability.BackupService
}

// Databases returns the databases by name, for backup and shutdown
func (c *Container) Databases() map[string]*database.DB {
	return map[string]*database.DB{
		"ledger":    c.LedgerDB,
		"portfolio": c.PortfolioDB,
		"history":   c.HistoryDB,
		"cache":     c.CacheDB,
	}
}

// Close closes all databases
func (c *Container) Close() {
	for name, db := range c.Databases() {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil {
			c.Log.Error().Err(err).Str("database", name).Msg("Failed to close database")
		}
	}
}
