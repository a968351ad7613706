package di

import (
	"context"
	"fmt"
	"time"

	"github.com/folioledger/folioledger/internal/modules/funds"
	"github.com/folioledger/folioledger/internal/modules/portfolio"
	"github.com/folioledger/folioledger/internal/modules/pricing"
	"github.com/folioledger/folioledger/internal/modules/snapshots"
	"github.com/folioledger/folioledger/internal/modules/trading"
	"github.com/folioledger/folioledger/internal/reliability"
)

// buildServices creates all services over the repositories
func (c *Container) buildServices(ctx context.Context) error {
	c.Matcher = trading.NewMatcherService(c.TradeRepo, c.CashFlowRepo, c.Log)
	c.Ledger = portfolio.NewLedger(c.TradeRepo, c.Log)

	c.QuoteCache = pricing.NewQuoteCache(c.CacheDB.Conn(), 24*time.Hour, c.Log)
	c.PricingService = pricing.NewService(c.PriceRepo, c.QuoteCache, c.Config.CarryForwardDays, c.Log)

	c.Aggregator = snapshots.NewAggregatorService(
		c.SnapshotRepo,
		c.PortfolioRepo,
		c.Ledger,
		c.PricingService,
		c.CashFlowRepo,
		c.RunRepo,
		c.Config.SnapshotWorkers,
		c.Config.VolatilityWindow,
		c.Log,
	)

	c.FundService = funds.NewService(
		c.UnitTxnRepo,
		c.HoldingRepo,
		c.PortfolioRepo,
		c.CashFlowRepo,
		c.SnapshotRepo,
		c.Aggregator,
		c.Log,
	)

	if c.Config.Backup.Enabled {
		store, err := reliability.NewObjectStore(ctx, reliability.ObjectStoreConfig{
			Endpoint:  c.Config.Backup.Endpoint,
			Region:    c.Config.Backup.Region,
			Bucket:    c.Config.Backup.Bucket,
			AccessKey: c.Config.Backup.AccessKey,
			SecretKey: c.Config.Backup.SecretKey,
		}, c.Log)
		if err != nil {
			return fmt.Errorf("failed to create object store: %w", err)
		}
		c.BackupService = reliability.NewBackupService(c.Databases(), store, c.Config.DataDir, c.Log)
	}

	return nil
}
