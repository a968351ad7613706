package trading

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/folioledger/folioledger/internal/database"
	"github.com/folioledger/folioledger/internal/domain"
	"github.com/folioledger/folioledger/internal/modules/cashflows"
)

func newTestLedgerDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE trades (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			portfolio_id     TEXT    NOT NULL,
			asset_id         TEXT    NOT NULL,
			side             TEXT    NOT NULL CHECK (side IN ('BUY', 'SELL')),
			quantity         TEXT    NOT NULL,
			price            TEXT    NOT NULL,
			fee              TEXT    NOT NULL DEFAULT '0',
			tax              TEXT    NOT NULL DEFAULT '0',
			matched_quantity TEXT    NOT NULL DEFAULT '0',
			unmatched        INTEGER NOT NULL DEFAULT 0,
			trade_date       TEXT    NOT NULL,
			source           TEXT    NOT NULL DEFAULT 'manual',
			created_at       INTEGER NOT NULL,
			updated_at       INTEGER NOT NULL
		);
		CREATE TABLE matched_lots (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			portfolio_id  TEXT    NOT NULL,
			asset_id      TEXT    NOT NULL,
			buy_trade_id  INTEGER NOT NULL REFERENCES trades (id),
			sell_trade_id INTEGER NOT NULL REFERENCES trades (id),
			quantity      TEXT    NOT NULL,
			buy_price     TEXT    NOT NULL,
			sell_price    TEXT    NOT NULL,
			fees          TEXT    NOT NULL DEFAULT '0',
			taxes         TEXT    NOT NULL DEFAULT '0',
			realized_pnl  TEXT    NOT NULL,
			trade_date    TEXT    NOT NULL,
			created_at    INTEGER NOT NULL
		);
		CREATE TABLE cash_flows (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			portfolio_id TEXT    NOT NULL,
			type         TEXT    NOT NULL CHECK (type IN ('DEPOSIT', 'WITHDRAWAL')),
			amount       TEXT    NOT NULL,
			flow_date    TEXT    NOT NULL,
			description  TEXT,
			created_at   INTEGER NOT NULL
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test tables: %v", err)
	}
	return db
}

func newTestMatcher(t *testing.T) (*MatcherService, *TradeRepository) {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	db := newTestLedgerDB(t)
	repo := NewTradeRepository(db, log)
	cash := cashflows.NewRepository(db, log)
	return NewMatcherService(repo, cash, log), repo
}

// TestRecordTrade_PersistsTradeAndLots tests that recording a closing trade
// writes the trade, its matched lot, and the matched counters atomically
func TestRecordTrade_PersistsTradeAndLots(t *testing.T) {
	svc, repo := newTestMatcher(t)
	ctx := context.Background()

	assert.NoError(t, svc.RecordTrade(ctx, buy("2024-01-02", "10", "100")))
	assert.NoError(t, svc.RecordTrade(ctx, buy("2024-01-05", "5", "120")))
	assert.NoError(t, svc.RecordTrade(ctx, sell("2024-01-10", "12", "130")))

	lots, err := repo.ListLots("pf-1", "AAPL")
	assert.NoError(t, err)
	assert.Len(t, lots, 2)
	assert.True(t, lots[0].Quantity.Equal(dec("10")))
	assert.True(t, lots[0].RealizedPnL.Equal(dec("300")))
	assert.True(t, lots[1].Quantity.Equal(dec("2")))
	assert.True(t, lots[1].RealizedPnL.Equal(dec("20")))

	trades, err := repo.ListByScope("pf-1", "AAPL")
	assert.NoError(t, err)
	assert.Len(t, trades, 3)
	assert.True(t, trades[0].MatchedQuantity.Equal(dec("10")), "oldest buy fully matched")
	assert.True(t, trades[1].MatchedQuantity.Equal(dec("2")))
	assert.True(t, trades[2].MatchedQuantity.Equal(dec("12")))
	assert.True(t, trades[1].Remaining().Equal(dec("3")))
}

// TestRecordTrade_OversellPersistsNothing tests the all-or-nothing contract:
// a rejected sell leaves the trade ledger and lot table untouched
func TestRecordTrade_OversellPersistsNothing(t *testing.T) {
	svc, repo := newTestMatcher(t)
	ctx := context.Background()

	assert.NoError(t, svc.RecordTrade(ctx, buy("2024-01-02", "10", "100")))

	err := svc.RecordTrade(ctx, sell("2024-01-10", "15", "130"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	trades, err := repo.ListByScope("pf-1", "AAPL")
	assert.NoError(t, err)
	assert.Len(t, trades, 1, "the rejected sell is never persisted")

	lots, err := repo.ListLots("pf-1", "AAPL")
	assert.NoError(t, err)
	assert.Empty(t, lots)

	// Prior matching state is unchanged.
	assert.True(t, trades[0].MatchedQuantity.IsZero())

	// The rejected sell settled nothing either.
	var flows int
	assert.NoError(t, repo.DB().QueryRow(
		"SELECT COUNT(*) FROM cash_flows WHERE type = 'DEPOSIT'",
	).Scan(&flows))
	assert.Zero(t, flows)
}

// TestRecordTrade_BackDatedTradeRederivesMatches tests that inserting an
// earlier-dated buy replaces the previous matching state with a full replay
func TestRecordTrade_BackDatedTradeRederivesMatches(t *testing.T) {
	svc, repo := newTestMatcher(t)
	ctx := context.Background()

	assert.NoError(t, svc.RecordTrade(ctx, buy("2024-02-01", "5", "200")))
	assert.NoError(t, svc.RecordTrade(ctx, sell("2024-02-10", "5", "210")))

	lots, err := repo.ListLots("pf-1", "AAPL")
	assert.NoError(t, err)
	assert.Len(t, lots, 1)
	assert.True(t, lots[0].RealizedPnL.Equal(dec("50")))

	// Back-dated cheaper buy becomes the oldest lot; the sell now consumes
	// it instead.
	assert.NoError(t, svc.RecordTrade(ctx, buy("2024-01-15", "5", "180")))

	lots, err = repo.ListLots("pf-1", "AAPL")
	assert.NoError(t, err)
	assert.Len(t, lots, 1)
	assert.True(t, lots[0].RealizedPnL.Equal(dec("150")), "(210-180)*5, got %s", lots[0].RealizedPnL)

	trades, err := repo.ListByScope("pf-1", "AAPL")
	assert.NoError(t, err)
	assert.Len(t, trades, 3)
	// trades are date-ordered: back-dated buy, original buy, sell
	assert.True(t, trades[0].MatchedQuantity.Equal(dec("5")))
	assert.True(t, trades[1].MatchedQuantity.IsZero(), "original buy is now fully open")
}

func TestRecordTrade_ValidatesInput(t *testing.T) {
	svc, _ := newTestMatcher(t)
	ctx := context.Background()

	testCases := []struct {
		name  string
		trade *Trade
	}{
		{"zero quantity", buy("2024-01-02", "0", "100")},
		{"negative quantity", buy("2024-01-02", "-1", "100")},
		{"zero price", buy("2024-01-02", "10", "0")},
		{"bad date", buy("02.01.2024", "10", "100")},
		{"missing asset", &Trade{PortfolioID: "pf-1", Side: domain.SideBuy, Quantity: dec("1"), Price: dec("1"), TradeDate: "2024-01-02"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.RecordTrade(ctx, tc.trade)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

// TestRematchAsset_ReproducesStateFromLedger tests that rematch rebuilds the
// lot table identically after it was tampered with
func TestRematchAsset_ReproducesStateFromLedger(t *testing.T) {
	svc, repo := newTestMatcher(t)
	ctx := context.Background()

	assert.NoError(t, svc.RecordTrade(ctx, buy("2024-01-02", "10", "100")))
	assert.NoError(t, svc.RecordTrade(ctx, sell("2024-01-10", "4", "110")))

	// Simulate a corrupted derived table.
	_, err := repo.DB().Exec("DELETE FROM matched_lots")
	assert.NoError(t, err)
	_, err = repo.DB().Exec("UPDATE trades SET matched_quantity = '999'")
	assert.NoError(t, err)

	assert.NoError(t, svc.RematchAsset(ctx, "pf-1", "AAPL"))

	lots, err := repo.ListLots("pf-1", "AAPL")
	assert.NoError(t, err)
	assert.Len(t, lots, 1)
	assert.True(t, lots[0].Quantity.Equal(dec("4")))
	assert.True(t, lots[0].RealizedPnL.Equal(dec("40")))

	trades, err := repo.ListByScope("pf-1", "AAPL")
	assert.NoError(t, err)
	assert.True(t, trades[0].MatchedQuantity.Equal(dec("4")))
	assert.True(t, trades[1].MatchedQuantity.Equal(dec("4")))
}

func TestRematchAsset_EmptyScopeIsNoop(t *testing.T) {
	svc, _ := newTestMatcher(t)
	assert.NoError(t, svc.RematchAsset(context.Background(), "pf-1", "NONE"))
}

// TestRecordTrade_BooksSettlementFlows tests that every recorded trade moves
// cash: buys withdraw gross plus costs, sells deposit gross minus costs
func TestRecordTrade_BooksSettlementFlows(t *testing.T) {
	svc, repo := newTestMatcher(t)
	cash := cashflows.NewRepository(repo.DB(), zerolog.New(nil).Level(zerolog.Disabled))
	ctx := context.Background()

	b := buy("2024-01-02", "10", "100")
	b.Fee = dec("1")
	assert.NoError(t, svc.RecordTrade(ctx, b))

	s := sell("2024-01-10", "4", "120")
	s.Fee = dec("2")
	assert.NoError(t, svc.RecordTrade(ctx, s))

	flows, err := cash.ListByPortfolio("pf-1")
	assert.NoError(t, err)
	assert.Len(t, flows, 2)
	assert.Equal(t, cashflows.FlowWithdrawal, flows[0].Type)
	assert.True(t, flows[0].Amount.Equal(dec("1001")), "10*100 + fee 1, got %s", flows[0].Amount)
	assert.Equal(t, cashflows.FlowDeposit, flows[1].Type)
	assert.True(t, flows[1].Amount.Equal(dec("478")), "4*120 - fee 2, got %s", flows[1].Amount)

	balance, err := cash.BalanceAsOf("pf-1", "2024-01-31")
	assert.NoError(t, err)
	assert.True(t, balance.Equal(dec("-523")))
}

// TestRecordTrade_DeployedCashLeavesBalance tests that cash spent on
// purchases no longer counts as cash: a deposit fully deployed into a
// position nets the balance to zero instead of double-counting
func TestRecordTrade_DeployedCashLeavesBalance(t *testing.T) {
	svc, repo := newTestMatcher(t)
	cash := cashflows.NewRepository(repo.DB(), zerolog.New(nil).Level(zerolog.Disabled))
	ctx := context.Background()

	assert.NoError(t, cash.Create(&cashflows.CashFlow{
		PortfolioID: "pf-1",
		Type:        cashflows.FlowDeposit,
		Amount:      dec("1000"),
		FlowDate:    "2024-01-01",
	}))
	assert.NoError(t, svc.RecordTrade(ctx, buy("2024-01-02", "10", "100")))

	balance, err := cash.BalanceAsOf("pf-1", "2024-01-31")
	assert.NoError(t, err)
	assert.True(t, balance.IsZero(), "deposit 1000 fully deployed, got %s", balance)
}

// TestRematchAsset_DoesNotRebookSettlement tests that rematching rewrites
// matching state only; the original settlement flow stays singular
func TestRematchAsset_DoesNotRebookSettlement(t *testing.T) {
	svc, repo := newTestMatcher(t)
	cash := cashflows.NewRepository(repo.DB(), zerolog.New(nil).Level(zerolog.Disabled))
	ctx := context.Background()

	assert.NoError(t, svc.RecordTrade(ctx, buy("2024-01-02", "10", "100")))
	assert.NoError(t, svc.RematchAsset(ctx, "pf-1", "AAPL"))
	assert.NoError(t, svc.RematchAsset(ctx, "pf-1", "AAPL"))

	flows, err := cash.ListByPortfolio("pf-1")
	assert.NoError(t, err)
	assert.Len(t, flows, 1, "one trade, one settlement")
}

// TestMarkUnmatchedTx tests that flagging a trade unmatched updates the flag
// and its timestamp inside the caller's transaction
func TestMarkUnmatchedTx(t *testing.T) {
	svc, repo := newTestMatcher(t)
	ctx := context.Background()

	trade := buy("2024-01-02", "10", "100")
	assert.NoError(t, svc.RecordTrade(ctx, trade))

	err := database.WithTransaction(repo.DB(), func(tx *sql.Tx) error {
		return repo.MarkUnmatchedTx(tx, trade.ID)
	})
	assert.NoError(t, err)

	var unmatched int
	var updatedAt int64
	err = repo.DB().QueryRow(
		"SELECT unmatched, updated_at FROM trades WHERE id = ?", trade.ID,
	).Scan(&unmatched, &updatedAt)
	assert.NoError(t, err)
	assert.Equal(t, 1, unmatched)
	assert.NotZero(t, updatedAt)
}
