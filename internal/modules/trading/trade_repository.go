package trading

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/folioledger/folioledger/internal/domain"
)

// tradesColumns is the list of columns for the trades table.
// Column order must match the scan functions below.
const tradesColumns = `id, portfolio_id, asset_id, side, quantity, price, fee, tax, matched_quantity, unmatched, trade_date, source, created_at, updated_at`

// lotsColumns is the list of columns for the matched_lots table
const lotsColumns = `id, portfolio_id, asset_id, buy_trade_id, sell_trade_id, quantity, buy_price, sell_price, fees, taxes, realized_pnl, trade_date, created_at`

// TradeRepository handles trade and matched-lot database operations against
// the append-only ledger database.
type TradeRepository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// NewTradeRepository creates a new trade repository
func NewTradeRepository(ledgerDB *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "trade").Logger(),
	}
}

// DB returns the underlying ledger connection for transaction scoping
func (r *TradeRepository) DB() *sql.DB {
	return r.ledgerDB
}

// InsertTx appends a trade inside an existing transaction and fills in its id
func (r *TradeRepository) InsertTx(tx *sql.Tx, trade *Trade) error {
	now := time.Now().Unix()

	res, err := tx.Exec(`
		INSERT INTO trades
		(portfolio_id, asset_id, side, quantity, price, fee, tax,
		 matched_quantity, unmatched, trade_date, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, '0', 0, ?, ?, ?, ?)
	`,
		trade.PortfolioID,
		strings.ToUpper(strings.TrimSpace(trade.AssetID)),
		string(trade.Side),
		trade.Quantity,
		trade.Price,
		trade.Fee,
		trade.Tax,
		trade.TradeDate,
		trade.Source,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read trade id: %w", err)
	}
	trade.ID = id
	return nil
}

// GetByID retrieves a single trade
func (r *TradeRepository) GetByID(id int64) (*Trade, error) {
	row := r.ledgerDB.QueryRow("SELECT "+tradesColumns+" FROM trades WHERE id = ?", id)
	trade, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("trade %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}
	return &trade, nil
}

// ListByScope returns all trades for a (portfolio, asset), oldest first.
// Ordering by (trade_date, id) is what FIFO replay depends on.
func (r *TradeRepository) ListByScope(portfolioID, assetID string) ([]*Trade, error) {
	return r.listTrades(`
		SELECT `+tradesColumns+` FROM trades
		WHERE portfolio_id = ? AND asset_id = ?
		ORDER BY trade_date ASC, id ASC
	`, portfolioID, strings.ToUpper(assetID))
}

// ListByScopeUpTo returns trades for a (portfolio, asset) dated at or before
// the given date, oldest first. Used for point-in-time position folds.
func (r *TradeRepository) ListByScopeUpTo(portfolioID, assetID, date string) ([]*Trade, error) {
	return r.listTrades(`
		SELECT `+tradesColumns+` FROM trades
		WHERE portfolio_id = ? AND asset_id = ? AND trade_date <= ?
		ORDER BY trade_date ASC, id ASC
	`, portfolioID, strings.ToUpper(assetID), date)
}

// History returns the most recent trades, newest first. An empty
// portfolioID spans all portfolios.
func (r *TradeRepository) History(portfolioID string, limit int) ([]*Trade, error) {
	if portfolioID == "" {
		return r.listTrades(`
			SELECT `+tradesColumns+` FROM trades
			ORDER BY trade_date DESC, id DESC
			LIMIT ?
		`, limit)
	}
	return r.listTrades(`
		SELECT `+tradesColumns+` FROM trades
		WHERE portfolio_id = ?
		ORDER BY trade_date DESC, id DESC
		LIMIT ?
	`, portfolioID, limit)
}

// AssetIDs returns the distinct assets traded in a portfolio at or before
// the given date
func (r *TradeRepository) AssetIDs(portfolioID, date string) ([]string, error) {
	rows, err := r.ledgerDB.Query(`
		SELECT DISTINCT asset_id FROM trades
		WHERE portfolio_id = ? AND trade_date <= ?
		ORDER BY asset_id
	`, portfolioID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query traded assets: %w", err)
	}
	defer rows.Close()

	var assets []string
	for rows.Next() {
		var assetID string
		if err := rows.Scan(&assetID); err != nil {
			return nil, fmt.Errorf("failed to scan asset id: %w", err)
		}
		assets = append(assets, assetID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assets: %w", err)
	}
	return assets, nil
}

// MaxTradeDate returns the latest trade date for a scope, empty if none
func (r *TradeRepository) MaxTradeDate(portfolioID, assetID string) (string, error) {
	var date sql.NullString
	err := r.ledgerDB.QueryRow(`
		SELECT MAX(trade_date) FROM trades
		WHERE portfolio_id = ? AND asset_id = ?
	`, portfolioID, strings.ToUpper(assetID)).Scan(&date)
	if err != nil {
		return "", fmt.Errorf("failed to get max trade date: %w", err)
	}
	if !date.Valid {
		return "", nil
	}
	return date.String, nil
}

// MarkUnmatchedTx flags a trade whose matching failed, inside the
// transaction that persists it. The trade itself stays in the ledger; no
// lots reference it.
func (r *TradeRepository) MarkUnmatchedTx(tx *sql.Tx, id int64) error {
	_, err := tx.Exec(
		"UPDATE trades SET unmatched = 1, updated_at = ? WHERE id = ?",
		time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark trade unmatched: %w", err)
	}
	return nil
}

// ReplaceMatchesTx rewrites the full matching state for a (portfolio, asset)
// scope inside an existing transaction: all lots are replaced and every
// trade's matched counter is set from the replay result. The trades slice
// and result indexes must correspond.
func (r *TradeRepository) ReplaceMatchesTx(tx *sql.Tx, portfolioID, assetID string, trades []*Trade, result *ReplayResult) error {
	assetID = strings.ToUpper(assetID)
	now := time.Now().Unix()

	if _, err := tx.Exec(
		"DELETE FROM matched_lots WHERE portfolio_id = ? AND asset_id = ?",
		portfolioID, assetID,
	); err != nil {
		return fmt.Errorf("failed to clear matched lots: %w", err)
	}

	for i, trade := range trades {
		if _, err := tx.Exec(
			"UPDATE trades SET matched_quantity = ?, unmatched = 0, updated_at = ? WHERE id = ?",
			result.Matched[i], now, trade.ID,
		); err != nil {
			return fmt.Errorf("failed to update matched quantity for trade %d: %w", trade.ID, err)
		}
	}

	for _, lot := range result.Lots {
		if _, err := tx.Exec(`
			INSERT INTO matched_lots
			(portfolio_id, asset_id, buy_trade_id, sell_trade_id, quantity,
			 buy_price, sell_price, fees, taxes, realized_pnl, trade_date, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			portfolioID,
			assetID,
			trades[lot.BuyIdx].ID,
			trades[lot.SellIdx].ID,
			lot.Quantity,
			lot.BuyPrice,
			lot.SellPrice,
			lot.Fees,
			lot.Taxes,
			lot.RealizedPnL,
			lot.TradeDate,
			now,
		); err != nil {
			return fmt.Errorf("failed to insert matched lot: %w", err)
		}
	}

	return nil
}

// ListLots returns all matched lots for a (portfolio, asset), oldest first
func (r *TradeRepository) ListLots(portfolioID, assetID string) ([]MatchedLot, error) {
	rows, err := r.ledgerDB.Query(`
		SELECT `+lotsColumns+` FROM matched_lots
		WHERE portfolio_id = ? AND asset_id = ?
		ORDER BY trade_date ASC, id ASC
	`, portfolioID, strings.ToUpper(assetID))
	if err != nil {
		return nil, fmt.Errorf("failed to query matched lots: %w", err)
	}
	defer rows.Close()

	var lots []MatchedLot
	for rows.Next() {
		var lot MatchedLot
		var createdAt int64
		if err := rows.Scan(
			&lot.ID,
			&lot.PortfolioID,
			&lot.AssetID,
			&lot.BuyTradeID,
			&lot.SellTradeID,
			&lot.Quantity,
			&lot.BuyPrice,
			&lot.SellPrice,
			&lot.Fees,
			&lot.Taxes,
			&lot.RealizedPnL,
			&lot.TradeDate,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan matched lot: %w", err)
		}
		lot.CreatedAt = time.Unix(createdAt, 0).UTC()
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating matched lots: %w", err)
	}
	return lots, nil
}

func (r *TradeRepository) listTrades(query string, args ...interface{}) ([]*Trade, error) {
	rows, err := r.ledgerDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		trade, err := scanTradeFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, &trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return trades, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTradeRow(s rowScanner) (Trade, error) {
	var trade Trade
	var unmatched int
	var createdAt, updatedAt int64

	err := s.Scan(
		&trade.ID,
		&trade.PortfolioID,
		&trade.AssetID,
		&trade.Side,
		&trade.Quantity,
		&trade.Price,
		&trade.Fee,
		&trade.Tax,
		&trade.MatchedQuantity,
		&unmatched,
		&trade.TradeDate,
		&trade.Source,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return trade, err
	}

	trade.Unmatched = unmatched != 0
	trade.CreatedAt = time.Unix(createdAt, 0).UTC()
	trade.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return trade, nil
}

func scanTrade(row *sql.Row) (Trade, error) {
	return scanTradeRow(row)
}

func scanTradeFromRows(rows *sql.Rows) (Trade, error) {
	return scanTradeRow(rows)
}
