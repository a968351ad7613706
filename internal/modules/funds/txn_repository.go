package funds

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const unitTxnColumns = `id, portfolio_id, account_id, type, units, nav_per_unit, amount, realized_pnl, cash_flow_id, txn_date, created_at`

// UnitTxnRepository handles fund unit transaction operations (ledger.db).
// The table shares the ledger database with cash flows so a subscription or
// redemption writes both records in one transaction.
type UnitTxnRepository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// NewUnitTxnRepository creates a new unit transaction repository
func NewUnitTxnRepository(ledgerDB *sql.DB, log zerolog.Logger) *UnitTxnRepository {
	return &UnitTxnRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "fund_unit_txns").Logger(),
	}
}

// DB returns the underlying connection for transaction scoping
func (r *UnitTxnRepository) DB() *sql.DB {
	return r.ledgerDB
}

// InsertTx appends a unit transaction inside an existing transaction
func (r *UnitTxnRepository) InsertTx(tx *sql.Tx, txn *UnitTransaction) error {
	now := time.Now().Unix()

	var cashFlowID interface{}
	if txn.CashFlowID != 0 {
		cashFlowID = txn.CashFlowID
	}

	res, err := tx.Exec(`
		INSERT INTO fund_unit_transactions
		(portfolio_id, account_id, type, units, nav_per_unit, amount, realized_pnl, cash_flow_id, txn_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		txn.PortfolioID, txn.AccountID, string(txn.Type),
		txn.Units, txn.NavPerUnit, txn.Amount, txn.RealizedPnL,
		cashFlowID, txn.TxnDate, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert unit transaction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read unit transaction id: %w", err)
	}
	txn.ID = id
	txn.CreatedAt = time.Unix(now, 0).UTC()
	return nil
}

// ListByPortfolio returns all unit transactions of a fund, oldest first
func (r *UnitTxnRepository) ListByPortfolio(portfolioID string) ([]UnitTransaction, error) {
	return r.list(`
		SELECT `+unitTxnColumns+` FROM fund_unit_transactions
		WHERE portfolio_id = ?
		ORDER BY txn_date ASC, id ASC
	`, portfolioID)
}

// ListByAccount returns one account's unit transactions, oldest first
func (r *UnitTxnRepository) ListByAccount(portfolioID, accountID string) ([]UnitTransaction, error) {
	return r.list(`
		SELECT `+unitTxnColumns+` FROM fund_unit_transactions
		WHERE portfolio_id = ? AND account_id = ?
		ORDER BY txn_date ASC, id ASC
	`, portfolioID, accountID)
}

// OutstandingUnits derives the fund's outstanding units at a date: the
// signed sum of the unit-transaction ledger up to and including it.
func (r *UnitTxnRepository) OutstandingUnits(portfolioID, date string) (decimal.Decimal, error) {
	rows, err := r.ledgerDB.Query(`
		SELECT type, units FROM fund_unit_transactions
		WHERE portfolio_id = ? AND txn_date <= ?
	`, portfolioID, date)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query unit transactions: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var txnType, raw string
		if err := rows.Scan(&txnType, &raw); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan unit transaction: %w", err)
		}
		units, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("corrupt units value %q: %w", raw, err)
		}
		if TxnType(txnType) == TxnRedeem {
			units = units.Neg()
		}
		total = total.Add(units)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error iterating unit transactions: %w", err)
	}
	return total, nil
}

func (r *UnitTxnRepository) list(query string, args ...interface{}) ([]UnitTransaction, error) {
	rows, err := r.ledgerDB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query unit transactions: %w", err)
	}
	defer rows.Close()

	var txns []UnitTransaction
	for rows.Next() {
		var txn UnitTransaction
		var txnType string
		var cashFlowID sql.NullInt64
		var createdAt int64
		if err := rows.Scan(
			&txn.ID, &txn.PortfolioID, &txn.AccountID, &txnType,
			&txn.Units, &txn.NavPerUnit, &txn.Amount, &txn.RealizedPnL,
			&cashFlowID, &txn.TxnDate, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan unit transaction: %w", err)
		}
		txn.Type = TxnType(txnType)
		txn.CashFlowID = cashFlowID.Int64
		txn.CreatedAt = time.Unix(createdAt, 0).UTC()
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unit transactions: %w", err)
	}
	return txns, nil
}
