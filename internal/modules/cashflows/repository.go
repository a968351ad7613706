package cashflows

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const cashFlowColumns = `id, portfolio_id, type, amount, flow_date, description, created_at`

// Repository handles cash flow database operations (ledger.db)
type Repository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// NewRepository creates a new cash flow repository
func NewRepository(ledgerDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "cash_flows").Logger(),
	}
}

// Create appends a cash flow
func (r *Repository) Create(flow *CashFlow) error {
	if err := flow.Validate(); err != nil {
		return err
	}
	return r.insert(r.ledgerDB.Exec, flow)
}

// CreateTx appends a cash flow inside an existing transaction
func (r *Repository) CreateTx(tx *sql.Tx, flow *CashFlow) error {
	if err := flow.Validate(); err != nil {
		return err
	}
	return r.insert(tx.Exec, flow)
}

type execFunc func(query string, args ...interface{}) (sql.Result, error)

func (r *Repository) insert(exec execFunc, flow *CashFlow) error {
	now := time.Now().Unix()
	res, err := exec(`
		INSERT INTO cash_flows (portfolio_id, type, amount, flow_date, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, flow.PortfolioID, string(flow.Type), flow.Amount, flow.FlowDate, flow.Description, now)
	if err != nil {
		return fmt.Errorf("failed to insert cash flow: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read cash flow id: %w", err)
	}
	flow.ID = id
	flow.CreatedAt = time.Unix(now, 0).UTC()
	return nil
}

// ListByPortfolio returns cash flows for a portfolio, oldest first
func (r *Repository) ListByPortfolio(portfolioID string) ([]CashFlow, error) {
	rows, err := r.ledgerDB.Query(`
		SELECT `+cashFlowColumns+` FROM cash_flows
		WHERE portfolio_id = ?
		ORDER BY flow_date ASC, id ASC
	`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cash flows: %w", err)
	}
	defer rows.Close()

	var flows []CashFlow
	for rows.Next() {
		var flow CashFlow
		var createdAt int64
		var description sql.NullString
		if err := rows.Scan(
			&flow.ID,
			&flow.PortfolioID,
			&flow.Type,
			&flow.Amount,
			&flow.FlowDate,
			&description,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cash flow: %w", err)
		}
		flow.Description = description.String
		flow.CreatedAt = time.Unix(createdAt, 0).UTC()
		flows = append(flows, flow)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cash flows: %w", err)
	}
	return flows, nil
}

// BalanceAsOf returns the net cash movement for a portfolio up to and
// including the given date: deposits minus withdrawals. Summed in decimal
// arithmetic, not SQL floats.
func (r *Repository) BalanceAsOf(portfolioID, date string) (decimal.Decimal, error) {
	rows, err := r.ledgerDB.Query(`
		SELECT type, amount FROM cash_flows
		WHERE portfolio_id = ? AND flow_date <= ?
	`, portfolioID, date)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query cash flows: %w", err)
	}
	defer rows.Close()

	balance := decimal.Zero
	for rows.Next() {
		var flowType FlowType
		var amount decimal.Decimal
		if err := rows.Scan(&flowType, &amount); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan cash flow: %w", err)
		}
		if flowType == FlowWithdrawal {
			balance = balance.Sub(amount)
		} else {
			balance = balance.Add(amount)
		}
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error iterating cash flows: %w", err)
	}
	return balance, nil
}
