// Package funds maintains fund unit accounting: subscriptions and
// redemptions append to the unit-transaction ledger, and outstanding units
// plus per-investor holdings are derived from it.
package funds

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/folioledger/folioledger/internal/domain"
)

// TxnType is the direction of a fund unit transaction
type TxnType string

const (
	TxnSubscribe TxnType = "SUBSCRIBE"
	TxnRedeem    TxnType = "REDEEM"
)

// UnitTransaction is one append-only entry in the fund unit ledger
// (ledger.db). Outstanding units are never stored separately; they are the
// signed sum of this ledger.
type UnitTransaction struct {
	ID          int64           `json:"id"`
	PortfolioID string          `json:"portfolio_id"`
	AccountID   string          `json:"account_id"`
	Type        TxnType         `json:"type"`
	Units       decimal.Decimal `json:"units"`
	NavPerUnit  decimal.Decimal `json:"nav_per_unit"`
	Amount      decimal.Decimal `json:"amount"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	CashFlowID  int64           `json:"cash_flow_id,omitempty"`
	TxnDate     string          `json:"txn_date"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SignedUnits returns the units with direction applied: subscriptions
// positive, redemptions negative.
func (t *UnitTransaction) SignedUnits() decimal.Decimal {
	if t.Type == TxnRedeem {
		return t.Units.Neg()
	}
	return t.Units
}

// InvestorHolding is the derived position of one account in a fund
// (portfolio.db). It is a rebuildable cache over the unit-transaction
// ledger, never independent truth.
type InvestorHolding struct {
	ID          int64  `json:"id"`
	PortfolioID string `json:"portfolio_id"`
	AccountID   string `json:"account_id"`

	TotalUnits      decimal.Decimal `json:"total_units"`
	AvgCostPerUnit  decimal.Decimal `json:"avg_cost_per_unit"`
	TotalInvestment decimal.Decimal `json:"total_investment"`
	CurrentValue    decimal.Decimal `json:"current_value"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL   decimal.Decimal `json:"unrealized_pnl"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func validateTxnInput(portfolioID, accountID, date string) error {
	if portfolioID == "" {
		return domain.Validationf("portfolio id is required")
	}
	if accountID == "" {
		return domain.Validationf("account id is required")
	}
	if _, err := domain.ParseDate(date); err != nil {
		return domain.Validationf("invalid transaction date: %v", err)
	}
	return nil
}
