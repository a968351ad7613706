// Package cashflows records portfolio cash movements in the ledger database.
package cashflows

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/folioledger/folioledger/internal/domain"
)

// FlowType is the direction of a cash flow
type FlowType string

const (
	FlowDeposit    FlowType = "DEPOSIT"
	FlowWithdrawal FlowType = "WITHDRAWAL"
)

// CashFlow is one cash movement for a portfolio. Fund unit transactions link
// to the cash flow they produced.
type CashFlow struct {
	ID          int64           `json:"id"`
	PortfolioID string          `json:"portfolio_id"`
	Type        FlowType        `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	FlowDate    string          `json:"flow_date"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Validate checks cash flow fields before insertion
func (c *CashFlow) Validate() error {
	if c.PortfolioID == "" {
		return domain.Validationf("portfolio id is required")
	}
	if c.Type != FlowDeposit && c.Type != FlowWithdrawal {
		return domain.Validationf("invalid cash flow type %q", c.Type)
	}
	if !c.Amount.IsPositive() {
		return domain.Validationf("cash flow amount must be positive, got %s", c.Amount)
	}
	if _, err := domain.ParseDate(c.FlowDate); err != nil {
		return domain.Validationf("invalid flow date: %v", err)
	}
	return nil
}

// Signed returns the amount with direction applied: deposits positive,
// withdrawals negative.
func (c *CashFlow) Signed() decimal.Decimal {
	if c.Type == FlowWithdrawal {
		return c.Amount.Neg()
	}
	return c.Amount
}
