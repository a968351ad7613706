package funds

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/folioledger/folioledger/internal/domain"
)

const holdingColumns = `id, portfolio_id, account_id, total_units, avg_cost_per_unit, total_investment, current_value, realized_pnl, unrealized_pnl, created_at, updated_at`

// HoldingRepository handles the derived investor holdings cache
// (portfolio.db)
type HoldingRepository struct {
	portfolioDB *sql.DB
	log         zerolog.Logger
}

// NewHoldingRepository creates a new holding repository
func NewHoldingRepository(portfolioDB *sql.DB, log zerolog.Logger) *HoldingRepository {
	return &HoldingRepository{
		portfolioDB: portfolioDB,
		log:         log.With().Str("repo", "investor_holdings").Logger(),
	}
}

// Upsert replaces the cached holding for a (portfolio, account)
func (r *HoldingRepository) Upsert(h *InvestorHolding) error {
	now := time.Now().Unix()
	_, err := r.portfolioDB.Exec(`
		INSERT INTO investor_holdings
		(portfolio_id, account_id, total_units, avg_cost_per_unit, total_investment,
		 current_value, realized_pnl, unrealized_pnl, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (portfolio_id, account_id) DO UPDATE SET
			total_units = excluded.total_units,
			avg_cost_per_unit = excluded.avg_cost_per_unit,
			total_investment = excluded.total_investment,
			current_value = excluded.current_value,
			realized_pnl = excluded.realized_pnl,
			unrealized_pnl = excluded.unrealized_pnl,
			updated_at = excluded.updated_at
	`,
		h.PortfolioID, h.AccountID, h.TotalUnits, h.AvgCostPerUnit, h.TotalInvestment,
		h.CurrentValue, h.RealizedPnL, h.UnrealizedPnL, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert holding: %w", err)
	}
	h.UpdatedAt = time.Unix(now, 0).UTC()
	return nil
}

// GetByAccount returns one account's cached holding, or ErrNotFound
func (r *HoldingRepository) GetByAccount(portfolioID, accountID string) (*InvestorHolding, error) {
	row := r.portfolioDB.QueryRow(`
		SELECT `+holdingColumns+` FROM investor_holdings
		WHERE portfolio_id = ? AND account_id = ?
	`, portfolioID, accountID)

	h, err := scanHolding(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("holding %s/%s: %w", portfolioID, accountID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get holding: %w", err)
	}
	return &h, nil
}

// ListByPortfolio returns all cached holdings of a fund
func (r *HoldingRepository) ListByPortfolio(portfolioID string) ([]InvestorHolding, error) {
	rows, err := r.portfolioDB.Query(`
		SELECT `+holdingColumns+` FROM investor_holdings
		WHERE portfolio_id = ?
		ORDER BY account_id ASC
	`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	var holdings []InvestorHolding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holdings: %w", err)
	}
	return holdings, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanHolding(s rowScanner) (InvestorHolding, error) {
	var h InvestorHolding
	var createdAt, updatedAt int64

	err := s.Scan(
		&h.ID, &h.PortfolioID, &h.AccountID,
		&h.TotalUnits, &h.AvgCostPerUnit, &h.TotalInvestment,
		&h.CurrentValue, &h.RealizedPnL, &h.UnrealizedPnL,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return h, err
	}

	h.CreatedAt = time.Unix(createdAt, 0).UTC()
	h.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return h, nil
}
