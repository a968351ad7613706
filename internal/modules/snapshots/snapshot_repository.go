package snapshots

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/folioledger/folioledger/internal/domain"
)

const assetSnapshotColumns = `id, portfolio_id, asset_id, date, granularity, quantity, price, current_value, cost_basis, avg_cost, realized_pnl, unrealized_pnl, total_pnl, allocation_pct, portfolio_value, return_pct, daily_return, cumulative_return, created_at, updated_at`

const portfolioSnapshotColumns = `id, portfolio_id, date, granularity, total_value, invested_value, cash_balance, realized_pnl, unrealized_pnl, total_pnl, daily_return, weekly_return, monthly_return, ytd_return, volatility, max_drawdown, allocation, price_gaps, asset_count, created_at, updated_at`

// SnapshotRepository handles snapshot database operations (portfolio.db)
type SnapshotRepository struct {
	portfolioDB *sql.DB
	log         zerolog.Logger
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(portfolioDB *sql.DB, log zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		portfolioDB: portfolioDB,
		log:         log.With().Str("repo", "snapshots").Logger(),
	}
}

// DB returns the underlying connection for transaction scoping
func (r *SnapshotRepository) DB() *sql.DB {
	return r.portfolioDB
}

// ReplaceForDateTx rewrites the complete snapshot state for a
// (portfolio, date, granularity) key inside one transaction: every asset row
// plus the portfolio row. Stale asset rows from a previous computation are
// removed first, so a recompute never leaves partial state behind.
func (r *SnapshotRepository) ReplaceForDateTx(tx *sql.Tx, ps *PortfolioSnapshot, assets []AssetSnapshot) error {
	now := time.Now().Unix()

	if _, err := tx.Exec(`
		DELETE FROM asset_snapshots
		WHERE portfolio_id = ? AND date = ? AND granularity = ?
	`, ps.PortfolioID, ps.Date, string(ps.Granularity)); err != nil {
		return fmt.Errorf("failed to clear asset snapshots: %w", err)
	}

	for i := range assets {
		a := &assets[i]
		if _, err := tx.Exec(`
			INSERT INTO asset_snapshots
			(portfolio_id, asset_id, date, granularity, quantity, price, current_value,
			 cost_basis, avg_cost, realized_pnl, unrealized_pnl, total_pnl,
			 allocation_pct, portfolio_value, return_pct, daily_return, cumulative_return,
			 created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			a.PortfolioID, a.AssetID, a.Date, string(a.Granularity),
			a.Quantity, a.Price, a.CurrentValue,
			a.CostBasis, a.AvgCost, a.RealizedPnL, a.UnrealizedPnL, a.TotalPnL,
			a.AllocationPct, a.PortfolioValue, a.ReturnPct, a.DailyReturn, a.CumulativeReturn,
			now, now,
		); err != nil {
			return fmt.Errorf("failed to insert asset snapshot for %s: %w", a.AssetID, err)
		}
	}

	allocation, err := json.Marshal(ps.Allocation)
	if err != nil {
		return fmt.Errorf("failed to encode allocation: %w", err)
	}
	gaps, err := json.Marshal(ps.PriceGaps)
	if err != nil {
		return fmt.Errorf("failed to encode price gaps: %w", err)
	}
	if ps.PriceGaps == nil {
		gaps = []byte("[]")
	}

	if _, err := tx.Exec(`
		INSERT INTO portfolio_snapshots
		(portfolio_id, date, granularity, total_value, invested_value, cash_balance,
		 realized_pnl, unrealized_pnl, total_pnl,
		 daily_return, weekly_return, monthly_return, ytd_return, volatility, max_drawdown,
		 allocation, price_gaps, asset_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (portfolio_id, date, granularity) DO UPDATE SET
			total_value = excluded.total_value,
			invested_value = excluded.invested_value,
			cash_balance = excluded.cash_balance,
			realized_pnl = excluded.realized_pnl,
			unrealized_pnl = excluded.unrealized_pnl,
			total_pnl = excluded.total_pnl,
			daily_return = excluded.daily_return,
			weekly_return = excluded.weekly_return,
			monthly_return = excluded.monthly_return,
			ytd_return = excluded.ytd_return,
			volatility = excluded.volatility,
			max_drawdown = excluded.max_drawdown,
			allocation = excluded.allocation,
			price_gaps = excluded.price_gaps,
			asset_count = excluded.asset_count,
			updated_at = excluded.updated_at
	`,
		ps.PortfolioID, ps.Date, string(ps.Granularity),
		ps.TotalValue, ps.InvestedValue, ps.CashBalance,
		ps.RealizedPnL, ps.UnrealizedPnL, ps.TotalPnL,
		ps.DailyReturn, ps.WeeklyReturn, ps.MonthlyReturn, ps.YTDReturn,
		ps.Volatility, ps.MaxDrawdown,
		string(allocation), string(gaps), ps.AssetCount,
		now, now,
	); err != nil {
		return fmt.Errorf("failed to upsert portfolio snapshot: %w", err)
	}

	return nil
}

// GetPortfolioSnapshot retrieves the snapshot for an exact key
func (r *SnapshotRepository) GetPortfolioSnapshot(portfolioID, date string, granularity domain.Granularity) (*PortfolioSnapshot, error) {
	row := r.portfolioDB.QueryRow(`
		SELECT `+portfolioSnapshotColumns+` FROM portfolio_snapshots
		WHERE portfolio_id = ? AND date = ? AND granularity = ?
	`, portfolioID, date, string(granularity))

	ps, err := scanPortfolioSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s/%s/%s: %w", portfolioID, date, granularity, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio snapshot: %w", err)
	}
	return &ps, nil
}

// LatestAtOrBefore returns the most recent portfolio snapshot dated at or
// before the given date, or ErrNotFound.
func (r *SnapshotRepository) LatestAtOrBefore(portfolioID, date string, granularity domain.Granularity) (*PortfolioSnapshot, error) {
	row := r.portfolioDB.QueryRow(`
		SELECT `+portfolioSnapshotColumns+` FROM portfolio_snapshots
		WHERE portfolio_id = ? AND date <= ? AND granularity = ?
		ORDER BY date DESC
		LIMIT 1
	`, portfolioID, date, string(granularity))

	ps, err := scanPortfolioSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no snapshot for %s at or before %s: %w", portfolioID, date, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return &ps, nil
}

// ListPortfolioSnapshots returns snapshots in a date range, oldest first
func (r *SnapshotRepository) ListPortfolioSnapshots(portfolioID string, granularity domain.Granularity, from, to string) ([]PortfolioSnapshot, error) {
	rows, err := r.portfolioDB.Query(`
		SELECT `+portfolioSnapshotColumns+` FROM portfolio_snapshots
		WHERE portfolio_id = ? AND granularity = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, portfolioID, string(granularity), from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolio snapshots: %w", err)
	}
	defer rows.Close()

	var result []PortfolioSnapshot
	for rows.Next() {
		ps, err := scanPortfolioSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan portfolio snapshot: %w", err)
		}
		result = append(result, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portfolio snapshots: %w", err)
	}
	return result, nil
}

// TotalValuesBefore returns the total values of snapshots strictly before a
// date, oldest first. Feeds the volatility and drawdown calculations.
func (r *SnapshotRepository) TotalValuesBefore(portfolioID string, granularity domain.Granularity, date string) ([]float64, error) {
	rows, err := r.portfolioDB.Query(`
		SELECT total_value FROM portfolio_snapshots
		WHERE portfolio_id = ? AND granularity = ? AND date < ?
		ORDER BY date ASC
	`, portfolioID, string(granularity), date)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot values: %w", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot value: %w", err)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt snapshot value %q: %w", raw, err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot values: %w", err)
	}
	return values, nil
}

// ListAssetSnapshots returns the asset snapshots for one key
func (r *SnapshotRepository) ListAssetSnapshots(portfolioID, date string, granularity domain.Granularity) ([]AssetSnapshot, error) {
	rows, err := r.portfolioDB.Query(`
		SELECT `+assetSnapshotColumns+` FROM asset_snapshots
		WHERE portfolio_id = ? AND date = ? AND granularity = ?
		ORDER BY asset_id ASC
	`, portfolioID, date, string(granularity))
	if err != nil {
		return nil, fmt.Errorf("failed to query asset snapshots: %w", err)
	}
	defer rows.Close()

	var result []AssetSnapshot
	for rows.Next() {
		a, err := scanAssetSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset snapshot: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating asset snapshots: %w", err)
	}
	return result, nil
}

// LatestAssetSnapshotBefore returns an asset's most recent snapshot strictly
// before a date, or ErrNotFound.
func (r *SnapshotRepository) LatestAssetSnapshotBefore(portfolioID, assetID, date string, granularity domain.Granularity) (*AssetSnapshot, error) {
	row := r.portfolioDB.QueryRow(`
		SELECT `+assetSnapshotColumns+` FROM asset_snapshots
		WHERE portfolio_id = ? AND asset_id = ? AND date < ? AND granularity = ?
		ORDER BY date DESC
		LIMIT 1
	`, portfolioID, assetID, date, string(granularity))

	a, err := scanAssetSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no prior asset snapshot for %s/%s: %w", portfolioID, assetID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prior asset snapshot: %w", err)
	}
	return &a, nil
}

// FirstAssetSnapshot returns an asset's earliest snapshot in a series, or
// ErrNotFound.
func (r *SnapshotRepository) FirstAssetSnapshot(portfolioID, assetID string, granularity domain.Granularity) (*AssetSnapshot, error) {
	row := r.portfolioDB.QueryRow(`
		SELECT `+assetSnapshotColumns+` FROM asset_snapshots
		WHERE portfolio_id = ? AND asset_id = ? AND granularity = ?
		ORDER BY date ASC
		LIMIT 1
	`, portfolioID, assetID, string(granularity))

	a, err := scanAssetSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no asset snapshots for %s/%s: %w", portfolioID, assetID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get first asset snapshot: %w", err)
	}
	return &a, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAssetSnapshot(s rowScanner) (AssetSnapshot, error) {
	var a AssetSnapshot
	var granularity string
	var createdAt, updatedAt int64

	err := s.Scan(
		&a.ID, &a.PortfolioID, &a.AssetID, &a.Date, &granularity,
		&a.Quantity, &a.Price, &a.CurrentValue,
		&a.CostBasis, &a.AvgCost, &a.RealizedPnL, &a.UnrealizedPnL, &a.TotalPnL,
		&a.AllocationPct, &a.PortfolioValue, &a.ReturnPct, &a.DailyReturn, &a.CumulativeReturn,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return a, err
	}

	a.Granularity = domain.Granularity(granularity)
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	a.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return a, nil
}

func scanPortfolioSnapshot(s rowScanner) (PortfolioSnapshot, error) {
	var ps PortfolioSnapshot
	var granularity, allocation, gaps string
	var createdAt, updatedAt int64

	err := s.Scan(
		&ps.ID, &ps.PortfolioID, &ps.Date, &granularity,
		&ps.TotalValue, &ps.InvestedValue, &ps.CashBalance,
		&ps.RealizedPnL, &ps.UnrealizedPnL, &ps.TotalPnL,
		&ps.DailyReturn, &ps.WeeklyReturn, &ps.MonthlyReturn, &ps.YTDReturn,
		&ps.Volatility, &ps.MaxDrawdown,
		&allocation, &gaps, &ps.AssetCount,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return ps, err
	}

	ps.Granularity = domain.Granularity(granularity)
	ps.CreatedAt = time.Unix(createdAt, 0).UTC()
	ps.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	if err := json.Unmarshal([]byte(allocation), &ps.Allocation); err != nil {
		return ps, fmt.Errorf("corrupt allocation payload: %w", err)
	}
	if err := json.Unmarshal([]byte(gaps), &ps.PriceGaps); err != nil {
		return ps, fmt.Errorf("corrupt price gaps payload: %w", err)
	}
	return ps, nil
}
