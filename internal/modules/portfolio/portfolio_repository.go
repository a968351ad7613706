package portfolio

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/folioledger/folioledger/internal/domain"
)

const portfolioColumns = `id, name, base_currency, is_fund, opening_cash, created_at, updated_at`

// PortfolioRepository handles portfolio metadata database operations
type PortfolioRepository struct {
	portfolioDB *sql.DB
	log         zerolog.Logger
}

// NewPortfolioRepository creates a new portfolio repository
func NewPortfolioRepository(portfolioDB *sql.DB, log zerolog.Logger) *PortfolioRepository {
	return &PortfolioRepository{
		portfolioDB: portfolioDB,
		log:         log.With().Str("repo", "portfolio").Logger(),
	}
}

// Create inserts a new portfolio record
func (r *PortfolioRepository) Create(p *Portfolio) error {
	if strings.TrimSpace(p.ID) == "" {
		return domain.Validationf("portfolio id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return domain.Validationf("portfolio name is required")
	}
	if p.BaseCurrency == "" {
		p.BaseCurrency = "EUR"
	}

	now := time.Now().Unix()
	_, err := r.portfolioDB.Exec(`
		INSERT INTO portfolios (id, name, base_currency, is_fund, opening_cash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.BaseCurrency, boolToInt(p.IsFund), p.OpeningCash, now, now)
	if err != nil {
		return fmt.Errorf("failed to create portfolio: %w", err)
	}

	r.log.Info().Str("portfolio", p.ID).Bool("is_fund", p.IsFund).Msg("Portfolio created")
	return nil
}

// GetByID retrieves a portfolio by id
func (r *PortfolioRepository) GetByID(id string) (*Portfolio, error) {
	row := r.portfolioDB.QueryRow("SELECT "+portfolioColumns+" FROM portfolios WHERE id = ?", id)

	p, err := scanPortfolio(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("portfolio %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}
	return &p, nil
}

// List returns all portfolios ordered by id
func (r *PortfolioRepository) List() ([]Portfolio, error) {
	rows, err := r.portfolioDB.Query("SELECT " + portfolioColumns + " FROM portfolios ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolios: %w", err)
	}
	defer rows.Close()

	var portfolios []Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan portfolio: %w", err)
		}
		portfolios = append(portfolios, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portfolios: %w", err)
	}
	return portfolios, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPortfolio(s rowScanner) (Portfolio, error) {
	var p Portfolio
	var isFund int
	var createdAt, updatedAt int64

	err := s.Scan(&p.ID, &p.Name, &p.BaseCurrency, &isFund, &p.OpeningCash, &createdAt, &updatedAt)
	if err != nil {
		return p, err
	}

	p.IsFund = isFund != 0
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
