package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/jpereira/stocklens-backend/internal/domain"
)

// holdingRepository implements domain.HoldingRepository
type holdingRepository struct {
	db *DB
}

// NewHoldingRepository creates a new holding repository
func NewHoldingRepository(db *DB) domain.HoldingRepository {
	return &holdingRepository{db: db}
}

// GetByID retrieves a holding by its ID
func (r *holdingRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Holding, error) {
	query := `
		SELECT id, portfolio_id, symbol, quantity, cost_basis, updated_at
		FROM portfolio_holdings
		WHERE id = $1
	`

	holding, err := scanHolding(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("holding %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get holding by ID: %w", err)
	}

	return holding, nil
}

// Create creates a new holding
func (r *holdingRepository) Create(ctx context.Context, holding *domain.Holding) error {
	query := `
		INSERT INTO portfolio_holdings (id, portfolio_id, symbol, quantity, cost_basis, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	var costBasis interface{}
	if holding.CostBasis != nil {
		costBasis = holding.CostBasis.String()
	}

	_, err := r.db.ExecContext(ctx, query,
		holding.ID,
		holding.PortfolioID,
		domain.NormalizeSymbol(holding.Symbol),
		holding.Quantity.String(),
		costBasis,
		holding.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create holding: %w", err)
	}

	return nil
}

// Update updates quantity and cost basis of an existing holding
func (r *holdingRepository) Update(ctx context.Context, holding *domain.Holding) error {
	query := `
		UPDATE portfolio_holdings
		SET quantity = $2, cost_basis = $3, updated_at = $4
		WHERE id = $1
	`

	var costBasis interface{}
	if holding.CostBasis != nil {
		costBasis = holding.CostBasis.String()
	}

	res, err := r.db.ExecContext(ctx, query,
		holding.ID,
		holding.Quantity.String(),
		costBasis,
		holding.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update holding: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("holding %s: %w", holding.ID, domain.ErrNotFound)
	}

	return nil
}

// Delete removes a holding
func (r *holdingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM portfolio_holdings WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete holding: %w", err)
	}

	return nil
}

// ListByPortfolio retrieves all holdings of a portfolio
func (r *holdingRepository) ListByPortfolio(ctx context.Context, portfolioID uuid.UUID) ([]*domain.Holding, error) {
	query := `
		SELECT id, portfolio_id, symbol, quantity, cost_basis, updated_at
		FROM portfolio_holdings
		WHERE portfolio_id = $1
		ORDER BY symbol
	`

	rows, err := r.db.QueryContext(ctx, query, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	defer rows.Close()

	var holdings []*domain.Holding
	for rows.Next() {
		holding, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, holding)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate holdings: %w", err)
	}

	return holdings, nil
}

// PortfoliosHolding returns the distinct portfolio IDs holding any of the symbols
func (r *holdingRepository) PortfoliosHolding(ctx context.Context, symbols []string) ([]uuid.UUID, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	query := `
		SELECT DISTINCT portfolio_id
		FROM portfolio_holdings
		WHERE symbol = ANY($1)
	`

	normalized := make([]string, len(symbols))
	for i, s := range symbols {
		normalized[i] = domain.NormalizeSymbol(s)
	}

	rows, err := r.db.QueryContext(ctx, query, pq.Array(normalized))
	if err != nil {
		return nil, fmt.Errorf("failed to select holding portfolios: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate portfolio IDs: %w", err)
	}

	return ids, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanHolding(row rowScanner) (*domain.Holding, error) {
	var holding domain.Holding
	var quantityStr string
	var costBasisStr sql.NullString

	if err := row.Scan(
		&holding.ID,
		&holding.PortfolioID,
		&holding.Symbol,
		&quantityStr,
		&costBasisStr,
		&holding.UpdatedAt,
	); err != nil {
		return nil, err
	}

	quantity, err := decimal.NewFromString(quantityStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse quantity: %w", err)
	}
	holding.Quantity = quantity

	if costBasisStr.Valid {
		costBasis, err := decimal.NewFromString(costBasisStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse cost_basis: %w", err)
		}
		holding.CostBasis = &costBasis
	}

	return &holding, nil
}
