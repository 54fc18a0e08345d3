package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Holding represents a position in a portfolio
type Holding struct {
	ID          uuid.UUID
	PortfolioID uuid.UUID
	Symbol      string
	Quantity    decimal.Decimal
	CostBasis   *decimal.Decimal // per-share cost; nil when unknown
	UpdatedAt   time.Time
}

// Validate ensures the holding adheres to domain rules
func (h *Holding) Validate() error {
	if NormalizeSymbol(h.Symbol) == "" {
		return fmt.Errorf("%w: holding symbol cannot be empty", ErrValidation)
	}
	if h.Quantity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: holding quantity must be positive", ErrValidation)
	}
	if h.CostBasis != nil && h.CostBasis.IsNegative() {
		return fmt.Errorf("%w: holding cost basis cannot be negative", ErrValidation)
	}
	return nil
}
