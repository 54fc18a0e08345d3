package holdings

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jpereira/stocklens-backend/internal/domain"
)

// Service handles per-portfolio holding mutations. Every write path here
// explicitly marks the portfolio's aggregate stale; there is no database
// trigger doing it behind the scenes.
type Service struct {
	HoldingRepo domain.HoldingRepository
	TickerRepo  domain.TickerRepository
	MetricsRepo domain.MetricsRepository
	Clock       domain.Clock
	Log         zerolog.Logger
}

// NewService creates a new holdings service
func NewService(
	holdingRepo domain.HoldingRepository,
	tickerRepo domain.TickerRepository,
	metricsRepo domain.MetricsRepository,
	clock domain.Clock,
	log zerolog.Logger,
) *Service {
	return &Service{
		HoldingRepo: holdingRepo,
		TickerRepo:  tickerRepo,
		MetricsRepo: metricsRepo,
		Clock:       clock,
		Log:         log.With().Str("service", "holdings").Logger(),
	}
}

// AddHoldingInput carries the fields of a new holding
type AddHoldingInput struct {
	PortfolioID uuid.UUID
	Symbol      string
	Quantity    decimal.Decimal
	CostBasis   *decimal.Decimal
}

// AddHolding creates a holding, implicitly creating the ticker row for its
// symbol and the portfolio's aggregate row on first touch.
func (s *Service) AddHolding(ctx context.Context, input AddHoldingInput) (*domain.Holding, error) {
	now := s.Clock.Now()
	holding := &domain.Holding{
		ID:          uuid.New(),
		PortfolioID: input.PortfolioID,
		Symbol:      domain.NormalizeSymbol(input.Symbol),
		Quantity:    input.Quantity,
		CostBasis:   input.CostBasis,
		UpdatedAt:   now,
	}
	if err := holding.Validate(); err != nil {
		return nil, err
	}

	// The ticker is created implicitly when first referenced by a holding
	if err := s.TickerRepo.Ensure(ctx, holding.Symbol); err != nil {
		return nil, fmt.Errorf("failed to ensure ticker: %w", err)
	}

	if err := s.HoldingRepo.Create(ctx, holding); err != nil {
		return nil, err
	}

	s.propagateStaleness(ctx, holding.PortfolioID, now)
	return holding, nil
}

// UpdateHolding changes quantity and cost basis of an existing holding
func (s *Service) UpdateHolding(ctx context.Context, id uuid.UUID, quantity decimal.Decimal, costBasis *decimal.Decimal) (*domain.Holding, error) {
	holding, err := s.HoldingRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	holding.Quantity = quantity
	holding.CostBasis = costBasis
	holding.UpdatedAt = now
	if err := holding.Validate(); err != nil {
		return nil, err
	}

	if err := s.HoldingRepo.Update(ctx, holding); err != nil {
		return nil, err
	}

	s.propagateStaleness(ctx, holding.PortfolioID, now)
	return holding, nil
}

// DeleteHolding removes a holding
func (s *Service) DeleteHolding(ctx context.Context, id uuid.UUID) error {
	holding, err := s.HoldingRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.HoldingRepo.Delete(ctx, id); err != nil {
		return err
	}

	s.propagateStaleness(ctx, holding.PortfolioID, s.Clock.Now())
	return nil
}

// propagateStaleness ensures the aggregate row exists and flags it stale.
// Failures here do not fail the holding write; the aggregate will simply be
// recomputed one run later than ideal.
func (s *Service) propagateStaleness(ctx context.Context, portfolioID uuid.UUID, now time.Time) {
	if err := s.MetricsRepo.Ensure(ctx, portfolioID, now); err != nil {
		s.Log.Error().Err(err).Str("portfolio_id", portfolioID.String()).Msg("failed to ensure aggregate")
		return
	}
	if _, err := s.MetricsRepo.MarkStale(ctx, []uuid.UUID{portfolioID}, domain.StaleReasonHoldingsChanged, now); err != nil {
		s.Log.Error().Err(err).Str("portfolio_id", portfolioID.String()).Msg("failed to mark aggregate stale")
	}
}
