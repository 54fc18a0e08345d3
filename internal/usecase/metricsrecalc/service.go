package metricsrecalc

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/jpereira/stocklens-backend/internal/domain"
)

// Persisted totals carry 6 fractional digits, matching the storage columns
const metricsScale = 6

// Service recomputes derived portfolio metrics for aggregates flagged stale
// by the ingestion job or a holdings mutation.
type Service struct {
	MetricsRepo domain.MetricsRepository
	HoldingRepo domain.HoldingRepository
	QuoteRepo   domain.QuoteRepository
	Clock       domain.Clock
	Log         zerolog.Logger

	BatchSize int
	Workers   int
}

// NewService creates a new metrics recomputation service. workers bounds the
// per-portfolio parallelism; 1 means strictly sequential.
func NewService(
	metricsRepo domain.MetricsRepository,
	holdingRepo domain.HoldingRepository,
	quoteRepo domain.QuoteRepository,
	clock domain.Clock,
	log zerolog.Logger,
	batchSize, workers int,
) *Service {
	if workers < 1 {
		workers = 1
	}
	return &Service{
		MetricsRepo: metricsRepo,
		HoldingRepo: holdingRepo,
		QuoteRepo:   quoteRepo,
		Clock:       clock,
		Log:         log.With().Str("job", "metrics_recalc").Logger(),
		BatchSize:   batchSize,
		Workers:     workers,
	}
}

// errClaimLost marks a recompute whose claim was broken by a concurrent
// staleness write; the computed result was discarded, not persisted.
var errClaimLost = errors.New("aggregate re-marked stale during recompute")

// Result is the outcome document of one recomputation run
type Result struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Requeued  int `json:"requeued,omitempty"`
}

// Run claims up to BatchSize stale aggregates and recomputes each portfolio
// independently. A failing portfolio is logged and counted but deliberately
// left stale, so the next scheduled run retries it; the same goes for a
// portfolio whose claim is lost to a concurrent staleness write.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	stale, err := s.MetricsRepo.ClaimStale(ctx, s.BatchSize, s.Clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to claim stale aggregates: %w", err)
	}
	if len(stale) == 0 {
		return &Result{}, nil
	}

	var succeeded, failed, requeued int64

	g := &errgroup.Group{}
	g.SetLimit(s.Workers)
	for _, aggregate := range stale {
		portfolioID := aggregate.PortfolioID
		g.Go(func() error {
			switch err := s.recompute(ctx, portfolioID); {
			case err == nil:
				atomic.AddInt64(&succeeded, 1)
			case errors.Is(err, errClaimLost):
				s.Log.Info().Str("portfolio_id", portfolioID.String()).Msg("claim lost; aggregate requeued")
				atomic.AddInt64(&requeued, 1)
			default:
				s.Log.Error().Err(err).Str("portfolio_id", portfolioID.String()).Msg("recompute failed; aggregate left stale")
				atomic.AddInt64(&failed, 1)
			}
			// Failures are isolated per portfolio, never propagated
			return nil
		})
	}
	g.Wait()

	result := &Result{
		Processed: len(stale),
		Succeeded: int(succeeded),
		Failed:    int(failed),
		Requeued:  int(requeued),
	}

	s.Log.Info().
		Int("processed", result.Processed).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("requeued", result.Requeued).
		Msg("metrics recomputation run complete")

	return result, nil
}

// recompute loads one portfolio's inputs, derives the metrics and persists
// the aggregate with the stale flag cleared, provided the claim held.
func (s *Service) recompute(ctx context.Context, portfolioID uuid.UUID) error {
	holdings, err := s.HoldingRepo.ListByPortfolio(ctx, portfolioID)
	if err != nil {
		return fmt.Errorf("failed to load holdings: %w", err)
	}

	symbols := distinctSymbols(holdings)
	quotes, err := s.QuoteRepo.GetBySymbols(ctx, symbols)
	if err != nil {
		return fmt.Errorf("failed to load quotes: %w", err)
	}

	metrics := Compute(portfolioID, holdings, quotes, s.Clock.Now())
	saved, err := s.MetricsRepo.SaveComputed(ctx, metrics)
	if err != nil {
		return fmt.Errorf("failed to persist aggregate: %w", err)
	}
	if !saved {
		return errClaimLost
	}

	return nil
}

// Compute derives the aggregate metrics for a portfolio:
//   - a position with a quote contributes quantity x price to total value;
//     without one it contributes zero and counts as missing a quote
//   - quantity x cost basis always contributes to total cost, with a missing
//     cost basis treated as zero
//   - unrealized gain = total value - total cost
//
// All three totals are rounded to 6 fractional digits.
func Compute(portfolioID uuid.UUID, holdings []*domain.Holding, quotes map[string]*domain.Quote, asOf time.Time) *domain.PortfolioMetrics {
	totalValue := decimal.Zero
	totalCost := decimal.Zero
	missingQuotes := 0

	for _, holding := range holdings {
		costBasis := decimal.Zero
		if holding.CostBasis != nil {
			costBasis = *holding.CostBasis
		}
		totalCost = totalCost.Add(holding.Quantity.Mul(costBasis))

		if quote, ok := quotes[domain.NormalizeSymbol(holding.Symbol)]; ok {
			totalValue = totalValue.Add(holding.Quantity.Mul(quote.Price))
		} else {
			missingQuotes++
		}
	}

	return &domain.PortfolioMetrics{
		PortfolioID:           portfolioID,
		TotalValue:            totalValue.Round(metricsScale),
		TotalCostBasis:        totalCost.Round(metricsScale),
		UnrealizedGain:        totalValue.Sub(totalCost).Round(metricsScale),
		PositionCount:         len(holdings),
		PositionsMissingQuote: missingQuotes,
		AsOf:                  asOf,
		Stale:                 false,
		StaleReason:           "",
		UpdatedAt:             asOf,
	}
}

func distinctSymbols(holdings []*domain.Holding) []string {
	seen := make(map[string]struct{}, len(holdings))
	symbols := make([]string, 0, len(holdings))
	for _, holding := range holdings {
		symbol := domain.NormalizeSymbol(holding.Symbol)
		if _, ok := seen[symbol]; ok {
			continue
		}
		seen[symbol] = struct{}{}
		symbols = append(symbols, symbol)
	}
	return symbols
}
