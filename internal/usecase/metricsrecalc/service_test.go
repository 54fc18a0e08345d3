package metricsrecalc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jpereira/stocklens-backend/internal/domain"
)

// fakeClock returns a fixed instant
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

// MockMetricsRepository is a mock implementation of MetricsRepository for testing
type MockMetricsRepository struct {
	mock.Mock
}

func (m *MockMetricsRepository) ClaimStale(ctx context.Context, limit int, now time.Time) ([]*domain.PortfolioMetrics, error) {
	args := m.Called(ctx, limit, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.PortfolioMetrics), args.Error(1)
}

func (m *MockMetricsRepository) Ensure(ctx context.Context, portfolioID uuid.UUID, now time.Time) error {
	args := m.Called(ctx, portfolioID, now)
	return args.Error(0)
}

func (m *MockMetricsRepository) MarkStale(ctx context.Context, portfolioIDs []uuid.UUID, reason string, now time.Time) (int, error) {
	args := m.Called(ctx, portfolioIDs, reason, now)
	return args.Int(0), args.Error(1)
}

func (m *MockMetricsRepository) SaveComputed(ctx context.Context, metrics *domain.PortfolioMetrics) (bool, error) {
	args := m.Called(ctx, metrics)
	return args.Bool(0), args.Error(1)
}

// MockHoldingRepository is a mock implementation of HoldingRepository for testing
type MockHoldingRepository struct {
	mock.Mock
}

func (m *MockHoldingRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Holding, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Holding), args.Error(1)
}

func (m *MockHoldingRepository) Create(ctx context.Context, holding *domain.Holding) error {
	args := m.Called(ctx, holding)
	return args.Error(0)
}

func (m *MockHoldingRepository) Update(ctx context.Context, holding *domain.Holding) error {
	args := m.Called(ctx, holding)
	return args.Error(0)
}

func (m *MockHoldingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockHoldingRepository) ListByPortfolio(ctx context.Context, portfolioID uuid.UUID) ([]*domain.Holding, error) {
	args := m.Called(ctx, portfolioID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Holding), args.Error(1)
}

func (m *MockHoldingRepository) PortfoliosHolding(ctx context.Context, symbols []string) ([]uuid.UUID, error) {
	args := m.Called(ctx, symbols)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

// MockQuoteRepository is a mock implementation of QuoteRepository for testing
type MockQuoteRepository struct {
	mock.Mock
}

func (m *MockQuoteRepository) Upsert(ctx context.Context, quote *domain.Quote) error {
	args := m.Called(ctx, quote)
	return args.Error(0)
}

func (m *MockQuoteRepository) GetBySymbols(ctx context.Context, symbols []string) (map[string]*domain.Quote, error) {
	args := m.Called(ctx, symbols)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]*domain.Quote), args.Error(1)
}

func holdingOf(symbol string, quantity int64, costBasis *decimal.Decimal) *domain.Holding {
	return &domain.Holding{
		ID:          uuid.New(),
		PortfolioID: uuid.New(),
		Symbol:      symbol,
		Quantity:    decimal.NewFromInt(quantity),
		CostBasis:   costBasis,
	}
}

func costOf(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func quoteOf(symbol string, price int64) *domain.Quote {
	return &domain.Quote{Symbol: symbol, Price: decimal.NewFromInt(price)}
}

func TestCompute_MixedPortfolio(t *testing.T) {
	portfolioID := uuid.New()
	asOf := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	holdings := []*domain.Holding{
		holdingOf("AAPL", 2, costOf(100)),
		holdingOf("MSFT", 3, costOf(150)),
		holdingOf("GOOG", 1, nil), // cost basis unknown, no quote either
	}
	quotes := map[string]*domain.Quote{
		"AAPL": quoteOf("AAPL", 200),
		"MSFT": quoteOf("MSFT", 120),
	}

	metrics := Compute(portfolioID, holdings, quotes, asOf)

	// 2x200 + 3x120 = 760 value; 2x100 + 3x150 + 1x0 = 650 cost; gain 110
	assert.Equal(t, "760", metrics.TotalValue.String())
	assert.Equal(t, "650", metrics.TotalCostBasis.String())
	assert.Equal(t, "110", metrics.UnrealizedGain.String())
	assert.Equal(t, 3, metrics.PositionCount)
	assert.Equal(t, 1, metrics.PositionsMissingQuote)
	assert.False(t, metrics.Stale)
	assert.Equal(t, asOf, metrics.AsOf)
}

func TestCompute_RoundsToSixDecimals(t *testing.T) {
	portfolioID := uuid.New()

	third := decimal.NewFromInt(1).Div(decimal.NewFromInt(3)) // long fraction
	holdings := []*domain.Holding{
		{ID: uuid.New(), Symbol: "AAPL", Quantity: third, CostBasis: costOf(1)},
	}
	quotes := map[string]*domain.Quote{"AAPL": quoteOf("AAPL", 1)}

	metrics := Compute(portfolioID, holdings, quotes, time.Now())

	assert.Equal(t, "0.333333", metrics.TotalValue.String())
	assert.Equal(t, "0.333333", metrics.TotalCostBasis.String())
}

func TestCompute_EmptyPortfolio(t *testing.T) {
	metrics := Compute(uuid.New(), nil, map[string]*domain.Quote{}, time.Now())

	assert.True(t, metrics.TotalValue.IsZero())
	assert.True(t, metrics.UnrealizedGain.IsZero())
	assert.Equal(t, 0, metrics.PositionCount)
	assert.Equal(t, 0, metrics.PositionsMissingQuote)
}

func newTestService(workers int) (*Service, *MockMetricsRepository, *MockHoldingRepository, *MockQuoteRepository, *fakeClock) {
	metricsRepo := new(MockMetricsRepository)
	holdingRepo := new(MockHoldingRepository)
	quoteRepo := new(MockQuoteRepository)
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	service := NewService(metricsRepo, holdingRepo, quoteRepo, clock, zerolog.Nop(), 50, workers)
	return service, metricsRepo, holdingRepo, quoteRepo, clock
}

func staleAggregate(portfolioID uuid.UUID) *domain.PortfolioMetrics {
	return &domain.PortfolioMetrics{
		PortfolioID:    portfolioID,
		TotalValue:     decimal.Zero,
		TotalCostBasis: decimal.Zero,
		UnrealizedGain: decimal.Zero,
		Stale:          true,
		StaleReason:    domain.StaleReasonPricesUpdated,
	}
}

func TestRun_NoStaleAggregates(t *testing.T) {
	ctx := context.Background()
	service, metricsRepo, holdingRepo, _, _ := newTestService(1)

	metricsRepo.On("ClaimStale", ctx, 50, mock.Anything).Return([]*domain.PortfolioMetrics{}, nil)

	result, err := service.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	holdingRepo.AssertNotCalled(t, "ListByPortfolio")
}

func TestRun_RecomputesAndClearsStale(t *testing.T) {
	ctx := context.Background()
	service, metricsRepo, holdingRepo, quoteRepo, clock := newTestService(1)

	portfolioID := uuid.New()
	metricsRepo.On("ClaimStale", ctx, 50, clock.now).Return([]*domain.PortfolioMetrics{staleAggregate(portfolioID)}, nil)
	holdingRepo.On("ListByPortfolio", ctx, portfolioID).
		Return([]*domain.Holding{holdingOf("AAPL", 2, costOf(100))}, nil)
	quoteRepo.On("GetBySymbols", ctx, []string{"AAPL"}).
		Return(map[string]*domain.Quote{"AAPL": quoteOf("AAPL", 200)}, nil)
	metricsRepo.On("SaveComputed", ctx, mock.MatchedBy(func(m *domain.PortfolioMetrics) bool {
		return m.PortfolioID == portfolioID &&
			!m.Stale &&
			m.TotalValue.Equal(decimal.NewFromInt(400)) &&
			m.AsOf.Equal(clock.now)
	})).Return(true, nil)

	result, err := service.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
	metricsRepo.AssertExpectations(t)
}

func TestRun_PortfolioFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	service, metricsRepo, holdingRepo, quoteRepo, _ := newTestService(1)

	badID := uuid.New()
	goodID := uuid.New()
	metricsRepo.On("ClaimStale", ctx, 50, mock.Anything).
		Return([]*domain.PortfolioMetrics{staleAggregate(badID), staleAggregate(goodID)}, nil)

	holdingRepo.On("ListByPortfolio", ctx, badID).Return(nil, errors.New("database timeout"))
	holdingRepo.On("ListByPortfolio", ctx, goodID).Return([]*domain.Holding{}, nil)
	quoteRepo.On("GetBySymbols", ctx, []string{}).Return(map[string]*domain.Quote{}, nil)
	metricsRepo.On("SaveComputed", ctx, mock.MatchedBy(func(m *domain.PortfolioMetrics) bool {
		return m.PortfolioID == goodID
	})).Return(true, nil)

	result, err := service.Run(ctx)

	require.NoError(t, err, "individual portfolio failures never fail the run")
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	// The failed aggregate was never written, so it stays stale for the next run
	metricsRepo.AssertNumberOfCalls(t, "SaveComputed", 1)
}

func TestRun_BoundedWorkerPool(t *testing.T) {
	ctx := context.Background()
	service, metricsRepo, holdingRepo, quoteRepo, _ := newTestService(4)

	var aggregates []*domain.PortfolioMetrics
	for i := 0; i < 8; i++ {
		id := uuid.New()
		aggregates = append(aggregates, staleAggregate(id))
		holdingRepo.On("ListByPortfolio", ctx, id).Return([]*domain.Holding{}, nil)
	}
	metricsRepo.On("ClaimStale", ctx, 50, mock.Anything).Return(aggregates, nil)
	quoteRepo.On("GetBySymbols", ctx, []string{}).Return(map[string]*domain.Quote{}, nil)
	metricsRepo.On("SaveComputed", ctx, mock.Anything).Return(true, nil)

	result, err := service.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, 8, result.Processed)
	assert.Equal(t, 8, result.Succeeded)
}

func TestRun_LostClaimRequeuesAggregate(t *testing.T) {
	ctx := context.Background()
	service, metricsRepo, holdingRepo, quoteRepo, clock := newTestService(1)

	portfolioID := uuid.New()
	metricsRepo.On("ClaimStale", ctx, 50, clock.now).Return([]*domain.PortfolioMetrics{staleAggregate(portfolioID)}, nil)
	holdingRepo.On("ListByPortfolio", ctx, portfolioID).
		Return([]*domain.Holding{holdingOf("AAPL", 2, costOf(100))}, nil)
	quoteRepo.On("GetBySymbols", ctx, []string{"AAPL"}).
		Return(map[string]*domain.Quote{"AAPL": quoteOf("AAPL", 200)}, nil)

	// A concurrent staleness write broke the claim; the conditional save
	// refuses the now-stale result.
	metricsRepo.On("SaveComputed", ctx, mock.Anything).Return(false, nil)

	result, err := service.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 1, result.Requeued)
	metricsRepo.AssertExpectations(t)
}

func TestRun_SelectionFailureIsTerminal(t *testing.T) {
	ctx := context.Background()
	service, metricsRepo, _, _, _ := newTestService(1)

	metricsRepo.On("ClaimStale", ctx, 50, mock.Anything).Return(nil, errors.New("database down"))

	_, err := service.Run(ctx)

	assert.Error(t, err)
}
