package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jpereira/stocklens-backend/internal/domain"
	"github.com/jpereira/stocklens-backend/internal/usecase/holdings"
	"github.com/jpereira/stocklens-backend/internal/usecase/metricsrecalc"
	"github.com/jpereira/stocklens-backend/internal/usecase/priceingest"
	"github.com/jpereira/stocklens-backend/internal/usecase/refsync"
)

const testJobToken = "test-job-token"

// fakeClock returns a fixed instant
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

// fakePinger reports a canned database health state
type fakePinger struct {
	err error
}

func (p *fakePinger) Ping(ctx context.Context) error { return p.err }

// MockTickerRepository is a mock implementation of TickerRepository for testing
type MockTickerRepository struct {
	mock.Mock
}

func (m *MockTickerRepository) ClaimDue(ctx context.Context, limit int, fetchedBefore, now time.Time) ([]*domain.Ticker, error) {
	args := m.Called(ctx, limit, fetchedBefore, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Ticker), args.Error(1)
}

func (m *MockTickerRepository) Ensure(ctx context.Context, symbol string) error {
	args := m.Called(ctx, symbol)
	return args.Error(0)
}

func (m *MockTickerRepository) MarkFetched(ctx context.Context, symbols []string, now time.Time) error {
	args := m.Called(ctx, symbols, now)
	return args.Error(0)
}

func (m *MockTickerRepository) MarkFailed(ctx context.Context, symbols []string, reason string, retryAfter time.Time) error {
	args := m.Called(ctx, symbols, reason, retryAfter)
	return args.Error(0)
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

// MockReferenceRepository is a mock implementation of ReferenceRepository for testing
type MockReferenceRepository struct {
	mock.Mock
}

func (m *MockReferenceRepository) UpsertAll(ctx context.Context, entries []*domain.ReferenceEntry) (int, error) {
	args := m.Called(ctx, entries)
	return args.Int(0), args.Error(1)
}

func (m *MockReferenceRepository) DeactivateSeenBefore(ctx context.Context, cutoff time.Time) (int, error) {
	args := m.Called(ctx, cutoff)
	return args.Int(0), args.Error(1)
}

// MockQuoteFetcher is a mock implementation of the external quote client
type MockQuoteFetcher struct {
	mock.Mock
}

func (m *MockQuoteFetcher) FetchQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	args := m.Called(ctx, symbols)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]domain.Quote), args.Error(1)
}

// MockListingsFetcher is a mock implementation of the directory feed client
type MockListingsFetcher struct {
	mock.Mock
}

func (m *MockListingsFetcher) Listings(ctx context.Context) ([][]*domain.ReferenceEntry, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]*domain.ReferenceEntry), args.Error(1)
}

// testHarness wires real services over mocked repositories behind the router
type testHarness struct {
	handler     http.Handler
	tickerRepo  *MockTickerRepository
	quoteRepo   *MockQuoteRepository
	holdingRepo *MockHoldingRepository
	metricsRepo *MockMetricsRepository
	catalogRepo *MockReferenceRepository
	fetcher     *MockQuoteFetcher
	listings    *MockListingsFetcher
	pinger      *fakePinger
	clock       *fakeClock
}

func newTestHarness() *testHarness {
	h := &testHarness{
		tickerRepo:  new(MockTickerRepository),
		quoteRepo:   new(MockQuoteRepository),
		holdingRepo: new(MockHoldingRepository),
		metricsRepo: new(MockMetricsRepository),
		catalogRepo: new(MockReferenceRepository),
		fetcher:     new(MockQuoteFetcher),
		listings:    new(MockListingsFetcher),
		pinger:      &fakePinger{},
		clock:       &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
	}

	log := zerolog.Nop()
	ingest := priceingest.NewService(h.tickerRepo, h.quoteRepo, h.holdingRepo, h.metricsRepo,
		h.fetcher, h.clock, log, 25, 30*time.Minute, 60*time.Minute)
	recalc := metricsrecalc.NewService(h.metricsRepo, h.holdingRepo, h.quoteRepo, h.clock, log, 50, 1)
	refSync := refsync.NewService(h.catalogRepo, h.listings, h.clock, log)
	holdingsSvc := holdings.NewService(h.holdingRepo, h.tickerRepo, h.metricsRepo, h.clock, log)

	server := NewServer(ingest, recalc, refSync, holdingsSvc, h.pinger, testJobToken, log)
	h.handler = server.Routes()
	return h
}

func (h *testHarness) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("X-Job-Token", token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := newTestHarness()

	rec := h.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	h.pinger.err = errors.New("connection refused")
	rec = h.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded"}`, rec.Body.String())
}

func TestJobEndpoints_RequireToken(t *testing.T) {
	h := newTestHarness()

	for _, path := range []string{"/jobs/prices/refresh", "/jobs/metrics/recompute", "/jobs/reference/sync"} {
		rec := h.do(http.MethodPost, path, "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)

		rec = h.do(http.MethodPost, path, "wrong-token", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestJobEndpoints_RejectOtherMethods(t *testing.T) {
	h := newTestHarness()

	rec := h.do(http.MethodDelete, "/jobs/prices/refresh", testJobToken, "")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, POST", rec.Header().Get("Allow"))
}

func TestRefreshPrices_NoDueTickers(t *testing.T) {
	h := newTestHarness()
	h.tickerRepo.On("ClaimDue", mock.Anything, 25, mock.Anything, mock.Anything).
		Return([]*domain.Ticker{}, nil)

	rec := h.do(http.MethodPost, "/jobs/prices/refresh", testJobToken, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"processed":0,"updated":0,"missing":0,"portfolios_marked_stale":0}`, rec.Body.String())
}

func TestRefreshPrices_UpstreamFailureIsBadGateway(t *testing.T) {
	h := newTestHarness()
	h.tickerRepo.On("ClaimDue", mock.Anything, 25, mock.Anything, mock.Anything).
		Return([]*domain.Ticker{{Symbol: "AAPL", Status: domain.TickerStatusActive}}, nil)
	h.fetcher.On("FetchQuotes", mock.Anything, []string{"AAPL"}).
		Return(nil, errors.New("quote endpoint returned status 500"))
	h.tickerRepo.On("MarkFailed", mock.Anything, []string{"AAPL"}, mock.Anything, mock.Anything).
		Return(nil)

	rec := h.do(http.MethodPost, "/jobs/prices/refresh", testJobToken, "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "upstream_error")
}

func TestRefreshPrices_SelectionFailureIsInternalError(t *testing.T) {
	h := newTestHarness()
	h.tickerRepo.On("ClaimDue", mock.Anything, 25, mock.Anything, mock.Anything).
		Return(nil, errors.New("database down"))

	rec := h.do(http.MethodGet, "/jobs/prices/refresh", testJobToken, "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}

func TestRecomputeMetrics_GetIsAccepted(t *testing.T) {
	h := newTestHarness()
	h.metricsRepo.On("ClaimStale", mock.Anything, 50, h.clock.now).Return([]*domain.PortfolioMetrics{}, nil)

	rec := h.do(http.MethodGet, "/jobs/metrics/recompute", testJobToken, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"processed":0,"succeeded":0,"failed":0}`, rec.Body.String())
}

func TestSyncReference_ReportsCounts(t *testing.T) {
	h := newTestHarness()
	h.listings.On("Listings", mock.Anything).Return([][]*domain.ReferenceEntry{
		{{Symbol: "AAPL", Name: "Apple Inc.", Source: "nasdaq"}},
	}, nil)
	h.catalogRepo.On("UpsertAll", mock.Anything, mock.Anything).Return(1, nil)
	h.catalogRepo.On("DeactivateSeenBefore", mock.Anything, h.clock.now).Return(2, nil)

	rec := h.do(http.MethodPost, "/jobs/reference/sync", testJobToken, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"parsed":1,"upserted":1,"deactivated":2}`, rec.Body.String())
}

func TestAddHolding(t *testing.T) {
	h := newTestHarness()
	portfolioID := uuid.New()

	h.tickerRepo.On("Ensure", mock.Anything, "AAPL").Return(nil)
	h.holdingRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	h.metricsRepo.On("Ensure", mock.Anything, portfolioID, h.clock.now).Return(nil)
	h.metricsRepo.On("MarkStale", mock.Anything, []uuid.UUID{portfolioID}, domain.StaleReasonHoldingsChanged, h.clock.now).
		Return(1, nil)

	rec := h.do(http.MethodPost, "/portfolios/"+portfolioID.String()+"/holdings", "",
		`{"symbol":"aapl","quantity":"10","cost_basis":"150.25"}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"symbol":"AAPL"`)
	assert.Contains(t, rec.Body.String(), `"cost_basis":"150.25"`)
	h.metricsRepo.AssertExpectations(t)
}

func TestAddHolding_InvalidPortfolioID(t *testing.T) {
	h := newTestHarness()

	rec := h.do(http.MethodPost, "/portfolios/not-a-uuid/holdings", "", `{"symbol":"AAPL","quantity":"1"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddHolding_InvalidQuantity(t *testing.T) {
	h := newTestHarness()

	rec := h.do(http.MethodPost, "/portfolios/"+uuid.NewString()+"/holdings", "",
		`{"symbol":"AAPL","quantity":"ten"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid quantity format")
}

func TestAddHolding_MalformedBody(t *testing.T) {
	h := newTestHarness()

	rec := h.do(http.MethodPost, "/portfolios/"+uuid.NewString()+"/holdings", "", "{not json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateHolding(t *testing.T) {
	h := newTestHarness()
	existing := &domain.Holding{
		ID:          uuid.New(),
		PortfolioID: uuid.New(),
		Symbol:      "AAPL",
	}

	h.holdingRepo.On("GetByID", mock.Anything, existing.ID).Return(existing, nil)
	h.holdingRepo.On("Update", mock.Anything, mock.Anything).Return(nil)
	h.metricsRepo.On("Ensure", mock.Anything, existing.PortfolioID, h.clock.now).Return(nil)
	h.metricsRepo.On("MarkStale", mock.Anything, []uuid.UUID{existing.PortfolioID}, domain.StaleReasonHoldingsChanged, h.clock.now).
		Return(1, nil)

	rec := h.do(http.MethodPut, "/holdings/"+existing.ID.String(), "", `{"symbol":"AAPL","quantity":"12"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"quantity":"12"`)
}

func TestUpdateHolding_UnknownIDIsNotFound(t *testing.T) {
	h := newTestHarness()
	id := uuid.New()

	h.holdingRepo.On("GetByID", mock.Anything, id).
		Return(nil, fmt.Errorf("holding %s: %w", id, domain.ErrNotFound))

	rec := h.do(http.MethodPut, "/holdings/"+id.String(), "", `{"symbol":"AAPL","quantity":"12"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	h.holdingRepo.AssertNotCalled(t, "Update")
}

func TestAddHolding_PersistenceFailureIsInternalError(t *testing.T) {
	h := newTestHarness()
	portfolioID := uuid.New()

	h.tickerRepo.On("Ensure", mock.Anything, "AAPL").Return(nil)
	h.holdingRepo.On("Create", mock.Anything, mock.Anything).
		Return(errors.New("pq: connection reset"))

	rec := h.do(http.MethodPost, "/portfolios/"+portfolioID.String()+"/holdings", "",
		`{"symbol":"AAPL","quantity":"10"}`)

	// A storage failure is not the caller's fault, and the driver error
	// must not leak into the response body.
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}

func TestDeleteHolding(t *testing.T) {
	h := newTestHarness()
	existing := &domain.Holding{ID: uuid.New(), PortfolioID: uuid.New(), Symbol: "AAPL"}

	h.holdingRepo.On("GetByID", mock.Anything, existing.ID).Return(existing, nil)
	h.holdingRepo.On("Delete", mock.Anything, existing.ID).Return(nil)
	h.metricsRepo.On("Ensure", mock.Anything, existing.PortfolioID, h.clock.now).Return(nil)
	h.metricsRepo.On("MarkStale", mock.Anything, []uuid.UUID{existing.PortfolioID}, domain.StaleReasonHoldingsChanged, h.clock.now).
		Return(1, nil)

	rec := h.do(http.MethodDelete, "/holdings/"+existing.ID.String(), "", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	h.holdingRepo.AssertExpectations(t)
}
