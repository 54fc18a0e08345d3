package priceingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jpereira/stocklens-backend/internal/domain"
)

// Error recorded on tickers that were requested but not returned upstream
const errQuoteNotReturned = "quote not returned"

// QuoteFetcher defines the contract for the external quote client
type QuoteFetcher interface {
	// FetchQuotes returns quotes keyed by normalized symbol for the subset of
	// the requested symbols that could be priced.
	FetchQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error)
}

// Service runs the staleness-driven price ingestion batch:
// select due tickers, fetch quotes, reconcile partial results, update ticker
// bookkeeping and propagate staleness to dependent portfolio aggregates.
type Service struct {
	TickerRepo  domain.TickerRepository
	QuoteRepo   domain.QuoteRepository
	HoldingRepo domain.HoldingRepository
	MetricsRepo domain.MetricsRepository
	Fetcher     QuoteFetcher
	Clock       domain.Clock
	Log         zerolog.Logger

	BatchSize        int
	MinFetchInterval time.Duration
	ErrorBackoff     time.Duration
}

// NewService creates a new price ingestion service
func NewService(
	tickerRepo domain.TickerRepository,
	quoteRepo domain.QuoteRepository,
	holdingRepo domain.HoldingRepository,
	metricsRepo domain.MetricsRepository,
	fetcher QuoteFetcher,
	clock domain.Clock,
	log zerolog.Logger,
	batchSize int,
	minFetchInterval, errorBackoff time.Duration,
) *Service {
	return &Service{
		TickerRepo:       tickerRepo,
		QuoteRepo:        quoteRepo,
		HoldingRepo:      holdingRepo,
		MetricsRepo:      metricsRepo,
		Fetcher:          fetcher,
		Clock:            clock,
		Log:              log.With().Str("job", "price_ingest").Logger(),
		BatchSize:        batchSize,
		MinFetchInterval: minFetchInterval,
		ErrorBackoff:     errorBackoff,
	}
}

// Result is the outcome document of one ingestion run
type Result struct {
	Processed             int    `json:"processed"`
	Updated               int    `json:"updated"`
	Missing               int    `json:"missing"`
	PortfoliosMarkedStale int    `json:"portfolios_marked_stale"`
	UpstreamError         string `json:"upstream_error,omitempty"`
}

// UpstreamFailed reports whether the whole quote fetch call failed
func (r *Result) UpstreamFailed() bool {
	return r.UpstreamError != ""
}

// Run executes one ingestion batch. Per-ticker errors are isolated, logged
// and counted; only an error before the fetch (selection itself) is terminal.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	now := s.Clock.Now()

	// Claiming places the batch in a short backoff, keeping a concurrently
	// fired run off the same tickers. The claim is replaced below by the
	// real outcome of the fetch.
	tickers, err := s.TickerRepo.ClaimDue(ctx, s.BatchSize, now.Add(-s.MinFetchInterval), now)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due tickers: %w", err)
	}
	if len(tickers) == 0 {
		return &Result{}, nil
	}

	symbols := make([]string, len(tickers))
	for i, ticker := range tickers {
		symbols[i] = domain.NormalizeSymbol(ticker.Symbol)
	}

	quotes, err := s.Fetcher.FetchQuotes(ctx, symbols)
	if err != nil {
		// The whole call failed upstream: every selected ticker gets the
		// failure reason and a backoff, and the run reports a
		// distinguishable upstream-failure outcome.
		s.Log.Error().Err(err).Int("tickers", len(symbols)).Msg("quote fetch failed")
		if markErr := s.TickerRepo.MarkFailed(ctx, symbols, err.Error(), now.Add(s.ErrorBackoff)); markErr != nil {
			s.Log.Error().Err(markErr).Msg("failed to record fetch failure on tickers")
		}
		return &Result{Processed: len(tickers), UpstreamError: err.Error()}, nil
	}

	// Partition selected symbols into succeeded and missing. Both sides are
	// normalized uppercase, so the match is effectively case-insensitive.
	var succeeded, missing []string
	for _, symbol := range symbols {
		if _, ok := quotes[symbol]; ok {
			succeeded = append(succeeded, symbol)
		} else {
			missing = append(missing, symbol)
		}
	}

	result := &Result{Processed: len(tickers), Missing: len(missing)}

	var written []string
	for _, symbol := range succeeded {
		quote := quotes[symbol]
		if err := s.QuoteRepo.Upsert(ctx, &quote); err != nil {
			s.Log.Error().Err(err).Str("symbol", symbol).Msg("failed to upsert quote")
			if markErr := s.TickerRepo.MarkFailed(ctx, []string{symbol}, err.Error(), now.Add(s.ErrorBackoff)); markErr != nil {
				s.Log.Error().Err(markErr).Str("symbol", symbol).Msg("failed to record upsert failure")
			}
			continue
		}
		written = append(written, symbol)
	}
	result.Updated = len(written)

	if len(written) > 0 {
		if err := s.TickerRepo.MarkFetched(ctx, written, now); err != nil {
			s.Log.Error().Err(err).Msg("failed to update ticker bookkeeping")
		}
	}
	if len(missing) > 0 {
		if err := s.TickerRepo.MarkFailed(ctx, missing, errQuoteNotReturned, now.Add(s.ErrorBackoff)); err != nil {
			s.Log.Error().Err(err).Msg("failed to record missing quotes on tickers")
		}
	}

	// Staleness propagation: the sole cross-entity side effect of a
	// successful price refresh. No database trigger performs this.
	if len(written) > 0 {
		portfolioIDs, err := s.HoldingRepo.PortfoliosHolding(ctx, written)
		if err != nil {
			s.Log.Error().Err(err).Msg("failed to resolve portfolios for refreshed tickers")
		} else if len(portfolioIDs) > 0 {
			marked, err := s.MetricsRepo.MarkStale(ctx, portfolioIDs, domain.StaleReasonPricesUpdated, now)
			if err != nil {
				s.Log.Error().Err(err).Msg("failed to mark aggregates stale")
			} else {
				result.PortfoliosMarkedStale = marked
			}
		}
	}

	s.Log.Info().
		Int("processed", result.Processed).
		Int("updated", result.Updated).
		Int("missing", result.Missing).
		Int("portfolios_marked_stale", result.PortfoliosMarkedStale).
		Msg("price ingestion run complete")

	return result, nil
}
