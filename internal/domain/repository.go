package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TickerRepository defines the interface for ticker persistence operations
type TickerRepository interface {
	// ClaimDue atomically claims up to limit active tickers eligible for a
	// refresh: not in backoff at instant now, and either never fetched or
	// last fetched before the fetchedBefore cutoff. Oldest-fetched-first with
	// never-fetched tickers first, so rotation is fair. Claiming places the
	// tickers in a short backoff, so concurrent runs get disjoint batches;
	// MarkFetched or MarkFailed replaces the claim with the real outcome.
	ClaimDue(ctx context.Context, limit int, fetchedBefore, now time.Time) ([]*Ticker, error)

	// Ensure creates the ticker row for a normalized symbol if it does not
	// exist yet. Existing rows are left untouched.
	Ensure(ctx context.Context, symbol string) error

	// MarkFetched records a successful fetch for the given symbols, clearing
	// any previous error and backoff.
	MarkFetched(ctx context.Context, symbols []string, fetchedAt time.Time) error

	// MarkFailed records a failed fetch for the given symbols with the reason
	// and a deferred-retry timestamp.
	MarkFailed(ctx context.Context, symbols []string, reason string, retryAfter time.Time) error
}

// QuoteRepository defines the interface for quote persistence operations
type QuoteRepository interface {
	// Upsert overwrites the single quote row for the quote's symbol
	Upsert(ctx context.Context, quote *Quote) error

	// GetBySymbols returns the current quotes for the given symbols, keyed by
	// normalized symbol. Symbols without a quote are simply absent.
	GetBySymbols(ctx context.Context, symbols []string) (map[string]*Quote, error)
}

// HoldingRepository defines the interface for portfolio holding persistence operations
type HoldingRepository interface {
	// GetByID retrieves a holding by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*Holding, error)

	// Create creates a new holding
	Create(ctx context.Context, holding *Holding) error

	// Update updates quantity and cost basis of an existing holding
	Update(ctx context.Context, holding *Holding) error

	// Delete removes a holding
	Delete(ctx context.Context, id uuid.UUID) error

	// ListByPortfolio retrieves all holdings of a portfolio
	ListByPortfolio(ctx context.Context, portfolioID uuid.UUID) ([]*Holding, error)

	// PortfoliosHolding returns the distinct portfolio IDs that hold any of
	// the given symbols (matched on normalized symbol).
	PortfoliosHolding(ctx context.Context, symbols []string) ([]uuid.UUID, error)
}

// MetricsRepository defines the interface for portfolio aggregate persistence operations
type MetricsRepository interface {
	// ClaimStale atomically claims up to limit stale aggregates,
	// oldest-updated-first, by stamping them with the claimed reason. Only
	// one concurrent run wins each row; abandoned claims expire and are
	// reclaimable.
	ClaimStale(ctx context.Context, limit int, now time.Time) ([]*PortfolioMetrics, error)

	// Ensure creates the aggregate row for a portfolio if it does not exist
	// yet. A freshly created row starts stale with reason "created".
	Ensure(ctx context.Context, portfolioID uuid.UUID, now time.Time) error

	// MarkStale flags the aggregates of the given portfolios as stale with
	// the given reason. Rows that are already stale are left untouched,
	// except claimed ones, whose claim is broken by the new reason; the
	// returned count covers only newly stale rows either way.
	MarkStale(ctx context.Context, portfolioIDs []uuid.UUID, reason string, now time.Time) (int, error)

	// SaveComputed persists a recomputed aggregate with the stale flag
	// cleared, but only while the caller's claim is intact. false means the
	// claim was broken by a concurrent MarkStale and the result was
	// discarded; the row stays stale for the next run.
	SaveComputed(ctx context.Context, metrics *PortfolioMetrics) (bool, error)
}

// ReferenceRepository defines the interface for reference catalog persistence operations
type ReferenceRepository interface {
	// UpsertAll writes all entries, overwriting on symbol collision, and
	// returns the number of rows written.
	UpsertAll(ctx context.Context, entries []*ReferenceEntry) (int, error)

	// DeactivateSeenBefore deactivates every active entry whose last_seen_at
	// predates the cutoff and returns the number of rows deactivated.
	DeactivateSeenBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// CredentialStore defines the interface for the durable quote credential cache.
// Absence of a cached record is a normal outcome, not an error.
type CredentialStore interface {
	// Load returns the cached credential record, or (nil, nil) when none is
	// stored. Expiry is not checked here; that is the caller's job.
	Load(ctx context.Context) (*CredentialRecord, error)

	// Save stores the record in the single credential slot
	Save(ctx context.Context, record *CredentialRecord) error

	// Invalidate removes any stored record
	Invalidate(ctx context.Context) error
}
