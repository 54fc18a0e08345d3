package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/jpereira/stocklens-backend/internal/domain"
)

// fetchClaimWindow is the backoff placed on claimed tickers. It keeps
// concurrent runs off the same batch and expires on its own if a run dies
// before recording an outcome. Must stay below the minimum refetch interval.
const fetchClaimWindow = 5 * time.Minute

// tickerRepository implements domain.TickerRepository
type tickerRepository struct {
	db *DB
}

// NewTickerRepository creates a new ticker repository
func NewTickerRepository(db *DB) domain.TickerRepository {
	return &tickerRepository{db: db}
}

// ClaimDue claims up to limit active tickers eligible for a refresh by
// placing them in a short backoff, so a concurrent run selects past them.
// Never-fetched tickers sort first so new symbols are picked up immediately.
func (r *tickerRepository) ClaimDue(ctx context.Context, limit int, fetchedBefore, now time.Time) ([]*domain.Ticker, error) {
	query := `
		UPDATE tickers
		SET retry_after = $5
		WHERE symbol IN (
			SELECT symbol
			FROM tickers
			WHERE status = $1
			  AND (retry_after IS NULL OR retry_after <= $2)
			  AND (last_fetched_at IS NULL OR last_fetched_at < $3)
			ORDER BY last_fetched_at ASC NULLS FIRST
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING symbol, status, last_fetched_at, last_fetch_error, retry_after
	`

	rows, err := r.db.QueryContext(ctx, query,
		string(domain.TickerStatusActive), now, fetchedBefore, limit, now.Add(fetchClaimWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to claim due tickers: %w", err)
	}
	defer rows.Close()

	var tickers []*domain.Ticker
	for rows.Next() {
		var ticker domain.Ticker
		if err := rows.Scan(
			&ticker.Symbol,
			&ticker.Status,
			&ticker.LastFetchedAt,
			&ticker.LastFetchError,
			&ticker.RetryAfter,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ticker: %w", err)
		}
		tickers = append(tickers, &ticker)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tickers: %w", err)
	}

	return tickers, nil
}

// Ensure creates the ticker row for a symbol if it does not exist yet
func (r *tickerRepository) Ensure(ctx context.Context, symbol string) error {
	query := `
		INSERT INTO tickers (symbol, status)
		VALUES ($1, $2)
		ON CONFLICT (symbol) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query, domain.NormalizeSymbol(symbol), string(domain.TickerStatusActive))
	if err != nil {
		return fmt.Errorf("failed to ensure ticker: %w", err)
	}

	return nil
}

// MarkFetched records a successful fetch, clearing error and backoff
func (r *tickerRepository) MarkFetched(ctx context.Context, symbols []string, fetchedAt time.Time) error {
	if len(symbols) == 0 {
		return nil
	}

	query := `
		UPDATE tickers
		SET last_fetched_at = $2, last_fetch_error = NULL, retry_after = NULL
		WHERE symbol = ANY($1)
	`

	_, err := r.db.ExecContext(ctx, query, pq.Array(symbols), fetchedAt)
	if err != nil {
		return fmt.Errorf("failed to mark tickers fetched: %w", err)
	}

	return nil
}

// MarkFailed records a failed fetch with the reason and a backoff timestamp
func (r *tickerRepository) MarkFailed(ctx context.Context, symbols []string, reason string, retryAfter time.Time) error {
	if len(symbols) == 0 {
		return nil
	}

	query := `
		UPDATE tickers
		SET last_fetch_error = $2, retry_after = $3
		WHERE symbol = ANY($1)
	`

	_, err := r.db.ExecContext(ctx, query, pq.Array(symbols), reason, retryAfter)
	if err != nil {
		return fmt.Errorf("failed to mark tickers failed: %w", err)
	}

	return nil
}
