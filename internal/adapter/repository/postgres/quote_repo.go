package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/jpereira/stocklens-backend/internal/domain"
)

// quoteRepository implements domain.QuoteRepository
type quoteRepository struct {
	db *DB
}

// NewQuoteRepository creates a new quote repository
func NewQuoteRepository(db *DB) domain.QuoteRepository {
	return &quoteRepository{db: db}
}

// Upsert overwrites the single quote row for the quote's symbol
func (r *quoteRepository) Upsert(ctx context.Context, quote *domain.Quote) error {
	query := `
		INSERT INTO quotes (symbol, price, currency, price_as_of, retrieved_at, source)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (symbol) DO UPDATE SET
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			price_as_of = EXCLUDED.price_as_of,
			retrieved_at = EXCLUDED.retrieved_at,
			source = EXCLUDED.source
	`

	_, err := r.db.ExecContext(ctx, query,
		domain.NormalizeSymbol(quote.Symbol),
		quote.Price.String(),
		quote.Currency,
		quote.PriceAsOf,
		quote.RetrievedAt,
		quote.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert quote: %w", err)
	}

	return nil
}

// GetBySymbols returns the current quotes keyed by symbol
func (r *quoteRepository) GetBySymbols(ctx context.Context, symbols []string) (map[string]*domain.Quote, error) {
	quotes := make(map[string]*domain.Quote)
	if len(symbols) == 0 {
		return quotes, nil
	}

	query := `
		SELECT symbol, price, currency, price_as_of, retrieved_at, source
		FROM quotes
		WHERE symbol = ANY($1)
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(symbols))
	if err != nil {
		return nil, fmt.Errorf("failed to select quotes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var quote domain.Quote
		var priceStr string

		if err := rows.Scan(
			&quote.Symbol,
			&priceStr,
			&quote.Currency,
			&quote.PriceAsOf,
			&quote.RetrievedAt,
			&quote.Source,
		); err != nil {
			return nil, fmt.Errorf("failed to scan quote: %w", err)
		}

		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse price: %w", err)
		}
		quote.Price = price

		quotes[quote.Symbol] = &quote
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate quotes: %w", err)
	}

	return quotes, nil
}
