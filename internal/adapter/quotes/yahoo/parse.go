package yahoo

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jpereira/stocklens-backend/internal/domain"
)

type quoteResponse struct {
	QuoteResponse struct {
		Result []quoteEntry    `json:"result"`
		Error  json.RawMessage `json:"error"`
	} `json:"quoteResponse"`
}

type quoteEntry struct {
	Symbol             string   `json:"symbol"`
	Currency           string   `json:"currency"`
	RegularMarketPrice *float64 `json:"regularMarketPrice"`
	PostMarketPrice    *float64 `json:"postMarketPrice"`
	PreMarketPrice     *float64 `json:"preMarketPrice"`
	RegularMarketTime  *int64   `json:"regularMarketTime"`
	PostMarketTime     *int64   `json:"postMarketTime"`
	PreMarketTime      *int64   `json:"preMarketTime"`
}

// parseQuoteResponse extracts usable quotes from a data call response.
// Entries with no usable numeric price are dropped silently: the symbol is
// then simply reported as missing by the caller.
func parseQuoteResponse(r io.Reader, retrievedAt time.Time) (map[string]domain.Quote, error) {
	var body quoteResponse
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding quote response: %w", err)
	}

	quotes := make(map[string]domain.Quote, len(body.QuoteResponse.Result))
	for _, entry := range body.QuoteResponse.Result {
		price, session, priceAsOf := pickPrice(entry, retrievedAt)
		if price == nil {
			continue
		}

		symbol := domain.NormalizeSymbol(entry.Symbol)
		quotes[symbol] = domain.Quote{
			Symbol:      symbol,
			Price:       decimal.NewFromFloat(*price),
			Currency:    entry.Currency,
			PriceAsOf:   priceAsOf,
			RetrievedAt: retrievedAt,
			Source:      "yahoo:" + session,
		}
	}

	return quotes, nil
}

// pickPrice applies the fixed session precedence: regular market first, then
// post-market, then pre-market. The precedence is policy, not incidental
// ordering. NaN counts as "no usable price".
func pickPrice(entry quoteEntry, fallbackTime time.Time) (*float64, string, time.Time) {
	candidates := []struct {
		price   *float64
		at      *int64
		session string
	}{
		{entry.RegularMarketPrice, entry.RegularMarketTime, "regular"},
		{entry.PostMarketPrice, entry.PostMarketTime, "post"},
		{entry.PreMarketPrice, entry.PreMarketTime, "pre"},
	}

	for _, c := range candidates {
		if c.price == nil || math.IsNaN(*c.price) {
			continue
		}
		at := fallbackTime
		if c.at != nil {
			at = time.Unix(*c.at, 0).UTC()
		}
		return c.price, c.session, at
	}

	return nil, "", fallbackTime
}
