package domain

import (
	"fmt"
	"strings"
	"time"
)

// TickerStatus represents the lifecycle status of a ticker
type TickerStatus string

const (
	TickerStatusActive   TickerStatus = "ACTIVE"
	TickerStatusInactive TickerStatus = "INACTIVE"
)

// Ticker represents a tradable instrument tracked by the refresh pipeline.
// Rows are created implicitly the first time a holding references the symbol
// and mutated by the price ingestion job after every fetch attempt.
type Ticker struct {
	Symbol         string
	Status         TickerStatus
	LastFetchedAt  *time.Time // nil when never fetched
	LastFetchError *string    // nil after a successful fetch
	RetryAfter     *time.Time // deferred-retry timestamp set after a failed fetch
}

// Validate ensures the ticker adheres to domain rules
func (t *Ticker) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("%w: ticker symbol cannot be empty", ErrValidation)
	}
	if t.Status != TickerStatusActive && t.Status != TickerStatusInactive {
		return fmt.Errorf("%w: ticker status must be ACTIVE or INACTIVE", ErrValidation)
	}
	return nil
}

// NormalizeSymbol uppercases and trims an exchange symbol.
// All symbol comparisons in the system go through this normalization.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
