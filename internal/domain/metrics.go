package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reasons recorded on an aggregate when it is marked stale
const (
	StaleReasonCreated         = "created"
	StaleReasonPricesUpdated   = "prices_updated"
	StaleReasonHoldingsChanged = "holdings_changed"

	// StaleReasonClaimed marks a stale aggregate claimed by an in-flight
	// recompute run. Re-marking the row with a real reason breaks the claim,
	// so the run's result is discarded and the row is recomputed next run.
	StaleReasonClaimed = "claimed"
)

// PortfolioMetrics is the cached, derived analytics row for a portfolio.
// Exactly one row exists per portfolio once created; it starts stale and the
// stale flag acts as the work queue for the recomputation job.
type PortfolioMetrics struct {
	PortfolioID           uuid.UUID
	TotalValue            decimal.Decimal
	TotalCostBasis        decimal.Decimal
	UnrealizedGain        decimal.Decimal
	PositionCount         int
	PositionsMissingQuote int
	AsOf                  time.Time
	Stale                 bool
	StaleReason           string
	UpdatedAt             time.Time
}
