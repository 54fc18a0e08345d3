package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote represents the latest known price for a ticker plus provenance metadata.
// There is exactly one quote row per ticker; the ingestion job always
// overwrites it (upsert), never appends history.
type Quote struct {
	Symbol      string
	Price       decimal.Decimal
	Currency    string
	PriceAsOf   time.Time // source timestamp of the price
	RetrievedAt time.Time // when the system fetched it
	Source      string    // free-form provenance, e.g. "yahoo:regular"
}
