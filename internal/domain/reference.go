package domain

import "time"

// AssetType classifies a reference catalog entry
type AssetType string

const (
	AssetTypeStock AssetType = "STOCK"
	AssetTypeETF   AssetType = "ETF"
)

// ReferenceEntry is one row of the instrument reference catalog, sourced
// from the external directory feeds. Entries not observed in the most
// recent sync run are deactivated rather than deleted.
type ReferenceEntry struct {
	Symbol     string
	Name       string
	Exchange   string
	AssetType  AssetType
	IsETF      bool
	Source     string // which feed the entry came from
	IsActive   bool
	LastSeenAt time.Time
}
