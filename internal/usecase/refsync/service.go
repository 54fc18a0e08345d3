package refsync

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jpereira/stocklens-backend/internal/domain"
)

// ListingsFetcher defines the contract for the directory feed client
type ListingsFetcher interface {
	// Listings returns the parsed entry lists in merge priority order
	Listings(ctx context.Context) ([][]*domain.ReferenceEntry, error)
}

// Service synchronizes the instrument reference catalog with the external
// directory feeds using a full-replace-by-timestamp strategy: upsert
// everything observed in this run, then deactivate everything older.
type Service struct {
	CatalogRepo domain.ReferenceRepository
	Fetcher     ListingsFetcher
	Clock       domain.Clock
	Log         zerolog.Logger
}

// NewService creates a new reference catalog sync service
func NewService(catalogRepo domain.ReferenceRepository, fetcher ListingsFetcher, clock domain.Clock, log zerolog.Logger) *Service {
	return &Service{
		CatalogRepo: catalogRepo,
		Fetcher:     fetcher,
		Clock:       clock,
		Log:         log.With().Str("job", "reference_sync").Logger(),
	}
}

// Result is the outcome document of one sync run
type Result struct {
	Parsed      int `json:"parsed"`
	Upserted    int `json:"upserted"`
	Deactivated int `json:"deactivated"`
}

// Run downloads both feeds, merges them first-seen-wins and replaces the
// catalog by timestamp.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	feedLists, err := s.Fetcher.Listings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch directory feeds: %w", err)
	}

	runTime := s.Clock.Now()
	merged := Merge(feedLists)
	for _, entry := range merged {
		entry.IsActive = true
		entry.LastSeenAt = runTime
	}

	upserted, err := s.CatalogRepo.UpsertAll(ctx, merged)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert reference entries: %w", err)
	}

	deactivated, err := s.CatalogRepo.DeactivateSeenBefore(ctx, runTime)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate vanished entries: %w", err)
	}

	result := &Result{Parsed: len(merged), Upserted: upserted, Deactivated: deactivated}

	s.Log.Info().
		Int("parsed", result.Parsed).
		Int("upserted", result.Upserted).
		Int("deactivated", result.Deactivated).
		Msg("reference catalog sync complete")

	return result, nil
}

// Merge flattens the prioritized feed lists into one, keeping the first
// occurrence of each symbol: on a collision the earlier feed's fields win.
func Merge(feedLists [][]*domain.ReferenceEntry) []*domain.ReferenceEntry {
	seen := make(map[string]struct{})
	var merged []*domain.ReferenceEntry

	for _, list := range feedLists {
		for _, entry := range list {
			symbol := domain.NormalizeSymbol(entry.Symbol)
			if _, ok := seen[symbol]; ok {
				continue
			}
			seen[symbol] = struct{}{}
			merged = append(merged, entry)
		}
	}

	return merged
}
