package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jpereira/stocklens-backend/internal/domain"
)

// referenceRepository implements domain.ReferenceRepository
type referenceRepository struct {
	db *DB
}

// NewReferenceRepository creates a new reference catalog repository
func NewReferenceRepository(db *DB) domain.ReferenceRepository {
	return &referenceRepository{db: db}
}

// UpsertAll writes all entries inside one transaction, overwriting on symbol collision
func (r *referenceRepository) UpsertAll(ctx context.Context, entries []*domain.ReferenceEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO reference_entries
			(symbol, name, exchange, asset_type, is_etf, source, is_active, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol) DO UPDATE SET
			name = EXCLUDED.name,
			exchange = EXCLUDED.exchange,
			asset_type = EXCLUDED.asset_type,
			is_etf = EXCLUDED.is_etf,
			source = EXCLUDED.source,
			is_active = EXCLUDED.is_active,
			last_seen_at = EXCLUDED.last_seen_at
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, entry := range entries {
		if _, err := stmt.ExecContext(ctx,
			domain.NormalizeSymbol(entry.Symbol),
			entry.Name,
			entry.Exchange,
			string(entry.AssetType),
			entry.IsETF,
			entry.Source,
			entry.IsActive,
			entry.LastSeenAt,
		); err != nil {
			return 0, fmt.Errorf("failed to upsert reference entry %s: %w", entry.Symbol, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit reference upsert: %w", err)
	}

	return count, nil
}

// DeactivateSeenBefore deactivates every active entry not observed since cutoff
func (r *referenceRepository) DeactivateSeenBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		UPDATE reference_entries
		SET is_active = FALSE
		WHERE is_active AND last_seen_at < $1
	`

	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate reference entries: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deactivated entries: %w", err)
	}

	return int(affected), nil
}
