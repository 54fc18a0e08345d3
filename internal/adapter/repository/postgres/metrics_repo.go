package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/jpereira/stocklens-backend/internal/domain"
)

// recomputeClaimWindow is how long a claim on a stale aggregate holds before
// another run may reclaim it. Long enough for any recompute, short enough
// that a crashed run does not park the row for a whole schedule cycle.
const recomputeClaimWindow = 10 * time.Minute

// metricsRepository implements domain.MetricsRepository
type metricsRepository struct {
	db *DB
}

// NewMetricsRepository creates a new portfolio metrics repository
func NewMetricsRepository(db *DB) domain.MetricsRepository {
	return &metricsRepository{db: db}
}

// ClaimStale claims up to limit stale aggregates, oldest-updated-first, by
// stamping them with the claimed reason. Rows stay stale while claimed, so a
// crash loses nothing; expired claims are picked up again via the updated_at
// cutoff.
func (r *metricsRepository) ClaimStale(ctx context.Context, limit int, now time.Time) ([]*domain.PortfolioMetrics, error) {
	query := `
		UPDATE portfolio_metrics
		SET stale_reason = $2, updated_at = $3
		WHERE portfolio_id IN (
			SELECT portfolio_id
			FROM portfolio_metrics
			WHERE stale AND (stale_reason <> $2 OR updated_at < $4)
			ORDER BY updated_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING portfolio_id, total_value, total_cost_basis, unrealized_gain,
		          position_count, positions_missing_quotes, as_of, stale, stale_reason, updated_at
	`

	rows, err := r.db.QueryContext(ctx, query,
		limit, domain.StaleReasonClaimed, now, now.Add(-recomputeClaimWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to claim stale aggregates: %w", err)
	}
	defer rows.Close()

	var metrics []*domain.PortfolioMetrics
	for rows.Next() {
		var m domain.PortfolioMetrics
		var totalValueStr, totalCostStr, gainStr string

		if err := rows.Scan(
			&m.PortfolioID,
			&totalValueStr,
			&totalCostStr,
			&gainStr,
			&m.PositionCount,
			&m.PositionsMissingQuote,
			&m.AsOf,
			&m.Stale,
			&m.StaleReason,
			&m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}

		if m.TotalValue, err = decimal.NewFromString(totalValueStr); err != nil {
			return nil, fmt.Errorf("failed to parse total_value: %w", err)
		}
		if m.TotalCostBasis, err = decimal.NewFromString(totalCostStr); err != nil {
			return nil, fmt.Errorf("failed to parse total_cost_basis: %w", err)
		}
		if m.UnrealizedGain, err = decimal.NewFromString(gainStr); err != nil {
			return nil, fmt.Errorf("failed to parse unrealized_gain: %w", err)
		}

		metrics = append(metrics, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate aggregates: %w", err)
	}

	return metrics, nil
}

// Ensure creates the aggregate row for a portfolio if it does not exist yet.
// A freshly created row starts stale so the next recompute run picks it up.
func (r *metricsRepository) Ensure(ctx context.Context, portfolioID uuid.UUID, now time.Time) error {
	query := `
		INSERT INTO portfolio_metrics
			(portfolio_id, total_value, total_cost_basis, unrealized_gain,
			 position_count, positions_missing_quotes, as_of, stale, stale_reason, updated_at)
		VALUES ($1, 0, 0, 0, 0, 0, $2, TRUE, $3, $2)
		ON CONFLICT (portfolio_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query, portfolioID, now, domain.StaleReasonCreated)
	if err != nil {
		return fmt.Errorf("failed to ensure aggregate: %w", err)
	}

	return nil
}

// MarkStale flags aggregates of the given portfolios as stale. Already-stale
// rows are untouched, which keeps the operation idempotent, except claimed
// ones: those get the new reason, breaking the in-flight claim so the stale
// recompute result is discarded. The returned count covers only rows that
// were not stale before.
func (r *metricsRepository) MarkStale(ctx context.Context, portfolioIDs []uuid.UUID, reason string, now time.Time) (int, error) {
	if len(portfolioIDs) == 0 {
		return 0, nil
	}

	query := `
		UPDATE portfolio_metrics m
		SET stale = TRUE, stale_reason = $2, updated_at = $3
		FROM (
			SELECT portfolio_id, stale AS was_stale
			FROM portfolio_metrics
			WHERE portfolio_id = ANY($1) AND (NOT stale OR stale_reason = $4)
			FOR UPDATE
		) prev
		WHERE m.portfolio_id = prev.portfolio_id
		RETURNING prev.was_stale
	`

	ids := make([]string, len(portfolioIDs))
	for i, id := range portfolioIDs {
		ids[i] = id.String()
	}

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids), reason, now, domain.StaleReasonClaimed)
	if err != nil {
		return 0, fmt.Errorf("failed to mark aggregates stale: %w", err)
	}
	defer rows.Close()

	newlyStale := 0
	for rows.Next() {
		var wasStale bool
		if err := rows.Scan(&wasStale); err != nil {
			return 0, fmt.Errorf("failed to scan marked aggregate: %w", err)
		}
		if !wasStale {
			newlyStale++
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate marked aggregates: %w", err)
	}

	return newlyStale, nil
}

// SaveComputed persists a recomputed aggregate and clears the stale flag,
// but only while the row still carries this run's claim. Zero rows affected
// means a concurrent MarkStale took the row back; the result is dropped and
// the row stays stale for the next run.
func (r *metricsRepository) SaveComputed(ctx context.Context, metrics *domain.PortfolioMetrics) (bool, error) {
	query := `
		UPDATE portfolio_metrics
		SET total_value = $2,
			total_cost_basis = $3,
			unrealized_gain = $4,
			position_count = $5,
			positions_missing_quotes = $6,
			as_of = $7,
			stale = FALSE,
			stale_reason = '',
			updated_at = $8
		WHERE portfolio_id = $1 AND stale_reason = $9
	`

	res, err := r.db.ExecContext(ctx, query,
		metrics.PortfolioID,
		metrics.TotalValue.String(),
		metrics.TotalCostBasis.String(),
		metrics.UnrealizedGain.String(),
		metrics.PositionCount,
		metrics.PositionsMissingQuote,
		metrics.AsOf,
		metrics.UpdatedAt,
		domain.StaleReasonClaimed,
	)
	if err != nil {
		return false, fmt.Errorf("failed to save recomputed aggregate: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count saved aggregates: %w", err)
	}

	return affected > 0, nil
}
