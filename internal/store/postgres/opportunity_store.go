package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const opportunitySelectCols = `id, agent_id, type, pool_a, price_a, pool_b, price_b,
	spread, estimated_profit, status, detected_at`

func scanOpportunityRows(rows pgx.Rows) ([]domain.OpportunityRecord, error) {
	var out []domain.OpportunityRecord
	for rows.Next() {
		var r domain.OpportunityRecord
		if err := rows.Scan(
			&r.ID, &r.AgentID, &r.Type,
			&r.LegA.Name, &r.LegA.Price, &r.LegB.Name, &r.LegB.Price,
			&r.SpreadPct, &r.EstimatedProfit, &r.Status, &r.DetectedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Upsert inserts the opportunity, or moves an existing row to rec.Status.
func (s *OpportunityStore) Upsert(ctx context.Context, rec domain.OpportunityRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO opportunities (
			id, agent_id, type, pool_a, price_a, pool_b, price_b,
			spread, estimated_profit, status, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()`,
		rec.ID, rec.AgentID, rec.Type, rec.LegA.Name, rec.LegA.Price, rec.LegB.Name, rec.LegB.Price,
		rec.SpreadPct, rec.EstimatedProfit, rec.Status, rec.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert opportunity %s: %w", rec.ID, err)
	}
	return nil
}

// ListRecent returns the newest opportunities, optionally for one agent.
func (s *OpportunityStore) ListRecent(ctx context.Context, agentID string, limit int) ([]domain.OpportunityRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+opportunitySelectCols+` FROM opportunities
		WHERE ($1 = '' OR agent_id = $1)
		ORDER BY detected_at DESC
		LIMIT $2`, agentID, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	defer rows.Close()

	out, err := scanOpportunityRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan opportunities: %w", err)
	}
	return out, nil
}

// ListBefore returns opportunities detected before the cutoff, oldest first.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.OpportunityRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+opportunitySelectCols+` FROM opportunities
		WHERE detected_at < $1 ORDER BY detected_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before: %w", err)
	}
	defer rows.Close()

	out, err := scanOpportunityRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan opportunities: %w", err)
	}
	return out, nil
}

// limitOrAll maps a non-positive limit to NULL, which LIMIT treats as no
// limit.
func limitOrAll(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)
