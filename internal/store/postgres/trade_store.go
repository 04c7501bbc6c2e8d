package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, agent_id, opportunity_id, type, pool_a, pool_b, spread,
	profit_amount, profit_token, gas_used, tx_hash, status, error_message,
	confidence, reasoning, executed_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	err := row.Scan(
		&t.ID, &t.AgentID, &t.OpportunityID, &t.Type, &t.LegA, &t.LegB, &t.Spread,
		&t.ProfitAmount, &t.ProfitToken, &t.GasUsed, &t.Reference, &t.Status, &t.ErrorMessage,
		&t.DecisionConfidence, &t.DecisionReasoning, &t.ExecutedAt,
	)
	return t, err
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert writes a trade. Trades are immutable, so a duplicate ID is an
// error.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trades (
			id, agent_id, opportunity_id, type, pool_a, pool_b, spread,
			profit_amount, profit_token, gas_used, tx_hash, status, error_message,
			confidence, reasoning, executed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16
		)`,
		t.ID, t.AgentID, t.OpportunityID, t.Type, t.LegA, t.LegB, t.Spread,
		t.ProfitAmount, t.ProfitToken, t.GasUsed, t.Reference, t.Status, t.ErrorMessage,
		t.DecisionConfidence, t.DecisionReasoning, t.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, mapErr(err))
	}
	return nil
}

func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	t, err := scanTrade(s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id))
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, mapErr(err))
	}
	return t, nil
}

// List returns trades matching f, newest first.
func (s *TradeStore) List(ctx context.Context, f domain.TradeFilter) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE TRUE`
	var args []any
	argIdx := 1

	if f.AgentID != "" {
		query += fmt.Sprintf(" AND agent_id = $%d", argIdx)
		args = append(args, f.AgentID)
		argIdx++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, f.Status)
		argIdx++
	}
	if f.Since != nil {
		query += fmt.Sprintf(" AND executed_at >= $%d", argIdx)
		args = append(args, *f.Since)
		argIdx++
	}

	query += " ORDER BY executed_at DESC"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// ListBefore returns trades executed before the cutoff, oldest first.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE executed_at < $1 ORDER BY executed_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
