package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

// ActivityStore implements domain.ActivityStore on the activity_logs table.
type ActivityStore struct {
	pool *pgxpool.Pool
}

func NewActivityStore(pool *pgxpool.Pool) *ActivityStore {
	return &ActivityStore{pool: pool}
}

const activitySelectCols = `id, agent_id, agent_name, event_type, message, level, metadata, created_at`

func scanActivityRows(rows pgx.Rows) ([]domain.Activity, error) {
	var out []domain.Activity
	for rows.Next() {
		var (
			a        domain.Activity
			metaJSON []byte
		)
		if err := rows.Scan(&a.ID, &a.AgentID, &a.AgentName, &a.Type, &a.Message, &a.Level, &metaJSON, &a.CreatedAt); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &a.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *ActivityStore) Insert(ctx context.Context, a domain.Activity) error {
	var metaJSON []byte
	if len(a.Metadata) > 0 {
		var err error
		if metaJSON, err = json.Marshal(a.Metadata); err != nil {
			return fmt.Errorf("postgres: marshal activity metadata: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO activity_logs (id, agent_id, agent_name, event_type, message, level, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.AgentID, a.AgentName, a.Type, a.Message, a.Level, metaJSON, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert activity %s: %w", a.ID, mapErr(err))
	}
	return nil
}

// ListRecent returns the newest entries, for one agent or (agentID == "")
// all of them.
func (s *ActivityStore) ListRecent(ctx context.Context, agentID string, limit int) ([]domain.Activity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+activitySelectCols+` FROM activity_logs
		WHERE ($1 = '' OR agent_id = $1)
		ORDER BY created_at DESC
		LIMIT $2`, agentID, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres: list activity: %w", err)
	}
	defer rows.Close()

	out, err := scanActivityRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan activity: %w", err)
	}
	return out, nil
}

// ListBefore returns entries created before the cutoff, oldest first.
func (s *ActivityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Activity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+activitySelectCols+` FROM activity_logs WHERE created_at < $1 ORDER BY created_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list activity before: %w", err)
	}
	defer rows.Close()

	out, err := scanActivityRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan activity: %w", err)
	}
	return out, nil
}

var _ domain.ActivityStore = (*ActivityStore)(nil)
