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

// AgentStore implements domain.AgentStore. Config and statistics are
// stored as JSONB.
type AgentStore struct {
	pool *pgxpool.Pool
}

func NewAgentStore(pool *pgxpool.Pool) *AgentStore {
	return &AgentStore{pool: pool}
}

const agentSelectCols = `id, name, kind, status, config, statistics, created_at, updated_at`

func scanAgent(row pgx.Row) (domain.Agent, error) {
	var (
		a                   domain.Agent
		configJSON, statsJS []byte
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Kind, &a.Status, &configJSON, &statsJS, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return domain.Agent{}, err
	}
	if err := json.Unmarshal(configJSON, &a.Config); err != nil {
		return domain.Agent{}, fmt.Errorf("decode config: %w", err)
	}
	if err := json.Unmarshal(statsJS, &a.Statistics); err != nil {
		return domain.Agent{}, fmt.Errorf("decode statistics: %w", err)
	}
	return a, nil
}

// Create inserts a new agent. A second agent of the same kind fails with
// domain.ErrAlreadyExists.
func (s *AgentStore) Create(ctx context.Context, a domain.Agent) error {
	configJSON, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("postgres: marshal agent config: %w", err)
	}
	statsJSON, err := json.Marshal(a.Statistics)
	if err != nil {
		return fmt.Errorf("postgres: marshal agent statistics: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO agents (id, name, kind, status, config, statistics, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.Name, a.Kind, a.Status, configJSON, statsJSON, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create agent %s: %w", a.ID, mapErr(err))
	}
	return nil
}

// Update writes status and statistics.
func (s *AgentStore) Update(ctx context.Context, a domain.Agent) error {
	statsJSON, err := json.Marshal(a.Statistics)
	if err != nil {
		return fmt.Errorf("postgres: marshal agent statistics: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents SET status = $2, statistics = $3, updated_at = $4
		WHERE id = $1`,
		a.ID, a.Status, statsJSON, nonZero(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: update agent %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update agent %s: %w", a.ID, domain.ErrNotFound)
	}
	return nil
}

// UpdateConfig replaces the agent's configuration.
func (s *AgentStore) UpdateConfig(ctx context.Context, id string, cfg domain.AgentConfig) error {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("postgres: marshal agent config: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET config = $2, updated_at = NOW() WHERE id = $1`, id, configJSON)
	if err != nil {
		return fmt.Errorf("postgres: update agent config %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update agent config %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *AgentStore) GetByID(ctx context.Context, id string) (domain.Agent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx,
		`SELECT `+agentSelectCols+` FROM agents WHERE id = $1`, id))
	if err != nil {
		return domain.Agent{}, fmt.Errorf("postgres: get agent %s: %w", id, mapErr(err))
	}
	return a, nil
}

func (s *AgentStore) FindByKind(ctx context.Context, kind domain.AgentKind) (domain.Agent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx,
		`SELECT `+agentSelectCols+` FROM agents WHERE kind = $1`, kind))
	if err != nil {
		return domain.Agent{}, fmt.Errorf("postgres: find agent %s: %w", kind, mapErr(err))
	}
	return a, nil
}

// List returns every agent, oldest first.
func (s *AgentStore) List(ctx context.Context) ([]domain.Agent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+agentSelectCols+` FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list agents: %w", err)
	}
	defer rows.Close()

	var out []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nonZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

var _ domain.AgentStore = (*AgentStore)(nil)
