package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memAgents struct {
	mu      sync.Mutex
	updated []domain.Agent
	err     error
}

func (m *memAgents) Create(context.Context, domain.Agent) error { return nil }
func (m *memAgents) Update(_ context.Context, a domain.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.updated = append(m.updated, a)
	return nil
}
func (m *memAgents) UpdateConfig(context.Context, string, domain.AgentConfig) error { return nil }
func (m *memAgents) GetByID(context.Context, string) (domain.Agent, error) {
	return domain.Agent{}, domain.ErrNotFound
}
func (m *memAgents) FindByKind(context.Context, domain.AgentKind) (domain.Agent, error) {
	return domain.Agent{}, domain.ErrNotFound
}
func (m *memAgents) List(context.Context) ([]domain.Agent, error) { return nil, nil }

type memOpps struct {
	mu   sync.Mutex
	rows map[string]domain.OpportunityRecord
}

func (m *memOpps) Upsert(_ context.Context, rec domain.OpportunityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows == nil {
		m.rows = make(map[string]domain.OpportunityRecord)
	}
	m.rows[rec.ID] = rec
	return nil
}
func (m *memOpps) ListRecent(_ context.Context, agentID string, limit int) ([]domain.OpportunityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OpportunityRecord
	for _, r := range m.rows {
		if agentID == "" || r.AgentID == agentID {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
func (m *memOpps) ListBefore(context.Context, time.Time) ([]domain.OpportunityRecord, error) {
	return nil, nil
}

type memTrades struct {
	mu   sync.Mutex
	rows []domain.Trade
}

func (m *memTrades) Insert(_ context.Context, t domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, t)
	return nil
}
func (m *memTrades) GetByID(_ context.Context, id string) (domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.rows {
		if t.ID == id {
			return t, nil
		}
	}
	return domain.Trade{}, domain.ErrNotFound
}

// List mirrors the Postgres store: newest first.
func (m *memTrades) List(_ context.Context, f domain.TradeFilter) ([]domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Trade
	for _, t := range m.rows {
		if f.AgentID != "" && t.AgentID != f.AgentID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Since != nil && t.ExecutedAt.Before(*f.Since) {
			continue
		}
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b domain.Trade) int { return b.ExecutedAt.Compare(a.ExecutedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
func (m *memTrades) ListBefore(context.Context, time.Time) ([]domain.Trade, error) { return nil, nil }

type memActivity struct {
	mu   sync.Mutex
	rows []domain.Activity
}

func (m *memActivity) Insert(_ context.Context, a domain.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, a)
	return nil
}
func (m *memActivity) ListRecent(_ context.Context, agentID string, limit int) ([]domain.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Activity
	for i := len(m.rows) - 1; i >= 0; i-- {
		if agentID == "" || m.rows[i].AgentID == agentID {
			out = append(out, m.rows[i])
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
func (m *memActivity) ListBefore(context.Context, time.Time) ([]domain.Activity, error) {
	return nil, nil
}

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	stream    [][]byte
	failPub   bool
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failPub {
		return errors.New("bus down")
	}
	if b.published == nil {
		b.published = make(map[string][][]byte)
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}
func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (b *memBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream = append(b.stream, payload)
	return nil
}
func (b *memBus) StreamRevRange(context.Context, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func decodeEnvelope(raw []byte) (domain.Envelope, error) {
	var env domain.Envelope
	err := json.Unmarshal(raw, &env)
	return env, err
}

type staticAgents []domain.Agent

func (s staticAgents) List(context.Context) []domain.Agent { return s }
func (s staticAgents) Get(_ context.Context, id string) (domain.Agent, error) {
	for _, a := range s {
		if a.ID == id {
			return a, nil
		}
	}
	return domain.Agent{}, domain.ErrNotFound
}
