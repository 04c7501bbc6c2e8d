package agent

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/deepsentinel/internal/arbitrage"
	"github.com/alanyoungcy/deepsentinel/internal/decision"
	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeVenue struct {
	mu          sync.Mutex
	quotes      []domain.Quote
	quoteErr    error
	settle      func(ctx context.Context, opp domain.Opportunity, size float64) (domain.SettlementResult, error)
	quoteCalls  int
	settleCalls int
	sizes       []float64
	quoted      chan struct{}
}

func (v *fakeVenue) Quotes(context.Context) ([]domain.Quote, error) {
	v.mu.Lock()
	v.quoteCalls++
	quotes, err := v.quotes, v.quoteErr
	v.mu.Unlock()
	if v.quoted != nil {
		select {
		case v.quoted <- struct{}{}:
		default:
		}
	}
	return quotes, err
}

func (v *fakeVenue) Settle(ctx context.Context, opp domain.Opportunity, size float64) (domain.SettlementResult, error) {
	v.mu.Lock()
	v.settleCalls++
	v.sizes = append(v.sizes, size)
	fn := v.settle
	v.mu.Unlock()
	if fn == nil {
		return domain.SettlementResult{Success: true, Reference: "0xabc"}, nil
	}
	return fn(ctx, opp, size)
}

func (v *fakeVenue) settles() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.settleCalls
}

type recordingSink struct {
	mu       sync.Mutex
	agents   []domain.Agent
	opps     map[string]domain.OpportunityStatus
	trades   []domain.Trade
	acts     []domain.Activity
	events   []domain.EventName
	recorded chan struct{}
	// onAgent runs before each RecordAgent is stored.
	onAgent func(domain.Agent)
}

func newSink() *recordingSink {
	return &recordingSink{opps: make(map[string]domain.OpportunityStatus)}
}

func (s *recordingSink) RecordAgent(_ context.Context, a domain.Agent) {
	if s.onAgent != nil {
		s.onAgent(a)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = append(s.agents, a)
}

func (s *recordingSink) RecordOpportunity(_ context.Context, rec domain.OpportunityRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opps[rec.ID] = rec.Status
}

func (s *recordingSink) RecordTrade(_ context.Context, t domain.Trade) {
	s.mu.Lock()
	s.trades = append(s.trades, t)
	s.mu.Unlock()
	if s.recorded != nil {
		s.recorded <- struct{}{}
	}
}

func (s *recordingSink) RecordActivity(_ context.Context, a domain.Activity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acts = append(s.acts, a)
}

func (s *recordingSink) Publish(_ context.Context, e domain.EventName, _ any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) lastAgent() domain.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.agents) == 0 {
		return domain.Agent{}
	}
	return s.agents[len(s.agents)-1]
}

func (s *recordingSink) tradeList() []domain.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Trade(nil), s.trades...)
}

func (s *recordingSink) oppStatuses() map[string]domain.OpportunityStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.OpportunityStatus, len(s.opps))
	for k, v := range s.opps {
		out[k] = v
	}
	return out
}

func (s *recordingSink) activityTypes() []domain.ActivityType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ActivityType, 0, len(s.acts))
	for _, a := range s.acts {
		out = append(out, a.Type)
	}
	return out
}

func (s *recordingSink) eventNames() []domain.EventName {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.EventName(nil), s.events...)
}

// signalMaker wraps a Maker and reports every Decide call.
type signalMaker struct {
	decision.Maker
	called chan struct{}
}

func (m signalMaker) Decide(ctx context.Context, opp domain.Opportunity) domain.Decision {
	d := m.Maker.Decide(ctx, opp)
	select {
	case m.called <- struct{}{}:
	default:
	}
	return d
}

type memStore struct {
	mu      sync.Mutex
	agents  map[string]domain.Agent
	creates int
}

func newMemStore() *memStore {
	return &memStore{agents: make(map[string]domain.Agent)}
}

func (s *memStore) Create(_ context.Context, a domain.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.agents {
		if existing.Kind == a.Kind {
			return domain.ErrAlreadyExists
		}
	}
	s.creates++
	s.agents[a.ID] = a
	return nil
}

func (s *memStore) Update(_ context.Context, a domain.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.agents[a.ID]
	if !ok {
		return domain.ErrNotFound
	}
	cur.Status = a.Status
	cur.Statistics = a.Statistics
	s.agents[a.ID] = cur
	return nil
}

func (s *memStore) UpdateConfig(_ context.Context, id string, cfg domain.AgentConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.agents[id]
	if !ok {
		return domain.ErrNotFound
	}
	cur.Config = cfg
	s.agents[id] = cur
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return domain.Agent{}, domain.ErrNotFound
	}
	return a, nil
}

func (s *memStore) FindByKind(_ context.Context, kind domain.AgentKind) (domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agents {
		if a.Kind == kind {
			return a, nil
		}
	}
	return domain.Agent{}, domain.ErrNotFound
}

func (s *memStore) List(context.Context) ([]domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	return out, nil
}

type flakyLock struct {
	mu       sync.Mutex
	heldFor  int
	attempts int
	released int
}

func (l *flakyLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if l.attempts <= l.heldFor {
		return nil, domain.ErrLockHeld
	}
	return func() {
		l.mu.Lock()
		l.released++
		l.mu.Unlock()
	}, nil
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.ScanInterval = time.Hour
	opts.SettleTimeout = time.Second
	return opts
}

func defaultConfig() domain.AgentConfig {
	return domain.AgentConfig{MinSpreadPct: 0.5, MaxTradeSize: 100}
}

func newTestRunner(status domain.AgentStatus, venue *fakeVenue, maker decision.Maker, sink *recordingSink, opts Options) *Runner {
	a := domain.Agent{
		ID:     "agent-1",
		Name:   "Arbitrage Hunter",
		Kind:   domain.AgentKindArbitrageHunter,
		Status: status,
		Config: defaultConfig(),
	}
	return NewRunner(a, Deps{
		Venue:    venue,
		Detector: arbitrage.NewDetector(discard()),
		Maker:    maker,
		Sink:     sink,
		Logger:   discard(),
	}, opts)
}
