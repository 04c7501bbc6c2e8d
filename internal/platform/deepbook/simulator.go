// Package deepbook simulates a set of DeepBook liquidity pools: it quotes
// jittered prices around a base price and settles two-leg trades with a
// configurable latency and success rate. No chain is contacted.
package deepbook

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

// ErrInsufficientLiquidity is the failure message reported for a rejected
// settlement.
const ErrInsufficientLiquidity = "Transaction failed: Insufficient liquidity"

// Config tunes the simulated pools.
type Config struct {
	BasePrice float64
	// BaseJitter moves the base price uniformly within ±BaseJitter per tick.
	BaseJitter float64
	// PremiumPool quotes up to PremiumSpread above the base price.
	PremiumPool   string
	PremiumSpread float64
	// DiscountPool quotes up to DiscountSpread below the base price.
	DiscountPool   string
	DiscountSpread float64
	ReferencePool  string
	SettleLatency  time.Duration
	SuccessRate    float64
	// PoolDepth is the largest trade size the pools accept.
	PoolDepth float64
	// ResultTTL is how long settlement outcomes are remembered per
	// opportunity.
	ResultTTL time.Duration
	Seed      uint64
}

// DefaultConfig mirrors the SUI pools on DeepBook.
func DefaultConfig() Config {
	return Config{
		BasePrice:      2.15,
		BaseJitter:     0.05,
		ReferencePool:  "SUI/USDC",
		PremiumPool:    "SUI/USDT",
		PremiumSpread:  0.05,
		DiscountPool:   "SUI/WETH",
		DiscountSpread: 0.03,
		SettleLatency:  time.Second,
		SuccessRate:    0.95,
		PoolDepth:      10_000,
		ResultTTL:      10 * time.Minute,
	}
}

// Simulator implements domain.Venue.
type Simulator struct {
	cfg    Config
	mu     sync.Mutex
	rng    *rand.Rand
	ledger *ledger
	logger *slog.Logger
}

// New creates a Simulator. A zero Seed seeds from the clock.
func New(cfg Config, logger *slog.Logger) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = DefaultConfig().ResultTTL
	}
	return &Simulator{
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		ledger: newLedger(cfg.ResultTTL, time.Now),
		logger: logger.With(slog.String("component", "deepbook_sim")),
	}
}

func (s *Simulator) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// Quotes returns the reference, premium and discount pools in that order.
func (s *Simulator) Quotes(ctx context.Context) ([]domain.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("deepbook: quotes: %w", err)
	}
	base := s.cfg.BasePrice + (s.float()*2-1)*s.cfg.BaseJitter
	return []domain.Quote{
		{Name: s.cfg.ReferencePool, Price: base},
		{Name: s.cfg.PremiumPool, Price: base + s.float()*s.cfg.PremiumSpread},
		{Name: s.cfg.DiscountPool, Price: base - s.float()*s.cfg.DiscountSpread},
	}, nil
}

// Settle simulates one two-leg settlement. A second call for the same
// opportunity returns the first outcome without settling again, including
// when the calls overlap.
func (s *Simulator) Settle(ctx context.Context, opp domain.Opportunity, maxSize float64) (domain.SettlementResult, error) {
	res, found, err := s.ledger.claim(ctx, opp.ID)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("deepbook: settle %s: %w", opp.ID, err)
	}
	if found {
		s.logger.DebugContext(ctx, "settlement replayed", slog.String("opportunity_id", opp.ID))
		return res, nil
	}

	res, err = s.settle(ctx, opp, maxSize)
	s.ledger.finish(opp.ID, res, err == nil)
	return res, err
}

func (s *Simulator) settle(ctx context.Context, opp domain.Opportunity, maxSize float64) (domain.SettlementResult, error) {
	if s.cfg.PoolDepth > 0 && maxSize > s.cfg.PoolDepth {
		return domain.SettlementResult{Error: ErrInsufficientLiquidity}, nil
	}

	if s.cfg.SettleLatency > 0 {
		timer := time.NewTimer(s.cfg.SettleLatency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.SettlementResult{}, fmt.Errorf("deepbook: settle %s: %w", opp.ID, ctx.Err())
		case <-timer.C:
		}
	}

	var res domain.SettlementResult
	if s.float() < s.cfg.SuccessRate {
		res = domain.SettlementResult{Success: true, Reference: s.reference()}
		s.logger.InfoContext(ctx, "settlement executed",
			slog.String("opportunity_id", opp.ID),
			slog.String("reference", res.Reference),
		)
	} else {
		res = domain.SettlementResult{Error: ErrInsufficientLiquidity}
		s.logger.WarnContext(ctx, "settlement rejected",
			slog.String("opportunity_id", opp.ID),
			slog.String("reason", res.Error),
		)
	}
	return res, nil
}

// Prune drops remembered settlement outcomes older than ResultTTL.
func (s *Simulator) Prune() int {
	return s.ledger.prune()
}

func (s *Simulator) reference() string {
	var buf [32]byte
	s.mu.Lock()
	for i := 0; i < len(buf); i += 8 {
		v := s.rng.Uint64()
		for j := 0; j < 8; j++ {
			buf[i+j] = byte(v >> (8 * j))
		}
	}
	s.mu.Unlock()
	return "0x" + hex.EncodeToString(buf[:])
}

var _ domain.Venue = (*Simulator)(nil)
