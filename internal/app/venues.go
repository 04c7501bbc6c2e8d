package app

import (
	"log/slog"
	"sync"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
	"github.com/alanyoungcy/deepsentinel/internal/platform/deepbook"
)

// venuePool gives every agent its own simulated venue session and prunes
// them together.
type venuePool struct {
	cfg    deepbook.Config
	logger *slog.Logger

	mu   sync.Mutex
	sims []*deepbook.Simulator
}

func newVenuePool(cfg deepbook.Config, logger *slog.Logger) *venuePool {
	return &venuePool{cfg: cfg, logger: logger}
}

// New returns a fresh simulator. A fixed seed is offset per session so
// agents do not see identical price paths.
func (p *venuePool) New() domain.Venue {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg := p.cfg
	if cfg.Seed != 0 {
		cfg.Seed += uint64(len(p.sims))
	}
	sim := deepbook.New(cfg, p.logger)
	p.sims = append(p.sims, sim)
	return sim
}

// Prune drops expired settlement results from every session.
func (p *venuePool) Prune() int {
	p.mu.Lock()
	sims := append([]*deepbook.Simulator(nil), p.sims...)
	p.mu.Unlock()

	n := 0
	for _, sim := range sims {
		n += sim.Prune()
	}
	return n
}
