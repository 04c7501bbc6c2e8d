// Package arbitrage finds pairwise spread opportunities in a quote snapshot.
package arbitrage

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

// Reporter receives every opportunity the detector emits, before Detect
// returns.
type Reporter interface {
	ReportOpportunity(ctx context.Context, opp domain.Opportunity)
}

// Detector scans quote snapshots for same-family pairs whose spread exceeds
// a threshold.
type Detector struct {
	family FamilyFunc
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option customises a Detector.
type Option func(*Detector)

// WithFamily overrides how instruments are grouped.
func WithFamily(f FamilyFunc) Option {
	return func(d *Detector) { d.family = f }
}

// WithClock overrides the detection timestamp source.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// WithIDs overrides opportunity ID generation.
func WithIDs(newID func() string) Option {
	return func(d *Detector) { d.newID = newID }
}

// NewDetector creates a Detector grouping instruments by base asset.
func NewDetector(logger *slog.Logger, opts ...Option) *Detector {
	d := &Detector{
		family: BaseAsset,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
		logger: logger.With(slog.String("component", "detector")),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect compares every pair i<j in input order and emits one opportunity
// per pair with spread > minSpreadPct, LegA being quotes[i]. Pairs with a
// malformed price are skipped. Each opportunity is handed to report (when
// non-nil) before the batch is returned.
func (d *Detector) Detect(ctx context.Context, quotes []domain.Quote, minSpreadPct float64, report Reporter) []domain.Opportunity {
	var out []domain.Opportunity
	families := make([]string, len(quotes))
	for i, q := range quotes {
		families[i] = d.family(q.Name)
	}

	for i := 0; i < len(quotes)-1; i++ {
		for j := i + 1; j < len(quotes); j++ {
			if families[i] == "" || families[i] != families[j] {
				continue
			}
			a, b := quotes[i], quotes[j]
			spread, err := Spread(a.Price, b.Price)
			if err != nil {
				d.logger.DebugContext(ctx, "skipping malformed pair",
					slog.String("leg_a", a.Name),
					slog.String("leg_b", b.Name),
					slog.String("error", err.Error()),
				)
				continue
			}
			if !(spread > minSpreadPct) {
				continue
			}

			opp := domain.Opportunity{
				ID:              d.newID(),
				Type:            "arbitrage",
				LegA:            a,
				LegB:            b,
				SpreadPct:       spread,
				EstimatedProfit: EstimateProfit(spread),
				DetectedAt:      d.now().UTC(),
			}
			if report != nil {
				report.ReportOpportunity(ctx, opp)
			}
			out = append(out, opp)
		}
	}
	return out
}
