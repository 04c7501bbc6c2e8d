// Package metrics exposes Prometheus instrumentation for the agent loop.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sentinel"

// Metrics groups the collectors updated by running agents. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	scans          *prometheus.CounterVec
	scanErrors     *prometheus.CounterVec
	opportunities  *prometheus.CounterVec
	decisions      *prometheus.CounterVec
	trades         *prometheus.CounterVec
	profit         *prometheus.CounterVec
	settleDuration *prometheus.HistogramVec
	decideDuration *prometheus.HistogramVec
	status         *prometheus.GaugeVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		scans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "scans_total",
			Help:      "Polling iterations started.",
		}, []string{"agent"}),
		scanErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "scan_errors_total",
			Help:      "Polling iterations that ended in an error.",
		}, []string{"agent"}),
		opportunities: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "opportunities_total",
			Help:      "Opportunities detected.",
		}, []string{"agent"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "decisions_total",
			Help:      "Decisions made, by verdict.",
		}, []string{"agent", "execute"}),
		trades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "trades_total",
			Help:      "Settlement attempts, by outcome.",
		}, []string{"agent", "status"}),
		profit: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "profit_total",
			Help:      "Cumulative estimated profit of successful trades.",
		}, []string{"agent"}),
		settleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "settle_duration_seconds",
			Help:      "Latency of settlement attempts.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		}, []string{"agent"}),
		decideDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "decide_duration_seconds",
			Help:      "Latency of decision calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"agent", "maker"}),
		status: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "status",
			Help:      "1 for the agent's current status, 0 otherwise.",
		}, []string{"agent", "status"}),
	}
}

func (m *Metrics) Scan(agent string) {
	if m != nil {
		m.scans.WithLabelValues(agent).Inc()
	}
}

func (m *Metrics) ScanError(agent string) {
	if m != nil {
		m.scanErrors.WithLabelValues(agent).Inc()
	}
}

func (m *Metrics) Opportunity(agent string) {
	if m != nil {
		m.opportunities.WithLabelValues(agent).Inc()
	}
}

// Decision records a verdict and how long the maker took.
func (m *Metrics) Decision(agent, maker string, execute bool, took time.Duration) {
	if m == nil {
		return
	}
	verdict := "false"
	if execute {
		verdict = "true"
	}
	m.decisions.WithLabelValues(agent, verdict).Inc()
	m.decideDuration.WithLabelValues(agent, maker).Observe(took.Seconds())
}

// Trade records a settlement outcome, its latency and any realised profit.
func (m *Metrics) Trade(agent, status string, profit float64, took time.Duration) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(agent, status).Inc()
	m.settleDuration.WithLabelValues(agent).Observe(took.Seconds())
	if profit > 0 {
		m.profit.WithLabelValues(agent).Add(profit)
	}
}

// Status marks current as the agent's only active status.
func (m *Metrics) Status(agent string, current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.status.WithLabelValues(agent, s).Set(v)
	}
}
