package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersAndStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Scan("a1")
	m.Scan("a1")
	m.Trade("a1", "success", 12.5, time.Second)
	m.Trade("a1", "failed", 0, time.Second)
	m.Status("a1", "active", []string{"idle", "active", "paused", "error"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.scans.WithLabelValues("a1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.trades.WithLabelValues("a1", "failed")))
	assert.Equal(t, 12.5, testutil.ToFloat64(m.profit.WithLabelValues("a1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.status.WithLabelValues("a1", "active")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.status.WithLabelValues("a1", "paused")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Scan("x")
		m.ScanError("x")
		m.Opportunity("x")
		m.Decision("x", "rule", true, time.Millisecond)
		m.Trade("x", "success", 1, time.Millisecond)
		m.Status("x", "idle", []string{"idle"})
	})
}
