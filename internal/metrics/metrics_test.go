package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cinesync/internal/metrics"
)

func TestCollectorsRecordValues(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObserveRequest("/movie/{id}", "ok", 20*time.Millisecond)
	m.ObserveRequest("/movie/{id}", "ok", 30*time.Millisecond)
	m.Record("changes", "committed")
	m.SetBreakerState(2)
	m.CacheLookup(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.GatewayRequests.WithLabelValues("/movie/{id}", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsProcessed.WithLabelValues("changes", "committed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics
	m.ObserveRequest("x", "ok", time.Second)
	m.Retry("x")
	m.SetBreakerState(1)
	m.CacheLookup(false)
	m.Record("init", "failed")
	m.WorkflowDone("init", "ok", time.Second)
	m.SetCursor("init", time.Now())
}
