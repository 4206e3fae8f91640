package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := NewMetrics(MetricsConfig{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	return m
}

func TestRecordToolCall(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordToolCall("workos", "get_readiness", "success", 50*time.Millisecond)
	m.RecordToolCall("workos", "get_readiness", "success", 70*time.Millisecond)
	m.RecordToolCall("workos", "get_readiness", "error", 10*time.Millisecond)

	success := m.toolCallTotal.WithLabelValues("workos", "get_readiness", "success")
	assert.Equal(t, 2.0, testutil.ToFloat64(success))

	failed := m.toolCallTotal.WithLabelValues("workos", "get_readiness", "error")
	assert.Equal(t, 1.0, testutil.ToFloat64(failed))
}

func TestCacheCounters(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheMiss()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheMisses))
}

func TestGauges(t *testing.T) {
	m := newTestMetrics(t)

	m.SetPoolGauges("workos", 3, 7)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.poolActive.WithLabelValues("workos")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.poolIdle.WithLabelValues("workos")))

	m.SetBreakerState("workos", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerState.WithLabelValues("workos")))
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	m.RecordToolCall("workos", "get_readiness", "success", time.Millisecond)
	m.RecordSession("workos", "success")
	m.SetPoolGauges("workos", 0, 0)
	m.SetBreakerState("workos", 0)
	m.SetHealthStatus("workos", 0)
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordCacheEviction()
	m.RecordCacheExpiration()
	m.RecordRetry("workos", "call_tool")
	m.RecordFailover("productivity")
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(MetricsConfig{Registerer: reg})
	require.NoError(t, err)

	_, err = NewMetrics(MetricsConfig{Registerer: reg})
	assert.Error(t, err)
}
