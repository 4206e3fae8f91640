package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/Geralt1983/Thanos-sub001/pkg/errors"
	"github.com/Geralt1983/Thanos-sub001/pkg/observability"
	"github.com/Geralt1983/Thanos-sub001/pkg/reliability"
)

func TestPerformanceMetricsCounters(t *testing.T) {
	m := NewPerformanceMetrics()
	assert.Equal(t, 1.0, m.SuccessRate())

	m.RecordSuccess(10 * time.Millisecond)
	m.RecordSuccess(20 * time.Millisecond)
	m.RecordFailure(30*time.Millisecond, errors.New("boom"))
	m.RecordFailure(5*time.Millisecond, mcperrors.TimeoutError("workos", "call_tool", time.Second))

	snap := m.Snapshot()
	assert.Equal(t, int64(4), snap.TotalRequests)
	assert.Equal(t, int64(2), snap.SuccessRequests)
	assert.Equal(t, int64(2), snap.FailedRequests)
	assert.Equal(t, int64(1), snap.TimeoutRequests)
	assert.InDelta(t, 0.5, snap.SuccessRate, 1e-9)
	assert.NotEmpty(t, snap.LastError)
}

func TestPerformanceMetricsWindowBounded(t *testing.T) {
	m := NewPerformanceMetrics()
	for i := 0; i < latencyWindow*2; i++ {
		m.RecordSuccess(time.Duration(i) * time.Millisecond)
	}
	assert.Equal(t, latencyWindow, m.SampleCount())
}

func TestPercentileLatency(t *testing.T) {
	m := NewPerformanceMetrics()
	for i := 1; i <= 100; i++ {
		m.RecordSuccess(time.Duration(i) * time.Millisecond)
	}
	assert.Equal(t, 95*time.Millisecond, m.PercentileLatency(95))
	assert.Equal(t, 50*time.Millisecond, m.PercentileLatency(50))
}

func TestPerformanceMetricsReset(t *testing.T) {
	m := NewPerformanceMetrics()
	m.RecordSuccess(time.Millisecond)
	m.Reset()
	assert.Equal(t, int64(0), m.Snapshot().TotalRequests)
	assert.Equal(t, 0, m.SampleCount())
}

func fastMonitorConfig() MonitorConfig {
	return MonitorConfig{
		HealthyThreshold:   2,
		UnhealthyThreshold: 3,
		ProbeTimeout:       time.Second,
		Interval:           time.Hour,
	}
}

func TestMonitorStatusTransitions(t *testing.T) {
	var probeErr error
	m := NewMonitor("workos", fastMonitorConfig(), nil,
		WithProbe(func(context.Context) error { return probeErr }))
	ctx := context.Background()

	assert.Equal(t, StatusUnknown, m.Status())

	assert.Equal(t, StatusUnknown, m.Check(ctx))
	assert.Equal(t, StatusHealthy, m.Check(ctx))

	probeErr = errors.New("down")
	m.Check(ctx)
	m.Check(ctx)
	assert.Equal(t, StatusUnknown, m.Status())
	assert.Equal(t, StatusUnhealthy, m.Check(ctx))

	probeErr = nil
	m.Check(ctx)
	assert.Equal(t, StatusHealthy, m.Check(ctx))
}

func TestMonitorDegradedByLatency(t *testing.T) {
	cfg := fastMonitorConfig()
	cfg.DegradedLatency = 50 * time.Millisecond

	m := NewMonitor("workos", cfg, nil,
		WithProbe(func(context.Context) error { return nil }))
	for i := 0; i < 20; i++ {
		m.Metrics().RecordSuccess(200 * time.Millisecond)
	}

	ctx := context.Background()
	m.Check(ctx)
	assert.Equal(t, StatusDegraded, m.Check(ctx))
}

func TestMonitorDegradedBySuccessRate(t *testing.T) {
	cfg := fastMonitorConfig()
	cfg.DegradedSuccessRate = 0.9
	cfg.MinSamples = 10

	m := NewMonitor("workos", cfg, nil,
		WithProbe(func(context.Context) error { return nil }))
	for i := 0; i < 10; i++ {
		if i < 5 {
			m.Metrics().RecordFailure(time.Millisecond, errors.New("boom"))
		} else {
			m.Metrics().RecordSuccess(time.Millisecond)
		}
	}

	ctx := context.Background()
	m.Check(ctx)
	assert.Equal(t, StatusDegraded, m.Check(ctx))
}

func TestDefaultProbeOpenBreaker(t *testing.T) {
	cb := reliability.NewCircuitBreaker("workos", reliability.BreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Hour,
	}, nil)
	require.Error(t, cb.Execute(context.Background(), func(context.Context) error {
		return mcperrors.ConnectionError("workos", errors.New("reset"))
	}))
	require.Equal(t, reliability.StateOpen, cb.State())

	cfg := fastMonitorConfig()
	cfg.UnhealthyThreshold = 1
	m := NewMonitor("workos", cfg, nil, WithBreaker(cb))
	assert.Equal(t, StatusUnhealthy, m.Check(context.Background()))
}

func TestRegistryBulkOperations(t *testing.T) {
	reg := NewRegistry(fastMonitorConfig(), nil)

	reg.Register(NewMonitor("workos", fastMonitorConfig(), nil,
		WithProbe(func(context.Context) error { return nil })))
	reg.Register(NewMonitor("oura", fastMonitorConfig(), nil,
		WithProbe(func(context.Context) error { return errors.New("down") })))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		reg.CheckAll(ctx)
	}

	statuses := reg.Statuses()
	assert.Equal(t, StatusHealthy, statuses["workos"])
	assert.Equal(t, StatusUnhealthy, statuses["oura"])
	assert.Equal(t, []string{"workos"}, reg.HealthyServers())
	assert.Equal(t, []string{"oura"}, reg.UnhealthyServers())
}

func TestRegistryLazyCreation(t *testing.T) {
	reg := NewRegistry(fastMonitorConfig(), nil)
	a := reg.Get("workos")
	b := reg.Get("workos")
	assert.Same(t, a, b)
}

func TestStatusGaugeValue(t *testing.T) {
	assert.Equal(t, 0, StatusUnknown.GaugeValue())
	assert.Equal(t, 1, StatusHealthy.GaugeValue())
	assert.Equal(t, 2, StatusDegraded.GaugeValue())
	assert.Equal(t, 3, StatusUnhealthy.GaugeValue())
}

func gaugeValue(t *testing.T, g prometheus.Gatherer, name, server string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "server" && label.GetValue() == server {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("no %s sample for server %s", name, server)
	return 0
}

func TestCheckPublishesHealthGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	om, err := observability.NewMetrics(observability.MetricsConfig{Registerer: reg})
	require.NoError(t, err)

	var probeErr error
	m := NewMonitor("workos", fastMonitorConfig(), nil,
		WithProbe(func(context.Context) error { return probeErr }),
		WithGauges(om))
	ctx := context.Background()

	m.Check(ctx)
	m.Check(ctx)
	assert.Equal(t, float64(StatusHealthy.GaugeValue()),
		gaugeValue(t, reg, "thanos_server_health_status", "workos"))

	probeErr = errors.New("down")
	m.Check(ctx)
	m.Check(ctx)
	m.Check(ctx)
	assert.Equal(t, float64(StatusUnhealthy.GaugeValue()),
		gaugeValue(t, reg, "thanos_server_health_status", "workos"))
}

func TestRegistryDefaultOptionsApplyToLazyMonitors(t *testing.T) {
	reg := prometheus.NewRegistry()
	om, err := observability.NewMetrics(observability.MetricsConfig{Registerer: reg})
	require.NoError(t, err)

	r := NewRegistry(fastMonitorConfig(), nil, WithGauges(om),
		WithProbe(func(context.Context) error { return nil }))
	m := r.Get("oura")
	m.Check(context.Background())

	assert.Equal(t, float64(StatusUnknown.GaugeValue()),
		gaugeValue(t, reg, "thanos_server_health_status", "oura"))
}
