// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the client stack. All recording methods are safe on a nil
// receiver, so components treat metrics as strictly optional.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsConfig configures the metrics collectors.
type MetricsConfig struct {
	// Namespace prefixes every metric name. Defaults to "thanos".
	Namespace string

	// Registerer receives the collectors. Defaults to the global
	// Prometheus registerer.
	Registerer prometheus.Registerer

	// HistogramBuckets overrides the latency buckets, in seconds.
	HistogramBuckets []float64

	// ConstLabels are attached to every metric.
	ConstLabels prometheus.Labels
}

// Metrics holds the collectors shared across the client stack.
type Metrics struct {
	toolCallDuration *prometheus.HistogramVec
	toolCallTotal    *prometheus.CounterVec
	sessionTotal     *prometheus.CounterVec

	poolActive *prometheus.GaugeVec
	poolIdle   *prometheus.GaugeVec

	breakerState *prometheus.GaugeVec
	healthStatus *prometheus.GaugeVec

	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter
	cacheExpiry    prometheus.Counter
	retryTotal     *prometheus.CounterVec
	failoverTotal  *prometheus.CounterVec
}

// NewMetrics builds and registers the collectors. Registering twice against
// the same registerer returns an error from Prometheus, so a process builds
// this once and shares it.
func NewMetrics(config MetricsConfig) (*Metrics, error) {
	if config.Namespace == "" {
		config.Namespace = "thanos"
	}
	if config.Registerer == nil {
		config.Registerer = prometheus.DefaultRegisterer
	}
	if config.HistogramBuckets == nil {
		config.HistogramBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	}

	m := &Metrics{
		toolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Name:        "tool_call_duration_seconds",
			Help:        "Duration of tool calls by server, tool, and status.",
			Buckets:     config.HistogramBuckets,
			ConstLabels: config.ConstLabels,
		}, []string{"server", "tool", "status"}),
		toolCallTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "tool_calls_total",
			Help:        "Total tool calls by server, tool, and status.",
			ConstLabels: config.ConstLabels,
		}, []string{"server", "tool", "status"}),
		sessionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "sessions_total",
			Help:        "Sessions opened by server and outcome.",
			ConstLabels: config.ConstLabels,
		}, []string{"server", "status"}),
		poolActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "pool_active_connections",
			Help:        "Connections currently leased from the pool, per server.",
			ConstLabels: config.ConstLabels,
		}, []string{"server"}),
		poolIdle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "pool_idle_connections",
			Help:        "Connections currently idle in the pool, per server.",
			ConstLabels: config.ConstLabels,
		}, []string{"server"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "circuit_breaker_state",
			Help:        "Circuit breaker state per server (0 closed, 1 open, 2 half-open).",
			ConstLabels: config.ConstLabels,
		}, []string{"server"}),
		healthStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "server_health_status",
			Help:        "Health status per server (0 unknown, 1 healthy, 2 degraded, 3 unhealthy).",
			ConstLabels: config.ConstLabels,
		}, []string{"server"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "cache_hits_total",
			Help:        "Result cache hits.",
			ConstLabels: config.ConstLabels,
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "cache_misses_total",
			Help:        "Result cache misses.",
			ConstLabels: config.ConstLabels,
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "cache_evictions_total",
			Help:        "Result cache evictions under capacity pressure.",
			ConstLabels: config.ConstLabels,
		}),
		cacheExpiry: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "cache_expirations_total",
			Help:        "Result cache entries dropped after TTL expiry.",
			ConstLabels: config.ConstLabels,
		}),
		retryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "retries_total",
			Help:        "Retry attempts by server and operation.",
			ConstLabels: config.ConstLabels,
		}, []string{"server", "operation"}),
		failoverTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "failovers_total",
			Help:        "Failover attempts by server type.",
			ConstLabels: config.ConstLabels,
		}, []string{"server_type"}),
	}

	collectors := []prometheus.Collector{
		m.toolCallDuration, m.toolCallTotal, m.sessionTotal,
		m.poolActive, m.poolIdle,
		m.breakerState, m.healthStatus,
		m.cacheHits, m.cacheMisses, m.cacheEvictions, m.cacheExpiry,
		m.retryTotal, m.failoverTotal,
	}
	for _, c := range collectors {
		if err := config.Registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordToolCall records one tool invocation outcome.
func (m *Metrics) RecordToolCall(server, tool, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.toolCallDuration.WithLabelValues(server, tool, status).Observe(duration.Seconds())
	m.toolCallTotal.WithLabelValues(server, tool, status).Inc()
}

// RecordSession records one session open attempt.
func (m *Metrics) RecordSession(server, status string) {
	if m == nil {
		return
	}
	m.sessionTotal.WithLabelValues(server, status).Inc()
}

// SetPoolGauges updates a server's pool occupancy gauges.
func (m *Metrics) SetPoolGauges(server string, active, idle int) {
	if m == nil {
		return
	}
	m.poolActive.WithLabelValues(server).Set(float64(active))
	m.poolIdle.WithLabelValues(server).Set(float64(idle))
}

// SetBreakerState mirrors a breaker's state into its gauge.
func (m *Metrics) SetBreakerState(server string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(server).Set(float64(state))
}

// SetHealthStatus mirrors a server's health status into its gauge.
func (m *Metrics) SetHealthStatus(server string, status int) {
	if m == nil {
		return
	}
	m.healthStatus.WithLabelValues(server).Set(float64(status))
}

// RecordCacheHit and friends track result cache effectiveness.
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

func (m *Metrics) RecordCacheEviction() {
	if m == nil {
		return
	}
	m.cacheEvictions.Inc()
}

func (m *Metrics) RecordCacheExpiration() {
	if m == nil {
		return
	}
	m.cacheExpiry.Inc()
}

// RecordRetry counts one retry attempt.
func (m *Metrics) RecordRetry(server, operation string) {
	if m == nil {
		return
	}
	m.retryTotal.WithLabelValues(server, operation).Inc()
}

// RecordFailover counts one failover attempt for a server type.
func (m *Metrics) RecordFailover(serverType string) {
	if m == nil {
		return
	}
	m.failoverTotal.WithLabelValues(serverType).Inc()
}
