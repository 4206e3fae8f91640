package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Geralt1983/Thanos-sub001/pkg/logging"
	"github.com/Geralt1983/Thanos-sub001/pkg/observability"
	"github.com/Geralt1983/Thanos-sub001/pkg/reliability"
)

// Status is the derived health of one server.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// GaugeValue maps the status onto the numeric scale exported to metrics.
func (s Status) GaugeValue() int {
	switch s {
	case StatusHealthy:
		return 1
	case StatusDegraded:
		return 2
	case StatusUnhealthy:
		return 3
	default:
		return 0
	}
}

// Probe checks one server's liveness. A nil return counts as a success.
type Probe func(ctx context.Context) error

// MonitorConfig tunes status derivation for one monitor.
type MonitorConfig struct {
	// HealthyThreshold is the success streak required for a healthy
	// verdict.
	HealthyThreshold int

	// UnhealthyThreshold is the failure streak that marks the server
	// unhealthy.
	UnhealthyThreshold int

	// DegradedLatency downgrades an otherwise healthy server when the
	// p95 latency exceeds it.
	DegradedLatency time.Duration

	// DegradedSuccessRate downgrades an otherwise healthy server when
	// the success rate falls below it, once MinSamples requests have
	// been observed.
	DegradedSuccessRate float64

	// CriticalSuccessRate fails the default probe outright when the
	// success rate falls below it.
	CriticalSuccessRate float64

	// MinSamples gates the success-rate checks.
	MinSamples int

	// ProbeTimeout bounds each probe run.
	ProbeTimeout time.Duration

	// Interval paces the background probe loop.
	Interval time.Duration
}

// DefaultMonitorConfig mirrors the settings used when a server does not
// configure its own.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		HealthyThreshold:    2,
		UnhealthyThreshold:  3,
		DegradedLatency:     2 * time.Second,
		DegradedSuccessRate: 0.9,
		CriticalSuccessRate: 0.25,
		MinSamples:          10,
		ProbeTimeout:        10 * time.Second,
		Interval:            30 * time.Second,
	}
}

// Monitor runs recurring probes for one server and derives its status.
type Monitor struct {
	server  string
	config  MonitorConfig
	probe   Probe
	metrics *PerformanceMetrics
	breaker *reliability.CircuitBreaker
	gauges  *observability.Metrics
	logger  logging.Logger

	mu                   sync.Mutex
	status               Status
	consecutiveSuccesses int
	consecutiveFailures  int
	lastCheck            time.Time
}

// MonitorOption customizes a monitor.
type MonitorOption func(*Monitor)

// WithProbe replaces the default probe.
func WithProbe(p Probe) MonitorOption {
	return func(m *Monitor) { m.probe = p }
}

// WithBreaker wires the server's circuit breaker into the default probe.
func WithBreaker(cb *reliability.CircuitBreaker) MonitorOption {
	return func(m *Monitor) { m.breaker = cb }
}

// WithMetrics shares an existing metrics accumulator instead of creating a
// private one.
func WithMetrics(pm *PerformanceMetrics) MonitorOption {
	return func(m *Monitor) { m.metrics = pm }
}

// WithGauges publishes each derived status to the exported health gauge.
func WithGauges(om *observability.Metrics) MonitorOption {
	return func(m *Monitor) { m.gauges = om }
}

// NewMonitor builds a monitor for the named server. Without a custom probe
// the default probe fails when the circuit breaker is open or the recent
// success rate is critically low.
func NewMonitor(server string, config MonitorConfig, logger logging.Logger, opts ...MonitorOption) *Monitor {
	def := DefaultMonitorConfig()
	if config.HealthyThreshold <= 0 {
		config.HealthyThreshold = def.HealthyThreshold
	}
	if config.UnhealthyThreshold <= 0 {
		config.UnhealthyThreshold = def.UnhealthyThreshold
	}
	if config.DegradedLatency <= 0 {
		config.DegradedLatency = def.DegradedLatency
	}
	if config.DegradedSuccessRate <= 0 {
		config.DegradedSuccessRate = def.DegradedSuccessRate
	}
	if config.CriticalSuccessRate <= 0 {
		config.CriticalSuccessRate = def.CriticalSuccessRate
	}
	if config.MinSamples <= 0 {
		config.MinSamples = def.MinSamples
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = def.ProbeTimeout
	}
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}

	m := &Monitor{
		server: server,
		config: config,
		logger: logging.OrNop(logger),
		status: StatusUnknown,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = NewPerformanceMetrics()
	}
	if m.probe == nil {
		m.probe = m.defaultProbe
	}
	return m
}

// Server returns the monitored server's name.
func (m *Monitor) Server() string { return m.server }

// Metrics returns the monitor's performance accumulator so callers can
// record request outcomes into it.
func (m *Monitor) Metrics() *PerformanceMetrics { return m.metrics }

// Status returns the most recently derived status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// defaultProbe fails when the breaker is open or the success rate has
// collapsed with enough samples to trust it.
func (m *Monitor) defaultProbe(ctx context.Context) error {
	if m.breaker != nil && m.breaker.State() == reliability.StateOpen {
		return errors.New("circuit breaker is open")
	}
	if m.metrics.SampleCount() >= m.config.MinSamples && m.metrics.SuccessRate() < m.config.CriticalSuccessRate {
		return errors.New("success rate critically low")
	}
	return nil
}

// Check runs one probe and re-derives the status.
func (m *Monitor) Check(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()
	err := m.probe(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCheck = time.Now()

	if err != nil {
		m.consecutiveSuccesses = 0
		m.consecutiveFailures++
	} else {
		m.consecutiveFailures = 0
		m.consecutiveSuccesses++
	}

	next := m.derive()
	if next != m.status {
		m.logger.Info("health status change",
			logging.String("server", m.server),
			logging.String("from", string(m.status)),
			logging.String("to", string(next)),
			logging.Int("consecutive_failures", m.consecutiveFailures),
			logging.Int("consecutive_successes", m.consecutiveSuccesses),
		)
		m.status = next
	}
	m.gauges.SetHealthStatus(m.server, m.status.GaugeValue())
	return m.status
}

// derive applies the status rules to the current counters. Caller must
// hold the lock.
func (m *Monitor) derive() Status {
	if m.consecutiveFailures >= m.config.UnhealthyThreshold {
		return StatusUnhealthy
	}
	if m.consecutiveSuccesses >= m.config.HealthyThreshold {
		if m.metrics.PercentileLatency(95) > m.config.DegradedLatency {
			return StatusDegraded
		}
		if m.metrics.SampleCount() >= m.config.MinSamples && m.metrics.SuccessRate() < m.config.DegradedSuccessRate {
			return StatusDegraded
		}
		return StatusHealthy
	}
	return StatusUnknown
}

// Run probes on the configured interval until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
