// Package health tracks per-server performance and derives health statuses
// from recurring probes. A Monitor owns the probe loop for one server; a
// Registry aggregates monitors and answers bulk queries.
package health

import (
	"sort"
	"sync"
	"time"

	mcperrors "github.com/Geralt1983/Thanos-sub001/pkg/errors"
)

// latencyWindow bounds the ring buffer used for percentile estimation.
const latencyWindow = 100

// PerformanceMetrics accumulates request counters and a bounded window of
// recent latencies for one server. Reset only on explicit request.
type PerformanceMetrics struct {
	mu sync.Mutex

	totalRequests   int64
	successRequests int64
	failedRequests  int64
	timeoutRequests int64
	totalLatency    time.Duration

	latencies []time.Duration
	next      int
	filled    bool

	lastSuccess time.Time
	lastFailure time.Time
	lastError   string
}

// MetricsSnapshot is a point-in-time copy of the counters and derived
// rates.
type MetricsSnapshot struct {
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	TimeoutRequests int64
	SuccessRate     float64
	AverageLatency  time.Duration
	P95Latency      time.Duration
	LastSuccess     time.Time
	LastFailure     time.Time
	LastError       string
}

// NewPerformanceMetrics builds an empty metrics accumulator.
func NewPerformanceMetrics() *PerformanceMetrics {
	return &PerformanceMetrics{latencies: make([]time.Duration, latencyWindow)}
}

// RecordSuccess records one successful request and its latency.
func (m *PerformanceMetrics) RecordSuccess(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalRequests++
	m.successRequests++
	m.totalLatency += latency
	m.push(latency)
	m.lastSuccess = time.Now()
}

// RecordFailure records one failed request. Timeout failures are counted
// separately using the error taxonomy.
func (m *PerformanceMetrics) RecordFailure(latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalRequests++
	m.failedRequests++
	m.totalLatency += latency
	m.push(latency)
	m.lastFailure = time.Now()
	if err != nil {
		m.lastError = err.Error()
		if mcperrors.IsKind(err, mcperrors.KindTimeout) {
			m.timeoutRequests++
		}
	}
}

// push appends to the ring buffer. Caller must hold the lock.
func (m *PerformanceMetrics) push(latency time.Duration) {
	m.latencies[m.next] = latency
	m.next++
	if m.next == len(m.latencies) {
		m.next = 0
		m.filled = true
	}
}

// window returns the populated portion of the ring buffer. Caller must
// hold the lock.
func (m *PerformanceMetrics) window() []time.Duration {
	if m.filled {
		return m.latencies
	}
	return m.latencies[:m.next]
}

// SuccessRate returns the fraction of requests that succeeded. With no
// requests recorded it reports 1.0 so an idle server is not penalized.
func (m *PerformanceMetrics) SuccessRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.totalRequests == 0 {
		return 1.0
	}
	return float64(m.successRequests) / float64(m.totalRequests)
}

// SampleCount returns how many latency samples are in the window.
func (m *PerformanceMetrics) SampleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.window())
}

// AverageLatency returns the mean latency over all recorded requests.
func (m *PerformanceMetrics) AverageLatency() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.totalRequests == 0 {
		return 0
	}
	return m.totalLatency / time.Duration(m.totalRequests)
}

// PercentileLatency estimates the given percentile (0 < p <= 100) from the
// recent-latency window.
func (m *PerformanceMetrics) PercentileLatency(p float64) time.Duration {
	m.mu.Lock()
	window := append([]time.Duration(nil), m.window()...)
	m.mu.Unlock()

	if len(window) == 0 {
		return 0
	}
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })

	idx := int(float64(len(window))*p/100.0) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(window) {
		idx = len(window) - 1
	}
	return window[idx]
}

// Snapshot returns a consistent copy of the counters.
func (m *PerformanceMetrics) Snapshot() MetricsSnapshot {
	p95 := m.PercentileLatency(95)

	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		TotalRequests:   m.totalRequests,
		SuccessRequests: m.successRequests,
		FailedRequests:  m.failedRequests,
		TimeoutRequests: m.timeoutRequests,
		SuccessRate:     1.0,
		P95Latency:      p95,
		LastSuccess:     m.lastSuccess,
		LastFailure:     m.lastFailure,
		LastError:       m.lastError,
	}
	if m.totalRequests > 0 {
		snap.SuccessRate = float64(m.successRequests) / float64(m.totalRequests)
		snap.AverageLatency = m.totalLatency / time.Duration(m.totalRequests)
	}
	return snap
}

// Reset clears all counters and the latency window.
func (m *PerformanceMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalRequests = 0
	m.successRequests = 0
	m.failedRequests = 0
	m.timeoutRequests = 0
	m.totalLatency = 0
	m.latencies = make([]time.Duration, latencyWindow)
	m.next = 0
	m.filled = false
	m.lastSuccess = time.Time{}
	m.lastFailure = time.Time{}
	m.lastError = ""
}
