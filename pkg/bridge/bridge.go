// Package bridge is the core façade over one server: it opens a fresh
// session per logical operation, funnels every call through the retry and
// circuit breaking layer, and normalizes outcomes into a uniform Result.
// Session-per-call trades connection reuse for crash isolation; the pool
// package amortizes the cost where it matters.
package bridge

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/Geralt1983/Thanos-sub001/pkg/capabilities"
	"github.com/Geralt1983/Thanos-sub001/pkg/config"
	mcperrors "github.com/Geralt1983/Thanos-sub001/pkg/errors"
	"github.com/Geralt1983/Thanos-sub001/pkg/health"
	"github.com/Geralt1983/Thanos-sub001/pkg/logging"
	"github.com/Geralt1983/Thanos-sub001/pkg/observability"
	"github.com/Geralt1983/Thanos-sub001/pkg/reliability"
	"github.com/Geralt1983/Thanos-sub001/pkg/transport"
)

// defaultCallTimeout bounds one tool call attempt when the caller's
// context carries no deadline of its own.
const defaultCallTimeout = 30 * time.Second

// Options configures optional collaborators. Zero values are all usable.
type Options struct {
	// Transport overrides the transport built from the server config.
	Transport transport.Transport

	// Logger receives structured call logs. Nil disables logging.
	Logger logging.Logger

	// Metrics receives per-call recordings. Nil disables metrics.
	Metrics *observability.Metrics

	// TracerProvider supplies spans around calls. Nil falls back to the
	// global provider.
	TracerProvider trace.TracerProvider

	// Retry overrides the default retry policy.
	Retry *reliability.RetryPolicy

	// Breaker shares an existing breaker, usually from a registry. A
	// private one is created when nil.
	Breaker *reliability.CircuitBreaker

	// CallTimeout bounds each individual call attempt.
	CallTimeout time.Duration
}

// Bridge exposes one server's tools behind the resilience layer.
type Bridge struct {
	cfg         *config.ServerConfig
	tr          transport.Transport
	retrier     *reliability.Retrier
	breaker     *reliability.CircuitBreaker
	logger      logging.Logger
	metrics     *observability.Metrics
	tracer      *observability.Tracer
	callTimeout time.Duration

	refreshMu sync.Mutex

	mu        sync.RWMutex
	tools     []transport.Tool
	caps      capabilities.Set
	capsKnown bool

	statsMu     sync.Mutex
	totalCalls  int64
	failedCalls int64
}

// HealthReport combines a liveness probe with accumulated call statistics.
type HealthReport struct {
	Server       string
	Status       health.Status
	ToolCount    int
	ProbeLatency time.Duration
	TotalCalls   int64
	FailedCalls  int64
	ErrorRate    float64
	BreakerState reliability.BreakerState
	Error        string
}

// New builds a bridge for the given server.
func New(cfg *config.ServerConfig, opts Options) (*Bridge, error) {
	if cfg == nil {
		return nil, mcperrors.ConfigurationError("server config is nil")
	}

	logger := logging.OrNop(opts.Logger)

	tr := opts.Transport
	if tr == nil {
		var err error
		tr, err = transport.New(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	policy := reliability.DefaultRetryPolicy()
	if opts.Retry != nil {
		policy = *opts.Retry
	}

	breaker := opts.Breaker
	if breaker == nil {
		breaker = reliability.NewCircuitBreaker(cfg.Name, reliability.DefaultBreakerConfig(), logger)
	}

	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}

	return &Bridge{
		cfg:         cfg,
		tr:          tr,
		retrier:     reliability.NewRetrier(policy, logger, reliability.WithMetrics(opts.Metrics)),
		breaker:     breaker,
		logger:      logger,
		metrics:     opts.Metrics,
		tracer:      observability.NewTracer(opts.TracerProvider),
		callTimeout: callTimeout,
	}, nil
}

// ServerName returns the configured server name.
func (b *Bridge) ServerName() string { return b.cfg.Name }

// Breaker exposes the bridge's circuit breaker for health probes.
func (b *Bridge) Breaker() *reliability.CircuitBreaker { return b.breaker }

// Capabilities returns the capability snapshot from the most recent
// handshake. ok is false until a session has been opened.
func (b *Bridge) Capabilities() (capabilities.Set, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.caps, b.capsKnown
}

func (b *Bridge) storeCapabilities(set capabilities.Set) {
	b.mu.Lock()
	b.caps = set
	b.capsKnown = true
	b.mu.Unlock()
}

// CachedTools returns the last fetched tool list without any I/O. Call
// RefreshTools first; an empty slice simply means no fetch has happened.
func (b *Bridge) CachedTools() []transport.Tool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]transport.Tool(nil), b.tools...)
}

// RefreshTools opens a session, fetches the server's tool catalog and
// caches it. Concurrent refreshes are serialized.
func (b *Bridge) RefreshTools(ctx context.Context) ([]transport.Tool, error) {
	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()

	ctx, span := b.tracer.StartOperation(ctx, "refresh_tools", b.cfg.Name)
	var tools []transport.Tool
	err := b.breaker.Execute(ctx, func(ctx context.Context) error {
		return b.retrier.Do(ctx, b.cfg.Name, "refresh_tools", func(ctx context.Context) error {
			fetched, err := b.listOnce(ctx)
			if err != nil {
				return err
			}
			tools = fetched
			return nil
		})
	})
	observability.EndSpan(span, err)
	b.publishBreakerState()

	if err != nil {
		b.logger.WithError(err).Error("tool refresh failed",
			logging.String("server", b.cfg.Name))
		return nil, err
	}

	b.mu.Lock()
	b.tools = tools
	b.mu.Unlock()

	b.logger.Info("tool catalog refreshed",
		logging.String("server", b.cfg.Name),
		logging.Int("tool_count", len(tools)),
	)
	return append([]transport.Tool(nil), tools...), nil
}

// CallTool invokes a tool and normalizes its outcome. Server-flagged tool
// failures come back as a failure Result with a nil error; infrastructure
// failures come back as a typed error with a nil Result.
func (b *Bridge) CallTool(ctx context.Context, name string, args map[string]interface{}) (*Result, error) {
	if caps, known := b.Capabilities(); known {
		if err := caps.RequireTools(b.cfg.Name); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	ctx, span := b.tracer.StartToolCall(ctx, b.cfg.Name, name)

	var raw *transport.ToolResult
	err := b.breaker.Execute(ctx, func(ctx context.Context) error {
		return b.retrier.Do(ctx, b.cfg.Name, "call_tool", func(ctx context.Context) error {
			result, callErr := b.callOnce(ctx, name, args)
			if callErr != nil {
				return callErr
			}
			raw = result
			return nil
		})
	})
	duration := time.Since(start)
	observability.EndSpan(span, err)
	b.publishBreakerState()

	if err != nil {
		b.recordCall(name, duration, false)
		b.logger.WithError(err).Error("tool call failed",
			logging.String("server", b.cfg.Name),
			logging.String("tool", name),
			logging.Duration("duration", duration),
		)
		return nil, err
	}

	result := normalizeResult(b.cfg.Name, name, raw)
	b.recordCall(name, duration, result.Success)

	if result.Success {
		b.logger.Info("tool call completed",
			logging.String("server", b.cfg.Name),
			logging.String("tool", name),
			logging.Duration("duration", duration),
		)
	} else {
		b.logger.Warn("tool reported failure",
			logging.String("server", b.cfg.Name),
			logging.String("tool", name),
			logging.Duration("duration", duration),
			logging.String("detail", result.Text),
		)
	}
	return result, nil
}

// HealthCheck probes the server by listing tools and folds in accumulated
// call statistics. The returned report is always non-nil.
func (b *Bridge) HealthCheck(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Server:       b.cfg.Name,
		BreakerState: b.breaker.State(),
	}

	b.statsMu.Lock()
	report.TotalCalls = b.totalCalls
	report.FailedCalls = b.failedCalls
	b.statsMu.Unlock()
	if report.TotalCalls > 0 {
		report.ErrorRate = float64(report.FailedCalls) / float64(report.TotalCalls)
	}

	start := time.Now()
	tools, err := b.listOnce(ctx)
	report.ProbeLatency = time.Since(start)

	if err != nil {
		report.Status = health.StatusUnhealthy
		report.Error = err.Error()
		return report
	}
	report.ToolCount = len(tools)

	switch {
	case report.ErrorRate > 0.5:
		report.Status = health.StatusUnhealthy
	case report.ErrorRate > 0.1:
		report.Status = health.StatusDegraded
	default:
		report.Status = health.StatusHealthy
	}
	return report
}

// Close drops cached state and closes the transport. Sessions are opened
// per operation, so there is nothing else to tear down.
func (b *Bridge) Close() error {
	b.mu.Lock()
	b.tools = nil
	b.capsKnown = false
	b.caps = capabilities.Set{}
	b.mu.Unlock()
	return b.tr.Close()
}

// OpenSession connects and initializes one session, leaving its lifetime
// to the caller. The pool builds on this to keep sessions alive across
// operations.
func (b *Bridge) OpenSession(ctx context.Context) (transport.Session, error) {
	sess, err := b.tr.Connect(ctx)
	if err != nil {
		b.metrics.RecordSession(b.cfg.Name, "error")
		return nil, err
	}
	caps, err := sess.Initialize(ctx)
	if err != nil {
		sess.Close()
		b.metrics.RecordSession(b.cfg.Name, "error")
		return nil, err
	}
	b.storeCapabilities(caps)
	b.metrics.RecordSession(b.cfg.Name, "success")
	return sess, nil
}

// callOnce runs one session-per-call attempt.
func (b *Bridge) callOnce(ctx context.Context, name string, args map[string]interface{}) (*transport.ToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	sess, err := b.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	caps, _ := sess.Capabilities()
	if err := caps.RequireTools(b.cfg.Name); err != nil {
		return nil, err
	}
	return sess.CallTool(ctx, name, args)
}

// listOnce opens one session and fetches the tool catalog.
func (b *Bridge) listOnce(ctx context.Context) ([]transport.Tool, error) {
	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	sess, err := b.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	caps, _ := sess.Capabilities()
	if err := caps.RequireTools(b.cfg.Name); err != nil {
		return nil, err
	}
	return sess.ListTools(ctx)
}

func (b *Bridge) recordCall(tool string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	b.metrics.RecordToolCall(b.cfg.Name, tool, status, duration)

	b.statsMu.Lock()
	b.totalCalls++
	if !success {
		b.failedCalls++
	}
	b.statsMu.Unlock()
}

func (b *Bridge) publishBreakerState() {
	b.metrics.SetBreakerState(b.cfg.Name, int(b.breaker.State()))
}
