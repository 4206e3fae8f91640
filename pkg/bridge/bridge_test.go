package bridge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Geralt1983/Thanos-sub001/pkg/capabilities"
	"github.com/Geralt1983/Thanos-sub001/pkg/config"
	mcperrors "github.com/Geralt1983/Thanos-sub001/pkg/errors"
	"github.com/Geralt1983/Thanos-sub001/pkg/health"
	"github.com/Geralt1983/Thanos-sub001/pkg/reliability"
	"github.com/Geralt1983/Thanos-sub001/pkg/transport"
)

func capsWithTools() capabilities.Set {
	return capabilities.FromServer(mcp.ServerCapabilities{
		Tools: &struct {
			ListChanged bool `json:"listChanged,omitempty"`
		}{},
	})
}

type fakeSession struct {
	server      string
	caps        capabilities.Set
	tools       []transport.Tool
	callFn      func(ctx context.Context, name string, args map[string]interface{}) (*transport.ToolResult, error)
	initErr     error
	initialized bool
	closed      atomic.Bool
}

func (s *fakeSession) ServerName() string { return s.server }

func (s *fakeSession) Initialize(ctx context.Context) (capabilities.Set, error) {
	if s.initErr != nil {
		return capabilities.Set{}, s.initErr
	}
	s.initialized = true
	return s.caps, nil
}

func (s *fakeSession) Capabilities() (capabilities.Set, bool) {
	return s.caps, s.initialized
}

func (s *fakeSession) ListTools(ctx context.Context) ([]transport.Tool, error) {
	return s.tools, nil
}

func (s *fakeSession) CallTool(ctx context.Context, name string, args map[string]interface{}) (*transport.ToolResult, error) {
	if s.callFn == nil {
		return &transport.ToolResult{}, nil
	}
	return s.callFn(ctx, name, args)
}

func (s *fakeSession) Ping(ctx context.Context) error { return nil }

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeTransport struct {
	server   string
	connects atomic.Int64
	session  func() *fakeSession
	connErr  error
}

func (t *fakeTransport) Connect(ctx context.Context) (transport.Session, error) {
	t.connects.Add(1)
	if t.connErr != nil {
		return nil, t.connErr
	}
	return t.session(), nil
}

func (t *fakeTransport) Kind() config.TransportKind { return config.TransportStdio }
func (t *fakeTransport) ServerName() string         { return t.server }
func (t *fakeTransport) HealthCheck(ctx context.Context) map[string]interface{} {
	return map[string]interface{}{"status": "not_implemented"}
}
func (t *fakeTransport) Close() error { return nil }

func serverConfig() *config.ServerConfig {
	return &config.ServerConfig{
		Name:      "workos",
		Transport: config.TransportStdio,
		Stdio:     &config.StdioConfig{Command: "workos-mcp"},
		Enabled:   true,
	}
}

func fastRetry(attempts int) *reliability.RetryPolicy {
	return &reliability.RetryPolicy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Base:         2.0,
	}
}

func newTestBridge(t *testing.T, tr transport.Transport, opts Options) *Bridge {
	t.Helper()
	opts.Transport = tr
	if opts.Retry == nil {
		opts.Retry = fastRetry(3)
	}
	b, err := New(serverConfig(), opts)
	require.NoError(t, err)
	return b
}

func TestCallToolParsesJSON(t *testing.T) {
	tr := &fakeTransport{server: "workos", session: func() *fakeSession {
		return &fakeSession{
			server: "workos",
			caps:   capsWithTools(),
			callFn: func(context.Context, string, map[string]interface{}) (*transport.ToolResult, error) {
				return &transport.ToolResult{Texts: []string{`{"score": 85}`}}, nil
			},
		}
	}}

	b := newTestBridge(t, tr, Options{})
	result, err := b.CallTool(context.Background(), "get_readiness", nil)
	require.NoError(t, err)
	require.True(t, result.Success)

	data, ok := result.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(85), data["score"])
}

func TestCallToolTimeoutRetriesThreeTimes(t *testing.T) {
	tr := &fakeTransport{server: "workos", session: func() *fakeSession {
		return &fakeSession{
			server: "workos",
			caps:   capsWithTools(),
			callFn: func(ctx context.Context, _ string, _ map[string]interface{}) (*transport.ToolResult, error) {
				<-ctx.Done()
				return nil, mcperrors.Classify(ctx.Err(), "workos")
			},
		}
	}}

	b := newTestBridge(t, tr, Options{
		Retry:       fastRetry(3),
		CallTimeout: 20 * time.Millisecond,
	})

	_, err := b.CallTool(context.Background(), "get_readiness", nil)
	require.Error(t, err)
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindTimeout))
	assert.Equal(t, int64(3), tr.connects.Load())
}

func TestCallToolServerFlaggedFailure(t *testing.T) {
	tr := &fakeTransport{server: "workos", session: func() *fakeSession {
		return &fakeSession{
			server: "workos",
			caps:   capsWithTools(),
			callFn: func(context.Context, string, map[string]interface{}) (*transport.ToolResult, error) {
				return &transport.ToolResult{IsError: true, Texts: []string{"no such record"}}, nil
			},
		}
	}}

	b := newTestBridge(t, tr, Options{})
	result, err := b.CallTool(context.Background(), "get_readiness", nil)
	require.NoError(t, err)
	require.False(t, result.Success)
	assert.Equal(t, "no such record", result.Text)
	assert.True(t, mcperrors.IsKind(result.Err, mcperrors.KindToolExecution))

	// In-band failures never trip the breaker.
	assert.Equal(t, int64(1), tr.connects.Load())
	assert.Equal(t, reliability.StateClosed, b.Breaker().State())
}

func TestCallToolCapabilityFastFail(t *testing.T) {
	tr := &fakeTransport{server: "workos", session: func() *fakeSession {
		return &fakeSession{server: "workos"} // no tools capability
	}}

	b := newTestBridge(t, tr, Options{})

	// First call discovers the capability gap over the wire.
	_, err := b.CallTool(context.Background(), "get_readiness", nil)
	require.Error(t, err)
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindCapability))
	connectsAfterFirst := tr.connects.Load()

	// Second call fails fast with no session at all.
	_, err = b.CallTool(context.Background(), "get_readiness", nil)
	require.Error(t, err)
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindCapability))
	assert.Equal(t, connectsAfterFirst, tr.connects.Load())
}

func TestRefreshAndCachedTools(t *testing.T) {
	tools := []transport.Tool{
		{Name: "get_readiness", Description: "Readiness score"},
		{Name: "get_sleep", Description: "Sleep summary"},
	}
	tr := &fakeTransport{server: "workos", session: func() *fakeSession {
		return &fakeSession{server: "workos", caps: capsWithTools(), tools: tools}
	}}

	b := newTestBridge(t, tr, Options{})
	assert.Empty(t, b.CachedTools())

	got, err := b.RefreshTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)

	cached := b.CachedTools()
	assert.Equal(t, got, cached)
	// The accessor never does I/O.
	connects := tr.connects.Load()
	b.CachedTools()
	assert.Equal(t, connects, tr.connects.Load())
}

func TestCallToolOpenBreakerFailsFast(t *testing.T) {
	boom := mcperrors.ConnectionError("workos", errors.New("reset"))
	tr := &fakeTransport{server: "workos", connErr: boom, session: nil}

	breaker := reliability.NewCircuitBreaker("workos", reliability.BreakerConfig{
		FailureThreshold: 2,
		Cooldown:         time.Hour,
	}, nil)
	b := newTestBridge(t, tr, Options{Retry: fastRetry(1), Breaker: breaker})

	ctx := context.Background()
	_, err := b.CallTool(ctx, "get_readiness", nil)
	require.Error(t, err)
	_, err = b.CallTool(ctx, "get_readiness", nil)
	require.Error(t, err)
	require.Equal(t, reliability.StateOpen, breaker.State())

	connects := tr.connects.Load()
	_, err = b.CallTool(ctx, "get_readiness", nil)
	require.Error(t, err)
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindCircuitBreaker))
	assert.Equal(t, connects, tr.connects.Load())
}

func TestHealthCheck(t *testing.T) {
	tr := &fakeTransport{server: "workos", session: func() *fakeSession {
		return &fakeSession{
			server: "workos",
			caps:   capsWithTools(),
			tools:  []transport.Tool{{Name: "get_readiness"}},
		}
	}}

	b := newTestBridge(t, tr, Options{})
	report := b.HealthCheck(context.Background())
	assert.Equal(t, health.StatusHealthy, report.Status)
	assert.Equal(t, 1, report.ToolCount)
	assert.Empty(t, report.Error)
}

func TestHealthCheckUnreachable(t *testing.T) {
	tr := &fakeTransport{
		server:  "workos",
		connErr: mcperrors.ConnectionError("workos", errors.New("spawn failed")),
	}

	b := newTestBridge(t, tr, Options{})
	report := b.HealthCheck(context.Background())
	assert.Equal(t, health.StatusUnhealthy, report.Status)
	assert.NotEmpty(t, report.Error)
}

func TestNormalizeResultVariants(t *testing.T) {
	res := normalizeResult("workos", "t", &transport.ToolResult{Texts: []string{"plain text"}})
	assert.True(t, res.Success)
	assert.Nil(t, res.Data)
	assert.Equal(t, "plain text", res.Text)

	res = normalizeResult("workos", "t", &transport.ToolResult{
		Structured: map[string]interface{}{"ok": true},
		Texts:      []string{"ignored fallback"},
	})
	assert.True(t, res.Success)
	assert.NotNil(t, res.Data)

	res = normalizeResult("workos", "t", &transport.ToolResult{})
	assert.True(t, res.Success)
	assert.Nil(t, res.Data)
	assert.Empty(t, res.Text)

	res = normalizeResult("workos", "t", &transport.ToolResult{IsError: true})
	assert.False(t, res.Success)
	require.Error(t, res.Err)
}
