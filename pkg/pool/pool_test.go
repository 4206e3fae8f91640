package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Geralt1983/Thanos-sub001/pkg/capabilities"
	mcperrors "github.com/Geralt1983/Thanos-sub001/pkg/errors"
	"github.com/Geralt1983/Thanos-sub001/pkg/transport"
)

type stubSession struct {
	closed atomic.Bool
}

func (s *stubSession) ServerName() string { return "workos" }
func (s *stubSession) Initialize(context.Context) (capabilities.Set, error) {
	return capabilities.Set{}, nil
}
func (s *stubSession) Capabilities() (capabilities.Set, bool) { return capabilities.Set{}, true }
func (s *stubSession) ListTools(context.Context) ([]transport.Tool, error) {
	return nil, nil
}
func (s *stubSession) CallTool(context.Context, string, map[string]interface{}) (*transport.ToolResult, error) {
	return &transport.ToolResult{}, nil
}
func (s *stubSession) Ping(context.Context) error { return nil }
func (s *stubSession) Close() error {
	s.closed.Store(true)
	return nil
}

type opener struct {
	dials    atomic.Int64
	failWith error
	sessions []*stubSession
}

func (o *opener) open(context.Context) (transport.Session, error) {
	o.dials.Add(1)
	if o.failWith != nil {
		return nil, o.failWith
	}
	s := &stubSession{}
	o.sessions = append(o.sessions, s)
	return s, nil
}

func fastConfig() Config {
	return Config{
		MinConnections:      2,
		MaxConnections:      3,
		ConnectionTimeout:   time.Second,
		IdleTimeout:         time.Minute,
		AcquireTimeout:      30 * time.Millisecond,
		MaxLifetime:         time.Hour,
		HealthCheckInterval: time.Hour,
	}
}

func newTestPool(t *testing.T, cfg Config) (*Pool, *opener) {
	t.Helper()
	o := &opener{}
	p := New("workos", cfg, o.open, nil, nil)
	require.NoError(t, p.Initialize(context.Background()))
	t.Cleanup(func() { p.Close() })
	return p, o
}

func TestInitializeCreatesMinimum(t *testing.T) {
	p, o := newTestPool(t, fastConfig())

	stats := p.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Idle)
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, int64(2), o.dials.Load())
}

func TestInitializeFailsEntirely(t *testing.T) {
	o := &opener{failWith: mcperrors.ConnectionError("workos", errors.New("spawn failed"))}
	p := New("workos", fastConfig(), o.open, nil, nil)
	require.Error(t, p.Initialize(context.Background()))
	assert.Equal(t, 0, p.Stats().Total)
}

func TestAcquireReleaseInvariant(t *testing.T) {
	p, _ := newTestPool(t, fastConfig())
	ctx := context.Background()

	before := p.Stats().Active

	// Successful scoped use.
	require.NoError(t, p.WithConnection(ctx, func(context.Context, transport.Session) error {
		assert.Equal(t, before+1, p.Stats().Active)
		return nil
	}))
	assert.Equal(t, before, p.Stats().Active)

	// Scoped use whose body fails still releases.
	boom := errors.New("operation failed")
	err := p.WithConnection(ctx, func(context.Context, transport.Session) error { return boom })
	assert.Equal(t, boom, err)
	assert.Equal(t, before, p.Stats().Active)
}

func TestAcquireGrowsToMax(t *testing.T) {
	p, o := newTestPool(t, fastConfig())
	ctx := context.Background()

	var leases []*Lease
	for i := 0; i < 3; i++ {
		lease, err := p.Acquire(ctx)
		require.NoError(t, err, "acquire %d", i)
		leases = append(leases, lease)
	}
	assert.Equal(t, 3, p.Stats().Total)
	assert.Equal(t, int64(3), o.dials.Load())

	// Pool is at capacity with every connection leased.
	_, err := p.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindResource))

	for _, l := range leases {
		l.Release(nil)
	}
	assert.Equal(t, 0, p.Stats().Active)
}

func TestReleaseIdempotent(t *testing.T) {
	p, _ := newTestPool(t, fastConfig())

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	lease.Release(nil)
	lease.Release(nil)
	assert.Equal(t, 0, p.Stats().Active)
	assert.Equal(t, 2, p.Stats().Total)
}

func TestErrorStreakRetiresConnection(t *testing.T) {
	cfg := fastConfig()
	cfg.MinConnections = 1
	cfg.MaxConnections = 1
	p, o := newTestPool(t, cfg)
	ctx := context.Background()
	boom := errors.New("tool blew up")

	for i := 0; i < errorStreakLimit; i++ {
		lease, err := p.Acquire(ctx)
		require.NoError(t, err)
		lease.Release(boom)
	}

	// The streak retired the connection and closed its session.
	assert.Equal(t, 0, p.Stats().Total)
	assert.True(t, o.sessions[0].closed.Load())
}

func TestErrorStreakResetOnSuccess(t *testing.T) {
	cfg := fastConfig()
	cfg.MinConnections = 1
	cfg.MaxConnections = 1
	p, _ := newTestPool(t, cfg)
	ctx := context.Background()
	boom := errors.New("flaky")

	for i := 0; i < 5; i++ {
		lease, err := p.Acquire(ctx)
		require.NoError(t, err)
		if i%2 == 0 {
			lease.Release(boom)
		} else {
			lease.Release(nil)
		}
	}
	assert.Equal(t, 1, p.Stats().Total)
}

func TestSweepRetiresExpiredAndReplenishes(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxLifetime = time.Nanosecond
	p, o := newTestPool(t, cfg)

	time.Sleep(time.Millisecond)
	p.sweep(context.Background())

	// Expired connections were replaced with fresh ones up to the
	// minimum.
	stats := p.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Greater(t, o.dials.Load(), int64(2))
	assert.True(t, o.sessions[0].closed.Load())
	assert.True(t, o.sessions[1].closed.Load())
}

func TestStaleConnectionReplacedOnAcquire(t *testing.T) {
	cfg := fastConfig()
	cfg.MinConnections = 1
	cfg.MaxConnections = 2
	cfg.IdleTimeout = time.Nanosecond
	cfg.AutoReconnect = true
	cfg.MaxReconnectAttempts = 2
	p, o := newTestPool(t, cfg)

	time.Sleep(time.Millisecond)
	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release(nil)

	assert.True(t, o.sessions[0].closed.Load())
	assert.Equal(t, int64(2), o.dials.Load())
}

func TestCloseTearsDownSessions(t *testing.T) {
	o := &opener{}
	p := New("workos", fastConfig(), o.open, nil, nil)
	require.NoError(t, p.Initialize(context.Background()))
	require.NoError(t, p.Close())

	for _, s := range o.sessions {
		assert.True(t, s.closed.Load())
	}

	_, err := p.Acquire(context.Background())
	require.Error(t, err)
}

func TestRegistryLazyCreation(t *testing.T) {
	openers := map[string]*opener{
		"workos": {},
		"oura":   {},
	}
	reg := NewRegistry(fastConfig(), func(server string) SessionOpener {
		return openers[server].open
	}, nil, nil)
	t.Cleanup(func() { reg.Close() })

	ctx := context.Background()
	a, err := reg.Get(ctx, "workos")
	require.NoError(t, err)
	b, err := reg.Get(ctx, "workos")
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = reg.Get(ctx, "oura")
	require.NoError(t, err)
	assert.Equal(t, int64(2), openers["oura"].dials.Load())
}

func TestReleaseAfterCloseDestroysConnection(t *testing.T) {
	cfg := fastConfig()
	cfg.MinConnections = 1
	cfg.MaxConnections = 1
	p, o := newTestPool(t, cfg)

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Close())

	lease.Release(nil)

	require.Len(t, o.sessions, 1)
	assert.True(t, o.sessions[0].closed.Load())
	assert.Equal(t, 0, p.Stats().Total)
}

func TestConcurrentCloseAndReleaseClosesAllSessions(t *testing.T) {
	cfg := fastConfig()
	cfg.MinConnections = 3
	cfg.MaxConnections = 3
	p, o := newTestPool(t, cfg)

	leases := make([]*Lease, 0, 3)
	for i := 0; i < 3; i++ {
		lease, err := p.Acquire(context.Background())
		require.NoError(t, err)
		leases = append(leases, lease)
	}

	var wg sync.WaitGroup
	for _, lease := range leases {
		wg.Add(1)
		go func(l *Lease) {
			defer wg.Done()
			l.Release(nil)
		}(lease)
	}
	require.NoError(t, p.Close())
	wg.Wait()

	// A connection requeued while Close runs must still be torn down;
	// either the release sees the closed flag or Close drains the queue.
	for _, s := range o.sessions {
		assert.True(t, s.closed.Load())
	}
}
