// Package pool keeps initialized sessions alive across operations so
// callers avoid paying the session-per-call setup cost. Connections are
// owned exclusively by their pool; callers only ever lease one for the
// duration of a single operation and must release it on every path.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	mcperrors "github.com/Geralt1983/Thanos-sub001/pkg/errors"
	"github.com/Geralt1983/Thanos-sub001/pkg/logging"
	"github.com/Geralt1983/Thanos-sub001/pkg/observability"
	"github.com/Geralt1983/Thanos-sub001/pkg/reliability"
	"github.com/Geralt1983/Thanos-sub001/pkg/transport"
)

// errorStreakLimit is how many consecutive use errors retire a connection.
const errorStreakLimit = 3

// SessionOpener establishes one initialized session. Pools are wired with
// the bridge's session opener so handshake and capability capture follow
// the same path everywhere.
type SessionOpener func(ctx context.Context) (transport.Session, error)

// State is a pooled connection's lifecycle stage. Only the pool moves a
// connection between states.
type State int

const (
	StateIdle State = iota
	StateActive
	StateUnhealthy
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateUnhealthy:
		return "unhealthy"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config tunes one pool.
type Config struct {
	MinConnections int
	MaxConnections int

	// ConnectionTimeout bounds establishing one new session.
	ConnectionTimeout time.Duration

	// IdleTimeout retires connections unused for too long.
	IdleTimeout time.Duration

	// AcquireTimeout bounds how long Acquire waits for a free
	// connection before trying to grow the pool.
	AcquireTimeout time.Duration

	// MaxLifetime retires connections regardless of use.
	MaxLifetime time.Duration

	// HealthCheckInterval paces the background sweep.
	HealthCheckInterval time.Duration

	// AutoReconnect replaces stale connections on acquire, with
	// MaxReconnectAttempts bounding the retries.
	AutoReconnect        bool
	MaxReconnectAttempts int
}

// DefaultConfig mirrors the settings used when a server does not configure
// its own pool.
func DefaultConfig() Config {
	return Config{
		MinConnections:       1,
		MaxConnections:       5,
		ConnectionTimeout:    10 * time.Second,
		IdleTimeout:          5 * time.Minute,
		AcquireTimeout:       5 * time.Second,
		MaxLifetime:          30 * time.Minute,
		HealthCheckInterval:  30 * time.Second,
		AutoReconnect:        true,
		MaxReconnectAttempts: 3,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.MinConnections <= 0 {
		c.MinConnections = def.MinConnections
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = def.MaxConnections
	}
	if c.MaxConnections < c.MinConnections {
		c.MaxConnections = c.MinConnections
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = def.ConnectionTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = def.AcquireTimeout
	}
	if c.MaxLifetime <= 0 {
		c.MaxLifetime = def.MaxLifetime
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = def.HealthCheckInterval
	}
	if c.AutoReconnect && c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
}

// conn is one pooled session plus bookkeeping. Fields are guarded by the
// pool's lock.
type conn struct {
	id          string
	session     transport.Session
	state       State
	createdAt   time.Time
	lastUsed    time.Time
	useCount    int64
	errorStreak int
}

// Stats is a point-in-time view of pool occupancy.
type Stats struct {
	Total  int
	Idle   int
	Active int
}

// Pool maintains live sessions for one server.
type Pool struct {
	server  string
	cfg     Config
	open    SessionOpener
	retrier *reliability.Retrier
	logger  logging.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	conns   map[string]*conn
	pending int
	closed  bool

	available chan *conn
	stop      context.CancelFunc
	loopDone  chan struct{}
}

// New builds a pool; Initialize must be called before Acquire.
func New(server string, cfg Config, open SessionOpener, logger logging.Logger, metrics *observability.Metrics) *Pool {
	cfg.applyDefaults()
	retryPolicy := reliability.RetryPolicy{
		MaxAttempts:  cfg.MaxReconnectAttempts,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Base:         2.0,
		Jitter:       true,
		JitterFactor: 0.1,
	}
	return &Pool{
		server:    server,
		cfg:       cfg,
		open:      open,
		retrier:   reliability.NewRetrier(retryPolicy, logger, reliability.WithMetrics(metrics)),
		logger:    logging.OrNop(logger),
		metrics:   metrics,
		conns:     make(map[string]*conn),
		available: make(chan *conn, cfg.MaxConnections),
	}
}

// Server returns the pooled server's name.
func (p *Pool) Server() string { return p.server }

// Initialize eagerly establishes MinConnections sessions, failing out
// entirely (and tearing down partial progress) if any cannot be created.
// It then starts the background health sweep.
func (p *Pool) Initialize(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	created := make(chan *conn, p.cfg.MinConnections)
	for i := 0; i < p.cfg.MinConnections; i++ {
		g.Go(func() error {
			c, err := p.dial(gctx)
			if err != nil {
				return err
			}
			created <- c
			return nil
		})
	}
	err := g.Wait()
	close(created)

	if err != nil {
		for c := range created {
			c.session.Close()
		}
		return err
	}

	p.mu.Lock()
	for c := range created {
		p.conns[c.id] = c
	}
	p.mu.Unlock()
	for _, c := range p.snapshotIdle() {
		p.available <- c
	}
	p.publishGauges()

	loopCtx, cancel := context.WithCancel(context.Background())
	p.stop = cancel
	p.loopDone = make(chan struct{})
	go p.healthLoop(loopCtx)

	p.logger.Info("connection pool initialized",
		logging.String("server", p.server),
		logging.Int("min_connections", p.cfg.MinConnections),
		logging.Int("max_connections", p.cfg.MaxConnections),
	)
	return nil
}

// snapshotIdle lists idle connections under the lock.
func (p *Pool) snapshotIdle() []*conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*conn
	for _, c := range p.conns {
		if c.state == StateIdle {
			out = append(out, c)
		}
	}
	return out
}

// Acquire leases a connection, waiting up to AcquireTimeout for one to
// free up before growing the pool, and failing with a resource error once
// the pool is at capacity.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, mcperrors.ConnectionError(p.server, errors.New("pool is closed"))
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	for {
		select {
		case c := <-p.available:
			leased, err := p.prepare(ctx, c)
			if err != nil {
				return nil, err
			}
			if leased == nil {
				continue
			}
			return &Lease{pool: p, conn: leased}, nil

		case <-timer.C:
			c, err := p.grow(ctx)
			if err != nil {
				return nil, err
			}
			p.activate(c)
			return &Lease{pool: p, conn: c}, nil

		case <-ctx.Done():
			return nil, mcperrors.Classify(ctx.Err(), p.server)
		}
	}
}

// prepare validates a dequeued connection, replacing stale ones through
// the retry-wrapped reconnect path. A nil conn with nil error tells the
// caller to keep waiting.
func (p *Pool) prepare(ctx context.Context, c *conn) (*conn, error) {
	if !p.stale(c) {
		p.activate(c)
		return c, nil
	}

	p.destroy(c)
	if !p.cfg.AutoReconnect {
		return nil, nil
	}

	replacement, err := reliability.DoValue(ctx, p.retrier, p.server, "pool_reconnect",
		func(ctx context.Context) (*conn, error) {
			return p.dialTracked(ctx)
		})
	if err != nil {
		return nil, err
	}
	p.activate(replacement)
	return replacement, nil
}

// grow creates a connection beyond the idle set if capacity allows.
func (p *Pool) grow(ctx context.Context) (*conn, error) {
	p.mu.Lock()
	if len(p.conns)+p.pending >= p.cfg.MaxConnections {
		p.mu.Unlock()
		return nil, mcperrors.ResourceError(p.server, "connection pool",
			"acquire timed out with pool at maximum capacity")
	}
	p.pending++
	p.mu.Unlock()

	c, err := p.dial(ctx)

	p.mu.Lock()
	p.pending--
	if err == nil {
		p.conns[c.id] = c
	}
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return c, nil
}

// dialTracked is dial plus registration, used by the reconnect path.
func (p *Pool) dialTracked(ctx context.Context) (*conn, error) {
	c, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.conns[c.id] = c
	p.mu.Unlock()
	return c, nil
}

// dial opens one session under the connection timeout.
func (p *Pool) dial(ctx context.Context) (*conn, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectionTimeout)
	defer cancel()

	session, err := p.open(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &conn{
		id:        uuid.NewString(),
		session:   session,
		state:     StateIdle,
		createdAt: now,
		lastUsed:  now,
	}, nil
}

// stale applies the cheap lifetime and idleness predicate.
func (p *Pool) stale(c *conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c.state == StateUnhealthy || c.state == StateClosed {
		return true
	}
	now := time.Now()
	if now.Sub(c.createdAt) > p.cfg.MaxLifetime {
		return true
	}
	return now.Sub(c.lastUsed) > p.cfg.IdleTimeout
}

func (p *Pool) activate(c *conn) {
	p.mu.Lock()
	c.state = StateActive
	p.mu.Unlock()
	p.publishGauges()
}

// release returns a connection to the idle queue. Connections that have
// failed too many times in a row are retired instead, and the pool is
// replenished up to its minimum.
func (p *Pool) release(c *conn, opErr error) {
	p.mu.Lock()
	if c.state == StateClosed {
		p.mu.Unlock()
		return
	}
	c.lastUsed = time.Now()
	c.useCount++
	if opErr != nil {
		c.errorStreak++
	} else {
		c.errorStreak = 0
	}
	closed := p.closed
	retire := c.errorStreak >= errorStreakLimit
	if closed || retire {
		c.state = StateUnhealthy
	} else {
		// Requeue while still holding the lock so the send cannot land
		// after Close has set closed and drained the channel. The
		// channel is sized to MaxConnections, so the send never blocks.
		c.state = StateIdle
		p.available <- c
	}
	p.mu.Unlock()

	if closed || retire {
		if retire {
			p.logger.Warn("retiring connection after repeated errors",
				logging.String("server", p.server),
				logging.String("connection_id", c.id),
			)
		}
		p.destroy(c)
	}
	p.publishGauges()
}

// destroy removes a connection from the pool and closes its session.
func (p *Pool) destroy(c *conn) {
	p.mu.Lock()
	delete(p.conns, c.id)
	c.state = StateClosed
	p.mu.Unlock()
	c.session.Close()
}

// healthLoop periodically retires stale idle connections and keeps the
// pool stocked to its minimum.
func (p *Pool) healthLoop(ctx context.Context) {
	defer close(p.loopDone)
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// sweep drains the idle queue once, discarding stale connections and
// requeueing healthy ones, then replenishes below-minimum capacity.
func (p *Pool) sweep(ctx context.Context) {
	for n := len(p.available); n > 0; n-- {
		var c *conn
		select {
		case c = <-p.available:
		default:
			n = 0
			continue
		}
		if p.stale(c) {
			p.destroy(c)
		} else {
			p.available <- c
		}
	}
	p.replenish(ctx)
	p.publishGauges()
}

// replenish restores the pool to MinConnections.
func (p *Pool) replenish(ctx context.Context) {
	for {
		p.mu.Lock()
		if p.closed || len(p.conns)+p.pending >= p.cfg.MinConnections {
			p.mu.Unlock()
			return
		}
		p.pending++
		p.mu.Unlock()

		c, err := p.dial(ctx)

		p.mu.Lock()
		p.pending--
		if err == nil {
			p.conns[c.id] = c
		}
		p.mu.Unlock()

		if err != nil {
			p.logger.WithError(err).Warn("pool replenish failed",
				logging.String("server", p.server))
			return
		}
		p.available <- c
	}
}

// Stats reports current occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Total: len(p.conns)}
	for _, c := range p.conns {
		switch c.state {
		case StateIdle:
			s.Idle++
		case StateActive:
			s.Active++
		}
	}
	return s
}

func (p *Pool) publishGauges() {
	s := p.Stats()
	p.metrics.SetPoolGauges(p.server, s.Active, s.Idle)
}

// WithConnection runs fn with a leased session and releases it on every
// path, reporting fn's error into the connection's error streak.
func (p *Pool) WithConnection(ctx context.Context, fn func(ctx context.Context, sess transport.Session) error) error {
	lease, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	err = fn(ctx, lease.Session())
	lease.Release(err)
	return err
}

// Close stops the sweep loop and tears down every connection. Subsequent
// acquires fail; leases released afterwards are closed on return.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.stop != nil {
		p.stop()
		<-p.loopDone
	}

	for {
		select {
		case c := <-p.available:
			p.destroy(c)
		default:
			p.publishGauges()
			return nil
		}
	}
}

// Lease is one caller's exclusive hold on a pooled connection.
type Lease struct {
	pool *Pool
	conn *conn
	once sync.Once
}

// Session returns the leased session.
func (l *Lease) Session() transport.Session { return l.conn.session }

// ID returns the pooled connection's identifier.
func (l *Lease) ID() string { return l.conn.id }

// Release returns the connection to the pool exactly once. Pass the
// operation's error so repeated failures retire the connection.
func (l *Lease) Release(opErr error) {
	l.once.Do(func() { l.pool.release(l.conn, opErr) })
}
