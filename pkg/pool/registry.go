package pool

import (
	"context"
	"sync"

	"github.com/Geralt1983/Thanos-sub001/pkg/logging"
	"github.com/Geralt1983/Thanos-sub001/pkg/observability"
)

// OpenerFactory supplies the session opener for a named server, typically
// a bridge's OpenSession method.
type OpenerFactory func(server string) SessionOpener

// Registry maintains one initialized pool per server, created lazily on
// first request. Construct it at the composition root and inject it;
// nothing here is ambient global state.
type Registry struct {
	cfg     Config
	factory OpenerFactory
	logger  logging.Logger
	metrics *observability.Metrics

	mu    sync.Mutex
	pools map[string]*Pool
}

// NewRegistry builds an empty registry whose pools share cfg.
func NewRegistry(cfg Config, factory OpenerFactory, logger logging.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		cfg:     cfg,
		factory: factory,
		logger:  logging.OrNop(logger),
		metrics: metrics,
		pools:   make(map[string]*Pool),
	}
}

// Get returns the pool for the named server, creating and initializing it
// on first use. Initialization failure leaves no pool behind, so the next
// call retries from scratch.
func (r *Registry) Get(ctx context.Context, server string) (*Pool, error) {
	r.mu.Lock()
	if p, ok := r.pools[server]; ok {
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	p := New(server, r.cfg, r.factory(server), r.logger, r.metrics)
	if err := p.Initialize(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.pools[server]; ok {
		// Lost the race to another caller; keep theirs.
		go p.Close()
		return existing, nil
	}
	r.pools[server] = p
	return p, nil
}

// Close tears down every pool.
func (r *Registry) Close() error {
	r.mu.Lock()
	pools := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.pools = make(map[string]*Pool)
	r.mu.Unlock()

	var firstErr error
	for _, p := range pools {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
