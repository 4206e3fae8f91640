package reliability

import (
	"sort"
	"sync"

	"github.com/Geralt1983/Thanos-sub001/pkg/logging"
)

// BreakerRegistry holds one circuit breaker per server name, created
// lazily. It is constructed by the application's composition root and
// passed down explicitly rather than living as ambient global state.
type BreakerRegistry struct {
	config BreakerConfig
	logger logging.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerRegistry builds a registry whose breakers all share config.
func NewBreakerRegistry(config BreakerConfig, logger logging.Logger) *BreakerRegistry {
	return &BreakerRegistry{
		config:   config,
		logger:   logging.OrNop(logger),
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for the named server, creating it on first use.
func (r *BreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[name]
	if !ok {
		cb = NewCircuitBreaker(name, r.config, r.logger)
		r.breakers[name] = cb
	}
	return cb
}

// Names returns the servers with a breaker, sorted.
func (r *BreakerRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// States returns the current mode of every breaker.
func (r *BreakerRegistry) States() map[string]BreakerState {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	states := make(map[string]BreakerState, len(breakers))
	for _, cb := range breakers {
		states[cb.Name()] = cb.State()
	}
	return states
}

// ResetAll returns every breaker to closed.
func (r *BreakerRegistry) ResetAll() {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	for _, cb := range breakers {
		cb.Reset()
	}
}
