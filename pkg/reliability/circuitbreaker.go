package reliability

import (
	"context"
	"sync"
	"time"

	mcperrors "github.com/Geralt1983/Thanos-sub001/pkg/errors"
	"github.com/Geralt1983/Thanos-sub001/pkg/logging"
)

// BreakerState is the circuit breaker's current mode.
type BreakerState int

const (
	// StateClosed passes calls through normally.
	StateClosed BreakerState = iota
	// StateOpen rejects all calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen admits a bounded number of probe calls.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes one circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the
	// circuit.
	FailureThreshold int

	// SuccessThreshold is the consecutive success count, while half open,
	// that closes the circuit again.
	SuccessThreshold int

	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration

	// HalfOpenMaxCalls bounds concurrent probes while half open.
	HalfOpenMaxCalls int
}

// DefaultBreakerConfig mirrors the settings used when a server does not
// configure its own.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// BreakerStats is a point-in-time snapshot of breaker state.
type BreakerStats struct {
	State                BreakerState
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastFailure          time.Time
	LastSuccess          time.Time
	OpenedAt             time.Time
}

// CircuitBreaker guards calls to a single server. All state transitions
// happen under its lock; the open-to-half-open transition is evaluated
// lazily on the next call attempt.
type CircuitBreaker struct {
	name   string
	config BreakerConfig
	logger logging.Logger
	clock  func() time.Time

	mu                   sync.Mutex
	state                BreakerState
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailure          time.Time
	lastSuccess          time.Time
	openedAt             time.Time
	halfOpenInFlight     int
}

// NewCircuitBreaker builds a breaker for the named server.
func NewCircuitBreaker(name string, config BreakerConfig, logger logging.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = DefaultBreakerConfig().SuccessThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultBreakerConfig().Cooldown
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = DefaultBreakerConfig().HalfOpenMaxCalls
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logging.OrNop(logger),
		clock:  time.Now,
	}
}

// Name returns the server this breaker guards.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current mode, applying the lazy open-to-half-open
// transition if the cooldown has elapsed.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeTransitionHalfOpen()
	return cb.state
}

// Stats returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeTransitionHalfOpen()
	return BreakerStats{
		State:                cb.state,
		ConsecutiveFailures:  cb.consecutiveFailures,
		ConsecutiveSuccesses: cb.consecutiveSuccesses,
		LastFailure:          cb.lastFailure,
		LastSuccess:          cb.lastSuccess,
		OpenedAt:             cb.openedAt,
	}
}

// Execute runs fn through the breaker. While open it fails fast with a
// circuit breaker error carrying the remaining cooldown; while half open it
// admits at most HalfOpenMaxCalls concurrent probes.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := cb.beforeCall()
	if err != nil {
		return err
	}

	// Deferred so a panicking fn still releases its half-open probe slot;
	// the panic itself counts as a failure.
	success := false
	defer func() { cb.afterCall(probe, success) }()

	if callErr := fn(ctx); callErr != nil {
		return callErr
	}
	success = true
	return nil
}

func (cb *CircuitBreaker) beforeCall() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeTransitionHalfOpen()

	switch cb.state {
	case StateOpen:
		remaining := cb.config.Cooldown - cb.clock().Sub(cb.openedAt)
		if remaining < 0 {
			remaining = 0
		}
		return false, mcperrors.CircuitBreakerError(cb.name, cb.consecutiveFailures, remaining, "circuit open")
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.config.HalfOpenMaxCalls {
			return false, mcperrors.CircuitBreakerError(cb.name, cb.consecutiveFailures, 0, "half-open concurrency limit reached")
		}
		cb.halfOpenInFlight++
		return true, nil
	default:
		return false, nil
	}
}

func (cb *CircuitBreaker) afterCall(probe, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}

	now := cb.clock()
	if success {
		cb.consecutiveFailures = 0
		cb.consecutiveSuccesses++
		cb.lastSuccess = now
		if cb.state == StateHalfOpen && cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.transition(StateClosed)
		}
		return
	}

	cb.consecutiveSuccesses = 0
	cb.consecutiveFailures++
	cb.lastFailure = now

	switch cb.state {
	case StateHalfOpen:
		cb.openedAt = now
		cb.transition(StateOpen)
	case StateClosed:
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.openedAt = now
			cb.transition(StateOpen)
		}
	}
}

// maybeTransitionHalfOpen applies the lazy OPEN to HALF_OPEN transition.
// Caller must hold the lock.
func (cb *CircuitBreaker) maybeTransitionHalfOpen() {
	if cb.state == StateOpen && cb.clock().Sub(cb.openedAt) >= cb.config.Cooldown {
		cb.halfOpenInFlight = 0
		cb.consecutiveSuccesses = 0
		cb.transition(StateHalfOpen)
	}
}

// transition moves to the new state and logs the change. Caller must hold
// the lock.
func (cb *CircuitBreaker) transition(next BreakerState) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.logger.Info("circuit breaker state change",
		logging.String("server", cb.name),
		logging.String("from", prev.String()),
		logging.String("to", next.String()),
		logging.Int("consecutive_failures", cb.consecutiveFailures),
	)
}

// Reset returns the breaker to closed with cleared counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.halfOpenInFlight = 0
	cb.transition(StateClosed)
}
