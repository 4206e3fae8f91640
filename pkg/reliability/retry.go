// Package reliability implements the retry and circuit breaking layer that
// sits between callers and server sessions. Retries act purely on the
// retryable flag of the error taxonomy; circuit breakers act purely on their
// own counters. Neither inspects error messages.
package reliability

import (
	"context"
	"math"
	"math/rand"
	"time"

	mcperrors "github.com/Geralt1983/Thanos-sub001/pkg/errors"
	"github.com/Geralt1983/Thanos-sub001/pkg/logging"
	"github.com/Geralt1983/Thanos-sub001/pkg/observability"
)

// minRetryDelay is the floor applied to every computed backoff delay.
const minRetryDelay = 100 * time.Millisecond

// RetryPolicy configures exponential backoff between attempts.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls, first attempt included.
	MaxAttempts int

	// InitialDelay seeds the backoff curve.
	InitialDelay time.Duration

	// MaxDelay caps the backoff curve.
	MaxDelay time.Duration

	// Base is the exponential growth factor between attempts.
	Base float64

	// Jitter perturbs each delay by up to JitterFactor in either
	// direction to avoid thundering herds.
	Jitter       bool
	JitterFactor float64

	// OverallTimeout bounds the wall clock spent across all attempts.
	// Zero means no overall budget.
	OverallTimeout time.Duration
}

// DefaultRetryPolicy mirrors the settings used when a server does not
// configure its own.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Base:         2.0,
		Jitter:       true,
		JitterFactor: 0.1,
	}
}

// CalculateDelay returns the backoff delay before retrying after the given
// zero-based attempt. Without jitter the sequence is non-decreasing up to
// MaxDelay; every returned delay is at least minRetryDelay.
func (p RetryPolicy) CalculateDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := p.Base
	if base <= 0 {
		base = 2.0
	}

	delay := float64(p.InitialDelay) * math.Pow(base, float64(attempt))
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && delay > max {
		delay = max
	}
	if p.Jitter && p.JitterFactor > 0 {
		span := delay * p.JitterFactor
		delay += (rand.Float64()*2 - 1) * span
	}
	if delay < float64(minRetryDelay) {
		delay = float64(minRetryDelay)
	}
	return time.Duration(delay)
}

// Retrier executes operations under a RetryPolicy.
type Retrier struct {
	policy  RetryPolicy
	logger  logging.Logger
	metrics *observability.Metrics
}

// RetrierOption configures optional collaborators.
type RetrierOption func(*Retrier)

// WithMetrics counts retry attempts per server and operation.
func WithMetrics(m *observability.Metrics) RetrierOption {
	return func(r *Retrier) { r.metrics = m }
}

// NewRetrier builds a retrier. A nil logger disables retry logging.
func NewRetrier(policy RetryPolicy, logger logging.Logger, opts ...RetrierOption) *Retrier {
	r := &Retrier{policy: policy, logger: logging.OrNop(logger)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the configured policy.
func (r *Retrier) Policy() RetryPolicy { return r.policy }

// Do runs fn until it succeeds, fails with a non-retryable error, exhausts
// MaxAttempts, or exceeds the overall budget. The last error from fn is
// returned unchanged; only an exceeded overall budget substitutes a timeout
// error of its own.
func (r *Retrier) Do(ctx context.Context, server, operation string, fn func(context.Context) error) error {
	start := time.Now()
	attempts := r.policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if r.policy.OverallTimeout > 0 && time.Since(start) >= r.policy.OverallTimeout {
			return mcperrors.TimeoutError(server, operation, r.policy.OverallTimeout)
		}
		if err := ctx.Err(); err != nil {
			return mcperrors.Classify(err, server)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == attempts-1 || !mcperrors.IsRetryable(err) {
			return err
		}

		r.metrics.RecordRetry(server, operation)
		delay := r.policy.CalculateDelay(attempt)
		r.logger.Debug("retrying after failure",
			logging.String("server", server),
			logging.String("operation", operation),
			logging.Int("attempt", attempt+1),
			logging.Int("max_attempts", attempts),
			logging.Duration("delay", delay),
			logging.ErrorField(err),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return mcperrors.Classify(ctx.Err(), server)
		}
	}
	return lastErr
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, r *Retrier, server, operation string, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, server, operation, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
