package errors

import (
	"fmt"
	"time"
)

// TimeoutData carries the deadline that was exceeded.
type TimeoutData struct {
	Timeout time.Duration `json:"timeout"`
}

// CapabilityData names the capability the server lacks.
type CapabilityData struct {
	Capability string `json:"capability"`
}

// ToolNotFoundData lists the tools the server did advertise, when known.
type ToolNotFoundData struct {
	Tool           string   `json:"tool"`
	AvailableTools []string `json:"available_tools,omitempty"`
}

// CircuitBreakerData carries the breaker state behind a fast-failed call.
type CircuitBreakerData struct {
	FailureCount      int           `json:"failure_count"`
	CooldownRemaining time.Duration `json:"cooldown_remaining"`
	Reason            string        `json:"reason,omitempty"`
}

// RateLimitData carries an optional server-supplied retry-after hint.
type RateLimitData struct {
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// ConnectionError reports a transport-level failure. Retryable.
func ConnectionError(server string, cause error) ServerError {
	msg := "connection failed"
	if cause != nil {
		msg = fmt.Sprintf("connection failed: %v", cause)
	}
	return &baseError{
		kind:      KindConnection,
		message:   msg,
		server:    server,
		retryable: true,
		cause:     cause,
	}
}

// TimeoutError reports an operation that exceeded its deadline. Retryable.
func TimeoutError(server, operation string, timeout time.Duration) ServerError {
	return &baseError{
		kind:      KindTimeout,
		message:   fmt.Sprintf("%s timed out after %s", operation, timeout),
		server:    server,
		retryable: true,
		data:      &TimeoutData{Timeout: timeout},
	}
}

// ProtocolError reports a malformed or unexpected server response. Not retryable.
func ProtocolError(server string, cause error) ServerError {
	msg := "protocol error"
	if cause != nil {
		msg = fmt.Sprintf("protocol error: %v", cause)
	}
	return &baseError{
		kind:    KindProtocol,
		message: msg,
		server:  server,
		cause:   cause,
	}
}

// InitializationError reports a failed handshake. Not retryable.
func InitializationError(server string, cause error) ServerError {
	msg := "initialize handshake failed"
	if cause != nil {
		msg = fmt.Sprintf("initialize handshake failed: %v", cause)
	}
	return &baseError{
		kind:    KindInitialization,
		message: msg,
		server:  server,
		cause:   cause,
	}
}

// CapabilityError reports a missing required capability. Not retryable.
func CapabilityError(server, capability string) ServerError {
	return &baseError{
		kind:    KindCapability,
		message: fmt.Sprintf("server does not support %s", capability),
		server:  server,
		data:    &CapabilityData{Capability: capability},
	}
}

// ToolNotFoundError reports an unknown tool name. Not retryable.
func ToolNotFoundError(server, tool string, available []string) ServerError {
	return &baseError{
		kind:    KindToolNotFound,
		message: fmt.Sprintf("tool %q not found", tool),
		server:  server,
		data:    &ToolNotFoundData{Tool: tool, AvailableTools: available},
	}
}

// ToolExecutionError reports a tool that ran but failed. Retryable by default.
func ToolExecutionError(server, tool string, cause error) ServerError {
	msg := fmt.Sprintf("tool %q execution failed", tool)
	if cause != nil {
		msg = fmt.Sprintf("tool %q execution failed: %v", tool, cause)
	}
	return &baseError{
		kind:      KindToolExecution,
		message:   msg,
		server:    server,
		retryable: true,
		cause:     cause,
	}
}

// ToolValidationError reports bad tool arguments. Not retryable.
func ToolValidationError(server, tool, detail string) ServerError {
	return &baseError{
		kind:    KindToolValidation,
		message: fmt.Sprintf("invalid arguments for tool %q: %s", tool, detail),
		server:  server,
	}
}

// ConfigurationError reports a bad configuration file or field. Not retryable.
func ConfigurationError(detail string) ServerError {
	return &baseError{
		kind:    KindConfiguration,
		message: fmt.Sprintf("configuration error: %s", detail),
	}
}

// ServerUnavailableError reports a health or availability failure. Retryable.
func ServerUnavailableError(server, reason string) ServerError {
	return &baseError{
		kind:      KindServerUnavailable,
		message:   fmt.Sprintf("server unavailable: %s", reason),
		server:    server,
		retryable: true,
	}
}

// CircuitBreakerError reports a call rejected by an open breaker.
// Retryable once the cool-down elapses.
func CircuitBreakerError(server string, failures int, cooldownRemaining time.Duration, reason string) ServerError {
	return &baseError{
		kind: KindCircuitBreaker,
		message: fmt.Sprintf("circuit breaker open (%d failures, retry in %s)",
			failures, cooldownRemaining.Round(time.Millisecond)),
		server:    server,
		retryable: true,
		data: &CircuitBreakerData{
			FailureCount:      failures,
			CooldownRemaining: cooldownRemaining,
			Reason:            reason,
		},
	}
}

// ResourceError reports resource exhaustion. Retryable by default.
func ResourceError(server, resource, detail string) ServerError {
	return &baseError{
		kind:      KindResource,
		message:   fmt.Sprintf("%s exhausted: %s", resource, detail),
		server:    server,
		retryable: true,
	}
}

// RateLimitError reports throttling by the server, with an optional
// retry-after hint. Retryable.
func RateLimitError(server string, retryAfter time.Duration) ServerError {
	msg := "rate limited"
	if retryAfter > 0 {
		msg = fmt.Sprintf("rate limited, retry after %s", retryAfter)
	}
	return &baseError{
		kind:      KindRateLimit,
		message:   msg,
		server:    server,
		retryable: true,
		data:      &RateLimitData{RetryAfter: retryAfter},
	}
}
