// Package errors provides the typed error taxonomy for the Thanos MCP
// resilience core. Every failure surfaced by the bridge, pool, load balancer
// or transports is one of these types, and each carries a retryable flag that
// the retry policy and circuit breaker act on. They never inspect messages.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// Kind classifies an error within the taxonomy.
type Kind string

const (
	KindConnection        Kind = "connection"
	KindTimeout           Kind = "timeout"
	KindProtocol          Kind = "protocol"
	KindInitialization    Kind = "initialization"
	KindCapability        Kind = "capability"
	KindToolNotFound      Kind = "tool_not_found"
	KindToolExecution     Kind = "tool_execution"
	KindToolValidation    Kind = "tool_validation"
	KindConfiguration     Kind = "configuration"
	KindServerUnavailable Kind = "server_unavailable"
	KindCircuitBreaker    Kind = "circuit_breaker"
	KindResource          Kind = "resource"
	KindRateLimit         Kind = "rate_limit"
	KindInternal          Kind = "internal"
)

// ServerError is the interface implemented by all taxonomy errors.
type ServerError interface {
	error

	// Kind returns the taxonomy classification.
	Kind() Kind

	// Retryable reports whether the retry policy may re-attempt the
	// operation that produced this error.
	Retryable() bool

	// ServerName returns the name of the server involved, if known.
	ServerName() string

	// Data returns structured, kind-specific error data.
	Data() interface{}

	// Context returns the free-form context map.
	Context() map[string]interface{}

	// WithServer returns a copy with the server name set.
	WithServer(name string) ServerError

	// WithContext returns a copy with an added context entry.
	WithContext(key string, value interface{}) ServerError

	// Unwrap returns the underlying cause for errors.Is/As traversal.
	Unwrap() error

	// ToJSON returns the error as a JSON-serializable map.
	ToJSON() map[string]interface{}
}

// baseError implements ServerError.
type baseError struct {
	kind      Kind
	message   string
	server    string
	retryable bool
	data      interface{}
	context   map[string]interface{}
	cause     error
}

func (e *baseError) Error() string {
	if e.server != "" {
		return fmt.Sprintf("%s: %s", e.server, e.message)
	}
	return e.message
}

func (e *baseError) Kind() Kind                      { return e.kind }
func (e *baseError) Retryable() bool                 { return e.retryable }
func (e *baseError) ServerName() string              { return e.server }
func (e *baseError) Data() interface{}               { return e.data }
func (e *baseError) Context() map[string]interface{} { return e.context }
func (e *baseError) Unwrap() error                   { return e.cause }

// WithServer returns a copy with the server name set.
func (e *baseError) WithServer(name string) ServerError {
	newErr := *e
	newErr.server = name
	return &newErr
}

// WithContext returns a copy with an added context entry.
func (e *baseError) WithContext(key string, value interface{}) ServerError {
	newErr := *e
	newErr.context = make(map[string]interface{}, len(e.context)+1)
	for k, v := range e.context {
		newErr.context[k] = v
	}
	newErr.context[key] = value
	return &newErr
}

// ToJSON returns the error as a JSON-serializable map.
func (e *baseError) ToJSON() map[string]interface{} {
	result := map[string]interface{}{
		"kind":      string(e.kind),
		"message":   e.message,
		"retryable": e.retryable,
	}
	if e.server != "" {
		result["server"] = e.server
	}
	if e.data != nil {
		result["data"] = e.data
	}
	if len(e.context) > 0 {
		result["context"] = e.context
	}
	if e.cause != nil {
		result["cause"] = e.cause.Error()
	}
	return result
}

// MarshalJSON implements json.Marshaler.
func (e *baseError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToJSON())
}

// New creates a taxonomy error with an explicit kind and retryable flag.
// Prefer the kind-specific constructors where one exists.
func New(kind Kind, message string, retryable bool) ServerError {
	return &baseError{kind: kind, message: message, retryable: retryable}
}

// Newf creates a taxonomy error with a formatted message.
func Newf(kind Kind, retryable bool, format string, args ...interface{}) ServerError {
	return &baseError{kind: kind, message: fmt.Sprintf(format, args...), retryable: retryable}
}

// Wrap wraps an existing error into the taxonomy.
func Wrap(err error, kind Kind, message string, retryable bool) ServerError {
	return &baseError{kind: kind, message: message, retryable: retryable, cause: err}
}

// AsServerError extracts a ServerError from any error chain.
func AsServerError(err error) (ServerError, bool) {
	var se ServerError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsRetryable reports whether an error may be retried. Errors outside the
// taxonomy are classified first, so unknown transport failures default to
// the classifier's allow-list behaviour.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := AsServerError(err); ok {
		return se.Retryable()
	}
	return Classify(err, "").Retryable()
}

// IsKind reports whether an error belongs to a specific taxonomy kind.
func IsKind(err error, kind Kind) bool {
	if se, ok := AsServerError(err); ok {
		return se.Kind() == kind
	}
	return false
}
