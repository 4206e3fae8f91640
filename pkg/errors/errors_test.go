package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"syscall"
	"testing"
	"time"
)

func TestTaxonomyRetryableFlags(t *testing.T) {
	tests := []struct {
		name          string
		err           ServerError
		wantKind      Kind
		wantRetryable bool
	}{
		{"connection", ConnectionError("oura", io.ErrUnexpectedEOF), KindConnection, true},
		{"timeout", TimeoutError("oura", "call_tool", 5 * time.Second), KindTimeout, true},
		{"protocol", ProtocolError("oura", nil), KindProtocol, false},
		{"initialization", InitializationError("oura", nil), KindInitialization, false},
		{"capability", CapabilityError("oura", "tools"), KindCapability, false},
		{"tool not found", ToolNotFoundError("oura", "get_sleep", []string{"get_readiness"}), KindToolNotFound, false},
		{"tool execution", ToolExecutionError("oura", "get_readiness", nil), KindToolExecution, true},
		{"tool validation", ToolValidationError("oura", "get_readiness", "missing date"), KindToolValidation, false},
		{"configuration", ConfigurationError("empty command"), KindConfiguration, false},
		{"server unavailable", ServerUnavailableError("oura", "health check failed"), KindServerUnavailable, true},
		{"circuit breaker", CircuitBreakerError("oura", 5, 30*time.Second, ""), KindCircuitBreaker, true},
		{"resource", ResourceError("oura", "connection pool", "at max connections"), KindResource, true},
		{"rate limit", RateLimitError("oura", time.Minute), KindRateLimit, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Kind(); got != tt.wantKind {
				t.Errorf("Kind() = %v, want %v", got, tt.wantKind)
			}
			if got := tt.err.Retryable(); got != tt.wantRetryable {
				t.Errorf("Retryable() = %v, want %v", got, tt.wantRetryable)
			}
			if msg := tt.err.Error(); msg == "" {
				t.Error("Error() returned empty string")
			}
		})
	}
}

func TestWithServerCopies(t *testing.T) {
	orig := ConfigurationError("bad field")
	withServer := orig.WithServer("workos")

	if orig.ServerName() != "" {
		t.Errorf("original mutated: server = %q", orig.ServerName())
	}
	if withServer.ServerName() != "workos" {
		t.Errorf("ServerName() = %q, want workos", withServer.ServerName())
	}
}

func TestWithContextCopies(t *testing.T) {
	orig := ConnectionError("oura", nil)
	derived := orig.WithContext("attempt", 3)

	if len(orig.Context()) != 0 {
		t.Errorf("original context mutated: %v", orig.Context())
	}
	if derived.Context()["attempt"] != 3 {
		t.Errorf("Context()[attempt] = %v, want 3", derived.Context()["attempt"])
	}
}

func TestUnwrapChain(t *testing.T) {
	cause := syscall.ECONNRESET
	err := ConnectionError("oura", cause)

	wrapped := fmt.Errorf("call failed: %w", err)
	se, ok := AsServerError(wrapped)
	if !ok {
		t.Fatalf("AsServerError did not find taxonomy error in chain: %v", wrapped)
	}
	if se.Kind() != KindConnection {
		t.Errorf("Kind() = %v, want %v", se.Kind(), KindConnection)
	}
	if se.Unwrap() == nil {
		t.Error("Unwrap() lost the cause")
	}
}

func TestClassifyStructural(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantKind      Kind
		wantRetryable bool
	}{
		{"deadline exceeded", context.DeadlineExceeded, KindTimeout, true},
		{"cancelled", context.Canceled, KindConnection, false},
		{"connection reset", syscall.ECONNRESET, KindConnection, true},
		{"broken pipe", syscall.EPIPE, KindConnection, true},
		{"unexpected eof", io.ErrUnexpectedEOF, KindConnection, true},
		{"json syntax", &json.SyntaxError{}, KindProtocol, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, "workos")
			if got.Kind() != tt.wantKind {
				t.Errorf("Classify(%v).Kind() = %v, want %v", tt.err, got.Kind(), tt.wantKind)
			}
			if got.Retryable() != tt.wantRetryable {
				t.Errorf("Classify(%v).Retryable() = %v, want %v", tt.err, got.Retryable(), tt.wantRetryable)
			}
			if got.ServerName() != "workos" {
				t.Errorf("Classify did not attach server name, got %q", got.ServerName())
			}
		})
	}
}

func TestClassifySubstringFallback(t *testing.T) {
	tests := []struct {
		msg      string
		wantKind Kind
	}{
		{"request timed out waiting for response", KindTimeout},
		{"write: broken pipe", KindConnection},
		{"429 too many requests", KindRateLimit},
		{"some totally novel failure", KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			got := Classify(fmt.Errorf("%s", tt.msg), "")
			if got.Kind() != tt.wantKind {
				t.Errorf("Classify(%q).Kind() = %v, want %v", tt.msg, got.Kind(), tt.wantKind)
			}
		})
	}
}

func TestClassifyPassesThroughTaxonomy(t *testing.T) {
	orig := CapabilityError("", "tools")
	got := Classify(orig, "oura")
	if got.Kind() != KindCapability {
		t.Errorf("Kind() = %v, want %v", got.Kind(), KindCapability)
	}
	if got.ServerName() != "oura" {
		t.Errorf("ServerName() = %q, want oura", got.ServerName())
	}
}

func TestToJSON(t *testing.T) {
	err := CircuitBreakerError("oura", 5, 30*time.Second, "cooldown")
	m := err.ToJSON()

	if m["kind"] != string(KindCircuitBreaker) {
		t.Errorf("kind = %v", m["kind"])
	}
	if m["retryable"] != true {
		t.Errorf("retryable = %v", m["retryable"])
	}
	data, ok := m["data"].(*CircuitBreakerData)
	if !ok {
		t.Fatalf("data has wrong type: %T", m["data"])
	}
	if data.FailureCount != 5 {
		t.Errorf("FailureCount = %d, want 5", data.FailureCount)
	}

	if _, err := json.Marshal(err); err != nil {
		t.Errorf("json.Marshal failed: %v", err)
	}
}

func TestIsRetryableClassifiesUnknown(t *testing.T) {
	if !IsRetryable(fmt.Errorf("dial tcp: connection refused")) {
		t.Error("connection refused should be retryable")
	}
	if IsRetryable(fmt.Errorf("schema mismatch while parse")) {
		t.Error("protocol errors should not be retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil is not retryable")
	}
}
