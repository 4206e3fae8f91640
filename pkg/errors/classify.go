package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net"
	"os/exec"
	"strings"
	"syscall"
)

// retryableNativeErrors is the allow-list of wrapped standard-library errors
// that stay retryable when nothing more specific matches.
var retryableNativeErrors = []error{
	syscall.ECONNRESET,
	syscall.ECONNREFUSED,
	syscall.ECONNABORTED,
	syscall.EPIPE,
	syscall.ETIMEDOUT,
	io.ErrUnexpectedEOF,
	io.ErrClosedPipe,
}

// Classify maps an arbitrary error into the taxonomy. Errors already in the
// taxonomy pass through (gaining the server name if they lack one). The
// primary path is structural type checks; substring matching is a last-resort
// fallback for errors that arrive as bare strings from the client library.
func Classify(err error, server string) ServerError {
	if err == nil {
		return nil
	}

	if se, ok := AsServerError(err); ok {
		if se.ServerName() == "" && server != "" {
			return se.WithServer(server)
		}
		return se
	}

	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return Wrap(err, KindTimeout, "operation deadline exceeded", true).WithServer(server)
	case stderrors.Is(err, context.Canceled):
		return Wrap(err, KindConnection, "operation cancelled", false).WithServer(server)
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		if netErr.Timeout() {
			return Wrap(err, KindTimeout, err.Error(), true).WithServer(server)
		}
		return ConnectionError(server, err)
	}

	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		return ConnectionError(server, err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &syntaxErr) || stderrors.As(err, &typeErr) {
		return ProtocolError(server, err)
	}

	for _, native := range retryableNativeErrors {
		if stderrors.Is(err, native) {
			return ConnectionError(server, err)
		}
	}

	return classifyByMessage(err, server)
}

// classifyByMessage is the fuzzy fallback. Kept in one place so a stricter
// scheme can replace it without touching callers.
func classifyByMessage(err error, server string) ServerError {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "deadline exceeded"):
		return Wrap(err, KindTimeout, err.Error(), true).WithServer(server)

	case strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "file already closed") ||
		strings.Contains(msg, "eof"):
		return ConnectionError(server, err)

	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return RateLimitError(server, 0)

	case strings.Contains(msg, "unexpected") || strings.Contains(msg, "invalid json") ||
		strings.Contains(msg, "parse"):
		return ProtocolError(server, err)
	}

	return Wrap(err, KindInternal, err.Error(), false).WithServer(server)
}
