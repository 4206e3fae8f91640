// Package transport provides the connection layer between the client stack
// and individual servers. A Transport knows how to establish sessions over
// one mechanism (a spawned subprocess speaking stdio, or a streaming HTTP
// endpoint) and hands back a Session that carries the protocol handshake,
// tool listing, and tool invocation for exactly one connection.
//
// Transports are cheap handles. Establishing the underlying process or
// stream happens in Connect, and every Session returned by Connect owns its
// resources until Close is called on it.
package transport

import (
	"context"

	"github.com/Geralt1983/Thanos-sub001/pkg/config"
	mcperrors "github.com/Geralt1983/Thanos-sub001/pkg/errors"
	"github.com/Geralt1983/Thanos-sub001/pkg/logging"
)

// Transport establishes sessions to a single configured server.
type Transport interface {
	// Connect establishes a new session. The returned session has not yet
	// performed the protocol handshake; callers run Initialize before
	// issuing operations. Any resource acquired before a failure is
	// released before Connect returns.
	Connect(ctx context.Context) (Session, error)

	// Kind reports the transport mechanism.
	Kind() config.TransportKind

	// ServerName reports the configured server this transport dials.
	ServerName() string

	// HealthCheck probes transport level reachability without opening a
	// full session. Transports that cannot probe report a status of
	// "not_implemented".
	HealthCheck(ctx context.Context) map[string]interface{}

	// Close releases transport level resources. Safe to call repeatedly.
	Close() error
}

// New builds the transport matching the server's configured kind.
func New(cfg *config.ServerConfig, logger logging.Logger) (Transport, error) {
	if cfg == nil {
		return nil, mcperrors.ConfigurationError("server config is nil")
	}
	logger = logging.OrNop(logger)

	switch cfg.Transport {
	case config.TransportStdio:
		return NewStdio(cfg, logger), nil
	case config.TransportSSE:
		return NewSSE(cfg, logger), nil
	default:
		return nil, mcperrors.ConfigurationError("unsupported transport kind: " + string(cfg.Transport))
	}
}
