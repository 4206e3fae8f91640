package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"

	"github.com/Geralt1983/Thanos-sub001/pkg/config"
	mcperrors "github.com/Geralt1983/Thanos-sub001/pkg/errors"
	"github.com/Geralt1983/Thanos-sub001/pkg/logging"
)

// SSETransport connects to a server over a streaming HTTP endpoint. Each
// session opens its own event stream; configured headers are attached to
// every request, which is how bearer tokens reach remote servers.
type SSETransport struct {
	cfg    *config.ServerConfig
	logger logging.Logger

	mu     sync.Mutex
	closed bool
}

// NewSSE builds a streaming HTTP transport for the given server.
func NewSSE(cfg *config.ServerConfig, logger logging.Logger) *SSETransport {
	return &SSETransport{cfg: cfg, logger: logging.OrNop(logger)}
}

func (t *SSETransport) Kind() config.TransportKind { return config.TransportSSE }

func (t *SSETransport) ServerName() string { return t.cfg.Name }

func (t *SSETransport) Connect(ctx context.Context) (Session, error) {
	if t.isClosed() {
		return nil, mcperrors.ConnectionError(t.cfg.Name, errors.New("transport is closed"))
	}
	if err := ctx.Err(); err != nil {
		return nil, mcperrors.Classify(err, t.cfg.Name)
	}

	sc := t.cfg.SSE
	var opts []mcptransport.ClientOption
	if len(sc.Headers) > 0 {
		opts = append(opts, mcptransport.WithHeaders(sc.Headers))
	}

	c, err := client.NewSSEMCPClient(sc.URL, opts...)
	if err != nil {
		return nil, mcperrors.ConnectionError(t.cfg.Name, err)
	}
	if err := c.Start(ctx); err != nil {
		c.Close()
		return nil, mcperrors.ConnectionError(t.cfg.Name, err)
	}

	t.logger.Debug("opened event stream",
		logging.String("server", t.cfg.Name),
		logging.String("url", sc.URL),
	)
	return newMCPSession(t.cfg.Name, c, sc.Timeout.Std()), nil
}

// HealthCheck probes the endpoint with a HEAD request. Any HTTP response,
// error status included, proves the endpoint is reachable.
func (t *SSETransport) HealthCheck(ctx context.Context) map[string]interface{} {
	status := map[string]interface{}{
		"transport": string(config.TransportSSE),
		"url":       t.cfg.SSE.URL,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, t.cfg.SSE.URL, nil)
	if err != nil {
		status["status"] = "unreachable"
		status["error"] = err.Error()
		return status
	}
	for k, v := range t.cfg.SSE.Headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		status["status"] = "unreachable"
		status["error"] = err.Error()
		return status
	}
	resp.Body.Close()

	status["status"] = "reachable"
	status["http_status"] = resp.StatusCode
	return status
}

func (t *SSETransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *SSETransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
