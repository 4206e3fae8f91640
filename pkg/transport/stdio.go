package transport

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"

	"github.com/Geralt1983/Thanos-sub001/pkg/config"
	mcperrors "github.com/Geralt1983/Thanos-sub001/pkg/errors"
	"github.com/Geralt1983/Thanos-sub001/pkg/logging"
)

// StdioTransport spawns the configured command for each session and speaks
// the protocol over its stdin and stdout. The subprocess lives exactly as
// long as the session; closing the session reaps it.
type StdioTransport struct {
	cfg    *config.ServerConfig
	logger logging.Logger

	mu     sync.Mutex
	closed bool
}

// NewStdio builds a stdio transport for the given server.
func NewStdio(cfg *config.ServerConfig, logger logging.Logger) *StdioTransport {
	return &StdioTransport{cfg: cfg, logger: logging.OrNop(logger)}
}

func (t *StdioTransport) Kind() config.TransportKind { return config.TransportStdio }

func (t *StdioTransport) ServerName() string { return t.cfg.Name }

func (t *StdioTransport) Connect(ctx context.Context) (Session, error) {
	if t.isClosed() {
		return nil, mcperrors.ConnectionError(t.cfg.Name, errors.New("transport is closed"))
	}
	if err := ctx.Err(); err != nil {
		return nil, mcperrors.Classify(err, t.cfg.Name)
	}

	sc := t.cfg.Stdio
	env := envSlice(sc.Env)

	var c *client.Client
	if sc.WorkingDir != "" {
		// The stock constructor offers no way to set the working
		// directory, so build the command ourselves.
		workDir := sc.WorkingDir
		tr := mcptransport.NewStdioWithOptions(sc.Command, env, sc.Args,
			mcptransport.WithCommandFunc(func(ctx context.Context, command string, env []string, args []string) (*exec.Cmd, error) {
				cmd := exec.CommandContext(ctx, command, args...)
				cmd.Env = append(os.Environ(), env...)
				cmd.Dir = workDir
				return cmd, nil
			}))
		c = client.NewClient(tr)
		if err := c.Start(ctx); err != nil {
			c.Close()
			return nil, mcperrors.ConnectionError(t.cfg.Name, err)
		}
	} else {
		var err error
		c, err = client.NewStdioMCPClient(sc.Command, env, sc.Args...)
		if err != nil {
			return nil, mcperrors.ConnectionError(t.cfg.Name, err)
		}
	}

	t.logger.Debug("spawned server process",
		logging.String("server", t.cfg.Name),
		logging.String("command", sc.Command),
	)
	return newMCPSession(t.cfg.Name, c, 0), nil
}

// HealthCheck verifies the configured command is resolvable without
// spawning it.
func (t *StdioTransport) HealthCheck(ctx context.Context) map[string]interface{} {
	status := map[string]interface{}{
		"transport": string(config.TransportStdio),
		"command":   t.cfg.Stdio.Command,
	}
	if _, err := exec.LookPath(t.cfg.Stdio.Command); err != nil {
		status["status"] = "unreachable"
		status["error"] = err.Error()
		return status
	}
	status["status"] = "reachable"
	return status
}

func (t *StdioTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *StdioTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// envSlice flattens the configured overrides into the k=v form the process
// spawner expects. The parent environment is merged in by the spawner.
func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
