// Package thanos provides a resilience layer for Model Context Protocol
// clients: typed error classification, retry with exponential backoff,
// per-server circuit breakers, connection pooling, health monitoring,
// load balancing with failover, and result caching.
//
// # Overview
//
// The module is organized into focused sub-packages:
//
//   - pkg/errors: the error taxonomy every other package speaks
//   - pkg/config: YAML server definitions with validation and defaults
//   - pkg/transport: stdio and SSE connections to MCP servers
//   - pkg/capabilities: negotiated server capability sets
//   - pkg/reliability: retry policies and circuit breakers
//   - pkg/bridge: the per-server call façade tying the above together
//   - pkg/pool: reusable connection pools with staleness detection
//   - pkg/health: status monitors driven by live call metrics
//   - pkg/loadbalancer: strategy-based server selection and failover
//   - pkg/cache: deterministic result caching with eviction policies
//   - pkg/logging, pkg/observability: structured logs, metrics, traces
//
// # Calling a Tool
//
// A Bridge wraps one configured server and handles connection setup,
// capability checks, retries, and breaker accounting per call:
//
//	cfg := &config.ServerConfig{
//	    Name:      "todoist",
//	    Transport: config.TransportStdio,
//	    Stdio:     &config.StdioConfig{Command: "todoist-mcp"},
//	}
//	b, err := bridge.New(cfg, bridge.Options{Logger: logger})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Close()
//
//	result, err := b.CallTool(ctx, "create_task", map[string]interface{}{
//	    "content": "review PR",
//	})
//
// Infrastructure failures come back as typed errors carrying a kind and
// a retryable flag; a tool that runs but reports failure comes back as a
// non-success Result and never trips the breaker.
//
// # Multiple Servers
//
// For redundant servers of one type, a loadbalancer.Balancer selects
// among bridges by strategy and retries failed calls on the remaining
// servers. A pool.Registry keeps warm connections per server, and a
// health.Registry tracks each server's status from observed outcomes.
package thanos
