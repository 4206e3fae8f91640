package thanos

import (
	"github.com/Geralt1983/Thanos-sub001/pkg/bridge"
	"github.com/Geralt1983/Thanos-sub001/pkg/cache"
	"github.com/Geralt1983/Thanos-sub001/pkg/config"
	"github.com/Geralt1983/Thanos-sub001/pkg/loadbalancer"
	"github.com/Geralt1983/Thanos-sub001/pkg/pool"
	"github.com/Geralt1983/Thanos-sub001/pkg/reliability"
	"github.com/Geralt1983/Thanos-sub001/pkg/transport"
)

// Version represents the current version of the module.
const Version = "0.1.0"

// These exports provide direct access to the core components
var (
	// LoadConfig reads server definitions from a YAML file
	LoadConfig = config.Load

	// NewBridge creates a resilient façade over one configured server
	NewBridge = bridge.New

	// NewTransport creates a transport from a server config
	NewTransport = transport.New

	// NewPool creates a connection pool for one server
	NewPool = pool.New

	// NewBalancer creates a load balancer over servers of one type
	NewBalancer = loadbalancer.New

	// NewCache creates a tool result cache
	NewCache = cache.New

	// NewRetrier creates a retry executor from a policy
	NewRetrier = reliability.NewRetrier

	// NewCircuitBreaker creates a named circuit breaker
	NewCircuitBreaker = reliability.NewCircuitBreaker
)
