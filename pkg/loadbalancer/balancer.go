// Package loadbalancer routes operations across multiple servers that
// expose the same logical capability. A Balancer owns the routing metadata
// for one server type; selection strategies are pluggable and failover
// walks the remaining candidates with an exclusion list.
package loadbalancer

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/Geralt1983/Thanos-sub001/pkg/config"
	mcperrors "github.com/Geralt1983/Thanos-sub001/pkg/errors"
	"github.com/Geralt1983/Thanos-sub001/pkg/health"
	"github.com/Geralt1983/Thanos-sub001/pkg/logging"
	"github.com/Geralt1983/Thanos-sub001/pkg/observability"
)

// Strategy selects among available servers.
type Strategy string

const (
	StrategyRoundRobin       Strategy = "round_robin"
	StrategyLeastConnections Strategy = "least_connections"
	StrategyHealthAware      Strategy = "health_aware"
	StrategyWeightedRandom   Strategy = "weighted_random"
	StrategyRandom           Strategy = "random"
)

// IsValid reports whether s names a known strategy.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyRoundRobin, StrategyLeastConnections, StrategyHealthAware,
		StrategyWeightedRandom, StrategyRandom:
		return true
	}
	return false
}

// healthRank orders statuses for health-aware selection. Lower is better;
// unhealthy servers never reach ranking because selection excludes them.
func healthRank(s health.Status) int {
	switch s {
	case health.StatusHealthy:
		return 0
	case health.StatusDegraded:
		return 1
	case health.StatusUnknown:
		return 2
	default:
		return 3
	}
}

// ServerInstance wraps one server config with mutable routing metadata.
// All fields are guarded by the owning balancer's lock.
type ServerInstance struct {
	cfg               *config.ServerConfig
	activeConnections int
	totalRequests     int64
	weight            int
	lastUsed          time.Time
	health            health.Status
	enabled           bool
}

// Name returns the underlying server's name.
func (si *ServerInstance) Name() string { return si.cfg.Name }

// Config returns the underlying server config.
func (si *ServerInstance) Config() *config.ServerConfig { return si.cfg }

// InstanceSnapshot is a copy of routing metadata safe to read without the
// balancer's lock.
type InstanceSnapshot struct {
	Name              string
	ActiveConnections int
	TotalRequests     int64
	Weight            int
	Health            health.Status
	Enabled           bool
}

// Config tunes one balancer.
type Config struct {
	// Strategy picks the selection algorithm. Defaults to round robin.
	Strategy Strategy

	// RefreshHealth pulls statuses from the health registry before each
	// selection.
	RefreshHealth bool

	// ExcludeDegraded removes degraded servers from the candidate set
	// instead of merely ranking them lower.
	ExcludeDegraded bool

	// MaxFailoverAttempts bounds ExecuteWithFailover.
	MaxFailoverAttempts int
}

// Balancer routes across the server instances of one logical server type.
type Balancer struct {
	serverType string
	cfg        Config
	healthReg  *health.Registry
	logger     logging.Logger
	metrics    *observability.Metrics

	mu        sync.Mutex
	instances []*ServerInstance
	rrIndex   int
	rng       *rand.Rand
}

// New builds a balancer for the named server type. The health registry may
// be nil, in which case statuses only change via SetHealth.
func New(serverType string, cfg Config, healthReg *health.Registry, logger logging.Logger, metrics *observability.Metrics) *Balancer {
	if !cfg.Strategy.IsValid() {
		cfg.Strategy = StrategyRoundRobin
	}
	if cfg.MaxFailoverAttempts <= 0 {
		cfg.MaxFailoverAttempts = 3
	}
	return &Balancer{
		serverType: serverType,
		cfg:        cfg,
		healthReg:  healthReg,
		logger:     logging.OrNop(logger),
		metrics:    metrics,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ServerType returns the logical name this balancer routes for.
func (b *Balancer) ServerType() string { return b.serverType }

// Add registers a server with the balancer. Weight and the enabled flag
// come from the config.
func (b *Balancer) Add(cfg *config.ServerConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	weight := cfg.Weight
	if weight <= 0 {
		weight = 1
	}
	b.instances = append(b.instances, &ServerInstance{
		cfg:     cfg,
		weight:  weight,
		health:  health.StatusUnknown,
		enabled: cfg.Enabled,
	})
}

// SetEnabled flips a server's routing eligibility.
func (b *Balancer) SetEnabled(name string, enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, si := range b.instances {
		if si.cfg.Name == name {
			si.enabled = enabled
		}
	}
}

// SetHealth overrides a server's health status directly, bypassing the
// registry.
func (b *Balancer) SetHealth(name string, status health.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, si := range b.instances {
		if si.cfg.Name == name {
			si.health = status
		}
	}
}

// Snapshots returns a copy of every instance's routing metadata.
func (b *Balancer) Snapshots() []InstanceSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]InstanceSnapshot, 0, len(b.instances))
	for _, si := range b.instances {
		out = append(out, InstanceSnapshot{
			Name:              si.cfg.Name,
			ActiveConnections: si.activeConnections,
			TotalRequests:     si.totalRequests,
			Weight:            si.weight,
			Health:            si.health,
			Enabled:           si.enabled,
		})
	}
	return out
}

// SelectServer picks the next server per the configured strategy,
// excluding disabled, unhealthy, and explicitly excluded servers.
func (b *Balancer) SelectServer(exclude map[string]bool) (*ServerInstance, error) {
	b.refreshHealth()

	b.mu.Lock()
	defer b.mu.Unlock()

	candidates := b.candidates(exclude)
	if len(candidates) == 0 {
		return nil, mcperrors.ServerUnavailableError(b.serverType, "no servers available for selection").
			WithContext("available_servers", 0).
			WithContext("server_type", b.serverType)
	}

	var chosen *ServerInstance
	switch b.cfg.Strategy {
	case StrategyLeastConnections:
		chosen = leastConnections(candidates)
	case StrategyHealthAware:
		chosen = healthAware(candidates)
	case StrategyWeightedRandom:
		chosen = weightedRandom(candidates, b.rng)
	case StrategyRandom:
		chosen = candidates[b.rng.Intn(len(candidates))]
	default:
		chosen = candidates[b.rrIndex%len(candidates)]
		b.rrIndex++
	}

	chosen.lastUsed = time.Now()
	return chosen, nil
}

// refreshHealth mirrors the health registry into the instances.
func (b *Balancer) refreshHealth() {
	if !b.cfg.RefreshHealth || b.healthReg == nil {
		return
	}
	statuses := b.healthReg.Statuses()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, si := range b.instances {
		if status, ok := statuses[si.cfg.Name]; ok {
			si.health = status
		}
	}
}

// candidates filters the instance set. Caller must hold the lock.
func (b *Balancer) candidates(exclude map[string]bool) []*ServerInstance {
	var out []*ServerInstance
	for _, si := range b.instances {
		if !si.enabled || exclude[si.cfg.Name] {
			continue
		}
		if si.health == health.StatusUnhealthy {
			continue
		}
		if b.cfg.ExcludeDegraded && si.health == health.StatusDegraded {
			continue
		}
		out = append(out, si)
	}
	return out
}

func leastConnections(candidates []*ServerInstance) *ServerInstance {
	chosen := candidates[0]
	for _, si := range candidates[1:] {
		if si.activeConnections < chosen.activeConnections {
			chosen = si
		}
	}
	return chosen
}

func healthAware(candidates []*ServerInstance) *ServerInstance {
	sorted := append([]*ServerInstance(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := healthRank(sorted[i].health), healthRank(sorted[j].health)
		if ri != rj {
			return ri < rj
		}
		return sorted[i].activeConnections < sorted[j].activeConnections
	})
	return sorted[0]
}

func weightedRandom(candidates []*ServerInstance, rng *rand.Rand) *ServerInstance {
	total := 0
	for _, si := range candidates {
		total += si.weight
	}
	if total <= 0 {
		return candidates[rng.Intn(len(candidates))]
	}
	pick := rng.Intn(total)
	for _, si := range candidates {
		pick -= si.weight
		if pick < 0 {
			return si
		}
	}
	return candidates[len(candidates)-1]
}

// acquire and release bracket one routed operation, mirroring the pool's
// scoped discipline.
func (b *Balancer) acquire(si *ServerInstance) {
	b.mu.Lock()
	si.activeConnections++
	si.totalRequests++
	b.mu.Unlock()
}

func (b *Balancer) release(si *ServerInstance) {
	b.mu.Lock()
	if si.activeConnections > 0 {
		si.activeConnections--
	}
	b.mu.Unlock()
}

// Execute routes one operation through server selection with scoped
// connection accounting.
func (b *Balancer) Execute(ctx context.Context, exclude map[string]bool, fn func(ctx context.Context, si *ServerInstance) error) error {
	si, err := b.SelectServer(exclude)
	if err != nil {
		return err
	}
	b.acquire(si)
	defer b.release(si)
	return fn(ctx, si)
}

// ExecuteWithFailover retries the operation on a freshly selected server,
// excluding ones that already failed, until it succeeds or the attempt
// budget is exhausted. The aggregate error keeps the last failure and the
// exclusion list.
func (b *Balancer) ExecuteWithFailover(ctx context.Context, fn func(ctx context.Context, si *ServerInstance) error) error {
	excluded := make(map[string]bool)
	var lastErr error

	for attempt := 0; attempt < b.cfg.MaxFailoverAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return mcperrors.Classify(err, b.serverType)
		}
		if attempt > 0 {
			b.metrics.RecordFailover(b.serverType)
		}

		si, err := b.SelectServer(excluded)
		if err != nil {
			if lastErr == nil {
				return err
			}
			break
		}

		b.acquire(si)
		err = fn(ctx, si)
		b.release(si)
		if err == nil {
			return nil
		}

		lastErr = err
		excluded[si.Name()] = true
		b.logger.WithError(err).Warn("failover candidate failed",
			logging.String("server_type", b.serverType),
			logging.String("server", si.Name()),
			logging.Int("attempt", attempt+1),
		)
	}

	excludedNames := make([]string, 0, len(excluded))
	for name := range excluded {
		excludedNames = append(excludedNames, name)
	}
	sort.Strings(excludedNames)

	return mcperrors.Wrap(lastErr, mcperrors.KindServerUnavailable,
		"all failover attempts exhausted", true).
		WithServer(b.serverType).
		WithContext("excluded_servers", excludedNames).
		WithContext("attempts", b.cfg.MaxFailoverAttempts)
}
