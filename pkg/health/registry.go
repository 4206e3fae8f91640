package health

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Geralt1983/Thanos-sub001/pkg/logging"
)

// checkConcurrency bounds how many probes CheckAll runs at once.
const checkConcurrency = 8

// Registry aggregates monitors across servers. Monitors are created lazily
// with the registry's shared config unless registered explicitly.
type Registry struct {
	config   MonitorConfig
	logger   logging.Logger
	defaults []MonitorOption

	mu       sync.Mutex
	monitors map[string]*Monitor
}

// NewRegistry builds an empty registry whose lazily created monitors share
// config and the given default options.
func NewRegistry(config MonitorConfig, logger logging.Logger, defaults ...MonitorOption) *Registry {
	return &Registry{
		config:   config,
		logger:   logging.OrNop(logger),
		defaults: defaults,
		monitors: make(map[string]*Monitor),
	}
}

// Register installs a pre-built monitor, replacing any existing one for
// the same server.
func (r *Registry) Register(m *Monitor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitors[m.Server()] = m
}

// Get returns the monitor for the named server, creating one with the
// registry's config on first use.
func (r *Registry) Get(server string, opts ...MonitorOption) *Monitor {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.monitors[server]
	if !ok {
		combined := append(append([]MonitorOption{}, r.defaults...), opts...)
		m = NewMonitor(server, r.config, r.logger, combined...)
		r.monitors[server] = m
	}
	return m
}

// snapshot copies the monitor set out from under the lock.
func (r *Registry) snapshot() []*Monitor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		out = append(out, m)
	}
	return out
}

// Statuses returns the last derived status of every monitor without
// re-probing.
func (r *Registry) Statuses() map[string]Status {
	monitors := r.snapshot()
	out := make(map[string]Status, len(monitors))
	for _, m := range monitors {
		out[m.Server()] = m.Status()
	}
	return out
}

// CheckAll probes every monitor concurrently and returns the refreshed
// statuses.
func (r *Registry) CheckAll(ctx context.Context) map[string]Status {
	monitors := r.snapshot()

	var mu sync.Mutex
	out := make(map[string]Status, len(monitors))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(checkConcurrency)
	for _, m := range monitors {
		m := m
		g.Go(func() error {
			status := m.Check(ctx)
			mu.Lock()
			out[m.Server()] = status
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return out
}

// HealthyServers lists servers currently healthy, sorted by name.
func (r *Registry) HealthyServers() []string {
	return r.serversWithStatus(StatusHealthy)
}

// UnhealthyServers lists servers currently unhealthy, sorted by name.
func (r *Registry) UnhealthyServers() []string {
	return r.serversWithStatus(StatusUnhealthy)
}

func (r *Registry) serversWithStatus(want Status) []string {
	var out []string
	for server, status := range r.Statuses() {
		if status == want {
			out = append(out, server)
		}
	}
	sort.Strings(out)
	return out
}
