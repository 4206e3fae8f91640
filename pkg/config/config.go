// Package config defines the server descriptions the resilience core
// consumes. A ServerConfig is validated once at construction and immutable
// afterwards; every other component treats it as opaque read-only input.
package config

import (
	"fmt"
	"regexp"

	mcperrors "github.com/Geralt1983/Thanos-sub001/pkg/errors"
)

// TransportKind selects how a server is reached.
type TransportKind string

const (
	// TransportStdio spawns a subprocess and speaks over its stdin/stdout.
	TransportStdio TransportKind = "stdio"
	// TransportSSE connects to a remote HTTP endpoint using Server-Sent
	// Events for the read direction.
	TransportSSE TransportKind = "sse"
)

// IsValid reports whether k is a recognised transport kind.
func (k TransportKind) IsValid() bool {
	return k == TransportStdio || k == TransportSSE
}

var serverNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// StdioConfig describes a subprocess-backed server.
type StdioConfig struct {
	Command    string            `yaml:"command"`
	Args       []string          `yaml:"args,omitempty"`
	Env        map[string]string `yaml:"env,omitempty"`
	WorkingDir string            `yaml:"working_dir,omitempty"`
}

// SSEConfig describes a remote HTTP/SSE-backed server.
type SSEConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`

	// ReconnectInterval is how long to wait before re-opening a dropped
	// event stream. Scaffolding for transports that support it.
	ReconnectInterval Duration `yaml:"reconnect_interval,omitempty"`
}

// ServerConfig is the immutable description of one remote tool server.
type ServerConfig struct {
	Name      string        `yaml:"name"`
	Transport TransportKind `yaml:"transport"`

	Stdio *StdioConfig `yaml:"stdio,omitempty"`
	SSE   *SSEConfig   `yaml:"sse,omitempty"`

	Enabled  bool     `yaml:"enabled"`
	Priority int      `yaml:"priority,omitempty"`
	Tags     []string `yaml:"tags,omitempty"`

	// Weight is used by weighted load-balancing strategies.
	Weight int `yaml:"weight,omitempty"`

	// CacheTTL overrides the result cache's default TTL for this server.
	CacheTTL Duration `yaml:"cache_ttl,omitempty"`
	// NoCacheTools lists tools whose results must never be cached.
	NoCacheTools []string `yaml:"no_cache_tools,omitempty"`

	Metadata map[string]string `yaml:"metadata,omitempty"`
}

// Validate checks the config for coherence. Returned errors are
// ConfigurationError taxonomy values.
func (c *ServerConfig) Validate() error {
	if c.Name == "" {
		return mcperrors.ConfigurationError("server name must not be empty")
	}
	if !serverNamePattern.MatchString(c.Name) {
		return mcperrors.ConfigurationError(
			fmt.Sprintf("server name %q must match %s", c.Name, serverNamePattern.String()))
	}
	if !c.Transport.IsValid() {
		return mcperrors.ConfigurationError(
			fmt.Sprintf("server %q: unknown transport %q", c.Name, c.Transport))
	}

	switch c.Transport {
	case TransportStdio:
		if c.Stdio == nil || c.Stdio.Command == "" {
			return mcperrors.ConfigurationError(
				fmt.Sprintf("server %q: stdio transport requires a command", c.Name))
		}
	case TransportSSE:
		if c.SSE == nil || c.SSE.URL == "" {
			return mcperrors.ConfigurationError(
				fmt.Sprintf("server %q: sse transport requires a url", c.Name))
		}
	}

	if c.Weight < 0 {
		return mcperrors.ConfigurationError(
			fmt.Sprintf("server %q: weight must not be negative", c.Name))
	}
	return nil
}

// HasTag reports whether the server carries the given tag.
func (c *ServerConfig) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// CacheDisabledFor reports whether caching is disabled for a tool.
func (c *ServerConfig) CacheDisabledFor(tool string) bool {
	for _, t := range c.NoCacheTools {
		if t == tool {
			return true
		}
	}
	return false
}
