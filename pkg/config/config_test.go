package config

import (
	"strings"
	"testing"
	"time"

	mcperrors "github.com/Geralt1983/Thanos-sub001/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validStdio() ServerConfig {
	return ServerConfig{
		Name:      "workos",
		Transport: TransportStdio,
		Stdio:     &StdioConfig{Command: "npx", Args: []string{"-y", "workos-mcp"}},
		Enabled:   true,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr string
	}{
		{"valid stdio", func(c *ServerConfig) {}, ""},
		{"empty name", func(c *ServerConfig) { c.Name = "" }, "must not be empty"},
		{"bad name", func(c *ServerConfig) { c.Name = "1 bad name!" }, "must match"},
		{"unknown transport", func(c *ServerConfig) { c.Transport = "grpc" }, "unknown transport"},
		{"stdio without command", func(c *ServerConfig) { c.Stdio = &StdioConfig{} }, "requires a command"},
		{"negative weight", func(c *ServerConfig) { c.Weight = -1 }, "must not be negative"},
		{"sse without url", func(c *ServerConfig) {
			c.Transport = TransportSSE
			c.SSE = &SSEConfig{}
		}, "requires a url"},
		{"valid sse", func(c *ServerConfig) {
			c.Transport = TransportSSE
			c.SSE = &SSEConfig{URL: "https://api.ouraring.com/mcp"}
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validStdio()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, mcperrors.IsKind(err, mcperrors.KindConfiguration))
		})
	}
}

const sampleYAML = `
defaults:
  cache_ttl: 5m
  weight: 1
servers:
  - name: workos
    transport: stdio
    enabled: true
    priority: 10
    tags: [tasks]
    stdio:
      command: npx
      args: ["-y", "workos-mcp"]
      env:
        WORKOS_API_KEY: secret
  - name: oura
    transport: sse
    enabled: true
    cache_ttl: 30s
    no_cache_tools: [get_heartrate]
    sse:
      url: https://api.ouraring.com/mcp
      timeout: 15s
      headers:
        Authorization: Bearer token
`

func TestLoadFromReader(t *testing.T) {
	servers, err := LoadFromReader(strings.NewReader(sampleYAML))
	require.NoError(t, err)
	require.Len(t, servers, 2)

	workos := servers[0]
	assert.Equal(t, "workos", workos.Name)
	assert.Equal(t, TransportStdio, workos.Transport)
	assert.Equal(t, "npx", workos.Stdio.Command)
	assert.Equal(t, "secret", workos.Stdio.Env["WORKOS_API_KEY"])
	// defaults applied
	assert.Equal(t, 5*time.Minute, workos.CacheTTL.Std())
	assert.Equal(t, 1, workos.Weight)
	assert.Equal(t, 10, workos.Priority)

	oura := servers[1]
	assert.Equal(t, TransportSSE, oura.Transport)
	assert.Equal(t, 15*time.Second, oura.SSE.Timeout.Std())
	// explicit value wins over default
	assert.Equal(t, 30*time.Second, oura.CacheTTL.Std())
	assert.True(t, oura.CacheDisabledFor("get_heartrate"))
	assert.False(t, oura.CacheDisabledFor("get_readiness"))
}

func TestLoadRejectsDuplicates(t *testing.T) {
	doc := `
servers:
  - name: oura
    transport: stdio
    enabled: true
    stdio: {command: oura-mcp}
  - name: oura
    transport: stdio
    enabled: true
    stdio: {command: oura-mcp}
`
	_, err := LoadFromReader(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestLoadRejectsEmpty(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("servers: []"))
	require.Error(t, err)
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindConfiguration))
}

func TestDurationForms(t *testing.T) {
	doc := `
servers:
  - name: a
    transport: stdio
    enabled: true
    cache_ttl: 90
    stdio: {command: a-mcp}
`
	servers, err := LoadFromReader(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, servers[0].CacheTTL.Std())
}

func TestHasTag(t *testing.T) {
	cfg := validStdio()
	cfg.Tags = []string{"tasks", "prod"}
	assert.True(t, cfg.HasTag("prod"))
	assert.False(t, cfg.HasTag("health"))
}
