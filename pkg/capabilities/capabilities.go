// Package capabilities captures the feature set a server advertises during
// the initialize handshake and answers feature queries for the rest of the
// client stack. A Set is built once per successful handshake and never
// mutated afterwards, so readers can share it without locking.
package capabilities

import (
	"github.com/mark3labs/mcp-go/mcp"

	mcperrors "github.com/Geralt1983/Thanos-sub001/pkg/errors"
)

// Set is an immutable snapshot of a server's advertised capabilities.
// It covers the sections the protocol's capability block defines: tools,
// prompts, resources, logging, and the experimental map. There is no task
// section in the handshake; servers that expose task-like operations do so
// as ordinary tools, so no task query exists here.
type Set struct {
	tools                bool
	toolsListChanged     bool
	prompts              bool
	promptsListChange    bool
	resources            bool
	resourcesSubscribe   bool
	resourcesListChanged bool
	logging              bool
	experimental         map[string]any
}

// FromServer translates the raw handshake capability block into a Set.
// Absent sections mean the feature is unsupported.
func FromServer(caps mcp.ServerCapabilities) Set {
	s := Set{}
	if caps.Tools != nil {
		s.tools = true
		s.toolsListChanged = caps.Tools.ListChanged
	}
	if caps.Prompts != nil {
		s.prompts = true
		s.promptsListChange = caps.Prompts.ListChanged
	}
	if caps.Resources != nil {
		s.resources = true
		s.resourcesSubscribe = caps.Resources.Subscribe
		s.resourcesListChanged = caps.Resources.ListChanged
	}
	if caps.Logging != nil {
		s.logging = true
	}
	if len(caps.Experimental) > 0 {
		exp := make(map[string]any, len(caps.Experimental))
		for k, v := range caps.Experimental {
			exp[k] = v
		}
		s.experimental = exp
	}
	return s
}

// SupportsTools reports whether the server exposes the tools feature.
func (s Set) SupportsTools() bool { return s.tools }

// SupportsToolListChanged reports whether the server emits tool list
// change notifications.
func (s Set) SupportsToolListChanged() bool { return s.toolsListChanged }

// SupportsPrompts reports whether the server exposes prompts.
func (s Set) SupportsPrompts() bool { return s.prompts }

// SupportsPromptListChanged reports whether the server emits prompt list
// change notifications.
func (s Set) SupportsPromptListChanged() bool { return s.promptsListChange }

// SupportsResources reports whether the server exposes resources.
func (s Set) SupportsResources() bool { return s.resources }

// SupportsResourceSubscribe reports whether individual resources can be
// subscribed to.
func (s Set) SupportsResourceSubscribe() bool { return s.resourcesSubscribe }

// SupportsResourceListChanged reports whether the server emits resource
// list change notifications.
func (s Set) SupportsResourceListChanged() bool { return s.resourcesListChanged }

// SupportsLogging reports whether the server accepts log level control.
func (s Set) SupportsLogging() bool { return s.logging }

// Experimental returns the value advertised under an experimental
// capability key, if any.
func (s Set) Experimental(key string) (any, bool) {
	v, ok := s.experimental[key]
	return v, ok
}

// RequireTools returns a capability error unless the server supports
// tools. Callers use it to fail fast before issuing tool operations.
func (s Set) RequireTools(server string) error {
	if s.tools {
		return nil
	}
	return mcperrors.CapabilityError(server, "tools")
}
