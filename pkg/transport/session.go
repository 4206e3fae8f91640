package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Geralt1983/Thanos-sub001/pkg/capabilities"
	mcperrors "github.com/Geralt1983/Thanos-sub001/pkg/errors"
)

const (
	clientName    = "thanos"
	clientVersion = "0.1.0"
)

// Tool describes a callable tool advertised by a server.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ToolResult is the transport level view of a tool invocation outcome.
// IsError marks a failure the server reported in-band. Structured carries
// the structured payload when the server provided one; Texts carries the
// textual content blocks in order.
type ToolResult struct {
	IsError    bool
	Structured interface{}
	Texts      []string
}

// Session is one live connection to a server. Implementations are safe for
// concurrent use after Initialize has returned.
type Session interface {
	// ServerName reports the configured server this session talks to.
	ServerName() string

	// Initialize performs the protocol handshake and records the
	// capabilities the server advertised. It must complete successfully
	// before any other operation is issued.
	Initialize(ctx context.Context) (capabilities.Set, error)

	// Capabilities returns the capability snapshot captured during
	// Initialize. ok is false before a successful handshake.
	Capabilities() (set capabilities.Set, ok bool)

	// ListTools fetches the server's current tool catalog.
	ListTools(ctx context.Context) ([]Tool, error)

	// CallTool invokes a tool by name. A server-reported tool failure
	// comes back as a ToolResult with IsError set, not as an error; the
	// error return is reserved for transport and protocol failures.
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*ToolResult, error)

	// Ping checks liveness of the underlying connection.
	Ping(ctx context.Context) error

	// Close tears down the connection. Safe to call repeatedly.
	Close() error
}

// mcpSession adapts the protocol client library to the Session interface
// and maps its failures onto the error taxonomy.
type mcpSession struct {
	server           string
	client           *client.Client
	handshakeTimeout time.Duration

	mu          sync.Mutex
	caps        capabilities.Set
	initialized bool

	closeOnce sync.Once
	closeErr  error
}

func newMCPSession(server string, c *client.Client, handshakeTimeout time.Duration) *mcpSession {
	return &mcpSession{server: server, client: c, handshakeTimeout: handshakeTimeout}
}

func (s *mcpSession) ServerName() string { return s.server }

func (s *mcpSession) Initialize(ctx context.Context) (capabilities.Set, error) {
	if s.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.handshakeTimeout)
		defer cancel()
	}

	result, err := s.client.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    clientName,
				Version: clientVersion,
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		return capabilities.Set{}, mcperrors.InitializationError(s.server, err)
	}

	set := capabilities.FromServer(result.Capabilities)
	s.mu.Lock()
	s.caps = set
	s.initialized = true
	s.mu.Unlock()
	return set, nil
}

func (s *mcpSession) Capabilities() (capabilities.Set, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps, s.initialized
}

func (s *mcpSession) ListTools(ctx context.Context) ([]Tool, error) {
	var tools []Tool
	var cursor mcp.Cursor
	for {
		req := mcp.ListToolsRequest{}
		req.Params.Cursor = cursor
		result, err := s.client.ListTools(ctx, req)
		if err != nil {
			return nil, mcperrors.Classify(err, s.server)
		}

		for _, t := range result.Tools {
			tools = append(tools, Tool{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: toolSchema(t),
			})
		}

		if result.NextCursor == "" {
			return tools, nil
		}
		cursor = result.NextCursor
	}
}

func (s *mcpSession) CallTool(ctx context.Context, name string, args map[string]interface{}) (*ToolResult, error) {
	result, err := s.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		return nil, mcperrors.Classify(err, s.server)
	}
	return unwrapResult(result), nil
}

func (s *mcpSession) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx); err != nil {
		return mcperrors.Classify(err, s.server)
	}
	return nil
}

func (s *mcpSession) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

// toolSchema prefers the raw schema bytes when the server supplied them and
// falls back to re-encoding the parsed form.
func toolSchema(t mcp.Tool) json.RawMessage {
	if len(t.RawInputSchema) > 0 {
		return append(json.RawMessage(nil), t.RawInputSchema...)
	}
	raw, err := json.Marshal(t.InputSchema)
	if err != nil {
		return nil
	}
	return raw
}

// unwrapResult flattens a protocol call result into the transport view.
// Non-text content blocks are preserved as their JSON encoding so nothing
// the server sent is silently dropped.
func unwrapResult(result *mcp.CallToolResult) *ToolResult {
	if result == nil {
		return &ToolResult{}
	}

	out := &ToolResult{
		IsError:    result.IsError,
		Structured: result.StructuredContent,
	}
	for _, content := range result.Content {
		switch c := content.(type) {
		case mcp.TextContent:
			out.Texts = append(out.Texts, c.Text)
		case *mcp.TextContent:
			out.Texts = append(out.Texts, c.Text)
		default:
			if raw, err := json.Marshal(content); err == nil {
				out.Texts = append(out.Texts, string(raw))
			}
		}
	}
	return out
}
