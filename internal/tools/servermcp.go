package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/pkg/types"
)

// MCPHost connects to configured server-side MCP servers and exposes their
// tools. One host is shared by all connections; sessions are long-lived.
type MCPHost struct {
	client *mcpsdk.Client

	mu       sync.RWMutex
	sessions map[string]*mcpsdk.ClientSession      // by server name
	tools    map[string][]types.ToolDefinition     // by server name
}

// NewMCPHost returns a host with no connections yet.
func NewMCPHost() *MCPHost {
	return &MCPHost{
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "voxwire", Version: "1.0.0"},
			nil,
		),
		sessions: make(map[string]*mcpsdk.ClientSession),
		tools:    make(map[string][]types.ToolDefinition),
	}
}

// Connect establishes sessions to every configured server and imports their
// tool catalogues. Individual server failures are logged and skipped so one
// broken server does not take down the rest.
func (h *MCPHost) Connect(ctx context.Context, servers []config.MCPServerConfig) {
	for _, srv := range servers {
		if err := h.connectOne(ctx, srv); err != nil {
			slog.Warn("mcp server unavailable", "server", srv.Name, "err", err)
		}
	}
}

func (h *MCPHost) connectOne(ctx context.Context, cfg config.MCPServerConfig) error {
	var transport mcpsdk.Transport
	switch cfg.Transport {
	case config.MCPTransportStdio:
		parts := strings.Fields(cfg.Command)
		if len(parts) == 0 {
			return fmt.Errorf("tools: stdio server %q has empty command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case config.MCPTransportHTTP:
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	default:
		return fmt.Errorf("tools: unknown mcp transport %q", cfg.Transport)
	}

	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("tools: connect mcp server %q: %w", cfg.Name, err)
	}

	var defs []types.ToolDefinition
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("tools: list tools of %q: %w", cfg.Name, err)
		}
		defs = append(defs, types.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schemaToMap(tool.InputSchema),
		})
	}

	h.mu.Lock()
	if old, ok := h.sessions[cfg.Name]; ok {
		_ = old.Close()
	}
	h.sessions[cfg.Name] = session
	h.tools[cfg.Name] = defs
	h.mu.Unlock()

	slog.Info("mcp server connected", "server", cfg.Name, "tools", len(defs))
	return nil
}

// RegisterAll adds every imported tool to a connection's registry.
func (h *MCPHost) RegisterAll(r *Registry) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for server, defs := range h.tools {
		for _, def := range defs {
			r.Register(SourceServerMCP, &mcpTool{host: h, server: server, def: def})
		}
	}
}

// call routes a tool invocation to the owning session.
func (h *MCPHost) call(ctx context.Context, server, name, args string) (types.ToolResult, error) {
	h.mu.RLock()
	session, ok := h.sessions[server]
	h.mu.RUnlock()
	if !ok {
		return types.ToolResult{}, fmt.Errorf("tools: mcp server %q not connected", server)
	}

	var argsMap map[string]any
	if args != "" && args != "{}" {
		if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
			return types.ToolResult{}, fmt.Errorf("tools: invalid args for %q: %w", name, err)
		}
	}

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: argsMap,
	})
	if err != nil {
		return types.ToolResult{}, fmt.Errorf("tools: call %q: %w", name, err)
	}

	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if result.IsError {
		return types.ToolResult{Action: types.ActionError, Response: sb.String()}, nil
	}
	return types.ToolResult{Action: types.ActionReqLLM, Result: sb.String()}, nil
}

// Close shuts down all sessions.
func (h *MCPHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, s := range h.sessions {
		_ = s.Close()
		delete(h.sessions, name)
	}
	return nil
}

type mcpTool struct {
	host   *MCPHost
	server string
	def    types.ToolDefinition
}

func (t *mcpTool) Definition() types.ToolDefinition { return t.def }

func (t *mcpTool) Execute(ctx context.Context, args string) (types.ToolResult, error) {
	return t.host.call(ctx, t.server, t.def.Name, args)
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}
