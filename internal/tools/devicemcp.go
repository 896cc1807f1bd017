package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/voxwire/voxwire/pkg/types"
)

// deviceCallTimeout bounds a single device-side tool invocation.
const deviceCallTimeout = 30 * time.Second

// DeviceMCP speaks JSON-RPC 2.0 with the device over the existing WebSocket.
// Requests go out wrapped in type:"mcp" control messages; the gateway feeds
// response payloads back in via [DeviceMCP.HandlePayload].
type DeviceMCP struct {
	send func(payload json.RawMessage) error

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan rpcResponse
	tools   []types.ToolDefinition
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewDeviceMCP creates an endpoint that sends payloads through send.
func NewDeviceMCP(send func(payload json.RawMessage) error) *DeviceMCP {
	return &DeviceMCP{
		send:    send,
		pending: make(map[int64]chan rpcResponse),
	}
}

// HandlePayload routes one inbound mcp payload. Non-response payloads
// (notifications from the device) are ignored.
func (d *DeviceMCP) HandlePayload(raw json.RawMessage) {
	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.ID == 0 {
		return
	}
	d.mu.Lock()
	ch, ok := d.pending[resp.ID]
	delete(d.pending, resp.ID)
	d.mu.Unlock()
	if ok {
		ch <- resp
	}
}

// Initialize performs the MCP handshake and imports the device's tool list.
func (d *DeviceMCP) Initialize(ctx context.Context) error {
	if _, err := d.call(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "voxwire", "version": "1.0.0"},
	}); err != nil {
		return fmt.Errorf("tools: device mcp initialize: %w", err)
	}
	_ = d.notify("notifications/initialized")

	result, err := d.call(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("tools: device mcp tools/list: %w", err)
	}
	var listed struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(result, &listed); err != nil {
		return fmt.Errorf("tools: decode device tool list: %w", err)
	}

	defs := make([]types.ToolDefinition, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		params := t.InputSchema
		if params == nil {
			params = map[string]any{"type": "object"}
		}
		defs = append(defs, types.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}

	d.mu.Lock()
	d.tools = defs
	d.mu.Unlock()
	return nil
}

// RegisterAll adds the device's tools to a registry.
func (d *DeviceMCP) RegisterAll(r *Registry) {
	d.mu.Lock()
	defs := d.tools
	d.mu.Unlock()
	for _, def := range defs {
		r.Register(SourceDeviceMCP, &deviceTool{ep: d, def: def})
	}
}

// Close fails all in-flight calls.
func (d *DeviceMCP) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, ch := range d.pending {
		ch <- rpcResponse{ID: id, Error: &rpcError{Message: "connection closed"}}
		delete(d.pending, id)
	}
}

// call performs one JSON-RPC round trip over the socket.
func (d *DeviceMCP) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	ch := make(chan rpcResponse, 1)
	d.pending[id] = ch
	d.mu.Unlock()

	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	if err := d.send(payload); err != nil {
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, deviceCallTimeout)
	defer cancel()
	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("tools: device rpc %s: %s", method, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
		return nil, fmt.Errorf("tools: device rpc %s: %w", method, ctx.Err())
	}
}

// notify sends a JSON-RPC notification (no id, no response expected).
func (d *DeviceMCP) notify(method string) error {
	payload, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": method})
	if err != nil {
		return err
	}
	return d.send(payload)
}

type deviceTool struct {
	ep  *DeviceMCP
	def types.ToolDefinition
}

func (t *deviceTool) Definition() types.ToolDefinition { return t.def }

func (t *deviceTool) Execute(ctx context.Context, args string) (types.ToolResult, error) {
	var argsMap map[string]any
	if args != "" && args != "{}" {
		if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
			return types.ToolResult{}, fmt.Errorf("tools: invalid args for %q: %w", t.def.Name, err)
		}
	}
	result, err := t.ep.call(ctx, "tools/call", map[string]any{
		"name":      t.def.Name,
		"arguments": argsMap,
	})
	if err != nil {
		return types.ToolResult{}, err
	}
	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return types.ToolResult{}, fmt.Errorf("tools: decode device tool result: %w", err)
	}
	var text string
	for _, c := range parsed.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}
	if parsed.IsError {
		return types.ToolResult{Action: types.ActionError, Response: text}, nil
	}
	return types.ToolResult{Action: types.ActionReqLLM, Result: text}, nil
}
