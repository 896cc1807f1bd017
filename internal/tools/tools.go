// Package tools manages the unified tool catalogue offered to the LLM:
// in-process plugins, IoT device capabilities, server-side MCP servers, and
// tools the device itself exposes over MCP. Sources register asynchronously
// while the connection starts up; dialogue waits for [Registry.WaitReady].
package tools

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/voxwire/voxwire/pkg/types"
)

// Tool is one callable capability.
type Tool interface {
	Definition() types.ToolDefinition
	Execute(ctx context.Context, args string) (types.ToolResult, error)
}

// Source identifies where a tool came from. Lower values win name clashes.
type Source int

const (
	SourcePlugin Source = iota
	SourceIoT
	SourceServerMCP
	SourceDeviceMCP
)

func (s Source) String() string {
	switch s {
	case SourcePlugin:
		return "plugin"
	case SourceIoT:
		return "iot"
	case SourceServerMCP:
		return "server_mcp"
	case SourceDeviceMCP:
		return "device_mcp"
	}
	return "unknown"
}

// invalidNameChars matches everything the function-calling APIs reject in
// tool names.
var invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeName maps an arbitrary tool name to the character set the
// function-calling APIs accept.
func SanitizeName(name string) string {
	return invalidNameChars.ReplaceAllString(name, "_")
}

// readyTimeout is how long dialogue waits for slow sources before running
// with whatever has registered so far.
const readyTimeout = 5 * time.Second

type entry struct {
	source   Source
	tool     Tool
	origName string
}

// Registry is the per-connection tool catalogue. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry // keyed by sanitized name

	readyOnce sync.Once
	ready     chan struct{}
}

// NewRegistry returns an empty registry. Call [Registry.FinishInit] once all
// startup sources have registered.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
		ready:   make(chan struct{}),
	}
}

// Register adds a tool under its sanitized name. When the name is already
// taken, the source with higher precedence (lower [Source] value) wins; a
// later registration from the same source replaces the earlier one.
func (r *Registry) Register(source Source, t Tool) {
	orig := t.Definition().Name
	name := SanitizeName(orig)
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[name]; ok && existing.source < source {
		return
	}
	r.entries[name] = entry{source: source, tool: t, origName: orig}
}

// UnregisterSource removes every tool registered by source. Used when the
// device's MCP endpoint goes away.
func (r *Registry) UnregisterSource(source Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, e := range r.entries {
		if e.source == source {
			delete(r.entries, name)
		}
	}
}

// FinishInit marks the registry ready. Safe to call more than once.
func (r *Registry) FinishInit() {
	r.readyOnce.Do(func() { close(r.ready) })
}

// WaitReady blocks until [Registry.FinishInit] was called, the timeout
// elapses, or ctx ends. The registry stays usable either way.
func (r *Registry) WaitReady(ctx context.Context) {
	select {
	case <-r.ready:
	case <-time.After(readyTimeout):
	case <-ctx.Done():
	}
}

// Definitions returns all tool definitions under their sanitized names,
// sorted for stable prompt construction.
func (r *Registry) Definitions() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ToolDefinition, 0, len(r.entries))
	for name, e := range r.entries {
		def := e.tool.Definition()
		def.Name = name
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Has reports whether a tool is registered under name (sanitized or not).
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[SanitizeName(name)]
	return ok
}

// Execute runs the named tool. An unknown name yields ActionNotFound rather
// than an error so the dialogue loop can tell the model to try again.
func (r *Registry) Execute(ctx context.Context, name, args string) (types.ToolResult, error) {
	r.mu.RLock()
	e, ok := r.entries[SanitizeName(name)]
	r.mu.RUnlock()
	if !ok {
		return types.ToolResult{
			Action:   types.ActionNotFound,
			Response: fmt.Sprintf("tool %q does not exist", name),
		}, nil
	}
	res, err := e.tool.Execute(ctx, args)
	if err != nil {
		return types.ToolResult{
			Action:   types.ActionError,
			Response: err.Error(),
		}, nil
	}
	return res, nil
}

// funcTool adapts a definition plus a function into a [Tool].
type funcTool struct {
	def types.ToolDefinition
	fn  func(ctx context.Context, args string) (types.ToolResult, error)
}

func (t *funcTool) Definition() types.ToolDefinition { return t.def }

func (t *funcTool) Execute(ctx context.Context, args string) (types.ToolResult, error) {
	return t.fn(ctx, args)
}

// NewFuncTool builds a tool from a definition and a handler function.
func NewFuncTool(def types.ToolDefinition, fn func(ctx context.Context, args string) (types.ToolResult, error)) Tool {
	return &funcTool{def: def, fn: fn}
}
