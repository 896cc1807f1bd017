package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/voxwire/voxwire/pkg/types"
)

// IoTInvoker is the device-command half the gateway connection provides:
// commands travel down the WebSocket, property values come from the device's
// periodic state reports.
type IoTInvoker interface {
	// SendCommand asks the device to invoke method on the named IoT entity.
	SendCommand(ctx context.Context, entity, method string, params map[string]any) error

	// Property returns the last reported value of an entity property.
	Property(entity, property string) (any, bool)
}

// RegisterIoTTools converts device-announced IoT descriptors into tools:
// one per method plus a getter and setter per property.
func RegisterIoTTools(r *Registry, descriptors []types.IoTDescriptor, inv IoTInvoker) {
	for _, d := range descriptors {
		for _, m := range d.Methods {
			r.Register(SourceIoT, newIoTMethodTool(d, m, inv))
		}
		for _, p := range d.Properties {
			r.Register(SourceIoT, newIoTGetterTool(d, p, inv))
			if p.Writable() {
				r.Register(SourceIoT, newIoTSetterTool(d, p, inv))
			}
		}
	}
}

func newIoTMethodTool(d types.IoTDescriptor, m types.IoTMethod, inv IoTInvoker) Tool {
	props := make(map[string]any, len(m.Parameters))
	for _, p := range m.Parameters {
		props[p.Name] = map[string]any{
			"type":        jsonType(p.Type),
			"description": p.Description,
		}
	}
	def := types.ToolDefinition{
		Name:        fmt.Sprintf("iot_%s_%s", d.Name, m.Name),
		Description: fmt.Sprintf("%s: %s", d.Description, m.Description),
		Parameters: map[string]any{
			"type":       "object",
			"properties": props,
		},
	}
	return NewFuncTool(def, func(ctx context.Context, args string) (types.ToolResult, error) {
		var params map[string]any
		if args != "" {
			if err := json.Unmarshal([]byte(args), &params); err != nil {
				return types.ToolResult{}, fmt.Errorf("tools: invalid iot args: %w", err)
			}
		}
		if err := inv.SendCommand(ctx, d.Name, m.Name, params); err != nil {
			return types.ToolResult{}, fmt.Errorf("tools: iot command: %w", err)
		}
		return types.ToolResult{
			Action:   types.ActionResponse,
			Response: "Done.",
		}, nil
	})
}

func newIoTGetterTool(d types.IoTDescriptor, p types.IoTProperty, inv IoTInvoker) Tool {
	def := types.ToolDefinition{
		Name:        fmt.Sprintf("iot_%s_get_%s", d.Name, p.Name),
		Description: fmt.Sprintf("Read %s of %s: %s", p.Name, d.Name, p.Description),
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
	return NewFuncTool(def, func(ctx context.Context, args string) (types.ToolResult, error) {
		v, ok := inv.Property(d.Name, p.Name)
		if !ok {
			return types.ToolResult{
				Action:   types.ActionError,
				Response: fmt.Sprintf("no reported value for %s.%s", d.Name, p.Name),
			}, nil
		}
		return types.ToolResult{
			Action: types.ActionReqLLM,
			Result: fmt.Sprintf("%s of %s is %v", p.Name, d.Name, v),
		}, nil
	})
}

func newIoTSetterTool(d types.IoTDescriptor, p types.IoTProperty, inv IoTInvoker) Tool {
	def := types.ToolDefinition{
		Name:        fmt.Sprintf("iot_%s_set_%s", d.Name, p.Name),
		Description: fmt.Sprintf("Set %s of %s: %s", p.Name, d.Name, p.Description),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"value": map[string]any{
					"type":        jsonType(p.Type),
					"description": "The new value.",
				},
			},
		},
	}
	return NewFuncTool(def, func(ctx context.Context, args string) (types.ToolResult, error) {
		var parsed struct {
			Value any `json:"value"`
		}
		if err := json.Unmarshal([]byte(args), &parsed); err != nil {
			return types.ToolResult{}, fmt.Errorf("tools: invalid iot args: %w", err)
		}
		params := map[string]any{p.Name: parsed.Value}
		if err := inv.SendCommand(ctx, d.Name, "set_"+p.Name, params); err != nil {
			return types.ToolResult{}, fmt.Errorf("tools: iot command: %w", err)
		}
		return types.ToolResult{
			Action:   types.ActionResponse,
			Response: "Done.",
		}, nil
	})
}

// jsonType maps IoT descriptor types onto JSON schema types.
func jsonType(t string) string {
	switch t {
	case "number", "integer", "boolean", "string":
		return t
	case "bool":
		return "boolean"
	case "int", "float":
		return "number"
	}
	return "string"
}
