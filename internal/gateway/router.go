package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/voxwire/voxwire/internal/protocol"
	"github.com/voxwire/voxwire/internal/tools"
	"github.com/voxwire/voxwire/pkg/types"
)

// handleText routes one JSON control message. Unknown types are dropped.
func (c *Connection) handleText(ctx context.Context, data []byte) {
	var msg protocol.Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Debug("dropping unparseable message", "error", err)
		return
	}
	switch msg.Type {
	case protocol.TypeListen:
		c.handleListen(ctx, &msg)
	case protocol.TypeAbort:
		c.bargeIn(ctx)
	case protocol.TypeIoT:
		c.handleIoT(ctx, &msg)
	case protocol.TypeMCP:
		if c.deviceMCP != nil {
			c.deviceMCP.HandlePayload(msg.Payload)
		}
	case protocol.TypeServer:
		c.handleServer(ctx, &msg)
	case protocol.TypeHello:
		// Duplicate hello after the handshake; nothing to renegotiate.
	default:
		c.log.Debug("dropping message of unknown type", "type", msg.Type)
	}
}

// handleListen tracks the device's listening state. Manual mode devices
// bracket each utterance with start/stop; detect reports a device-side wake
// word with the phrase as text.
func (c *Connection) handleListen(ctx context.Context, msg *protocol.Inbound) {
	if msg.Mode != "" {
		c.listenMode = msg.Mode
	}
	switch msg.State {
	case protocol.ListenStateStart:
		c.lastVoice.Store(time.Now().Unix())
		c.idleWarned.Store(false)
		if c.listenMode == protocol.ListenModeManual {
			if err := c.asr.Begin(ctx); err != nil {
				c.log.Warn("opening asr stream failed, buffering instead", "error", err)
			}
		}
	case protocol.ListenStateStop:
		if c.listenMode == protocol.ListenModeManual {
			c.finishUtterance(ctx)
		}
	case protocol.ListenStateDetect:
		c.lastVoice.Store(time.Now().Unix())
		c.idleWarned.Store(false)
		if msg.Text != "" {
			c.routeTranscript(ctx, msg.Text)
		}
	}
}

// handleIoT ingests descriptor uploads and state reports from the device.
func (c *Connection) handleIoT(ctx context.Context, msg *protocol.Inbound) {
	if len(msg.Descriptors) > 0 {
		var descriptors []types.IoTDescriptor
		if err := json.Unmarshal(msg.Descriptors, &descriptors); err != nil {
			c.log.Warn("invalid iot descriptors", "error", err)
		} else {
			c.registry.UnregisterSource(tools.SourceIoT)
			tools.RegisterIoTTools(c.registry, descriptors, c)
			c.log.Info("iot descriptors registered", "count", len(descriptors))
		}
	}
	if len(msg.States) > 0 {
		var states []struct {
			Name  string         `json:"name"`
			State map[string]any `json:"state"`
		}
		if err := json.Unmarshal(msg.States, &states); err != nil {
			c.log.Warn("invalid iot states", "error", err)
			return
		}
		c.stateMu.Lock()
		for _, s := range states {
			c.iotStates[s.Name] = s.State
		}
		c.stateMu.Unlock()
	}
}

// handleServer processes control actions. A restart request is acknowledged
// before the restart hook runs so the device sees the result.
func (c *Connection) handleServer(ctx context.Context, msg *protocol.Inbound) {
	if msg.Content == nil {
		return
	}
	switch msg.Content.Action {
	case protocol.ServerActionRestart:
		c.log.Info("device requested server restart")
		ack := protocol.ServerResult{
			Type:    protocol.TypeServer,
			Status:  "success",
			Content: msg.Content,
		}
		if err := c.t.SendJSON(ctx, ack); err != nil {
			c.log.Warn("restart ack failed", "error", err)
		}
		if c.deps.Restart != nil {
			go c.deps.Restart()
		}
	default:
		if err := c.t.SendJSON(ctx, protocol.ServerResult{
			Type:    protocol.TypeServer,
			Status:  "error",
			Message: "unknown action",
			Content: msg.Content,
		}); err != nil {
			c.log.Warn("server action reply failed", "error", err)
		}
	}
}

// SendCommand implements [tools.IoTInvoker]: commands travel to the device
// as a type:"iot" message.
func (c *Connection) SendCommand(ctx context.Context, entity, method string, params map[string]any) error {
	cmd := map[string]any{
		"type": protocol.TypeIoT,
		"commands": []map[string]any{
			{"name": entity, "method": method, "parameters": params},
		},
	}
	return c.t.SendJSON(ctx, cmd)
}

// Property implements [tools.IoTInvoker] from the last state report.
func (c *Connection) Property(entity, property string) (any, bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	state, ok := c.iotStates[entity]
	if !ok {
		return nil, false
	}
	v, ok := state[property]
	return v, ok
}
