package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/voxwire/voxwire/pkg/types"
)

// fakeDeviceSide answers JSON-RPC requests the way a device firmware would,
// feeding responses straight back into HandlePayload.
type fakeDeviceSide struct {
	mu      sync.Mutex
	ep      *DeviceMCP
	methods []string
	// callResult is returned for tools/call requests.
	callResult map[string]any
}

func (f *fakeDeviceSide) send(payload json.RawMessage) error {
	var req rpcRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	f.mu.Lock()
	f.methods = append(f.methods, req.Method)
	f.mu.Unlock()
	if req.ID == 0 {
		return nil // notification
	}

	var result any
	switch req.Method {
	case "initialize":
		result = map[string]any{"protocolVersion": "2024-11-05"}
	case "tools/list":
		result = map[string]any{
			"tools": []map[string]any{
				{
					"name":        "self.screen.set_brightness",
					"description": "Set screen brightness",
					"inputSchema": map[string]any{
						"type":       "object",
						"properties": map[string]any{"brightness": map[string]any{"type": "integer"}},
					},
				},
			},
		}
	case "tools/call":
		result = f.callResult
	default:
		return fmt.Errorf("unexpected method %q", req.Method)
	}
	raw, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	if err != nil {
		return err
	}
	go f.ep.HandlePayload(raw)
	return nil
}

func newFakeDevice() (*DeviceMCP, *fakeDeviceSide) {
	f := &fakeDeviceSide{
		callResult: map[string]any{
			"content": []map[string]any{{"type": "text", "text": "ok"}},
			"isError": false,
		},
	}
	ep := NewDeviceMCP(f.send)
	f.ep = ep
	return ep, f
}

func TestDeviceMCP_Initialize(t *testing.T) {
	t.Parallel()

	ep, dev := newFakeDevice()
	if err := ep.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	dev.mu.Lock()
	methods := append([]string(nil), dev.methods...)
	dev.mu.Unlock()
	want := []string{"initialize", "notifications/initialized", "tools/list"}
	if len(methods) != len(want) {
		t.Fatalf("methods = %v, want %v", methods, want)
	}
	for i := range want {
		if methods[i] != want[i] {
			t.Errorf("methods[%d] = %q, want %q", i, methods[i], want[i])
		}
	}

	r := NewRegistry()
	ep.RegisterAll(r)
	if !r.Has("self.screen.set_brightness") {
		t.Error("device tool not registered")
	}
	defs := r.Definitions()
	if len(defs) != 1 || defs[0].Name != "self_screen_set_brightness" {
		t.Errorf("definitions = %+v", defs)
	}
}

func TestDeviceMCP_CallTool(t *testing.T) {
	t.Parallel()

	ep, _ := newFakeDevice()
	if err := ep.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	r := NewRegistry()
	ep.RegisterAll(r)

	res, err := r.Execute(context.Background(), "self_screen_set_brightness", `{"brightness": 50}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Action != types.ActionReqLLM || res.Result != "ok" {
		t.Errorf("result = %+v", res)
	}
}

func TestDeviceMCP_CallToolError(t *testing.T) {
	t.Parallel()

	ep, dev := newFakeDevice()
	if err := ep.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	dev.mu.Lock()
	dev.callResult = map[string]any{
		"content": []map[string]any{{"type": "text", "text": "brightness out of range"}},
		"isError": true,
	}
	dev.mu.Unlock()

	r := NewRegistry()
	ep.RegisterAll(r)
	res, err := r.Execute(context.Background(), "self_screen_set_brightness", `{"brightness": 999}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Action != types.ActionError || res.Response != "brightness out of range" {
		t.Errorf("result = %+v", res)
	}
}

func TestDeviceMCP_CloseFailsPending(t *testing.T) {
	t.Parallel()

	blockingSend := func(payload json.RawMessage) error { return nil }
	ep := NewDeviceMCP(blockingSend)

	errc := make(chan error, 1)
	go func() {
		_, err := ep.call(context.Background(), "tools/list", nil)
		errc <- err
	}()
	// Wait for the call to be registered before closing.
	for {
		ep.mu.Lock()
		n := len(ep.pending)
		ep.mu.Unlock()
		if n == 1 {
			break
		}
	}
	ep.Close()
	if err := <-errc; err == nil {
		t.Fatal("expected error from closed endpoint")
	}
}
