// Package gateway runs the per-device conversation loop: inbound Opus frames
// pass through VAD gating into ASR, transcripts route through wake-word and
// intent handling into the LLM, and the reply streams back out through the
// TTS pipeline. One Connection per WebSocket.
package gateway

import (
	"context"
	"log/slog"

	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/internal/tools"
	"github.com/voxwire/voxwire/pkg/provider/asr"
	"github.com/voxwire/voxwire/pkg/provider/llm"
	"github.com/voxwire/voxwire/pkg/provider/memory"
	"github.com/voxwire/voxwire/pkg/provider/tts"
	"github.com/voxwire/voxwire/pkg/provider/vad"
)

// MessageKind tells binary audio apart from JSON control messages.
type MessageKind int

const (
	KindText MessageKind = iota
	KindBinary
)

// Transport is the WebSocket as the connection sees it. Implementations must
// allow concurrent writers; reads happen from one goroutine.
type Transport interface {
	// Receive blocks for the next message.
	Receive(ctx context.Context) (MessageKind, []byte, error)

	// SendJSON marshals and sends one control message.
	SendJSON(ctx context.Context, v any) error

	// SendBinary sends one audio frame.
	SendBinary(ctx context.Context, data []byte) error

	// Close closes the socket with a status text.
	Close(reason string) error
}

// Deps bundles the process-wide pieces every connection shares. Provider
// fields hold the instances built from configuration at startup; Registry,
// when set, lets a connection rebuild providers the manager overrides for
// its device; Restart is invoked when a device requests a server restart.
type Deps struct {
	Config    *config.Config
	VAD       vad.Engine
	ASR       asr.Transcriber
	LLM       llm.Provider
	IntentLLM llm.Provider
	TTS       tts.Synthesizer
	Memory    memory.Store
	Registry  *config.Registry
	MCPHost   *tools.MCPHost
	Manager   *config.ManagerClient
	Metrics   *observe.Metrics
	Logger    *slog.Logger
	Restart   func()
}
