// Package protocol defines the JSON control messages exchanged with devices
// over the WebSocket. Binary frames are Opus audio and never appear here.
//
// Inbound messages share a single envelope discriminated by the "type" field;
// outbound messages are small dedicated structs so each sender states exactly
// what goes on the wire.
package protocol

import "encoding/json"

// Message type discriminators, shared by both directions where applicable.
const (
	TypeHello  = "hello"
	TypeListen = "listen"
	TypeAbort  = "abort"
	TypeIoT    = "iot"
	TypeMCP    = "mcp"
	TypeServer = "server"
	TypeSTT    = "stt"
	TypeLLM    = "llm"
	TypeTTS    = "tts"
)

// Listen states and modes (device → server).
const (
	ListenStateStart  = "start"
	ListenStateStop   = "stop"
	ListenStateDetect = "detect"

	ListenModeAuto     = "auto"
	ListenModeManual   = "manual"
	ListenModeRealtime = "realtime"
)

// TTS wire states (server → device).
const (
	TTSStateStart         = "start"
	TTSStateSentenceStart = "sentence_start"
	TTSStateSentenceEnd   = "sentence_end"
	TTSStateStop          = "stop"
)

// Server actions (device → server, type "server").
const (
	ServerActionRestart = "restart"
)

// Inbound is the envelope for all device→server JSON messages. Fields are
// populated per type; unknown types are dropped by the router.
type Inbound struct {
	Type string `json:"type"`

	// hello
	AudioParams *AudioParams    `json:"audio_params,omitempty"`
	Features    map[string]bool `json:"features,omitempty"`

	// listen
	State string `json:"state,omitempty"`
	Mode  string `json:"mode,omitempty"`
	Text  string `json:"text,omitempty"`

	// iot
	Descriptors json.RawMessage `json:"descriptors,omitempty"`
	States      json.RawMessage `json:"states,omitempty"`

	// mcp
	Payload json.RawMessage `json:"payload,omitempty"`

	// server
	Content *ServerContent `json:"content,omitempty"`
}

// AudioParams describes the audio stream negotiated in the hello exchange.
type AudioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration"`
}

// ServerContent carries the action of a type:"server" control message.
type ServerContent struct {
	Action string `json:"action"`
}

// Hello is the server's reply to the client hello.
type Hello struct {
	Type        string      `json:"type"`
	Transport   string      `json:"transport"`
	SessionID   string      `json:"session_id"`
	AudioParams AudioParams `json:"audio_params"`
}

// STT shows a final transcript on the device.
type STT struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

// Emotion is the type:"llm" emotion cue. Text carries the emoji, Emotion the
// label the device maps to an expression.
type Emotion struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Emotion   string `json:"emotion"`
	SessionID string `json:"session_id"`
}

// TTS reports speaking state transitions to the device.
type TTS struct {
	Type      string `json:"type"`
	State     string `json:"state"`
	Text      string `json:"text,omitempty"`
	SessionID string `json:"session_id"`
}

// MCP wraps a JSON-RPC payload in either direction.
type MCP struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ServerResult acknowledges a type:"server" action.
type ServerResult struct {
	Type    string         `json:"type"`
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Content *ServerContent `json:"content,omitempty"`
}

// NewHello builds the server hello for a session.
func NewHello(sessionID string, params AudioParams) Hello {
	return Hello{
		Type:        TypeHello,
		Transport:   "websocket",
		SessionID:   sessionID,
		AudioParams: params,
	}
}

// NewSTT builds a transcript display message.
func NewSTT(sessionID, text string) STT {
	return STT{Type: TypeSTT, Text: text, SessionID: sessionID}
}

// NewEmotion builds an emotion cue message.
func NewEmotion(sessionID, emoji, label string) Emotion {
	return Emotion{Type: TypeLLM, Text: emoji, Emotion: label, SessionID: sessionID}
}

// NewTTS builds a speaking-state message.
func NewTTS(sessionID, state, text string) TTS {
	return TTS{Type: TypeTTS, State: state, Text: text, SessionID: sessionID}
}
