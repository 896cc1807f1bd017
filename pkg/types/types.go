// Package types defines the shared types used across all Voxwire packages.
//
// These types form the lingua franca between providers, the tool registry, the
// dialogue store, and the connection orchestrator. Each package defines its own
// domain types; cross-cutting data structures live here to avoid circular imports.
package types

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (used for speaker-tagged transcripts).
	Name string

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which tool call this responds to.
	ToolCallID string
}

// ToolCall represents a tool/function invocation requested by the LLM.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned, or
	// generated when the model emits calls as embedded JSON without ids).
	ID string

	// Name is the tool/function name, restricted to [A-Za-z0-9_-].
	Name string

	// Arguments is the JSON-encoded arguments string.
	Arguments string
}

// ToolDefinition describes a tool that can be offered to an LLM.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}

// Transcript is a final speech-to-text result for one utterance.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Speaker is the diarized speaker name when voiceprint recognition is
	// active, empty otherwise.
	Speaker string
}

// ToolResultAction tells the orchestrator what to do with a tool result.
type ToolResultAction int

const (
	// ActionNone means the tool handled everything itself; do nothing.
	ActionNone ToolResultAction = iota

	// ActionResponse means speak Response directly.
	ActionResponse

	// ActionReqLLM means feed Result back to the LLM as a tool message and
	// continue the dialogue.
	ActionReqLLM

	// ActionNotFound means no tool with that name exists.
	ActionNotFound

	// ActionError means the tool failed.
	ActionError
)

// String returns the action name as used in logs.
func (a ToolResultAction) String() string {
	switch a {
	case ActionNone:
		return "NONE"
	case ActionResponse:
		return "RESPONSE"
	case ActionReqLLM:
		return "REQLLM"
	case ActionNotFound:
		return "NOTFOUND"
	case ActionError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ToolResult is the outcome of a tool invocation.
type ToolResult struct {
	Action ToolResultAction

	// Result is the raw tool output fed back to the LLM on ActionReqLLM.
	Result string

	// Response is the text to speak on ActionResponse (and the error text on
	// ActionNotFound/ActionError).
	Response string
}

// IoTProperty describes one readable/writable property of a device-side thing.
type IoTProperty struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	ReadOnly    bool   `json:"read_only,omitempty"`
}

// Writable reports whether the property accepts a setter.
func (p IoTProperty) Writable() bool { return !p.ReadOnly }

// IoTParameter describes one method parameter of a device-side thing.
type IoTParameter struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// IoTMethod describes one invokable method of a device-side thing.
type IoTMethod struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  []IoTParameter `json:"parameters"`
}

// IoTDescriptor is a device-side thing uploaded over the socket. Each
// descriptor is turned into a family of tools named iot_<name>_<method> and
// iot_<name>_get_<prop>/set_<prop>.
type IoTDescriptor struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Properties  []IoTProperty `json:"properties"`
	Methods     []IoTMethod   `json:"methods"`
}
