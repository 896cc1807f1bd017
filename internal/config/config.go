// Package config provides the configuration schema, loader, and provider
// registry for the Voxwire gateway.
package config

// LogLevel controls log verbosity for the Voxwire server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// IntentMode selects how user turns are routed to handlers.
type IntentMode string

const (
	// IntentNone sends every turn straight to the chat LLM.
	IntentNone IntentMode = "nointent"

	// IntentLLM classifies each turn with a secondary LLM call that returns
	// a strict-JSON function_call object.
	IntentLLM IntentMode = "intent_llm"

	// IntentFunctionCall hands the tool schemas to the chat LLM directly and
	// lets it emit native tool calls.
	IntentFunctionCall IntentMode = "function_call"
)

// IsValid reports whether m is a recognised intent mode.
func (m IntentMode) IsValid() bool {
	switch m {
	case IntentNone, IntentLLM, IntentFunctionCall:
		return true
	}
	return false
}

// MCPTransport specifies how to reach a server-side MCP tool server.
type MCPTransport string

const (
	MCPTransportStdio MCPTransport = "stdio"
	MCPTransportHTTP  MCPTransport = "http"
)

// IsValid reports whether t is a recognised MCP transport.
func (t MCPTransport) IsValid() bool {
	return t == MCPTransportStdio || t == MCPTransportHTTP
}

// Config is the root configuration structure for Voxwire.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Intent    IntentConfig    `yaml:"intent"`
	MCP       MCPConfig       `yaml:"mcp"`

	// ReadConfigFromAPI enables per-device configuration overrides fetched
	// from the management API, and usage reporting back to it.
	ReadConfigFromAPI bool          `yaml:"read_config_from_api"`
	Manager           ManagerConfig `yaml:"manager"`

	// Prompt is the assistant persona injected as the system message.
	Prompt string `yaml:"prompt"`

	// WakeupWords lists phrases treated as wake words rather than queries.
	WakeupWords []string `yaml:"wakeup_words"`

	// EnableWakeupWordsResponseCache pre-synthesises the wake acknowledgement
	// so waking costs no LLM or TTS round trip.
	EnableWakeupWordsResponseCache bool `yaml:"enable_wakeup_words_response_cache"`

	// ExitCommands lists utterances that end the session immediately.
	ExitCommands []string `yaml:"exit_commands"`

	// EndPrompt configures the farewell spoken before a server-initiated close.
	EndPrompt EndPromptConfig `yaml:"end_prompt"`

	// CloseConnectionNoVoiceTime is the idle timeout in seconds. After it
	// expires the device gets one more minute (prompted) before the close.
	CloseConnectionNoVoiceTime int `yaml:"close_connection_no_voice_time"`

	// MaxOutputSize caps assistant reply length in characters. 0 disables.
	MaxOutputSize int `yaml:"max_output_size"`

	// SilenceThresholdMs is how long the VAD must see silence before a turn
	// is considered finished.
	SilenceThresholdMs int `yaml:"silence_threshold_ms"`
}

// ServerConfig holds network, logging, and authentication settings.
type ServerConfig struct {
	// IP is the interface address the server binds (e.g. "0.0.0.0").
	IP string `yaml:"ip"`

	// Port is the TCP port the WebSocket endpoint listens on.
	Port int `yaml:"port"`

	// WebsocketPath is the URL path devices connect to.
	// Defaults to "/xiaozhi/v1/".
	WebsocketPath string `yaml:"websocket_path"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// Auth configures connection authentication.
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig controls how device connections are authenticated.
type AuthConfig struct {
	// Enable turns authentication on. When false every connection is admitted.
	Enable bool `yaml:"enable"`

	// AllowedDevices lists device IDs admitted without a token.
	// Checked before token validation.
	AllowedDevices []string `yaml:"allowed_devices"`

	// Tokens lists static bearer tokens accepted from devices.
	Tokens []TokenEntry `yaml:"tokens"`
}

// TokenEntry is a named static bearer token.
type TokenEntry struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// ManagerConfig locates the management API used for per-device overrides
// and usage reporting. Only consulted when ReadConfigFromAPI is true.
type ManagerConfig struct {
	// URL is the management API base endpoint.
	URL string `yaml:"url"`

	// Secret authenticates the gateway to the management API.
	Secret string `yaml:"secret"`

	// PollInterval is how often per-device overrides are refreshed, in
	// seconds. Defaults to 30.
	PollInterval int `yaml:"poll_interval"`
}

// EndPromptConfig configures the farewell behaviour on server-initiated close.
type EndPromptConfig struct {
	// Enable speaks a farewell before closing. Defaults to true.
	Enable *bool `yaml:"enable"`

	// Prompt is the instruction used to generate the farewell.
	Prompt string `yaml:"prompt"`
}

// Enabled reports the effective value of Enable (default true).
func (e EndPromptConfig) Enabled() bool {
	return e.Enable == nil || *e.Enable
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	VAD    ProviderEntry `yaml:"vad"`
	ASR    ProviderEntry `yaml:"asr"`
	LLM    ProviderEntry `yaml:"llm"`
	TTS    ProviderEntry `yaml:"tts"`
	Memory ProviderEntry `yaml:"memory"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g. "openai",
	// "whisper", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`

	// Fallbacks lists providers tried in order when this one fails or its
	// circuit breaker is open. Supported for the asr, llm, and tts stages;
	// nested fallbacks are ignored.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// StringOption returns Options[key] as a string, or def when absent or not
// a string.
func (e ProviderEntry) StringOption(key, def string) string {
	if v, ok := e.Options[key].(string); ok {
		return v
	}
	return def
}

// FloatOption returns Options[key] as a float64, accepting ints, or def.
func (e ProviderEntry) FloatOption(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// IntentConfig selects the intent routing mode and its optional dedicated LLM.
type IntentConfig struct {
	// Mode selects the routing strategy. Defaults to "nointent".
	Mode IntentMode `yaml:"mode"`

	// LLM optionally names a dedicated classifier model. When empty the
	// chat LLM is reused for classification.
	LLM ProviderEntry `yaml:"llm"`
}

// MCPConfig holds the list of Model Context Protocol servers to connect to.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	// Name is a unique identifier for this server (used in logs and as the
	// tool name prefix).
	Name string `yaml:"name"`

	// Transport specifies the connection mechanism.
	Transport MCPTransport `yaml:"transport"`

	// Command is the executable (with optional arguments) launched when
	// Transport is "stdio". Ignored for http transport.
	Command string `yaml:"command"`

	// URL is the MCP endpoint address used when Transport is "http".
	URL string `yaml:"url"`

	// Env holds additional environment variables injected into the
	// subprocess when Transport is "stdio". May be nil.
	Env map[string]string `yaml:"env"`
}

// Defaults applied by [Validate] when fields are unset.
const (
	DefaultPort                 = 8000
	DefaultWebsocketPath        = "/xiaozhi/v1/"
	DefaultNoVoiceCloseSeconds  = 120
	DefaultSilenceThresholdMs   = 700
	DefaultManagerPollSeconds   = 30
	DefaultEndPrompt            = "Say a short, warm goodbye to the user."
)
