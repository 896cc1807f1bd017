package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"vad":    {"energy", "silero"},
	"asr":    {"whisper", "openai"},
	"llm":    {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":    {"openai", "elevenlabs"},
	"memory": {"local", "postgres"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values and fills in
// defaults for unset fields. It returns a joined error listing all validation
// failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", cfg.Server.Port))
	}
	if cfg.Server.WebsocketPath == "" {
		cfg.Server.WebsocketPath = DefaultWebsocketPath
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Auth
	if cfg.Server.Auth.Enable && len(cfg.Server.Auth.AllowedDevices) == 0 && len(cfg.Server.Auth.Tokens) == 0 {
		errs = append(errs, errors.New("server.auth.enable is true but neither allowed_devices nor tokens is set; every connection would be rejected"))
	}
	for i, tok := range cfg.Server.Auth.Tokens {
		if tok.Token == "" {
			errs = append(errs, fmt.Errorf("server.auth.tokens[%d].token is empty", i))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("asr", cfg.Providers.ASR.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("memory", cfg.Providers.Memory.Name)

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}

	// Intent
	if cfg.Intent.Mode == "" {
		cfg.Intent.Mode = IntentNone
	}
	if !cfg.Intent.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("intent.mode %q is invalid; valid values: nointent, intent_llm, function_call", cfg.Intent.Mode))
	}
	if cfg.Intent.LLM.Name != "" {
		validateProviderName("llm", cfg.Intent.LLM.Name)
	}

	// Manager
	if cfg.ReadConfigFromAPI && cfg.Manager.URL == "" {
		errs = append(errs, errors.New("read_config_from_api is true but manager.url is empty"))
	}
	if cfg.Manager.PollInterval == 0 {
		cfg.Manager.PollInterval = DefaultManagerPollSeconds
	}

	// Session behaviour defaults
	if cfg.CloseConnectionNoVoiceTime == 0 {
		cfg.CloseConnectionNoVoiceTime = DefaultNoVoiceCloseSeconds
	}
	if cfg.CloseConnectionNoVoiceTime < 0 {
		errs = append(errs, fmt.Errorf("close_connection_no_voice_time %d must not be negative", cfg.CloseConnectionNoVoiceTime))
	}
	if cfg.SilenceThresholdMs == 0 {
		cfg.SilenceThresholdMs = DefaultSilenceThresholdMs
	}
	if cfg.MaxOutputSize < 0 {
		errs = append(errs, fmt.Errorf("max_output_size %d must not be negative", cfg.MaxOutputSize))
	}
	if cfg.EndPrompt.Prompt == "" {
		cfg.EndPrompt.Prompt = DefaultEndPrompt
	}

	if cfg.EnableWakeupWordsResponseCache && len(cfg.WakeupWords) == 0 {
		slog.Warn("enable_wakeup_words_response_cache is set but wakeup_words is empty; the cache will never be used")
	}

	// MCP servers
	seen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
			}
			seen[srv.Name] = i
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, http", prefix, srv.Transport))
		}
		if srv.Transport == MCPTransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == MCPTransportHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is http", prefix))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
