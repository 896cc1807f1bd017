// Command voxwire is the voice-assistant gateway server for ESP32 devices.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/internal/gateway"
	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/internal/resilience"
	"github.com/voxwire/voxwire/internal/server"
	"github.com/voxwire/voxwire/internal/tools"
	"github.com/voxwire/voxwire/pkg/provider/asr"
	asropenai "github.com/voxwire/voxwire/pkg/provider/asr/openai"
	"github.com/voxwire/voxwire/pkg/provider/asr/whisper"
	"github.com/voxwire/voxwire/pkg/provider/llm"
	"github.com/voxwire/voxwire/pkg/provider/llm/anyllm"
	llmopenai "github.com/voxwire/voxwire/pkg/provider/llm/openai"
	"github.com/voxwire/voxwire/pkg/provider/memory"
	"github.com/voxwire/voxwire/pkg/provider/memory/local"
	"github.com/voxwire/voxwire/pkg/provider/memory/postgres"
	"github.com/voxwire/voxwire/pkg/provider/tts"
	"github.com/voxwire/voxwire/pkg/provider/tts/elevenlabs"
	ttsopenai "github.com/voxwire/voxwire/pkg/provider/tts/openai"
	"github.com/voxwire/voxwire/pkg/provider/vad"
	"github.com/voxwire/voxwire/pkg/provider/vad/energy"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	logLevel := flag.String("log-level", "", "override the configured log level (debug, info, warn, error)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxwire: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxwire: %v\n", err)
		}
		return 1
	}
	if err := applyLogLevel(cfg, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "voxwire: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxwire starting",
		"config", *configPath,
		"listen", fmt.Sprintf("%s:%d", cfg.Server.IP, cfg.Server.Port),
		"path", cfg.Server.WebsocketPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voxwire",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	deps, cleanup, err := buildDeps(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	defer cleanup()

	// ── Server-side MCP ───────────────────────────────────────────────────────
	if len(cfg.MCP.Servers) > 0 {
		host := tools.NewMCPHost()
		host.Connect(ctx, cfg.MCP.Servers)
		defer host.Close()
		deps.MCPHost = host
	}

	printStartupSummary(cfg)
	slog.Info("server ready — press Ctrl+C to shut down")

	srv := server.New(deps)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// applyLogLevel overrides the configured log level with the -log-level flag
// value. An empty value leaves the configuration untouched.
func applyLogLevel(cfg *config.Config, level string) error {
	if level == "" {
		return nil
	}
	lvl := config.LogLevel(strings.ToLower(level))
	if !lvl.IsValid() {
		return fmt.Errorf("invalid log level %q", level)
	}
	cfg.Server.LogLevel = lvl
	return nil
}

func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// restart re-execs the server binary in place, keeping arguments and
// environment. Triggered by a device-issued restart request.
func restart() {
	slog.Info("restarting server")
	exe, err := os.Executable()
	if err != nil {
		slog.Error("restart failed", "err", err)
		return
	}
	if err := syscall.Exec(exe, os.Args, os.Environ()); err != nil {
		slog.Error("restart failed", "err", err)
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── VAD ───────────────────────────────────────────────────────────────────
	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	// ── ASR ───────────────────────────────────────────────────────────────────
	reg.RegisterASR("whisper", func(entry config.ProviderEntry) (asr.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.StringOption("model_path", "")
		}
		var opts []whisper.Option
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(modelPath, opts...)
	})

	reg.RegisterASR("openai", func(entry config.ProviderEntry) (asr.Transcriber, error) {
		var opts []asropenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, asropenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, asropenai.WithModel(entry.Model))
		}
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, asropenai.WithLanguage(lang))
		}
		return asropenai.New(entry.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile all
	// share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []ttsopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, ttsopenai.WithModel(entry.Model))
		}
		if voice := entry.StringOption("voice", ""); voice != "" {
			opts = append(opts, ttsopenai.WithVoice(voice))
		}
		if speed := entry.FloatOption("speed", 0); speed > 0 {
			opts = append(opts, ttsopenai.WithSpeed(speed))
		}
		return ttsopenai.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := entry.StringOption("output_format", ""); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, entry.StringOption("voice_id", ""), opts...)
	})

	// ── Memory ────────────────────────────────────────────────────────────────
	reg.RegisterMemory("local", func(entry config.ProviderEntry) (memory.Store, error) {
		return local.New(entry.StringOption("path", "")), nil
	})

	reg.RegisterMemory("postgres", func(entry config.ProviderEntry) (memory.Store, error) {
		conn := entry.BaseURL
		if conn == "" {
			conn = entry.StringOption("conn_string", "")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return postgres.New(ctx, conn)
	})
}

// buildDeps instantiates the configured providers and assembles the shared
// connection dependencies. The returned cleanup closes provider resources.
func buildDeps(ctx context.Context, cfg *config.Config, reg *config.Registry) (gateway.Deps, func(), error) {
	deps := gateway.Deps{
		Config:   cfg,
		Metrics:  observe.DefaultMetrics(),
		Logger:   slog.Default(),
		Restart:  restart,
		Registry: reg,
	}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	vadEngine, err := reg.CreateVAD(cfg.Providers.VAD)
	if err != nil {
		return deps, cleanup, fmt.Errorf("create vad provider %q: %w", cfg.Providers.VAD.Name, err)
	}
	deps.VAD = vadEngine
	slog.Info("provider created", "kind", "vad", "name", cfg.Providers.VAD.Name)

	transcriber, err := reg.CreateASR(cfg.Providers.ASR)
	if err != nil {
		return deps, cleanup, fmt.Errorf("create asr provider %q: %w", cfg.Providers.ASR.Name, err)
	}
	if fbs := cfg.Providers.ASR.Fallbacks; len(fbs) > 0 {
		chain := resilience.NewASR(cfg.Providers.ASR.Name, transcriber, resilience.BreakerConfig{})
		for _, entry := range fbs {
			fb, err := reg.CreateASR(entry)
			if err != nil {
				return deps, cleanup, fmt.Errorf("create asr fallback %q: %w", entry.Name, err)
			}
			chain.AddFallback(entry.Name, fb)
		}
		transcriber = chain
	}
	deps.ASR = transcriber
	closers = append(closers, func() { transcriber.Close() })
	slog.Info("provider created", "kind", "asr", "name", cfg.Providers.ASR.Name,
		"fallbacks", len(cfg.Providers.ASR.Fallbacks))

	chat, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return deps, cleanup, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	if fbs := cfg.Providers.LLM.Fallbacks; len(fbs) > 0 {
		chain := resilience.NewLLM(cfg.Providers.LLM.Name, chat, resilience.BreakerConfig{})
		for _, entry := range fbs {
			fb, err := reg.CreateLLM(entry)
			if err != nil {
				return deps, cleanup, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
			}
			chain.AddFallback(entry.Name, fb)
		}
		chat = chain
	}
	deps.LLM = chat
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name,
		"fallbacks", len(cfg.Providers.LLM.Fallbacks))

	synth, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return deps, cleanup, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	if fbs := cfg.Providers.TTS.Fallbacks; len(fbs) > 0 {
		chain := resilience.NewTTS(cfg.Providers.TTS.Name, synth, resilience.BreakerConfig{})
		for _, entry := range fbs {
			fb, err := reg.CreateTTS(entry)
			if err != nil {
				return deps, cleanup, fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
			}
			chain.AddFallback(entry.Name, fb)
		}
		synth = chain
	}
	deps.TTS = synth
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name,
		"fallbacks", len(cfg.Providers.TTS.Fallbacks))

	if cfg.Providers.Memory.Name != "" {
		store, err := reg.CreateMemory(cfg.Providers.Memory)
		if err != nil {
			return deps, cleanup, fmt.Errorf("create memory provider %q: %w", cfg.Providers.Memory.Name, err)
		}
		deps.Memory = store
		closers = append(closers, func() { store.Close() })
		slog.Info("provider created", "kind", "memory", "name", cfg.Providers.Memory.Name)
	}

	// A dedicated (usually cheaper) model for intent classification; the
	// chat model is used when none is configured.
	if cfg.Intent.Mode == config.IntentLLM && cfg.Intent.LLM.Name != "" {
		p, err := reg.CreateLLM(cfg.Intent.LLM)
		if err != nil {
			return deps, cleanup, fmt.Errorf("create intent llm provider %q: %w", cfg.Intent.LLM.Name, err)
		}
		deps.IntentLLM = p
		slog.Info("provider created", "kind", "intent_llm", "name", cfg.Intent.LLM.Name)
	}

	if cfg.ReadConfigFromAPI && cfg.Manager.URL != "" {
		deps.Manager = config.NewManagerClient(cfg.Manager.URL, cfg.Manager.Secret)
		slog.Info("manager api enabled", "url", cfg.Manager.URL)
	}
	return deps, cleanup, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Voxwire — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("ASR", cfg.Providers.ASR.Name, cfg.Providers.ASR.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Memory", cfg.Providers.Memory.Name, "")
	fmt.Printf("║  Intent mode     : %-19s ║\n", cfg.Intent.Mode)
	fmt.Printf("║  MCP servers     : %-19d ║\n", len(cfg.MCP.Servers))
	fmt.Printf("║  Wake words      : %-19d ║\n", len(cfg.WakeupWords))
	if cfg.ReadConfigFromAPI {
		fmt.Printf("║  Manager API     : %-19s ║\n", "enabled")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	if name == "" {
		name = "(disabled)"
	}
	if model != "" {
		name = name + "/" + model
	}
	if len(name) > 19 {
		name = name[:19]
	}
	fmt.Printf("║  %-15s : %-19s ║\n", kind, name)
}
